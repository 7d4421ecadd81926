package daemon

import (
	"context"
	"fmt"
	"log/slog"

	"titanh/internal/pinning"
)

// Config carries everything Run needs beyond the adapters.
type Config struct {
	Self         pinning.NodeID
	TrackLatency bool
	// ExpectedReplication cross-checks the operator's configured replication
	// factor against the chain's. Zero skips the check.
	ExpectedReplication int
	// KeytableDump, when set, receives the table after every checkpoint.
	KeytableDump func(block pinning.BlockNumber, rows [][]pinning.KeyCid)
}

// Run bootstraps the node from its checkpoint and processes batches until
// ctx is cancelled or a fatal error occurs. The checkpoint on disk is always
// a consistent prefix of the event history, so a restart resumes cleanly.
func Run(ctx context.Context, cfg Config, chain Chain, ipfs Pinner, store CheckpointStore) error {
	cp, err := store.Load()
	if err != nil {
		return fmt.Errorf("load checkpoint: %w", err)
	}

	// The ring is read at the current finalized tip; its height bounds both
	// event recovery and membership-event filtering. The subscription is
	// only needed for that one read.
	bootCtx, bootCancel := context.WithCancel(ctx)
	defer bootCancel()
	blocks, err := chain.SubscribeFinalized(bootCtx)
	if err != nil {
		return fmt.Errorf("subscribe finalized: %w", err)
	}
	var tip pinning.BlockInfo
	select {
	case <-ctx.Done():
		return ctx.Err()
	case b, ok := <-blocks:
		if !ok {
			return fmt.Errorf("finalized block subscription closed during bootstrap")
		}
		tip = b
	}
	bootCancel()

	nodes, replication, err := chain.Ring(ctx, tip.Hash)
	if err != nil {
		return fmt.Errorf("read committee ring: %w", err)
	}
	if cfg.ExpectedReplication != 0 && cfg.ExpectedReplication != replication {
		slog.Warn("configured replication factor differs from chain",
			"configured", cfg.ExpectedReplication, "chain", replication)
	}
	ring, err := pinning.NewRing(nodes, replication, tip.Number)
	if err != nil {
		return fmt.Errorf("build ring: %w", err)
	}
	if _, member := ring.Lookup(cfg.Self); !member {
		return fmt.Errorf("node %s is not registered on the ring", cfg.Self)
	}

	table, err := pinning.KeyTableFromRows(replication, cp.Block, cp.Rows)
	if err != nil {
		return fmt.Errorf("restore keytable: %w", err)
	}
	pins := pinning.PinCountsFrom(cp.Pins)

	slog.Info("pinning node bootstrapped",
		"node", cfg.Self,
		"checkpoint", cp.Block,
		"ring_height", tip.Number,
		"ring_size", ring.Len(),
		"replication", replication,
		"bindings", table.Len(),
		"pinned", pins.Len())

	pool := NewPool()
	producer := &Producer{
		Chain:        chain,
		Pool:         pool,
		Checkpointed: cp.Block,
		RingHeight:   tip.Number,
		TrackLatency: cfg.TrackLatency,
	}
	dispatcher := NewDispatcher(DispatcherConfig{
		Self:         cfg.Self,
		Ring:         ring,
		Table:        table,
		Pins:         pins,
		Chain:        chain,
		IPFS:         ipfs,
		Store:        store,
		Block:        cp.Block,
		KeytableDump: cfg.KeytableDump,
	})

	prodErr := make(chan error, 1)
	go func() { prodErr <- producer.Run(ctx) }()

	if err := consume(ctx, pool, dispatcher); err != nil {
		return err
	}
	return <-prodErr
}

// consume groups pool events into barrier-terminated batches and dispatches
// them in order. The pool closing ends the loop.
func consume(ctx context.Context, pool *Pool, dispatcher *Dispatcher) error {
	var batch pinning.Batch
	for ev := range pool.Out() {
		batch = append(batch, ev)
		if ev.Kind != pinning.EventBlockBarrier {
			continue
		}
		if err := dispatcher.DispatchBatch(ctx, batch); err != nil {
			return fmt.Errorf("dispatch batch for block %d: %w", ev.Block, err)
		}
		slog.Debug("batch committed", "block", ev.Block, "events", len(batch))
		batch = batch[:0]
	}
	return nil
}
