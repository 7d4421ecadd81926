package daemon

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"titanh/internal/check"
	"titanh/internal/pinning"
)

// ErrSelfLeave is returned when the node reads a leave event for itself:
// the checkpoint db is stale and must be removed before restarting.
var ErrSelfLeave = errors.New("leave event names this node; remove the checkpointing db and restart")

// Dispatcher consumes barrier-terminated batches and applies them to the
// ring, the keytable, the IPFS pin set and the checkpoint store. It is the
// single writer of all of them; a batch either applies fully and commits a
// checkpoint, or fails before the barrier so a restart replays it cleanly.
type Dispatcher struct {
	self  pinning.NodeID
	ring  *pinning.Ring
	table *pinning.KeyTable
	pins  *pinning.PinCounts

	chain Chain
	ipfs  Pinner
	store CheckpointStore

	// block is the last checkpointed block; the batch in flight belongs to
	// block+1 (or later, when finalization skipped announcements).
	block pinning.BlockNumber

	batchStart time.Time
	tracer     trace.Tracer

	// keytableDump, when set, receives a human-readable table dump after
	// every checkpoint.
	keytableDump func(block pinning.BlockNumber, rows [][]pinning.KeyCid)
}

// DispatcherConfig wires a Dispatcher.
type DispatcherConfig struct {
	Self         pinning.NodeID
	Ring         *pinning.Ring
	Table        *pinning.KeyTable
	Pins         *pinning.PinCounts
	Chain        Chain
	IPFS         Pinner
	Store        CheckpointStore
	Block        pinning.BlockNumber
	KeytableDump func(block pinning.BlockNumber, rows [][]pinning.KeyCid)
}

// NewDispatcher builds a dispatcher resuming from the given checkpoint
// block.
func NewDispatcher(cfg DispatcherConfig) *Dispatcher {
	check.Assert(cfg.Ring != nil, "NewDispatcher: Ring must not be nil")
	check.Assert(cfg.Table != nil, "NewDispatcher: Table must not be nil")
	check.Assert(cfg.Pins != nil, "NewDispatcher: Pins must not be nil")
	return &Dispatcher{
		self:         cfg.Self,
		ring:         cfg.Ring,
		table:        cfg.Table,
		pins:         cfg.Pins,
		chain:        cfg.Chain,
		ipfs:         cfg.IPFS,
		store:        cfg.Store,
		block:        cfg.Block,
		tracer:       otel.Tracer("titanh/daemon"),
		keytableDump: cfg.KeytableDump,
	}
}

// Block returns the last checkpointed block number.
func (d *Dispatcher) Block() pinning.BlockNumber { return d.block }

// rank resolves the local node's replica rank for a key on the current ring.
func (d *Dispatcher) rank(key pinning.CapsuleKey) (int, bool) {
	p, ok, err := d.ring.KeyNodePartition(key, d.self)
	if err != nil {
		// Only possible on an empty ring, which cannot happen while self
		// is a member.
		return 0, false
	}
	return p, ok
}

// acquirePin counts a new reference and pins on the 0 -> 1 transition.
func (d *Dispatcher) acquirePin(ctx context.Context, cid pinning.Cid) error {
	if d.pins.Inc(cid) == 1 {
		if err := d.ipfs.PinAdd(ctx, cid); err != nil {
			return fmt.Errorf("pin %s: %w", cid, err)
		}
	}
	return nil
}

// releasePin drops a reference and unpins on the 1 -> 0 transition.
func (d *Dispatcher) releasePin(ctx context.Context, cid pinning.Cid) error {
	if d.pins.Dec(cid) == 0 {
		if err := d.ipfs.PinRm(ctx, cid); err != nil {
			return fmt.Errorf("unpin %s: %w", cid, err)
		}
	}
	return nil
}

// DispatchBatch applies one batch in order. The batch must be terminated by
// exactly one block barrier; its number is the block the batch belongs to.
// Any error is terminal for the process: the checkpoint is not advanced, so
// a restart replays the batch.
func (d *Dispatcher) DispatchBatch(ctx context.Context, batch pinning.Batch) error {
	block, err := batchBlock(batch)
	if err != nil {
		return err
	}

	ctx, span := d.tracer.Start(ctx, "dispatch-batch",
		trace.WithAttributes(
			attribute.Int("events", len(batch)),
			attribute.Int64("block", int64(block))))
	defer span.End()

	// Index of the current event among the block's chain events, used to
	// bound leave-replay within the current block.
	chainIdx := 0
	for _, ev := range batch {
		var err error
		switch ev.Kind {
		case pinning.EventPin:
			err = d.dispatchPin(ctx, ev)
			chainIdx++
		case pinning.EventUpdate:
			err = d.dispatchUpdate(ctx, ev)
			chainIdx++
		case pinning.EventRemovePin:
			err = d.dispatchRemove(ctx, ev)
			chainIdx++
		case pinning.EventJoin:
			err = d.dispatchJoin(ctx, ev)
			chainIdx++
		case pinning.EventLeave:
			err = d.dispatchLeave(ctx, ev, block, chainIdx)
			chainIdx++
		case pinning.EventBlockBarrier:
			err = d.dispatchBarrier(ev.Block)
		case pinning.EventLatencyMark:
			d.batchStart = ev.At
		default:
			err = fmt.Errorf("unknown event kind %d", ev.Kind)
		}
		if err != nil {
			span.RecordError(err)
			return fmt.Errorf("dispatch %s event: %w", ev.Kind, err)
		}
	}
	return nil
}

// batchBlock validates the batch shape: exactly one barrier, at the tail.
func batchBlock(batch pinning.Batch) (pinning.BlockNumber, error) {
	if len(batch) == 0 {
		return 0, fmt.Errorf("empty batch")
	}
	for i, ev := range batch {
		if ev.Kind == pinning.EventBlockBarrier && i != len(batch)-1 {
			return 0, fmt.Errorf("block barrier at position %d of %d", i, len(batch))
		}
	}
	last := batch[len(batch)-1]
	if last.Kind != pinning.EventBlockBarrier {
		return 0, fmt.Errorf("batch does not end with a block barrier")
	}
	return last.Block, nil
}

func (d *Dispatcher) dispatchPin(ctx context.Context, ev pinning.NodeEvent) error {
	r, owned := d.rank(ev.Key)
	if !owned {
		return nil
	}
	old, replaced, err := d.table.Insert(r, ev.Key, ev.Cid)
	if err != nil {
		return err
	}
	slog.Info("pinning capsule", "key", ev.Key, "cid", ev.Cid, "row", r)
	if err := d.acquirePin(ctx, ev.Cid); err != nil {
		return err
	}
	if replaced && old != ev.Cid {
		return d.releasePin(ctx, old)
	}
	if replaced && old == ev.Cid {
		// Same binding re-announced (e.g. checkpoint replay): keep one ref.
		d.pins.Dec(old)
	}
	return nil
}

func (d *Dispatcher) dispatchUpdate(ctx context.Context, ev pinning.NodeEvent) error {
	r, owned := d.rank(ev.Key)
	if !owned {
		return nil
	}
	old, replaced, err := d.table.Insert(r, ev.Key, ev.Cid)
	if err != nil {
		return err
	}
	slog.Info("updating capsule content", "key", ev.Key, "old", ev.OldCid, "new", ev.Cid, "row", r)
	if err := d.acquirePin(ctx, ev.Cid); err != nil {
		return err
	}
	if replaced && old != ev.Cid {
		return d.releasePin(ctx, old)
	}
	if replaced && old == ev.Cid {
		d.pins.Dec(old)
	}
	return nil
}

func (d *Dispatcher) dispatchRemove(ctx context.Context, ev pinning.NodeEvent) error {
	r, owned := d.rank(ev.Key)
	if !owned {
		return nil
	}
	old, had, err := d.table.Remove(r, ev.Key)
	if err != nil {
		return err
	}
	if !had {
		return nil
	}
	slog.Info("dropping capsule", "key", ev.Key, "cid", old, "row", r)
	return d.releasePin(ctx, old)
}

// dispatchJoin inserts the node and, when it lands within the local replica
// span, re-partitions the affected rows and unpins what the node no longer
// holds.
func (d *Dispatcher) dispatchJoin(ctx context.Context, ev pinning.NodeEvent) error {
	idx, err := d.ring.Insert(ev.Node)
	if err != nil {
		return err
	}
	dist, err := d.ring.DistanceFromIdx(idx, d.self)
	if err != nil {
		return err
	}
	slog.Info("node joined ring", "node", ev.Node, "distance", dist, "ring", d.ring.Len())
	if dist < 1 || dist > d.ring.Replication() {
		return nil
	}
	evicted, err := d.table.PartitionRow(dist-1, ev.Node, d.rank)
	if err != nil {
		return err
	}
	for _, p := range evicted {
		if err := d.releasePin(ctx, p.Cid); err != nil {
			return err
		}
	}
	return nil
}

// dispatchLeave removes the node, adopts its transferred row and replays the
// events its snapshot missed. current is the batch's block; eventIdx is the
// leave event's position among that block's chain events.
func (d *Dispatcher) dispatchLeave(ctx context.Context, ev pinning.NodeEvent, current pinning.BlockNumber, eventIdx int) error {
	// Clockwise steps from the leaving node to self, on the ring it is
	// still a member of: self is the dist-th successor of the leaving node.
	dist, err := d.ring.DistanceBetween(ev.Node, d.self)
	if err != nil {
		return err
	}
	if dist == 0 {
		return ErrSelfLeave
	}
	if _, err := d.ring.Remove(ev.Node); err != nil {
		return err
	}
	k := d.ring.Replication()
	slog.Info("node left ring", "node", ev.Node, "distance", dist, "ring", d.ring.Len())
	if dist > k {
		return nil
	}

	if ev.KeyTableAt >= current {
		return fmt.Errorf("leave of %s carries keytable at block %d, not below current block %d",
			ev.Node, ev.KeyTableAt, current)
	}
	if len(ev.RowCids) != k {
		return fmt.Errorf("leave of %s carries %d row cids, replication factor is %d",
			ev.Node, len(ev.RowCids), k)
	}

	if err := d.table.MergeRowsFrom(dist - 1); err != nil {
		return err
	}

	// The leaving node's row K-dist is the key range self now holds at rank
	// K-1. Fetch it from IPFS and adopt its bindings.
	rowCid := ev.RowCids[k-dist]
	raw, err := d.ipfs.Cat(ctx, rowCid)
	if err != nil {
		return fmt.Errorf("fetch transferred row %s: %w", rowCid, err)
	}
	pairs, err := pinning.DecodeRow(raw)
	if err != nil {
		return fmt.Errorf("decode transferred row %s: %w", rowCid, err)
	}
	slog.Info("adopting transferred row", "cid", rowCid, "bindings", len(pairs), "row", k-1)
	for _, p := range pairs {
		old, replaced, err := d.table.Insert(k-1, p.Key, p.Cid)
		if err != nil {
			return err
		}
		if err := d.acquirePin(ctx, p.Cid); err != nil {
			return err
		}
		if replaced && old != p.Cid {
			if err := d.releasePin(ctx, old); err != nil {
				return err
			}
		} else if replaced {
			d.pins.Dec(old)
		}
	}

	// The transferred row is stale: it was snapshotted at ev.KeyTableAt.
	// Replay the pinning events since then that fall in the adopted range.
	return d.replayLeave(ctx, ev.Node, dist, ev.KeyTableAt, current, eventIdx)
}

func (d *Dispatcher) dispatchBarrier(block pinning.BlockNumber) error {
	if block <= d.block {
		return fmt.Errorf("barrier for block %d at or below checkpoint %d", block, d.block)
	}
	rows, err := d.table.Flush()
	if err != nil {
		return err
	}
	d.table.Snapshot(block)
	if err := d.store.Save(block, rows, d.pins.Snapshot()); err != nil {
		return fmt.Errorf("checkpoint block %d: %w", block, err)
	}
	d.block = block
	if !d.batchStart.IsZero() {
		slog.Info("batch dispatched", "block", block, "latency", time.Since(d.batchStart))
		d.batchStart = time.Time{}
	} else {
		slog.Debug("batch dispatched", "block", block, "dirty_rows", len(rows))
	}
	if d.keytableDump != nil {
		d.keytableDump(block, d.table.Dump())
	}
	return nil
}
