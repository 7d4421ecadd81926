package daemon

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"titanh/internal/pinning"
)

// Producer turns the chain's finalized blocks into pool batches. On startup
// it first replays history — either the full capsule set (first boot) or the
// blocks since the last checkpoint (restart) — and then streams every new
// finalized block, one barrier-terminated batch per block.
type Producer struct {
	Chain Chain
	Pool  *Pool

	// Checkpointed is the last block the dispatcher committed; replay
	// resumes at Checkpointed+1. A value of 1 means no checkpoint exists
	// and the capsule set is bootstrapped instead.
	Checkpointed pinning.BlockNumber
	// RingHeight is the block at which the in-memory ring snapshot was
	// taken. Membership events at or below it are already reflected in the
	// ring and must not be dispatched again.
	RingHeight pinning.BlockNumber
	// TrackLatency prepends a LatencyMark to every produced batch, replayed
	// and live alike.
	TrackLatency bool

	lastProduced pinning.BlockNumber
}

// Run blocks until ctx is cancelled or the subscription dies. The pool is
// closed on return so the consumer drains and stops.
func (p *Producer) Run(ctx context.Context) error {
	defer p.Pool.Close()

	blocks, err := p.Chain.SubscribeFinalized(ctx)
	if err != nil {
		return fmt.Errorf("subscribe finalized blocks: %w", err)
	}

	recovered := false
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case block, ok := <-blocks:
			if !ok {
				return fmt.Errorf("finalized block subscription closed")
			}
			if !recovered {
				if err := p.recover(ctx, block.Number); err != nil {
					return fmt.Errorf("recover events: %w", err)
				}
				recovered = true
			}
			// Finalized-head announcements may skip numbers; produce the
			// missed blocks so no batch is lost.
			for n := p.lastProduced + 1; n < block.Number; n++ {
				if err := p.produceBlockNumber(ctx, n); err != nil {
					return err
				}
			}
			if err := p.produceBlock(ctx, block); err != nil {
				return err
			}
		}
	}
}

// recover emits historical batches up to latest-1. The live stream takes
// over from latest itself.
func (p *Producer) recover(ctx context.Context, latest pinning.BlockNumber) error {
	if !(p.Checkpointed <= p.RingHeight && p.RingHeight <= latest) {
		return fmt.Errorf("invalid recovery range: checkpoint %d, ring height %d, latest %d",
			p.Checkpointed, p.RingHeight, latest)
	}

	from := p.Checkpointed + 1
	if p.Checkpointed == 1 {
		// First boot: pin every capsule existing at the ring snapshot, then
		// replay the blocks the snapshot does not cover.
		at := p.RingHeight
		if latest == p.RingHeight {
			at = latest - 1
		}
		hash, err := p.Chain.BlockHash(ctx, at)
		if err != nil {
			return fmt.Errorf("block hash %d: %w", at, err)
		}
		capsules, err := p.Chain.CapsulesAt(ctx, hash)
		if err != nil {
			return fmt.Errorf("enumerate capsules at %d: %w", at, err)
		}
		slog.Info("bootstrapping capsule set", "capsules", len(capsules), "at", at)
		for _, c := range capsules {
			p.Pool.Send(pinning.PinEvent(c.Key, c.Cid))
		}
		from = at + 1
	} else {
		slog.Info("recovering events after restart", "from", from, "to", latest-1)
	}

	for n := from; n < latest; n++ {
		if err := p.produceBlockNumber(ctx, n); err != nil {
			return err
		}
	}
	p.lastProduced = latest - 1
	return nil
}

func (p *Producer) produceBlockNumber(ctx context.Context, n pinning.BlockNumber) error {
	hash, err := p.Chain.BlockHash(ctx, n)
	if err != nil {
		return fmt.Errorf("block hash %d: %w", n, err)
	}
	return p.produceBlock(ctx, pinning.BlockInfo{Number: n, Hash: hash})
}

func (p *Producer) produceBlock(ctx context.Context, block pinning.BlockInfo) error {
	events, err := p.Chain.EventsAt(ctx, block)
	if err != nil {
		return fmt.Errorf("events at block %d: %w", block.Number, err)
	}

	if p.TrackLatency {
		p.Pool.Send(pinning.LatencyMarkEvent(time.Now()))
	}
	for _, ev := range events {
		if ev.IsMembership() && block.Number <= p.RingHeight {
			// Already reflected in the ring snapshot the node booted with.
			slog.Debug("skipping pre-snapshot membership event",
				"kind", ev.Kind.String(), "node", ev.Node, "block", block.Number)
			continue
		}
		p.Pool.Send(ev)
	}
	p.Pool.Send(pinning.BarrierEvent(block.Number))
	p.lastProduced = block.Number
	return nil
}
