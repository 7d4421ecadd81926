// Package gc tears down the on-chain footprint of destroyed capsules. Each
// destruction is a finite state machine of bounded deletion extrinsics, so
// arbitrarily large capsules are removed without unbounded blocks.
package gc

import (
	"context"
	"fmt"
	"log/slog"

	"titanh/internal/pinning"
)

// Collector consumes capsule-destruction events within its key range and
// drives the teardown state machine for each.
type Collector struct {
	Chain Chain
	// Start and End bound the keys this collector handles, inclusive.
	// Both nil means all keys. Multiple collectors split the key space.
	Start *pinning.CapsuleKey
	End   *pinning.CapsuleKey
}

// InRange reports whether the collector is responsible for the key.
func (c *Collector) InRange(key pinning.CapsuleKey) bool {
	if c.Start != nil && key.Compare(*c.Start) < 0 {
		return false
	}
	if c.End != nil && key.Compare(*c.End) > 0 {
		return false
	}
	return true
}

// Run subscribes to finalized blocks and collects until ctx is cancelled.
func (c *Collector) Run(ctx context.Context) error {
	blocks, err := c.Chain.SubscribeFinalized(ctx)
	if err != nil {
		return fmt.Errorf("subscribe finalized blocks: %w", err)
	}
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case block, ok := <-blocks:
			if !ok {
				return fmt.Errorf("finalized block subscription closed")
			}
			if err := c.collectBlock(ctx, block); err != nil {
				return err
			}
		}
	}
}

func (c *Collector) collectBlock(ctx context.Context, block pinning.BlockInfo) error {
	events, err := c.Chain.EventsAt(ctx, block)
	if err != nil {
		return fmt.Errorf("events at block %d: %w", block.Number, err)
	}
	for _, ev := range events {
		if ev.Kind != pinning.EventRemovePin || !c.InRange(ev.Key) {
			continue
		}
		slog.Info("collecting destroyed capsule", "key", ev.Key, "block", block.Number)
		if err := c.Destroy(ctx, ev.Key); err != nil {
			return fmt.Errorf("destroy capsule %s: %w", ev.Key, err)
		}
	}
	return nil
}

// Destroy walks the state machine for one capsule. Each deletion phase loops
// until the chain reports completion; a submission error means another
// collector advanced the capsule first and the phase is skipped.
func (c *Collector) Destroy(ctx context.Context, key pinning.CapsuleKey) error {
	phase := PhaseOwnershipApprovals
	for phase != PhaseExit {
		if err := ctx.Err(); err != nil {
			return err
		}
		slog.Debug("garbage collection phase", "key", key, "phase", phase)

		if phase == PhaseFinishDestroy {
			if err := c.Chain.SubmitFinishDestroy(ctx, key); err != nil {
				slog.Debug("finish-destroy already handled", "key", key, "err", err)
			}
			phase = PhaseExit
			continue
		}

		done, err := c.Chain.SubmitDestroyStep(ctx, phase, key)
		switch {
		case err != nil:
			// Benign race: another collector got there first.
			slog.Debug("deletion step already handled", "key", key, "phase", phase, "err", err)
			phase++
		case done:
			phase++
		default:
			// More items remain in this phase; submit again.
		}
	}
	return nil
}
