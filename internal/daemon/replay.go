package daemon

import (
	"context"
	"fmt"
	"log/slog"

	"titanh/internal/pinning"
)

// replayLeave catches the adopted row up with history. The transferred row
// reflects the leaving node's keytable at ktAt; pinning events between
// ktAt+1 and the current block (exclusive of the events from the leave event
// onwards) may touch keys that now sit in row K-1, and are re-applied here.
func (d *Dispatcher) replayLeave(
	ctx context.Context,
	leaving pinning.NodeID,
	dist int,
	ktAt, current pinning.BlockNumber,
	eventIdx int,
) error {
	k := d.ring.Replication()
	replayed := 0
	for n := ktAt + 1; n <= current; n++ {
		hash, err := d.chain.BlockHash(ctx, n)
		if err != nil {
			return fmt.Errorf("replay block hash %d: %w", n, err)
		}
		events, err := d.chain.EventsAt(ctx, pinning.BlockInfo{Number: n, Hash: hash})
		if err != nil {
			return fmt.Errorf("replay events at %d: %w", n, err)
		}
		for i, ev := range events {
			if n == current && i == eventIdx {
				// Events from the leave event onwards are still in the pool
				// and will be dispatched normally.
				break
			}
			if !ev.IsPinning() {
				continue
			}
			if !d.replayOwnsKey(ev.Key, leaving, dist, k) {
				continue
			}
			if err := d.applyReplayed(ctx, ev, k-1); err != nil {
				return fmt.Errorf("replay event %d of block %d: %w", i, n, err)
			}
			replayed++
		}
	}
	if replayed > 0 {
		slog.Info("replayed missed events for transferred row",
			"node", leaving, "from", ktAt+1, "to", current, "events", replayed)
	}
	return nil
}

// replayOwnsKey decides whether a replayed key belongs to the range adopted
// from the leaving node: the key must rank K-1 on the post-leave ring, and
// when self is the leaving node's K-th successor (dist == K) the tail of row
// K-1 — keys at or above the leaving node's id — was already owned before
// the leave and must not be double-applied.
func (d *Dispatcher) replayOwnsKey(key pinning.CapsuleKey, leaving pinning.NodeID, dist, k int) bool {
	r, owned := d.rank(key)
	if !owned || r != k-1 {
		return false
	}
	return dist < k || key.Less(leaving)
}

// applyReplayed applies one missed pinning event to the adopted row.
func (d *Dispatcher) applyReplayed(ctx context.Context, ev pinning.NodeEvent, row int) error {
	switch ev.Kind {
	case pinning.EventPin, pinning.EventUpdate:
		old, replaced, err := d.table.Insert(row, ev.Key, ev.Cid)
		if err != nil {
			return err
		}
		if err := d.acquirePin(ctx, ev.Cid); err != nil {
			return err
		}
		if replaced && old != ev.Cid {
			return d.releasePin(ctx, old)
		}
		if replaced && old == ev.Cid {
			d.pins.Dec(old)
		}
	case pinning.EventRemovePin:
		old, had, err := d.table.Remove(row, ev.Key)
		if err != nil {
			return err
		}
		if had {
			return d.releasePin(ctx, old)
		}
	}
	return nil
}
