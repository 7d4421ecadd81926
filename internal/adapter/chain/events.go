package chain

import (
	"context"
	"fmt"
	"log/slog"
	"math/big"

	"github.com/centrifuge/go-substrate-rpc-client/v4/registry"
	"github.com/centrifuge/go-substrate-rpc-client/v4/registry/parser"
	"github.com/centrifuge/go-substrate-rpc-client/v4/types"

	"titanh/internal/pinning"
)

// Runtime event names the node reacts to.
const (
	evCapsuleUploaded         = "Capsules.CapsuleUploaded"
	evCapsuleContentChanged   = "Capsules.CapsuleContentChanged"
	evCapsuleStartedDestroy   = "Capsules.CapsuleStartedDestroying"
	evCapsuleItemsDeleted     = "Capsules.CapsuleItemsDeleted"
	evPinningNodeRegistration = "PinningCommittee.PinningNodeRegistration"
	evPinningNodeRemoval      = "PinningCommittee.PinningNodeRemoval"
)

// EventsAt decodes a block's runtime events into node events, preserving
// on-chain order. A record that fails to decode is chain-local garbage no
// retry can fix: it is skipped with a warning rather than aborting the
// batch.
func (c *Client) EventsAt(ctx context.Context, block pinning.BlockInfo) ([]pinning.NodeEvent, error) {
	parsed, err := c.parsedEventsAt(ctx, block.Hash)
	if err != nil {
		return nil, err
	}

	var out []pinning.NodeEvent
	for _, ev := range parsed {
		nodeEv, relevant, err := nodeEventFrom(ev)
		if err != nil {
			slog.Warn("skipping undecodable runtime event",
				"event", ev.Name, "block", block.Number, "err", err)
			continue
		}
		if relevant {
			out = append(out, nodeEv)
		}
	}
	return out, nil
}

// parsedEventsAt reads and parses the raw System.Events storage of a block.
func (c *Client) parsedEventsAt(ctx context.Context, at pinning.Hash) ([]*parser.Event, error) {
	key, err := types.CreateStorageKey(c.meta, "System", "Events")
	if err != nil {
		return nil, fmt.Errorf("build events storage key: %w", err)
	}

	var raw *types.StorageDataRaw
	err = c.withRetry(ctx, "events", func() error {
		raw, err = c.api.RPC.State.GetStorageRaw(key, types.Hash(at))
		return err
	})
	if err != nil {
		return nil, err
	}
	if raw == nil || len(*raw) == 0 {
		return nil, nil
	}

	parsed, err := parser.NewEventParser().ParseEvents(c.eventRegistry, raw)
	if err != nil {
		// An undecodable event vector cannot be fixed by retry; treat the
		// block as carrying no events of interest.
		slog.Warn("skipping undecodable event vector", "at", fmt.Sprintf("%#x", at), "err", err)
		return nil, nil
	}
	return parsed, nil
}

// nodeEventFrom maps one runtime event to a node event. The second return is
// false for event types the node ignores.
func nodeEventFrom(ev *parser.Event) (pinning.NodeEvent, bool, error) {
	switch ev.Name {
	case evCapsuleUploaded:
		key, err := fieldHash(ev.Fields, "id", "capsule_id")
		if err != nil {
			return pinning.NodeEvent{}, false, err
		}
		cid, err := fieldCid(ev.Fields, "cid")
		if err != nil {
			return pinning.NodeEvent{}, false, err
		}
		return pinning.PinEvent(pinning.CapsuleKey(key), cid), true, nil

	case evCapsuleContentChanged:
		key, err := fieldHash(ev.Fields, "capsule_id", "id")
		if err != nil {
			return pinning.NodeEvent{}, false, err
		}
		oldCid, err := fieldCid(ev.Fields, "old_cid")
		if err != nil {
			return pinning.NodeEvent{}, false, err
		}
		newCid, err := fieldCid(ev.Fields, "cid")
		if err != nil {
			return pinning.NodeEvent{}, false, err
		}
		return pinning.UpdateEvent(pinning.CapsuleKey(key), oldCid, newCid), true, nil

	case evCapsuleStartedDestroy:
		key, err := fieldHash(ev.Fields, "capsule_id", "id")
		if err != nil {
			return pinning.NodeEvent{}, false, err
		}
		cid, err := fieldCid(ev.Fields, "cid")
		if err != nil {
			return pinning.NodeEvent{}, false, err
		}
		return pinning.RemovePinEvent(pinning.CapsuleKey(key), cid), true, nil

	case evPinningNodeRegistration:
		node, err := fieldHash(ev.Fields, "pinning_node")
		if err != nil {
			return pinning.NodeEvent{}, false, err
		}
		return pinning.JoinEvent(pinning.NodeID(node)), true, nil

	case evPinningNodeRemoval:
		node, err := fieldHash(ev.Fields, "pinning_node")
		if err != nil {
			return pinning.NodeEvent{}, false, err
		}
		ktFields, err := fieldComposite(ev.Fields, "key_table")
		if err != nil {
			return pinning.NodeEvent{}, false, err
		}
		blockNum, err := fieldU32(ktFields, "block_num")
		if err != nil {
			return pinning.NodeEvent{}, false, err
		}
		cids, err := fieldCidVec(ktFields, "cids")
		if err != nil {
			return pinning.NodeEvent{}, false, err
		}
		return pinning.LeaveEvent(pinning.NodeID(node), blockNum, cids), true, nil

	default:
		return pinning.NodeEvent{}, false, nil
	}
}

// itemsDeleted extracts the removal_completion flag of a CapsuleItemsDeleted
// event for the given capsule, if the parsed slice carries one.
func itemsDeleted(events []*parser.Event, key pinning.CapsuleKey) (bool, bool) {
	for _, ev := range events {
		if ev.Name != evCapsuleItemsDeleted {
			continue
		}
		id, err := fieldHash(ev.Fields, "capsule_id", "id")
		if err != nil || id != pinning.Hash(key) {
			continue
		}
		done, err := fieldBool(ev.Fields, "removal_completion")
		if err != nil {
			continue
		}
		return done, true
	}
	return false, false
}

// --- decoded-field extraction ---
//
// The registry parser yields loosely typed values; the helpers below accept
// the encodings it produces for hashes, byte vectors and integers.

func fieldByName(fields registry.DecodedFields, names ...string) (any, error) {
	for _, f := range fields {
		for _, n := range names {
			if f.Name == n {
				return f.Value, nil
			}
		}
	}
	return nil, fmt.Errorf("field %q not present", names[0])
}

func fieldHash(fields registry.DecodedFields, names ...string) (pinning.Hash, error) {
	v, err := fieldByName(fields, names...)
	if err != nil {
		return pinning.Hash{}, err
	}
	raw, err := bytesOf(v)
	if err != nil {
		return pinning.Hash{}, fmt.Errorf("field %q: %w", names[0], err)
	}
	if len(raw) != 32 {
		return pinning.Hash{}, fmt.Errorf("field %q: want 32 bytes, got %d", names[0], len(raw))
	}
	var h pinning.Hash
	copy(h[:], raw)
	return h, nil
}

func fieldCid(fields registry.DecodedFields, names ...string) (pinning.Cid, error) {
	v, err := fieldByName(fields, names...)
	if err != nil {
		return "", err
	}
	raw, err := bytesOf(v)
	if err != nil {
		return "", fmt.Errorf("field %q: %w", names[0], err)
	}
	return pinning.CidFromBytes(raw)
}

func fieldCidVec(fields registry.DecodedFields, names ...string) ([]pinning.Cid, error) {
	v, err := fieldByName(fields, names...)
	if err != nil {
		return nil, err
	}
	items, ok := v.([]any)
	if !ok {
		return nil, fmt.Errorf("field %q: not a vector", names[0])
	}
	out := make([]pinning.Cid, 0, len(items))
	for i, item := range items {
		raw, err := bytesOf(item)
		if err != nil {
			return nil, fmt.Errorf("field %q[%d]: %w", names[0], i, err)
		}
		cid, err := pinning.CidFromBytes(raw)
		if err != nil {
			return nil, fmt.Errorf("field %q[%d]: %w", names[0], i, err)
		}
		out = append(out, cid)
	}
	return out, nil
}

func fieldComposite(fields registry.DecodedFields, names ...string) (registry.DecodedFields, error) {
	v, err := fieldByName(fields, names...)
	if err != nil {
		return nil, err
	}
	if sub, ok := v.(registry.DecodedFields); ok {
		return sub, nil
	}
	return nil, fmt.Errorf("field %q: not a composite", names[0])
}

func fieldU32(fields registry.DecodedFields, names ...string) (uint32, error) {
	v, err := fieldByName(fields, names...)
	if err != nil {
		return 0, err
	}
	switch n := v.(type) {
	case types.U32:
		return uint32(n), nil
	case uint32:
		return n, nil
	case types.U64:
		return uint32(n), nil
	case types.UCompact:
		return uint32((*big.Int)(&n).Uint64()), nil
	default:
		return 0, fmt.Errorf("field %q: unexpected numeric encoding %T", names[0], v)
	}
}

func fieldBool(fields registry.DecodedFields, names ...string) (bool, error) {
	v, err := fieldByName(fields, names...)
	if err != nil {
		return false, err
	}
	switch b := v.(type) {
	case bool:
		return b, nil
	case types.Bool:
		return bool(b), nil
	default:
		return false, fmt.Errorf("field %q: unexpected bool encoding %T", names[0], v)
	}
}

// bytesOf flattens the shapes the parser emits for fixed arrays and byte
// vectors.
func bytesOf(v any) ([]byte, error) {
	switch raw := v.(type) {
	case []byte:
		return raw, nil
	case types.Bytes:
		return raw, nil
	case types.H256:
		return raw[:], nil
	case types.Hash:
		return raw[:], nil
	case string:
		return []byte(raw), nil
	case []types.U8:
		out := make([]byte, len(raw))
		for i, b := range raw {
			out[i] = byte(b)
		}
		return out, nil
	case []any:
		out := make([]byte, len(raw))
		for i, item := range raw {
			switch b := item.(type) {
			case types.U8:
				out[i] = byte(b)
			case uint8:
				out[i] = b
			default:
				return nil, fmt.Errorf("element %d: unexpected byte encoding %T", i, item)
			}
		}
		return out, nil
	default:
		return nil, fmt.Errorf("unexpected bytes encoding %T", v)
	}
}
