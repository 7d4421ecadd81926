package chain

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"

	"github.com/centrifuge/go-substrate-rpc-client/v4/scale"
	"github.com/centrifuge/go-substrate-rpc-client/v4/types"

	"titanh/internal/pinning"
)

// Ring reads the committee's node ring and replication factor at the block
// hash.
func (c *Client) Ring(ctx context.Context, at pinning.Hash) ([]pinning.NodeID, int, error) {
	ringKey, err := types.CreateStorageKey(c.meta, "PinningCommittee", "PinningNodesRing")
	if err != nil {
		return nil, 0, fmt.Errorf("build ring storage key: %w", err)
	}
	var ringRaw *types.StorageDataRaw
	err = c.withRetry(ctx, "ring storage", func() error {
		ringRaw, err = c.api.RPC.State.GetStorageRaw(ringKey, types.Hash(at))
		return err
	})
	if err != nil {
		return nil, 0, err
	}

	var nodes []pinning.NodeID
	if ringRaw != nil && len(*ringRaw) > 0 {
		var hashes []types.H256
		if err := scale.NewDecoder(bytes.NewReader(*ringRaw)).Decode(&hashes); err != nil {
			return nil, 0, fmt.Errorf("decode ring vector: %w", err)
		}
		nodes = make([]pinning.NodeID, len(hashes))
		for i, h := range hashes {
			nodes[i] = pinning.NodeID(h)
		}
	}

	factorKey, err := types.CreateStorageKey(c.meta, "PinningCommittee", "ContentReplicationFactor")
	if err != nil {
		return nil, 0, fmt.Errorf("build replication factor storage key: %w", err)
	}
	var factor types.U32
	err = c.withRetry(ctx, "replication factor", func() error {
		ok, err := c.api.RPC.State.GetStorage(factorKey, &factor, types.Hash(at))
		if err != nil {
			return err
		}
		if !ok {
			return fmt.Errorf("replication factor not set on chain")
		}
		return nil
	})
	if err != nil {
		return nil, 0, err
	}

	return nodes, int(factor), nil
}

// capsuleWire mirrors the SCALE layout of the runtime's capsule metadata.
// Only the cid matters to the node; the rest is decoded to stay aligned with
// the stream.
type capsuleWire struct {
	Status               capsuleStatus
	Cid                  []byte
	Size                 types.U128
	EndingRetentionBlock types.U32
	Owners               []types.AccountID
	FollowersStatus      uint8
	AppData              capsuleAppData
}

type capsuleAppData struct {
	AppID types.U32
	Data  []byte
}

// capsuleStatus is the runtime's Status enum; variant 1 carries a deletion
// completion record.
type capsuleStatus struct {
	Variant    uint8
	Completion deletionCompletion
}

type deletionCompletion struct {
	OwnershipApprovals bool
	Followers          bool
	ContainerKeys      bool
}

func (s *capsuleStatus) Decode(decoder scale.Decoder) error {
	variant, err := decoder.ReadOneByte()
	if err != nil {
		return err
	}
	s.Variant = variant
	if variant == 1 {
		return decoder.Decode(&s.Completion)
	}
	return nil
}

// CapsulesAt enumerates every capsule existing at the block hash, paired
// with its current cid. Capsule ids are recovered from the storage-map keys.
func (c *Client) CapsulesAt(ctx context.Context, at pinning.Hash) ([]pinning.KeyCid, error) {
	prefix := types.CreateStorageKeyPrefix("Capsules", "Capsules")

	var keys []types.StorageKey
	err := c.withRetry(ctx, "capsule keys", func() error {
		var err error
		keys, err = c.api.RPC.State.GetKeys(types.StorageKey(prefix), types.Hash(at))
		return err
	})
	if err != nil {
		return nil, err
	}

	out := make([]pinning.KeyCid, 0, len(keys))
	for _, key := range keys {
		if len(key) < 32 {
			slog.Warn("skipping malformed capsule storage key", "len", len(key))
			continue
		}
		var capsuleID pinning.CapsuleKey
		copy(capsuleID[:], key[len(key)-32:])

		var raw *types.StorageDataRaw
		err = c.withRetry(ctx, "capsule value", func() error {
			var err error
			raw, err = c.api.RPC.State.GetStorageRaw(key, types.Hash(at))
			return err
		})
		if err != nil {
			return nil, err
		}
		if raw == nil || len(*raw) == 0 {
			continue
		}

		var capsule capsuleWire
		if err := scale.NewDecoder(bytes.NewReader(*raw)).Decode(&capsule); err != nil {
			slog.Warn("skipping undecodable capsule", "key", capsuleID, "err", err)
			continue
		}
		cid, err := pinning.CidFromBytes(capsule.Cid)
		if err != nil {
			slog.Warn("skipping capsule with invalid cid", "key", capsuleID, "err", err)
			continue
		}
		out = append(out, pinning.KeyCid{Key: capsuleID, Cid: cid})
	}
	return out, nil
}
