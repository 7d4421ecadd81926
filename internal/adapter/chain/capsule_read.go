package chain

import (
	"bytes"
	"context"
	"fmt"

	"github.com/centrifuge/go-substrate-rpc-client/v4/scale"
	"github.com/centrifuge/go-substrate-rpc-client/v4/types"

	"titanh/internal/pinning"
)

// CapsuleInfo is the subset of on-chain capsule metadata the SDK exposes.
type CapsuleInfo struct {
	Cid   pinning.Cid
	Size  types.U128
	AppID uint32
}

// CapsuleInfoAt reads one capsule's metadata. With finalized set the read is
// anchored at the finalized tip, otherwise at the latest block.
func (c *Client) CapsuleInfoAt(ctx context.Context, id pinning.CapsuleKey, finalized bool) (CapsuleInfo, error) {
	key, err := types.CreateStorageKey(c.meta, "Capsules", "Capsules", id[:])
	if err != nil {
		return CapsuleInfo{}, fmt.Errorf("build capsule storage key: %w", err)
	}

	var at types.Hash
	if finalized {
		err = c.withRetry(ctx, "finalized head", func() error {
			at, err = c.api.RPC.Chain.GetFinalizedHead()
			return err
		})
	} else {
		err = c.withRetry(ctx, "latest head", func() error {
			at, err = c.api.RPC.Chain.GetBlockHashLatest()
			return err
		})
	}
	if err != nil {
		return CapsuleInfo{}, err
	}

	var raw *types.StorageDataRaw
	err = c.withRetry(ctx, "capsule read", func() error {
		raw, err = c.api.RPC.State.GetStorageRaw(key, at)
		return err
	})
	if err != nil {
		return CapsuleInfo{}, err
	}
	if raw == nil || len(*raw) == 0 {
		return CapsuleInfo{}, fmt.Errorf("capsule %s does not exist", id)
	}

	var capsule capsuleWire
	if err := scale.NewDecoder(bytes.NewReader(*raw)).Decode(&capsule); err != nil {
		return CapsuleInfo{}, fmt.Errorf("decode capsule %s: %w", id, err)
	}
	cid, err := pinning.CidFromBytes(capsule.Cid)
	if err != nil {
		return CapsuleInfo{}, fmt.Errorf("capsule %s: %w", id, err)
	}
	return CapsuleInfo{Cid: cid, Size: capsule.Size, AppID: uint32(capsule.AppData.AppID)}, nil
}
