package sdk

import (
	"context"
	"fmt"

	"github.com/centrifuge/go-substrate-rpc-client/v4/types"

	"titanh/internal/capsule"
	"titanh/internal/pinning"
)

// Capsules writes and reads application objects as on-chain capsules backed
// by IPFS content.
type Capsules struct {
	client *Client
}

// ID derives the capsule id of a SCALE-encoded object id under the client's
// app.
func (c *Capsules) ID(metadata []byte) pinning.CapsuleKey {
	return capsule.ID(c.client.app, metadata)
}

// Put uploads data to IPFS and registers the capsule, waiting for block
// inclusion.
func (c *Capsules) Put(ctx context.Context, metadata, data []byte) (types.Hash, error) {
	return c.PutWithOptions(ctx, metadata, data, PutOptions{Level: Medium})
}

// PutAsync is Put at pool-inclusion consistency.
func (c *Capsules) PutAsync(ctx context.Context, metadata, data []byte) (types.Hash, error) {
	return c.PutWithOptions(ctx, metadata, data, PutOptions{Level: Low})
}

// PutWaitFinalized is Put at finalization consistency.
func (c *Capsules) PutWaitFinalized(ctx context.Context, metadata, data []byte) (types.Hash, error) {
	return c.PutWithOptions(ctx, metadata, data, PutOptions{Level: High})
}

// PutWithOptions uploads data and registers the capsule with full control
// over retention, followers and consistency.
func (c *Capsules) PutWithOptions(ctx context.Context, metadata, data []byte, opts PutOptions) (types.Hash, error) {
	call, err := c.uploadCall(ctx, metadata, data, opts)
	if err != nil {
		return types.Hash{}, err
	}
	return c.client.chain.Submit(ctx, call, opts.Level)
}

// PutBatch uploads several objects and registers them atomically through
// Utility.batch_all.
func (c *Capsules) PutBatch(ctx context.Context, items map[string][]byte, opts PutOptions) (types.Hash, error) {
	calls := make([]types.Call, 0, len(items))
	for metadata, data := range items {
		call, err := c.uploadCall(ctx, []byte(metadata), data, opts)
		if err != nil {
			return types.Hash{}, err
		}
		calls = append(calls, call)
	}
	batch, err := c.client.chain.BatchAll(calls)
	if err != nil {
		return types.Hash{}, err
	}
	return c.client.chain.Submit(ctx, batch, opts.Level)
}

// uploadCall stores the content on IPFS (unpinned: the committee pins it
// once the event finalizes) and builds the upload_capsule runtime call.
func (c *Capsules) uploadCall(ctx context.Context, metadata, data []byte, opts PutOptions) (types.Call, error) {
	if err := c.client.requireIPFS(); err != nil {
		return types.Call{}, err
	}
	cid, err := c.client.ipfs.Add(ctx, data)
	if err != nil {
		return types.Call{}, fmt.Errorf("upload content to ipfs: %w", err)
	}

	finalized, err := c.client.chain.LatestFinalized(ctx)
	if err != nil {
		return types.Call{}, err
	}

	upload := capsuleUploadData{
		Cid:                  types.Bytes(cid),
		Size:                 types.NewU128(*sizeOf(data)),
		EndingRetentionBlock: types.U32(finalized.Number + opts.retention()),
		FollowersStatus:      uint8(opts.Followers),
		EncodedMetadata:      types.Bytes(metadata),
	}
	return c.client.chain.NewCall("Capsules.upload_capsule",
		types.U32(c.client.app), optionAccountID{}, upload)
}

// Update replaces a capsule's content.
func (c *Capsules) Update(ctx context.Context, metadata, data []byte, level ConsistencyLevel) (types.Hash, error) {
	if err := c.client.requireIPFS(); err != nil {
		return types.Hash{}, err
	}
	cid, err := c.client.ipfs.Add(ctx, data)
	if err != nil {
		return types.Hash{}, fmt.Errorf("upload content to ipfs: %w", err)
	}
	id := c.ID(metadata)
	call, err := c.client.chain.NewCall("Capsules.update_capsule_content",
		types.NewH256(id[:]), types.Bytes(cid), types.NewU128(*sizeOf(data)))
	if err != nil {
		return types.Hash{}, err
	}
	return c.client.chain.Submit(ctx, call, level)
}

// Remove starts the capsule's destruction; the garbage collectors finish it.
func (c *Capsules) Remove(ctx context.Context, metadata []byte, level ConsistencyLevel) (types.Hash, error) {
	id := c.ID(metadata)
	call, err := c.client.chain.NewCall("Capsules.start_destroy_capsule", types.NewH256(id[:]))
	if err != nil {
		return types.Hash{}, err
	}
	return c.client.chain.Submit(ctx, call, level)
}

// Get reads a capsule's content. With finalized set the metadata read is
// anchored at the finalized tip.
func (c *Capsules) Get(ctx context.Context, metadata []byte, finalized bool) ([]byte, error) {
	if err := c.client.requireIPFS(); err != nil {
		return nil, err
	}
	id := c.ID(metadata)
	info, err := c.client.chain.CapsuleInfoAt(ctx, id, finalized)
	if err != nil {
		return nil, err
	}
	data, err := c.client.ipfs.Cat(ctx, info.Cid)
	if err != nil {
		return nil, fmt.Errorf("fetch capsule content %s: %w", info.Cid, err)
	}
	return data, nil
}
