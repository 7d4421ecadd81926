package sdk

import (
	"context"
	"fmt"

	"github.com/centrifuge/go-substrate-rpc-client/v4/types"
	"golang.org/x/crypto/blake2b"

	"titanh/internal/capsule"
	"titanh/internal/pinning"
)

// Document is a container addressed field by field: each field value lives
// in its own capsule whose id is derived from (document id, field key), so
// fields update independently.
type Document struct {
	client     *Client
	containers *Containers
	id         pinning.Hash
}

// ID returns the document's container id.
func (d *Document) ID() pinning.Hash { return d.id }

// FieldCapsuleID derives the capsule id backing a field.
func (d *Document) FieldCapsuleID(fieldKey []byte) pinning.CapsuleKey {
	return capsule.DocumentFieldID(d.client.app, d.id, fieldKey)
}

// Insert writes one field: the value is uploaded as a capsule and attached
// to the document in a single atomic batch.
func (d *Document) Insert(ctx context.Context, fieldKey, value []byte, opts PutOptions) (types.Hash, error) {
	capsuleID := d.FieldCapsuleID(fieldKey)

	// The chain derives the capsule id from the upload metadata, so the
	// metadata is the (document id, field key) digest that FieldCapsuleID
	// feeds through the capsule derivation.
	fieldMeta := blake2b.Sum256(append(d.id[:], fieldKey...))
	caps := d.client.Capsules()
	upload, err := caps.uploadCall(ctx, fieldMeta[:], value, opts)
	if err != nil {
		return types.Hash{}, err
	}
	attach, err := d.containers.putCall(d.id, fieldKey, capsuleID)
	if err != nil {
		return types.Hash{}, err
	}

	batch, err := d.client.chain.BatchAll([]types.Call{upload, attach})
	if err != nil {
		return types.Hash{}, err
	}
	return d.client.chain.Submit(ctx, batch, opts.Level)
}

// Read fetches one field's content.
func (d *Document) Read(ctx context.Context, fieldKey []byte, finalized bool) ([]byte, error) {
	if err := d.client.requireIPFS(); err != nil {
		return nil, err
	}
	capsuleID := d.FieldCapsuleID(fieldKey)
	info, err := d.client.chain.CapsuleInfoAt(ctx, capsuleID, finalized)
	if err != nil {
		return nil, err
	}
	data, err := d.client.ipfs.Cat(ctx, info.Cid)
	if err != nil {
		return nil, fmt.Errorf("fetch document field %s: %w", info.Cid, err)
	}
	return data, nil
}

// Remove detaches a field and starts destroying its capsule atomically.
func (d *Document) Remove(ctx context.Context, fieldKey []byte, level ConsistencyLevel) (types.Hash, error) {
	capsuleID := d.FieldCapsuleID(fieldKey)

	detach, err := d.client.chain.NewCall("Capsules.container_remove",
		types.NewH256(d.id[:]), types.Bytes(fieldKey))
	if err != nil {
		return types.Hash{}, err
	}
	destroy, err := d.client.chain.NewCall("Capsules.start_destroy_capsule",
		types.NewH256(capsuleID[:]))
	if err != nil {
		return types.Hash{}, err
	}

	batch, err := d.client.chain.BatchAll([]types.Call{detach, destroy})
	if err != nil {
		return types.Hash{}, err
	}
	return d.client.chain.Submit(ctx, batch, level)
}
