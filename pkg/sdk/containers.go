package sdk

import (
	"context"

	"github.com/centrifuge/go-substrate-rpc-client/v4/types"

	"titanh/internal/capsule"
	"titanh/internal/pinning"
)

// ContainerStatus mirrors the runtime's container write policy.
type ContainerStatus uint8

const (
	// ContainerRestricted only lets owners attach capsules.
	ContainerRestricted ContainerStatus = iota
	// ContainerPublic lets anyone attach capsules.
	ContainerPublic
)

// Containers manages on-chain keyed collections of capsule references.
type Containers struct {
	client *Client
}

// ID derives the container id of a SCALE-encoded object id under the
// client's app.
func (c *Containers) ID(metadata []byte) pinning.Hash {
	return capsule.ContainerID(c.client.app, metadata)
}

// Create registers an empty container.
func (c *Containers) Create(ctx context.Context, metadata []byte, level ConsistencyLevel) (types.Hash, error) {
	call, err := c.client.chain.NewCall("Capsules.create_container",
		types.U32(c.client.app), optionAccountID{}, types.Bytes(metadata))
	if err != nil {
		return types.Hash{}, err
	}
	return c.client.chain.Submit(ctx, call, level)
}

// Put attaches a capsule to the container under a key.
func (c *Containers) Put(ctx context.Context, container pinning.Hash, key []byte, capsuleID pinning.CapsuleKey, level ConsistencyLevel) (types.Hash, error) {
	call, err := c.putCall(container, key, capsuleID)
	if err != nil {
		return types.Hash{}, err
	}
	return c.client.chain.Submit(ctx, call, level)
}

func (c *Containers) putCall(container pinning.Hash, key []byte, capsuleID pinning.CapsuleKey) (types.Call, error) {
	return c.client.chain.NewCall("Capsules.container_put",
		types.NewH256(container[:]), types.Bytes(key), types.NewH256(capsuleID[:]))
}

// Remove detaches the capsule stored under key.
func (c *Containers) Remove(ctx context.Context, container pinning.Hash, key []byte, level ConsistencyLevel) (types.Hash, error) {
	call, err := c.client.chain.NewCall("Capsules.container_remove",
		types.NewH256(container[:]), types.Bytes(key))
	if err != nil {
		return types.Hash{}, err
	}
	return c.client.chain.Submit(ctx, call, level)
}

// ChangeStatus switches the container between restricted and public writes.
func (c *Containers) ChangeStatus(ctx context.Context, container pinning.Hash, status ContainerStatus, level ConsistencyLevel) (types.Hash, error) {
	call, err := c.client.chain.NewCall("Capsules.change_container_status",
		types.NewH256(container[:]), uint8(status))
	if err != nil {
		return types.Hash{}, err
	}
	return c.client.chain.Submit(ctx, call, level)
}

// ApproveOwnership accepts a pending container ownership share.
func (c *Containers) ApproveOwnership(ctx context.Context, container pinning.Hash, level ConsistencyLevel) (types.Hash, error) {
	call, err := c.client.chain.NewCall("Capsules.approve_container_ownership",
		types.NewH256(container[:]))
	if err != nil {
		return types.Hash{}, err
	}
	return c.client.chain.Submit(ctx, call, level)
}

// ShareOwnership proposes co-ownership of the container to another account.
func (c *Containers) ShareOwnership(ctx context.Context, container pinning.Hash, other types.AccountID, level ConsistencyLevel) (types.Hash, error) {
	call, err := c.client.chain.NewCall("Capsules.share_container_ownership",
		types.NewH256(container[:]), other)
	if err != nil {
		return types.Hash{}, err
	}
	return c.client.chain.Submit(ctx, call, level)
}

// Document opens the field-addressed view of a container.
func (c *Containers) Document(metadata []byte) *Document {
	return &Document{client: c.client, containers: c, id: c.ID(metadata)}
}
