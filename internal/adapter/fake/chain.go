// Package fake provides in-memory adapters for tests: a scripted chain, an
// IPFS store and a checkpoint store, mirroring the production adapters'
// contracts without any I/O.
package fake

import (
	"context"
	"fmt"
	"sync"

	"titanh/internal/check"
	"titanh/internal/daemon"
	"titanh/internal/gc"
	"titanh/internal/pinning"
)

// Compile-time interface assertions.
var (
	_ daemon.Chain = (*Chain)(nil)
	_ gc.Chain     = (*Chain)(nil)
)

// BlockHashOf derives the deterministic hash fakes use for a block number.
func BlockHashOf(n pinning.BlockNumber) pinning.Hash {
	var h pinning.Hash
	h[0] = 0xb1
	h[28] = byte(n >> 24)
	h[29] = byte(n >> 16)
	h[30] = byte(n >> 8)
	h[31] = byte(n)
	return h
}

// Chain is a scripted finalized chain. Tests append blocks of events,
// finalize them, and the subscribers see them in order.
type Chain struct {
	mu sync.Mutex

	ringNodes   []pinning.NodeID
	replication int

	events   map[pinning.BlockNumber][]pinning.NodeEvent
	capsules map[pinning.BlockNumber][]pinning.KeyCid
	subs     []chan pinning.BlockInfo

	// Optional error hooks.
	EventsAtErr    func(block pinning.BlockInfo) error
	SubscribeErr   func() error
	DestroyStepFn  func(phase gc.Phase, key pinning.CapsuleKey) (bool, error)
	FinishDestroyF func(key pinning.CapsuleKey) error
}

// NewChain creates a chain with the given committee ring.
func NewChain(replication int, nodes ...pinning.NodeID) *Chain {
	check.Assert(replication >= 1, "NewChain: replication must be >= 1")
	return &Chain{
		ringNodes:   nodes,
		replication: replication,
		events:      make(map[pinning.BlockNumber][]pinning.NodeEvent),
		capsules:    make(map[pinning.BlockNumber][]pinning.KeyCid),
	}
}

// SetBlock scripts the events of a block without announcing it.
func (c *Chain) SetBlock(n pinning.BlockNumber, events ...pinning.NodeEvent) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.events[n] = events
}

// SetCapsules scripts the capsule set visible at block n.
func (c *Chain) SetCapsules(n pinning.BlockNumber, capsules ...pinning.KeyCid) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.capsules[n] = capsules
}

// SetRing replaces the scripted ring snapshot.
func (c *Chain) SetRing(replication int, nodes ...pinning.NodeID) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.replication = replication
	c.ringNodes = nodes
}

// Finalize announces block n to every subscriber.
func (c *Chain) Finalize(n pinning.BlockNumber) {
	c.mu.Lock()
	subs := append([]chan pinning.BlockInfo(nil), c.subs...)
	c.mu.Unlock()
	info := pinning.BlockInfo{Number: n, Hash: BlockHashOf(n)}
	for _, sub := range subs {
		sub <- info
	}
}

// Subscribers returns the number of active finalized-head subscriptions,
// letting tests synchronise before finalizing blocks.
func (c *Chain) Subscribers() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.subs)
}

// CloseSubscriptions ends every subscriber's stream.
func (c *Chain) CloseSubscriptions() {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, sub := range c.subs {
		close(sub)
	}
	c.subs = nil
}

func (c *Chain) BlockHash(_ context.Context, n pinning.BlockNumber) (pinning.Hash, error) {
	return BlockHashOf(n), nil
}

func (c *Chain) EventsAt(_ context.Context, block pinning.BlockInfo) ([]pinning.NodeEvent, error) {
	if c.EventsAtErr != nil {
		if err := c.EventsAtErr(block); err != nil {
			return nil, err
		}
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if block.Hash != BlockHashOf(block.Number) {
		return nil, fmt.Errorf("unknown block hash for number %d", block.Number)
	}
	return append([]pinning.NodeEvent(nil), c.events[block.Number]...), nil
}

func (c *Chain) CapsulesAt(_ context.Context, at pinning.Hash) ([]pinning.KeyCid, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for n, caps := range c.capsules {
		if BlockHashOf(n) == at {
			return append([]pinning.KeyCid(nil), caps...), nil
		}
	}
	return nil, nil
}

func (c *Chain) Ring(_ context.Context, _ pinning.Hash) ([]pinning.NodeID, int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]pinning.NodeID(nil), c.ringNodes...), c.replication, nil
}

func (c *Chain) SubscribeFinalized(_ context.Context) (<-chan pinning.BlockInfo, error) {
	if c.SubscribeErr != nil {
		if err := c.SubscribeErr(); err != nil {
			return nil, err
		}
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	sub := make(chan pinning.BlockInfo, 1024)
	c.subs = append(c.subs, sub)
	return sub, nil
}

func (c *Chain) SubmitDestroyStep(_ context.Context, phase gc.Phase, key pinning.CapsuleKey) (bool, error) {
	if c.DestroyStepFn != nil {
		return c.DestroyStepFn(phase, key)
	}
	return true, nil
}

func (c *Chain) SubmitFinishDestroy(_ context.Context, key pinning.CapsuleKey) error {
	if c.FinishDestroyF != nil {
		return c.FinishDestroyF(key)
	}
	return nil
}
