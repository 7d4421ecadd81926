package daemon

import (
	"context"

	"titanh/internal/pinning"
)

// Chain abstracts the finalized view of the blockchain.
// Production: adapter/chain.Client
// Testing: adapter/fake.Chain
type Chain interface {
	// BlockHash resolves a finalized block number to its hash.
	BlockHash(ctx context.Context, number pinning.BlockNumber) (pinning.Hash, error)
	// EventsAt returns the block's node events in on-chain order, without
	// synthetic barrier or latency events. Undecodable records are skipped.
	EventsAt(ctx context.Context, block pinning.BlockInfo) ([]pinning.NodeEvent, error)
	// CapsulesAt enumerates every capsule existing at the block hash.
	CapsulesAt(ctx context.Context, at pinning.Hash) ([]pinning.KeyCid, error)
	// Ring reads the committee ring and replication factor at the block hash.
	Ring(ctx context.Context, at pinning.Hash) ([]pinning.NodeID, int, error)
	// SubscribeFinalized streams finalized blocks until ctx is cancelled.
	// The channel closes when the subscription dies.
	SubscribeFinalized(ctx context.Context) (<-chan pinning.BlockInfo, error)
}

// Pinner abstracts the replicated IPFS gateways.
// Production: adapter/ipfs.Client
// Testing: adapter/fake.IPFS
type Pinner interface {
	// Add stores content without pinning it and returns its cid.
	Add(ctx context.Context, data []byte) (pinning.Cid, error)
	// Cat streams the full content behind a cid.
	Cat(ctx context.Context, cid pinning.Cid) ([]byte, error)
	// PinAdd pins a cid. The caller is responsible for reference counting.
	PinAdd(ctx context.Context, cid pinning.Cid) error
	// PinRm unpins a cid.
	PinRm(ctx context.Context, cid pinning.Cid) error
}

// CheckpointStore persists the dispatcher's durable state.
// Production: adapter/sqlite.CheckpointStore
// Testing: adapter/fake.CheckpointStore
type CheckpointStore interface {
	// Load reads the last committed checkpoint. A store that has never been
	// written returns pinning.EmptyCheckpoint().
	Load() (pinning.Checkpoint, error)
	// Save atomically commits a block's dirty rows and pin counters. The
	// reconstructed state must equal a full checkpoint replace.
	Save(block pinning.BlockNumber, rows []pinning.FlushedRow, pins []pinning.CidCount) error
	Close() error
}
