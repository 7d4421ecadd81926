package fake

import (
	"fmt"
	"sync"

	"titanh/internal/daemon"
	"titanh/internal/pinning"
)

var _ daemon.CheckpointStore = (*CheckpointStore)(nil)

// CheckpointStore keeps the dispatcher's durable state in memory with the
// same delta semantics as the sqlite store: each Save merges dirty rows into
// the stored table.
type CheckpointStore struct {
	mu    sync.Mutex
	block pinning.BlockNumber
	rows  map[int][]byte
	pins  []pinning.CidCount
	saved bool

	// SaveErr, when set, fails the next Save, simulating a crash before the
	// barrier commits.
	SaveErr func(block pinning.BlockNumber) error

	// Blocks records every committed block number in order.
	Blocks []pinning.BlockNumber
}

// NewCheckpointStore creates an empty store (no checkpoint yet).
func NewCheckpointStore() *CheckpointStore {
	return &CheckpointStore{rows: make(map[int][]byte)}
}

func (s *CheckpointStore) Load() (pinning.Checkpoint, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.saved {
		return pinning.EmptyCheckpoint(), nil
	}
	cp := pinning.Checkpoint{Block: s.block, Pins: append([]pinning.CidCount(nil), s.pins...)}
	maxIdx := -1
	for idx := range s.rows {
		if idx > maxIdx {
			maxIdx = idx
		}
	}
	cp.Rows = make([][]pinning.KeyCid, maxIdx+1)
	for idx, payload := range s.rows {
		pairs, err := pinning.DecodeRow(payload)
		if err != nil {
			return pinning.Checkpoint{}, fmt.Errorf("decode stored row %d: %w", idx, err)
		}
		cp.Rows[idx] = pairs
	}
	return cp, nil
}

func (s *CheckpointStore) Save(block pinning.BlockNumber, rows []pinning.FlushedRow, pins []pinning.CidCount) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.SaveErr != nil {
		if err := s.SaveErr(block); err != nil {
			return err
		}
	}
	s.block = block
	s.pins = append([]pinning.CidCount(nil), pins...)
	for _, row := range rows {
		s.rows[row.Index] = append([]byte(nil), row.Encoded...)
	}
	s.saved = true
	s.Blocks = append(s.Blocks, block)
	return nil
}

func (s *CheckpointStore) Close() error { return nil }

// Block returns the last committed block number.
func (s *CheckpointStore) Block() pinning.BlockNumber {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.block
}
