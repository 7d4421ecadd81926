package pinning

import (
	"errors"
	"fmt"

	"github.com/emirpasic/gods/maps/treemap"

	"titanh/internal/check"
)

// ErrRowOutOfBounds is returned for a row index outside [0, K).
var ErrRowOutOfBounds = errors.New("row index out of bounds")

// KeyCid is one keytable binding.
type KeyCid struct {
	Key CapsuleKey
	Cid Cid
}

// RankFunc resolves a key to the local node's replica rank, mirroring
// Ring.KeyNodePartition for a fixed self node.
type RankFunc func(CapsuleKey) (int, bool)

func keyComparator(a, b interface{}) int {
	ka := a.(CapsuleKey)
	kb := b.(CapsuleKey)
	return ka.Compare(kb)
}

func newRow() *treemap.Map { return treemap.NewWith(keyComparator) }

// KeyTable is the node's fault-tolerant view of the key space: K ordered
// rows, where row r holds the keys for which the node is the r-th clockwise
// replica. Rows touched since the last flush are tracked as dirty so
// checkpoints only rewrite what changed.
type KeyTable struct {
	rows  []*treemap.Map
	at    BlockNumber
	dirty map[int]struct{}
}

// NewKeyTable creates an empty table with one row per replica rank.
func NewKeyTable(replication int) *KeyTable {
	check.Assertf(replication >= 1, "replication factor %d < 1", replication)
	rows := make([]*treemap.Map, replication)
	for i := range rows {
		rows[i] = newRow()
	}
	return &KeyTable{rows: rows, dirty: make(map[int]struct{})}
}

// KeyTableFromRows restores a table from checkpointed row dumps. Missing
// trailing rows are created empty.
func KeyTableFromRows(replication int, at BlockNumber, rows [][]KeyCid) (*KeyTable, error) {
	if len(rows) > replication {
		return nil, fmt.Errorf("checkpoint has %d rows, replication factor is %d", len(rows), replication)
	}
	t := NewKeyTable(replication)
	t.at = at
	for r, pairs := range rows {
		for _, p := range pairs {
			t.rows[r].Put(p.Key, p.Cid)
		}
	}
	return t, nil
}

// Replication returns the number of rows K.
func (t *KeyTable) Replication() int { return len(t.rows) }

// At returns the block number of the last snapshot.
func (t *KeyTable) At() BlockNumber { return t.at }

// Snapshot records the block number the table is consistent with.
func (t *KeyTable) Snapshot(block BlockNumber) { t.at = block }

func (t *KeyTable) row(r int) (*treemap.Map, error) {
	if r < 0 || r >= len(t.rows) {
		return nil, fmt.Errorf("row %d: %w", r, ErrRowOutOfBounds)
	}
	return t.rows[r], nil
}

func (t *KeyTable) markDirty(r int) { t.dirty[r] = struct{}{} }

// Insert upserts a binding in row r and returns the cid it replaced, if any.
func (t *KeyTable) Insert(r int, key CapsuleKey, cid Cid) (Cid, bool, error) {
	row, err := t.row(r)
	if err != nil {
		return "", false, err
	}
	old, had := row.Get(key)
	row.Put(key, cid)
	t.markDirty(r)
	if had {
		return old.(Cid), true, nil
	}
	return "", false, nil
}

// Remove drops a binding from row r and returns the cid it held, if any.
func (t *KeyTable) Remove(r int, key CapsuleKey) (Cid, bool, error) {
	row, err := t.row(r)
	if err != nil {
		return "", false, err
	}
	old, had := row.Get(key)
	if !had {
		return "", false, nil
	}
	row.Remove(key)
	t.markDirty(r)
	return old.(Cid), true, nil
}

// Lookup reads a binding from row r.
func (t *KeyTable) Lookup(r int, key CapsuleKey) (Cid, bool, error) {
	row, err := t.row(r)
	if err != nil {
		return "", false, err
	}
	v, ok := row.Get(key)
	if !ok {
		return "", false, nil
	}
	return v.(Cid), true, nil
}

// Len returns the total number of bindings across all rows.
func (t *KeyTable) Len() int {
	n := 0
	for _, row := range t.rows {
		n += row.Size()
	}
	return n
}

// RowPairs returns row r's bindings in key order.
func (t *KeyTable) RowPairs(r int) ([]KeyCid, error) {
	row, err := t.row(r)
	if err != nil {
		return nil, err
	}
	return rowPairs(row), nil
}

func rowPairs(row *treemap.Map) []KeyCid {
	pairs := make([]KeyCid, 0, row.Size())
	row.Each(func(k, v interface{}) {
		pairs = append(pairs, KeyCid{Key: k.(CapsuleKey), Cid: v.(Cid)})
	})
	return pairs
}

// PartitionRow re-partitions the table after barrier joined the ring at a
// distance placing it in this node's replica span: every binding in rows
// r..K-1 is re-ranked through rank (which must already see the post-join
// ring). A binding whose rank grew moves down one row; bindings the node is
// no longer responsible for fall off row K-1 and are returned for unpinning.
func (t *KeyTable) PartitionRow(r int, barrier NodeID, rank RankFunc) ([]KeyCid, error) {
	if r < 0 || r >= len(t.rows) {
		return nil, fmt.Errorf("partition row %d: %w", r, ErrRowOutOfBounds)
	}
	var evicted []KeyCid
	moved := make([][]KeyCid, len(t.rows))
	for i := r; i < len(t.rows); i++ {
		for _, p := range rowPairs(t.rows[i]) {
			newRank, owned := rank(p.Key)
			if !owned || newRank >= len(t.rows) {
				evicted = append(evicted, p)
				continue
			}
			check.Assertf(newRank == i || newRank == i+1,
				"partition at row %d moved key %s from rank %d to %d", r, p.Key, i, newRank)
			moved[newRank] = append(moved[newRank], p)
		}
		t.rows[i] = newRow()
		t.markDirty(i)
	}
	for i := r; i < len(t.rows); i++ {
		for _, p := range moved[i] {
			t.rows[i].Put(p.Key, p.Cid)
		}
	}
	return evicted, nil
}

// MergeRowsFrom merges rows r and r+1 into row r after the node at distance
// r+1 left the ring, shifts the rows below up one slot and leaves row K-1
// empty for the transferred row.
func (t *KeyTable) MergeRowsFrom(r int) error {
	if r < 0 || r >= len(t.rows) {
		return fmt.Errorf("merge rows from %d: %w", r, ErrRowOutOfBounds)
	}
	if r == len(t.rows)-1 {
		// Last row: its keys keep rank K-1 after the leave; the transferred
		// row extends it in place.
		return nil
	}
	t.rows[r+1].Each(func(k, v interface{}) {
		t.rows[r].Put(k, v)
	})
	copy(t.rows[r+1:], t.rows[r+2:])
	t.rows[len(t.rows)-1] = newRow()
	for i := r; i < len(t.rows); i++ {
		t.markDirty(i)
	}
	return nil
}

// ExtendLastRow appends transferred bindings to row K-1.
func (t *KeyTable) ExtendLastRow(pairs []KeyCid) {
	last := len(t.rows) - 1
	for _, p := range pairs {
		t.rows[last].Put(p.Key, p.Cid)
	}
	if len(pairs) > 0 {
		t.markDirty(last)
	}
}

// FlushedRow is one dirty row in encoded form.
type FlushedRow struct {
	Index   int
	Encoded []byte
}

// Flush encodes the rows touched since the last flush and clears the dirty
// set.
func (t *KeyTable) Flush() ([]FlushedRow, error) {
	out := make([]FlushedRow, 0, len(t.dirty))
	for r := range t.rows {
		if _, ok := t.dirty[r]; !ok {
			continue
		}
		enc, err := EncodeRow(rowPairs(t.rows[r]))
		if err != nil {
			return nil, fmt.Errorf("encode row %d: %w", r, err)
		}
		out = append(out, FlushedRow{Index: r, Encoded: enc})
	}
	t.dirty = make(map[int]struct{})
	return out, nil
}

// DirtyRows returns the indexes of rows touched since the last flush.
func (t *KeyTable) DirtyRows() []int {
	out := make([]int, 0, len(t.dirty))
	for r := range t.rows {
		if _, ok := t.dirty[r]; ok {
			out = append(out, r)
		}
	}
	return out
}

// EncodedRows encodes every row, in rank order. Used when the node leaves
// the ring and publishes its table to IPFS.
func (t *KeyTable) EncodedRows() ([][]byte, error) {
	out := make([][]byte, len(t.rows))
	for r, row := range t.rows {
		enc, err := EncodeRow(rowPairs(row))
		if err != nil {
			return nil, fmt.Errorf("encode row %d: %w", r, err)
		}
		out[r] = enc
	}
	return out, nil
}

// Dump returns all rows as ordered pair slices, for checkpoints and the
// keytable file.
func (t *KeyTable) Dump() [][]KeyCid {
	out := make([][]KeyCid, len(t.rows))
	for r, row := range t.rows {
		out[r] = rowPairs(row)
	}
	return out
}
