package pinning

import (
	"errors"
	"reflect"
	"testing"
)

// rankOn builds a RankFunc for a fixed self node on the given ring.
func rankOn(r *Ring, self NodeID) RankFunc {
	return func(key CapsuleKey) (int, bool) {
		rank, owned, err := r.KeyNodePartition(key, self)
		if err != nil {
			return 0, false
		}
		return rank, owned
	}
}

func pairsOf(t *testing.T, table *KeyTable, row int) []KeyCid {
	t.Helper()
	pairs, err := table.RowPairs(row)
	if err != nil {
		t.Fatalf("RowPairs(%d): %v", row, err)
	}
	return pairs
}

func TestKeyTable_InsertRemoveLookup(t *testing.T) {
	table := NewKeyTable(2)

	if _, _, err := table.Insert(2, ckey(0x01), "Qm1"); !errors.Is(err, ErrRowOutOfBounds) {
		t.Fatalf("out-of-bounds insert error = %v", err)
	}

	old, replaced, err := table.Insert(0, ckey(0x01), "Qm1")
	if err != nil || replaced || old != "" {
		t.Fatalf("fresh insert = (%q, %v, %v)", old, replaced, err)
	}
	old, replaced, err = table.Insert(0, ckey(0x01), "Qm2")
	if err != nil || !replaced || old != "Qm1" {
		t.Fatalf("upsert = (%q, %v, %v), want (Qm1, true, nil)", old, replaced, err)
	}

	cid, ok, err := table.Lookup(0, ckey(0x01))
	if err != nil || !ok || cid != "Qm2" {
		t.Fatalf("Lookup = (%q, %v, %v)", cid, ok, err)
	}

	cid, ok, err = table.Remove(0, ckey(0x01))
	if err != nil || !ok || cid != "Qm2" {
		t.Fatalf("Remove = (%q, %v, %v)", cid, ok, err)
	}
	if _, ok, _ := table.Remove(0, ckey(0x01)); ok {
		t.Fatal("second remove reported a value")
	}
}

func TestKeyTable_DirtyRowsAndFlush(t *testing.T) {
	table := NewKeyTable(3)
	if _, _, err := table.Insert(1, ckey(0x02), "Qm2"); err != nil {
		t.Fatal(err)
	}
	if _, _, err := table.Insert(2, ckey(0x03), "Qm3"); err != nil {
		t.Fatal(err)
	}

	if got := table.DirtyRows(); !reflect.DeepEqual(got, []int{1, 2}) {
		t.Fatalf("DirtyRows = %v, want [1 2]", got)
	}

	flushed, err := table.Flush()
	if err != nil {
		t.Fatalf("Flush: %v", err)
	}
	if len(flushed) != 2 || flushed[0].Index != 1 || flushed[1].Index != 2 {
		t.Fatalf("flushed rows = %+v", flushed)
	}
	pairs, err := DecodeRow(flushed[0].Encoded)
	if err != nil {
		t.Fatalf("DecodeRow: %v", err)
	}
	if len(pairs) != 1 || pairs[0].Cid != "Qm2" {
		t.Fatalf("decoded pairs = %+v", pairs)
	}

	// The dirty set is cleared: an untouched table flushes nothing.
	flushed, err = table.Flush()
	if err != nil || len(flushed) != 0 {
		t.Fatalf("second flush = (%v, %v), want empty", flushed, err)
	}
}

// TestKeyTable_PartitionOnJoin is the join scenario: ring {0x40, 0x80},
// K=2, self 0x40; node 0x20 joins one step before self. The wrapped half of
// row 0 shifts to row 1, row 1's key leaves the node's span entirely.
func TestKeyTable_PartitionOnJoin(t *testing.T) {
	self := nid(0x40)
	ring := mustRing(t, 2, nid(0x40), nid(0x80))

	table := NewKeyTable(2)
	mustInsert(t, table, 0, ckey(0x30), "Qm1") // stays rank 0
	mustInsert(t, table, 0, ckey(0x90), "Qm2") // wraps past the joiner: rank 1
	mustInsert(t, table, 1, ckey(0x50), "Qm3") // joiner takes over: evicted

	joiner := nid(0x20)
	idx, err := ring.Insert(joiner)
	if err != nil {
		t.Fatalf("ring.Insert: %v", err)
	}
	dist, err := ring.DistanceFromIdx(idx, self)
	if err != nil || dist != 1 {
		t.Fatalf("join distance = (%d, %v), want 1", dist, err)
	}

	evicted, err := table.PartitionRow(dist-1, joiner, rankOn(ring, self))
	if err != nil {
		t.Fatalf("PartitionRow: %v", err)
	}

	if got := pairsOf(t, table, 0); !reflect.DeepEqual(got, []KeyCid{{ckey(0x30), "Qm1"}}) {
		t.Fatalf("row 0 = %+v", got)
	}
	if got := pairsOf(t, table, 1); !reflect.DeepEqual(got, []KeyCid{{ckey(0x90), "Qm2"}}) {
		t.Fatalf("row 1 = %+v", got)
	}
	if !reflect.DeepEqual(evicted, []KeyCid{{ckey(0x50), "Qm3"}}) {
		t.Fatalf("evicted = %+v", evicted)
	}
}

func TestKeyTable_MergeRowsFrom(t *testing.T) {
	table := NewKeyTable(3)
	mustInsert(t, table, 0, ckey(0x10), "Qm0")
	mustInsert(t, table, 1, ckey(0x20), "Qm1")
	mustInsert(t, table, 2, ckey(0x30), "Qm2")

	if err := table.MergeRowsFrom(0); err != nil {
		t.Fatalf("MergeRowsFrom: %v", err)
	}

	if got := pairsOf(t, table, 0); len(got) != 2 {
		t.Fatalf("merged row 0 = %+v", got)
	}
	if got := pairsOf(t, table, 1); !reflect.DeepEqual(got, []KeyCid{{ckey(0x30), "Qm2"}}) {
		t.Fatalf("shifted row 1 = %+v", got)
	}
	if got := pairsOf(t, table, 2); len(got) != 0 {
		t.Fatalf("last row not empty: %+v", got)
	}
}

func TestKeyTable_MergeLastRowKeepsBindings(t *testing.T) {
	// At distance K the last row's keys keep their rank; the transfer just
	// extends the row.
	table := NewKeyTable(2)
	mustInsert(t, table, 1, ckey(0x50), "Qm5")

	if err := table.MergeRowsFrom(1); err != nil {
		t.Fatalf("MergeRowsFrom(last): %v", err)
	}
	if got := pairsOf(t, table, 1); !reflect.DeepEqual(got, []KeyCid{{ckey(0x50), "Qm5"}}) {
		t.Fatalf("last row = %+v, want untouched bindings", got)
	}

	table.ExtendLastRow([]KeyCid{{ckey(0x90), "Qm9"}})
	if got := pairsOf(t, table, 1); len(got) != 2 {
		t.Fatalf("extended last row = %+v", got)
	}
}

// TestKeyTable_PartitionThenMergeIsIdentity checks that a join immediately
// undone by the same node's leave restores the row contents.
func TestKeyTable_PartitionThenMergeIsIdentity(t *testing.T) {
	self := nid(0x40)
	ring := mustRing(t, 2, nid(0x40), nid(0x80), nid(0xC0))

	table := NewKeyTable(2)
	mustInsert(t, table, 0, ckey(0x30), "Qm1")
	mustInsert(t, table, 0, ckey(0xD0), "Qm2")
	mustInsert(t, table, 1, ckey(0x90), "Qm3")
	before := table.Dump()

	joiner := nid(0x20)
	idx, err := ring.Insert(joiner)
	if err != nil {
		t.Fatal(err)
	}
	dist, err := ring.DistanceFromIdx(idx, self)
	if err != nil {
		t.Fatal(err)
	}
	evicted, err := table.PartitionRow(dist-1, joiner, rankOn(ring, self))
	if err != nil {
		t.Fatalf("PartitionRow: %v", err)
	}

	// The joiner leaves again: merge and restore what its span held.
	if _, err := ring.Remove(joiner); err != nil {
		t.Fatal(err)
	}
	if err := table.MergeRowsFrom(dist - 1); err != nil {
		t.Fatalf("MergeRowsFrom: %v", err)
	}
	table.ExtendLastRow(evicted)

	if !reflect.DeepEqual(table.Dump(), before) {
		t.Fatalf("partition+merge changed the table:\nbefore %+v\nafter  %+v", before, table.Dump())
	}
}

func TestKeyTable_FromRowsRoundTrip(t *testing.T) {
	table := NewKeyTable(2)
	mustInsert(t, table, 0, ckey(0x30), "Qm1")
	mustInsert(t, table, 1, ckey(0x90), "Qm2")

	restored, err := KeyTableFromRows(2, 42, table.Dump())
	if err != nil {
		t.Fatalf("KeyTableFromRows: %v", err)
	}
	if restored.At() != 42 {
		t.Fatalf("At = %d, want 42", restored.At())
	}
	if !reflect.DeepEqual(restored.Dump(), table.Dump()) {
		t.Fatal("restored table differs")
	}

	if _, err := KeyTableFromRows(1, 1, table.Dump()); err == nil {
		t.Fatal("row overflow accepted")
	}
}

func TestEncodedRows_DecodeRoundTrip(t *testing.T) {
	table := NewKeyTable(2)
	mustInsert(t, table, 0, ckey(0x30), "QmRowZero")
	mustInsert(t, table, 1, ckey(0x90), "QmRowOne")

	encoded, err := table.EncodedRows()
	if err != nil {
		t.Fatalf("EncodedRows: %v", err)
	}
	if len(encoded) != 2 {
		t.Fatalf("EncodedRows len = %d", len(encoded))
	}
	pairs, err := DecodeRow(encoded[1])
	if err != nil {
		t.Fatalf("DecodeRow: %v", err)
	}
	if !reflect.DeepEqual(pairs, []KeyCid{{ckey(0x90), "QmRowOne"}}) {
		t.Fatalf("decoded = %+v", pairs)
	}
}

func mustInsert(t *testing.T, table *KeyTable, row int, key CapsuleKey, cid Cid) {
	t.Helper()
	if _, _, err := table.Insert(row, key, cid); err != nil {
		t.Fatalf("Insert(%d, %s): %v", row, key, err)
	}
}
