package pinning

import (
	"errors"
	"testing"
)

func nid(b byte) NodeID {
	var id NodeID
	id[0] = b
	return id
}

func ckey(b byte) CapsuleKey {
	var k CapsuleKey
	k[0] = b
	return k
}

func mustRing(t *testing.T, replication int, nodes ...NodeID) *Ring {
	t.Helper()
	r, err := NewRing(nodes, replication, 1)
	if err != nil {
		t.Fatalf("NewRing: %v", err)
	}
	return r
}

func TestNewRing_Validation(t *testing.T) {
	if _, err := NewRing([]NodeID{nid(0x10)}, 0, 1); err == nil {
		t.Fatal("replication 0 accepted")
	}
	if _, err := NewRing([]NodeID{nid(0x10)}, 2, 1); err == nil {
		t.Fatal("ring smaller than replication accepted")
	}
	if _, err := NewRing([]NodeID{nid(0x10), nid(0x10)}, 1, 1); err == nil {
		t.Fatal("duplicate node accepted")
	}
}

func TestRing_InsertRemoveLookup(t *testing.T) {
	r := mustRing(t, 1, nid(0x10), nid(0x50))

	idx, err := r.Insert(nid(0x30))
	if err != nil {
		t.Fatalf("Insert: %v", err)
	}
	if idx != 1 {
		t.Fatalf("Insert index = %d, want 1", idx)
	}
	if _, err := r.Insert(nid(0x30)); !errors.Is(err, ErrAlreadyPresent) {
		t.Fatalf("duplicate insert error = %v, want ErrAlreadyPresent", err)
	}

	if i, found := r.Lookup(nid(0x50)); !found || i != 2 {
		t.Fatalf("Lookup(0x50) = (%d, %v), want (2, true)", i, found)
	}
	if i, found := r.Lookup(nid(0x40)); found || i != 2 {
		t.Fatalf("Lookup(0x40) = (%d, %v), want insertion position 2", i, found)
	}

	idx, err = r.Remove(nid(0x30))
	if err != nil || idx != 1 {
		t.Fatalf("Remove = (%d, %v), want (1, nil)", idx, err)
	}
	if _, err := r.Remove(nid(0x30)); !errors.Is(err, ErrNotInRing) {
		t.Fatalf("absent remove error = %v, want ErrNotInRing", err)
	}
}

func TestRing_Distances(t *testing.T) {
	r := mustRing(t, 2, nid(0x10), nid(0x50), nid(0xA0))

	// distance_from_idx(i, ring[i]) == 0
	for i, node := range r.Nodes() {
		d, err := r.DistanceFromIdx(i, node)
		if err != nil || d != 0 {
			t.Fatalf("DistanceFromIdx(%d, self) = (%d, %v), want 0", i, d, err)
		}
	}

	d, err := r.DistanceFromIdx(0, nid(0x50))
	if err != nil || d != 1 {
		t.Fatalf("DistanceFromIdx(0, 0x50) = (%d, %v), want 1", d, err)
	}
	d, err = r.DistanceFromIdx(2, nid(0x10))
	if err != nil || d != 1 {
		t.Fatalf("DistanceFromIdx(2, 0x10) = (%d, %v), want 1 (wrap)", d, err)
	}

	// distance_between(a, a) == 0 and the round trip sums to ring size.
	if d, _ := r.DistanceBetween(nid(0x50), nid(0x50)); d != 0 {
		t.Fatalf("DistanceBetween(a, a) = %d, want 0", d)
	}
	ab, _ := r.DistanceBetween(nid(0x10), nid(0xA0))
	ba, _ := r.DistanceBetween(nid(0xA0), nid(0x10))
	if ab+ba != r.Len() {
		t.Fatalf("distance round trip = %d + %d, want %d", ab, ba, r.Len())
	}

	if _, err := r.DistanceBetween(nid(0x10), nid(0x77)); !errors.Is(err, ErrNotInRing) {
		t.Fatalf("distance to absent node error = %v, want ErrNotInRing", err)
	}
}

func TestRing_KeyNodePartition(t *testing.T) {
	// Ring 0x10, 0x50, 0xA0 with K=2: key 0x30's successors are 0x50, 0xA0.
	r := mustRing(t, 2, nid(0x10), nid(0x50), nid(0xA0))

	tests := []struct {
		name  string
		key   CapsuleKey
		node  NodeID
		rank  int
		owned bool
	}{
		{"first successor", ckey(0x30), nid(0x50), 0, true},
		{"second successor", ckey(0x30), nid(0xA0), 1, true},
		{"not a successor", ckey(0x30), nid(0x10), 0, false},
		{"exact node id boundary", ckey(0x50), nid(0x50), 0, true},
		{"wrapping key", ckey(0xE0), nid(0x10), 0, true},
		{"wrapping key second", ckey(0xE0), nid(0x50), 1, true},
		{"wrapping key not owned", ckey(0xE0), nid(0xA0), 0, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rank, owned, err := r.KeyNodePartition(tt.key, tt.node)
			if err != nil {
				t.Fatalf("KeyNodePartition: %v", err)
			}
			if owned != tt.owned || (owned && rank != tt.rank) {
				t.Fatalf("KeyNodePartition(%s, %s) = (%d, %v), want (%d, %v)",
					tt.key, tt.node, rank, owned, tt.rank, tt.owned)
			}
		})
	}
}

func TestRing_PartitionCoversExactlyKSuccessors(t *testing.T) {
	// Every key is owned by exactly K nodes, whatever the arc.
	r := mustRing(t, 2, nid(0x10), nid(0x50), nid(0xA0), nid(0xD0))
	for _, keyByte := range []byte{0x00, 0x10, 0x11, 0x4F, 0x50, 0x9F, 0xCF, 0xD0, 0xFF} {
		owners := 0
		for _, node := range r.Nodes() {
			if _, owned, _ := r.KeyNodePartition(ckey(keyByte), node); owned {
				owners++
			}
		}
		if owners != r.Replication() {
			t.Fatalf("key %#x has %d owners, want %d", keyByte, owners, r.Replication())
		}
	}
}
