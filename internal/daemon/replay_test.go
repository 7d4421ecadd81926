package daemon

import (
	"testing"

	"titanh/internal/pinning"
)

func nid(b byte) pinning.NodeID {
	var id pinning.NodeID
	id[0] = b
	return id
}

func ckey(b byte) pinning.CapsuleKey {
	var k pinning.CapsuleKey
	k[0] = b
	return k
}

// replayDispatcher builds a dispatcher on a post-leave ring, for exercising
// the replay ownership predicate in isolation.
func replayDispatcher(t *testing.T, self pinning.NodeID, replication int, nodes ...pinning.NodeID) *Dispatcher {
	t.Helper()
	ring, err := pinning.NewRing(nodes, replication, 1)
	if err != nil {
		t.Fatalf("NewRing: %v", err)
	}
	return NewDispatcher(DispatcherConfig{
		Self:  self,
		Ring:  ring,
		Table: pinning.NewKeyTable(replication),
		Pins:  pinning.NewPinCounts(),
	})
}

func TestReplayOwnsKey_AdoptedRange(t *testing.T) {
	// Node 0x40 left the ring {0x20, 0x40, 0x60, 0x80}; self 0x60 was its
	// first successor (dist 1 < K) and adopted the range now ranking K-1.
	d := replayDispatcher(t, nid(0x60), 2, nid(0x20), nid(0x60), nid(0x80))
	leaving := nid(0x40)

	tests := []struct {
		name string
		key  pinning.CapsuleKey
		want bool
	}{
		// (0x80, 0x20] ranks self at K-1 on the post-leave ring.
		{"adopted wrapped key", ckey(0x90), true},
		{"adopted low key", ckey(0x10), true},
		// (0x20, 0x60] ranks self first: normal processing covers it.
		{"rank zero key", ckey(0x50), false},
		// (0x60, 0x80] does not involve self at all.
		{"foreign key", ckey(0x70), false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := d.replayOwnsKey(tt.key, leaving, 1, 2); got != tt.want {
				t.Fatalf("replayOwnsKey(%s) = %v, want %v", tt.key, got, tt.want)
			}
		})
	}
}

func TestReplayOwnsKey_TailGuardAtDistanceK(t *testing.T) {
	// Node 0x40 left the ring {0x20, 0x40, 0x60, 0x80}; self 0x80 is at
	// distance K. Row K-1 then covers (0x20, 0x60], but its tail at or above
	// the leaving node's id was already owned before the leave and must not
	// be double-applied.
	d := replayDispatcher(t, nid(0x80), 2, nid(0x20), nid(0x60), nid(0x80))
	leaving := nid(0x40)

	tests := []struct {
		name string
		key  pinning.CapsuleKey
		want bool
	}{
		{"newly adopted head", ckey(0x30), true},
		{"tail key at leaving id", ckey(0x40), false},
		{"tail key above leaving id", ckey(0x50), false},
		{"rank zero key", ckey(0x70), false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := d.replayOwnsKey(tt.key, leaving, 2, 2); got != tt.want {
				t.Fatalf("replayOwnsKey(%s) = %v, want %v", tt.key, got, tt.want)
			}
		})
	}
}
