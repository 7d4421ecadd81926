package daemon_test

import (
	"context"
	"errors"
	"fmt"
	"reflect"
	"testing"

	"titanh/internal/adapter/fake"
	"titanh/internal/daemon"
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

// harness bundles a dispatcher with its fakes and state for assertions.
type harness struct {
	dispatcher *daemon.Dispatcher
	ring       *pinning.Ring
	table      *pinning.KeyTable
	pins       *pinning.PinCounts
	chain      *fake.Chain
	ipfs       *fake.IPFS
	store      *fake.CheckpointStore
}

func newHarness(t *testing.T, self pinning.NodeID, replication int, block pinning.BlockNumber, nodes ...pinning.NodeID) *harness {
	t.Helper()
	ring, err := pinning.NewRing(nodes, replication, block)
	if err != nil {
		t.Fatalf("NewRing: %v", err)
	}
	h := &harness{
		ring:  ring,
		table: pinning.NewKeyTable(replication),
		pins:  pinning.NewPinCounts(),
		chain: fake.NewChain(replication, nodes...),
		ipfs:  fake.NewIPFS(),
		store: fake.NewCheckpointStore(),
	}
	h.dispatcher = daemon.NewDispatcher(daemon.DispatcherConfig{
		Self:  self,
		Ring:  ring,
		Table: h.table,
		Pins:  h.pins,
		Chain: h.chain,
		IPFS:  h.ipfs,
		Store: h.store,
		Block: block,
	})
	return h
}

func (h *harness) dispatch(t *testing.T, batch ...pinning.NodeEvent) {
	t.Helper()
	if err := h.dispatcher.DispatchBatch(context.Background(), batch); err != nil {
		t.Fatalf("DispatchBatch: %v", err)
	}
}

func (h *harness) rowPairs(t *testing.T, row int) []pinning.KeyCid {
	t.Helper()
	pairs, err := h.table.RowPairs(row)
	if err != nil {
		t.Fatalf("RowPairs(%d): %v", row, err)
	}
	return pairs
}

func TestDispatcher_PinUpdateRemove(t *testing.T) {
	self := nid(0x50)
	h := newHarness(t, self, 1, 10, nid(0x50), nid(0xA0))

	// Key 0x30 ranks self first; key 0x70 belongs to 0xA0 and is ignored.
	h.dispatch(t,
		pinning.PinEvent(ckey(0x30), "Qm1"),
		pinning.PinEvent(ckey(0x70), "QmForeign"),
		pinning.BarrierEvent(11),
	)
	if got := h.ipfs.Pinned(); !reflect.DeepEqual(got, []pinning.Cid{"Qm1"}) {
		t.Fatalf("pin set = %v", got)
	}
	if pairs := h.rowPairs(t, 0); len(pairs) != 1 || pairs[0].Cid != "Qm1" {
		t.Fatalf("row 0 = %+v", pairs)
	}

	h.dispatch(t,
		pinning.UpdateEvent(ckey(0x30), "Qm1", "Qm2"),
		pinning.BarrierEvent(12),
	)
	if got := h.ipfs.Pinned(); !reflect.DeepEqual(got, []pinning.Cid{"Qm2"}) {
		t.Fatalf("pin set after update = %v", got)
	}

	h.dispatch(t,
		pinning.RemovePinEvent(ckey(0x30), "Qm2"),
		pinning.BarrierEvent(13),
	)
	if got := h.ipfs.Pinned(); len(got) != 0 {
		t.Fatalf("pin set after remove = %v", got)
	}
	if h.pins.Len() != 0 {
		t.Fatalf("pin counts not empty: %d", h.pins.Len())
	}
}

func TestDispatcher_SharedCidReferenceCounting(t *testing.T) {
	self := nid(0x50)
	h := newHarness(t, self, 1, 10, nid(0x50))

	// Two capsules share deduplicated content.
	h.dispatch(t,
		pinning.PinEvent(ckey(0x10), "QmShared"),
		pinning.PinEvent(ckey(0x20), "QmShared"),
		pinning.BarrierEvent(11),
	)
	if h.pins.Get("QmShared") != 2 {
		t.Fatalf("shared count = %d, want 2", h.pins.Get("QmShared"))
	}

	// Dropping one capsule keeps the physical pin.
	h.dispatch(t,
		pinning.RemovePinEvent(ckey(0x10), "QmShared"),
		pinning.BarrierEvent(12),
	)
	if !h.ipfs.IsPinned("QmShared") {
		t.Fatal("shared cid unpinned while still referenced")
	}

	h.dispatch(t,
		pinning.RemovePinEvent(ckey(0x20), "QmShared"),
		pinning.BarrierEvent(13),
	)
	if h.ipfs.IsPinned("QmShared") {
		t.Fatal("shared cid still pinned after last reference")
	}
}

// TestDispatcher_JoinPartitionsTable is the join scenario: self 0x40 on ring
// {0x40, 0x80} with K=2; node 0x20 joins one step before self.
func TestDispatcher_JoinPartitionsTable(t *testing.T) {
	self := nid(0x40)
	h := newHarness(t, self, 2, 10, nid(0x40), nid(0x80))

	h.dispatch(t,
		pinning.PinEvent(ckey(0x30), "Qm1"), // rank 0, stays
		pinning.PinEvent(ckey(0x90), "Qm2"), // rank 0, shifts to rank 1
		pinning.PinEvent(ckey(0x50), "Qm3"), // rank 1, evicted by the joiner
		pinning.BarrierEvent(11),
	)

	h.dispatch(t,
		pinning.JoinEvent(nid(0x20)),
		pinning.BarrierEvent(12),
	)

	if got := h.rowPairs(t, 0); !reflect.DeepEqual(got, []pinning.KeyCid{{Key: ckey(0x30), Cid: "Qm1"}}) {
		t.Fatalf("row 0 = %+v", got)
	}
	if got := h.rowPairs(t, 1); !reflect.DeepEqual(got, []pinning.KeyCid{{Key: ckey(0x90), Cid: "Qm2"}}) {
		t.Fatalf("row 1 = %+v", got)
	}
	if h.ipfs.IsPinned("Qm3") {
		t.Fatal("evicted cid still pinned")
	}
	if got := h.ipfs.Pinned(); !reflect.DeepEqual(got, []pinning.Cid{"Qm1", "Qm2"}) {
		t.Fatalf("pin set = %v", got)
	}
	if h.ring.Len() != 3 {
		t.Fatalf("ring size = %d after join", h.ring.Len())
	}
}

// TestDispatcher_LeaveTransfersAndReplays is the leave scenario: node 0x40
// leaves the ring {0x20, 0x40, 0x60, 0x80} with K=2; self 0x60 merges its
// rows, fetches the transferred row from IPFS and replays the events the
// transfer missed.
func TestDispatcher_LeaveTransfersAndReplays(t *testing.T) {
	self := nid(0x60)
	leaving := nid(0x40)
	h := newHarness(t, self, 2, 119, nid(0x20), leaving, self, nid(0x80))

	// Self's table before the leave: rank 0 covers (0x40, 0x60], rank 1
	// covers (0x20, 0x40].
	h.dispatch(t,
		pinning.PinEvent(ckey(0x50), "Qm50"),
		pinning.PinEvent(ckey(0x30), "Qm30"),
		pinning.BarrierEvent(120),
	)

	// The leaving node's keytable was snapshotted at block 100. Its row 1
	// (the range self adopts) holds one binding.
	transferred, err := pinning.EncodeRow([]pinning.KeyCid{{Key: ckey(0x90), Cid: "Qm90"}})
	if err != nil {
		t.Fatal(err)
	}
	h.ipfs.PutBlob("QmRow1", transferred)

	// A pin that happened at block 115, after the snapshot, in the adopted
	// range: the replay must capture it.
	h.chain.SetBlock(115, pinning.PinEvent(ckey(0x95), "Qm95"))

	h.dispatch(t,
		pinning.LeaveEvent(leaving, 100, []pinning.Cid{"QmRow0", "QmRow1"}),
		pinning.BarrierEvent(121),
	)

	// Rows 0 and 1 merged into row 0.
	if got := h.rowPairs(t, 0); len(got) != 2 {
		t.Fatalf("merged row 0 = %+v", got)
	}
	// Row 1 adopted the transfer plus the replayed pin.
	want := []pinning.KeyCid{{Key: ckey(0x90), Cid: "Qm90"}, {Key: ckey(0x95), Cid: "Qm95"}}
	if got := h.rowPairs(t, 1); !reflect.DeepEqual(got, want) {
		t.Fatalf("row 1 = %+v, want %+v", got, want)
	}
	if !h.ipfs.IsPinned("Qm90") || !h.ipfs.IsPinned("Qm95") {
		t.Fatalf("adopted cids not pinned: %v", h.ipfs.Pinned())
	}
	if h.ring.Len() != 3 {
		t.Fatalf("ring size = %d after leave", h.ring.Len())
	}
}

func TestDispatcher_LeaveOfSelfIsFatal(t *testing.T) {
	self := nid(0x60)
	h := newHarness(t, self, 1, 10, nid(0x20), self)

	err := h.dispatcher.DispatchBatch(context.Background(),
		pinning.Batch{pinning.LeaveEvent(self, 5, []pinning.Cid{"Qm"}), pinning.BarrierEvent(11)})
	if !errors.Is(err, daemon.ErrSelfLeave) {
		t.Fatalf("err = %v, want ErrSelfLeave", err)
	}
	if h.store.Block() != 0 {
		t.Fatal("checkpoint advanced on fatal error")
	}
}

func TestDispatcher_LeaveRequiresOlderKeytable(t *testing.T) {
	self := nid(0x60)
	h := newHarness(t, self, 1, 10, nid(0x20), self)

	// A keytable snapshot at or above the current block is an invariant
	// violation: the replay window would be senseless.
	err := h.dispatcher.DispatchBatch(context.Background(),
		pinning.Batch{pinning.LeaveEvent(nid(0x20), 11, []pinning.Cid{"Qm"}), pinning.BarrierEvent(11)})
	if err == nil {
		t.Fatal("keytable at current block accepted")
	}
}

func TestDispatcher_BatchShape(t *testing.T) {
	self := nid(0x60)
	h := newHarness(t, self, 1, 10, self)

	if err := h.dispatcher.DispatchBatch(context.Background(), nil); err == nil {
		t.Fatal("empty batch accepted")
	}
	err := h.dispatcher.DispatchBatch(context.Background(), pinning.Batch{
		pinning.BarrierEvent(11),
		pinning.PinEvent(ckey(0x10), "Qm1"),
		pinning.BarrierEvent(12),
	})
	if err == nil {
		t.Fatal("mid-batch barrier accepted")
	}
	// Barriers must advance strictly.
	h.dispatch(t, pinning.BarrierEvent(11))
	if err := h.dispatcher.DispatchBatch(context.Background(), pinning.Batch{pinning.BarrierEvent(11)}); err == nil {
		t.Fatal("repeated barrier accepted")
	}
	if got := h.store.Blocks; !reflect.DeepEqual(got, []pinning.BlockNumber{11}) {
		t.Fatalf("committed blocks = %v", got)
	}
}

// TestDispatcher_CrashBeforeBarrierIsIdempotent replays a batch after a
// simulated crash between its events and its checkpoint: the final state
// must equal the no-crash outcome.
func TestDispatcher_CrashBeforeBarrierIsIdempotent(t *testing.T) {
	self := nid(0x50)
	batch := pinning.Batch{
		pinning.PinEvent(ckey(0x10), "Qm1"),
		pinning.PinEvent(ckey(0x20), "QmShared"),
		pinning.UpdateEvent(ckey(0x10), "Qm1", "QmShared"),
		pinning.BarrierEvent(11),
	}

	// Reference run without a crash.
	ref := newHarness(t, self, 1, 10, self)
	ref.dispatch(t, batch...)

	// Crashing run: the store rejects the first commit, the process dies
	// before the barrier, and a fresh dispatcher restarts from the store.
	crash := newHarness(t, self, 1, 10, self)
	crash.store.SaveErr = func(pinning.BlockNumber) error {
		crash.store.SaveErr = nil
		return fmt.Errorf("disk full")
	}
	if err := crash.dispatcher.DispatchBatch(context.Background(), batch); err == nil {
		t.Fatal("failed checkpoint did not surface")
	}

	cp, err := crash.store.Load()
	if err != nil {
		t.Fatal(err)
	}
	if cp.Block != 1 {
		t.Fatalf("checkpoint advanced to %d despite crash", cp.Block)
	}
	restartTable, err := pinning.KeyTableFromRows(1, cp.Block, cp.Rows)
	if err != nil {
		t.Fatal(err)
	}
	restartPins := pinning.PinCountsFrom(cp.Pins)
	ring, err := pinning.NewRing([]pinning.NodeID{self}, 1, 10)
	if err != nil {
		t.Fatal(err)
	}
	restarted := daemon.NewDispatcher(daemon.DispatcherConfig{
		Self:  self,
		Ring:  ring,
		Table: restartTable,
		Pins:  restartPins,
		Chain: crash.chain,
		IPFS:  crash.ipfs,
		Store: crash.store,
		Block: cp.Block,
	})
	if err := restarted.DispatchBatch(context.Background(), batch); err != nil {
		t.Fatalf("replay after crash: %v", err)
	}

	refCp, _ := ref.store.Load()
	crashCp, _ := crash.store.Load()
	if !reflect.DeepEqual(refCp, crashCp) {
		t.Fatalf("checkpoints diverge:\nno-crash %+v\nreplayed %+v", refCp, crashCp)
	}
	if !reflect.DeepEqual(ref.ipfs.Pinned(), crash.ipfs.Pinned()) {
		t.Fatalf("pin sets diverge: %v vs %v", ref.ipfs.Pinned(), crash.ipfs.Pinned())
	}
}
