package daemon_test

import (
	"context"
	"reflect"
	"testing"
	"time"

	"titanh/internal/adapter/fake"
	"titanh/internal/daemon"
	"titanh/internal/pinning"
)

// TestRun_SingleNodeBootstrap drives the whole runtime once: a one-node
// ring, one capsule on chain, no prior checkpoint. After the first live
// block the node must have pinned the capsule and checkpointed the tip.
func TestRun_SingleNodeBootstrap(t *testing.T) {
	self := nid(0x50)
	chain := fake.NewChain(1, self)
	chain.SetCapsules(11, pinning.KeyCid{Key: ckey(0xAA), Cid: "Qm1"})
	ipfs := fake.NewIPFS()
	store := fake.NewCheckpointStore()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan error, 1)
	go func() {
		done <- daemon.Run(ctx, daemon.Config{Self: self}, chain, ipfs, store)
	}()

	// The bootstrap read consumes one announcement, the producer a second.
	waitSubscribed(t, chain, 1)
	chain.Finalize(12)
	waitSubscribed(t, chain, 2)
	chain.Finalize(12)

	deadline := time.Now().Add(5 * time.Second)
	for store.Block() != 12 {
		if time.Now().After(deadline) {
			t.Fatalf("checkpoint never reached block 12 (at %d)", store.Block())
		}
		time.Sleep(time.Millisecond)
	}

	cancel()
	<-done

	cp, err := store.Load()
	if err != nil {
		t.Fatal(err)
	}
	if cp.Block != 12 {
		t.Fatalf("checkpoint block = %d, want 12", cp.Block)
	}
	wantRow := []pinning.KeyCid{{Key: ckey(0xAA), Cid: "Qm1"}}
	if len(cp.Rows) != 1 || !reflect.DeepEqual(cp.Rows[0], wantRow) {
		t.Fatalf("checkpoint rows = %+v", cp.Rows)
	}
	if !reflect.DeepEqual(cp.Pins, []pinning.CidCount{{Cid: "Qm1", Count: 1}}) {
		t.Fatalf("checkpoint pins = %+v", cp.Pins)
	}
	if got := ipfs.Pinned(); !reflect.DeepEqual(got, []pinning.Cid{"Qm1"}) {
		t.Fatalf("pin set = %v", got)
	}
}

func TestRun_RejectsUnregisteredNode(t *testing.T) {
	chain := fake.NewChain(1, nid(0x50))
	ipfs := fake.NewIPFS()
	store := fake.NewCheckpointStore()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan error, 1)
	go func() {
		done <- daemon.Run(ctx, daemon.Config{Self: nid(0x99)}, chain, ipfs, store)
	}()

	waitSubscribed(t, chain, 1)
	chain.Finalize(10)
	if err := <-done; err == nil {
		t.Fatal("unregistered node started")
	}
}
