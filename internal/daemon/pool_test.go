package daemon

import (
	"testing"
	"time"

	"titanh/internal/pinning"
)

func TestPool_FIFOOrder(t *testing.T) {
	pool := NewPool()
	const n = 1000

	// An unbounded pool accepts everything without a consumer attached.
	for i := 0; i < n; i++ {
		pool.Send(pinning.BarrierEvent(pinning.BlockNumber(i)))
	}
	pool.Close()

	i := 0
	for ev := range pool.Out() {
		if ev.Block != pinning.BlockNumber(i) {
			t.Fatalf("event %d out of order: got block %d", i, ev.Block)
		}
		i++
	}
	if i != n {
		t.Fatalf("drained %d events, want %d", i, n)
	}
}

func TestPool_CloseDrainsBuffer(t *testing.T) {
	pool := NewPool()
	pool.Send(pinning.BarrierEvent(1))
	pool.Send(pinning.BarrierEvent(2))
	pool.Close()

	var got []pinning.BlockNumber
	timeout := time.After(2 * time.Second)
	for {
		select {
		case ev, ok := <-pool.Out():
			if !ok {
				if len(got) != 2 {
					t.Fatalf("drained %v, want two events", got)
				}
				return
			}
			got = append(got, ev.Block)
		case <-timeout:
			t.Fatal("pool did not drain after close")
		}
	}
}
