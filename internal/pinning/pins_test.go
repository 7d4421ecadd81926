package pinning

import (
	"reflect"
	"testing"
)

func TestPinCounts_Transitions(t *testing.T) {
	pins := NewPinCounts()

	if n := pins.Inc("Qm1"); n != 1 {
		t.Fatalf("first Inc = %d, want 1", n)
	}
	if n := pins.Inc("Qm1"); n != 2 {
		t.Fatalf("second Inc = %d, want 2", n)
	}
	if n := pins.Dec("Qm1"); n != 1 {
		t.Fatalf("Dec = %d, want 1", n)
	}
	if n := pins.Dec("Qm1"); n != 0 {
		t.Fatalf("last Dec = %d, want 0", n)
	}
	if pins.Len() != 0 {
		t.Fatalf("Len = %d after last reference dropped", pins.Len())
	}
	if pins.Get("Qm1") != 0 {
		t.Fatal("untracked cid has non-zero count")
	}
}

func TestPinCounts_SnapshotRoundTrip(t *testing.T) {
	pins := NewPinCounts()
	pins.Inc("Qm2")
	pins.Inc("Qm1")
	pins.Inc("Qm1")

	snap := pins.Snapshot()
	want := []CidCount{{"Qm1", 2}, {"Qm2", 1}}
	if !reflect.DeepEqual(snap, want) {
		t.Fatalf("Snapshot = %+v, want %+v", snap, want)
	}

	restored := PinCountsFrom(snap)
	if restored.Get("Qm1") != 2 || restored.Get("Qm2") != 1 {
		t.Fatalf("restored counts = %d, %d", restored.Get("Qm1"), restored.Get("Qm2"))
	}
}

func TestCheckpoint_EncodeDecode(t *testing.T) {
	cp := Checkpoint{
		Block: 77,
		Rows: [][]KeyCid{
			{{ckey(0x10), "Qm1"}, {ckey(0x20), "Qm2"}},
			nil,
		},
		Pins: []CidCount{{"Qm1", 1}, {"Qm2", 1}},
	}

	blob, err := cp.Encode()
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	got, err := DecodeCheckpoint(blob)
	if err != nil {
		t.Fatalf("DecodeCheckpoint: %v", err)
	}
	if got.Block != 77 || len(got.Rows) != 2 || len(got.Rows[0]) != 2 || len(got.Pins) != 2 {
		t.Fatalf("decoded checkpoint = %+v", got)
	}
	if got.Rows[0][1].Cid != "Qm2" {
		t.Fatalf("row binding = %+v", got.Rows[0][1])
	}
}

func TestCidFromBytes(t *testing.T) {
	if _, err := CidFromBytes(nil); err == nil {
		t.Fatal("empty cid accepted")
	}
	if _, err := CidFromBytes(make([]byte, MaxCidLen+1)); err == nil {
		t.Fatal("oversized cid accepted")
	}
	if _, err := CidFromBytes([]byte{0x01, 0x02}); err == nil {
		t.Fatal("non-printable cid accepted")
	}
	cid, err := CidFromBytes([]byte("QmYwAPJzv5CZsnA625s3Xf2nemtYgPpHdWEz79ojWnPbdG"))
	if err != nil || cid == "" {
		t.Fatalf("valid cid rejected: %v", err)
	}
}
