package fake

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"golang.org/x/crypto/blake2b"

	"titanh/internal/daemon"
	"titanh/internal/pinning"
)

var _ daemon.Pinner = (*IPFS)(nil)

// IPFS is an in-memory content store with a pin set.
type IPFS struct {
	mu    sync.Mutex
	blobs map[pinning.Cid][]byte
	pins  map[pinning.Cid]struct{}

	// Optional error hooks.
	AddErr func(data []byte) error
	CatErr func(cid pinning.Cid) error
	PinErr func(cid pinning.Cid) error
}

// NewIPFS creates an empty store.
func NewIPFS() *IPFS {
	return &IPFS{
		blobs: make(map[pinning.Cid][]byte),
		pins:  make(map[pinning.Cid]struct{}),
	}
}

// CidOf derives the deterministic fake cid of a blob.
func CidOf(data []byte) pinning.Cid {
	sum := blake2b.Sum256(data)
	return pinning.Cid(fmt.Sprintf("Qm%x", sum[:16]))
}

// PutBlob seeds content under an explicit cid.
func (f *IPFS) PutBlob(cid pinning.Cid, data []byte) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.blobs[cid] = append([]byte(nil), data...)
}

// Pinned returns the sorted pin set.
func (f *IPFS) Pinned() []pinning.Cid {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]pinning.Cid, 0, len(f.pins))
	for cid := range f.pins {
		out = append(out, cid)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// IsPinned reports whether cid is in the pin set.
func (f *IPFS) IsPinned(cid pinning.Cid) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	_, ok := f.pins[cid]
	return ok
}

func (f *IPFS) Add(_ context.Context, data []byte) (pinning.Cid, error) {
	if f.AddErr != nil {
		if err := f.AddErr(data); err != nil {
			return "", err
		}
	}
	cid := CidOf(data)
	f.PutBlob(cid, data)
	return cid, nil
}

func (f *IPFS) Cat(_ context.Context, cid pinning.Cid) ([]byte, error) {
	if f.CatErr != nil {
		if err := f.CatErr(cid); err != nil {
			return nil, err
		}
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	data, ok := f.blobs[cid]
	if !ok {
		return nil, fmt.Errorf("cid %s not found", cid)
	}
	return append([]byte(nil), data...), nil
}

func (f *IPFS) PinAdd(_ context.Context, cid pinning.Cid) error {
	if f.PinErr != nil {
		if err := f.PinErr(cid); err != nil {
			return err
		}
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.pins[cid] = struct{}{}
	return nil
}

func (f *IPFS) PinRm(_ context.Context, cid pinning.Cid) error {
	if f.PinErr != nil {
		if err := f.PinErr(cid); err != nil {
			return err
		}
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.pins, cid)
	return nil
}
