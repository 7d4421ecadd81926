package pinning

import (
	"sort"

	"titanh/internal/check"
)

// PinCounts tracks how many keytable bindings point at each cid. The
// physical IPFS pin exists exactly while the count is non-zero, so capsules
// sharing deduplicated content are never double-pinned or unpinned early.
type PinCounts struct {
	counts map[Cid]uint32
}

// NewPinCounts creates an empty counter set.
func NewPinCounts() *PinCounts {
	return &PinCounts{counts: make(map[Cid]uint32)}
}

// PinCountsFrom restores counters from a checkpoint.
func PinCountsFrom(pairs []CidCount) *PinCounts {
	p := NewPinCounts()
	for _, pc := range pairs {
		if pc.Count > 0 {
			p.counts[pc.Cid] = pc.Count
		}
	}
	return p
}

// CidCount is one checkpointed counter.
type CidCount struct {
	Cid   Cid
	Count uint32
}

// Get returns the current count for cid.
func (p *PinCounts) Get(cid Cid) uint32 { return p.counts[cid] }

// Inc bumps the counter and returns the new value; a return of 1 means the
// cid just became pinned.
func (p *PinCounts) Inc(cid Cid) uint32 {
	p.counts[cid]++
	return p.counts[cid]
}

// Dec drops the counter and returns the new value; a return of 0 means the
// last reference is gone and the physical pin must be removed.
func (p *PinCounts) Dec(cid Cid) uint32 {
	n, ok := p.counts[cid]
	check.Assertf(ok, "decrement of untracked cid %s", cid)
	if !ok || n == 0 {
		return 0
	}
	if n == 1 {
		delete(p.counts, cid)
		return 0
	}
	p.counts[cid] = n - 1
	return n - 1
}

// Len returns the number of distinct pinned cids.
func (p *PinCounts) Len() int { return len(p.counts) }

// Snapshot returns all counters sorted by cid, for checkpoint encoding.
func (p *PinCounts) Snapshot() []CidCount {
	out := make([]CidCount, 0, len(p.counts))
	for cid, n := range p.counts {
		out = append(out, CidCount{Cid: cid, Count: n})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Cid < out[j].Cid })
	return out
}
