package pinning

import (
	"errors"
	"fmt"
	"sort"

	"titanh/internal/check"
)

var (
	// ErrAlreadyPresent is returned by Insert when the node is on the ring.
	ErrAlreadyPresent = errors.New("node already in ring")
	// ErrNotInRing is returned when a node lookup fails.
	ErrNotInRing = errors.New("node not in ring")
	// ErrEmptyRing is returned by key queries on an empty ring.
	ErrEmptyRing = errors.New("ring is empty")
)

// Ring is the sorted circle of pinning-node identifiers. Every key is the
// responsibility of the K nodes found clockwise from the first node whose id
// is greater than or equal to the key, wrapping past the largest id.
//
// The ring is not safe for concurrent use; the dispatcher is its only writer.
type Ring struct {
	nodes       []NodeID
	replication int
	height      BlockNumber
}

// NewRing builds a ring from the chain's node vector, sorting a copy of it.
// The vector must hold no duplicate ids and be at least replication long.
func NewRing(nodes []NodeID, replication int, height BlockNumber) (*Ring, error) {
	if replication < 1 {
		return nil, fmt.Errorf("replication factor %d < 1", replication)
	}
	if len(nodes) < replication {
		return nil, fmt.Errorf("ring size %d smaller than replication factor %d", len(nodes), replication)
	}
	sorted := make([]NodeID, len(nodes))
	copy(sorted, nodes)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Compare(sorted[j]) < 0 })
	for i := 1; i < len(sorted); i++ {
		if sorted[i].Compare(sorted[i-1]) == 0 {
			return nil, fmt.Errorf("duplicate node id %s", sorted[i])
		}
	}
	return &Ring{nodes: sorted, replication: replication, height: height}, nil
}

// Len returns the number of nodes on the ring.
func (r *Ring) Len() int { return len(r.nodes) }

// Replication returns the replication factor K.
func (r *Ring) Replication() int { return r.replication }

// Height returns the block number of the ring snapshot.
func (r *Ring) Height() BlockNumber { return r.height }

// Nodes returns a copy of the sorted node vector.
func (r *Ring) Nodes() []NodeID {
	out := make([]NodeID, len(r.nodes))
	copy(out, r.nodes)
	return out
}

// Lookup binary-searches the ring. The returned index is the node's position
// when found, or its insertion position when not.
func (r *Ring) Lookup(node NodeID) (int, bool) {
	i := sort.Search(len(r.nodes), func(i int) bool { return r.nodes[i].Compare(node) >= 0 })
	return i, i < len(r.nodes) && r.nodes[i].Compare(node) == 0
}

// Insert adds a node, returning the index it now occupies.
func (r *Ring) Insert(node NodeID) (int, error) {
	i, found := r.Lookup(node)
	if found {
		return 0, fmt.Errorf("insert %s: %w", node, ErrAlreadyPresent)
	}
	r.nodes = append(r.nodes, NodeID{})
	copy(r.nodes[i+1:], r.nodes[i:])
	r.nodes[i] = node
	return i, nil
}

// Remove drops a node, returning the index it occupied.
func (r *Ring) Remove(node NodeID) (int, error) {
	i, found := r.Lookup(node)
	if !found {
		return 0, fmt.Errorf("remove %s: %w", node, ErrNotInRing)
	}
	r.nodes = append(r.nodes[:i], r.nodes[i+1:]...)
	return i, nil
}

// DistanceFromIdx returns the clockwise step count from index idx to node,
// in [0, len).
func (r *Ring) DistanceFromIdx(idx int, node NodeID) (int, error) {
	check.Assertf(idx >= 0 && idx < len(r.nodes), "ring index %d out of bounds", idx)
	j, found := r.Lookup(node)
	if !found {
		return 0, fmt.Errorf("distance to %s: %w", node, ErrNotInRing)
	}
	return (j - idx + len(r.nodes)) % len(r.nodes), nil
}

// DistanceBetween returns the clockwise step count from node a to node b.
func (r *Ring) DistanceBetween(a, b NodeID) (int, error) {
	i, found := r.Lookup(a)
	if !found {
		return 0, fmt.Errorf("distance from %s: %w", a, ErrNotInRing)
	}
	return r.DistanceFromIdx(i, b)
}

// closestIdx returns the index of the first node whose id is >= key,
// wrapping to index 0 when the key is beyond the largest id.
func (r *Ring) closestIdx(key CapsuleKey) int {
	i := sort.Search(len(r.nodes), func(i int) bool {
		return !r.nodes[i].Less(key)
	})
	return i % len(r.nodes)
}

// KeyNodePartition returns the 0-based replica rank of node for key: rank p
// means node is the p-th of the key's K clockwise successors. The second
// return is false when the node is not among them.
func (r *Ring) KeyNodePartition(key CapsuleKey, node NodeID) (int, bool, error) {
	if len(r.nodes) == 0 {
		return 0, false, ErrEmptyRing
	}
	first := r.closestIdx(key)
	for p := 0; p < r.replication; p++ {
		if r.nodes[(first+p)%len(r.nodes)] == node {
			return p, true, nil
		}
	}
	return 0, false, nil
}
