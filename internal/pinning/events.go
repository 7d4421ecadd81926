package pinning

import "time"

// EventKind discriminates NodeEvent variants.
type EventKind uint8

const (
	// EventPin pins a capsule's content for the first time.
	EventPin EventKind = iota
	// EventUpdate replaces a capsule's content.
	EventUpdate
	// EventRemovePin drops a capsule's content.
	EventRemovePin
	// EventJoin adds a node to the ring.
	EventJoin
	// EventLeave removes a node from the ring, carrying its keytable handoff.
	EventLeave
	// EventBlockBarrier closes a block's batch and triggers checkpointing.
	EventBlockBarrier
	// EventLatencyMark stamps the wall-clock entry time of a batch.
	EventLatencyMark
)

func (k EventKind) String() string {
	switch k {
	case EventPin:
		return "pin"
	case EventUpdate:
		return "update"
	case EventRemovePin:
		return "remove-pin"
	case EventJoin:
		return "join"
	case EventLeave:
		return "leave"
	case EventBlockBarrier:
		return "block-barrier"
	case EventLatencyMark:
		return "latency-mark"
	default:
		return "unknown"
	}
}

// NodeEvent is one unit of work for the dispatcher. Which fields are
// meaningful depends on Kind; the zero value of the rest is ignored.
type NodeEvent struct {
	Kind EventKind

	// Pin / Update / RemovePin
	Key    CapsuleKey
	Cid    Cid
	OldCid Cid // Update only

	// Join / Leave
	Node NodeID
	// Leave only: block at which the leaving node snapshotted its keytable,
	// and the IPFS cids of its K encoded rows.
	KeyTableAt BlockNumber
	RowCids    []Cid

	// BlockBarrier
	Block BlockNumber

	// LatencyMark
	At time.Time
}

// PinEvent builds a pin event.
func PinEvent(key CapsuleKey, cid Cid) NodeEvent {
	return NodeEvent{Kind: EventPin, Key: key, Cid: cid}
}

// UpdateEvent builds a content-change event.
func UpdateEvent(key CapsuleKey, oldCid, newCid Cid) NodeEvent {
	return NodeEvent{Kind: EventUpdate, Key: key, Cid: newCid, OldCid: oldCid}
}

// RemovePinEvent builds an unpin event.
func RemovePinEvent(key CapsuleKey, cid Cid) NodeEvent {
	return NodeEvent{Kind: EventRemovePin, Key: key, Cid: cid}
}

// JoinEvent builds a node-join event.
func JoinEvent(node NodeID) NodeEvent {
	return NodeEvent{Kind: EventJoin, Node: node}
}

// LeaveEvent builds a node-leave event with the departing node's keytable
// handoff.
func LeaveEvent(node NodeID, keyTableAt BlockNumber, rowCids []Cid) NodeEvent {
	return NodeEvent{Kind: EventLeave, Node: node, KeyTableAt: keyTableAt, RowCids: rowCids}
}

// BarrierEvent builds a block-barrier event.
func BarrierEvent(block BlockNumber) NodeEvent {
	return NodeEvent{Kind: EventBlockBarrier, Block: block}
}

// LatencyMarkEvent stamps the batch entrance time.
func LatencyMarkEvent(at time.Time) NodeEvent {
	return NodeEvent{Kind: EventLatencyMark, At: at}
}

// IsPinning reports whether the event mutates a single capsule binding.
func (e NodeEvent) IsPinning() bool {
	return e.Kind == EventPin || e.Kind == EventUpdate || e.Kind == EventRemovePin
}

// IsMembership reports whether the event changes the ring.
func (e NodeEvent) IsMembership() bool {
	return e.Kind == EventJoin || e.Kind == EventLeave
}

// Batch is an ordered run of events terminated by exactly one block barrier.
type Batch []NodeEvent
