package pinning

import (
	"bytes"
	"fmt"

	"github.com/centrifuge/go-substrate-rpc-client/v4/scale"
)

// Wire layouts mirror the chain's SCALE encoding: a row is the encoding of a
// BTreeMap<CapsuleKey, Cid> (compact length followed by key-sorted pairs),
// so rows published by any committee node decode on any other.

type rowPairWire struct {
	Key [32]byte
	Cid string
}

type cidCountWire struct {
	Cid   string
	Count uint32
}

type checkpointWire struct {
	Block uint32
	Rows  [][]rowPairWire
	Pins  []cidCountWire
}

// EncodeRow serialises an ordered row dump.
func EncodeRow(pairs []KeyCid) ([]byte, error) {
	wire := make([]rowPairWire, len(pairs))
	for i, p := range pairs {
		wire[i] = rowPairWire{Key: p.Key, Cid: string(p.Cid)}
	}
	var buf bytes.Buffer
	if err := scale.NewEncoder(&buf).Encode(wire); err != nil {
		return nil, fmt.Errorf("scale-encode row: %w", err)
	}
	return buf.Bytes(), nil
}

// DecodeRow parses a row published by another node.
func DecodeRow(data []byte) ([]KeyCid, error) {
	var wire []rowPairWire
	if err := scale.NewDecoder(bytes.NewReader(data)).Decode(&wire); err != nil {
		return nil, fmt.Errorf("scale-decode row: %w", err)
	}
	pairs := make([]KeyCid, len(wire))
	for i, p := range wire {
		cid, err := CidFromBytes([]byte(p.Cid))
		if err != nil {
			return nil, fmt.Errorf("row entry %d: %w", i, err)
		}
		pairs[i] = KeyCid{Key: p.Key, Cid: cid}
	}
	return pairs, nil
}

// Checkpoint is the durable record binding a block number to the keytable
// and pin counters consistent with it.
type Checkpoint struct {
	Block BlockNumber
	Rows  [][]KeyCid
	Pins  []CidCount
}

// EmptyCheckpoint is the implied state of a node that has never run: block 1,
// no bindings, no pins.
func EmptyCheckpoint() Checkpoint {
	return Checkpoint{Block: 1}
}

// Encode serialises the checkpoint for the store.
func (c Checkpoint) Encode() ([]byte, error) {
	wire := checkpointWire{Block: c.Block}
	wire.Rows = make([][]rowPairWire, len(c.Rows))
	for r, pairs := range c.Rows {
		wire.Rows[r] = make([]rowPairWire, len(pairs))
		for i, p := range pairs {
			wire.Rows[r][i] = rowPairWire{Key: p.Key, Cid: string(p.Cid)}
		}
	}
	wire.Pins = make([]cidCountWire, len(c.Pins))
	for i, pc := range c.Pins {
		wire.Pins[i] = cidCountWire{Cid: string(pc.Cid), Count: pc.Count}
	}
	var buf bytes.Buffer
	if err := scale.NewEncoder(&buf).Encode(wire); err != nil {
		return nil, fmt.Errorf("scale-encode checkpoint: %w", err)
	}
	return buf.Bytes(), nil
}

// DecodeCheckpoint parses a stored checkpoint record.
func DecodeCheckpoint(data []byte) (Checkpoint, error) {
	var wire checkpointWire
	if err := scale.NewDecoder(bytes.NewReader(data)).Decode(&wire); err != nil {
		return Checkpoint{}, fmt.Errorf("scale-decode checkpoint: %w", err)
	}
	c := Checkpoint{Block: wire.Block}
	c.Rows = make([][]KeyCid, len(wire.Rows))
	for r, pairs := range wire.Rows {
		c.Rows[r] = make([]KeyCid, len(pairs))
		for i, p := range pairs {
			c.Rows[r][i] = KeyCid{Key: p.Key, Cid: Cid(p.Cid)}
		}
	}
	c.Pins = make([]CidCount, len(wire.Pins))
	for i, pc := range wire.Pins {
		c.Pins[i] = CidCount{Cid: Cid(pc.Cid), Count: pc.Count}
	}
	return c, nil
}
