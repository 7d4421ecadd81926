// Package pinning holds the domain model of a pinning node: capsule keys,
// node identifiers, the consistent-hash ring, the fault-tolerant keytable
// and the pin reference counts.
package pinning

import (
	"bytes"
	"encoding/hex"
	"fmt"
	"strings"
)

// BlockNumber indexes a finalized block on the chain.
type BlockNumber = uint32

// Hash is a 32-byte blake2b digest as the chain records it.
type Hash = [32]byte

// NodeID identifies a pinning node on the ring. It is the blake2b hash of
// the node's IPFS public keys, the validator account and the local node
// index, so it is unique per (validator, index) pair.
type NodeID [32]byte

// CapsuleKey identifies a capsule; derived on-chain from (app id, metadata).
type CapsuleKey [32]byte

// Cid is an IPFS content identifier in its textual form.
type Cid string

// MaxCidLen bounds the textual CID length accepted from the chain.
const MaxCidLen = 46

// BlockInfo pairs a block number with its hash.
type BlockInfo struct {
	Number BlockNumber
	Hash   Hash
}

// Compare orders node ids lexicographically by raw bytes.
func (n NodeID) Compare(other NodeID) int { return bytes.Compare(n[:], other[:]) }

func (n NodeID) String() string { return "0x" + hex.EncodeToString(n[:]) }

// Compare orders capsule keys lexicographically by raw bytes.
func (k CapsuleKey) Compare(other CapsuleKey) int { return bytes.Compare(k[:], other[:]) }

func (k CapsuleKey) String() string { return "0x" + hex.EncodeToString(k[:]) }

// Less reports whether k orders strictly before the node id on the shared
// 32-byte key space. Keys and node ids live on the same ring.
func (k CapsuleKey) Less(n NodeID) bool { return bytes.Compare(k[:], n[:]) < 0 }

// Less reports whether the node id orders strictly before the key.
func (n NodeID) Less(key CapsuleKey) bool { return bytes.Compare(n[:], key[:]) < 0 }

// ParseHash decodes a 0x-prefixed or bare hex string into a 32-byte hash.
func ParseHash(s string) (Hash, error) {
	var h Hash
	raw, err := hex.DecodeString(strings.TrimPrefix(s, "0x"))
	if err != nil {
		return h, fmt.Errorf("decode hash %q: %w", s, err)
	}
	if len(raw) != len(h) {
		return h, fmt.Errorf("hash %q: want %d bytes, got %d", s, len(h), len(raw))
	}
	copy(h[:], raw)
	return h, nil
}

// CidFromBytes validates a chain-supplied CID payload.
func CidFromBytes(raw []byte) (Cid, error) {
	if len(raw) == 0 || len(raw) > MaxCidLen {
		return "", fmt.Errorf("cid length %d out of range", len(raw))
	}
	for _, b := range raw {
		if b < 0x21 || b > 0x7e {
			return "", fmt.Errorf("cid contains non-printable byte %#x", b)
		}
	}
	return Cid(raw), nil
}
