// Package capsule derives the on-chain identifiers of capsules, containers
// and document fields. The byte layouts are a contract with the chain
// runtime: both sides must hash identically.
package capsule

import (
	"encoding/binary"

	"golang.org/x/crypto/blake2b"

	"titanh/internal/pinning"
)

// AppID identifies a registered application.
type AppID = uint32

// Identifier prefixes fixed by the chain runtime.
var (
	capsulePrefix   = []byte("cpsl")
	containerPrefix = []byte("cntnr")
)

func hash(parts ...[]byte) pinning.Hash {
	h, _ := blake2b.New256(nil)
	for _, p := range parts {
		h.Write(p)
	}
	var out pinning.Hash
	copy(out[:], h.Sum(nil))
	return out
}

func encodeAppID(app AppID) []byte {
	var buf [4]byte
	binary.LittleEndian.PutUint32(buf[:], app)
	return buf[:]
}

// ID returns the capsule id for SCALE-encoded metadata under an app:
// blake2b-256("cpsl" || scale(app) || metadata).
func ID(app AppID, metadata []byte) pinning.CapsuleKey {
	return pinning.CapsuleKey(hash(capsulePrefix, encodeAppID(app), metadata))
}

// ContainerID returns the container id for SCALE-encoded metadata under an
// app: blake2b-256("cntnr" || scale(app) || metadata).
func ContainerID(app AppID, metadata []byte) pinning.Hash {
	return hash(containerPrefix, encodeAppID(app), metadata)
}

// DocumentID is an alias: documents are containers addressed field by field.
func DocumentID(app AppID, metadata []byte) pinning.Hash {
	return ContainerID(app, metadata)
}

// DocumentFieldID returns the capsule id backing one field of a document:
// the document id and the SCALE-encoded field key are hashed together and
// the digest is fed back through the capsule derivation.
func DocumentFieldID(app AppID, document pinning.Hash, fieldKey []byte) pinning.CapsuleKey {
	inner := hash(document[:], fieldKey)
	return ID(app, inner[:])
}
