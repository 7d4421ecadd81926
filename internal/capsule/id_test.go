package capsule

import (
	"bytes"
	"testing"
)

func TestID_DeterministicAndAppScoped(t *testing.T) {
	meta := []byte("user-profile-42")

	a := ID(1, meta)
	b := ID(1, meta)
	if a != b {
		t.Fatal("same inputs produced different capsule ids")
	}
	if ID(2, meta) == a {
		t.Fatal("different apps share a capsule id")
	}
	if ID(1, []byte("user-profile-43")) == a {
		t.Fatal("different metadata shares a capsule id")
	}
}

func TestID_PrefixSeparatesCapsulesFromContainers(t *testing.T) {
	meta := []byte("shared-name")
	capsuleID := ID(7, meta)
	containerID := ContainerID(7, meta)
	if bytes.Equal(capsuleID[:], containerID[:]) {
		t.Fatal("capsule and container derivations collide")
	}
	if DocumentID(7, meta) != containerID {
		t.Fatal("document id must equal container id")
	}
}

func TestDocumentFieldID(t *testing.T) {
	doc := DocumentID(3, []byte("orders"))

	f1 := DocumentFieldID(3, doc, []byte("field-a"))
	f2 := DocumentFieldID(3, doc, []byte("field-b"))
	if f1 == f2 {
		t.Fatal("distinct fields share a capsule id")
	}
	if DocumentFieldID(3, doc, []byte("field-a")) != f1 {
		t.Fatal("field derivation not deterministic")
	}

	other := DocumentID(3, []byte("invoices"))
	if DocumentFieldID(3, other, []byte("field-a")) == f1 {
		t.Fatal("fields of distinct documents collide")
	}
}
