package docmodel

import (
	"testing"

	"github.com/rachitkumar205/entgldb/internal/hlc"
)

func TestOplogEntry_HashRoundTrip(t *testing.T) {
	ts := hlc.Timestamp{Physical: 100, Logical: 1, NodeID: "n1"}
	e := NewEntry("users", "u1", OpPut, []byte(`{"name":"Alice"}`), ts, "")

	if !e.IsValid() {
		t.Fatal("expected freshly sealed entry to be valid")
	}

	e.Collection = "tampered"
	if e.IsValid() {
		t.Fatal("expected tampered entry to fail validation")
	}
}

func TestOplogEntry_ChainLinking(t *testing.T) {
	ts1 := hlc.Timestamp{Physical: 100, NodeID: "n1"}
	ts2 := hlc.Timestamp{Physical: 101, NodeID: "n1"}

	e1 := NewEntry("t", "k1", OpPut, []byte(`{"x":1}`), ts1, "")
	e2 := NewEntry("t", "k1", OpDelete, nil, ts2, e1.Hash)

	if e1.PreviousHash != "" {
		t.Error("genesis entry must have empty previous hash")
	}
	if e2.PreviousHash != e1.Hash {
		t.Error("second entry must link to first entry's hash")
	}
	if !e2.IsValid() {
		t.Fatal("expected second entry to be valid")
	}
}

func TestOplogEntry_HashStableAcrossPayloadAbsence(t *testing.T) {
	ts := hlc.Timestamp{Physical: 5, NodeID: "n1"}
	withNilPayload := NewEntry("t", "k", OpDelete, nil, ts, "")
	withEmptyPayload := NewEntry("t", "k", OpDelete, []byte{}, ts, "")

	if withNilPayload.Hash != withEmptyPayload.Hash {
		t.Error("nil and empty-but-present payload should hash identically (no payload bytes to feed in either case)")
	}
}

func TestOplogEntry_HasPayload(t *testing.T) {
	ts := hlc.Timestamp{Physical: 1, NodeID: "n1"}
	withPayload := NewEntry("t", "k", OpPut, []byte(`{}`), ts, "")
	withoutPayload := NewEntry("t", "k", OpPut, nil, ts, "")

	if !withPayload.HasPayload() {
		t.Error("expected HasPayload true")
	}
	if withoutPayload.HasPayload() {
		t.Error("expected HasPayload false for nil payload")
	}
}

func TestSnapshotMetadata_Timestamp(t *testing.T) {
	m := SnapshotMetadata{NodeID: "n1", Physical: 10, Logical: 2, Hash: "abc"}
	ts := m.Timestamp()
	if ts.Physical != 10 || ts.Logical != 2 || ts.NodeID != "n1" {
		t.Errorf("unexpected timestamp reconstruction: %+v", ts)
	}
}
