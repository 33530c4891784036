package docmodel

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"

	"github.com/rachitkumar205/entgldb/internal/hlc"
)

// Op identifies the kind of mutation an OplogEntry records.
type Op string

const (
	OpPut    Op = "put"
	OpDelete Op = "delete"
)

// OplogEntry is an immutable, hash-chained record of a single document
// mutation on its originating node. Entries from different nodes never
// chain to each other — each node's chain is independent.
type OplogEntry struct {
	Collection   string        `json:"collection"`
	Key          string        `json:"key"`
	Op           Op            `json:"op"`
	Payload      []byte        `json:"payload,omitempty"`
	Timestamp    hlc.Timestamp `json:"timestamp"`
	PreviousHash string        `json:"previous_hash"`
	Hash         string        `json:"hash"`
}

// NodeID returns the node that produced this entry, i.e. the node whose
// chain it belongs to.
func (e OplogEntry) NodeID() string { return e.Timestamp.NodeID }

// HasPayload reports whether e carries a non-nil payload. A Put entry
// with no payload is invalid and must never be applied.
func (e OplogEntry) HasPayload() bool { return e.Payload != nil }

// ComputeHash derives the entry's hash:
//
//	sha256(collection | "|" | key | "|" | op | "|" | payload?.raw_text | "|" | timestamp.canonical | "|" | previous_hash)
//
// rendered as lowercase hex. The payload component is the empty string
// when no payload is present, not a placeholder token, so hashing is
// stable regardless of which language produced the entry.
func (e OplogEntry) ComputeHash() string {
	h := sha256.New()
	h.Write([]byte(e.Collection))
	h.Write([]byte{'|'})
	h.Write([]byte(e.Key))
	h.Write([]byte{'|'})
	h.Write([]byte(e.Op))
	h.Write([]byte{'|'})
	h.Write(e.Payload)
	h.Write([]byte{'|'})
	h.Write([]byte(e.Timestamp.Canonical()))
	h.Write([]byte{'|'})
	h.Write([]byte(e.PreviousHash))
	return hex.EncodeToString(h.Sum(nil))
}

// Seal sets e.Hash to ComputeHash(), the way a newly constructed entry is
// finalized before being handed to a Store.
func (e *OplogEntry) Seal() {
	e.Hash = e.ComputeHash()
}

// IsValid re-derives the hash and compares it against the stored one.
func (e OplogEntry) IsValid() bool {
	return e.Hash == e.ComputeHash()
}

// NewEntry constructs a sealed OplogEntry linked to previousHash.
func NewEntry(collection, key string, op Op, payload []byte, ts hlc.Timestamp, previousHash string) OplogEntry {
	e := OplogEntry{
		Collection:   collection,
		Key:          key,
		Op:           op,
		Payload:      payload,
		Timestamp:    ts,
		PreviousHash: previousHash,
	}
	e.Seal()
	return e
}

// SnapshotMetadata records, per node, the coordinates of the last entry
// pruned from that node's chain — the virtual "entry 0" gap recovery
// attaches new entries to once the real predecessor has been truncated.
type SnapshotMetadata struct {
	NodeID   string `json:"node_id"`
	Physical int64  `json:"timestamp_physical"`
	Logical  int32  `json:"timestamp_logical"`
	Hash     string `json:"hash"`
}

// Timestamp reconstructs the hlc.Timestamp this boundary represents.
func (m SnapshotMetadata) Timestamp() hlc.Timestamp {
	return hlc.Timestamp{Physical: m.Physical, Logical: m.Logical, NodeID: m.NodeID}
}

func (m SnapshotMetadata) String() string {
	return fmt.Sprintf("SnapshotMetadata{node=%s, ts=%d.%d, hash=%s}", m.NodeID, m.Physical, m.Logical, m.Hash)
}
