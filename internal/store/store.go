// Package store defines the abstract persistence contract every storage
// backend must satisfy. Two reference implementations ship alongside it:
// memstore (in-memory, btree-indexed) and boltstore (embedded bbolt file).
// Neither the sync engine nor the facade ever sees backend types beyond
// this interface.
package store

import (
	"github.com/rachitkumar205/entgldb/internal/docmodel"
	"github.com/rachitkumar205/entgldb/internal/hlc"
)

// ChangeKind identifies what happened to a set of documents, for the
// DocumentsInserted/Updated/Deleted events consumed by an OplogCoordinator
// running in event-driven mode.
type ChangeKind int

const (
	ChangeInserted ChangeKind = iota
	ChangeUpdated
	ChangeDeleted
)

// ChangeEvent is published by a Store whenever a local mutation happens
// outside of ApplyBatch (i.e. through SaveDocument directly), so a
// fallback OplogCoordinator can observe it and append the corresponding
// oplog entry after the fact.
type ChangeEvent struct {
	Kind       ChangeKind
	Collection string
	Documents  []docmodel.Document
}

// Listener receives ChangeEvents and the ChangesApplied notification.
type Listener interface {
	OnChange(ChangeEvent)
	OnChangesApplied(entries []docmodel.OplogEntry)
}

// RemotePeers is the sub-contract for persisting known peers.
type RemotePeers interface {
	Save(p docmodel.RemotePeerConfiguration) error
	Get() ([]docmodel.RemotePeerConfiguration, error)
	GetOne(nodeID string) (docmodel.RemotePeerConfiguration, bool, error)
	Remove(nodeID string) error
}

// Store is the abstract persistence contract. Implementations own all
// on-disk state; callers never reach past this interface into
// backend-specific types.
type Store interface {
	// Document operations.
	SaveDocument(doc docmodel.Document) error
	GetDocument(collection, key string) (docmodel.Document, bool, error)
	QueryDocuments(collection string, q Query, opts FindOptions) ([]docmodel.Document, error)
	CountDocuments(collection string, q Query) (int, error)
	EnsureIndex(collection, propertyPath string) error
	GetCollections() ([]string, error)

	// Oplog operations.
	AppendOplogEntry(entry docmodel.OplogEntry) error
	GetOplogAfter(ts hlc.Timestamp, collections []string) ([]docmodel.OplogEntry, error)
	GetOplogForNodeAfter(nodeID string, ts hlc.Timestamp, collections []string) ([]docmodel.OplogEntry, error)
	GetEntryByHash(hash string) (docmodel.OplogEntry, bool, error)
	// GetChainRange returns entries strictly after startHash (exclusive)
	// up to and including endHash, ordered ascending. ok is false if
	// startHash is itself unknown and a snapshot is required to proceed.
	GetChainRange(startHash, endHash string) (entries []docmodel.OplogEntry, ok bool, err error)
	GetLastEntryHash(nodeID string) (hash string, known bool, err error)
	GetLatestTimestamp() (hlc.Timestamp, error)
	GetVectorClock() (hlc.VectorClock, error)

	// ApplyBatch is the single atomic commit point: documents and oplog
	// entries become durable together, or neither does.
	ApplyBatch(docs []docmodel.Document, entries []docmodel.OplogEntry) error

	// Snapshot / prune bookkeeping.
	PruneOplog(cutoff hlc.Timestamp) error
	GetSnapshotHash(nodeID string) (hash string, known bool, err error)
	GetSnapshotMetadata(nodeID string) (docmodel.SnapshotMetadata, bool, error)
	UpdateSnapshotMetadata(meta docmodel.SnapshotMetadata) error
	AllSnapshotMetadata() ([]docmodel.SnapshotMetadata, error)

	RemotePeers() RemotePeers

	// AddListener registers l to receive ChangeEvent/ChangesApplied
	// notifications. Safe to call before or after the store has data.
	AddListener(l Listener)

	// InvalidateCache clears the per-node hash/timestamp cache, forcing
	// the next access to relazy-init it from snapshot metadata and an
	// oplog scan. Called after a snapshot Replace.
	InvalidateCache()

	Close() error
}
