// Package entgldb is an embeddable, peer-to-peer, eventually consistent
// JSON document database. A DB owns a Store, a hybrid logical clock, and
// the single writer permit every mutating call acquires; Collection is a
// typed handle scoping calls to one named collection.
package entgldb

import (
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/rachitkumar205/entgldb/internal/docmodel"
	"github.com/rachitkumar205/entgldb/internal/hlc"
	"github.com/rachitkumar205/entgldb/internal/metrics"
	"github.com/rachitkumar205/entgldb/internal/store"
)

// DB is a peer database: one node's view of a set of collections,
// synchronized with whatever peers its sync orchestrator is configured
// with. DB itself does no networking; wiring a DB to a sync.Orchestrator
// over the same Store is how replication happens.
type DB struct {
	nodeID  string
	store   store.Store
	clock   *hlc.Clock
	logger  *zap.Logger
	metrics *metrics.Metrics

	mu sync.Mutex // single writer permit, per spec.md §5

	// eventDriven, when set, makes putBatch write plain documents via
	// SaveDocument and leaves building the hash-chained oplog entry to a
	// store.Listener (an internal/oplog.Coordinator) registered on the
	// same Store, instead of constructing the entry inline and committing
	// it with the document through one ApplyBatch call.
	eventDriven bool
}

// Open wraps an already-constructed Store with a DB. The Store's backend
// (memstore or boltstore) and lifecycle are the caller's concern; DB only
// adds the document API, the HLC, and the writer lock on top of it.
// Writes commit through Store.ApplyBatch as one atomic document+oplog unit.
func Open(nodeID string, s store.Store, logger *zap.Logger, m *metrics.Metrics, maxClockDrift time.Duration) *DB {
	return &DB{
		nodeID:  nodeID,
		store:   s,
		clock:   hlc.NewClock(nodeID, maxClockDrift),
		logger:  logger,
		metrics: m,
	}
}

// OpenEventDriven wraps s the same way Open does, but configures DB to
// write documents directly via Store.SaveDocument and rely on a
// store.Listener registered on s (an internal/oplog.Coordinator) to
// append the corresponding oplog entry out of band. Callers choosing this
// mode must register such a listener on s before the first write.
func OpenEventDriven(nodeID string, s store.Store, logger *zap.Logger, m *metrics.Metrics, maxClockDrift time.Duration) *DB {
	db := Open(nodeID, s, logger, m, maxClockDrift)
	db.eventDriven = true
	return db
}

// Store exposes the underlying Store for wiring into a sync.Orchestrator.
func (db *DB) Store() store.Store { return db.store }

// Clock exposes the HLC for wiring into a sync.Orchestrator.
func (db *DB) Clock() *hlc.Clock { return db.clock }

// Collection returns a typed handle scoping Put/Get/Delete/Find/Count
// calls to name.
func (db *DB) Collection(name string) *Collection {
	return &Collection{db: db, name: name}
}

// Close releases the underlying Store's resources.
func (db *DB) Close() error {
	return db.store.Close()
}

// Collection is a typed-handle convenience wrapper binding DB's methods to
// one collection name.
type Collection struct {
	db   *DB
	name string
}

// Put inserts or replaces the document at key with content, which must
// be valid JSON. It acquires DB's single writer permit, ticks the HLC,
// builds one linked OplogEntry, and calls Store.ApplyBatch as the atomic
// unit of the write.
func (c *Collection) Put(key string, content []byte) error {
	start := time.Now()
	err := c.db.putBatch([]putOp{{collection: c.name, key: key, content: content}})
	c.db.observePutLatency(start)
	if err != nil {
		c.db.metrics.RecordWriteFailure()
		return err
	}
	c.db.metrics.RecordWriteSuccess()
	return nil
}

// PutBatch applies N puts within the collection as one atomic unit.
// Each put gets its own HLC tick, so the batch's oplog entries carry
// strictly increasing timestamps, and each links to the previous entry's
// hash within the batch. items is a map, so the order in which its keys
// are ticked and chained is not defined.
func (c *Collection) PutBatch(items map[string][]byte) error {
	ops := make([]putOp, 0, len(items))
	for key, content := range items {
		ops = append(ops, putOp{collection: c.name, key: key, content: content})
	}
	return c.db.putBatch(ops)
}

// Get returns the document at key, or found=false if it is missing or
// tombstoned.
func (c *Collection) Get(key string) (content []byte, found bool, err error) {
	start := time.Now()
	defer func() { c.db.metrics.GetLatency.Observe(time.Since(start).Seconds()) }()

	doc, ok, err := c.db.store.GetDocument(c.name, key)
	if err != nil {
		c.db.metrics.RecordReadFailure()
		return nil, false, err
	}
	if !ok || doc.IsDeleted {
		c.db.metrics.RecordReadSuccess()
		return nil, false, nil
	}
	c.db.metrics.RecordReadSuccess()
	return doc.Content, true, nil
}

// Delete tombstones the document at key. A delete of an already-missing
// key still produces an oplog entry, matching spec.md's tombstone
// propagation requirement: peers that never saw the original document
// still learn it was deleted.
func (c *Collection) Delete(key string) error {
	start := time.Now()
	err := c.db.putBatch([]putOp{{collection: c.name, key: key, delete: true}})
	c.db.observePutLatency(start)
	if err != nil {
		c.db.metrics.RecordWriteFailure()
		return err
	}
	c.db.metrics.RecordWriteSuccess()
	return nil
}

// Find runs q against the collection, applying opts for pagination and
// ordering.
func (c *Collection) Find(q store.Query, opts store.FindOptions) ([]json.RawMessage, error) {
	start := time.Now()
	defer func() { c.db.metrics.QueryLatency.Observe(time.Since(start).Seconds()) }()

	docs, err := c.db.store.QueryDocuments(c.name, q, opts)
	if err != nil {
		return nil, err
	}
	out := make([]json.RawMessage, len(docs))
	for i, d := range docs {
		out[i] = d.Content
	}
	return out, nil
}

// Count returns the number of documents in the collection matching q.
func (c *Collection) Count(q store.Query) (int, error) {
	return c.db.store.CountDocuments(c.name, q)
}

// EnsureIndex asks the backing Store to index propertyPath within this
// collection, if it supports secondary indexes.
func (c *Collection) EnsureIndex(propertyPath string) error {
	return c.db.store.EnsureIndex(c.name, propertyPath)
}

type putOp struct {
	collection string
	key        string
	content    []byte
	delete     bool
}

// putBatch is the single atomic-write path every mutating Collection
// method funnels through: acquire the writer permit, tick the HLC once
// per op, build linked oplog entries, and commit them all via one
// ApplyBatch call.
func (db *DB) putBatch(ops []putOp) error {
	if len(ops) == 0 {
		return nil
	}

	db.mu.Lock()
	defer db.mu.Unlock()

	if db.eventDriven {
		return db.putBatchEventDriven(ops)
	}

	entries := make([]docmodel.OplogEntry, 0, len(ops))

	previousHash, known, err := db.store.GetLastEntryHash(db.nodeID)
	if err != nil {
		return fmt.Errorf("entgldb: read last hash: %w", err)
	}
	if !known {
		previousHash = ""
	}

	for _, op := range ops {
		ts := db.clock.Tick()

		kind := docmodel.OpPut
		var payload []byte
		if op.delete {
			kind = docmodel.OpDelete
		} else {
			payload = op.content
		}

		entry := docmodel.NewEntry(op.collection, op.key, kind, payload, ts, previousHash)
		entries = append(entries, entry)
		previousHash = entry.Hash
	}

	// docs is left nil: the Store folds each entry into its document via
	// the configured Resolver, the same path a remote peer's entries take.
	if err := db.store.ApplyBatch(nil, entries); err != nil {
		return fmt.Errorf("entgldb: apply batch: %w", err)
	}
	return nil
}

// putBatchEventDriven writes each op straight through SaveDocument,
// ticking the HLC once per document and stamping that same timestamp as
// the document's UpdatedAt. The registered store.Listener (an
// oplog.Coordinator, see OpenEventDriven) builds the propagating entry
// from doc.UpdatedAt rather than ticking again, so the document's stored
// timestamp and the entry peers converge on are identical.
func (db *DB) putBatchEventDriven(ops []putOp) error {
	for _, op := range ops {
		ts := db.clock.Tick()
		doc := docmodel.Document{
			Collection: op.collection,
			Key:        op.key,
			UpdatedAt:  ts,
			IsDeleted:  op.delete,
		}
		if !op.delete {
			doc.Content = op.content
		}
		if err := db.store.SaveDocument(doc); err != nil {
			return fmt.Errorf("entgldb: save document (event-driven): %w", err)
		}
	}
	return nil
}

func (db *DB) observePutLatency(start time.Time) {
	db.metrics.PutLatency.Observe(time.Since(start).Seconds())
}
