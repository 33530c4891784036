// Package boltstore is the embedded-file Store implementation, backed by
// a single go.etcd.io/bbolt database file. Documents are kept one bucket
// per collection; each node's oplog is kept in its own bucket keyed by a
// zero-padded (physical, logical) string so bbolt's natural byte-sorted
// cursor order is also chain order.
package boltstore

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"sync"

	"go.etcd.io/bbolt"

	"github.com/rachitkumar205/entgldb/internal/docmodel"
	"github.com/rachitkumar205/entgldb/internal/entglerr"
	"github.com/rachitkumar205/entgldb/internal/hlc"
	"github.com/rachitkumar205/entgldb/internal/resolve"
	"github.com/rachitkumar205/entgldb/internal/store"
)

var (
	bucketDocuments = []byte("documents")  // documents/<collection>/<key> -> Document JSON
	bucketOplog     = []byte("oplog")      // oplog/<nodeID>/<orderKey>    -> OplogEntry JSON
	bucketHashIndex = []byte("oplog_hash") // oplog_hash/<hash>           -> "<nodeID>|<orderKey>"
	bucketSnapshots = []byte("snapshots")  // snapshots/<nodeID>          -> SnapshotMetadata JSON
	bucketPeers     = []byte("peers")      // peers/<nodeID>              -> RemotePeerConfiguration JSON
)

// Store is the bbolt-backed reference backend.
type Store struct {
	db       *bbolt.DB
	resolver resolve.Resolver
	cache    *store.HashCache

	listenersMu sync.Mutex
	listeners   []store.Listener
}

// Open opens (creating if absent) the database at path and ensures the
// top-level buckets exist.
func Open(path string, resolver resolve.Resolver) (*Store, error) {
	db, err := bbolt.Open(path, 0o600, nil)
	if err != nil {
		return nil, fmt.Errorf("boltstore: open %s: %w", path, err)
	}
	err = db.Update(func(tx *bbolt.Tx) error {
		for _, b := range [][]byte{bucketDocuments, bucketOplog, bucketHashIndex, bucketSnapshots, bucketPeers} {
			if _, err := tx.CreateBucketIfNotExists(b); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("boltstore: init buckets: %w", err)
	}
	return &Store{db: db, resolver: resolver, cache: store.NewHashCache()}, nil
}

func (s *Store) Close() error { return s.db.Close() }

func (s *Store) AddListener(l store.Listener) {
	s.listenersMu.Lock()
	defer s.listenersMu.Unlock()
	s.listeners = append(s.listeners, l)
}

func (s *Store) notifyChange(ev store.ChangeEvent) {
	s.listenersMu.Lock()
	ls := append([]store.Listener(nil), s.listeners...)
	s.listenersMu.Unlock()
	for _, l := range ls {
		l.OnChange(ev)
	}
}

func (s *Store) notifyApplied(entries []docmodel.OplogEntry) {
	s.listenersMu.Lock()
	ls := append([]store.Listener(nil), s.listeners...)
	s.listenersMu.Unlock()
	for _, l := range ls {
		l.OnChangesApplied(entries)
	}
}

// orderKey produces a byte-sortable key from an HLC timestamp so that
// bbolt's cursor iteration order within a node's bucket equals chain order.
func orderKey(ts hlc.Timestamp) []byte {
	return []byte(fmt.Sprintf("%020d.%010d", ts.Physical, ts.Logical))
}

// --- documents ---

func (s *Store) SaveDocument(doc docmodel.Document) error {
	var existed bool
	err := s.db.Update(func(tx *bbolt.Tx) error {
		col, err := tx.Bucket(bucketDocuments).CreateBucketIfNotExists([]byte(doc.Collection))
		if err != nil {
			return err
		}
		existed = col.Get([]byte(doc.Key)) != nil
		raw, err := json.Marshal(doc)
		if err != nil {
			return err
		}
		return col.Put([]byte(doc.Key), raw)
	})
	if err != nil {
		return fmt.Errorf("boltstore: save document: %w", err)
	}

	kind := store.ChangeUpdated
	if !existed {
		kind = store.ChangeInserted
	}
	if doc.IsDeleted {
		kind = store.ChangeDeleted
	}
	s.notifyChange(store.ChangeEvent{Kind: kind, Collection: doc.Collection, Documents: []docmodel.Document{doc}})
	return nil
}

func (s *Store) GetDocument(collection, key string) (docmodel.Document, bool, error) {
	var doc docmodel.Document
	var found bool
	err := s.db.View(func(tx *bbolt.Tx) error {
		col := tx.Bucket(bucketDocuments).Bucket([]byte(collection))
		if col == nil {
			return nil
		}
		raw := col.Get([]byte(key))
		if raw == nil {
			return nil
		}
		if err := json.Unmarshal(raw, &doc); err != nil {
			return err
		}
		found = true
		return nil
	})
	if err != nil {
		return docmodel.Document{}, false, fmt.Errorf("boltstore: get document: %w", err)
	}
	if !found || doc.IsDeleted {
		return docmodel.Document{}, false, nil
	}
	return doc, true, nil
}

func (s *Store) GetCollections() ([]string, error) {
	var out []string
	err := s.db.View(func(tx *bbolt.Tx) error {
		return tx.Bucket(bucketDocuments).ForEachBucket(func(name []byte) error {
			out = append(out, string(name))
			return nil
		})
	})
	sort.Strings(out)
	return out, err
}

// EnsureIndex is a no-op on boltstore: every QueryDocuments call already
// does a full bucket scan, so there is no separate index structure to
// build. The method exists to satisfy store.Store and to let callers
// treat both backends uniformly.
func (s *Store) EnsureIndex(collection, propertyPath string) error { return nil }

func (s *Store) QueryDocuments(collection string, q store.Query, opts store.FindOptions) ([]docmodel.Document, error) {
	var matched []docmodel.Document
	err := s.db.View(func(tx *bbolt.Tx) error {
		col := tx.Bucket(bucketDocuments).Bucket([]byte(collection))
		if col == nil {
			return nil
		}
		return col.ForEach(func(k, v []byte) error {
			var doc docmodel.Document
			if err := json.Unmarshal(v, &doc); err != nil {
				return err
			}
			if doc.IsDeleted {
				return nil
			}
			if matches(doc, q) {
				matched = append(matched, doc)
			}
			return nil
		})
	})
	if err != nil {
		return nil, fmt.Errorf("boltstore: query documents: %w", err)
	}

	if opts.OrderByPath != "" {
		sort.SliceStable(matched, func(i, j int) bool {
			vi, _ := extractPath(matched[i].Content, opts.OrderByPath)
			vj, _ := extractPath(matched[j].Content, opts.OrderByPath)
			less := compareAny(vi, vj) < 0
			if !opts.Ascending {
				return !less && compareAny(vi, vj) != 0
			}
			return less
		})
	}
	if opts.Skip > 0 {
		if opts.Skip >= len(matched) {
			return []docmodel.Document{}, nil
		}
		matched = matched[opts.Skip:]
	}
	if opts.Take > 0 && opts.Take < len(matched) {
		matched = matched[:opts.Take]
	}
	return matched, nil
}

func (s *Store) CountDocuments(collection string, q store.Query) (int, error) {
	count := 0
	err := s.db.View(func(tx *bbolt.Tx) error {
		col := tx.Bucket(bucketDocuments).Bucket([]byte(collection))
		if col == nil {
			return nil
		}
		return col.ForEach(func(k, v []byte) error {
			var doc docmodel.Document
			if err := json.Unmarshal(v, &doc); err != nil {
				return err
			}
			if !doc.IsDeleted && matches(doc, q) {
				count++
			}
			return nil
		})
	})
	return count, err
}

// --- oplog ---

func (s *Store) AppendOplogEntry(entry docmodel.OplogEntry) error {
	if !entry.IsValid() {
		return fmt.Errorf("boltstore: append rejected: %w", entglerr.ErrHashMismatch)
	}
	if err := s.writeEntry(entry); err != nil {
		return err
	}
	s.cache.Update(entry.NodeID(), entry.Timestamp, entry.Hash)
	return nil
}

func (s *Store) writeEntry(e docmodel.OplogEntry) error {
	raw, err := json.Marshal(e)
	if err != nil {
		return err
	}
	key := orderKey(e.Timestamp)
	return s.db.Update(func(tx *bbolt.Tx) error {
		nodeBucket, err := tx.Bucket(bucketOplog).CreateBucketIfNotExists([]byte(e.NodeID()))
		if err != nil {
			return err
		}
		if err := nodeBucket.Put(key, raw); err != nil {
			return err
		}
		pointer := e.NodeID() + "|" + string(key)
		return tx.Bucket(bucketHashIndex).Put([]byte(e.Hash), []byte(pointer))
	})
}

func (s *Store) GetOplogAfter(ts hlc.Timestamp, collections []string) ([]docmodel.OplogEntry, error) {
	var out []docmodel.OplogEntry
	err := s.db.View(func(tx *bbolt.Tx) error {
		return tx.Bucket(bucketOplog).ForEachBucket(func(name []byte) error {
			nodeBucket := tx.Bucket(bucketOplog).Bucket(name)
			return nodeBucket.ForEach(func(k, v []byte) error {
				var e docmodel.OplogEntry
				if err := json.Unmarshal(v, &e); err != nil {
					return err
				}
				if e.Timestamp.After(ts) && collectionWanted(e.Collection, collections) {
					out = append(out, e)
				}
				return nil
			})
		})
	})
	sortEntries(out)
	return out, err
}

func (s *Store) GetOplogForNodeAfter(nodeID string, ts hlc.Timestamp, collections []string) ([]docmodel.OplogEntry, error) {
	var out []docmodel.OplogEntry
	err := s.db.View(func(tx *bbolt.Tx) error {
		nodeBucket := tx.Bucket(bucketOplog).Bucket([]byte(nodeID))
		if nodeBucket == nil {
			return nil
		}
		c := nodeBucket.Cursor()
		start := orderKey(ts)
		for k, v := c.Seek(start); k != nil; k, v = c.Next() {
			if string(k) == string(start) {
				continue // Seek lands on an exact match too; ts itself is exclusive.
			}
			var e docmodel.OplogEntry
			if err := json.Unmarshal(v, &e); err != nil {
				return err
			}
			if collectionWanted(e.Collection, collections) {
				out = append(out, e)
			}
		}
		return nil
	})
	return out, err
}

func (s *Store) GetEntryByHash(hash string) (docmodel.OplogEntry, bool, error) {
	var e docmodel.OplogEntry
	var found bool
	err := s.db.View(func(tx *bbolt.Tx) error {
		pointer := tx.Bucket(bucketHashIndex).Get([]byte(hash))
		if pointer == nil {
			return nil
		}
		parts := strings.SplitN(string(pointer), "|", 2)
		if len(parts) != 2 {
			return fmt.Errorf("boltstore: corrupt hash index pointer for %s", hash)
		}
		nodeBucket := tx.Bucket(bucketOplog).Bucket([]byte(parts[0]))
		if nodeBucket == nil {
			return nil
		}
		raw := nodeBucket.Get([]byte(parts[1]))
		if raw == nil {
			return nil
		}
		found = true
		return json.Unmarshal(raw, &e)
	})
	return e, found, err
}

func (s *Store) GetChainRange(startHash, endHash string) ([]docmodel.OplogEntry, bool, error) {
	end, ok, err := s.GetEntryByHash(endHash)
	if err != nil || !ok {
		return nil, false, err
	}
	if startHash != "" {
		if _, ok, err := s.GetEntryByHash(startHash); err != nil || !ok {
			return nil, false, err
		}
	}

	var out []docmodel.OplogEntry
	err = s.db.View(func(tx *bbolt.Tx) error {
		nodeBucket := tx.Bucket(bucketOplog).Bucket([]byte(end.NodeID()))
		if nodeBucket == nil {
			return nil
		}
		c := nodeBucket.Cursor()
		started := startHash == ""
		endKey := orderKey(end.Timestamp)
		for k, v := c.First(); k != nil; k, v = c.Next() {
			var e docmodel.OplogEntry
			if err := json.Unmarshal(v, &e); err != nil {
				return err
			}
			if started {
				out = append(out, e)
			} else if e.Hash == startHash {
				started = true
			}
			if string(k) == string(endKey) {
				break
			}
		}
		return nil
	})
	return out, true, err
}

func (s *Store) GetLastEntryHash(nodeID string) (string, bool, error) {
	if e, ok := s.cache.Get(nodeID); ok {
		return e.Hash, true, nil
	}
	var hash string
	var found bool
	err := s.db.View(func(tx *bbolt.Tx) error {
		nodeBucket := tx.Bucket(bucketOplog).Bucket([]byte(nodeID))
		if nodeBucket == nil {
			return nil
		}
		c := nodeBucket.Cursor()
		k, v := c.Last()
		if k == nil {
			return nil
		}
		var e docmodel.OplogEntry
		if err := json.Unmarshal(v, &e); err != nil {
			return err
		}
		hash = e.Hash
		found = true
		return nil
	})
	return hash, found, err
}

func (s *Store) GetLatestTimestamp() (hlc.Timestamp, error) {
	var latest hlc.Timestamp
	err := s.db.View(func(tx *bbolt.Tx) error {
		return tx.Bucket(bucketOplog).ForEachBucket(func(name []byte) error {
			nodeBucket := tx.Bucket(bucketOplog).Bucket(name)
			c := nodeBucket.Cursor()
			_, v := c.Last()
			if v == nil {
				return nil
			}
			var e docmodel.OplogEntry
			if err := json.Unmarshal(v, &e); err != nil {
				return err
			}
			if e.Timestamp.After(latest) {
				latest = e.Timestamp
			}
			return nil
		})
	})
	return latest, err
}

func (s *Store) GetVectorClock() (hlc.VectorClock, error) {
	if err := s.ensureCache(); err != nil {
		return nil, err
	}
	return s.cache.VectorClock(), nil
}

func (s *Store) ensureCache() error {
	snaps, err := s.AllSnapshotMetadata()
	if err != nil {
		return err
	}
	return s.cache.EnsureInit(snaps, func() (map[string]store.CacheEntry, error) {
		out := make(map[string]store.CacheEntry)
		err := s.db.View(func(tx *bbolt.Tx) error {
			return tx.Bucket(bucketOplog).ForEachBucket(func(name []byte) error {
				nodeBucket := tx.Bucket(bucketOplog).Bucket(name)
				c := nodeBucket.Cursor()
				_, v := c.Last()
				if v == nil {
					return nil
				}
				var e docmodel.OplogEntry
				if err := json.Unmarshal(v, &e); err != nil {
					return err
				}
				out[string(name)] = store.CacheEntry{Timestamp: e.Timestamp, Hash: e.Hash}
				return nil
			})
		})
		return out, err
	})
}

// --- apply batch ---

func (s *Store) ApplyBatch(docs []docmodel.Document, entries []docmodel.OplogEntry) error {
	if err := s.ensureCache(); err != nil {
		return err
	}

	byKey := make(map[docmodel.Key][]docmodel.OplogEntry)
	for _, e := range entries {
		if !e.IsValid() {
			return fmt.Errorf("boltstore: apply batch rejected: %w", entglerr.ErrHashMismatch)
		}
		k := docmodel.Key{Collection: e.Collection, Key: e.Key}
		byKey[k] = append(byKey[k], e)
	}

	var appliedDocs []docmodel.Document
	var acceptedEntries []docmodel.OplogEntry

	err := s.db.Update(func(tx *bbolt.Tx) error {
		for key, group := range byKey {
			sortEntries(group)
			col, err := tx.Bucket(bucketDocuments).CreateBucketIfNotExists([]byte(key.Collection))
			if err != nil {
				return err
			}
			var localPtr *docmodel.Document
			if raw := col.Get([]byte(key.Key)); raw != nil {
				var cur docmodel.Document
				if err := json.Unmarshal(raw, &cur); err != nil {
					return err
				}
				localPtr = &cur
			}

			for _, e := range group {
				res := s.resolver.Resolve(localPtr, e)
				if !res.ShouldApply {
					continue
				}
				raw, err := json.Marshal(res.Merged)
				if err != nil {
					return err
				}
				if err := col.Put([]byte(key.Key), raw); err != nil {
					return err
				}
				localPtr = res.Merged
				appliedDocs = append(appliedDocs, *res.Merged)
				acceptedEntries = append(acceptedEntries, e)
			}
		}

		for _, doc := range docs {
			col, err := tx.Bucket(bucketDocuments).CreateBucketIfNotExists([]byte(doc.Collection))
			if err != nil {
				return err
			}
			raw, err := json.Marshal(doc)
			if err != nil {
				return err
			}
			if err := col.Put([]byte(doc.Key), raw); err != nil {
				return err
			}
			appliedDocs = append(appliedDocs, doc)
		}

		for _, e := range acceptedEntries {
			raw, err := json.Marshal(e)
			if err != nil {
				return err
			}
			nodeBucket, err := tx.Bucket(bucketOplog).CreateBucketIfNotExists([]byte(e.NodeID()))
			if err != nil {
				return err
			}
			key := orderKey(e.Timestamp)
			if err := nodeBucket.Put(key, raw); err != nil {
				return err
			}
			pointer := e.NodeID() + "|" + string(key)
			if err := tx.Bucket(bucketHashIndex).Put([]byte(e.Hash), []byte(pointer)); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("boltstore: apply batch: %w", err)
	}

	for _, e := range acceptedEntries {
		s.cache.Update(e.NodeID(), e.Timestamp, e.Hash)
	}
	if len(acceptedEntries) > 0 {
		s.notifyApplied(acceptedEntries)
	}
	return nil
}

// --- snapshot / prune ---

func (s *Store) PruneOplog(cutoff hlc.Timestamp) error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		oplog := tx.Bucket(bucketOplog)
		return oplog.ForEachBucket(func(name []byte) error {
			nodeBucket := oplog.Bucket(name)
			c := nodeBucket.Cursor()
			cutoffKey := orderKey(cutoff)

			var lastPruned *docmodel.OplogEntry
			var toDelete [][]byte
			for k, v := c.First(); k != nil && string(k) < string(cutoffKey); k, v = c.Next() {
				var e docmodel.OplogEntry
				if err := json.Unmarshal(v, &e); err != nil {
					return err
				}
				entryCopy := e
				lastPruned = &entryCopy
				toDelete = append(toDelete, append([]byte(nil), k...))
				tx.Bucket(bucketHashIndex).Delete([]byte(e.Hash))
			}
			for _, k := range toDelete {
				if err := nodeBucket.Delete(k); err != nil {
					return err
				}
			}
			if lastPruned != nil {
				meta := docmodel.SnapshotMetadata{
					NodeID:   string(name),
					Physical: lastPruned.Timestamp.Physical,
					Logical:  lastPruned.Timestamp.Logical,
					Hash:     lastPruned.Hash,
				}
				raw, err := json.Marshal(meta)
				if err != nil {
					return err
				}
				if err := tx.Bucket(bucketSnapshots).Put([]byte(name), raw); err != nil {
					return err
				}
			}
			return nil
		})
	})
}

func (s *Store) GetSnapshotHash(nodeID string) (string, bool, error) {
	meta, ok, err := s.GetSnapshotMetadata(nodeID)
	return meta.Hash, ok, err
}

func (s *Store) GetSnapshotMetadata(nodeID string) (docmodel.SnapshotMetadata, bool, error) {
	var meta docmodel.SnapshotMetadata
	var found bool
	err := s.db.View(func(tx *bbolt.Tx) error {
		raw := tx.Bucket(bucketSnapshots).Get([]byte(nodeID))
		if raw == nil {
			return nil
		}
		found = true
		return json.Unmarshal(raw, &meta)
	})
	return meta, found, err
}

func (s *Store) UpdateSnapshotMetadata(meta docmodel.SnapshotMetadata) error {
	raw, err := json.Marshal(meta)
	if err != nil {
		return err
	}
	return s.db.Update(func(tx *bbolt.Tx) error {
		return tx.Bucket(bucketSnapshots).Put([]byte(meta.NodeID), raw)
	})
}

func (s *Store) AllSnapshotMetadata() ([]docmodel.SnapshotMetadata, error) {
	var out []docmodel.SnapshotMetadata
	err := s.db.View(func(tx *bbolt.Tx) error {
		return tx.Bucket(bucketSnapshots).ForEach(func(k, v []byte) error {
			var meta docmodel.SnapshotMetadata
			if err := json.Unmarshal(v, &meta); err != nil {
				return err
			}
			out = append(out, meta)
			return nil
		})
	})
	return out, err
}

func (s *Store) InvalidateCache() {
	s.cache.Invalidate()
}

// --- remote peers ---

type remotePeers struct{ s *Store }

func (s *Store) RemotePeers() store.RemotePeers { return remotePeers{s: s} }

func (r remotePeers) Save(p docmodel.RemotePeerConfiguration) error {
	raw, err := json.Marshal(p)
	if err != nil {
		return err
	}
	return r.s.db.Update(func(tx *bbolt.Tx) error {
		return tx.Bucket(bucketPeers).Put([]byte(p.NodeID), raw)
	})
}

func (r remotePeers) Get() ([]docmodel.RemotePeerConfiguration, error) {
	var out []docmodel.RemotePeerConfiguration
	err := r.s.db.View(func(tx *bbolt.Tx) error {
		return tx.Bucket(bucketPeers).ForEach(func(k, v []byte) error {
			var p docmodel.RemotePeerConfiguration
			if err := json.Unmarshal(v, &p); err != nil {
				return err
			}
			out = append(out, p)
			return nil
		})
	})
	return out, err
}

func (r remotePeers) GetOne(nodeID string) (docmodel.RemotePeerConfiguration, bool, error) {
	var p docmodel.RemotePeerConfiguration
	var found bool
	err := r.s.db.View(func(tx *bbolt.Tx) error {
		raw := tx.Bucket(bucketPeers).Get([]byte(nodeID))
		if raw == nil {
			return nil
		}
		found = true
		return json.Unmarshal(raw, &p)
	})
	return p, found, err
}

func (r remotePeers) Remove(nodeID string) error {
	return r.s.db.Update(func(tx *bbolt.Tx) error {
		return tx.Bucket(bucketPeers).Delete([]byte(nodeID))
	})
}

// --- helpers ---

func sortEntries(entries []docmodel.OplogEntry) {
	sort.SliceStable(entries, func(i, j int) bool {
		return entries[i].Timestamp.Before(entries[j].Timestamp)
	})
}

func collectionWanted(collection string, filter []string) bool {
	if len(filter) == 0 {
		return true
	}
	for _, c := range filter {
		if c == collection {
			return true
		}
	}
	return false
}
