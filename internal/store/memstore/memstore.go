// Package memstore is the default in-memory Store implementation: a
// map-backed document table plus a per-node oplog, guarded by one
// sync.RWMutex so ApplyBatch's "single atomic unit" requirement is
// satisfied by the mutex's critical section rather than a real
// transaction manager.
package memstore

import (
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/google/btree"

	"github.com/rachitkumar205/entgldb/internal/docmodel"
	"github.com/rachitkumar205/entgldb/internal/entglerr"
	"github.com/rachitkumar205/entgldb/internal/hlc"
	"github.com/rachitkumar205/entgldb/internal/resolve"
	"github.com/rachitkumar205/entgldb/internal/store"
)

// Store is the in-memory reference backend.
type Store struct {
	mu sync.RWMutex

	docs map[string]map[string]docmodel.Document // collection -> key -> doc

	oplogByNode map[string][]docmodel.OplogEntry // node -> ascending by (physical,logical)
	oplogByHash map[string]docmodel.OplogEntry

	snapshotMeta map[string]docmodel.SnapshotMetadata
	peers        map[string]docmodel.RemotePeerConfiguration

	indexes  map[string]map[string]*btree.BTreeG[indexItem] // collection -> path -> ordered index
	resolver resolve.Resolver

	cache     *store.HashCache
	listeners []store.Listener
}

type indexItem struct {
	value any
	key   string
}

// New constructs an empty memstore using resolver to fold ApplyBatch
// entries. Pass resolve.LWW{} for the default policy.
func New(resolver resolve.Resolver) *Store {
	return &Store{
		docs:         make(map[string]map[string]docmodel.Document),
		oplogByNode:  make(map[string][]docmodel.OplogEntry),
		oplogByHash:  make(map[string]docmodel.OplogEntry),
		snapshotMeta: make(map[string]docmodel.SnapshotMetadata),
		peers:        make(map[string]docmodel.RemotePeerConfiguration),
		indexes:      make(map[string]map[string]*btree.BTreeG[indexItem]),
		resolver:     resolver,
		cache:        store.NewHashCache(),
	}
}

func (s *Store) AddListener(l store.Listener) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.listeners = append(s.listeners, l)
}

func (s *Store) notifyChange(ev store.ChangeEvent) {
	for _, l := range s.listeners {
		l.OnChange(ev)
	}
}

func (s *Store) notifyApplied(entries []docmodel.OplogEntry) {
	for _, l := range s.listeners {
		l.OnChangesApplied(entries)
	}
}

// --- documents ---

func (s *Store) SaveDocument(doc docmodel.Document) error {
	s.mu.Lock()
	col, exists := s.docs[doc.Collection]
	if !exists {
		col = make(map[string]docmodel.Document)
		s.docs[doc.Collection] = col
	}
	_, existed := col[doc.Key]
	col[doc.Key] = doc
	s.reindexLocked(doc)
	s.mu.Unlock()

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
	s.mu.RLock()
	defer s.mu.RUnlock()
	col, ok := s.docs[collection]
	if !ok {
		return docmodel.Document{}, false, nil
	}
	doc, ok := col[key]
	if !ok || doc.IsDeleted {
		return docmodel.Document{}, false, nil
	}
	return doc, true, nil
}

func (s *Store) GetCollections() ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]string, 0, len(s.docs))
	for name := range s.docs {
		out = append(out, name)
	}
	sort.Strings(out)
	return out, nil
}

func (s *Store) EnsureIndex(collection, propertyPath string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	byPath, ok := s.indexes[collection]
	if !ok {
		byPath = make(map[string]*btree.BTreeG[indexItem])
		s.indexes[collection] = byPath
	}
	if _, ok := byPath[propertyPath]; ok {
		return nil
	}
	bt := btree.NewG(32, func(a, b indexItem) bool { return lessIndexItem(a, b) })
	for key, doc := range s.docs[collection] {
		if doc.IsDeleted {
			continue
		}
		if v, ok := extractPath(doc.Content, propertyPath); ok {
			bt.ReplaceOrInsert(indexItem{value: v, key: key})
		}
	}
	byPath[propertyPath] = bt
	return nil
}

func (s *Store) reindexLocked(doc docmodel.Document) {
	byPath, ok := s.indexes[doc.Collection]
	if !ok {
		return
	}
	for path, bt := range byPath {
		// drop any stale entry for this key first (value may have moved).
		removeKey(bt, doc.Key)
		if doc.IsDeleted {
			continue
		}
		if v, ok := extractPath(doc.Content, path); ok {
			bt.ReplaceOrInsert(indexItem{value: v, key: doc.Key})
		}
	}
}

func removeKey(bt *btree.BTreeG[indexItem], key string) {
	var toRemove *indexItem
	bt.Ascend(func(item indexItem) bool {
		if item.key == key {
			found := item
			toRemove = &found
			return false
		}
		return true
	})
	if toRemove != nil {
		bt.Delete(*toRemove)
	}
}

func (s *Store) QueryDocuments(collection string, q store.Query, opts store.FindOptions) ([]docmodel.Document, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	col := s.docs[collection]
	matched := make([]docmodel.Document, 0, len(col))
	for _, doc := range col {
		if doc.IsDeleted {
			continue
		}
		if matches(doc, q) {
			matched = append(matched, doc)
		}
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
	s.mu.RLock()
	defer s.mu.RUnlock()
	count := 0
	for _, doc := range s.docs[collection] {
		if !doc.IsDeleted && matches(doc, q) {
			count++
		}
	}
	return count, nil
}

// --- oplog ---

func (s *Store) AppendOplogEntry(entry docmodel.OplogEntry) error {
	if !entry.IsValid() {
		return fmt.Errorf("memstore: append rejected: %w", entglerr.ErrHashMismatch)
	}
	s.mu.Lock()
	s.oplogByNode[entry.NodeID()] = append(s.oplogByNode[entry.NodeID()], entry)
	s.oplogByHash[entry.Hash] = entry
	s.mu.Unlock()
	s.cache.Update(entry.NodeID(), entry.Timestamp, entry.Hash)
	return nil
}

func (s *Store) GetOplogAfter(ts hlc.Timestamp, collections []string) ([]docmodel.OplogEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []docmodel.OplogEntry
	for _, entries := range s.oplogByNode {
		for _, e := range entries {
			if e.Timestamp.After(ts) && collectionWanted(e.Collection, collections) {
				out = append(out, e)
			}
		}
	}
	sortEntries(out)
	return out, nil
}

func (s *Store) GetOplogForNodeAfter(nodeID string, ts hlc.Timestamp, collections []string) ([]docmodel.OplogEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []docmodel.OplogEntry
	for _, e := range s.oplogByNode[nodeID] {
		if e.Timestamp.After(ts) && collectionWanted(e.Collection, collections) {
			out = append(out, e)
		}
	}
	return out, nil
}

func (s *Store) GetEntryByHash(hash string) (docmodel.OplogEntry, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.oplogByHash[hash]
	return e, ok, nil
}

func (s *Store) GetChainRange(startHash, endHash string) ([]docmodel.OplogEntry, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if startHash != "" {
		if _, ok := s.oplogByHash[startHash]; !ok {
			return nil, false, nil
		}
	}
	end, ok := s.oplogByHash[endHash]
	if !ok {
		return nil, false, nil
	}

	entries := append([]docmodel.OplogEntry(nil), s.oplogByNode[end.NodeID()]...)
	sortEntries(entries)

	startIdx := 0
	if startHash != "" {
		for i, e := range entries {
			if e.Hash == startHash {
				startIdx = i + 1
				break
			}
		}
	}
	var out []docmodel.OplogEntry
	for i := startIdx; i < len(entries); i++ {
		out = append(out, entries[i])
		if entries[i].Hash == endHash {
			break
		}
	}
	return out, true, nil
}

func (s *Store) GetLastEntryHash(nodeID string) (string, bool, error) {
	if e, ok := s.cache.Get(nodeID); ok {
		return e.Hash, true, nil
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	entries := s.oplogByNode[nodeID]
	if len(entries) == 0 {
		return "", false, nil
	}
	return entries[len(entries)-1].Hash, true, nil
}

func (s *Store) GetLatestTimestamp() (hlc.Timestamp, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var latest hlc.Timestamp
	for _, entries := range s.oplogByNode {
		if n := len(entries); n > 0 && entries[n-1].Timestamp.After(latest) {
			latest = entries[n-1].Timestamp
		}
	}
	return latest, nil
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
		s.mu.RLock()
		defer s.mu.RUnlock()
		out := make(map[string]store.CacheEntry, len(s.oplogByNode))
		for node, entries := range s.oplogByNode {
			if len(entries) == 0 {
				continue
			}
			last := entries[len(entries)-1]
			out[node] = store.CacheEntry{Timestamp: last.Timestamp, Hash: last.Hash}
		}
		return out, nil
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
			return fmt.Errorf("memstore: apply batch rejected: %w", entglerr.ErrHashMismatch)
		}
		k := docmodel.Key{Collection: e.Collection, Key: e.Key}
		byKey[k] = append(byKey[k], e)
	}

	s.mu.Lock()

	var appliedDocs []docmodel.Document
	var acceptedEntries []docmodel.OplogEntry

	for key, group := range byKey {
		sortEntries(group)
		col, ok := s.docs[key.Collection]
		if !ok {
			col = make(map[string]docmodel.Document)
			s.docs[key.Collection] = col
		}
		current, hasLocal := col[key.Key]
		var localPtr *docmodel.Document
		if hasLocal {
			localPtr = &current
		}

		for _, e := range group {
			res := s.resolver.Resolve(localPtr, e)
			if !res.ShouldApply {
				continue
			}
			col[key.Key] = *res.Merged
			localPtr = res.Merged
			appliedDocs = append(appliedDocs, *res.Merged)
			acceptedEntries = append(acceptedEntries, e)
		}
	}

	for _, doc := range docs {
		col, ok := s.docs[doc.Collection]
		if !ok {
			col = make(map[string]docmodel.Document)
			s.docs[doc.Collection] = col
		}
		col[doc.Key] = doc
		appliedDocs = append(appliedDocs, doc)
	}

	for _, doc := range appliedDocs {
		s.reindexLocked(doc)
	}

	for _, e := range acceptedEntries {
		s.oplogByNode[e.NodeID()] = append(s.oplogByNode[e.NodeID()], e)
		sortEntries(s.oplogByNode[e.NodeID()])
		s.oplogByHash[e.Hash] = e
	}

	s.mu.Unlock()

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
	s.mu.Lock()
	defer s.mu.Unlock()

	for node, entries := range s.oplogByNode {
		var latestBeforeCutoff *docmodel.OplogEntry
		kept := entries[:0:0]
		for _, e := range entries {
			if e.Timestamp.Before(cutoff) {
				entryCopy := e
				latestBeforeCutoff = &entryCopy
				delete(s.oplogByHash, e.Hash)
				continue
			}
			kept = append(kept, e)
		}
		s.oplogByNode[node] = kept

		if latestBeforeCutoff != nil {
			s.snapshotMeta[node] = docmodel.SnapshotMetadata{
				NodeID:   node,
				Physical: latestBeforeCutoff.Timestamp.Physical,
				Logical:  latestBeforeCutoff.Timestamp.Logical,
				Hash:     latestBeforeCutoff.Hash,
			}
		}
	}
	return nil
}

func (s *Store) GetSnapshotHash(nodeID string) (string, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	m, ok := s.snapshotMeta[nodeID]
	return m.Hash, ok, nil
}

func (s *Store) GetSnapshotMetadata(nodeID string) (docmodel.SnapshotMetadata, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	m, ok := s.snapshotMeta[nodeID]
	return m, ok, nil
}

func (s *Store) UpdateSnapshotMetadata(meta docmodel.SnapshotMetadata) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.snapshotMeta[meta.NodeID] = meta
	return nil
}

func (s *Store) AllSnapshotMetadata() ([]docmodel.SnapshotMetadata, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]docmodel.SnapshotMetadata, 0, len(s.snapshotMeta))
	for _, m := range s.snapshotMeta {
		out = append(out, m)
	}
	return out, nil
}

func (s *Store) InvalidateCache() {
	s.cache.Invalidate()
}

func (s *Store) Close() error { return nil }

// --- remote peers ---

type remotePeers struct{ s *Store }

func (s *Store) RemotePeers() store.RemotePeers { return remotePeers{s: s} }

func (r remotePeers) Save(p docmodel.RemotePeerConfiguration) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	r.s.peers[p.NodeID] = p
	return nil
}

func (r remotePeers) Get() ([]docmodel.RemotePeerConfiguration, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	out := make([]docmodel.RemotePeerConfiguration, 0, len(r.s.peers))
	for _, p := range r.s.peers {
		out = append(out, p)
	}
	return out, nil
}

func (r remotePeers) GetOne(nodeID string) (docmodel.RemotePeerConfiguration, bool, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	p, ok := r.s.peers[nodeID]
	return p, ok, nil
}

func (r remotePeers) Remove(nodeID string) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	delete(r.s.peers, nodeID)
	return nil
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

func lessIndexItem(a, b indexItem) bool {
	c := compareAny(a.value, b.value)
	if c != 0 {
		return c < 0
	}
	return a.key < b.key
}

func extractPath(content []byte, path string) (any, bool) {
	if len(content) == 0 {
		return nil, false
	}
	var doc map[string]any
	if err := jsonUnmarshal(content, &doc); err != nil {
		return nil, false
	}
	parts := strings.Split(path, ".")
	var cur any = doc
	for _, part := range parts {
		m, ok := cur.(map[string]any)
		if !ok {
			return nil, false
		}
		cur, ok = m[part]
		if !ok {
			return nil, false
		}
	}
	return cur, true
}
