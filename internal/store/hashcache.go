package store

import (
	"sync"

	"github.com/rachitkumar205/entgldb/internal/docmodel"
	"github.com/rachitkumar205/entgldb/internal/hlc"
)

// CacheEntry is one node's cached chain tip: its latest timestamp and the
// hash of the entry at that timestamp.
type CacheEntry struct {
	Timestamp hlc.Timestamp
	Hash      string
}

// HashCache is the required per-node in-memory hash/timestamp cache:
// node_id -> (latest_timestamp, latest_hash). Shared by both reference
// backends so the lazy-init and tie-break rules live in one place instead
// of being re-implemented per backend.
type HashCache struct {
	mu   sync.RWMutex
	init bool
	data map[string]CacheEntry
}

// NewHashCache returns an empty, not-yet-initialized cache.
func NewHashCache() *HashCache {
	return &HashCache{data: make(map[string]CacheEntry)}
}

// EnsureInit lazily populates the cache the first time it's needed: seed
// from snapshot metadata, then fold in a max-per-node oplog scan, with the
// snapshot winning only when its timestamp is >= the scanned oplog
// timestamp for that node.
func (c *HashCache) EnsureInit(snapshots []docmodel.SnapshotMetadata, scan func() (map[string]CacheEntry, error)) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.init {
		return nil
	}

	for _, s := range snapshots {
		c.data[s.NodeID] = CacheEntry{Timestamp: s.Timestamp(), Hash: s.Hash}
	}

	scanned, err := scan()
	if err != nil {
		return err
	}
	for node, entry := range scanned {
		cur, exists := c.data[node]
		if !exists || entry.Timestamp.After(cur.Timestamp) {
			c.data[node] = entry
		}
	}

	c.init = true
	return nil
}

// Get returns the cached entry for node, or the zero value and false if
// the node has never been observed.
func (c *HashCache) Get(node string) (CacheEntry, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	e, ok := c.data[node]
	return e, ok
}

// Update records the latest (timestamp, hash) for node, provided ts is not
// older than what is already cached (entries may arrive out of order
// within a fast batch, so this never regresses).
func (c *HashCache) Update(node string, ts hlc.Timestamp, hash string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if cur, ok := c.data[node]; !ok || ts.After(cur.Timestamp) {
		c.data[node] = CacheEntry{Timestamp: ts, Hash: hash}
	}
}

// VectorClock snapshots the cache into an hlc.VectorClock.
func (c *HashCache) VectorClock() hlc.VectorClock {
	c.mu.RLock()
	defer c.mu.RUnlock()
	vc := make(hlc.VectorClock, len(c.data))
	for node, e := range c.data {
		vc[node] = e.Timestamp
	}
	return vc
}

// Invalidate clears the cache and marks it uninitialized, forcing the
// next EnsureInit to relazy-init from scratch (called after a snapshot
// Replace).
func (c *HashCache) Invalidate() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.init = false
	c.data = make(map[string]CacheEntry)
}
