// Package oplog provides the fallback, event-driven path for turning a
// Store's local document mutations into hash-chained oplog entries, for
// backends whose SaveDocument and oplog append are not already a single
// atomic unit. Most callers should prefer a backend wired through
// Store.ApplyBatch directly; Coordinator exists for the "event-driven"
// configuration where plain SaveDocument calls still need an oplog trail.
package oplog

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/rachitkumar205/entgldb/internal/docmodel"
	"github.com/rachitkumar205/entgldb/internal/hlc"
	"github.com/rachitkumar205/entgldb/internal/store"
)

const defaultRetryQueueSize = 256

// Coordinator listens for Store.ChangeEvent notifications and appends a
// corresponding OplogEntry for each mutation, retrying bounded-queue
// failures on a timer instead of dropping them.
type Coordinator struct {
	store  store.Store
	clock  *hlc.Clock
	logger *zap.Logger

	retry *retryQueue

	mu        sync.Mutex
	lastHash  map[string]string // node -> last known hash, warm cache over store.GetLastEntryHash
	cancel    context.CancelFunc
	wg        sync.WaitGroup
	retryTick time.Duration
}

// NewCoordinator wires a Coordinator to s and registers it as a listener.
// clock must belong to the same node whose writes s will observe.
func NewCoordinator(s store.Store, clock *hlc.Clock, logger *zap.Logger) *Coordinator {
	c := &Coordinator{
		store:     s,
		clock:     clock,
		logger:    logger,
		retry:     newRetryQueue(defaultRetryQueueSize),
		lastHash:  make(map[string]string),
		retryTick: 5 * time.Second,
	}
	s.AddListener(c)
	return c
}

// Start launches the background retry loop. Call Stop to shut it down.
func (c *Coordinator) Start(ctx context.Context) {
	ctx, cancel := context.WithCancel(ctx)
	c.cancel = cancel
	c.wg.Add(1)
	go c.retryLoop(ctx)
}

// Stop cancels the retry loop and waits for it to exit.
func (c *Coordinator) Stop() {
	if c.cancel != nil {
		c.cancel()
	}
	c.wg.Wait()
}

func (c *Coordinator) retryLoop(ctx context.Context) {
	defer c.wg.Done()
	ticker := time.NewTicker(c.retryTick)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			c.flushRetryQueue()
		}
	}
}

func (c *Coordinator) flushRetryQueue() {
	pending := c.retry.Drain()
	for _, e := range pending {
		if err := c.store.AppendOplogEntry(e); err != nil {
			c.logger.Warn("oplog retry append failed, re-queueing",
				zap.String("node", e.NodeID()), zap.String("key", e.Key), zap.Error(err))
			c.retry.Add(e)
			continue
		}
		c.logger.Info("oplog retry append succeeded", zap.String("node", e.NodeID()), zap.String("key", e.Key))
	}
}

// OnChange implements store.Listener: translate the mutation into an
// oplog entry and append it, chained off the node's last known hash.
func (c *Coordinator) OnChange(ev store.ChangeEvent) {
	for _, doc := range ev.Documents {
		entry := c.buildEntry(doc)
		if err := c.store.AppendOplogEntry(entry); err != nil {
			c.logger.Warn("oplog append failed, queueing for retry",
				zap.String("collection", doc.Collection), zap.String("key", doc.Key), zap.Error(err))
			c.retry.Add(entry)
			continue
		}
		c.recordHash(entry)
	}
}

// OnChangesApplied implements store.Listener. Entries delivered through
// ApplyBatch are already durable oplog entries, so there is nothing for
// the fallback coordinator to do beyond updating its warm hash cache.
func (c *Coordinator) OnChangesApplied(entries []docmodel.OplogEntry) {
	for _, e := range entries {
		c.recordHash(e)
	}
}

// buildEntry stamps the propagating entry with doc.UpdatedAt, the same
// timestamp the write already stored the document under, so the origin
// node and every peer that later applies this entry converge on one
// UpdatedAt for the write. Only when doc arrives with no timestamp of its
// own (a direct SaveDocument call that skipped DB's HLC tick) does the
// coordinator mint a fresh one here.
func (c *Coordinator) buildEntry(doc docmodel.Document) docmodel.OplogEntry {
	ts := doc.UpdatedAt
	if ts.Zero() {
		ts = c.clock.Tick()
	}
	op := docmodel.OpPut
	payload := doc.Content
	if doc.IsDeleted {
		op = docmodel.OpDelete
		payload = nil
	}
	prev := c.previousHash(ts.NodeID)
	return docmodel.NewEntry(doc.Collection, doc.Key, op, payload, ts, prev)
}

func (c *Coordinator) previousHash(nodeID string) string {
	c.mu.Lock()
	if h, ok := c.lastHash[nodeID]; ok {
		c.mu.Unlock()
		return h
	}
	c.mu.Unlock()

	hash, known, err := c.store.GetLastEntryHash(nodeID)
	if err != nil {
		c.logger.Warn("failed to look up last entry hash, starting a new chain head", zap.String("node", nodeID), zap.Error(err))
		return ""
	}
	if !known {
		return ""
	}
	return hash
}

func (c *Coordinator) recordHash(e docmodel.OplogEntry) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.lastHash[e.NodeID()] = e.Hash
}

// PendingRetryCount reports how many entries are currently waiting for a
// retry attempt, for health/metrics reporting.
func (c *Coordinator) PendingRetryCount() int { return c.retry.Size() }
