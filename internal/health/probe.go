// Package health watches the sync orchestrator's peer sessions and
// turns their state into metrics and partition-healing notifications,
// without opening any connections of its own.
package health

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/rachitkumar205/entgldb/internal/metrics"
	syncpkg "github.com/rachitkumar205/entgldb/internal/sync"
)

// HealingListener receives notifications when a previously failing peer
// becomes reachable again.
type HealingListener interface {
	NotifyHealingEvent(peer string)
}

// PeerSource is the subset of *sync.Orchestrator the probe depends on,
// kept as an interface so tests can supply a fake without a live network.
type PeerSource interface {
	PeerSnapshot() []syncpkg.PeerStatus
}

// Probe periodically samples an orchestrator's peer sessions and
// publishes their reachability and link quality as metrics, detecting
// partition healing when a peer transitions from a failing state back
// to ready.
type Probe struct {
	source   PeerSource
	interval time.Duration
	logger   *zap.Logger
	metrics  *metrics.Metrics

	mu              sync.Mutex
	lastUp          map[string]bool
	healingListener HealingListener

	errors *ErrorLog
}

// NewProbe builds a Probe over source, sampling every interval.
func NewProbe(source PeerSource, interval time.Duration, logger *zap.Logger, m *metrics.Metrics) *Probe {
	return &Probe{
		source:   source,
		interval: interval,
		logger:   logger,
		metrics:  m,
		lastUp:   make(map[string]bool),
		errors:   NewErrorLog(50, time.Hour),
	}
}

// SetHealingListener sets the listener notified on partition healing.
func (p *Probe) SetHealingListener(listener HealingListener) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.healingListener = listener
}

// Errors exposes the recent sync error ring buffer for diagnostics.
func (p *Probe) Errors() *ErrorLog { return p.errors }

// RecordSyncError appends a sync failure to the recent-error ring buffer.
// Callers (the orchestrator's failure path) call this directly; the probe
// does not observe errors on its own sampling cadence.
func (p *Probe) RecordSyncError(peer string, err error) {
	p.errors.Add(peer, err)
	p.metrics.Errors.WithLabelValues("sync").Inc()
}

// Start runs the sampling loop until ctx is cancelled.
func (p *Probe) Start(ctx context.Context) {
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			p.sample()
		case <-ctx.Done():
			p.logger.Info("health probe stopped")
			return
		}
	}
}

func (p *Probe) sample() {
	for _, status := range p.source.PeerSnapshot() {
		up := status.State == syncpkg.StateReady || status.State == syncpkg.StateSyncing

		p.metrics.PeerLinkScore.WithLabelValues(status.NodeID).Set(status.Score)
		if up {
			p.metrics.PeerUp.WithLabelValues(status.NodeID).Set(1)
		} else {
			p.metrics.PeerUp.WithLabelValues(status.NodeID).Set(0)
		}

		p.mu.Lock()
		wasUp, known := p.lastUp[status.NodeID]
		p.lastUp[status.NodeID] = up
		listener := p.healingListener
		p.mu.Unlock()

		if known && !wasUp && up {
			p.logger.Info("partition healing detected", zap.String("peer", status.NodeID))
			p.metrics.PartitionHealing.Inc()
			if listener != nil {
				listener.NotifyHealingEvent(status.NodeID)
			}
		}
	}
}
