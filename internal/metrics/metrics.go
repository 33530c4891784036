package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// holds all prometheus metrics for a node
type Metrics struct {
	// local operation latency
	PutLatency    prometheus.Histogram
	GetLatency    prometheus.Histogram
	QueryLatency  prometheus.Histogram

	// local operation counters
	WriteSuccessTotal prometheus.Counter
	WriteFailureTotal prometheus.Counter
	ReadSuccessTotal  prometheus.Counter
	ReadFailureTotal  prometheus.Counter

	// sync round metrics, per peer
	SyncRoundLatency *prometheus.HistogramVec
	SyncRoundsTotal  *prometheus.CounterVec // labels: peer, result
	EntriesPulled    *prometheus.CounterVec // labels: peer
	EntriesPushed    *prometheus.CounterVec // labels: peer

	// chain validation and gap recovery
	GapRecoveries      *prometheus.CounterVec // labels: peer, result
	ChainHashMismatches *prometheus.CounterVec // labels: peer
	SnapshotFallbacks  *prometheus.CounterVec // labels: peer, direction

	// handshake and transport
	HandshakeAttempts *prometheus.CounterVec // labels: peer, result
	AuthFailures      *prometheus.CounterVec // labels: peer
	Errors            *prometheus.CounterVec // labels: type

	// peer link health
	PeerLinkScore *prometheus.GaugeVec // labels: peer
	HealthRTT     *prometheus.GaugeVec // labels: peer
	PeerUp        *prometheus.GaugeVec // labels: peer, 1=up 0=down

	// oplog and store state
	OplogLength     *prometheus.GaugeVec // labels: node_id, length of local chain per known origin
	PruneRuns       prometheus.Counter
	PrunedEntries   prometheus.Counter

	// conflict resolution
	ConflictsResolved prometheus.Counter // total LWW conflicts resolved on apply

	// partition healing
	PartitionHealing prometheus.Counter
}

// create and register all prometheus metrics
func NewMetrics(namespace string) *Metrics {
	m := &Metrics{
		PutLatency: promauto.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "put_latency_seconds",
			Help:      "Latency of local Put operations",
			Buckets:   prometheus.DefBuckets,
		}),

		GetLatency: promauto.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "get_latency_seconds",
			Help:      "Latency of local Get operations",
			Buckets:   prometheus.DefBuckets,
		}),

		QueryLatency: promauto.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "query_latency_seconds",
			Help:      "Latency of Find/Count query operations",
			Buckets:   prometheus.DefBuckets,
		}),

		WriteSuccessTotal: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "write_success_total",
			Help:      "Total successful local write operations",
		}),

		WriteFailureTotal: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "write_failure_total",
			Help:      "Total failed local write operations",
		}),

		ReadSuccessTotal: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "read_success_total",
			Help:      "Total successful local read operations",
		}),

		ReadFailureTotal: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "read_failure_total",
			Help:      "Total failed local read operations",
		}),

		SyncRoundLatency: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "sync_round_latency_seconds",
			Help:      "Duration of a complete sync round with a peer",
			Buckets:   prometheus.DefBuckets,
		}, []string{"peer"}),

		SyncRoundsTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sync_rounds_total",
			Help:      "Total sync rounds attempted per peer",
		}, []string{"peer", "result"}),

		EntriesPulled: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "entries_pulled_total",
			Help:      "Total oplog entries pulled from a peer",
		}, []string{"peer"}),

		EntriesPushed: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "entries_pushed_total",
			Help:      "Total oplog entries pushed to a peer",
		}, []string{"peer"}),

		GapRecoveries: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "gap_recoveries_total",
			Help:      "Total chain gap recovery attempts",
		}, []string{"peer", "result"}),

		ChainHashMismatches: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "chain_hash_mismatches_total",
			Help:      "Total entries rejected for failing hash verification",
		}, []string{"peer"}),

		SnapshotFallbacks: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "snapshot_fallbacks_total",
			Help:      "Total times a snapshot transfer replaced incremental sync",
		}, []string{"peer", "direction"}),

		HandshakeAttempts: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "handshake_attempts_total",
			Help:      "Total Noise handshake attempts",
		}, []string{"peer", "result"}),

		AuthFailures: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "auth_failures_total",
			Help:      "Total post-handshake authentication failures",
		}, []string{"peer"}),

		Errors: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "errors_total",
			Help:      "Total errors by type",
		}, []string{"type"}),

		PeerLinkScore: promauto.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "peer_link_score",
			Help:      "Composite link quality score per peer, 0 to 1",
		}, []string{"peer"}),

		HealthRTT: promauto.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "health_rtt_seconds",
			Help:      "Round trip time to peers",
		}, []string{"peer"}),

		PeerUp: promauto.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "peer_up",
			Help:      "Whether a peer is currently reachable (1=up, 0=down)",
		}, []string{"peer"}),

		OplogLength: promauto.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "oplog_length",
			Help:      "Number of retained oplog entries per origin node",
		}, []string{"node_id"}),

		PruneRuns: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "prune_runs_total",
			Help:      "Total oplog prune runs executed",
		}),

		PrunedEntries: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "pruned_entries_total",
			Help:      "Total oplog entries removed by pruning",
		}),

		ConflictsResolved: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "conflicts_resolved_total",
			Help:      "Total LWW conflicts resolved on apply",
		}),

		PartitionHealing: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "partition_healing_total",
			Help:      "Partition healing events detected (peer reconnections after being down)",
		}),
	}

	return m
}

func (m *Metrics) RecordWriteSuccess() {
	m.WriteSuccessTotal.Inc()
}

func (m *Metrics) RecordWriteFailure() {
	m.WriteFailureTotal.Inc()
}

func (m *Metrics) RecordReadSuccess() {
	m.ReadSuccessTotal.Inc()
}

func (m *Metrics) RecordReadFailure() {
	m.ReadFailureTotal.Inc()
}
