package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/rachitkumar205/entgldb"
	"github.com/rachitkumar205/entgldb/internal/config"
	"github.com/rachitkumar205/entgldb/internal/discovery"
	"github.com/rachitkumar205/entgldb/internal/docmodel"
	"github.com/rachitkumar205/entgldb/internal/health"
	"github.com/rachitkumar205/entgldb/internal/metrics"
	"github.com/rachitkumar205/entgldb/internal/noisecrypt"
	"github.com/rachitkumar205/entgldb/internal/oplog"
	"github.com/rachitkumar205/entgldb/internal/resolve"
	"github.com/rachitkumar205/entgldb/internal/store"
	"github.com/rachitkumar205/entgldb/internal/store/boltstore"
	"github.com/rachitkumar205/entgldb/internal/store/memstore"
	"github.com/rachitkumar205/entgldb/internal/sync"
)

func main() {
	logger, err := zap.NewProduction()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to initialise logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	cfg, err := config.LoadConfig()
	if err != nil {
		logger.Fatal("failed to load configuration", zap.Error(err))
	}

	logger.Info("starting entgldb node",
		zap.String("node_id", cfg.NodeID),
		zap.String("listen_addr", cfg.ListenAddr),
		zap.String("storage_backend", cfg.StorageBackend),
		zap.String("discovery_mode", cfg.DiscoveryMode),
		zap.Strings("peers", cfg.Peers))

	m := metrics.NewMetrics("entgldb")

	backingStore, err := openStore(cfg)
	if err != nil {
		logger.Fatal("failed to open store", zap.Error(err))
	}
	defer backingStore.Close()
	logger.Info("storage initialised", zap.String("backend", cfg.StorageBackend))

	var db *entgldb.DB
	if cfg.OplogMode == "event-driven" {
		db = entgldb.OpenEventDriven(cfg.NodeID, backingStore, logger, m, cfg.HLCMaxDrift)
	} else {
		db = entgldb.Open(cfg.NodeID, backingStore, logger, m, cfg.HLCMaxDrift)
	}
	logger.Info("hlc clock initialized", zap.String("node_id", cfg.NodeID), zap.Duration("max_drift", cfg.HLCMaxDrift))

	var oplogCoordinator *oplog.Coordinator
	if cfg.OplogMode == "event-driven" {
		oplogCoordinator = oplog.NewCoordinator(backingStore, db.Clock(), logger)
		logger.Info("oplog coordinator registered", zap.String("mode", cfg.OplogMode))
	}

	staticKey, err := noisecrypt.GenerateStaticKeyPair()
	if err != nil {
		logger.Fatal("failed to generate static key pair", zap.Error(err))
	}

	auth := discovery.NewSharedTokenAuthenticator(cfg.AuthToken)

	syncCfg := sync.DefaultConfig(cfg.NodeID, staticKey)
	syncCfg.AuthToken = cfg.AuthToken
	syncCfg.MaxConnections = cfg.MaxConnections
	syncCfg.RequestTimeout = cfg.RequestTimeout
	syncCfg.IdleKeepalive = cfg.IdleKeepalive
	syncCfg.TeardownTimeout = cfg.TeardownTimeout
	syncCfg.RetryBaseBackoff = cfg.RetryBaseBackoff
	syncCfg.RetryMaxBackoff = cfg.RetryMaxBackoff

	orchestrator := sync.NewOrchestrator(syncCfg, db.Store(), db.Clock(), logger, auth)

	probe := health.NewProbe(orchestrator, cfg.HealthProbeInterval, logger, m)
	orchestrator.SetFailureRecorder(probe)
	logger.Info("health probe initialised")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := registerPeers(db, cfg, logger); err != nil {
		logger.Fatal("failed to register configured peers", zap.Error(err))
	}

	if err := orchestrator.Start(ctx); err != nil {
		logger.Fatal("failed to start sync orchestrator", zap.Error(err))
	}
	logger.Info("sync orchestrator started")

	if oplogCoordinator != nil {
		oplogCoordinator.Start(ctx)
		logger.Info("oplog coordinator started")
	}

	go probe.Start(ctx)
	logger.Info("health probe started")

	listener := sync.NewListener(orchestrator)
	ln, err := net.Listen("tcp", cfg.ListenAddr)
	if err != nil {
		logger.Fatal("failed to listen", zap.String("addr", cfg.ListenAddr), zap.Error(err))
	}
	go func() {
		logger.Info("sync listener listening", zap.String("addr", cfg.ListenAddr))
		if err := listener.Serve(ctx, ln); err != nil {
			logger.Error("sync listener stopped", zap.Error(err))
		}
	}()

	http.Handle("/metrics", promhttp.Handler())
	http.Handle("/debug/stats", statsHandler(metrics.NewMetricsReader(m), orchestrator, oplogCoordinator))
	metricsServer := &http.Server{Addr: cfg.MetricsAddr}
	go func() {
		logger.Info("metrics server listening", zap.String("addr", cfg.MetricsAddr))
		if err := metricsServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("metrics server failed", zap.Error(err))
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	<-sigCh

	logger.Info("shutting down gracefully")
	cancel()
	orchestrator.Stop()
	if oplogCoordinator != nil {
		oplogCoordinator.Stop()
	}
	ln.Close()
	metricsServer.Close()
	logger.Info("shutdown complete")
}

func openStore(cfg *config.Config) (store.Store, error) {
	switch cfg.StorageBackend {
	case "bolt":
		return boltstore.Open(cfg.DataDir+"/entgldb.bolt", resolve.LWW{})
	default:
		return memstore.New(resolve.LWW{}), nil
	}
}

// peerStats is one peer's reporting-endpoint summary.
type peerStats struct {
	NodeID         string  `json:"node_id"`
	State          string  `json:"state"`
	LinkScore      float64 `json:"link_score"`
	SyncLatencyP95 float64 `json:"sync_latency_p95_seconds"`
}

// statsHandler serves a point-in-time JSON summary of write health and
// per-peer sync status, read directly from the metrics registry via
// MetricsReader rather than scraping /metrics and parsing text output.
func statsHandler(reader *metrics.MetricsReader, o *sync.Orchestrator, oc *oplog.Coordinator) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		snapshot := o.PeerSnapshot()
		peers := make([]peerStats, 0, len(snapshot))
		for _, p := range snapshot {
			stats, _ := reader.GetPeerSyncLatencyStats(p.NodeID)
			p95 := 0.0
			if stats != nil {
				p95 = stats.P95
			}
			peers = append(peers, peerStats{
				NodeID:         p.NodeID,
				State:          p.State.String(),
				LinkScore:      p.Score,
				SyncLatencyP95: p95,
			})
		}

		out := struct {
			WriteSuccessRate  float64     `json:"write_success_rate"`
			Peers             []peerStats `json:"peers"`
			OplogPendingRetry *int        `json:"oplog_pending_retry,omitempty"`
		}{
			WriteSuccessRate: reader.GetWriteSuccessRate(),
			Peers:            peers,
		}
		if oc != nil {
			n := oc.PendingRetryCount()
			out.OplogPendingRetry = &n
		}

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(out)
	}
}

// registerPeers seeds the Store's known-peers table from static
// configuration. DNS-discovered peers are reconciled by a future
// discovery-driven Orchestrator.Start variant; this node starts with
// whatever StaticList resolves at boot.
//
// Each static peer's Noise-IK static public key, when present in its
// PEERS entry (node_id@host:port#base64pubkey), is copied into
// AuthMaterial: RemotePeerConfiguration's only carrier for it, and the
// one field sync.Orchestrator's remoteStaticFor reads when dialing out.
// A peer configured without a key cannot be dialed out to (the initiator
// side of the handshake fails), so its absence is logged rather than
// silently accepted. The listener does not check an inbound initiator's
// static key against AuthMaterial.
func registerPeers(db *entgldb.DB, cfg *config.Config, logger *zap.Logger) error {
	if cfg.DiscoveryMode != "static" {
		return nil
	}
	peers, err := discovery.NewStaticList(cfg.Peers).Discover()
	if err != nil {
		return err
	}
	for _, p := range peers {
		rc := docmodel.RemotePeerConfiguration{
			NodeID:  p.NodeID,
			Address: p.Address,
			Type:    docmodel.PeerStaticRemote,
			Enabled: true,
		}
		if p.HasStaticKey {
			rc.AuthMaterial = string(p.StaticKey[:])
		} else {
			logger.Warn("static peer configured without a Noise static key, handshake will fail",
				zap.String("peer", p.NodeID))
		}
		if err := db.Store().RemotePeers().Save(rc); err != nil {
			return err
		}
	}
	return nil
}
