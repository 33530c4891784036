package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// configuration for an entgldb node
type Config struct {
	NodeID     string
	ListenAddr string
	DataDir    string

	// storage backend: "memory" or "bolt"
	StorageBackend string

	// peer discovery
	Peers             []string // static NODE_ID@host:port[#base64noisepubkey] list
	DiscoveryMode     string   // "static" or "dns"
	HeadlessService   string
	Namespace         string
	DiscoveryInterval time.Duration

	// auth
	AuthToken string

	// connection and retry tunables
	MaxConnections   int
	RequestTimeout   time.Duration
	IdleKeepalive    time.Duration
	TeardownTimeout  time.Duration
	RetryBaseBackoff time.Duration
	RetryMaxBackoff  time.Duration

	// wire protocol limits
	MaxFrameBytes   int
	BatchEntryLimit int

	// hlc configuration
	HLCMaxDrift time.Duration // maximum allowed clock drift

	// oplog pruning
	PruneInterval  time.Duration
	PruneRetention time.Duration

	// metrics
	MetricsAddr string

	// health probing
	HealthProbeInterval time.Duration

	// oplog application mode: "atomic" (default, ApplyBatch handles both
	// the document and the oplog entry in one call) or "event-driven"
	// (store.Listener based: OplogMode coordinator hashes/retries entries
	// out of band after the write to the document has already landed)
	OplogMode string
}

// load config from env vars
func LoadConfig() (*Config, error) {
	cfg := &Config{
		NodeID:              getEnv("NODE_ID", "node1"),
		ListenAddr:          getEnv("LISTEN_ADDR", ":7420"),
		DataDir:             getEnv("DATA_DIR", "./data"),
		StorageBackend:      getEnv("STORAGE_BACKEND", "memory"),
		DiscoveryMode:       getEnv("DISCOVERY_MODE", "static"),
		Namespace:           getEnv("NAMESPACE", "default"),
		DiscoveryInterval:   getDurationEnv("DISCOVERY_INTERVAL", 30*time.Second),
		AuthToken:           getEnv("AUTH_TOKEN", ""),
		MaxConnections:      getIntEnv("MAX_CONNECTIONS", 64),
		RequestTimeout:      getDurationEnv("REQUEST_TIMEOUT", 30*time.Second),
		IdleKeepalive:       getDurationEnv("IDLE_KEEPALIVE", 15*time.Second),
		TeardownTimeout:     getDurationEnv("TEARDOWN_TIMEOUT", 5*time.Second),
		RetryBaseBackoff:    getDurationEnv("RETRY_BASE_BACKOFF", time.Second),
		RetryMaxBackoff:     getDurationEnv("RETRY_MAX_BACKOFF", time.Minute),
		MaxFrameBytes:       getIntEnv("MAX_FRAME_BYTES", 16*1024*1024),
		BatchEntryLimit:     getIntEnv("BATCH_ENTRY_LIMIT", 500),
		HLCMaxDrift:         getDurationEnv("HLC_MAX_DRIFT", 500*time.Millisecond),
		PruneInterval:       getDurationEnv("PRUNE_INTERVAL", time.Hour),
		PruneRetention:      getDurationEnv("PRUNE_RETENTION", 7*24*time.Hour),
		MetricsAddr:         getEnv("METRICS_ADDR", ":9090"),
		HealthProbeInterval: getDurationEnv("HEALTH_PROBE_INTERVAL", 5*time.Second),
		OplogMode:           getEnv("OPLOG_MODE", "atomic"),
	}

	// k8s peer discovery via headless service DNS
	if headlessSvc := os.Getenv("HEADLESS_SERVICE"); headlessSvc != "" {
		cfg.DiscoveryMode = "dns"
		cfg.HeadlessService = headlessSvc
	} else {
		peersStr := getEnv("PEERS", "")
		if peersStr != "" {
			cfg.Peers = strings.Split(peersStr, ",")
			for i, peer := range cfg.Peers {
				cfg.Peers[i] = strings.TrimSpace(peer)
			}
		}
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// validation checks for config
func (c *Config) Validate() error {
	if c.NodeID == "" {
		return errors.New("NODE_ID cannot be empty")
	}

	if c.StorageBackend != "memory" && c.StorageBackend != "bolt" {
		return fmt.Errorf("STORAGE_BACKEND must be memory or bolt, got %q", c.StorageBackend)
	}

	if c.StorageBackend == "bolt" && c.DataDir == "" {
		return errors.New("DATA_DIR is required when STORAGE_BACKEND=bolt")
	}

	if c.DiscoveryMode != "static" && c.DiscoveryMode != "dns" {
		return fmt.Errorf("DISCOVERY_MODE must be static or dns, got %q", c.DiscoveryMode)
	}

	if c.DiscoveryMode == "dns" && c.HeadlessService == "" {
		return errors.New("HEADLESS_SERVICE is required when DISCOVERY_MODE=dns")
	}

	if c.MaxConnections < 1 {
		return fmt.Errorf("MAX_CONNECTIONS must be positive, got %d", c.MaxConnections)
	}

	if c.OplogMode != "atomic" && c.OplogMode != "event-driven" {
		return fmt.Errorf("OPLOG_MODE must be atomic or event-driven, got %q", c.OplogMode)
	}

	// a lone node with no declared peers is a valid, if uninteresting, deployment
	return nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}

	return defaultValue
}

func getIntEnv(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}

	return defaultValue
}

func getDurationEnv(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}

	return defaultValue
}
