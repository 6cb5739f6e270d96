package cfg

import (
	"flag"
	"fmt"
	"hash/fnv"
	"os"
	"path"

	"github.com/BurntSushi/toml"
	"github.com/denisbrodbeck/machineid"
	"github.com/rs/zerolog/log"
)

// DocumentBackend selects the document store implementation
type DocumentBackend string

const (
	BackendPebble DocumentBackend = "pebble" // Persistent Pebble store
	BackendMemory DocumentBackend = "memory" // In-process, lost on restart
)

// RecordStoreConfiguration controls the authoritative SQLite record store
type RecordStoreConfiguration struct {
	Path          string `toml:"path"`            // Relative paths resolve under data_dir
	BusyTimeoutMS int    `toml:"busy_timeout_ms"` // SQLite busy timeout
}

// DocumentStoreConfiguration controls the mirrored document store
type DocumentStoreConfiguration struct {
	Backend  DocumentBackend `toml:"backend"`
	Path     string          `toml:"path"`     // Relative paths resolve under data_dir
	Compress bool            `toml:"compress"` // zstd-compress stored documents
}

// MirrorConfiguration controls reconciliation
type MirrorConfiguration struct {
	SyncIntervalSeconds int      `toml:"sync_interval_seconds"` // Periodic full sync, 0 disables
	SyncOnStart         bool     `toml:"sync_on_start"`         // Full sync before processing notifications
	PruneAbsent         bool     `toml:"prune_absent"`          // Delete documents no record produced
	LockShards          int      `toml:"lock_shards"`           // Per-id lock shards
	NotificationBuffer  int      `toml:"notification_buffer"`   // Subscriber buffer before drops
	Origins             []string `toml:"origins"`               // Glob patterns, empty = all
}

// InboundConfiguration controls applying remote document changes
type InboundConfiguration struct {
	Enabled         bool   `toml:"enabled"`
	NatsURL         string `toml:"nats_url"`
	Subject         string `toml:"subject"`
	BatchSize       int    `toml:"batch_size"`
	DedupeCacheSize int    `toml:"dedupe_cache_size"`
}

// SinkConfiguration describes one outbound document event sink
type SinkConfiguration struct {
	Name            string   `toml:"name"`   // Unique name, used for cursor tracking
	Type            string   `toml:"type"`   // "nats" or "kafka"
	Format          string   `toml:"format"` // "msgpack" or "json"
	NatsURL         string   `toml:"nats_url"`
	Brokers         []string `toml:"brokers"`
	TopicPrefix     string   `toml:"topic_prefix"`
	FilterOrigins   []string `toml:"filter_origins"`
	FilterKinds     []string `toml:"filter_kinds"`
	BatchSize       int      `toml:"batch_size"`
	PollIntervalMS  int      `toml:"poll_interval_ms"`
	RetryInitialMS  int      `toml:"retry_initial_ms"`
	RetryMaxMS      int      `toml:"retry_max_ms"`
	RetryMultiplier float64  `toml:"retry_multiplier"`
	MaxRetries      int      `toml:"max_retries"`
}

// PublisherConfiguration holds the outbound sinks
type PublisherConfiguration struct {
	Sinks []SinkConfiguration `toml:"sinks"`
}

// AdminConfiguration controls the admin HTTP API
type AdminConfiguration struct {
	Enabled     bool   `toml:"enabled"`
	BindAddress string `toml:"bind_address"`
	Port        int    `toml:"port"`
	Secret      string `toml:"secret"` // Bearer token; empty disables auth
}

// LoggingConfiguration controls logging behavior
type LoggingConfiguration struct {
	Verbose bool   `toml:"verbose"`
	Format  string `toml:"format"` // "console" or "json"
}

// PrometheusConfiguration for metrics, served by the admin API at /metrics
type PrometheusConfiguration struct {
	Enabled bool `toml:"enabled"`
}

// Configuration is the main configuration structure
type Configuration struct {
	NodeID  uint64 `toml:"node_id"`
	DataDir string `toml:"data_dir"`

	RecordStore   RecordStoreConfiguration   `toml:"record_store"`
	DocumentStore DocumentStoreConfiguration `toml:"document_store"`
	Mirror        MirrorConfiguration        `toml:"mirror"`
	Inbound       InboundConfiguration       `toml:"inbound"`
	Publisher     PublisherConfiguration     `toml:"publisher"`
	Admin         AdminConfiguration         `toml:"admin"`
	Logging       LoggingConfiguration       `toml:"logging"`
	Prometheus    PrometheusConfiguration    `toml:"prometheus"`
}

// Command line flags
var (
	ConfigPathFlag = flag.String("config", "config.toml", "Path to configuration file")
	DataDirFlag    = flag.String("data-dir", "", "Data directory (overrides config)")
	NodeIDFlag     = flag.Uint64("node-id", 0, "Node ID (overrides config, 0=auto)")
	AdminPortFlag  = flag.Int("admin-port", 0, "Admin HTTP port (overrides config)")
)

// Default configuration
var Config = &Configuration{
	NodeID:  0, // Auto-generate
	DataDir: "./credmirror-data",

	RecordStore: RecordStoreConfiguration{
		Path:          "records.db",
		BusyTimeoutMS: 5000,
	},

	DocumentStore: DocumentStoreConfiguration{
		Backend:  BackendPebble,
		Path:     "documents",
		Compress: false,
	},

	Mirror: MirrorConfiguration{
		SyncIntervalSeconds: 600, // 10 minutes
		SyncOnStart:         true,
		PruneAbsent:         false,
		LockShards:          256,
		NotificationBuffer:  256,
		Origins:             []string{},
	},

	Inbound: InboundConfiguration{
		Enabled:         false,
		Subject:         "credmirror.>",
		BatchSize:       64,
		DedupeCacheSize: 4096,
	},

	Admin: AdminConfiguration{
		Enabled:     true,
		BindAddress: "127.0.0.1",
		Port:        8090,
	},

	Logging: LoggingConfiguration{
		Verbose: false,
		Format:  "console",
	},

	Prometheus: PrometheusConfiguration{
		Enabled: true,
	},
}

// Load loads configuration from file and applies CLI overrides
func Load(configPath string) error {
	if configPath != "" {
		if _, err := os.Stat(configPath); err == nil {
			log.Info().Str("path", configPath).Msg("Loading configuration")
			if _, err := toml.DecodeFile(configPath, Config); err != nil {
				return fmt.Errorf("failed to decode config: %w", err)
			}
		} else {
			log.Warn().Str("path", configPath).Msg("Config file not found, using defaults")
		}
	}

	// Apply CLI overrides
	if *DataDirFlag != "" {
		Config.DataDir = *DataDirFlag
	}
	if *NodeIDFlag != 0 {
		Config.NodeID = *NodeIDFlag
	}
	if *AdminPortFlag != 0 {
		Config.Admin.Port = *AdminPortFlag
	}

	if Config.NodeID == 0 {
		var err error
		Config.NodeID, err = generateNodeID()
		if err != nil {
			return fmt.Errorf("failed to generate node ID: %w", err)
		}
		log.Info().Uint64("node_id", Config.NodeID).Msg("Auto-generated node ID")
	}

	if err := os.MkdirAll(Config.DataDir, 0755); err != nil {
		return fmt.Errorf("failed to create data directory: %w", err)
	}

	return nil
}

// generateNodeID creates a unique node ID based on machine ID
func generateNodeID() (uint64, error) {
	id, err := machineid.ProtectedID("credmirror")
	if err != nil {
		return 0, err
	}

	h := fnv.New64a()
	h.Write([]byte(id))
	return h.Sum64(), nil
}

// Validate checks configuration for errors
func Validate() error {
	if Config.DataDir == "" {
		return fmt.Errorf("data directory is required")
	}

	if Config.RecordStore.Path == "" {
		return fmt.Errorf("record store path is required")
	}
	if Config.RecordStore.BusyTimeoutMS < 0 {
		return fmt.Errorf("record store busy timeout must be >= 0")
	}

	switch Config.DocumentStore.Backend {
	case BackendPebble:
		if Config.DocumentStore.Path == "" {
			return fmt.Errorf("document store path is required for the pebble backend")
		}
	case BackendMemory:
	default:
		return fmt.Errorf("invalid document store backend: %q", Config.DocumentStore.Backend)
	}

	if Config.Mirror.SyncIntervalSeconds < 0 {
		return fmt.Errorf("mirror sync interval must be >= 0")
	}
	if Config.Mirror.LockShards < 1 {
		return fmt.Errorf("mirror lock shards must be >= 1")
	}
	if Config.Mirror.NotificationBuffer < 1 {
		return fmt.Errorf("mirror notification buffer must be >= 1")
	}

	if Config.Inbound.Enabled {
		if Config.Inbound.NatsURL == "" {
			return fmt.Errorf("inbound nats_url is required when inbound is enabled")
		}
		if Config.Inbound.Subject == "" {
			return fmt.Errorf("inbound subject is required when inbound is enabled")
		}
	}

	names := make(map[string]bool, len(Config.Publisher.Sinks))
	for i, sink := range Config.Publisher.Sinks {
		if sink.Name == "" {
			return fmt.Errorf("publisher sink %d: name is required", i)
		}
		if names[sink.Name] {
			return fmt.Errorf("publisher sink %q: duplicate name", sink.Name)
		}
		names[sink.Name] = true

		switch sink.Type {
		case "nats":
			if sink.NatsURL == "" {
				return fmt.Errorf("publisher sink %q: nats_url is required", sink.Name)
			}
		case "kafka":
			if len(sink.Brokers) == 0 {
				return fmt.Errorf("publisher sink %q: brokers are required", sink.Name)
			}
		default:
			return fmt.Errorf("publisher sink %q: invalid type %q", sink.Name, sink.Type)
		}

		if sink.Format != "msgpack" && sink.Format != "json" {
			return fmt.Errorf("publisher sink %q: invalid format %q", sink.Name, sink.Format)
		}
	}

	if Config.Admin.Enabled && (Config.Admin.Port < 1 || Config.Admin.Port > 65535) {
		return fmt.Errorf("invalid admin port: %d", Config.Admin.Port)
	}

	if Config.Logging.Format != "console" && Config.Logging.Format != "json" {
		return fmt.Errorf("invalid logging format: %q", Config.Logging.Format)
	}

	return nil
}

// RecordStorePath returns the SQLite file path, resolved under the data directory
func RecordStorePath() string {
	return resolve(Config.RecordStore.Path)
}

// DocumentStorePath returns the Pebble directory, resolved under the data directory
func DocumentStorePath() string {
	return resolve(Config.DocumentStore.Path)
}

func resolve(p string) string {
	if path.IsAbs(p) {
		return p
	}
	return path.Join(Config.DataDir, p)
}
