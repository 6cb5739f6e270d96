package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/maxpert/credmirror/admin"
	"github.com/maxpert/credmirror/cfg"
	"github.com/maxpert/credmirror/docstore"
	"github.com/maxpert/credmirror/mirror"
	"github.com/maxpert/credmirror/notify"
	"github.com/maxpert/credmirror/publisher"
	_ "github.com/maxpert/credmirror/publisher/sink"
	_ "github.com/maxpert/credmirror/publisher/transformer"
	"github.com/maxpert/credmirror/recordstore"
	"github.com/maxpert/credmirror/replica"
	"github.com/maxpert/credmirror/telemetry"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

const (
	metricsCollectInterval = 30 * time.Second
	shutdownTimeout        = 10 * time.Second
)

func main() {
	flag.Parse()

	// Load configuration
	err := cfg.Load(*cfg.ConfigPathFlag)
	if err != nil {
		panic(err)
	}

	// Validate configuration
	if err := cfg.Validate(); err != nil {
		panic(fmt.Sprintf("Invalid configuration: %v", err))
	}

	// Setup logging
	var writer io.Writer = zerolog.NewConsoleWriter()
	if cfg.Config.Logging.Format == "json" {
		writer = os.Stdout
	}
	gLog := zerolog.New(writer).
		With().
		Timestamp().
		Uint64("node_id", cfg.Config.NodeID).
		Logger()

	if cfg.Config.Logging.Verbose {
		log.Logger = gLog.Level(zerolog.DebugLevel)
	} else {
		log.Logger = gLog.Level(zerolog.InfoLevel)
	}

	log.Info().Msg("credmirror - credential store mirror")
	log.Debug().Msg("Initializing telemetry")
	telemetry.InitializeTelemetry()

	if err := os.MkdirAll(cfg.Config.DataDir, 0o755); err != nil {
		log.Fatal().Err(err).Str("data_dir", cfg.Config.DataDir).Msg("Failed to create data directory")
		return
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Record store (authoritative)
	log.Info().Str("path", cfg.RecordStorePath()).Msg("Opening record store")
	hub := notify.NewHub(cfg.Config.Mirror.NotificationBuffer)
	records, err := recordstore.OpenSQLite(cfg.RecordStorePath(), cfg.Config.RecordStore.BusyTimeoutMS, hub)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to open record store")
		return
	}
	defer records.Close()

	// Document store (mirror)
	docs, closeDocs, err := openDocumentStore()
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to open document store")
		return
	}
	defer closeDocs()

	// Outbound change feed
	log.Info().Int("sinks", len(cfg.Config.Publisher.Sinks)).Msg("Initializing publisher")
	registry, err := publisher.NewRegistry(publisher.RegistryConfig{
		DataDir:     cfg.Config.DataDir,
		SinkConfigs: cfg.Config.Publisher.Sinks,
	})
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to initialize publisher")
		return
	}
	if err := registry.Start(); err != nil {
		log.Fatal().Err(err).Msg("Failed to start publisher")
		return
	}
	defer registry.Stop()

	// Reconciler and engine
	filter, err := mirror.NewOriginFilter(cfg.Config.Mirror.Origins)
	if err != nil {
		log.Fatal().Err(err).Msg("Invalid origin filter")
		return
	}
	reconciler := mirror.NewReconciler(records, docs, mirror.Options{
		LockShards:  cfg.Config.Mirror.LockShards,
		Filter:      filter,
		Feed:        registry,
		NodeID:      cfg.Config.NodeID,
		PruneAbsent: cfg.Config.Mirror.PruneAbsent,
	})
	engine, err := mirror.NewEngine(mirror.EngineConfig{
		Records:      records,
		Reconciler:   reconciler,
		SyncInterval: time.Duration(cfg.Config.Mirror.SyncIntervalSeconds) * time.Second,
		SyncOnStart:  cfg.Config.Mirror.SyncOnStart,
	})
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to create mirror engine")
		return
	}
	engine.Start(ctx)
	defer engine.Stop()

	// Inbound replication
	var inbound *replica.NatsSource
	if cfg.Config.Inbound.Enabled {
		inbound, err = startInbound(ctx, records)
		if err != nil {
			log.Fatal().Err(err).Msg("Failed to start inbound source")
			return
		}
		defer inbound.Stop()
	}

	// Store size gauges
	collector := telemetry.NewMetricsCollector(records, docs, metricsCollectInterval)
	collector.Start()
	defer collector.Stop()

	// Admin API
	if cfg.Config.Admin.Enabled {
		server, err := startAdmin(records, docs, engine, registry, inbound)
		if err != nil {
			log.Fatal().Err(err).Msg("Failed to start admin server")
			return
		}
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
			defer cancel()
			if err := server.Shutdown(shutdownCtx); err != nil {
				log.Warn().Err(err).Msg("Admin server shutdown failed")
			}
		}()
	}

	log.Info().
		Uint64("node_id", cfg.Config.NodeID).
		Str("data_dir", cfg.Config.DataDir).
		Str("document_backend", string(cfg.Config.DocumentStore.Backend)).
		Bool("inbound", cfg.Config.Inbound.Enabled).
		Msg("Node is operational")

	<-ctx.Done()
	log.Info().Msg("Shutting down")
}

func openDocumentStore() (docstore.Store, func(), error) {
	switch cfg.Config.DocumentStore.Backend {
	case cfg.BackendMemory:
		log.Info().Msg("Using in-memory document store")
		return docstore.NewMemoryStore(), func() {}, nil
	default:
		path := cfg.DocumentStorePath()
		log.Info().Str("path", path).Bool("compress", cfg.Config.DocumentStore.Compress).Msg("Opening document store")
		store, err := docstore.OpenPebble(path, cfg.Config.DocumentStore.Compress)
		if err != nil {
			return nil, nil, err
		}
		return store, func() {
			if err := store.Close(); err != nil {
				log.Warn().Err(err).Msg("Failed to close document store")
			}
		}, nil
	}
}

func startInbound(ctx context.Context, records recordstore.Store) (*replica.NatsSource, error) {
	applier, err := replica.NewApplier(records, cfg.Config.Inbound.DedupeCacheSize)
	if err != nil {
		return nil, err
	}

	source, err := replica.NewNatsSource(replica.SourceConfig{
		URL:       cfg.Config.Inbound.NatsURL,
		Subject:   cfg.Config.Inbound.Subject,
		NodeID:    cfg.Config.NodeID,
		BatchSize: cfg.Config.Inbound.BatchSize,
	}, applier)
	if err != nil {
		return nil, err
	}

	if err := source.Start(ctx); err != nil {
		source.Stop()
		return nil, err
	}
	return source, nil
}

func startAdmin(
	records recordstore.Store,
	docs docstore.Store,
	engine *mirror.Engine,
	registry *publisher.Registry,
	inbound *replica.NatsSource,
) (*admin.Server, error) {
	handlerConfig := admin.HandlerConfig{
		NodeID:  cfg.Config.NodeID,
		Mirror:  engine,
		Records: records,
		Docs:    docs,
		Sinks:   registry,
	}
	if inbound != nil {
		handlerConfig.Inbound = inbound
	}

	handlers, err := admin.NewAdminHandlers(handlerConfig)
	if err != nil {
		return nil, err
	}

	router := admin.NewRouter(handlers, cfg.Config.Admin.Secret, telemetry.GetMetricsHandler())
	server := admin.NewServer(fmt.Sprintf("%s:%d", cfg.Config.Admin.BindAddress, cfg.Config.Admin.Port), router)
	if err := server.Start(); err != nil {
		return nil, err
	}
	return server, nil
}
