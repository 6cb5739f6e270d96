package publisher

import (
	"fmt"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/maxpert/credmirror/cfg"
	"github.com/rs/zerolog/log"
)

// RegistryConfig configures the publisher registry
type RegistryConfig struct {
	DataDir     string                  // Parent of the publish_log directory
	SinkConfigs []cfg.SinkConfiguration // From config
}

// SinkStatus is a point-in-time view of one sink
type SinkStatus struct {
	Name   string `json:"name"`
	Cursor uint64 `json:"cursor"`
	Lag    uint64 `json:"lag"`
}

// Registry owns the publish log and one worker per configured sink
type Registry struct {
	log     *PublishLog
	workers []*Worker
	running atomic.Bool
	closed  bool
	mu      sync.Mutex
}

// NewRegistry opens the publish log under dataDir and builds every sink
func NewRegistry(config RegistryConfig) (*Registry, error) {
	if config.DataDir == "" {
		return nil, fmt.Errorf("data directory is required")
	}

	pubLog, err := OpenPublishLog(filepath.Join(config.DataDir, "publish_log"))
	if err != nil {
		return nil, fmt.Errorf("failed to create publish log: %w", err)
	}

	registry := &Registry{
		log:     pubLog,
		workers: make([]*Worker, 0, len(config.SinkConfigs)),
	}

	for _, sinkCfg := range config.SinkConfigs {
		if err := registry.AddSink(sinkCfg); err != nil {
			for _, worker := range registry.workers {
				worker.config.Sink.Close()
			}
			pubLog.Close()
			return nil, fmt.Errorf("failed to add sink %q: %w", sinkCfg.Name, err)
		}
	}

	log.Info().Int("workers", len(registry.workers)).Msg("Publisher registry initialized")
	return registry, nil
}

// AddSink creates the sink, transformer and filter for config and adds a worker
func (r *Registry) AddSink(config cfg.SinkConfiguration) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return ErrLogClosed
	}

	snk, err := createSink(config)
	if err != nil {
		return fmt.Errorf("failed to create sink: %w", err)
	}

	trans, err := createTransformer(config.Format)
	if err != nil {
		snk.Close()
		return fmt.Errorf("failed to create transformer: %w", err)
	}

	filter, err := NewGlobFilter(config.FilterOrigins, config.FilterKinds)
	if err != nil {
		snk.Close()
		return fmt.Errorf("failed to create filter: %w", err)
	}

	worker, err := NewWorker(WorkerConfig{
		Name:            config.Name,
		Log:             r.log,
		Sink:            snk,
		Transformer:     trans,
		Filter:          filter,
		TopicPrefix:     config.TopicPrefix,
		BatchSize:       config.BatchSize,
		PollInterval:    time.Duration(config.PollIntervalMS) * time.Millisecond,
		RetryInitial:    time.Duration(config.RetryInitialMS) * time.Millisecond,
		RetryMax:        time.Duration(config.RetryMaxMS) * time.Millisecond,
		RetryMultiplier: config.RetryMultiplier,
		MaxRetries:      config.MaxRetries,
	})
	if err != nil {
		snk.Close()
		return fmt.Errorf("failed to create worker: %w", err)
	}

	r.workers = append(r.workers, worker)
	if r.running.Load() {
		worker.Start()
	}

	log.Info().
		Str("sink", config.Name).
		Str("type", config.Type).
		Str("format", config.Format).
		Msg("Added publisher sink")

	return nil
}

// Start starts all workers
func (r *Registry) Start() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return ErrLogClosed
	}
	if r.running.Load() {
		return fmt.Errorf("registry already running")
	}

	for _, worker := range r.workers {
		worker.Start()
	}
	r.running.Store(true)
	return nil
}

// Stop stops all workers, closes their sinks and the publish log.
// A registry cannot be restarted after Stop.
func (r *Registry) Stop() {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return
	}
	r.closed = true
	r.running.Store(false)

	for _, worker := range r.workers {
		worker.Stop()
		if err := worker.config.Sink.Close(); err != nil {
			log.Warn().Err(err).Str("sink", worker.Name()).Msg("Failed to close sink")
		}
	}

	if err := r.log.Close(); err != nil {
		log.Warn().Err(err).Msg("Failed to close publish log")
	}

	log.Info().Msg("Publisher registry stopped")
}

// Append adds document events to the publish log. Events appended before
// Start are kept and published once workers run.
func (r *Registry) Append(events []DocEvent) error {
	return r.log.Append(events)
}

// Status reports every sink's cursor and how far it trails the log
func (r *Registry) Status() []SinkStatus {
	last := r.log.LastSeq()
	cursors := r.log.Cursors()

	out := make([]SinkStatus, 0, len(cursors))
	for _, name := range sortedSinks(cursors) {
		cursor := cursors[name]
		var lag uint64
		if last > cursor {
			lag = last - cursor
		}
		out = append(out, SinkStatus{Name: name, Cursor: cursor, Lag: lag})
	}
	return out
}

// createSink creates a sink based on the configuration
func createSink(config cfg.SinkConfiguration) (Sink, error) {
	factoryMu.RLock()
	factory, exists := sinkFactories[config.Type]
	factoryMu.RUnlock()

	if !exists {
		return nil, fmt.Errorf("unknown sink type: %s", config.Type)
	}
	return factory(config)
}

// SinkFactory is a function that creates a Sink from a configuration
type SinkFactory func(cfg.SinkConfiguration) (Sink, error)

// TransformerFactory is a function that creates a Transformer
type TransformerFactory func() Transformer

var (
	sinkFactories        = make(map[string]SinkFactory)
	transformerFactories = make(map[string]TransformerFactory)
	factoryMu            sync.RWMutex
)

// RegisterSink registers a sink factory for a type
func RegisterSink(sinkType string, factory SinkFactory) {
	factoryMu.Lock()
	defer factoryMu.Unlock()
	sinkFactories[sinkType] = factory
}

// RegisterTransformer registers a transformer factory for a format
func RegisterTransformer(format string, factory TransformerFactory) {
	factoryMu.Lock()
	defer factoryMu.Unlock()
	transformerFactories[format] = factory
}

// createTransformer creates a transformer based on the format
func createTransformer(format string) (Transformer, error) {
	factoryMu.RLock()
	factory, exists := transformerFactories[format]
	factoryMu.RUnlock()

	if !exists {
		return nil, fmt.Errorf("unknown format: %s", format)
	}
	return factory(), nil
}
