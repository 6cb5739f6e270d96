package publisher

import (
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/maxpert/credmirror/telemetry"
	"github.com/rs/zerolog/log"
)

const (
	// Default batch size for reading events per poll cycle
	DefaultBatchSize = 100
	// Default interval between poll cycles
	DefaultPollInterval = 100 * time.Millisecond
	// Default initial retry delay for failed publish operations
	DefaultRetryInitial = 100 * time.Millisecond
	// Default maximum retry delay (exponential backoff cap)
	DefaultRetryMax = 30 * time.Second
	// Default exponential backoff multiplier
	DefaultRetryMultiplier = 2.0
	// Maximum number of retry attempts before giving up on an event
	DefaultMaxRetries = 100
)

// WorkerConfig configures a publisher worker
type WorkerConfig struct {
	Name            string        // Sink name (for cursor tracking)
	Log             *PublishLog   // Publish log to read from
	Sink            Sink          // Destination sink
	Transformer     Transformer   // Event transformer
	Filter          Filter        // Event filter
	TopicPrefix     string        // Topic prefix (e.g., "credmirror")
	BatchSize       int           // Events per poll cycle
	PollInterval    time.Duration // Poll interval
	RetryInitial    time.Duration // Initial retry delay
	RetryMax        time.Duration // Max retry delay
	RetryMultiplier float64       // Backoff multiplier
	MaxRetries      int           // Maximum retry attempts
}

// Worker polls the PublishLog and publishes events to one sink.
// Delivery is at-least-once: the cursor advances only after a publish
// succeeds, so a crash in between redelivers the event.
type Worker struct {
	config      WorkerConfig
	cursor      atomic.Uint64
	stopCh      chan struct{}
	doneCh      chan struct{}
	running     atomic.Bool
	lifecycleMu sync.Mutex
}

// NewWorker creates a worker positioned at the sink's persisted cursor
func NewWorker(config WorkerConfig) (*Worker, error) {
	if config.Name == "" {
		return nil, fmt.Errorf("worker name is required")
	}
	if config.Log == nil {
		return nil, fmt.Errorf("publish log is required")
	}
	if config.Sink == nil {
		return nil, fmt.Errorf("sink is required")
	}
	if config.Transformer == nil {
		return nil, fmt.Errorf("transformer is required")
	}
	if config.Filter == nil {
		return nil, fmt.Errorf("filter is required")
	}

	if config.BatchSize <= 0 {
		config.BatchSize = DefaultBatchSize
	}
	if config.PollInterval <= 0 {
		config.PollInterval = DefaultPollInterval
	}
	if config.RetryInitial <= 0 {
		config.RetryInitial = DefaultRetryInitial
	}
	if config.RetryMax <= 0 {
		config.RetryMax = DefaultRetryMax
	}
	if config.RetryMultiplier <= 0 {
		config.RetryMultiplier = DefaultRetryMultiplier
	}
	if config.MaxRetries <= 0 {
		config.MaxRetries = DefaultMaxRetries
	}

	cursor, err := config.Log.Cursor(config.Name)
	if err != nil {
		return nil, fmt.Errorf("failed to get cursor: %w", err)
	}

	// A new sink starts at the oldest event still in the log
	if cursor == 0 {
		events, err := config.Log.ReadFrom(0, 1)
		if err != nil {
			return nil, fmt.Errorf("failed to find earliest event: %w", err)
		}
		if len(events) > 0 {
			cursor = events[0].SeqNum - 1
		}
	}

	// Registering the cursor keeps compaction from dropping unread events
	if err := config.Log.Advance(config.Name, cursor); err != nil {
		return nil, err
	}

	w := &Worker{config: config}
	w.cursor.Store(cursor)
	return w, nil
}

// Name returns the sink name
func (w *Worker) Name() string {
	return w.config.Name
}

// Cursor returns the last published sequence
func (w *Worker) Cursor() uint64 {
	return w.cursor.Load()
}

// Start starts the worker goroutine
func (w *Worker) Start() {
	w.lifecycleMu.Lock()
	defer w.lifecycleMu.Unlock()

	if w.running.Load() {
		return
	}

	w.running.Store(true)
	w.stopCh = make(chan struct{})
	w.doneCh = make(chan struct{})

	log.Info().
		Str("worker", w.config.Name).
		Uint64("cursor", w.cursor.Load()).
		Msg("Starting publisher worker")

	go w.pollLoop()
}

// Stop stops the worker and waits for it to exit
func (w *Worker) Stop() {
	w.lifecycleMu.Lock()
	defer w.lifecycleMu.Unlock()

	if !w.running.Load() {
		return
	}

	close(w.stopCh)
	<-w.doneCh
	w.running.Store(false)

	log.Info().Str("worker", w.config.Name).Msg("Publisher worker stopped")
}

func (w *Worker) pollLoop() {
	defer close(w.doneCh)

	for {
		select {
		case <-w.stopCh:
			return
		default:
		}

		events, err := w.config.Log.ReadFrom(w.cursor.Load(), w.config.BatchSize)
		if err != nil {
			log.Error().
				Err(err).
				Str("worker", w.config.Name).
				Uint64("cursor", w.cursor.Load()).
				Msg("Failed to read from publish log")
			w.sleep(w.config.PollInterval)
			continue
		}

		if len(events) == 0 {
			w.sleep(w.config.PollInterval)
			continue
		}

		for _, event := range events {
			if err := w.processEvent(event); err != nil {
				log.Error().
					Err(err).
					Str("worker", w.config.Name).
					Uint64("seq", event.SeqNum).
					Msg("Giving up on document event, worker halted")
				return
			}
			w.cursor.Store(event.SeqNum)
		}
	}
}

// processEvent publishes one event, and a tombstone after deletes, then
// advances the cursor. Filtered events only advance the cursor.
func (w *Worker) processEvent(event DocEvent) error {
	if w.config.Filter.Match(event.Origin, event.Kind) {
		data, err := w.config.Transformer.Transform(event)
		if err != nil {
			return fmt.Errorf("failed to transform event: %w", err)
		}

		topic := w.buildTopic(event.Kind)
		if err := w.publishWithRetry(topic, event.ID, data); err != nil {
			return err
		}
		if event.Deleted() {
			if err := w.publishWithRetry(topic, event.ID, w.config.Transformer.Tombstone(event.ID)); err != nil {
				return err
			}
		}
		telemetry.PublishEventsTotal.With(w.config.Name).Inc()
	}

	if err := w.config.Log.Advance(w.config.Name, event.SeqNum); err != nil {
		log.Warn().
			Err(err).
			Str("worker", w.config.Name).
			Uint64("seq", event.SeqNum).
			Msg("Failed to advance cursor, event may be redelivered")
	}
	return nil
}

// buildTopic returns {prefix}.{kind}; origins never appear in topics since
// they contain characters brokers reserve
func (w *Worker) buildTopic(kind string) string {
	if w.config.TopicPrefix == "" {
		return kind
	}
	return strings.TrimSuffix(w.config.TopicPrefix, ".") + "." + kind
}

// publishWithRetry publishes data with exponential backoff
func (w *Worker) publishWithRetry(topic, key string, data []byte) error {
	delay := w.config.RetryInitial
	attempts := 0

	for {
		err := w.config.Sink.Publish(topic, key, data)
		if err == nil {
			return nil
		}

		attempts++
		if attempts >= w.config.MaxRetries {
			return fmt.Errorf("exhausted max retries (%d) for topic %s: %w", w.config.MaxRetries, topic, err)
		}
		telemetry.PublishRetriesTotal.With(w.config.Name).Inc()

		log.Warn().
			Err(err).
			Str("worker", w.config.Name).
			Str("topic", topic).
			Int("attempt", attempts).
			Dur("retry_delay", delay).
			Msg("Failed to publish event, retrying")

		if !w.sleep(delay) {
			return fmt.Errorf("worker stopped during retry")
		}

		delay = min(time.Duration(float64(delay)*w.config.RetryMultiplier), w.config.RetryMax)
	}
}

// sleep waits for d or until the worker stops; false means stopped
func (w *Worker) sleep(d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-w.stopCh:
		return false
	case <-timer.C:
		return true
	}
}
