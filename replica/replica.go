package replica

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/maxpert/credmirror/encoding"
	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog/log"
)

const (
	// DefaultBatchSize caps how many pending messages are applied together
	DefaultBatchSize = 64
	// Pending message buffer between the NATS client and the apply loop
	messageBuffer = 1024
)

// SourceState represents the current state of the inbound source
type SourceState int32

const (
	StateInitializing SourceState = iota
	StateStreaming
	StateReconnecting
	StateStopped
)

func (s SourceState) String() string {
	switch s {
	case StateInitializing:
		return "INITIALIZING"
	case StateStreaming:
		return "STREAMING"
	case StateReconnecting:
		return "RECONNECTING"
	case StateStopped:
		return "STOPPED"
	default:
		return "UNKNOWN"
	}
}

// SourceConfig configures a NatsSource
type SourceConfig struct {
	URL       string // NATS server URL
	Subject   string // Subject (wildcards allowed) carrying document events
	NodeID    uint64 // Events published by this node are ignored
	BatchSize int    // Max messages applied per batch
}

// wireChange is the decoded shape of an inbound message. It accepts the
// events this node's publisher emits, so nodes can feed each other.
type wireChange struct {
	Change `msgpack:",inline"`
	Node   uint64 `msgpack:"node" json:"node"`
}

// NatsSource subscribes to document events on NATS and applies them
type NatsSource struct {
	config  SourceConfig
	applier *Applier

	nc   *nats.Conn
	sub  *nats.Subscription
	msgs chan *nats.Msg

	state       atomic.Int32
	received    atomic.Uint64
	stopCh      chan struct{}
	doneCh      chan struct{}
	lifecycleMu sync.Mutex
}

// NewNatsSource connects to NATS. The connection retries in the background
// until the server becomes reachable.
func NewNatsSource(config SourceConfig, applier *Applier) (*NatsSource, error) {
	if config.URL == "" {
		return nil, fmt.Errorf("inbound source requires nats_url")
	}
	if config.Subject == "" {
		return nil, fmt.Errorf("inbound source requires subject")
	}
	if config.BatchSize <= 0 {
		config.BatchSize = DefaultBatchSize
	}

	s := &NatsSource{
		config:  config,
		applier: applier,
		msgs:    make(chan *nats.Msg, messageBuffer),
	}
	s.state.Store(int32(StateInitializing))

	nc, err := nats.Connect(config.URL,
		nats.RetryOnFailedConnect(true),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(time.Second),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			s.setState(StateReconnecting)
		}),
		nats.ReconnectHandler(func(_ *nats.Conn) {
			s.setState(StateStreaming)
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS: %w", err)
	}
	s.nc = nc

	return s, nil
}

// State returns the current source state
func (s *NatsSource) State() SourceState {
	return SourceState(s.state.Load())
}

func (s *NatsSource) setState(state SourceState) {
	old := SourceState(s.state.Swap(int32(state)))
	if old != state {
		log.Info().
			Str("from", old.String()).
			Str("to", state.String()).
			Msg("Inbound source state changed")
	}
}

// Start subscribes and launches the apply loop
func (s *NatsSource) Start(ctx context.Context) error {
	s.lifecycleMu.Lock()
	defer s.lifecycleMu.Unlock()

	if s.sub != nil {
		return nil
	}

	sub, err := s.nc.ChanSubscribe(s.config.Subject, s.msgs)
	if err != nil {
		return fmt.Errorf("failed to subscribe to %s: %w", s.config.Subject, err)
	}
	s.sub = sub
	s.stopCh = make(chan struct{})
	s.doneCh = make(chan struct{})
	s.setState(StateStreaming)

	log.Info().
		Str("subject", s.config.Subject).
		Int("batch_size", s.config.BatchSize).
		Msg("Inbound source subscribed")

	go s.loop(ctx)
	return nil
}

// Stop unsubscribes, finishes the in-flight batch and closes the connection
func (s *NatsSource) Stop() {
	s.lifecycleMu.Lock()
	defer s.lifecycleMu.Unlock()

	if s.sub != nil {
		if err := s.sub.Unsubscribe(); err != nil {
			log.Warn().Err(err).Msg("Failed to unsubscribe inbound source")
		}
		close(s.stopCh)
		<-s.doneCh
		s.sub = nil
	}
	s.nc.Close()
	s.setState(StateStopped)
}

// Received returns how many messages have been taken off the subscription
func (s *NatsSource) Received() uint64 {
	return s.received.Load()
}

func (s *NatsSource) loop(ctx context.Context) {
	defer close(s.doneCh)

	for {
		select {
		case <-s.stopCh:
			return
		case <-ctx.Done():
			return
		case msg := <-s.msgs:
			batch := [][]byte{msg.Data}
		drain:
			for len(batch) < s.config.BatchSize {
				select {
				case more := <-s.msgs:
					batch = append(batch, more.Data)
				default:
					break drain
				}
			}
			s.received.Add(uint64(len(batch)))
			s.applyBatch(ctx, batch)
		}
	}
}

// applyBatch decodes raw payloads and applies the changes they carry
func (s *NatsSource) applyBatch(ctx context.Context, payloads [][]byte) {
	changes := decodeBatch(payloads, s.config.NodeID)
	if len(changes) == 0 {
		return
	}

	rep, err := s.applier.ApplyAll(ctx, changes)
	if err != nil {
		log.Error().Err(err).Strs("failed", rep.Failed).Msg("Failed to apply inbound changes")
		return
	}
	log.Debug().
		Int("applied", rep.Applied).
		Int("skipped", rep.Skipped).
		Msg("Applied inbound batch")
}

// decodeBatch turns payloads into changes. Empty payloads are tombstones
// and carry nothing to apply; undecodable ones are logged and dropped.
// JSON envelopes are accepted next to msgpack ones.
func decodeBatch(payloads [][]byte, self uint64) []Change {
	changes := make([]Change, 0, len(payloads))
	for _, data := range payloads {
		if len(data) == 0 {
			continue
		}

		var wc wireChange
		if err := decodeWire(data, &wc); err != nil {
			log.Warn().Err(err).Int("bytes", len(data)).Msg("Failed to decode inbound change")
			continue
		}
		if wc.Node != 0 && wc.Node == self {
			continue
		}
		changes = append(changes, wc.Change)
	}
	return changes
}

func decodeWire(data []byte, wc *wireChange) error {
	if data[0] == '{' {
		return json.Unmarshal(data, wc)
	}
	return encoding.Unmarshal(data, wc)
}
