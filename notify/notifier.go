// Package notify fans record store change notifications out to subscribers
// over buffered channels, decoupling delivery from processing.
package notify

import (
	"sync"
	"sync/atomic"

	"github.com/maxpert/credmirror/record"
	"github.com/maxpert/credmirror/telemetry"
	"github.com/rs/zerolog/log"
)

// DefaultBufferSize is the per-subscriber channel buffer.
// Subscribers that fall this far behind lose notifications; the periodic full
// sync is what repairs the mirror afterwards.
const DefaultBufferSize = 256

// Filter selects which notifications a subscriber receives.
type Filter struct {
	Tags []record.Tag // nil or empty = all tags
}

// Publisher is implemented by stores that emit notifications.
type Publisher interface {
	Publish(n record.Notification)
}

// Subscriber is implemented by stores that let callers observe notifications.
type Subscriber interface {
	Subscribe(filter Filter) (notifications <-chan record.Notification, cancel func())
}

// subscription represents a single subscriber.
type subscription struct {
	id     uint64
	filter Filter
	ch     chan record.Notification
	closed atomic.Bool
}

func (s *subscription) matches(tag record.Tag) bool {
	if len(s.filter.Tags) == 0 {
		return true
	}
	for _, t := range s.filter.Tags {
		if t == tag {
			return true
		}
	}
	return false
}

// close closes the subscription channel if not already closed.
func (s *subscription) close() {
	if s.closed.CompareAndSwap(false, true) {
		close(s.ch)
	}
}

// Hub is a thread-safe notification hub implementing Publisher and Subscriber.
type Hub struct {
	mu            sync.RWMutex
	subscriptions map[uint64]*subscription
	nextID        atomic.Uint64
	bufferSize    int
	dropped       atomic.Uint64
}

// NewHub creates a hub whose subscribers buffer bufferSize notifications.
// A non-positive size selects DefaultBufferSize.
func NewHub(bufferSize int) *Hub {
	if bufferSize <= 0 {
		bufferSize = DefaultBufferSize
	}
	return &Hub{
		subscriptions: make(map[uint64]*subscription),
		bufferSize:    bufferSize,
	}
}

// Publish delivers n to every matching subscriber without blocking.
func (h *Hub) Publish(n record.Notification) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	for _, sub := range h.subscriptions {
		if !sub.matches(n.Tag) {
			continue
		}

		select {
		case sub.ch <- n:
		default:
			h.dropped.Add(1)
			telemetry.NotificationsDroppedTotal.Inc()
			log.Warn().
				Uint64("subscription", sub.id).
				Str("tag", string(n.Tag)).
				Msg("Subscriber buffer full, dropping notification")
		}
	}
}

// Subscribe registers a subscriber and returns its channel plus an idempotent cancel.
func (h *Hub) Subscribe(filter Filter) (<-chan record.Notification, func()) {
	sub := &subscription{
		id:     h.nextID.Add(1),
		filter: filter,
		ch:     make(chan record.Notification, h.bufferSize),
	}

	h.mu.Lock()
	h.subscriptions[sub.id] = sub
	h.mu.Unlock()

	return sub.ch, func() { h.unsubscribe(sub.id) }
}

// Dropped returns how many notifications were dropped across all subscribers.
func (h *Hub) Dropped() uint64 {
	return h.dropped.Load()
}

func (h *Hub) unsubscribe(id uint64) {
	h.mu.Lock()
	sub, ok := h.subscriptions[id]
	if ok {
		delete(h.subscriptions, id)
	}
	h.mu.Unlock()

	if ok {
		sub.close()
	}
}
