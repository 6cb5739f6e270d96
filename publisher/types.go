package publisher

import "github.com/maxpert/credmirror/document"

// Operation types for document events
const (
	OpInsert uint8 = 0
	OpUpdate uint8 = 1
	OpDelete uint8 = 2
)

// DocEvent is a single document store write to publish
type DocEvent struct {
	SeqNum    uint64             `msgpack:"seq"`           // Monotonic sequence
	Operation uint8              `msgpack:"op"`            // 0=INSERT, 1=UPDATE, 2=DELETE
	ID        string             `msgpack:"id"`            // Derived document id
	Rev       string             `msgpack:"rev"`           // Revision after the write; removed revision for deletes
	Origin    string             `msgpack:"origin"`        // Origin of the mirrored record
	Kind      string             `msgpack:"kind"`          // form or http
	Doc       *document.Document `msgpack:"doc,omitempty"` // Written document, nil for deletes
	CommitTS  int64              `msgpack:"ts"`            // Write timestamp (unix ms)
	NodeID    uint64             `msgpack:"node"`          // Originating node
}

// Deleted reports whether the event removes its document
func (e DocEvent) Deleted() bool {
	return e.Operation == OpDelete
}

// Sink represents a destination for document events (e.g., Kafka, NATS)
type Sink interface {
	// Publish sends an event to the sink
	Publish(topic string, key string, value []byte) error
	// Close releases any resources held by the sink
	Close() error
}

// Transformer converts document events to sink-specific formats
type Transformer interface {
	// Transform converts an event to bytes for publishing
	Transform(event DocEvent) ([]byte, error)
	// Tombstone creates a tombstone/delete marker for the given key
	Tombstone(key string) []byte
}

// Filter determines whether a document event should be published
type Filter interface {
	// Match returns true if the event should be published
	Match(origin, kind string) bool
}
