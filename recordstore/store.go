// Package recordstore holds the authoritative credential store the mirror
// observes: lookups, mutations and change notifications.
package recordstore

import (
	"context"
	"errors"

	"github.com/maxpert/credmirror/notify"
	"github.com/maxpert/credmirror/record"
)

var (
	// ErrNotFound is returned when Modify or Remove cannot locate the record.
	ErrNotFound = errors.New("record not found")
	// ErrDuplicate is returned when Add would store a record equal to an existing one.
	ErrDuplicate = errors.New("record already exists")
)

// Store is the record store contract. Every successful mutation publishes a
// record.Notification to subscribers after it is durable.
type Store interface {
	// Find returns all records under the criteria, in store order.
	Find(ctx context.Context, criteria record.Criteria) ([]record.Record, error)
	// Add stores r.
	Add(ctx context.Context, r record.Record) error
	// Modify replaces the stored record equal to existing with updated.
	Modify(ctx context.Context, existing, updated record.Record) error
	// Remove deletes the stored record equal to r.
	Remove(ctx context.Context, r record.Record) error
	// List returns every record.
	List(ctx context.Context) ([]record.Record, error)
	// Count returns the number of stored records.
	Count(ctx context.Context) (int, error)

	notify.Subscriber
}
