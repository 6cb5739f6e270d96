// Package docstore is the versioned document store the mirror writes into.
//
// Every stored document carries an opaque revision. Writes are optimistic: a
// Put without a revision only succeeds when the id is free, a Put or Remove
// with a revision only succeeds when it is still current. Anything else fails
// with ErrConflict and is never retried by the store.
package docstore

import (
	"context"
	"errors"

	"github.com/maxpert/credmirror/document"
)

var (
	// ErrNotFound is returned by Get when no document has the id.
	ErrNotFound = errors.New("document not found")
	// ErrConflict is returned when a write carries a stale or missing revision.
	ErrConflict = errors.New("document revision conflict")
	// ErrClosed is returned after Close.
	ErrClosed = errors.New("document store is closed")
)

// Store is the document store contract.
type Store interface {
	// Get returns the current document with its revision.
	Get(ctx context.Context, id string) (document.Document, error)
	// Put inserts doc when doc.Rev is empty, otherwise updates it. It returns
	// the new revision.
	Put(ctx context.Context, doc document.Document) (string, error)
	// Remove deletes doc; doc.Rev must be current.
	Remove(ctx context.Context, doc document.Document) error
	// IDs lists every stored id in ascending order.
	IDs(ctx context.Context) ([]string, error)
	// Count returns the number of stored documents.
	Count(ctx context.Context) (int, error)
}
