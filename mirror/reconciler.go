package mirror

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/cespare/xxhash/v2"
	"github.com/maxpert/credmirror/docstore"
	"github.com/maxpert/credmirror/document"
	"github.com/maxpert/credmirror/id"
	"github.com/maxpert/credmirror/publisher"
	"github.com/maxpert/credmirror/record"
	"github.com/maxpert/credmirror/telemetry"
	"github.com/rs/zerolog/log"
)

// DefaultLockShards is the number of per-id mutexes when Options leaves it unset.
const DefaultLockShards = 256

// Action is the document store write a reconciliation performed.
type Action uint8

const (
	ActionNoop Action = iota
	ActionInsert
	ActionUpdate
	ActionDelete
)

func (a Action) String() string {
	switch a {
	case ActionNoop:
		return "noop"
	case ActionInsert:
		return "insert"
	case ActionUpdate:
		return "update"
	case ActionDelete:
		return "delete"
	default:
		return fmt.Sprintf("action(%d)", uint8(a))
	}
}

// Outcome describes one reconciliation. Rev is the revision after the write,
// the removed revision for deletes, and the current revision for no-ops on
// existing documents. ID is set even when reconciliation fails.
type Outcome struct {
	ID     string
	Action Action
	Rev    string
}

// RecordLister is the part of the record store bulk sync reads.
type RecordLister interface {
	List(ctx context.Context) ([]record.Record, error)
}

// Feed receives every document write the reconciler performs.
type Feed interface {
	Append(events []publisher.DocEvent) error
}

// Options tunes a Reconciler. The zero value is usable.
type Options struct {
	LockShards  int
	Filter      *OriginFilter
	Feed        Feed
	NodeID      uint64
	PruneAbsent bool
}

// Reconciler applies Changes to the document store. Work on one derived id
// is serialized; different ids proceed concurrently.
type Reconciler struct {
	records RecordLister
	docs    *docstore.Async
	locks   []sync.Mutex
	opts    Options
}

func NewReconciler(records RecordLister, docs docstore.Store, opts Options) *Reconciler {
	if opts.LockShards <= 0 {
		opts.LockShards = DefaultLockShards
	}
	return &Reconciler{
		records: records,
		docs:    docstore.NewAsync(docs),
		locks:   make([]sync.Mutex, opts.LockShards),
		opts:    opts,
	}
}

// lockFor returns the sharded mutex for a derived id
func (r *Reconciler) lockFor(docID string) *sync.Mutex {
	return &r.locks[xxhash.Sum64String(docID)%uint64(len(r.locks))]
}

// Reconcile brings the document for c.Record in line with c.Op:
//
//	added/modified/observed, absent      -> insert
//	added/modified/observed, equivalent  -> no-op
//	added/modified/observed, different   -> update at the current rev
//	removed, present                     -> delete
//	removed, absent                      -> no-op
//
// A cancelled ctx prevents the lookup from starting; once started, the
// lookup and its write run to completion. Revision conflicts are returned
// wrapped and not retried.
func (r *Reconciler) Reconcile(ctx context.Context, c Change) (Outcome, error) {
	if err := c.Record.Validate(); err != nil {
		telemetry.ReconcileErrorsTotal.With("malformed").Inc()
		return Outcome{}, err
	}

	docID := id.Derive(c.Record)
	out := Outcome{ID: docID}
	if !r.opts.Filter.Allow(c.Record.Origin) {
		return out, nil
	}
	if err := ctx.Err(); err != nil {
		return out, err
	}

	mu := r.lockFor(docID)
	mu.Lock()
	defer mu.Unlock()

	start := time.Now()
	defer func() {
		telemetry.ReconcileDurationSeconds.Observe(time.Since(start).Seconds())
	}()

	ctx = context.WithoutCancel(ctx)

	existing, exists, err := r.lookup(ctx, docID)
	if err != nil {
		return out, err
	}

	switch c.Op {
	case OpRemoved:
		if !exists {
			break
		}
		if err := r.remove(ctx, existing); err != nil {
			return out, err
		}
		out.Action, out.Rev = ActionDelete, existing.Rev

	case OpAdded, OpModified, OpObserved:
		if exists && document.Equivalent(existing, c.Record) {
			out.Rev = existing.Rev
			break
		}

		doc := document.FromRecord(c.Record)
		out.Action = ActionInsert
		if exists {
			doc = doc.WithRev(existing.Rev)
			out.Action = ActionUpdate
		}

		rev, err := r.docs.Put(ctx, doc).Get()
		if err != nil {
			r.countError(err)
			return out, fmt.Errorf("write document %s: %w", docID, err)
		}
		out.Rev = rev
		r.emit(out.Action, doc.WithRev(rev))

	default:
		telemetry.ReconcileErrorsTotal.With("malformed").Inc()
		return out, fmt.Errorf("%w: unknown op %s", ErrMalformedNotification, c.Op)
	}

	telemetry.ReconcileTotal.With(out.Action.String()).Inc()
	log.Debug().
		Str("id", docID).
		Str("op", c.Op.String()).
		Str("action", out.Action.String()).
		Str("rev", out.Rev).
		Msg("Reconciled record")

	return out, nil
}

// lookup reads the current document. A miss is reported as exists=false.
func (r *Reconciler) lookup(ctx context.Context, docID string) (document.Document, bool, error) {
	doc, err := r.docs.Get(ctx, docID).Get()
	if errors.Is(err, docstore.ErrNotFound) {
		return document.Document{}, false, nil
	}
	if err != nil {
		telemetry.ReconcileErrorsTotal.With("lookup").Inc()
		return document.Document{}, false, fmt.Errorf("lookup document %s: %w", docID, err)
	}
	return doc, true, nil
}

func (r *Reconciler) remove(ctx context.Context, doc document.Document) error {
	if _, err := r.docs.Remove(ctx, doc).Get(); err != nil {
		r.countError(err)
		return fmt.Errorf("delete document %s: %w", doc.ID, err)
	}
	r.emit(ActionDelete, doc)
	return nil
}

func (r *Reconciler) countError(err error) {
	if errors.Is(err, docstore.ErrConflict) {
		telemetry.ReconcileErrorsTotal.With("conflict").Inc()
		return
	}
	telemetry.ReconcileErrorsTotal.With("write").Inc()
}

// emit appends the write to the outbound feed. Feed failures are logged and
// do not fail the reconciliation; the document store already holds the write.
func (r *Reconciler) emit(action Action, doc document.Document) {
	if r.opts.Feed == nil {
		return
	}

	op := publisher.OpInsert
	switch action {
	case ActionUpdate:
		op = publisher.OpUpdate
	case ActionDelete:
		op = publisher.OpDelete
	}

	event := publisher.NewDocEvent(op, doc, r.opts.NodeID)
	if err := r.opts.Feed.Append([]publisher.DocEvent{event}); err != nil {
		log.Warn().Err(err).Str("id", doc.ID).Msg("Failed to append document event to publish log")
	}
}
