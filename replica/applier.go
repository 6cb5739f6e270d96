// Package replica applies document changes received from other nodes back
// into the local record store.
//
// The document store is never written here: the local mirror engine sees the
// resulting record notifications and reconciles the document store itself.
package replica

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"runtime"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/maxpert/credmirror/document"
	"github.com/maxpert/credmirror/id"
	"github.com/maxpert/credmirror/record"
	"github.com/maxpert/credmirror/recordstore"
	"github.com/maxpert/credmirror/telemetry"
	"github.com/rs/zerolog/log"
)

// DefaultDedupeCacheSize bounds the applied-revision cache.
const DefaultDedupeCacheSize = 4096

// ErrMalformedChange marks a change that cannot be mapped to a record.
var ErrMalformedChange = errors.New("malformed document change")

// Change is one remote document change. Doc may be nil for deletions; the
// record to remove is then derived from ID.
type Change struct {
	ID      string             `msgpack:"id" json:"id"`
	Rev     string             `msgpack:"rev" json:"rev"`
	Deleted bool               `msgpack:"deleted" json:"deleted"`
	Doc     *document.Document `msgpack:"doc,omitempty" json:"doc,omitempty"`
}

// Action is what applying a change did to the record store.
type Action uint8

const (
	ActionSkipped Action = iota
	ActionAdded
	ActionUpdated
	ActionUnchanged
	ActionRemoved
)

func (a Action) String() string {
	switch a {
	case ActionSkipped:
		return "skipped"
	case ActionAdded:
		return "added"
	case ActionUpdated:
		return "updated"
	case ActionUnchanged:
		return "unchanged"
	case ActionRemoved:
		return "removed"
	default:
		return fmt.Sprintf("action(%d)", uint8(a))
	}
}

// Outcome describes one applied change. Removed counts deleted records: all
// key matches for a deletion, the extra duplicates for an upsert.
type Outcome struct {
	ID      string
	Action  Action
	Removed int
}

// Report summarizes ApplyAll.
type Report struct {
	Applied int
	Skipped int
	Removed int
	Failed  []string
}

// Applier writes remote changes into a record store.
type Applier struct {
	records recordstore.Store
	applied *lru.Cache[string, string]
}

// NewApplier creates an applier. cacheSize bounds how many applied
// (id, rev) pairs are remembered to drop redeliveries; <= 0 uses the default.
func NewApplier(records recordstore.Store, cacheSize int) (*Applier, error) {
	if cacheSize <= 0 {
		cacheSize = DefaultDedupeCacheSize
	}
	cache, err := lru.New[string, string](cacheSize)
	if err != nil {
		return nil, fmt.Errorf("failed to create dedupe cache: %w", err)
	}
	return &Applier{records: records, applied: cache}, nil
}

// Apply processes changes in order, yielding one outcome per change and
// giving the scheduler a turn between items. A failing change is yielded
// with its error and the batch continues.
func (a *Applier) Apply(ctx context.Context, changes []Change) iter.Seq2[Outcome, error] {
	return func(yield func(Outcome, error) bool) {
		for i, c := range changes {
			if i > 0 {
				runtime.Gosched()
			}
			if err := ctx.Err(); err != nil {
				yield(Outcome{ID: c.ID}, err)
				return
			}

			out, err := a.applyOne(ctx, c)
			if err != nil {
				telemetry.InboundErrorsTotal.Inc()
			} else {
				telemetry.InboundChangesTotal.With(out.Action.String()).Inc()
			}
			if !yield(out, err) {
				return
			}
		}
	}
}

// ApplyAll drains Apply and aggregates the outcomes.
func (a *Applier) ApplyAll(ctx context.Context, changes []Change) (Report, error) {
	var (
		rep  Report
		errs []error
	)
	for out, err := range a.Apply(ctx, changes) {
		if err != nil {
			errs = append(errs, err)
			rep.Failed = append(rep.Failed, out.ID)
			continue
		}
		if out.Action == ActionSkipped {
			rep.Skipped++
			continue
		}
		rep.Applied++
		rep.Removed += out.Removed
	}

	if len(rep.Failed) > 0 {
		log.Warn().
			Int("applied", rep.Applied).
			Strs("failed", rep.Failed).
			Msg("Inbound batch applied with failures")
	}
	return rep, errors.Join(errs...)
}

func (a *Applier) applyOne(ctx context.Context, c Change) (Outcome, error) {
	if c.ID == "" && c.Doc != nil {
		c.ID = c.Doc.ID
	}
	out := Outcome{ID: c.ID}

	if c.Rev != "" {
		if seen, ok := a.applied.Get(c.ID); ok && seen == c.dedupeKey() {
			return out, nil
		}
	}

	rec, err := c.record()
	if err != nil {
		return out, err
	}

	if c.Deleted {
		removed, err := recordstore.RemoveMatching(ctx, a.records, rec)
		if err != nil {
			return out, fmt.Errorf("remove records for %s: %w", c.ID, err)
		}
		out.Action, out.Removed = ActionRemoved, removed
	} else {
		res, err := recordstore.Upsert(ctx, a.records, rec)
		if err != nil {
			return out, fmt.Errorf("upsert record for %s: %w", c.ID, err)
		}
		out.Removed = res.Removed
		switch {
		case res.Added:
			out.Action = ActionAdded
		case res.Updated:
			out.Action = ActionUpdated
		default:
			out.Action = ActionUnchanged
		}
	}

	if c.Rev != "" {
		a.applied.Add(c.ID, c.dedupeKey())
	}

	log.Debug().
		Str("id", c.ID).
		Str("rev", c.Rev).
		Str("action", out.Action.String()).
		Msg("Applied remote change")
	return out, nil
}

// dedupeKey identifies a delivery. A deletion carries the revision it
// removed, so it is marked apart from the write that produced that revision.
func (c Change) dedupeKey() string {
	if c.Deleted {
		return c.Rev + "|d"
	}
	return c.Rev
}

// record maps the change to the record it adds, updates or removes.
func (c Change) record() (record.Record, error) {
	if c.Doc != nil && c.Doc.Origin != "" {
		rec := document.ToRecord(*c.Doc)
		if err := rec.Validate(); err != nil {
			return rec, fmt.Errorf("%w: %s: %w", ErrMalformedChange, c.ID, err)
		}
		if derived := id.Derive(rec); c.ID != "" && derived != c.ID {
			return rec, fmt.Errorf("%w: id %q does not match content %q", ErrMalformedChange, c.ID, derived)
		}
		return rec, nil
	}

	if !c.Deleted {
		return record.Record{}, fmt.Errorf("%w: %s has no document", ErrMalformedChange, c.ID)
	}

	origin, kind, value, err := id.Parse(c.ID)
	if err != nil {
		return record.Record{}, fmt.Errorf("%w: %w", ErrMalformedChange, err)
	}
	if kind == record.KindForm {
		return record.NewForm(origin, value, "", "", "", ""), nil
	}
	return record.NewHTTP(origin, value, "", ""), nil
}
