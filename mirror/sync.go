package mirror

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"runtime"
	"time"

	"github.com/maxpert/credmirror/docstore"
	"github.com/maxpert/credmirror/id"
	"github.com/maxpert/credmirror/record"
	"github.com/maxpert/credmirror/telemetry"
	"github.com/rs/zerolog/log"
)

var errListRecords = errors.New("list records")

// Report summarizes a full sync pass.
type Report struct {
	Seen      int
	Inserted  int
	Updated   int
	Deleted   int
	Unchanged int
	Pruned    int
	Failed    []string
	Duration  time.Duration
}

func (rep *Report) count(out Outcome) {
	rep.Seen++
	switch out.Action {
	case ActionInsert:
		rep.Inserted++
	case ActionUpdate:
		rep.Updated++
	case ActionDelete:
		rep.Deleted++
	default:
		rep.Unchanged++
	}
}

// Sync lists every record and reconciles each one as an observed change,
// yielding one outcome per document id. Records sharing a derived id are
// collapsed to the last one listed. The scheduler gets a turn between items
// and a cancelled ctx ends the pass before the next item. Each call lists
// the store afresh, so an interrupted pass is resumed by calling Sync again.
func (r *Reconciler) Sync(ctx context.Context) iter.Seq2[Outcome, error] {
	return func(yield func(Outcome, error) bool) {
		records, err := r.records.List(ctx)
		if err != nil {
			yield(Outcome{}, fmt.Errorf("%w: %w", errListRecords, err))
			return
		}

		for i, rec := range latestByID(records) {
			if i > 0 {
				runtime.Gosched()
			}
			if err := ctx.Err(); err != nil {
				yield(Outcome{}, err)
				return
			}
			if !yield(r.Reconcile(ctx, Change{Op: OpObserved, Record: rec})) {
				return
			}
		}
	}
}

// latestByID drops every record whose derived id is produced again later in
// the list, keeping the order of the survivors. Invalid records are kept so
// Reconcile reports them.
func latestByID(records []record.Record) []record.Record {
	last := make(map[string]int, len(records))
	for i, rec := range records {
		if rec.Validate() == nil {
			last[id.Derive(rec)] = i
		}
	}
	if len(last) == len(records) {
		return records
	}

	out := make([]record.Record, 0, len(last))
	for i, rec := range records {
		if rec.Validate() != nil || last[id.Derive(rec)] == i {
			out = append(out, rec)
		}
	}
	log.Debug().
		Int("records", len(records)).
		Int("documents", len(out)).
		Msg("Collapsed records sharing a document id")
	return out
}

// SyncAll drains Sync. Per-record failures are collected into the report and
// the joined error; they never stop the pass. With PruneAbsent set, a pass
// that listed the store and was not cancelled then deletes documents no
// record produced.
func (r *Reconciler) SyncAll(ctx context.Context) (Report, error) {
	start := time.Now()
	var (
		rep      Report
		errs     []error
		complete = true
		seen     = make(map[string]struct{})
	)

	for out, err := range r.Sync(ctx) {
		if out.ID != "" {
			seen[out.ID] = struct{}{}
		}
		if err != nil {
			errs = append(errs, err)
			if out.ID != "" {
				rep.Failed = append(rep.Failed, out.ID)
			}
			if errors.Is(err, errListRecords) || errors.Is(err, ctx.Err()) {
				complete = false
			}
			continue
		}
		rep.count(out)
	}

	if r.opts.PruneAbsent && complete && ctx.Err() == nil {
		pruneErrs := r.prune(ctx, seen, &rep)
		errs = append(errs, pruneErrs...)
	}

	rep.Duration = time.Since(start)
	telemetry.SyncDurationSeconds.Observe(rep.Duration.Seconds())

	err := errors.Join(errs...)
	result := "success"
	if err != nil {
		result = "partial"
	}
	telemetry.SyncRunsTotal.With(result).Inc()

	log.Info().
		Int("seen", rep.Seen).
		Int("inserted", rep.Inserted).
		Int("updated", rep.Updated).
		Int("unchanged", rep.Unchanged).
		Int("pruned", rep.Pruned).
		Int("failed", len(rep.Failed)).
		Dur("duration", rep.Duration).
		Msg("Full sync finished")

	return rep, err
}

// prune deletes documents whose id is not in seen. Documents for origins the
// filter excludes are left alone.
func (r *Reconciler) prune(ctx context.Context, seen map[string]struct{}, rep *Report) []error {
	ids, err := r.docs.IDs(ctx).Get()
	if err != nil {
		return []error{fmt.Errorf("list documents: %w", err)}
	}

	var errs []error
	for i, docID := range ids {
		if _, ok := seen[docID]; ok {
			continue
		}
		if i > 0 {
			runtime.Gosched()
		}
		if ctx.Err() != nil {
			errs = append(errs, ctx.Err())
			break
		}

		origin, _, _, err := id.Parse(docID)
		if err == nil && !r.opts.Filter.Allow(origin) {
			continue
		}

		pruned, err := r.pruneOne(ctx, docID)
		if err != nil {
			errs = append(errs, err)
			rep.Failed = append(rep.Failed, docID)
			continue
		}
		if pruned {
			rep.Pruned++
			telemetry.SyncPrunedTotal.Inc()
		}
	}
	return errs
}

func (r *Reconciler) pruneOne(ctx context.Context, docID string) (bool, error) {
	mu := r.lockFor(docID)
	mu.Lock()
	defer mu.Unlock()

	ctx = context.WithoutCancel(ctx)
	doc, exists, err := r.lookup(ctx, docID)
	if err != nil || !exists {
		return false, err
	}
	if err := r.remove(ctx, doc); err != nil {
		return false, err
	}

	log.Debug().Str("id", docID).Msg("Pruned document with no record")
	telemetry.ReconcileTotal.With(ActionDelete.String()).Inc()
	return true, nil
}

// Docs exposes the document store the reconciler writes to.
func (r *Reconciler) Docs() docstore.Store {
	return r.docs.Store()
}
