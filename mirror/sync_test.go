package mirror

import (
	"context"
	"errors"
	"testing"

	"github.com/maxpert/credmirror/docstore"
	"github.com/maxpert/credmirror/document"
	"github.com/maxpert/credmirror/record"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSync_InsertsThenIsIdempotent(t *testing.T) {
	ctx := context.Background()
	docs := newCountingDocs()
	records := &staticRecords{records: []record.Record{fooRecord()}}
	r := NewReconciler(records, docs, Options{})

	var outcomes []Outcome
	for out, err := range r.Sync(ctx) {
		require.NoError(t, err)
		outcomes = append(outcomes, out)
	}
	require.Len(t, outcomes, 1)
	assert.Equal(t, ActionInsert, outcomes[0].Action)
	assert.Equal(t, "www.foo.com|http|www.foo.com", outcomes[0].ID)

	ids, err := docs.IDs(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"www.foo.com|http|www.foo.com"}, ids)

	before := docs.writes()
	rep, err := r.SyncAll(ctx)
	require.NoError(t, err)
	assert.Equal(t, before, docs.writes())
	assert.Equal(t, 1, rep.Seen)
	assert.Equal(t, 1, rep.Unchanged)
	assert.Zero(t, rep.Inserted+rep.Updated+rep.Deleted)
}

func TestSyncAll_RecordsSharingAnIDSettle(t *testing.T) {
	ctx := context.Background()
	docs := newCountingDocs()
	records := &staticRecords{records: []record.Record{
		record.NewHTTP("a.com", "a.com", "alice", "first"),
		record.NewHTTP("b.com", "b.com", "u", "p"),
		record.NewHTTP("a.com", "a.com", "bob", "second"),
	}}
	r := NewReconciler(records, docs, Options{})

	rep, err := r.SyncAll(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, rep.Seen)
	assert.Equal(t, 2, rep.Inserted)

	doc, err := docs.Get(ctx, "a.com|http|a.com")
	require.NoError(t, err)
	assert.Equal(t, "bob", doc.Principal)
	assert.Equal(t, "second", doc.Secret)

	for pass := 0; pass < 2; pass++ {
		before := docs.writes()
		rep, err = r.SyncAll(ctx)
		require.NoError(t, err)
		assert.Equal(t, before, docs.writes())
		assert.Equal(t, 2, rep.Unchanged)
		assert.Zero(t, rep.Updated)
	}
}

func TestLatestByID(t *testing.T) {
	first := record.NewHTTP("a.com", "a.com", "u", "1")
	other := record.NewHTTP("b.com", "b.com", "u", "p")
	last := record.NewHTTP("a.com", "a.com", "u", "2")
	invalid := record.Record{}

	assert.Equal(t, []record.Record{other, last, invalid}, latestByID([]record.Record{first, other, last, invalid}))

	unique := []record.Record{first, other}
	assert.Equal(t, unique, latestByID(unique))
}

func TestSync_EmptyStore(t *testing.T) {
	r := NewReconciler(&staticRecords{}, newCountingDocs(), Options{})

	n := 0
	for range r.Sync(context.Background()) {
		n++
	}
	assert.Zero(t, n)

	rep, err := r.SyncAll(context.Background())
	require.NoError(t, err)
	assert.Zero(t, rep.Seen)
}

func TestSync_StopsWhenConsumerBreaks(t *testing.T) {
	ctx := context.Background()
	docs := newCountingDocs()
	records := &staticRecords{records: []record.Record{
		record.NewHTTP("a.com", "a.com", "u", "p"),
		record.NewHTTP("b.com", "b.com", "u", "p"),
		record.NewHTTP("c.com", "c.com", "u", "p"),
	}}
	r := NewReconciler(records, docs, Options{})

	for range r.Sync(ctx) {
		break
	}
	assert.Equal(t, 1, docs.writes())

	// A fresh pass picks up the rest.
	rep, err := r.SyncAll(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, rep.Inserted)
	assert.Equal(t, 1, rep.Unchanged)
}

func TestSync_CancelledBetweenItems(t *testing.T) {
	docs := newCountingDocs()
	records := &staticRecords{records: []record.Record{
		record.NewHTTP("a.com", "a.com", "u", "p"),
		record.NewHTTP("b.com", "b.com", "u", "p"),
	}}
	r := NewReconciler(records, docs, Options{})

	ctx, cancel := context.WithCancel(context.Background())
	var errs []error
	for _, err := range r.Sync(ctx) {
		cancel()
		if err != nil {
			errs = append(errs, err)
		}
	}
	require.Len(t, errs, 1)
	assert.True(t, errors.Is(errs[0], context.Canceled))
	assert.Equal(t, 1, docs.writes())
}

func TestSyncAll_CollectsFailuresAndContinues(t *testing.T) {
	ctx := context.Background()
	docs := newCountingDocs()
	docs.failPut["b.com|http|b.com"] = errBoom
	records := &staticRecords{records: []record.Record{
		record.NewHTTP("a.com", "a.com", "u", "p"),
		record.NewHTTP("b.com", "b.com", "u", "p"),
		record.NewHTTP("c.com", "c.com", "u", "p"),
	}}
	r := NewReconciler(records, docs, Options{})

	rep, err := r.SyncAll(ctx)
	require.Error(t, err)
	assert.True(t, errors.Is(err, errBoom))
	assert.Equal(t, []string{"b.com|http|b.com"}, rep.Failed)
	assert.Equal(t, 2, rep.Inserted)

	n, err := docs.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, n)
}

func TestSyncAll_ListFailure(t *testing.T) {
	r := NewReconciler(&staticRecords{err: errBoom}, newCountingDocs(), Options{PruneAbsent: true})
	rep, err := r.SyncAll(context.Background())
	assert.True(t, errors.Is(err, errBoom))
	assert.Zero(t, rep.Seen)
	assert.Empty(t, rep.Failed)
}

func seedDocs(t *testing.T, docs docstore.Store, records ...record.Record) {
	t.Helper()
	for _, rec := range records {
		_, err := docs.Put(context.Background(), document.FromRecord(rec))
		require.NoError(t, err)
	}
}

func TestSyncAll_DoesNotPruneByDefault(t *testing.T) {
	ctx := context.Background()
	docs := newCountingDocs()
	seedDocs(t, docs, record.NewHTTP("gone.com", "gone.com", "u", "p"))

	r := NewReconciler(&staticRecords{records: []record.Record{fooRecord()}}, docs, Options{})
	rep, err := r.SyncAll(ctx)
	require.NoError(t, err)
	assert.Zero(t, rep.Pruned)

	n, err := docs.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, n)
}

func TestSyncAll_PruneAbsent(t *testing.T) {
	ctx := context.Background()
	docs := newCountingDocs()
	seedDocs(t, docs,
		record.NewHTTP("gone.com", "gone.com", "u", "p"),
		record.NewHTTP("kept.org", "kept.org", "u", "p"),
	)

	filter, err := NewOriginFilter([]string{"*.com"})
	require.NoError(t, err)

	r := NewReconciler(&staticRecords{records: []record.Record{fooRecord()}}, docs, Options{
		PruneAbsent: true,
		Filter:      filter,
	})
	rep, err := r.SyncAll(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, rep.Inserted)
	assert.Equal(t, 1, rep.Pruned)

	ids, err := docs.IDs(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"kept.org|http|kept.org", "www.foo.com|http|www.foo.com"}, ids)
}
