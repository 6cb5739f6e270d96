package mirror

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/maxpert/credmirror/docstore"
	"github.com/maxpert/credmirror/notify"
	"github.com/maxpert/credmirror/record"
	"github.com/maxpert/credmirror/recordstore"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestEngine(t *testing.T, config EngineConfig) (*Engine, *recordstore.MemoryStore, docstore.Store) {
	t.Helper()
	records := recordstore.NewMemoryStore(notify.NewHub(64))
	docs := docstore.NewMemoryStore()
	config.Records = records
	config.Reconciler = NewReconciler(records, docs, Options{})

	e, err := NewEngine(config)
	require.NoError(t, err)
	return e, records, docs
}

func TestEngine_MirrorsNotifications(t *testing.T) {
	ctx := context.Background()
	e, records, docs := newTestEngine(t, EngineConfig{})
	e.Start(ctx)
	defer e.Stop()

	foo := fooRecord()
	require.NoError(t, records.Add(ctx, foo))

	docID := "www.foo.com|http|www.foo.com"
	require.Eventually(t, func() bool {
		doc, err := docs.Get(ctx, docID)
		return err == nil && doc.Secret == "bar"
	}, time.Second, 5*time.Millisecond)

	updated := foo
	updated.Secret = "rotated"
	require.NoError(t, records.Modify(ctx, foo, updated))
	require.Eventually(t, func() bool {
		doc, err := docs.Get(ctx, docID)
		return err == nil && doc.Secret == "rotated" && docstore.Generation(doc.Rev) == 2
	}, time.Second, 5*time.Millisecond)

	require.NoError(t, records.Remove(ctx, updated))
	require.Eventually(t, func() bool {
		_, err := docs.Get(ctx, docID)
		return errors.Is(err, docstore.ErrNotFound)
	}, time.Second, 5*time.Millisecond)

	require.Eventually(t, func() bool {
		return e.Status().Processed == 3
	}, time.Second, 5*time.Millisecond)
}

func TestEngine_SyncOnStartAndTrigger(t *testing.T) {
	ctx := context.Background()
	e, records, docs := newTestEngine(t, EngineConfig{SyncOnStart: true})

	// Populate before start so only the sync can mirror them.
	require.NoError(t, records.Add(ctx, fooRecord()))
	require.NoError(t, records.Add(ctx, record.NewHTTP("a.com", "a.com", "u", "p")))

	e.Start(ctx)
	defer e.Stop()

	rep, err := e.TriggerSync(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, rep.Seen)

	n, err := docs.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	st := e.Status()
	assert.True(t, st.Running)
	assert.False(t, st.LastSync.IsZero())
	assert.Empty(t, st.LastError)
}

func TestEngine_PeriodicSync(t *testing.T) {
	ctx := context.Background()
	e, _, _ := newTestEngine(t, EngineConfig{SyncInterval: 10 * time.Millisecond})
	e.Start(ctx)
	defer e.Stop()

	require.Eventually(t, func() bool {
		return !e.Status().LastSync.IsZero()
	}, time.Second, 5*time.Millisecond)
}

func TestEngine_MalformedNotificationIsFatal(t *testing.T) {
	hub := notify.NewHub(8)

	var mu sync.Mutex
	var fatal error
	e, err := NewEngine(EngineConfig{
		Records:    hub,
		Reconciler: NewReconciler(&staticRecords{}, docstore.NewMemoryStore(), Options{}),
		Fatal: func(err error) {
			mu.Lock()
			fatal = err
			mu.Unlock()
		},
	})
	require.NoError(t, err)
	e.Start(context.Background())
	defer e.Stop()

	hub.Publish(record.Notification{Topic: record.ChangeTopic, Tag: "renamed", Subject: fooRecord()})

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return fatal != nil
	}, time.Second, 5*time.Millisecond)
	assert.True(t, errors.Is(fatal, ErrMalformedNotification))
}

func TestEngine_TriggerSyncWhenStopped(t *testing.T) {
	e, _, _ := newTestEngine(t, EngineConfig{})
	_, err := e.TriggerSync(context.Background())
	assert.True(t, errors.Is(err, ErrEngineStopped))

	e.Start(context.Background())
	e.Stop()
	e.Stop()

	_, err = e.TriggerSync(context.Background())
	assert.True(t, errors.Is(err, ErrEngineStopped))
	assert.False(t, e.Status().Running)
}

func TestEngine_StartContextCancelled(t *testing.T) {
	e, _, _ := newTestEngine(t, EngineConfig{})
	ctx, cancel := context.WithCancel(context.Background())
	e.Start(ctx)
	defer e.Stop()

	cancel()
	require.Eventually(t, func() bool {
		return !e.Status().Running
	}, time.Second, 5*time.Millisecond)

	syncCtx, syncCancel := context.WithTimeout(context.Background(), 500*time.Millisecond)
	defer syncCancel()
	_, err := e.TriggerSync(syncCtx)
	assert.True(t, errors.Is(err, ErrEngineStopped))

	// Stop still releases the subscription and allows a restart.
	e.Stop()
	e.Start(context.Background())
	assert.True(t, e.Status().Running)
	_, err = e.TriggerSync(context.Background())
	assert.NoError(t, err)
}

func TestNewEngine_Validates(t *testing.T) {
	_, err := NewEngine(EngineConfig{})
	assert.Error(t, err)

	_, err = NewEngine(EngineConfig{Records: notify.NewHub(1)})
	assert.Error(t, err)
}
