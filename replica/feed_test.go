package replica

import (
	"context"
	"sync"
	"testing"

	"github.com/maxpert/credmirror/docstore"
	"github.com/maxpert/credmirror/mirror"
	"github.com/maxpert/credmirror/notify"
	"github.com/maxpert/credmirror/publisher"
	"github.com/maxpert/credmirror/publisher/transformer"
	"github.com/maxpert/credmirror/record"
	"github.com/maxpert/credmirror/recordstore"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type captureFeed struct {
	mu     sync.Mutex
	events []publisher.DocEvent
}

func (f *captureFeed) Append(events []publisher.DocEvent) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.events = append(f.events, events...)
	return nil
}

func (f *captureFeed) payloads(t *testing.T, tr publisher.Transformer) [][]byte {
	t.Helper()
	f.mu.Lock()
	defer f.mu.Unlock()

	out := make([][]byte, 0, len(f.events))
	for _, ev := range f.events {
		data, err := tr.Transform(ev)
		require.NoError(t, err)
		out = append(out, data)
	}
	return out
}

func TestApply_PublishedInsertThenDelete(t *testing.T) {
	for name, tr := range map[string]publisher.Transformer{
		"msgpack": &transformer.MsgpackTransformer{},
		"json":    &transformer.JSONTransformer{},
	} {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			feed := &captureFeed{}
			source := recordstore.NewMemoryStore(notify.NewHub(8))
			rc := mirror.NewReconciler(source, docstore.NewMemoryStore(), mirror.Options{Feed: feed, NodeID: 1})

			moo := record.NewHTTP("www.moo.com", "www.moo.com", "foo", "bar")
			_, err := rc.Reconcile(ctx, mirror.Change{Op: mirror.OpAdded, Record: moo})
			require.NoError(t, err)
			_, err = rc.Reconcile(ctx, mirror.Change{Op: mirror.OpRemoved, Record: moo})
			require.NoError(t, err)

			changes := decodeBatch(feed.payloads(t, tr), 2)
			require.Len(t, changes, 2)
			assert.Equal(t, changes[0].Rev, changes[1].Rev)
			assert.True(t, changes[1].Deleted)

			a, replicaRecords := newTestApplier(t)
			var actions []Action
			for out, err := range a.Apply(ctx, changes) {
				require.NoError(t, err)
				actions = append(actions, out.Action)
			}
			assert.Equal(t, []Action{ActionAdded, ActionRemoved}, actions)

			n, err := replicaRecords.Count(ctx)
			require.NoError(t, err)
			assert.Zero(t, n)

			// Redelivering the same pair is still deduplicated.
			rep, err := a.ApplyAll(ctx, changes[1:])
			require.NoError(t, err)
			assert.Equal(t, 1, rep.Skipped)
		})
	}
}
