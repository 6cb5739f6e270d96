package recordstore

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/maxpert/credmirror/notify"
	"github.com/maxpert/credmirror/record"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type storeFactory func(t *testing.T) Store

func factories() map[string]storeFactory {
	return map[string]storeFactory{
		"memory": func(t *testing.T) Store {
			return NewMemoryStore(notify.NewHub(64))
		},
		"sqlite": func(t *testing.T) Store {
			s, err := OpenSQLite(filepath.Join(t.TempDir(), "records.db"), 0, notify.NewHub(64))
			require.NoError(t, err)
			t.Cleanup(func() { s.Close() })
			return s
		},
	}
}

func forEachStore(t *testing.T, fn func(t *testing.T, s Store)) {
	for name, factory := range factories() {
		t.Run(name, func(t *testing.T) {
			fn(t, factory(t))
		})
	}
}

func nextNotification(t *testing.T, ch <-chan record.Notification) record.Notification {
	t.Helper()
	select {
	case n := <-ch:
		return n
	case <-time.After(time.Second):
		t.Fatal("timeout waiting for notification")
		return record.Notification{}
	}
}

func TestStore_AddFindList(t *testing.T) {
	forEachStore(t, func(t *testing.T, s Store) {
		ctx := context.Background()
		foo := record.NewHTTP("www.foo.com", "www.foo.com", "foo", "bar")
		foo2 := record.NewHTTP("www.foo.com", "www.foo.com", "foo2", "baz")
		form := record.NewForm("https://a.com", "https://a.com/login", "alice", "pw", "user", "pass")

		require.NoError(t, s.Add(ctx, foo))
		require.NoError(t, s.Add(ctx, foo2))
		require.NoError(t, s.Add(ctx, form))

		found, err := s.Find(ctx, foo.Key())
		require.NoError(t, err)
		assert.Equal(t, []record.Record{foo, foo2}, found)

		all, err := s.List(ctx)
		require.NoError(t, err)
		assert.Len(t, all, 3)

		n, err := s.Count(ctx)
		require.NoError(t, err)
		assert.Equal(t, 3, n)

		none, err := s.Find(ctx, record.Criteria{Origin: "www.nope.com", Realm: "x"})
		require.NoError(t, err)
		assert.Empty(t, none)
	})
}

func TestStore_AddRejectsDuplicateAndMalformed(t *testing.T) {
	forEachStore(t, func(t *testing.T, s Store) {
		ctx := context.Background()
		foo := record.NewHTTP("www.foo.com", "www.foo.com", "foo", "bar")

		require.NoError(t, s.Add(ctx, foo))
		assert.True(t, errors.Is(s.Add(ctx, foo), ErrDuplicate))
		assert.True(t, errors.Is(s.Add(ctx, record.Record{Origin: "x"}), record.ErrMalformed))
	})
}

func TestStore_ModifyAndRemove(t *testing.T) {
	forEachStore(t, func(t *testing.T, s Store) {
		ctx := context.Background()
		foo := record.NewHTTP("www.foo.com", "www.foo.com", "foo", "bar")
		updated := record.NewHTTP("www.foo.com", "www.foo.com", "foo", "new-secret")

		require.NoError(t, s.Add(ctx, foo))
		require.NoError(t, s.Modify(ctx, foo, updated))

		all, err := s.List(ctx)
		require.NoError(t, err)
		assert.Equal(t, []record.Record{updated}, all)

		assert.True(t, errors.Is(s.Modify(ctx, foo, updated), ErrNotFound))
		assert.True(t, errors.Is(s.Remove(ctx, foo), ErrNotFound))

		require.NoError(t, s.Remove(ctx, updated))
		n, err := s.Count(ctx)
		require.NoError(t, err)
		assert.Zero(t, n)
	})
}

func TestStore_PublishesNotifications(t *testing.T) {
	forEachStore(t, func(t *testing.T, s Store) {
		ctx := context.Background()
		ch, cancel := s.Subscribe(notify.Filter{})
		defer cancel()

		foo := record.NewHTTP("www.foo.com", "www.foo.com", "foo", "bar")
		updated := record.NewHTTP("www.foo.com", "www.foo.com", "foo", "baz")

		require.NoError(t, s.Add(ctx, foo))
		require.NoError(t, s.Modify(ctx, foo, updated))
		require.NoError(t, s.Remove(ctx, updated))

		n := nextNotification(t, ch)
		assert.Equal(t, record.TagAdded, n.Tag)
		assert.Equal(t, foo, n.Subject)

		n = nextNotification(t, ch)
		assert.Equal(t, record.TagModified, n.Tag)
		assert.Equal(t, record.Pair{Old: foo, New: updated}, n.Subject)

		n = nextNotification(t, ch)
		assert.Equal(t, record.TagRemoved, n.Tag)
		assert.Equal(t, updated, n.Subject)
	})
}

func TestUpsert(t *testing.T) {
	forEachStore(t, func(t *testing.T, s Store) {
		ctx := context.Background()
		moo := record.NewHTTP("www.moo.com", "www.moo.com", "foo", "bar")

		res, err := Upsert(ctx, s, moo)
		require.NoError(t, err)
		assert.True(t, res.Added)

		res, err = Upsert(ctx, s, moo)
		require.NoError(t, err)
		assert.True(t, res.Unchanged)

		changed := moo
		changed.Secret = "other"
		res, err = Upsert(ctx, s, changed)
		require.NoError(t, err)
		assert.True(t, res.Updated)

		all, err := s.List(ctx)
		require.NoError(t, err)
		assert.Equal(t, []record.Record{changed}, all)
	})
}

func TestUpsert_RemovesExtraMatches(t *testing.T) {
	forEachStore(t, func(t *testing.T, s Store) {
		ctx := context.Background()
		require.NoError(t, s.Add(ctx, record.NewHTTP("o", "r", "a", "1")))
		require.NoError(t, s.Add(ctx, record.NewHTTP("o", "r", "b", "2")))
		require.NoError(t, s.Add(ctx, record.NewHTTP("o", "r", "c", "3")))
		other := record.NewHTTP("o", "other realm", "d", "4")
		require.NoError(t, s.Add(ctx, other))

		target := record.NewHTTP("o", "r", "z", "9")
		res, err := Upsert(ctx, s, target)
		require.NoError(t, err)
		assert.True(t, res.Updated)
		assert.Equal(t, 2, res.Removed)

		found, err := s.Find(ctx, target.Key())
		require.NoError(t, err)
		assert.Equal(t, []record.Record{target}, found)

		found, err = s.Find(ctx, other.Key())
		require.NoError(t, err)
		assert.Equal(t, []record.Record{other}, found)
	})
}

func TestRemoveMatching(t *testing.T) {
	forEachStore(t, func(t *testing.T, s Store) {
		ctx := context.Background()
		require.NoError(t, s.Add(ctx, record.NewHTTP("www.moo.com", "www.moo.com", "foo", "bar")))
		require.NoError(t, s.Add(ctx, record.NewHTTP("www.moo.com", "www.moo.com", "foo2", "bar")))
		keep := record.NewForm("www.moo.com", "www.moo.com", "foo", "bar", "", "")
		require.NoError(t, s.Add(ctx, keep))

		removed, err := RemoveMatching(ctx, s, record.NewHTTP("www.moo.com", "www.moo.com", "", ""))
		require.NoError(t, err)
		assert.Equal(t, 2, removed)

		all, err := s.List(ctx)
		require.NoError(t, err)
		assert.Equal(t, []record.Record{keep}, all)

		removed, err = RemoveMatching(ctx, s, record.NewHTTP("www.none.com", "x", "", ""))
		require.NoError(t, err)
		assert.Zero(t, removed)
	})
}
