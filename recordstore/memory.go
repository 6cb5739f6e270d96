package recordstore

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"

	"github.com/maxpert/credmirror/notify"
	"github.com/maxpert/credmirror/record"
	"github.com/puzpuzpuz/xsync/v3"
)

// MemoryStore is an in-process Store. Reads are lock-free; mutations are
// serialized so notifications are published in commit order.
type MemoryStore struct {
	records *xsync.MapOf[uint64, record.Record]
	nextID  atomic.Uint64
	writeMu sync.Mutex
	hub     *notify.Hub
}

var _ Store = (*MemoryStore)(nil)

// NewMemoryStore creates an empty store publishing through hub.
func NewMemoryStore(hub *notify.Hub) *MemoryStore {
	if hub == nil {
		hub = notify.NewHub(0)
	}
	return &MemoryStore{
		records: xsync.NewMapOf[uint64, record.Record](),
		hub:     hub,
	}
}

func (s *MemoryStore) Find(ctx context.Context, criteria record.Criteria) ([]record.Record, error) {
	return s.collect(ctx, criteria.Match)
}

func (s *MemoryStore) List(ctx context.Context) ([]record.Record, error) {
	return s.collect(ctx, func(record.Record) bool { return true })
}

func (s *MemoryStore) Count(ctx context.Context) (int, error) {
	return s.records.Size(), nil
}

func (s *MemoryStore) Add(ctx context.Context, r record.Record) error {
	if err := r.Validate(); err != nil {
		return err
	}

	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	if _, ok := s.locate(r); ok {
		return fmt.Errorf("%w: %s", ErrDuplicate, r.Origin)
	}

	s.records.Store(s.nextID.Add(1), r)
	s.hub.Publish(record.Added(r))
	return nil
}

func (s *MemoryStore) Modify(ctx context.Context, existing, updated record.Record) error {
	if err := updated.Validate(); err != nil {
		return err
	}

	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	key, ok := s.locate(existing)
	if !ok {
		return fmt.Errorf("%w: %s", ErrNotFound, existing.Origin)
	}

	s.records.Store(key, updated)
	s.hub.Publish(record.Modified(existing, updated))
	return nil
}

func (s *MemoryStore) Remove(ctx context.Context, r record.Record) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	key, ok := s.locate(r)
	if !ok {
		return fmt.Errorf("%w: %s", ErrNotFound, r.Origin)
	}

	s.records.Delete(key)
	s.hub.Publish(record.Removed(r))
	return nil
}

func (s *MemoryStore) Subscribe(filter notify.Filter) (<-chan record.Notification, func()) {
	return s.hub.Subscribe(filter)
}

// locate finds the internal key of the stored record equal to r.
func (s *MemoryStore) locate(r record.Record) (uint64, bool) {
	var (
		found uint64
		ok    bool
	)
	s.records.Range(func(key uint64, stored record.Record) bool {
		if record.Matches(stored, r) && (!ok || key < found) {
			found, ok = key, true
		}
		return true
	})
	return found, ok
}

// collect returns matching records ordered by insertion.
func (s *MemoryStore) collect(ctx context.Context, match func(record.Record) bool) ([]record.Record, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	type entry struct {
		key uint64
		rec record.Record
	}
	var entries []entry
	s.records.Range(func(key uint64, stored record.Record) bool {
		if match(stored) {
			entries = append(entries, entry{key: key, rec: stored})
		}
		return true
	})

	sort.Slice(entries, func(i, j int) bool { return entries[i].key < entries[j].key })

	out := make([]record.Record, len(entries))
	for i, e := range entries {
		out[i] = e.rec
	}
	return out, nil
}
