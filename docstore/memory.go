package docstore

import (
	"context"
	"sort"
	"sync"

	"github.com/maxpert/credmirror/document"
	"github.com/puzpuzpuz/xsync/v3"
)

// MemoryStore is an in-process Store. Reads are lock free; writes are
// serialized so revision checks and updates happen atomically.
type MemoryStore struct {
	docs    *xsync.MapOf[string, document.Document]
	writeMu sync.Mutex
}

var _ Store = (*MemoryStore)(nil)

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{docs: xsync.NewMapOf[string, document.Document]()}
}

func (s *MemoryStore) Get(ctx context.Context, id string) (document.Document, error) {
	if err := ctx.Err(); err != nil {
		return document.Document{}, err
	}
	doc, ok := s.docs.Load(id)
	if !ok {
		return document.Document{}, ErrNotFound
	}
	return doc, nil
}

func (s *MemoryStore) Put(ctx context.Context, doc document.Document) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}

	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	current, exists := s.docs.Load(doc.ID)
	if err := checkRev(doc, current, exists); err != nil {
		return "", err
	}

	rev := NextRev(doc.Rev, doc)
	s.docs.Store(doc.ID, doc.WithRev(rev))
	return rev, nil
}

func (s *MemoryStore) Remove(ctx context.Context, doc document.Document) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	current, exists := s.docs.Load(doc.ID)
	if !exists {
		return ErrNotFound
	}
	if doc.Rev != current.Rev {
		return ErrConflict
	}
	s.docs.Delete(doc.ID)
	return nil
}

func (s *MemoryStore) IDs(ctx context.Context) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	ids := make([]string, 0, s.docs.Size())
	s.docs.Range(func(id string, _ document.Document) bool {
		ids = append(ids, id)
		return true
	})
	sort.Strings(ids)
	return ids, nil
}

func (s *MemoryStore) Count(ctx context.Context) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	return s.docs.Size(), nil
}

// checkRev validates an incoming write against the stored state.
func checkRev(doc, current document.Document, exists bool) error {
	if doc.Rev == "" {
		if exists {
			return ErrConflict
		}
		return nil
	}
	if !exists || current.Rev != doc.Rev {
		return ErrConflict
	}
	return nil
}
