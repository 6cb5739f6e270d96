package docstore

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/cockroachdb/pebble"
	"github.com/maxpert/credmirror/document"
	"github.com/maxpert/credmirror/encoding"
	"github.com/rs/zerolog/log"
)

// Key layout: /doc/{id}
const prefixDoc = "/doc/"

const (
	memTableSize             = 32 << 20 // 32MB
	l0CompactionThreshold    = 2
	l0StopWritesThreshold    = 12
	maxConcurrentCompactions = 2
)

// PebbleStore persists documents in a Pebble database. Values are msgpack
// encoded and optionally zstd compressed.
type PebbleStore struct {
	db       *pebble.DB
	path     string
	compress bool

	// Serializes revision check + write.
	writeMu sync.Mutex
	closed  atomic.Bool
}

var _ Store = (*PebbleStore)(nil)

// OpenPebble creates or opens a document store at path.
func OpenPebble(path string, compress bool) (*PebbleStore, error) {
	opts := &pebble.Options{
		MemTableSize:             memTableSize,
		L0CompactionThreshold:    l0CompactionThreshold,
		L0StopWritesThreshold:    l0StopWritesThreshold,
		MaxConcurrentCompactions: func() int { return maxConcurrentCompactions },
	}

	db, err := pebble.Open(path, opts)
	if err != nil {
		return nil, fmt.Errorf("failed to open document store at %s: %w", path, err)
	}

	log.Info().Str("path", path).Bool("compress", compress).Msg("Opened document store")
	return &PebbleStore{db: db, path: path, compress: compress}, nil
}

func (s *PebbleStore) Get(ctx context.Context, id string) (document.Document, error) {
	if err := s.check(ctx); err != nil {
		return document.Document{}, err
	}
	return s.load(id)
}

func (s *PebbleStore) Put(ctx context.Context, doc document.Document) (string, error) {
	if err := s.check(ctx); err != nil {
		return "", err
	}

	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	current, exists, err := s.lookup(doc.ID)
	if err != nil {
		return "", err
	}
	if err := checkRev(doc, current, exists); err != nil {
		return "", err
	}

	rev := NextRev(doc.Rev, doc)
	val, err := s.encode(doc.WithRev(rev))
	if err != nil {
		return "", err
	}
	if err := s.db.Set(docKey(doc.ID), val, pebble.Sync); err != nil {
		return "", fmt.Errorf("failed to write document %s: %w", doc.ID, err)
	}
	return rev, nil
}

func (s *PebbleStore) Remove(ctx context.Context, doc document.Document) error {
	if err := s.check(ctx); err != nil {
		return err
	}

	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	current, exists, err := s.lookup(doc.ID)
	if err != nil {
		return err
	}
	if !exists {
		return ErrNotFound
	}
	if current.Rev != doc.Rev {
		return ErrConflict
	}
	if err := s.db.Delete(docKey(doc.ID), pebble.Sync); err != nil {
		return fmt.Errorf("failed to delete document %s: %w", doc.ID, err)
	}
	return nil
}

func (s *PebbleStore) IDs(ctx context.Context) ([]string, error) {
	if err := s.check(ctx); err != nil {
		return nil, err
	}

	ids := make([]string, 0)
	err := s.scan(func(key []byte) {
		ids = append(ids, string(key[len(prefixDoc):]))
	})
	return ids, err
}

func (s *PebbleStore) Count(ctx context.Context) (int, error) {
	if err := s.check(ctx); err != nil {
		return 0, err
	}

	count := 0
	err := s.scan(func([]byte) { count++ })
	return count, err
}

// Close closes the underlying database.
func (s *PebbleStore) Close() error {
	if !s.closed.CompareAndSwap(false, true) {
		return ErrClosed
	}
	return s.db.Close()
}

func (s *PebbleStore) check(ctx context.Context) error {
	if s.closed.Load() {
		return ErrClosed
	}
	return ctx.Err()
}

func (s *PebbleStore) load(id string) (document.Document, error) {
	doc, exists, err := s.lookup(id)
	if err != nil {
		return document.Document{}, err
	}
	if !exists {
		return document.Document{}, ErrNotFound
	}
	return doc, nil
}

func (s *PebbleStore) lookup(id string) (document.Document, bool, error) {
	val, closer, err := s.db.Get(docKey(id))
	if err == pebble.ErrNotFound {
		return document.Document{}, false, nil
	}
	if err != nil {
		return document.Document{}, false, err
	}
	defer closer.Close()

	doc, err := s.decode(val)
	if err != nil {
		return document.Document{}, false, fmt.Errorf("failed to decode document %s: %w", id, err)
	}
	return doc, true, nil
}

func (s *PebbleStore) scan(fn func(key []byte)) error {
	prefix := []byte(prefixDoc)
	iter, err := s.db.NewIter(&pebble.IterOptions{
		LowerBound: prefix,
		UpperBound: prefixUpperBound(prefix),
	})
	if err != nil {
		return err
	}
	defer iter.Close()

	for iter.SeekGE(prefix); iter.Valid(); iter.Next() {
		fn(iter.Key())
	}
	return iter.Error()
}

func (s *PebbleStore) encode(doc document.Document) ([]byte, error) {
	val, err := encoding.Marshal(&doc)
	if err != nil {
		return nil, fmt.Errorf("failed to encode document %s: %w", doc.ID, err)
	}
	if s.compress {
		return encoding.Compress(val), nil
	}
	return val, nil
}

// decode accepts both compressed and plain values so the compress setting
// can change between restarts.
func (s *PebbleStore) decode(val []byte) (document.Document, error) {
	var doc document.Document
	if encoding.IsCompressed(val) {
		plain, err := encoding.Decompress(val)
		if err != nil {
			return doc, err
		}
		val = plain
	}
	err := encoding.Unmarshal(val, &doc)
	return doc, err
}

func docKey(id string) []byte {
	return []byte(prefixDoc + id)
}

// prefixUpperBound returns the upper bound for a prefix scan
func prefixUpperBound(prefix []byte) []byte {
	end := make([]byte, len(prefix))
	copy(end, prefix)
	for i := len(end) - 1; i >= 0; i-- {
		end[i]++
		if end[i] != 0 {
			return end
		}
	}
	return nil
}
