package publisher

import (
	"encoding/binary"
	"errors"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"

	"github.com/cockroachdb/pebble"
	"github.com/maxpert/credmirror/encoding"
	"github.com/rs/zerolog/log"
)

// Key layout
const (
	prefixEvent  = "/evt/"    // /evt/{seq:016x} -> msgpack(DocEvent)
	prefixCursor = "/cursor/" // /cursor/{sink} -> uint64
	keySeq       = "/seq"     // last assigned sequence
)

const (
	memTableSize                = 16 << 20 // 16MB
	memTableStopWritesThreshold = 4
	l0CompactionThreshold       = 2
	l0StopWritesThreshold       = 12
)

const (
	defaultReadLimit = 100
	// Compact consumed events every 128 cursor advances
	compactMask = 0x7F
)

// ErrLogClosed is returned by every PublishLog call after Close
var ErrLogClosed = errors.New("publish log is closed")

// PublishLog is a Pebble-backed, append-only sequence of document events.
// Each sink consumes it independently through a persisted cursor; events
// every cursor has passed are compacted away.
type PublishLog struct {
	db   *pebble.DB
	path string

	cursors   map[string]uint64
	cursorsMu sync.RWMutex

	// Appends reserve sequence numbers under appendMu so concurrent
	// reconcilers never interleave a batch.
	appendMu sync.Mutex
	lastSeq  atomic.Uint64

	compactMu      sync.Mutex
	compactRunning atomic.Bool
	compactWg      sync.WaitGroup

	closed atomic.Bool
}

// OpenPublishLog creates or opens the log at path
func OpenPublishLog(path string) (*PublishLog, error) {
	opts := &pebble.Options{
		MemTableSize:                memTableSize,
		MemTableStopWritesThreshold: memTableStopWritesThreshold,
		L0CompactionThreshold:       l0CompactionThreshold,
		L0StopWritesThreshold:       l0StopWritesThreshold,
	}

	db, err := pebble.Open(path, opts)
	if err != nil {
		return nil, fmt.Errorf("failed to open publish log at %s: %w", path, err)
	}

	pl := &PublishLog{
		db:      db,
		path:    path,
		cursors: make(map[string]uint64),
	}

	if err := pl.loadSeq(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to load sequence number: %w", err)
	}
	if err := pl.loadCursors(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to load cursors: %w", err)
	}

	return pl, nil
}

func (pl *PublishLog) loadSeq() error {
	val, closer, err := pl.db.Get([]byte(keySeq))
	if err == pebble.ErrNotFound {
		return nil
	}
	if err != nil {
		return err
	}
	defer closer.Close()

	seq, err := decodeUint64(val)
	if err != nil {
		return err
	}
	pl.lastSeq.Store(seq)
	return nil
}

func (pl *PublishLog) loadCursors() error {
	prefix := []byte(prefixCursor)
	iter, err := pl.db.NewIter(&pebble.IterOptions{
		LowerBound: prefix,
		UpperBound: prefixUpperBound(prefix),
	})
	if err != nil {
		return err
	}
	defer iter.Close()

	for iter.SeekGE(prefix); iter.Valid(); iter.Next() {
		sink := string(iter.Key()[len(prefixCursor):])
		val, err := iter.ValueAndErr()
		if err != nil {
			return err
		}
		cursor, err := decodeUint64(val)
		if err != nil {
			return fmt.Errorf("corrupted cursor for sink %s: %w", sink, err)
		}
		pl.cursors[sink] = cursor
	}
	if err := iter.Error(); err != nil {
		return err
	}

	if len(pl.cursors) > 0 {
		log.Info().Int("cursors", len(pl.cursors)).Msg("Loaded publish log cursors")
	}
	return nil
}

// Append assigns sequence numbers to events and writes them in one batch.
// SeqNum is set on the caller's slice.
func (pl *PublishLog) Append(events []DocEvent) error {
	if len(events) == 0 {
		return nil
	}
	if pl.closed.Load() {
		return ErrLogClosed
	}

	pl.appendMu.Lock()
	defer pl.appendMu.Unlock()

	batch := pl.db.NewBatch()
	defer batch.Close()

	seq := pl.lastSeq.Load()
	for i := range events {
		seq++
		events[i].SeqNum = seq

		val, err := encoding.Marshal(&events[i])
		if err != nil {
			return fmt.Errorf("failed to encode event %s: %w", events[i].ID, err)
		}
		if err := batch.Set(eventKey(seq), val, nil); err != nil {
			return fmt.Errorf("failed to stage event: %w", err)
		}
	}
	if err := batch.Set([]byte(keySeq), encodeUint64(seq), nil); err != nil {
		return fmt.Errorf("failed to stage sequence: %w", err)
	}

	if err := batch.Commit(pebble.Sync); err != nil {
		return fmt.Errorf("failed to commit events: %w", err)
	}

	pl.lastSeq.Store(seq)
	return nil
}

// ReadFrom returns up to limit events with sequence greater than cursor
func (pl *PublishLog) ReadFrom(cursor uint64, limit int) ([]DocEvent, error) {
	if pl.closed.Load() {
		return nil, ErrLogClosed
	}
	if limit <= 0 {
		limit = defaultReadLimit
	}

	start := eventKey(cursor + 1)
	iter, err := pl.db.NewIter(&pebble.IterOptions{
		LowerBound: start,
		UpperBound: prefixUpperBound([]byte(prefixEvent)),
	})
	if err != nil {
		return nil, err
	}
	defer iter.Close()

	events := make([]DocEvent, 0, limit)
	for iter.SeekGE(start); iter.Valid() && len(events) < limit; iter.Next() {
		val, err := iter.ValueAndErr()
		if err != nil {
			return nil, err
		}

		var event DocEvent
		if err := encoding.Unmarshal(val, &event); err != nil {
			log.Warn().Err(err).Str("key", string(iter.Key())).Msg("Skipping undecodable document event")
			continue
		}
		events = append(events, event)
	}

	return events, iter.Error()
}

// LastSeq returns the sequence of the newest appended event
func (pl *PublishLog) LastSeq() uint64 {
	return pl.lastSeq.Load()
}

// Cursor returns the last sequence the sink has consumed, 0 for a new sink
func (pl *PublishLog) Cursor(sink string) (uint64, error) {
	if pl.closed.Load() {
		return 0, ErrLogClosed
	}

	pl.cursorsMu.RLock()
	defer pl.cursorsMu.RUnlock()
	return pl.cursors[sink], nil
}

// Cursors returns a snapshot of every sink cursor
func (pl *PublishLog) Cursors() map[string]uint64 {
	pl.cursorsMu.RLock()
	defer pl.cursorsMu.RUnlock()

	out := make(map[string]uint64, len(pl.cursors))
	for sink, cursor := range pl.cursors {
		out[sink] = cursor
	}
	return out
}

// Advance persists a sink's cursor and periodically compacts consumed events
func (pl *PublishLog) Advance(sink string, seq uint64) error {
	if pl.closed.Load() {
		return ErrLogClosed
	}

	pl.cursorsMu.Lock()
	pl.cursors[sink] = seq
	pl.cursorsMu.Unlock()

	if err := pl.db.Set([]byte(prefixCursor+sink), encodeUint64(seq), pebble.Sync); err != nil {
		return fmt.Errorf("failed to persist cursor for %s: %w", sink, err)
	}

	if seq > 0 && seq&compactMask == 0 && pl.compactRunning.CompareAndSwap(false, true) {
		pl.compactWg.Add(1)
		go func() {
			defer pl.compactWg.Done()
			defer pl.compactRunning.Store(false)
			pl.compact()
		}()
	}

	return nil
}

// compact deletes events every sink has consumed
func (pl *PublishLog) compact() {
	pl.compactMu.Lock()
	defer pl.compactMu.Unlock()

	if pl.closed.Load() {
		return
	}

	pl.cursorsMu.RLock()
	if len(pl.cursors) == 0 {
		pl.cursorsMu.RUnlock()
		return
	}
	low := ^uint64(0)
	for _, cursor := range pl.cursors {
		low = min(low, cursor)
	}
	pl.cursorsMu.RUnlock()

	if low == 0 {
		return
	}

	// Events up to and including low are consumed by every sink
	if err := pl.db.DeleteRange([]byte(prefixEvent), eventKey(low+1), pebble.Sync); err != nil {
		log.Warn().Err(err).Uint64("low", low).Msg("Failed to compact publish log")
		return
	}
	log.Debug().Uint64("low", low).Msg("Compacted publish log")
}

// Close waits for a running compaction and closes the database
func (pl *PublishLog) Close() error {
	if !pl.closed.CompareAndSwap(false, true) {
		return ErrLogClosed
	}
	pl.compactWg.Wait()
	return pl.db.Close()
}

func eventKey(seq uint64) []byte {
	return []byte(fmt.Sprintf("%s%016x", prefixEvent, seq))
}

func encodeUint64(v uint64) []byte {
	buf := make([]byte, 8)
	binary.LittleEndian.PutUint64(buf, v)
	return buf
}

func decodeUint64(val []byte) (uint64, error) {
	if len(val) != 8 {
		return 0, fmt.Errorf("invalid uint64 length: %d", len(val))
	}
	return binary.LittleEndian.Uint64(val), nil
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

// sortedSinks returns sink names in a stable order for status output
func sortedSinks(cursors map[string]uint64) []string {
	names := make([]string, 0, len(cursors))
	for name := range cursors {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
