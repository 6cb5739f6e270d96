package mirror

import (
	"context"
	"errors"
	"sync"

	"github.com/maxpert/credmirror/docstore"
	"github.com/maxpert/credmirror/document"
	"github.com/maxpert/credmirror/publisher"
	"github.com/maxpert/credmirror/record"
)

// countingDocs wraps a Store and counts writes.
type countingDocs struct {
	docstore.Store

	mu      sync.Mutex
	puts    int
	removes int
	failPut map[string]error
}

func newCountingDocs() *countingDocs {
	return &countingDocs{Store: docstore.NewMemoryStore(), failPut: map[string]error{}}
}

func (c *countingDocs) Put(ctx context.Context, doc document.Document) (string, error) {
	c.mu.Lock()
	err := c.failPut[doc.ID]
	if err == nil {
		c.puts++
	}
	c.mu.Unlock()
	if err != nil {
		return "", err
	}
	return c.Store.Put(ctx, doc)
}

func (c *countingDocs) Remove(ctx context.Context, doc document.Document) error {
	c.mu.Lock()
	c.removes++
	c.mu.Unlock()
	return c.Store.Remove(ctx, doc)
}

func (c *countingDocs) writes() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.puts + c.removes
}

// staticRecords is a RecordLister over a fixed slice.
type staticRecords struct {
	records []record.Record
	err     error
}

func (s *staticRecords) List(context.Context) ([]record.Record, error) {
	if s.err != nil {
		return nil, s.err
	}
	return append([]record.Record(nil), s.records...), nil
}

// memoryFeed collects appended document events.
type memoryFeed struct {
	mu     sync.Mutex
	events []publisher.DocEvent
	err    error
}

func (f *memoryFeed) Append(events []publisher.DocEvent) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.events = append(f.events, events...)
	return nil
}

func (f *memoryFeed) snapshot() []publisher.DocEvent {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]publisher.DocEvent(nil), f.events...)
}

var errBoom = errors.New("boom")

func fooRecord() record.Record {
	return record.NewHTTP("www.foo.com", "www.foo.com", "foo", "bar")
}
