package docstore

import (
	"context"

	"github.com/jizhuozhi/go-future"
	"github.com/maxpert/credmirror/document"
)

// Async runs document store calls off the caller's goroutine and hands back
// futures. Callers await a future with Get before issuing the next call for
// the same id.
type Async struct {
	store Store
}

func NewAsync(store Store) *Async {
	return &Async{store: store}
}

// Store returns the wrapped synchronous store.
func (a *Async) Store() Store {
	return a.store
}

func (a *Async) Get(ctx context.Context, id string) *future.Future[document.Document] {
	return run(func() (document.Document, error) { return a.store.Get(ctx, id) })
}

func (a *Async) Put(ctx context.Context, doc document.Document) *future.Future[string] {
	return run(func() (string, error) { return a.store.Put(ctx, doc) })
}

func (a *Async) Remove(ctx context.Context, doc document.Document) *future.Future[struct{}] {
	return run(func() (struct{}, error) { return struct{}{}, a.store.Remove(ctx, doc) })
}

func (a *Async) IDs(ctx context.Context) *future.Future[[]string] {
	return run(func() ([]string, error) { return a.store.IDs(ctx) })
}

func run[T any](fn func() (T, error)) *future.Future[T] {
	p := future.NewPromise[T]()
	go func() {
		p.Set(fn())
	}()
	return p.Future()
}
