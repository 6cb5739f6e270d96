package notify

import (
	"sync"
	"testing"
	"time"

	"github.com/maxpert/credmirror/record"
)

var testRecord = record.NewHTTP("www.foo.com", "www.foo.com", "foo", "bar")

func TestHub_BasicSubscribePublish(t *testing.T) {
	hub := NewHub(0)

	notifications, cancel := hub.Subscribe(Filter{})
	defer cancel()

	hub.Publish(record.Added(testRecord))

	select {
	case n := <-notifications:
		if n.Tag != record.TagAdded || n.Topic != record.ChangeTopic {
			t.Errorf("expected added notification, got %+v", n)
		}
	case <-time.After(100 * time.Millisecond):
		t.Fatal("timeout waiting for notification")
	}
}

func TestHub_FilterByTag(t *testing.T) {
	hub := NewHub(0)

	notifications, cancel := hub.Subscribe(Filter{Tags: []record.Tag{record.TagRemoved}})
	defer cancel()

	hub.Publish(record.Added(testRecord))
	hub.Publish(record.Removed(testRecord))

	select {
	case n := <-notifications:
		if n.Tag != record.TagRemoved {
			t.Errorf("expected removed notification, got %s", n.Tag)
		}
	case <-time.After(100 * time.Millisecond):
		t.Fatal("timeout waiting for notification")
	}

	select {
	case n := <-notifications:
		t.Errorf("should not receive more notifications, got %s", n.Tag)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestHub_PreservesOrder(t *testing.T) {
	hub := NewHub(16)

	notifications, cancel := hub.Subscribe(Filter{})
	defer cancel()

	updated := testRecord
	updated.Secret = "baz"

	hub.Publish(record.Added(testRecord))
	hub.Publish(record.Modified(testRecord, updated))
	hub.Publish(record.Removed(updated))

	want := []record.Tag{record.TagAdded, record.TagModified, record.TagRemoved}
	for i, tag := range want {
		select {
		case n := <-notifications:
			if n.Tag != tag {
				t.Errorf("notification %d: expected %s, got %s", i, tag, n.Tag)
			}
		case <-time.After(100 * time.Millisecond):
			t.Fatalf("timeout waiting for notification %d", i)
		}
	}
}

func TestHub_DropsWhenBufferFull(t *testing.T) {
	hub := NewHub(2)

	notifications, cancel := hub.Subscribe(Filter{})
	defer cancel()

	for i := 0; i < 5; i++ {
		hub.Publish(record.Added(testRecord))
	}

	if got := hub.Dropped(); got != 3 {
		t.Errorf("expected 3 dropped notifications, got %d", got)
	}
	if got := len(notifications); got != 2 {
		t.Errorf("expected 2 buffered notifications, got %d", got)
	}
}

func TestHub_CancelClosesChannel(t *testing.T) {
	hub := NewHub(0)

	notifications, cancel := hub.Subscribe(Filter{})
	cancel()
	cancel() // idempotent

	select {
	case _, ok := <-notifications:
		if ok {
			t.Error("expected closed channel")
		}
	case <-time.After(100 * time.Millisecond):
		t.Fatal("channel was not closed")
	}

	// Publishing after cancel must not panic.
	hub.Publish(record.Added(testRecord))
}

func TestHub_ConcurrentPublish(t *testing.T) {
	hub := NewHub(1000)

	notifications, cancel := hub.Subscribe(Filter{})
	defer cancel()

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 50; j++ {
				hub.Publish(record.Added(testRecord))
			}
		}()
	}
	wg.Wait()

	if got := len(notifications); got != 500 {
		t.Errorf("expected 500 notifications, got %d", got)
	}
}
