package eventbus

import (
	"context"
	"log/slog"
	"sync"
	"testing"
	"time"

	"parley/internal/domain"
)

func TestPublishReachesTypedSubscriber(t *testing.T) {
	bus := New(slog.Default())

	var mu sync.Mutex
	var got []domain.Event
	bus.Subscribe(domain.EventStreamDelta, func(_ context.Context, e domain.Event) {
		mu.Lock()
		got = append(got, e)
		mu.Unlock()
	})

	bus.Publish(context.Background(), domain.Event{Type: domain.EventStreamDelta, ConversationID: "c1"})
	bus.Publish(context.Background(), domain.Event{Type: domain.EventStreamCompleted, ConversationID: "c1"})
	bus.Close()

	mu.Lock()
	defer mu.Unlock()
	if len(got) != 1 {
		t.Fatalf("len(got) = %d, want 1", len(got))
	}
	if got[0].Type != domain.EventStreamDelta {
		t.Errorf("got event %s", got[0].Type)
	}
}

func TestSubscribeAllSeesEverything(t *testing.T) {
	bus := New(slog.Default())

	var count sync.WaitGroup
	count.Add(2)
	bus.SubscribeAll(func(_ context.Context, _ domain.Event) { count.Done() })

	bus.Publish(context.Background(), domain.Event{Type: domain.EventStreamStarted})
	bus.Publish(context.Background(), domain.Event{Type: domain.EventConnectionChanged})

	done := make(chan struct{})
	go func() { count.Wait(); close(done) }()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("all-subscriber missed events")
	}
	bus.Close()
}

func TestUnsubscribeStopsDelivery(t *testing.T) {
	bus := New(slog.Default())

	hits := make(chan struct{}, 4)
	unsub := bus.Subscribe(domain.EventStreamDelta, func(_ context.Context, _ domain.Event) {
		hits <- struct{}{}
	})

	bus.Publish(context.Background(), domain.Event{Type: domain.EventStreamDelta})
	select {
	case <-hits:
	case <-time.After(time.Second):
		t.Fatal("subscriber not invoked")
	}

	unsub()
	unsub() // idempotent

	bus.Publish(context.Background(), domain.Event{Type: domain.EventStreamDelta})
	bus.Close()
	select {
	case <-hits:
		t.Fatal("unsubscribed handler invoked")
	default:
	}
}

func TestPanickingHandlerIsRecovered(t *testing.T) {
	bus := New(slog.Default())

	bus.Subscribe(domain.EventStreamDelta, func(_ context.Context, _ domain.Event) {
		panic("bad subscriber")
	})
	ok := make(chan struct{}, 1)
	bus.Subscribe(domain.EventStreamDelta, func(_ context.Context, _ domain.Event) {
		ok <- struct{}{}
	})

	bus.Publish(context.Background(), domain.Event{Type: domain.EventStreamDelta})
	select {
	case <-ok:
	case <-time.After(time.Second):
		t.Fatal("healthy subscriber starved by panicking one")
	}
	bus.Close()
}

func TestConcurrentPublishAndClose(t *testing.T) {
	for range 50 {
		bus := New(slog.Default())
		bus.Subscribe(domain.EventStreamDelta, func(_ context.Context, _ domain.Event) {})

		var wg sync.WaitGroup
		for range 8 {
			wg.Add(1)
			go func() {
				defer wg.Done()
				for range 20 {
					bus.Publish(context.Background(), domain.Event{Type: domain.EventStreamDelta})
				}
			}()
		}
		bus.Close()
		wg.Wait()
	}
}

func TestPublishAfterCloseIsNoop(t *testing.T) {
	bus := New(slog.Default())
	hit := make(chan struct{}, 1)
	bus.Subscribe(domain.EventStreamDelta, func(_ context.Context, _ domain.Event) {
		hit <- struct{}{}
	})

	bus.Close()
	bus.Publish(context.Background(), domain.Event{Type: domain.EventStreamDelta})

	select {
	case <-hit:
		t.Fatal("publish after close delivered an event")
	case <-time.After(50 * time.Millisecond):
	}
}
