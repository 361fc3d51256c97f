package queue

import (
	"context"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
)

// newTestRedisClient creates a Redis client for testing. Tests that
// require a running Redis instance are skipped automatically.
func newTestRedisClient(t *testing.T) *redis.Client {
	t.Helper()
	client := redis.NewClient(&redis.Options{
		Addr: "localhost:6379",
		DB:   15,
	})
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		t.Skipf("Redis not available, skipping: %v", err)
	}
	t.Cleanup(func() { client.Close() })
	return client
}

func TestRedisObserverPublishesDecodableEvents(t *testing.T) {
	client := newTestRedisClient(t)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	events := Subscribe(ctx, client)
	time.Sleep(50 * time.Millisecond) // allow the subscription to establish

	o := NewRedisObserver(client)
	o.OnPut("sum", 42)

	select {
	case ev := <-events:
		if ev.Event != EventPut || ev.Kind != "sum" || ev.ID != 42 {
			t.Fatalf("unexpected event: %+v", ev)
		}
		if ev.Source == "" {
			t.Fatal("expected a non-empty source instance id")
		}
	case <-time.After(2 * time.Second):
		t.Fatal("expected a published put event")
	}
}

func TestRedisObserverPromoteEventCarriesCount(t *testing.T) {
	client := newTestRedisClient(t)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	events := Subscribe(ctx, client)
	time.Sleep(50 * time.Millisecond)

	o := NewRedisObserver(client)
	o.OnPromote("sub", 7)

	select {
	case ev := <-events:
		if ev.Event != EventPromote || ev.Kind != "sub" || ev.Count != 7 {
			t.Fatalf("unexpected event: %+v", ev)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("expected a published promote event")
	}
}

func TestRedisObserverPublishEventWithoutSpanCarriesNoTraceContext(t *testing.T) {
	client := newTestRedisClient(t)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	events := Subscribe(ctx, client)
	time.Sleep(50 * time.Millisecond)

	o := NewRedisObserver(client)
	o.PublishEvent(context.Background(), LifecycleEvent{Kind: "sum", Event: EventAck, ID: 9})

	select {
	case ev := <-events:
		if ev.Event != EventAck || ev.Kind != "sum" || ev.ID != 9 {
			t.Fatalf("unexpected event: %+v", ev)
		}
		// No active span on context.Background(), so no trace context
		// should have been attached.
		if ev.Trace.TraceParent != "" {
			t.Fatalf("expected no trace context, got %+v", ev.Trace)
		}
		resumed := ev.Context(context.Background())
		if resumed == nil {
			t.Fatal("Context should never return a nil context")
		}
	case <-time.After(2 * time.Second):
		t.Fatal("expected a published ack event")
	}
}

func TestSubscribeClosesChannelOnContextCancel(t *testing.T) {
	client := newTestRedisClient(t)

	ctx, cancel := context.WithCancel(context.Background())
	events := Subscribe(ctx, client)
	cancel()

	select {
	case _, ok := <-events:
		if ok {
			t.Fatal("expected the events channel to be closed")
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for the events channel to close")
	}
}
