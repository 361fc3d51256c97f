package tracing

import (
	"context"
	"testing"

	"github.com/oriys/taskbus/internal/bus"
)

func initTestTracing(t *testing.T) {
	t.Helper()
	if err := Init(context.Background(), Config{
		Enabled:     true,
		Exporter:    "stdout",
		ServiceName: "taskbus-test",
		SampleRate:  1.0,
	}); err != nil {
		t.Fatalf("Init failed: %v", err)
	}
	t.Cleanup(func() { Shutdown(context.Background()) })
}

func TestObserverOpensAndClosesSpanOnAck(t *testing.T) {
	initTestTracing(t)

	o := NewObserver()
	o.OnDeliver("sum", 1, 1)

	o.mu.Lock()
	_, pending := o.active[deliveryKey{"sum", 1}]
	o.mu.Unlock()
	if !pending {
		t.Fatal("expected OnDeliver to open a span tracked under (kind, id)")
	}

	o.OnAck("sum", 1)

	o.mu.Lock()
	_, stillPending := o.active[deliveryKey{"sum", 1}]
	o.mu.Unlock()
	if stillPending {
		t.Fatal("expected OnAck to close the delivery span")
	}
}

func TestObserverClosesSpanAsErroredOnNack(t *testing.T) {
	initTestTracing(t)

	o := NewObserver()
	o.OnDeliver("sum", 2, 1)
	o.OnNack("sum", 2)

	o.mu.Lock()
	_, pending := o.active[deliveryKey{"sum", 2}]
	o.mu.Unlock()
	if pending {
		t.Fatal("expected OnNack to close the delivery span")
	}
}

func TestObserverAckWithoutDeliverIsANoop(t *testing.T) {
	initTestTracing(t)

	o := NewObserver()
	o.OnAck("sum", 99) // no matching OnDeliver; must not panic
}

func TestObserverDisabledTracingIsANoop(t *testing.T) {
	globalProvider = &Provider{enabled: false}

	o := NewObserver()
	o.OnDeliver("sum", 1, 1)
	o.OnPromote("sum", 3)

	o.mu.Lock()
	n := len(o.active)
	o.mu.Unlock()
	if n != 0 {
		t.Fatalf("expected no spans to be tracked while tracing is disabled, got %d", n)
	}
}

func TestObserverSatisfiesBusObserver(t *testing.T) {
	var _ bus.Observer = NewObserver()
}
