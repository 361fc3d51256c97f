package tracing

import (
	"context"
	"errors"
	"sync"

	"github.com/oriys/taskbus/internal/bus"
	"go.opentelemetry.io/otel/trace"
)

var errNacked = errors.New("handler nacked delivery")

// Observer implements bus.Observer by turning lifecycle callbacks into
// spans: one per delivery attempt, opened on OnDeliver and closed on
// whichever of OnAck/OnNack resolves it, carrying the kind, message id,
// and attempt number; plus one short span per promotion sweep, carrying
// the number of entries it moved. OnPut does not open a span of its own
// — Put is synchronous and returns immediately, so a one-line span would
// add nothing a log line wouldn't; what's worth tracing is the delivery
// that follows, which can run concurrently with redelivery and is where
// latency actually accumulates.
//
// Bus lifecycle callbacks carry no context of their own (see
// bus.Observer), so every span Observer starts is a fresh root span; it
// does not inherit the context that originally called Put. Wire this in
// alongside internal/metrics.PrometheusObserver and
// internal/queue.RedisObserver via a combining bus.Observer — see
// cmd/taskbusd/daemon.go — when Observability.Tracing is enabled.
type Observer struct {
	mu     sync.Mutex
	active map[deliveryKey]trace.Span
}

type deliveryKey struct {
	kind bus.Kind
	id   bus.ID
}

// NewObserver constructs an Observer. Calling its methods when tracing
// is disabled (see Enabled) is a cheap no-op.
func NewObserver() *Observer {
	return &Observer{active: make(map[deliveryKey]trace.Span)}
}

// OnPut implements bus.Observer. See the Observer doc comment for why
// this intentionally does nothing.
func (o *Observer) OnPut(bus.Kind, bus.ID) {}

// OnDeliver implements bus.Observer, opening a span for this delivery
// attempt.
func (o *Observer) OnDeliver(kind bus.Kind, id bus.ID, attempt int) {
	if !Enabled() {
		return
	}
	_, span := StartServerSpan(context.Background(), "taskbus.deliver",
		AttrKind.String(string(kind)),
		AttrMessageID.Int64(int64(id)),
		AttrAttempt.Int(attempt),
	)
	o.mu.Lock()
	o.active[deliveryKey{kind, id}] = span
	o.mu.Unlock()
}

// OnAck implements bus.Observer, closing this delivery's span as OK.
func (o *Observer) OnAck(kind bus.Kind, id bus.ID) {
	o.endDelivery(kind, id, nil)
}

// OnNack implements bus.Observer, closing this delivery's span as
// errored: the handler reported failure, and the message is now
// eligible for redelivery under a new span of its own.
func (o *Observer) OnNack(kind bus.Kind, id bus.ID) {
	o.endDelivery(kind, id, errNacked)
}

func (o *Observer) endDelivery(kind bus.Kind, id bus.ID, err error) {
	key := deliveryKey{kind, id}
	o.mu.Lock()
	span, ok := o.active[key]
	if ok {
		delete(o.active, key)
	}
	o.mu.Unlock()
	if !ok {
		return
	}
	if err != nil {
		SetSpanError(span, err)
	} else {
		SetSpanOK(span)
	}
	span.End()
}

// OnPromote implements bus.Observer with a short-lived span recording
// how many entries a single promotion sweep moved from delayed/unacked
// back into enqueued. Sweeps that promote nothing don't get a span.
func (o *Observer) OnPromote(kind bus.Kind, n int) {
	if !Enabled() || n == 0 {
		return
	}
	_, span := StartSpan(context.Background(), "taskbus.promote",
		AttrKind.String(string(kind)),
		AttrPromotedCount.Int(n),
	)
	span.End()
}

var _ bus.Observer = (*Observer)(nil)
