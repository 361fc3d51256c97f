package queue

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/oriys/taskbus/internal/bus"
	"github.com/oriys/taskbus/internal/tracing"
	"github.com/redis/go-redis/v9"
)

const redisChannel = "taskbus:events"

// LifecycleEvent is the wire shape published by RedisObserver: one bus
// lifecycle callback, identified by kind and the bus's own message id.
// Count is only meaningful for EventDeliver (the attempt number) and
// EventPromote (the number of entries promoted). Trace carries the
// W3C trace context of whatever produced the event, if any, so a
// subscriber in another process can continue the same trace instead of
// starting a disconnected one.
type LifecycleEvent struct {
	Source string               `json:"source"`
	Kind   bus.Kind             `json:"kind"`
	Event  Event                `json:"event"`
	ID     bus.ID               `json:"id,omitempty"`
	Count  int                  `json:"count,omitempty"`
	At     time.Time            `json:"at"`
	Trace  tracing.TraceContext `json:"trace,omitempty"`
}

// Context returns parent augmented with ev.Trace, so a subscriber can
// resume the producer's trace (via tracing.SpanFromContext /
// logging.Delivery) instead of starting an unrelated one.
func (ev LifecycleEvent) Context(parent context.Context) context.Context {
	return tracing.InjectTraceContext(parent, ev.Trace)
}

// RedisObserver implements bus.Observer by publishing every lifecycle
// callback as a LifecycleEvent to a Redis channel, so that other
// processes (a dashboard, an oncall bot) can watch bus activity without
// being handed the tasks themselves. It is strictly additive: a Bus
// configured with a nil Observer behaves identically.
type RedisObserver struct {
	client     *redis.Client
	channel    string
	instanceID string
}

// NewRedisObserver constructs a RedisObserver publishing to the given
// Redis client under a fixed channel name, tagged with a random instance
// id so subscribers can distinguish events from multiple daemon replicas.
func NewRedisObserver(client *redis.Client) *RedisObserver {
	return &RedisObserver{
		client:     client,
		channel:    redisChannel,
		instanceID: uuid.NewString(),
	}
}

func (o *RedisObserver) publish(ev LifecycleEvent) {
	ev.Source = o.instanceID
	ev.At = time.Now().UTC()
	payload, err := json.Marshal(ev)
	if err != nil {
		return
	}
	o.client.Publish(context.Background(), o.channel, payload)
}

// PublishEvent publishes ev directly, attaching the trace context
// carried by ctx if tracing is enabled and ctx holds an active span.
// bus.Observer's callbacks carry no context of their own (see OnPut
// below), so this is for callers that do have one — a handler emitting
// its own milestone event alongside the span it's already inside.
func (o *RedisObserver) PublishEvent(ctx context.Context, ev LifecycleEvent) {
	ev.Trace = tracing.ExtractTraceContext(ctx)
	o.publish(ev)
}

// OnPut implements bus.Observer.
func (o *RedisObserver) OnPut(kind bus.Kind, id bus.ID) {
	o.publish(LifecycleEvent{Kind: kind, Event: EventPut, ID: id})
}

// OnDeliver implements bus.Observer.
func (o *RedisObserver) OnDeliver(kind bus.Kind, id bus.ID, attempt int) {
	o.publish(LifecycleEvent{Kind: kind, Event: EventDeliver, ID: id, Count: attempt})
}

// OnAck implements bus.Observer.
func (o *RedisObserver) OnAck(kind bus.Kind, id bus.ID) {
	o.publish(LifecycleEvent{Kind: kind, Event: EventAck, ID: id})
}

// OnNack implements bus.Observer.
func (o *RedisObserver) OnNack(kind bus.Kind, id bus.ID) {
	o.publish(LifecycleEvent{Kind: kind, Event: EventNack, ID: id})
}

// OnPromote implements bus.Observer.
func (o *RedisObserver) OnPromote(kind bus.Kind, n int) {
	o.publish(LifecycleEvent{Kind: kind, Event: EventPromote, Count: n})
}

// Subscribe returns a channel of decoded LifecycleEvents published by any
// RedisObserver instance (including other processes) on the same Redis
// deployment. The channel is closed when ctx is done.
func Subscribe(ctx context.Context, client *redis.Client) <-chan LifecycleEvent {
	out := make(chan LifecycleEvent)
	pubsub := client.Subscribe(ctx, redisChannel)

	go func() {
		defer close(out)
		defer pubsub.Close()
		msgCh := pubsub.Channel()
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-msgCh:
				if !ok {
					return
				}
				var ev LifecycleEvent
				if err := json.Unmarshal([]byte(msg.Payload), &ev); err != nil {
					continue
				}
				select {
				case out <- ev:
				case <-ctx.Done():
					return
				}
			}
		}
	}()

	return out
}

var _ bus.Observer = (*RedisObserver)(nil)
