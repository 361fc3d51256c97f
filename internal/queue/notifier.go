// Package queue fans out bus lifecycle signals — put/deliver/ack/nack/
// promote — to subscribers that want to react to bus activity without
// being handed the tasks themselves: a local admin stream, a dashboard,
// an oncall bot. It never carries task payloads; that's what bus.Next is
// for. A Notifier is purely an additional wakeup/observability channel
// layered on top of the bus's own blocking Next/cond discipline, not a
// replacement for it.
//
// Implementations:
//   - NoopNotifier: discards every signal
//   - ChannelNotifier: in-process fan-out, filterable by kind; also a
//     bus.Observer, so it can be attached to a Bus directly
//   - RedisObserver (redis_observer.go): the cross-process counterpart,
//     publishing the same signals over Redis PUBLISH/SUBSCRIBE
package queue

import (
	"context"
	"sync"

	"github.com/oriys/taskbus/internal/bus"
)

// Event names which bus.Observer callback produced a Signal.
type Event string

const (
	EventPut     Event = "put"
	EventDeliver Event = "deliver"
	EventAck     Event = "ack"
	EventNack    Event = "nack"
	EventPromote Event = "promote"
)

// Signal is one lifecycle callback, shaped closely enough after
// bus.Observer's own arguments that a Notifier implementation can be
// built directly from them. ID is the bus message id; it is zero for an
// EventPromote signal, which concerns a batch rather than one message.
// Count is the delivery attempt for EventDeliver and the number of
// entries promoted for EventPromote; it is otherwise zero.
type Signal struct {
	Kind  bus.Kind
	Event Event
	ID    bus.ID
	Count int
}

// Notifier fans Signals out to subscribers that filter by kind.
type Notifier interface {
	// Notify delivers sig to every subscriber of sig.Kind, plus every
	// subscriber of the empty kind (which receives every kind).
	Notify(ctx context.Context, sig Signal) error

	// Subscribe returns a channel of Signals for kind. An empty kind
	// subscribes to every kind. The channel is closed when ctx is done
	// or Close is called.
	Subscribe(ctx context.Context, kind bus.Kind) <-chan Signal

	// Close releases all resources held by the notifier.
	Close() error
}

// NoopNotifier discards every signal.
type NoopNotifier struct{}

func NewNoopNotifier() *NoopNotifier { return &NoopNotifier{} }

func (n *NoopNotifier) Notify(_ context.Context, _ Signal) error { return nil }

func (n *NoopNotifier) Subscribe(ctx context.Context, _ bus.Kind) <-chan Signal {
	ch := make(chan Signal)
	go func() {
		<-ctx.Done()
		close(ch)
	}()
	return ch
}

func (n *NoopNotifier) Close() error { return nil }

// ChannelNotifier is an in-process, channel-based Notifier suitable for a
// single daemon instance. It also implements bus.Observer directly, so a
// Bus can be wired straight to one without a handler calling Notify
// itself: attach it as (or alongside, via a combining observer) the
// Bus's Observer and every Put/Next/Ack/Nack/promotion sweep becomes a
// Signal subscribers can filter on.
type ChannelNotifier struct {
	mu     sync.Mutex
	byKind map[bus.Kind][]chan Signal
	all    []chan Signal
	closed bool
}

func NewChannelNotifier() *ChannelNotifier {
	return &ChannelNotifier{byKind: make(map[bus.Kind][]chan Signal)}
}

func (n *ChannelNotifier) Notify(_ context.Context, sig Signal) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.closed {
		return nil
	}
	for _, ch := range n.byKind[sig.Kind] {
		select {
		case ch <- sig:
		default:
		}
	}
	for _, ch := range n.all {
		select {
		case ch <- sig:
		default:
		}
	}
	return nil
}

func (n *ChannelNotifier) Subscribe(ctx context.Context, kind bus.Kind) <-chan Signal {
	ch := make(chan Signal, 1)

	n.mu.Lock()
	if n.closed {
		n.mu.Unlock()
		close(ch)
		return ch
	}
	if kind == "" {
		n.all = append(n.all, ch)
	} else {
		n.byKind[kind] = append(n.byKind[kind], ch)
	}
	n.mu.Unlock()

	go func() {
		<-ctx.Done()
		n.mu.Lock()
		defer n.mu.Unlock()
		if n.closed {
			// Close has already closed ch.
			return
		}
		n.unsubscribeLocked(kind, ch)
		close(ch)
	}()

	return ch
}

func (n *ChannelNotifier) unsubscribeLocked(kind bus.Kind, ch chan Signal) {
	if kind == "" {
		for i, s := range n.all {
			if s == ch {
				n.all = append(n.all[:i], n.all[i+1:]...)
				return
			}
		}
		return
	}
	subs := n.byKind[kind]
	for i, s := range subs {
		if s == ch {
			n.byKind[kind] = append(subs[:i], subs[i+1:]...)
			return
		}
	}
}

func (n *ChannelNotifier) Close() error {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.closed {
		return nil
	}
	n.closed = true
	for _, ch := range n.all {
		close(ch)
	}
	for _, subs := range n.byKind {
		for _, ch := range subs {
			close(ch)
		}
	}
	n.all = nil
	n.byKind = nil
	return nil
}

// OnPut implements bus.Observer.
func (n *ChannelNotifier) OnPut(kind bus.Kind, id bus.ID) {
	n.Notify(context.Background(), Signal{Kind: kind, Event: EventPut, ID: id})
}

// OnDeliver implements bus.Observer.
func (n *ChannelNotifier) OnDeliver(kind bus.Kind, id bus.ID, attempt int) {
	n.Notify(context.Background(), Signal{Kind: kind, Event: EventDeliver, ID: id, Count: attempt})
}

// OnAck implements bus.Observer.
func (n *ChannelNotifier) OnAck(kind bus.Kind, id bus.ID) {
	n.Notify(context.Background(), Signal{Kind: kind, Event: EventAck, ID: id})
}

// OnNack implements bus.Observer.
func (n *ChannelNotifier) OnNack(kind bus.Kind, id bus.ID) {
	n.Notify(context.Background(), Signal{Kind: kind, Event: EventNack, ID: id})
}

// OnPromote implements bus.Observer.
func (n *ChannelNotifier) OnPromote(kind bus.Kind, count int) {
	n.Notify(context.Background(), Signal{Kind: kind, Event: EventPromote, Count: count})
}

var _ bus.Observer = (*ChannelNotifier)(nil)
