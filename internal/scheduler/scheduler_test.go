package scheduler

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/oriys/taskbus/internal/bus"
)

type sumArgs struct {
	A int `json:"a"`
	B int `json:"b"`
}

type sumCodec struct{}

func (sumCodec) Kind() bus.Kind { return "sum" }

func (sumCodec) Serialize(a sumArgs) ([]byte, error) { return json.Marshal(a) }

func (sumCodec) Deserialize(p []byte) (sumArgs, error) {
	var a sumArgs
	err := json.Unmarshal(p, &a)
	return a, err
}

type failingCodec struct{}

func (failingCodec) Kind() bus.Kind { return "broken" }

func (failingCodec) Serialize(sumArgs) ([]byte, error) { return nil, errors.New("boom") }

func (failingCodec) Deserialize([]byte) (sumArgs, error) { return sumArgs{}, nil }

func TestTryScheduleDeliversDecodableTask(t *testing.T) {
	b := bus.New(bus.Config{})
	defer b.Stop()
	s := New(b)

	id, err := TrySchedule(s, sumCodec{}, sumArgs{A: 2, B: 3}, 0)
	if err != nil {
		t.Fatalf("try schedule: %v", err)
	}
	if id == 0 {
		t.Fatal("expected a non-zero id")
	}

	jobs, ok := b.Next(context.Background(), "sum", 1, time.Second)
	if !ok || len(jobs) != 1 {
		t.Fatalf("expected delivery, got %v ok=%v", jobs, ok)
	}

	args, err := sumCodec{}.Deserialize(jobs[0].Payload)
	if err != nil {
		t.Fatalf("deserialize: %v", err)
	}
	if args.A != 2 || args.B != 3 {
		t.Fatalf("expected {2 3}, got %+v", args)
	}
}

func TestTryScheduleSurfacesEncodingError(t *testing.T) {
	b := bus.New(bus.Config{})
	defer b.Stop()
	s := New(b)

	_, err := TrySchedule(s, failingCodec{}, sumArgs{}, 0)
	if err == nil {
		t.Fatal("expected an encoding error")
	}
}

func TestScheduleAtClampsPastInstantToZeroDelay(t *testing.T) {
	b := bus.New(bus.Config{})
	defer b.Stop()
	s := New(b)

	now := time.Unix(5000, 0)
	past := now.Add(-time.Hour)

	if _, err := TryScheduleAt(s, sumCodec{}, sumArgs{A: 1, B: 1}, past, now); err != nil {
		t.Fatalf("try schedule at: %v", err)
	}

	jobs, ok := b.Next(context.Background(), "sum", 1, 50*time.Millisecond)
	if !ok || len(jobs) != 1 {
		t.Fatalf("expected immediate delivery for a past instant, got %v ok=%v", jobs, ok)
	}
}

func TestSchedulePanicsOnEncodingError(t *testing.T) {
	b := bus.New(bus.Config{})
	defer b.Stop()
	s := New(b)

	defer func() {
		if recover() == nil {
			t.Fatal("expected Schedule to panic on encoding failure")
		}
	}()
	Schedule(s, failingCodec{}, sumArgs{})
}

func TestRecurringSchedulerReSubmitsOnEveryTick(t *testing.T) {
	b := bus.New(bus.Config{})
	defer b.Stop()

	r := NewRecurring(b)
	if err := r.AddFunc("heartbeat", "@every 20ms", "sum", []byte("tick")); err != nil {
		t.Fatalf("add func: %v", err)
	}
	r.Start()
	defer r.Stop()

	jobs, ok := b.Next(context.Background(), "sum", 1, time.Second)
	if !ok || len(jobs) != 1 {
		t.Fatalf("expected at least one tick delivered, got %v ok=%v", jobs, ok)
	}

	jobs2, ok := b.Next(context.Background(), "sum", 1, time.Second)
	if !ok || len(jobs2) != 1 {
		t.Fatalf("expected a second tick delivered, got %v ok=%v", jobs2, ok)
	}
}

func TestRecurringSchedulerRemoveStopsFutureTicks(t *testing.T) {
	b := bus.New(bus.Config{})
	defer b.Stop()

	r := NewRecurring(b)
	if err := r.AddFunc("heartbeat", "@every 20ms", "sum", []byte("tick")); err != nil {
		t.Fatalf("add func: %v", err)
	}
	r.Start()
	defer r.Stop()
	r.Remove("heartbeat")

	_, ok := b.Next(context.Background(), "sum", 1, 100*time.Millisecond)
	if !ok {
		t.Fatal("expected ok=true on a live bus")
	}
	if b.EnqueuedSize("sum") != 0 {
		t.Fatalf("expected no further ticks after Remove, got %d pending", b.EnqueuedSize("sum"))
	}
}
