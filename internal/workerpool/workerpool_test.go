package workerpool

import (
	"context"
	"encoding/json"
	"sync/atomic"
	"testing"
	"time"

	"github.com/oriys/taskbus/internal/bus"
	"github.com/oriys/taskbus/internal/scheduler"
)

type pairArgs struct {
	A int `json:"a"`
	B int `json:"b"`
}

type sumCodec struct{}

func (sumCodec) Kind() bus.Kind { return "sum" }

func (sumCodec) Serialize(a pairArgs) ([]byte, error) { return json.Marshal(a) }

func (sumCodec) Deserialize(p []byte) (pairArgs, error) {
	var a pairArgs
	err := json.Unmarshal(p, &a)
	return a, err
}

type subCodec struct{}

func (subCodec) Kind() bus.Kind { return "sub" }

func (subCodec) Serialize(a pairArgs) ([]byte, error) { return json.Marshal(a) }

func (subCodec) Deserialize(p []byte) (pairArgs, error) {
	var a pairArgs
	err := json.Unmarshal(p, &a)
	return a, err
}

func TestPoolProcessesEveryTaskAcrossTwoKinds(t *testing.T) {
	b := bus.New(bus.Config{AutoAck: true})
	defer b.Stop()

	s := scheduler.New(b)
	p := New(b, 20*time.Millisecond)

	var sumTotal, subTotal atomic.Int64
	var sumCount, subCount atomic.Int64

	WorkOn(p, sumCodec{}, func(_ context.Context, a pairArgs) error {
		sumTotal.Add(int64(a.A + a.B))
		sumCount.Add(1)
		return nil
	}, 5)

	WorkOn(p, subCodec{}, func(_ context.Context, a pairArgs) error {
		subTotal.Add(int64(a.A - a.B))
		subCount.Add(1)
		return nil
	}, 5)

	const n = 20
	wantSum, wantSub := 0, 0
	for i := 1; i <= n; i++ {
		if _, err := scheduler.TrySchedule(s, sumCodec{}, pairArgs{A: i, B: 1}, 0); err != nil {
			t.Fatalf("schedule sum: %v", err)
		}
		wantSum += i + 1

		if _, err := scheduler.TrySchedule(s, subCodec{}, pairArgs{A: i, B: 1}, 0); err != nil {
			t.Fatalf("schedule sub: %v", err)
		}
		wantSub += i - 1
	}

	deadline := time.Now().Add(2 * time.Second)
	for (sumCount.Load() < n || subCount.Load() < n) && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}

	p.Stop()

	if got := sumCount.Load(); got != n {
		t.Fatalf("expected %d sum tasks processed, got %d", n, got)
	}
	if got := subCount.Load(); got != n {
		t.Fatalf("expected %d sub tasks processed, got %d", n, got)
	}
	if got := int(sumTotal.Load()); got != wantSum {
		t.Fatalf("expected sum total %d, got %d", wantSum, got)
	}
	if got := int(subTotal.Load()); got != wantSub {
		t.Fatalf("expected sub total %d, got %d", wantSub, got)
	}
}

func TestWorkOnIgnoresDuplicateRegistrationForSameKind(t *testing.T) {
	b := bus.New(bus.Config{AutoAck: true})
	defer b.Stop()
	p := New(b, 10*time.Millisecond)

	var first, second atomic.Int64
	WorkOn(p, sumCodec{}, func(context.Context, pairArgs) error {
		first.Add(1)
		return nil
	}, 2)
	WorkOn(p, sumCodec{}, func(context.Context, pairArgs) error {
		second.Add(1)
		return nil
	}, 2)

	s := scheduler.New(b)
	for i := 0; i < 5; i++ {
		if _, err := scheduler.TrySchedule(s, sumCodec{}, pairArgs{A: i}, 0); err != nil {
			t.Fatalf("schedule: %v", err)
		}
	}

	deadline := time.Now().Add(time.Second)
	for first.Load() < 5 && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}
	p.Stop()

	if first.Load() != 5 {
		t.Fatalf("expected the first registered handler to process all 5 tasks, got %d", first.Load())
	}
	if second.Load() != 0 {
		t.Fatalf("expected the second registration to be ignored, got %d calls", second.Load())
	}
}

func TestPoolNackedTaskIsRedelivered(t *testing.T) {
	b := bus.New(bus.Config{AckTimeout: 20 * time.Millisecond})
	defer b.Stop()
	p := New(b, 10*time.Millisecond)

	var attempts atomic.Int64
	done := make(chan struct{})
	WorkOn(p, sumCodec{}, func(_ context.Context, a pairArgs) error {
		n := attempts.Add(1)
		if n == 1 {
			return context.DeadlineExceeded
		}
		close(done)
		return nil
	}, 1)

	s := scheduler.New(b)
	if _, err := scheduler.TrySchedule(s, sumCodec{}, pairArgs{A: 1, B: 1}, 0); err != nil {
		t.Fatalf("schedule: %v", err)
	}

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("task was never redelivered after a nack")
	}
	p.Stop()

	if attempts.Load() < 2 {
		t.Fatalf("expected at least 2 attempts, got %d", attempts.Load())
	}
}
