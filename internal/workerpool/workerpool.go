// Package workerpool runs fixed-size groups of goroutines that pull typed
// tasks off a bus, decode them, and hand them to caller-supplied handlers.
package workerpool

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/oriys/taskbus/internal/bus"
	"github.com/oriys/taskbus/internal/logging"
	"github.com/oriys/taskbus/internal/scheduler"
)

const defaultPollInterval = 100 * time.Millisecond

// Handler processes one decoded task. A non-nil return nacks the
// delivery for redelivery; a nil return acks it.
type Handler[A any] func(context.Context, A) error

// Pool owns one worker group per kind. Worker counts are fixed at
// creation time: a Pool never resizes a group after WorkOn registers it.
type Pool struct {
	bus          *bus.Bus
	pollInterval time.Duration

	mu      sync.Mutex
	workers map[bus.Kind]*worker
}

// New constructs a Pool bound to b. pollInterval bounds how long each
// worker blocks on Bus.Next while idle; zero selects a default.
func New(b *bus.Bus, pollInterval time.Duration) *Pool {
	if pollInterval <= 0 {
		pollInterval = defaultPollInterval
	}
	return &Pool{bus: b, pollInterval: pollInterval, workers: make(map[bus.Kind]*worker)}
}

// WorkOn starts size goroutines decoding codec.Kind()'s deliveries with
// codec and running them through handle. Registering a second group under
// a kind already in use is a no-op: use a single Pool per kind.
func WorkOn[A any](p *Pool, codec scheduler.Task[A], handle Handler[A], size int) {
	p.mu.Lock()
	defer p.mu.Unlock()

	kind := codec.Kind()
	if _, exists := p.workers[kind]; exists {
		return
	}

	w := newWorker(p.bus, kind, p.pollInterval, size)
	p.workers[kind] = w
	w.start(func(ctx context.Context, job bus.Job) error {
		task, err := codec.Deserialize(job.Payload)
		if err != nil {
			return err
		}
		return handle(ctx, task)
	})
}

// Stop signals every worker group to exit, and waits for all of their
// goroutines to return. Handlers already running complete; jobs still
// waiting in a group's ring buffer are not handed to a handler.
func (p *Pool) Stop() {
	p.mu.Lock()
	workers := make([]*worker, 0, len(p.workers))
	for _, w := range p.workers {
		workers = append(workers, w)
	}
	p.mu.Unlock()

	for _, w := range workers {
		w.stop()
	}
}

// worker holds a bounded ring buffer of jobs fetched in one batch from the
// bus, so that a single Next call backing `size` goroutines doesn't force
// every one of them to contend on the bus lock for each individual task.
type worker struct {
	bus          *bus.Bus
	kind         bus.Kind
	pollInterval time.Duration
	size         int

	mu         sync.Mutex
	cond       *sync.Cond
	jobs       []bus.Job
	readyAt    int
	readyCount int
	stopping   bool
	fetching   bool

	wg sync.WaitGroup
}

func newWorker(b *bus.Bus, kind bus.Kind, pollInterval time.Duration, size int) *worker {
	w := &worker{
		bus:          b,
		kind:         kind,
		pollInterval: pollInterval,
		size:         size,
		jobs:         make([]bus.Job, size),
	}
	w.cond = sync.NewCond(&w.mu)
	return w
}

func (w *worker) start(process func(context.Context, bus.Job) error) {
	for i := 0; i < w.size; i++ {
		w.wg.Add(1)
		go w.run(process)
	}
}

func (w *worker) stop() {
	w.mu.Lock()
	w.stopping = true
	w.cond.Broadcast()
	w.mu.Unlock()
	w.wg.Wait()
}

func (w *worker) run(process func(context.Context, bus.Job) error) {
	defer w.wg.Done()

	for {
		job, ok := w.next()
		if !ok {
			return
		}
		if err := invokeHandler(process, job); err != nil {
			logging.Delivery(context.Background(), w.kind, job.ID, 1).
				Warn("handler failed, nacking for redelivery", "error", err)
			w.bus.Nack(w.kind, job.ID)
		} else {
			w.bus.Ack(w.kind, job.ID)
		}
	}
}

// invokeHandler calls process and recovers a panic as a non-nil error, the
// Go equivalent of the original's "throws/aborts ⇒ nack" handler discipline.
func invokeHandler(process func(context.Context, bus.Job) error, job bus.Job) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("handler panicked: %v", r)
		}
	}()
	return process(context.Background(), job)
}

// next returns the next job to process, or ok=false if this worker should
// exit. It first drains whatever the last batch fetch left in the ring
// buffer before going back to the bus for more, so that one Next call
// serves every goroutine in the group in turn. At most one goroutine ever
// calls bus.Next at a time (tracked by the fetching flag), since the ring
// buffer has capacity for exactly one batch and a second concurrent fetch
// would overwrite entries the first has not handed out yet; other
// goroutines wait on the condition variable instead of blocking inside the
// bus call themselves. The mutex is released before calling into the bus
// and re-acquired after, so it is never held across that blocking call. A
// timed-out poll on a live bus yields no job, and next polls again without
// returning; ok=false only once the worker or the bus itself is stopping.
func (w *worker) next() (bus.Job, bool) {
	w.mu.Lock()

	for {
		if w.stopping {
			w.mu.Unlock()
			return bus.Job{}, false
		}

		if w.readyCount > 0 {
			at := w.readyAt
			w.readyCount--
			w.readyAt = (at + 1) % w.size
			w.mu.Unlock()
			return w.jobs[at], true
		}

		if w.fetching {
			w.cond.Wait()
			continue
		}

		w.fetching = true
		w.mu.Unlock()

		batch, ok := w.bus.Next(context.Background(), w.kind, w.size, w.pollInterval)

		w.mu.Lock()
		w.fetching = false
		if !ok {
			w.stopping = true
			w.cond.Broadcast()
			w.mu.Unlock()
			return bus.Job{}, false
		}
		for i, j := range batch {
			w.jobs[(w.readyAt+i)%w.size] = j
			w.readyCount++
		}
		w.cond.Broadcast()
	}
}
