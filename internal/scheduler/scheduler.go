// Package scheduler submits typed tasks onto a bus and, optionally, drives
// their periodic resubmission on a cron schedule.
package scheduler

import (
	"fmt"
	"sync"
	"time"

	"github.com/oriys/taskbus/internal/bus"
	"github.com/oriys/taskbus/internal/logging"
	"github.com/robfig/cron/v3"
)

// Task codes a Go value of type A to and from the byte payload a Bus
// carries, and names the Kind its encoded form is scheduled under. Go has
// no generic methods, so the codec is a value passed alongside the type
// parameter rather than a static method looked up on A itself.
type Task[A any] interface {
	Kind() bus.Kind
	Serialize(A) ([]byte, error)
	Deserialize([]byte) (A, error)
}

// Scheduler submits typed tasks onto an underlying Bus.
type Scheduler struct {
	bus *bus.Bus
}

// New wraps a Bus for typed submission.
func New(b *bus.Bus) *Scheduler {
	return &Scheduler{bus: b}
}

// TrySchedule encodes task with codec and submits it for delivery after the
// given delay, returning the assigned id or the first encoding/submission
// error encountered.
func TrySchedule[A any](s *Scheduler, codec Task[A], task A, after time.Duration) (bus.ID, error) {
	if after < 0 {
		after = 0
	}
	payload, err := codec.Serialize(task)
	if err != nil {
		return 0, fmt.Errorf("serialize task: %w", err)
	}
	return s.bus.Put(codec.Kind(), payload, after)
}

// TryScheduleAt is TrySchedule relative to a wall-clock instant rather than
// a duration; an instant at or before now clamps to zero delay.
func TryScheduleAt[A any](s *Scheduler, codec Task[A], task A, at time.Time, now time.Time) (bus.ID, error) {
	return TrySchedule(s, codec, task, at.Sub(now))
}

// Schedule is TrySchedule for callers that treat submission failure as
// fatal; it panics on error rather than returning one. after is variadic
// and defaults to zero, mirroring the original's optional-delay signature.
func Schedule[A any](s *Scheduler, codec Task[A], task A, after ...time.Duration) bus.ID {
	var d time.Duration
	if len(after) > 0 {
		d = after[0]
	}
	id, err := TrySchedule(s, codec, task, d)
	if err != nil {
		panic(err)
	}
	return id
}

// RecurringScheduler drives periodic resubmission of a fixed payload onto a
// bus according to a cron expression. It is additive to the one-shot typed
// scheduler above: a recurring entry is a Bus.Put of an already-encoded
// payload, fired on a timer instead of once by the caller.
type RecurringScheduler struct {
	cron    *cron.Cron
	bus     *bus.Bus
	mu      sync.Mutex
	entries map[string]cron.EntryID
}

// NewRecurring constructs a RecurringScheduler bound to b. It does not
// start running until Start is called.
func NewRecurring(b *bus.Bus) *RecurringScheduler {
	return &RecurringScheduler{
		cron:    cron.New(cron.WithParser(cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor))),
		bus:     b,
		entries: make(map[string]cron.EntryID),
	}
}

// Start begins firing registered entries in the background.
func (r *RecurringScheduler) Start() {
	r.cron.Start()
}

// Stop halts the cron clock and waits for any in-flight entry to finish.
func (r *RecurringScheduler) Stop() {
	<-r.cron.Stop().Done()
}

// AddFunc registers a named recurring entry that re-submits payload under
// kind on every tick of cronExpr, replacing any existing entry with the
// same name.
func (r *RecurringScheduler) AddFunc(name, cronExpr string, kind bus.Kind, payload []byte) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if id, ok := r.entries[name]; ok {
		r.cron.Remove(id)
		delete(r.entries, name)
	}

	id, err := r.cron.AddFunc(cronExpr, func() {
		if _, err := r.bus.Put(kind, payload, 0); err != nil {
			logging.Op().Error("recurring schedule failed to enqueue", "entry", name, "kind", kind, "error", err)
		}
	})
	if err != nil {
		return fmt.Errorf("register cron entry %q: %w", name, err)
	}
	r.entries[name] = id
	return nil
}

// Remove unregisters a named recurring entry, if present.
func (r *RecurringScheduler) Remove(name string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if id, ok := r.entries[name]; ok {
		r.cron.Remove(id)
		delete(r.entries, name)
	}
}
