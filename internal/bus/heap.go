package bus

import (
	"container/heap"
	"time"
)

// timeHeapEntry is one slot in a timeHeap: an envelope keyed by the
// absolute time at which it becomes actionable (earliestDelivery for the
// delayed index, leaseExpiry for the unacked index).
type timeHeapEntry struct {
	deadline time.Time
	env      envelope
}

// timeHeap is a container/heap-backed min-heap ordered by deadline. It
// keeps the next-due entry (by delay expiry or lease expiry) at the root
// in O(log n) per insert/pop, which is what the delayed and unacked
// indexes need for their promotion sweeps.
type timeHeap []*timeHeapEntry

func (h timeHeap) Len() int { return len(h) }

func (h timeHeap) Less(i, j int) bool { return h[i].deadline.Before(h[j].deadline) }

func (h timeHeap) Swap(i, j int) { h[i], h[j] = h[j], h[i] }

func (h *timeHeap) Push(x any) {
	*h = append(*h, x.(*timeHeapEntry))
}

func (h *timeHeap) Pop() any {
	old := *h
	n := len(old)
	entry := old[n-1]
	old[n-1] = nil
	*h = old[:n-1]
	return entry
}

// removeID scans the heap for the live entry with the given id at the
// given deadline key and removes it via heap.Remove, returning its
// envelope. container/heap supports removal only by index, not by value,
// so this is a linear scan — acceptable here because Nack is not a
// hot-path operation and per-kind unacked sets are bounded by in-flight
// concurrency, not overall throughput.
func (h *timeHeap) removeID(id ID, deadline time.Time) (envelope, bool) {
	for i, e := range *h {
		if e.env.id == id && e.deadline.Equal(deadline) {
			env := e.env
			heap.Remove(h, i)
			return env, true
		}
	}
	return envelope{}, false
}
