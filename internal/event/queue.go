package event

import (
	"sync"
	"time"
)

// Queue is an unbounded, thread-safe FIFO for Events. Any number of
// goroutines may Push; exactly one goroutine may Pop. Push never blocks and
// never fails; there is no backpressure. Ordering of events pushed by the
// same goroutine is preserved.
type Queue struct {
	mu    sync.Mutex
	items []Event

	// wake has capacity one: a pending signal means "items may be
	// non-empty". The single consumer re-checks the slice after every
	// wakeup, so a coalesced signal never strands an event.
	wake chan struct{}
}

// NewQueue creates an empty queue.
func NewQueue() *Queue {
	return &Queue{
		wake: make(chan struct{}, 1),
	}
}

// Push appends an event to the queue and wakes the consumer if it is
// blocked in Pop.
func (q *Queue) Push(ev Event) {
	q.mu.Lock()
	q.items = append(q.items, ev)
	q.mu.Unlock()

	select {
	case q.wake <- struct{}{}:
	default:
	}
}

// Pop removes and returns the oldest event. It blocks for at most timeout
// and returns false if no event arrived in time. Only one goroutine may
// call Pop. The queue lock is never held across the wait.
func (q *Queue) Pop(timeout time.Duration) (Event, bool) {
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	for {
		if ev, ok := q.take(); ok {
			return ev, true
		}

		select {
		case <-q.wake:
		case <-timer.C:
			return Event{}, false
		}
	}
}

// Len returns the number of queued events.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()

	return len(q.items)
}

func (q *Queue) take() (Event, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if len(q.items) == 0 {
		return Event{}, false
	}

	ev := q.items[0]
	q.items = q.items[1:]

	if len(q.items) == 0 {
		// Release the backing array so a drained queue does not pin
		// previously pushed payloads.
		q.items = nil
	}

	return ev, true
}
