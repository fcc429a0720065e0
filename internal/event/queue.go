package event

import (
	"context"
	"sync"
	"sync/atomic"
)

// Queue is a bounded FIFO between the feed reader and the engine.
// Push never blocks: when full, the oldest entry is dropped and counted.
type Queue struct {
	mu     sync.Mutex
	buf    []Event
	head   int
	size   int
	closed bool

	notify  chan struct{}
	done    chan struct{}
	dropped atomic.Uint64
	onDrop  func()
}

// NewQueue creates a queue holding at most capacity events.
func NewQueue(capacity int) *Queue {
	if capacity <= 0 {
		capacity = 1
	}
	return &Queue{
		buf:    make([]Event, capacity),
		notify: make(chan struct{}, 1),
		done:   make(chan struct{}),
	}
}

// OnDrop registers a hook invoked once per dropped event (metrics).
// Must be set before the first Push.
func (q *Queue) OnDrop(fn func()) {
	q.onDrop = fn
}

// Push appends ev. It returns false if an older event had to be dropped
// or the queue is closed.
func (q *Queue) Push(ev Event) bool {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		Release(ev)
		return false
	}

	ok := true
	if q.size == len(q.buf) {
		old := q.buf[q.head]
		q.buf[q.head] = nil
		q.head = (q.head + 1) % len(q.buf)
		q.size--
		ok = false
		q.dropped.Add(1)
		Release(old)
		if q.onDrop != nil {
			q.onDrop()
		}
	}
	q.buf[(q.head+q.size)%len(q.buf)] = ev
	q.size++
	q.mu.Unlock()

	select {
	case q.notify <- struct{}{}:
	default:
	}
	return ok
}

func (q *Queue) popLocked() Event {
	ev := q.buf[q.head]
	q.buf[q.head] = nil
	q.head = (q.head + 1) % len(q.buf)
	q.size--
	return ev
}

// Pop blocks until an event is available. It returns false once the queue is
// closed and empty, or when ctx is done.
func (q *Queue) Pop(ctx context.Context) (Event, bool) {
	for {
		q.mu.Lock()
		if q.size > 0 {
			ev := q.popLocked()
			q.mu.Unlock()
			return ev, true
		}
		closed := q.closed
		q.mu.Unlock()
		if closed {
			return nil, false
		}

		select {
		case <-q.notify:
		case <-q.done:
		case <-ctx.Done():
			return nil, false
		}
	}
}

// Drain removes and returns every queued event in order.
func (q *Queue) Drain() []Event {
	q.mu.Lock()
	defer q.mu.Unlock()

	out := make([]Event, 0, q.size)
	for q.size > 0 {
		out = append(out, q.popLocked())
	}
	return out
}

// Close stops accepting events. Queued events remain poppable.
func (q *Queue) Close() {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return
	}
	q.closed = true
	close(q.done)
}

// Len returns the number of queued events.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.size
}

// Dropped returns the number of events evicted because the queue was full.
func (q *Queue) Dropped() uint64 {
	return q.dropped.Load()
}
