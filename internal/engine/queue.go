package engine

import (
	"context"
	"sync"

	"github.com/roach88/roomdag/internal/event"
)

// Result is the outcome of an admission submitted with Enqueue.
type Result struct {
	Admission *Admission
	Err       error
}

// request is one queued admission.
type request struct {
	ctx  context.Context
	ev   *event.Event
	done chan Result // buffered, size 1
}

// admitQueue is a thread-safe FIFO of admission requests for one shard.
//
// Producers enqueue from any goroutine; the shard loop dequeues. The signal
// channel lets the loop wait with a context. A limit of 0 means unbounded.
type admitQueue struct {
	mu     sync.Mutex
	reqs   []request
	limit  int
	closed bool
	signal chan struct{} // buffered, size 1
}

func newAdmitQueue(limit int) *admitQueue {
	return &admitQueue{
		reqs:   make([]request, 0, 16),
		limit:  limit,
		signal: make(chan struct{}, 1),
	}
}

// Enqueue appends r. It returns ErrQueueClosed or ErrQueueFull when r was
// not queued.
func (q *admitQueue) Enqueue(r request) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return ErrQueueClosed
	}
	if q.limit > 0 && len(q.reqs) >= q.limit {
		return ErrQueueFull
	}
	q.reqs = append(q.reqs, r)

	select {
	case q.signal <- struct{}{}:
	default:
	}
	return nil
}

// TryDequeue removes the front request without blocking.
func (q *admitQueue) TryDequeue() (request, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if len(q.reqs) == 0 {
		return request{}, false
	}
	r := q.reqs[0]
	// Clear the slot so the backing array does not pin the event.
	q.reqs[0] = request{}
	if len(q.reqs) == 1 {
		q.reqs = q.reqs[:0]
	} else {
		q.reqs = q.reqs[1:]
	}
	return r, true
}

// Wait returns a channel that fires when requests may be available. It is
// closed by Close.
func (q *admitQueue) Wait() <-chan struct{} {
	return q.signal
}

// Len returns the number of queued requests.
func (q *admitQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.reqs)
}

// Done reports whether the queue is closed and drained.
func (q *admitQueue) Done() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.closed && len(q.reqs) == 0
}

// Close stops accepting requests and wakes the waiting loop. Queued
// requests are still drained.
func (q *admitQueue) Close() {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return
	}
	q.closed = true
	close(q.signal)
}
