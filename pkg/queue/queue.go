// Package queue provides a generic, thread-safe unbounded FIFO queue for
// multi-producer, single-consumer pipelines.
//
// Unlike a bounded buffer with overflow policies, this queue never drops or
// reorders items: every Push is eventually observed by Pop in push order.
// That makes it suitable for protocol frame multiplexing where loss or
// reordering would corrupt the stream. The cost is unbounded memory growth
// under a slow consumer; callers should expose Len() as a gauge.
package queue

import (
	"context"
	"errors"
	"sync"

	eq "github.com/eapache/queue"
)

// ErrClosed is returned by Push and Pop once the queue has been closed and,
// for Pop, fully drained.
var ErrClosed = errors.New("queue: closed")

// Statistics is a point-in-time snapshot of queue activity.
type Statistics struct {
	Enqueued  uint64 // total items pushed
	Dequeued  uint64 // total items popped
	Depth     int    // current number of queued items
	HighWater int    // maximum observed depth
}

// Queue is an unbounded FIFO queue safe for concurrent producers and a
// single consumer. The zero value is not usable; use New.
type Queue[T any] struct {
	mu        sync.Mutex
	buf       *eq.Queue
	closed    bool
	enqueued  uint64
	dequeued  uint64
	highWater int

	// notify wakes the consumer after a Push or Close. Capacity 1 is
	// sufficient for a single consumer: a pending signal is never lost.
	notify chan struct{}
}

// New creates an empty queue.
func New[T any]() *Queue[T] {
	return &Queue[T]{
		buf:    eq.New(),
		notify: make(chan struct{}, 1),
	}
}

// Push appends an item. Push never blocks. It returns ErrClosed if the
// queue has been closed.
func (q *Queue[T]) Push(item T) error {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return ErrClosed
	}
	q.buf.Add(item)
	q.enqueued++
	if depth := q.buf.Length(); depth > q.highWater {
		q.highWater = depth
	}
	q.mu.Unlock()

	q.wake()
	return nil
}

// Pop removes and returns the oldest item, blocking until an item is
// available, the queue is closed and drained, or ctx is done. Items pushed
// before Close remain poppable.
func (q *Queue[T]) Pop(ctx context.Context) (T, error) {
	var zero T
	for {
		q.mu.Lock()
		if q.buf.Length() > 0 {
			item := q.buf.Remove().(T)
			q.dequeued++
			q.mu.Unlock()
			return item, nil
		}
		if q.closed {
			q.mu.Unlock()
			return zero, ErrClosed
		}
		q.mu.Unlock()

		select {
		case <-q.notify:
		case <-ctx.Done():
			return zero, ctx.Err()
		}
	}
}

// TryPop removes and returns the oldest item without blocking.
func (q *Queue[T]) TryPop() (T, bool) {
	var zero T
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.buf.Length() == 0 {
		return zero, false
	}
	item := q.buf.Remove().(T)
	q.dequeued++
	return item, true
}

// Len returns the current number of queued items.
func (q *Queue[T]) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.buf.Length()
}

// Close marks the queue closed. Subsequent Push calls fail with ErrClosed;
// Pop continues to drain already-queued items before returning ErrClosed.
// Close is idempotent.
func (q *Queue[T]) Close() {
	q.mu.Lock()
	q.closed = true
	q.mu.Unlock()

	q.wake()
}

// Stats returns a snapshot of queue statistics.
func (q *Queue[T]) Stats() Statistics {
	q.mu.Lock()
	defer q.mu.Unlock()
	return Statistics{
		Enqueued:  q.enqueued,
		Dequeued:  q.dequeued,
		Depth:     q.buf.Length(),
		HighWater: q.highWater,
	}
}

// wake signals the consumer without blocking; a pending signal is enough.
func (q *Queue[T]) wake() {
	select {
	case q.notify <- struct{}{}:
	default:
	}
}
