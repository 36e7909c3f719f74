// Package queue provides an unbounded, thread-safe FIFO used to hand work
// from a producer (the accept loop) to a pool of consumers (workers). It is a
// list.List guarded by a single mutex with two condition signals: "more" wakes
// consumers when an item arrives and "less" wakes drain waiters when the queue
// becomes empty.
package queue

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/cyberinferno/go-connserver/list"
)

// ErrClosed is returned by Enqueue on a closed queue and by Dequeue once a
// closed queue has been drained.
var ErrClosed = errors.New("queue: closed")

// Queue is a FIFO of T values. Items are exclusively owned by the queue
// between Enqueue and Dequeue. The zero value is not usable; call New.
type Queue[T any] struct {
	mu      sync.Mutex
	more    *sync.Cond
	less    *sync.Cond
	items   list.List[T]
	destroy func(T)
	closed  bool
}

// New creates an empty queue.
//
// Parameters:
//   - destroy: Destructor invoked by Remove and RemoveAll for discarded items;
//     may be nil
//
// Returns:
//   - A new, open Queue
func New[T any](destroy func(T)) *Queue[T] {
	q := &Queue[T]{destroy: destroy}
	q.more = sync.NewCond(&q.mu)
	q.less = sync.NewCond(&q.mu)
	return q
}

// Enqueue appends v at the tail and wakes one waiting consumer. It never
// blocks on capacity.
//
// Parameters:
//   - v: The item to append
//
// Returns:
//   - ErrClosed if the queue has been closed, nil otherwise
func (q *Queue[T]) Enqueue(v T) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return ErrClosed
	}

	q.items.PushBack(list.NewNode(v, q.destroy))
	q.more.Signal()
	return nil
}

// Dequeue blocks until an item is available and removes it from the head.
// If ctx is cancelled while waiting, Dequeue returns ctx.Err() and leaves the
// queue untouched.
//
// Parameters:
//   - ctx: Context bounding the wait
//
// Returns:
//   - The head item
//   - ctx.Err() on cancellation, or ErrClosed when the queue is closed and empty
func (q *Queue[T]) Dequeue(ctx context.Context) (T, error) {
	var zero T

	stop := context.AfterFunc(ctx, func() {
		q.mu.Lock()
		q.more.Broadcast()
		q.mu.Unlock()
	})
	defer stop()

	q.mu.Lock()
	defer q.mu.Unlock()

	for q.items.Len() == 0 {
		if err := ctx.Err(); err != nil {
			return zero, err
		}

		if q.closed {
			return zero, ErrClosed
		}

		q.more.Wait()
	}

	return q.popLocked(), nil
}

// TryDequeue removes and returns the head item without blocking.
//
// Returns:
//   - The head item and true, or the zero value and false if the queue is empty
func (q *Queue[T]) TryDequeue() (T, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.items.Len() == 0 {
		var zero T
		return zero, false
	}

	return q.popLocked(), true
}

func (q *Queue[T]) popLocked() T {
	n := q.items.Front()
	q.items.Delete(n)
	if q.items.Len() == 0 {
		q.less.Broadcast()
	}

	return n.Value
}

// Len returns a point-in-time snapshot of the queue length.
func (q *Queue[T]) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.items.Len()
}

// IsEmpty reports whether the queue held no items at the time of the call.
func (q *Queue[T]) IsEmpty() bool {
	return q.Len() == 0
}

// Find returns the first queued item for which match returns true. The item
// stays in the queue.
//
// Parameters:
//   - match: Predicate evaluated in FIFO order
//
// Returns:
//   - The matching item and true, or the zero value and false
func (q *Queue[T]) Find(match func(T) bool) (T, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	n := q.items.Find(func(n *list.Node[T]) bool { return match(n.Value) })
	if n == nil {
		var zero T
		return zero, false
	}

	return n.Value, true
}

// Remove takes the first item matching match out of the queue, outside FIFO
// order, and runs the destructor on it.
//
// Parameters:
//   - match: Predicate selecting the item to discard
//
// Returns:
//   - true if an item was removed
func (q *Queue[T]) Remove(match func(T) bool) bool {
	q.mu.Lock()
	n := q.items.Find(func(n *list.Node[T]) bool { return match(n.Value) })
	if n == nil {
		q.mu.Unlock()
		return false
	}

	q.items.Delete(n)
	if q.items.Len() == 0 {
		q.less.Broadcast()
	}
	q.mu.Unlock()

	if n.Destroy != nil {
		n.Destroy(n.Value)
	}

	return true
}

// RemoveAll discards every queued item, running the destructor on each in
// FIFO order. Destructors run after the lock is released.
//
// Returns:
//   - The number of items discarded
func (q *Queue[T]) RemoveAll() int {
	q.mu.Lock()
	var drained list.List[T]
	for n := q.items.Front(); n != nil; n = q.items.Front() {
		q.items.Delete(n)
		drained.PushBack(n)
	}
	q.less.Broadcast()
	q.mu.Unlock()

	count := drained.Len()
	drained.Teardown()
	return count
}

// WaitEmpty blocks until the queue length drops to zero or ctx is done. It
// reports drainage only; items taken by consumers may still be in progress.
//
// Parameters:
//   - ctx: Context bounding the wait
//
// Returns:
//   - nil once the queue is empty, or ctx.Err()
func (q *Queue[T]) WaitEmpty(ctx context.Context) error {
	stop := context.AfterFunc(ctx, func() {
		q.mu.Lock()
		q.less.Broadcast()
		q.mu.Unlock()
	})
	defer stop()

	q.mu.Lock()
	defer q.mu.Unlock()

	for q.items.Len() > 0 {
		if err := ctx.Err(); err != nil {
			return err
		}

		q.less.Wait()
	}

	return nil
}

// WaitEmptyTimeout is WaitEmpty bounded by d. A non-positive d waits without a
// deadline.
//
// Returns:
//   - true if the queue drained before the timeout
func (q *Queue[T]) WaitEmptyTimeout(d time.Duration) bool {
	ctx := context.Background()
	if d > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, d)
		defer cancel()
	}

	return q.WaitEmpty(ctx) == nil
}

// Close marks the queue closed and wakes every waiting consumer. Items already
// queued can still be dequeued; once empty, Dequeue returns ErrClosed.
// Closing twice is a no-op.
func (q *Queue[T]) Close() {
	q.mu.Lock()
	defer q.mu.Unlock()

	q.closed = true
	q.more.Broadcast()
}

// Closed reports whether Close has been called.
func (q *Queue[T]) Closed() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.closed
}
