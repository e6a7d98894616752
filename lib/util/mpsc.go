package util

import (
	"runtime"
	"sync"
	"sync/atomic"
)

// node is a single element of the linked list backing the queue
type node[T any] struct {
	value T
	next  atomic.Pointer[node[T]]
}

// MPSC is an unbounded lock-free multi-producer single-consumer queue.
// Producers append with Push, the single consumer reads from the channel
// returned by Recv. Push never blocks, which makes the queue suitable as a
// hand-off between a socket reader and an event loop that may itself be busy.
type MPSC[T any] struct {
	head   atomic.Pointer[node[T]]
	tail   atomic.Pointer[node[T]]
	out    chan T
	closed atomic.Bool
	size   atomic.Int64

	// Condition variable for waiting on new items
	mu          sync.Mutex
	cond        *sync.Cond
	done        chan struct{}
	discardOnce sync.Once
}

// NewMPSC creates a new queue and starts its forwarding goroutine
func NewMPSC[T any]() *MPSC[T] {
	sentinel := &node[T]{}

	q := &MPSC[T]{
		out:  make(chan T),
		done: make(chan struct{}),
	}
	q.cond = sync.NewCond(&q.mu)
	q.head.Store(sentinel)
	q.tail.Store(sentinel)

	go q.forward()

	return q
}

// Push appends a value to the queue.
// Returns false if the queue is already closed.
//
// Thread-safety: This method can be called concurrently.
func (q *MPSC[T]) Push(value T) bool {
	if q.closed.Load() {
		return false
	}

	newNode := &node[T]{value: value}
	var spins uint8

	for {
		tailNode := q.tail.Load()
		next := tailNode.next.Load()

		if next == nil {
			if tailNode.next.CompareAndSwap(nil, newNode) {
				// may fail if another producer already moved the tail
				q.tail.CompareAndSwap(tailNode, newNode)
				q.size.Add(1)

				q.mu.Lock()
				q.cond.Signal()
				q.mu.Unlock()
				return true
			}
		} else {
			// help a producer that appended but did not move the tail yet
			q.tail.CompareAndSwap(tailNode, next)
		}

		if spins < 8 {
			spins++
			for i := 0; i < 1<<spins; i++ {
				runtime.Gosched()
			}
		}
		runtime.Gosched()
	}
}

// forward moves items from the linked list into the output channel
func (q *MPSC[T]) forward() {
	defer close(q.out)

	for {
		head := q.head.Load()
		next := head.next.Load()

		if next == nil {
			q.mu.Lock()
			for q.head.Load().next.Load() == nil && !q.closed.Load() {
				q.cond.Wait()
			}
			empty := q.head.Load().next.Load() == nil
			q.mu.Unlock()

			if empty {
				// closed and drained
				return
			}
			continue
		}

		value := next.value
		q.head.Store(next)
		q.size.Add(-1)

		select {
		case q.out <- value:
		case <-q.done:
			return
		}

		var zero T
		next.value = zero
	}
}

// Recv returns the channel the consumer reads from.
// The channel is closed once the queue was closed and every item was delivered.
func (q *MPSC[T]) Recv() <-chan T {
	return q.out
}

// Close stops accepting new items. Items already queued are still delivered.
func (q *MPSC[T]) Close() {
	if q.closed.Swap(true) {
		return
	}
	q.mu.Lock()
	q.cond.Broadcast()
	q.mu.Unlock()
}

// Discard closes the queue and drops every item the consumer has not read yet.
// Use it when the consumer has stopped reading for good.
func (q *MPSC[T]) Discard() {
	q.Close()
	q.discardOnce.Do(func() { close(q.done) })
}

// IsClosed returns true if Close or Discard was called
func (q *MPSC[T]) IsClosed() bool {
	return q.closed.Load()
}

// Len returns the approximate number of queued items
func (q *MPSC[T]) Len() int {
	return int(q.size.Load())
}
