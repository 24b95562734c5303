// Package buffer provides an unbounded FIFO queue for single-consumer
// pipelines. Producers never block and never drop, so a slow consumer shows up
// as growth instead of lost stream messages.
package buffer

import "sync"

// growThreshold is the fill ratio, in percent, at which the ring doubles.
const growThreshold = 70

// Queue is a goroutine-safe ring buffer that doubles when 70% full.
type Queue[T any] struct {
	mu     sync.Mutex
	cond   *sync.Cond
	ring   []T
	head   int
	size   int
	closed bool

	pushed  int64
	popped  int64
	resizes int
}

// New creates a queue with the given initial capacity (minimum 1).
func New[T any](capacity int) *Queue[T] {
	if capacity < 1 {
		capacity = 1
	}
	q := &Queue[T]{ring: make([]T, capacity)}
	q.cond = sync.NewCond(&q.mu)
	return q
}

// Push appends an item. It returns false once the queue is closed.
func (q *Queue[T]) Push(item T) bool {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return false
	}

	limit := len(q.ring) * growThreshold / 100
	if limit < 1 {
		limit = 1
	}
	if q.size+1 >= limit {
		q.resize(len(q.ring) * 2)
	}

	q.ring[(q.head+q.size)%len(q.ring)] = item
	q.size++
	q.pushed++
	q.cond.Signal()
	return true
}

// Pop blocks until an item is available. It returns false when the queue is
// closed and empty.
func (q *Queue[T]) Pop() (T, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	for q.size == 0 && !q.closed {
		q.cond.Wait()
	}
	if q.size == 0 {
		var zero T
		return zero, false
	}
	return q.take(), true
}

// TryPop returns an item without blocking.
func (q *Queue[T]) TryPop() (T, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.size == 0 {
		var zero T
		return zero, false
	}
	return q.take(), true
}

// PopBatch blocks until at least one item is queued, then removes up to max
// items (all when max <= 0). It returns nil when closed and empty.
func (q *Queue[T]) PopBatch(max int) []T {
	q.mu.Lock()
	defer q.mu.Unlock()

	for q.size == 0 && !q.closed {
		q.cond.Wait()
	}
	return q.drain(max)
}

// Drain removes up to max items (all when max <= 0) without blocking.
func (q *Queue[T]) Drain(max int) []T {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.drain(max)
}

// Close stops accepting items and wakes blocked consumers. Items already
// queued can still be popped.
func (q *Queue[T]) Close() {
	q.mu.Lock()
	defer q.mu.Unlock()

	q.closed = true
	q.cond.Broadcast()
}

// Len returns the number of queued items.
func (q *Queue[T]) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.size
}

// Stats is a point-in-time view of queue counters.
type Stats struct {
	Len      int
	Capacity int
	Pushed   int64
	Popped   int64
	Resizes  int
}

// Stats returns current counters.
func (q *Queue[T]) Stats() Stats {
	q.mu.Lock()
	defer q.mu.Unlock()
	return Stats{
		Len:      q.size,
		Capacity: len(q.ring),
		Pushed:   q.pushed,
		Popped:   q.popped,
		Resizes:  q.resizes,
	}
}

// take pops the head item. Caller holds mu and guarantees size > 0.
func (q *Queue[T]) take() T {
	var zero T
	item := q.ring[q.head]
	q.ring[q.head] = zero
	q.head = (q.head + 1) % len(q.ring)
	q.size--
	q.popped++
	return item
}

func (q *Queue[T]) drain(max int) []T {
	if q.size == 0 {
		return nil
	}
	n := q.size
	if max > 0 && max < n {
		n = max
	}
	out := make([]T, n)
	for i := range out {
		out[i] = q.take()
	}
	return out
}

// resize copies the live window into a new ring. Caller holds mu.
func (q *Queue[T]) resize(capacity int) {
	ring := make([]T, capacity)
	for i := 0; i < q.size; i++ {
		ring[i] = q.ring[(q.head+i)%len(q.ring)]
	}
	q.ring = ring
	q.head = 0
	q.resizes++
}
