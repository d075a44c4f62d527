// Package ring implements the fixed-capacity single-producer/single-consumer
// queues that connect pipeline stages.
package ring

import (
	"fmt"
	"sync/atomic"
)

const cacheLine = 64

// Ring is a lock-free SPSC ring. Exactly one goroutine may enqueue and
// exactly one goroutine may dequeue. Items leave in the order they entered
// and the capacity never changes.
type Ring[T any] struct {
	name string
	mask uint64
	buf  []T

	_    [cacheLine]byte
	head atomic.Uint64 // next slot to dequeue, written by the consumer
	_    [cacheLine - 8]byte
	tail atomic.Uint64 // next slot to enqueue, written by the producer
	_    [cacheLine - 8]byte
}

// New creates a ring holding up to capacity items. capacity must be a
// power of two.
func New[T any](name string, capacity int) (*Ring[T], error) {
	if capacity <= 0 || capacity&(capacity-1) != 0 {
		return nil, fmt.Errorf("ring %s: capacity %d is not a power of two", name, capacity)
	}
	return &Ring[T]{
		name: name,
		mask: uint64(capacity - 1),
		buf:  make([]T, capacity),
	}, nil
}

// Name returns the ring name.
func (r *Ring[T]) Name() string { return r.name }

// Cap returns the fixed capacity.
func (r *Ring[T]) Cap() int { return len(r.buf) }

// Len returns the number of queued items. It is exact only when called from
// the producer or the consumer.
func (r *Ring[T]) Len() int {
	return int(r.tail.Load() - r.head.Load())
}

// Enqueue adds one item. It returns false when the ring is full.
func (r *Ring[T]) Enqueue(v T) bool {
	tail := r.tail.Load()
	if tail-r.head.Load() == uint64(len(r.buf)) {
		return false
	}
	r.buf[tail&r.mask] = v
	r.tail.Store(tail + 1)
	return true
}

// EnqueueBurst adds as many items from vs as fit and returns how many were
// taken. Items vs[n:] remain owned by the caller.
func (r *Ring[T]) EnqueueBurst(vs []T) int {
	tail := r.tail.Load()
	free := uint64(len(r.buf)) - (tail - r.head.Load())
	n := uint64(len(vs))
	if n > free {
		n = free
	}
	for i := uint64(0); i < n; i++ {
		r.buf[(tail+i)&r.mask] = vs[i]
	}
	r.tail.Store(tail + n)
	return int(n)
}

// DequeueBurst moves up to len(out) items into out and returns the count.
func (r *Ring[T]) DequeueBurst(out []T) int {
	head := r.head.Load()
	avail := r.tail.Load() - head
	n := uint64(len(out))
	if n > avail {
		n = avail
	}
	var zero T
	for i := uint64(0); i < n; i++ {
		idx := (head + i) & r.mask
		out[i] = r.buf[idx]
		r.buf[idx] = zero
	}
	r.head.Store(head + n)
	return int(n)
}
