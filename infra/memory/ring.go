package memory

import "sync/atomic"

// Ring is a lock-free SPSC ring buffer. The commit cycle is the single
// producer (it runs on the owner goroutine) and the broadcaster loop is
// the single consumer. Enqueue and Dequeue never block; a full ring drops
// on the producer side.
type Ring[T any] struct {
	head  atomic.Uint64
	_pad1 [56]byte
	tail  atomic.Uint64
	_pad2 [56]byte
	buf   []T
	mask  uint64
}

// NewRing allocates a ring with power-of-two capacity.
func NewRing[T any](size uint64) *Ring[T] {
	if size == 0 || size&(size-1) != 0 {
		panic("memory: ring size must be a power of two")
	}
	return &Ring[T]{
		buf:  make([]T, size),
		mask: size - 1,
	}
}

// Enqueue adds an element; returns false if the ring is full.
// Single producer only.
func (r *Ring[T]) Enqueue(v T) bool {
	h := r.head.Load()
	t := r.tail.Load()
	if h-t == uint64(len(r.buf)) {
		return false
	}
	r.buf[h&r.mask] = v
	r.head.Store(h + 1)
	return true
}

// Dequeue removes one element; returns false if the ring is empty.
// Single consumer only.
func (r *Ring[T]) Dequeue() (T, bool) {
	var zero T
	t := r.tail.Load()
	h := r.head.Load()
	if t == h {
		return zero, false
	}
	v := r.buf[t&r.mask]
	r.buf[t&r.mask] = zero
	r.tail.Store(t + 1)
	return v, true
}

// Len returns the number of buffered elements.
func (r *Ring[T]) Len() int {
	return int(r.head.Load() - r.tail.Load())
}

// Cap returns the ring capacity.
func (r *Ring[T]) Cap() int {
	return len(r.buf)
}
