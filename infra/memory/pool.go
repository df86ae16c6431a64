package memory

import "sync"

// Pool is a typed object pool over sync.Pool. The command log recycles
// drained batch buffers through it so steady-state commits allocate
// nothing. Pool pointer-shaped types to avoid boxing on Put.
type Pool[T any] struct {
	p *sync.Pool
}

// NewPool creates a pool with a constructor for cache misses.
func NewPool[T any](ctor func() T) *Pool[T] {
	return &Pool[T]{
		p: &sync.Pool{
			New: func() any { return ctor() },
		},
	}
}

// Get retrieves an object from the pool.
func (p *Pool[T]) Get() T {
	return p.p.Get().(T)
}

// Put returns an object to the pool.
func (p *Pool[T]) Put(v T) {
	p.p.Put(v)
}
