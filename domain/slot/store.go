package slot

import (
	"errors"
	"fmt"
	"iter"
	"math"
)

// ErrCellOccupied reports an insert aimed at a cell that already holds a
// value. It signals that the reservation protocol and the command stream
// fell out of sync; the store never overwrites silently.
var ErrCellOccupied = errors.New("slot: cell already occupied")

type cell[T any] struct {
	value      T
	generation uint32
	occupied   bool
}

// FreeSlot describes one tombstone on the free stack: the cell index and
// the generation currently stored in it. A reuse of the cell will carry
// generation+1.
type FreeSlot struct {
	Index      uint32
	Generation uint32
}

// Store is a positionally stable container. Removing a value leaves a
// tombstone; the index is pushed onto a LIFO free stack and reused by the
// next insert, which bumps the cell's generation and thereby invalidates
// every handle issued for the previous occupant.
//
// A Store is owned by a single goroutine. Concurrent access goes through
// the reservation coordinator and the command log, never through the store
// directly.
type Store[T any] struct {
	cells   []cell[T]
	missing []uint32 // free stack, top at the end
}

// NewStore creates an empty store with room for capacity cells.
func NewStore[T any](capacity int) *Store[T] {
	return &Store[T]{
		cells:   make([]cell[T], 0, capacity),
		missing: make([]uint32, 0, capacity/4),
	}
}

// Insert places a value into the lowest-cost cell: the top tombstone if one
// exists (bumping its generation), otherwise a fresh cell appended at
// generation 0.
func (s *Store[T]) Insert(v T) Handle {
	if n := len(s.missing); n > 0 {
		idx := s.missing[n-1]
		s.missing = s.missing[:n-1]
		c := &s.cells[idx]
		c.generation++
		c.value = v
		c.occupied = true
		return NewHandle(idx, c.generation)
	}
	if len(s.cells) > math.MaxUint32 {
		panic("slot: cell index space exhausted")
	}
	idx := uint32(len(s.cells))
	s.cells = append(s.cells, cell[T]{value: v, occupied: true})
	return NewHandle(idx, 0)
}

// Remove takes the value out of the cell the handle points at. A stale
// handle (index out of range, generation mismatch, or already-vacant cell)
// is a normal outcome and returns false. The generation is bumped on the
// next reuse, not here.
func (s *Store[T]) Remove(h Handle) (T, bool) {
	var zero T
	idx, gen := h.Split()
	if int(idx) >= len(s.cells) {
		return zero, false
	}
	c := &s.cells[idx]
	if !c.occupied || c.generation != gen {
		return zero, false
	}
	v := c.value
	c.value = zero
	c.occupied = false
	s.missing = append(s.missing, idx)
	return v, true
}

// Get returns the value the handle points at, if it is still current.
func (s *Store[T]) Get(h Handle) (T, bool) {
	var zero T
	if p := s.Ptr(h); p != nil {
		return *p, true
	}
	return zero, false
}

// Ptr returns a pointer to the value for in-place mutation, or nil for a
// stale handle. The pointer is valid until the next structural change.
func (s *Store[T]) Ptr(h Handle) *T {
	idx, gen := h.Split()
	if int(idx) >= len(s.cells) {
		return nil
	}
	c := &s.cells[idx]
	if !c.occupied || c.generation != gen {
		return nil
	}
	return &c.value
}

// Count returns the number of occupied cells.
func (s *Store[T]) Count() int {
	return len(s.cells) - len(s.missing)
}

// CountInvalid returns the number of tombstones on the free stack.
func (s *Store[T]) CountInvalid() int {
	return len(s.missing)
}

// Len returns the total number of cells, occupied or not.
func (s *Store[T]) Len() int {
	return len(s.cells)
}

// Clear frees every cell and returns the previously valid values in cell
// order. The free stack is rebuilt so that the lowest index sits on top,
// making growth after a clear deterministic. Generations are kept, so
// handles issued before the clear stay stale forever.
func (s *Store[T]) Clear() []T {
	var zero T
	out := make([]T, 0, s.Count())
	for i := range s.cells {
		c := &s.cells[i]
		if c.occupied {
			out = append(out, c.value)
			c.value = zero
			c.occupied = false
		}
	}
	s.missing = s.missing[:0]
	for i := len(s.cells) - 1; i >= 0; i-- {
		s.missing = append(s.missing, uint32(i))
	}
	return out
}

// All iterates the occupied cells in ascending index order, yielding the
// current handle of each cell. The sequence is lazy and restartable;
// tombstones are skipped.
func (s *Store[T]) All() iter.Seq2[Handle, *T] {
	return func(yield func(Handle, *T) bool) {
		for i := range s.cells {
			c := &s.cells[i]
			if !c.occupied {
				continue
			}
			if !yield(NewHandle(uint32(i), c.generation), &c.value) {
				return
			}
		}
	}
}

// Drain removes every occupied cell the predicate accepts and returns the
// removed values in cell order.
func (s *Store[T]) Drain(pred func(Handle, *T) bool) []T {
	var matched []Handle
	for h, v := range s.All() {
		if pred(h, v) {
			matched = append(matched, h)
		}
	}
	out := make([]T, 0, len(matched))
	for _, h := range matched {
		if v, ok := s.Remove(h); ok {
			out = append(out, v)
		}
	}
	return out
}

// InsertAt places a value at a reserved handle, growing the cell array
// with vacant gap cells when the index lies beyond the current length, and
// stamps the handle's generation into the cell. It does not touch the free
// stack: the commit cycle splices reserved indices out before applying.
// Inserting into an occupied cell returns ErrCellOccupied.
func (s *Store[T]) InsertAt(h Handle, v T) error {
	idx, gen := h.Split()
	for int(idx) >= len(s.cells) {
		s.cells = append(s.cells, cell[T]{})
	}
	c := &s.cells[idx]
	if c.occupied {
		return fmt.Errorf("insert at %v over generation %d: %w", h, c.generation, ErrCellOccupied)
	}
	c.value = v
	c.generation = gen
	c.occupied = true
	return nil
}

// EnsureLen grows the cell array to at least n vacant cells. The commit
// cycle materializes the full appended range of an epoch before reclaim,
// so even reservations that never produced a command get a real cell
// whose generation can be bumped.
func (s *Store[T]) EnsureLen(n int) {
	for len(s.cells) < n {
		s.cells = append(s.cells, cell[T]{})
	}
}

// FreeSlots returns a copy of the free stack in stack order (top last),
// pairing each tombstone index with its current generation. The
// reservation coordinator snapshots this at epoch start.
func (s *Store[T]) FreeSlots() []FreeSlot {
	out := make([]FreeSlot, len(s.missing))
	for i, idx := range s.missing {
		out[i] = FreeSlot{Index: idx, Generation: s.cells[idx].generation}
	}
	return out
}

// TrimFreeAt splices the top n entries of the epoch-snapshotted free stack
// prefix out of the stack. snapLen is the stack length recorded at epoch
// start; entries pushed after the snapshot survive the trim. The removed
// indices are returned top-first, matching reservation ordinal order.
func (s *Store[T]) TrimFreeAt(snapLen, n int) []uint32 {
	if snapLen > len(s.missing) || n > snapLen {
		panic("slot: free stack shorter than epoch snapshot")
	}
	trimmed := make([]uint32, 0, n)
	for i := snapLen - 1; i >= snapLen-n; i-- {
		trimmed = append(trimmed, s.missing[i])
	}
	s.missing = append(s.missing[:snapLen-n], s.missing[snapLen:]...)
	return trimmed
}

// Release returns a vacant cell to the free stack with its generation
// bumped. Used for reservations that were never followed by an insert
// command: the bump keeps the promised handle stale forever, so the cell
// can be reused without ever validating the dead reservation.
func (s *Store[T]) Release(index uint32) {
	c := &s.cells[index]
	if c.occupied {
		panic("slot: release of occupied cell")
	}
	c.generation++
	s.missing = append(s.missing, index)
}

// OccupiedIndex reports whether the cell at index currently holds a value.
func (s *Store[T]) OccupiedIndex(index uint32) bool {
	return int(index) < len(s.cells) && s.cells[index].occupied
}
