package service

import (
	"fmt"

	"mimir/infra/cmdlog"
)

/*
Commit runs one full cycle of the deferred-mutation protocol:

	Open → Closing   reservations stop, the log drains
	Closing → Applying   reserved tombstones are spliced off the free stack
	Applying         commands replay in sequence order
	Applying → Open  dead reservations are reclaimed, next epoch snapshots

Owner goroutine only. Returns the number of commands applied.

An insert command that lands on an occupied cell means the reservation
math and the command stream disagree. That is a programming error, not a
runtime condition: the store refuses to overwrite, Commit stops and
returns the wrapped slot.ErrCellOccupied, and the registry stays closed
(poisoned) so the corruption cannot spread. Remove commands with stale
handles are ordinary no-ops.
*/
func (r *Registry[T]) Commit() (int, error) {
	if !r.state.CompareAndSwap(int32(StateOpen), int32(StateClosing)) {
		return 0, ErrCommitInProgress
	}

	// Sealing the coordinator and taking the final reservation count is
	// one atomic step, so every granted reservation is accounted for here
	// and every later attempt is refused.
	fromFree, appended := r.coord.Close()

	batch := r.log.DrainOrdered()
	r.state.Store(int32(StateApplying))

	trimmed := r.store.TrimFreeAt(r.snapLen, fromFree)

	applied := 0
	inserted := make(map[uint32]struct{}, len(batch))
	for _, c := range batch {
		switch c.Op {
		case cmdlog.OpInsert:
			if err := r.store.InsertAt(c.Handle, c.Value); err != nil {
				return applied, fmt.Errorf("apply seq %d: %w", c.Seq, err)
			}
			inserted[c.Handle.Index()] = struct{}{}
		case cmdlog.OpRemove:
			r.store.Remove(c.Handle)
		}
		r.publish(Applied{Seq: c.Seq, Op: c.Op, Handle: c.Handle})
		applied++
	}
	r.log.Recycle(batch)

	r.reclaimDead(trimmed, appended, inserted)

	r.beginEpoch()
	r.state.Store(int32(StateOpen))
	return applied, nil
}

// reclaimDead returns cells claimed by reservations that never produced an
// insert command to the free stack. Each release bumps the cell's
// generation, so the dead reservation's handle can never become valid.
// Cells an insert consumed this cycle are skipped even when vacant again:
// a matching remove command has already pushed them back.
func (r *Registry[T]) reclaimDead(trimmed []uint32, appended int, inserted map[uint32]struct{}) {
	release := func(idx uint32) {
		if _, ok := inserted[idx]; ok {
			return
		}
		if !r.store.OccupiedIndex(idx) {
			r.store.Release(idx)
		}
	}
	for _, idx := range trimmed {
		release(idx)
	}
	if appended == 0 {
		return
	}
	end := r.baseLen + appended
	r.store.EnsureLen(end)
	for i := r.baseLen; i < end; i++ {
		release(uint32(i))
	}
}
