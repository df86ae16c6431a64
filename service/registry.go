package service

import (
	"sync/atomic"

	"mimir/domain/slot"
	"mimir/infra/cmdlog"
	"mimir/infra/memory"
	"mimir/infra/reserve"
	"mimir/infra/sequence"
)

// State is the registry's position in the commit cycle.
type State int32

const (
	// StateOpen accepts reservations and submissions; the store is not
	// mutated.
	StateOpen State = iota
	// StateClosing stops new reservations while the log drains.
	StateClosing
	// StateApplying replays drained commands against the store.
	StateApplying
)

func (s State) String() string {
	switch s {
	case StateOpen:
		return "open"
	case StateClosing:
		return "closing"
	case StateApplying:
		return "applying"
	default:
		return "unknown"
	}
}

// Applied describes one command the commit cycle executed. It is what the
// broadcaster fans out to subscribers.
type Applied struct {
	Seq    uint64
	Op     cmdlog.Op
	Handle slot.Handle
}

/*
Registry is the single write entry point around a slot store.

All coordination between:
- domain (slot store)
- infra (reserve, cmdlog, memory)
happens here.

Exactly one goroutine owns a Registry: it alone may call Commit, Insert,
Remove, Get, Clear, and iterate the store. Every other goroutine is
restricted to Reserve, SubmitInsert, and SubmitRemove, none of which touch
the store.
*/
type Registry[T any] struct {
	store  *slot.Store[T]
	coord  *reserve.Coordinator
	log    *cmdlog.Log[T]
	seq    *sequence.Sequencer
	events *memory.Ring[Applied]

	state atomic.Int32

	// Epoch bookkeeping, owner-only.
	snapLen int // free-stack length at epoch start
	baseLen int // cell count at epoch start
}

// New creates a registry around an empty store with the given capacity.
func New[T any](capacity int) *Registry[T] {
	return Wrap(slot.NewStore[T](capacity))
}

// Wrap builds a registry around an existing store, for example one
// prefilled in direct mode. The caller hands over ownership.
func Wrap[T any](store *slot.Store[T]) *Registry[T] {
	r := &Registry[T]{
		store: store,
		coord: reserve.NewCoordinator(),
		seq:   sequence.New(0),
	}
	r.log = cmdlog.NewLog[T](r.seq)
	r.beginEpoch()
	r.state.Store(int32(StateOpen))
	return r
}

// AttachEvents wires a ring the commit cycle publishes Applied events to.
// Owner-only; attach before other goroutines start reserving.
func (r *Registry[T]) AttachEvents(ring *memory.Ring[Applied]) {
	r.events = ring
}

// State returns the current commit-cycle state.
func (r *Registry[T]) State() State {
	return State(r.state.Load())
}

// Reserve returns the handle the next insertion will receive, without
// touching the store. Any goroutine. Fails while a commit or a direct
// mutation has the epoch sealed. The seal lives in the coordinator's own
// counter word, so a reservation racing the close of an epoch is refused
// outright instead of being granted a handle that epoch will not account
// for.
func (r *Registry[T]) Reserve() (slot.Handle, error) {
	h, ok := r.coord.Reserve()
	if !ok {
		return 0, ErrRegistryClosed
	}
	return h, nil
}

// SubmitInsert queues an insert of v at a reserved handle and returns its
// sequence number. Any goroutine.
func (r *Registry[T]) SubmitInsert(h slot.Handle, v T) uint64 {
	return r.log.SubmitInsert(h, v)
}

// SubmitRemove queues a removal and returns its sequence number. A handle
// that is stale by apply time makes the command a no-op. Any goroutine.
func (r *Registry[T]) SubmitRemove(h slot.Handle) uint64 {
	return r.log.SubmitRemove(h)
}

// Pending returns the number of commands waiting for the next commit.
func (r *Registry[T]) Pending() int {
	return r.log.Pending()
}

//
// Direct mode. Owner goroutine only.
//

// Insert places a value immediately, bypassing the command log. It is
// rejected while reservations are outstanding: an immediate insert would
// consume a tombstone already promised to a reserver. The epoch is sealed
// for the duration so a reservation cannot slip in between the check and
// the mutation; concurrent reservers see a transient ErrRegistryClosed.
func (r *Registry[T]) Insert(v T) (slot.Handle, error) {
	if State(r.state.Load()) != StateOpen {
		return 0, ErrCommitInProgress
	}
	if fromFree, appended := r.coord.Close(); fromFree+appended > 0 {
		r.coord.Resume(fromFree + appended)
		return 0, ErrPendingReservations
	}
	h := r.store.Insert(v)
	r.beginEpoch()
	return h, nil
}

// Remove takes a value out immediately. Safe even while reservations are
// outstanding: the freed index lands above the epoch snapshot on the free
// stack and only becomes reservable next epoch.
func (r *Registry[T]) Remove(h slot.Handle) (T, bool) {
	return r.store.Remove(h)
}

// Get resolves a handle. Owner goroutine only; concurrent reservers and
// submitters never mutate the store, so no lock is needed.
func (r *Registry[T]) Get(h slot.Handle) (T, bool) {
	return r.store.Get(h)
}

// Count returns the number of occupied cells.
func (r *Registry[T]) Count() int {
	return r.store.Count()
}

// CountInvalid returns the number of tombstones.
func (r *Registry[T]) CountInvalid() int {
	return r.store.CountInvalid()
}

// Clear frees every cell and returns the previous values in cell order.
// Rejected while reservations are outstanding, sealing the epoch like
// Insert.
func (r *Registry[T]) Clear() ([]T, error) {
	if State(r.state.Load()) != StateOpen {
		return nil, ErrCommitInProgress
	}
	if fromFree, appended := r.coord.Close(); fromFree+appended > 0 {
		r.coord.Resume(fromFree + appended)
		return nil, ErrPendingReservations
	}
	out := r.store.Clear()
	r.beginEpoch()
	return out, nil
}

// Store exposes the underlying store for iteration (All, Drain) and
// in-place value mutation (Ptr). Owner goroutine only. Structural
// mutation must go through the registry's Insert, Remove, and Clear:
// calling store.Insert directly mid-epoch pops a tombstone the epoch
// snapshot has already promised to reservers, and the next commit's
// free-stack trim will panic on the shortened snapshot prefix.
func (r *Registry[T]) Store() *slot.Store[T] {
	return r.store
}

// beginEpoch snapshots store state into the coordinator for the next
// round of reservations.
func (r *Registry[T]) beginEpoch() {
	free := r.store.FreeSlots()
	r.snapLen = len(free)
	r.baseLen = r.store.Len()
	r.coord.BeginEpoch(r.baseLen, free)
}

func (r *Registry[T]) publish(e Applied) {
	if r.events != nil {
		_ = r.events.Enqueue(e) // full ring drops, delivery is best-effort
	}
}
