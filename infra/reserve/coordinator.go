package reserve

import (
	"math"
	"sync/atomic"

	"mimir/domain/slot"
)

// closedBit marks an epoch's ordinal counter as sealed. The owner sets it
// with a single atomic Or, so sealing the epoch and reading its final
// reservation count are one indivisible event: every Reserve call either
// lands its ordinal before the Or and is counted, or sees the bit in its
// own fetch-add result and is refused.
const closedBit = uint64(1) << 63

// epoch is one reservation window. base and free are immutable after
// construction; only the counter moves. Reservers compute their handle
// from the same epoch object their ordinal came from, so a snapshot can
// never be observed mid-rewrite and an ordinal can never be paired with
// another epoch's snapshot.
type epoch struct {
	counter atomic.Uint64
	base    uint64
	free    []slot.FreeSlot
}

func (e *epoch) reserved() uint64 {
	return e.counter.Load() &^ closedBit
}

// Coordinator hands out slot handles for insertions that have not happened
// yet. At epoch start the owner publishes a snapshot of the store's length
// and free stack; from then on any goroutine may call Reserve without
// touching the store. One atomic fetch-add yields a reservation ordinal,
// and the ordinal maps one-to-one onto either a snapshotted tombstone (top
// of the stack first, generation pre-bumped) or a fresh append index. Two
// concurrent callers can therefore never receive the same handle, and a
// caller racing the owner's Close is refused rather than granted a handle
// the sealed epoch will not account for.
//
// Coordinator state is always per-registry, never package-level.
type Coordinator struct {
	epoch atomic.Pointer[epoch]
}

// NewCoordinator returns a coordinator whose epoch is sealed until the
// first BeginEpoch.
func NewCoordinator() *Coordinator {
	c := &Coordinator{}
	sealed := &epoch{}
	sealed.counter.Store(closedBit)
	c.epoch.Store(sealed)
	return c
}

// BeginEpoch publishes a fresh open epoch over the given snapshot.
// Owner-only; the previous epoch must have been sealed by Close.
func (c *Coordinator) BeginEpoch(length int, free []slot.FreeSlot) {
	c.epoch.Store(&epoch{base: uint64(length), free: free})
}

// Reserve returns the handle the next insertion will receive, or false if
// the epoch is sealed. Safe to call from any goroutine; lock-free.
//
// The append index is derived from the reservation ordinal rather than a
// second racing counter, so the ordinal-to-index mapping is deterministic:
// ordinal i lands on snapshot[len-1-i] while tombstones last, and on
// base+(i-len(snapshot)) afterwards.
func (c *Coordinator) Reserve() (slot.Handle, bool) {
	ep := c.epoch.Load()
	v := ep.counter.Add(1)
	if v&closedBit != 0 {
		return 0, false
	}
	i := v - 1
	if i < uint64(len(ep.free)) {
		fs := ep.free[len(ep.free)-1-int(i)]
		return slot.NewHandle(fs.Index, fs.Generation+1), true
	}
	idx := ep.base + (i - uint64(len(ep.free)))
	if idx > math.MaxUint32 {
		panic("reserve: cell index space exhausted")
	}
	return slot.NewHandle(uint32(idx), 0), true
}

// Close seals the current epoch and partitions its reservations into
// tombstone reuses and appends past the snapshotted length. Owner-only;
// call once per epoch. Refused Reserve attempts after the seal still bump
// the counter, so the partition is taken from the Or's prior value, never
// from a later load.
func (c *Coordinator) Close() (fromFree, appended int) {
	ep := c.epoch.Load()
	n := ep.counter.Or(closedBit) &^ closedBit
	if n <= uint64(len(ep.free)) {
		return int(n), 0
	}
	return len(ep.free), int(n - uint64(len(ep.free)))
}

// Resume reopens a sealed epoch with its snapshot and reservation count
// intact. Direct-mode mutations seal the epoch to shut out concurrent
// reservers, then resume it when outstanding reservations force them to
// back off: granted ordinals keep their mapping and new ones continue
// where the seal left off. Owner-only; reserved is Close's granted count.
func (c *Coordinator) Resume(reserved int) {
	old := c.epoch.Load()
	ep := &epoch{base: old.base, free: old.free}
	ep.counter.Store(uint64(reserved))
	c.epoch.Store(ep)
}

// Reserved returns the number of reservations granted this epoch. Exact
// while the epoch is open; after Close, use Close's return values.
func (c *Coordinator) Reserved() int {
	return int(c.epoch.Load().reserved())
}

// SnapshotSize returns the free-stack length captured at epoch start.
func (c *Coordinator) SnapshotSize() int {
	return len(c.epoch.Load().free)
}

// PredictedLen returns the store length the current reservations imply.
func (c *Coordinator) PredictedLen() int {
	ep := c.epoch.Load()
	n := ep.reserved()
	if n <= uint64(len(ep.free)) {
		return int(ep.base)
	}
	return int(ep.base + n - uint64(len(ep.free)))
}
