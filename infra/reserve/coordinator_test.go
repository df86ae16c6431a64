package reserve

import (
	"sync"
	"testing"

	"github.com/sourcegraph/conc"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"mimir/domain/slot"
)

func reserve(t *testing.T, c *Coordinator) slot.Handle {
	t.Helper()
	h, ok := c.Reserve()
	require.True(t, ok, "epoch unexpectedly sealed")
	return h
}

func TestReserveConsumesTombstonesTopFirst(t *testing.T) {
	c := NewCoordinator()
	c.BeginEpoch(5, []slot.FreeSlot{
		{Index: 1, Generation: 0}, // bottom
		{Index: 3, Generation: 2}, // top
	})

	h := reserve(t, c)
	assert.Equal(t, uint32(3), h.Index())
	assert.Equal(t, uint32(3), h.Generation(), "reused cell carries generation+1")

	h = reserve(t, c)
	assert.Equal(t, uint32(1), h.Index())
	assert.Equal(t, uint32(1), h.Generation())
}

func TestReserveAppendsPastSnapshot(t *testing.T) {
	c := NewCoordinator()
	c.BeginEpoch(5, nil)

	for i := 0; i < 3; i++ {
		h := reserve(t, c)
		assert.Equal(t, uint32(5+i), h.Index())
		assert.Equal(t, uint32(0), h.Generation())
	}
	assert.Equal(t, 8, c.PredictedLen())
	assert.Equal(t, 3, c.Reserved())
}

func TestClosePartition(t *testing.T) {
	c := NewCoordinator()
	c.BeginEpoch(4, []slot.FreeSlot{{Index: 0}, {Index: 2}})

	for i := 0; i < 5; i++ {
		reserve(t, c)
	}
	fromFree, appended := c.Close()
	assert.Equal(t, 2, fromFree)
	assert.Equal(t, 3, appended)

	// Under-consumed epoch.
	c.BeginEpoch(4, []slot.FreeSlot{{Index: 0}, {Index: 2}})
	reserve(t, c)
	fromFree, appended = c.Close()
	assert.Equal(t, 1, fromFree)
	assert.Equal(t, 0, appended)
}

func TestNewCoordinatorStartsSealed(t *testing.T) {
	c := NewCoordinator()
	_, ok := c.Reserve()
	assert.False(t, ok)

	c.BeginEpoch(0, nil)
	_, ok = c.Reserve()
	assert.True(t, ok)
}

func TestCloseRefusesLaterReservations(t *testing.T) {
	c := NewCoordinator()
	c.BeginEpoch(3, nil)
	reserve(t, c)
	reserve(t, c)

	fromFree, appended := c.Close()
	assert.Equal(t, 0, fromFree)
	assert.Equal(t, 2, appended)

	// Refused attempts bump the counter but are not granted and must not
	// disturb the partition already taken.
	for i := 0; i < 4; i++ {
		_, ok := c.Reserve()
		assert.False(t, ok)
	}
}

func TestResumeContinuesOrdinalMapping(t *testing.T) {
	c := NewCoordinator()
	c.BeginEpoch(2, []slot.FreeSlot{{Index: 0, Generation: 1}})

	h0 := reserve(t, c)
	assert.Equal(t, uint32(0), h0.Index())

	fromFree, appended := c.Close()
	require.Equal(t, 1, fromFree+appended)
	_, ok := c.Reserve()
	require.False(t, ok)

	c.Resume(fromFree + appended)
	assert.Equal(t, 1, c.Reserved())

	// Ordinal 1 falls past the single tombstone: first append index.
	h1 := reserve(t, c)
	assert.Equal(t, uint32(2), h1.Index())
	assert.Equal(t, uint32(0), h1.Generation())
}

func TestBeginEpochResetsCounter(t *testing.T) {
	c := NewCoordinator()
	c.BeginEpoch(0, nil)
	reserve(t, c)
	reserve(t, c)

	c.Close()
	c.BeginEpoch(2, nil)
	assert.Equal(t, 0, c.Reserved())
	h := reserve(t, c)
	assert.Equal(t, uint32(2), h.Index())
}

func TestConcurrentReservationsAreDistinct(t *testing.T) {
	const goroutines = 16
	const perGoroutine = 500

	c := NewCoordinator()
	c.BeginEpoch(10, []slot.FreeSlot{
		{Index: 7, Generation: 1},
		{Index: 4, Generation: 0},
		{Index: 9, Generation: 3},
	})

	var mu sync.Mutex
	all := make([]slot.Handle, 0, goroutines*perGoroutine)

	var wg conc.WaitGroup
	for g := 0; g < goroutines; g++ {
		wg.Go(func() {
			local := make([]slot.Handle, 0, perGoroutine)
			for i := 0; i < perGoroutine; i++ {
				h, ok := c.Reserve()
				if ok {
					local = append(local, h)
				}
			}
			mu.Lock()
			all = append(all, local...)
			mu.Unlock()
		})
	}
	wg.Wait()

	require.Len(t, all, goroutines*perGoroutine)
	seen := make(map[slot.Handle]bool, len(all))
	for _, h := range all {
		require.False(t, seen[h], "duplicate handle %v", h)
		seen[h] = true
	}
}

// Reservers hammer the coordinator while the owner repeatedly seals and
// reopens epochs over disjoint append ranges. A reservation racing the
// seal must be refused or counted, never granted a handle the sealed
// epoch does not account for, so no handle may ever be issued twice.
func TestReserveRacingCloseNeverDuplicates(t *testing.T) {
	const goroutines = 8
	const epochs = 2000

	c := NewCoordinator()
	c.BeginEpoch(0, nil)

	var mu sync.Mutex
	all := make([]slot.Handle, 0, 1<<12)
	done := make(chan struct{})

	var wg conc.WaitGroup
	for g := 0; g < goroutines; g++ {
		wg.Go(func() {
			local := make([]slot.Handle, 0, 1<<10)
			for {
				select {
				case <-done:
					mu.Lock()
					all = append(all, local...)
					mu.Unlock()
					return
				default:
				}
				if h, ok := c.Reserve(); ok {
					local = append(local, h)
				}
			}
		})
	}

	// Each epoch starts past everything any prior epoch could have
	// promised, the way a commit cycle's reclaim does.
	base := 0
	for e := 0; e < epochs; e++ {
		fromFree, appended := c.Close()
		base += fromFree + appended
		c.BeginEpoch(base, nil)
	}
	close(done)
	wg.Wait()

	seen := make(map[slot.Handle]bool, len(all))
	for _, h := range all {
		require.False(t, seen[h], "handle %v granted twice", h)
		seen[h] = true
	}
}
