package memory

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRingBasic(t *testing.T) {
	r := NewRing[int](4)

	require.True(t, r.Enqueue(1))
	require.True(t, r.Enqueue(2))
	assert.Equal(t, 2, r.Len())

	v, ok := r.Dequeue()
	require.True(t, ok)
	assert.Equal(t, 1, v)

	v, ok = r.Dequeue()
	require.True(t, ok)
	assert.Equal(t, 2, v)

	_, ok = r.Dequeue()
	assert.False(t, ok)
}

func TestRingFullDropsOnProducerSide(t *testing.T) {
	r := NewRing[int](2)
	require.True(t, r.Enqueue(1))
	require.True(t, r.Enqueue(2))
	assert.False(t, r.Enqueue(3))

	v, _ := r.Dequeue()
	assert.Equal(t, 1, v)
	assert.True(t, r.Enqueue(3))
}

func TestRingWrapAround(t *testing.T) {
	r := NewRing[int](4)
	for round := 0; round < 10; round++ {
		for i := 0; i < 3; i++ {
			require.True(t, r.Enqueue(round*10+i))
		}
		for i := 0; i < 3; i++ {
			v, ok := r.Dequeue()
			require.True(t, ok)
			assert.Equal(t, round*10+i, v)
		}
	}
}

func TestRingRejectsBadCapacity(t *testing.T) {
	assert.Panics(t, func() { NewRing[int](3) })
	assert.Panics(t, func() { NewRing[int](0) })
}

func TestRingSPSC(t *testing.T) {
	const n = 10000
	r := NewRing[uint64](1024)

	done := make(chan []uint64)
	go func() {
		out := make([]uint64, 0, n)
		for len(out) < n {
			if v, ok := r.Dequeue(); ok {
				out = append(out, v)
			}
		}
		done <- out
	}()

	for i := uint64(0); i < n; {
		if r.Enqueue(i) {
			i++
		}
	}

	out := <-done
	for i, v := range out {
		require.Equal(t, uint64(i), v)
	}
}

func TestPoolReuse(t *testing.T) {
	built := 0
	p := NewPool(func() *[]int {
		built++
		s := make([]int, 0, 8)
		return &s
	})

	b := p.Get()
	*b = append(*b, 1, 2, 3)
	*b = (*b)[:0]
	p.Put(b)

	_ = p.Get()
	assert.GreaterOrEqual(t, built, 1)
}
