package broadcaster

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"mimir/domain/slot"
	"mimir/infra/cmdlog"
	"mimir/infra/memory"
	"mimir/service"
)

func event(seq uint64) service.Applied {
	return service.Applied{
		Seq:    seq,
		Op:     cmdlog.OpInsert,
		Handle: slot.NewHandle(uint32(seq), 0),
	}
}

func TestFanOutDeliversToAllSubscribers(t *testing.T) {
	ring := memory.NewRing[service.Applied](16)
	b := New(ring, time.Millisecond, nil)

	_, cha := b.Subscribe(4)
	_, chb := b.Subscribe(4)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	b.Start(ctx)

	require.True(t, ring.Enqueue(event(1)))
	require.True(t, ring.Enqueue(event(2)))

	for _, ch := range []<-chan service.Applied{cha, chb} {
		select {
		case got := <-ch:
			require.Equal(t, uint64(1), got.Seq)
		case <-time.After(time.Second):
			t.Fatal("timed out waiting for event 1")
		}
		select {
		case got := <-ch:
			require.Equal(t, uint64(2), got.Seq)
		case <-time.After(time.Second):
			t.Fatal("timed out waiting for event 2")
		}
	}
}

func TestSlowSubscriberDropsInsteadOfBlocking(t *testing.T) {
	ring := memory.NewRing[service.Applied](16)
	b := New(ring, time.Millisecond, nil)

	// Buffer of one and nobody reading: only the first event fits.
	_, slow := b.Subscribe(1)
	_, fast := b.Subscribe(8)

	for seq := uint64(1); seq <= 5; seq++ {
		require.True(t, ring.Enqueue(event(seq)))
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	b.Start(ctx)

	// The fast subscriber sees everything, proving the loop never stalled
	// on the slow one.
	for seq := uint64(1); seq <= 5; seq++ {
		select {
		case got := <-fast:
			require.Equal(t, seq, got.Seq)
		case <-time.After(time.Second):
			t.Fatalf("fast subscriber missed event %d", seq)
		}
	}

	got := <-slow
	require.Equal(t, uint64(1), got.Seq)
	require.Empty(t, slow)
}

func TestUnsubscribeClosesChannel(t *testing.T) {
	ring := memory.NewRing[service.Applied](16)
	b := New(ring, time.Millisecond, nil)

	id, ch := b.Subscribe(1)
	b.Unsubscribe(id)

	_, open := <-ch
	require.False(t, open)

	// A second unsubscribe of the same id is a no-op.
	b.Unsubscribe(id)
}

func TestStopFlushesAndClosesSubscribers(t *testing.T) {
	ring := memory.NewRing[service.Applied](16)
	b := New(ring, time.Hour, nil) // interval never fires, only the flush runs

	_, ch := b.Subscribe(4)

	ctx, cancel := context.WithCancel(context.Background())
	b.Start(ctx)

	require.True(t, ring.Enqueue(event(7)))
	cancel()

	select {
	case <-b.Stopped():
	case <-time.After(time.Second):
		t.Fatal("broadcaster did not stop")
	}

	got, open := <-ch
	require.True(t, open)
	require.Equal(t, uint64(7), got.Seq)

	_, open = <-ch
	require.False(t, open)
}
