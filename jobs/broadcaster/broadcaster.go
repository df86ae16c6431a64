// Package broadcaster fans applied-mutation events out to in-process
// subscribers. It is the read side of the commit cycle's event ring: the
// committer publishes, the broadcaster drains on an interval and forwards.
// Delivery is best-effort end to end; a slow subscriber loses events
// rather than stalling everyone else.
package broadcaster

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"mimir/infra/memory"
	"mimir/service"
)

// Broadcaster drains an applied-event ring and forwards each event to
// every registered subscriber channel with a non-blocking send.
type Broadcaster struct {
	ring     *memory.Ring[service.Applied]
	interval time.Duration
	log      *slog.Logger

	mu   sync.RWMutex
	subs map[uuid.UUID]chan service.Applied

	stopped chan struct{}
}

// New creates a broadcaster draining ring every interval. A nil logger
// falls back to slog.Default.
func New(ring *memory.Ring[service.Applied], interval time.Duration, log *slog.Logger) *Broadcaster {
	if log == nil {
		log = slog.Default()
	}
	return &Broadcaster{
		ring:     ring,
		interval: interval,
		log:      log,
		subs:     make(map[uuid.UUID]chan service.Applied),
		stopped:  make(chan struct{}),
	}
}

// Subscribe registers a subscriber with the given channel buffer and
// returns its id and receive channel. The channel is closed on
// Unsubscribe and when the broadcaster stops.
func (b *Broadcaster) Subscribe(buffer int) (uuid.UUID, <-chan service.Applied) {
	ch := make(chan service.Applied, buffer)
	id := uuid.New()

	b.mu.Lock()
	b.subs[id] = ch
	b.mu.Unlock()

	return id, ch
}

// Unsubscribe removes a subscriber and closes its channel. Unknown ids
// are ignored.
func (b *Broadcaster) Unsubscribe(id uuid.UUID) {
	b.mu.Lock()
	ch, ok := b.subs[id]
	if ok {
		delete(b.subs, id)
	}
	b.mu.Unlock()

	if ok {
		close(ch)
	}
}

// Start launches the drain loop.
func (b *Broadcaster) Start(ctx context.Context) {
	b.log.Debug("broadcaster started", "interval", b.interval)

	go func() {
		defer close(b.stopped)
		defer b.closeAll()

		ticker := time.NewTicker(b.interval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				// Flush whatever the last commit left behind.
				b.drainOnce()
				return

			case <-ticker.C:
				b.drainOnce()
			}
		}
	}()
}

// Stopped closes once the loop has exited and all subscriber channels
// are closed.
func (b *Broadcaster) Stopped() <-chan struct{} {
	return b.stopped
}

func (b *Broadcaster) drainOnce() {
	for {
		e, ok := b.ring.Dequeue()
		if !ok {
			return
		}

		b.mu.RLock()
		for _, ch := range b.subs {
			select {
			case ch <- e:
			default:
				// Subscriber buffer full, drop.
			}
		}
		b.mu.RUnlock()
	}
}

func (b *Broadcaster) closeAll() {
	b.mu.Lock()
	defer b.mu.Unlock()

	for id, ch := range b.subs {
		delete(b.subs, id)
		close(ch)
	}
}
