// Package committer drives a registry's commit cycle on a fixed interval,
// so reserving goroutines see their submissions land without the owner
// hand-rolling a loop. The clock is injected to keep tests deterministic.
package committer

import (
	"context"
	"log/slog"
	"time"

	"github.com/jonboulle/clockwork"
)

// Target is the owner-side commit entry point the job drives.
type Target interface {
	Commit() (int, error)
}

// Committer periodically commits a registry until its context ends or a
// commit reports a protocol violation.
type Committer struct {
	target   Target
	interval time.Duration
	clock    clockwork.Clock
	log      *slog.Logger
	stopped  chan struct{}
}

// Option configures a Committer.
type Option func(*Committer)

// WithClock replaces the wall clock, typically with a fake in tests.
func WithClock(c clockwork.Clock) Option {
	return func(j *Committer) { j.clock = c }
}

// WithLogger sets the structured logger.
func WithLogger(l *slog.Logger) Option {
	return func(j *Committer) { j.log = l }
}

// New creates a committer for target ticking at interval.
func New(target Target, interval time.Duration, opts ...Option) *Committer {
	j := &Committer{
		target:   target,
		interval: interval,
		clock:    clockwork.NewRealClock(),
		log:      slog.Default(),
		stopped:  make(chan struct{}),
	}
	for _, opt := range opts {
		opt(j)
	}
	return j
}

// Start launches the commit loop. The loop owns the registry's commit
// cycle from here on; the caller must not call Commit concurrently.
func (j *Committer) Start(ctx context.Context) {
	go j.run(ctx)
}

// Stopped closes once the loop has exited.
func (j *Committer) Stopped() <-chan struct{} {
	return j.stopped
}

func (j *Committer) run(ctx context.Context) {
	defer close(j.stopped)

	ticker := j.clock.NewTicker(j.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return

		case <-ticker.Chan():
			applied, err := j.target.Commit()
			if err != nil {
				// Protocol violation: the registry is poisoned, there is
				// nothing sane left to drive.
				j.log.Error("commit failed, halting", "error", err)
				return
			}
			if applied > 0 {
				j.log.Debug("commit cycle applied", "commands", applied)
			}
		}
	}
}
