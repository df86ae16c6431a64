package sequence

import "sync/atomic"

// Sequencer generates strictly monotonic sequence numbers. It stamps every
// command submitted to the deferred log, so the owner can replay commands
// in logical submission order regardless of arrival order.
type Sequencer struct {
	next atomic.Uint64
}

// New creates a sequencer whose first Next returns start+1.
func New(start uint64) *Sequencer {
	s := &Sequencer{}
	s.next.Store(start)
	return s
}

// Next returns the next sequence number.
func (s *Sequencer) Next() uint64 {
	return s.next.Add(1)
}

// Current returns the last issued sequence number.
func (s *Sequencer) Current() uint64 {
	return s.next.Load()
}

// Reset sets the sequencer to a specific value. Owner-only.
func (s *Sequencer) Reset(v uint64) {
	s.next.Store(v)
}
