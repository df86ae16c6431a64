package cmdlog

import (
	"slices"
	"sync"

	"mimir/domain/slot"
	"mimir/infra/memory"
	"mimir/infra/sequence"
)

// Op is the kind of deferred mutation a command carries.
type Op uint8

const (
	OpInsert Op = iota + 1
	OpRemove
)

func (o Op) String() string {
	switch o {
	case OpInsert:
		return "insert"
	case OpRemove:
		return "remove"
	default:
		return "unknown"
	}
}

// Command is one pending mutation. Seq comes from the log's shared
// sequencer and defines the total replay order; it is independent of the
// reservation counter.
type Command[T any] struct {
	Seq    uint64
	Op     Op
	Handle slot.Handle
	Value  T
}

// Log collects mutations submitted from any goroutine until the owner
// drains them during a commit. Submission stamps the command atomically
// and appends under a short mutex; submitters never wait on the owner.
// Arrival order and sequence order may differ, so the drain sorts.
type Log[T any] struct {
	seq  *sequence.Sequencer
	bufs *memory.Pool[*[]Command[T]]

	mu      sync.Mutex
	pending []Command[T]
}

// NewLog creates a log stamping commands from seq.
func NewLog[T any](seq *sequence.Sequencer) *Log[T] {
	l := &Log[T]{
		seq: seq,
		bufs: memory.NewPool(func() *[]Command[T] {
			s := make([]Command[T], 0, 64)
			return &s
		}),
	}
	l.pending = (*l.bufs.Get())[:0]
	return l
}

// SubmitInsert enqueues an insert of v at the reserved handle and returns
// the command's sequence number. Any goroutine.
func (l *Log[T]) SubmitInsert(h slot.Handle, v T) uint64 {
	return l.submit(Command[T]{Op: OpInsert, Handle: h, Value: v})
}

// SubmitRemove enqueues a removal of the cell the handle points at and
// returns the command's sequence number. Any goroutine.
func (l *Log[T]) SubmitRemove(h slot.Handle) uint64 {
	return l.submit(Command[T]{Op: OpRemove, Handle: h})
}

func (l *Log[T]) submit(c Command[T]) uint64 {
	c.Seq = l.seq.Next()
	l.mu.Lock()
	l.pending = append(l.pending, c)
	l.mu.Unlock()
	return c.Seq
}

// DrainOrdered empties the log and returns the commands sorted ascending
// by sequence number. Owner-only. It takes whatever is present at call
// time; it never waits for in-flight submitters. Pass the returned batch
// to Recycle once applied.
func (l *Log[T]) DrainOrdered() []Command[T] {
	fresh := (*l.bufs.Get())[:0]

	l.mu.Lock()
	batch := l.pending
	l.pending = fresh
	l.mu.Unlock()

	slices.SortFunc(batch, func(a, b Command[T]) int {
		switch {
		case a.Seq < b.Seq:
			return -1
		case a.Seq > b.Seq:
			return 1
		default:
			return 0
		}
	})
	return batch
}

// Recycle returns a drained batch to the buffer pool. The batch is zeroed
// so the pool does not pin submitted values.
func (l *Log[T]) Recycle(batch []Command[T]) {
	var zero Command[T]
	for i := range batch {
		batch[i] = zero
	}
	batch = batch[:0]
	l.bufs.Put(&batch)
}

// Pending returns the number of commands currently buffered.
func (l *Log[T]) Pending() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.pending)
}
