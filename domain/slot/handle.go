package slot

import "fmt"

// Handle identifies a logical cell in a Store. The low 32 bits hold the
// cell index, the high 32 bits hold the generation of the cell at the time
// the handle was issued. A handle resolves only while the cell's stored
// generation still matches.
type Handle uint64

// NewHandle packs an index and a generation into a Handle.
func NewHandle(index, generation uint32) Handle {
	return Handle(uint64(generation)<<32 | uint64(index))
}

// Index returns the cell index encoded in the handle.
func (h Handle) Index() uint32 {
	return uint32(h)
}

// Generation returns the generation encoded in the handle.
func (h Handle) Generation() uint32 {
	return uint32(h >> 32)
}

// Split returns both halves of the handle.
func (h Handle) Split() (index, generation uint32) {
	return uint32(h), uint32(h >> 32)
}

func (h Handle) String() string {
	return fmt.Sprintf("slot(%d@g%d)", h.Index(), h.Generation())
}
