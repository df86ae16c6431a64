// Package memory provides the low-level allocation primitives shared by
// the registry machinery: a lock-free SPSC ring used to hand applied
// mutations to the broadcaster, and a typed pool for recycling command
// batch buffers.
//
// The memory package is dependency-free and has no knowledge of slots,
// handles, or the commit protocol.
package memory
