// Package cmdlog buffers deferred mutations between commits. Any
// goroutine may submit; only the owner drains. Commands replay in
// sequence-number order, which is what guarantees the i-th reservation's
// handle is the handle the i-th submitted insert actually lands on.
package cmdlog
