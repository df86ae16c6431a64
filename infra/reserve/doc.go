// Package reserve implements the lock-free reservation side of the
// deferred-commit protocol. Reservations predict, without mutating the
// store, the exact handle each future insertion will receive; the commit
// cycle later reproduces that mapping when it applies the command log.
package reserve
