// Package service orchestrates the core components of the slot registry —
// the slot store, the reservation coordinator, the command log, and the
// event ring.
//
// It provides the registry's two faces: the lock-free any-goroutine face
// (Reserve, SubmitInsert, SubmitRemove) and the owner-only face (Commit
// and direct-mode access), decoupled from background drivers like the
// committer and broadcaster jobs.
package service
