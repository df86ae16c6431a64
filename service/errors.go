package service

import "errors"

var (
	// ErrRegistryClosed rejects reservations while a commit is running.
	ErrRegistryClosed = errors.New("service: registry not open for reservations")

	// ErrCommitInProgress rejects a second concurrent commit, and any
	// direct mutation attempted while one runs.
	ErrCommitInProgress = errors.New("service: commit already in progress")

	// ErrPendingReservations rejects direct mutations that would
	// invalidate handles already promised to reservers this epoch.
	ErrPendingReservations = errors.New("service: outstanding reservations, commit first")
)
