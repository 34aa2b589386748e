package safeguard

import "errors"

// Sentinel errors implementing the §7 error taxonomy. StorageError is not a
// sentinel: any error returned by a store/keystore driver that isn't one of
// these is surfaced to the caller as-is, per spec §7 ("StorageError
// propagates").
var (
	// ErrNotFound indicates the referenced approval or deferred action id
	// does not exist.
	ErrNotFound = errors.New("not found")

	// ErrInvalidState indicates the requested transition is not legal from
	// the row's current status (e.g. approving an already-resolved request).
	ErrInvalidState = errors.New("invalid state for this operation")

	// ErrExpired indicates a pending approval request is past its expires_at.
	ErrExpired = errors.New("approval request expired")

	// ErrConflict indicates deferred_id allocation exhausted its retry
	// budget after repeated unique-constraint collisions.
	ErrConflict = errors.New("could not allocate a unique identifier")
)
