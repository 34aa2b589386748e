package store

import "errors"

// ErrAlreadyExists indicates a unique-constraint violation — used by
// CreateDeferredAction when a concurrently-allocated deferred_id collides,
// per spec §4.2's "unique constraint + retry" allocation strategy.
var ErrAlreadyExists = errors.New("already exists")
