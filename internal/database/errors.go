package database

import "errors"

// Store errors form the data-side half of the failure taxonomy. Services
// match them with errors.Is and decide what is retryable.
var (
	// ErrBookingNotFound is returned by write paths that require an existing
	// row. Read paths return (nil, nil) instead.
	ErrBookingNotFound = errors.New("booking not found")

	// ErrDuplicateBookingID indicates an insert hit an existing booking id.
	// Ids are generated fresh per booking, so this should be unreachable;
	// it is surfaced loudly rather than coerced.
	ErrDuplicateBookingID = errors.New("booking id already exists")

	// ErrStaleRevision indicates the compare-and-set lost a race: the stored
	// revision no longer matches the one the caller read. Expected under
	// concurrent finalization; callers re-read and retry once.
	ErrStaleRevision = errors.New("booking revision is stale")

	// ErrInvalidTransition indicates a status change the state machine does
	// not allow. This is an invariant violation, never retried.
	ErrInvalidTransition = errors.New("status transition not allowed")

	// ErrSessionAlreadyBound indicates a checkout session id is already
	// mapped to a different booking. The session→booking binding is unique.
	ErrSessionAlreadyBound = errors.New("session already bound to another booking")
)
