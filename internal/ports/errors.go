package ports

import "errors"

// Kind classifies an application error into one of the semantic buckets the
// HTTP layer maps to a status code. Adapters and services wrap the matching
// sentinel with %w and format the underlying cause with %v, as in
// fmt.Errorf("%w: ...: %v", Kind, cause), so callers can errors.Is against
// the kind without string matching.
var (
	// ErrValidation: bad user input. No state change.
	ErrValidation = errors.New("validation error")
	// ErrNotFound: unknown position/event id.
	ErrNotFound = errors.New("not found")
	// ErrConflict: attempt to close an already-closed position, or another
	// invalid state transition.
	ErrConflict = errors.New("conflict")
	// ErrUpstream: exchange REST or WebSocket failure.
	ErrUpstream = errors.New("upstream error")
	// ErrStorage: database write failed; the operation is abandoned.
	ErrStorage = errors.New("storage error")
	// ErrInternal: programmer error or invariant violation.
	ErrInternal = errors.New("internal error")
)
