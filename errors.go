package refetch

import "errors"

// Sentinel errors for cache operations.
var (
	// ErrNotFound is returned when a key has no cached entry, or by a
	// Persister when no dehydrated state has been saved.
	ErrNotFound = errors.New("refetch: entry not found")

	// ErrClosed is returned when an operation is attempted on a closed client.
	ErrClosed = errors.New("refetch: client closed")

	// ErrValidation is returned when a mutation precondition rejects the
	// input before the operation is dispatched.
	ErrValidation = errors.New("refetch: validation failed")

	// ErrAborted is returned when cancellation is observed mid-flight.
	ErrAborted = errors.New("refetch: operation aborted")

	// ErrMarshal is returned when cache state serialization fails.
	ErrMarshal = errors.New("refetch: failed to marshal state")

	// ErrUnmarshal is returned when cache state deserialization fails.
	ErrUnmarshal = errors.New("refetch: failed to unmarshal state")
)
