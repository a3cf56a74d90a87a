package runtime

import "errors"

// Errors for Runtime operations.
var (
	// ErrClosed is returned when operating on a closed Runtime.
	ErrClosed = errors.New("runtime: state is closed")
)
