package domain

import "errors"

var (
	// ErrValidation marks malformed input rejected before any state change.
	ErrValidation = errors.New("validation error")
	// ErrNotFound marks a reference to a nonexistent operation or item.
	ErrNotFound = errors.New("not found")
	// ErrConflict marks a state-transition violation on a terminal record.
	ErrConflict = errors.New("conflict")
)
