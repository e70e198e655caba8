package shared

import "errors"

var (
	// ErrNotFound indicates resource not found.
	ErrNotFound = errors.New("not found")
	// ErrConcurrentModification indicates the document changed between
	// read and write. Safe to retry after reloading current state.
	ErrConcurrentModification = errors.New("concurrent modification")
	// ErrValidation indicates invalid caller input.
	ErrValidation = errors.New("invalid input")
)
