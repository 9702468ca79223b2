package repository

import "errors"

// Sentinel errors shared by all repositories. Services match on these with
// errors.Is instead of depending on driver error types.
var (
	// ErrNotFound is returned when a row does not exist.
	ErrNotFound = errors.New("record not found")
	// ErrDuplicate is returned when an insert lost a unique-constraint race.
	// The submit path treats this as "fall back to update-in-place".
	ErrDuplicate = errors.New("record already exists")
)
