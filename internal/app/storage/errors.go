package storage

import "errors"

var (
	// ErrNotFound is returned when a record does not exist.
	ErrNotFound = errors.New("record not found")
	// ErrConflict is returned on uniqueness or optimistic-lock violations.
	ErrConflict = errors.New("record conflict")
)
