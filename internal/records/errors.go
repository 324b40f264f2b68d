package records

import "errors"

var (
	// ErrNotFound is returned when no record exists under a key.
	ErrNotFound = errors.New("record not found")
	// ErrExists is returned by Create when the key is taken.
	ErrExists = errors.New("record already exists")
	// ErrTooLarge is returned when encoded data exceeds the size limit.
	ErrTooLarge = errors.New("record exceeds max size")
)
