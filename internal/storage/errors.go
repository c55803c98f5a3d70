package storage

import (
	"errors"
	"fmt"
)

// Storage error kinds. Callers classify with errors.Is; anything wrapping
// ErrIO maps to an internal failure of the underlying backend.
var (
	// ErrNotFound means no record matches the given stored name.
	ErrNotFound = errors.New("file not found")

	// ErrDuplicateName means an insert would reuse an existing stored name.
	// With 16 random bytes per name this is theoretical, but the catalog
	// rejects rather than overwrites.
	ErrDuplicateName = errors.New("stored name already exists")

	// ErrRangeOutOfBounds means a requested byte range does not fit the
	// file's length.
	ErrRangeOutOfBounds = errors.New("byte range out of bounds")

	// ErrInvariant marks a programming error, such as an out-of-order chunk
	// write.
	ErrInvariant = errors.New("storage invariant violated")

	// ErrIO wraps failures of the underlying persistence layer.
	ErrIO = errors.New("storage io error")
)

// IOError tags err as a backend failure while keeping it in the chain.
func IOError(op string, err error) error {
	return fmt.Errorf("%s: %w: %w", op, ErrIO, err)
}

