package errors

import (
	"errors"
	"fmt"
)

// Standard errors
var (
	// ErrNotFound is returned when a requested record is not found
	ErrNotFound = errors.New("record not found")

	// ErrInvalidInput is returned when the input is invalid
	ErrInvalidInput = errors.New("invalid input")

	// ErrBackendUnavailable is returned when a storage, embedding, or
	// generation backend stays unreachable after retries are exhausted
	ErrBackendUnavailable = errors.New("backend unavailable")

	// ErrMalformedResponse is returned when a generation backend produced
	// output that could not be parsed as the requested structure
	ErrMalformedResponse = errors.New("malformed backend response")

	// ErrDimensionMismatch is returned when a vector's length does not match
	// the store's configured embedding dimension
	ErrDimensionMismatch = errors.New("embedding dimension mismatch")
)

// Backend wraps err with the identity of the backend and operation that
// failed, marking it as an ErrBackendUnavailable.
func Backend(backend, op string, err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s %s: %w: %w", backend, op, ErrBackendUnavailable, err)
}

// Wrap wraps an error with additional context
func Wrap(err error, format string, args ...interface{}) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf(format+": %w", append(args, err)...)
}

// Is reports whether any error in err's tree matches target.
// This is a convenience function that wraps errors.Is
func Is(err, target error) bool {
	return errors.Is(err, target)
}

// As finds the first error in err's tree that matches target, and if so, sets
// target to that error value and returns true. Otherwise, it returns false.
// This is a convenience function that wraps errors.As
func As(err error, target interface{}) bool {
	return errors.As(err, target)
}
