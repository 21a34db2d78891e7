// Package errors classifies failures coming out of the record store backends
// and the completion engine so the gateway can decide between the one-way
// cloud downgrade and returning the error to the caller.
package errors

import (
	stderrors "errors"
	"fmt"
)

// Category determines how the gateway treats an error.
type Category int

const (
	// Transient errors (network, quota, timeouts) are surfaced unchanged.
	Transient Category = iota
	// Authorization errors mean the cloud backend refused the operation. They
	// trigger the Cloud -> LocalOnly transition.
	Authorization
	// Serialization errors mean a value has no plain-data rendering.
	Serialization
	// Stream errors are raised by the completion engine mid-sequence.
	Stream
	// Validation errors reject malformed records or override payloads.
	Validation
)

// String returns a human-readable representation of the category.
func (c Category) String() string {
	switch c {
	case Transient:
		return "Transient"
	case Authorization:
		return "Authorization"
	case Serialization:
		return "Serialization"
	case Stream:
		return "Stream"
	case Validation:
		return "Validation"
	default:
		return fmt.Sprintf("Unknown(%d)", int(c))
	}
}

var (
	// ErrNotFound is used by backends internally; reads for a missing id
	// return an empty result instead of this error.
	ErrNotFound = stderrors.New("not found")
	// ErrValidation is the sentinel matched by every Validation error.
	ErrValidation = stderrors.New("validation error")
)

// ClassifiedError wraps an error with the category and the operation that
// produced it.
type ClassifiedError struct {
	Category   Category
	Op         string // e.g. "put", "merge", "query"
	Backend    string // backend name, empty for non-store errors
	Underlying error
}

// Error implements the error interface.
func (e *ClassifiedError) Error() string {
	if e.Backend != "" {
		return fmt.Sprintf("[%s] %s %s: %v", e.Category, e.Backend, e.Op, e.Underlying)
	}
	return fmt.Sprintf("[%s] %s: %v", e.Category, e.Op, e.Underlying)
}

// Unwrap returns the underlying error for error chain compatibility.
func (e *ClassifiedError) Unwrap() error {
	return e.Underlying
}

// Is lets Validation errors match ErrValidation.
func (e *ClassifiedError) Is(target error) bool {
	return target == ErrValidation && e.Category == Validation
}

func categoryOf(err error) (Category, bool) {
	var ce *ClassifiedError
	if stderrors.As(err, &ce) {
		return ce.Category, true
	}
	return 0, false
}

// IsAuthorization reports whether err is an authorization failure.
func IsAuthorization(err error) bool {
	c, ok := categoryOf(err)
	return ok && c == Authorization
}

// IsTransient reports whether err is a transient (network/quota) failure.
// Unclassified errors are treated as transient.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	c, ok := categoryOf(err)
	return !ok || c == Transient
}

// IsSerialization reports whether err is a serialization failure.
func IsSerialization(err error) bool {
	c, ok := categoryOf(err)
	return ok && c == Serialization
}

// IsStream reports whether err came from the completion engine.
func IsStream(err error) bool {
	c, ok := categoryOf(err)
	return ok && c == Stream
}
