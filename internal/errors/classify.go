package errors

import (
	"fmt"

	pkgerrors "github.com/pkg/errors"
)

// NewAuthorizationError creates a classified error for a backend that refused
// an operation for permission reasons.
func NewAuthorizationError(backend, op string, err error) *ClassifiedError {
	return &ClassifiedError{Category: Authorization, Backend: backend, Op: op, Underlying: err}
}

// NewTransientError creates a classified error for network, quota and
// timeout failures.
func NewTransientError(backend, op string, err error) *ClassifiedError {
	return &ClassifiedError{Category: Transient, Backend: backend, Op: op, Underlying: err}
}

// NewSerializationError creates a classified error for values that cannot be
// rendered as plain data.
func NewSerializationError(path string, format string, args ...any) *ClassifiedError {
	return &ClassifiedError{
		Category:   Serialization,
		Op:         "sanitize",
		Underlying: fmt.Errorf("%s: %s", path, fmt.Sprintf(format, args...)),
	}
}

// NewStreamError wraps a completion engine failure.
func NewStreamError(op string, err error) *ClassifiedError {
	return &ClassifiedError{Category: Stream, Op: op, Underlying: err}
}

// NewValidationError creates a classified error matching ErrValidation.
func NewValidationError(op string, format string, args ...any) *ClassifiedError {
	return &ClassifiedError{Category: Validation, Op: op, Underlying: fmt.Errorf(format, args...)}
}

// Classify wraps err with the category returned by authz. Backends pass a
// driver-specific predicate; anything it does not recognise is transient.
// Already classified errors pass through untouched.
func Classify(backend, op string, err error, authz func(error) bool) error {
	if err == nil {
		return nil
	}
	if _, ok := categoryOf(err); ok {
		return err
	}
	if authz != nil && authz(err) {
		return NewAuthorizationError(backend, op, err)
	}
	return NewTransientError(backend, op, err)
}

// NotFound reports a missing record to callers that need one to exist,
// such as read-modify-write updates. It matches ErrNotFound.
func NotFound(collection, id string) error {
	return pkgerrors.Wrapf(ErrNotFound, "%s/%s", collection, id)
}
