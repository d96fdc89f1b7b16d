// Package errors defines the typed error taxonomy shared by every core
// component. Callers receive a stable Code plus a human-readable reason;
// storage failures never cross the boundary except wrapped as
// CodeDependencyUnavailable.
package errors

import (
	"errors"
	"fmt"
)

// AppError is the error type returned across component boundaries.
type AppError struct {
	Code    Code
	Message string
	Cause   error
}

func (e *AppError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Cause)
	}
	return e.Message
}

func (e *AppError) Unwrap() error { return e.Cause }

// New returns an AppError with the given code and message.
func New(code Code, message string) error {
	return &AppError{Code: code, Message: message}
}

// Wrap returns an AppError that wraps cause, preserving the chain for
// errors.Is / errors.As.
func Wrap(code Code, message string, cause error) error {
	return &AppError{Code: code, Message: message, Cause: cause}
}

// CodeOf extracts the Code from err, or CodeUnknown if err is not an AppError.
func CodeOf(err error) Code {
	var ae *AppError
	if errors.As(err, &ae) {
		return ae.Code
	}
	return CodeUnknown
}

// Is reports whether err carries the given code.
func Is(err error, code Code) bool {
	return CodeOf(err) == code
}

// Convenience constructors for the common cases.

func NotFound(msg string) error { return New(CodeNotFound, msg) }

func Forbidden(msg string) error { return New(CodeForbidden, msg) }

func Conflict(msg string) error { return New(CodeConflict, msg) }

func Invalid(msg string) error { return New(CodeInvalidArgument, msg) }

// Dependency wraps a collaborator or storage failure. The cause is retained
// for logs but the caller-visible code is always DEPENDENCY_UNAVAILABLE.
func Dependency(msg string, cause error) error {
	return Wrap(CodeDependencyUnavailable, msg, cause)
}
