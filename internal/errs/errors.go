// Package errs provides the unified error type used across all of Hydrant.
//
// Every subsystem (pool, batch, config, dead-letter, …) wraps its native
// errors into *errs.Error before returning them to callers. Callers match
// on the kind with Is without importing driver-specific packages.
//
// Usage:
//
//	// In the pool — wrap native errors:
//	return errs.Wrap(errs.ErrKindConnectionFailed, "dial failed", pgErr)
//
//	// In a caller — check error kind:
//	if errs.Is(err, errs.ErrKindTimeout) {
//	    // no connection became available in time
//	}
package errs

import (
	"errors"
	"strings"
)

// ErrKind categorises an error without exposing subsystem-specific codes.
// All backends (Postgres, object storage, YAML, …) map their native errors
// to one of these kinds, giving callers a single consistent API.
type ErrKind int

const (
	ErrKindUnknown          ErrKind = iota
	ErrKindConfig                   // missing or malformed configuration
	ErrKindConnectionFailed         // cannot reach or authenticate to the backend
	ErrKindTimeout                  // deadline elapsed waiting for a resource
	ErrKindCopyFailed               // bulk-copy protocol or transaction error
	ErrKindInvalidInput             // bad arguments from the caller
	ErrKindStorage                  // object storage operation error
)

var kindNames = map[ErrKind]string{
	ErrKindConfig:           "config",
	ErrKindConnectionFailed: "connection_failed",
	ErrKindTimeout:          "timeout",
	ErrKindCopyFailed:       "copy_failed",
	ErrKindInvalidInput:     "invalid_input",
	ErrKindStorage:          "storage",
}

func (k ErrKind) String() string {
	if name, ok := kindNames[k]; ok {
		return name
	}
	return "unknown"
}

// Error is the single error type returned by all Hydrant subsystems.
// Subsystems produce it; callers match on the kind with Is.
type Error struct {
	Kind    ErrKind
	Message string
	Cause   error // original driver-level error, preserved for logging
}

// Error renders "kind: message: cause", dropping the segments that are
// absent so an unknown-kind error without a cause is just its message.
func (e *Error) Error() string {
	parts := make([]string, 0, 3)
	if e.Kind != ErrKindUnknown {
		parts = append(parts, e.Kind.String())
	}
	parts = append(parts, e.Message)
	if e.Cause != nil {
		parts = append(parts, e.Cause.Error())
	}
	return strings.Join(parts, ": ")
}

// Unwrap allows errors.Is / errors.As to traverse the cause chain.
func (e *Error) Unwrap() error {
	return e.Cause
}

// --- Constructors ---

// New creates an *Error with the given kind and message and no cause.
func New(kind ErrKind, msg string) *Error {
	return &Error{Kind: kind, Message: msg}
}

// Wrap creates an *Error with the given kind, message, and an underlying cause.
func Wrap(kind ErrKind, msg string, cause error) *Error {
	return &Error{Kind: kind, Message: msg, Cause: cause}
}

// --- Matching ---

// Is reports whether the first *Error in err's chain carries the given
// kind; *Error values nested further down the chain are not consulted.
func Is(err error, kind ErrKind) bool {
	return Kind(err) == kind
}

// Kind returns the kind of the first *Error in err's chain, or
// ErrKindUnknown when the chain holds none.
func Kind(err error) ErrKind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return ErrKindUnknown
}
