package oerr

import (
	"errors"
	"fmt"
)

// Kind classifies a domain error so callers and the API layer can react
// without string matching.
type Kind string

const (
	KindNotFound            Kind = "not_found"
	KindQuotaExceeded       Kind = "quota_exceeded"
	KindInvalidTransition   Kind = "invalid_transition"
	KindAccountUnavailable  Kind = "account_unavailable"
	KindCollaboratorFailure Kind = "external_collaborator_failure"
	KindValidation          Kind = "validation_error"
	KindConflict            Kind = "conflict"
)

// Error is a domain error with a kind and a human-readable reason.
type Error struct {
	Kind    Kind
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error { return e.Err }

// New creates a domain error.
func New(kind Kind, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// Wrap creates a domain error wrapping an underlying cause.
func Wrap(kind Kind, err error, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...), Err: err}
}

// KindOf returns the kind of err, or "" if err carries no kind.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return ""
}

// IsKind reports whether err carries the given kind.
func IsKind(err error, kind Kind) bool {
	return KindOf(err) == kind
}
