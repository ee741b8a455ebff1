package workflow

import (
	"errors"
	"fmt"
)

// Kind classifies a workflow error for transports.
type Kind string

const (
	KindNotFound          Kind = "not_found"
	KindConflict          Kind = "conflict"
	KindInvalidTransition Kind = "invalid_transition"
	KindUnauthorized      Kind = "unauthorized"
	KindValidation        Kind = "validation"
)

var (
	ErrNotFound          = errors.New("workflow: not found")
	ErrConflict          = errors.New("workflow: conflict")
	ErrInvalidTransition = errors.New("workflow: invalid transition")
	ErrUnauthorized      = errors.New("workflow: unauthorized")
	ErrValidation        = errors.New("workflow: validation failed")
)

var sentinels = map[Kind]error{
	KindNotFound:          ErrNotFound,
	KindConflict:          ErrConflict,
	KindInvalidTransition: ErrInvalidTransition,
	KindUnauthorized:      ErrUnauthorized,
	KindValidation:        ErrValidation,
}

// Error is returned for every rejected call. Reason is meant for humans,
// e.g. "requires COORDINATOR role at this stage".
type Error struct {
	Kind   Kind
	Reason string
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s: %s", sentinels[e.Kind], e.Reason)
}

// Unwrap lets errors.Is match the kind's sentinel.
func (e *Error) Unwrap() error { return sentinels[e.Kind] }

// ErrorKind returns the classification string.
func (e *Error) ErrorKind() string { return string(e.Kind) }

func newError(kind Kind, format string, args ...any) *Error {
	return &Error{Kind: kind, Reason: fmt.Sprintf(format, args...)}
}

// NotFoundError reports an unknown instance or definition.
func NotFoundError(format string, args ...any) *Error {
	return newError(KindNotFound, format, args...)
}

// ConflictError reports a duplicate active instance.
func ConflictError(format string, args ...any) *Error {
	return newError(KindConflict, format, args...)
}

// InvalidTransitionError reports a missing graph edge for a non-admin.
func InvalidTransitionError(format string, args ...any) *Error {
	return newError(KindInvalidTransition, format, args...)
}

// UnauthorizedError reports a role that may not take the action.
func UnauthorizedError(format string, args ...any) *Error {
	return newError(KindUnauthorized, format, args...)
}

// ValidationError reports malformed input or a call in the wrong stage.
func ValidationError(format string, args ...any) *Error {
	return newError(KindValidation, format, args...)
}

// KindOf returns the kind of err, or "" for errors that did not originate
// here (persistence failures and the like).
func KindOf(err error) Kind {
	var werr *Error
	if errors.As(err, &werr) {
		return werr.Kind
	}
	return ""
}
