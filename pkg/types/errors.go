package types

import (
	"errors"
	"fmt"
)

// ErrorKind classifies engine errors so callers can branch on kind
// instead of matching message text.
type ErrorKind string

const (
	KindInvalidTransition   ErrorKind = "invalid_transition"
	KindNotFound            ErrorKind = "not_found"
	KindInvalidState        ErrorKind = "invalid_state"
	KindCyclicDependency    ErrorKind = "cyclic_dependency"
	KindNoHistory           ErrorKind = "no_history"
	KindConcurrencyConflict ErrorKind = "concurrency_conflict"
)

// Error is a structured engine error. All engine operations return these
// as plain values across the public boundary; nothing panics across it.
type Error struct {
	Kind ErrorKind
	Op   string // operation that failed, e.g. "queue.reenqueue"
	Msg  string
	Err  error // wrapped cause, if any
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Op, e.Msg, e.Err)
	}
	if e.Op != "" {
		return fmt.Sprintf("%s: %s", e.Op, e.Msg)
	}
	return e.Msg
}

func (e *Error) Unwrap() error { return e.Err }

// Is reports kind equality, so errors.Is(err, &Error{Kind: KindNotFound})
// matches any not-found error regardless of message.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Kind == e.Kind
}

// NewError builds a structured error of the given kind
func NewError(kind ErrorKind, op, format string, args ...any) *Error {
	return &Error{Kind: kind, Op: op, Msg: fmt.Sprintf(format, args...)}
}

// WrapError attaches a cause to a structured error
func WrapError(kind ErrorKind, op string, err error, format string, args ...any) *Error {
	return &Error{Kind: kind, Op: op, Msg: fmt.Sprintf(format, args...), Err: err}
}

// IsKind reports whether err is (or wraps) an engine error of the given kind
func IsKind(err error, kind ErrorKind) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind == kind
	}
	return false
}

// KindOf returns the kind of an engine error, or "" for foreign errors
func KindOf(err error) ErrorKind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return ""
}
