// Package apperr defines the error kinds returned by the inventory, order and
// tracking services. Every failure a caller can act on carries a Kind.
package apperr

import (
	"errors"
	"fmt"
)

type Kind string

const (
	KindDuplicateVariant  Kind = "DuplicateVariant"
	KindVariantInUse      Kind = "VariantInUse"
	KindInsufficientStock Kind = "InsufficientStock"
	KindInvalidTransition Kind = "InvalidTransition"
	KindNotCancellable    Kind = "NotCancellable"
	KindNotFound          Kind = "NotFound"
	KindValidation        Kind = "ValidationError"
	KindUnavailable       Kind = "Unavailable"
)

// Sentinels for errors.Is.
var (
	ErrDuplicateVariant  = &Error{Kind: KindDuplicateVariant}
	ErrVariantInUse      = &Error{Kind: KindVariantInUse}
	ErrInsufficientStock = &Error{Kind: KindInsufficientStock}
	ErrInvalidTransition = &Error{Kind: KindInvalidTransition}
	ErrNotCancellable    = &Error{Kind: KindNotCancellable}
	ErrNotFound          = &Error{Kind: KindNotFound}
	ErrValidation        = &Error{Kind: KindValidation}
	ErrUnavailable       = &Error{Kind: KindUnavailable}
)

type Error struct {
	Kind Kind
	Op   string // e.g. "inventory.reserve"
	Msg  string
	Err  error
}

func (e *Error) Error() string {
	msg := string(e.Kind)
	if e.Msg != "" {
		msg += ": " + e.Msg
	}
	if e.Op != "" {
		msg = e.Op + ": " + msg
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *Error) Unwrap() error { return e.Err }

// Is matches on Kind so any *Error compares equal to the sentinel of its kind.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Kind == e.Kind
}

func New(kind Kind, op, format string, args ...any) *Error {
	return &Error{Kind: kind, Op: op, Msg: fmt.Sprintf(format, args...)}
}

// Unavailable wraps a failure of the layer below (database, broker).
func Unavailable(op string, err error) *Error {
	return &Error{Kind: KindUnavailable, Op: op, Err: err}
}

// KindOf returns the kind of err, or "" when err carries none.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return ""
}
