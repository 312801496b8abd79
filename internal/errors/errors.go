// Package errors implements the closed error-kind taxonomy §7 of the
// specification assigns to this layer. Unlike an HTTP-facing service, the
// control plane has no status-code boundary, so Kind replaces the
// teacher's HTTP status code, and Field carries "the offending value"
// every error must propagate with.
package errors

import "fmt"

// Kind is one of the six error kinds the range-fanout/table-lifecycle core
// may surface.
type Kind string

const (
	KindInvalidArgument Kind = "invalid_argument"
	KindNotFound        Kind = "not_found"
	KindConflict        Kind = "conflict"
	KindUnsupported     Kind = "unsupported"
	KindTransient       Kind = "transient"
	KindDownstream      Kind = "downstream"
)

// Error is the error type returned by every exported operation in this
// module.
type Error struct {
	Kind    Kind
	Reason  string // short string reason, e.g. "duplicate_key"
	Field   string // offending field/value, when applicable
	Message string
	Err     error
}

func (e *Error) Error() string {
	msg := e.Message
	if msg == "" {
		msg = e.Reason
	}
	if e.Field != "" {
		msg = fmt.Sprintf("%s (field=%s)", msg, e.Field)
	}
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", msg, e.Err)
	}
	return msg
}

func (e *Error) Unwrap() error { return e.Err }

// New creates a new, unwrapped error of the given kind.
func New(kind Kind, reason, message string) *Error {
	return &Error{Kind: kind, Reason: reason, Message: message}
}

// WithField attaches the offending field/value to the error and returns it.
func (e *Error) WithField(field string) *Error {
	e.Field = field
	return e
}

// Wrap wraps an existing error with a kind and reason, preserving the
// original via Unwrap.
func Wrap(err error, kind Kind, reason, message string) *Error {
	return &Error{Kind: kind, Reason: reason, Message: message, Err: err}
}

// Is reports whether err carries the given Kind.
func Is(err error, kind Kind) bool {
	var e *Error
	if As(err, &e) {
		return e.Kind == kind
	}
	return false
}

// As walks the Unwrap chain looking for an *Error, kept local so callers
// don't need the standard errors package just to type-assert.
func As(err error, target **Error) bool {
	for err != nil {
		if e, ok := err.(*Error); ok {
			*target = e
			return true
		}
		u, ok := err.(interface{ Unwrap() error })
		if !ok {
			return false
		}
		err = u.Unwrap()
	}
	return false
}

// Common constructors for the reasons spec.md §4/§7 name explicitly.
var (
	ErrTableExists = func(name string) *Error {
		return New(KindConflict, "table_exists", "table already exists").WithField(name)
	}
	ErrNoTable = func(name string) *Error {
		return New(KindNotFound, "no_table", "table not found").WithField(name)
	}
	ErrNotSupported = func(reason string) *Error {
		return New(KindUnsupported, reason, "operation not supported")
	}
)
