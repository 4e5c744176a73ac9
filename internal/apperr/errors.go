package apperr

import (
	"errors"
	"fmt"
)

// Kind classifies an error for callers and for the HTTP layer.
type Kind string

const (
	KindValidation        Kind = "validation_error"
	KindConflict          Kind = "conflict"
	KindInvalidState      Kind = "invalid_state"
	KindAuthorization     Kind = "forbidden"
	KindKYCRequired       Kind = "kyc_required"
	KindAuthentication    Kind = "authentication_failed"
	KindInsufficientFunds Kind = "insufficient_funds"
	KindPrecondition      Kind = "precondition_failed"
	KindNotFound          Kind = "not_found"
	KindThrottled         Kind = "throttled"
	KindInvariant         Kind = "ledger_invariant_violation"
	KindInternal          Kind = "internal_error"
)

// Sentinels for errors.Is. An *Error matches the sentinel of its kind.
var (
	ErrValidation        = &Error{Kind: KindValidation}
	ErrConflict          = &Error{Kind: KindConflict}
	ErrInvalidState      = &Error{Kind: KindInvalidState}
	ErrAuthorization     = &Error{Kind: KindAuthorization}
	ErrKYCRequired       = &Error{Kind: KindKYCRequired}
	ErrAuthentication    = &Error{Kind: KindAuthentication}
	ErrInsufficientFunds = &Error{Kind: KindInsufficientFunds}
	ErrPrecondition      = &Error{Kind: KindPrecondition}
	ErrNotFound          = &Error{Kind: KindNotFound}
	ErrThrottled         = &Error{Kind: KindThrottled}
	ErrInvariant         = &Error{Kind: KindInvariant}
)

type Error struct {
	Kind Kind
	Msg  string
	Err  error
}

func (e *Error) Error() string {
	switch {
	case e.Msg != "" && e.Err != nil:
		return fmt.Sprintf("%s: %v", e.Msg, e.Err)
	case e.Msg != "":
		return e.Msg
	case e.Err != nil:
		return e.Err.Error()
	default:
		return string(e.Kind)
	}
}

func (e *Error) Unwrap() error { return e.Err }

// Is reports kind equality so that errors.Is(err, apperr.ErrConflict) matches any conflict.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Kind == e.Kind
}

func newf(kind Kind, format string, args ...any) *Error {
	return &Error{Kind: kind, Msg: fmt.Sprintf(format, args...)}
}

func Validation(format string, args ...any) error    { return newf(KindValidation, format, args...) }
func Conflict(format string, args ...any) error      { return newf(KindConflict, format, args...) }
func InvalidState(format string, args ...any) error  { return newf(KindInvalidState, format, args...) }
func Forbidden(format string, args ...any) error     { return newf(KindAuthorization, format, args...) }
func KYCRequired(format string, args ...any) error   { return newf(KindKYCRequired, format, args...) }
func Unauthenticated(format string, args ...any) error {
	return newf(KindAuthentication, format, args...)
}
func InsufficientFunds(format string, args ...any) error {
	return newf(KindInsufficientFunds, format, args...)
}
func Precondition(format string, args ...any) error { return newf(KindPrecondition, format, args...) }
func NotFound(resource string) error               { return newf(KindNotFound, "%s not found", resource) }
func Throttled(format string, args ...any) error    { return newf(KindThrottled, format, args...) }

// Invariant wraps a ledger consistency failure. These indicate a bug and are never user-facing.
func Invariant(err error, format string, args ...any) error {
	return &Error{Kind: KindInvariant, Msg: fmt.Sprintf(format, args...), Err: err}
}

// KindOf returns the kind of the first *Error in err's chain, or KindInternal.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindInternal
}
