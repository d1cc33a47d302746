package domain

import (
	"errors"
	"fmt"
)

// Kind classifies errors so the boundary layer can map them to HTTP codes
// and workers can decide between retry and DLQ.
type Kind int

const (
	KindUnknown Kind = iota
	KindInvalidInput
	KindNotFound
	KindInvalidTransition
	KindConflict
	KindInsufficientStock
	KindInvalidSignature
	KindTransientUpstream
	KindFatal
)

func (k Kind) String() string {
	switch k {
	case KindInvalidInput:
		return "invalid_input"
	case KindNotFound:
		return "not_found"
	case KindInvalidTransition:
		return "invalid_transition"
	case KindConflict:
		return "conflict"
	case KindInsufficientStock:
		return "insufficient_stock"
	case KindInvalidSignature:
		return "invalid_signature"
	case KindTransientUpstream:
		return "transient_upstream"
	case KindFatal:
		return "fatal"
	default:
		return "unknown"
	}
}

type Error struct {
	Kind Kind
	Msg  string
	Err  error
}

func (e *Error) Error() string {
	if e.Err != nil {
		if e.Msg != "" {
			return fmt.Sprintf("%s: %v", e.Msg, e.Err)
		}
		return e.Err.Error()
	}
	return e.Msg
}

func (e *Error) Unwrap() error { return e.Err }

func E(kind Kind, msg string) *Error {
	return &Error{Kind: kind, Msg: msg}
}

func Ef(kind Kind, format string, args ...any) *Error {
	return &Error{Kind: kind, Msg: fmt.Sprintf(format, args...)}
}

func Wrap(kind Kind, msg string, err error) *Error {
	return &Error{Kind: kind, Msg: msg, Err: err}
}

// KindOf extracts the Kind from an error chain. Unclassified errors are
// KindUnknown; workers treat those as retryable.
func KindOf(err error) Kind {
	var de *Error
	if errors.As(err, &de) {
		return de.Kind
	}
	return KindUnknown
}

// Retryable reports whether a worker should retry after err.
func Retryable(err error) bool {
	switch KindOf(err) {
	case KindTransientUpstream, KindUnknown:
		return true
	default:
		return false
	}
}

// Common sentinels used across repositories and services.
var (
	ErrOrderNotFound       = E(KindNotFound, "order not found")
	ErrPaymentNotFound     = E(KindNotFound, "payment not found")
	ErrVariantNotFound     = E(KindNotFound, "product variant not found")
	ErrReservationNotFound = E(KindNotFound, "reservation not found")
	ErrReservationNotHeld  = E(KindInvalidTransition, "reservation is not held")
	ErrInsufficientStock   = E(KindInsufficientStock, "insufficient stock")
	ErrInvalidSignature    = E(KindInvalidSignature, "webhook signature verification failed")
	ErrIdempotencyConflict = E(KindConflict, "idempotency key already used with a different request")
)
