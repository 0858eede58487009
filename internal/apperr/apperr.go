// Package apperr defines the error taxonomy of the settlement core.
//
// Every error that can reach a caller carries a classification kind, either
// through a Kind method or through the context package sentinels. Kind is the
// single place where errors are turned into stable, wire-safe strings.
package apperr

import (
	"context"
	"errors"
)

// Kinds reported by Kind.
const (
	KindValidation           = "validation_failed"
	KindDeclined             = "payment_declined"
	KindGateway              = "gateway_error"
	KindPersistence          = "persistence_error"
	KindNotFound             = "not_found"
	KindInvalidTransition    = "invalid_transition"
	KindDuplicateTransaction = "duplicate_transaction"
	KindConflict             = "conflict"
	KindTimeout              = "timeout"
	KindCanceled             = "canceled"
	KindInternal             = "internal"
)

type kindError struct {
	msg  string
	kind string
}

func (e kindError) Error() string { return e.msg }
func (e kindError) Kind() string  { return e.kind }

var (
	// ErrDeclined is returned when the gateway declines a payment.
	ErrDeclined error = kindError{msg: "payment declined", kind: KindDeclined}

	// ErrGatewayUnavailable marks a simulated transient gateway fault.
	// It is the only decline-like outcome a fuller system would retry.
	ErrGatewayUnavailable error = kindError{msg: "payment gateway unavailable", kind: KindGateway}

	// ErrPersistence is returned when a payment record could not be written.
	ErrPersistence error = kindError{msg: "payment could not be recorded", kind: KindPersistence}

	ErrNotFound             error = kindError{msg: "payment not found", kind: KindNotFound}
	ErrInvalidTransition    error = kindError{msg: "invalid status transition", kind: KindInvalidTransition}
	ErrDuplicateTransaction error = kindError{msg: "duplicate transaction id", kind: KindDuplicateTransaction}

	// ErrConflict is returned by conditional updates when the stored status
	// is not the one the caller expected.
	ErrConflict error = kindError{msg: "payment status changed concurrently", kind: KindConflict}
)

// ValidationError reports the first payment request check that failed.
// Reason is safe to show to clients; it never contains card data.
type ValidationError struct {
	Field  string
	Reason string
}

func (e ValidationError) Error() string { return e.Reason }
func (e ValidationError) Kind() string  { return KindValidation }

type kinder interface {
	Kind() string
}

// Kind classifies err. It returns "" for nil and KindInternal for errors
// that carry no classification.
func Kind(err error) string {
	if err == nil {
		return ""
	}
	var k kinder
	if errors.As(err, &k) {
		return k.Kind()
	}
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return KindTimeout
	case errors.Is(err, context.Canceled):
		return KindCanceled
	default:
		return KindInternal
	}
}
