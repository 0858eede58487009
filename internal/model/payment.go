// Package model defines the payment request, the persisted payment record
// and the outcome returned to callers. It keeps transport-level types in one
// place for reuse.
package model

import (
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/iliamunaev/card-settlement/internal/apperr"
)

// Status is the lifecycle status of a payment.
type Status string

const (
	StatusPending    Status = "PENDING"
	StatusProcessing Status = "PROCESSING"
	StatusCompleted  Status = "COMPLETED"
	StatusFailed     Status = "FAILED"
	StatusDeclined   Status = "DECLINED"
	StatusCancelled  Status = "CANCELLED"
)

// Statuses lists every status in declaration order.
var Statuses = []Status{
	StatusPending,
	StatusProcessing,
	StatusCompleted,
	StatusFailed,
	StatusDeclined,
	StatusCancelled,
}

// ParseStatus converts s (case-insensitive) to a Status.
func ParseStatus(s string) (Status, error) {
	st := Status(strings.ToUpper(strings.TrimSpace(s)))
	for _, known := range Statuses {
		if st == known {
			return st, nil
		}
	}
	return "", fmt.Errorf("unknown payment status %q", s)
}

// Terminal reports whether no further automatic transition leaves s.
func (s Status) Terminal() bool {
	switch s {
	case StatusCompleted, StatusFailed, StatusDeclined, StatusCancelled:
		return true
	default:
		return false
	}
}

// transitions lists the legal target statuses for each source status.
var transitions = map[Status][]Status{
	StatusPending: {StatusCompleted, StatusFailed, StatusDeclined, StatusCancelled},
}

// CanTransition reports whether from -> to is a legal transition.
func CanTransition(from, to Status) bool {
	for _, s := range transitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// CVVPlaceholder is stored instead of the real CVV.
const CVVPlaceholder = "***"

// Payment is the persisted record of a payment attempt.
type Payment struct {
	ID             int64           `json:"id"`
	CardholderName string          `json:"cardholder_name"`
	CardNumber     string          `json:"card_number"` // masked
	ExpiryDate     string          `json:"expiry_date"`
	CVV            string          `json:"cvv"` // always CVVPlaceholder
	Amount         decimal.Decimal `json:"amount"`
	Status         Status          `json:"status"`
	TransactionID  string          `json:"transaction_id"`
	CreatedAt      time.Time       `json:"created_at"`
	UpdatedAt      time.Time       `json:"updated_at"`
	ErrorMessage   string          `json:"error_message,omitempty"`
}

// Transition returns a copy of p moved to status to at the given time.
//
// reason is recorded as the error message for non-success terminal states
// and ignored otherwise. p itself is never modified.
func (p Payment) Transition(to Status, reason string, at time.Time) (Payment, error) {
	if !CanTransition(p.Status, to) {
		return p, fmt.Errorf("%s -> %s: %w", p.Status, to, apperr.ErrInvalidTransition)
	}
	next := p
	next.Status = to
	next.UpdatedAt = at
	next.ErrorMessage = ""
	if to != StatusCompleted {
		next.ErrorMessage = reason
	}
	return next, nil
}

// LastFour returns the trailing four characters of the stored card number.
func (p Payment) LastFour() string {
	if len(p.CardNumber) < 4 {
		return p.CardNumber
	}
	return p.CardNumber[len(p.CardNumber)-4:]
}

// MaskCardNumber replaces all but the last four characters of number with '*'.
// Numbers shorter than five characters are masked completely.
func MaskCardNumber(number string) string {
	if len(number) <= 4 {
		return strings.Repeat("*", len(number))
	}
	return strings.Repeat("*", len(number)-4) + number[len(number)-4:]
}
