package model

import (
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// PaymentRequest is the input payload for processing a card payment.
// It is never persisted as is.
type PaymentRequest struct {
	CardholderName string              `json:"cardholder_name"`
	CardNumber     string              `json:"card_number"`
	ExpiryDate     string              `json:"expiry_date"` // MM/YY
	CVV            string              `json:"cvv"`
	Amount         decimal.NullDecimal `json:"amount"`
	OrderItems     []OrderItem         `json:"order_items"`
}

// OrderItem is a single line of the order being paid for.
type OrderItem struct {
	ProductName string          `json:"product_name"`
	Quantity    int             `json:"quantity"`
	Price       decimal.Decimal `json:"price"`
}

// LineTotal returns Price x Quantity.
func (i OrderItem) LineTotal() decimal.Decimal {
	return i.Price.Mul(decimal.NewFromInt(int64(i.Quantity)))
}

// ItemsTotal sums the line totals of items.
func ItemsTotal(items []OrderItem) decimal.Decimal {
	total := decimal.Zero
	for _, it := range items {
		total = total.Add(it.LineTotal())
	}
	return total
}

// Outcome is the result of processing a payment request.
type Outcome struct {
	TransactionID string           `json:"transaction_id"`
	Status        Status           `json:"status"`
	Message       string           `json:"message"`
	Amount        *decimal.Decimal `json:"amount,omitempty"` // absent on validation failure
	ErrorKind     string           `json:"error_kind,omitempty"`
	ErrorMessage  string           `json:"error_message,omitempty"`
	ProcessedAt   time.Time        `json:"processed_at"`
}

// Succeeded reports whether the payment completed.
func (o Outcome) Succeeded() bool { return o.Status == StatusCompleted }

// Event describes a payment reaching a recorded status.
type Event struct {
	Type          string          `json:"type"` // "payment.completed", "payment.declined", ...
	TransactionID string          `json:"transaction_id"`
	Status        Status          `json:"status"`
	Amount        decimal.Decimal `json:"amount"`
	CardLastFour  string          `json:"card_last_four"`
	Reason        string          `json:"reason,omitempty"`
	OccurredAt    time.Time       `json:"occurred_at"`
}

// NewEvent builds the event for a payment's current status.
func NewEvent(p Payment) Event {
	return Event{
		Type:          EventType(p.Status),
		TransactionID: p.TransactionID,
		Status:        p.Status,
		Amount:        p.Amount,
		CardLastFour:  p.LastFour(),
		Reason:        p.ErrorMessage,
		OccurredAt:    p.UpdatedAt,
	}
}

// EventType returns the event type name for status s.
func EventType(s Status) string {
	return "payment." + strings.ToLower(string(s))
}

// Stats summarizes recorded payments.
type Stats struct {
	TotalCompleted int64            `json:"total_completed"`
	TotalFailed    int64            `json:"total_failed"` // FAILED + DECLINED
	TotalAmount    decimal.Decimal  `json:"total_amount"` // sum of COMPLETED amounts
	ByStatus       map[Status]int64 `json:"by_status"`
}

// ErrorPayload describes an error response for non-outcome endpoints.
type ErrorPayload struct {
	Kind    string `json:"kind"`
	Message string `json:"message,omitempty"`
}
