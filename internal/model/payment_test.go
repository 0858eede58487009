package model

import (
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/iliamunaev/card-settlement/internal/apperr"
)

func TestTransition(t *testing.T) {
	t.Parallel()

	created := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	at := created.Add(2 * time.Second)

	tests := []struct {
		name      string
		from      Status
		to        Status
		reason    string
		wantErr   bool
		wantError string
	}{
		{name: "pending_to_completed", from: StatusPending, to: StatusCompleted, reason: "ignored"},
		{name: "pending_to_failed", from: StatusPending, to: StatusFailed, reason: "network timeout", wantError: "network timeout"},
		{name: "pending_to_declined", from: StatusPending, to: StatusDeclined, reason: "insufficient funds", wantError: "insufficient funds"},
		{name: "pending_to_cancelled", from: StatusPending, to: StatusCancelled, reason: "operator", wantError: "operator"},
		{name: "pending_to_processing", from: StatusPending, to: StatusProcessing, wantErr: true},
		{name: "completed_to_failed", from: StatusCompleted, to: StatusFailed, wantErr: true},
		{name: "declined_to_completed", from: StatusDeclined, to: StatusCompleted, wantErr: true},
		{name: "cancelled_to_cancelled", from: StatusCancelled, to: StatusCancelled, wantErr: true},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			p := Payment{ID: 7, Status: tt.from, CreatedAt: created, UpdatedAt: created}
			next, err := p.Transition(tt.to, tt.reason, at)

			if tt.wantErr {
				if !errors.Is(err, apperr.ErrInvalidTransition) {
					t.Fatalf("expected ErrInvalidTransition, got %v", err)
				}
				if next.Status != tt.from {
					t.Fatalf("rejected transition must not change status, got %s", next.Status)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if next.Status != tt.to {
				t.Fatalf("expected %s, got %s", tt.to, next.Status)
			}
			if !next.UpdatedAt.Equal(at) {
				t.Fatalf("expected updated_at %v, got %v", at, next.UpdatedAt)
			}
			if !next.CreatedAt.Equal(created) {
				t.Fatalf("created_at must not change, got %v", next.CreatedAt)
			}
			if next.ErrorMessage != tt.wantError {
				t.Fatalf("expected error message %q, got %q", tt.wantError, next.ErrorMessage)
			}
			if p.Status != tt.from {
				t.Fatalf("original payment was modified")
			}
		})
	}
}

func TestMaskCardNumber(t *testing.T) {
	t.Parallel()

	tests := []struct {
		in   string
		want string
	}{
		{in: "4532015112830366", want: "************0366"},
		{in: "4111111111111", want: "*********1111"},
		{in: "12345", want: "*2345"},
		{in: "1234", want: "****"},
		{in: "", want: ""},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.in, func(t *testing.T) {
			t.Parallel()
			if got := MaskCardNumber(tt.in); got != tt.want {
				t.Fatalf("expected %q, got %q", tt.want, got)
			}
		})
	}
}

func TestParseStatus(t *testing.T) {
	t.Parallel()

	for _, s := range Statuses {
		got, err := ParseStatus(string(s))
		if err != nil || got != s {
			t.Fatalf("ParseStatus(%q) = %q, %v", s, got, err)
		}
	}
	if got, err := ParseStatus(" completed "); err != nil || got != StatusCompleted {
		t.Fatalf("expected case-insensitive parse, got %q, %v", got, err)
	}
	if _, err := ParseStatus("REFUNDED"); err == nil {
		t.Fatal("expected error for unknown status")
	}
}

func TestItemsTotal(t *testing.T) {
	t.Parallel()

	items := []OrderItem{
		{ProductName: "widget", Quantity: 2, Price: decimal.RequireFromString("9.99")},
		{ProductName: "gadget", Quantity: 3, Price: decimal.RequireFromString("0.01")},
	}
	if got := ItemsTotal(items); !got.Equal(decimal.RequireFromString("20.01")) {
		t.Fatalf("expected 20.01, got %s", got)
	}
	if got := ItemsTotal(nil); !got.IsZero() {
		t.Fatalf("expected zero, got %s", got)
	}
}

func TestPaymentRequestJSON(t *testing.T) {
	t.Parallel()

	body := []byte(`{
		"cardholder_name": "Jane Doe",
		"card_number": "4532015112830366",
		"expiry_date": "12/30",
		"cvv": "123",
		"amount": 19.98,
		"order_items": [{"product_name": "widget", "quantity": 2, "price": "9.99"}]
	}`)

	var req PaymentRequest
	if err := json.Unmarshal(body, &req); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if !req.Amount.Valid || !req.Amount.Decimal.Equal(decimal.RequireFromString("19.98")) {
		t.Fatalf("expected amount 19.98, got %+v", req.Amount)
	}
	if len(req.OrderItems) != 1 || req.OrderItems[0].Quantity != 2 {
		t.Fatalf("unexpected items %+v", req.OrderItems)
	}

	var missing PaymentRequest
	if err := json.Unmarshal([]byte(`{"cardholder_name":"x"}`), &missing); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if missing.Amount.Valid {
		t.Fatal("missing amount must decode as invalid")
	}
}

func TestOutcomeOmitEmptyFields(t *testing.T) {
	t.Parallel()

	data, err := json.Marshal(Outcome{TransactionID: "TXN-1", Status: StatusCompleted, Message: "ok"})
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}

	var raw map[string]any
	if err := json.Unmarshal(data, &raw); err != nil {
		t.Fatalf("unmarshal raw: %v", err)
	}
	for _, k := range []string{"amount", "error_kind", "error_message"} {
		if _, ok := raw[k]; ok {
			t.Fatalf("expected %s to be omitted", k)
		}
	}
}

func TestNewEvent(t *testing.T) {
	t.Parallel()

	at := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	ev := NewEvent(Payment{
		TransactionID: "TXN-1",
		CardNumber:    "************0366",
		Status:        StatusDeclined,
		Amount:        decimal.RequireFromString("5.00"),
		ErrorMessage:  "insufficient funds",
		UpdatedAt:     at,
	})

	if ev.Type != "payment.declined" {
		t.Fatalf("expected payment.declined, got %q", ev.Type)
	}
	if ev.CardLastFour != "0366" || ev.Reason != "insufficient funds" || !ev.OccurredAt.Equal(at) {
		t.Fatalf("unexpected event %+v", ev)
	}
}
