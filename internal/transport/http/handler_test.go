package httptransport

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"

	"github.com/iliamunaev/card-settlement/internal/apperr"
	"github.com/iliamunaev/card-settlement/internal/model"
	"github.com/iliamunaev/card-settlement/internal/payments"
	"github.com/iliamunaev/card-settlement/internal/service/gateway"
	"github.com/iliamunaev/card-settlement/internal/settlement"
	"github.com/iliamunaev/card-settlement/internal/store"
)

// --- stubs for unit tests ---

type stubProcessor struct {
	out    model.Outcome
	gotReq model.PaymentRequest
	called bool
}

func (s *stubProcessor) Process(_ context.Context, req model.PaymentRequest) model.Outcome {
	s.called = true
	s.gotReq = req
	return s.out
}

// stubQueries embeds the real service so unit tests only override what
// they exercise.
type stubQueries struct {
	*payments.Service
	readyErr error
}

func (s stubQueries) Ready(ctx context.Context) error {
	if s.readyErr != nil {
		return s.readyErr
	}
	return s.Service.Ready(ctx)
}

func newRouter(h *Handler) http.Handler {
	r := chi.NewRouter()
	h.Routes(r)
	return r
}

func serve(t *testing.T, h http.Handler, method, target string, body []byte) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, target, bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	return w
}

func decode[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	t.Helper()
	var out T
	if err := json.NewDecoder(w.Body).Decode(&out); err != nil {
		t.Fatalf("decode response: %v (body %q)", err, w.Body.String())
	}
	return out
}

const janeDoeJSON = `{
	"cardholder_name": "Jane Doe",
	"card_number": "4532015112830366",
	"expiry_date": "12/28",
	"cvv": "123",
	"amount": 19.98,
	"order_items": [{"product_name": "widget", "quantity": 2, "price": 9.99}]
}`

// --- unit tests (stub-based) ---

func TestHandleProcessBadRequests(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name       string
		method     string
		body       string
		wantStatus int
	}{
		{name: "method_not_allowed", method: http.MethodPut, wantStatus: http.StatusMethodNotAllowed},
		{name: "invalid_json", method: http.MethodPost, body: `{"cardholder_name":`, wantStatus: http.StatusBadRequest},
		{name: "unknown_field", method: http.MethodPost, body: `{"cardholder":"Jane"}`, wantStatus: http.StatusBadRequest},
		{name: "trailing_value", method: http.MethodPost, body: `{} {}`, wantStatus: http.StatusBadRequest},
		{name: "amount_not_a_number", method: http.MethodPost, body: `{"amount":"lots"}`, wantStatus: http.StatusBadRequest},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			proc := &stubProcessor{}
			h := newRouter(New(proc, stubQueries{Service: payments.New(store.NewMemory(), nil, nil)}, time.Second))

			w := serve(t, h, tt.method, "/api/payments/process", []byte(tt.body))
			if w.Code != tt.wantStatus {
				t.Fatalf("expected %d, got %d", tt.wantStatus, w.Code)
			}
			if proc.called {
				t.Fatal("processor called for a malformed request")
			}
			if tt.wantStatus != http.StatusBadRequest {
				return
			}
			out := decode[model.ErrorPayload](t, w)
			if out.Kind != kindBadRequest {
				t.Fatalf("expected kind=%s, got %+v", kindBadRequest, out)
			}
		})
	}
}

func TestHandleProcess_OutcomeStatusCodes(t *testing.T) {
	t.Parallel()

	tests := []struct {
		kind   string
		status model.Status
		want   int
	}{
		{"", model.StatusCompleted, http.StatusOK},
		{apperr.KindValidation, model.StatusFailed, http.StatusBadRequest},
		{apperr.KindDeclined, model.StatusDeclined, http.StatusPaymentRequired},
		{apperr.KindGateway, model.StatusFailed, http.StatusBadGateway},
		{apperr.KindPersistence, model.StatusFailed, http.StatusServiceUnavailable},
		{apperr.KindTimeout, model.StatusFailed, http.StatusGatewayTimeout},
		{apperr.KindCanceled, model.StatusFailed, http.StatusRequestTimeout},
		{apperr.KindInternal, model.StatusFailed, http.StatusInternalServerError},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(fmt.Sprintf("kind_%q", tt.kind), func(t *testing.T) {
			t.Parallel()

			proc := &stubProcessor{out: model.Outcome{TransactionID: "TXN-1", Status: tt.status, ErrorKind: tt.kind}}
			h := newRouter(New(proc, stubQueries{Service: payments.New(store.NewMemory(), nil, nil)}, time.Second))

			w := serve(t, h, http.MethodPost, "/api/payments/process", []byte(janeDoeJSON))
			if w.Code != tt.want {
				t.Fatalf("expected %d, got %d", tt.want, w.Code)
			}
			out := decode[model.Outcome](t, w)
			if out.TransactionID != "TXN-1" || out.ErrorKind != tt.kind {
				t.Fatalf("unexpected outcome %+v", out)
			}
		})
	}
}

func TestHandleProcess_DecodesRequest(t *testing.T) {
	t.Parallel()

	proc := &stubProcessor{out: model.Outcome{Status: model.StatusCompleted}}
	h := newRouter(New(proc, stubQueries{Service: payments.New(store.NewMemory(), nil, nil)}, time.Second))

	w := serve(t, h, http.MethodPost, "/api/payments/process", []byte(janeDoeJSON))
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	got := proc.gotReq
	if got.CardholderName != "Jane Doe" || got.CVV != "123" || len(got.OrderItems) != 1 {
		t.Fatalf("request not decoded: %+v", got)
	}
	if !got.Amount.Valid || !got.Amount.Decimal.Equal(decimal.RequireFromString("19.98")) {
		t.Fatalf("amount not decoded exactly: %+v", got.Amount)
	}
	if !got.OrderItems[0].Price.Equal(decimal.RequireFromString("9.99")) {
		t.Fatalf("price not decoded exactly: %s", got.OrderItems[0].Price)
	}
}

func TestNew_NilDepsPanic(t *testing.T) {
	t.Parallel()

	defer func() {
		if r := recover(); r == nil {
			t.Fatal("expected panic for nil processor")
		}
	}()
	New(nil, nil, time.Second)
}

func TestNew_DefaultTimeout(t *testing.T) {
	t.Parallel()

	h := New(&stubProcessor{}, stubQueries{}, 0)
	if h.requestTimeout != 10*time.Second {
		t.Fatalf("expected default timeout 10s, got %v", h.requestTimeout)
	}
}

func TestHandleHealth(t *testing.T) {
	t.Parallel()

	svc := payments.New(store.NewMemory(), nil, nil)

	up := newRouter(New(&stubProcessor{}, stubQueries{Service: svc}, time.Second))
	if w := serve(t, up, http.MethodGet, "/health", nil); w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}

	readyErr := fmt.Errorf("store unreachable: %w: dial tcp 10.1.2.3:6379: connect: connection refused", apperr.ErrPersistence)
	down := newRouter(New(&stubProcessor{}, stubQueries{Service: svc, readyErr: readyErr}, time.Second))
	w := serve(t, down, http.MethodGet, "/health", nil)
	if w.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503, got %d", w.Code)
	}
	if body := decode[map[string]string](t, w); body["status"] != "DOWN" || body["error"] != "store unavailable" {
		t.Fatalf("unexpected body %v", body)
	}
	if strings.Contains(w.Body.String(), "10.1.2.3") {
		t.Fatalf("backend address leaked: %s", w.Body.String())
	}
}

// --- error classification tests ---

func TestHTTPStatus(t *testing.T) {
	t.Parallel()

	wrapped := fmt.Errorf("wrapped: %w", apperr.ErrNotFound)

	tests := []struct {
		name string
		err  error
		want int
	}{
		{name: "nil", err: nil, want: http.StatusOK},
		{name: "validation", err: apperr.ValidationError{Field: "cvv", Reason: "CVV is required"}, want: http.StatusBadRequest},
		{name: "declined", err: apperr.ErrDeclined, want: http.StatusPaymentRequired},
		{name: "gateway", err: apperr.ErrGatewayUnavailable, want: http.StatusBadGateway},
		{name: "persistence", err: apperr.ErrPersistence, want: http.StatusServiceUnavailable},
		{name: "not_found_wrapped", err: wrapped, want: http.StatusNotFound},
		{name: "invalid_transition", err: apperr.ErrInvalidTransition, want: http.StatusConflict},
		{name: "conflict", err: apperr.ErrConflict, want: http.StatusConflict},
		{name: "duplicate", err: apperr.ErrDuplicateTransaction, want: http.StatusConflict},
		{name: "deadline", err: context.DeadlineExceeded, want: http.StatusGatewayTimeout},
		{name: "canceled", err: context.Canceled, want: http.StatusRequestTimeout},
		{name: "unknown", err: errors.New("unknown"), want: http.StatusInternalServerError},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			if got := httpStatus(tt.err); got != tt.want {
				t.Fatalf("expected %d, got %d", tt.want, got)
			}
		})
	}
}

func TestParseFilter(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		query   string
		wantErr bool
		check   func(t *testing.T, f store.Filter)
	}{
		{
			name:  "empty",
			query: "",
			check: func(t *testing.T, f store.Filter) {
				if len(f.Statuses) != 0 || !f.From.IsZero() || f.MinAmount.Valid || f.Limit != 0 {
					t.Fatalf("expected zero filter, got %+v", f)
				}
			},
		},
		{
			name:  "all_fields",
			query: "status=completed,declined&status=FAILED&from=2026-10-01T00:00:00Z&to=2026-10-31T23:59:59Z&min_amount=10&max_amount=99.99&cardholder=%20doe%20&last4=0366&limit=5",
			check: func(t *testing.T, f store.Filter) {
				if len(f.Statuses) != 3 || f.Statuses[0] != model.StatusCompleted || f.Statuses[2] != model.StatusFailed {
					t.Fatalf("unexpected statuses %v", f.Statuses)
				}
				if f.From.Day() != 1 || f.To.Day() != 31 {
					t.Fatalf("unexpected range %v..%v", f.From, f.To)
				}
				if !f.MaxAmount.Decimal.Equal(decimal.RequireFromString("99.99")) {
					t.Fatalf("unexpected max %v", f.MaxAmount)
				}
				if f.CardholderContains != "doe" || f.CardLastFour != "0366" || f.Limit != 5 {
					t.Fatalf("unexpected filter %+v", f)
				}
			},
		},
		{name: "bad_status", query: "status=SETTLED", wantErr: true},
		{name: "bad_time", query: "from=yesterday", wantErr: true},
		{name: "inverted_range", query: "from=2026-10-31T00:00:00Z&to=2026-10-01T00:00:00Z", wantErr: true},
		{name: "bad_amount", query: "min_amount=ten", wantErr: true},
		{name: "bad_last4", query: "last4=12a4", wantErr: true},
		{name: "bad_limit", query: "limit=0", wantErr: true},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			q, err := url.ParseQuery(tt.query)
			if err != nil {
				t.Fatalf("parse query: %v", err)
			}
			f, err := parseFilter(q)
			if tt.wantErr {
				if err == nil {
					t.Fatalf("expected error, got %+v", f)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			tt.check(t, f)
		})
	}
}

// --- integration tests (real services) ---

// newIntegrationRouter wires the real orchestrator and query service over a
// memory store with an instant gateway.
func newIntegrationRouter(policy gateway.Policy) (http.Handler, *store.Memory, *settlement.Orchestrator) {
	st := store.NewMemory()
	orch := settlement.New(settlement.Deps{
		Store:   st,
		Gateway: gateway.New(policy, gateway.NewRand(5), nil),
	})
	h := New(orch, payments.New(st, nil, nil), 2*time.Second)
	return newRouter(h), st, orch
}

func quietPolicy() gateway.Policy {
	p := gateway.DefaultPolicy()
	p.MinDelay, p.MaxDelay = 0, 0
	p.TransientErrorRate = 0
	p.HighAmountDeclineRate = 0
	p.BankDeclineRate = 0
	p.InsufficientFundsRate = 0
	return p
}

func TestPayments_EndToEnd(t *testing.T) {
	t.Parallel()

	h, _, _ := newIntegrationRouter(quietPolicy())

	w := serve(t, h, http.MethodPost, "/api/payments/process", []byte(janeDoeJSON))
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}
	out := decode[model.Outcome](t, w)
	if out.Status != model.StatusCompleted || out.Message != settlement.MessageCompleted {
		t.Fatalf("unexpected outcome %+v", out)
	}

	w = serve(t, h, http.MethodGet, "/api/payments/transaction/"+out.TransactionID, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("lookup: expected 200, got %d", w.Code)
	}
	p := decode[model.Payment](t, w)
	if p.CardNumber != "************0366" || p.CVV != "***" {
		t.Fatalf("card data not masked: %+v", p)
	}
	if strings.Contains(w.Body.String(), "4532015112830366") {
		t.Fatal("full card number leaked")
	}

	w = serve(t, h, http.MethodGet, fmt.Sprintf("/api/payments/%d", p.ID), nil)
	if w.Code != http.StatusOK {
		t.Fatalf("get by id: expected 200, got %d", w.Code)
	}

	w = serve(t, h, http.MethodGet, "/api/payments/successful", nil)
	if got := decode[[]model.Payment](t, w); len(got) != 1 {
		t.Fatalf("expected one successful payment, got %d", len(got))
	}

	w = serve(t, h, http.MethodGet, "/api/payments/stats", nil)
	stats := decode[model.Stats](t, w)
	if stats.TotalCompleted != 1 || !stats.TotalAmount.Equal(decimal.RequireFromString("19.98")) {
		t.Fatalf("unexpected stats %+v", stats)
	}

	// Settled payments cannot be cancelled.
	w = serve(t, h, http.MethodPost, "/api/payments/transaction/"+out.TransactionID+"/cancel", nil)
	if w.Code != http.StatusConflict {
		t.Fatalf("cancel settled: expected 409, got %d", w.Code)
	}
}

func TestPayments_ValidationFailure(t *testing.T) {
	t.Parallel()

	h, st, _ := newIntegrationRouter(quietPolicy())

	body := strings.Replace(janeDoeJSON, `"amount": 19.98`, `"amount": 20.00`, 1)
	w := serve(t, h, http.MethodPost, "/api/payments/process", []byte(body))
	if w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", w.Code)
	}
	out := decode[model.Outcome](t, w)
	if out.ErrorKind != apperr.KindValidation || out.ErrorMessage != "Total amount does not match order items total" {
		t.Fatalf("unexpected outcome %+v", out)
	}

	all, err := st.List(context.Background(), store.Filter{})
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(all) != 0 {
		t.Fatalf("expected nothing stored, got %d", len(all))
	}
}

func TestPayments_DeclineCard(t *testing.T) {
	t.Parallel()

	h, _, _ := newIntegrationRouter(quietPolicy())

	body := strings.Replace(janeDoeJSON, "4532015112830366", "4000000000020000", 1)
	w := serve(t, h, http.MethodPost, "/api/payments/process", []byte(body))
	if w.Code != http.StatusPaymentRequired {
		t.Fatalf("expected 402, got %d", w.Code)
	}
	out := decode[model.Outcome](t, w)
	if out.Status != model.StatusDeclined || out.ErrorMessage != gateway.ReasonTestCardDecline {
		t.Fatalf("unexpected outcome %+v", out)
	}

	w = serve(t, h, http.MethodGet, "/api/payments/failed", nil)
	if got := decode[[]model.Payment](t, w); len(got) != 1 || got[0].Status != model.StatusDeclined {
		t.Fatalf("expected the declined payment, got %+v", got)
	}
	w = serve(t, h, http.MethodGet, "/api/payments/status/declined", nil)
	if got := decode[[]model.Payment](t, w); len(got) != 1 {
		t.Fatalf("expected one declined payment, got %d", len(got))
	}
}

func TestPayments_QueryErrors(t *testing.T) {
	t.Parallel()

	h, _, _ := newIntegrationRouter(quietPolicy())

	tests := []struct {
		name   string
		method string
		target string
		want   int
	}{
		{"unknown_id", http.MethodGet, "/api/payments/42", http.StatusNotFound},
		{"bad_id", http.MethodGet, "/api/payments/abc", http.StatusBadRequest},
		{"unknown_transaction", http.MethodGet, "/api/payments/transaction/TXN-0-000000000000", http.StatusNotFound},
		{"unknown_status", http.MethodGet, "/api/payments/status/settled", http.StatusBadRequest},
		{"bad_recent_limit", http.MethodGet, "/api/payments/recent?limit=-1", http.StatusBadRequest},
		{"bad_list_filter", http.MethodGet, "/api/payments?last4=abcd", http.StatusBadRequest},
		{"cancel_unknown", http.MethodPost, "/api/payments/transaction/TXN-0-000000000000/cancel", http.StatusNotFound},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			if w := serve(t, h, tt.method, tt.target, nil); w.Code != tt.want {
				t.Fatalf("expected %d, got %d: %s", tt.want, w.Code, w.Body.String())
			}
		})
	}
}

func TestPayments_CancelPending(t *testing.T) {
	t.Parallel()

	st := store.NewMemory()
	at := time.Date(2026, 10, 16, 12, 0, 0, 0, time.UTC)
	if _, err := st.Create(context.Background(), model.Payment{
		CardholderName: "Jane Doe",
		CardNumber:     "************0366",
		Amount:         decimal.RequireFromString("19.98"),
		Status:         model.StatusPending,
		TransactionID:  "TXN-1",
		CreatedAt:      at,
		UpdatedAt:      at,
	}); err != nil {
		t.Fatalf("seed: %v", err)
	}
	h := newRouter(New(&stubProcessor{}, payments.New(st, nil, nil), time.Second))

	w := serve(t, h, http.MethodPost, "/api/payments/transaction/TXN-1/cancel", []byte(`{"reason":"customer request"}`))
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}
	p := decode[model.Payment](t, w)
	if p.Status != model.StatusCancelled || p.ErrorMessage != "customer request" {
		t.Fatalf("unexpected payment %+v", p)
	}

	w = serve(t, h, http.MethodGet, "/api/payments?status=CANCELLED", nil)
	if got := decode[[]model.Payment](t, w); len(got) != 1 {
		t.Fatalf("expected one cancelled payment, got %d", len(got))
	}
}

func TestHandler_Stress(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping stress test in short mode")
	}

	p := gateway.DefaultPolicy()
	p.MinDelay, p.MaxDelay = 0, time.Millisecond
	h, st, orch := newIntegrationRouter(p)

	const workers = 20
	const iterations = 25

	var wg sync.WaitGroup
	errCh := make(chan error, workers*iterations)

	for w := 0; w < workers; w++ {
		wg.Go(func() {
			for i := 0; i < iterations; i++ {
				rec := httptest.NewRecorder()
				req := httptest.NewRequest(http.MethodPost, "/api/payments/process", strings.NewReader(janeDoeJSON))
				h.ServeHTTP(rec, req)

				switch rec.Code {
				case http.StatusOK, http.StatusPaymentRequired, http.StatusBadGateway:
				default:
					errCh <- fmt.Errorf("unexpected status %d: %s", rec.Code, rec.Body.String())
				}
			}
		})
	}
	wg.Wait()
	close(errCh)

	for err := range errCh {
		t.Error(err)
	}

	all, err := st.List(context.Background(), store.Filter{})
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(all) != workers*iterations {
		t.Fatalf("expected %d records, got %d", workers*iterations, len(all))
	}
	for _, rec := range all {
		if !rec.Status.Terminal() {
			t.Fatalf("record %s left in %s", rec.TransactionID, rec.Status)
		}
	}
	if orch.Tracker().Running() != 0 {
		t.Fatalf("expected no payments in flight, got %d", orch.Tracker().Running())
	}
}
