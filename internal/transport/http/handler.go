// Package httptransport implements the HTTP transport layer
// for payment processing and payment queries.
package httptransport

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/iliamunaev/card-settlement/internal/apperr"
	"github.com/iliamunaev/card-settlement/internal/model"
	"github.com/iliamunaev/card-settlement/internal/store"
)

// maxBodyBytes caps request bodies.
const maxBodyBytes = 1 << 20

type paymentProcessor interface {
	Process(ctx context.Context, req model.PaymentRequest) model.Outcome
}

type paymentQueries interface {
	Get(ctx context.Context, id int64) (model.Payment, error)
	ByTransactionID(ctx context.Context, transactionID string) (model.Payment, error)
	List(ctx context.Context, f store.Filter) ([]model.Payment, error)
	ByStatus(ctx context.Context, status model.Status) ([]model.Payment, error)
	Successful(ctx context.Context) ([]model.Payment, error)
	Failed(ctx context.Context) ([]model.Payment, error)
	Recent(ctx context.Context, n int) ([]model.Payment, error)
	Stats(ctx context.Context) (model.Stats, error)
	Cancel(ctx context.Context, transactionID, reason string) (model.Payment, error)
	Ready(ctx context.Context) error
}

// Handler handles HTTP requests to the payment service.
type Handler struct {
	processor      paymentProcessor
	payments       paymentQueries
	requestTimeout time.Duration
}

// New returns a Handler configured with the given processor, query service
// and request timeout.
//
// It panics if processor or payments is nil. If requestTimeout is
// non-positive, a default timeout is applied.
func New(processor paymentProcessor, payments paymentQueries, requestTimeout time.Duration) *Handler {
	if processor == nil {
		panic("handler.New: nil payment processor")
	}
	if payments == nil {
		panic("handler.New: nil payment queries")
	}
	if requestTimeout <= 0 {
		requestTimeout = 10 * time.Second
	}
	return &Handler{
		processor:      processor,
		payments:       payments,
		requestTimeout: requestTimeout,
	}
}

// Routes registers every endpoint on r.
func (h *Handler) Routes(r chi.Router) {
	r.Get("/health", h.HandleHealth)

	r.Route("/api/payments", func(r chi.Router) {
		r.Post("/process", h.HandleProcess)
		r.Get("/", h.HandleList)
		r.Get("/successful", h.HandleSuccessful)
		r.Get("/failed", h.HandleFailed)
		r.Get("/recent", h.HandleRecent)
		r.Get("/stats", h.HandleStats)
		r.Get("/status/{status}", h.HandleByStatus)
		r.Get("/transaction/{transactionID}", h.HandleByTransactionID)
		r.Post("/transaction/{transactionID}/cancel", h.HandleCancel)
		r.Get("/{id}", h.HandleGet)
	})
}

// HandleProcess processes a payment request.
//
// The body must be a single JSON PaymentRequest without unknown fields.
// Processing runs with a per-request timeout and the response is always
// the Outcome, with the status code derived from its error kind.
func (h *Handler) HandleProcess(w http.ResponseWriter, r *http.Request) {
	var req model.PaymentRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, kindBadRequest, "invalid JSON")
		return
	}

	// Set a deadline for the whole settlement
	ctx, cancel := context.WithTimeout(r.Context(), h.requestTimeout)
	defer cancel()

	out := h.processor.Process(ctx, req)
	writeJSON(w, statusForKind(out.ErrorKind), out)
}

type cancelRequest struct {
	Reason string `json:"reason"`
}

// HandleCancel cancels a payment that is still PENDING. The body is
// optional.
func (h *Handler) HandleCancel(w http.ResponseWriter, r *http.Request) {
	var req cancelRequest
	if r.ContentLength != 0 {
		if err := decodeJSON(w, r, &req); err != nil && !errors.Is(err, io.EOF) {
			writeError(w, kindBadRequest, "invalid JSON")
			return
		}
	}
	p, err := h.payments.Cancel(r.Context(), chi.URLParam(r, "transactionID"), req.Reason)
	if err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, p)
}

// HandleHealth reports liveness and store reachability. The cause of a
// failed check is not echoed.
func (h *Handler) HandleHealth(w http.ResponseWriter, r *http.Request) {
	if err := h.payments.Ready(r.Context()); err != nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "DOWN", "error": "store unavailable"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "UP"})
}

func (h *Handler) HandleGet(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil || id <= 0 {
		writeError(w, kindBadRequest, "id must be a positive integer")
		return
	}
	p, err := h.payments.Get(r.Context(), id)
	respond(w, p, err)
}

func (h *Handler) HandleByTransactionID(w http.ResponseWriter, r *http.Request) {
	p, err := h.payments.ByTransactionID(r.Context(), chi.URLParam(r, "transactionID"))
	respond(w, p, err)
}

func (h *Handler) HandleByStatus(w http.ResponseWriter, r *http.Request) {
	status, err := model.ParseStatus(chi.URLParam(r, "status"))
	if err != nil {
		writeError(w, kindBadRequest, err.Error())
		return
	}
	ps, err := h.payments.ByStatus(r.Context(), status)
	respond(w, ps, err)
}

func (h *Handler) HandleSuccessful(w http.ResponseWriter, r *http.Request) {
	ps, err := h.payments.Successful(r.Context())
	respond(w, ps, err)
}

func (h *Handler) HandleFailed(w http.ResponseWriter, r *http.Request) {
	ps, err := h.payments.Failed(r.Context())
	respond(w, ps, err)
}

func (h *Handler) HandleRecent(w http.ResponseWriter, r *http.Request) {
	n := 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		v, err := strconv.Atoi(raw)
		if err != nil || v < 1 {
			writeError(w, kindBadRequest, "limit must be a positive integer")
			return
		}
		n = v
	}
	ps, err := h.payments.Recent(r.Context(), n)
	respond(w, ps, err)
}

func (h *Handler) HandleStats(w http.ResponseWriter, r *http.Request) {
	st, err := h.payments.Stats(r.Context())
	respond(w, st, err)
}

func (h *Handler) HandleList(w http.ResponseWriter, r *http.Request) {
	f, err := parseFilter(r.URL.Query())
	if err != nil {
		writeError(w, kindBadRequest, err.Error())
		return
	}
	ps, err := h.payments.List(r.Context(), f)
	respond(w, ps, err)
}

// decodeJSON decodes exactly one JSON value from the body into v.
func decodeJSON(w http.ResponseWriter, r *http.Request, v any) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return err
	}
	if err := dec.Decode(&struct{}{}); err != io.EOF {
		return errors.New("trailing data after JSON value")
	}
	return nil
}

func respond(w http.ResponseWriter, v any, err error) {
	if err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, v)
}

// writeErr writes a classified error. Internal errors are not echoed.
func writeErr(w http.ResponseWriter, err error) {
	kind := apperr.Kind(err)
	msg := err.Error()
	if kind == apperr.KindInternal || kind == apperr.KindPersistence {
		msg = http.StatusText(httpStatus(err))
	}
	writeError(w, kind, msg)
}

func writeError(w http.ResponseWriter, kind, msg string) {
	writeJSON(w, statusForKind(kind), model.ErrorPayload{Kind: kind, Message: msg})
}

// writeJSON writes v as a JSON response with the given status code.
// The Content-Type is set to application/json.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
