// Package settlement drives a payment request from validation to a recorded
// terminal status.
//
// Process never returns an error: every failure becomes a model.Outcome with
// a classified ErrorKind. The gateway is invoked at most once per request and
// every status write is conditional on the record still being PENDING.
package settlement

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/iliamunaev/card-settlement/internal/apperr"
	"github.com/iliamunaev/card-settlement/internal/events"
	"github.com/iliamunaev/card-settlement/internal/metrics"
	"github.com/iliamunaev/card-settlement/internal/model"
	"github.com/iliamunaev/card-settlement/internal/service/gateway"
	"github.com/iliamunaev/card-settlement/internal/service/tracker"
	"github.com/iliamunaev/card-settlement/internal/service/txid"
	"github.com/iliamunaev/card-settlement/internal/service/validator"
	"github.com/iliamunaev/card-settlement/internal/store"
)

// Outcome messages.
const (
	MessageCompleted  = "Payment processed successfully"
	MessageDeclined   = "Payment declined"
	MessageFailed     = "Payment processing failed"
	ReasonInterrupted = "payment processing interrupted"
)

const defaultWriteTimeout = 2 * time.Second

// Authorizer submits a charge to the payment gateway.
type Authorizer interface {
	Authorize(ctx context.Context, c gateway.Charge) (gateway.Decision, error)
}

// Deps are the collaborators of an Orchestrator. Store and Gateway are
// required; everything else has a default.
type Deps struct {
	Store     store.Store
	Gateway   Authorizer
	Validator *validator.Validator
	IDs       *txid.Generator
	Publisher events.Publisher
	Metrics   *metrics.Collector
	Tracker   *tracker.Tracker
	Logger    *slog.Logger
	Now       func() time.Time

	// WriteTimeout bounds status writes and event delivery that run on a
	// context detached from the caller.
	WriteTimeout time.Duration
}

// Orchestrator processes payment requests.
type Orchestrator struct {
	store        store.Store
	gateway      Authorizer
	validator    *validator.Validator
	ids          *txid.Generator
	publisher    events.Publisher
	metrics      *metrics.Collector
	tracker      *tracker.Tracker
	logger       *slog.Logger
	now          func() time.Time
	writeTimeout time.Duration
}

// New creates an Orchestrator. It panics if a required dependency is nil.
func New(d Deps) *Orchestrator {
	if d.Store == nil {
		panic("settlement.New: nil store")
	}
	if d.Gateway == nil {
		panic("settlement.New: nil gateway")
	}
	if d.Now == nil {
		d.Now = time.Now
	}
	if d.Validator == nil {
		d.Validator = validator.New(d.Now)
	}
	if d.IDs == nil {
		d.IDs = txid.New(d.Now)
	}
	if d.Publisher == nil {
		d.Publisher = events.Nop{}
	}
	if d.Tracker == nil {
		d.Tracker = &tracker.Tracker{}
	}
	if d.Logger == nil {
		d.Logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	if d.WriteTimeout <= 0 {
		d.WriteTimeout = defaultWriteTimeout
	}
	return &Orchestrator{
		store:        d.Store,
		gateway:      d.Gateway,
		validator:    d.Validator,
		ids:          d.IDs,
		publisher:    d.Publisher,
		metrics:      d.Metrics,
		tracker:      d.Tracker,
		logger:       d.Logger,
		now:          d.Now,
		writeTimeout: d.WriteTimeout,
	}
}

// Tracker returns the in-flight request tracker.
func (o *Orchestrator) Tracker() *tracker.Tracker { return o.tracker }

// Process validates req, records it, asks the gateway once and records the
// answer. The returned outcome always carries a transaction ID.
func (o *Orchestrator) Process(ctx context.Context, req model.PaymentRequest) (out model.Outcome) {
	start := time.Now()
	done := o.tracker.Start()

	transactionID := o.ids.NewID()
	log := o.logger.With("transaction_id", transactionID)

	// pending is set once a PENDING record exists, so a panic can still
	// close it.
	var pending *model.Payment

	defer func() {
		if r := recover(); r != nil {
			msg := fmt.Sprint(r)
			log.Error("payment processing panicked", "panic", msg)
			if pending != nil {
				o.abandon(ctx, *pending, msg, log)
			}
			out = o.failed(transactionID, amountOf(pending), apperr.KindInternal, msg)
		}
		done()
		o.metrics.RecordPayment(string(out.Status), out.ErrorKind, time.Since(start))
	}()

	if err := o.validator.Validate(req); err != nil {
		var ve apperr.ValidationError
		if errors.As(err, &ve) {
			log.Info("payment rejected", "field", ve.Field, "reason", ve.Reason)
		}
		return o.failed(transactionID, nil, apperr.KindValidation, err.Error())
	}

	card := validator.NormalizeCardNumber(req.CardNumber)
	amount := req.Amount.Decimal
	now := o.now()
	record := model.Payment{
		CardholderName: strings.TrimSpace(req.CardholderName),
		CardNumber:     model.MaskCardNumber(card),
		ExpiryDate:     req.ExpiryDate,
		CVV:            model.CVVPlaceholder,
		Amount:         amount,
		Status:         model.StatusPending,
		TransactionID:  transactionID,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	log = log.With("card", record.CardNumber, "amount", amount.StringFixed(2))

	created, err := o.store.Create(ctx, record)
	if err != nil {
		log.Error("create pending payment", "err", err)
		return o.failed(transactionID, &amount, writeKind(err), apperr.ErrPersistence.Error())
	}
	pending = &created
	log.Info("payment pending", "payment_id", created.ID)

	decision, err := o.gateway.Authorize(ctx, gateway.Charge{
		TransactionID: transactionID,
		CardNumber:    card,
		Amount:        amount,
	})
	if err != nil {
		kind := apperr.Kind(err)
		log.Warn("gateway call interrupted", "err", err)
		failedRec, werr := o.record(ctx, created, model.StatusFailed, ReasonInterrupted, log)
		pending = nil
		if werr != nil {
			kind = apperr.KindPersistence
		} else {
			o.publish(ctx, failedRec, log)
		}
		return o.failed(transactionID, &amount, kind, ReasonInterrupted)
	}
	o.metrics.RecordDecision(decision.Result.String())

	to := statusFor(decision.Result)
	final, werr := o.record(ctx, created, to, decision.Reason, log)
	pending = nil
	if werr != nil {
		return o.failed(transactionID, &amount, apperr.KindPersistence, apperr.ErrPersistence.Error())
	}
	o.publish(ctx, final, log)

	log.Info("payment settled", "status", final.Status, "result", decision.Result.String())
	return outcomeFor(final, decision)
}

// detached returns a context that survives the caller's cancellation,
// bounded by the write timeout.
func (o *Orchestrator) detached(parent context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.WithoutCancel(parent), o.writeTimeout)
}

// record moves p from PENDING to status on a detached context.
func (o *Orchestrator) record(parent context.Context, p model.Payment, to model.Status, reason string, log *slog.Logger) (model.Payment, error) {
	ctx, cancel := o.detached(parent)
	defer cancel()

	next, err := p.Transition(to, reason, o.now())
	if err != nil {
		log.Error("illegal status transition", "err", err)
		return p, err
	}
	if err := o.store.Update(ctx, next, model.StatusPending); err != nil {
		log.Error("record terminal status", "status", to, "err", err)
		return p, err
	}
	return next, nil
}

// abandon fails a PENDING record left behind by a panic. A second panic
// raised while doing so is logged and dropped.
func (o *Orchestrator) abandon(parent context.Context, p model.Payment, reason string, log *slog.Logger) {
	defer func() {
		if r := recover(); r != nil {
			log.Error("fail pending payment after panic", "panic", fmt.Sprint(r))
		}
	}()
	if next, err := o.record(parent, p, model.StatusFailed, reason, log); err == nil {
		o.publish(parent, next, log)
	}
}

// publish delivers the lifecycle event of a recorded payment. Delivery
// failures, panics included, never reach the caller.
func (o *Orchestrator) publish(parent context.Context, p model.Payment, log *slog.Logger) {
	ctx, cancel := o.detached(parent)
	defer cancel()

	ev := model.NewEvent(p)
	defer func() {
		if r := recover(); r != nil {
			o.metrics.RecordPublishError()
			log.Error("publish payment event panicked", "type", ev.Type, "panic", fmt.Sprint(r))
		}
	}()
	if err := o.publisher.Publish(ctx, ev); err != nil {
		o.metrics.RecordPublishError()
		log.Warn("publish payment event", "type", ev.Type, "err", err)
	}
}

func (o *Orchestrator) failed(transactionID string, amount *decimal.Decimal, kind, msg string) model.Outcome {
	return model.Outcome{
		TransactionID: transactionID,
		Status:        model.StatusFailed,
		Message:       MessageFailed,
		Amount:        amount,
		ErrorKind:     kind,
		ErrorMessage:  msg,
		ProcessedAt:   o.now(),
	}
}

func statusFor(r gateway.Result) model.Status {
	switch r {
	case gateway.Approved:
		return model.StatusCompleted
	case gateway.Declined:
		return model.StatusDeclined
	default:
		return model.StatusFailed
	}
}

func outcomeFor(p model.Payment, d gateway.Decision) model.Outcome {
	amount := p.Amount
	out := model.Outcome{
		TransactionID: p.TransactionID,
		Status:        p.Status,
		Amount:        &amount,
		ProcessedAt:   p.UpdatedAt,
	}
	switch p.Status {
	case model.StatusCompleted:
		out.Message = MessageCompleted
	case model.StatusDeclined:
		out.Message = MessageDeclined
		out.ErrorKind = apperr.KindDeclined
		out.ErrorMessage = d.Reason
	default:
		out.Message = MessageFailed
		out.ErrorKind = apperr.Kind(d.Err())
		out.ErrorMessage = d.Reason
	}
	return out
}

// writeKind classifies a failed write. The caller's deadline or
// cancellation keeps its own kind; anything else is a persistence error.
func writeKind(err error) string {
	switch k := apperr.Kind(err); k {
	case apperr.KindTimeout, apperr.KindCanceled:
		return k
	default:
		return apperr.KindPersistence
	}
}

func amountOf(p *model.Payment) *decimal.Decimal {
	if p == nil {
		return nil
	}
	a := p.Amount
	return &a
}
