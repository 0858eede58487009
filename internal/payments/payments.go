// Package payments answers queries over recorded payments and handles the
// administrative cancellation of payments still awaiting a gateway answer.
package payments

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/shopspring/decimal"

	"github.com/iliamunaev/card-settlement/internal/apperr"
	"github.com/iliamunaev/card-settlement/internal/events"
	"github.com/iliamunaev/card-settlement/internal/model"
	"github.com/iliamunaev/card-settlement/internal/store"
)

// DefaultRecent is the number of payments Recent returns when asked for none.
const DefaultRecent = 10

// ReasonCancelled is recorded when Cancel is called without a reason.
const ReasonCancelled = "cancelled by operator"

// Service reads and administers payment records.
type Service struct {
	store     store.Store
	publisher events.Publisher
	logger    *slog.Logger
	now       func() time.Time
}

// New creates a Service. It panics on a nil store.
func New(st store.Store, pub events.Publisher, logger *slog.Logger) *Service {
	if st == nil {
		panic("payments.New: nil store")
	}
	if pub == nil {
		pub = events.Nop{}
	}
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Service{store: st, publisher: pub, logger: logger, now: time.Now}
}

func (s *Service) Get(ctx context.Context, id int64) (model.Payment, error) {
	return s.store.Get(ctx, id)
}

func (s *Service) ByTransactionID(ctx context.Context, transactionID string) (model.Payment, error) {
	return s.store.FindByTransactionID(ctx, transactionID)
}

func (s *Service) List(ctx context.Context, f store.Filter) ([]model.Payment, error) {
	return s.store.List(ctx, f)
}

func (s *Service) ByStatus(ctx context.Context, status model.Status) ([]model.Payment, error) {
	return s.store.List(ctx, store.Filter{Statuses: []model.Status{status}})
}

// Successful returns completed payments.
func (s *Service) Successful(ctx context.Context) ([]model.Payment, error) {
	return s.ByStatus(ctx, model.StatusCompleted)
}

// Failed returns payments that failed or were declined.
func (s *Service) Failed(ctx context.Context) ([]model.Payment, error) {
	return s.store.List(ctx, store.Filter{Statuses: []model.Status{model.StatusFailed, model.StatusDeclined}})
}

// Recent returns the n most recently created payments.
func (s *Service) Recent(ctx context.Context, n int) ([]model.Payment, error) {
	if n <= 0 {
		n = DefaultRecent
	}
	return s.store.List(ctx, store.Filter{Limit: n})
}

// Stats counts payments per status and totals completed amounts.
func (s *Service) Stats(ctx context.Context) (model.Stats, error) {
	all, err := s.store.List(ctx, store.Filter{})
	if err != nil {
		return model.Stats{}, err
	}
	st := model.Stats{
		TotalAmount: decimal.Zero,
		ByStatus:    make(map[model.Status]int64, len(model.Statuses)),
	}
	for _, status := range model.Statuses {
		st.ByStatus[status] = 0
	}
	for _, p := range all {
		st.ByStatus[p.Status]++
		switch p.Status {
		case model.StatusCompleted:
			st.TotalCompleted++
			st.TotalAmount = st.TotalAmount.Add(p.Amount)
		case model.StatusFailed, model.StatusDeclined:
			st.TotalFailed++
		}
	}
	return st, nil
}

// Cancel moves a PENDING payment to CANCELLED. It fails with
// apperr.ErrInvalidTransition once the payment has settled and with
// apperr.ErrConflict if it settles concurrently.
func (s *Service) Cancel(ctx context.Context, transactionID, reason string) (model.Payment, error) {
	if reason == "" {
		reason = ReasonCancelled
	}
	cur, err := s.store.FindByTransactionID(ctx, transactionID)
	if err != nil {
		return model.Payment{}, err
	}
	next, err := cur.Transition(model.StatusCancelled, reason, s.now())
	if err != nil {
		return model.Payment{}, fmt.Errorf("cancel %s: %w", transactionID, err)
	}
	if err := s.store.Update(ctx, next, cur.Status); err != nil {
		return model.Payment{}, fmt.Errorf("cancel %s: %w", transactionID, err)
	}

	log := s.logger.With("transaction_id", transactionID)
	log.Info("payment cancelled", "reason", reason)
	if err := s.publisher.Publish(context.WithoutCancel(ctx), model.NewEvent(next)); err != nil {
		log.Warn("publish payment event", "err", err)
	}
	return next, nil
}

// Pinger is implemented by stores that can report their reachability.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Ready reports whether the backing store can serve requests.
func (s *Service) Ready(ctx context.Context) error {
	p, ok := s.store.(Pinger)
	if !ok {
		return nil
	}
	if err := p.Ping(ctx); err != nil {
		return fmt.Errorf("store unreachable: %w: %w", apperr.ErrPersistence, err)
	}
	return nil
}
