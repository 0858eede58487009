// Package store persists payment records keyed by transaction ID.
//
// Writes are atomic per record: Create is unique on the transaction ID and
// Update only succeeds while the stored status is the one the caller last
// observed. No cross-record transactions are offered.
package store

import (
	"context"
	"errors"
	"sort"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/iliamunaev/card-settlement/internal/model"
)

var errClosed = errors.New("store: closed")

// Store is the persistence boundary of the settlement core.
type Store interface {
	// Create assigns an ID to p and stores it. It fails with
	// apperr.ErrDuplicateTransaction when the transaction ID is taken.
	Create(ctx context.Context, p model.Payment) (model.Payment, error)

	// Update replaces the stored record with ID p.ID if its status is
	// still from. It fails with apperr.ErrNotFound or apperr.ErrConflict.
	Update(ctx context.Context, p model.Payment, from model.Status) error

	Get(ctx context.Context, id int64) (model.Payment, error)
	FindByTransactionID(ctx context.Context, transactionID string) (model.Payment, error)

	// List returns matching records, newest first.
	List(ctx context.Context, f Filter) ([]model.Payment, error)

	Close() error
}

// Filter selects payments. Zero fields do not restrict the result.
type Filter struct {
	Statuses           []model.Status
	From, To           time.Time // inclusive bounds on CreatedAt
	MinAmount          decimal.NullDecimal
	MaxAmount          decimal.NullDecimal
	CardholderContains string // case-insensitive
	CardLastFour       string
	Limit              int // most recent N; 0 means all
}

// Match reports whether p satisfies f, ignoring Limit.
func (f Filter) Match(p model.Payment) bool {
	if len(f.Statuses) > 0 && !containsStatus(f.Statuses, p.Status) {
		return false
	}
	if !f.From.IsZero() && p.CreatedAt.Before(f.From) {
		return false
	}
	if !f.To.IsZero() && p.CreatedAt.After(f.To) {
		return false
	}
	if f.MinAmount.Valid && p.Amount.LessThan(f.MinAmount.Decimal) {
		return false
	}
	if f.MaxAmount.Valid && p.Amount.GreaterThan(f.MaxAmount.Decimal) {
		return false
	}
	if f.CardholderContains != "" &&
		!strings.Contains(strings.ToLower(p.CardholderName), strings.ToLower(f.CardholderContains)) {
		return false
	}
	if f.CardLastFour != "" && p.LastFour() != f.CardLastFour {
		return false
	}
	return true
}

func containsStatus(list []model.Status, s model.Status) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}

// apply filters, orders newest first and truncates to f.Limit.
func (f Filter) apply(all []model.Payment) []model.Payment {
	out := make([]model.Payment, 0, len(all))
	for _, p := range all {
		if f.Match(p) {
			out = append(out, p)
		}
	}
	sortNewestFirst(out)
	if f.Limit > 0 && len(out) > f.Limit {
		out = out[:f.Limit]
	}
	return out
}

func sortNewestFirst(ps []model.Payment) {
	sort.SliceStable(ps, func(i, j int) bool {
		if !ps[i].CreatedAt.Equal(ps[j].CreatedAt) {
			return ps[i].CreatedAt.After(ps[j].CreatedAt)
		}
		return ps[i].ID > ps[j].ID
	})
}
