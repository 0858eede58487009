package payments

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/iliamunaev/card-settlement/internal/apperr"
	"github.com/iliamunaev/card-settlement/internal/model"
	"github.com/iliamunaev/card-settlement/internal/store"
)

var base = time.Date(2026, 10, 16, 12, 0, 0, 0, time.UTC)

type recordingPublisher struct {
	events []model.Event
}

func (r *recordingPublisher) Publish(_ context.Context, ev model.Event) error {
	r.events = append(r.events, ev)
	return nil
}

func (r *recordingPublisher) Close() error { return nil }

type row struct {
	status model.Status
	amount string
}

// seed stores one payment per row, one minute apart.
func seed(t *testing.T, st store.Store, rows ...row) []model.Payment {
	t.Helper()
	ctx := context.Background()
	out := make([]model.Payment, 0, len(rows))
	for i, r := range rows {
		at := base.Add(time.Duration(i) * time.Minute)
		p, err := st.Create(ctx, model.Payment{
			CardholderName: "Jane Doe",
			CardNumber:     "************0366",
			ExpiryDate:     "12/28",
			CVV:            model.CVVPlaceholder,
			Amount:         decimal.RequireFromString(r.amount),
			Status:         model.StatusPending,
			TransactionID:  "TXN-" + string(rune('a'+i)),
			CreatedAt:      at,
			UpdatedAt:      at,
		})
		require.NoError(t, err)
		if r.status != model.StatusPending {
			next, err := p.Transition(r.status, "seeded", at)
			require.NoError(t, err)
			require.NoError(t, st.Update(ctx, next, model.StatusPending))
			p = next
		}
		out = append(out, p)
	}
	return out
}

func transactionIDs(ps []model.Payment) []string {
	ids := make([]string, 0, len(ps))
	for _, p := range ps {
		ids = append(ids, p.TransactionID)
	}
	return ids
}

func TestQueries(t *testing.T) {
	t.Parallel()

	st := store.NewMemory()
	seed(t, st,
		row{model.StatusCompleted, "19.98"},
		row{model.StatusDeclined, "750.00"},
		row{model.StatusFailed, "10.00"},
		row{model.StatusCompleted, "5.02"},
		row{model.StatusPending, "1.00"},
	)
	svc := New(st, nil, nil)
	ctx := context.Background()

	ok, err := svc.Successful(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"TXN-d", "TXN-a"}, transactionIDs(ok))

	failed, err := svc.Failed(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"TXN-c", "TXN-b"}, transactionIDs(failed))

	pending, err := svc.ByStatus(ctx, model.StatusPending)
	require.NoError(t, err)
	assert.Equal(t, []string{"TXN-e"}, transactionIDs(pending))

	recent, err := svc.Recent(ctx, 2)
	require.NoError(t, err)
	assert.Equal(t, []string{"TXN-e", "TXN-d"}, transactionIDs(recent))

	recent, err = svc.Recent(ctx, 0)
	require.NoError(t, err)
	assert.Len(t, recent, 5)

	p, err := svc.ByTransactionID(ctx, "TXN-b")
	require.NoError(t, err)
	got, err := svc.Get(ctx, p.ID)
	require.NoError(t, err)
	assert.Equal(t, model.StatusDeclined, got.Status)

	_, err = svc.ByTransactionID(ctx, "TXN-zzz")
	assert.ErrorIs(t, err, apperr.ErrNotFound)
}

func TestStats(t *testing.T) {
	t.Parallel()

	st := store.NewMemory()
	seed(t, st,
		row{model.StatusCompleted, "19.98"},
		row{model.StatusCompleted, "0.02"},
		row{model.StatusDeclined, "750.00"},
		row{model.StatusFailed, "10.00"},
		row{model.StatusPending, "1.00"},
	)

	stats, err := New(st, nil, nil).Stats(context.Background())
	require.NoError(t, err)

	assert.Equal(t, int64(2), stats.TotalCompleted)
	assert.Equal(t, int64(2), stats.TotalFailed)
	assert.True(t, stats.TotalAmount.Equal(decimal.RequireFromString("20.00")), "got %s", stats.TotalAmount)
	assert.Equal(t, int64(1), stats.ByStatus[model.StatusPending])
	assert.Equal(t, int64(0), stats.ByStatus[model.StatusCancelled])
	assert.Len(t, stats.ByStatus, len(model.Statuses))
}

func TestStats_Empty(t *testing.T) {
	t.Parallel()

	stats, err := New(store.NewMemory(), nil, nil).Stats(context.Background())
	require.NoError(t, err)
	assert.Zero(t, stats.TotalCompleted)
	assert.True(t, stats.TotalAmount.IsZero())
}

func TestCancel(t *testing.T) {
	t.Parallel()

	st := store.NewMemory()
	seed(t, st,
		row{model.StatusPending, "1.00"},
		row{model.StatusCompleted, "2.00"},
	)
	pub := &recordingPublisher{}
	svc := New(st, pub, nil)
	ctx := context.Background()

	cancelled, err := svc.Cancel(ctx, "TXN-a", "")
	require.NoError(t, err)
	assert.Equal(t, model.StatusCancelled, cancelled.Status)
	assert.Equal(t, ReasonCancelled, cancelled.ErrorMessage)

	stored, err := svc.ByTransactionID(ctx, "TXN-a")
	require.NoError(t, err)
	assert.Equal(t, model.StatusCancelled, stored.Status)
	require.Len(t, pub.events, 1)
	assert.Equal(t, "payment.cancelled", pub.events[0].Type)

	_, err = svc.Cancel(ctx, "TXN-a", "again")
	assert.ErrorIs(t, err, apperr.ErrInvalidTransition)

	_, err = svc.Cancel(ctx, "TXN-b", "too late")
	assert.ErrorIs(t, err, apperr.ErrInvalidTransition)

	_, err = svc.Cancel(ctx, "TXN-missing", "")
	assert.ErrorIs(t, err, apperr.ErrNotFound)
}

func TestNew_NilStorePanics(t *testing.T) {
	t.Parallel()

	assert.Panics(t, func() { New(nil, nil, nil) })
}

func TestReady(t *testing.T) {
	t.Parallel()

	require.NoError(t, New(store.NewMemory(), nil, nil).Ready(context.Background()))

	mr, err := miniredis.Run()
	require.NoError(t, err)
	rs := store.NewRedis(redis.NewClient(&redis.Options{Addr: mr.Addr(), MaxRetries: -1}), "p:")
	defer rs.Close()

	svc := New(rs, nil, nil)
	require.NoError(t, svc.Ready(context.Background()))

	mr.Close()
	err = svc.Ready(context.Background())
	require.Error(t, err)
	assert.True(t, errors.Is(err, apperr.ErrPersistence))
}
