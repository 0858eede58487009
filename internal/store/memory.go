package store

import (
	"context"
	"fmt"
	"sync"

	"github.com/iliamunaev/card-settlement/internal/apperr"
	"github.com/iliamunaev/card-settlement/internal/model"
)

// Memory is an in-process Store. Records are copied on the way in and out.
type Memory struct {
	mu     sync.RWMutex
	nextID int64
	byID   map[int64]model.Payment
	byTxn  map[string]int64
	closed bool
}

var _ Store = (*Memory)(nil)

// NewMemory returns an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{
		byID:  make(map[int64]model.Payment),
		byTxn: make(map[string]int64),
	}
}

func (m *Memory) Create(ctx context.Context, p model.Payment) (model.Payment, error) {
	if err := ctx.Err(); err != nil {
		return model.Payment{}, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return model.Payment{}, errClosed
	}
	if _, taken := m.byTxn[p.TransactionID]; taken {
		return model.Payment{}, fmt.Errorf("create %s: %w", p.TransactionID, apperr.ErrDuplicateTransaction)
	}
	m.nextID++
	p.ID = m.nextID
	m.byID[p.ID] = p
	m.byTxn[p.TransactionID] = p.ID
	return p, nil
}

func (m *Memory) Update(ctx context.Context, p model.Payment, from model.Status) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return errClosed
	}
	cur, ok := m.byID[p.ID]
	if !ok {
		return fmt.Errorf("update %d: %w", p.ID, apperr.ErrNotFound)
	}
	if cur.Status != from {
		return fmt.Errorf("update %d: stored %s, expected %s: %w", p.ID, cur.Status, from, apperr.ErrConflict)
	}
	if cur.TransactionID != p.TransactionID {
		return fmt.Errorf("update %d: transaction id is immutable: %w", p.ID, apperr.ErrConflict)
	}
	m.byID[p.ID] = p
	return nil
}

func (m *Memory) Get(ctx context.Context, id int64) (model.Payment, error) {
	if err := ctx.Err(); err != nil {
		return model.Payment{}, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()

	p, ok := m.byID[id]
	if !ok {
		return model.Payment{}, fmt.Errorf("payment %d: %w", id, apperr.ErrNotFound)
	}
	return p, nil
}

func (m *Memory) FindByTransactionID(ctx context.Context, transactionID string) (model.Payment, error) {
	if err := ctx.Err(); err != nil {
		return model.Payment{}, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()

	id, ok := m.byTxn[transactionID]
	if !ok {
		return model.Payment{}, fmt.Errorf("transaction %s: %w", transactionID, apperr.ErrNotFound)
	}
	return m.byID[id], nil
}

func (m *Memory) List(ctx context.Context, f Filter) ([]model.Payment, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.RLock()
	all := make([]model.Payment, 0, len(m.byID))
	for _, p := range m.byID {
		all = append(all, p)
	}
	m.mu.RUnlock()

	return f.apply(all), nil
}

// Close makes further writes fail. Reads keep working.
func (m *Memory) Close() error {
	m.mu.Lock()
	m.closed = true
	m.mu.Unlock()
	return nil
}
