// Package pool provides a bounded concurrency semaphore for gateway calls.
package pool

import "context"

// MaxSize caps the number of slots a Pool can hold.
const MaxSize = 128

// Pool limits how many gateway authorizations run at once.
type Pool struct {
	sem chan struct{}
}

// New creates a pool with at least one slot and at most MaxSize slots.
func New(size int) *Pool {
	if size <= 0 {
		size = 1
	}
	if size > MaxSize {
		size = MaxSize
	}
	return &Pool{sem: make(chan struct{}, size)}
}

// Acquire reserves one slot. If the pool is full it blocks until a slot
// frees up or ctx is done, in which case it returns ctx.Err().
func (p *Pool) Acquire(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	select {
	case p.sem <- struct{}{}:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Release frees a previously acquired slot.
func (p *Pool) Release() {
	<-p.sem
}

// InUse returns the number of slots currently held.
func (p *Pool) InUse() int { return len(p.sem) }

// Size returns the slot capacity.
func (p *Pool) Size() int { return cap(p.sem) }
