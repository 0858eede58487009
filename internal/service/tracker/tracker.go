// Package tracker counts in-flight and started settlements.
package tracker

import "sync/atomic"

// Tracker counts running settlements using atomics. The zero value is ready
// to use.
type Tracker struct {
	running atomic.Int64
	started atomic.Int64
}

// Start marks one settlement as running and returns the func that ends it.
//
//	defer tr.Start()()
func (t *Tracker) Start() (done func()) {
	t.running.Add(1)
	t.started.Add(1)
	return func() { t.running.Add(-1) }
}

// Running returns the number of settlements currently in flight.
func (t *Tracker) Running() int64 { return t.running.Load() }

// Started returns the number of settlements started since creation.
func (t *Tracker) Started() int64 { return t.started.Load() }
