// Package shared provides helpers used by the simulated payment services,
// such as bounded latency calculation and cancellation-aware sleeps.
package shared

import (
	"context"
	"time"
)

// DelayBetween maps frac in [0,1) onto the closed range [lo, hi].
// When hi <= lo it returns lo; a negative lo is clamped to zero.
func DelayBetween(lo, hi time.Duration, frac float64) time.Duration {
	if lo < 0 {
		lo = 0
	}
	if hi <= lo {
		return lo
	}
	if frac < 0 {
		frac = 0
	}
	if frac >= 1 {
		return hi
	}
	return lo + time.Duration(frac*float64(hi-lo))
}

// SleepOrDone waits for the duration or returns early on context cancellation.
func SleepOrDone(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()

	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
