// Package scanloop provides the jittered interval loop and cancellable
// waits used by the monitoring scheduler and maintenance jobs.
package scanloop

import (
	"context"
	"math/rand/v2"
	"time"
)

// Run executes fn at a jittered interval until ctx is cancelled.
// The interval is: minInterval + random([0, jitterRange)). fn returns the
// extra delay to apply before the next iteration (0 for normal cadence),
// which is how block cooldowns stretch the loop.
func Run(ctx context.Context, minInterval, jitterRange time.Duration, fn func() time.Duration) {
	if minInterval <= 0 {
		minInterval = time.Second
	}
	if jitterRange < 0 {
		jitterRange = 0
	}

	for {
		extra := fn()

		interval := minInterval + extra
		if jitterRange > 0 {
			interval += time.Duration(rand.Int64N(int64(jitterRange)))
		}
		if !Sleep(ctx, interval) {
			return
		}
	}
}

// Sleep waits for d or until ctx is cancelled. Returns false on
// cancellation.
func Sleep(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}

// Jitter returns a random duration in [0, max).
func Jitter(max time.Duration) time.Duration {
	if max <= 0 {
		return 0
	}
	return time.Duration(rand.Int64N(int64(max)))
}
