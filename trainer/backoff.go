// Package trainer runs the incremental training loop: it walks the feature
// units, skips fresh ones, trains the rest, and durably commits each unit's
// artifacts before recording success in the version ledger.
package trainer

import (
	"context"
	"math/rand"
	"time"
)

// Sleeper abstracts waiting between commit attempts so tests run instantly.
type Sleeper interface {
	Sleep(ctx context.Context, d time.Duration) error
}

// DefaultSleeper waits on the wall clock, honouring context cancellation.
type DefaultSleeper struct{}

// Sleep blocks for d or until the context is done.
func (DefaultSleeper) Sleep(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// BackoffConfig shapes the delay between commit retries.
type BackoffConfig struct {
	InitialDelay time.Duration
	MaxDelay     time.Duration
	Multiplier   float64
	Jitter       bool
}

// DefaultBackoff is the commit retry schedule used unless overridden.
var DefaultBackoff = BackoffConfig{
	InitialDelay: 500 * time.Millisecond,
	MaxDelay:     30 * time.Second,
	Multiplier:   2.0,
	Jitter:       true,
}

// DelayForAttempt returns the delay before retry number attempt (0-based).
// Delays grow geometrically up to MaxDelay; jitter adds up to 25%.
func (b BackoffConfig) DelayForAttempt(attempt int) time.Duration {
	delay := float64(b.InitialDelay)
	for i := 0; i < attempt; i++ {
		delay *= b.Multiplier
		if delay >= float64(b.MaxDelay) {
			delay = float64(b.MaxDelay)
			break
		}
	}
	if b.Jitter {
		delay += delay * 0.25 * rand.Float64()
	}
	if delay > float64(b.MaxDelay) {
		delay = float64(b.MaxDelay)
	}
	return time.Duration(delay)
}
