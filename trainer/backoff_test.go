package trainer

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDelayForAttemptGrowsGeometrically(t *testing.T) {
	b := BackoffConfig{
		InitialDelay: 100 * time.Millisecond,
		MaxDelay:     10 * time.Second,
		Multiplier:   2.0,
	}

	assert.Equal(t, 100*time.Millisecond, b.DelayForAttempt(0))
	assert.Equal(t, 200*time.Millisecond, b.DelayForAttempt(1))
	assert.Equal(t, 400*time.Millisecond, b.DelayForAttempt(2))
	assert.Equal(t, 800*time.Millisecond, b.DelayForAttempt(3))
}

func TestDelayForAttemptCapsAtMax(t *testing.T) {
	b := BackoffConfig{
		InitialDelay: 1 * time.Second,
		MaxDelay:     4 * time.Second,
		Multiplier:   2.0,
	}

	assert.Equal(t, 4*time.Second, b.DelayForAttempt(2))
	assert.Equal(t, 4*time.Second, b.DelayForAttempt(10))
}

func TestDelayForAttemptJitterStaysBounded(t *testing.T) {
	b := BackoffConfig{
		InitialDelay: 100 * time.Millisecond,
		MaxDelay:     10 * time.Second,
		Multiplier:   2.0,
		Jitter:       true,
	}

	for i := 0; i < 50; i++ {
		d := b.DelayForAttempt(1)
		assert.GreaterOrEqual(t, d, 200*time.Millisecond)
		assert.LessOrEqual(t, d, 250*time.Millisecond)
	}
}

func TestDefaultSleeperHonoursCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := DefaultSleeper{}.Sleep(ctx, time.Minute)
	require.ErrorIs(t, err, context.Canceled)
}
