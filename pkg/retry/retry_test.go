package retry

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDo_SucceedsAfterFailures(t *testing.T) {
	attempts := 0
	err := Do(context.Background(), Fixed(3, 5*time.Millisecond), func() error {
		attempts++
		if attempts < 3 {
			return errors.New("collector down")
		}
		return nil
	})

	assert.NoError(t, err)
	assert.Equal(t, 3, attempts)
}

func TestDo_Exhausted(t *testing.T) {
	base := errors.New("collector down")
	attempts := 0
	err := Do(context.Background(), Fixed(3, 5*time.Millisecond), func() error {
		attempts++
		return base
	})

	require.Error(t, err)
	assert.Equal(t, 3, attempts)

	var exhausted *ExhaustedError
	require.ErrorAs(t, err, &exhausted)
	assert.Equal(t, 3, exhausted.Attempts)
	assert.ErrorIs(t, err, base)
	assert.Contains(t, err.Error(), "failed after 3 attempts")
}

func TestDo_FixedDelayBetweenAttempts(t *testing.T) {
	var delays []time.Duration
	cfg := Fixed(4, 10*time.Millisecond)
	cfg.OnRetry = func(attempt int, err error, next time.Duration) {
		delays = append(delays, next)
	}

	start := time.Now()
	_ = Do(context.Background(), cfg, func() error { return errors.New("fail") })
	elapsed := time.Since(start)

	assert.Equal(t, []time.Duration{10 * time.Millisecond, 10 * time.Millisecond, 10 * time.Millisecond}, delays)
	assert.GreaterOrEqual(t, elapsed, 30*time.Millisecond)
}

func TestDo_NonRetryableStopsImmediately(t *testing.T) {
	attempts := 0
	err := Do(context.Background(), Fixed(5, time.Millisecond), func() error {
		attempts++
		return NonRetryable(errors.New("bad request"))
	})

	assert.True(t, IsNonRetryable(err))
	assert.Equal(t, 1, attempts)
}

func TestDo_ContextCancelledDuringDelay(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	attempts := 0

	go func() {
		time.Sleep(20 * time.Millisecond)
		cancel()
	}()

	start := time.Now()
	err := Do(ctx, Fixed(5, time.Second), func() error {
		attempts++
		return errors.New("fail")
	})

	require.Error(t, err)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 1, attempts)
	assert.Less(t, time.Since(start), 500*time.Millisecond)
}

func TestDo_ZeroAttemptsRunsOnce(t *testing.T) {
	attempts := 0
	err := Do(context.Background(), Config{}, func() error {
		attempts++
		return nil
	})

	assert.NoError(t, err)
	assert.Equal(t, 1, attempts)
}

func TestDo_InvalidConfig(t *testing.T) {
	tests := []struct {
		name string
		cfg  Config
	}{
		{"negative initial delay", Config{MaxAttempts: 2, InitialDelay: -1}},
		{"negative max delay", Config{MaxAttempts: 2, MaxDelay: -1}},
		{"negative multiplier", Config{MaxAttempts: 2, Multiplier: -1}},
		{"max below initial", Config{MaxAttempts: 2, InitialDelay: time.Second, MaxDelay: time.Millisecond, Multiplier: 2}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			called := false
			err := Do(context.Background(), tt.cfg, func() error {
				called = true
				return nil
			})
			assert.Error(t, err)
			assert.False(t, called)
		})
	}
}
