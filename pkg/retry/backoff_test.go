package retry

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

func fastConfig() Config {
	return Config{MaxRetries: 3, InitialDelay: time.Millisecond, MaxDelay: 2 * time.Millisecond, Multiplier: 2}
}

func TestWithBackoffRetriesUntilSuccess(t *testing.T) {
	calls := 0
	err := WithBackoff(context.Background(), fastConfig(), zaptest.NewLogger(t), "op", func() error {
		calls++
		if calls < 3 {
			return errors.New("boom")
		}
		return nil
	})
	require.NoError(t, err)
	require.Equal(t, 3, calls)
}

func TestWithBackoffGivesUp(t *testing.T) {
	calls := 0
	err := WithBackoff(context.Background(), fastConfig(), nil, "op", func() error {
		calls++
		return errors.New("boom")
	})
	require.Error(t, err)
	require.Contains(t, err.Error(), "op failed after 3 attempts")
	require.Equal(t, 3, calls)
}

func TestWithBackoffPermanentStopsImmediately(t *testing.T) {
	sentinel := errors.New("bad request")
	calls := 0
	err := WithBackoff(context.Background(), fastConfig(), nil, "op", func() error {
		calls++
		return Permanent(sentinel)
	})
	require.ErrorIs(t, err, sentinel)
	require.Equal(t, 1, calls)
}

func TestDelayCappedWithoutJitter(t *testing.T) {
	cfg := Config{InitialDelay: time.Second, MaxDelay: 3 * time.Second, Multiplier: 10}
	require.Equal(t, time.Second, cfg.Delay(1))
	require.Equal(t, 3*time.Second, cfg.Delay(4))
}

func TestDelayJitterBounds(t *testing.T) {
	cfg := Config{InitialDelay: time.Second, MaxDelay: time.Minute, Multiplier: 2, JitterEnabled: true}
	for i := 0; i < 50; i++ {
		d := cfg.Delay(2)
		require.GreaterOrEqual(t, d, 1700*time.Millisecond)
		require.LessOrEqual(t, d, 2300*time.Millisecond)
	}
}

func TestWithBackoffStopsOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	calls := 0
	err := WithBackoff(ctx, fastConfig(), nil, "op", func() error {
		calls++
		return nil
	})
	require.ErrorIs(t, err, context.Canceled)
	require.Zero(t, calls)
}
