package fn

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

var errTransient = errors.New("transient")

func testRetryConfig() RetryConfig {
	return RetryConfig{
		MaxRetries:        3,
		InitialBackoff:    time.Millisecond,
		BackoffMultiplier: 2,
		MaxBackoff:        2 * time.Millisecond,
	}
}

func TestRetryFuncN(t *testing.T) {
	t.Parallel()

	ctx := context.Background()

	// Succeeds on the third attempt.
	calls := 0
	res, err := RetryFuncN(ctx, testRetryConfig(), func() (int, error) {
		calls++
		if calls < 3 {
			return 0, errTransient
		}
		return 42, nil
	})
	require.NoError(t, err)
	require.Equal(t, 42, res)
	require.Equal(t, 3, calls)

	// Gives up after the first attempt plus MaxRetries.
	calls = 0
	_, err = RetryFuncN(ctx, testRetryConfig(), func() (int, error) {
		calls++
		return 0, errTransient
	})
	require.ErrorIs(t, err, errTransient)
	require.Equal(t, 4, calls)

	// Permanent errors are returned right away.
	cfg := testRetryConfig()
	cfg.ShouldRetry = func(err error) bool {
		return errors.Is(err, errTransient)
	}
	permanent := errors.New("permanent")
	calls = 0
	_, err = RetryFuncN(ctx, cfg, func() (int, error) {
		calls++
		return 0, permanent
	})
	require.ErrorIs(t, err, permanent)
	require.Equal(t, 1, calls)
}

func TestRetryFuncNContext(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	cfg := testRetryConfig()
	cfg.InitialBackoff = time.Hour
	cfg.MaxBackoff = time.Hour

	_, err := RetryFuncN(ctx, cfg, func() (int, error) {
		return 0, errTransient
	})
	require.ErrorIs(t, err, context.Canceled)
}
