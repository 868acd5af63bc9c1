package fn

import (
	"context"
	"time"
)

// RetryConfig holds the exponential backoff parameters of RetryFuncN.
type RetryConfig struct {
	// MaxRetries is the number of retries after the first attempt.
	MaxRetries int

	// InitialBackoff is the delay before the first retry.
	InitialBackoff time.Duration

	// BackoffMultiplier scales the delay after every retry.
	BackoffMultiplier float64

	// MaxBackoff caps the delay between two attempts.
	MaxBackoff time.Duration

	// ShouldRetry reports whether an error is transient. All errors are
	// retried if it is nil.
	ShouldRetry func(error) bool
}

// DefaultRetryConfig returns the backoff used for ledger lookups right
// after a broadcast, when the node may not have indexed the transaction
// yet.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxRetries:        5,
		InitialBackoff:    100 * time.Millisecond,
		BackoffMultiplier: 2.0,
		MaxBackoff:        2 * time.Second,
	}
}

// RetryFuncN calls f until it succeeds, returns an error ShouldRetry
// rejects, runs out of retries or ctx is done.
func RetryFuncN[T any](ctx context.Context, cfg RetryConfig,
	f func() (T, error)) (T, error) {

	backoff := cfg.InitialBackoff
	for attempt := 0; ; attempt++ {
		result, err := f()
		switch {
		case err == nil:
			return result, nil

		case attempt >= cfg.MaxRetries:
			return result, err

		case cfg.ShouldRetry != nil && !cfg.ShouldRetry(err):
			return result, err
		}

		if backoff > cfg.MaxBackoff {
			backoff = cfg.MaxBackoff
		}

		select {
		case <-ctx.Done():
			return result, ctx.Err()

		case <-time.After(backoff):
			backoff = time.Duration(
				float64(backoff) * cfg.BackoffMultiplier,
			)
		}
	}
}
