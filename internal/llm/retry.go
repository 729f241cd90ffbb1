package llm

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v5"
)

// RetryConfig tunes the exponential backoff wrapper every Provider call goes
// through. Defaults satisfy the error-handling contract in SPEC_FULL.md
// section 7: three attempts, 2-30s window.
type RetryConfig struct {
	MaxRetries int
	MinDelay   time.Duration
	MaxDelay   time.Duration
}

// DefaultRetryConfig returns the reference tuning (3 attempts, 2-30s).
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{MaxRetries: 3, MinDelay: 2 * time.Second, MaxDelay: 30 * time.Second}
}

// WithRetry wraps a single LLM call with exponential backoff on transient
// failures. Each concrete Provider's Chat calls this around its underlying
// SDK call so the policy lives in one place rather than being duplicated per
// vendor; ChatStream calls are not retried.
func WithRetry[T any](ctx context.Context, cfg RetryConfig, op func() (T, error)) (T, error) {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = cfg.MinDelay
	b.MaxInterval = cfg.MaxDelay
	b.Multiplier = 2

	return backoff.Retry(ctx, func() (T, error) {
		v, err := op()
		if err != nil && !isRetryable(err) {
			return v, backoff.Permanent(err)
		}
		return v, err
	}, backoff.WithBackOff(b), backoff.WithMaxTries(uint(cfg.MaxRetries)))
}

// isRetryable treats every non-nil error as transient, permanent client
// errors (bad request, auth, not-found style) included. Vendor SDKs surface
// rate limits and 5xx as plain errors with no shared sentinel, so we retry
// by default and rely on the attempt cap to bound the cost of a truly
// permanent failure.
func isRetryable(err error) bool {
	return err != nil
}
