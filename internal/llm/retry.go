package llm

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/Lllllllleong/docversions/internal/apperr"
)

// RetryConfig holds retry parameters for exponential backoff.
//
// Invalid values are normalized: MaxRetries < 0 becomes 0, BaseDelay <= 0
// becomes 1ms, MaxDelay <= 0 becomes BaseDelay.
type RetryConfig struct {
	MaxRetries int
	BaseDelay  time.Duration
	MaxDelay   time.Duration
}

// DefaultRetryConfig is used by the provider adapters unless overridden.
var DefaultRetryConfig = RetryConfig{
	MaxRetries: 3,
	BaseDelay:  time.Second,
	MaxDelay:   30 * time.Second,
}

func (c *RetryConfig) normalize() {
	if c.MaxRetries < 0 {
		c.MaxRetries = 0
	}
	if c.BaseDelay <= 0 {
		c.BaseDelay = time.Millisecond
	}
	if c.MaxDelay <= 0 {
		c.MaxDelay = c.BaseDelay
	}
}

// RetryWithBackoff executes fn, retrying while shouldRetry reports the error
// as transient. The delay doubles after every attempt up to MaxDelay.
func RetryWithBackoff[T any](
	ctx context.Context,
	cfg RetryConfig,
	fn func() (T, error),
	shouldRetry func(error) bool,
) (T, error) {
	cfg.normalize()

	var zero T
	var lastErr error
	delay := cfg.BaseDelay

	for attempt := 0; attempt <= cfg.MaxRetries; attempt++ {
		if attempt > 0 {
			timer := time.NewTimer(delay)
			select {
			case <-ctx.Done():
				timer.Stop()
				return zero, ctx.Err()
			case <-timer.C:
			}
			delay = min(delay*2, cfg.MaxDelay)
		}

		result, err := fn()
		if err == nil {
			return result, nil
		}

		lastErr = err
		if !shouldRetry(lastErr) {
			return zero, lastErr
		}
	}

	return zero, fmt.Errorf("max retries (%d) exceeded: %w", cfg.MaxRetries, lastErr)
}

// IsRetryable reports whether err is a transient provider failure.
func IsRetryable(err error) bool {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	return errors.Is(err, ErrRateLimit)
}

// ProviderErr wraps a provider failure into the pipeline taxonomy, keeping
// the retry marker when the provider signalled a transient condition.
func ProviderErr(msg string, retryable bool, cause error) error {
	if retryable {
		return fmt.Errorf("%s: %w: %w: %w", msg, ErrRateLimit, apperr.ErrProviderError, cause)
	}
	return fmt.Errorf("%s: %w: %w", msg, apperr.ErrProviderError, cause)
}
