package retry

import (
	"context"
	"math/rand"
	"strings"
	"time"

	"github.com/ekaya-inc/ekaya-geoenrich/pkg/apperrors"
)

// Config defines retry behavior with exponential backoff
type Config struct {
	MaxRetries   int
	InitialDelay time.Duration
	MaxDelay     time.Duration
	Multiplier   float64
	JitterFactor float64 // 0.0-1.0, +/- fraction applied to every delay
}

// DefaultConfig returns defaults for database operations:
// 3 retries with 100ms initial delay, capped at 5s, doubling each time, with 10% jitter
func DefaultConfig() *Config {
	return &Config{
		MaxRetries:   3,
		InitialDelay: 100 * time.Millisecond,
		MaxDelay:     5 * time.Second,
		Multiplier:   2.0,
		JitterFactor: 0.1,
	}
}

// RateLimitConfig returns defaults for throttled feature-service calls.
// Rate limits back off much longer than transient failures.
func RateLimitConfig() *Config {
	return &Config{
		MaxRetries:   3,
		InitialDelay: 5 * time.Second,
		MaxDelay:     2 * time.Minute,
		Multiplier:   2.0,
		JitterFactor: 0.1,
	}
}

// applyJitter returns delay +/- (delay * jitterFactor * random(-1 to +1)).
func applyJitter(delay time.Duration, jitterFactor float64) time.Duration {
	if jitterFactor <= 0 {
		return delay
	}
	jitter := float64(delay) * jitterFactor * (rand.Float64()*2 - 1)
	return time.Duration(float64(delay) + jitter)
}

// Backoff returns the delay before retry number attempt (0-based), without jitter.
func (c *Config) Backoff(attempt int) time.Duration {
	delay := c.InitialDelay
	for i := 0; i < attempt; i++ {
		delay = time.Duration(float64(delay) * c.Multiplier)
		if c.MaxDelay > 0 && delay >= c.MaxDelay {
			return c.MaxDelay
		}
	}
	if c.MaxDelay > 0 && delay > c.MaxDelay {
		return c.MaxDelay
	}
	return delay
}

func sleep(ctx context.Context, d time.Duration) error {
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

// Do executes fn with exponential backoff retry logic
// Returns nil on success, or last error after all retries exhausted
// Respects context cancellation during wait periods
func Do(ctx context.Context, cfg *Config, fn func() error) error {
	if cfg == nil {
		cfg = DefaultConfig()
	}

	var lastErr error
	for attempt := 0; attempt <= cfg.MaxRetries; attempt++ {
		if lastErr = fn(); lastErr == nil {
			return nil
		}
		if attempt < cfg.MaxRetries {
			if err := sleep(ctx, applyJitter(cfg.Backoff(attempt), cfg.JitterFactor)); err != nil {
				return err
			}
		}
	}
	return lastErr
}

// DoWithResult executes fn and returns both result and error.
// Useful for constructors like database.NewConnection.
func DoWithResult[T any](ctx context.Context, cfg *Config, fn func() (T, error)) (T, error) {
	var result T
	err := Do(ctx, cfg, func() error {
		r, err := fn()
		result = r
		return err
	})
	return result, err
}

// DoRetryable retries fn while its error passes IsRetryable. onRetry, when
// non-nil, is called before each wait with the 1-based retry number.
func DoRetryable(ctx context.Context, cfg *Config, fn func() error, onRetry func(attempt int, err error, wait time.Duration)) error {
	if cfg == nil {
		cfg = DefaultConfig()
	}

	var lastErr error
	for attempt := 0; attempt <= cfg.MaxRetries; attempt++ {
		lastErr = fn()
		if lastErr == nil || ctx.Err() != nil || !IsRetryable(lastErr) {
			return lastErr
		}
		if attempt == cfg.MaxRetries {
			break
		}
		wait := applyJitter(cfg.Backoff(attempt), cfg.JitterFactor)
		if onRetry != nil {
			onRetry(attempt+1, lastErr, wait)
		}
		if err := sleep(ctx, wait); err != nil {
			return lastErr
		}
	}
	return lastErr
}

// DoOnRateLimit retries fn only while it fails with an apperrors.RateLimitError.
// The wait is the larger of the backoff delay and the server's Retry-After, capped at MaxDelay.
// onWait, when non-nil, is called before each wait. Any other error is returned immediately.
func DoOnRateLimit(ctx context.Context, cfg *Config, fn func() error, onWait func(attempt int, wait time.Duration)) error {
	if cfg == nil {
		cfg = RateLimitConfig()
	}

	var lastErr error
	for attempt := 0; attempt <= cfg.MaxRetries; attempt++ {
		lastErr = fn()
		if lastErr == nil {
			return nil
		}
		rl, ok := apperrors.IsRateLimit(lastErr)
		if !ok {
			return lastErr
		}
		if attempt == cfg.MaxRetries {
			break
		}

		wait := applyJitter(cfg.Backoff(attempt), cfg.JitterFactor)
		if rl.RetryAfter > wait {
			wait = rl.RetryAfter
		}
		if cfg.MaxDelay > 0 && wait > cfg.MaxDelay {
			wait = cfg.MaxDelay
		}
		if onWait != nil {
			onWait(attempt+1, wait)
		}
		if err := sleep(ctx, wait); err != nil {
			return err
		}
	}
	return lastErr
}

// IsRetryable determines if an error is transient and worth retrying.
// Configuration errors are never retryable; rate limits always are.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	if _, ok := apperrors.IsConfiguration(err); ok {
		return false
	}
	if _, ok := apperrors.IsRateLimit(err); ok {
		return true
	}

	type retryable interface {
		IsRetryable() bool
	}
	if r, ok := err.(retryable); ok {
		return r.IsRetryable()
	}

	errStr := strings.ToLower(err.Error())
	retryablePatterns := []string{
		"connection refused",
		"connection reset",
		"broken pipe",
		"no such host",
		"timeout",
		"timed out",
		"temporary failure",
		"too many connections",
		"deadlock",
		"network is unreachable",
		"eof",
		// HTTP status codes
		"429",
		"500",
		"502",
		"503",
		"504",
		"rate limit",
		"service unavailable",
		"too many requests",
	}

	for _, pattern := range retryablePatterns {
		if strings.Contains(errStr, pattern) {
			return true
		}
	}

	return false
}
