// Package retry provides configurable backoff retry loops, synchronous and
// asynchronous. It is grounded on (and consolidates) the teacher's two retry
// packages — the top-level retry (simple fixed-delay ExecuteAsync) and
// util/retry (Config-driven ExecuteSync/ExecuteAsync with pluggable backoff
// strategies) — since both existed in the pack for the same concern. The
// replay joint filter (spec.md §4.8) uses BackoffStrategy directly to turn
// its "delay (static or callback)" option into a concrete wait duration per
// attempt.
package retry

import (
	"math"
	"math/rand"
	"sync"
	"time"
)

// BackoffStrategy computes the wait duration before retry attempt.
type BackoffStrategy func(attempt int) time.Duration

// Config holds retry configuration shared by ExecuteSync and ExecuteAsync.
type Config struct {
	// MaxAttempts is the maximum number of attempts, including the first.
	MaxAttempts int

	// Backoff computes the wait before each retry. Defaults to
	// ExponentialBackoff(100ms, 1.5, 30s) if nil.
	Backoff BackoffStrategy

	// OnRetry is called before each retry attempt with the attempt number
	// (1-based), the error that triggered it, and the upcoming wait.
	OnRetry func(attempt int, lastErr error, nextWait time.Duration)
}

// Option configures a Config.
type Option func(*Config)

func defaultConfig() *Config {
	return &Config{
		MaxAttempts: 3,
		Backoff:     ExponentialBackoff(100*time.Millisecond, 1.5, 30*time.Second),
	}
}

func WithMaxAttempts(attempts int) Option {
	return func(c *Config) {
		if attempts > 0 {
			c.MaxAttempts = attempts
		}
	}
}

func WithBackoff(strategy BackoffStrategy) Option {
	return func(c *Config) {
		if strategy != nil {
			c.Backoff = strategy
		}
	}
}

func WithOnRetry(onRetry func(attempt int, lastErr error, nextWait time.Duration)) Option {
	return func(c *Config) {
		c.OnRetry = onRetry
	}
}

var (
	randMu     sync.Mutex
	randSource = rand.New(rand.NewSource(time.Now().UnixNano())) //nolint:gosec // jitter, not security sensitive
)

// ExponentialBackoff returns a strategy that doubles (times multiplier) the
// wait each attempt, capped at maxDelay, with up to 50% jitter to avoid a
// thundering herd of simultaneously-scheduled replays.
func ExponentialBackoff(initialDelay time.Duration, multiplier float64, maxDelay time.Duration) BackoffStrategy {
	return func(attempt int) time.Duration {
		if attempt <= 0 {
			return 0
		}

		delay := time.Duration(float64(initialDelay) * math.Pow(multiplier, float64(attempt-1)))
		if delay > maxDelay {
			delay = maxDelay
		}

		randMu.Lock()
		jitter := time.Duration(randSource.Int63n(int64(delay) + 1))
		randMu.Unlock()

		return delay/2 + jitter/2
	}
}

// FixedBackoff always waits the same duration between attempts — the
// replay filter's "static delay" option.
func FixedBackoff(d time.Duration) BackoffStrategy {
	return func(attempt int) time.Duration {
		if attempt <= 0 {
			return 0
		}

		return d
	}
}

// NoBackoff retries immediately.
func NoBackoff() BackoffStrategy {
	return func(int) time.Duration { return 0 }
}

// ExecuteSync runs fn, retrying per cfg until it succeeds or attempts are
// exhausted, blocking the caller throughout.
func ExecuteSync(fn func() error, opts ...Option) error {
	cfg := defaultConfig()
	for _, opt := range opts {
		opt(cfg)
	}

	var lastErr error
	for attempt := 1; attempt <= cfg.MaxAttempts; attempt++ {
		lastErr = fn()
		if lastErr == nil {
			return nil
		}

		if attempt == cfg.MaxAttempts {
			break
		}

		wait := cfg.Backoff(attempt)
		if cfg.OnRetry != nil {
			cfg.OnRetry(attempt, lastErr, wait)
		}
		time.Sleep(wait)
	}

	return lastErr
}

// ExecuteAsync runs ExecuteSync on its own goroutine, calling onSuccess or
// onFailure exactly once when it settles.
func ExecuteAsync(fn func() error, onSuccess func(), onFailure func(error), opts ...Option) {
	go func() {
		if err := ExecuteSync(fn, opts...); err != nil {
			if onFailure != nil {
				onFailure(err)
			}

			return
		}

		if onSuccess != nil {
			onSuccess()
		}
	}()
}
