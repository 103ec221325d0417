package resilience

import (
	"context"
	"log/slog"
	"math"
	"math/rand/v2"
	"time"
)

// randFloat returns a uniform value in [0,1). Swapped in tests for
// deterministic jitter.
var randFloat = rand.Float64

// RetryConfig holds tuning knobs for [Retry]. Zero-value fields are replaced
// with sensible defaults.
type RetryConfig struct {
	// Name is a human-readable label used in log messages.
	Name string

	// MaxRetries is the number of re-attempts after the initial call.
	// Default: 3.
	MaxRetries int

	// BaseDelay is the backoff before the first retry. Default: 1s.
	BaseDelay time.Duration

	// MaxDelay caps the backoff growth. Default: 30s.
	MaxDelay time.Duration

	// BackoffFactor multiplies the delay each attempt. Default: 2.
	BackoffFactor float64

	// Jitter randomizes each delay within ±JitterFactor to avoid
	// synchronized retry storms.
	Jitter bool

	// JitterFactor is the relative jitter width. Default: 0.1.
	JitterFactor float64

	// ShouldRetry decides whether an error is worth another attempt.
	// Nil retries every error.
	ShouldRetry func(error) bool

	// OnRetry, if non-nil, is invoked before each backoff sleep with the
	// 1-based attempt number and the error that triggered it.
	OnRetry func(attempt int, err error)
}

// withDefaults fills in zero-value fields.
func (cfg RetryConfig) withDefaults() RetryConfig {
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = 3
	}
	if cfg.BaseDelay <= 0 {
		cfg.BaseDelay = time.Second
	}
	if cfg.MaxDelay <= 0 {
		cfg.MaxDelay = 30 * time.Second
	}
	if cfg.BackoffFactor <= 0 {
		cfg.BackoffFactor = 2
	}
	if cfg.JitterFactor <= 0 {
		cfg.JitterFactor = 0.1
	}
	return cfg
}

// delay computes the backoff before retry number attempt (0-based):
// min(BaseDelay · BackoffFactor^attempt, MaxDelay), optionally jittered by a
// random factor in [1-JitterFactor, 1+JitterFactor].
func (cfg RetryConfig) delay(attempt int) time.Duration {
	d := time.Duration(float64(cfg.BaseDelay) * math.Pow(cfg.BackoffFactor, float64(attempt)))
	if d > cfg.MaxDelay || d <= 0 {
		d = cfg.MaxDelay
	}
	if cfg.Jitter {
		factor := 1 + cfg.JitterFactor*(2*randFloat()-1)
		d = time.Duration(float64(d) * factor)
	}
	return d
}

// Retry calls fn until it succeeds, the retry budget is exhausted, the error
// is ruled out by ShouldRetry, or ctx is cancelled. The zero value of T is
// returned alongside the final error.
func Retry[T any](ctx context.Context, cfg RetryConfig, fn func(ctx context.Context) (T, error)) (T, error) {
	cfg = cfg.withDefaults()

	var (
		result T
		err    error
	)
	for attempt := 0; ; attempt++ {
		result, err = fn(ctx)
		if err == nil {
			return result, nil
		}
		if attempt >= cfg.MaxRetries || (cfg.ShouldRetry != nil && !cfg.ShouldRetry(err)) {
			return result, err
		}

		if cfg.OnRetry != nil {
			cfg.OnRetry(attempt+1, err)
		}
		d := cfg.delay(attempt)
		slog.Debug("retrying after backoff",
			"name", cfg.Name,
			"attempt", attempt+1,
			"delay", d,
			"error", err)

		timer := time.NewTimer(d)
		select {
		case <-ctx.Done():
			timer.Stop()
			return result, ctx.Err()
		case <-timer.C:
		}
	}
}
