package resilience

import (
	"context"
	"math"
	"math/rand/v2"
	"time"

	"go.uber.org/zap"
)

// Backoff selects how the delay grows between retries.
type Backoff string

const (
	// BackoffFixed waits Delay before every retry.
	BackoffFixed Backoff = "fixed"
	// BackoffLinear waits Delay * n before the n-th retry.
	BackoffLinear Backoff = "linear"
	// BackoffExponential waits Delay * Multiplier^(n-1) before the n-th retry.
	BackoffExponential Backoff = "exponential"
)

// Policy is the retry budget for one class of failure.
type Policy struct {
	// Retries is the number of retries after the first attempt. 0 disables
	// retrying for this class.
	Retries int

	// Delay is the base wait before a retry.
	Delay time.Duration

	// Backoff selects the growth curve. Default: fixed.
	Backoff Backoff

	// MaxDelay caps the computed delay. Zero means uncapped.
	MaxDelay time.Duration

	// Multiplier scales exponential backoff. Default: 2.0.
	Multiplier float64

	// JitterFraction adds random jitter as a fraction of the computed delay
	// (0.0 = no jitter, 0.5 = ±50%).
	JitterFraction float64
}

// Class buckets a failure for retry purposes.
type Class int

const (
	// ClassFatal failures are returned immediately.
	ClassFatal Class = iota
	// ClassTransient covers timeouts, network errors and retryable statuses.
	ClassTransient
	// ClassRateLimited covers HTTP 429.
	ClassRateLimited
)

func (c Class) String() string {
	switch c {
	case ClassFatal:
		return "fatal"
	case ClassTransient:
		return "transient"
	case ClassRateLimited:
		return "rate_limited"
	default:
		return "unknown"
	}
}

// RetryConfig controls retry behavior. Each failure class draws from its own
// budget, so exhausting rate-limit retries does not consume timeout retries.
type RetryConfig struct {
	// Budgets maps a failure class to its policy. A class with no entry is
	// not retried.
	Budgets map[Class]Policy

	// Classify buckets an error. If nil, DefaultClassify is used.
	Classify func(err error) Class

	// OnRetry is called before each retry sleep.
	OnRetry func(class Class, retry int, err error)

	// OnExhausted optionally replaces the error returned once a class runs
	// out of retries.
	OnExhausted func(class Class, err error) error
}

// DefaultRetryConfig returns a sensible retry configuration for API calls:
// three exponential retries on transient failures and rate limits.
func DefaultRetryConfig() RetryConfig {
	p := Policy{
		Retries:        2,
		Delay:          500 * time.Millisecond,
		Backoff:        BackoffExponential,
		MaxDelay:       30 * time.Second,
		Multiplier:     2.0,
		JitterFraction: 0.25,
	}
	return RetryConfig{
		Budgets: map[Class]Policy{
			ClassTransient:   p,
			ClassRateLimited: p,
		},
	}
}

// DefaultClassify treats 429 as rate limited, IsTransient errors as
// transient, and everything else as fatal.
func DefaultClassify(err error) Class {
	if StatusOf(err) == 429 {
		return ClassRateLimited
	}
	if IsTransient(err) {
		return ClassTransient
	}
	return ClassFatal
}

// Do executes fn with retry logic according to cfg. Context cancellation
// stops retries immediately.
func Do(ctx context.Context, cfg RetryConfig, fn func(ctx context.Context) error) error {
	_, err := DoVal(ctx, cfg, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, fn(ctx)
	})
	return err
}

// DoVal executes fn returning a value with retry logic. Same semantics as Do
// but preserves the return value from the successful call.
func DoVal[T any](ctx context.Context, cfg RetryConfig, fn func(ctx context.Context) (T, error)) (T, error) {
	classify := cfg.Classify
	if classify == nil {
		classify = DefaultClassify
	}

	var zero T
	used := make(map[Class]int)
	for {
		val, err := fn(ctx)
		if err == nil {
			return val, nil
		}

		// Don't retry on context cancellation.
		if ctx.Err() != nil {
			return zero, err
		}

		class := classify(err)
		policy, ok := cfg.Budgets[class]
		if class == ClassFatal || !ok {
			return zero, err
		}
		if used[class] >= policy.Retries {
			if cfg.OnExhausted != nil {
				return zero, cfg.OnExhausted(class, err)
			}
			return zero, err
		}
		used[class]++

		if cfg.OnRetry != nil {
			cfg.OnRetry(class, used[class], err)
		}

		timer := time.NewTimer(computeBackoff(used[class], policy))
		select {
		case <-ctx.Done():
			timer.Stop()
			return zero, err
		case <-timer.C:
		}
	}
}

// computeBackoff returns the wait before the n-th retry (1-based).
func computeBackoff(n int, p Policy) time.Duration {
	if n < 1 {
		n = 1
	}
	delay := float64(p.Delay)
	switch p.Backoff {
	case BackoffLinear:
		delay *= float64(n)
	case BackoffExponential:
		mult := p.Multiplier
		if mult <= 0 {
			mult = 2.0
		}
		delay *= math.Pow(mult, float64(n-1))
	}
	if p.MaxDelay > 0 && delay > float64(p.MaxDelay) {
		delay = float64(p.MaxDelay)
	}

	// Apply jitter: ±JitterFraction of delay.
	if p.JitterFraction > 0 {
		jitterRange := delay * p.JitterFraction
		delay += (rand.Float64()*2 - 1) * jitterRange
	}

	if delay < 0 {
		delay = 0
	}
	return time.Duration(delay)
}

// RetryLogger returns an OnRetry callback that logs each retry attempt.
func RetryLogger(service, operation string) func(Class, int, error) {
	return func(class Class, retry int, err error) {
		zap.L().Warn("retrying operation",
			zap.String("service", service),
			zap.String("operation", operation),
			zap.String("class", class.String()),
			zap.Int("attempt", retry),
			zap.Error(err),
		)
	}
}
