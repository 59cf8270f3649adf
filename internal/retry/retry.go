// Package retry provides generic retry with exponential backoff and jitter,
// optionally executing attempts through a circuit breaker.
package retry

import (
	"context"
	"errors"
	"math"
	"math/rand/v2"
	"net"
	"strings"
	"time"

	"github.com/routekit/chainroute/internal/breaker"
	"github.com/routekit/chainroute/internal/logger"
	"github.com/routekit/chainroute/internal/metrics"
)

// Config configures retry behavior. The zero value is not usable; start
// from DefaultConfig.
type Config struct {
	// MaxAttempts is the total number of attempts, including the first.
	MaxAttempts int
	// InitialDelay is the delay before the first retry.
	InitialDelay time.Duration
	// MaxDelay caps the exponential delay growth.
	MaxDelay time.Duration
	// BackoffMultiplier scales the delay between consecutive retries.
	BackoffMultiplier float64
	// Jitter inflates each delay by up to 25% when set. Jitter only ever
	// adds, keeping the effective delay in [delay, 1.25*delay].
	Jitter bool
	// ShouldRetry decides whether to retry after an error. Nil means
	// DefaultShouldRetry.
	ShouldRetry func(error) bool
	// OnRetry is called before each retry with the upcoming attempt number
	// (1-based) and the error that triggered it. May be nil.
	OnRetry func(attempt int, err error)
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{
		MaxAttempts:       3,
		InitialDelay:      time.Second,
		MaxDelay:          30 * time.Second,
		BackoffMultiplier: 2.0,
		Jitter:            true,
	}
}

// recoverabler is implemented by errors that carry an explicit
// recoverability verdict. It overrides the message heuristics.
type recoverabler interface {
	Recoverable() bool
}

// recoverableError marks a wrapped error as explicitly recoverable.
type recoverableError struct {
	err error
}

func (e *recoverableError) Error() string     { return e.err.Error() }
func (e *recoverableError) Unwrap() error     { return e.err }
func (e *recoverableError) Recoverable() bool { return true }

// MarkRecoverable wraps err so the default predicate always retries it.
func MarkRecoverable(err error) error {
	if err == nil {
		return nil
	}
	return &recoverableError{err: err}
}

// DefaultShouldRetry retries errors explicitly marked recoverable and errors
// that look like transient network or timeout failures. Errors carrying an
// explicit non-recoverable verdict (validation errors in particular) and an
// open circuit are never retried.
func DefaultShouldRetry(err error) bool {
	if err == nil {
		return false
	}

	// An open breaker means the target is isolated; busy-retrying it would
	// only burn the backoff budget.
	if errors.Is(err, breaker.ErrCircuitOpen) {
		return false
	}

	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}

	// Explicit verdicts win over heuristics.
	var r recoverabler
	if errors.As(err, &r) {
		return r.Recoverable()
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		return netErr.Timeout()
	}

	errMsg := strings.ToLower(err.Error())
	transientPatterns := []string{
		"connection refused",
		"connection reset",
		"connection timed out",
		"timeout",
		"temporary failure",
		"service unavailable",
		"too many requests",
		"eof",
	}
	for _, pattern := range transientPatterns {
		if strings.Contains(errMsg, pattern) {
			return true
		}
	}

	return false
}

// Do runs fn up to cfg.MaxAttempts times, sleeping an exponentially growing,
// jittered delay between attempts. The last error propagates unchanged when
// attempts are exhausted or the predicate declines to retry. The inter-attempt
// sleep aborts early when ctx is done.
func Do(ctx context.Context, cfg Config, fn func(ctx context.Context) error) error {
	return do(ctx, cfg, nil, fn)
}

// DoWithBreaker is Do with every attempt executed through the breaker, so an
// open circuit fails attempts immediately with ErrCircuitOpen.
func DoWithBreaker(ctx context.Context, cfg Config, b *breaker.Breaker, fn func(ctx context.Context) error) error {
	return do(ctx, cfg, b, fn)
}

func do(ctx context.Context, cfg Config, b *breaker.Breaker, fn func(ctx context.Context) error) error {
	shouldRetry := cfg.ShouldRetry
	if shouldRetry == nil {
		shouldRetry = DefaultShouldRetry
	}
	maxAttempts := cfg.MaxAttempts
	if maxAttempts < 1 {
		maxAttempts = 1
	}

	var lastErr error
	for attempt := 0; attempt < maxAttempts; attempt++ {
		if attempt > 0 {
			metrics.RetryAttempts.Inc()
			if cfg.OnRetry != nil {
				cfg.OnRetry(attempt, lastErr)
			}
			delay := backoffDelay(cfg, attempt-1)
			logger.Debug("retry_backoff", "attempt", attempt, "delay", delay, "error", lastErr.Error())
			if err := sleep(ctx, delay); err != nil {
				return lastErr
			}
		}

		if b != nil {
			lastErr = b.Execute(func() error { return fn(ctx) })
		} else {
			lastErr = fn(ctx)
		}
		if lastErr == nil {
			return nil
		}
		if !shouldRetry(lastErr) {
			return lastErr
		}
	}
	return lastErr
}

// backoffDelay computes the delay for the n-th retry (0-indexed):
// min(initial * multiplier^n, max), inflated by up to 25% jitter.
func backoffDelay(cfg Config, n int) time.Duration {
	delay := float64(cfg.InitialDelay) * math.Pow(cfg.BackoffMultiplier, float64(n))
	if maxDelay := float64(cfg.MaxDelay); cfg.MaxDelay > 0 && delay > maxDelay {
		delay = maxDelay
	}
	if cfg.Jitter {
		delay *= 1 + 0.25*rand.Float64()
	}
	return time.Duration(delay)
}

// sleep waits for d or until ctx is done, whichever comes first.
func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
