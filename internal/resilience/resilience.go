package resilience

import (
	"context"
	"errors"
	"math/rand/v2"
	"time"

	"finsight/internal/logging"
)

// Config holds parsed resilience parameters. See config.ResilienceConfig
// for the YAML-facing form.
type Config struct {
	CallTimeout      time.Duration
	MaxAttempts      int
	BaseDelay        time.Duration
	MaxDelay         time.Duration
	Jitter           float64 // fraction of delay added as random jitter
	FailureThreshold int
	CooldownWindow   time.Duration

	// ShouldRetry overrides the default retryability predicate.
	ShouldRetry func(error) bool
}

// DefaultConfig returns production defaults.
func DefaultConfig() Config {
	return Config{
		CallTimeout:      30 * time.Second,
		MaxAttempts:      3,
		BaseDelay:        250 * time.Millisecond,
		MaxDelay:         4 * time.Second,
		Jitter:           0.2,
		FailureThreshold: 5,
		CooldownWindow:   30 * time.Second,
	}
}

// Executor applies the full wrapper to external calls. One Executor (and
// its breaker registry) is shared process-wide; per-call state lives on the
// stack.
type Executor struct {
	cfg      Config
	breakers *BreakerRegistry
}

// New creates an Executor with its own breaker registry.
func New(cfg Config) *Executor {
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 1
	}
	if cfg.CallTimeout <= 0 {
		cfg.CallTimeout = 30 * time.Second
	}
	if cfg.BaseDelay <= 0 {
		cfg.BaseDelay = 250 * time.Millisecond
	}
	if cfg.MaxDelay < cfg.BaseDelay {
		cfg.MaxDelay = cfg.BaseDelay
	}
	if cfg.ShouldRetry == nil {
		cfg.ShouldRetry = ShouldRetry
	}
	return &Executor{
		cfg:      cfg,
		breakers: NewBreakerRegistry(cfg.FailureThreshold, cfg.CooldownWindow),
	}
}

// Breakers exposes the registry for observability and tests.
func (e *Executor) Breakers() *BreakerRegistry {
	return e.breakers
}

// Do runs fn under the full wrapper for the named dependency.
func (e *Executor) Do(ctx context.Context, dependency string, fn func(context.Context) error) error {
	_, err := DoValue(ctx, e, dependency, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, fn(ctx)
	})
	return err
}

// DoValue runs fn under the full wrapper and returns its value.
// The breaker sees one outcome per DoValue call: retries happen inside it,
// so a dependency failing through all attempts counts a single failure.
func DoValue[T any](ctx context.Context, e *Executor, dependency string, fn func(context.Context) (T, error)) (T, error) {
	var zero T

	br := e.breakers.acquire(dependency)
	if !br.allow() {
		logging.ResilienceDebug("short-circuit: %q is open", dependency)
		return zero, &CircuitOpenError{Dependency: dependency}
	}

	result, err := retryWithBackoff(ctx, e.cfg, dependency, fn)
	br.record(err == nil)
	return result, err
}

// retryWithBackoff retries fn with capped exponential backoff. Each attempt
// runs under its own timeout; retry is skipped on parent-context
// cancellation and on non-retryable errors.
func retryWithBackoff[T any](ctx context.Context, cfg Config, dependency string, fn func(context.Context) (T, error)) (T, error) {
	var zero T
	var lastErr error
	delay := cfg.BaseDelay

	for attempt := 0; attempt < cfg.MaxAttempts; attempt++ {
		result, err := runWithTimeout(ctx, cfg.CallTimeout, fn)
		if err == nil {
			return result, nil
		}
		lastErr = err

		// Don't retry on parent cancellation.
		if ctx.Err() != nil {
			return zero, ctx.Err()
		}
		if !cfg.ShouldRetry(err) {
			return zero, err
		}

		if attempt < cfg.MaxAttempts-1 {
			wait := delay
			if cfg.Jitter > 0 {
				wait += time.Duration(rand.Float64() * cfg.Jitter * float64(delay))
			}
			logging.ResilienceDebug("%q attempt %d failed (%v), retrying in %v",
				dependency, attempt+1, err, wait)
			select {
			case <-ctx.Done():
				return zero, ctx.Err()
			case <-time.After(wait):
			}
			delay *= 2
			if delay > cfg.MaxDelay {
				delay = cfg.MaxDelay
			}
		}
	}

	logging.Resilience("%q exhausted %d attempts: %v", dependency, cfg.MaxAttempts, lastErr)
	return zero, lastErr
}

// runWithTimeout executes one attempt under a deadline. A deadline hit that
// the parent did not cause surfaces as ErrTimeout (transient).
func runWithTimeout[T any](ctx context.Context, timeout time.Duration, fn func(context.Context) (T, error)) (T, error) {
	attemptCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	result, err := fn(attemptCtx)
	if err != nil && errors.Is(err, context.DeadlineExceeded) && ctx.Err() == nil {
		var zero T
		return zero, ErrTimeout
	}
	return result, err
}
