// Package resilience wraps external calls with timeout, retry-with-backoff,
// and a per-dependency circuit breaker. Composition order is fixed:
// breaker(retry(timeout(call))), so an open circuit never attempts a request.
package resilience

import (
	"errors"
	"fmt"
)

// ErrTimeout marks an attempt that exceeded the per-call timeout.
// Timeouts are classified transient and retried.
var ErrTimeout = errors.New("call timed out")

// CircuitOpenError is returned without any network attempt while a
// dependency's circuit is open.
type CircuitOpenError struct {
	Dependency string
}

func (e *CircuitOpenError) Error() string {
	return fmt.Sprintf("circuit open for dependency %q", e.Dependency)
}

// TransientError marks an error as retryable (network failures, 429, 5xx).
type TransientError struct {
	Err error
}

func (e *TransientError) Error() string { return "transient: " + e.Err.Error() }
func (e *TransientError) Unwrap() error { return e.Err }

// PermanentError marks an error as non-retryable (malformed input, auth
// failures, 4xx other than 429).
type PermanentError struct {
	Err error
}

func (e *PermanentError) Error() string { return "permanent: " + e.Err.Error() }
func (e *PermanentError) Unwrap() error { return e.Err }

// Transient wraps err as retryable. Returns nil for nil.
func Transient(err error) error {
	if err == nil {
		return nil
	}
	return &TransientError{Err: err}
}

// Permanent wraps err as non-retryable. Returns nil for nil.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &PermanentError{Err: err}
}

// ClassifyHTTPStatus wraps err according to its HTTP status: 429 and 5xx are
// transient, other 4xx permanent. Unknown statuses stay unwrapped.
func ClassifyHTTPStatus(status int, err error) error {
	if err == nil {
		return nil
	}
	switch {
	case status == 429 || status >= 500:
		return Transient(err)
	case status >= 400:
		return Permanent(err)
	default:
		return err
	}
}

// ShouldRetry is the default retryability predicate. Permanent errors and
// open circuits are never retried; timeouts and transient errors always are.
// Unclassified errors are treated as transient, matching how the network
// failures that dominate them behave.
func ShouldRetry(err error) bool {
	if err == nil {
		return false
	}
	var perm *PermanentError
	if errors.As(err, &perm) {
		return false
	}
	var open *CircuitOpenError
	if errors.As(err, &open) {
		return false
	}
	return true
}
