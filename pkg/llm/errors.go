// Package llm is the single gate in front of the model provider: admission
// via a global semaphore, per-mode budgets, bounded retries, and a circuit
// breaker protecting the upstream.
package llm

import (
	"context"
	"errors"
	"fmt"
	"net"
)

// ErrUnavailable is returned without calling the provider while the circuit
// breaker is open.
var ErrUnavailable = errors.New("llm: provider unavailable")

// ErrTimeout is returned when a call exceeds its mode's time budget.
var ErrTimeout = errors.New("llm: call timed out")

// ProviderError is a non-2xx response from the provider.
type ProviderError struct {
	StatusCode int
	Message    string
}

func (e *ProviderError) Error() string {
	return fmt.Sprintf("llm: provider status %d: %s", e.StatusCode, e.Message)
}

// retryable reports whether an error is worth retrying: network failures and
// provider 5xx. Client errors (4xx) and budget exhaustion are not.
func retryable(err error) bool {
	var pe *ProviderError
	if errors.As(err, &pe) {
		return pe.StatusCode >= 500
	}
	var ne net.Error
	if errors.As(err, &ne) {
		return true
	}
	// Context errors belong to the caller's budget, never retried here.
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	return false
}
