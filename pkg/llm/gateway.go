package llm

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/specsmith/specsmith/pkg/clock"
)

// CallMode selects the time and token budget for one provider call. It is
// independent of the session mode: a deep session still issues quick calls
// for cheap steps like Think.
type CallMode string

const (
	CallQuick    CallMode = "quick"
	CallStandard CallMode = "standard"
	CallDeep     CallMode = "deep"
)

// budget is the per-mode envelope.
type budget struct {
	timeout     time.Duration
	maxTokens   int64
	temperature float64
}

var budgets = map[CallMode]budget{
	CallQuick:    {timeout: 20 * time.Second, maxTokens: 1024, temperature: 0.0},
	CallStandard: {timeout: 60 * time.Second, maxTokens: 4096, temperature: 0.0},
	CallDeep:     {timeout: 120 * time.Second, maxTokens: 8192, temperature: 0.2},
}

// retryDelays are the base backoff delays; each is jittered by ±25%.
var retryDelays = []time.Duration{250 * time.Millisecond, 1 * time.Second}

// Request is one completion request as the provider sees it, after the
// gateway applied the mode budget.
type Request struct {
	System      string
	Prompt      string
	MaxTokens   int64
	Temperature float64
}

// Provider performs a single completion call against one upstream.
type Provider interface {
	Name() string
	Complete(ctx context.Context, req Request) (string, error)
}

// Gateway serializes access to the provider: a global concurrency cap,
// per-mode budgets, bounded retries for transient failures, and a circuit
// breaker. All agent LLM traffic goes through here.
type Gateway struct {
	provider Provider
	sem      *semaphore.Weighted
	breaker  *Breaker
	clock    clock.Clock
}

// NewGateway wraps a provider. maxConcurrent <= 0 defaults to 3.
func NewGateway(provider Provider, maxConcurrent int, cl clock.Clock) *Gateway {
	if maxConcurrent <= 0 {
		maxConcurrent = 3
	}
	return &Gateway{
		provider: provider,
		sem:      semaphore.NewWeighted(int64(maxConcurrent)),
		breaker:  NewBreaker(cl),
		clock:    cl,
	}
}

// BreakerState reports the circuit breaker state for health reporting.
func (g *Gateway) BreakerState() string {
	return g.breaker.State()
}

// Complete runs one call under the given mode. Waiting for a concurrency
// slot does not consume the mode's time budget; the budget starts when the
// call is admitted.
func (g *Gateway) Complete(ctx context.Context, mode CallMode, system, prompt string) (string, error) {
	b, ok := budgets[mode]
	if !ok {
		return "", fmt.Errorf("llm: unknown call mode %q", mode)
	}

	if err := g.sem.Acquire(ctx, 1); err != nil {
		return "", err
	}
	defer g.sem.Release(1)

	req := Request{
		System:      system,
		Prompt:      prompt,
		MaxTokens:   b.maxTokens,
		Temperature: b.temperature,
	}

	var lastErr error
	for attempt := 0; ; attempt++ {
		if !g.breaker.Allow() {
			return "", ErrUnavailable
		}

		callCtx, cancel := context.WithTimeout(ctx, b.timeout)
		text, err := g.provider.Complete(callCtx, req)
		cancel()

		if err == nil {
			g.breaker.OnSuccess()
			return text, nil
		}

		// The mode budget expiring is a timeout of this call; the parent
		// context expiring belongs to the caller.
		if errors.Is(err, context.DeadlineExceeded) && ctx.Err() == nil {
			g.breaker.OnFailure()
			return "", ErrTimeout
		}
		if ctx.Err() != nil {
			return "", ctx.Err()
		}

		lastErr = err
		if !retryable(err) {
			// Client errors say nothing about provider health; they do not
			// feed the breaker.
			return "", fmt.Errorf("llm: %s call failed: %w", g.provider.Name(), lastErr)
		}
		g.breaker.OnFailure()
		if attempt >= len(retryDelays) {
			return "", fmt.Errorf("llm: %s call failed: %w", g.provider.Name(), lastErr)
		}

		delay := jitter(retryDelays[attempt])
		slog.Warn("Retrying LLM call", "provider", g.provider.Name(),
			"attempt", attempt+1, "delay", delay, "error", err)
		select {
		case <-g.clock.After(delay):
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}
}

// jitter spreads d by ±25% so synchronized retries fan out.
func jitter(d time.Duration) time.Duration {
	f := 0.75 + rand.Float64()*0.5
	return time.Duration(float64(d) * f)
}
