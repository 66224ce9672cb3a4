package llm

import (
	"log/slog"
	"sync"
	"time"

	"github.com/specsmith/specsmith/pkg/clock"
)

// Breaker states.
const (
	stateClosed = iota
	stateOpen
	stateHalfOpen
)

const (
	breakerThreshold = 5
	breakerWindow    = 60 * time.Second
	breakerCooldown  = 30 * time.Second
)

// Breaker is a three-state circuit breaker. It opens after breakerThreshold
// failures inside breakerWindow, rejects calls for breakerCooldown, then
// admits a single probe. The probe's outcome decides: success closes the
// circuit, failure re-opens it for another cooldown.
type Breaker struct {
	clock clock.Clock

	mu       sync.Mutex
	state    int
	failures []time.Time // failure timestamps within the window
	openedAt time.Time
	probing  bool
}

// NewBreaker returns a closed breaker.
func NewBreaker(cl clock.Clock) *Breaker {
	return &Breaker{clock: cl}
}

// Allow reports whether a call may proceed. In half-open state only one
// in-flight probe is admitted at a time.
func (b *Breaker) Allow() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	switch b.state {
	case stateClosed:
		return true
	case stateOpen:
		if b.clock.Since(b.openedAt) < breakerCooldown {
			return false
		}
		b.state = stateHalfOpen
		b.probing = true
		slog.Info("Circuit breaker half-open, admitting probe")
		return true
	default: // half-open
		if b.probing {
			return false
		}
		b.probing = true
		return true
	}
}

// OnSuccess records a successful call.
func (b *Breaker) OnSuccess() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.state == stateHalfOpen {
		slog.Info("Circuit breaker closed after successful probe")
	}
	b.state = stateClosed
	b.failures = b.failures[:0]
	b.probing = false
}

// OnFailure records a failed call, possibly tripping the circuit.
func (b *Breaker) OnFailure() {
	b.mu.Lock()
	defer b.mu.Unlock()
	now := b.clock.Now()

	if b.state == stateHalfOpen {
		b.state = stateOpen
		b.openedAt = now
		b.probing = false
		slog.Warn("Circuit breaker re-opened after failed probe")
		return
	}

	// Slide the window, then count.
	kept := b.failures[:0]
	for _, t := range b.failures {
		if now.Sub(t) < breakerWindow {
			kept = append(kept, t)
		}
	}
	b.failures = append(kept, now)

	if b.state == stateClosed && len(b.failures) >= breakerThreshold {
		b.state = stateOpen
		b.openedAt = now
		slog.Warn("Circuit breaker opened", "failures", len(b.failures), "window", breakerWindow)
	}
}

// State reports the current state as "closed", "open", or "half-open".
func (b *Breaker) State() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	switch b.state {
	case stateOpen:
		return "open"
	case stateHalfOpen:
		return "half-open"
	default:
		return "closed"
	}
}

// open reports whether calls are currently rejected. Used by tests.
func (b *Breaker) open() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state == stateOpen && b.clock.Since(b.openedAt) < breakerCooldown
}
