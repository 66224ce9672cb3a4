package cleanup

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/specsmith/specsmith/pkg/clock"
)

type recordingPurger struct {
	mu      sync.Mutex
	cutoffs []time.Time
	err     error
}

func (p *recordingPurger) PurgeExpiredSessions(_ context.Context, cutoff time.Time) (int64, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.cutoffs = append(p.cutoffs, cutoff)
	return 2, p.err
}

func (p *recordingPurger) calls() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.cutoffs)
}

func TestPurgeRunsOnInterval(t *testing.T) {
	cl := clock.NewFake()
	ttl := 7 * 24 * time.Hour
	start := cl.Now()
	purger := &recordingPurger{}
	svc := New(purger, cl, ttl, time.Hour)
	svc.Start()
	defer svc.Stop()

	require.Eventually(t, func() bool {
		cl.Advance(time.Hour)
		return purger.calls() >= 2
	}, 5*time.Second, 10*time.Millisecond)

	purger.mu.Lock()
	first := purger.cutoffs[0]
	purger.mu.Unlock()
	// The cutoff trails the clock by the TTL. The first purge can fire no
	// earlier than one interval in.
	assert.False(t, first.Before(start.Add(time.Hour).Add(-ttl)))
	assert.False(t, first.After(cl.Now().Add(-ttl)))
}

func TestPurgeErrorKeepsLoopAlive(t *testing.T) {
	cl := clock.NewFake()
	purger := &recordingPurger{err: errors.New("db locked")}
	svc := New(purger, cl, time.Hour, time.Minute)
	svc.Start()
	defer svc.Stop()

	require.Eventually(t, func() bool {
		cl.Advance(time.Minute)
		return purger.calls() >= 3
	}, 5*time.Second, 10*time.Millisecond)
}

func TestStopHaltsLoop(t *testing.T) {
	cl := clock.NewFake()
	purger := &recordingPurger{}
	svc := New(purger, cl, time.Hour, time.Minute)
	svc.Start()
	svc.Stop()

	before := purger.calls()
	cl.Advance(10 * time.Minute)
	assert.Equal(t, before, purger.calls())
}
