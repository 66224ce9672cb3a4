// Package cleanup runs the retention purge: terminal sessions older than the
// configured TTL are deleted together with their dependent rows.
package cleanup

import (
	"context"
	"log/slog"
	"time"

	"github.com/specsmith/specsmith/pkg/clock"
)

// Purger deletes terminal sessions whose last activity predates cutoff.
type Purger interface {
	PurgeExpiredSessions(ctx context.Context, cutoff time.Time) (int64, error)
}

// Service periodically purges expired sessions.
type Service struct {
	purger   Purger
	clock    clock.Clock
	ttl      time.Duration
	interval time.Duration

	stop chan struct{}
	done chan struct{}
}

// New builds the purge service. ttl and interval must be positive.
func New(purger Purger, cl clock.Clock, ttl, interval time.Duration) *Service {
	return &Service{
		purger:   purger,
		clock:    cl,
		ttl:      ttl,
		interval: interval,
		stop:     make(chan struct{}),
		done:     make(chan struct{}),
	}
}

// Start launches the purge loop. The first purge runs after one interval.
func (s *Service) Start() {
	go s.run()
}

// Stop halts the loop and waits for a purge in progress to finish.
func (s *Service) Stop() {
	close(s.stop)
	<-s.done
}

func (s *Service) run() {
	defer close(s.done)
	timer := s.clock.NewTimer(s.interval)
	defer timer.Stop()
	for {
		select {
		case <-s.stop:
			return
		case <-timer.C():
			s.purge()
			timer.Reset(s.interval)
		}
	}
}

func (s *Service) purge() {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	cutoff := s.clock.Now().Add(-s.ttl)
	n, err := s.purger.PurgeExpiredSessions(ctx, cutoff)
	if err != nil {
		slog.Error("Retention purge failed", "error", err)
		return
	}
	if n > 0 {
		slog.Info("Purged expired sessions", "count", n, "cutoff", cutoff)
	}
}
