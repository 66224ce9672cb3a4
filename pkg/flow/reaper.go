package flow

import (
	"log/slog"
	"time"

	"github.com/specsmith/specsmith/pkg/models"
)

// reaperInterval is how often idle sessions are scanned.
const reaperInterval = time.Minute

func (m *Manager) reaperLoop() {
	defer close(m.reaperDone)
	timer := m.clock.NewTimer(reaperInterval)
	defer timer.Stop()
	for {
		select {
		case <-m.reaperStop:
			return
		case <-timer.C():
			m.reapIdle()
			timer.Reset(reaperInterval)
		}
	}
}

// reapIdle cancels sessions that have been waiting on the user past the
// idle budget. Only the clarifying phase waits on the user; working phases
// are never reaped.
func (m *Manager) reapIdle() {
	m.mu.Lock()
	states := make([]*sessionState, 0, len(m.sessions))
	for _, st := range m.sessions {
		states = append(states, st)
	}
	m.mu.Unlock()

	for _, st := range states {
		st.mu.Lock()
		idle := st.sess.Phase == models.PhaseClarifying &&
			m.clock.Since(st.sess.LastActivityAt) > m.cfg.Flow.IdleTimeout
		id := st.sess.ID
		st.mu.Unlock()
		if idle {
			slog.Warn("Reaping idle session", "session_id", id, "idle_timeout", m.cfg.Flow.IdleTimeout)
			st.cancel(E(KindIdleTimeout, "no user input for %s", m.cfg.Flow.IdleTimeout))
		}
	}
}
