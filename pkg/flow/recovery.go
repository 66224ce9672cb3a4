package flow

import (
	"context"
	"errors"
	"log/slog"

	"github.com/specsmith/specsmith/pkg/models"
	"github.com/specsmith/specsmith/pkg/store"
)

// recover reattaches persisted non-terminal sessions after a restart.
// Sessions idle past the stale threshold are failed as stale; the rest
// resume their current phase from durable state.
func (m *Manager) recover(ctx context.Context) error {
	sessions, err := m.store.ListActiveSessions(ctx)
	if err != nil {
		return wrap(KindInternal, err, "list sessions for recovery")
	}
	for _, sess := range sessions {
		lastSeq, err := m.store.LastEventSeq(ctx, sess.ID)
		if err != nil {
			slog.Error("Recovery: sequence lookup failed", "session_id", sess.ID, "error", err)
			continue
		}
		m.bus.OpenStream(sess.ID, lastSeq)
		st := m.newSessionState(sess)

		if m.clock.Since(sess.LastActivityAt) > m.cfg.Flow.StaleThreshold {
			slog.Warn("Recovery: session is stale", "session_id", sess.ID,
				"idle", m.clock.Since(sess.LastActivityAt))
			m.mu.Lock()
			m.sessions[sess.ID] = st
			m.mu.Unlock()
			m.finalize(st, E(KindStaleSession,
				"session inactive across restart beyond %s", m.cfg.Flow.StaleThreshold))
			continue
		}

		if err := m.loadSessionState(ctx, st); err != nil {
			slog.Error("Recovery: load failed", "session_id", sess.ID, "error", err)
			m.mu.Lock()
			m.sessions[sess.ID] = st
			m.mu.Unlock()
			m.finalize(st, wrap(KindInternal, err, "recovery load"))
			continue
		}

		m.mu.Lock()
		m.sessions[sess.ID] = st
		m.mu.Unlock()
		m.wg.Add(1)
		go m.run(st)
		slog.Info("Recovery: session resumed", "session_id", sess.ID, "phase", sess.Phase)
	}
	return nil
}

// loadSessionState rebuilds in-memory state from the store. Tasks caught
// mid-flight by the crash are marked interrupted; the resumed phase
// schedules fresh ones.
func (m *Manager) loadSessionState(ctx context.Context, st *sessionState) error {
	rounds, err := m.store.ListRounds(ctx, st.sess.ID)
	if err != nil {
		return err
	}
	tasks, err := m.store.ListTasks(ctx, st.sess.ID)
	if err != nil {
		return err
	}
	collab, err := m.store.GetCollabState(ctx, st.sess.ID)
	if err != nil && !errors.Is(err, store.ErrNotFound) {
		return err
	}

	st.mu.Lock()
	st.rounds = rounds
	for _, t := range tasks {
		if !t.Status.Terminal() {
			t.Status = models.TaskStatusInterrupted
			t.UpdatedAt = m.clock.Now()
		}
		st.tasks[t.ID] = t
	}
	if collab != nil {
		st.collab = collab
	}
	interrupted := make([]*models.Task, 0)
	for _, t := range st.tasks {
		if t.Status == models.TaskStatusInterrupted {
			interrupted = append(interrupted, t)
		}
	}
	st.mu.Unlock()

	for _, t := range interrupted {
		m.persistTask(st, t)
	}
	return nil
}
