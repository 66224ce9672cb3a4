package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/specsmith/specsmith/pkg/models"
)

// CreateSession inserts a new session record.
func (s *Store) CreateSession(ctx context.Context, sess *models.Session) error {
	query := s.rebind(`
		INSERT INTO sessions (id, mode, phase, requirement_text, project_context,
			progress, error_kind, error_message, created_at, updated_at, last_activity_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	_, err := s.db.ExecContext(ctx, query,
		sess.ID, sess.Mode, sess.Phase, sess.RequirementText, sess.ProjectContext,
		sess.Progress, sess.ErrorKind, sess.ErrorMessage,
		sess.CreatedAt, sess.UpdatedAt, sess.LastActivityAt)
	if err != nil {
		return fmt.Errorf("store: create session %s: %w", sess.ID, err)
	}
	return nil
}

// UpdateSession overwrites the mutable columns of an existing session.
func (s *Store) UpdateSession(ctx context.Context, sess *models.Session) error {
	query := s.rebind(`
		UPDATE sessions
		SET phase = ?, progress = ?, error_kind = ?, error_message = ?,
			updated_at = ?, last_activity_at = ?
		WHERE id = ?`)
	res, err := s.db.ExecContext(ctx, query,
		sess.Phase, sess.Progress, sess.ErrorKind, sess.ErrorMessage,
		sess.UpdatedAt, sess.LastActivityAt, sess.ID)
	if err != nil {
		return fmt.Errorf("store: update session %s: %w", sess.ID, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// GetSession fetches a session by ID.
func (s *Store) GetSession(ctx context.Context, id string) (*models.Session, error) {
	var sess models.Session
	query := s.rebind(`SELECT * FROM sessions WHERE id = ?`)
	if err := s.db.GetContext(ctx, &sess, query, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("store: get session %s: %w", id, err)
	}
	return &sess, nil
}

// ListActiveSessions returns every session not in a terminal phase. Used by
// restart recovery and the idle reaper.
func (s *Store) ListActiveSessions(ctx context.Context) ([]*models.Session, error) {
	var sessions []*models.Session
	query := s.rebind(`
		SELECT * FROM sessions
		WHERE phase NOT IN (?, ?)
		ORDER BY created_at`)
	if err := s.db.SelectContext(ctx, &sessions, query, models.PhaseDone, models.PhaseFailed); err != nil {
		return nil, fmt.Errorf("store: list active sessions: %w", err)
	}
	return sessions, nil
}

// CountActiveSessions counts sessions not in a terminal phase.
func (s *Store) CountActiveSessions(ctx context.Context) (int, error) {
	var n int
	query := s.rebind(`SELECT COUNT(*) FROM sessions WHERE phase NOT IN (?, ?)`)
	if err := s.db.GetContext(ctx, &n, query, models.PhaseDone, models.PhaseFailed); err != nil {
		return 0, fmt.Errorf("store: count active sessions: %w", err)
	}
	return n, nil
}

// TouchSession advances a session's activity timestamp.
func (s *Store) TouchSession(ctx context.Context, id string, at time.Time) error {
	query := s.rebind(`UPDATE sessions SET last_activity_at = ?, updated_at = ? WHERE id = ?`)
	if _, err := s.db.ExecContext(ctx, query, at, at, id); err != nil {
		return fmt.Errorf("store: touch session %s: %w", id, err)
	}
	return nil
}

// PurgeExpiredSessions deletes terminal sessions whose last activity is older
// than cutoff. Dependent rows go with them via ON DELETE CASCADE. Returns the
// number of sessions removed.
func (s *Store) PurgeExpiredSessions(ctx context.Context, cutoff time.Time) (int64, error) {
	query := s.rebind(`
		DELETE FROM sessions
		WHERE phase IN (?, ?) AND last_activity_at < ?`)
	res, err := s.db.ExecContext(ctx, query, models.PhaseDone, models.PhaseFailed, cutoff)
	if err != nil {
		return 0, fmt.Errorf("store: purge sessions: %w", err)
	}
	n, _ := res.RowsAffected()
	return n, nil
}
