package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/specsmith/specsmith/pkg/models"
)

// SaveCollabState upserts a session's collaboration state snapshot.
func (s *Store) SaveCollabState(ctx context.Context, state *models.CollaborationState, at time.Time) error {
	buf, err := json.Marshal(state)
	if err != nil {
		return fmt.Errorf("store: marshal collab state: %w", err)
	}
	query := s.rebind(`
		INSERT INTO collab_states (session_id, revision, state, updated_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT (session_id) DO UPDATE SET
			revision = excluded.revision,
			state = excluded.state,
			updated_at = excluded.updated_at`)
	_, err = s.db.ExecContext(ctx, query, state.SessionID, state.Revision, string(buf), at)
	if err != nil {
		return fmt.Errorf("store: save collab state %s: %w", state.SessionID, err)
	}
	return nil
}

// GetCollabState fetches a session's collaboration state.
func (s *Store) GetCollabState(ctx context.Context, sessionID string) (*models.CollaborationState, error) {
	var raw string
	query := s.rebind(`SELECT state FROM collab_states WHERE session_id = ?`)
	if err := s.db.GetContext(ctx, &raw, query, sessionID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("store: get collab state %s: %w", sessionID, err)
	}
	state := models.NewCollaborationState(sessionID)
	if err := json.Unmarshal([]byte(raw), state); err != nil {
		return nil, fmt.Errorf("store: unmarshal collab state %s: %w", sessionID, err)
	}
	return state, nil
}
