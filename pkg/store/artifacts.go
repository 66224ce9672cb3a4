package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/specsmith/specsmith/pkg/models"
)

// SaveArtifact upserts an artifact. A re-documenting pass overwrites the
// previous version under the same (session, name) pair.
func (s *Store) SaveArtifact(ctx context.Context, a *models.Artifact) error {
	query := s.rebind(`
		INSERT INTO artifacts (id, session_id, name, content_type, content, task_id, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (session_id, name) DO UPDATE SET
			content = excluded.content,
			content_type = excluded.content_type,
			task_id = excluded.task_id,
			created_at = excluded.created_at`)
	_, err := s.db.ExecContext(ctx, query,
		a.ID, a.SessionID, a.Name, a.ContentType, a.Content, a.TaskID, a.CreatedAt)
	if err != nil {
		return fmt.Errorf("store: save artifact %s/%s: %w", a.SessionID, a.Name, err)
	}
	return nil
}

// GetArtifact fetches one artifact by session and name.
func (s *Store) GetArtifact(ctx context.Context, sessionID, name string) (*models.Artifact, error) {
	var a models.Artifact
	query := s.rebind(`SELECT * FROM artifacts WHERE session_id = ? AND name = ?`)
	if err := s.db.GetContext(ctx, &a, query, sessionID, name); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("store: get artifact %s/%s: %w", sessionID, name, err)
	}
	return &a, nil
}

// ListArtifacts returns a session's artifacts in creation order.
func (s *Store) ListArtifacts(ctx context.Context, sessionID string) ([]*models.Artifact, error) {
	var artifacts []*models.Artifact
	query := s.rebind(`SELECT * FROM artifacts WHERE session_id = ? ORDER BY created_at, id`)
	if err := s.db.SelectContext(ctx, &artifacts, query, sessionID); err != nil {
		return nil, fmt.Errorf("store: list artifacts %s: %w", sessionID, err)
	}
	return artifacts, nil
}
