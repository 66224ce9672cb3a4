package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/specsmith/specsmith/pkg/models"
)

type roundRow struct {
	ID        string         `db:"id"`
	SessionID string         `db:"session_id"`
	Seq       int            `db:"seq"`
	Questions string         `db:"questions"`
	Answers   string         `db:"answers"`
	Quality   sql.NullString `db:"quality"`
	CreatedAt time.Time      `db:"created_at"`
}

func (r *roundRow) toRound() (*models.ClarificationRound, error) {
	round := &models.ClarificationRound{
		ID:        r.ID,
		Seq:       r.Seq,
		CreatedAt: r.CreatedAt,
	}
	if err := json.Unmarshal([]byte(r.Questions), &round.Questions); err != nil {
		return nil, fmt.Errorf("store: unmarshal questions for round %s: %w", r.ID, err)
	}
	if err := json.Unmarshal([]byte(r.Answers), &round.Answers); err != nil {
		return nil, fmt.Errorf("store: unmarshal answers for round %s: %w", r.ID, err)
	}
	if r.Quality.Valid {
		round.Quality = &models.QualitySnapshot{}
		if err := json.Unmarshal([]byte(r.Quality.String), round.Quality); err != nil {
			return nil, fmt.Errorf("store: unmarshal quality for round %s: %w", r.ID, err)
		}
	}
	return round, nil
}

// SaveRound upserts a clarification round for a session. Answers and the
// quality snapshot may be filled in after the initial insert.
func (s *Store) SaveRound(ctx context.Context, sessionID string, round *models.ClarificationRound) error {
	questions, err := json.Marshal(round.Questions)
	if err != nil {
		return fmt.Errorf("store: marshal questions: %w", err)
	}
	answers := round.Answers
	if answers == nil {
		answers = map[string]string{}
	}
	answersJSON, err := json.Marshal(answers)
	if err != nil {
		return fmt.Errorf("store: marshal answers: %w", err)
	}
	var quality sql.NullString
	if round.Quality != nil {
		buf, err := json.Marshal(round.Quality)
		if err != nil {
			return fmt.Errorf("store: marshal quality: %w", err)
		}
		quality = sql.NullString{String: string(buf), Valid: true}
	}

	query := s.rebind(`
		INSERT INTO clarification_rounds (id, session_id, seq, questions, answers, quality, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (id) DO UPDATE SET
			answers = excluded.answers,
			quality = excluded.quality`)
	_, err = s.db.ExecContext(ctx, query,
		round.ID, sessionID, round.Seq, string(questions), string(answersJSON), quality, round.CreatedAt)
	if err != nil {
		return fmt.Errorf("store: save round %s: %w", round.ID, err)
	}
	return nil
}

// ListRounds returns a session's clarification rounds ordered by seq.
func (s *Store) ListRounds(ctx context.Context, sessionID string) ([]*models.ClarificationRound, error) {
	var rows []*roundRow
	query := s.rebind(`SELECT * FROM clarification_rounds WHERE session_id = ? ORDER BY seq`)
	if err := s.db.SelectContext(ctx, &rows, query, sessionID); err != nil {
		return nil, fmt.Errorf("store: list rounds %s: %w", sessionID, err)
	}
	rounds := make([]*models.ClarificationRound, 0, len(rows))
	for _, r := range rows {
		round, err := r.toRound()
		if err != nil {
			return nil, err
		}
		rounds = append(rounds, round)
	}
	return rounds, nil
}
