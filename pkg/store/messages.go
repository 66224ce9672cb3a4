package store

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/specsmith/specsmith/pkg/models"
)

// messageRow is the flat DB shape of a Message; the payload lives in a TEXT
// column and is converted on the way out.
type messageRow struct {
	ID        string    `db:"id"`
	SessionID string    `db:"session_id"`
	Role      string    `db:"role"`
	Author    string    `db:"author"`
	Kind      string    `db:"kind"`
	Payload   string    `db:"payload"`
	CreatedAt time.Time `db:"created_at"`
}

func (r *messageRow) toMessage() *models.Message {
	return &models.Message{
		ID:        r.ID,
		SessionID: r.SessionID,
		Role:      models.MessageRole(r.Role),
		Author:    r.Author,
		Kind:      models.MessageKind(r.Kind),
		Timestamp: r.CreatedAt,
		Payload:   json.RawMessage(r.Payload),
	}
}

// AppendMessage persists one conversation message.
func (s *Store) AppendMessage(ctx context.Context, msg *models.Message) error {
	payload := msg.Payload
	if payload == nil {
		payload = []byte("{}")
	}
	query := s.rebind(`
		INSERT INTO messages (id, session_id, role, author, kind, payload, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`)
	_, err := s.db.ExecContext(ctx, query,
		msg.ID, msg.SessionID, msg.Role, msg.Author, msg.Kind, string(payload), msg.Timestamp)
	if err != nil {
		return fmt.Errorf("store: append message %s: %w", msg.ID, err)
	}
	return nil
}

// ListMessages returns a session's messages in chronological order.
func (s *Store) ListMessages(ctx context.Context, sessionID string) ([]*models.Message, error) {
	var rows []*messageRow
	query := s.rebind(`
		SELECT id, session_id, role, author, kind, payload, created_at
		FROM messages WHERE session_id = ? ORDER BY created_at, id`)
	if err := s.db.SelectContext(ctx, &rows, query, sessionID); err != nil {
		return nil, fmt.Errorf("store: list messages %s: %w", sessionID, err)
	}
	msgs := make([]*models.Message, 0, len(rows))
	for _, r := range rows {
		msgs = append(msgs, r.toMessage())
	}
	return msgs, nil
}
