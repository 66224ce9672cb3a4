package store

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/specsmith/specsmith/pkg/models"
)

// eventRow is the flat DB shape of an Event; the payload lives in a TEXT
// column and is converted on the way out.
type eventRow struct {
	SessionID string    `db:"session_id"`
	Seq       int64     `db:"seq"`
	Kind      string    `db:"kind"`
	Payload   string    `db:"payload"`
	CreatedAt time.Time `db:"created_at"`
}

func (r *eventRow) toEvent() *models.Event {
	return &models.Event{
		SessionID: r.SessionID,
		Seq:       r.Seq,
		Kind:      models.EventKind(r.Kind),
		Timestamp: r.CreatedAt,
		Payload:   json.RawMessage(r.Payload),
	}
}

// AppendEvent persists one stream event. The (session_id, seq) primary key
// rejects duplicate sequence numbers, which would indicate an ordering bug
// upstream in the bus.
func (s *Store) AppendEvent(ctx context.Context, ev *models.Event) error {
	query := s.rebind(`
		INSERT INTO events (session_id, seq, kind, payload, created_at)
		VALUES (?, ?, ?, ?, ?)`)
	payload := ev.Payload
	if payload == nil {
		payload = []byte("{}")
	}
	_, err := s.db.ExecContext(ctx, query, ev.SessionID, ev.Seq, ev.Kind, string(payload), ev.Timestamp)
	if err != nil {
		return fmt.Errorf("store: append event %s/%d: %w", ev.SessionID, ev.Seq, err)
	}
	return nil
}

// ListEvents returns events for a session with seq >= fromSeq, ordered by
// seq. limit <= 0 means no limit.
func (s *Store) ListEvents(ctx context.Context, sessionID string, fromSeq int64, limit int) ([]*models.Event, error) {
	query := `
		SELECT session_id, seq, kind, payload, created_at
		FROM events
		WHERE session_id = ? AND seq >= ?
		ORDER BY seq`
	args := []any{sessionID, fromSeq}
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}
	var rows []*eventRow
	if err := s.db.SelectContext(ctx, &rows, s.rebind(query), args...); err != nil {
		return nil, fmt.Errorf("store: list events %s: %w", sessionID, err)
	}
	events := make([]*models.Event, 0, len(rows))
	for _, r := range rows {
		events = append(events, r.toEvent())
	}
	return events, nil
}

// LastEventSeq returns the highest sequence number recorded for a session,
// or zero when the session has no events.
func (s *Store) LastEventSeq(ctx context.Context, sessionID string) (int64, error) {
	var seq int64
	query := s.rebind(`SELECT COALESCE(MAX(seq), 0) FROM events WHERE session_id = ?`)
	if err := s.db.GetContext(ctx, &seq, query, sessionID); err != nil {
		return 0, fmt.Errorf("store: last event seq %s: %w", sessionID, err)
	}
	return seq, nil
}
