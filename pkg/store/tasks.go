package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/specsmith/specsmith/pkg/models"
)

// taskRow is the flat DB shape of a Task; the nested slices and the result
// live in JSON text columns.
type taskRow struct {
	ID           string         `db:"id"`
	SessionID    string         `db:"session_id"`
	ParentID     string         `db:"parent_id"`
	Name         string         `db:"name"`
	Status       string         `db:"status"`
	Progress     float64        `db:"progress"`
	Weight       float64        `db:"weight"`
	Participants string         `db:"participants"`
	Dependencies string         `db:"dependencies"`
	Result       sql.NullString `db:"result"`
	CreatedAt    time.Time      `db:"created_at"`
	UpdatedAt    time.Time      `db:"updated_at"`
}

func taskToRow(t *models.Task) (*taskRow, error) {
	participants, err := json.Marshal(t.Participants)
	if err != nil {
		return nil, fmt.Errorf("store: marshal participants: %w", err)
	}
	deps, err := json.Marshal(t.Dependencies)
	if err != nil {
		return nil, fmt.Errorf("store: marshal dependencies: %w", err)
	}
	row := &taskRow{
		ID:           t.ID,
		SessionID:    t.SessionID,
		ParentID:     t.ParentID,
		Name:         t.Name,
		Status:       string(t.Status),
		Progress:     t.Progress,
		Weight:       t.Weight,
		Participants: string(participants),
		Dependencies: string(deps),
		CreatedAt:    t.CreatedAt,
		UpdatedAt:    t.UpdatedAt,
	}
	if t.Result != nil {
		result, err := json.Marshal(t.Result)
		if err != nil {
			return nil, fmt.Errorf("store: marshal task result: %w", err)
		}
		row.Result = sql.NullString{String: string(result), Valid: true}
	}
	return row, nil
}

func (r *taskRow) toTask() (*models.Task, error) {
	t := &models.Task{
		ID:        r.ID,
		SessionID: r.SessionID,
		ParentID:  r.ParentID,
		Name:      r.Name,
		Status:    models.TaskStatus(r.Status),
		Progress:  r.Progress,
		Weight:    r.Weight,
		CreatedAt: r.CreatedAt,
		UpdatedAt: r.UpdatedAt,
	}
	if err := json.Unmarshal([]byte(r.Participants), &t.Participants); err != nil {
		return nil, fmt.Errorf("store: unmarshal participants for task %s: %w", r.ID, err)
	}
	if err := json.Unmarshal([]byte(r.Dependencies), &t.Dependencies); err != nil {
		return nil, fmt.Errorf("store: unmarshal dependencies for task %s: %w", r.ID, err)
	}
	if r.Result.Valid {
		t.Result = &models.TaskResult{}
		if err := json.Unmarshal([]byte(r.Result.String), t.Result); err != nil {
			return nil, fmt.Errorf("store: unmarshal result for task %s: %w", r.ID, err)
		}
	}
	return t, nil
}

// SaveTask upserts a task.
func (s *Store) SaveTask(ctx context.Context, t *models.Task) error {
	row, err := taskToRow(t)
	if err != nil {
		return err
	}
	query := s.rebind(`
		INSERT INTO tasks (id, session_id, parent_id, name, status, progress,
			weight, participants, dependencies, result, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (id) DO UPDATE SET
			status = excluded.status,
			progress = excluded.progress,
			participants = excluded.participants,
			result = excluded.result,
			updated_at = excluded.updated_at`)
	_, err = s.db.ExecContext(ctx, query,
		row.ID, row.SessionID, row.ParentID, row.Name, row.Status, row.Progress,
		row.Weight, row.Participants, row.Dependencies, row.Result,
		row.CreatedAt, row.UpdatedAt)
	if err != nil {
		return fmt.Errorf("store: save task %s: %w", t.ID, err)
	}
	return nil
}

// ListTasks returns all tasks for a session, oldest first.
func (s *Store) ListTasks(ctx context.Context, sessionID string) ([]*models.Task, error) {
	var rows []*taskRow
	query := s.rebind(`SELECT * FROM tasks WHERE session_id = ? ORDER BY created_at, id`)
	if err := s.db.SelectContext(ctx, &rows, query, sessionID); err != nil {
		return nil, fmt.Errorf("store: list tasks %s: %w", sessionID, err)
	}
	tasks := make([]*models.Task, 0, len(rows))
	for _, r := range rows {
		t, err := r.toTask()
		if err != nil {
			return nil, err
		}
		tasks = append(tasks, t)
	}
	return tasks, nil
}
