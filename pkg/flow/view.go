package flow

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/specsmith/specsmith/pkg/events"
	"github.com/specsmith/specsmith/pkg/models"
	"github.com/specsmith/specsmith/pkg/store"
)

// SessionView is the externally visible snapshot of a session: state,
// clarification history, task tree, artifact names, and the quality trend
// across rounds.
type SessionView struct {
	Session      models.Session               `json:"session"`
	Rounds       []*models.ClarificationRound `json:"rounds,omitempty"`
	Tasks        []*models.Task               `json:"tasks,omitempty"`
	Artifacts    []string                     `json:"artifacts,omitempty"`
	QualityTrend []float64                    `json:"quality_trend,omitempty"`
	LastSeq      int64                        `json:"last_seq"`
}

// viewLocked builds a view from live state. st.mu must be held.
func (m *Manager) viewLocked(st *sessionState) *SessionView {
	v := &SessionView{Session: *st.sess}

	for _, r := range st.rounds {
		cp := *r
		cp.Questions = append([]models.Question(nil), r.Questions...)
		cp.Answers = make(map[string]string, len(r.Answers))
		for k, val := range r.Answers {
			cp.Answers[k] = val
		}
		v.Rounds = append(v.Rounds, &cp)
		if r.Quality != nil {
			v.QualityTrend = append(v.QualityTrend, r.Quality.Overall)
		}
	}

	for _, t := range st.tasks {
		cp := *t
		v.Tasks = append(v.Tasks, &cp)
	}
	sort.Slice(v.Tasks, func(i, j int) bool {
		if !v.Tasks[i].CreatedAt.Equal(v.Tasks[j].CreatedAt) {
			return v.Tasks[i].CreatedAt.Before(v.Tasks[j].CreatedAt)
		}
		return v.Tasks[i].ID < v.Tasks[j].ID
	})

	// Artifacts become visible once their producing task succeeded.
	seen := make(map[string]bool)
	for _, t := range v.Tasks {
		if t.Status != models.TaskStatusSucceeded || t.Result == nil {
			continue
		}
		for _, name := range t.Result.Artifacts {
			if !seen[name] {
				seen[name] = true
				v.Artifacts = append(v.Artifacts, name)
			}
		}
	}

	if seq, ok := m.bus.LastSeq(st.sess.ID); ok {
		v.LastSeq = seq
	}
	return v
}

// storedView builds a view for a session with no live state.
func (m *Manager) storedView(ctx context.Context, sessionID string) (*SessionView, error) {
	sess, err := m.store.GetSession(ctx, sessionID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, E(KindUnknownSession, "unknown session %s", sessionID)
		}
		return nil, wrap(KindInternal, err, "load session")
	}
	v := &SessionView{Session: *sess}

	if v.Rounds, err = m.store.ListRounds(ctx, sessionID); err != nil {
		return nil, wrap(KindInternal, err, "load rounds")
	}
	for _, r := range v.Rounds {
		if r.Quality != nil {
			v.QualityTrend = append(v.QualityTrend, r.Quality.Overall)
		}
	}
	if v.Tasks, err = m.store.ListTasks(ctx, sessionID); err != nil {
		return nil, wrap(KindInternal, err, "load tasks")
	}
	artifacts, err := m.store.ListArtifacts(ctx, sessionID)
	if err != nil {
		return nil, wrap(KindInternal, err, "load artifacts")
	}
	for _, a := range artifacts {
		v.Artifacts = append(v.Artifacts, a.Name)
	}
	if v.LastSeq, err = m.store.LastEventSeq(ctx, sessionID); err != nil {
		return nil, wrap(KindInternal, err, "load sequence")
	}
	return v, nil
}

// appendMessage persists a conversation record and streams it. Failures are
// logged, not propagated; messages never block the flow.
func (m *Manager) appendMessage(st *sessionState, role models.MessageRole, author string, kind models.MessageKind, text string) {
	now := m.clock.Now()
	payload, err := json.Marshal(map[string]string{"text": text})
	if err != nil {
		return
	}
	msg := &models.Message{
		ID:        uuid.New().String(),
		SessionID: st.sess.ID,
		Role:      role,
		Author:    author,
		Kind:      kind,
		Timestamp: now,
		Payload:   payload,
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := m.store.AppendMessage(ctx, msg); err != nil {
		slog.Warn("Failed to persist message", "session_id", st.sess.ID, "error", err)
		return
	}
	_, err = m.bus.Publish(ctx, st.sess.ID, models.EventMessage, events.MessagePayload{
		MessageID: msg.ID,
		Role:      role,
		Author:    author,
		Kind:      kind,
		Text:      text,
		Timestamp: now.Format(time.RFC3339Nano),
	})
	if err != nil {
		slog.Warn("Failed to publish message event", "session_id", st.sess.ID, "error", err)
	}
}
