package store

import (
	"context"
	"encoding/json"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/specsmith/specsmith/pkg/models"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(context.Background(), filepath.Join(t.TempDir(), "test.db"), "")
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func newTestSession(id string, phase models.Phase, at time.Time) *models.Session {
	return &models.Session{
		ID:              id,
		Mode:            models.ModeStandard,
		Phase:           phase,
		RequirementText: "build an order management portal",
		CreatedAt:       at,
		UpdatedAt:       at,
		LastActivityAt:  at,
	}
}

func TestSessionLifecycle(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	now := time.Now().UTC().Truncate(time.Second)

	sess := newTestSession("sess-1", models.PhaseClarifying, now)
	require.NoError(t, s.CreateSession(ctx, sess))

	got, err := s.GetSession(ctx, "sess-1")
	require.NoError(t, err)
	assert.Equal(t, models.PhaseClarifying, got.Phase)
	assert.Equal(t, sess.RequirementText, got.RequirementText)

	got.Phase = models.PhaseAnalyzing
	got.Progress = 0.4
	got.UpdatedAt = now.Add(time.Minute)
	require.NoError(t, s.UpdateSession(ctx, got))

	got, err = s.GetSession(ctx, "sess-1")
	require.NoError(t, err)
	assert.Equal(t, models.PhaseAnalyzing, got.Phase)
	assert.InDelta(t, 0.4, got.Progress, 1e-9)

	_, err = s.GetSession(ctx, "missing")
	assert.ErrorIs(t, err, ErrNotFound)

	err = s.UpdateSession(ctx, newTestSession("missing", models.PhaseDone, now))
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestListAndCountActiveSessions(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	now := time.Now().UTC()

	require.NoError(t, s.CreateSession(ctx, newTestSession("a", models.PhaseClarifying, now)))
	require.NoError(t, s.CreateSession(ctx, newTestSession("b", models.PhaseDone, now.Add(time.Second))))
	require.NoError(t, s.CreateSession(ctx, newTestSession("c", models.PhaseDocumenting, now.Add(2*time.Second))))

	active, err := s.ListActiveSessions(ctx)
	require.NoError(t, err)
	require.Len(t, active, 2)
	assert.Equal(t, "a", active[0].ID)
	assert.Equal(t, "c", active[1].ID)

	n, err := s.CountActiveSessions(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, n)
}

func TestPurgeExpiredSessions(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	now := time.Now().UTC()

	old := newTestSession("old-done", models.PhaseDone, now.Add(-8*24*time.Hour))
	require.NoError(t, s.CreateSession(ctx, old))
	// Active sessions are never purged, no matter how old.
	stale := newTestSession("old-active", models.PhaseAnalyzing, now.Add(-8*24*time.Hour))
	require.NoError(t, s.CreateSession(ctx, stale))
	fresh := newTestSession("fresh-done", models.PhaseDone, now)
	require.NoError(t, s.CreateSession(ctx, fresh))

	n, err := s.PurgeExpiredSessions(ctx, now.Add(-7*24*time.Hour))
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	_, err = s.GetSession(ctx, "old-done")
	assert.ErrorIs(t, err, ErrNotFound)
	_, err = s.GetSession(ctx, "old-active")
	assert.NoError(t, err)
	_, err = s.GetSession(ctx, "fresh-done")
	assert.NoError(t, err)
}

func TestEventsAppendAndReplay(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	now := time.Now().UTC()

	require.NoError(t, s.CreateSession(ctx, newTestSession("sess-1", models.PhaseClarifying, now)))

	for i := int64(1); i <= 5; i++ {
		ev := &models.Event{
			SessionID: "sess-1",
			Seq:       i,
			Kind:      models.EventTaskUpdate,
			Timestamp: now.Add(time.Duration(i) * time.Second),
			Payload:   json.RawMessage(`{"progress":0.5}`),
		}
		require.NoError(t, s.AppendEvent(ctx, ev))
	}

	// Duplicate seq violates the primary key.
	err := s.AppendEvent(ctx, &models.Event{SessionID: "sess-1", Seq: 3, Kind: models.EventHeartbeat, Timestamp: now})
	assert.Error(t, err)

	events, err := s.ListEvents(ctx, "sess-1", 3, 0)
	require.NoError(t, err)
	require.Len(t, events, 3)
	assert.Equal(t, int64(3), events[0].Seq)
	assert.Equal(t, int64(5), events[2].Seq)
	assert.Equal(t, models.EventTaskUpdate, events[0].Kind)
	assert.JSONEq(t, `{"progress":0.5}`, string(events[0].Payload))

	events, err = s.ListEvents(ctx, "sess-1", 1, 2)
	require.NoError(t, err)
	require.Len(t, events, 2)
	assert.Equal(t, int64(2), events[1].Seq)

	seq, err := s.LastEventSeq(ctx, "sess-1")
	require.NoError(t, err)
	assert.Equal(t, int64(5), seq)

	seq, err = s.LastEventSeq(ctx, "no-events")
	require.NoError(t, err)
	assert.Zero(t, seq)
}

func TestTaskRoundTrip(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	now := time.Now().UTC().Truncate(time.Second)

	require.NoError(t, s.CreateSession(ctx, newTestSession("sess-1", models.PhaseAnalyzing, now)))

	task := &models.Task{
		ID:           "task-1",
		SessionID:    "sess-1",
		Name:         "business_process",
		Status:       models.TaskStatusRunning,
		Progress:     0.5,
		Weight:       1,
		Participants: []models.Participant{{Role: "analyst", AgentID: "analyst-1"}},
		Dependencies: []string{"task-0"},
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	require.NoError(t, s.SaveTask(ctx, task))

	task.Status = models.TaskStatusSucceeded
	task.Progress = 1.0
	task.Result = &models.TaskResult{
		Content: "process map",
		Quality: &models.RubricScore{
			Scores:  map[string]float64{"completeness": 0.9},
			Overall: 0.9,
			Passed:  true,
		},
	}
	task.UpdatedAt = now.Add(time.Minute)
	require.NoError(t, s.SaveTask(ctx, task))

	tasks, err := s.ListTasks(ctx, "sess-1")
	require.NoError(t, err)
	require.Len(t, tasks, 1)
	got := tasks[0]
	assert.Equal(t, models.TaskStatusSucceeded, got.Status)
	assert.Equal(t, []string{"task-0"}, got.Dependencies)
	require.NotNil(t, got.Result)
	assert.Equal(t, "process map", got.Result.Content)
	require.NotNil(t, got.Result.Quality)
	assert.True(t, got.Result.Quality.Passed)
}

func TestRoundsOrderedBySeq(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	now := time.Now().UTC().Truncate(time.Second)

	require.NoError(t, s.CreateSession(ctx, newTestSession("sess-1", models.PhaseClarifying, now)))

	r1 := &models.ClarificationRound{
		ID:  "round-1",
		Seq: 1,
		Questions: []models.Question{
			{ID: "q1", Text: "Who are the users?", Category: "user_roles", Priority: models.PriorityHigh},
		},
		CreatedAt: now,
	}
	require.NoError(t, s.SaveRound(ctx, "sess-1", r1))

	// Answers arrive later; the upsert fills them in.
	r1.Answers = map[string]string{"q1": "warehouse staff and managers"}
	r1.Quality = &models.QualitySnapshot{Overall: 0.65}
	require.NoError(t, s.SaveRound(ctx, "sess-1", r1))

	r2 := &models.ClarificationRound{ID: "round-2", Seq: 2, Questions: []models.Question{{ID: "q2", Text: "Any SLAs?"}}, CreatedAt: now.Add(time.Minute)}
	require.NoError(t, s.SaveRound(ctx, "sess-1", r2))

	rounds, err := s.ListRounds(ctx, "sess-1")
	require.NoError(t, err)
	require.Len(t, rounds, 2)
	assert.Equal(t, 1, rounds[0].Seq)
	assert.Equal(t, "warehouse staff and managers", rounds[0].Answers["q1"])
	require.NotNil(t, rounds[0].Quality)
	assert.InDelta(t, 0.65, rounds[0].Quality.Overall, 1e-9)
	assert.True(t, rounds[0].Answered())
	assert.False(t, rounds[1].Answered())
}

func TestArtifactUpsertByName(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	now := time.Now().UTC().Truncate(time.Second)

	require.NoError(t, s.CreateSession(ctx, newTestSession("sess-1", models.PhaseDocumenting, now)))

	a := &models.Artifact{
		ID: "art-1", SessionID: "sess-1", Name: "requirements_spec.md",
		ContentType: "text/markdown", Content: "# Draft", TaskID: "task-1", CreatedAt: now,
	}
	require.NoError(t, s.SaveArtifact(ctx, a))

	// A re-document pass replaces the content under the same name.
	a.ID = "art-2"
	a.Content = "# Revised"
	a.TaskID = "task-2"
	require.NoError(t, s.SaveArtifact(ctx, a))

	got, err := s.GetArtifact(ctx, "sess-1", "requirements_spec.md")
	require.NoError(t, err)
	assert.Equal(t, "# Revised", got.Content)
	assert.Equal(t, "task-2", got.TaskID)

	all, err := s.ListArtifacts(ctx, "sess-1")
	require.NoError(t, err)
	assert.Len(t, all, 1)

	_, err = s.GetArtifact(ctx, "sess-1", "missing.md")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestCollabStateRoundTrip(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	now := time.Now().UTC()

	require.NoError(t, s.CreateSession(ctx, newTestSession("sess-1", models.PhaseAnalyzing, now)))

	state := models.NewCollaborationState("sess-1")
	state.Roles["analyst"] = models.TaskStatusRunning
	state.Shared["analysis.value"] = json.RawMessage(`{"summary":"high"}`)
	state.Revision = 3
	require.NoError(t, s.SaveCollabState(ctx, state, now))

	got, err := s.GetCollabState(ctx, "sess-1")
	require.NoError(t, err)
	assert.Equal(t, int64(3), got.Revision)
	assert.Equal(t, models.TaskStatusRunning, got.Roles["analyst"])
	assert.JSONEq(t, `{"summary":"high"}`, string(got.Shared["analysis.value"]))

	_, err = s.GetCollabState(ctx, "missing")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestCascadeDeleteOnPurge(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	now := time.Now().UTC()

	sess := newTestSession("gone", models.PhaseDone, now.Add(-30*24*time.Hour))
	require.NoError(t, s.CreateSession(ctx, sess))
	require.NoError(t, s.AppendEvent(ctx, &models.Event{SessionID: "gone", Seq: 1, Kind: models.EventPhase, Timestamp: now}))
	require.NoError(t, s.AppendMessage(ctx, &models.Message{
		ID: "m1", SessionID: "gone", Role: models.MessageRoleUser, Kind: models.MessageKindChat,
		Payload: json.RawMessage(`{"text":"hi"}`), Timestamp: now,
	}))

	msgs, err := s.ListMessages(ctx, "gone")
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	assert.JSONEq(t, `{"text":"hi"}`, string(msgs[0].Payload))

	n, err := s.PurgeExpiredSessions(ctx, now.Add(-7*24*time.Hour))
	require.NoError(t, err)
	require.Equal(t, int64(1), n)

	events, err := s.ListEvents(ctx, "gone", 0, 0)
	require.NoError(t, err)
	assert.Empty(t, events)
	msgs, err = s.ListMessages(ctx, "gone")
	require.NoError(t, err)
	assert.Empty(t, msgs)
}
