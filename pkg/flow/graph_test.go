package flow

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/specsmith/specsmith/pkg/models"
)

func graphTask(id string, status models.TaskStatus, deps []string, created time.Time) *models.Task {
	return &models.Task{
		ID:           id,
		Name:         id,
		Status:       status,
		Weight:       1,
		Dependencies: deps,
		CreatedAt:    created,
	}
}

func TestValidateGraphRejectsCycles(t *testing.T) {
	now := time.Now()
	tasks := map[string]*models.Task{
		"a": graphTask("a", models.TaskStatusIdle, []string{"b"}, now),
		"b": graphTask("b", models.TaskStatusIdle, []string{"a"}, now),
	}
	err := validateGraph(tasks)
	require.Error(t, err)
	assert.Equal(t, KindInternal, KindOf(err))
}

func TestValidateGraphRejectsUnknownDependency(t *testing.T) {
	tasks := map[string]*models.Task{
		"a": graphTask("a", models.TaskStatusIdle, []string{"ghost"}, time.Now()),
	}
	assert.Error(t, validateGraph(tasks))
}

func TestValidateGraphAcceptsDAG(t *testing.T) {
	now := time.Now()
	tasks := map[string]*models.Task{
		"a": graphTask("a", models.TaskStatusIdle, nil, now),
		"b": graphTask("b", models.TaskStatusIdle, []string{"a"}, now),
		"c": graphTask("c", models.TaskStatusIdle, []string{"a", "b"}, now),
	}
	assert.NoError(t, validateGraph(tasks))
}

func TestReadySetFIFOWithIDTiebreak(t *testing.T) {
	base := time.Now()
	tasks := map[string]*models.Task{
		"late":  graphTask("late", models.TaskStatusIdle, nil, base.Add(time.Second)),
		"b-tie": graphTask("b-tie", models.TaskStatusIdle, nil, base),
		"a-tie": graphTask("a-tie", models.TaskStatusIdle, nil, base),
		"dep":   graphTask("dep", models.TaskStatusIdle, []string{"late"}, base),
		"done":  graphTask("done", models.TaskStatusSucceeded, nil, base),
	}
	ready := readySet(tasks)
	require.Len(t, ready, 3)
	assert.Equal(t, "a-tie", ready[0].ID)
	assert.Equal(t, "b-tie", ready[1].ID)
	assert.Equal(t, "late", ready[2].ID)
}

func TestReadySetRequiresSucceededDeps(t *testing.T) {
	now := time.Now()
	tasks := map[string]*models.Task{
		"failed": graphTask("failed", models.TaskStatusFailed, nil, now),
		"child":  graphTask("child", models.TaskStatusIdle, []string{"failed"}, now),
	}
	assert.Empty(t, readySet(tasks))
	assert.True(t, graphBlocked(tasks))
}

func TestGraphProgressWeighted(t *testing.T) {
	now := time.Now()
	heavy := graphTask("heavy", models.TaskStatusRunning, nil, now)
	heavy.Weight = 3
	heavy.Progress = 1.0
	light := graphTask("light", models.TaskStatusRunning, nil, now)
	light.Progress = 0
	tasks := map[string]*models.Task{"heavy": heavy, "light": light}
	assert.InDelta(t, 0.75, graphProgress(tasks), 1e-9)
}
