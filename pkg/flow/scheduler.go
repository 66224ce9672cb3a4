package flow

import (
	"context"
	"log/slog"
	"time"

	"github.com/specsmith/specsmith/pkg/agent"
	"github.com/specsmith/specsmith/pkg/events"
	"github.com/specsmith/specsmith/pkg/models"
)

// runTaskGraph drives every idle task in the session's graph to a terminal
// state, running up to max_agents_per_session tasks concurrently, FIFO among
// ready tasks. The first task failure aborts the phase.
func (m *Manager) runTaskGraph(st *sessionState) error {
	st.mu.Lock()
	if err := validateGraph(st.tasks); err != nil {
		st.mu.Unlock()
		return err
	}
	// The current graph is what progress roll-up tracks for this phase leg.
	st.graph = st.graph[:0]
	for _, t := range st.tasks {
		if !t.Status.Terminal() {
			st.graph = append(st.graph, t.ID)
		}
	}
	st.mu.Unlock()

	done := make(chan taskOutcome)
	inflight := 0

	for {
		st.mu.Lock()
		slots := m.cfg.Flow.MaxAgentsPerSession - runningCount(st.tasks)
		var toStart []*models.Task
		for _, t := range readySet(st.tasks) {
			if slots <= 0 {
				break
			}
			t.Status = models.TaskStatusPreparing
			t.UpdatedAt = m.clock.Now()
			toStart = append(toStart, t)
			slots--
		}
		pending := false
		for _, t := range st.tasks {
			if !t.Status.Terminal() {
				pending = true
				break
			}
		}
		st.mu.Unlock()

		if !pending && inflight == 0 {
			return nil
		}

		for _, t := range toStart {
			m.publishTaskUpdate(st, t, false)
			inflight++
			go func(task *models.Task) {
				done <- taskOutcome{task: task, err: m.executeTask(st, task)}
			}(t)
		}

		if inflight == 0 {
			// Nothing running and nothing startable, yet tasks remain:
			// a failed dependency stranded its dependents.
			return E(KindInternal, "task graph blocked; a dependency can never be satisfied")
		}

		select {
		case out := <-done:
			inflight--
			if out.err != nil {
				m.drainInflight(done, inflight)
				return out.err
			}
		case <-st.ctx.Done():
			m.drainInflight(done, inflight)
			return context.Cause(st.ctx)
		}
	}
}

// taskOutcome pairs a finished task with its classified error, if any.
type taskOutcome struct {
	task *models.Task
	err  error
}

// drainInflight waits out in-flight executions up to the cancel grace; their
// contexts are already collapsing.
func (m *Manager) drainInflight(done chan taskOutcome, inflight int) {
	if inflight == 0 {
		return
	}
	timer := m.clock.NewTimer(m.cfg.Flow.CancelGrace)
	defer timer.Stop()
	for inflight > 0 {
		select {
		case <-done:
			inflight--
		case <-timer.C():
			slog.Warn("Cancel grace expired with tasks still in flight", "remaining", inflight)
			return
		}
	}
}

// executeTask runs one task through the agent runtime with transient
// retries. Returns nil only when the task committed successfully.
func (m *Manager) executeTask(st *sessionState, task *models.Task) error {
	role := m.cfg.Role(participantRole(task))
	if role == nil {
		return m.failTask(st, task, string(KindInternal), E(KindInternal, "task %s has no resolvable role", task.ID))
	}
	runtime := agent.NewRuntime(role, m.gateway)
	profile := m.cfg.Profile(st.sess.Mode)

	st.mu.Lock()
	task.Status = models.TaskStatusRunning
	task.UpdatedAt = m.clock.Now()
	st.collab.Roles[role.ID] = models.TaskStatusRunning
	ec := &agent.ExecutionContext{
		SessionID:      st.sess.ID,
		TaskID:         task.ID,
		TaskName:       task.Name,
		Mode:           st.sess.Mode,
		Requirement:    st.sess.RequirementText,
		ProjectContext: st.sess.ProjectContext,
		Rounds:         st.rounds,
		Collab:         st.collab.Snapshot(),
		OnProgress: func(f float64) {
			m.taskProgress(st, task, f)
		},
	}
	st.mu.Unlock()
	m.persistTask(st, task)
	m.publishTaskUpdate(st, task, false)

	var res *agent.Result
	for attempt := 0; ; attempt++ {
		cctx, cancel := context.WithTimeout(st.ctx, profile.TaskTimeout)
		res = runtime.Execute(cctx, ec)
		cancel()

		if res.Status == agent.StatusSucceeded {
			return m.commitTask(st, task, role.ID, res)
		}
		if res.ErrorKind != "transient" || attempt >= len(stepRetryDelays) {
			break
		}
		slog.Info("Retrying task after transient failure",
			"session_id", st.sess.ID, "task", task.Name, "attempt", attempt+1)
		select {
		case <-m.clock.After(stepRetryDelays[attempt]):
		case <-st.ctx.Done():
			return m.failTask(st, task, "cancelled", context.Cause(st.ctx))
		}
	}
	return m.failTask(st, task, res.ErrorKind, res.Err)
}

// commitTask applies the execution's staged writes atomically: shared state,
// role status, and the task record move together under one lock, and the
// revision advances exactly once.
func (m *Manager) commitTask(st *sessionState, task *models.Task, roleID string, res *agent.Result) error {
	st.mu.Lock()
	now := m.clock.Now()
	keys := make([]string, 0, len(res.Staged))
	for key, value := range res.Staged {
		st.collab.Shared[key] = value
		keys = append(keys, key)
	}
	st.collab.Roles[roleID] = models.TaskStatusSucceeded
	st.collab.Revision++
	revision := st.collab.Revision
	collab := st.collab.Snapshot()

	task.Status = models.TaskStatusSucceeded
	task.Progress = 1.0
	task.Result = &models.TaskResult{Content: res.Content, Quality: res.Quality}
	task.UpdatedAt = now
	st.sess.LastActivityAt = now
	st.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := m.store.SaveCollabState(ctx, collab, now); err != nil {
		return wrap(KindInternal, err, "persist collaboration state")
	}
	m.persistTask(st, task)

	if _, err := m.bus.Publish(ctx, st.sess.ID, models.EventStateDelta, events.StateDeltaPayload{
		Revision: revision,
		Role:     roleID,
		Keys:     keys,
		Status:   string(models.TaskStatusSucceeded),
		TaskID:   task.ID,
	}); err != nil {
		slog.Warn("Failed to publish state delta", "session_id", st.sess.ID, "error", err)
	}
	m.publishTaskUpdate(st, task, false)
	return nil
}

// failTask finalizes a task and converts its error kind into a flow error.
func (m *Manager) failTask(st *sessionState, task *models.Task, kind string, cause error) error {
	st.mu.Lock()
	if kind == "cancelled" {
		task.Status = models.TaskStatusInterrupted
	} else {
		task.Status = models.TaskStatusFailed
	}
	task.UpdatedAt = m.clock.Now()
	if len(task.Participants) > 0 {
		st.collab.Roles[task.Participants[0].Role] = task.Status
	}
	st.mu.Unlock()
	m.persistTask(st, task)
	m.publishTaskUpdate(st, task, false)

	switch kind {
	case "cancelled":
		if cause != nil {
			if fe, ok := cause.(*Error); ok {
				return fe
			}
		}
		return wrap(KindCancelled, cause, "task %s cancelled", task.Name)
	case "timeout":
		return wrap(KindTimeout, cause, "task %s timed out", task.Name)
	case "llm_unavailable":
		return wrap(KindLLMUnavailable, cause, "task %s rejected by provider gate", task.Name)
	case "transient":
		return wrap(KindTransient, cause, "task %s failed after retries", task.Name)
	default:
		return wrap(KindInternal, cause, "task %s failed", task.Name)
	}
}

// taskProgress records a progress tick and publishes it, rate limited.
func (m *Manager) taskProgress(st *sessionState, task *models.Task, fraction float64) {
	st.mu.Lock()
	if fraction > task.Progress {
		task.Progress = fraction
	}
	// Session progress maps the current graph's weighted mean onto the
	// phase band, never moving backwards.
	band := m.band(st, st.sess.Phase)
	graph := make(map[string]*models.Task, len(st.graph))
	for _, id := range st.graph {
		if t, ok := st.tasks[id]; ok {
			graph[id] = t
		}
	}
	p := band.from + (band.to-band.from)*graphProgress(graph)
	if p > st.sess.Progress {
		st.sess.Progress = p
	}
	now := m.clock.Now()
	throttled := now.Sub(st.lastPub[task.ID]) < m.cfg.Flow.ProgressInterval
	if !throttled {
		st.lastPub[task.ID] = now
	}
	st.mu.Unlock()

	if !throttled {
		m.publishTaskUpdate(st, task, true)
	}
}

// publishTaskUpdate emits a task-update event reflecting the task's current
// state.
func (m *Manager) publishTaskUpdate(st *sessionState, task *models.Task, progressOnly bool) {
	st.mu.Lock()
	payload := events.TaskUpdatePayload{
		TaskID:       task.ID,
		Name:         task.Name,
		Status:       task.Status,
		Progress:     task.Progress,
		FlowProgress: st.sess.Progress,
	}
	st.mu.Unlock()
	kind := models.EventTaskUpdate
	if progressOnly {
		kind = models.EventProgress
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if _, err := m.bus.Publish(ctx, st.sess.ID, kind, payload); err != nil {
		slog.Debug("Failed to publish task update", "session_id", st.sess.ID, "error", err)
	}
}

func (m *Manager) persistTask(st *sessionState, task *models.Task) {
	st.mu.Lock()
	cp := *task
	st.mu.Unlock()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := m.store.SaveTask(ctx, &cp); err != nil {
		slog.Warn("Failed to persist task", "task_id", task.ID, "error", err)
	}
}
