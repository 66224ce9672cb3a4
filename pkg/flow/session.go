package flow

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/specsmith/specsmith/pkg/agent"
	"github.com/specsmith/specsmith/pkg/config"
	"github.com/specsmith/specsmith/pkg/events"
	"github.com/specsmith/specsmith/pkg/llm"
	"github.com/specsmith/specsmith/pkg/models"
)

// stepRetryDelays back off transient step failures inside a phase.
var stepRetryDelays = []time.Duration{500 * time.Millisecond, 2 * time.Second}

// Phase progress bands. A phase's tasks map onto its band so session
// progress is monotone across the whole flow.
type progressBand struct{ from, to float64 }

func (m *Manager) band(st *sessionState, phase models.Phase) progressBand {
	profile := m.cfg.Profile(st.sess.Mode)
	switch phase {
	case models.PhaseClarifying:
		return progressBand{0, 0.2}
	case models.PhaseAnalyzing:
		return progressBand{0.2, 0.6}
	case models.PhaseDocumenting:
		if profile.SkipReview {
			return progressBand{0.6, 1.0}
		}
		return progressBand{0.6, 0.9}
	case models.PhaseReviewing:
		return progressBand{0.9, 1.0}
	}
	return progressBand{1, 1}
}

// run is the per-session flow goroutine.
func (m *Manager) run(st *sessionState) {
	defer m.wg.Done()
	err := m.advance(st)
	m.finalize(st, err)
}

// advance walks the phase machine starting from the session's current phase,
// which after a restart may be mid-flow.
func (m *Manager) advance(st *sessionState) error {
	for {
		if err := context.Cause(st.ctx); err != nil {
			return err
		}
		st.mu.Lock()
		phase := st.sess.Phase
		st.mu.Unlock()

		switch phase {
		case models.PhaseClarifying:
			if err := m.runClarification(st); err != nil {
				return err
			}
			if err := m.setPhase(st, models.PhaseAnalyzing); err != nil {
				return err
			}
		case models.PhaseAnalyzing:
			if err := m.runAnalysis(st); err != nil {
				return err
			}
			if err := m.setPhase(st, models.PhaseDocumenting); err != nil {
				return err
			}
		case models.PhaseDocumenting:
			if err := m.runDocumenting(st); err != nil {
				return err
			}
			if m.cfg.Profile(st.sess.Mode).SkipReview {
				return nil
			}
			if err := m.setPhase(st, models.PhaseReviewing); err != nil {
				return err
			}
		case models.PhaseReviewing:
			return m.runReview(st)
		default:
			return nil
		}
	}
}

// setPhase transitions, persists, and announces a phase change.
func (m *Manager) setPhase(st *sessionState, to models.Phase) error {
	st.mu.Lock()
	from := st.sess.Phase
	st.sess.Phase = to
	st.sess.Progress = m.band(st, to).from
	now := m.clock.Now()
	st.sess.UpdatedAt = now
	st.sess.LastActivityAt = now
	sess := *st.sess
	st.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := m.store.UpdateSession(ctx, &sess); err != nil {
		return wrap(KindInternal, err, "persist phase %s", to)
	}
	if _, err := m.bus.Publish(ctx, sess.ID, models.EventPhase, events.PhasePayload{From: from, To: to}); err != nil {
		slog.Warn("Failed to publish phase event", "session_id", sess.ID, "error", err)
	}
	slog.Info("Session phase advanced", "session_id", sess.ID, "from", from, "to", to)
	return nil
}

// runAnalysis fans the analyst's sub-steps out as a dependency graph:
// business rules build on the process map, while value and risk analysis run
// alongside it.
func (m *Manager) runAnalysis(st *sessionState) error {
	role := m.cfg.Role(config.RoleAnalyst)
	now := m.clock.Now()

	process := m.newTask(st, config.SubStepBusinessProcess, role.ID, nil, now)
	m.newTask(st, config.SubStepBusinessRules, role.ID, []string{process.ID}, now)
	m.newTask(st, config.SubStepValue, role.ID, nil, now)
	m.newTask(st, config.SubStepRisk, role.ID, nil, now)

	return m.runTaskGraph(st)
}

// runDocumenting runs the writer and publishes the specification artifact.
func (m *Manager) runDocumenting(st *sessionState) error {
	role := m.cfg.Role(config.RoleWriter)
	task := m.newTask(st, "draft_specification", role.ID, nil, m.clock.Now())
	if err := m.runTaskGraph(st); err != nil {
		return err
	}
	return m.saveTaskArtifact(st, task.ID, specArtifactName)
}

// runReview runs the reviewer. In modes with a review retry budget, one
// failed review triggers a single re-document and re-review; a second failed
// verdict is fatal. Without the budget, a failed review completes the session
// and the verdict stands in the review report.
func (m *Manager) runReview(st *sessionState) error {
	reviewer := m.cfg.Role(config.RoleReviewer)
	review := m.newTask(st, "review_specification", reviewer.ID, nil, m.clock.Now())
	if err := m.runTaskGraph(st); err != nil {
		return err
	}
	if err := m.saveTaskArtifact(st, review.ID, reviewArtifactName); err != nil {
		return err
	}

	if m.reviewPassed(st, review.ID) {
		return nil
	}
	if !m.cfg.Profile(st.sess.Mode).ReviewRetry {
		m.appendMessage(st, models.MessageRoleSystem, "", models.MessageKindProgress,
			"review flagged unresolved concerns; see "+reviewArtifactName)
		return nil
	}

	slog.Info("Review flagged the specification, re-documenting once", "session_id", st.sess.ID)
	writer := m.cfg.Role(config.RoleWriter)
	redo := m.newTask(st, "revise_specification", writer.ID, nil, m.clock.Now())
	if err := m.runTaskGraph(st); err != nil {
		return err
	}
	if err := m.saveTaskArtifact(st, redo.ID, specArtifactName); err != nil {
		return err
	}

	recheck := m.newTask(st, "recheck_specification", reviewer.ID, nil, m.clock.Now())
	if err := m.runTaskGraph(st); err != nil {
		return err
	}
	if err := m.saveTaskArtifact(st, recheck.ID, reviewArtifactName); err != nil {
		return err
	}
	if !m.reviewPassed(st, recheck.ID) {
		return E(KindInternal, "specification failed review after one revision")
	}
	return nil
}

// reviewPassed reports whether a finished review task's quality verdict
// cleared the reviewer threshold.
func (m *Manager) reviewPassed(st *sessionState, taskID string) bool {
	st.mu.Lock()
	defer st.mu.Unlock()
	t := st.tasks[taskID]
	return t != nil && t.Result != nil && t.Result.Quality != nil && t.Result.Quality.Passed
}

const (
	specArtifactName   = "requirements_spec.md"
	reviewArtifactName = "review_report.md"
)

// newTask registers an idle task in the session's graph.
func (m *Manager) newTask(st *sessionState, name, roleID string, deps []string, now time.Time) *models.Task {
	task := &models.Task{
		ID:           uuid.New().String(),
		SessionID:    st.sess.ID,
		Name:         name,
		Status:       models.TaskStatusIdle,
		Weight:       1,
		Dependencies: deps,
		Participants: []models.Participant{{Role: roleID, AgentID: roleID + "-" + name}},
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	st.mu.Lock()
	st.tasks[task.ID] = task
	st.mu.Unlock()
	return task
}

// saveTaskArtifact publishes a succeeded task's content as a named artifact.
func (m *Manager) saveTaskArtifact(st *sessionState, taskID, name string) error {
	st.mu.Lock()
	task := st.tasks[taskID]
	var content string
	if task != nil && task.Result != nil {
		content = task.Result.Content
	}
	st.mu.Unlock()
	if content == "" {
		return E(KindInternal, "task %s finished without content", taskID)
	}

	artifact := &models.Artifact{
		ID:          uuid.New().String(),
		SessionID:   st.sess.ID,
		Name:        name,
		ContentType: "text/markdown",
		Content:     content,
		TaskID:      taskID,
		CreatedAt:   m.clock.Now(),
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := m.store.SaveArtifact(ctx, artifact); err != nil {
		return wrap(KindInternal, err, "persist artifact %s", name)
	}
	st.mu.Lock()
	if task.Result != nil {
		task.Result.Artifacts = append(task.Result.Artifacts, name)
	}
	st.mu.Unlock()
	m.appendMessage(st, models.MessageRoleAgent, participantRole(task), models.MessageKindArtifact, "produced "+name)
	return nil
}

func participantRole(task *models.Task) string {
	if task == nil || len(task.Participants) == 0 {
		return ""
	}
	return task.Participants[0].Role
}

// finalize settles the session into done or failed and emits the terminal
// event.
func (m *Manager) finalize(st *sessionState, cause error) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	st.mu.Lock()
	now := m.clock.Now()
	var terminal events.TerminalPayload
	if cause == nil {
		st.sess.Phase = models.PhaseDone
		st.sess.Progress = 1.0
		terminal.Phase = models.PhaseDone
	} else {
		kind := KindOf(cause)
		st.sess.Phase = models.PhaseFailed
		st.sess.ErrorKind = string(kind)
		st.sess.ErrorMessage = cause.Error()
		terminal.Phase = models.PhaseFailed
		terminal.ErrorKind = string(kind)
		terminal.ErrorMessage = cause.Error()

		// Cooperative teardown: anything still in flight is interrupted.
		for _, t := range st.tasks {
			if !t.Status.Terminal() {
				t.Status = models.TaskStatusInterrupted
				t.UpdatedAt = now
			}
		}
	}
	st.sess.UpdatedAt = now
	st.sess.LastActivityAt = now
	sess := *st.sess
	tasks := make([]*models.Task, 0, len(st.tasks))
	for _, t := range st.tasks {
		tasks = append(tasks, t)
	}
	st.mu.Unlock()

	for _, t := range tasks {
		if err := m.store.SaveTask(ctx, t); err != nil {
			slog.Warn("Failed to persist task at finalize", "task_id", t.ID, "error", err)
		}
	}

	if artifacts, err := m.store.ListArtifacts(ctx, sess.ID); err == nil {
		for _, a := range artifacts {
			terminal.Artifacts = append(terminal.Artifacts, a.Name)
		}
	}
	if cause == nil {
		m.publishSummary(st)
	}

	if err := m.store.UpdateSession(ctx, &sess); err != nil {
		slog.Error("Failed to persist terminal session", "session_id", sess.ID, "error", err)
	}
	if _, err := m.bus.Publish(ctx, sess.ID, models.EventTerminal, terminal); err != nil {
		slog.Warn("Failed to publish terminal event", "session_id", sess.ID, "error", err)
		m.bus.CloseStream(sess.ID)
	}
	m.dropSession(sess.ID)

	if cause == nil {
		slog.Info("Session finished", "session_id", sess.ID)
	} else {
		slog.Warn("Session failed", "session_id", sess.ID, "kind", KindOf(cause), "error", cause)
	}
}

// publishSummary asks the writer for a short executive summary of the final
// specification. Best effort; a failure here never fails the session.
func (m *Manager) publishSummary(st *sessionState) {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	artifact, err := m.store.GetArtifact(ctx, st.sess.ID, specArtifactName)
	if err != nil {
		return
	}
	content := artifact.Content
	if len(content) > 8000 {
		content = content[:8000]
	}
	prompt := "Summarize this requirements specification for a stakeholder in at most five sentences:\n\n" + content
	text, err := m.gateway.Complete(ctx, llm.CallQuick, "You are a specification writer.", prompt)
	if err != nil {
		slog.Debug("Executive summary skipped", "session_id", st.sess.ID, "error", err)
		return
	}
	m.appendMessage(st, models.MessageRoleAgent, config.RoleWriter, models.MessageKindChat, text)
}

// withStepRetry retries a transient step with the standard backoff.
func (m *Manager) withStepRetry(ctx context.Context, fn func(context.Context) error) error {
	for attempt := 0; ; attempt++ {
		err := fn(ctx)
		if err == nil {
			return nil
		}
		if !agent.IsTransient(err) || attempt >= len(stepRetryDelays) {
			return err
		}
		slog.Info("Retrying transient step", "attempt", attempt+1, "delay", stepRetryDelays[attempt])
		select {
		case <-m.clock.After(stepRetryDelays[attempt]):
		case <-ctx.Done():
			return context.Cause(ctx)
		}
	}
}
