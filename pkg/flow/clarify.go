package flow

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/specsmith/specsmith/pkg/agent"
	"github.com/specsmith/specsmith/pkg/config"
	"github.com/specsmith/specsmith/pkg/events"
	"github.com/specsmith/specsmith/pkg/llm"
	"github.com/specsmith/specsmith/pkg/models"
)

// runClarification drives the clarify task: assess → gate → question → wait
// until the quality gate passes or the round budget runs out. Exhaustion with
// overall at or above the floor promotes anyway; below it, the session fails.
// The clarifier participates in the task tree and collaboration state like
// every other role, so its failure is visible as a state-delta.
func (m *Manager) runClarification(st *sessionState) error {
	role := m.cfg.Role(config.RoleClarifier)
	task := m.newTask(st, "clarify", role.ID, nil, m.clock.Now())
	st.mu.Lock()
	task.Status = models.TaskStatusRunning
	st.collab.Roles[role.ID] = models.TaskStatusRunning
	st.mu.Unlock()
	m.persistTask(st, task)
	m.publishTaskUpdate(st, task, false)

	err := m.clarify(st, role)
	m.settleClarifyTask(st, task, role.ID, err)
	return err
}

func (m *Manager) clarify(st *sessionState, role *config.RoleSpec) error {
	clarifier := agent.NewClarifier(role, m.gateway)
	profile := m.cfg.Profile(st.sess.Mode)

	for {
		// If a round is open and unanswered (fresh ask, or a resumed
		// session), wait before assessing again. Re-check after every pulse;
		// the channel may hold a stale signal from a prior round.
		for {
			st.mu.Lock()
			waiting := len(st.rounds) > 0 && !st.rounds[len(st.rounds)-1].Answered()
			st.mu.Unlock()
			if !waiting {
				break
			}
			select {
			case <-st.answered:
			case <-st.ctx.Done():
				return context.Cause(st.ctx)
			}
		}

		snapshot, err := m.assess(st, clarifier, profile.TaskTimeout)
		if err != nil {
			return err
		}
		snapshot.EvaluateGate(role.QualityWeights)
		m.recordQuality(st, snapshot)

		if snapshot.GatePassed {
			m.publishQuality(st, snapshot, nil, false)
			slog.Info("Clarification gate passed",
				"session_id", st.sess.ID, "overall", snapshot.Overall, "rounds", len(st.rounds))
			return nil
		}

		if len(st.rounds) >= profile.MaxRounds {
			if snapshot.Overall >= models.GateExhaustedFloor {
				m.publishQuality(st, snapshot, nil, true)
				m.appendMessage(st, models.MessageRoleSystem, "", models.MessageKindProgress,
					fmt.Sprintf("clarification budget exhausted at %.2f; proceeding with partial clarity", snapshot.Overall))
				return nil
			}
			m.publishQuality(st, snapshot, nil, true)
			return E(KindClarificationExhausted,
				"quality %.2f still below %.2f after %d rounds",
				snapshot.Overall, models.GateExhaustedFloor, len(st.rounds))
		}

		questions, err := m.generateQuestions(st, clarifier, snapshot, profile)
		if err != nil {
			return err
		}
		if len(questions) == 0 {
			// The model has nothing left to ask; treat like exhaustion.
			if snapshot.Overall >= models.GateExhaustedFloor {
				m.publishQuality(st, snapshot, nil, true)
				return nil
			}
			return E(KindClarificationExhausted,
				"no further questions and quality %.2f below %.2f",
				snapshot.Overall, models.GateExhaustedFloor)
		}

		round := &models.ClarificationRound{
			ID:        uuid.New().String(),
			Seq:       len(st.rounds) + 1,
			Questions: questions,
			Answers:   make(map[string]string),
			CreatedAt: m.clock.Now(),
		}
		st.mu.Lock()
		st.rounds = append(st.rounds, round)
		// Clarification progress walks the band by consumed rounds.
		band := m.band(st, models.PhaseClarifying)
		p := band.from + (band.to-band.from)*float64(round.Seq)/float64(profile.MaxRounds+1)
		if p > st.sess.Progress {
			st.sess.Progress = p
		}
		st.mu.Unlock()

		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		if err := m.store.SaveRound(ctx, st.sess.ID, round); err != nil {
			cancel()
			return wrap(KindInternal, err, "persist round %d", round.Seq)
		}
		cancel()

		m.publishQuality(st, snapshot, questions, false)
		m.appendMessage(st, models.MessageRoleAgent, role.ID, models.MessageKindChat, questionText(questions))
		// Loop back; the top of the loop blocks until the round is answered.
	}
}

// settleClarifyTask moves the clarify task and the clarifier's role status to
// their terminal state and announces the delta, mirroring commitTask/failTask
// for scheduled tasks.
func (m *Manager) settleClarifyTask(st *sessionState, task *models.Task, roleID string, cause error) {
	st.mu.Lock()
	now := m.clock.Now()
	switch {
	case cause == nil:
		task.Status = models.TaskStatusSucceeded
		task.Progress = 1.0
	case KindOf(cause) == KindCancelled || KindOf(cause) == KindIdleTimeout:
		task.Status = models.TaskStatusInterrupted
	default:
		task.Status = models.TaskStatusFailed
	}
	task.UpdatedAt = now
	st.collab.Roles[roleID] = task.Status
	st.collab.Revision++
	revision := st.collab.Revision
	collab := st.collab.Snapshot()
	st.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := m.store.SaveCollabState(ctx, collab, now); err != nil {
		slog.Warn("Failed to persist clarifier state", "session_id", st.sess.ID, "error", err)
	}
	m.persistTask(st, task)
	m.publishTaskUpdate(st, task, false)
	if _, err := m.bus.Publish(ctx, st.sess.ID, models.EventStateDelta, events.StateDeltaPayload{
		Revision: revision,
		Role:     roleID,
		Status:   string(task.Status),
		TaskID:   task.ID,
	}); err != nil {
		slog.Warn("Failed to publish clarifier state delta", "session_id", st.sess.ID, "error", err)
	}
}

// assess runs the dimension scoring step with transient retries.
func (m *Manager) assess(st *sessionState, clarifier *agent.Clarifier, timeout time.Duration) (*models.QualitySnapshot, error) {
	var snapshot *models.QualitySnapshot
	err := m.withStepRetry(st.ctx, func(ctx context.Context) error {
		cctx, cancel := context.WithTimeout(ctx, timeout)
		defer cancel()
		s, err := clarifier.Assess(cctx, m.clarifierContext(st))
		if err == nil {
			snapshot = s
		}
		return err
	})
	if err != nil {
		return nil, m.classifyStepError(st, err, "quality assessment")
	}
	return snapshot, nil
}

func (m *Manager) generateQuestions(st *sessionState, clarifier *agent.Clarifier, snapshot *models.QualitySnapshot, profile config.ModeProfile) ([]models.Question, error) {
	var questions []models.Question
	err := m.withStepRetry(st.ctx, func(ctx context.Context) error {
		cctx, cancel := context.WithTimeout(ctx, profile.TaskTimeout)
		defer cancel()
		qs, err := clarifier.Questions(cctx, m.clarifierContext(st), snapshot,
			profile.QuestionsPerRound, m.cfg.Flow.MaxHighPriority)
		if err == nil {
			questions = qs
		}
		return err
	})
	if err != nil {
		return nil, m.classifyStepError(st, err, "question generation")
	}
	return questions, nil
}

func (m *Manager) clarifierContext(st *sessionState) *agent.ExecutionContext {
	st.mu.Lock()
	defer st.mu.Unlock()
	rounds := make([]*models.ClarificationRound, len(st.rounds))
	copy(rounds, st.rounds)
	return &agent.ExecutionContext{
		SessionID:      st.sess.ID,
		TaskName:       "clarify",
		Mode:           st.sess.Mode,
		Requirement:    st.sess.RequirementText,
		ProjectContext: st.sess.ProjectContext,
		Rounds:         rounds,
		Collab:         st.collab.Snapshot(),
	}
}

// recordQuality attaches the snapshot to the round it evaluated (the latest
// answered one) and persists it.
func (m *Manager) recordQuality(st *sessionState, snapshot *models.QualitySnapshot) {
	st.mu.Lock()
	var round *models.ClarificationRound
	if n := len(st.rounds); n > 0 && st.rounds[n-1].Answered() {
		round = st.rounds[n-1]
		round.Quality = snapshot
	}
	st.mu.Unlock()
	if round == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := m.store.SaveRound(ctx, st.sess.ID, round); err != nil {
		slog.Warn("Failed to persist round quality", "session_id", st.sess.ID, "error", err)
	}
}

func (m *Manager) publishQuality(st *sessionState, snapshot *models.QualitySnapshot, questions []models.Question, exhausted bool) {
	st.mu.Lock()
	seq := len(st.rounds)
	st.mu.Unlock()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_, err := m.bus.Publish(ctx, st.sess.ID, models.EventQuality, events.QualityPayload{
		RoundSeq:  seq,
		Snapshot:  snapshot,
		Questions: questions,
		Exhausted: exhausted,
	})
	if err != nil {
		slog.Warn("Failed to publish quality event", "session_id", st.sess.ID, "error", err)
	}
}

// classifyStepError maps clarification step failures onto the flow taxonomy.
func (m *Manager) classifyStepError(st *sessionState, err error, step string) error {
	if cause := context.Cause(st.ctx); cause != nil && (errors.Is(err, context.Canceled) || errors.Is(err, cause)) {
		return cause
	}
	var fe *Error
	if errors.As(err, &fe) {
		return fe
	}
	switch {
	case errors.Is(err, llm.ErrUnavailable):
		return wrap(KindLLMUnavailable, err, "%s rejected by provider gate", step)
	case errors.Is(err, llm.ErrTimeout), errors.Is(err, context.DeadlineExceeded):
		return wrap(KindTimeout, err, "%s timed out", step)
	case agent.IsTransient(err):
		return wrap(KindTransient, err, "%s failed after retries", step)
	default:
		return wrap(KindInternal, err, "%s failed", step)
	}
}

func questionText(questions []models.Question) string {
	var sb strings.Builder
	sb.WriteString("clarification questions:\n")
	for i, q := range questions {
		fmt.Fprintf(&sb, "%d. [%s] %s\n", i+1, q.Priority, q.Text)
	}
	return strings.TrimRight(sb.String(), "\n")
}
