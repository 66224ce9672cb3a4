package agent

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/specsmith/specsmith/pkg/config"
	"github.com/specsmith/specsmith/pkg/llm"
	"github.com/specsmith/specsmith/pkg/models"
)

// RubricCriteria are the self-evaluation dimensions used by Reflect.
var RubricCriteria = []string{
	"completeness", "accuracy", "professionalism",
	"clarity", "actionability", "innovation",
}

// maxReflectCycles bounds Act/Reflect improvement iterations per execution.
const maxReflectCycles = 2

// Progress checkpoints reported over one cycle.
const (
	progressThink   = 0.25
	progressAct     = 0.50
	progressReflect = 0.75
	progressStaged  = 0.90
	progressDone    = 1.0
)

// Runtime executes one task for one role. A single Runtime is stateless and
// safe for concurrent use across tasks.
type Runtime struct {
	role      *config.RoleSpec
	completer Completer
}

// NewRuntime builds the executor for a role. Panics on a nil role; that is a
// wiring bug, not a runtime condition.
func NewRuntime(role *config.RoleSpec, completer Completer) *Runtime {
	if role == nil {
		panic("agent: NewRuntime requires a role")
	}
	return &Runtime{role: role, completer: completer}
}

type thinkPlan struct {
	Summary        string   `json:"summary"`
	Insights       []string `json:"insights"`
	NextActions    []string `json:"next_actions"`
	Confidence     float64  `json:"confidence"`
	ReasoningChain []string `json:"reasoning_chain"`
}

type reflection struct {
	Scores   map[string]float64 `json:"scores"`
	Critique string             `json:"critique"`
}

// Execute runs one Think, Act, Reflect cycle. The caller bounds it with a
// deadline; expiry and cancellation come back as Result statuses, never as
// a bare error. Err is non-nil only alongside a non-succeeded status.
func (r *Runtime) Execute(ctx context.Context, ec *ExecutionContext) *Result {
	plan, err := r.think(ctx, ec)
	if err != nil {
		return r.failure(ec, err)
	}
	ec.progress(progressThink)

	actMode := actCallMode(ec.Mode)
	var best *Result
	critique := ""
	for cycle := 1; cycle <= maxReflectCycles; cycle++ {
		content, staged, err := r.act(ctx, ec, plan, critique, actMode)
		if err != nil {
			return r.failure(ec, err)
		}
		ec.progress(progressAct)

		quality, crit, err := r.reflect(ctx, ec, content)
		if err != nil {
			return r.failure(ec, err)
		}
		ec.progress(progressReflect)

		candidate := &Result{
			Status:  StatusSucceeded,
			Content: content,
			Quality: quality,
			Staged:  staged,
		}
		if best == nil || quality.Overall > best.Quality.Overall {
			best = candidate
		}
		if quality.Passed {
			break
		}
		slog.Info("Reflect below threshold, improving",
			"session_id", ec.SessionID, "task", ec.TaskName,
			"cycle", cycle, "overall", quality.Overall)
		critique = crit
	}

	ec.progress(progressStaged)
	ec.progress(progressDone)
	return best
}

// think plans the cycle with a quick call. A malformed plan gets exactly one
// re-ask before the execution is declared transiently failed.
func (r *Runtime) think(ctx context.Context, ec *ExecutionContext) (*thinkPlan, error) {
	prompt := thinkPrompt(r.role, ec)
	var lastErr error
	for attempt := 0; attempt < 2; attempt++ {
		text, err := r.completer.Complete(ctx, llm.CallQuick, systemPrompt(r.role), prompt)
		if err != nil {
			return nil, err
		}
		var plan thinkPlan
		if err := decodeJSON(text, &plan); err != nil {
			lastErr = err
			continue
		}
		plan.Confidence = clamp01(plan.Confidence)
		return &plan, nil
	}
	return nil, &transientError{op: "think_parse", err: lastErr}
}

// act produces the role's deliverable, one sub-step at a time, staging each
// under "<role>.<sub-step>".
func (r *Runtime) act(ctx context.Context, ec *ExecutionContext, plan *thinkPlan, critique string, mode llm.CallMode) (string, map[string]json.RawMessage, error) {
	staged := make(map[string]json.RawMessage)
	var sections []byte

	steps := r.role.SubSteps
	if len(steps) == 0 {
		steps = []string{"main"}
	}
	for i, step := range steps {
		text, err := r.completer.Complete(ctx, mode, systemPrompt(r.role), actPrompt(r.role, ec, step, plan, critique))
		if err != nil {
			return "", nil, err
		}
		key := r.role.ID + "." + step
		encoded, err := json.Marshal(text)
		if err != nil {
			return "", nil, err
		}
		staged[key] = encoded
		if len(sections) > 0 {
			sections = append(sections, '\n', '\n')
		}
		sections = append(sections, text...)

		// Spread act progress between the think and reflect checkpoints.
		frac := progressThink + (progressAct-progressThink)*float64(i+1)/float64(len(steps))
		ec.progress(frac)
	}
	return string(sections), staged, nil
}

// reflect scores the content against the rubric and decides pass/fail using
// the role's weights and threshold.
func (r *Runtime) reflect(ctx context.Context, ec *ExecutionContext, content string) (*models.RubricScore, string, error) {
	text, err := r.completer.Complete(ctx, llm.CallQuick, systemPrompt(r.role), reflectPrompt(r.role, content))
	if err != nil {
		return nil, "", err
	}
	var refl reflection
	if err := decodeJSON(text, &refl); err != nil {
		return nil, "", &transientError{op: "reflect_parse", err: err}
	}

	scores := make(map[string]float64, len(RubricCriteria))
	var weighted, totalWeight float64
	for _, criterion := range RubricCriteria {
		score := clamp01(refl.Scores[criterion])
		scores[criterion] = score
		weight := 1.0
		if w, ok := r.role.QualityWeights[criterion]; ok {
			weight = w
		}
		weighted += score * weight
		totalWeight += weight
	}
	overall := 0.0
	if totalWeight > 0 {
		overall = weighted / totalWeight
	}
	quality := &models.RubricScore{
		Scores:  scores,
		Overall: overall,
		Passed:  overall >= r.role.Threshold,
	}
	return quality, refl.Critique, nil
}

// failure classifies an execution error into a Result.
func (r *Runtime) failure(ec *ExecutionContext, err error) *Result {
	res := &Result{Status: StatusFailed, Err: err}
	switch {
	case errors.Is(err, context.Canceled):
		res.Status = StatusInterrupted
		res.ErrorKind = "cancelled"
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, llm.ErrTimeout):
		res.ErrorKind = "timeout"
	case errors.Is(err, llm.ErrUnavailable):
		res.ErrorKind = "llm_unavailable"
	case isTransient(err):
		res.ErrorKind = "transient"
	default:
		res.ErrorKind = "internal"
	}
	slog.Warn("Agent execution failed",
		"session_id", ec.SessionID, "task", ec.TaskName,
		"kind", res.ErrorKind, "error", err)
	return res
}

// actCallMode maps the session mode to the gateway budget used for Act.
func actCallMode(mode models.Mode) llm.CallMode {
	switch mode {
	case models.ModeQuick:
		return llm.CallQuick
	case models.ModeDeep:
		return llm.CallDeep
	default:
		return llm.CallStandard
	}
}

// transientError marks a recoverable failure the scheduler may retry.
type transientError struct {
	op  string
	err error
}

func (e *transientError) Error() string {
	return fmt.Sprintf("agent: transient %s failure: %v", e.op, e.err)
}

func (e *transientError) Unwrap() error { return e.err }

// IsTransient reports whether an error is a retryable execution failure.
func IsTransient(err error) bool { return isTransient(err) }

func isTransient(err error) bool {
	var te *transientError
	if errors.As(err, &te) {
		return true
	}
	var pe *llm.ProviderError
	if errors.As(err, &pe) {
		return pe.StatusCode >= 500
	}
	return false
}
