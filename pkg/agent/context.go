// Package agent implements the role-parameterized execution runtime. One
// Runtime drives a Think, Act, Reflect cycle for any role; roles differ only
// in their RoleSpec (sub-steps, prompts, rubric weights).
package agent

import (
	"context"
	"encoding/json"

	"github.com/specsmith/specsmith/pkg/llm"
	"github.com/specsmith/specsmith/pkg/models"
)

// Completer is the slice of the LLM gateway the runtime needs. Defined here
// so the agent package does not depend on the gateway's construction.
type Completer interface {
	Complete(ctx context.Context, mode llm.CallMode, system, prompt string) (string, error)
}

// ExecutionContext carries everything one task execution may read: the
// requirement, the clarification history, and a read-only snapshot of the
// collaboration state. Mutations accumulate in the staging area and are
// committed by the orchestrator only after the cycle completes.
type ExecutionContext struct {
	SessionID string
	TaskID    string
	TaskName  string
	Mode      models.Mode

	Requirement    string
	ProjectContext string
	Rounds         []*models.ClarificationRound
	Collab         *models.CollaborationState // snapshot; never mutated here

	// OnProgress reports task-local progress in [0,1]. May be nil.
	OnProgress func(fraction float64)
}

// Status is the terminal disposition of one execution.
type Status string

const (
	StatusSucceeded   Status = "succeeded"
	StatusFailed      Status = "failed"
	StatusInterrupted Status = "interrupted"
)

// Result is the outcome of one execution cycle. Staged holds the shared-state
// writes to apply atomically on commit.
type Result struct {
	Status  Status
	Content string
	Quality *models.RubricScore
	Staged  map[string]json.RawMessage

	// ErrorKind is set on failure: "timeout", "cancelled", "llm_unavailable",
	// "transient", or "internal".
	ErrorKind string
	Err       error
}

func (ec *ExecutionContext) progress(f float64) {
	if ec.OnProgress != nil {
		ec.OnProgress(f)
	}
}
