package models

import "time"

// TaskStatus tracks a task (and the agent running it) through its lifecycle.
// The same enum describes per-role agent state in CollaborationState.
type TaskStatus string

const (
	TaskStatusIdle        TaskStatus = "idle"
	TaskStatusPreparing   TaskStatus = "preparing"
	TaskStatusRunning     TaskStatus = "running"
	TaskStatusSucceeded   TaskStatus = "succeeded"
	TaskStatusFailed      TaskStatus = "failed"
	TaskStatusInterrupted TaskStatus = "interrupted"
)

// Terminal reports whether the status is final. Terminal tasks are frozen.
func (s TaskStatus) Terminal() bool {
	return s == TaskStatusSucceeded || s == TaskStatusFailed || s == TaskStatusInterrupted
}

// Participant names one role instance assigned to a task.
type Participant struct {
	Role    string `json:"role"`
	AgentID string `json:"agent_id"`
}

// Task is a node in a session's task tree. The canonical store is a flat
// map keyed by ID; ParentID and Dependencies are indices into that map.
type Task struct {
	ID           string        `json:"id"`
	SessionID    string        `json:"session_id"`
	ParentID     string        `json:"parent_id,omitempty"`
	Name         string        `json:"name"`
	Participants []Participant `json:"participants,omitempty"`
	Status       TaskStatus    `json:"status"`
	// Progress is non-decreasing and reaches 1.0 exactly on terminal success.
	Progress     float64     `json:"progress"`
	Weight       float64     `json:"weight"`
	Dependencies []string    `json:"dependencies,omitempty"`
	Result       *TaskResult `json:"result,omitempty"`
	CreatedAt    time.Time   `json:"created_at"`
	UpdatedAt    time.Time   `json:"updated_at"`
}

// TaskResult is the output of a successfully completed task.
type TaskResult struct {
	Content   string            `json:"content"`
	Quality   *RubricScore      `json:"quality,omitempty"`
	Artifacts []string          `json:"artifacts,omitempty"` // artifact names
	Metadata  map[string]string `json:"metadata,omitempty"`
}

// RubricScore is an agent's self-evaluation produced by the Reflect step.
// Scores are keyed by rubric criterion, each in [0,1].
type RubricScore struct {
	Scores  map[string]float64 `json:"scores"`
	Overall float64            `json:"overall"`
	Passed  bool               `json:"passed"`
}
