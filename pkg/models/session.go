// Package models defines the domain records shared across the service:
// sessions, tasks, clarification rounds, quality snapshots, messages,
// artifacts, and stream events.
package models

import "time"

// Mode selects the depth of the analysis flow. Fixed at session creation.
type Mode string

const (
	ModeQuick    Mode = "quick"
	ModeStandard Mode = "standard"
	ModeDeep     Mode = "deep"
	ModeWorkflow Mode = "workflow"
)

// Valid reports whether m is a recognized mode.
func (m Mode) Valid() bool {
	switch m {
	case ModeQuick, ModeStandard, ModeDeep, ModeWorkflow:
		return true
	}
	return false
}

// Phase is the session's position in the analysis flow.
type Phase string

const (
	PhaseClarifying  Phase = "clarifying"
	PhaseAnalyzing   Phase = "analyzing"
	PhaseDocumenting Phase = "documenting"
	PhaseReviewing   Phase = "reviewing"
	PhaseDone        Phase = "done"
	PhaseFailed      Phase = "failed"
)

// Terminal reports whether the phase is final.
func (p Phase) Terminal() bool {
	return p == PhaseDone || p == PhaseFailed
}

// Session is one requirements-analysis dialogue from intake to document.
type Session struct {
	ID              string    `db:"id" json:"id"`
	Mode            Mode      `db:"mode" json:"mode"`
	Phase           Phase     `db:"phase" json:"phase"`
	RequirementText string    `db:"requirement_text" json:"requirement_text"`
	ProjectContext  string    `db:"project_context" json:"project_context,omitempty"`
	Progress        float64   `db:"progress" json:"progress"`
	ErrorKind       string    `db:"error_kind" json:"error_kind,omitempty"`
	ErrorMessage    string    `db:"error_message" json:"error_message,omitempty"`
	CreatedAt       time.Time `db:"created_at" json:"created_at"`
	UpdatedAt       time.Time `db:"updated_at" json:"updated_at"`
	// LastActivityAt advances on every user input and published event.
	// Drives the idle reaper and the retention purge.
	LastActivityAt time.Time `db:"last_activity_at" json:"last_activity_at"`
}
