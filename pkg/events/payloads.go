package events

import "github.com/specsmith/specsmith/pkg/models"

// StateDeltaPayload is the payload for state-delta events. Published when a
// committed agent cycle mutates the collaboration state.
type StateDeltaPayload struct {
	Revision int64    `json:"revision"`          // collaboration state revision after the commit
	Role     string   `json:"role"`              // committing role ID
	Keys     []string `json:"keys"`              // shared-state keys touched by the commit
	Status   string   `json:"status,omitempty"`  // role status after the commit
	TaskID   string   `json:"task_id,omitempty"` // task whose cycle committed
}

// MessagePayload is the payload for message events: one conversation record
// streamed as it is appended.
type MessagePayload struct {
	MessageID string             `json:"message_id"`
	Role      models.MessageRole `json:"role"`
	Author    string             `json:"author,omitempty"` // role ID, e.g. "writer"
	Kind      models.MessageKind `json:"kind"`
	Text      string             `json:"text,omitempty"`
	Timestamp string             `json:"timestamp"` // RFC3339Nano
}

// TaskUpdatePayload is the payload for task-update events (status
// transitions) and progress events (rate-limited ticks, sheddable from the
// replay window).
type TaskUpdatePayload struct {
	TaskID       string            `json:"task_id"`
	Name         string            `json:"name"`
	Status       models.TaskStatus `json:"status"`
	Progress     float64           `json:"progress"`      // task-local, [0,1]
	FlowProgress float64           `json:"flow_progress"` // weighted session roll-up
	ErrorKind    string            `json:"error_kind,omitempty"`
}

// QualityPayload is the payload for quality events, published after each
// clarification assessment.
type QualityPayload struct {
	RoundSeq  int                     `json:"round_seq"`
	Snapshot  *models.QualitySnapshot `json:"snapshot"`
	Questions []models.Question       `json:"questions,omitempty"` // next round, empty when the gate passed
	Exhausted bool                    `json:"exhausted,omitempty"` // budget spent, proceeding on the floor score
}

// PhasePayload is the payload for phase events.
type PhasePayload struct {
	From models.Phase `json:"from"`
	To   models.Phase `json:"to"`
}

// HeartbeatPayload is the payload for heartbeat events. Transient; never
// replayed once evicted.
type HeartbeatPayload struct {
	At string `json:"at"` // RFC3339Nano
}

// TerminalPayload is the last event on every stream. After it, the stream is
// closed and no further sequence numbers are assigned.
type TerminalPayload struct {
	Phase        models.Phase `json:"phase"` // done or failed
	ErrorKind    string       `json:"error_kind,omitempty"`
	ErrorMessage string       `json:"error_message,omitempty"`
	Artifacts    []string     `json:"artifacts,omitempty"` // artifact names available for download
}
