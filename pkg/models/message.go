package models

import (
	"encoding/json"
	"time"
)

// MessageRole identifies who authored a message.
type MessageRole string

const (
	MessageRoleUser   MessageRole = "user"
	MessageRoleAgent  MessageRole = "agent"
	MessageRoleSystem MessageRole = "system"
)

// MessageKind classifies a message's payload.
type MessageKind string

const (
	MessageKindChat     MessageKind = "chat"
	MessageKindProgress MessageKind = "progress"
	MessageKindArtifact MessageKind = "artifact"
	MessageKindError    MessageKind = "error"
)

// Message is an append-only conversation record. Messages are streamed to
// subscribers as events and retained for replay.
type Message struct {
	ID        string          `db:"id" json:"id"`
	SessionID string          `db:"session_id" json:"session_id"`
	Role      MessageRole     `db:"role" json:"role"`
	Author    string          `db:"author" json:"author"` // role ID, e.g. "clarifier"
	Kind      MessageKind     `db:"kind" json:"kind"`
	Timestamp time.Time       `db:"created_at" json:"timestamp"`
	Payload   json.RawMessage `db:"payload" json:"payload"`
}

// Artifact is a document produced by a task. It becomes externally visible
// only once its producing task reached terminal success.
type Artifact struct {
	ID          string    `db:"id" json:"id"`
	SessionID   string    `db:"session_id" json:"session_id"`
	Name        string    `db:"name" json:"name"`
	ContentType string    `db:"content_type" json:"content_type"`
	Content     string    `db:"content" json:"content"`
	TaskID      string    `db:"task_id" json:"task_id"`
	CreatedAt   time.Time `db:"created_at" json:"created_at"`
}
