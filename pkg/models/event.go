package models

import (
	"encoding/json"
	"time"
)

// EventKind classifies a stream event.
type EventKind string

const (
	EventStateDelta EventKind = "state-delta"
	EventMessage    EventKind = "message"
	EventTaskUpdate EventKind = "task-update"
	EventProgress   EventKind = "progress"
	EventQuality    EventKind = "quality"
	EventPhase      EventKind = "phase"
	EventHeartbeat  EventKind = "heartbeat"
	EventTerminal   EventKind = "terminal"
)

// ReplayCritical reports whether an event of this kind must survive replay
// window pressure. Heartbeats and progress ticks are sheddable; everything
// else is not.
func (k EventKind) ReplayCritical() bool {
	switch k {
	case EventHeartbeat, EventProgress:
		return false
	}
	return true
}

// Event is one entry in a session's totally ordered stream. Seq is dense
// and strictly increasing per session, assigned before publication.
type Event struct {
	Seq       int64           `db:"seq" json:"seq"`
	SessionID string          `db:"session_id" json:"session_id"`
	Kind      EventKind       `db:"kind" json:"kind"`
	Timestamp time.Time       `db:"created_at" json:"ts"`
	Payload   json.RawMessage `db:"payload" json:"payload"`
}
