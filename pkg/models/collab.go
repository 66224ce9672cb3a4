package models

import "encoding/json"

// CollaborationState is the session-scoped shared state agents read from and
// commit to. Mutations are serialized by the orchestrator; each committed
// mutation bumps Revision by exactly one. Shared entries are last-writer-wins.
type CollaborationState struct {
	SessionID string                     `json:"session_id"`
	Roles     map[string]TaskStatus      `json:"roles"`
	Shared    map[string]json.RawMessage `json:"shared"`
	Revision  int64                      `json:"revision"`
}

// NewCollaborationState returns an empty state at revision zero.
func NewCollaborationState(sessionID string) *CollaborationState {
	return &CollaborationState{
		SessionID: sessionID,
		Roles:     make(map[string]TaskStatus),
		Shared:    make(map[string]json.RawMessage),
	}
}

// Snapshot returns a deep copy at the current revision. Readers operate on
// snapshots so commits never race an in-flight agent cycle.
func (c *CollaborationState) Snapshot() *CollaborationState {
	cp := &CollaborationState{
		SessionID: c.SessionID,
		Roles:     make(map[string]TaskStatus, len(c.Roles)),
		Shared:    make(map[string]json.RawMessage, len(c.Shared)),
		Revision:  c.Revision,
	}
	for k, v := range c.Roles {
		cp.Roles[k] = v
	}
	for k, v := range c.Shared {
		buf := make(json.RawMessage, len(v))
		copy(buf, v)
		cp.Shared[k] = buf
	}
	return cp
}
