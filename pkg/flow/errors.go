// Package flow is the orchestrator: session lifecycle, the quality-gated
// clarification loop, phase progression, and dependency-driven task
// scheduling within a session.
package flow

import (
	"errors"
	"fmt"
)

// Kind classifies an orchestration failure. The API layer maps kinds to
// HTTP status codes; terminal events carry them to stream consumers.
type Kind string

const (
	KindInvalidInput           Kind = "InvalidInput"
	KindUnknownSession         Kind = "UnknownSession"
	KindSessionTerminal        Kind = "SessionTerminal"
	KindNotClarifying          Kind = "NotClarifying"
	KindBusy                   Kind = "Busy"
	KindCancelled              Kind = "Cancelled"
	KindTimeout                Kind = "Timeout"
	KindTransient              Kind = "TransientError"
	KindLLMUnavailable         Kind = "LLMUnavailable"
	KindClarificationExhausted Kind = "ClarificationExhausted"
	KindStaleSession           Kind = "StaleSession"
	KindIdleTimeout            Kind = "IdleTimeout"
	KindInternal               Kind = "Internal"
)

// Error is a classified orchestration failure.
type Error struct {
	Kind    Kind
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error { return e.Err }

// E builds a classified error.
func E(kind Kind, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// wrap attaches a kind to an underlying error.
func wrap(kind Kind, err error, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...), Err: err}
}

// KindOf extracts the kind from any error; unclassified errors are Internal.
func KindOf(err error) Kind {
	var fe *Error
	if errors.As(err, &fe) {
		return fe.Kind
	}
	return KindInternal
}
