package rpc

import (
	"github.com/Anko59/AutoHubble/internal/agent"
	"github.com/Anko59/AutoHubble/internal/scrape"
)

// GenerateRequest starts a spider generation session.
type GenerateRequest struct {
	SessionID     string            `json:"session_id,omitempty"`
	CorrelationID string            `json:"correlation_id,omitempty"`
	StartURL      string            `json:"start_url"`
	BaseURL       string            `json:"base_url,omitempty"`
	TargetFields  map[string]string `json:"target_fields"`
	MaxAttempts   int               `json:"max_attempts,omitempty"`
	// Run executes the spider once after a successful generation.
	Run bool `json:"run,omitempty"`
}

// SessionEvent streams back progress from the daemon.
type SessionEvent struct {
	Type          string               `json:"type"` // phase|attempt|action|test|done|error|end
	SessionID     string               `json:"session_id,omitempty"`
	CorrelationID string               `json:"correlation_id,omitempty"`
	Stage         string               `json:"stage,omitempty"`
	Attempt       int                  `json:"attempt,omitempty"`
	Message       string               `json:"message,omitempty"`
	Error         string               `json:"error,omitempty"`
	Done          bool                 `json:"done,omitempty"`
	Action        *scrape.ActionMemory `json:"action,omitempty"`
	Test          *scrape.TestResult   `json:"test,omitempty"`
	Report        *agent.Report        `json:"report,omitempty"`
	Items         int                  `json:"items,omitempty"`
	LogsDir       string               `json:"logs_dir,omitempty"`
}

// EventEnd is the terminal event of every stream.
const EventEnd = "end"

// FromAgentEvent converts a session event to its wire form.
func FromAgentEvent(ev agent.Event, correlationID string) SessionEvent {
	out := SessionEvent{
		Type:          string(ev.Type),
		SessionID:     ev.SessionID,
		CorrelationID: correlationID,
		Stage:         string(ev.Stage),
		Attempt:       ev.Attempt,
		Message:       ev.Message,
		Action:        ev.Action,
		Test:          ev.Test,
		Report:        ev.Report,
	}
	if ev.Type == agent.EventError {
		out.Error = ev.Message
	}
	return out
}

// GenerateStreamRequest is the bidirectional stream payload for Connect RPC.
// The first message must contain the Generate request; later messages can
// only cancel the session.
type GenerateStreamRequest struct {
	Generate      *GenerateRequest `json:"generate,omitempty"`
	Cancel        bool             `json:"cancel,omitempty"`
	SessionID     string           `json:"session_id,omitempty"`
	CorrelationID string           `json:"correlation_id,omitempty"`
}
