package agent

import (
	"time"

	"github.com/Anko59/AutoHubble/internal/scrape"
)

// Stage is a phase of the control loop.
type Stage string

const (
	StageAnalyzing  Stage = "analyzing"
	StageGenerating Stage = "generating"
	StageTesting    Stage = "testing"
	StageDebugging  Stage = "debugging"
	StageRunning    Stage = "running"
)

// EventType classifies session events.
type EventType string

const (
	EventPhase   EventType = "phase"
	EventAttempt EventType = "attempt"
	EventAction  EventType = "action"
	EventTest    EventType = "test"
	EventDone    EventType = "done"
	EventError   EventType = "error"
)

// Event is a progress notification emitted by a session.
type Event struct {
	Type      EventType            `json:"type"`
	SessionID string               `json:"session_id"`
	Stage     Stage                `json:"stage,omitempty"`
	Attempt   int                  `json:"attempt,omitempty"`
	Message   string               `json:"message,omitempty"`
	Action    *scrape.ActionMemory `json:"action,omitempty"`
	Test      *scrape.TestResult   `json:"test,omitempty"`
	Report    *Report              `json:"report,omitempty"`
	Time      time.Time            `json:"time"`
}

// Observer receives events synchronously on the session goroutine.
type Observer func(Event)
