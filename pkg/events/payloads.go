package events

import (
	"time"

	"github.com/codeready-toolchain/deepreport/pkg/models"
)

// AgentEventPayload is one telemetry step of an agent run.
type AgentEventPayload struct {
	Type       string         `json:"type"`        // always EventTypeAgent
	AgentID    string         `json:"agent_id"`    // <agent_type>_<n>
	AgentType  string         `json:"agent_type"`  // center, research, nl2sql, chart, summary
	AgentLabel string         `json:"agent_label"` // display name
	EventType  string         `json:"event_type"`  // start, request, chunk, ...
	SessionID  string         `json:"session_id"`
	Data       map[string]any `json:"data,omitempty"`
	Timestamp  string         `json:"timestamp"` // RFC3339Nano
}

// ReportEvent is one step of the produced report stream. Only the fields
// relevant to Type are set.
type ReportEvent struct {
	Type      string `json:"type"`
	ReportID  string `json:"report_id,omitempty"`
	SessionID string `json:"session_id,omitempty"`
	Timestamp string `json:"timestamp"`

	// status, error
	Message string `json:"message,omitempty"`

	// clarification
	Requirement   string                       `json:"requirement,omitempty"`
	Clarification *models.ClarificationContext `json:"clarification_context,omitempty"`

	// outline
	Outline *models.Outline `json:"outline,omitempty"`

	// section_start, section_complete, section_error
	Index   *int            `json:"index,omitempty"`
	Total   int             `json:"total,omitempty"`
	Title   string          `json:"title,omitempty"`
	Section *models.Section `json:"section,omitempty"`
	Error   string          `json:"error,omitempty"`

	// heartbeat
	Completed *int `json:"completed,omitempty"`
	Pending   *int `json:"pending,omitempty"`

	// complete
	Report *models.Report `json:"report,omitempty"`
}

// Persistent reports whether the event is stored in the events table.
// Heartbeats only prove liveness and are broadcast without persistence.
func (e ReportEvent) Persistent() bool {
	return e.Type != EventTypeHeartbeat
}

// Now formats the current time the way every payload carries it.
func Now() string {
	return time.Now().Format(time.RFC3339Nano)
}
