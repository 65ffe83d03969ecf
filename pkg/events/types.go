// Package events delivers report progress and agent telemetry to clients.
//
// Two streams exist per session:
//
//	report events   report_created, status, clarification, outline,
//	                section_start, section_complete, section_error,
//	                heartbeat, complete, error
//	agent events    one "agent_event" payload per agent lifecycle step
//	                (start, request, chunk, response, tool_call,
//	                tool_result, complete, error)
//
// Both are persisted to the events table and broadcast with pg_notify on
// the session channel, except chunk agent events and heartbeats, which are
// NOTIFY only. A NotifyListener feeds notifications into the Broker, which
// fans them out to SSE subscribers and serves catch-up from the table.
package events

// Report event types, in the order a generation run can produce them.
const (
	EventTypeReportCreated   = "report_created"
	EventTypeStatus          = "status"
	EventTypeClarification   = "clarification"
	EventTypeOutline         = "outline"
	EventTypeSectionStart    = "section_start"
	EventTypeSectionComplete = "section_complete"
	EventTypeSectionError    = "section_error"
	EventTypeHeartbeat       = "heartbeat"
	EventTypeComplete        = "complete"
	EventTypeError           = "error"
)

// IsTerminal reports whether a report event ends the run's stream.
// clarification is terminal for the current invocation only.
func IsTerminal(eventType string) bool {
	switch eventType {
	case EventTypeComplete, EventTypeError, EventTypeClarification:
		return true
	}
	return false
}

// EventTypeAgent is the payload type of agent telemetry events.
const EventTypeAgent = "agent_event"

// Agent lifecycle steps (AgentEventPayload.EventType).
const (
	AgentEventStart      = "start"
	AgentEventRequest    = "request"
	AgentEventChunk      = "chunk"
	AgentEventResponse   = "response"
	AgentEventToolCall   = "tool_call"
	AgentEventToolResult = "tool_result"
	AgentEventComplete   = "complete"
	AgentEventError      = "error"
)

// SessionChannel returns the channel name for a specific session's events.
// Format: "session:{session_id}"
func SessionChannel(sessionID string) string {
	return "session:" + sessionID
}
