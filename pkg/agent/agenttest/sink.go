package agenttest

import (
	"context"
	"sync"

	"github.com/codeready-toolchain/deepreport/pkg/events"
)

// EventRecorder collects published agent events.
type EventRecorder struct {
	mu     sync.Mutex
	events []events.AgentEventPayload
}

// PublishAgentEvent implements agent.EventSink.
func (r *EventRecorder) PublishAgentEvent(_ context.Context, _ string, payload events.AgentEventPayload) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, payload)
	return nil
}

// Events returns the recorded events, optionally only those of one agent id.
func (r *EventRecorder) Events(agentID string) []events.AgentEventPayload {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []events.AgentEventPayload
	for _, e := range r.events {
		if agentID == "" || e.AgentID == agentID {
			out = append(out, e)
		}
	}
	return out
}

// Types returns the event types in publish order, skipping chunks.
func (r *EventRecorder) Types(agentID string) []string {
	var out []string
	for _, e := range r.Events(agentID) {
		if e.EventType != events.AgentEventChunk {
			out = append(out, e.EventType)
		}
	}
	return out
}
