package agent

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/codeready-toolchain/deepreport/pkg/config"
	"github.com/codeready-toolchain/deepreport/pkg/events"
	"github.com/codeready-toolchain/deepreport/pkg/llm"
)

// EventSink receives agent telemetry. Implemented by *events.EventPublisher.
type EventSink interface {
	PublishAgentEvent(ctx context.Context, sessionID string, payload events.AgentEventPayload) error
}

// Masker redacts credentials from event data before publishing.
// Implemented by *masking.Service.
type Masker interface {
	MaskData(data map[string]any) map[string]any
}

// TelemetryOption configures a Telemetry.
type TelemetryOption func(*Telemetry)

// WithMasker redacts every event's data through m.
func WithMasker(m Masker) TelemetryOption {
	return func(t *Telemetry) { t.masker = m }
}

// Telemetry numbers agent runs and publishes their lifecycle events.
// A nil *Telemetry or a nil sink discards everything.
type Telemetry struct {
	sink   EventSink
	masker Masker

	mu       sync.Mutex
	counters map[config.AgentType]int
}

// NewTelemetry creates a Telemetry publishing to sink.
func NewTelemetry(sink EventSink, opts ...TelemetryOption) *Telemetry {
	t := &Telemetry{sink: sink, counters: make(map[config.AgentType]int)}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// Start opens a run for one agent invocation and emits its start event.
func (t *Telemetry) Start(ctx context.Context, sessionID string, agentType config.AgentType, label string) *Run {
	r := &Run{
		t:         t,
		ID:        t.nextID(agentType),
		Type:      agentType,
		Label:     label,
		SessionID: sessionID,
		started:   time.Now(),
	}
	r.emit(ctx, events.AgentEventStart, map[string]any{"label": label})
	return r
}

func (t *Telemetry) nextID(agentType config.AgentType) string {
	if t == nil {
		return string(agentType) + "_0"
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	t.counters[agentType]++
	return fmt.Sprintf("%s_%d", agentType, t.counters[agentType])
}

// Run is the telemetry handle of one agent invocation. Publishing failures
// are logged and never surface to the agent.
type Run struct {
	t         *Telemetry
	ID        string
	Type      config.AgentType
	Label     string
	SessionID string
	started   time.Time
}

// Request records the conversation about to be sent.
func (r *Run) Request(ctx context.Context, messages []llm.Message) {
	msgs := make([]map[string]any, len(messages))
	for i, m := range messages {
		entry := map[string]any{"role": m.Role, "content": m.Content}
		if len(m.ToolCalls) > 0 {
			names := make([]string, len(m.ToolCalls))
			for j, c := range m.ToolCalls {
				names[j] = c.Name
			}
			entry["tool_calls"] = names
		}
		msgs[i] = entry
	}
	r.emit(ctx, events.AgentEventRequest, map[string]any{
		"messages_count": len(messages),
		"messages":       msgs,
	})
}

// Sink returns a stream observer turning fragments into chunk events.
func (r *Run) Sink(ctx context.Context) llm.StreamSink {
	return llm.SinkFunc(func(kind llm.FragmentKind, value string) {
		r.emit(ctx, events.AgentEventChunk, map[string]any{"content": value, "type": string(kind)})
	})
}

// Response records the aggregated reply.
func (r *Run) Response(ctx context.Context, resp *llm.Response) {
	if resp == nil {
		return
	}
	calls := make([]map[string]any, len(resp.ToolCalls))
	for i, c := range resp.ToolCalls {
		calls[i] = map[string]any{"name": c.Name, "arguments": c.Arguments}
	}
	r.emit(ctx, events.AgentEventResponse, map[string]any{
		"content":        resp.Text,
		"content_length": len(resp.Text),
		"tool_calls":     calls,
	})
}

// ToolCall records a tool invocation requested by the model.
func (r *Run) ToolCall(ctx context.Context, call llm.ToolCall) {
	r.emit(ctx, events.AgentEventToolCall, map[string]any{"name": call.Name, "arguments": call.Arguments})
}

// ToolResult records the outcome of a tool invocation.
func (r *Run) ToolResult(ctx context.Context, name, summary string) {
	r.emit(ctx, events.AgentEventToolResult, map[string]any{"name": name, "summary": summary})
}

// Complete closes the run successfully.
func (r *Run) Complete(ctx context.Context, data map[string]any) {
	if data == nil {
		data = map[string]any{}
	}
	data["duration_ms"] = time.Since(r.started).Milliseconds()
	r.emit(ctx, events.AgentEventComplete, data)
}

// Fail closes the run with an error.
func (r *Run) Fail(ctx context.Context, err error) {
	r.emit(ctx, events.AgentEventError, map[string]any{
		"error":       err.Error(),
		"duration_ms": time.Since(r.started).Milliseconds(),
	})
}

func (r *Run) emit(ctx context.Context, eventType string, data map[string]any) {
	if r.t == nil || r.t.sink == nil {
		return
	}
	if r.t.masker != nil {
		data = r.t.masker.MaskData(data)
	}
	payload := events.AgentEventPayload{
		Type:       events.EventTypeAgent,
		AgentID:    r.ID,
		AgentType:  string(r.Type),
		AgentLabel: r.Label,
		EventType:  eventType,
		SessionID:  r.SessionID,
		Data:       data,
		Timestamp:  events.Now(),
	}
	// Telemetry for a cancelled run is still worth recording.
	if err := r.t.sink.PublishAgentEvent(context.WithoutCancel(ctx), r.SessionID, payload); err != nil {
		slog.Warn("Failed to publish agent event",
			"agent_id", r.ID, "event_type", eventType, "error", err)
	}
}
