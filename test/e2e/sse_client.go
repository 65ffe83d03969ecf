package e2e

import (
	"bufio"
	"encoding/json"
	"io"
	"strings"

	"github.com/codeready-toolchain/deepreport/pkg/events"
)

// SSEFrame is one server-sent event.
type SSEFrame struct {
	ID    string
	Event string
	Data  string
}

// SSEReader parses server-sent events from a response body.
type SSEReader struct {
	sc *bufio.Scanner
}

// NewSSEReader wraps r.
func NewSSEReader(r io.Reader) *SSEReader {
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	return &SSEReader{sc: sc}
}

// Next returns the next frame, or false once the stream ended.
func (r *SSEReader) Next() (SSEFrame, bool) {
	var (
		cur  SSEFrame
		seen bool
	)
	for r.sc.Scan() {
		line := r.sc.Text()
		switch {
		case line == "":
			if seen {
				return cur, true
			}
		case strings.HasPrefix(line, "id:"):
			cur.ID, seen = strings.TrimPrefix(line, "id:"), true
		case strings.HasPrefix(line, "event:"):
			cur.Event, seen = strings.TrimPrefix(line, "event:"), true
		case strings.HasPrefix(line, "data:"):
			cur.Data, seen = cur.Data+strings.TrimPrefix(line, "data:"), true
		}
	}
	return cur, seen
}

// Until reads frames up to and including the first one of type event.
func (r *SSEReader) Until(event string) []SSEFrame {
	var frames []SSEFrame
	for {
		f, ok := r.Next()
		if !ok {
			return frames
		}
		frames = append(frames, f)
		if f.Event == event {
			return frames
		}
	}
}

// All reads frames until the stream ends.
func (r *SSEReader) All() []SSEFrame {
	var frames []SSEFrame
	for {
		f, ok := r.Next()
		if !ok {
			return frames
		}
		frames = append(frames, f)
	}
}

// ReportEvents decodes frames into report events, skipping liveness and
// agent telemetry frames.
func ReportEvents(frames []SSEFrame) ([]events.ReportEvent, error) {
	var out []events.ReportEvent
	for _, f := range frames {
		switch f.Event {
		case events.EventTypeStatus, events.EventTypeHeartbeat, events.EventTypeAgent:
			continue
		}
		var ev events.ReportEvent
		if err := json.Unmarshal([]byte(f.Data), &ev); err != nil {
			return nil, err
		}
		out = append(out, ev)
	}
	return out, nil
}

// EventTypes lists the types of evs in order.
func EventTypes(evs []events.ReportEvent) []string {
	out := make([]string, len(evs))
	for i, ev := range evs {
		out[i] = ev.Type
	}
	return out
}
