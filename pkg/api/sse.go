package api

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/gin-contrib/sse"
	"github.com/gin-gonic/gin"
)

// startSSE writes the event-stream headers and flushes them, so the client
// sees the stream open before the first event.
func startSSE(c *gin.Context) {
	h := c.Writer.Header()
	h.Set("Content-Type", "text/event-stream")
	h.Set("Cache-Control", "no-cache")
	h.Set("Connection", "keep-alive")
	h.Set("X-Accel-Buffering", "no")
	c.Status(http.StatusOK)
	c.Writer.Flush()
}

// writeSSE writes one event. Structs and maps are sent as JSON, strings as is.
func writeSSE(c *gin.Context, id, name string, data any) {
	c.Render(-1, sse.Event{Id: id, Event: name, Data: data})
	c.Writer.Flush()
}

// describePayload returns the SSE id and event name of a stored or notified
// payload: its db_event_id and type fields.
func describePayload(payload []byte) (id, name string) {
	var envelope struct {
		Type      string `json:"type"`
		DBEventID *int64 `json:"db_event_id"`
	}
	name = "message"
	if err := json.Unmarshal(payload, &envelope); err != nil {
		return "", name
	}
	if envelope.Type != "" {
		name = envelope.Type
	}
	if envelope.DBEventID != nil {
		id = strconv.FormatInt(*envelope.DBEventID, 10)
	}
	return id, name
}
