package api

import (
	"log/slog"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/codeready-toolchain/deepreport/pkg/events"
)

// sessionEventsHandler handles GET /api/v1/sessions/:id/events.
// Stored events after ?since (or Last-Event-ID) are replayed first, then
// live report and agent events follow until the client disconnects.
func (s *Server) sessionEventsHandler(c *gin.Context) {
	since := c.Query("since")
	if since == "" {
		since = c.GetHeader("Last-Event-ID")
	}
	var sinceID int64
	if since != "" {
		id, err := strconv.ParseInt(since, 10, 64)
		if err != nil || id < 0 {
			abortWithError(c, newHTTPError(http.StatusBadRequest, "invalid since: must be a non-negative event id"))
			return
		}
		sinceID = id
	}

	ctx := c.Request.Context()
	sessionID := c.Param("id")
	if _, err := s.deps.Sessions.GetSession(ctx, sessionID); err != nil {
		abortWithError(c, mapServiceError(err))
		return
	}

	sub, err := s.deps.Broker.Subscribe(ctx, events.SessionChannel(sessionID), sinceID)
	if err != nil {
		slog.Error("Failed to subscribe to session events", "session_id", sessionID, "error", err)
		abortWithError(c, newHTTPError(http.StatusServiceUnavailable, "event stream unavailable"))
		return
	}
	defer sub.Close()

	startSSE(c)
	for {
		msg, err := sub.Next(ctx)
		if err != nil {
			return
		}
		id, name := describePayload(msg)
		writeSSE(c, id, name, string(msg))
	}
}
