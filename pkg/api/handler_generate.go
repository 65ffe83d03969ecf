package api

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/codeready-toolchain/deepreport/pkg/agent/orchestrator"
	"github.com/codeready-toolchain/deepreport/pkg/events"
	"github.com/codeready-toolchain/deepreport/pkg/models"
	"github.com/codeready-toolchain/deepreport/pkg/services"
)

// streamBuffer is how many report events a run may get ahead of a slow client.
const streamBuffer = 64

// generateReportHandler handles POST /api/v1/sessions/:id/reports/generate.
// The response is an SSE stream of the run's report events, closed after
// complete, error or clarification. Disconnecting cancels the run.
func (s *Server) generateReportHandler(c *gin.Context) {
	var req GenerateReportRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		abortWithError(c, newHTTPError(http.StatusBadRequest, "invalid request body: "+err.Error()))
		return
	}
	sessionID := c.Param("id")
	if he := s.validateGenerate(c.Request.Context(), sessionID, &req); he != nil {
		abortWithError(c, he)
		return
	}

	clientCtx := c.Request.Context()
	ctx, cancel := context.WithCancel(clientCtx)
	defer cancel()

	// A resumed report is reserved before the run starts, so two answers to
	// the same clarification cannot both pass validation and run.
	var release func()
	if req.ReportID != "" {
		r, ok := s.runs.reserve(req.ReportID, cancel)
		if !ok {
			abortWithError(c, newHTTPError(http.StatusConflict, "report generation already running"))
			return
		}
		release = r
	}

	stream := make(chan events.ReportEvent, streamBuffer)
	go s.runGeneration(clientCtx, ctx, cancel, sessionID, req, release, stream)

	startSSE(c)
	for {
		select {
		case <-clientCtx.Done():
			slog.Info("Report stream closed by client", "session_id", sessionID)
			return
		case ev, ok := <-stream:
			if !ok {
				return
			}
			writeSSE(c, "", ev.Type, ev)
		}
	}
}

// validateGenerate rejects requests that cannot start or resume a run.
func (s *Server) validateGenerate(ctx context.Context, sessionID string, req *GenerateReportRequest) *HTTPError {
	if req.Clarification != nil {
		if req.ReportID == "" {
			return newHTTPError(http.StatusBadRequest, "report_id is required when answering a clarification")
		}
		if strings.TrimSpace(req.Clarification.Answer) == "" {
			return newHTTPError(http.StatusBadRequest, "clarification answer is required")
		}
	}
	if req.ReportID != "" && req.Clarification == nil {
		return newHTTPError(http.StatusBadRequest, "clarification is required when resuming a report")
	}
	if req.ReportID == "" && strings.TrimSpace(req.Request) == "" {
		return newHTTPError(http.StatusBadRequest, "request is required")
	}

	if _, err := s.deps.Sessions.GetSession(ctx, sessionID); err != nil {
		return mapServiceError(err)
	}
	if req.ReportID == "" {
		return nil
	}

	report, err := s.deps.Reports.GetReport(ctx, req.ReportID)
	if err != nil {
		return mapServiceError(err)
	}
	if report.SessionID != sessionID {
		return mapServiceError(services.ErrNotFound)
	}
	switch report.Status {
	case models.ReportStatusDraft:
		return nil
	case models.ReportStatusGenerating:
		return newHTTPError(http.StatusConflict, "report generation already running")
	}
	return newHTTPError(http.StatusConflict, "report is already "+string(report.Status))
}

// runGeneration runs the orchestrator under ctx and forwards its events to
// stream, which it closes when the run returns. A cancelled run still
// forwards its error event; events are dropped once the client is gone.
// release, when set, is the reservation of a resumed report; a new report
// is registered once it has an id.
func (s *Server) runGeneration(clientCtx, ctx context.Context, cancel context.CancelFunc, sessionID string, req GenerateReportRequest, release func(), stream chan<- events.ReportEvent) {
	defer close(stream)

	forward := func(ev events.ReportEvent) {
		select {
		case stream <- ev:
		case <-clientCtx.Done():
		}
	}

	defer func() {
		if release != nil {
			release()
		}
	}()
	opened := false

	_, err := s.deps.Generator.Generate(ctx, orchestrator.Request{
		SessionID:     sessionID,
		ReportID:      req.ReportID,
		Request:       req.Request,
		Clarification: req.Clarification,
		OnEvent: func(ev events.ReportEvent) {
			if ev.Type == events.EventTypeReportCreated && !opened {
				opened = true
				if release == nil {
					release, _ = s.runs.reserve(ev.ReportID, cancel)
				}
			}
			forward(ev)
		},
	})
	if err != nil && !opened {
		// The run failed before its report was opened, so nothing was published.
		forward(events.ReportEvent{
			Type:      events.EventTypeError,
			ReportID:  req.ReportID,
			SessionID: sessionID,
			Timestamp: events.Now(),
			Message:   openFailureMessage(err),
		})
	}
}

func openFailureMessage(err error) string {
	switch {
	case errors.Is(err, orchestrator.ErrReportFinished):
		return "报告已完成，无法继续生成"
	case errors.Is(err, orchestrator.ErrNotAwaitingAnswer), errors.Is(err, orchestrator.ErrClarificationRequired):
		return "报告未在等待澄清回复"
	case errors.Is(err, services.ErrNotFound):
		return "报告或会话不存在"
	}
	return "报告生成失败: " + err.Error()
}
