package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/codeready-toolchain/deepreport/pkg/agent/orchestrator"
	"github.com/codeready-toolchain/deepreport/pkg/events"
	"github.com/codeready-toolchain/deepreport/pkg/models"
	"github.com/codeready-toolchain/deepreport/pkg/services"
)

const (
	generatePath = "/api/v1/sessions/s1/reports/generate"
	resumeBody   = `{"report_id":"r1","clarification":{"tool_call_id":"c","requirement":"分析销售","answer":"只看华东"}}`
)

func TestGenerateReportHandler_StreamsEvents(t *testing.T) {
	ts := newTestServer(emitting(models.ReportStatusCompleted,
		events.EventTypeReportCreated,
		events.EventTypeStatus,
		events.EventTypeOutline,
		events.EventTypeSectionStart,
		events.EventTypeSectionComplete,
		events.EventTypeComplete,
	))

	rec := do(t, ts.Handler(), http.MethodPost, generatePath, `{"request":"分析2024年销售"}`)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "text/event-stream", rec.Header().Get("Content-Type"))
	frames := readSSE(rec.Body, 0)
	assert.Equal(t, []string{
		events.EventTypeReportCreated,
		events.EventTypeStatus,
		events.EventTypeOutline,
		events.EventTypeSectionStart,
		events.EventTypeSectionComplete,
		events.EventTypeComplete,
	}, frameEvents(frames))

	var ev events.ReportEvent
	require.NoError(t, json.Unmarshal([]byte(frames[0].Data), &ev))
	assert.Equal(t, "r1", ev.ReportID)
	assert.Equal(t, "s1", ev.SessionID)
	assert.Zero(t, ts.runs.count())
}

func TestGenerateReportHandler_PassesRequest(t *testing.T) {
	var got orchestrator.Request
	ts := newTestServer(generatorFunc(func(ctx context.Context, req orchestrator.Request) (*models.Report, error) {
		got = req
		return emitting(models.ReportStatusCompleted, events.EventTypeReportCreated, events.EventTypeComplete)(ctx, req)
	}))
	ts.reports.reports["r9"] = &models.Report{ReportID: "r9", SessionID: "s1", Status: models.ReportStatusDraft}

	body := `{"report_id":"r9","clarification":{"messages":[],"tool_call_id":"call_1","requirement":"分析销售","answer":"只看华东"}}`
	rec := do(t, ts.Handler(), http.MethodPost, generatePath, body)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "s1", got.SessionID)
	assert.Equal(t, "r9", got.ReportID)
	require.NotNil(t, got.Clarification)
	assert.Equal(t, "call_1", got.Clarification.ToolCallID)
	assert.Equal(t, "只看华东", got.Clarification.Answer)
	assert.Equal(t, "分析销售", got.Clarification.Requirement)
}

func TestGenerateReportHandler_Validation(t *testing.T) {
	tests := []struct {
		name     string
		body     string
		setup    func(ts *testServer)
		wantCode int
		wantMsg  string
	}{
		{
			name:     "missing request",
			body:     `{"request":"  "}`,
			wantCode: http.StatusBadRequest,
			wantMsg:  "request is required",
		},
		{
			name:     "malformed body",
			body:     `{"request":`,
			wantCode: http.StatusBadRequest,
			wantMsg:  "invalid request body",
		},
		{
			name:     "clarification without report",
			body:     `{"clarification":{"tool_call_id":"c","answer":"华东"}}`,
			wantCode: http.StatusBadRequest,
			wantMsg:  "report_id is required",
		},
		{
			name:     "clarification without answer",
			body:     `{"report_id":"r1","clarification":{"tool_call_id":"c","answer":""}}`,
			wantCode: http.StatusBadRequest,
			wantMsg:  "clarification answer is required",
		},
		{
			name: "resume without clarification",
			body: `{"report_id":"r1","request":"x"}`,
			setup: func(ts *testServer) {
				ts.reports.reports["r1"] = &models.Report{ReportID: "r1", SessionID: "s1", Status: models.ReportStatusDraft}
			},
			wantCode: http.StatusBadRequest,
			wantMsg:  "clarification is required",
		},
		{
			name:     "unknown report",
			body:     strings.Replace(resumeBody, "r1", "missing", 1),
			wantCode: http.StatusNotFound,
		},
		{
			name: "report of another session",
			body: resumeBody,
			setup: func(ts *testServer) {
				ts.reports.reports["r1"] = &models.Report{ReportID: "r1", SessionID: "other", Status: models.ReportStatusDraft}
			},
			wantCode: http.StatusNotFound,
		},
		{
			name: "finished report",
			body: resumeBody,
			setup: func(ts *testServer) {
				ts.reports.reports["r1"] = &models.Report{ReportID: "r1", SessionID: "s1", Status: models.ReportStatusCompleted}
			},
			wantCode: http.StatusConflict,
			wantMsg:  "report is already completed",
		},
		{
			name: "report already generating",
			body: resumeBody,
			setup: func(ts *testServer) {
				ts.reports.reports["r1"] = &models.Report{ReportID: "r1", SessionID: "s1", Status: models.ReportStatusGenerating}
			},
			wantCode: http.StatusConflict,
			wantMsg:  "already running",
		},
		{
			name: "draft report reserved by another request",
			body: resumeBody,
			setup: func(ts *testServer) {
				ts.reports.reports["r1"] = &models.Report{ReportID: "r1", SessionID: "s1", Status: models.ReportStatusDraft}
				ts.runs.reserve("r1", func() {})
			},
			wantCode: http.StatusConflict,
			wantMsg:  "already running",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			called := false
			ts := newTestServer(generatorFunc(func(context.Context, orchestrator.Request) (*models.Report, error) {
				called = true
				return nil, errors.New("unexpected call")
			}))
			if tt.setup != nil {
				tt.setup(ts)
			}

			rec := do(t, ts.Handler(), http.MethodPost, generatePath, tt.body)

			assert.Equal(t, tt.wantCode, rec.Code)
			if tt.wantMsg != "" {
				assert.Contains(t, errorBody(t, rec), tt.wantMsg)
			}
			assert.False(t, called)
		})
	}

	t.Run("unknown session", func(t *testing.T) {
		ts := newTestServer(nil)
		rec := do(t, ts.Handler(), http.MethodPost, "/api/v1/sessions/nope/reports/generate", `{"request":"x"}`)
		assert.Equal(t, http.StatusNotFound, rec.Code)
	})
}

func TestGenerateReportHandler_OpenFailureBecomesErrorEvent(t *testing.T) {
	ts := newTestServer(generatorFunc(func(context.Context, orchestrator.Request) (*models.Report, error) {
		return nil, fmt.Errorf("report r1 is completed: %w", orchestrator.ErrReportFinished)
	}))

	rec := do(t, ts.Handler(), http.MethodPost, generatePath, `{"request":"分析2024年销售"}`)

	require.Equal(t, http.StatusOK, rec.Code)
	frames := readSSE(rec.Body, 0)
	require.Len(t, frames, 1)
	assert.Equal(t, events.EventTypeError, frames[0].Event)
	var ev events.ReportEvent
	require.NoError(t, json.Unmarshal([]byte(frames[0].Data), &ev))
	assert.Equal(t, "报告已完成，无法继续生成", ev.Message)
}

func TestOpenFailureMessage(t *testing.T) {
	assert.Equal(t, "报告或会话不存在", openFailureMessage(fmt.Errorf("x: %w", services.ErrNotFound)))
	assert.Equal(t, "报告未在等待澄清回复", openFailureMessage(fmt.Errorf("x: %w", orchestrator.ErrNotAwaitingAnswer)))
	assert.Equal(t, "报告生成失败: boom", openFailureMessage(errors.New("boom")))
}

// cancellable emits report_created, waits for cancellation and then reports
// the error the way the orchestrator does.
func cancellable(started chan<- struct{}) generatorFunc {
	return func(ctx context.Context, req orchestrator.Request) (*models.Report, error) {
		req.OnEvent(events.ReportEvent{Type: events.EventTypeReportCreated, ReportID: "r1", SessionID: req.SessionID})
		close(started)
		<-ctx.Done()
		req.OnEvent(events.ReportEvent{Type: events.EventTypeError, ReportID: "r1", SessionID: req.SessionID, Message: "报告生成已取消"})
		return &models.Report{ReportID: "r1", Status: models.ReportStatusError}, ctx.Err()
	}
}

func TestGenerateReportHandler_CancelledThroughAPI(t *testing.T) {
	started := make(chan struct{})
	ts := newTestServer(cancellable(started))
	ts.reports.reports["r1"] = &models.Report{ReportID: "r1", SessionID: "s1", Status: models.ReportStatusGenerating}
	srv := httptest.NewServer(ts.Handler())
	defer srv.Close()

	resp, err := http.Post(srv.URL+generatePath, "application/json", strings.NewReader(`{"request":"分析2024年销售"}`))
	require.NoError(t, err)
	defer resp.Body.Close()
	<-started
	require.Eventually(t, func() bool { return ts.runs.active("r1") }, 2*time.Second, 5*time.Millisecond)

	req, err := http.NewRequest(http.MethodDelete, srv.URL+"/api/v1/reports/r1/generation", nil)
	require.NoError(t, err)
	cancelResp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	cancelResp.Body.Close()
	assert.Equal(t, http.StatusAccepted, cancelResp.StatusCode)

	frames := readSSE(resp.Body, 0)
	assert.Equal(t, []string{events.EventTypeReportCreated, events.EventTypeError}, frameEvents(frames))
	require.Eventually(t, func() bool { return ts.runs.count() == 0 }, 2*time.Second, 5*time.Millisecond)
}

func TestGenerateReportHandler_DisconnectCancelsRun(t *testing.T) {
	started := make(chan struct{})
	finished := make(chan struct{})
	ts := newTestServer(generatorFunc(func(ctx context.Context, req orchestrator.Request) (*models.Report, error) {
		defer close(finished)
		return cancellable(started)(ctx, req)
	}))
	srv := httptest.NewServer(ts.Handler())
	defer srv.Close()

	ctx, cancel := context.WithCancel(context.Background())
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, srv.URL+generatePath, strings.NewReader(`{"request":"x"}`))
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	<-started

	cancel()

	select {
	case <-finished:
	case <-time.After(2 * time.Second):
		t.Fatal("run was not cancelled after the client disconnected")
	}
}

func TestGenerateReportHandler_ConcurrentResumeRunsOnce(t *testing.T) {
	started := make(chan struct{})
	unblock := make(chan struct{})
	var calls atomic.Int32
	ts := newTestServer(generatorFunc(func(ctx context.Context, req orchestrator.Request) (*models.Report, error) {
		calls.Add(1)
		req.OnEvent(events.ReportEvent{Type: events.EventTypeReportCreated, ReportID: req.ReportID, SessionID: req.SessionID})
		close(started)
		<-unblock
		return &models.Report{ReportID: req.ReportID, Status: models.ReportStatusCompleted}, nil
	}))
	ts.reports.reports["r1"] = &models.Report{ReportID: "r1", SessionID: "s1", Status: models.ReportStatusDraft}
	srv := httptest.NewServer(ts.Handler())
	defer srv.Close()

	post := func() *http.Response {
		resp, err := http.Post(srv.URL+generatePath, "application/json", strings.NewReader(resumeBody))
		require.NoError(t, err)
		return resp
	}

	first := post()
	defer first.Body.Close()
	<-started

	second := post()
	second.Body.Close()
	assert.Equal(t, http.StatusConflict, second.StatusCode)

	close(unblock)
	assert.Equal(t, http.StatusOK, first.StatusCode)
	readSSE(first.Body, 0)
	assert.Equal(t, int32(1), calls.Load())
	require.Eventually(t, func() bool { return ts.runs.count() == 0 }, 2*time.Second, 5*time.Millisecond)
}
