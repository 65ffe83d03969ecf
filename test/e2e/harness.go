// Package e2e boots the complete report engine against PostgreSQL with a
// scripted model provider and drives it through the HTTP API.
package e2e

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stretchr/testify/require"

	"github.com/codeready-toolchain/deepreport/pkg/agent"
	"github.com/codeready-toolchain/deepreport/pkg/agent/nl2sql"
	"github.com/codeready-toolchain/deepreport/pkg/agent/orchestrator"
	"github.com/codeready-toolchain/deepreport/pkg/agent/planner"
	"github.com/codeready-toolchain/deepreport/pkg/agent/prompt"
	"github.com/codeready-toolchain/deepreport/pkg/agent/researcher"
	"github.com/codeready-toolchain/deepreport/pkg/agent/section"
	"github.com/codeready-toolchain/deepreport/pkg/agent/summary"
	"github.com/codeready-toolchain/deepreport/pkg/api"
	"github.com/codeready-toolchain/deepreport/pkg/config"
	"github.com/codeready-toolchain/deepreport/pkg/dataset"
	"github.com/codeready-toolchain/deepreport/pkg/events"
	"github.com/codeready-toolchain/deepreport/pkg/llm"
	"github.com/codeready-toolchain/deepreport/pkg/masking"
	"github.com/codeready-toolchain/deepreport/pkg/metrics"
	"github.com/codeready-toolchain/deepreport/pkg/models"
	"github.com/codeready-toolchain/deepreport/pkg/sandbox"
	"github.com/codeready-toolchain/deepreport/pkg/services"
	"github.com/codeready-toolchain/deepreport/test/util"
)

const testConfigYAML = `
report:
  max_concurrent_sections: 2
  heartbeat_interval: 1s
`

// TestApp is a complete deepreport instance served by httptest.
type TestApp struct {
	Config    *config.Config
	Transport *ScriptedTransport
	Metrics   *metrics.Metrics
	Reports   *services.ReportService
	Server    *httptest.Server
}

// NewTestApp wires the same components as cmd/deepreport on a per-test schema.
func NewTestApp(t *testing.T, transport *ScriptedTransport) *TestApp {
	t.Helper()
	ctx := context.Background()

	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "deepreport.yaml"), []byte(testConfigYAML), 0o644))
	t.Setenv("DASHSCOPE_API_KEY", "test-key")
	cfg, err := config.Initialize(ctx, dir)
	require.NoError(t, err)

	tdb := util.SetupTestDatabase(t)
	pool, err := pgxpool.New(ctx, tdb.ConnString)
	require.NoError(t, err)
	t.Cleanup(pool.Close)

	sessionService := services.NewSessionService(tdb.Client)
	datasetService := services.NewDatasetService(tdb.Client)
	reportService := services.NewReportService(tdb.Client)
	eventService := services.NewEventService(tdb.Client)

	publisher := events.NewEventPublisher(tdb.Client.DB())
	broker := events.NewBroker(events.NewEventServiceAdapter(eventService))

	m := metrics.New()
	gateway := llm.NewGateway(transport, cfg, llm.WithMetrics(m))
	prompts := prompt.NewStore(cfg.PromptsDir)
	telemetry := agent.NewTelemetry(publisher, agent.WithMasker(masking.NewService()))
	rc := cfg.Report

	translator := nl2sql.New(gateway, prompts, telemetry, rc.SQLLimitCap)
	searcher := researcher.NewSearcher(sandbox.New(sandbox.NewPgEngine(pool, rc.SandboxRole), rc.QueryTimeout, m), translator, rc.TranslationRetries, rc.SearchMaxRows)
	assembler := section.New(gateway, prompts, telemetry, rc.ChartMaxRows)
	datasets := dataset.NewCache(datasetService, rc.DatasetCacheTTL)

	gen := orchestrator.New(orchestrator.Deps{
		Planner:    planner.New(gateway, prompts, telemetry, rc.PlannerMaxIterations),
		Researcher: researcher.New(gateway, prompts, telemetry, searcher, assembler, rc.ResearcherMaxIterations, rc.MaxSearches),
		Summary:    summary.New(gateway, prompts, telemetry),
		Datasets:   datasets,
		Reports:    reportService,
		Events:     publisher,
		Metrics:    m,
	}, rc)

	server := api.NewServer(cfg, tdb.Client, api.Deps{
		Sessions:  sessionService,
		Datasets:  datasetService,
		Reports:   reportService,
		Cache:     datasets,
		Generator: gen,
		Broker:    broker,
		Metrics:   m,
	})
	srv := httptest.NewServer(server.Handler())
	t.Cleanup(func() {
		_ = server.Shutdown(context.Background())
		srv.Close()
	})

	return &TestApp{Config: cfg, Transport: transport, Metrics: m, Reports: reportService, Server: srv}
}

// Do sends a JSON request and decodes a JSON response into out when non-nil.
func (a *TestApp) Do(t *testing.T, method, path string, body any, wantStatus int, out any) {
	t.Helper()
	resp := a.send(t, method, path, body)
	defer resp.Body.Close()
	data, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	require.Equal(t, wantStatus, resp.StatusCode, "unexpected status for %s %s: %s", method, path, data)
	if out != nil {
		require.NoError(t, json.Unmarshal(data, out))
	}
}

// Stream sends a request and returns the open event stream.
func (a *TestApp) Stream(t *testing.T, method, path string, body any) *SSEReader {
	t.Helper()
	resp := a.send(t, method, path, body)
	t.Cleanup(func() { resp.Body.Close() })
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Equal(t, "text/event-stream", resp.Header.Get("Content-Type"))
	return NewSSEReader(resp.Body)
}

func (a *TestApp) send(t *testing.T, method, path string, body any) *http.Response {
	t.Helper()
	var r io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		require.NoError(t, err)
		r = bytes.NewReader(data)
	}
	req, err := http.NewRequest(method, a.Server.URL+path, r)
	require.NoError(t, err)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	return resp
}

// CreateSession creates a session holding the sales_2024 dataset.
func (a *TestApp) CreateSession(t *testing.T) string {
	t.Helper()
	var sess models.Session
	a.Do(t, http.MethodPost, "/api/v1/sessions", map[string]string{"title": "销售分析"}, http.StatusCreated, &sess)
	require.NotEmpty(t, sess.ID)

	a.Do(t, http.MethodPost, "/api/v1/sessions/"+sess.ID+"/datasets", models.CreateDatasetRequest{
		Name:        "sales_2024",
		Description: "2024年销售明细",
		Rows:        salesRows(),
	}, http.StatusCreated, nil)
	return sess.ID
}

// salesRows returns 30 rows spread over three regions and twelve months.
func salesRows() []models.Row {
	regions := []string{"华东", "华南", "华北"}
	rows := make([]models.Row, 30)
	for i := range rows {
		rows[i] = models.Row{
			"sale_month": fmt.Sprintf("2024-%02d", i%12+1),
			"region":     regions[i%len(regions)],
			"price":      float64(100 + i),
			"amount":     float64(10*i + 5),
		}
	}
	return rows
}
