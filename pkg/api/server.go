// Package api serves the deepreport REST and SSE endpoints.
package api

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/codeready-toolchain/deepreport/pkg/agent/orchestrator"
	"github.com/codeready-toolchain/deepreport/pkg/config"
	"github.com/codeready-toolchain/deepreport/pkg/database"
	"github.com/codeready-toolchain/deepreport/pkg/events"
	"github.com/codeready-toolchain/deepreport/pkg/metrics"
	"github.com/codeready-toolchain/deepreport/pkg/models"
	"github.com/codeready-toolchain/deepreport/pkg/services"
)

// SessionStore is implemented by *services.SessionService.
type SessionStore interface {
	CreateSession(ctx context.Context, req models.CreateSessionRequest) (*models.Session, error)
	GetSession(ctx context.Context, sessionID string) (*models.Session, error)
	DeleteSession(ctx context.Context, sessionID string) error
}

// DatasetStore is implemented by *services.DatasetService.
type DatasetStore interface {
	CreateDataset(ctx context.Context, sessionID string, req models.CreateDatasetRequest) (*models.Dataset, error)
	ListDatasets(ctx context.Context, sessionID string, withRows bool) ([]*models.Dataset, error)
}

// ReportStore is implemented by *services.ReportService.
type ReportStore interface {
	GetReport(ctx context.Context, reportID string) (*models.Report, error)
	ListReports(ctx context.Context, sessionID string) ([]models.ReportListItem, error)
	DeleteReport(ctx context.Context, reportID string) error
}

// Generator runs a report. Implemented by *orchestrator.Orchestrator.
type Generator interface {
	Generate(ctx context.Context, req orchestrator.Request) (*models.Report, error)
}

// CacheInvalidator drops cached dataset registries. Implemented by *dataset.Cache.
type CacheInvalidator interface {
	Invalidate(sessionID string)
}

// EventSubscriber opens session event streams. Implemented by *events.Broker.
type EventSubscriber interface {
	Subscribe(ctx context.Context, channel string, sinceID int64) (*events.Subscription, error)
}

// Deps are the services behind the HTTP handlers.
type Deps struct {
	Sessions  SessionStore
	Datasets  DatasetStore
	Reports   ReportStore
	Cache     CacheInvalidator
	Generator Generator
	Broker    EventSubscriber
	Metrics   *metrics.Metrics
}

// Server is the HTTP API server.
type Server struct {
	cfg        *config.Config
	dbClient   *database.Client
	deps       Deps
	warnings   *services.SystemWarningsService
	runs       *runRegistry
	engine     *gin.Engine
	httpServer *http.Server
}

// NewServer creates the server and registers its routes.
func NewServer(cfg *config.Config, dbClient *database.Client, deps Deps) *Server {
	engine := gin.New()
	engine.Use(gin.Recovery(), requestLogger(), securityHeaders())

	s := &Server{
		cfg:      cfg,
		dbClient: dbClient,
		deps:     deps,
		runs:     newRunRegistry(),
		engine:   engine,
	}
	s.setupRoutes()
	return s
}

// SetWarningsService exposes system warnings on /health.
func (s *Server) SetWarningsService(w *services.SystemWarningsService) {
	s.warnings = w
}

func (s *Server) setupRoutes() {
	s.engine.GET("/health", s.healthHandler)
	if s.deps.Metrics != nil {
		s.engine.GET("/metrics", gin.WrapH(s.deps.Metrics.Handler()))
	}

	v1 := s.engine.Group("/api/v1")

	v1.POST("/sessions", s.createSessionHandler)
	v1.GET("/sessions/:id", s.getSessionHandler)
	v1.DELETE("/sessions/:id", s.deleteSessionHandler)

	v1.POST("/sessions/:id/datasets", s.createDatasetHandler)
	v1.GET("/sessions/:id/datasets", s.listDatasetsHandler)

	v1.POST("/sessions/:id/reports/generate", s.generateReportHandler)
	v1.GET("/sessions/:id/reports", s.listReportsHandler)
	v1.GET("/sessions/:id/events", s.sessionEventsHandler)

	v1.GET("/reports/:id", s.getReportHandler)
	v1.DELETE("/reports/:id", s.deleteReportHandler)
	v1.DELETE("/reports/:id/generation", s.cancelGenerationHandler)
}

// Handler returns the HTTP handler, for tests and embedding.
func (s *Server) Handler() http.Handler {
	return s.engine
}

// Start listens on addr and blocks until the server stops.
func (s *Server) Start(addr string) error {
	s.httpServer = &http.Server{
		Addr:              addr,
		Handler:           s.engine,
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s.httpServer.ListenAndServe()
}

// Shutdown cancels in-flight generation runs and stops the HTTP server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.runs.cancelAll()
	if s.httpServer == nil {
		return nil
	}
	return s.httpServer.Shutdown(ctx)
}
