package api

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/codeready-toolchain/deepreport/pkg/database"
	"github.com/codeready-toolchain/deepreport/pkg/version"
)

const (
	healthStatusHealthy   = "healthy"
	healthStatusDegraded  = "degraded"
	healthStatusUnhealthy = "unhealthy"
)

// healthHandler handles GET /health.
// Only the database decides liveness; LLM providers are reported as
// warnings so an unreachable provider does not restart the process.
func (s *Server) healthHandler(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 5*time.Second)
	defer cancel()

	resp := &HealthResponse{
		Status:     healthStatusHealthy,
		Version:    version.GitCommit,
		ActiveRuns: s.runs.count(),
	}
	if s.cfg != nil {
		stats := s.cfg.Stats()
		resp.Configuration = ConfigurationStats{
			AgentProfiles: stats.AgentProfiles,
			LLMProviders:  stats.LLMProviders,
		}
		if s.cfg.Report != nil {
			resp.Configuration.MaxConcurrentSections = s.cfg.Report.MaxConcurrentSections
		}
	}
	if s.warnings != nil {
		resp.Warnings = s.warnings.GetWarnings()
		if len(resp.Warnings) > 0 {
			resp.Status = healthStatusDegraded
		}
	}

	if s.dbClient == nil {
		resp.Status = healthStatusUnhealthy
		resp.Error = "database not configured"
		c.JSON(http.StatusServiceUnavailable, resp)
		return
	}
	dbHealth, err := database.Health(ctx, s.dbClient.DB())
	resp.Database = dbHealth
	if err != nil {
		resp.Status = healthStatusUnhealthy
		resp.Error = err.Error()
		c.JSON(http.StatusServiceUnavailable, resp)
		return
	}

	c.JSON(http.StatusOK, resp)
}
