package api

import (
	"github.com/codeready-toolchain/deepreport/pkg/database"
	"github.com/codeready-toolchain/deepreport/pkg/models"
	"github.com/codeready-toolchain/deepreport/pkg/services"
)

// HealthResponse is returned by GET /health.
type HealthResponse struct {
	Status        string                   `json:"status"`
	Version       string                   `json:"version"`
	Database      *database.HealthStatus   `json:"database,omitempty"`
	Error         string                   `json:"error,omitempty"`
	Configuration ConfigurationStats       `json:"configuration"`
	ActiveRuns    int                      `json:"active_runs"`
	Warnings      []services.SystemWarning `json:"warnings,omitempty"`
}

// ConfigurationStats contains counts of loaded configuration items.
type ConfigurationStats struct {
	AgentProfiles         int `json:"agent_profiles"`
	LLMProviders          int `json:"llm_providers"`
	MaxConcurrentSections int `json:"max_concurrent_sections"`
}

// DatasetListResponse is returned by GET /api/v1/sessions/:id/datasets.
type DatasetListResponse struct {
	Datasets []*models.Dataset `json:"datasets"`
}

// ReportListResponse is returned by GET /api/v1/sessions/:id/reports.
type ReportListResponse struct {
	Reports []models.ReportListItem `json:"reports"`
}

// CancelResponse is returned by DELETE /api/v1/reports/:id/generation.
type CancelResponse struct {
	ReportID string `json:"report_id"`
	Message  string `json:"message"`
}
