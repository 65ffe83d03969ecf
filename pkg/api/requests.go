package api

import "github.com/codeready-toolchain/deepreport/pkg/models"

// GenerateReportRequest is the body of POST /api/v1/sessions/:id/reports/generate.
// A new run sends request; answering a clarification sends report_id and
// clarification as received in the clarification event, with answer filled in.
type GenerateReportRequest struct {
	Request       string                       `json:"request"`
	ReportID      string                       `json:"report_id,omitempty"`
	Clarification *models.ClarificationContext `json:"clarification,omitempty"`
}
