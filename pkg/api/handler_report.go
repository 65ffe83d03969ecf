package api

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

// getReportHandler handles GET /api/v1/reports/:id.
func (s *Server) getReportHandler(c *gin.Context) {
	report, err := s.deps.Reports.GetReport(c.Request.Context(), c.Param("id"))
	if err != nil {
		abortWithError(c, mapServiceError(err))
		return
	}
	c.JSON(http.StatusOK, report)
}

// listReportsHandler handles GET /api/v1/sessions/:id/reports.
func (s *Server) listReportsHandler(c *gin.Context) {
	sessionID := c.Param("id")
	if _, err := s.deps.Sessions.GetSession(c.Request.Context(), sessionID); err != nil {
		abortWithError(c, mapServiceError(err))
		return
	}
	reports, err := s.deps.Reports.ListReports(c.Request.Context(), sessionID)
	if err != nil {
		abortWithError(c, mapServiceError(err))
		return
	}
	c.JSON(http.StatusOK, ReportListResponse{Reports: reports})
}

// deleteReportHandler handles DELETE /api/v1/reports/:id.
// A report still generating is cancelled first.
func (s *Server) deleteReportHandler(c *gin.Context) {
	reportID := c.Param("id")
	s.runs.cancel(reportID)
	if err := s.deps.Reports.DeleteReport(c.Request.Context(), reportID); err != nil {
		abortWithError(c, mapServiceError(err))
		return
	}
	c.Status(http.StatusNoContent)
}

// cancelGenerationHandler handles DELETE /api/v1/reports/:id/generation.
func (s *Server) cancelGenerationHandler(c *gin.Context) {
	reportID := c.Param("id")
	if s.runs.cancel(reportID) {
		c.JSON(http.StatusAccepted, &CancelResponse{
			ReportID: reportID,
			Message:  "Report generation cancellation requested",
		})
		return
	}

	if _, err := s.deps.Reports.GetReport(c.Request.Context(), reportID); err != nil {
		abortWithError(c, mapServiceError(err))
		return
	}
	abortWithError(c, newHTTPError(http.StatusConflict, "report is not being generated"))
}
