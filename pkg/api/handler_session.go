package api

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/codeready-toolchain/deepreport/pkg/models"
)

// createSessionHandler handles POST /api/v1/sessions.
func (s *Server) createSessionHandler(c *gin.Context) {
	var req models.CreateSessionRequest
	// An empty body is a session without title.
	if c.Request.ContentLength != 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			abortWithError(c, newHTTPError(http.StatusBadRequest, "invalid request body: "+err.Error()))
			return
		}
	}

	sess, err := s.deps.Sessions.CreateSession(c.Request.Context(), req)
	if err != nil {
		abortWithError(c, mapServiceError(err))
		return
	}
	c.JSON(http.StatusCreated, sess)
}

// getSessionHandler handles GET /api/v1/sessions/:id.
func (s *Server) getSessionHandler(c *gin.Context) {
	sess, err := s.deps.Sessions.GetSession(c.Request.Context(), c.Param("id"))
	if err != nil {
		abortWithError(c, mapServiceError(err))
		return
	}
	c.JSON(http.StatusOK, sess)
}

// deleteSessionHandler handles DELETE /api/v1/sessions/:id.
func (s *Server) deleteSessionHandler(c *gin.Context) {
	sessionID := c.Param("id")
	if err := s.deps.Sessions.DeleteSession(c.Request.Context(), sessionID); err != nil {
		abortWithError(c, mapServiceError(err))
		return
	}
	s.invalidate(sessionID)
	c.Status(http.StatusNoContent)
}

// createDatasetHandler handles POST /api/v1/sessions/:id/datasets.
func (s *Server) createDatasetHandler(c *gin.Context) {
	var req models.CreateDatasetRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		abortWithError(c, newHTTPError(http.StatusBadRequest, "invalid request body: "+err.Error()))
		return
	}

	sessionID := c.Param("id")
	ds, err := s.deps.Datasets.CreateDataset(c.Request.Context(), sessionID, req)
	if err != nil {
		abortWithError(c, mapServiceError(err))
		return
	}
	s.invalidate(sessionID)

	// Rows were just posted by the caller.
	ds.Rows = nil
	c.JSON(http.StatusCreated, ds)
}

// listDatasetsHandler handles GET /api/v1/sessions/:id/datasets.
// ?rows=true includes the stored rows.
func (s *Server) listDatasetsHandler(c *gin.Context) {
	withRows := false
	if v := c.Query("rows"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			abortWithError(c, newHTTPError(http.StatusBadRequest, "invalid rows: must be a boolean"))
			return
		}
		withRows = b
	}

	sessionID := c.Param("id")
	if _, err := s.deps.Sessions.GetSession(c.Request.Context(), sessionID); err != nil {
		abortWithError(c, mapServiceError(err))
		return
	}
	datasets, err := s.deps.Datasets.ListDatasets(c.Request.Context(), sessionID, withRows)
	if err != nil {
		abortWithError(c, mapServiceError(err))
		return
	}
	if datasets == nil {
		datasets = []*models.Dataset{}
	}
	c.JSON(http.StatusOK, DatasetListResponse{Datasets: datasets})
}

func (s *Server) invalidate(sessionID string) {
	if s.deps.Cache != nil {
		s.deps.Cache.Invalidate(sessionID)
	}
}
