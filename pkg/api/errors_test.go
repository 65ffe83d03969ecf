package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/codeready-toolchain/deepreport/pkg/agent/orchestrator"
	"github.com/codeready-toolchain/deepreport/pkg/services"
)

func TestMapServiceError(t *testing.T) {
	tests := map[string]struct {
		err      error
		wantCode int
		wantMsg  string
	}{
		"validation": {
			err:      services.NewValidationError("title", "must be at most 200 characters"),
			wantCode: http.StatusBadRequest,
			wantMsg:  "invalid title: must be at most 200 characters",
		},
		"missing session": {
			err:      fmt.Errorf("session s1: %w", services.ErrNotFound),
			wantCode: http.StatusNotFound,
			wantMsg:  "resource not found",
		},
		"duplicate dataset": {
			err:      fmt.Errorf("dataset \"sales\": %w", services.ErrAlreadyExists),
			wantCode: http.StatusConflict,
			wantMsg:  "resource already exists",
		},
		"finished report": {
			err:      fmt.Errorf("report r1 is completed: %w", orchestrator.ErrReportFinished),
			wantCode: http.StatusConflict,
			wantMsg:  "report generation already finished",
		},
		"anything else": {
			err:      errors.New("connection refused"),
			wantCode: http.StatusInternalServerError,
			wantMsg:  "internal server error",
		},
	}

	for name, tt := range tests {
		t.Run(name, func(t *testing.T) {
			he := mapServiceError(tt.err)
			assert.Equal(t, tt.wantCode, he.Code)
			assert.Equal(t, tt.wantMsg, he.Message)
		})
	}
}

func TestAbortWithError(t *testing.T) {
	gin.SetMode(gin.TestMode)
	rec := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(rec)

	abortWithError(c, newHTTPError(http.StatusNotFound, "resource not found"))

	assert.True(t, c.IsAborted())
	assert.Equal(t, http.StatusNotFound, rec.Code)
	var body map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "resource not found", body["error"])
}
