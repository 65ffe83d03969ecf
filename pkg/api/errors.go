package api

import (
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/codeready-toolchain/deepreport/pkg/agent/orchestrator"
	"github.com/codeready-toolchain/deepreport/pkg/services"
)

// HTTPError is an error with the status code it is answered with.
type HTTPError struct {
	Code    int
	Message string
}

func (e *HTTPError) Error() string {
	return fmt.Sprintf("code=%d, message=%s", e.Code, e.Message)
}

func newHTTPError(code int, message string) *HTTPError {
	return &HTTPError{Code: code, Message: message}
}

// mapServiceError maps service-layer errors to HTTP error responses.
func mapServiceError(err error) *HTTPError {
	var validErr *services.ValidationError
	if errors.As(err, &validErr) {
		return newHTTPError(http.StatusBadRequest, validErr.Error())
	}
	if errors.Is(err, services.ErrNotFound) {
		return newHTTPError(http.StatusNotFound, "resource not found")
	}
	if errors.Is(err, services.ErrAlreadyExists) {
		return newHTTPError(http.StatusConflict, "resource already exists")
	}
	if errors.Is(err, orchestrator.ErrReportFinished) {
		return newHTTPError(http.StatusConflict, "report generation already finished")
	}

	// Unexpected error
	slog.Error("Unexpected service error", "error", err)
	return newHTTPError(http.StatusInternalServerError, "internal server error")
}

// abortWithError writes he as {"error": message} and stops the handler chain.
func abortWithError(c *gin.Context, he *HTTPError) {
	c.AbortWithStatusJSON(he.Code, gin.H{"error": he.Message})
}
