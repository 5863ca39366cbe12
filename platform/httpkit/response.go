// Package httpkit provides shared HTTP helpers for handlers.
// This is part of the platform layer and contains no business logic.
package httpkit

import (
	"errors"
	"net/http"

	"leadrouter_backend/platform/apperr"

	"github.com/gin-gonic/gin"
)

// ErrorResponse is the uniform error payload for all endpoints.
type ErrorResponse struct {
	Error   string      `json:"error"`
	Details interface{} `json:"details,omitempty"`
}

// JSON writes a payload with the given status code.
func JSON(c *gin.Context, status int, payload interface{}) {
	c.JSON(status, payload)
}

// OK writes a payload with status 200.
func OK(c *gin.Context, payload interface{}) {
	c.JSON(http.StatusOK, payload)
}

// Error writes an error payload with the given status code.
func Error(c *gin.Context, status int, message string, details interface{}) {
	c.JSON(status, ErrorResponse{Error: message, Details: details})
}

// FromError maps a service error to an HTTP response. Typed apperr errors
// carry their own status code; anything else is reported as a 500 without
// leaking internals.
func FromError(c *gin.Context, err error) {
	var appErr *apperr.Error
	if errors.As(err, &appErr) {
		Error(c, appErr.HTTPStatus(), appErr.Message, appErr.Details)
		return
	}
	Error(c, http.StatusInternalServerError, "internal error", nil)
}
