package bridge

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/agentstation/opsync/pkg/errors"
)

// Response is the envelope of every bridge REST response.
type Response struct {
	Data  any    `json:"data"`
	Error *Error `json:"error"`
}

// Error is the error part of a Response.
type Error struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Details string `json:"details,omitempty"`
}

func ok(c *gin.Context, data any) {
	c.JSON(http.StatusOK, Response{Data: data})
}

func fail(c *gin.Context, status int, code, message, details string) {
	c.AbortWithStatusJSON(status, Response{Error: &Error{Code: code, Message: message, Details: details}})
}

// failFromError maps typed errors to responses.
func failFromError(c *gin.Context, err error) {
	switch {
	case errors.IsValidationError(err):
		fail(c, http.StatusBadRequest, "BAD_REQUEST", err.Error(), "")
	case errors.IsNotFound(err):
		fail(c, http.StatusNotFound, "NOT_FOUND", err.Error(), "")
	case errors.IsUnavailable(err):
		fail(c, http.StatusServiceUnavailable, "SERVICE_UNAVAILABLE", "Service unavailable", err.Error())
	default:
		fail(c, http.StatusInternalServerError, "INTERNAL_ERROR", "Internal server error", "An unexpected error occurred")
	}
}
