// Package api exposes the gateway's HTTP surface: the Anthropic- and
// OpenAI-protocol chat endpoints, the model listing, and the login flow.
package api

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/ocagate/ocagate/internal/auth"
	"github.com/ocagate/ocagate/internal/executor"
)

// ErrorResponse is the OpenAI-style error envelope.
type ErrorResponse struct {
	Error ErrorDetail `json:"error"`
}

// ErrorDetail describes a single error inside an envelope. Type is populated
// only for the Anthropic-style envelope.
type ErrorDetail struct {
	Type    string `json:"type,omitempty"`
	Message string `json:"message"`
}

// classifyError maps a core error onto an HTTP status, an Anthropic error
// type, and a client-facing message. Upstream failures keep their original
// status and body.
func classifyError(err error) (int, string, string) {
	var statusErr *executor.StatusError
	switch {
	case errors.Is(err, auth.ErrNotAuthenticated):
		return http.StatusUnauthorized, "authentication_error", "not authenticated, open /auth/login to sign in"
	case errors.Is(err, auth.ErrAuthExpired):
		return http.StatusUnauthorized, "authentication_error", "authentication expired, open /auth/login to sign in again"
	case errors.Is(err, auth.ErrRefreshFailed):
		return http.StatusInternalServerError, "api_error", "token refresh failed, retry shortly"
	case errors.Is(err, auth.ErrInvalidOrExpiredState):
		return http.StatusBadRequest, "invalid_request_error", "invalid or expired authorization state"
	case errors.As(err, &statusErr):
		return statusErr.Code, "api_error", statusErr.Body
	default:
		return http.StatusInternalServerError, "api_error", err.Error()
	}
}

// writeClaudeError writes an Anthropic-style {error:{type,message}} envelope.
func writeClaudeError(c *gin.Context, err error) {
	status, errType, message := classifyError(err)
	c.JSON(status, ErrorResponse{Error: ErrorDetail{Type: errType, Message: message}})
}

// writeOpenAIError writes an OpenAI-style {error:{message}} envelope.
func writeOpenAIError(c *gin.Context, err error) {
	status, _, message := classifyError(err)
	c.JSON(status, ErrorResponse{Error: ErrorDetail{Message: message}})
}
