// =============================================================================
// Merchant Analytics - API Errors
// =============================================================================
//
// Every error response is an APIError rendered as JSON.
//
// =============================================================================

package server

import (
	"fmt"
	"net/http"

	"github.com/go-chi/render"
)

// APIError is the JSON body of every error response.
type APIError struct {
	StatusCode int    `json:"status_code"`
	ErrorCode  string `json:"error_code"`
	Message    string `json:"message"`
	Details    any    `json:"details,omitempty"`
}

func (e *APIError) Error() string {
	return e.Message
}

// Render implements render.Renderer.
func (e *APIError) Render(w http.ResponseWriter, r *http.Request) error {
	render.Status(r, e.StatusCode)
	return nil
}

func newAPIError(status int, code, message string, details any) *APIError {
	return &APIError{StatusCode: status, ErrorCode: code, Message: message, Details: details}
}

func errInvalidParameter(name string, err error) *APIError {
	return newAPIError(http.StatusBadRequest, "INVALID_PARAMETER", fmt.Sprintf("invalid %s", name), err.Error())
}

func errInvalidRequest(err error) *APIError {
	return newAPIError(http.StatusBadRequest, "INVALID_REQUEST", "invalid request body", err.Error())
}

func errNotFound(resource string) *APIError {
	return newAPIError(http.StatusNotFound, "NOT_FOUND", fmt.Sprintf("%s not found", resource), nil)
}

func errConflict(err error) *APIError {
	return newAPIError(http.StatusConflict, "CONFLICT", "request conflicts with current state", err.Error())
}

func errInternal() *APIError {
	return newAPIError(http.StatusInternalServerError, "INTERNAL_SERVER_ERROR", "internal server error", nil)
}

func errUnavailable(err error) *APIError {
	return newAPIError(http.StatusServiceUnavailable, "SERVICE_UNAVAILABLE", "service unavailable", err.Error())
}
