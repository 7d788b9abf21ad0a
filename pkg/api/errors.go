package api

import (
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	echo "github.com/labstack/echo/v5"

	"github.com/loophive/hiveboard/pkg/pricing"
	"github.com/loophive/hiveboard/pkg/storage"
)

// ErrorResponse is the structured error body every failed request
// returns: {error, message, status, details?}.
type ErrorResponse struct {
	Error   string         `json:"error"`
	Message string         `json:"message"`
	Status  int            `json:"status"`
	Details map[string]any `json:"details,omitempty"`
}

// apiError carries a machine-readable error code alongside the HTTP
// status, for responses where the code matters to clients (rule
// violations, rate limits).
type apiError struct {
	status  int
	code    string
	message string
	details map[string]any
}

func (e *apiError) Error() string {
	return e.message
}

func newAPIError(status int, code, message string) *apiError {
	return &apiError{status: status, code: code, message: message}
}

// mapServiceError maps service-layer errors to HTTP error responses.
func mapServiceError(err error) error {
	var validErr *storage.ValidationError
	if errors.As(err, &validErr) {
		return &apiError{
			status:  http.StatusBadRequest,
			code:    "validation_error",
			message: validErr.Error(),
			details: map[string]any{"fields": []string{validErr.Field}},
		}
	}
	if errors.Is(err, storage.ErrNotFound) || errors.Is(err, pricing.ErrNotFound) {
		return newAPIError(http.StatusNotFound, "not_found", "resource not found")
	}
	if errors.Is(err, storage.ErrAlreadyExists) || errors.Is(err, pricing.ErrAlreadyExists) {
		return newAPIError(http.StatusConflict, "already_exists", "resource already exists")
	}

	// Unexpected error
	slog.Error("Unexpected service error", "error", err)
	return newAPIError(http.StatusInternalServerError, "internal_error", "internal server error")
}

// codeForStatus supplies the error code for responses that arrive as a
// bare echo.HTTPError (auth middleware, binding failures).
func codeForStatus(status int) string {
	switch status {
	case http.StatusBadRequest:
		return "invalid_request"
	case http.StatusUnauthorized:
		return "unauthorized"
	case http.StatusForbidden:
		return "forbidden"
	case http.StatusNotFound:
		return "not_found"
	case http.StatusConflict:
		return "conflict"
	case http.StatusRequestEntityTooLarge:
		return "payload_too_large"
	case http.StatusTooManyRequests:
		return "rate_limited"
	case http.StatusServiceUnavailable:
		return "unavailable"
	default:
		return "internal_error"
	}
}

func toErrorResponse(err error) *ErrorResponse {
	var ae *apiError
	if errors.As(err, &ae) {
		return &ErrorResponse{Error: ae.code, Message: ae.message, Status: ae.status, Details: ae.details}
	}
	var he *echo.HTTPError
	if errors.As(err, &he) {
		return &ErrorResponse{Error: codeForStatus(he.Code), Message: fmt.Sprint(he.Message), Status: he.Code}
	}
	return toErrorResponse(mapServiceError(err))
}

// httpErrorHandler renders every handler error as an ErrorResponse.
// Rate-limited responses additionally carry the retry hint.
func (s *Server) httpErrorHandler(c *echo.Context, err error) {
	if c.Response().Committed {
		return
	}

	resp := toErrorResponse(err)
	if resp.Status == http.StatusTooManyRequests {
		if resp.Details == nil {
			resp.Details = map[string]any{}
		}
		resp.Details["retry_after_seconds"] = 1
		c.Response().Header().Set("Retry-After", "1")
	}

	if jsonErr := c.JSON(resp.Status, resp); jsonErr != nil {
		s.logger.Debug("failed to write error response", "error", jsonErr)
	}
}
