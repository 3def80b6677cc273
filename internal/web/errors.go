package web

// errors.go provides unified error response handling for the web layer.
//
// Every error is logged with its technical details and the request ID, then
// returned to the client as a JSON user message from intake.MapError.

import (
	"errors"
	"net"
	"net/http"

	"github.com/JonMunkholm/intake/internal/intake"
	"github.com/JonMunkholm/intake/internal/logging"
)

// ErrorResponse represents the JSON structure for API error responses.
// Includes both machine-readable (Code) and human-readable (Message, Action) fields.
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
	Action  string `json:"action,omitempty"`
	Code    string `json:"code"`
}

// respondError logs err and writes its user-facing form. A zero statusCode
// derives the status from the error.
func respondError(w http.ResponseWriter, r *http.Request, err error, statusCode int) {
	if statusCode == 0 {
		statusCode = statusFor(err)
	}
	userMsg := intake.MapError(err)

	logger := logging.FromContext(r.Context())
	attrs := []any{
		"path", r.URL.Path,
		"method", r.Method,
		"status", statusCode,
		"error", err.Error(),
		"code", userMsg.Code,
	}
	if statusCode >= http.StatusInternalServerError {
		logger.Error("request error", attrs...)
	} else {
		logger.Warn("request error", attrs...)
	}

	writeJSONStatus(w, statusCode, ErrorResponse{
		Error:   err.Error(),
		Message: userMsg.Message,
		Action:  userMsg.Action,
		Code:    userMsg.Code,
	})
}

// statusFor maps domain errors onto HTTP status codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, intake.ErrSessionNotFound), errors.Is(err, intake.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, intake.ErrTooManyUploads):
		return http.StatusServiceUnavailable
	case errors.Is(err, intake.ErrDisabled), errors.Is(err, intake.ErrInvalidTransition):
		return http.StatusConflict
	case errors.Is(err, intake.ErrRejected):
		return http.StatusUnprocessableEntity
	case errors.Is(err, intake.ErrInvalidInput):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

// clientIP returns the host part of RemoteAddr, as set by TrustedRealIP.
func clientIP(r *http.Request) string {
	if host, _, err := net.SplitHostPort(r.RemoteAddr); err == nil {
		return host
	}
	return r.RemoteAddr
}
