package web

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/MrWong99/monitorai/internal/evaluate"
)

// Error codes returned in API error bodies.
const (
	ErrCodeBadRequest      = "bad_request"
	ErrCodeUnsupportedType = "unsupported_type"
	ErrCodeTooLarge        = "too_large"
	ErrCodeNotFound        = "not_found"
	ErrCodeNotReady        = "not_ready"
	ErrCodeUnavailable     = "unavailable"
	ErrCodeBusy            = "busy"
	ErrCodeTranscription   = "transcription_failed"
	ErrCodeGrading         = "grading_failed"
	ErrCodeTimeout         = "timeout"
	ErrCodeInternal        = "internal_error"
)

// ErrorResponse is the body of every API error:
// {"error": {"code": "...", "message": "..."}}.
type ErrorResponse struct {
	Error ErrorDetail `json:"error"`
}

// ErrorDetail contains the error code and a human-readable message.
type ErrorDetail struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// writeError writes a JSON error response.
func writeError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, ErrorResponse{Error: ErrorDetail{Code: code, Message: message}})
}

// writeJSON encodes v as the response body.
func writeJSON(w http.ResponseWriter, status int, v any) {
	data, err := json.Marshal(v)
	if err != nil {
		slog.Error("web: encode response", "err", err)
		http.Error(w, "Internal server error", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_, _ = w.Write(append(data, '\n'))
}

// classify maps a failed evaluation to an HTTP status and error code.
// Grading and transcription failures are upstream errors (502), timeouts are
// 504.
func classify(err error) (int, string) {
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout, ErrCodeTimeout
	case errors.Is(err, evaluate.ErrGrading):
		return http.StatusBadGateway, ErrCodeGrading
	case errors.Is(err, evaluate.ErrTranscription):
		return http.StatusBadGateway, ErrCodeTranscription
	case errors.Is(err, evaluate.ErrNoInput):
		return http.StatusBadRequest, ErrCodeBadRequest
	default:
		return http.StatusInternalServerError, ErrCodeInternal
	}
}
