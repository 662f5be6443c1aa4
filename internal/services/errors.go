package services

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/Lllllllleong/answerevaluator/internal/models"
)

var (
	// ErrUnsupportedFormat is returned for uploads that are neither PDF nor a supported image.
	ErrUnsupportedFormat = errors.New("unsupported file type, upload a PDF or an image")
	// ErrEmptyInput is returned when a request carries no usable content.
	ErrEmptyInput = errors.New("empty input")
	// ErrModelRefusal is returned when Gemini answers with a refusal instead of content.
	ErrModelRefusal = errors.New("gemini response indicates refusal")
)

// StatusCode maps a Process error to the HTTP status the functions respond with.
func StatusCode(err error) int {
	switch {
	case errors.Is(err, ErrUnsupportedFormat):
		return http.StatusUnsupportedMediaType
	case errors.Is(err, ErrEmptyInput):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

// WriteJSON encodes v as the response body.
func WriteJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("Failed to write response", "error", err)
	}
}

// WriteError responds with the status for err and a {"detail": ...} body. Internal
// errors are not echoed to the caller; they are already logged by Process.
func WriteError(w http.ResponseWriter, err error) {
	status := StatusCode(err)
	detail := err.Error()
	if status == http.StatusInternalServerError {
		detail = "Internal Server Error: processing failed"
	}
	WriteJSON(w, status, models.ErrorResponse{Detail: detail})
}
