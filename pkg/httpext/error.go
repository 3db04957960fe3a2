package httpext

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"github.com/rs/zerolog/log"
)

// maxErrorBody caps how much of an error response is read for decoding.
const maxErrorBody = 64 * 1024

// ErrorResponse represents a standardised JSON error response
type ErrorResponse struct {
	Error            string `json:"error,omitempty"`
	ErrorDescription string `json:"error_description,omitempty"`
	ErrorURI         string `json:"error_uri,omitempty"`
	// Detail is the envelope used by the phantom backend for validation failures.
	Detail string `json:"detail,omitempty"`
}

// Message returns the most specific human readable text in the envelope.
func (e ErrorResponse) Message() string {
	switch {
	case e.Detail != "":
		return e.Detail
	case e.ErrorDescription != "":
		return e.ErrorDescription
	default:
		return e.Error
	}
}

// JsonError writes a JSON error response with the specified status code
func JsonError(w http.ResponseWriter, message string, code int) {
	response := ErrorResponse{
		Error: message,
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)

	if err := json.NewEncoder(w).Encode(response); err != nil {
		log.Error().Err(err).Msg("Failed to encode error response")
		return
	}
}

// JsonErrorWithDetails writes a detailed JSON error response with optional description and URI
func JsonErrorWithDetails(w http.ResponseWriter, code int, err ErrorResponse) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)

	if err := json.NewEncoder(w).Encode(err); err != nil {
		log.Error().Err(err).Msg("Failed to encode detailed error response")
		return
	}
}

// StatusError is a non-2xx response decoded on the client side.
type StatusError struct {
	StatusCode int
	Body       ErrorResponse
	Raw        string
}

func (e *StatusError) Error() string {
	if msg := e.Body.Message(); msg != "" {
		return fmt.Sprintf("status %d: %s", e.StatusCode, msg)
	}
	if e.Raw != "" {
		return fmt.Sprintf("status %d: %s", e.StatusCode, e.Raw)
	}
	return fmt.Sprintf("status %d", e.StatusCode)
}

// DecodeError reads an error response body into a StatusError. The body is not closed.
func DecodeError(resp *http.Response) *StatusError {
	statusErr := &StatusError{StatusCode: resp.StatusCode}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
	if err != nil {
		log.Debug().Err(err).Int("status", resp.StatusCode).Msg("Failed to read error response body")
		return statusErr
	}

	if err := json.Unmarshal(body, &statusErr.Body); err != nil {
		raw := string(body)
		if len(raw) > 500 {
			raw = raw[:500] + "..."
		}
		statusErr.Raw = raw
	}
	return statusErr
}
