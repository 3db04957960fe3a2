package httpext

import (
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestJsonError(t *testing.T) {
	tests := []struct {
		name           string
		message        string
		code           int
		expectedStatus int
		expectedBody   ErrorResponse
	}{
		{
			name:           "Basic error",
			message:        "Something went wrong",
			code:           http.StatusBadRequest,
			expectedStatus: http.StatusBadRequest,
			expectedBody: ErrorResponse{
				Error: "Something went wrong",
			},
		},
		{
			name:           "Internal server error",
			message:        "Internal error",
			code:           http.StatusInternalServerError,
			expectedStatus: http.StatusInternalServerError,
			expectedBody: ErrorResponse{
				Error: "Internal error",
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := httptest.NewRecorder()
			JsonError(w, tt.message, tt.code)

			if w.Code != tt.expectedStatus {
				t.Errorf("Expected status code %d, got %d", tt.expectedStatus, w.Code)
			}

			if w.Header().Get("Content-Type") != "application/json" {
				t.Errorf("Expected Content-Type application/json, got %s", w.Header().Get("Content-Type"))
			}

			var response ErrorResponse
			if err := json.NewDecoder(w.Body).Decode(&response); err != nil {
				t.Fatalf("Failed to decode response body: %v", err)
			}

			if response.Error != tt.expectedBody.Error {
				t.Errorf("Expected error message %q, got %q", tt.expectedBody.Error, response.Error)
			}
		})
	}
}

func TestJsonErrorWithDetails(t *testing.T) {
	w := httptest.NewRecorder()
	JsonErrorWithDetails(w, http.StatusBadRequest, ErrorResponse{Detail: "No sitemap found for website"})

	if w.Code != http.StatusBadRequest {
		t.Errorf("Expected status code %d, got %d", http.StatusBadRequest, w.Code)
	}

	var response ErrorResponse
	if err := json.NewDecoder(w.Body).Decode(&response); err != nil {
		t.Fatalf("Failed to decode response body: %v", err)
	}
	if response.Detail != "No sitemap found for website" {
		t.Errorf("Expected detail to round trip, got %q", response.Detail)
	}
}

func TestDecodeError(t *testing.T) {
	tests := []struct {
		name        string
		status      int
		body        string
		wantMessage string
		wantRaw     string
	}{
		{
			name:        "detail envelope",
			status:      http.StatusBadRequest,
			body:        `{"detail":"Sitemap not found"}`,
			wantMessage: "Sitemap not found",
		},
		{
			name:        "oauth style envelope",
			status:      http.StatusUnauthorized,
			body:        `{"error":"unauthorized","error_description":"token expired"}`,
			wantMessage: "token expired",
		},
		{
			name:    "plain text body",
			status:  http.StatusBadGateway,
			body:    "upstream unavailable",
			wantRaw: "upstream unavailable",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp := &http.Response{
				StatusCode: tt.status,
				Body:       io.NopCloser(strings.NewReader(tt.body)),
			}

			err := DecodeError(resp)
			if err.StatusCode != tt.status {
				t.Errorf("Expected status %d, got %d", tt.status, err.StatusCode)
			}
			if err.Body.Message() != tt.wantMessage {
				t.Errorf("Expected message %q, got %q", tt.wantMessage, err.Body.Message())
			}
			if err.Raw != tt.wantRaw {
				t.Errorf("Expected raw %q, got %q", tt.wantRaw, err.Raw)
			}
			if !strings.Contains(err.Error(), "status") {
				t.Errorf("Expected error string to mention status, got %q", err.Error())
			}
		})
	}
}
