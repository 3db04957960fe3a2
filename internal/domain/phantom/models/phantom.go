package models

import (
	"strings"
)

// Phantom is a user-owned, website-backed assistant.
type Phantom struct {
	ID         string `json:"phantom_id"`
	Name       string `json:"phantom_name"`
	WebsiteURL string `json:"website_url"`
}

// Status is the lifecycle state of the backend job that prepares a phantom.
type Status string

const (
	StatusPending   Status = "pending"
	StatusCrawling  Status = "crawling"
	StatusIndexing  Status = "indexing"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
)

// Known reports whether s is one of the backend-defined states.
func (s Status) Known() bool {
	switch s {
	case StatusPending, StatusCrawling, StatusIndexing, StatusCompleted, StatusFailed:
		return true
	}
	return false
}

// StatusUpdate is one message on the status push channel.
type StatusUpdate struct {
	Status   Status   `json:"status"`
	Progress *float64 `json:"progress,omitempty"`
}

// CreateRequest is the body of POST /phantoms.
type CreateRequest struct {
	UserID     string `json:"user_id" validate:"required"`
	Name       string `json:"phantom_name" validate:"required,max=120"`
	WebsiteURL string `json:"website_url" validate:"required,url"`
}

// UpdateRequest is the body of PUT /phantoms/{id}.
type UpdateRequest struct {
	Name string `json:"phantom_name" validate:"required,max=120"`
}

// NormalizeWebsiteURL trims the input and adds https:// when no scheme is present.
func NormalizeWebsiteURL(raw string) string {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return raw
	}
	lower := strings.ToLower(raw)
	if strings.HasPrefix(lower, "http://") || strings.HasPrefix(lower, "https://") {
		return raw
	}
	return "https://" + raw
}
