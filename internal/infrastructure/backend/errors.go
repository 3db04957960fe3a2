package backend

import (
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/go-playground/validator/v10"
)

// ErrMissingSitemap matches creation failures caused by a site without a sitemap.
var ErrMissingSitemap = errors.New("website has no sitemap")

var errEmptyBody = errors.New("empty response body")

// APIError is a non-2xx response from the backend.
type APIError struct {
	StatusCode int
	Detail     string
	RequestID  string
}

func (e *APIError) Error() string {
	if e.Detail != "" {
		return fmt.Sprintf("backend returned status %d: %s", e.StatusCode, e.Detail)
	}
	return fmt.Sprintf("backend returned status %d", e.StatusCode)
}

// Retryable reports whether the same request may succeed later.
func (e *APIError) Retryable() bool {
	return e.StatusCode == http.StatusTooManyRequests || e.StatusCode >= 500
}

func (e *APIError) Is(target error) bool {
	return target == ErrMissingSitemap &&
		e.StatusCode == http.StatusBadRequest &&
		strings.Contains(strings.ToLower(e.Detail), "sitemap")
}

const (
	msgMissingSitemap = "This website does not publish a sitemap, so it cannot be crawled. Add a sitemap.xml to the site and try again."
	msgRejected       = "The request was rejected. Check the phantom name and website URL and try again."
	msgRetryLater     = "Something went wrong on our side. Please try again later."
)

// UserMessage turns a management error into text suitable for showing to the user.
func UserMessage(err error) string {
	if err == nil {
		return ""
	}

	var verrs validator.ValidationErrors
	if errors.As(err, &verrs) && len(verrs) > 0 {
		return validationMessage(verrs[0])
	}
	if errors.Is(err, ErrMissingSitemap) {
		return msgMissingSitemap
	}
	if errors.Is(err, ErrNoIdentity) {
		return "You are not signed in."
	}

	var apiErr *APIError
	if errors.As(err, &apiErr) && apiErr.StatusCode >= 400 && apiErr.StatusCode < 500 {
		if apiErr.Detail != "" {
			return msgRejected + " (" + apiErr.Detail + ")"
		}
		return msgRejected
	}
	return msgRetryLater
}

func validationMessage(fe validator.FieldError) string {
	field := "Phantom name"
	if fe.Field() == "WebsiteURL" {
		field = "Website URL"
	}
	switch fe.Tag() {
	case "required":
		return field + " is required"
	case "url":
		return "Please enter a valid URL"
	case "max":
		return field + " must be at most " + fe.Param() + " characters"
	default:
		return field + " is invalid"
	}
}
