// Package backend is the HTTP client for the phantom API: turn submission,
// history pages, and phantom management.
package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/chatphantom/phantomchat/internal/config"
	"github.com/chatphantom/phantomchat/internal/logger"
	"github.com/chatphantom/phantomchat/pkg/httpext"
	"github.com/google/uuid"
	"golang.org/x/time/rate"
)

// Limiter groups. Each group gets its own token bucket.
const (
	groupChat     = "chat"
	groupHistory  = "history"
	groupPhantoms = "phantoms"
)

// Client talks to the phantom backend. It is safe for concurrent use.
type Client struct {
	baseURL        *url.URL
	httpClient     *http.Client
	requestTimeout time.Duration
	token          func() string
	userID         string
	limiters       map[string]*rate.Limiter
}

type Option func(*Client)

// WithHTTPClient replaces the underlying client. Its Timeout must be zero
// or long enough for a whole streamed reply.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.httpClient = hc }
}

// WithRequestTimeout bounds non-streaming requests.
func WithRequestTimeout(d time.Duration) Option {
	return func(c *Client) { c.requestTimeout = d }
}

// WithTokenSource overrides where the bearer token comes from.
func WithTokenSource(fn func() string) Option {
	return func(c *Client) { c.token = fn }
}

// WithUserID pins the user id instead of reading it from the token.
func WithUserID(id string) Option {
	return func(c *Client) { c.userID = id }
}

// WithoutRateLimit disables the outbound token buckets.
func WithoutRateLimit() Option {
	return func(c *Client) { c.limiters = map[string]*rate.Limiter{} }
}

func NewClient(baseURL string, opts ...Option) (*Client, error) {
	u, err := url.Parse(strings.TrimRight(baseURL, "/"))
	if err != nil {
		return nil, fmt.Errorf("invalid API URL %q: %w", baseURL, err)
	}
	if u.Scheme == "" || u.Host == "" {
		return nil, fmt.Errorf("invalid API URL %q: scheme and host are required", baseURL)
	}

	c := &Client{
		baseURL:        u,
		httpClient:     &http.Client{},
		requestTimeout: config.DefaultRequestTimeout,
		token:          config.GetAccessToken,
		limiters:       make(map[string]*rate.Limiter),
	}
	for _, group := range []string{groupChat, groupHistory, groupPhantoms} {
		rl := config.GetRateLimitConfig(group)
		if rl.Enabled && rl.PerSecond > 0 {
			c.limiters[group] = rate.NewLimiter(rate.Limit(rl.PerSecond), max(rl.Burst, 1))
		}
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

func (c *Client) endpoint(path string, query url.Values) string {
	u := *c.baseURL
	u.Path = strings.TrimRight(u.Path, "/") + path
	if len(query) > 0 {
		u.RawQuery = query.Encode()
	}
	return u.String()
}

func (c *Client) newRequest(ctx context.Context, method, path string, query url.Values, body any) (*http.Request, error) {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal request: %w", err)
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.endpoint(path, query), reader)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("X-Request-ID", uuid.NewString())
	if token := c.token(); token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	return req, nil
}

// do waits for the group's limiter, executes req and converts non-2xx
// responses into *APIError. On success the caller owns resp.Body.
func (c *Client) do(req *http.Request, group string) (*http.Response, error) {
	if limiter, ok := c.limiters[group]; ok {
		if err := limiter.Wait(req.Context()); err != nil {
			return nil, fmt.Errorf("rate limit wait: %w", err)
		}
	}

	requestID := req.Header.Get("X-Request-ID")
	l := logger.With(logger.APP)
	l.Debug().
		Str("method", req.Method).
		Str("url", req.URL.Redacted()).
		Str("request_id", requestID).
		Msg("Sending backend request")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to make request: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		defer resp.Body.Close()
		statusErr := httpext.DecodeError(resp)
		apiErr := &APIError{
			StatusCode: resp.StatusCode,
			Detail:     statusErr.Body.Message(),
			RequestID:  requestID,
		}
		if apiErr.Detail == "" {
			apiErr.Detail = statusErr.Raw
		}
		l.Warn().
			Int("status", resp.StatusCode).
			Str("request_id", requestID).
			Str("detail", apiErr.Detail).
			Msg("Backend returned an error response")
		return nil, apiErr
	}
	return resp, nil
}

// doJSON runs a bounded request and decodes the response into out when out is non-nil.
func (c *Client) doJSON(ctx context.Context, method, path string, query url.Values, body, out any, group string) error {
	if c.requestTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.requestTimeout)
		defer cancel()
	}

	req, err := c.newRequest(ctx, method, path, query, body)
	if err != nil {
		return err
	}
	resp, err := c.do(req, group)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if out == nil {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		if err == io.EOF {
			return errEmptyBody
		}
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}
