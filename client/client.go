/*
Package client talks to the messaging platform's REST API.

Every response is parsed and validated here, so callers only ever deal with
the typed results from the types package.

Endpoints:
  - GET  /bulk-progress/{id}: progress snapshot of a bulk job.
  - POST /send/{id}, POST /{id}/stop: bulk job control.
  - GET  /import-history: paginated contact import history.
  - GET  /contacts/bulk/{bulkId}: paginated contacts created by an import.
*/
package client

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/Nexora-Open-Source/bulk-progress-monitor/monitoring"
	"github.com/Nexora-Open-Source/bulk-progress-monitor/session"
	"github.com/Nexora-Open-Source/bulk-progress-monitor/types"
	"github.com/sirupsen/logrus"
	"golang.org/x/time/rate"
)

const (
	userAgent       = "bulk-progress-monitor/1.0"
	maxErrorBodyLen = 512
)

var (
	// ErrNotFound is returned when the API answers 404
	ErrNotFound = errors.New("resource not found")
	// ErrUnauthorized is returned when the API answers 401 or 403
	ErrUnauthorized = errors.New("unauthorized")
)

// APIError describes a non-2xx answer from the API
type APIError struct {
	Operation  string
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("%s: API returned status %d: %s", e.Operation, e.StatusCode, e.Body)
}

// Is maps status codes onto the sentinel errors
func (e *APIError) Is(target error) bool {
	switch target {
	case ErrNotFound:
		return e.StatusCode == http.StatusNotFound
	case ErrUnauthorized:
		return e.StatusCode == http.StatusUnauthorized || e.StatusCode == http.StatusForbidden
	}
	return false
}

// Options configures a Client
type Options struct {
	BaseURL        string
	Timeout        time.Duration
	RequestsPerSec float64
	Burst          int
	HTTPClient     *http.Client
}

// Client is a typed client for the messaging API
type Client struct {
	baseURL    *url.URL
	httpClient *http.Client
	limiter    *rate.Limiter
	tokens     *session.TokenStore
	logger     *logrus.Logger
}

// New creates a client. tokens may be nil when the API needs no authentication.
func New(opts Options, tokens *session.TokenStore, logger *logrus.Logger) (*Client, error) {
	base, err := url.Parse(strings.TrimRight(opts.BaseURL, "/"))
	if err != nil {
		return nil, fmt.Errorf("invalid API base URL: %w", err)
	}
	if base.Scheme != "http" && base.Scheme != "https" {
		return nil, fmt.Errorf("invalid API base URL %q: scheme must be http or https", opts.BaseURL)
	}

	httpClient := opts.HTTPClient
	if httpClient == nil {
		timeout := opts.Timeout
		if timeout <= 0 {
			timeout = 10 * time.Second
		}
		httpClient = &http.Client{Timeout: timeout}
	}

	limit := rate.Inf
	if opts.RequestsPerSec > 0 {
		limit = rate.Limit(opts.RequestsPerSec)
	}
	burst := opts.Burst
	if burst <= 0 {
		burst = 1
	}

	if logger == nil {
		logger = logrus.New()
	}
	if tokens == nil {
		tokens = session.NewTokenStore("")
	}

	return &Client{
		baseURL:    base,
		httpClient: httpClient,
		limiter:    rate.NewLimiter(limit, burst),
		tokens:     tokens,
		logger:     logger,
	}, nil
}

// GetBulkProgress fetches the progress snapshot of a bulk job
func (c *Client) GetBulkProgress(ctx context.Context, jobID string) (*types.ProgressSnapshot, error) {
	body, _, err := c.do(ctx, "get_bulk_progress", http.MethodGet, c.endpoint(nil, "bulk-progress", jobID))
	if err != nil {
		return nil, err
	}
	return parseProgress(body, jobID, time.Now())
}

// SendBulk starts sending a prepared bulk job
func (c *Client) SendBulk(ctx context.Context, jobID string) (*types.ControlResult, error) {
	body, _, err := c.do(ctx, "send_bulk", http.MethodPost, c.endpoint(nil, "send", jobID))
	if err != nil {
		return nil, err
	}
	return parseControl(body)
}

// StopBulk asks the server to stop a running bulk job
func (c *Client) StopBulk(ctx context.Context, jobID string) (*types.ControlResult, error) {
	body, _, err := c.do(ctx, "stop_bulk", http.MethodPost, c.endpoint(nil, jobID, "stop"))
	if err != nil {
		return nil, err
	}
	return parseControl(body)
}

// ListImportHistory fetches a page of the contact import history
func (c *Client) ListImportHistory(ctx context.Context, page types.PageRequest) (*types.ImportHistoryPage, error) {
	body, header, err := c.do(ctx, "list_import_history", http.MethodGet, c.endpoint(pageQuery(page), "import-history"))
	if err != nil {
		return nil, err
	}
	return parseImportHistory(body, parseTotalCount(header.Get("X-Total-Count"), -1), page)
}

// ListBulkContacts fetches a page of contacts created by a bulk import
func (c *Client) ListBulkContacts(ctx context.Context, bulkID string, page types.PageRequest) (*types.BulkContactPage, error) {
	body, header, err := c.do(ctx, "list_bulk_contacts", http.MethodGet, c.endpoint(pageQuery(page), "contacts", "bulk", bulkID))
	if err != nil {
		return nil, err
	}
	return parseBulkContacts(body, parseTotalCount(header.Get("X-Total-Count"), -1), page)
}

// Ping checks that the API answers at all. Any response below 500 counts as
// reachable, since the base URL itself usually has no route.
func (c *Client) Ping(ctx context.Context) error {
	ctx, span := monitoring.CreateSpan(ctx, "client.ping")
	defer span.End()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL.String(), nil)
	if err != nil {
		return fmt.Errorf("ping: failed to create request: %w", err)
	}
	req.Header.Set("User-Agent", userAgent)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		monitoring.SetSpanError(span, err)
		return fmt.Errorf("ping: request failed: %w", err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)

	if resp.StatusCode >= 500 {
		err := &APIError{Operation: "ping", StatusCode: resp.StatusCode}
		monitoring.SetSpanError(span, err)
		return err
	}
	return nil
}

func pageQuery(page types.PageRequest) url.Values {
	q := url.Values{}
	if page.Page >= 0 {
		q.Set("page", strconv.Itoa(page.Page))
	}
	if page.Size > 0 {
		q.Set("size", strconv.Itoa(page.Size))
	}
	if page.Sort != "" {
		q.Set("sort", page.Sort)
	}
	return q
}

func (c *Client) endpoint(query url.Values, segments ...string) string {
	u := *c.baseURL
	escaped := make([]string, len(segments))
	for i, s := range segments {
		escaped[i] = url.PathEscape(s)
	}
	u.Path = strings.TrimRight(u.Path, "/") + "/" + strings.Join(escaped, "/")
	u.RawPath = ""
	if len(query) > 0 {
		u.RawQuery = query.Encode()
	}
	return u.String()
}

// do performs a request and returns the body of a 2xx answer
func (c *Client) do(ctx context.Context, operation, method, target string) ([]byte, http.Header, error) {
	ctx, span := monitoring.CreateSpan(ctx, "client."+operation)
	defer span.End()

	start := time.Now()
	status := "error"
	defer func() {
		monitoring.RecordUpstreamRequest(operation, status, time.Since(start).Seconds())
	}()

	if err := c.limiter.Wait(ctx); err != nil {
		return nil, nil, fmt.Errorf("%s: rate limiter: %w", operation, err)
	}

	req, err := http.NewRequestWithContext(ctx, method, target, nil)
	if err != nil {
		return nil, nil, fmt.Errorf("%s: failed to create request: %w", operation, err)
	}
	req.Header.Set("User-Agent", userAgent)
	req.Header.Set("Accept", "application/json")
	if token, ok := c.tokens.Get(); ok {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	monitoring.SetSpanAttributes(span, map[string]interface{}{
		"http.method": method,
		"http.url":    target,
	})

	resp, err := c.httpClient.Do(req)
	if err != nil {
		monitoring.SetSpanError(span, err)
		return nil, nil, fmt.Errorf("%s: request failed: %w", operation, err)
	}
	defer resp.Body.Close()

	status = strconv.Itoa(resp.StatusCode)
	monitoring.SetSpanAttributes(span, map[string]interface{}{"http.status_code": resp.StatusCode})

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		monitoring.SetSpanError(span, err)
		return nil, nil, fmt.Errorf("%s: failed to read response body: %w", operation, err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		text := string(body)
		if len(text) > maxErrorBodyLen {
			text = text[:maxErrorBodyLen]
		}
		apiErr := &APIError{Operation: operation, StatusCode: resp.StatusCode, Body: text}
		monitoring.SetSpanError(span, apiErr)

		c.logger.WithFields(logrus.Fields{
			"operation":   operation,
			"status_code": resp.StatusCode,
			"url":         target,
		}).Warn("Messaging API returned an error")
		return nil, nil, apiErr
	}

	c.logger.WithFields(logrus.Fields{
		"operation":   operation,
		"status_code": resp.StatusCode,
		"duration_ms": time.Since(start).Milliseconds(),
	}).Debug("Messaging API request completed")

	return body, resp.Header, nil
}
