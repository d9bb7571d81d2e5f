/*
Package handlers provides HTTP handlers with dependency injection support.

This package defines the Handler struct that contains all service dependencies
of the dashboard API, so every route can be tested against mocks.
*/
package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/Nexora-Open-Source/bulk-progress-monitor/cache"
	"github.com/Nexora-Open-Source/bulk-progress-monitor/client"
	"github.com/Nexora-Open-Source/bulk-progress-monitor/middleware"
	"github.com/Nexora-Open-Source/bulk-progress-monitor/monitor"
	"github.com/Nexora-Open-Source/bulk-progress-monitor/session"
	"github.com/Nexora-Open-Source/bulk-progress-monitor/types"
	"github.com/sirupsen/logrus"
)

const (
	defaultPageSize = 20
	maxPageSize     = 100
)

// BulkAPI defines the messaging API operations the dashboard proxies
type BulkAPI interface {
	GetBulkProgress(ctx context.Context, jobID string) (*types.ProgressSnapshot, error)
	SendBulk(ctx context.Context, jobID string) (*types.ControlResult, error)
	StopBulk(ctx context.Context, jobID string) (*types.ControlResult, error)
	ListImportHistory(ctx context.Context, page types.PageRequest) (*types.ImportHistoryPage, error)
	ListBulkContacts(ctx context.Context, bulkID string, page types.PageRequest) (*types.BulkContactPage, error)
}

// CacheManagerInterface defines the interface for cache operations
type CacheManagerInterface interface {
	GetImportPage(page types.PageRequest) (*types.ImportHistoryPage, bool)
	SetImportPage(page types.PageRequest, result *types.ImportHistoryPage) error
	GetContactsPage(bulkID string, page types.PageRequest) (*types.BulkContactPage, bool)
	SetContactsPage(bulkID string, page types.PageRequest, result *types.BulkContactPage) error
	InvalidateImports() error
}

// JobRegistry defines the monitor operations used by the job routes
type JobRegistry interface {
	Watch(jobID string) (*monitor.Monitor, bool)
	Stop(jobID string) bool
	State(jobID string) (monitor.State, error)
	Monitor(jobID string) (*monitor.Monitor, bool)
	Active() []monitor.State
}

// DetailLinker builds hand-off links to the job detail view
type DetailLinker interface {
	DetailLink(appURL, jobID string) (string, error)
}

// Handler contains all service dependencies for HTTP handlers
type Handler struct {
	API          BulkAPI
	Registry     JobRegistry
	CacheManager CacheManagerInterface
	Links        DetailLinker
	AppURL       string
	Logger       *logrus.Logger
}

// NewHandler creates a new handler instance with injected dependencies.
// cacheManager and tokens may be nil.
func NewHandler(api BulkAPI, registry *monitor.Registry, cacheManager *cache.CacheManager, tokens *session.TokenStore, appURL string, logger *logrus.Logger) *Handler {
	h := &Handler{
		API:      api,
		Registry: registry,
		AppURL:   appURL,
		Logger:   logger,
	}
	if cacheManager != nil {
		h.CacheManager = cacheManager
	}
	if tokens != nil {
		h.Links = tokens
	}
	return h
}

// respondUpstreamError maps a messaging API failure onto a dashboard error
func (h *Handler) respondUpstreamError(w http.ResponseWriter, err error, requestID string) {
	switch {
	case errors.Is(err, client.ErrNotFound):
		middleware.RespondNotFound(w, err, requestID)
	case errors.Is(err, client.ErrUnauthorized), errors.Is(err, session.ErrNoToken):
		middleware.RespondUnauthorized(w, err, requestID)
	case errors.Is(err, context.DeadlineExceeded):
		middleware.RespondServiceUnavailable(w, err, requestID)
	default:
		middleware.RespondExternalAPIError(w, err, requestID)
	}
}

func writeJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

// parsePageRequest reads page, size and sort from the query string
func parsePageRequest(r *http.Request) (types.PageRequest, error) {
	query := r.URL.Query()
	page := types.PageRequest{Size: defaultPageSize, Sort: query.Get("sort")}

	if raw := query.Get("page"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			return page, errors.New("page must be a non-negative integer")
		}
		page.Page = n
	}

	if raw := query.Get("size"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 || n > maxPageSize {
			return page, errors.New("size must be between 1 and " + strconv.Itoa(maxPageSize))
		}
		page.Size = n
	}

	return page, nil
}
