package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/Nexora-Open-Source/bulk-progress-monitor/client"
	"github.com/Nexora-Open-Source/bulk-progress-monitor/middleware"
	"github.com/Nexora-Open-Source/bulk-progress-monitor/monitor"
	"github.com/Nexora-Open-Source/bulk-progress-monitor/session"
	"github.com/Nexora-Open-Source/bulk-progress-monitor/types"
	"github.com/gorilla/mux"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

// MockBulkAPI is a mock for the messaging API client
type MockBulkAPI struct {
	mock.Mock
}

func (m *MockBulkAPI) GetBulkProgress(ctx context.Context, jobID string) (*types.ProgressSnapshot, error) {
	args := m.Called(ctx, jobID)
	snap, _ := args.Get(0).(*types.ProgressSnapshot)
	return snap, args.Error(1)
}

func (m *MockBulkAPI) SendBulk(ctx context.Context, jobID string) (*types.ControlResult, error) {
	args := m.Called(ctx, jobID)
	result, _ := args.Get(0).(*types.ControlResult)
	return result, args.Error(1)
}

func (m *MockBulkAPI) StopBulk(ctx context.Context, jobID string) (*types.ControlResult, error) {
	args := m.Called(ctx, jobID)
	result, _ := args.Get(0).(*types.ControlResult)
	return result, args.Error(1)
}

func (m *MockBulkAPI) ListImportHistory(ctx context.Context, page types.PageRequest) (*types.ImportHistoryPage, error) {
	args := m.Called(ctx, page)
	result, _ := args.Get(0).(*types.ImportHistoryPage)
	return result, args.Error(1)
}

func (m *MockBulkAPI) ListBulkContacts(ctx context.Context, bulkID string, page types.PageRequest) (*types.BulkContactPage, error) {
	args := m.Called(ctx, bulkID, page)
	result, _ := args.Get(0).(*types.BulkContactPage)
	return result, args.Error(1)
}

// MockCacheManager is a mock for cache.CacheManager
type MockCacheManager struct {
	mock.Mock
}

func (m *MockCacheManager) GetImportPage(page types.PageRequest) (*types.ImportHistoryPage, bool) {
	args := m.Called(page)
	result, _ := args.Get(0).(*types.ImportHistoryPage)
	return result, args.Bool(1)
}

func (m *MockCacheManager) SetImportPage(page types.PageRequest, result *types.ImportHistoryPage) error {
	return m.Called(page, result).Error(0)
}

func (m *MockCacheManager) GetContactsPage(bulkID string, page types.PageRequest) (*types.BulkContactPage, bool) {
	args := m.Called(bulkID, page)
	result, _ := args.Get(0).(*types.BulkContactPage)
	return result, args.Bool(1)
}

func (m *MockCacheManager) SetContactsPage(bulkID string, page types.PageRequest, result *types.BulkContactPage) error {
	return m.Called(bulkID, page, result).Error(0)
}

func (m *MockCacheManager) InvalidateImports() error {
	return m.Called().Error(0)
}

// MockRegistry is a mock for monitor.Registry
type MockRegistry struct {
	mock.Mock
}

func (m *MockRegistry) Watch(jobID string) (*monitor.Monitor, bool) {
	args := m.Called(jobID)
	mon, _ := args.Get(0).(*monitor.Monitor)
	return mon, args.Bool(1)
}

func (m *MockRegistry) Stop(jobID string) bool {
	return m.Called(jobID).Bool(0)
}

func (m *MockRegistry) State(jobID string) (monitor.State, error) {
	args := m.Called(jobID)
	return args.Get(0).(monitor.State), args.Error(1)
}

func (m *MockRegistry) Monitor(jobID string) (*monitor.Monitor, bool) {
	args := m.Called(jobID)
	mon, _ := args.Get(0).(*monitor.Monitor)
	return mon, args.Bool(1)
}

func (m *MockRegistry) Active() []monitor.State {
	return m.Called().Get(0).([]monitor.State)
}

func setupTestHandler(t *testing.T) (*Handler, *MockBulkAPI, *MockCacheManager, *MockRegistry) {
	mockAPI := &MockBulkAPI{}
	mockCache := &MockCacheManager{}
	mockRegistry := &MockRegistry{}

	logger := logrus.New()
	logger.SetLevel(logrus.ErrorLevel) // Reduce noise in tests

	// Initialize middleware logger for tests
	middleware.Logger = logger

	handler := &Handler{
		API:          mockAPI,
		Registry:     mockRegistry,
		CacheManager: mockCache,
		AppURL:       "http://localhost:4200",
		Logger:       logger,
	}

	t.Cleanup(func() {
		mockAPI.AssertExpectations(t)
		mockCache.AssertExpectations(t)
		mockRegistry.AssertExpectations(t)
	})

	return handler, mockAPI, mockCache, mockRegistry
}

func newRequest(method, target string, vars map[string]string) *http.Request {
	req := httptest.NewRequest(method, target, nil)
	if vars != nil {
		req = mux.SetURLVars(req, vars)
	}
	return req
}

func decodeError(t *testing.T, w *httptest.ResponseRecorder) middleware.APIError {
	var apiErr middleware.APIError
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &apiErr))
	return apiErr
}

func TestHandleGetProgress(t *testing.T) {
	handler, _, _, mockRegistry := setupTestHandler(t)

	state := monitor.State{
		JobID:   "42",
		Status:  monitor.StatusRunning,
		Percent: 40,
		Snapshot: &types.ProgressSnapshot{
			JobID:           "42",
			TotalRecipients: 100,
			InProcess:       true,
			Stats:           types.ProgressStats{Inserted: 100, Sent: 40},
		},
	}
	mockRegistry.On("State", "42").Return(state, nil)

	// token sharing was explicitly enabled for this handler
	handler.Links = session.NewTokenStore("secret")

	w := httptest.NewRecorder()
	handler.HandleGetProgress(w, newRequest("GET", "/jobs/42/progress", map[string]string{"id": "42"}))

	assert.Equal(t, http.StatusOK, w.Code)
	assert.NotEmpty(t, w.Header().Get("X-Request-ID"))

	var response ProgressResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &response))
	assert.Equal(t, "42", response.JobID)
	assert.Equal(t, monitor.StatusRunning, response.Status)
	assert.Equal(t, 40, response.Snapshot.Stats.Sent)
	assert.Equal(t, "http://localhost:4200/bulk-monitor/42#token=secret", response.DetailURL)
}

func TestHandleGetProgressDetailLinkOmitsTokenByDefault(t *testing.T) {
	handler, _, _, mockRegistry := setupTestHandler(t)
	mockRegistry.On("State", "42").Return(monitor.State{JobID: "42", Status: monitor.StatusRunning}, nil)

	w := httptest.NewRecorder()
	handler.HandleGetProgress(w, newRequest("GET", "/jobs/42/progress", map[string]string{"id": "42"}))

	assert.Equal(t, http.StatusOK, w.Code)
	var response ProgressResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &response))
	assert.Equal(t, "http://localhost:4200/bulk-monitor/42", response.DetailURL)
	assert.NotContains(t, w.Body.String(), "token=")
}

func TestHandleGetProgressSharedTokenMissing(t *testing.T) {
	handler, _, _, mockRegistry := setupTestHandler(t)
	handler.Links = session.NewTokenStore("")

	mockRegistry.On("State", "42").Return(monitor.State{JobID: "42", Status: monitor.StatusCompleted}, nil)

	w := httptest.NewRecorder()
	handler.HandleGetProgress(w, newRequest("GET", "/jobs/42/progress", map[string]string{"id": "42"}))

	assert.Equal(t, http.StatusOK, w.Code)
	var response map[string]interface{}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &response))
	assert.Equal(t, "http://localhost:4200/bulk-monitor/42", response["detail_url"])
	assert.Equal(t, "completed", response["status"])
}

func TestHandleGetProgressWithoutAppURL(t *testing.T) {
	handler, _, _, mockRegistry := setupTestHandler(t)
	handler.AppURL = ""
	handler.Links = session.NewTokenStore("secret")
	mockRegistry.On("State", "42").Return(monitor.State{JobID: "42"}, nil)

	w := httptest.NewRecorder()
	handler.HandleGetProgress(w, newRequest("GET", "/jobs/42/progress", map[string]string{"id": "42"}))

	var response map[string]interface{}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &response))
	assert.NotContains(t, response, "detail_url")
}

func TestHandleGetProgressNotWatched(t *testing.T) {
	handler, _, _, mockRegistry := setupTestHandler(t)
	mockRegistry.On("State", "7").Return(monitor.State{}, monitor.ErrNotWatched)

	w := httptest.NewRecorder()
	handler.HandleGetProgress(w, newRequest("GET", "/jobs/7/progress", map[string]string{"id": "7"}))

	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Equal(t, middleware.ErrCodeNotFound, decodeError(t, w).Error)
}

func TestHandleGetProgressMissingID(t *testing.T) {
	handler, _, _, _ := setupTestHandler(t)

	w := httptest.NewRecorder()
	handler.HandleGetProgress(w, newRequest("GET", "/jobs//progress", nil))

	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestHandleListJobs(t *testing.T) {
	handler, _, _, mockRegistry := setupTestHandler(t)
	mockRegistry.On("Active").Return([]monitor.State{
		{JobID: "1", Status: monitor.StatusRunning},
		{JobID: "2", Status: monitor.StatusPending},
	})

	w := httptest.NewRecorder()
	handler.HandleListJobs(w, newRequest("GET", "/jobs", nil))

	assert.Equal(t, http.StatusOK, w.Code)
	var response JobListResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &response))
	assert.Equal(t, 2, response.Count)
	assert.Equal(t, "2", response.Jobs[1].JobID)
}

func TestHandleWatchJob(t *testing.T) {
	handler, mockAPI, _, mockRegistry := setupTestHandler(t)

	m := monitor.New(mockAPI, "42", monitor.Options{Logger: handler.Logger})
	mockRegistry.On("Watch", "42").Return(m, true).Once()
	mockRegistry.On("Watch", "42").Return(m, false).Once()

	w := httptest.NewRecorder()
	handler.HandleWatchJob(w, newRequest("POST", "/jobs/42/watch", map[string]string{"id": "42"}))
	assert.Equal(t, http.StatusAccepted, w.Code)

	var response ProgressResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &response))
	assert.Equal(t, monitor.StatusPending, response.Status)

	w = httptest.NewRecorder()
	handler.HandleWatchJob(w, newRequest("POST", "/jobs/42/watch", map[string]string{"id": "42"}))
	assert.Equal(t, http.StatusConflict, w.Code)
	assert.Equal(t, middleware.ErrCodeConflict, decodeError(t, w).Error)
}

func TestHandleUnwatchJob(t *testing.T) {
	handler, _, _, mockRegistry := setupTestHandler(t)
	mockRegistry.On("Stop", "42").Return(true)
	mockRegistry.On("Stop", "43").Return(false)

	w := httptest.NewRecorder()
	handler.HandleUnwatchJob(w, newRequest("DELETE", "/jobs/42/watch", map[string]string{"id": "42"}))
	assert.Equal(t, http.StatusNoContent, w.Code)

	w = httptest.NewRecorder()
	handler.HandleUnwatchJob(w, newRequest("DELETE", "/jobs/43/watch", map[string]string{"id": "43"}))
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestHandleSendJob(t *testing.T) {
	handler, mockAPI, _, mockRegistry := setupTestHandler(t)

	mockAPI.On("SendBulk", mock.Anything, "42").
		Return(&types.ControlResult{Success: true, Message: "Sending started"}, nil)
	mockRegistry.On("Watch", "42").Return(nil, true)

	w := httptest.NewRecorder()
	handler.HandleSendJob(w, newRequest("POST", "/jobs/42/send", map[string]string{"id": "42"}))

	assert.Equal(t, http.StatusOK, w.Code)
	var response ControlResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &response))
	assert.True(t, response.Result.Success)
	assert.True(t, response.Watching)
	assert.Equal(t, "Sending started", response.Result.Message)
}

func TestHandleSendJobRefused(t *testing.T) {
	handler, mockAPI, _, mockRegistry := setupTestHandler(t)

	mockAPI.On("SendBulk", mock.Anything, "42").
		Return(&types.ControlResult{Success: false, Message: "Bulk already sent"}, nil)

	w := httptest.NewRecorder()
	handler.HandleSendJob(w, newRequest("POST", "/jobs/42/send", map[string]string{"id": "42"}))

	assert.Equal(t, http.StatusOK, w.Code)
	var response ControlResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &response))
	assert.False(t, response.Watching)
	mockRegistry.AssertNotCalled(t, "Watch", mock.Anything)
}

func TestHandleSendJobUpstreamErrors(t *testing.T) {
	tests := []struct {
		name       string
		err        error
		wantStatus int
		wantCode   middleware.ErrorCode
	}{
		{"not found", &client.APIError{Operation: "send_bulk", StatusCode: 404}, http.StatusNotFound, middleware.ErrCodeNotFound},
		{"unauthorized", &client.APIError{Operation: "send_bulk", StatusCode: 401}, http.StatusUnauthorized, middleware.ErrCodeUnauthorized},
		{"no token", session.ErrNoToken, http.StatusUnauthorized, middleware.ErrCodeUnauthorized},
		{"timeout", context.DeadlineExceeded, http.StatusServiceUnavailable, middleware.ErrCodeServiceUnavailable},
		{"server error", &client.APIError{Operation: "send_bulk", StatusCode: 500}, http.StatusBadGateway, middleware.ErrCodeExternalAPI},
		{"transport", errors.New("connection refused"), http.StatusBadGateway, middleware.ErrCodeExternalAPI},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			handler, mockAPI, _, _ := setupTestHandler(t)
			mockAPI.On("SendBulk", mock.Anything, "42").Return(nil, tt.err)

			w := httptest.NewRecorder()
			handler.HandleSendJob(w, newRequest("POST", "/jobs/42/send", map[string]string{"id": "42"}))

			assert.Equal(t, tt.wantStatus, w.Code)
			assert.Equal(t, tt.wantCode, decodeError(t, w).Error)
		})
	}
}

func TestHandleStopJob(t *testing.T) {
	handler, mockAPI, _, mockRegistry := setupTestHandler(t)

	mockAPI.On("StopBulk", mock.Anything, "42").
		Return(&types.ControlResult{Success: true, Message: "Stopped"}, nil)
	mockRegistry.On("Monitor", "42").Return(nil, false)

	w := httptest.NewRecorder()
	handler.HandleStopJob(w, newRequest("POST", "/jobs/42/stop", map[string]string{"id": "42"}))

	assert.Equal(t, http.StatusOK, w.Code)
	var response ControlResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &response))
	assert.True(t, response.Result.Success)
	assert.False(t, response.Watching)
}

func TestHandleDismissAlert(t *testing.T) {
	handler, mockAPI, _, mockRegistry := setupTestHandler(t)

	m := monitor.New(mockAPI, "42", monitor.Options{Logger: handler.Logger})
	mockRegistry.On("Monitor", "42").Return(m, true)
	mockRegistry.On("Monitor", "43").Return(nil, false)

	w := httptest.NewRecorder()
	handler.HandleDismissAlert(w, newRequest("DELETE", "/jobs/42/alerts/a1", map[string]string{"id": "42", "alertId": "a1"}))
	assert.Equal(t, http.StatusNoContent, w.Code)

	w = httptest.NewRecorder()
	handler.HandleDismissAlert(w, newRequest("DELETE", "/jobs/43/alerts/a1", map[string]string{"id": "43", "alertId": "a1"}))
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestHandleGetImportsCacheMiss(t *testing.T) {
	handler, mockAPI, mockCache, _ := setupTestHandler(t)

	page := types.PageRequest{Page: 1, Size: 10, Sort: "createdAt,desc"}
	result := &types.ImportHistoryPage{TotalCount: 11, Page: 1, Size: 10, Items: []types.ImportHistoryEntry{
		{BulkID: "b-1", Status: types.ImportStatusProcessing},
	}}

	mockCache.On("GetImportPage", page).Return(nil, false)
	mockAPI.On("ListImportHistory", mock.Anything, page).Return(result, nil)
	mockCache.On("SetImportPage", page, result).Return(nil)

	w := httptest.NewRecorder()
	handler.HandleGetImports(w, newRequest("GET", "/imports?page=1&size=10&sort=createdAt,desc", nil))

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "MISS", w.Header().Get("X-Cache"))

	var response types.ImportHistoryPage
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &response))
	assert.Equal(t, 11, response.TotalCount)
	assert.Equal(t, "b-1", response.Items[0].BulkID)
}

func TestHandleGetImportsCacheHit(t *testing.T) {
	handler, _, mockCache, _ := setupTestHandler(t)

	page := types.PageRequest{Page: 0, Size: defaultPageSize}
	mockCache.On("GetImportPage", page).Return(&types.ImportHistoryPage{TotalCount: 3}, true)

	w := httptest.NewRecorder()
	handler.HandleGetImports(w, newRequest("GET", "/imports", nil))

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "HIT", w.Header().Get("X-Cache"))
}

func TestHandleGetImportsRefresh(t *testing.T) {
	handler, mockAPI, mockCache, _ := setupTestHandler(t)

	page := types.PageRequest{Page: 0, Size: defaultPageSize}
	result := &types.ImportHistoryPage{}
	mockCache.On("InvalidateImports").Return(nil)
	mockAPI.On("ListImportHistory", mock.Anything, page).Return(result, nil)
	mockCache.On("SetImportPage", page, result).Return(nil)

	w := httptest.NewRecorder()
	handler.HandleGetImports(w, newRequest("GET", "/imports?refresh=true", nil))

	assert.Equal(t, http.StatusOK, w.Code)
	mockCache.AssertNotCalled(t, "GetImportPage", mock.Anything)
}

func TestHandleGetImportsValidation(t *testing.T) {
	handler, _, _, _ := setupTestHandler(t)

	for _, query := range []string{"?page=-1", "?page=abc", "?size=0", "?size=101"} {
		w := httptest.NewRecorder()
		handler.HandleGetImports(w, newRequest("GET", "/imports"+query, nil))
		assert.Equal(t, http.StatusBadRequest, w.Code, query)
		assert.Equal(t, middleware.ErrCodeValidation, decodeError(t, w).Error)
	}
}

func TestHandleGetImportsWithoutCache(t *testing.T) {
	handler, mockAPI, _, _ := setupTestHandler(t)
	handler.CacheManager = nil

	mockAPI.On("ListImportHistory", mock.Anything, mock.Anything).
		Return(nil, &client.APIError{Operation: "list_import_history", StatusCode: 503})

	w := httptest.NewRecorder()
	handler.HandleGetImports(w, newRequest("GET", "/imports", nil))

	assert.Equal(t, http.StatusBadGateway, w.Code)
}

func TestHandleGetBulkContacts(t *testing.T) {
	handler, mockAPI, mockCache, _ := setupTestHandler(t)

	page := types.PageRequest{Page: 0, Size: 5}
	result := &types.BulkContactPage{TotalCount: 1, Items: []types.BulkContact{{Name: "Ada", Phone: "+33600000000", BulkID: "b-1"}}}

	mockCache.On("GetContactsPage", "b-1", page).Return(nil, false).Once()
	mockAPI.On("ListBulkContacts", mock.Anything, "b-1", page).Return(result, nil).Once()
	mockCache.On("SetContactsPage", "b-1", page, result).Return(nil)

	w := httptest.NewRecorder()
	handler.HandleGetBulkContacts(w, newRequest("GET", "/imports/b-1/contacts?size=5", map[string]string{"bulkId": "b-1"}))

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "MISS", w.Header().Get("X-Cache"))

	var response types.BulkContactPage
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &response))
	assert.Equal(t, "Ada", response.Items[0].Name)
}

func TestHandleGetBulkContactsNotFound(t *testing.T) {
	handler, mockAPI, mockCache, _ := setupTestHandler(t)

	mockCache.On("GetContactsPage", "nope", mock.Anything).Return(nil, false)
	mockAPI.On("ListBulkContacts", mock.Anything, "nope", mock.Anything).
		Return(nil, &client.APIError{Operation: "list_bulk_contacts", StatusCode: 404})

	w := httptest.NewRecorder()
	handler.HandleGetBulkContacts(w, newRequest("GET", "/imports/nope/contacts", map[string]string{"bulkId": "nope"}))

	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestNewHandlerNilOptionalDependencies(t *testing.T) {
	logger := logrus.New()
	h := NewHandler(&MockBulkAPI{}, monitor.NewRegistry(&MockBulkAPI{}, monitor.Options{}, nil, logger), nil, nil, "", logger)

	assert.Nil(t, h.CacheManager)
	assert.Nil(t, h.Links)
}
