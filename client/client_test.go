package client

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/Nexora-Open-Source/bulk-progress-monitor/session"
	"github.com/Nexora-Open-Source/bulk-progress-monitor/types"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestClient(t *testing.T, handler http.HandlerFunc, token string) *Client {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	logger := logrus.New()
	logger.SetLevel(logrus.ErrorLevel)

	c, err := New(Options{BaseURL: server.URL + "/api", Timeout: 2 * time.Second}, session.NewTokenStore(token), logger)
	require.NoError(t, err)
	return c
}

func TestNewRejectsInvalidBaseURL(t *testing.T) {
	_, err := New(Options{BaseURL: "ftp://example.com"}, nil, nil)
	assert.Error(t, err)

	_, err = New(Options{BaseURL: "://broken"}, nil, nil)
	assert.Error(t, err)
}

func TestGetBulkProgress(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodGet, r.Method)
		assert.Equal(t, "/api/bulk-progress/42", r.URL.Path)
		assert.Equal(t, "Bearer secret", r.Header.Get("Authorization"))
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{
			"jobId": 42,
			"totalRecipients": 100,
			"stats": {"inserted": 100, "sent": 60, "delivered": 50, "read": 10, "failed": 5, "pending": 35, "successRate": 92.3},
			"insertionComplete": true,
			"inProcess": true,
			"currentRate": 7.5,
			"elapsedSeconds": 12,
			"etaSendSeconds": -1
		}`))
	}, "secret")

	snapshot, err := c.GetBulkProgress(context.Background(), "42")
	require.NoError(t, err)

	assert.Equal(t, "42", snapshot.JobID)
	assert.Equal(t, 100, snapshot.TotalRecipients)
	assert.Equal(t, 60, snapshot.Stats.Sent)
	assert.Equal(t, 5, snapshot.Stats.Failed)
	assert.Equal(t, 92.3, snapshot.Stats.SuccessRate)
	assert.True(t, snapshot.InsertionComplete)
	assert.True(t, snapshot.InProcess)
	assert.Equal(t, 7.5, snapshot.CurrentRate)
	assert.Equal(t, 12.0, snapshot.ElapsedSeconds)
	assert.Equal(t, types.Unknown, snapshot.EtaInsertSeconds, "missing timing field means unknown")
	assert.Equal(t, types.Unknown, snapshot.EtaSendSeconds)
	assert.False(t, snapshot.ReceivedAt.IsZero())
}

func TestGetBulkProgressStringIDAndFallback(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"totalRecipients": 3, "inProcess": false}`))
	}, "")

	snapshot, err := c.GetBulkProgress(context.Background(), "abc-1")
	require.NoError(t, err)
	assert.Equal(t, "abc-1", snapshot.JobID)
	assert.Equal(t, 0, snapshot.Stats.Sent)
}

func TestGetBulkProgressValidation(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{"not json", `<html>`},
		{"missing total", `{"jobId": "1"}`},
		{"negative total", `{"jobId": "1", "totalRecipients": -5}`},
		{"bad id type", `{"jobId": {"x": 1}, "totalRecipients": 5}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
				w.Write([]byte(tt.body))
			}, "")
			_, err := c.GetBulkProgress(context.Background(), "1")
			assert.Error(t, err)
		})
	}
}

func TestAPIErrors(t *testing.T) {
	tests := []struct {
		name   string
		status int
		target error
	}{
		{"not found", http.StatusNotFound, ErrNotFound},
		{"unauthorized", http.StatusUnauthorized, ErrUnauthorized},
		{"forbidden", http.StatusForbidden, ErrUnauthorized},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
				http.Error(w, "nope", tt.status)
			}, "")

			_, err := c.GetBulkProgress(context.Background(), "1")
			require.Error(t, err)
			assert.ErrorIs(t, err, tt.target)

			var apiErr *APIError
			require.True(t, errors.As(err, &apiErr))
			assert.Equal(t, tt.status, apiErr.StatusCode)
		})
	}

	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}, "")
	_, err := c.GetBulkProgress(context.Background(), "1")
	assert.False(t, errors.Is(err, ErrNotFound))
}

func TestSendAndStopBulk(t *testing.T) {
	var paths []string
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		paths = append(paths, r.URL.Path)
		w.Write([]byte(`{"success": true, "message": "ok"}`))
	}, "")

	res, err := c.SendBulk(context.Background(), "7")
	require.NoError(t, err)
	assert.True(t, res.Success)
	assert.Equal(t, "ok", res.Message)

	_, err = c.StopBulk(context.Background(), "7")
	require.NoError(t, err)

	assert.Equal(t, []string{"/api/send/7", "/api/7/stop"}, paths)
}

func TestControlResponseRequiresSuccessFlag(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"message": "queued"}`))
	}, "")

	_, err := c.SendBulk(context.Background(), "7")
	assert.Error(t, err)
}

func TestListImportHistory(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/import-history", r.URL.Path)
		assert.Equal(t, "2", r.URL.Query().Get("page"))
		assert.Equal(t, "20", r.URL.Query().Get("size"))
		assert.Equal(t, "id,desc", r.URL.Query().Get("sort"))
		w.Header().Set("X-Total-Count", "57")
		w.Write([]byte(`[
			{"id": 1, "bulkId": "b-1", "fileName": "a.csv", "status": "PROCESSING", "totalLines": 10, "insertedCount": 4, "createdDate": "2024-03-01T10:00:00Z"},
			{"id": 2, "bulkId": 99, "fileName": "b.csv", "status": "COMPLETED", "totalLines": 5, "insertedCount": 5, "duplicateCount": 1}
		]`))
	}, "")

	page, err := c.ListImportHistory(context.Background(), types.PageRequest{Page: 2, Size: 20, Sort: "id,desc"})
	require.NoError(t, err)
	assert.Equal(t, 57, page.TotalCount)
	require.Len(t, page.Items, 2)
	assert.Equal(t, "b-1", page.Items[0].BulkID)
	assert.Equal(t, types.ImportStatusProcessing, page.Items[0].Status)
	assert.Equal(t, 2024, page.Items[0].CreatedAt.Year())
	assert.Equal(t, "99", page.Items[1].BulkID)
	assert.Equal(t, 1, page.Items[1].DuplicateCount)
}

func TestListImportHistoryRejectsEntryWithoutBulkID(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`[{"id": 1, "status": "PENDING"}]`))
	}, "")

	_, err := c.ListImportHistory(context.Background(), types.PageRequest{})
	assert.Error(t, err)
}

func TestListBulkContacts(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/contacts/bulk/b-1", r.URL.Path)
		w.Write([]byte(`[{"id": 3, "name": "Ada", "phone": "+100", "bulkId": "b-1", "duplicate": true}]`))
	}, "")

	page, err := c.ListBulkContacts(context.Background(), "b-1", types.PageRequest{Size: 10})
	require.NoError(t, err)
	assert.Equal(t, 1, page.TotalCount, "falls back to item count without X-Total-Count")
	require.Len(t, page.Items, 1)
	assert.Equal(t, "Ada", page.Items[0].Name)
	assert.True(t, page.Items[0].Duplicate)
}

func TestRequestHonoursContextCancellation(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		<-r.Context().Done()
	}, "")

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	_, err := c.GetBulkProgress(ctx, "1")
	assert.Error(t, err)
}

func TestPing(t *testing.T) {
	var status int32 = http.StatusNotFound
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(int(atomic.LoadInt32(&status)))
	}, "")

	assert.NoError(t, c.Ping(context.Background()), "a 404 still proves the API is up")

	atomic.StoreInt32(&status, http.StatusServiceUnavailable)
	err := c.Ping(context.Background())
	require.Error(t, err)
	var apiErr *APIError
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, http.StatusServiceUnavailable, apiErr.StatusCode)
}
