/*
Package middleware holds the dashboard's structured logger, its access log
middleware and the structured error responses shared by every handler.
*/
package middleware

import (
	"bytes"
	"net/http"
	"strings"
	"time"

	"github.com/Nexora-Open-Source/bulk-progress-monitor/utils"
	"github.com/sirupsen/logrus"
)

// Logger is the process-wide structured logger
var Logger *logrus.Logger

const maxLoggedBody = 1024

// health and metrics paths are scraped constantly and only logged at debug
var scrapedPaths = []string{"/metrics", "/health"}

// statusRecorder captures the status, size and error body of a response
type statusRecorder struct {
	http.ResponseWriter
	status  int
	written int
	errBody bytes.Buffer
}

func (rw *statusRecorder) WriteHeader(code int) {
	rw.status = code
	rw.ResponseWriter.WriteHeader(code)
}

func (rw *statusRecorder) Write(b []byte) (int, error) {
	if rw.status >= http.StatusBadRequest && rw.errBody.Len()+len(b) <= maxLoggedBody {
		rw.errBody.Write(b)
	}
	n, err := rw.ResponseWriter.Write(b)
	rw.written += n
	return n, err
}

// InitLogger initializes the JSON logger. Unknown levels fall back to info.
func InitLogger(level string) *logrus.Logger {
	Logger = logrus.New()
	Logger.SetFormatter(&logrus.JSONFormatter{
		TimestampFormat: time.RFC3339,
	})

	parsed, err := logrus.ParseLevel(level)
	if err != nil {
		parsed = logrus.InfoLevel
	}
	Logger.SetLevel(parsed)
	return Logger
}

func isScrapedPath(path string) bool {
	for _, prefix := range scrapedPaths {
		if strings.HasPrefix(path, prefix) {
			return true
		}
	}
	return false
}

// LoggingMiddleware writes one access log entry per request
func LoggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		requestID := utils.EnsureRequestID(w, r)

		rw := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rw, r)

		logger := Logger
		if logger == nil {
			logger = logrus.StandardLogger()
		}

		fields := logrus.Fields{
			"method":      r.Method,
			"path":        r.URL.Path,
			"query":       r.URL.RawQuery,
			"remote_addr": r.RemoteAddr,
			"user_agent":  r.UserAgent(),
			"status":      rw.status,
			"bytes":       rw.written,
			"duration_ms": time.Since(start).Milliseconds(),
			"request_id":  requestID,
		}
		if rw.errBody.Len() > 0 {
			fields["response_body"] = rw.errBody.String()
		}

		entry := logger.WithFields(fields)
		switch {
		case rw.status >= 500:
			entry.Error("Request completed with server error")
		case rw.status >= 400:
			entry.Warn("Request completed with client error")
		case isScrapedPath(r.URL.Path):
			entry.Debug("Scrape served")
		default:
			entry.Info("Request completed successfully")
		}
	})
}
