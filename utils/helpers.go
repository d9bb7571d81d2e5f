/*
Package utils provides helper functions for the bulk progress monitor.
*/
package utils

import (
	"fmt"
	"math"
	"net/http"
	"time"

	"github.com/google/uuid"
)

// RequestIDHeader carries the request correlation id
const RequestIDHeader = "X-Request-ID"

// GenerateRequestID generates a unique request ID
func GenerateRequestID() string {
	return time.Now().Format("20060102150405") + "-" + uuid.NewString()[:8]
}

// EnsureRequestID returns the request id sent by the caller, generating and
// echoing one when it is missing
func EnsureRequestID(w http.ResponseWriter, r *http.Request) string {
	requestID := r.Header.Get(RequestIDHeader)
	if requestID == "" {
		requestID = GenerateRequestID()
		r.Header.Set(RequestIDHeader, requestID)
	}
	w.Header().Set(RequestIDHeader, requestID)
	return requestID
}

// FormatETA renders a number of seconds as "1h02m03s". Negative values mean
// the server could not estimate and render as "unknown".
func FormatETA(seconds float64) string {
	if seconds < 0 || math.IsNaN(seconds) || math.IsInf(seconds, 0) {
		return "unknown"
	}
	d := time.Duration(math.Round(seconds)) * time.Second
	h := int(d.Hours())
	m := int(d.Minutes()) % 60
	s := int(d.Seconds()) % 60
	switch {
	case h > 0:
		return fmt.Sprintf("%dh%02dm%02ds", h, m, s)
	case m > 0:
		return fmt.Sprintf("%dm%02ds", m, s)
	default:
		return fmt.Sprintf("%ds", s)
	}
}

// FormatRate renders a throughput in messages per second
func FormatRate(rate float64) string {
	if rate <= 0 {
		return "idle"
	}
	return fmt.Sprintf("%.1f msg/s", rate)
}
