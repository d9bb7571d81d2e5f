// Package health provides health check handlers for the bulk progress monitor
package health

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/Nexora-Open-Source/bulk-progress-monitor/middleware"
	"github.com/Nexora-Open-Source/bulk-progress-monitor/utils"
	"github.com/sirupsen/logrus"
)

const checkTimeout = 5 * time.Second

// Version is reported by the health endpoint
var Version = "1.0.0"

var startTime = time.Now()

// Pinger checks that a dependency is reachable
type Pinger interface {
	Ping(ctx context.Context) error
}

// MonitorCounter reports how many jobs are being watched
type MonitorCounter interface {
	Len() int
}

// HealthStatus represents the health check response structure
type HealthStatus struct {
	Status         string            `json:"status"`
	Timestamp      string            `json:"timestamp"`
	Version        string            `json:"version"`
	Services       map[string]string `json:"services"`
	ActiveMonitors int               `json:"active_monitors"`
	Uptime         string            `json:"uptime"`
}

// Handler contains dependencies for health handlers
type Handler struct {
	API      Pinger
	Monitors MonitorCounter
	Logger   *logrus.Logger
}

// NewHandler creates a new health handler
func NewHandler(api Pinger, monitors MonitorCounter, logger *logrus.Logger) *Handler {
	return &Handler{
		API:      api,
		Monitors: monitors,
		Logger:   logger,
	}
}

// HandleHealthCheck provides a health check endpoint for monitoring
// @Summary Health check
// @Tags health
// @Produce json
// @Success 200 {object} HealthStatus
// @Router /health [get]
func (h *Handler) HandleHealthCheck(w http.ResponseWriter, r *http.Request) {
	utils.EnsureRequestID(w, r)

	health := HealthStatus{
		Status:    "healthy",
		Timestamp: time.Now().Format(time.RFC3339),
		Version:   Version,
		Services:  make(map[string]string),
		Uptime:    time.Since(startTime).String(),
	}
	if h.Monitors != nil {
		health.ActiveMonitors = h.Monitors.Len()
	}

	// The dashboard stays up when the messaging API is down, it only degrades
	if err := h.checkAPIHealth(r.Context()); err != nil {
		health.Status = "degraded"
		health.Services["messaging_api"] = "unhealthy: " + err.Error()
		h.Logger.WithFields(logrus.Fields{
			"service": "messaging_api",
			"error":   err.Error(),
		}).Error("Health check failed for messaging API")
	} else {
		health.Services["messaging_api"] = "healthy"
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	json.NewEncoder(w).Encode(health)
}

// HandleLivenessCheck provides a simple liveness check
// @Summary Liveness check
// @Tags health
// @Produce json
// @Success 200 {object} map[string]interface{}
// @Router /health/live [get]
func (h *Handler) HandleLivenessCheck(w http.ResponseWriter, r *http.Request) {
	response := map[string]interface{}{
		"status":    "alive",
		"timestamp": time.Now().Format(time.RFC3339),
		"uptime":    time.Since(startTime).String(),
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	json.NewEncoder(w).Encode(response)
}

// HandleReadinessCheck provides a readiness check
// @Summary Readiness check
// @Tags health
// @Produce json
// @Success 200 {object} map[string]interface{}
// @Failure 503 {object} middleware.APIError
// @Router /health/ready [get]
func (h *Handler) HandleReadinessCheck(w http.ResponseWriter, r *http.Request) {
	requestID := utils.EnsureRequestID(w, r)

	if err := h.checkAPIHealth(r.Context()); err != nil {
		middleware.RespondServiceUnavailable(w, err, requestID)
		return
	}

	response := map[string]interface{}{
		"status":    "ready",
		"timestamp": time.Now().Format(time.RFC3339),
		"services": map[string]string{
			"messaging_api": "ready",
		},
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	json.NewEncoder(w).Encode(response)
}

// checkAPIHealth checks if the messaging API is reachable
func (h *Handler) checkAPIHealth(parent context.Context) error {
	ctx, cancel := context.WithTimeout(parent, checkTimeout)
	defer cancel()
	return h.API.Ping(ctx)
}
