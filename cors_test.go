package main

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/Nexora-Open-Source/bulk-progress-monitor/config"
	"github.com/Nexora-Open-Source/bulk-progress-monitor/middleware"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func init() {
	middleware.InitLogger("error")
}

func dashboardCORS() config.CORSConfig {
	return config.CORSConfig{
		Environment:        "development",
		DevelopmentOrigins: []string{"http://localhost:4200", "http://127.0.0.1:4200"},
		StagingOrigins:     []string{"https://panel.staging.sms.example"},
		ProductionOrigins:  []string{"https://panel.sms.example"},
		AllowedMethods:     []string{"GET", "POST", "DELETE", "OPTIONS"},
		AllowedHeaders:     []string{"Content-Type", "Authorization"},
		ExposedHeaders:     []string{"X-Request-ID", "X-Cache"},
		AllowCredentials:   true,
		MaxAge:             600,
	}
}

func okHandler(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
}

func TestCORSMiddlewareOrigins(t *testing.T) {
	cfg := &config.Config{CORSConfig: dashboardCORS()}
	handler := CORSMiddleware(http.HandlerFunc(okHandler), cfg)

	tests := []struct {
		name       string
		origin     string
		wantOrigin string
	}{
		{"local dashboard", "http://localhost:4200", "http://localhost:4200"},
		{"loopback dashboard", "http://127.0.0.1:4200", "http://127.0.0.1:4200"},
		{"production panel outside development", "https://panel.sms.example", ""},
		{"unknown origin", "https://evil.example", ""},
		{"origins are case sensitive", "http://LOCALHOST:4200", ""},
		{"no origin", "", ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/jobs", nil)
			if tt.origin != "" {
				req.Header.Set("Origin", tt.origin)
			}
			w := httptest.NewRecorder()
			handler.ServeHTTP(w, req)

			assert.Equal(t, tt.wantOrigin, w.Header().Get("Access-Control-Allow-Origin"))
			assert.Equal(t, "GET, POST, DELETE, OPTIONS", w.Header().Get("Access-Control-Allow-Methods"))
			assert.Equal(t, "X-Request-ID, X-Cache", w.Header().Get("Access-Control-Expose-Headers"))
			assert.Equal(t, "true", w.Header().Get("Access-Control-Allow-Credentials"))
			assert.Equal(t, "600", w.Header().Get("Access-Control-Max-Age"))
			if tt.wantOrigin != "" {
				assert.Equal(t, "Origin", w.Header().Get("Vary"))
			}
		})
	}
}

func TestCORSMiddlewarePreflightStopsChain(t *testing.T) {
	called := false
	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		called = true
	})
	handler := CORSMiddleware(next, &config.Config{CORSConfig: dashboardCORS()})

	req := httptest.NewRequest(http.MethodOptions, "/jobs/42/watch", nil)
	req.Header.Set("Origin", "http://localhost:4200")
	req.Header.Set("Access-Control-Request-Method", http.MethodDelete)
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.False(t, called)
}

func TestCORSMiddlewareDefaults(t *testing.T) {
	handler := CORSMiddleware(http.HandlerFunc(okHandler), &config.Config{})

	w := httptest.NewRecorder()
	handler.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/jobs", nil))

	assert.Equal(t, "GET, POST, DELETE, OPTIONS", w.Header().Get("Access-Control-Allow-Methods"))
	assert.Contains(t, w.Header().Get("Access-Control-Allow-Headers"), "X-Request-ID")
	assert.Empty(t, w.Header().Get("Access-Control-Allow-Credentials"))
}

func TestCORSFromEnvironment(t *testing.T) {
	t.Setenv("ENVIRONMENT", "development")
	t.Setenv("DEV_CORS_ORIGINS", "http://localhost:4200")
	t.Setenv("CORS_ALLOWED_METHODS", "GET,DELETE")

	cfg, err := config.LoadConfig("")
	require.NoError(t, err)

	handler := CORSMiddleware(http.HandlerFunc(okHandler), cfg)
	req := httptest.NewRequest(http.MethodGet, "/jobs", nil)
	req.Header.Set("Origin", "http://localhost:4200")
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, req)

	assert.Equal(t, "http://localhost:4200", w.Header().Get("Access-Control-Allow-Origin"))
	assert.Equal(t, "GET, DELETE", w.Header().Get("Access-Control-Allow-Methods"))
}

func TestGetAllowedOrigins(t *testing.T) {
	cors := dashboardCORS()
	dev := cors.DevelopmentOrigins

	tests := []struct {
		environment string
		want        []string
	}{
		{"development", dev},
		{"dev", dev},
		{"staging", cors.StagingOrigins},
		{"Stage", cors.StagingOrigins},
		{"production", cors.ProductionOrigins},
		{"PROD", cors.ProductionOrigins},
		{"laptop", dev},
	}

	for _, tt := range tests {
		t.Run(tt.environment, func(t *testing.T) {
			cors.Environment = tt.environment
			assert.Equal(t, tt.want, getAllowedOrigins(cors))
		})
	}
}

func TestSubdomainOrigins(t *testing.T) {
	cors := config.CORSConfig{
		AllowSubdomains:    true,
		AllowedDomains:     []string{"sms.example", "partner.example"},
		DevelopmentOrigins: []string{"*.ops.example"},
	}

	tests := []struct {
		origin string
		want   bool
	}{
		{"https://sms.example", true},
		{"https://panel.sms.example", true},
		{"http://partner.example", true},
		{"https://eu.partner.example", true},
		{"https://grafana.ops.example", true},
		{"https://ops.example", true},
		{"https://sms.example.evil.example", false},
		{"https://notsms.example", false},
	}

	for _, tt := range tests {
		t.Run(tt.origin, func(t *testing.T) {
			assert.Equal(t, tt.want, isOriginAllowed(tt.origin, cors))
		})
	}

	cors.AllowSubdomains = false
	assert.False(t, isOriginAllowed("https://panel.sms.example", cors))
}
