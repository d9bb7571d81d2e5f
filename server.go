package main

import (
	"context"
	"crypto/sha256"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os/signal"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/Nexora-Open-Source/bulk-progress-monitor/config"
	_ "github.com/Nexora-Open-Source/bulk-progress-monitor/docs"
	"github.com/Nexora-Open-Source/bulk-progress-monitor/handlers"
	"github.com/Nexora-Open-Source/bulk-progress-monitor/handlers/health"
	"github.com/Nexora-Open-Source/bulk-progress-monitor/middleware"
	"github.com/Nexora-Open-Source/bulk-progress-monitor/monitoring"
	"github.com/Nexora-Open-Source/bulk-progress-monitor/utils"
	"github.com/gorilla/mux"
	"github.com/sirupsen/logrus"
	httpSwagger "github.com/swaggo/http-swagger/v2"
	"golang.org/x/time/rate"
)

const (
	shutdownTimeout = 10 * time.Second
	clientIdleAfter = 5 * time.Minute
)

// RateLimiter implements a simple token bucket rate limiter
type RateLimiter struct {
	clients map[string]*ClientLimiter
	mutex   sync.RWMutex
	rate    rate.Limit
	burst   int
	// proxies whose forwarding headers name the real client
	trusted []*net.IPNet
}

// ClientLimiter represents a rate limiter for a specific client
type ClientLimiter struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// NewRateLimiter creates a new rate limiter
func NewRateLimiter(r rate.Limit, b int) *RateLimiter {
	return &RateLimiter{
		clients: make(map[string]*ClientLimiter),
		rate:    r,
		burst:   b,
	}
}

// SetTrustedProxies sets the proxies whose X-Forwarded-For and X-Real-IP
// headers are honored
func (rl *RateLimiter) SetTrustedProxies(nets []*net.IPNet) {
	rl.mutex.Lock()
	defer rl.mutex.Unlock()
	rl.trusted = nets
}

func (rl *RateLimiter) trustedProxies() []*net.IPNet {
	rl.mutex.RLock()
	defer rl.mutex.RUnlock()
	return rl.trusted
}

// Allow checks if a client is allowed to make a request
func (rl *RateLimiter) Allow(clientID string) bool {
	rl.mutex.Lock()
	defer rl.mutex.Unlock()

	client, exists := rl.clients[clientID]
	if !exists {
		client = &ClientLimiter{limiter: rate.NewLimiter(rl.rate, rl.burst)}
		rl.clients[clientID] = client
	}

	client.lastSeen = time.Now()
	return client.limiter.Allow()
}

// Cleanup removes stale client entries
func (rl *RateLimiter) Cleanup() {
	rl.mutex.Lock()
	defer rl.mutex.Unlock()

	for clientID, client := range rl.clients {
		if time.Since(client.lastSeen) > clientIdleAfter {
			delete(rl.clients, clientID)
		}
	}
}

// runCleanup sweeps idle clients until ctx is done
func (rl *RateLimiter) runCleanup(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			rl.Cleanup()
		case <-ctx.Done():
			return
		}
	}
}

// newRouter wires every dashboard route
func newRouter(handler *handlers.Handler, healthHandler *health.Handler, limiter *RateLimiter) *mux.Router {
	router := mux.NewRouter()

	// Setup metrics endpoint
	monitoring.SetupMetricsEndpoint(router)

	// Health checks are not rate limited
	router.HandleFunc("/health", healthHandler.HandleHealthCheck).Methods("GET")
	router.HandleFunc("/health/live", healthHandler.HandleLivenessCheck).Methods("GET")
	router.HandleFunc("/health/ready", healthHandler.HandleReadinessCheck).Methods("GET")

	// Setup Swagger documentation
	router.PathPrefix("/swagger/").Handler(httpSwagger.WrapHandler)

	api := func(next http.HandlerFunc) http.HandlerFunc {
		return MonitoringMiddleware(RateLimitMiddleware(limiter, next))
	}

	router.HandleFunc("/jobs", api(handler.HandleListJobs)).Methods("GET")
	router.HandleFunc("/jobs/{id}/progress", api(handler.HandleGetProgress)).Methods("GET")
	router.HandleFunc("/jobs/{id}/watch", api(handler.HandleWatchJob)).Methods("POST")
	router.HandleFunc("/jobs/{id}/watch", api(handler.HandleUnwatchJob)).Methods("DELETE")
	router.HandleFunc("/jobs/{id}/send", api(handler.HandleSendJob)).Methods("POST")
	router.HandleFunc("/jobs/{id}/stop", api(handler.HandleStopJob)).Methods("POST")
	router.HandleFunc("/jobs/{id}/alerts/{alertId}", api(handler.HandleDismissAlert)).Methods("DELETE")
	router.HandleFunc("/imports", api(handler.HandleGetImports)).Methods("GET")
	router.HandleFunc("/imports/{bulkId}/contacts", api(handler.HandleGetBulkContacts)).Methods("GET")

	return router
}

// runServer serves the dashboard API until SIGINT or SIGTERM
func runServer(parent context.Context, appConfig *config.AppConfig) error {
	cfg := appConfig.Config
	logger := appConfig.Services.Logger

	tracerProvider, err := monitoring.InitTracing("bulk-progress-monitor")
	if err != nil {
		return fmt.Errorf("failed to initialize tracing: %w", err)
	}
	defer monitoring.ShutdownTracing(tracerProvider, logger)

	handler, err := appConfig.Services.Container.GetHandler()
	if err != nil {
		return fmt.Errorf("failed to initialize handler: %w", err)
	}
	apiClient, err := appConfig.Services.Container.GetClient()
	if err != nil {
		return fmt.Errorf("failed to initialize API client: %w", err)
	}
	registry, err := appConfig.Services.Container.GetRegistry()
	if err != nil {
		return fmt.Errorf("failed to initialize monitor registry: %w", err)
	}
	healthHandler := health.NewHandler(apiClient, registry, logger)

	ctx, stop := signal.NotifyContext(parent, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	proxies, err := config.ParseProxies(cfg.TrustedProxies)
	if err != nil {
		return err
	}
	limiter := NewRateLimiter(rate.Limit(cfg.RateLimitRequestsPerMinute/60.0), cfg.RateLimitBurst)
	limiter.SetTrustedProxies(proxies)
	go limiter.runCleanup(ctx, cfg.ClientCleanupInterval)

	router := newRouter(handler, healthHandler, limiter)
	withLogging := middleware.LoggingMiddleware(router)
	withCORS := CORSMiddleware(withLogging, cfg)

	server := &http.Server{
		Addr:              cfg.ListenAddr(),
		Handler:           withCORS,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.WithFields(logrus.Fields{
			"addr":         server.Addr,
			"api_base_url": cfg.API.BaseURL,
		}).Info("Dashboard server starting")
		errCh <- server.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	logger.Info("Shutting down dashboard server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("graceful shutdown failed: %w", err)
	}
	return nil
}

// MonitoringMiddleware adds metrics and tracing to HTTP handlers
func MonitoringMiddleware(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()

		ctx, span := monitoring.CreateSpan(r.Context(), fmt.Sprintf("%s %s", r.Method, r.URL.Path))
		defer span.End()

		monitoring.SetSpanAttributes(span, map[string]interface{}{
			"http.method":     r.Method,
			"http.url":        r.URL.String(),
			"http.user_agent": r.UserAgent(),
			"remote.addr":     r.RemoteAddr,
		})

		r = r.WithContext(ctx)

		// Wrap response writer to capture status code
		rw := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}

		next.ServeHTTP(rw, r)

		duration := time.Since(start).Seconds()

		// Label by route template so job ids do not explode cardinality
		endpoint := r.URL.Path
		if route := mux.CurrentRoute(r); route != nil {
			if tpl, err := route.GetPathTemplate(); err == nil {
				endpoint = tpl
			}
		}
		monitoring.RecordHTTPRequest(r.Method, endpoint, fmt.Sprintf("%d", rw.statusCode), duration)

		monitoring.SetSpanAttributes(span, map[string]interface{}{
			"http.status_code": rw.statusCode,
			"duration_seconds": duration,
		})

		if rw.statusCode >= 400 {
			monitoring.SetSpanError(span, fmt.Errorf("HTTP %d", rw.statusCode))
		}
	}
}

// responseWriter wraps http.ResponseWriter to capture status code
type responseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

// clientIP returns the host of the peer. Forwarding headers are only read
// when the peer is one of the trusted proxies.
func clientIP(r *http.Request, trusted []*net.IPNet) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		host = r.RemoteAddr
	}
	if !isTrustedProxy(host, trusted) {
		return host
	}
	if forwarded := r.Header.Get("X-Forwarded-For"); forwarded != "" {
		if first := strings.TrimSpace(strings.Split(forwarded, ",")[0]); first != "" {
			return first
		}
	}
	if realIP := strings.TrimSpace(r.Header.Get("X-Real-IP")); realIP != "" {
		return realIP
	}
	return host
}

func isTrustedProxy(host string, trusted []*net.IPNet) bool {
	ip := net.ParseIP(host)
	if ip == nil {
		return false
	}
	for _, n := range trusted {
		if n.Contains(ip) {
			return true
		}
	}
	return false
}

// getClientIdentifier generates a robust client identifier using multiple factors
func getClientIdentifier(r *http.Request, trusted []*net.IPNet) string {
	var identifiers []string

	// 1. IP Address, forwarded only through a trusted proxy
	identifiers = append(identifiers, "ip:"+clientIP(r, trusted))

	// 2. User Agent, first word only
	if fields := strings.Fields(strings.ToLower(r.Header.Get("User-Agent"))); len(fields) > 0 {
		identifiers = append(identifiers, "ua:"+fields[0])
	}

	// 3. Accept-Language header
	if acceptLang := strings.TrimSpace(r.Header.Get("Accept-Language")); len(acceptLang) >= 2 {
		identifiers = append(identifiers, "lang:"+strings.ToLower(acceptLang[:2]))
	}

	// 4. Session cookie, hashed
	if cookie, err := r.Cookie("session_id"); err == nil && cookie.Value != "" {
		hash := sha256.Sum256([]byte(cookie.Value))
		identifiers = append(identifiers, "sess:"+fmt.Sprintf("%x", hash)[:8])
	}

	combined := strings.Join(identifiers, "|")
	finalHash := sha256.Sum256([]byte(combined))
	return fmt.Sprintf("%x", finalHash)[:16]
}

// RateLimitMiddleware implements per-client rate limiting for HTTP handlers
func RateLimitMiddleware(limiter *RateLimiter, next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		clientID := getClientIdentifier(r, limiter.trustedProxies())

		if !limiter.Allow(clientID) {
			requestID := utils.EnsureRequestID(w, r)
			middleware.RespondRateLimited(w, fmt.Errorf("rate limit exceeded"), requestID)
			return
		}

		next.ServeHTTP(w, r)
	}
}

// getAllowedOrigins returns the appropriate allowed origins based on environment
func getAllowedOrigins(corsConfig config.CORSConfig) []string {
	switch strings.ToLower(corsConfig.Environment) {
	case "production", "prod":
		return corsConfig.ProductionOrigins
	case "staging", "stage":
		return corsConfig.StagingOrigins
	default:
		return corsConfig.DevelopmentOrigins
	}
}

// matchesDomain reports whether origin is domain or one of its subdomains
func matchesDomain(origin, domain string) bool {
	if origin == "https://"+domain || origin == "http://"+domain {
		return true
	}
	return strings.HasSuffix(origin, "."+domain)
}

// isOriginAllowed checks if the origin is allowed based on CORS configuration
func isOriginAllowed(origin string, corsConfig config.CORSConfig) bool {
	allowedOrigins := getAllowedOrigins(corsConfig)

	for _, allowedOrigin := range allowedOrigins {
		if origin == allowedOrigin {
			return true
		}
	}

	if !corsConfig.AllowSubdomains {
		return false
	}

	for _, domain := range corsConfig.AllowedDomains {
		if matchesDomain(origin, domain) {
			return true
		}
	}
	for _, allowedOrigin := range allowedOrigins {
		if strings.HasPrefix(allowedOrigin, "*.") && matchesDomain(origin, allowedOrigin[2:]) {
			return true
		}
	}
	return false
}

// CORSMiddleware applies the configured CORS policy
func CORSMiddleware(next http.Handler, appConfig *config.Config) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		origin := r.Header.Get("Origin")
		corsConfig := appConfig.CORSConfig

		if origin != "" && isOriginAllowed(origin, corsConfig) {
			w.Header().Set("Access-Control-Allow-Origin", origin)
			w.Header().Add("Vary", "Origin")
		}

		if len(corsConfig.AllowedMethods) > 0 {
			w.Header().Set("Access-Control-Allow-Methods", strings.Join(corsConfig.AllowedMethods, ", "))
		} else {
			w.Header().Set("Access-Control-Allow-Methods", "GET, POST, DELETE, OPTIONS")
		}

		if len(corsConfig.AllowedHeaders) > 0 {
			w.Header().Set("Access-Control-Allow-Headers", strings.Join(corsConfig.AllowedHeaders, ", "))
		} else {
			w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization, X-Requested-With, X-Request-ID")
		}

		if len(corsConfig.ExposedHeaders) > 0 {
			w.Header().Set("Access-Control-Expose-Headers", strings.Join(corsConfig.ExposedHeaders, ", "))
		}

		if corsConfig.AllowCredentials {
			w.Header().Set("Access-Control-Allow-Credentials", "true")
		}

		if corsConfig.MaxAge > 0 {
			w.Header().Set("Access-Control-Max-Age", fmt.Sprintf("%d", corsConfig.MaxAge))
		}

		// Handle preflight requests
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}

		next.ServeHTTP(w, r)
	})
}
