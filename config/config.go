/*
Package config provides configuration management for the bulk progress monitor.

Values are resolved in three layers: built-in defaults, an optional YAML file
and environment variables (a .env file in the working directory is loaded
first when present). Environment variables always win.
*/
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"net"
	"net/url"
	"os"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/Nexora-Open-Source/bulk-progress-monitor/cache"
	"github.com/Nexora-Open-Source/bulk-progress-monitor/client"
	"github.com/Nexora-Open-Source/bulk-progress-monitor/container"
	"github.com/Nexora-Open-Source/bulk-progress-monitor/middleware"
	"github.com/Nexora-Open-Source/bulk-progress-monitor/monitor"
	"github.com/Nexora-Open-Source/bulk-progress-monitor/monitoring"
	"github.com/Nexora-Open-Source/bulk-progress-monitor/session"
	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"
	"gopkg.in/yaml.v3"
)

// Config holds all application configuration
type Config struct {
	LogLevel   string `yaml:"log_level"`
	ServerPort string `yaml:"server_port"`
	// ServerHost is the interface the dashboard binds to, empty for all
	ServerHost string `yaml:"server_host"`
	// AppURL is the web admin panel that job detail links point to
	AppURL string `yaml:"app_url"`
	// ShareDetailToken puts the messaging API token into detail links.
	// The dashboard has no authentication, so this requires a loopback ServerHost.
	ShareDetailToken bool `yaml:"share_detail_token"`
	// TrustedProxies lists the proxy addresses (IPs or CIDRs) whose
	// X-Forwarded-For and X-Real-IP headers are believed
	TrustedProxies []string `yaml:"trusted_proxies"`

	API     APIConfig     `yaml:"api"`
	Polling PollingConfig `yaml:"polling"`
	Alerts  AlertConfig   `yaml:"alerts"`
	Cache   CacheConfig   `yaml:"cache"`

	// Rate limiting configuration for the dashboard API
	RateLimitRequestsPerMinute float64 `yaml:"rate_limit_rpm"`
	RateLimitBurst             int     `yaml:"rate_limit_burst"`
	// Cleanup interval of idle rate limiter clients
	ClientCleanupInterval time.Duration `yaml:"client_cleanup_interval"`

	CORSConfig CORSConfig `yaml:"cors"`
}

// APIConfig configures the messaging platform client
type APIConfig struct {
	BaseURL        string        `yaml:"base_url"`
	Token          string        `yaml:"token"`
	Timeout        time.Duration `yaml:"timeout"`
	RequestsPerSec float64       `yaml:"requests_per_sec"`
	Burst          int           `yaml:"burst"`
}

// PollingConfig configures progress polling and metrics
type PollingConfig struct {
	Interval      time.Duration `yaml:"interval"`
	HistorySize   int           `yaml:"history_size"`
	ReferenceRate float64       `yaml:"reference_rate"`
}

// AlertConfig holds the alert thresholds
type AlertConfig struct {
	LowThroughputRate float64       `yaml:"low_throughput_rate"`
	HighErrorRate     float64       `yaml:"high_error_rate"`
	StallWindow       time.Duration `yaml:"stall_window"`
	StallRate         float64       `yaml:"stall_rate"`
	DedupWindow       time.Duration `yaml:"dedup_window"`
	MaxVisible        int           `yaml:"max_visible"`
	// DisabledRules names alert rules that never fire, e.g. "Low Throughput"
	DisabledRules []string `yaml:"disabled_rules"`
}

// Thresholds converts the configuration for the evaluator
func (a AlertConfig) Thresholds() monitoring.Thresholds {
	return monitoring.Thresholds{
		LowThroughputRate: a.LowThroughputRate,
		HighErrorRate:     a.HighErrorRate,
		StallWindow:       a.StallWindow,
		StallRate:         a.StallRate,
		DedupWindow:       a.DedupWindow,
		MaxVisible:        a.MaxVisible,
		DisabledRules:     append([]string(nil), a.DisabledRules...),
	}
}

// CacheConfig holds cache TTL settings
type CacheConfig struct {
	CompletedJobTTL   time.Duration `yaml:"completed_job_ttl"`
	FailedJobTTL      time.Duration `yaml:"failed_job_ttl"`
	ActiveImportsTTL  time.Duration `yaml:"active_imports_ttl"`
	SettledImportsTTL time.Duration `yaml:"settled_imports_ttl"`
	CleanupInterval   time.Duration `yaml:"cleanup_interval"`
}

// CORSConfig holds CORS-related configuration
type CORSConfig struct {
	// Environment-specific settings
	Environment string `yaml:"environment"`
	// Allowed origins based on environment
	DevelopmentOrigins []string `yaml:"development_origins"`
	StagingOrigins     []string `yaml:"staging_origins"`
	ProductionOrigins  []string `yaml:"production_origins"`
	// Additional CORS settings
	AllowedMethods   []string `yaml:"allowed_methods"`
	AllowedHeaders   []string `yaml:"allowed_headers"`
	ExposedHeaders   []string `yaml:"exposed_headers"`
	AllowCredentials bool     `yaml:"allow_credentials"`
	MaxAge           int      `yaml:"max_age"`
	// Dynamic origin validation
	AllowSubdomains bool     `yaml:"allow_subdomains"`
	AllowedDomains  []string `yaml:"allowed_domains"`
}

// Services holds all service dependencies
type Services struct {
	Container *container.Container
	Logger    *logrus.Logger
}

// AppConfig holds both configuration and services
type AppConfig struct {
	Config   *Config
	Services *Services
}

// DefaultConfig returns the built-in defaults
func DefaultConfig() *Config {
	thresholds := monitoring.DefaultThresholds()

	return &Config{
		LogLevel:   "info",
		ServerPort: "8080",
		AppURL:     "http://localhost:4200",
		API: APIConfig{
			BaseURL:        "http://localhost:8081/api",
			Timeout:        10 * time.Second,
			RequestsPerSec: 0,
			Burst:          1,
		},
		Polling: PollingConfig{
			Interval:      time.Second,
			HistorySize:   120,
			ReferenceRate: 10,
		},
		Alerts: AlertConfig{
			LowThroughputRate: thresholds.LowThroughputRate,
			HighErrorRate:     thresholds.HighErrorRate,
			StallWindow:       thresholds.StallWindow,
			StallRate:         thresholds.StallRate,
			DedupWindow:       thresholds.DedupWindow,
			MaxVisible:        thresholds.MaxVisible,
		},
		Cache: CacheConfig{
			CompletedJobTTL:   30 * time.Minute,
			FailedJobTTL:      5 * time.Minute,
			ActiveImportsTTL:  5 * time.Second,
			SettledImportsTTL: 10 * time.Minute,
			CleanupInterval:   time.Minute,
		},
		// Rate limiting defaults (120 requests per minute, burst of 20)
		RateLimitRequestsPerMinute: 120,
		RateLimitBurst:             20,
		ClientCleanupInterval:      time.Minute,
		CORSConfig: CORSConfig{
			Environment: "development",
			DevelopmentOrigins: []string{
				"http://localhost:3000",
				"http://localhost:4200",
				"http://127.0.0.1:3000",
				"http://127.0.0.1:4200",
				"http://localhost:8080",
			},
			StagingOrigins:    []string{},
			ProductionOrigins: []string{},
			AllowedMethods:    []string{"GET", "POST", "DELETE", "OPTIONS"},
			AllowedHeaders: []string{
				"Content-Type", "Authorization", "X-Requested-With",
				"X-Request-ID", "Accept", "Origin", "Cache-Control",
			},
			ExposedHeaders:   []string{"X-Request-ID", "X-Total-Count", "X-Cache"},
			AllowCredentials: true,
			MaxAge:           86400, // 24 hours
			AllowSubdomains:  false,
			AllowedDomains:   []string{},
		},
	}
}

// NewConfig creates a configuration from defaults and the environment
func NewConfig() *Config {
	cfg := DefaultConfig()
	cfg.overrideWithEnv()
	return cfg
}

// LoadConfig loads a .env file if present, applies the YAML file at path when
// path is not empty and finally applies environment variables.
func LoadConfig(path string) (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("failed to load .env file: %w", err)
	}

	cfg := DefaultConfig()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config file: %w", err)
		}
	}
	cfg.overrideWithEnv()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}
	return cfg, nil
}

func (c *Config) overrideWithEnv() {
	c.LogLevel = getEnv("LOG_LEVEL", c.LogLevel)
	c.ServerPort = getEnv("SERVER_PORT", c.ServerPort)
	c.ServerHost = getEnv("SERVER_HOST", c.ServerHost)
	c.AppURL = getEnv("APP_URL", c.AppURL)
	c.ShareDetailToken = getEnvBool("SHARE_DETAIL_TOKEN", c.ShareDetailToken)
	c.TrustedProxies = getEnvSlice("TRUSTED_PROXIES", c.TrustedProxies)

	c.API.BaseURL = getEnv("API_BASE_URL", c.API.BaseURL)
	c.API.Token = getEnv("API_TOKEN", c.API.Token)
	c.API.Timeout = getEnvDuration("API_TIMEOUT", c.API.Timeout)
	c.API.RequestsPerSec = getEnvFloat("API_REQUESTS_PER_SEC", c.API.RequestsPerSec)
	c.API.Burst = getEnvInt("API_BURST", c.API.Burst)

	c.Polling.Interval = getEnvDuration("POLL_INTERVAL", c.Polling.Interval)
	c.Polling.HistorySize = getEnvInt("HISTORY_SIZE", c.Polling.HistorySize)
	c.Polling.ReferenceRate = getEnvFloat("REFERENCE_RATE", c.Polling.ReferenceRate)

	c.Alerts.LowThroughputRate = getEnvFloat("ALERT_LOW_THROUGHPUT_RATE", c.Alerts.LowThroughputRate)
	c.Alerts.HighErrorRate = getEnvFloat("ALERT_HIGH_ERROR_RATE", c.Alerts.HighErrorRate)
	c.Alerts.StallWindow = getEnvDuration("ALERT_STALL_WINDOW", c.Alerts.StallWindow)
	c.Alerts.StallRate = getEnvFloat("ALERT_STALL_RATE", c.Alerts.StallRate)
	c.Alerts.DedupWindow = getEnvDuration("ALERT_DEDUP_WINDOW", c.Alerts.DedupWindow)
	c.Alerts.MaxVisible = getEnvInt("ALERT_MAX_VISIBLE", c.Alerts.MaxVisible)
	c.Alerts.DisabledRules = getEnvSlice("ALERT_DISABLED_RULES", c.Alerts.DisabledRules)

	c.Cache.CompletedJobTTL = getEnvDuration("COMPLETED_JOB_TTL", c.Cache.CompletedJobTTL)
	c.Cache.FailedJobTTL = getEnvDuration("FAILED_JOB_TTL", c.Cache.FailedJobTTL)
	c.Cache.ActiveImportsTTL = getEnvDuration("ACTIVE_IMPORTS_TTL", c.Cache.ActiveImportsTTL)
	c.Cache.SettledImportsTTL = getEnvDuration("SETTLED_IMPORTS_TTL", c.Cache.SettledImportsTTL)
	c.Cache.CleanupInterval = getEnvDuration("CACHE_CLEANUP_INTERVAL", c.Cache.CleanupInterval)

	c.RateLimitRequestsPerMinute = getEnvFloat("RATE_LIMIT_RPM", c.RateLimitRequestsPerMinute)
	c.RateLimitBurst = getEnvInt("RATE_LIMIT_BURST", c.RateLimitBurst)
	c.ClientCleanupInterval = getEnvDuration("CLIENT_CLEANUP_INTERVAL", c.ClientCleanupInterval)

	cors := &c.CORSConfig
	cors.Environment = getEnv("ENVIRONMENT", cors.Environment)
	cors.DevelopmentOrigins = getEnvSlice("DEV_CORS_ORIGINS", cors.DevelopmentOrigins)
	cors.StagingOrigins = getEnvSlice("STAGING_CORS_ORIGINS", cors.StagingOrigins)
	cors.ProductionOrigins = getEnvSlice("PROD_CORS_ORIGINS", cors.ProductionOrigins)
	cors.AllowedMethods = getEnvSlice("CORS_ALLOWED_METHODS", cors.AllowedMethods)
	cors.AllowedHeaders = getEnvSlice("CORS_ALLOWED_HEADERS", cors.AllowedHeaders)
	cors.ExposedHeaders = getEnvSlice("CORS_EXPOSED_HEADERS", cors.ExposedHeaders)
	cors.AllowCredentials = getEnvBool("CORS_ALLOW_CREDENTIALS", cors.AllowCredentials)
	cors.MaxAge = getEnvInt("CORS_MAX_AGE", cors.MaxAge)
	cors.AllowSubdomains = getEnvBool("CORS_ALLOW_SUBDOMAINS", cors.AllowSubdomains)
	cors.AllowedDomains = getEnvSlice("CORS_ALLOWED_DOMAINS", cors.AllowedDomains)
}

// Validate validates the configuration
func (c *Config) Validate() error {
	if c.API.BaseURL == "" {
		return fmt.Errorf("API_BASE_URL is required")
	}
	u, err := url.Parse(c.API.BaseURL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return fmt.Errorf("API_BASE_URL must be an absolute http(s) URL, got %q", c.API.BaseURL)
	}
	if c.Polling.Interval <= 0 {
		return fmt.Errorf("polling interval must be positive")
	}
	if c.Polling.HistorySize <= 0 {
		return fmt.Errorf("history size must be positive")
	}
	if c.Polling.ReferenceRate <= 0 {
		return fmt.Errorf("reference rate must be positive")
	}
	if c.API.RequestsPerSec < 0 {
		return fmt.Errorf("API requests per second must not be negative")
	}
	if c.Alerts.HighErrorRate < 0 || c.Alerts.HighErrorRate > 100 {
		return fmt.Errorf("high error rate threshold must be between 0 and 100")
	}
	if c.Alerts.DedupWindow < 0 || c.Alerts.StallWindow < 0 {
		return fmt.Errorf("alert windows must not be negative")
	}
	if c.Alerts.MaxVisible <= 0 {
		return fmt.Errorf("max visible alerts must be positive")
	}
	if _, err := logrus.ParseLevel(c.LogLevel); err != nil {
		return fmt.Errorf("invalid log level %q", c.LogLevel)
	}
	if c.ShareDetailToken && !isLoopbackHost(c.ServerHost) {
		return fmt.Errorf("SHARE_DETAIL_TOKEN requires SERVER_HOST to be a loopback address, got %q", c.ServerHost)
	}
	for _, name := range c.Alerts.DisabledRules {
		if !slices.Contains(monitoring.RuleNames(), name) {
			return fmt.Errorf("unknown alert rule %q in disabled rules", name)
		}
	}
	if _, err := ParseProxies(c.TrustedProxies); err != nil {
		return err
	}
	return nil
}

// ListenAddr is the address the dashboard server listens on
func (c *Config) ListenAddr() string {
	return net.JoinHostPort(c.ServerHost, c.ServerPort)
}

func isLoopbackHost(host string) bool {
	if host == "localhost" {
		return true
	}
	ip := net.ParseIP(host)
	return ip != nil && ip.IsLoopback()
}

// ParseProxies parses trusted proxy entries. A bare IP is a single-address network.
func ParseProxies(entries []string) ([]*net.IPNet, error) {
	var nets []*net.IPNet
	for _, entry := range entries {
		entry = strings.TrimSpace(entry)
		if entry == "" {
			continue
		}
		if !strings.Contains(entry, "/") {
			ip := net.ParseIP(entry)
			if ip == nil {
				return nil, fmt.Errorf("invalid trusted proxy %q", entry)
			}
			bits := 128
			if ip.To4() != nil {
				ip = ip.To4()
				bits = 32
			}
			nets = append(nets, &net.IPNet{IP: ip, Mask: net.CIDRMask(bits, bits)})
			continue
		}
		_, ipNet, err := net.ParseCIDR(entry)
		if err != nil {
			return nil, fmt.Errorf("invalid trusted proxy %q: %w", entry, err)
		}
		nets = append(nets, ipNet)
	}
	return nets, nil
}

// MonitorOptions returns the template options for job monitors
func (c *Config) MonitorOptions(logger *logrus.Logger) monitor.Options {
	thresholds := c.Alerts.Thresholds()
	return monitor.Options{
		Interval:      c.Polling.Interval,
		HistorySize:   c.Polling.HistorySize,
		ReferenceRate: c.Polling.ReferenceRate,
		Thresholds:    &thresholds,
		Logger:        logger,
	}
}

// NewServices creates and initializes all service dependencies using DI container
func NewServices(config *Config) (*Services, error) {
	logger := middleware.Logger
	if logger == nil {
		logger = logrus.New()
		logger.SetLevel(logrus.InfoLevel)
	}

	tokens := session.NewTokenStore(config.API.Token)
	apiClient, err := client.New(client.Options{
		BaseURL:        config.API.BaseURL,
		Timeout:        config.API.Timeout,
		RequestsPerSec: config.API.RequestsPerSec,
		Burst:          config.API.Burst,
	}, tokens, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to create API client: %w", err)
	}
	logger.WithField("base_url", config.API.BaseURL).Info("Messaging API client initialized successfully")

	// Initialize cache
	inMemoryCache := cache.NewInMemoryCache(config.Cache.FailedJobTTL, config.Cache.CleanupInterval)
	cacheManager := cache.NewCacheManager(inMemoryCache, logger, cache.TTLs{
		CompletedJob:   config.Cache.CompletedJobTTL,
		FailedJob:      config.Cache.FailedJobTTL,
		ActiveImports:  config.Cache.ActiveImportsTTL,
		SettledImports: config.Cache.SettledImportsTTL,
	})
	logger.Info("Cache manager initialized successfully")

	registry := monitor.NewRegistry(apiClient, config.MonitorOptions(logger), cacheManager, logger)

	// Initialize dependency injection container
	diContainer := container.NewContainer()
	if err := diContainer.InitializeServices(container.Dependencies{
		Logger:   logger,
		Client:   apiClient,
		Tokens:   tokens,
		Cache:    cacheManager,
		Store:    inMemoryCache,
		Registry: registry,
		AppURL:   config.AppURL,

		ShareDetailToken: config.ShareDetailToken,
	}); err != nil {
		return nil, fmt.Errorf("failed to initialize dependency container: %v", err)
	}

	return &Services{
		Container: diContainer,
		Logger:    logger,
	}, nil
}

// NewAppConfig creates a new application configuration with all dependencies
func NewAppConfig(path string) (*AppConfig, error) {
	config, err := LoadConfig(path)
	if err != nil {
		return nil, err
	}

	services, err := NewServices(config)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize services: %v", err)
	}

	return &AppConfig{
		Config:   config,
		Services: services,
	}, nil
}

// Close gracefully closes all service connections
func (s *Services) Close() error {
	if s.Container != nil {
		return s.Container.Close()
	}
	return nil
}

// getEnv gets an environment variable with a default value
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvFloat gets an environment variable as float64 with a default value
func getEnvFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.ParseFloat(value, 64); err == nil {
			return parsed
		}
	}
	return defaultValue
}

// getEnvInt gets an environment variable as int with a default value
func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.Atoi(value); err == nil {
			return parsed
		}
	}
	return defaultValue
}

// getEnvDuration gets an environment variable as time.Duration with a default value
func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if parsed, err := time.ParseDuration(value); err == nil {
			return parsed
		}
	}
	return defaultValue
}

// getEnvBool gets an environment variable as bool with a default value
func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.ParseBool(value); err == nil {
			return parsed
		}
	}
	return defaultValue
}

// getEnvSlice gets an environment variable as a string slice with a default value
func getEnvSlice(key string, defaultValue []string) []string {
	if value := os.Getenv(key); value != "" {
		parts := strings.Split(value, ",")
		for i := range parts {
			parts[i] = strings.TrimSpace(parts[i])
		}
		return parts
	}
	return defaultValue
}
