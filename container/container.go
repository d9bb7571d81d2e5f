/*
Package container provides dependency injection capabilities for the bulk progress monitor.

This package implements a simple dependency injection container that helps manage
service dependencies and reduces tight coupling between components.
*/
package container

import (
	"fmt"
	"sync"

	"github.com/Nexora-Open-Source/bulk-progress-monitor/cache"
	"github.com/Nexora-Open-Source/bulk-progress-monitor/client"
	"github.com/Nexora-Open-Source/bulk-progress-monitor/handlers"
	"github.com/Nexora-Open-Source/bulk-progress-monitor/monitor"
	"github.com/Nexora-Open-Source/bulk-progress-monitor/session"
	"github.com/sirupsen/logrus"
)

// Container holds all service dependencies
type Container struct {
	mu         sync.RWMutex
	services   map[string]interface{}
	factories  map[string]func() (interface{}, error)
	singletons map[string]interface{}
	closers    []func()
}

// Dependencies are the core services the container is built from
type Dependencies struct {
	Logger   *logrus.Logger
	Client   *client.Client
	Tokens   *session.TokenStore
	Cache    *cache.CacheManager
	Store    *cache.InMemoryCache
	Registry *monitor.Registry
	AppURL   string
	// ShareDetailToken hands the token store to the handler so detail links
	// carry the session token
	ShareDetailToken bool
}

// NewContainer creates a new dependency injection container
func NewContainer() *Container {
	return &Container{
		services:   make(map[string]interface{}),
		factories:  make(map[string]func() (interface{}, error)),
		singletons: make(map[string]interface{}),
	}
}

// Register registers a service instance
func (c *Container) Register(name string, service interface{}) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.services[name] = service
}

// RegisterFactory registers a factory function for lazy service creation
func (c *Container) RegisterFactory(name string, factory func() (interface{}, error)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.factories[name] = factory
}

// RegisterSingleton registers a singleton service
func (c *Container) RegisterSingleton(name string, service interface{}) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.singletons[name] = service
}

// Get retrieves a service by name
func (c *Container) Get(name string) (interface{}, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	// Check if service is already registered
	if service, exists := c.services[name]; exists {
		return service, nil
	}

	// Check if it's a singleton
	if singleton, exists := c.singletons[name]; exists {
		return singleton, nil
	}

	// Check if there's a factory for this service
	if factory, exists := c.factories[name]; exists {
		service, err := factory()
		if err != nil {
			return nil, fmt.Errorf("failed to create service %s: %v", name, err)
		}
		return service, nil
	}

	return nil, fmt.Errorf("service %s not found", name)
}

func getAs[T any](c *Container, name string) (T, error) {
	var zero T
	service, err := c.Get(name)
	if err != nil {
		return zero, err
	}
	typed, ok := service.(T)
	if !ok {
		return zero, fmt.Errorf("%s service is not of expected type", name)
	}
	return typed, nil
}

// GetLogger retrieves the logger service
func (c *Container) GetLogger() (*logrus.Logger, error) {
	return getAs[*logrus.Logger](c, "logger")
}

// GetClient retrieves the messaging API client
func (c *Container) GetClient() (*client.Client, error) {
	return getAs[*client.Client](c, "client")
}

// GetTokenStore retrieves the session token store
func (c *Container) GetTokenStore() (*session.TokenStore, error) {
	return getAs[*session.TokenStore](c, "tokens")
}

// GetCacheManager retrieves the cache manager service
func (c *Container) GetCacheManager() (*cache.CacheManager, error) {
	return getAs[*cache.CacheManager](c, "cache")
}

// GetRegistry retrieves the monitor registry
func (c *Container) GetRegistry() (*monitor.Registry, error) {
	return getAs[*monitor.Registry](c, "registry")
}

// GetHandler retrieves the handler service
func (c *Container) GetHandler() (*handlers.Handler, error) {
	return getAs[*handlers.Handler](c, "handler")
}

// InitializeServices initializes all core services with proper dependencies
func (c *Container) InitializeServices(deps Dependencies) error {
	if deps.Logger == nil || deps.Client == nil || deps.Registry == nil {
		return fmt.Errorf("logger, client and registry are required")
	}

	// Register core services
	c.RegisterSingleton("logger", deps.Logger)
	c.RegisterSingleton("client", deps.Client)
	c.RegisterSingleton("tokens", deps.Tokens)
	c.RegisterSingleton("cache", deps.Cache)
	c.RegisterSingleton("registry", deps.Registry)

	c.mu.Lock()
	c.closers = append(c.closers, deps.Registry.StopAll)
	if deps.Store != nil {
		c.closers = append(c.closers, deps.Store.Close)
	}
	c.mu.Unlock()

	// The handler is built once so every request shares the same registry
	var links *session.TokenStore
	if deps.ShareDetailToken {
		links = deps.Tokens
	}
	handler := handlers.NewHandler(deps.Client, deps.Registry, deps.Cache, links, deps.AppURL, deps.Logger)
	c.RegisterFactory("handler", func() (interface{}, error) {
		return handler, nil
	})

	return nil
}

// Close stops every monitor and background sweeper
func (c *Container) Close() error {
	c.mu.Lock()
	closers := c.closers
	c.closers = nil
	c.mu.Unlock()

	for _, closeFn := range closers {
		closeFn()
	}
	return nil
}
