/*
Package cache keeps short-lived copies of dashboard data.

It retains the final state of finished monitors so the dashboard can still
answer for a job after its poller has stopped, and caches import history
pages to spare the messaging API from repeated listing calls. TTLs adapt to
how settled the cached data is.
*/
package cache

import (
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/Nexora-Open-Source/bulk-progress-monitor/monitor"
	"github.com/Nexora-Open-Source/bulk-progress-monitor/monitoring"
	"github.com/Nexora-Open-Source/bulk-progress-monitor/types"
	"github.com/sirupsen/logrus"
)

// CacheItem represents a cached value with expiration
type CacheItem struct {
	Data      interface{} `json:"data"`
	ExpiresAt time.Time   `json:"expires_at"`
}

// IsExpired checks if the cache item has expired
func (c *CacheItem) IsExpired() bool {
	return time.Now().After(c.ExpiresAt)
}

// Cache interface defines caching operations
type Cache interface {
	Get(key string) (interface{}, bool)
	Set(key string, value interface{}, ttl time.Duration) error
	Delete(key string) error
	DeletePrefix(prefix string) error
	Clear() error
}

// InMemoryCache implements an in-memory cache with TTL support
type InMemoryCache struct {
	items map[string]*CacheItem
	mutex sync.RWMutex
	ttl   time.Duration
	stop  chan struct{}
	once  sync.Once
}

// NewInMemoryCache creates a new in-memory cache. Expired entries are swept
// every cleanupInterval until Close is called.
func NewInMemoryCache(defaultTTL, cleanupInterval time.Duration) *InMemoryCache {
	if cleanupInterval <= 0 {
		cleanupInterval = 5 * time.Minute
	}
	cache := &InMemoryCache{
		items: make(map[string]*CacheItem),
		ttl:   defaultTTL,
		stop:  make(chan struct{}),
	}

	go cache.startCleanup(cleanupInterval)

	return cache
}

// Get retrieves a value from cache
func (c *InMemoryCache) Get(key string) (interface{}, bool) {
	c.mutex.RLock()
	defer c.mutex.RUnlock()

	item, exists := c.items[key]
	if !exists || item.IsExpired() {
		return nil, false
	}

	return item.Data, true
}

// Set stores a value in cache
func (c *InMemoryCache) Set(key string, value interface{}, ttl time.Duration) error {
	if ttl == 0 {
		ttl = c.ttl
	}

	c.mutex.Lock()
	defer c.mutex.Unlock()

	c.items[key] = &CacheItem{
		Data:      value,
		ExpiresAt: time.Now().Add(ttl),
	}

	return nil
}

// Delete removes an item from cache
func (c *InMemoryCache) Delete(key string) error {
	c.mutex.Lock()
	defer c.mutex.Unlock()

	delete(c.items, key)
	return nil
}

// DeletePrefix removes every item whose key starts with prefix
func (c *InMemoryCache) DeletePrefix(prefix string) error {
	c.mutex.Lock()
	defer c.mutex.Unlock()

	for key := range c.items {
		if strings.HasPrefix(key, prefix) {
			delete(c.items, key)
		}
	}
	return nil
}

// Clear removes all items from cache
func (c *InMemoryCache) Clear() error {
	c.mutex.Lock()
	defer c.mutex.Unlock()

	c.items = make(map[string]*CacheItem)
	return nil
}

// Len returns the number of stored items, expired ones included
func (c *InMemoryCache) Len() int {
	c.mutex.RLock()
	defer c.mutex.RUnlock()
	return len(c.items)
}

// Close stops the cleanup goroutine
func (c *InMemoryCache) Close() {
	c.once.Do(func() { close(c.stop) })
}

// startCleanup periodically removes expired items
func (c *InMemoryCache) startCleanup(interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			c.cleanup()
		case <-c.stop:
			return
		}
	}
}

// cleanup removes expired items
func (c *InMemoryCache) cleanup() {
	c.mutex.Lock()
	defer c.mutex.Unlock()

	for key, item := range c.items {
		if item.IsExpired() {
			delete(c.items, key)
		}
	}
}

// TTLs configures how long each kind of entry is kept
type TTLs struct {
	// CompletedJob applies to monitors that reached a terminal snapshot
	CompletedJob time.Duration
	// FailedJob applies to monitors that failed or were stopped
	FailedJob time.Duration
	// ActiveImports applies to import pages with entries still in progress
	ActiveImports time.Duration
	// SettledImports applies to import pages where every entry is terminal
	SettledImports time.Duration
}

// CacheManager manages caching of job states and import pages
type CacheManager struct {
	cache  Cache
	logger *logrus.Logger
	ttls   TTLs
}

// NewCacheManager creates a new cache manager
func NewCacheManager(cache Cache, logger *logrus.Logger, ttls TTLs) *CacheManager {
	return &CacheManager{
		cache:  cache,
		logger: logger,
		ttls:   ttls,
	}
}

func jobKey(jobID string) string {
	return fmt.Sprintf("job:%s", jobID)
}

func importsKey(page types.PageRequest) string {
	return fmt.Sprintf("imports:%d:%d:%s", page.Page, page.Size, page.Sort)
}

func contactsKey(bulkID string, page types.PageRequest) string {
	return fmt.Sprintf("contacts:%s:%d:%d", bulkID, page.Page, page.Size)
}

// GetJobState retrieves the retained state of a finished monitor
func (cm *CacheManager) GetJobState(jobID string) (monitor.State, bool) {
	value, found := cm.cache.Get(jobKey(jobID))
	state, ok := value.(monitor.State)
	if !found || !ok {
		monitoring.RecordCacheMiss("job_state")
		cm.logger.WithField("job_id", jobID).Debug("Cache miss for job state")
		return monitor.State{}, false
	}

	monitoring.RecordCacheHit("job_state")
	cm.logger.WithFields(logrus.Fields{
		"job_id": jobID,
		"status": state.Status,
	}).Debug("Cache hit for job state")
	return state, true
}

// SetJobState retains a monitor state with a TTL chosen from its status
func (cm *CacheManager) SetJobState(state monitor.State) error {
	ttl := cm.jobStateTTL(state)
	if err := cm.cache.Set(jobKey(state.JobID), state, ttl); err != nil {
		cm.logger.WithFields(logrus.Fields{
			"job_id": state.JobID,
			"error":  err.Error(),
		}).Error("Failed to cache job state")
		return err
	}

	cm.logger.WithFields(logrus.Fields{
		"job_id":      state.JobID,
		"status":      state.Status,
		"ttl_minutes": ttl.Minutes(),
	}).Debug("Cached job state with adaptive TTL")
	return nil
}

// InvalidateJob drops the retained state of a job
func (cm *CacheManager) InvalidateJob(jobID string) error {
	if err := cm.cache.Delete(jobKey(jobID)); err != nil {
		cm.logger.WithFields(logrus.Fields{
			"job_id": jobID,
			"error":  err.Error(),
		}).Error("Failed to invalidate job state")
		return err
	}
	return nil
}

// jobStateTTL keeps completed jobs longer than failed or stopped ones
func (cm *CacheManager) jobStateTTL(state monitor.State) time.Duration {
	if state.Status == monitor.StatusCompleted {
		return cm.ttls.CompletedJob
	}
	return cm.ttls.FailedJob
}

// GetImportPage retrieves a cached import history page
func (cm *CacheManager) GetImportPage(page types.PageRequest) (*types.ImportHistoryPage, bool) {
	value, found := cm.cache.Get(importsKey(page))
	result, ok := value.(*types.ImportHistoryPage)
	if !found || !ok {
		monitoring.RecordCacheMiss("import_history")
		return nil, false
	}
	monitoring.RecordCacheHit("import_history")
	return result, true
}

// SetImportPage caches an import history page. Pages where an import is still
// running expire quickly so its status stays fresh.
func (cm *CacheManager) SetImportPage(page types.PageRequest, result *types.ImportHistoryPage) error {
	ttl := cm.importTTL(result)
	if err := cm.cache.Set(importsKey(page), result, ttl); err != nil {
		cm.logger.WithError(err).Error("Failed to cache import history page")
		return err
	}

	cm.logger.WithFields(logrus.Fields{
		"page":        page.Page,
		"items_count": len(result.Items),
		"ttl_seconds": ttl.Seconds(),
	}).Debug("Cached import history page with adaptive TTL")
	return nil
}

// GetContactsPage retrieves a cached page of bulk contacts
func (cm *CacheManager) GetContactsPage(bulkID string, page types.PageRequest) (*types.BulkContactPage, bool) {
	value, found := cm.cache.Get(contactsKey(bulkID, page))
	result, ok := value.(*types.BulkContactPage)
	if !found || !ok {
		monitoring.RecordCacheMiss("bulk_contacts")
		return nil, false
	}
	monitoring.RecordCacheHit("bulk_contacts")
	return result, true
}

// SetContactsPage caches a page of bulk contacts. The import may still be
// adding contacts, so the short TTL applies.
func (cm *CacheManager) SetContactsPage(bulkID string, page types.PageRequest, result *types.BulkContactPage) error {
	if err := cm.cache.Set(contactsKey(bulkID, page), result, cm.ttls.ActiveImports); err != nil {
		cm.logger.WithError(err).WithField("bulk_id", bulkID).Error("Failed to cache bulk contacts page")
		return err
	}
	return nil
}

// InvalidateImports drops every cached import history page
func (cm *CacheManager) InvalidateImports() error {
	if err := cm.cache.DeletePrefix("imports:"); err != nil {
		cm.logger.WithError(err).Error("Failed to invalidate import history cache")
		return err
	}
	cm.logger.Debug("Invalidated import history cache")
	return nil
}

// importTTL picks the TTL of an import page from the status of its entries
func (cm *CacheManager) importTTL(result *types.ImportHistoryPage) time.Duration {
	if result == nil || len(result.Items) == 0 {
		return cm.ttls.ActiveImports
	}
	for _, entry := range result.Items {
		if !entry.Status.IsTerminal() {
			return cm.ttls.ActiveImports
		}
	}
	return cm.ttls.SettledImports
}

// ClearAll clears all cached data
func (cm *CacheManager) ClearAll() error {
	err := cm.cache.Clear()

	if err != nil {
		cm.logger.WithError(err).Error("Failed to clear cache")
		return err
	}

	cm.logger.Info("Cache cleared successfully")
	return nil
}
