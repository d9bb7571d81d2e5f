package poller

import (
	"context"
	"sync"
	"time"

	"github.com/Nexora-Open-Source/bulk-progress-monitor/types"
	"github.com/sirupsen/logrus"
)

// Group polls several jobs concurrently, one independent Poller per job id
type Group struct {
	mu       sync.RWMutex
	pollers  map[string]*groupEntry
	fetcher  Fetcher
	interval time.Duration
	logger   *logrus.Logger
	ctx      context.Context
	cancel   context.CancelFunc
}

type groupEntry struct {
	poller      *Poller
	unsubscribe func()
	startedAt   time.Time
}

// NewGroup creates a group whose pollers share fetcher and interval
func NewGroup(parent context.Context, fetcher Fetcher, interval time.Duration, logger *logrus.Logger) *Group {
	ctx, cancel := context.WithCancel(parent)
	return &Group{
		pollers:  make(map[string]*groupEntry),
		fetcher:  fetcher,
		interval: interval,
		logger:   logger,
		ctx:      ctx,
		cancel:   cancel,
	}
}

// Watch starts polling jobID and delivers its snapshots to listener. Watching
// a job that is already polled returns false and leaves the existing poller alone.
func (g *Group) Watch(jobID string, listener Listener) bool {
	g.mu.Lock()
	defer g.mu.Unlock()

	if _, exists := g.pollers[jobID]; exists {
		return false
	}

	p := New(g.fetcher, jobID, g.interval, g.logger)
	entry := &groupEntry{poller: p, startedAt: time.Now()}
	if listener != nil {
		entry.unsubscribe = p.Subscribe(listener)
	}
	g.pollers[jobID] = entry
	p.Start(g.ctx)

	g.logger.WithFields(logrus.Fields{
		"job_id":  jobID,
		"watched": len(g.pollers),
	}).Info("Started watching job")
	return true
}

// Unwatch stops polling jobID. It does not wait for the poller to exit, so it
// may be called from a listener.
func (g *Group) Unwatch(jobID string) {
	g.mu.Lock()
	entry, exists := g.pollers[jobID]
	if exists {
		delete(g.pollers, jobID)
	}
	g.mu.Unlock()

	if !exists {
		return
	}
	if entry.unsubscribe != nil {
		entry.unsubscribe()
	}
	entry.poller.Cancel()

	g.logger.WithFields(logrus.Fields{
		"job_id":   jobID,
		"duration": time.Since(entry.startedAt).String(),
	}).Info("Stopped watching job")
}

// Latest returns the last snapshot emitted for jobID
func (g *Group) Latest(jobID string) (types.ProgressSnapshot, bool) {
	g.mu.RLock()
	entry, exists := g.pollers[jobID]
	g.mu.RUnlock()
	if !exists {
		return types.ProgressSnapshot{}, false
	}
	return entry.poller.Latest()
}

// Active returns the ids of the jobs being polled
func (g *Group) Active() []string {
	g.mu.RLock()
	defer g.mu.RUnlock()

	ids := make([]string, 0, len(g.pollers))
	for id := range g.pollers {
		ids = append(ids, id)
	}
	return ids
}

// Len returns the number of jobs being polled
func (g *Group) Len() int {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return len(g.pollers)
}

// StopAll stops every poller and waits for them to exit
func (g *Group) StopAll() {
	g.mu.Lock()
	entries := make([]*groupEntry, 0, len(g.pollers))
	for id, entry := range g.pollers {
		entries = append(entries, entry)
		delete(g.pollers, id)
	}
	g.mu.Unlock()

	g.cancel()
	for _, entry := range entries {
		if entry.unsubscribe != nil {
			entry.unsubscribe()
		}
		entry.poller.Stop()
	}
}
