package monitor

import (
	"context"
	"errors"
	"sort"
	"sync"

	"github.com/Nexora-Open-Source/bulk-progress-monitor/poller"
	"github.com/sirupsen/logrus"
)

// ErrNotWatched is returned for jobs with neither a live monitor nor a retained state
var ErrNotWatched = errors.New("job is not being monitored")

// StateCache retains the final state of finished monitors
type StateCache interface {
	GetJobState(jobID string) (State, bool)
	SetJobState(state State) error
	InvalidateJob(jobID string) error
}

// Registry runs one monitor per job id for the dashboard
type Registry struct {
	mu       sync.RWMutex
	monitors map[string]*Monitor
	fetcher  poller.Fetcher
	opts     Options
	cache    StateCache
	logger   *logrus.Logger
	ctx      context.Context
	cancel   context.CancelFunc
}

// NewRegistry creates a registry. opts is the template for every monitor;
// its callbacks are chained after the registry's own bookkeeping.
func NewRegistry(fetcher poller.Fetcher, opts Options, cache StateCache, logger *logrus.Logger) *Registry {
	if logger == nil {
		logger = logrus.New()
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Registry{
		monitors: make(map[string]*Monitor),
		fetcher:  fetcher,
		opts:     opts,
		cache:    cache,
		logger:   logger,
		ctx:      ctx,
		cancel:   cancel,
	}
}

// Watch starts monitoring jobID. It returns false when a live monitor
// already exists for the job.
func (r *Registry) Watch(jobID string) (*Monitor, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if m, exists := r.monitors[jobID]; exists {
		return m, false
	}

	opts := r.opts
	if opts.Logger == nil {
		opts.Logger = r.logger
	}
	m := New(r.fetcher, jobID, opts)
	r.monitors[jobID] = m

	if r.cache != nil {
		if err := r.cache.InvalidateJob(jobID); err != nil {
			r.logger.WithError(err).WithField("job_id", jobID).Warn("Failed to drop retained job state")
		}
	}

	m.Start(r.ctx)
	go r.retire(m)

	return m, true
}

// retire waits for a monitor to end, keeps its final state and forgets it
func (r *Registry) retire(m *Monitor) {
	<-m.Done()
	state := m.State()

	if r.cache != nil {
		if err := r.cache.SetJobState(state); err != nil {
			r.logger.WithError(err).WithField("job_id", state.JobID).Warn("Failed to retain final job state")
		}
	}

	r.mu.Lock()
	if current, ok := r.monitors[state.JobID]; ok && current == m {
		delete(r.monitors, state.JobID)
	}
	r.mu.Unlock()
}

// Stop ends the live monitor of jobID and reports whether one existed
func (r *Registry) Stop(jobID string) bool {
	r.mu.RLock()
	m, exists := r.monitors[jobID]
	r.mu.RUnlock()
	if !exists {
		return false
	}
	m.Close()
	return true
}

// State returns the live state of jobID, or its retained final state
func (r *Registry) State(jobID string) (State, error) {
	r.mu.RLock()
	m, exists := r.monitors[jobID]
	r.mu.RUnlock()
	if exists {
		return m.State(), nil
	}

	if r.cache != nil {
		if state, ok := r.cache.GetJobState(jobID); ok {
			return state, nil
		}
	}
	return State{}, ErrNotWatched
}

// Monitor returns the live monitor of jobID
func (r *Registry) Monitor(jobID string) (*Monitor, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	m, ok := r.monitors[jobID]
	return m, ok
}

// Active returns the states of every live monitor ordered by job id
func (r *Registry) Active() []State {
	r.mu.RLock()
	monitors := make([]*Monitor, 0, len(r.monitors))
	for _, m := range r.monitors {
		monitors = append(monitors, m)
	}
	r.mu.RUnlock()

	states := make([]State, 0, len(monitors))
	for _, m := range monitors {
		states = append(states, m.State())
	}
	sort.Slice(states, func(i, j int) bool {
		return states[i].JobID < states[j].JobID
	})
	return states
}

// Len returns the number of live monitors
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.monitors)
}

// StopAll closes every live monitor
func (r *Registry) StopAll() {
	r.cancel()

	r.mu.RLock()
	monitors := make([]*Monitor, 0, len(r.monitors))
	for _, m := range r.monitors {
		monitors = append(monitors, m)
	}
	r.mu.RUnlock()

	for _, m := range monitors {
		m.Close()
		<-m.Done()
	}
	r.logger.WithField("count", len(monitors)).Info("Stopped all monitors")
}
