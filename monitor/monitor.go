/*
Package monitor ties a progress poller to the aggregator, the alert evaluator
and a renderer for a single bulk job.

A Monitor owns its poller subscriptions. Every polled snapshot, repeats
included, is pushed into a bounded history, metrics and alerts are recomputed
and the result is handed to the renderer. A terminal snapshot or a poll error stops polling and ends
the monitor; Close ends it unconditionally.
*/
package monitor

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/Nexora-Open-Source/bulk-progress-monitor/monitoring"
	"github.com/Nexora-Open-Source/bulk-progress-monitor/poller"
	"github.com/Nexora-Open-Source/bulk-progress-monitor/progress"
	"github.com/Nexora-Open-Source/bulk-progress-monitor/types"
	"github.com/sirupsen/logrus"
)

// Status is the lifecycle state of a monitor
type Status string

const (
	StatusPending   Status = "pending"
	StatusRunning   Status = "running"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
	StatusStopped   Status = "stopped"
)

// IsFinal reports whether the monitor has stopped for good
func (s Status) IsFinal() bool {
	return s == StatusCompleted || s == StatusFailed || s == StatusStopped
}

// State is a point-in-time copy of what a monitor shows
type State struct {
	JobID     string                  `json:"job_id"`
	Status    Status                  `json:"status"`
	Snapshot  *types.ProgressSnapshot `json:"snapshot,omitempty"`
	Metrics   progress.Metrics        `json:"metrics"`
	Alerts    []monitoring.Alert      `json:"alerts"`
	Percent   float64                 `json:"percent"`
	LastError string                  `json:"last_error,omitempty"`
	StartedAt time.Time               `json:"started_at"`
	UpdatedAt time.Time               `json:"updated_at"`
}

// Options configures a Monitor. Zero values fall back to defaults.
type Options struct {
	Interval      time.Duration
	HistorySize   int
	ReferenceRate float64
	Thresholds    *monitoring.Thresholds
	Renderer      Renderer
	Notifiers     []monitoring.Notifier
	Logger        *logrus.Logger

	// OnComplete is called once with the terminal snapshot
	OnComplete func(final types.ProgressSnapshot)
	// OnError is called once when a poll fails
	OnError func(jobID string, err error)
}

// DefaultInterval is the polling cadence used when none is configured
const DefaultInterval = time.Second

// Monitor watches one bulk job until it completes, fails or is closed
type Monitor struct {
	jobID      string
	poller     *poller.Poller
	history    *progress.History
	aggregator *progress.Aggregator
	evaluator  *monitoring.Evaluator
	renderer   Renderer
	logger     *logrus.Logger
	onComplete func(types.ProgressSnapshot)
	onError    func(string, error)

	// renderMu orders Render calls before the final Finish
	renderMu sync.Mutex

	mu          sync.RWMutex
	state       State
	previous    *types.ProgressSnapshot
	unsubscribe func()
	finished    bool

	done chan struct{}
}

// New creates a monitor for jobID. Polling begins with Start.
func New(fetcher poller.Fetcher, jobID string, opts Options) *Monitor {
	if opts.Interval <= 0 {
		opts.Interval = DefaultInterval
	}
	if opts.HistorySize <= 0 {
		opts.HistorySize = progress.DefaultHistorySize
	}
	thresholds := monitoring.DefaultThresholds()
	if opts.Thresholds != nil {
		thresholds = *opts.Thresholds
	}
	// the stall rule needs a full window of samples
	if n := thresholds.StallSamples(opts.Interval); opts.HistorySize < n {
		opts.HistorySize = n
	}
	if opts.Renderer == nil {
		opts.Renderer = NopRenderer{}
	}
	if opts.Logger == nil {
		opts.Logger = logrus.New()
	}

	evaluator := monitoring.NewEvaluator(jobID, thresholds, opts.Interval, opts.Logger)
	for _, n := range opts.Notifiers {
		evaluator.AddNotifier(n)
	}

	m := &Monitor{
		jobID:      jobID,
		poller:     poller.New(fetcher, jobID, opts.Interval, opts.Logger),
		history:    progress.NewHistory(opts.HistorySize),
		aggregator: progress.NewAggregator(opts.ReferenceRate),
		evaluator:  evaluator,
		renderer:   opts.Renderer,
		logger:     opts.Logger,
		onComplete: opts.OnComplete,
		onError:    opts.OnError,
		state: State{
			JobID:  jobID,
			Status: StatusPending,
		},
		done: make(chan struct{}),
	}
	unsubscribe := m.poller.Subscribe(m.handle)
	unsubscribeUnchanged := m.poller.SubscribeUnchanged(m.handle)
	m.unsubscribe = func() {
		unsubscribe()
		unsubscribeUnchanged()
	}
	return m
}

// JobID returns the monitored job
func (m *Monitor) JobID() string {
	return m.jobID
}

// Start begins polling. The monitor ends when ctx is cancelled.
func (m *Monitor) Start(ctx context.Context) {
	m.mu.Lock()
	if m.state.Status != StatusPending {
		m.mu.Unlock()
		return
	}
	now := time.Now()
	m.state.Status = StatusRunning
	m.state.StartedAt = now
	m.state.UpdatedAt = now
	m.mu.Unlock()

	monitoring.AddActiveMonitors(1)
	m.logger.WithField("job_id", m.jobID).Info("Started monitoring bulk job")

	m.poller.Start(ctx)
	go func() {
		select {
		case <-m.poller.Done():
			// parent context cancelled before the job finished
			m.finish(StatusStopped, nil)
		case <-m.done:
		}
	}()
}

// Close stops polling unconditionally. It is idempotent and safe to call
// from OnComplete or OnError.
func (m *Monitor) Close() {
	m.finish(StatusStopped, nil)
}

// Done is closed once the monitor has ended
func (m *Monitor) Done() <-chan struct{} {
	return m.done
}

// State returns a copy of the current state
func (m *Monitor) State() State {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.copyStateLocked()
}

// DismissAlert removes a visible alert
func (m *Monitor) DismissAlert(alertID string) {
	m.evaluator.Board().Dismiss(alertID)

	m.mu.Lock()
	m.state.Alerts = m.evaluator.Alerts()
	m.mu.Unlock()
}

func (m *Monitor) copyStateLocked() State {
	s := m.state
	if m.state.Snapshot != nil {
		snap := *m.state.Snapshot
		s.Snapshot = &snap
	}
	s.Alerts = append([]monitoring.Alert(nil), m.state.Alerts...)
	s.Metrics.ThroughputHistory = append([]float64(nil), m.state.Metrics.ThroughputHistory...)
	s.Metrics.TimeLabels = append([]string(nil), m.state.Metrics.TimeLabels...)
	return s
}

// handle runs on the poller goroutine for every polled snapshot. Alert
// notifiers may close the monitor while it runs, so state is only written
// while the monitor is still open.
func (m *Monitor) handle(snapshot types.ProgressSnapshot) {
	m.mu.RLock()
	finished := m.finished
	m.mu.RUnlock()
	if finished {
		return
	}

	now := snapshot.ReceivedAt
	if now.IsZero() {
		now = time.Now()
	}

	if snapshot.HasError() {
		m.evaluator.Raise(monitoring.AlertError, "Failed to fetch progress: "+snapshot.Error, now)

		m.mu.Lock()
		if m.finished {
			m.mu.Unlock()
			return
		}
		m.state.LastError = snapshot.Error
		m.state.Alerts = m.evaluator.Alerts()
		m.state.UpdatedAt = now
		m.mu.Unlock()

		m.finish(StatusFailed, errors.New(snapshot.Error))
		return
	}

	m.history.Push(snapshot)
	history := m.history.Samples()
	metrics := m.aggregator.Compute(snapshot, history, now)

	m.mu.RLock()
	previous := m.previous
	m.mu.RUnlock()

	m.evaluator.Evaluate(monitoring.EvaluationInput{
		Latest:   snapshot,
		Previous: previous,
		History:  history,
		Metrics:  metrics,
		Now:      now,
	})

	snap := snapshot
	m.renderMu.Lock()
	m.mu.Lock()
	if m.finished {
		m.mu.Unlock()
		m.renderMu.Unlock()
		return
	}
	m.previous = &snap
	m.state.Snapshot = &snap
	m.state.Metrics = metrics
	m.state.Alerts = m.evaluator.Alerts()
	m.state.Percent = progress.PercentComplete(snapshot)
	m.state.LastError = ""
	m.state.UpdatedAt = now
	state := m.copyStateLocked()
	m.mu.Unlock()

	monitoring.SetJobThroughput(m.jobID, metrics.CurrentRate)
	m.renderer.Render(state)
	m.renderMu.Unlock()

	if poller.IsComplete(snapshot) {
		m.finish(StatusCompleted, nil)
	}
}

// finish ends the monitor exactly once, firing the matching callback before
// Done is closed. Calls after the first are no-ops, including reentrant ones
// from the callbacks.
func (m *Monitor) finish(status Status, err error) {
	m.mu.Lock()
	if m.finished {
		m.mu.Unlock()
		return
	}
	m.finished = true
	started := m.state.Status != StatusPending
	m.state.Status = status
	m.state.UpdatedAt = time.Now()
	state := m.copyStateLocked()
	m.mu.Unlock()

	m.poller.Cancel()
	m.unsubscribe()

	if started {
		monitoring.AddActiveMonitors(-1)
	}
	monitoring.RecordMonitorFinished(string(status))
	monitoring.ClearJobThroughput(m.jobID)

	entry := m.logger.WithFields(logrus.Fields{
		"job_id": m.jobID,
		"status": status,
	})
	if state.Snapshot != nil {
		entry = entry.WithFields(logrus.Fields{
			"sent":   state.Snapshot.Stats.Sent,
			"failed": state.Snapshot.Stats.Failed,
			"total":  state.Snapshot.TotalRecipients,
		})
	}
	if err != nil {
		entry.WithError(err).Error("Monitoring ended with an error")
	} else {
		entry.Info("Monitoring ended")
	}

	m.renderMu.Lock()
	m.renderer.Finish(state)
	m.renderMu.Unlock()

	switch {
	case status == StatusCompleted && m.onComplete != nil && state.Snapshot != nil:
		m.onComplete(*state.Snapshot)
	case status == StatusFailed && m.onError != nil:
		m.onError(m.jobID, err)
	}

	close(m.done)
}
