/*
Package poller repeatedly fetches the progress of bulk jobs.

A Poller owns a single goroutine per job. It issues one request, waits for the
response (or error), emits the result to its listeners, sleeps for the
interval and only then issues the next request, so there is never more than
one request in flight for a job.

A snapshot that repeats the previous one is not emitted to Subscribe
listeners. SubscribeUnchanged listeners receive those repeats instead, so a
frozen job still advances time for whoever tracks it.
*/
package poller

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/Nexora-Open-Source/bulk-progress-monitor/monitoring"
	"github.com/Nexora-Open-Source/bulk-progress-monitor/types"
	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel/trace"
)

// Fetcher retrieves the progress of a bulk job
type Fetcher interface {
	GetBulkProgress(ctx context.Context, jobID string) (*types.ProgressSnapshot, error)
}

// Listener receives emitted snapshots. Listeners run on the poller goroutine
// and must not block for long.
type Listener func(types.ProgressSnapshot)

// IsComplete reports whether a snapshot is terminal
func IsComplete(s types.ProgressSnapshot) bool {
	return s.IsComplete()
}

// Poller polls the progress of a single bulk job
type Poller struct {
	fetcher  Fetcher
	jobID    string
	interval time.Duration
	logger   *logrus.Logger

	mu        sync.RWMutex
	listeners map[int]Listener
	unchanged map[int]Listener
	nextID    int
	last      *types.ProgressSnapshot

	cancel  context.CancelFunc
	done    chan struct{}
	started bool
}

// New creates a poller for jobID fetching every interval
func New(fetcher Fetcher, jobID string, interval time.Duration, logger *logrus.Logger) *Poller {
	if interval <= 0 {
		interval = time.Second
	}
	if logger == nil {
		logger = logrus.New()
	}
	return &Poller{
		fetcher:   fetcher,
		jobID:     jobID,
		interval:  interval,
		logger:    logger,
		listeners: make(map[int]Listener),
		unchanged: make(map[int]Listener),
		done:      make(chan struct{}),
	}
}

// JobID returns the polled job
func (p *Poller) JobID() string {
	return p.jobID
}

// Interval returns the polling interval
func (p *Poller) Interval() time.Duration {
	return p.interval
}

// Subscribe registers a listener and returns a function removing it
func (p *Poller) Subscribe(listener Listener) func() {
	return p.subscribe(p.listeners, listener)
}

// SubscribeUnchanged registers a listener for the snapshots that were
// suppressed because they repeat the last emitted one
func (p *Poller) SubscribeUnchanged(listener Listener) func() {
	return p.subscribe(p.unchanged, listener)
}

func (p *Poller) subscribe(set map[int]Listener, listener Listener) func() {
	p.mu.Lock()
	defer p.mu.Unlock()

	id := p.nextID
	p.nextID++
	set[id] = listener

	return func() {
		p.mu.Lock()
		defer p.mu.Unlock()
		delete(set, id)
	}
}

// Latest returns the last emitted snapshot
func (p *Poller) Latest() (types.ProgressSnapshot, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.last == nil {
		return types.ProgressSnapshot{}, false
	}
	return *p.last, true
}

// Start launches the polling goroutine. Calling Start more than once has no effect.
func (p *Poller) Start(parent context.Context) {
	p.mu.Lock()
	if p.started {
		p.mu.Unlock()
		return
	}
	p.started = true
	ctx, cancel := context.WithCancel(parent)
	p.cancel = cancel
	p.mu.Unlock()

	monitoring.AddActivePollers(1)
	go p.loop(ctx)
}

// Cancel stops polling without waiting. It is safe to call from a listener.
func (p *Poller) Cancel() {
	p.mu.RLock()
	cancel := p.cancel
	p.mu.RUnlock()
	if cancel != nil {
		cancel()
	}
}

// Stop cancels polling and waits for the goroutine to exit. It must not be
// called from a listener; use Cancel there.
func (p *Poller) Stop() {
	p.Cancel()

	p.mu.RLock()
	started := p.started
	p.mu.RUnlock()
	if started {
		<-p.done
	}
}

// Done is closed once the polling goroutine has exited
func (p *Poller) Done() <-chan struct{} {
	return p.done
}

func (p *Poller) loop(ctx context.Context) {
	defer func() {
		monitoring.AddActivePollers(-1)
		close(p.done)
	}()

	p.logger.WithFields(logrus.Fields{
		"job_id":   p.jobID,
		"interval": p.interval.String(),
	}).Debug("Progress poller started")

	timer := time.NewTimer(0)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			p.logger.WithField("job_id", p.jobID).Debug("Progress poller stopped")
			return
		case <-timer.C:
		}
		if ctx.Err() != nil {
			return
		}

		if !p.tick(ctx) {
			continue
		}
		timer.Reset(p.interval)
	}
}

// tick polls once and emits the result. It returns false when the response
// arrived after cancellation and was dropped.
func (p *Poller) tick(ctx context.Context) bool {
	ctx, span := monitoring.CreateSpan(ctx, "poller.poll")
	defer span.End()
	monitoring.SetSpanAttributes(span, map[string]interface{}{"job_id": p.jobID})

	snapshot := p.poll(ctx, span)
	if ctx.Err() != nil {
		return false
	}
	if !p.emit(snapshot) {
		monitoring.AddSpanEvent(span, "progress.unchanged", map[string]interface{}{
			"sent":       snapshot.Stats.Sent,
			"in_process": snapshot.InProcess,
		})
	}
	return true
}

// poll performs one fetch, converting failures into an error snapshot
func (p *Poller) poll(ctx context.Context, span trace.Span) types.ProgressSnapshot {
	start := time.Now()
	snapshot, err := p.fetcher.GetBulkProgress(ctx, p.jobID)
	if err == nil && snapshot == nil {
		err = fmt.Errorf("empty progress response for job %s", p.jobID)
	}
	if err != nil {
		monitoring.RecordPoll("error", time.Since(start).Seconds())
		monitoring.SetSpanError(span, err)
		if ctx.Err() == nil {
			p.logger.WithFields(logrus.Fields{
				"job_id": p.jobID,
				"error":  err.Error(),
			}).Warn("Progress poll failed")
		}
		return types.ErrorSnapshot(p.jobID, err)
	}

	monitoring.RecordPoll("success", time.Since(start).Seconds())
	if snapshot.JobID == "" {
		snapshot.JobID = p.jobID
	}
	if snapshot.ReceivedAt.IsZero() {
		snapshot.ReceivedAt = time.Now()
	}
	return *snapshot
}

// emit forwards the snapshot unless it repeats the previous one on the
// tracked fields. Repeats go to the unchanged listeners and emit returns false.
func (p *Poller) emit(snapshot types.ProgressSnapshot) bool {
	p.mu.Lock()
	changed := snapshot.HasError() || p.last == nil || p.last.HasError() || !p.last.SameProgress(snapshot)
	var listeners []Listener
	if changed {
		s := snapshot
		p.last = &s
		listeners = sortedListeners(p.listeners)
	} else {
		listeners = sortedListeners(p.unchanged)
	}
	p.mu.Unlock()

	if !changed {
		monitoring.RecordPollSuppressed()
	}
	for _, l := range listeners {
		l(snapshot)
	}
	return changed
}

func sortedListeners(set map[int]Listener) []Listener {
	ids := make([]int, 0, len(set))
	for id := range set {
		ids = append(ids, id)
	}
	sort.Ints(ids)
	listeners := make([]Listener, 0, len(ids))
	for _, id := range ids {
		listeners = append(listeners, set[id])
	}
	return listeners
}
