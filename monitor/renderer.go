package monitor

import (
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/Nexora-Open-Source/bulk-progress-monitor/monitoring"
	"github.com/schollz/progressbar/v3"
	"github.com/sirupsen/logrus"
)

// Renderer displays monitor state. Render is called after every accepted
// snapshot and Finish once when the monitor ends.
type Renderer interface {
	Render(state State)
	Finish(state State)
}

// NopRenderer discards everything, used by the dashboard where state is pulled
type NopRenderer struct{}

func (NopRenderer) Render(State) {}
func (NopRenderer) Finish(State) {}

// TerminalRenderer draws a progress bar and prints alerts as they appear
type TerminalRenderer struct {
	mu    sync.Mutex
	out   io.Writer
	bar   *progressbar.ProgressBar
	size  int
	shown map[string]bool
}

// NewTerminalRenderer creates a renderer writing to out, or stderr when out is nil
func NewTerminalRenderer(out io.Writer) *TerminalRenderer {
	if out == nil {
		out = os.Stderr
	}
	return &TerminalRenderer{
		out:   out,
		shown: make(map[string]bool),
	}
}

func (r *TerminalRenderer) newBar(size int, jobID string) *progressbar.ProgressBar {
	return progressbar.NewOptions(size,
		progressbar.OptionSetWriter(r.out),
		progressbar.OptionSetDescription("Bulk "+jobID),
		progressbar.OptionShowCount(),
		progressbar.OptionSetWidth(40),
		progressbar.OptionThrottle(100*time.Millisecond),
		progressbar.OptionSetPredictTime(false),
		progressbar.OptionOnCompletion(func() {
			fmt.Fprintln(r.out)
		}),
	)
}

// Render updates the bar and prints alerts not shown before
func (r *TerminalRenderer) Render(state State) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.render(state)
}

func (r *TerminalRenderer) render(state State) {
	if state.Snapshot == nil {
		return
	}
	snap := state.Snapshot.Normalized()

	size := snap.TotalRecipients
	if size <= 0 {
		size = 1
	}
	if r.bar == nil {
		r.bar = r.newBar(size, state.JobID)
		r.size = size
	} else if size != r.size {
		r.bar.ChangeMax(size)
		r.size = size
	}

	phase := "inserting"
	if snap.InsertionComplete {
		phase = "sending"
	}
	r.bar.Describe(fmt.Sprintf("Bulk %s [%s] %.1f msg/s, %d failed",
		state.JobID, phase, state.Metrics.CurrentRate, snap.Stats.Failed))
	_ = r.bar.Set(snap.Stats.Processed())

	for _, alert := range state.Alerts {
		if r.shown[alert.ID] {
			continue
		}
		r.shown[alert.ID] = true
		fmt.Fprintf(r.out, "\n%s %s\n", alertPrefix(alert.Type), alert.Message)
	}
}

// Finish completes the bar and prints a one-line summary
func (r *TerminalRenderer) Finish(state State) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.render(state)
	if r.bar != nil && state.Status == StatusCompleted {
		_ = r.bar.Finish()
	}

	switch state.Status {
	case StatusCompleted:
		fmt.Fprintf(r.out, "Job %s completed\n", state.JobID)
	case StatusFailed:
		fmt.Fprintf(r.out, "\nJob %s monitoring failed: %s\n", state.JobID, state.LastError)
	default:
		fmt.Fprintf(r.out, "\nStopped monitoring job %s\n", state.JobID)
	}
}

func alertPrefix(t monitoring.AlertType) string {
	return "[" + strings.ToUpper(string(t)) + "]"
}

// LogRenderer writes every update as a structured log line
type LogRenderer struct {
	logger *logrus.Logger
}

// NewLogRenderer creates a log renderer
func NewLogRenderer(logger *logrus.Logger) *LogRenderer {
	return &LogRenderer{logger: logger}
}

func (r *LogRenderer) fields(state State) logrus.Fields {
	fields := logrus.Fields{
		"job_id":       state.JobID,
		"status":       state.Status,
		"percent":      fmt.Sprintf("%.1f", state.Percent),
		"current_rate": state.Metrics.CurrentRate,
		"average_rate": state.Metrics.AverageRate,
		"error_rate":   state.Metrics.ErrorRate,
		"alerts":       len(state.Alerts),
	}
	if state.Snapshot != nil {
		fields["sent"] = state.Snapshot.Stats.Sent
		fields["failed"] = state.Snapshot.Stats.Failed
		fields["inserted"] = state.Snapshot.Stats.Inserted
		fields["total"] = state.Snapshot.TotalRecipients
	}
	if state.Metrics.EstimatedCompletion != nil {
		fields["eta"] = state.Metrics.EstimatedCompletion.Format(time.RFC3339)
	}
	return fields
}

func (r *LogRenderer) Render(state State) {
	r.logger.WithFields(r.fields(state)).Info("Bulk progress")
}

func (r *LogRenderer) Finish(state State) {
	entry := r.logger.WithFields(r.fields(state))
	if state.Status == StatusFailed {
		entry.WithField("error", state.LastError).Error("Bulk monitoring failed")
		return
	}
	entry.Info("Bulk monitoring finished")
}
