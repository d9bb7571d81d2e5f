// Package monitoring provides alerting capabilities for monitored bulk jobs
package monitoring

import (
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/Nexora-Open-Source/bulk-progress-monitor/progress"
	"github.com/Nexora-Open-Source/bulk-progress-monitor/types"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

// AlertType represents the kind of a user-facing alert
type AlertType string

const (
	AlertSuccess AlertType = "success"
	AlertWarning AlertType = "warning"
	AlertError   AlertType = "error"
	AlertInfo    AlertType = "info"
)

// Alert represents an alert raised for a monitored job
type Alert struct {
	ID        string    `json:"id"`
	JobID     string    `json:"job_id"`
	Type      AlertType `json:"type"`
	Message   string    `json:"message"`
	Timestamp time.Time `json:"timestamp"`
}

// Thresholds configures when the evaluator raises alerts
type Thresholds struct {
	LowThroughputRate float64       `yaml:"low_throughput_rate"`
	HighErrorRate     float64       `yaml:"high_error_rate"`
	StallWindow       time.Duration `yaml:"stall_window"`
	StallRate         float64       `yaml:"stall_rate"`
	DedupWindow       time.Duration `yaml:"dedup_window"`
	MaxVisible        int           `yaml:"max_visible"`
	// DisabledRules names rules that are switched off for every job
	DisabledRules []string `yaml:"disabled_rules"`
}

// DefaultThresholds returns the stock alert thresholds
func DefaultThresholds() Thresholds {
	return Thresholds{
		LowThroughputRate: 3,
		HighErrorRate:     25,
		StallWindow:       10 * time.Second,
		StallRate:         0.1,
		DedupWindow:       10 * time.Second,
		MaxVisible:        5,
	}
}

// StallSamples converts the stall window into a number of samples at the given
// polling interval. 10s at 500ms gives 20 samples.
func (t Thresholds) StallSamples(interval time.Duration) int {
	if interval <= 0 || t.StallWindow <= 0 {
		return 20
	}
	n := int(math.Ceil(float64(t.StallWindow) / float64(interval)))
	if n < 2 {
		n = 2
	}
	return n
}

// EvaluationInput is everything a rule may look at
type EvaluationInput struct {
	Latest   types.ProgressSnapshot
	Previous *types.ProgressSnapshot
	// History includes Latest as its last element
	History []types.ProgressSnapshot
	Metrics progress.Metrics
	Now     time.Time
}

// AlertRule defines a rule for generating alerts
type AlertRule struct {
	Name    string
	Type    AlertType
	Enabled bool
	Check   func(in EvaluationInput) (string, bool)
}

// Notifier interface for sending alert notifications
type Notifier interface {
	Send(alert Alert) error
	Name() string
}

// LogNotifier sends alerts to the log
type LogNotifier struct {
	logger *logrus.Logger
}

// NewLogNotifier creates a new log notifier
func NewLogNotifier(logger *logrus.Logger) *LogNotifier {
	return &LogNotifier{logger: logger}
}

func (n *LogNotifier) Name() string {
	return "log"
}

func (n *LogNotifier) Send(alert Alert) error {
	level := logrus.InfoLevel
	switch alert.Type {
	case AlertWarning:
		level = logrus.WarnLevel
	case AlertError:
		level = logrus.ErrorLevel
	}

	n.logger.WithFields(logrus.Fields{
		"alert_id":   alert.ID,
		"alert_type": alert.Type,
		"job_id":     alert.JobID,
	}).Log(level, "ALERT: "+alert.Message)

	return nil
}

// AlertBoard keeps the visible alerts of one job. Identical messages within the
// dedup window are suppressed and only the newest MaxVisible alerts are kept.
type AlertBoard struct {
	mu          sync.Mutex
	visible     []Alert
	lastSeen    map[string]time.Time
	dedupWindow time.Duration
	maxVisible  int
}

// NewAlertBoard creates an alert board
func NewAlertBoard(dedupWindow time.Duration, maxVisible int) *AlertBoard {
	if maxVisible <= 0 {
		maxVisible = 5
	}
	return &AlertBoard{
		lastSeen:    make(map[string]time.Time),
		dedupWindow: dedupWindow,
		maxVisible:  maxVisible,
	}
}

// Add records the alert unless an identical message was added within the dedup
// window. It reports whether the alert was accepted.
func (b *AlertBoard) Add(alert Alert) bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	if seen, ok := b.lastSeen[alert.Message]; ok && alert.Timestamp.Sub(seen) < b.dedupWindow {
		return false
	}
	b.lastSeen[alert.Message] = alert.Timestamp

	for msg, seen := range b.lastSeen {
		if alert.Timestamp.Sub(seen) >= b.dedupWindow {
			delete(b.lastSeen, msg)
		}
	}

	b.visible = append(b.visible, alert)
	if len(b.visible) > b.maxVisible {
		b.visible = append([]Alert(nil), b.visible[len(b.visible)-b.maxVisible:]...)
	}
	return true
}

// Visible returns the visible alerts, oldest first
func (b *AlertBoard) Visible() []Alert {
	b.mu.Lock()
	defer b.mu.Unlock()

	out := make([]Alert, len(b.visible))
	copy(out, b.visible)
	return out
}

// Dismiss removes a visible alert by id
func (b *AlertBoard) Dismiss(alertID string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	for i, a := range b.visible {
		if a.ID == alertID {
			b.visible = append(b.visible[:i], b.visible[i+1:]...)
			return
		}
	}
}

// Clear removes every visible alert and forgets dedup history
func (b *AlertBoard) Clear() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.visible = nil
	b.lastSeen = make(map[string]time.Time)
}

// Evaluator compares the latest snapshot against thresholds and raises alerts
type Evaluator struct {
	mutex     sync.RWMutex
	jobID     string
	rules     []AlertRule
	board     *AlertBoard
	notifiers []Notifier
	logger    *logrus.Logger
}

// NewEvaluator creates an evaluator for one job. interval is the polling
// cadence and scales the stall window into a sample count.
func NewEvaluator(jobID string, thresholds Thresholds, interval time.Duration, logger *logrus.Logger) *Evaluator {
	e := &Evaluator{
		jobID:     jobID,
		rules:     DefaultAlertRules(thresholds, interval),
		board:     NewAlertBoard(thresholds.DedupWindow, thresholds.MaxVisible),
		notifiers: []Notifier{NewLogNotifier(logger)},
		logger:    logger,
	}
	for _, name := range thresholds.DisabledRules {
		if !e.SetRuleEnabled(name, false) {
			logger.WithFields(logrus.Fields{
				"job_id": jobID,
				"rule":   name,
			}).Warn("Unknown alert rule cannot be disabled")
		}
	}
	return e
}

// RuleNames lists the names of the default alert rules
func RuleNames() []string {
	rules := DefaultAlertRules(DefaultThresholds(), time.Second)
	names := make([]string, len(rules))
	for i, rule := range rules {
		names[i] = rule.Name
	}
	return names
}

// DefaultAlertRules returns the progress alert rules
func DefaultAlertRules(t Thresholds, interval time.Duration) []AlertRule {
	stallSamples := t.StallSamples(interval)

	return []AlertRule{
		{
			Name:    "Low Throughput",
			Type:    AlertWarning,
			Enabled: true,
			Check: func(in EvaluationInput) (string, bool) {
				rate := in.Latest.CurrentRate
				if in.Latest.InProcess && rate > 0 && rate < t.LowThroughputRate {
					return fmt.Sprintf("Low throughput: sending below %.1f msg/s", t.LowThroughputRate), true
				}
				return "", false
			},
		},
		{
			Name:    "High Error Rate",
			Type:    AlertError,
			Enabled: true,
			Check: func(in EvaluationInput) (string, bool) {
				if in.Metrics.ErrorRate > t.HighErrorRate {
					return fmt.Sprintf("High error rate: more than %.0f%% of messages failed", t.HighErrorRate), true
				}
				return "", false
			},
		},
		{
			Name:    "Insertion Complete",
			Type:    AlertInfo,
			Enabled: true,
			Check: func(in EvaluationInput) (string, bool) {
				if in.Previous != nil && !in.Previous.InsertionComplete && in.Latest.InsertionComplete {
					return "Recipient insertion complete, sending has begun", true
				}
				return "", false
			},
		},
		{
			Name:    "Stalled Progress",
			Type:    AlertWarning,
			Enabled: true,
			Check: func(in EvaluationInput) (string, bool) {
				if !in.Latest.InProcess || in.Latest.CurrentRate >= t.StallRate {
					return "", false
				}
				if len(in.History) < stallSamples {
					return "", false
				}
				window := in.History[len(in.History)-stallSamples:]
				for _, s := range window {
					if s.Stats.Sent != in.Latest.Stats.Sent {
						return "", false
					}
				}
				return fmt.Sprintf("Progress stalled: no messages sent in the last %s", t.StallWindow), true
			},
		},
		{
			Name:    "Job Complete",
			Type:    AlertSuccess,
			Enabled: true,
			Check: func(in EvaluationInput) (string, bool) {
				if !in.Latest.IsComplete() {
					return "", false
				}
				final := in.Latest.Normalized()
				return fmt.Sprintf("Bulk send completed: %d messages sent (%.1f%% success rate)",
					final.Stats.Sent, progress.SuccessRate(final.Stats)), true
			},
		},
	}
}

// Evaluate runs every enabled rule and returns the alerts that survived
// deduplication. Accepted alerts are sent to all notifiers.
func (e *Evaluator) Evaluate(in EvaluationInput) []Alert {
	if in.Latest.HasError() {
		return nil
	}
	if in.Now.IsZero() {
		in.Now = time.Now()
	}

	e.mutex.RLock()
	rules := make([]AlertRule, len(e.rules))
	copy(rules, e.rules)
	e.mutex.RUnlock()

	var raised []Alert
	for _, rule := range rules {
		if !rule.Enabled || rule.Check == nil {
			continue
		}
		if message, ok := rule.Check(in); ok {
			if alert, accepted := e.raise(rule.Type, message, in.Now); accepted {
				raised = append(raised, alert)
			}
		}
	}
	return raised
}

// Raise adds an alert that did not come from a rule, such as a poll failure
func (e *Evaluator) Raise(alertType AlertType, message string, now time.Time) (Alert, bool) {
	return e.raise(alertType, message, now)
}

func (e *Evaluator) raise(alertType AlertType, message string, now time.Time) (Alert, bool) {
	alert := Alert{
		ID:        uuid.NewString(),
		JobID:     e.jobID,
		Type:      alertType,
		Message:   message,
		Timestamp: now,
	}
	if !e.board.Add(alert) {
		return Alert{}, false
	}

	RecordAlert(alertType)
	e.sendNotifications(alert)
	return alert, true
}

// sendNotifications sends the alert to all notifiers
func (e *Evaluator) sendNotifications(alert Alert) {
	e.mutex.RLock()
	notifiers := make([]Notifier, len(e.notifiers))
	copy(notifiers, e.notifiers)
	e.mutex.RUnlock()

	for _, notifier := range notifiers {
		if err := notifier.Send(alert); err != nil {
			e.logger.WithError(err).WithField("notifier", notifier.Name()).Error("Failed to send alert notification")
		}
	}
}

// Alerts returns the currently visible alerts
func (e *Evaluator) Alerts() []Alert {
	return e.board.Visible()
}

// Board exposes the alert board, e.g. for dismissing alerts
func (e *Evaluator) Board() *AlertBoard {
	return e.board
}

// AddNotifier adds a new notifier
func (e *Evaluator) AddNotifier(notifier Notifier) {
	e.mutex.Lock()
	defer e.mutex.Unlock()
	e.notifiers = append(e.notifiers, notifier)
}

// SetRuleEnabled toggles a rule by name
func (e *Evaluator) SetRuleEnabled(ruleName string, enabled bool) bool {
	e.mutex.Lock()
	defer e.mutex.Unlock()

	for i, rule := range e.rules {
		if rule.Name == ruleName {
			e.rules[i].Enabled = enabled
			return true
		}
	}
	return false
}
