package progress

import (
	"time"

	"github.com/Nexora-Open-Source/bulk-progress-monitor/types"
)

// DefaultReferenceRate is the target throughput (msg/s) efficiency is normalized against
const DefaultReferenceRate = 10.0

// timeLabelFormat is used for the x axis of throughput charts
const timeLabelFormat = "15:04:05"

// Metrics holds values derived from the current snapshot and its history
type Metrics struct {
	CurrentRate         float64    `json:"current_rate"`
	AverageRate         float64    `json:"average_rate"`
	PeakRate            float64    `json:"peak_rate"`
	Efficiency          float64    `json:"efficiency"`
	EstimatedCompletion *time.Time `json:"estimated_completion,omitempty"`
	ErrorRate           float64    `json:"error_rate"`
	ThroughputHistory   []float64  `json:"throughput_history"`
	TimeLabels          []string   `json:"time_labels"`
}

// Aggregator computes Metrics. It holds no state besides its configuration.
type Aggregator struct {
	ReferenceRate float64
}

// NewAggregator creates an aggregator normalizing efficiency against referenceRate
func NewAggregator(referenceRate float64) *Aggregator {
	if referenceRate <= 0 {
		referenceRate = DefaultReferenceRate
	}
	return &Aggregator{ReferenceRate: referenceRate}
}

// Compute derives metrics for current given the rolling history (oldest first).
// Snapshots violating the count invariants are clamped before use.
func (a *Aggregator) Compute(current types.ProgressSnapshot, history []types.ProgressSnapshot, now time.Time) Metrics {
	cur := current.Normalized()

	m := Metrics{
		CurrentRate:       cur.CurrentRate,
		ThroughputHistory: make([]float64, 0, len(history)),
		TimeLabels:        make([]string, 0, len(history)),
	}

	var sum float64
	active := 0
	for _, h := range history {
		rate := h.CurrentRate
		if rate < 0 {
			rate = 0
		}
		m.ThroughputHistory = append(m.ThroughputHistory, rate)
		m.TimeLabels = append(m.TimeLabels, h.ReceivedAt.Format(timeLabelFormat))

		// idle ticks would drag the mean down
		if rate > 0 {
			sum += rate
			active++
			if rate > m.PeakRate {
				m.PeakRate = rate
			}
		}
	}
	if active > 0 {
		m.AverageRate = sum / float64(active)
	}

	reference := a.ReferenceRate
	if reference <= 0 {
		reference = DefaultReferenceRate
	}
	m.Efficiency = cur.CurrentRate / reference * 100

	if cur.CurrentRate > 0 {
		remaining := cur.TotalRecipients - cur.Stats.Sent
		if remaining < 0 {
			remaining = 0
		}
		seconds := float64(remaining) / cur.CurrentRate
		eta := now.Add(time.Duration(seconds * float64(time.Second)))
		m.EstimatedCompletion = &eta
	}

	m.ErrorRate = ErrorRate(cur.Stats)
	return m
}

// ErrorRate returns failed/(sent+failed) as a percentage, 0 when nothing was processed
func ErrorRate(stats types.ProgressStats) float64 {
	processed := stats.Processed()
	if processed <= 0 {
		return 0
	}
	return float64(stats.Failed) / float64(processed) * 100
}

// SuccessRate returns sent/(sent+failed) as a percentage. The server supplied
// rate is preferred when present.
func SuccessRate(stats types.ProgressStats) float64 {
	if stats.SuccessRate > 0 {
		return stats.SuccessRate
	}
	processed := stats.Processed()
	if processed <= 0 {
		return 0
	}
	return float64(stats.Sent) / float64(processed) * 100
}

// PercentComplete returns how far the send phase is, in [0, 100]
func PercentComplete(s types.ProgressSnapshot) float64 {
	n := s.Normalized()
	if n.TotalRecipients == 0 {
		if n.IsComplete() {
			return 100
		}
		return 0
	}
	return float64(n.Stats.Processed()) / float64(n.TotalRecipients) * 100
}
