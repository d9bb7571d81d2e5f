package progress

import (
	"testing"
	"time"

	"github.com/Nexora-Open-Source/bulk-progress-monitor/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func historyWithRates(rates ...float64) []types.ProgressSnapshot {
	base := time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)
	out := make([]types.ProgressSnapshot, len(rates))
	for i, r := range rates {
		out[i] = types.ProgressSnapshot{CurrentRate: r, ReceivedAt: base.Add(time.Duration(i) * time.Second)}
	}
	return out
}

func TestAggregatorAverageAndPeakIgnoreIdleTicks(t *testing.T) {
	agg := NewAggregator(10)
	current := types.ProgressSnapshot{TotalRecipients: 100, CurrentRate: 10, InProcess: true}

	m := agg.Compute(current, historyWithRates(0, 0, 5, 10), time.Now())

	assert.InDelta(t, 7.5, m.AverageRate, 1e-9)
	assert.Equal(t, 10.0, m.PeakRate)
	assert.Equal(t, []float64{0, 0, 5, 10}, m.ThroughputHistory)
	assert.Equal(t, []string{"10:00:00", "10:00:01", "10:00:02", "10:00:03"}, m.TimeLabels)
}

func TestAggregatorEmptyHistory(t *testing.T) {
	m := NewAggregator(10).Compute(types.ProgressSnapshot{}, nil, time.Now())
	assert.Equal(t, 0.0, m.AverageRate)
	assert.Equal(t, 0.0, m.PeakRate)
	assert.Empty(t, m.ThroughputHistory)
}

func TestAggregatorEfficiency(t *testing.T) {
	tests := []struct {
		name      string
		reference float64
		rate      float64
		want      float64
	}{
		{"half of target", 10, 5, 50},
		{"above target", 10, 15, 150},
		{"idle", 10, 0, 0},
		{"default reference", 0, 10, 100},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := NewAggregator(tt.reference).Compute(types.ProgressSnapshot{CurrentRate: tt.rate}, nil, time.Now())
			assert.InDelta(t, tt.want, m.Efficiency, 1e-9)
		})
	}
}

func TestAggregatorEstimatedCompletion(t *testing.T) {
	now := time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)
	agg := NewAggregator(10)

	idle := types.ProgressSnapshot{TotalRecipients: 100, Stats: types.ProgressStats{Inserted: 100, Sent: 40}}
	assert.Nil(t, agg.Compute(idle, nil, now).EstimatedCompletion)

	running := idle
	running.CurrentRate = 4
	m := agg.Compute(running, nil, now)
	require.NotNil(t, m.EstimatedCompletion)
	assert.WithinDuration(t, now.Add(15*time.Second), *m.EstimatedCompletion, 10*time.Millisecond)
}

func TestAggregatorErrorRate(t *testing.T) {
	agg := NewAggregator(10)

	none := types.ProgressSnapshot{TotalRecipients: 10, Stats: types.ProgressStats{Inserted: 10}}
	assert.Equal(t, 0.0, agg.Compute(none, nil, time.Now()).ErrorRate)

	some := types.ProgressSnapshot{TotalRecipients: 10, Stats: types.ProgressStats{Inserted: 10, Sent: 6, Failed: 2}}
	assert.InDelta(t, 25.0, agg.Compute(some, nil, time.Now()).ErrorRate, 1e-9)
}

func TestAggregatorToleratesInvariantViolations(t *testing.T) {
	broken := types.ProgressSnapshot{
		TotalRecipients: 10,
		CurrentRate:     2,
		Stats:           types.ProgressStats{Inserted: 50, Sent: 40, Failed: 30},
	}

	var m Metrics
	assert.NotPanics(t, func() {
		m = NewAggregator(10).Compute(broken, historyWithRates(-1, 3), time.Now())
	})
	assert.GreaterOrEqual(t, m.ErrorRate, 0.0)
	assert.LessOrEqual(t, m.ErrorRate, 100.0)
	require.NotNil(t, m.EstimatedCompletion)
	assert.Equal(t, 3.0, m.AverageRate)
}

func TestSuccessRateAndPercentComplete(t *testing.T) {
	assert.Equal(t, 0.0, SuccessRate(types.ProgressStats{}))
	assert.InDelta(t, 80.0, SuccessRate(types.ProgressStats{Sent: 8, Failed: 2}), 1e-9)
	assert.Equal(t, 97.5, SuccessRate(types.ProgressStats{Sent: 8, Failed: 2, SuccessRate: 97.5}))

	s := types.ProgressSnapshot{TotalRecipients: 200, Stats: types.ProgressStats{Inserted: 200, Sent: 50, Failed: 50}}
	assert.InDelta(t, 50.0, PercentComplete(s), 1e-9)
	assert.Equal(t, 100.0, PercentComplete(types.ProgressSnapshot{}))
}
