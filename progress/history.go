/*
Package progress provides the rolling snapshot history and the derived
throughput metrics for a monitored bulk job.
*/
package progress

import (
	"sync"

	"github.com/Nexora-Open-Source/bulk-progress-monitor/types"
)

// DefaultHistorySize bounds the history to roughly the last one or two minutes of polling
const DefaultHistorySize = 120

// History is a bounded ring buffer of snapshots. Older samples are dropped.
type History struct {
	mu      sync.RWMutex
	samples []types.ProgressSnapshot
	start   int
	count   int
}

// NewHistory creates a history holding at most size samples
func NewHistory(size int) *History {
	if size <= 0 {
		size = DefaultHistorySize
	}
	return &History{samples: make([]types.ProgressSnapshot, size)}
}

// Push appends a snapshot, evicting the oldest one when full
func (h *History) Push(s types.ProgressSnapshot) {
	h.mu.Lock()
	defer h.mu.Unlock()

	capacity := len(h.samples)
	if h.count < capacity {
		h.samples[(h.start+h.count)%capacity] = s
		h.count++
		return
	}
	h.samples[h.start] = s
	h.start = (h.start + 1) % capacity
}

// Samples returns a copy of the history, oldest first
func (h *History) Samples() []types.ProgressSnapshot {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.lastLocked(h.count)
}

// Last returns up to n of the most recent samples, oldest first
func (h *History) Last(n int) []types.ProgressSnapshot {
	h.mu.RLock()
	defer h.mu.RUnlock()
	if n > h.count {
		n = h.count
	}
	return h.lastLocked(n)
}

func (h *History) lastLocked(n int) []types.ProgressSnapshot {
	if n <= 0 {
		return nil
	}
	out := make([]types.ProgressSnapshot, n)
	capacity := len(h.samples)
	first := h.start + h.count - n
	for i := 0; i < n; i++ {
		out[i] = h.samples[(first+i)%capacity]
	}
	return out
}

// Len returns the number of stored samples
func (h *History) Len() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.count
}

// Cap returns the maximum number of samples kept
func (h *History) Cap() int {
	return len(h.samples)
}

// Reset drops every sample
func (h *History) Reset() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.start = 0
	h.count = 0
}
