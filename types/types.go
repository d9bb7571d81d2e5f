// Package types contains shared types used across the bulk progress monitor
package types

import (
	"time"
)

// Unknown is the sentinel used by timing fields when the server cannot estimate them
const Unknown = -1.0

// ProgressStats partitions a job's recipients into disjoint buckets
type ProgressStats struct {
	Inserted     int     `json:"inserted"`
	Sent         int     `json:"sent"`
	Delivered    int     `json:"delivered"`
	Read         int     `json:"read"`
	Failed       int     `json:"failed"`
	Pending      int     `json:"pending"`
	SuccessRate  float64 `json:"success_rate"`
	DeliveryRate float64 `json:"delivery_rate"`
	ReadRate     float64 `json:"read_rate"`
}

// Processed returns the number of recipients that reached a final send outcome
func (s ProgressStats) Processed() int {
	return s.Sent + s.Failed
}

// ProgressSnapshot is one polled read of a bulk job's progress
type ProgressSnapshot struct {
	JobID             string        `json:"job_id"`
	TotalRecipients   int           `json:"total_recipients"`
	Stats             ProgressStats `json:"stats"`
	InsertionComplete bool          `json:"insertion_complete"`
	InProcess         bool          `json:"in_process"`
	CurrentRate       float64       `json:"current_rate"`
	ElapsedSeconds    float64       `json:"elapsed_seconds"`
	EtaInsertSeconds  float64       `json:"eta_insert_seconds"`
	EtaSendSeconds    float64       `json:"eta_send_seconds"`
	Error             string        `json:"error,omitempty"`
	ReceivedAt        time.Time     `json:"received_at"`
}

// ErrorSnapshot builds the sentinel snapshot emitted when a poll fails
func ErrorSnapshot(jobID string, err error) ProgressSnapshot {
	return ProgressSnapshot{
		JobID:            jobID,
		ElapsedSeconds:   Unknown,
		EtaInsertSeconds: Unknown,
		EtaSendSeconds:   Unknown,
		Error:            err.Error(),
		ReceivedAt:       time.Now(),
	}
}

// HasError reports whether the snapshot represents a failed poll or a failed job
func (s ProgressSnapshot) HasError() bool {
	return s.Error != ""
}

// IsComplete reports whether the job will produce no further state changes.
// A job is terminal once it is no longer in process, every recipient has been
// inserted, and every inserted recipient has been sent or failed.
func (s ProgressSnapshot) IsComplete() bool {
	return !s.InProcess &&
		s.Stats.Inserted >= s.TotalRecipients &&
		s.Stats.Sent+s.Stats.Failed >= s.Stats.Inserted
}

// SameProgress compares the fields the poller tracks for duplicate suppression
func (s ProgressSnapshot) SameProgress(other ProgressSnapshot) bool {
	return s.Stats.Sent == other.Stats.Sent &&
		s.Stats.Failed == other.Stats.Failed &&
		s.Stats.Inserted == other.Stats.Inserted &&
		s.InProcess == other.InProcess
}

// Normalized returns a copy with counts clamped so that
// sent+failed <= inserted <= totalRecipients and nothing is negative.
func (s ProgressSnapshot) Normalized() ProgressSnapshot {
	n := s
	if n.TotalRecipients < 0 {
		n.TotalRecipients = 0
	}
	st := &n.Stats
	st.Inserted = clamp(st.Inserted, 0, n.TotalRecipients)
	st.Sent = clamp(st.Sent, 0, st.Inserted)
	st.Failed = clamp(st.Failed, 0, st.Inserted-st.Sent)
	st.Delivered = clamp(st.Delivered, 0, st.Sent)
	st.Read = clamp(st.Read, 0, st.Delivered)
	if st.Pending < 0 {
		st.Pending = 0
	}
	if n.CurrentRate < 0 {
		n.CurrentRate = 0
	}
	return n
}

func clamp(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

// ControlResult is returned by job control endpoints (send, stop)
type ControlResult struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
}

// PageRequest carries pagination parameters for collection endpoints
type PageRequest struct {
	Page int
	Size int
	Sort string
}

// ImportStatus is the state of a contact import
type ImportStatus string

const (
	ImportStatusPending    ImportStatus = "PENDING"
	ImportStatusProcessing ImportStatus = "PROCESSING"
	ImportStatusCompleted  ImportStatus = "COMPLETED"
	ImportStatusFailed     ImportStatus = "FAILED"
)

// IsTerminal reports whether the import will not change status anymore
func (s ImportStatus) IsTerminal() bool {
	return s == ImportStatusCompleted || s == ImportStatusFailed
}

// ImportHistoryEntry is one contact import in the import history
type ImportHistoryEntry struct {
	ID             int64        `json:"id"`
	BulkID         string       `json:"bulk_id"`
	FileName       string       `json:"file_name"`
	Status         ImportStatus `json:"status"`
	TotalLines     int          `json:"total_lines"`
	InsertedCount  int          `json:"inserted_count"`
	DuplicateCount int          `json:"duplicate_count"`
	ErrorCount     int          `json:"error_count"`
	CreatedAt      time.Time    `json:"created_at"`
}

// ImportHistoryPage is a page of import history
type ImportHistoryPage struct {
	Items      []ImportHistoryEntry `json:"items"`
	TotalCount int                  `json:"total_count"`
	Page       int                  `json:"page"`
	Size       int                  `json:"size"`
}

// BulkContact is a contact created by a bulk import
type BulkContact struct {
	ID        int64  `json:"id"`
	Name      string `json:"name"`
	Phone     string `json:"phone"`
	BulkID    string `json:"bulk_id"`
	Duplicate bool   `json:"duplicate"`
}

// BulkContactPage is a page of contacts belonging to a bulk import
type BulkContactPage struct {
	Items      []BulkContact `json:"items"`
	TotalCount int           `json:"total_count"`
	Page       int           `json:"page"`
	Size       int           `json:"size"`
}
