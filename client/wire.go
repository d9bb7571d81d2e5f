package client

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/Nexora-Open-Source/bulk-progress-monitor/types"
)

// flexibleID accepts an identifier encoded either as a JSON string or number
type flexibleID string

func (id *flexibleID) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		*id = ""
		return nil
	}
	if data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*id = flexibleID(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(data, &n); err != nil {
		return fmt.Errorf("identifier must be a string or number: %w", err)
	}
	*id = flexibleID(n.String())
	return nil
}

// optionalFloat distinguishes a missing timing field from an explicit zero
type optionalFloat struct {
	value float64
	set   bool
}

func (f *optionalFloat) UnmarshalJSON(data []byte) error {
	if bytes.Equal(bytes.TrimSpace(data), []byte("null")) {
		return nil
	}
	if err := json.Unmarshal(data, &f.value); err != nil {
		return err
	}
	f.set = true
	return nil
}

func (f optionalFloat) orUnknown() float64 {
	if !f.set {
		return types.Unknown
	}
	return f.value
}

type progressStatsPayload struct {
	Inserted     int     `json:"inserted"`
	Sent         int     `json:"sent"`
	Delivered    int     `json:"delivered"`
	Read         int     `json:"read"`
	Failed       int     `json:"failed"`
	Pending      int     `json:"pending"`
	SuccessRate  float64 `json:"successRate"`
	DeliveryRate float64 `json:"deliveryRate"`
	ReadRate     float64 `json:"readRate"`
}

// progressPayload is the JSON body of GET /bulk-progress/{id}
type progressPayload struct {
	JobID             flexibleID            `json:"jobId"`
	BulkID            flexibleID            `json:"bulkId"`
	TotalRecipients   *int                  `json:"totalRecipients"`
	Stats             *progressStatsPayload `json:"stats"`
	InsertionComplete bool                  `json:"insertionComplete"`
	InProcess         bool                  `json:"inProcess"`
	CurrentRate       float64               `json:"currentRate"`
	ElapsedSeconds    optionalFloat         `json:"elapsedSeconds"`
	EtaInsertSeconds  optionalFloat         `json:"etaInsertSeconds"`
	EtaSendSeconds    optionalFloat         `json:"etaSendSeconds"`
	Error             string                `json:"error"`
}

// parseProgress validates the payload and converts it into a snapshot
func parseProgress(body []byte, requestedID string, receivedAt time.Time) (*types.ProgressSnapshot, error) {
	var p progressPayload
	if err := json.Unmarshal(body, &p); err != nil {
		return nil, fmt.Errorf("failed to parse progress response: %w", err)
	}
	if p.TotalRecipients == nil {
		return nil, fmt.Errorf("progress response missing totalRecipients")
	}
	if *p.TotalRecipients < 0 {
		return nil, fmt.Errorf("progress response has negative totalRecipients %d", *p.TotalRecipients)
	}

	jobID := string(p.JobID)
	if jobID == "" {
		jobID = string(p.BulkID)
	}
	if jobID == "" {
		jobID = requestedID
	}

	snapshot := &types.ProgressSnapshot{
		JobID:             jobID,
		TotalRecipients:   *p.TotalRecipients,
		InsertionComplete: p.InsertionComplete,
		InProcess:         p.InProcess,
		CurrentRate:       p.CurrentRate,
		ElapsedSeconds:    p.ElapsedSeconds.orUnknown(),
		EtaInsertSeconds:  p.EtaInsertSeconds.orUnknown(),
		EtaSendSeconds:    p.EtaSendSeconds.orUnknown(),
		Error:             p.Error,
		ReceivedAt:        receivedAt,
	}
	if p.Stats != nil {
		snapshot.Stats = types.ProgressStats{
			Inserted:     p.Stats.Inserted,
			Sent:         p.Stats.Sent,
			Delivered:    p.Stats.Delivered,
			Read:         p.Stats.Read,
			Failed:       p.Stats.Failed,
			Pending:      p.Stats.Pending,
			SuccessRate:  p.Stats.SuccessRate,
			DeliveryRate: p.Stats.DeliveryRate,
			ReadRate:     p.Stats.ReadRate,
		}
	}
	return snapshot, nil
}

type controlPayload struct {
	Success *bool  `json:"success"`
	Message string `json:"message"`
}

func parseControl(body []byte) (*types.ControlResult, error) {
	var p controlPayload
	if err := json.Unmarshal(body, &p); err != nil {
		return nil, fmt.Errorf("failed to parse control response: %w", err)
	}
	if p.Success == nil {
		return nil, fmt.Errorf("control response missing success flag")
	}
	return &types.ControlResult{Success: *p.Success, Message: p.Message}, nil
}

type importHistoryPayload struct {
	ID             int64      `json:"id"`
	BulkID         flexibleID `json:"bulkId"`
	FileName       string     `json:"fileName"`
	Status         string     `json:"status"`
	TotalLines     int        `json:"totalLines"`
	InsertedCount  int        `json:"insertedCount"`
	DuplicateCount int        `json:"duplicateCount"`
	ErrorCount     int        `json:"errorCount"`
	CreatedDate    *time.Time `json:"createdDate"`
}

func parseImportHistory(body []byte, total int, page types.PageRequest) (*types.ImportHistoryPage, error) {
	var payload []importHistoryPayload
	if err := json.Unmarshal(body, &payload); err != nil {
		return nil, fmt.Errorf("failed to parse import history: %w", err)
	}
	if total < 0 {
		total = len(payload)
	}

	result := &types.ImportHistoryPage{
		Items:      make([]types.ImportHistoryEntry, 0, len(payload)),
		TotalCount: total,
		Page:       page.Page,
		Size:       page.Size,
	}
	for _, p := range payload {
		if p.BulkID == "" {
			return nil, fmt.Errorf("import history entry %d missing bulkId", p.ID)
		}
		entry := types.ImportHistoryEntry{
			ID:             p.ID,
			BulkID:         string(p.BulkID),
			FileName:       p.FileName,
			Status:         types.ImportStatus(p.Status),
			TotalLines:     p.TotalLines,
			InsertedCount:  p.InsertedCount,
			DuplicateCount: p.DuplicateCount,
			ErrorCount:     p.ErrorCount,
		}
		if p.CreatedDate != nil {
			entry.CreatedAt = *p.CreatedDate
		}
		result.Items = append(result.Items, entry)
	}
	return result, nil
}

type bulkContactPayload struct {
	ID        int64      `json:"id"`
	Name      string     `json:"name"`
	Phone     string     `json:"phone"`
	BulkID    flexibleID `json:"bulkId"`
	Duplicate bool       `json:"duplicate"`
}

func parseBulkContacts(body []byte, total int, page types.PageRequest) (*types.BulkContactPage, error) {
	var payload []bulkContactPayload
	if err := json.Unmarshal(body, &payload); err != nil {
		return nil, fmt.Errorf("failed to parse bulk contacts: %w", err)
	}
	if total < 0 {
		total = len(payload)
	}

	result := &types.BulkContactPage{
		Items:      make([]types.BulkContact, 0, len(payload)),
		TotalCount: total,
		Page:       page.Page,
		Size:       page.Size,
	}
	for _, p := range payload {
		result.Items = append(result.Items, types.BulkContact{
			ID:        p.ID,
			Name:      p.Name,
			Phone:     p.Phone,
			BulkID:    string(p.BulkID),
			Duplicate: p.Duplicate,
		})
	}
	return result, nil
}

// parseTotalCount reads the X-Total-Count pagination header, falling back to n
func parseTotalCount(header string, n int) int {
	if header == "" {
		return n
	}
	total, err := strconv.Atoi(header)
	if err != nil || total < 0 {
		return n
	}
	return total
}
