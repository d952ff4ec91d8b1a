package domain

import (
	"time"

	"github.com/google/uuid"
)

// TaskStatus is the last known state of a task. It stays queryable after the
// session summary dropped the per-task detail.
type TaskStatus struct {
	TaskID     uuid.UUID        `json:"task_id"`
	SessionID  uuid.UUID        `json:"session_id"`
	Name       string           `json:"name"`
	Category   string           `json:"category,omitempty"`
	State      TaskState        `json:"state"`
	Loaded     int64            `json:"loaded"`
	Total      int64            `json:"total"`
	Speed      float64          `json:"speed"`
	Attempts   int              `json:"attempts"`
	ErrorClass ErrorClass       `json:"error_class,omitempty"`
	Error      string           `json:"error,omitempty"`
	Metrics    *TransferMetrics `json:"metrics,omitempty"`
	StartedAt  *time.Time       `json:"started_at,omitempty"`
	UpdatedAt  time.Time        `json:"updated_at"`
}

// ErrorCategory returns the human-readable failure category, empty when the task did not fail
func (s TaskStatus) ErrorCategory() string {
	if s.ErrorClass == ErrorClassNone {
		return ""
	}
	return s.ErrorClass.Category()
}

// HistoryRecord converts a terminal status into its journal entry
func (s TaskStatus) HistoryRecord() HistoryRecord {
	return HistoryRecord{
		TaskID:     s.TaskID,
		SessionID:  s.SessionID,
		Name:       s.Name,
		Category:   s.Category,
		State:      s.State,
		TotalSize:  s.Total,
		Attempts:   s.Attempts,
		ErrorClass: s.ErrorClass,
		Error:      s.Error,
		StartedAt:  s.StartedAt,
		FinishedAt: s.UpdatedAt,
	}
}
