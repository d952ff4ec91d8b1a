package domain

import (
	"time"

	"github.com/google/uuid"
)

// HistoryRecord is the journal entry of a task that reached a terminal state
type HistoryRecord struct {
	TaskID     uuid.UUID
	SessionID  uuid.UUID
	Name       string
	Category   string
	State      TaskState
	TotalSize  int64
	Attempts   int
	ErrorClass ErrorClass
	Error      string
	StartedAt  *time.Time
	FinishedAt time.Time
}
