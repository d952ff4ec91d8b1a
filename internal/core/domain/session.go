package domain

import (
	"time"

	"github.com/google/uuid"
)

// UploadSession groups tasks created together, e.g. one multi-file submission
type UploadSession struct {
	ID        uuid.UUID
	Name      string
	TaskIDs   []uuid.UUID
	Cancelled bool
	CreatedAt time.Time
}

// SessionStats summarises a session without per-task detail
type SessionStats struct {
	SessionID     uuid.UUID `json:"session_id"`
	Name          string    `json:"name"`
	Total         int       `json:"total"`
	Pending       int       `json:"pending"`
	Active        int       `json:"active"`
	QueuedOffline int       `json:"queued_offline"`
	Succeeded     int       `json:"succeeded"`
	Failed        int       `json:"failed"`
	Cancelled     int       `json:"cancelled"`
	Done          bool      `json:"done"`
	IsCancelled   bool      `json:"is_cancelled"`
	Progress      Progress  `json:"progress"`
	CreatedAt     time.Time `json:"created_at"`
}
