package domain

import (
	"io"
	"time"

	"github.com/google/uuid"
)

// TaskState represents the lifecycle state of an upload task
type TaskState string

const (
	TaskStatePending       TaskState = "pending"
	TaskStateActive        TaskState = "active"
	TaskStateSucceeded     TaskState = "succeeded"
	TaskStateFailed        TaskState = "failed"
	TaskStateCancelled     TaskState = "cancelled"
	TaskStateQueuedOffline TaskState = "queued-offline"
)

// IsTerminal reports whether no further transition is allowed
func (s TaskState) IsTerminal() bool {
	return s == TaskStateSucceeded || s == TaskStateFailed || s == TaskStateCancelled
}

// Payload is the caller-owned source of an upload. *bytes.Reader, *strings.Reader
// and *io.SectionReader satisfy it.
type Payload interface {
	io.ReaderAt
	Size() int64
}

// File is an upload request for one payload
type File struct {
	Name        string
	ContentType string
	Category    string
	Priority    int
	Payload     Payload
}

// UploadTask represents one file's journey to the server
type UploadTask struct {
	ID               uuid.UUID
	SessionID        uuid.UUID
	Name             string
	ContentType      string
	Category         string
	Priority         int
	Payload          Payload
	State            TaskState
	Attempts         int
	MaxAttempts      int
	LastError        error
	TotalSize        int64
	BytesTransferred int64
	Speed            float64
	Metrics          TransferMetrics
	Seq              uint64
	CreatedAt        time.Time
	StartedAt        *time.Time
	FinishedAt       *time.Time
}

// NewUploadTask creates a pending task for the given file
func NewUploadTask(sessionID uuid.UUID, file File, maxAttempts int, now time.Time) *UploadTask {
	var size int64
	if file.Payload != nil {
		size = file.Payload.Size()
	}
	return &UploadTask{
		ID:          uuid.New(),
		SessionID:   sessionID,
		Name:        file.Name,
		ContentType: file.ContentType,
		Category:    file.Category,
		Priority:    file.Priority,
		Payload:     file.Payload,
		State:       TaskStatePending,
		MaxAttempts: maxAttempts,
		TotalSize:   size,
		CreatedAt:   now,
	}
}

// Remaining returns the bytes still to be transferred
func (t UploadTask) Remaining() int64 {
	if t.BytesTransferred >= t.TotalSize {
		return 0
	}
	return t.TotalSize - t.BytesTransferred
}
