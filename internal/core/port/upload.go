package port

import (
	"context"
	"loan-upload/internal/core/domain"

	"github.com/google/uuid"
)

// UploadService is the upload controller API exposed to collaborators
type UploadService interface {
	CreateSession(name string) uuid.UUID
	UploadFile(file domain.File, category string, sessionID *uuid.UUID) (uuid.UUID, error)
	UploadFiles(files []domain.File, sessionID *uuid.UUID) ([]uuid.UUID, error)
	CancelSession(sessionID uuid.UUID) error
	GetSessionStats(sessionID uuid.UUID) (*domain.SessionStats, error)
	ListSessions() []domain.SessionStats
	SessionHistory(ctx context.Context, sessionID uuid.UUID) ([]domain.HistoryRecord, error)
	CancelTask(taskID uuid.UUID) bool
	TaskStatus(ctx context.Context, taskID uuid.UUID) (*domain.TaskStatus, error)
	QueueStats() domain.QueueStats
	GlobalProgress() domain.Progress
	Pause()
	Resume(concurrency ...int)
	Subscribe(listener Listener) func()
}
