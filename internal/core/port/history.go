package port

import (
	"context"
	"loan-upload/internal/core/domain"

	"github.com/google/uuid"
)

// HistoryRepository journals terminal tasks so detail survives session GC
type HistoryRepository interface {
	Save(ctx context.Context, record domain.HistoryRecord) error
	FindByTaskID(ctx context.Context, taskID uuid.UUID) (*domain.HistoryRecord, error)
	FindBySessionID(ctx context.Context, sessionID uuid.UUID) ([]domain.HistoryRecord, error)
}
