// Package memory keeps the upload history in process when no database is configured
package memory

import (
	"context"
	"loan-upload/internal/core/domain"
	"loan-upload/internal/core/port"
	"sort"
	"sync"

	"github.com/google/uuid"
)

type historyRepository struct {
	mu      sync.RWMutex
	records map[uuid.UUID]domain.HistoryRecord
}

// NewHistoryRepository creates an in-memory port.HistoryRepository
func NewHistoryRepository() port.HistoryRepository {
	return &historyRepository{records: make(map[uuid.UUID]domain.HistoryRecord)}
}

// Save upserts the record of a task
func (h *historyRepository) Save(ctx context.Context, record domain.HistoryRecord) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.records[record.TaskID] = record
	return nil
}

// FindByTaskID finds by task id
func (h *historyRepository) FindByTaskID(ctx context.Context, taskID uuid.UUID) (*domain.HistoryRecord, error) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	record, ok := h.records[taskID]
	if !ok {
		return nil, domain.ErrTaskNotFound
	}
	return &record, nil
}

// FindBySessionID returns the records of a session ordered by finish time
func (h *historyRepository) FindBySessionID(ctx context.Context, sessionID uuid.UUID) ([]domain.HistoryRecord, error) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	var out []domain.HistoryRecord
	for _, r := range h.records {
		if r.SessionID == sessionID {
			out = append(out, r)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].FinishedAt.Before(out[j].FinishedAt)
	})
	return out, nil
}
