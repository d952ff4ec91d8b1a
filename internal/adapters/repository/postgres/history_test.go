package postgres_test

import (
	"context"
	"errors"
	"loan-upload/internal/adapters/repository/postgres"
	"loan-upload/internal/core/domain"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSqlHistoryRepository(t *testing.T) {
	dbConnection, cleanup, truncate := postgres.NewTestDB(t)
	defer cleanup()
	ctx := context.Background()

	historyRepo := postgres.NewSQLHistoryRepository(dbConnection)
	finishedAt := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)

	newRecord := func(sessionID uuid.UUID, state domain.TaskState, finishedAt time.Time) domain.HistoryRecord {
		startedAt := finishedAt.Add(-time.Minute)
		return domain.HistoryRecord{
			TaskID:     uuid.New(),
			SessionID:  sessionID,
			Name:       "payslip.pdf",
			Category:   "income",
			State:      state,
			TotalSize:  1024,
			Attempts:   1,
			StartedAt:  &startedAt,
			FinishedAt: finishedAt,
		}
	}

	t.Run("Save - Nominal case", func(t *testing.T) {
		// Arrange
		truncate()
		record := newRecord(uuid.New(), domain.TaskStateSucceeded, finishedAt)

		// Act
		err := historyRepo.Save(ctx, record)

		// Assert
		require.NoError(t, err)
		saved, err := historyRepo.FindByTaskID(ctx, record.TaskID)
		require.NoError(t, err)
		assert.Equal(t, record.SessionID, saved.SessionID)
		assert.Equal(t, domain.TaskStateSucceeded, saved.State)
		assert.Equal(t, "income", saved.Category)
		require.NotNil(t, saved.StartedAt)
		assert.WithinDuration(t, *record.StartedAt, *saved.StartedAt, time.Second)
		assert.WithinDuration(t, finishedAt, saved.FinishedAt, time.Second)
	})

	t.Run("Save - Upsert keeps the latest outcome", func(t *testing.T) {
		// Arrange
		truncate()
		record := newRecord(uuid.New(), domain.TaskStateFailed, finishedAt)
		record.ErrorClass = domain.ErrorClassServer
		record.Error = "unexpected status 503"
		require.NoError(t, historyRepo.Save(ctx, record))

		record.Attempts = 4
		record.ErrorClass = domain.ErrorClassChunkAssembly
		record.Error = "chunk retries exhausted"

		// Act
		err := historyRepo.Save(ctx, record)

		// Assert
		require.NoError(t, err)
		saved, err := historyRepo.FindByTaskID(ctx, record.TaskID)
		require.NoError(t, err)
		assert.Equal(t, 4, saved.Attempts)
		assert.Equal(t, domain.ErrorClassChunkAssembly, saved.ErrorClass)
		assert.Equal(t, "chunk retries exhausted", saved.Error)
	})

	t.Run("Save - Non terminal state is rejected", func(t *testing.T) {
		// Arrange
		truncate()
		record := newRecord(uuid.New(), domain.TaskStateActive, finishedAt)

		// Act
		err := historyRepo.Save(ctx, record)

		// Assert
		assert.True(t, errors.Is(err, domain.ErrInvalidHistoryRecord))
	})

	t.Run("Save - Without start time", func(t *testing.T) {
		// Arrange
		truncate()
		record := newRecord(uuid.New(), domain.TaskStateCancelled, finishedAt)
		record.StartedAt = nil

		// Act
		err := historyRepo.Save(ctx, record)

		// Assert
		require.NoError(t, err)
		saved, err := historyRepo.FindByTaskID(ctx, record.TaskID)
		require.NoError(t, err)
		assert.Nil(t, saved.StartedAt)
	})

	t.Run("FindByTaskID - Not found", func(t *testing.T) {
		// Arrange
		truncate()

		// Act
		saved, err := historyRepo.FindByTaskID(ctx, uuid.New())

		// Assert
		assert.Nil(t, saved)
		assert.True(t, errors.Is(err, domain.ErrTaskNotFound))
	})

	t.Run("FindBySessionID - Ordered by finish time", func(t *testing.T) {
		// Arrange
		truncate()
		sessionID := uuid.New()
		late := newRecord(sessionID, domain.TaskStateFailed, finishedAt.Add(time.Minute))
		early := newRecord(sessionID, domain.TaskStateSucceeded, finishedAt)
		other := newRecord(uuid.New(), domain.TaskStateSucceeded, finishedAt)
		for _, record := range []domain.HistoryRecord{late, early, other} {
			require.NoError(t, historyRepo.Save(ctx, record))
		}

		// Act
		records, err := historyRepo.FindBySessionID(ctx, sessionID)

		// Assert
		require.NoError(t, err)
		require.Len(t, records, 2)
		assert.Equal(t, early.TaskID, records[0].TaskID)
		assert.Equal(t, late.TaskID, records[1].TaskID)
	})

	t.Run("FindBySessionID - Unknown session", func(t *testing.T) {
		// Arrange
		truncate()

		// Act
		records, err := historyRepo.FindBySessionID(ctx, uuid.New())

		// Assert
		require.NoError(t, err)
		assert.Empty(t, records)
	})
}
