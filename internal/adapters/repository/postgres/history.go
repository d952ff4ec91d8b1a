package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"loan-upload/internal/core/domain"
	"loan-upload/internal/core/port"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"
)

// SQLQuerier is satisfied by both *sql.DB and *sql.Tx
type SQLQuerier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

type sqlHistoryRepository struct {
	db SQLQuerier
}

// NewSQLHistoryRepository creates sqlHistoryRepository that implements port.HistoryRepository
func NewSQLHistoryRepository(db SQLQuerier) port.HistoryRepository {
	return &sqlHistoryRepository{db: db}
}

// Save upserts the record of a task
func (s *sqlHistoryRepository) Save(ctx context.Context, record domain.HistoryRecord) error {
	query := `
		INSERT INTO upload_history (
			task_id, session_id, name, category, state, total_size, attempts, error_class, error, started_at, finished_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		ON CONFLICT (task_id) DO UPDATE SET
			state = EXCLUDED.state,
			attempts = EXCLUDED.attempts,
			error_class = EXCLUDED.error_class,
			error = EXCLUDED.error,
			started_at = EXCLUDED.started_at,
			finished_at = EXCLUDED.finished_at`

	var startedAt sql.NullTime
	if record.StartedAt != nil {
		startedAt = sql.NullTime{Time: *record.StartedAt, Valid: true}
	}

	_, err := s.db.ExecContext(
		ctx,
		query,
		record.TaskID,
		record.SessionID,
		record.Name,
		record.Category,
		record.State,
		record.TotalSize,
		record.Attempts,
		record.ErrorClass,
		record.Error,
		startedAt,
		record.FinishedAt,
	)
	if err != nil {
		if pqErr, ok := err.(*pq.Error); ok {
			if pqErr.Code == "23514" {
				return fmt.Errorf("task %s in state %s: %w", record.TaskID, record.State, domain.ErrInvalidHistoryRecord)
			}
		}
		return err
	}
	return nil
}

// FindByTaskID finds by task id
func (s *sqlHistoryRepository) FindByTaskID(ctx context.Context, taskID uuid.UUID) (*domain.HistoryRecord, error) {
	query := `
		SELECT task_id, session_id, name, category, state, total_size, attempts, error_class, error, started_at, finished_at
		FROM upload_history
		WHERE task_id = $1`

	var row dbHistoryRecord
	err := s.db.QueryRowContext(ctx, query, taskID).Scan(row.fields()...)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.ErrTaskNotFound
		}
		return nil, err
	}

	return row.ToDomain(), nil
}

// FindBySessionID returns the records of a session ordered by finish time
func (s *sqlHistoryRepository) FindBySessionID(ctx context.Context, sessionID uuid.UUID) ([]domain.HistoryRecord, error) {
	query := `
		SELECT task_id, session_id, name, category, state, total_size, attempts, error_class, error, started_at, finished_at
		FROM upload_history
		WHERE session_id = $1
		ORDER BY finished_at, task_id`

	rows, err := s.db.QueryContext(ctx, query, sessionID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var records []domain.HistoryRecord
	for rows.Next() {
		var row dbHistoryRecord
		if err := rows.Scan(row.fields()...); err != nil {
			return nil, err
		}
		records = append(records, *row.ToDomain())
	}

	if err := rows.Err(); err != nil {
		return nil, err
	}

	return records, nil
}

type dbHistoryRecord struct {
	TaskID     uuid.UUID    `db:"task_id"`
	SessionID  uuid.UUID    `db:"session_id"`
	Name       string       `db:"name"`
	Category   string       `db:"category"`
	State      string       `db:"state"`
	TotalSize  int64        `db:"total_size"`
	Attempts   int          `db:"attempts"`
	ErrorClass string       `db:"error_class"`
	Error      string       `db:"error"`
	StartedAt  sql.NullTime `db:"started_at"`
	FinishedAt time.Time    `db:"finished_at"`
}

func (r *dbHistoryRecord) fields() []any {
	return []any{
		&r.TaskID,
		&r.SessionID,
		&r.Name,
		&r.Category,
		&r.State,
		&r.TotalSize,
		&r.Attempts,
		&r.ErrorClass,
		&r.Error,
		&r.StartedAt,
		&r.FinishedAt,
	}
}

// ToDomain converts db obj to domain
func (r *dbHistoryRecord) ToDomain() *domain.HistoryRecord {
	record := &domain.HistoryRecord{
		TaskID:     r.TaskID,
		SessionID:  r.SessionID,
		Name:       r.Name,
		Category:   r.Category,
		State:      domain.TaskState(r.State),
		TotalSize:  r.TotalSize,
		Attempts:   r.Attempts,
		ErrorClass: domain.ErrorClass(r.ErrorClass),
		Error:      r.Error,
		FinishedAt: r.FinishedAt,
	}
	if r.StartedAt.Valid {
		startedAt := r.StartedAt.Time
		record.StartedAt = &startedAt
	}
	return record
}
