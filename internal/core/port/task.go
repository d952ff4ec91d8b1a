package port

import (
	"context"
	"loan-upload/internal/core/domain"
)

// ProgressFunc reports bytes transferred so far and the current speed in bytes/s
type ProgressFunc func(loaded int64, speed float64)

// RetryFunc is called before each retry delay
type RetryFunc func(attempt domain.RetryAttempt)

// TaskHooks lets an executor report back into the queue
type TaskHooks struct {
	OnProgress ProgressFunc
	OnRetry    RetryFunc
	OnAttempt  func(attempt int)
}

// TaskExecutor runs one admitted task to completion
type TaskExecutor interface {
	Execute(ctx context.Context, task domain.UploadTask, hooks TaskHooks) (domain.TransferMetrics, error)
}
