package upload

import (
	"context"
	"crypto/sha256"
	"encoding/base64"
	"fmt"
	"io"
	"loan-upload/internal/config"
	"loan-upload/internal/core/domain"
	"loan-upload/internal/core/port"
	"loan-upload/internal/core/service/retry"
	"loan-upload/internal/core/service/transfer"
	"log/slog"
	"time"
)

const abortTimeout = 10 * time.Second

type executor struct {
	transport port.Transport
	cfg       config.UploadConfig
	policy    retry.Policy
	attempter *transfer.Attempter
	single    *transfer.Single
	chunked   *transfer.Chunked
	logger    *slog.Logger
}

// NewExecutor creates the port.TaskExecutor moving tasks through transport.
// Payloads up to cfg.ChunkThreshold go in one request, larger ones in chunks.
func NewExecutor(transport port.Transport, cfg config.UploadConfig, retryCfg config.RetryConfig, engine *retry.Engine, breaker *retry.Breaker, clock port.Clock, logger *slog.Logger) port.TaskExecutor {
	attempter := transfer.NewAttempter(engine, breaker, clock, cfg.AttemptTimeout)
	policy := retry.PolicyFromConfig(retryCfg)

	var estimator *transfer.Estimator
	if cfg.AdaptiveChunking {
		estimator = transfer.NewEstimator(cfg.TargetChunkDuration, cfg.MinChunkSize, cfg.MaxChunkSize, cfg.ChunkSize, cfg.SpeedWindow)
	}

	return &executor{
		transport: transport,
		cfg:       cfg,
		policy:    policy,
		attempter: attempter,
		single:    transfer.NewSingle(attempter, policy, clock),
		chunked:   transfer.NewChunked(attempter, retry.ChunkPolicyFromConfig(retryCfg), clock, cfg.SpeedWindow, estimator),
		logger:    logger,
	}
}

// Execute uploads one task
func (e *executor) Execute(ctx context.Context, task domain.UploadTask, hooks port.TaskHooks) (domain.TransferMetrics, error) {
	if task.Payload == nil {
		return domain.TransferMetrics{}, domain.ErrNilPayload
	}

	ref := port.ObjectRef{
		Key:         objectKey(task),
		Name:        task.Name,
		ContentType: task.ContentType,
		Category:    task.Category,
		Size:        task.TotalSize,
	}

	checksum, err := payloadChecksum(task.Payload)
	if err != nil {
		return domain.TransferMetrics{}, fmt.Errorf("failed to checksum payload: %w", err)
	}
	ref.Checksum = checksum

	if task.TotalSize <= e.cfg.ChunkThreshold {
		return e.single.Upload(ctx, task.Payload, func(ctx context.Context, body io.Reader) error {
			return e.transport.Send(ctx, ref, body)
		}, hooks)
	}
	return e.executeChunked(ctx, task, ref, hooks)
}

func (e *executor) executeChunked(ctx context.Context, task domain.UploadTask, ref port.ObjectRef, hooks port.TaskHooks) (domain.TransferMetrics, error) {
	chunkSize := e.chunked.ChunkSize(e.cfg.ChunkSize)

	var multipart port.MultipartUpload
	_, err := e.attempter.Do(ctx, e.policy, func(ctx context.Context, attempt int) error {
		if hooks.OnAttempt != nil {
			hooks.OnAttempt(attempt + 1)
		}
		var beginErr error
		multipart, beginErr = e.transport.BeginMultipart(ctx, ref, chunkSize)
		return beginErr
	}, hooks.OnRetry)
	if err != nil {
		return domain.TransferMetrics{}, fmt.Errorf("failed to begin multipart upload: %w", err)
	}
	if partSize := multipart.PartSize(); partSize > 0 {
		chunkSize = partSize
	}

	metrics, err := e.chunked.Upload(ctx, task.Payload, chunkSize, e.cfg.MaxConcurrentChunks, multipart, hooks)
	if err != nil {
		e.abort(ctx, task, multipart)
		return metrics, err
	}

	_, err = e.attempter.Do(ctx, e.policy, func(ctx context.Context, attempt int) error {
		return multipart.Complete(ctx)
	}, hooks.OnRetry)
	if err != nil {
		e.abort(ctx, task, multipart)
		return metrics, fmt.Errorf("failed to complete multipart upload: %w", err)
	}
	return metrics, nil
}

// abort runs even when ctx was cancelled so the remote side can drop the parts
func (e *executor) abort(ctx context.Context, task domain.UploadTask, multipart port.MultipartUpload) {
	abortCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), abortTimeout)
	defer cancel()

	if err := multipart.Abort(abortCtx); err != nil {
		e.logger.Warn("failed to abort multipart upload", "task_id", task.ID, "error", err)
	}
}

func payloadChecksum(payload domain.Payload) (string, error) {
	hash := sha256.New()
	if _, err := io.Copy(hash, io.NewSectionReader(payload, 0, payload.Size())); err != nil {
		return "", err
	}
	return base64.StdEncoding.EncodeToString(hash.Sum(nil)), nil
}

func objectKey(task domain.UploadTask) string {
	return fmt.Sprintf("%s/%s/%s", task.SessionID, task.ID, task.Name)
}
