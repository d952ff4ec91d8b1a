package transfer

import (
	"context"
	"errors"
	"fmt"
	"io"
	"loan-upload/internal/core/domain"
	"loan-upload/internal/core/port"
	"loan-upload/internal/core/service/retry"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
)

// Split partitions [0, size) into ceil(size/chunkSize) contiguous chunks.
// An empty payload yields a single empty chunk so the remote object still gets created.
func Split(size, chunkSize int64) ([]domain.ChunkDescriptor, error) {
	if chunkSize <= 0 {
		return nil, domain.ErrInvalidChunkSize
	}
	if size <= 0 {
		return []domain.ChunkDescriptor{{Index: 0, Start: 0, End: 0}}, nil
	}

	count := (size + chunkSize - 1) / chunkSize
	chunks := make([]domain.ChunkDescriptor, 0, count)
	for i := int64(0); i < count; i++ {
		start := i * chunkSize
		end := min(start+chunkSize, size)
		chunks = append(chunks, domain.ChunkDescriptor{Index: int(i), Start: start, End: end})
	}
	return chunks, nil
}

// Chunked uploads a payload as waves of concurrently sent chunks
type Chunked struct {
	attempter   *Attempter
	policy      retry.Policy
	clock       port.Clock
	speedWindow int
	estimator   *Estimator
}

// NewChunked creates a chunked transfer. estimator may be nil.
func NewChunked(attempter *Attempter, policy retry.Policy, clock port.Clock, speedWindow int, estimator *Estimator) *Chunked {
	return &Chunked{
		attempter:   attempter,
		policy:      policy,
		clock:       clock,
		speedWindow: speedWindow,
		estimator:   estimator,
	}
}

// ChunkSize returns the recommended size when adaptive sizing is on, fallback otherwise
func (c *Chunked) ChunkSize(fallback int64) int64 {
	if c.estimator == nil {
		return fallback
	}
	return c.estimator.Recommend()
}

// Upload sends payload through sink. Chunks of one wave run concurrently and the
// next wave starts once every chunk of the current one succeeded. A chunk that
// exhausts its retries fails the whole transfer with ErrChunkAssembly.
func (c *Chunked) Upload(ctx context.Context, payload domain.Payload, chunkSize int64, maxConcurrentChunks int, sink port.ChunkSink, hooks port.TaskHooks) (domain.TransferMetrics, error) {
	if payload == nil {
		return domain.TransferMetrics{}, domain.ErrNilPayload
	}
	chunks, err := Split(payload.Size(), chunkSize)
	if err != nil {
		return domain.TransferMetrics{}, err
	}
	if maxConcurrentChunks <= 0 {
		maxConcurrentChunks = 1
	}

	run := &chunkRun{
		metrics: domain.TransferMetrics{TotalChunks: len(chunks), ChunkSize: chunkSize},
		speed:   newSpeedMeter(c.speedWindow),
		hooks:   hooks,
	}
	started := c.clock.Now()

	for waveStart := 0; waveStart < len(chunks); waveStart += maxConcurrentChunks {
		if err := ctx.Err(); err != nil {
			return c.finish(run, started), err
		}

		wave := chunks[waveStart:min(waveStart+maxConcurrentChunks, len(chunks))]
		g, waveCtx := errgroup.WithContext(ctx)
		for i := range wave {
			chunk := &wave[i]
			g.Go(func() error {
				return c.sendChunk(waveCtx, payload, chunk, sink, run)
			})
		}
		if err := g.Wait(); err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return c.finish(run, started), ctxErr
			}
			return c.finish(run, started), err
		}
	}

	return c.finish(run, started), nil
}

func (c *Chunked) sendChunk(ctx context.Context, payload domain.Payload, chunk *domain.ChunkDescriptor, sink port.ChunkSink, run *chunkRun) error {
	chunkStarted := c.clock.Now()
	index := chunk.Index

	attempts, err := c.attempter.Do(ctx, c.policy, func(ctx context.Context, attempt int) error {
		body := io.NewSectionReader(payload, chunk.Start, chunk.Len())
		return sink.PutChunk(ctx, *chunk, body)
	}, func(next domain.RetryAttempt) {
		next.Chunk = &index
		run.retried(next)
	})
	chunk.Attempts = attempts

	finished := c.clock.Now()
	if c.estimator != nil && !errors.Is(err, context.Canceled) {
		c.estimator.Observe(chunk.Len(), finished.Sub(chunkStarted), err == nil)
	}
	if err != nil {
		return chunkError(index, err)
	}

	run.completed(chunk.Len(), chunkStarted, finished)
	return nil
}

func (c *Chunked) finish(run *chunkRun, started time.Time) domain.TransferMetrics {
	run.mu.Lock()
	defer run.mu.Unlock()

	m := run.metrics
	m.FailedChunks = m.TotalChunks - m.SuccessfulChunks
	m.Duration = c.clock.Now().Sub(started)
	if m.Duration > 0 {
		m.AverageSpeed = float64(m.BytesTransferred) / m.Duration.Seconds()
	}
	return m
}

// chunkError keeps cancellation and non retryable classes as they are; anything
// else reaching here ran out of retries
func chunkError(index int, err error) error {
	class := domain.Classify(err)
	switch {
	case class == domain.ErrorClassCancelled:
		return err
	case !retry.IsRetryable(class):
		return &domain.UploadError{Class: class, Op: fmt.Sprintf("chunk %d", index), Err: err}
	default:
		return &domain.UploadError{
			Class: domain.ErrorClassChunkAssembly,
			Op:    fmt.Sprintf("chunk %d", index),
			Err:   fmt.Errorf("%w: %w", domain.ErrChunkAssembly, err),
		}
	}
}

type chunkRun struct {
	mu      sync.Mutex
	metrics domain.TransferMetrics
	speed   *speedMeter
	hooks   port.TaskHooks
}

func (r *chunkRun) retried(next domain.RetryAttempt) {
	r.mu.Lock()
	r.metrics.Retries++
	r.mu.Unlock()

	if r.hooks.OnRetry != nil {
		r.hooks.OnRetry(next)
	}
}

// completed reports progress under the run lock so loaded values arrive in order
func (r *chunkRun) completed(n int64, started, finished time.Time) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.metrics.SuccessfulChunks++
	r.metrics.BytesTransferred += n
	r.speed.add(n, started, finished)
	if r.hooks.OnProgress != nil {
		r.hooks.OnProgress(r.metrics.BytesTransferred, r.speed.rate())
	}
}
