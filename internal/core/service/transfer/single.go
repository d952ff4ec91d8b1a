package transfer

import (
	"context"
	"io"
	"loan-upload/internal/core/domain"
	"loan-upload/internal/core/port"
	"loan-upload/internal/core/service/retry"
	"sync"
	"time"
)

// SendFunc pushes one whole body to the remote side
type SendFunc func(ctx context.Context, body io.Reader) error

// Single uploads a payload as one request, retried as a whole
type Single struct {
	attempter *Attempter
	policy    retry.Policy
	clock     port.Clock
}

// NewSingle creates a single-shot transfer
func NewSingle(attempter *Attempter, policy retry.Policy, clock port.Clock) *Single {
	return &Single{attempter: attempter, policy: policy, clock: clock}
}

// Upload sends payload through send. Progress follows the bytes the transport
// consumed and never goes backwards when an attempt restarts from zero.
// Speed is the rate of the current attempt since it started.
func (s *Single) Upload(ctx context.Context, payload domain.Payload, send SendFunc, hooks port.TaskHooks) (domain.TransferMetrics, error) {
	if payload == nil {
		return domain.TransferMetrics{}, domain.ErrNilPayload
	}

	size := payload.Size()
	started := s.clock.Now()
	metrics := domain.TransferMetrics{TotalChunks: 1, ChunkSize: size}
	reported := &monotonic{}

	attempts, err := s.attempter.Do(ctx, s.policy, func(ctx context.Context, attempt int) error {
		if hooks.OnAttempt != nil {
			hooks.OnAttempt(attempt + 1)
		}
		attemptStarted := s.clock.Now()
		body := &countingReader{
			r: io.NewSectionReader(payload, 0, size),
			onRead: func(n int64) {
				if hooks.OnProgress != nil && reported.raise(n) {
					hooks.OnProgress(n, rate(n, s.clock.Now().Sub(attemptStarted)))
				}
			},
		}
		return send(ctx, body)
	}, hooks.OnRetry)

	metrics.Retries = max(attempts-1, 0)
	metrics.Duration = s.clock.Now().Sub(started)
	if err != nil {
		metrics.FailedChunks = 1
		return metrics, err
	}

	metrics.SuccessfulChunks = 1
	metrics.BytesTransferred = size
	if metrics.Duration > 0 {
		metrics.AverageSpeed = float64(size) / metrics.Duration.Seconds()
	}
	return metrics, nil
}

func rate(bytes int64, elapsed time.Duration) float64 {
	if elapsed <= 0 {
		return 0
	}
	return float64(bytes) / elapsed.Seconds()
}

type monotonic struct {
	mu  sync.Mutex
	max int64
}

func (m *monotonic) raise(v int64) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if v <= m.max {
		return false
	}
	m.max = v
	return true
}

type countingReader struct {
	r      io.Reader
	read   int64
	onRead func(total int64)
}

func (c *countingReader) Read(p []byte) (int, error) {
	n, err := c.r.Read(p)
	if n > 0 {
		c.read += int64(n)
		c.onRead(c.read)
	}
	return n, err
}
