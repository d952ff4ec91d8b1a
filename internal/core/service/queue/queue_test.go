package queue_test

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"loan-upload/internal/core/domain"
	"loan-upload/internal/core/port"
	"loan-upload/internal/core/service/gate"
	"loan-upload/internal/core/service/queue"
	"log/slog"
	"math/rand/v2"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var discardLogger = slog.New(slog.NewTextHandler(io.Discard, nil))

type executorFunc func(ctx context.Context, task domain.UploadTask, hooks port.TaskHooks) (domain.TransferMetrics, error)

func (f executorFunc) Execute(ctx context.Context, task domain.UploadTask, hooks port.TaskHooks) (domain.TransferMetrics, error) {
	return f(ctx, task, hooks)
}

func instant() executorFunc {
	return func(ctx context.Context, task domain.UploadTask, hooks port.TaskHooks) (domain.TransferMetrics, error) {
		return domain.TransferMetrics{TotalChunks: 1, SuccessfulChunks: 1}, nil
	}
}

type recorder struct {
	mu     sync.Mutex
	events []domain.Event
}

func (r *recorder) Emit(e domain.Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, e)
}

func (r *recorder) forTask(id uuid.UUID) []domain.Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []domain.Event
	for _, e := range r.events {
		if e.TaskID == id {
			out = append(out, e)
		}
	}
	return out
}

func (r *recorder) types(id uuid.UUID) []domain.EventType {
	var out []domain.EventType
	for _, e := range r.forTask(id) {
		out = append(out, e.Type)
	}
	return out
}

func newTask(name string, priority int, size int) *domain.UploadTask {
	file := domain.File{Name: name, Priority: priority, Payload: bytes.NewReader(make([]byte, size))}
	return domain.NewUploadTask(uuid.New(), file, 4, time.Now())
}

func waitFor(t *testing.T, q *queue.Queue, check func(domain.QueueStats) bool) {
	t.Helper()
	require.Eventually(t, func() bool { return check(q.Stats()) }, 2*time.Second, 5*time.Millisecond)
}

func TestQueue_Enqueue(t *testing.T) {
	t.Run("admits by priority then enqueue order", func(t *testing.T) {
		// Arrange
		var mu sync.Mutex
		var order []string
		exec := executorFunc(func(ctx context.Context, task domain.UploadTask, hooks port.TaskHooks) (domain.TransferMetrics, error) {
			mu.Lock()
			order = append(order, task.Name)
			mu.Unlock()
			return domain.TransferMetrics{}, nil
		})
		q := queue.NewQueue(exec, nil, 1, discardLogger)
		defer q.Close()
		q.Pause()

		// Act
		for _, task := range []*domain.UploadTask{
			newTask("low", 1, 10),
			newTask("high-1", 5, 10),
			newTask("high-2", 5, 10),
			newTask("mid", 3, 10),
		} {
			_, err := q.Enqueue(task)
			require.NoError(t, err)
		}
		q.Resume()

		// Assert
		waitFor(t, q, func(s domain.QueueStats) bool { return s.Succeeded == 4 })
		mu.Lock()
		defer mu.Unlock()
		assert.Equal(t, []string{"high-1", "high-2", "mid", "low"}, order)
	})

	t.Run("rejects nil payload and closed queue", func(t *testing.T) {
		// Arrange
		q := queue.NewQueue(instant(), nil, 1, discardLogger)
		task := newTask("a", 0, 1)
		task.Payload = nil

		// Act
		_, nilErr := q.Enqueue(task)
		q.Close()
		_, closedErr := q.Enqueue(newTask("b", 0, 1))

		// Assert
		assert.ErrorIs(t, nilErr, domain.ErrNilPayload)
		assert.ErrorIs(t, closedErr, domain.ErrQueueClosed)
	})
}

type statsSink struct {
	q          atomic.Pointer[queue.Queue]
	limit      int
	violations atomic.Int32
}

func (s *statsSink) Emit(e domain.Event) {
	q := s.q.Load()
	if q == nil {
		return
	}
	if q.Stats().Active > s.limit {
		s.violations.Add(1)
	}
}

func TestQueue_ConcurrencyLimit(t *testing.T) {
	for seed := uint64(1); seed <= 20; seed++ {
		t.Run(fmt.Sprintf("seed %d", seed), func(t *testing.T) {
			// Arrange
			rng := rand.New(rand.NewPCG(seed, seed*31))
			limit := 1 + rng.IntN(4)
			count := 1 + rng.IntN(25)
			delays := make(map[string]time.Duration, count)
			tasks := make([]*domain.UploadTask, 0, count)
			for i := range count {
				name := fmt.Sprintf("doc-%d", i)
				delays[name] = time.Duration(rng.IntN(3000)) * time.Microsecond
				tasks = append(tasks, newTask(name, rng.IntN(5), 1+rng.IntN(100)))
			}

			var inFlight, peak atomic.Int32
			exec := executorFunc(func(ctx context.Context, task domain.UploadTask, hooks port.TaskHooks) (domain.TransferMetrics, error) {
				current := inFlight.Add(1)
				for {
					p := peak.Load()
					if current <= p || peak.CompareAndSwap(p, current) {
						break
					}
				}
				time.Sleep(delays[task.Name])
				inFlight.Add(-1)
				return domain.TransferMetrics{}, nil
			})
			sink := &statsSink{limit: limit}
			q := queue.NewQueue(exec, sink, limit, discardLogger)
			defer q.Close()
			sink.q.Store(q)

			// Act
			for _, task := range tasks {
				_, err := q.Enqueue(task)
				require.NoError(t, err)
			}

			// Assert
			waitFor(t, q, func(s domain.QueueStats) bool { return s.Succeeded == count })
			assert.Zero(t, sink.violations.Load())
			assert.LessOrEqual(t, int(peak.Load()), limit)
		})
	}
}

func TestQueue_Cancel(t *testing.T) {
	t.Run("pending task is removed and never executed", func(t *testing.T) {
		// Arrange
		rec := &recorder{}
		var executed atomic.Int32
		exec := executorFunc(func(ctx context.Context, task domain.UploadTask, hooks port.TaskHooks) (domain.TransferMetrics, error) {
			executed.Add(1)
			return domain.TransferMetrics{}, nil
		})
		q := queue.NewQueue(exec, rec, 1, discardLogger)
		defer q.Close()
		q.Pause()
		id, err := q.Enqueue(newTask("a", 0, 10))
		require.NoError(t, err)

		// Act
		first := q.Cancel(id)
		second := q.Cancel(id)
		unknown := q.Cancel(uuid.New())
		q.Resume()

		// Assert
		assert.True(t, first)
		assert.False(t, second)
		assert.False(t, unknown)
		assert.Equal(t, []domain.EventType{domain.EventTypeQueued, domain.EventTypeCancelled}, rec.types(id))
		assert.Equal(t, 1, q.Stats().Cancelled)
		assert.Zero(t, executed.Load())
	})

	t.Run("active task frees its slot at once", func(t *testing.T) {
		// Arrange
		rec := &recorder{}
		release := make(chan struct{})
		unwound := make(chan struct{})
		exec := executorFunc(func(ctx context.Context, task domain.UploadTask, hooks port.TaskHooks) (domain.TransferMetrics, error) {
			if task.Name == "slow" {
				<-ctx.Done()
				<-release
				close(unwound)
				return domain.TransferMetrics{}, ctx.Err()
			}
			return domain.TransferMetrics{}, nil
		})
		q := queue.NewQueue(exec, rec, 1, discardLogger)
		defer q.Close()
		slowID, _ := q.Enqueue(newTask("slow", 0, 10))
		nextID, _ := q.Enqueue(newTask("next", 0, 10))
		waitFor(t, q, func(s domain.QueueStats) bool { return s.Active == 1 && s.Pending == 1 })

		// Act
		cancelled := q.Cancel(slowID)

		// Assert
		assert.True(t, cancelled)
		waitFor(t, q, func(s domain.QueueStats) bool { return s.Succeeded == 1 })
		close(release)
		<-unwound

		slow, ok := q.Task(slowID)
		require.True(t, ok)
		assert.Equal(t, domain.TaskStateCancelled, slow.State)
		assert.Equal(t, []domain.EventType{domain.EventTypeQueued, domain.EventTypeStarted, domain.EventTypeCancelled}, rec.types(slowID))
		assert.Contains(t, rec.types(nextID), domain.EventTypeCompleted)
	})

	t.Run("close cancels everything left", func(t *testing.T) {
		// Arrange
		exec := executorFunc(func(ctx context.Context, task domain.UploadTask, hooks port.TaskHooks) (domain.TransferMetrics, error) {
			<-ctx.Done()
			return domain.TransferMetrics{}, ctx.Err()
		})
		q := queue.NewQueue(exec, nil, 1, discardLogger)
		_, _ = q.Enqueue(newTask("a", 0, 10))
		_, _ = q.Enqueue(newTask("b", 0, 10))

		// Act
		q.Close()

		// Assert
		stats := q.Stats()
		assert.Equal(t, 2, stats.Cancelled)
		assert.Zero(t, stats.Active)
	})
}

func TestQueue_CancelNextWhileFinishing(t *testing.T) {
	for i := range 300 {
		// Arrange
		rec := &recorder{}
		release := make(chan struct{})
		exec := executorFunc(func(ctx context.Context, task domain.UploadTask, hooks port.TaskHooks) (domain.TransferMetrics, error) {
			if task.Name == "a" {
				<-release
				return domain.TransferMetrics{}, nil
			}
			<-ctx.Done()
			return domain.TransferMetrics{}, ctx.Err()
		})
		q := queue.NewQueue(exec, rec, 1, discardLogger)
		_, err := q.Enqueue(newTask("a", 0, 10))
		require.NoError(t, err)
		bID, err := q.Enqueue(newTask("b", 0, 10))
		require.NoError(t, err)

		// Act
		var wg sync.WaitGroup
		wg.Add(2)
		go func() {
			defer wg.Done()
			close(release)
		}()
		go func() {
			defer wg.Done()
			q.Cancel(bID)
		}()
		wg.Wait()
		waitFor(t, q, func(s domain.QueueStats) bool { return s.Succeeded == 1 && s.Cancelled == 1 })
		q.Close()

		// Assert
		b, ok := q.Task(bID)
		require.True(t, ok, "iteration %d", i)
		assert.Equal(t, domain.TaskStateCancelled, b.State, "iteration %d", i)
		types := rec.types(bID)
		require.NotEmpty(t, types)
		assert.Equal(t, domain.EventTypeCancelled, types[len(types)-1], "iteration %d", i)
		assert.NotContains(t, types[:len(types)-1], domain.EventTypeCancelled, "iteration %d", i)
	}
}

// closablePayload counts how often it is closed
type closablePayload struct {
	*bytes.Reader
	closed atomic.Int32
}

func (p *closablePayload) Close() error {
	p.closed.Add(1)
	return nil
}

func closableTask(name string) (*domain.UploadTask, *closablePayload) {
	payload := &closablePayload{Reader: bytes.NewReader(make([]byte, 10))}
	task := domain.NewUploadTask(uuid.New(), domain.File{Name: name, Payload: payload}, 4, time.Now())
	return task, payload
}

func TestQueue_ReleasesPayloads(t *testing.T) {
	t.Run("finished task", func(t *testing.T) {
		// Arrange
		q := queue.NewQueue(instant(), nil, 1, discardLogger)
		task, payload := closableTask("a")

		// Act
		_, err := q.Enqueue(task)
		require.NoError(t, err)
		waitFor(t, q, func(s domain.QueueStats) bool { return s.Succeeded == 1 })
		q.Close()

		// Assert
		assert.Equal(t, int32(1), payload.closed.Load())
	})

	t.Run("pending task on cancel", func(t *testing.T) {
		// Arrange
		q := queue.NewQueue(instant(), nil, 1, discardLogger)
		defer q.Close()
		q.Pause()
		task, payload := closableTask("a")
		id, err := q.Enqueue(task)
		require.NoError(t, err)

		// Act
		q.Cancel(id)

		// Assert
		assert.Equal(t, int32(1), payload.closed.Load())
	})

	t.Run("running task once its runner returns", func(t *testing.T) {
		// Arrange
		release := make(chan struct{})
		exec := executorFunc(func(ctx context.Context, task domain.UploadTask, hooks port.TaskHooks) (domain.TransferMetrics, error) {
			<-ctx.Done()
			<-release
			return domain.TransferMetrics{}, ctx.Err()
		})
		q := queue.NewQueue(exec, nil, 1, discardLogger)
		task, payload := closableTask("a")
		id, err := q.Enqueue(task)
		require.NoError(t, err)
		waitFor(t, q, func(s domain.QueueStats) bool { return s.Active == 1 })

		// Act
		q.Cancel(id)
		closedWhileRunning := payload.closed.Load()
		close(release)
		q.Close()

		// Assert
		assert.Zero(t, closedWhileRunning)
		assert.Equal(t, int32(1), payload.closed.Load())
	})
}

func TestQueue_Progress(t *testing.T) {
	// Arrange
	rec := &recorder{}
	exec := executorFunc(func(ctx context.Context, task domain.UploadTask, hooks port.TaskHooks) (domain.TransferMetrics, error) {
		hooks.OnAttempt(1)
		hooks.OnProgress(40, 10)
		hooks.OnProgress(30, 10)
		hooks.OnRetry(domain.RetryAttempt{Index: 0, NominalDelay: time.Second, Class: domain.ErrorClassNetwork})
		hooks.OnAttempt(2)
		hooks.OnProgress(80, 12)
		hooks.OnProgress(100, 12)
		return domain.TransferMetrics{TotalChunks: 1, SuccessfulChunks: 1, Retries: 1}, nil
	})
	q := queue.NewQueue(exec, rec, 1, discardLogger)
	defer q.Close()

	// Act
	id, err := q.Enqueue(newTask("statement.pdf", 0, 100))
	require.NoError(t, err)

	// Assert
	waitFor(t, q, func(s domain.QueueStats) bool { return s.Succeeded == 1 })
	events := rec.forTask(id)
	require.Len(t, events, 6)
	assert.Equal(t, []domain.EventType{
		domain.EventTypeQueued,
		domain.EventTypeStarted,
		domain.EventTypeProgress,
		domain.EventTypeRetrying,
		domain.EventTypeProgress,
		domain.EventTypeCompleted,
	}, rec.types(id))

	full := 0
	for _, e := range events {
		assert.LessOrEqual(t, e.Loaded, e.Total)
		if e.Loaded == e.Total {
			full++
		}
	}
	assert.Equal(t, 1, full)
	assert.Equal(t, int64(80), events[4].Loaded)
	require.NotNil(t, events[3].Retry)
	assert.Equal(t, domain.ErrorClassNetwork, events[3].Retry.Class)

	last := events[5]
	assert.Equal(t, 2, last.Attempts)
	require.NotNil(t, last.Metrics)
	assert.Equal(t, 1, last.Metrics.Retries)
}

func TestQueue_Failure(t *testing.T) {
	// Arrange
	rec := &recorder{}
	exec := executorFunc(func(ctx context.Context, task domain.UploadTask, hooks port.TaskHooks) (domain.TransferMetrics, error) {
		return domain.TransferMetrics{TotalChunks: 1, FailedChunks: 1}, &domain.StatusError{StatusCode: 422, Body: "unsupported document"}
	})
	q := queue.NewQueue(exec, rec, 1, discardLogger)
	defer q.Close()

	// Act
	id, _ := q.Enqueue(newTask("id-card.png", 0, 10))

	// Assert
	waitFor(t, q, func(s domain.QueueStats) bool { return s.Failed == 1 })
	events := rec.forTask(id)
	last := events[len(events)-1]
	assert.Equal(t, domain.EventTypeFailed, last.Type)
	assert.Equal(t, domain.ErrorClassClientError, last.ErrorClass)
	assert.Contains(t, last.Message, "unsupported document")
	task, _ := q.Task(id)
	var statusErr *domain.StatusError
	assert.True(t, errors.As(task.LastError, &statusErr))
}

func TestQueue_Connectivity(t *testing.T) {
	t.Run("offline diverts pending tasks and online admits them with the same ids", func(t *testing.T) {
		// Arrange
		rec := &recorder{}
		source := gate.NewSwitch(true)
		g := gate.NewGate(source, discardLogger)
		q := queue.NewQueue(instant(), rec, 2, discardLogger, queue.WithGate(g))
		defer q.Close()
		q.Pause()
		first, _ := q.Enqueue(newTask("a", 0, 10))
		second, _ := q.Enqueue(newTask("b", 0, 10))

		// Act
		source.Set(false)
		offline := q.Stats()
		q.Resume()
		stillOffline := q.Stats()
		source.Set(true)

		// Assert
		assert.Equal(t, 2, offline.QueuedOffline)
		assert.False(t, offline.Online)
		assert.Equal(t, 2, stillOffline.QueuedOffline)
		waitFor(t, q, func(s domain.QueueStats) bool { return s.Succeeded == 2 })

		for _, id := range []uuid.UUID{first, second} {
			var states []domain.TaskState
			for _, e := range rec.forTask(id) {
				states = append(states, e.State)
			}
			assert.Equal(t, []domain.TaskState{
				domain.TaskStatePending,
				domain.TaskStateQueuedOffline,
				domain.TaskStatePending,
				domain.TaskStateActive,
				domain.TaskStateSucceeded,
			}, states)
		}
	})

	t.Run("enqueue while offline holds the task", func(t *testing.T) {
		// Arrange
		source := gate.NewSwitch(false)
		q := queue.NewQueue(instant(), nil, 1, discardLogger, queue.WithGate(gate.NewGate(source, discardLogger)))
		defer q.Close()

		// Act
		id, err := q.Enqueue(newTask("a", 0, 10))
		require.NoError(t, err)
		held, _ := q.Task(id)
		source.Set(true)

		// Assert
		assert.Equal(t, domain.TaskStateQueuedOffline, held.State)
		waitFor(t, q, func(s domain.QueueStats) bool { return s.Succeeded == 1 })
	})

	t.Run("network failure while offline requeues the task", func(t *testing.T) {
		// Arrange
		source := gate.NewSwitch(true)
		var calls atomic.Int32
		exec := executorFunc(func(ctx context.Context, task domain.UploadTask, hooks port.TaskHooks) (domain.TransferMetrics, error) {
			if calls.Add(1) == 1 {
				source.Set(false)
				return domain.TransferMetrics{}, errors.New("dial tcp: network is unreachable")
			}
			return domain.TransferMetrics{}, nil
		})
		q := queue.NewQueue(exec, nil, 1, discardLogger, queue.WithGate(gate.NewGate(source, discardLogger)))
		defer q.Close()

		// Act
		id, _ := q.Enqueue(newTask("a", 0, 10))
		waitFor(t, q, func(s domain.QueueStats) bool { return s.QueuedOffline == 1 })
		source.Set(true)

		// Assert
		waitFor(t, q, func(s domain.QueueStats) bool { return s.Succeeded == 1 })
		task, _ := q.Task(id)
		assert.Equal(t, 2, task.Attempts)
		assert.Equal(t, int32(2), calls.Load())
	})
}

func TestQueue_Resume(t *testing.T) {
	// Arrange
	release := make(chan struct{})
	exec := executorFunc(func(ctx context.Context, task domain.UploadTask, hooks port.TaskHooks) (domain.TransferMetrics, error) {
		select {
		case <-release:
		case <-ctx.Done():
		}
		return domain.TransferMetrics{}, nil
	})
	rec := &recorder{}
	q := queue.NewQueue(exec, rec, 1, discardLogger)
	defer q.Close()
	for i := range 3 {
		_, _ = q.Enqueue(newTask(fmt.Sprintf("doc-%d", i), 0, 10))
	}
	waitFor(t, q, func(s domain.QueueStats) bool { return s.Active == 1 })

	// Act
	q.Pause()
	paused := q.Stats()
	q.Resume(3)

	// Assert
	assert.True(t, paused.Paused)
	waitFor(t, q, func(s domain.QueueStats) bool { return s.Active == 3 && s.Concurrency == 3 && !s.Paused })
	close(release)
	waitFor(t, q, func(s domain.QueueStats) bool { return s.Succeeded == 3 })

	var queueEvents []domain.EventType
	rec.mu.Lock()
	for _, e := range rec.events {
		if e.Scope == domain.EventScopeQueue {
			queueEvents = append(queueEvents, e.Type)
		}
	}
	rec.mu.Unlock()
	assert.Equal(t, []domain.EventType{domain.EventTypePaused, domain.EventTypeResumed}, queueEvents)
}
