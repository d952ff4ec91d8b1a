// Package upload groups upload tasks into sessions and drives them through the
// task queue. It is the entry point used by the HTTP agent API.
package upload

import (
	"context"
	"fmt"
	"loan-upload/internal/config"
	"loan-upload/internal/core/domain"
	"loan-upload/internal/core/port"
	"loan-upload/internal/core/service/clock"
	"loan-upload/internal/core/service/progress"
	"loan-upload/internal/core/service/queue"
	"loan-upload/internal/core/service/retry"
	"loan-upload/internal/core/service/status"
	"log/slog"
	"sort"
	"sync"

	"github.com/google/uuid"
)

type session struct {
	domain.UploadSession
	// completed is set once session_completed was emitted for the current members
	completed bool
	// enqueueing counts enqueue calls whose members are not in the queue yet
	enqueueing int
}

// Option configures a Controller
type Option func(*Controller)

// WithGate makes admissions follow connectivity
func WithGate(g port.Gate) Option {
	return func(c *Controller) {
		c.gate = g
	}
}

// WithClock replaces the system clock
func WithClock(cl port.Clock) Option {
	return func(c *Controller) {
		c.clock = cl
	}
}

// Controller is the upload session controller
type Controller struct {
	cfg         config.UploadConfig
	maxAttempts int
	queue       *queue.Queue
	tracker     *status.Tracker
	progress    *progress.Aggregator
	gate        port.Gate
	clock       port.Clock
	logger      *slog.Logger
	unsubscribe []func()

	mu       sync.Mutex
	sessions map[uuid.UUID]*session
}

var _ port.UploadService = (*Controller)(nil)

// NewController creates a Controller publishing every event on tracker
func NewController(cfg config.UploadConfig, retryCfg config.RetryConfig, executor port.TaskExecutor, tracker *status.Tracker, logger *slog.Logger, opts ...Option) *Controller {
	c := &Controller{
		cfg:         cfg,
		maxAttempts: retryCfg.MaxRetries + 1,
		tracker:     tracker,
		clock:       clock.System{},
		logger:      logger,
		sessions:    make(map[uuid.UUID]*session),
	}
	for _, opt := range opts {
		opt(c)
	}

	queueOpts := []queue.Option{queue.WithClock(c.clock)}
	if c.gate != nil {
		queueOpts = append(queueOpts, queue.WithGate(c.gate))
	}
	c.queue = queue.NewQueue(executor, tracker, cfg.Concurrency, logger, queueOpts...)
	c.progress = progress.NewAggregator(tracker)
	c.unsubscribe = append(c.unsubscribe,
		tracker.Subscribe(c.progress.Handle),
		tracker.Subscribe(c.onEvent),
	)
	return c
}

// WatchBreaker surfaces the breaker state as degraded/recovered channel events
func (c *Controller) WatchBreaker(b *retry.Breaker) {
	b.OnStateChange(func(state retry.BreakerState) {
		event := domain.Event{Scope: domain.EventScopeChannel, At: c.clock.Now()}
		switch state {
		case retry.BreakerOpen:
			event.Type = domain.EventTypeDegraded
			event.Message = "service degraded, pausing retries"
			c.logger.Warn("upload channel degraded")
		case retry.BreakerClosed:
			event.Type = domain.EventTypeRecovered
			event.Message = "service recovered"
			c.logger.Info("upload channel recovered")
		default:
			return
		}
		c.tracker.Emit(event)
	})
}

// CreateSession creates an empty session
func (c *Controller) CreateSession(name string) uuid.UUID {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.newSessionLocked(name).ID
}

func (c *Controller) newSessionLocked(name string) *session {
	s := &session{UploadSession: domain.UploadSession{
		ID:        uuid.New(),
		Name:      name,
		CreatedAt: c.clock.Now(),
	}}
	c.sessions[s.ID] = s
	return s
}

// UploadFile uploads one file. Without sessionID the file gets its own session.
func (c *Controller) UploadFile(file domain.File, category string, sessionID *uuid.UUID) (uuid.UUID, error) {
	file.Category = category
	ids, err := c.enqueue([]domain.File{file}, sessionID, file.Name)
	if err != nil {
		return uuid.Nil, err
	}
	return ids[0], nil
}

// UploadFiles uploads a batch. Without sessionID the whole batch shares one new session.
func (c *Controller) UploadFiles(files []domain.File, sessionID *uuid.UUID) ([]uuid.UUID, error) {
	if len(files) == 0 {
		return nil, domain.ErrNoFiles
	}
	return c.enqueue(files, sessionID, fmt.Sprintf("batch of %d files", len(files)))
}

func (c *Controller) enqueue(files []domain.File, sessionID *uuid.UUID, name string) ([]uuid.UUID, error) {
	for _, f := range files {
		if f.Payload == nil {
			return nil, fmt.Errorf("failed to upload %q: %w", f.Name, domain.ErrNilPayload)
		}
	}

	c.mu.Lock()
	var s *session
	if sessionID == nil {
		s = c.newSessionLocked(name)
	} else {
		var ok bool
		s, ok = c.sessions[*sessionID]
		if !ok {
			c.mu.Unlock()
			return nil, domain.ErrSessionNotFound
		}
		if s.Cancelled {
			c.mu.Unlock()
			return nil, domain.ErrSessionCancelled
		}
	}

	now := c.clock.Now()
	tasks := make([]*domain.UploadTask, 0, len(files))
	for _, f := range files {
		task := domain.NewUploadTask(s.ID, f, c.maxAttempts, now)
		s.TaskIDs = append(s.TaskIDs, task.ID)
		tasks = append(tasks, task)
	}
	s.completed = false
	s.enqueueing++
	c.mu.Unlock()

	ids := make([]uuid.UUID, 0, len(tasks))
	for i, task := range tasks {
		id, err := c.queue.Enqueue(task)
		if err != nil {
			c.dropMembers(s, tasks[i:])
			return ids, fmt.Errorf("failed to enqueue %q: %w", task.Name, err)
		}
		ids = append(ids, id)
	}

	// a CancelSession running meanwhile could not see the tasks enqueued after it
	c.mu.Lock()
	s.enqueueing--
	cancelled := s.Cancelled
	c.mu.Unlock()
	if cancelled {
		c.queue.CancelMany(ids)
	}

	c.logger.Debug("files enqueued", "session_id", s.ID, "count", len(ids))
	return ids, nil
}

func (c *Controller) dropMembers(s *session, tasks []*domain.UploadTask) {
	c.mu.Lock()
	defer c.mu.Unlock()

	s.enqueueing--
	drop := make(map[uuid.UUID]bool, len(tasks))
	for _, t := range tasks {
		drop[t.ID] = true
	}
	kept := s.TaskIDs[:0]
	for _, id := range s.TaskIDs {
		if !drop[id] {
			kept = append(kept, id)
		}
	}
	s.TaskIDs = kept
}

// CancelSession cancels every non-terminal task of a session and closes it to new tasks
func (c *Controller) CancelSession(sessionID uuid.UUID) error {
	c.mu.Lock()
	s, ok := c.sessions[sessionID]
	if !ok {
		c.mu.Unlock()
		return domain.ErrSessionNotFound
	}
	s.Cancelled = true
	ids := append([]uuid.UUID(nil), s.TaskIDs...)
	c.mu.Unlock()

	cancelled := c.queue.CancelMany(ids)
	c.logger.Info("session cancelled", "session_id", sessionID, "cancelled_tasks", cancelled)
	return nil
}

// GetSessionStats returns the counts and aggregate progress of a session
func (c *Controller) GetSessionStats(sessionID uuid.UUID) (*domain.SessionStats, error) {
	c.mu.Lock()
	s, ok := c.sessions[sessionID]
	if !ok {
		c.mu.Unlock()
		return nil, domain.ErrSessionNotFound
	}
	stats := c.statsLocked(s)
	c.mu.Unlock()

	stats.Progress = c.progress.Session(sessionID)
	return &stats, nil
}

// ListSessions returns the stats of every retained session, oldest first
func (c *Controller) ListSessions() []domain.SessionStats {
	c.mu.Lock()
	out := make([]domain.SessionStats, 0, len(c.sessions))
	for _, s := range c.sessions {
		out = append(out, c.statsLocked(s))
	}
	c.mu.Unlock()

	for i := range out {
		out[i].Progress = c.progress.Session(out[i].SessionID)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out
}

func (c *Controller) statsLocked(s *session) domain.SessionStats {
	stats := domain.SessionStats{
		SessionID:   s.ID,
		Name:        s.Name,
		Total:       len(s.TaskIDs),
		IsCancelled: s.Cancelled,
		CreatedAt:   s.CreatedAt,
	}
	for _, id := range s.TaskIDs {
		task, ok := c.queue.Task(id)
		if !ok {
			continue
		}
		switch task.State {
		case domain.TaskStatePending:
			stats.Pending++
		case domain.TaskStateActive:
			stats.Active++
		case domain.TaskStateQueuedOffline:
			stats.QueuedOffline++
		case domain.TaskStateSucceeded:
			stats.Succeeded++
		case domain.TaskStateFailed:
			stats.Failed++
		case domain.TaskStateCancelled:
			stats.Cancelled++
		}
	}
	stats.Done = stats.Total > 0 && stats.Succeeded+stats.Failed+stats.Cancelled == stats.Total
	return stats
}

// SessionHistory returns the journal of a session, available after GC
func (c *Controller) SessionHistory(ctx context.Context, sessionID uuid.UUID) ([]domain.HistoryRecord, error) {
	return c.tracker.History(ctx, sessionID)
}

// CancelTask cancels one task
func (c *Controller) CancelTask(taskID uuid.UUID) bool {
	return c.queue.Cancel(taskID)
}

// TaskStatus returns the detail of one task, failure category included
func (c *Controller) TaskStatus(ctx context.Context, taskID uuid.UUID) (*domain.TaskStatus, error) {
	return c.tracker.Status(ctx, taskID)
}

// QueueStats returns the queue snapshot
func (c *Controller) QueueStats() domain.QueueStats {
	return c.queue.Stats()
}

// GlobalProgress returns the progress of every tracked task
func (c *Controller) GlobalProgress() domain.Progress {
	return c.progress.Global()
}

// Pause stops admitting tasks
func (c *Controller) Pause() {
	c.queue.Pause()
}

// Resume restarts admissions, optionally with a new concurrency limit
func (c *Controller) Resume(concurrency ...int) {
	c.queue.Resume(concurrency...)
}

// Subscribe registers listener on the event stream
func (c *Controller) Subscribe(listener port.Listener) func() {
	return c.tracker.Subscribe(listener)
}

// Close cancels the remaining tasks and detaches from the tracker
func (c *Controller) Close() {
	c.queue.Close()
	for _, unsubscribe := range c.unsubscribe {
		unsubscribe()
	}
}

func (c *Controller) onEvent(event domain.Event) {
	if !event.IsTerminal() || event.SessionID == uuid.Nil {
		return
	}

	c.mu.Lock()
	s, ok := c.sessions[event.SessionID]
	if !ok || s.completed {
		c.mu.Unlock()
		return
	}
	summary := domain.SessionSummary{Total: len(s.TaskIDs)}
	for _, id := range s.TaskIDs {
		task, ok := c.queue.Task(id)
		if !ok || !task.State.IsTerminal() {
			c.mu.Unlock()
			return
		}
		switch task.State {
		case domain.TaskStateSucceeded:
			summary.Succeeded++
		case domain.TaskStateFailed:
			summary.Failed++
		case domain.TaskStateCancelled:
			summary.Cancelled++
		}
	}
	s.completed = true
	name := s.Name
	c.mu.Unlock()

	c.logger.Info("session completed", "session_id", event.SessionID,
		"succeeded", summary.Succeeded, "failed", summary.Failed, "cancelled", summary.Cancelled)
	c.tracker.Emit(domain.Event{
		Type:      domain.EventTypeSessionCompleted,
		Scope:     domain.EventScopeSession,
		SessionID: event.SessionID,
		Name:      name,
		Summary:   &summary,
		At:        event.At,
	})
}
