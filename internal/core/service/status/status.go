// Package status keeps the last known state of every task and fans events out
// to subscribers, the upload history journal and the event broker.
package status

import (
	"context"
	"errors"
	"loan-upload/internal/core/domain"
	"loan-upload/internal/core/port"
	"log/slog"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
)

const (
	outboxSize     = 256
	journalTimeout = 5 * time.Second
)

type subscriber struct {
	id       uint64
	listener port.Listener
}

// Option configures a Tracker
type Option func(*Tracker)

// WithHistory journals terminal tasks into repo
func WithHistory(repo port.HistoryRepository) Option {
	return func(t *Tracker) {
		t.history = repo
	}
}

// WithPublisher forwards lifecycle events to an external broker
func WithPublisher(publisher port.EventPublisher) Option {
	return func(t *Tracker) {
		t.publisher = publisher
	}
}

// Tracker is the status tracker and event bus of the upload engine
type Tracker struct {
	logger *slog.Logger

	mu        sync.Mutex
	listeners map[uint64]port.Listener
	snapshot  []subscriber
	dirty     bool
	nextID    uint64
	tasks     map[uuid.UUID]*domain.TaskStatus

	history   port.HistoryRepository
	publisher port.EventPublisher

	// journal carries terminal records and is never dropped. outbox feeds the
	// broker and drops when full so a slow broker cannot stall Emit.
	outMu   sync.RWMutex
	journal chan domain.HistoryRecord
	outbox  chan domain.Event
	dropped atomic.Int64
	closed  bool
	wg      sync.WaitGroup
}

// NewTracker creates a Tracker. Close must be called to flush the journal.
func NewTracker(logger *slog.Logger, opts ...Option) *Tracker {
	t := &Tracker{
		logger:    logger,
		listeners: make(map[uint64]port.Listener),
		tasks:     make(map[uuid.UUID]*domain.TaskStatus),
	}
	for _, opt := range opts {
		opt(t)
	}

	if t.history != nil {
		t.journal = make(chan domain.HistoryRecord, outboxSize)
		t.wg.Add(1)
		go t.drainJournal()
	}
	if t.publisher != nil {
		t.outbox = make(chan domain.Event, outboxSize)
		t.wg.Add(1)
		go t.drainOutbox()
	}
	return t
}

// Emit records event and dispatches it synchronously to every subscriber.
// Events for a task that already reached a terminal state are dropped.
func (t *Tracker) Emit(event domain.Event) {
	t.mu.Lock()
	var record *domain.HistoryRecord
	if event.Scope == domain.EventScopeTask && event.TaskID != uuid.Nil {
		status, ok := t.applyLocked(event)
		if !ok {
			t.mu.Unlock()
			t.logger.Debug("dropping event for finished task", "task_id", event.TaskID, "type", event.Type)
			return
		}
		if event.IsTerminal() {
			r := status.HistoryRecord()
			record = &r
		}
	}
	subscribers := t.subscribersLocked()
	t.mu.Unlock()

	for _, s := range subscribers {
		s.listener(event)
	}

	t.forward(event, record)
}

// Subscribe registers listener and returns a function removing it.
// Both are safe to call from inside a listener.
func (t *Tracker) Subscribe(listener port.Listener) func() {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.nextID++
	id := t.nextID
	t.listeners[id] = listener
	t.dirty = true

	return func() {
		t.mu.Lock()
		defer t.mu.Unlock()
		if _, ok := t.listeners[id]; ok {
			delete(t.listeners, id)
			t.dirty = true
		}
	}
}

// subscribersLocked returns the listeners in subscription order. The returned
// slice is never mutated afterwards, a change builds a new one on the next emit.
func (t *Tracker) subscribersLocked() []subscriber {
	if !t.dirty {
		return t.snapshot
	}
	snapshot := make([]subscriber, 0, len(t.listeners))
	for id, l := range t.listeners {
		snapshot = append(snapshot, subscriber{id: id, listener: l})
	}
	sort.Slice(snapshot, func(i, j int) bool { return snapshot[i].id < snapshot[j].id })
	t.snapshot = snapshot
	t.dirty = false
	return snapshot
}

// Task returns the in-memory status of a task
func (t *Tracker) Task(id uuid.UUID) (domain.TaskStatus, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	status, ok := t.tasks[id]
	if !ok {
		return domain.TaskStatus{}, false
	}
	return *status, true
}

// Status returns the status of a task, falling back to the journal once it was forgotten
func (t *Tracker) Status(ctx context.Context, id uuid.UUID) (*domain.TaskStatus, error) {
	if status, ok := t.Task(id); ok {
		return &status, nil
	}
	if t.history == nil {
		return nil, domain.ErrTaskNotFound
	}

	record, err := t.history.FindByTaskID(ctx, id)
	if err != nil {
		return nil, err
	}
	return &domain.TaskStatus{
		TaskID:     record.TaskID,
		SessionID:  record.SessionID,
		Name:       record.Name,
		Category:   record.Category,
		State:      record.State,
		Total:      record.TotalSize,
		Loaded:     loadedOf(record),
		Attempts:   record.Attempts,
		ErrorClass: record.ErrorClass,
		Error:      record.Error,
		StartedAt:  record.StartedAt,
		UpdatedAt:  record.FinishedAt,
	}, nil
}

// History returns the journal entries of a session
func (t *Tracker) History(ctx context.Context, sessionID uuid.UUID) ([]domain.HistoryRecord, error) {
	if t.history == nil {
		return nil, nil
	}
	return t.history.FindBySessionID(ctx, sessionID)
}

// Forget drops the in-memory status of the given tasks
func (t *Tracker) Forget(ids ...uuid.UUID) {
	t.mu.Lock()
	defer t.mu.Unlock()

	for _, id := range ids {
		delete(t.tasks, id)
	}
}

// Dropped returns how many events were not published because the broker lagged
func (t *Tracker) Dropped() int64 {
	return t.dropped.Load()
}

// Close stops accepting journal work and waits for the pending writes
func (t *Tracker) Close() {
	t.outMu.Lock()
	if t.closed {
		t.outMu.Unlock()
		return
	}
	t.closed = true
	if t.journal != nil {
		close(t.journal)
	}
	if t.outbox != nil {
		close(t.outbox)
	}
	t.outMu.Unlock()

	t.wg.Wait()
}

func (t *Tracker) applyLocked(event domain.Event) (*domain.TaskStatus, bool) {
	status, ok := t.tasks[event.TaskID]
	if !ok {
		status = &domain.TaskStatus{TaskID: event.TaskID, SessionID: event.SessionID}
		t.tasks[event.TaskID] = status
	} else if status.State.IsTerminal() {
		return nil, false
	}

	if event.Name != "" {
		status.Name = event.Name
	}
	if event.Category != "" {
		status.Category = event.Category
	}
	if event.State != "" {
		status.State = event.State
	}
	if event.Loaded > status.Loaded {
		status.Loaded = event.Loaded
	}
	if event.Total > 0 {
		status.Total = event.Total
	}
	if event.Attempts > 0 {
		status.Attempts = event.Attempts
	}
	if event.StartedAt != nil {
		status.StartedAt = event.StartedAt
	}
	if event.Metrics != nil {
		status.Metrics = event.Metrics
	}
	status.Speed = event.Speed
	if event.ErrorClass != domain.ErrorClassNone {
		status.ErrorClass = event.ErrorClass
		status.Error = event.Message
	}
	status.UpdatedAt = event.At
	return status, true
}

func (t *Tracker) forward(event domain.Event, record *domain.HistoryRecord) {
	t.outMu.RLock()
	defer t.outMu.RUnlock()
	if t.closed {
		return
	}

	if record != nil && t.journal != nil {
		t.journal <- *record
	}
	// progress stays local, the broker only sees lifecycle changes
	if t.outbox == nil || event.Type == domain.EventTypeProgress {
		return
	}
	select {
	case t.outbox <- event:
	default:
		if n := t.dropped.Add(1); n == 1 || n%100 == 0 {
			t.logger.Warn("event broker lagging, dropping events", "type", event.Type, "dropped", n)
		}
	}
}

func (t *Tracker) drainJournal() {
	defer t.wg.Done()

	for record := range t.journal {
		ctx, cancel := context.WithTimeout(context.Background(), journalTimeout)
		if err := t.history.Save(ctx, record); err != nil {
			t.logger.Error("failed to journal task", "task_id", record.TaskID, "error", err)
		}
		cancel()
	}
}

func (t *Tracker) drainOutbox() {
	defer t.wg.Done()

	for event := range t.outbox {
		ctx, cancel := context.WithTimeout(context.Background(), journalTimeout)
		if err := t.publisher.Publish(ctx, event); err != nil && !errors.Is(err, context.Canceled) {
			t.logger.Warn("failed to publish event", "type", event.Type, "error", err)
		}
		cancel()
	}
}

func loadedOf(record *domain.HistoryRecord) int64 {
	if record.State == domain.TaskStateSucceeded {
		return record.TotalSize
	}
	return 0
}
