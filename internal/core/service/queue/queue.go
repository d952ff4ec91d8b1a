// Package queue admits upload tasks under a global concurrency limit and drives
// their lifecycle from pending to a terminal state.
//
// All bookkeeping happens under one mutex. Events produced by a state change are
// collected while the lock is held and emitted right after it is released, then
// the newly admitted tasks are started, so a task's started event always precedes
// its first progress event.
package queue

import (
	"context"
	"io"
	"loan-upload/internal/core/domain"
	"loan-upload/internal/core/port"
	"loan-upload/internal/core/service/clock"
	"loan-upload/internal/core/service/retry"
	"log/slog"
	"sort"
	"sync"

	"github.com/google/uuid"
)

type entry struct {
	task   *domain.UploadTask
	ctx    context.Context
	cancel context.CancelFunc
	// run identifies the current execution so late hooks from an older one are ignored
	run     uint64
	baseTry int
}

// launch is an admitted execution captured under the lock
type launch struct {
	entry *entry
	ctx   context.Context
	run   uint64
	task  domain.UploadTask
}

// Option configures a Queue
type Option func(*Queue)

// WithClock replaces the system clock
func WithClock(c port.Clock) Option {
	return func(q *Queue) {
		q.clock = c
	}
}

// WithGate makes admission depend on connectivity
func WithGate(g port.Gate) Option {
	return func(q *Queue) {
		q.gate = g
	}
}

// Queue is the upload task queue
type Queue struct {
	logger   *slog.Logger
	executor port.TaskExecutor
	sink     port.EventSink
	gate     port.Gate
	clock    port.Clock

	ctx       context.Context
	cancelAll context.CancelFunc
	stopGate  func()
	wg        sync.WaitGroup

	mu          sync.Mutex
	concurrency int
	paused      bool
	closed      bool
	seq         uint64
	runs        uint64
	tasks       map[uuid.UUID]*entry
	pending     []*entry
	offline     []*entry
	active      int
}

// NewQueue creates a Queue running at most concurrency tasks at once
func NewQueue(executor port.TaskExecutor, sink port.EventSink, concurrency int, logger *slog.Logger, opts ...Option) *Queue {
	if concurrency <= 0 {
		concurrency = 1
	}
	ctx, cancel := context.WithCancel(context.Background())
	q := &Queue{
		logger:      logger,
		executor:    executor,
		sink:        sink,
		clock:       clock.System{},
		ctx:         ctx,
		cancelAll:   cancel,
		concurrency: concurrency,
		tasks:       make(map[uuid.UUID]*entry),
	}
	for _, opt := range opts {
		opt(q)
	}
	if q.gate != nil {
		q.stopGate = q.gate.OnTransition(q.onConnectivity)
	}
	return q
}

// Enqueue adds task and runs an admission pass. The task is owned by the queue afterwards.
func (q *Queue) Enqueue(task *domain.UploadTask) (uuid.UUID, error) {
	if task.Payload == nil {
		return uuid.Nil, domain.ErrNilPayload
	}

	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return uuid.Nil, domain.ErrQueueClosed
	}

	if task.ID == uuid.Nil {
		task.ID = uuid.New()
	}
	q.seq++
	task.Seq = q.seq
	if task.CreatedAt.IsZero() {
		task.CreatedAt = q.clock.Now()
	}
	e := &entry{task: task}
	q.tasks[task.ID] = e

	var events []domain.Event
	if q.isOnline() {
		task.State = domain.TaskStatePending
		q.insertPendingLocked(e)
	} else {
		task.State = domain.TaskStateQueuedOffline
		q.offline = append(q.offline, e)
	}
	events = append(events, domain.TaskEvent(domain.EventTypeQueued, *task, q.clock.Now()))
	started := q.admitLocked(&events)
	q.mu.Unlock()

	q.dispatch(events, started)
	return task.ID, nil
}

// Cancel cancels a task. It returns false when the task is unknown or already terminal.
func (q *Queue) Cancel(id uuid.UUID) bool {
	q.mu.Lock()
	e, ok := q.tasks[id]
	if !ok || e.task.State.IsTerminal() {
		q.mu.Unlock()
		return false
	}

	var events []domain.Event
	var idle []*entry
	q.cancelLocked(e, &events, &idle)
	started := q.admitLocked(&events)
	q.mu.Unlock()

	q.dispatch(events, started)
	q.releaseAll(idle)
	return true
}

// CancelMany cancels every non-terminal task of ids in one pass and returns how many were cancelled
func (q *Queue) CancelMany(ids []uuid.UUID) int {
	q.mu.Lock()
	var events []domain.Event
	var idle []*entry
	cancelled := 0
	for _, id := range ids {
		e, ok := q.tasks[id]
		if !ok || e.task.State.IsTerminal() {
			continue
		}
		q.cancelLocked(e, &events, &idle)
		cancelled++
	}
	started := q.admitLocked(&events)
	q.mu.Unlock()

	q.dispatch(events, started)
	q.releaseAll(idle)
	return cancelled
}

// Pause stops admissions. Active tasks keep running.
func (q *Queue) Pause() {
	q.mu.Lock()
	if q.paused {
		q.mu.Unlock()
		return
	}
	q.paused = true
	events := []domain.Event{q.queueEventLocked(domain.EventTypePaused)}
	q.mu.Unlock()

	q.logger.Info("upload queue paused")
	q.dispatch(events, nil)
}

// Resume restarts admissions, optionally with a new concurrency limit.
// Lowering the limit never preempts active tasks.
func (q *Queue) Resume(concurrency ...int) {
	q.mu.Lock()
	if len(concurrency) > 0 && concurrency[0] > 0 {
		q.concurrency = concurrency[0]
	}
	var events []domain.Event
	if q.paused {
		q.paused = false
		events = append(events, q.queueEventLocked(domain.EventTypeResumed))
	}
	started := q.admitLocked(&events)
	limit := q.concurrency
	q.mu.Unlock()

	q.logger.Info("upload queue resumed", "concurrency", limit)
	q.dispatch(events, started)
}

// Stats returns a snapshot of the queue
func (q *Queue) Stats() domain.QueueStats {
	q.mu.Lock()
	defer q.mu.Unlock()

	stats := domain.QueueStats{
		Concurrency: q.concurrency,
		Paused:      q.paused,
		Online:      q.isOnline(),
	}
	for _, e := range q.tasks {
		switch e.task.State {
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
	return stats
}

// Task returns a copy of a task
func (q *Queue) Task(id uuid.UUID) (domain.UploadTask, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	e, ok := q.tasks[id]
	if !ok {
		return domain.UploadTask{}, false
	}
	return *e.task, true
}

// Forget drops terminal tasks from memory and returns how many were dropped
func (q *Queue) Forget(ids ...uuid.UUID) int {
	q.mu.Lock()
	defer q.mu.Unlock()

	dropped := 0
	for _, id := range ids {
		if e, ok := q.tasks[id]; ok && e.task.State.IsTerminal() {
			delete(q.tasks, id)
			dropped++
		}
	}
	return dropped
}

// Close cancels every non-terminal task and waits for the runners to return
func (q *Queue) Close() {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return
	}
	q.closed = true

	var events []domain.Event
	var idle []*entry
	for _, e := range q.tasks {
		if !e.task.State.IsTerminal() {
			q.cancelLocked(e, &events, &idle)
		}
	}
	q.mu.Unlock()

	if q.stopGate != nil {
		q.stopGate()
	}
	q.cancelAll()
	q.dispatch(events, nil)
	q.releaseAll(idle)
	q.wg.Wait()
}

func (q *Queue) isOnline() bool {
	return q.gate == nil || q.gate.IsOnline()
}

func (q *Queue) onConnectivity(online bool) {
	q.mu.Lock()
	var events []domain.Event
	if online {
		q.restoreLocked(&events)
	} else {
		q.divertLocked(&events)
	}
	started := q.admitLocked(&events)
	q.mu.Unlock()

	q.dispatch(events, started)
}

// divertLocked moves every pending task to the offline holding area
func (q *Queue) divertLocked(events *[]domain.Event) {
	now := q.clock.Now()
	for _, e := range q.pending {
		e.task.State = domain.TaskStateQueuedOffline
		q.offline = append(q.offline, e)
		*events = append(*events, domain.TaskEvent(domain.EventTypeQueued, *e.task, now))
	}
	q.pending = nil
	sortEntries(q.offline)
}

// restoreLocked turns every queued-offline task back into a pending one
func (q *Queue) restoreLocked(events *[]domain.Event) {
	now := q.clock.Now()
	for _, e := range q.offline {
		e.task.State = domain.TaskStatePending
		q.insertPendingLocked(e)
		*events = append(*events, domain.TaskEvent(domain.EventTypeQueued, *e.task, now))
	}
	q.offline = nil
}

// admitLocked starts as many pending tasks as there are free slots
func (q *Queue) admitLocked(events *[]domain.Event) []launch {
	if q.paused || q.closed {
		return nil
	}
	if !q.isOnline() {
		if len(q.pending) > 0 {
			q.divertLocked(events)
		}
		return nil
	}

	var started []launch
	now := q.clock.Now()
	for q.active < q.concurrency && len(q.pending) > 0 {
		e := q.pending[0]
		q.pending = q.pending[1:]

		q.runs++
		e.run = q.runs
		e.baseTry = e.task.Attempts
		e.ctx, e.cancel = context.WithCancel(q.ctx)
		startedAt := now
		e.task.State = domain.TaskStateActive
		e.task.StartedAt = &startedAt
		e.task.Speed = 0
		q.active++

		*events = append(*events, domain.TaskEvent(domain.EventTypeStarted, *e.task, now))
		started = append(started, launch{entry: e, ctx: e.ctx, run: e.run, task: *e.task})
	}
	return started
}

// cancelLocked marks e cancelled. The payload of a task that was not running
// is appended to idle; a running one is released when its runner returns.
func (q *Queue) cancelLocked(e *entry, events *[]domain.Event, idle *[]*entry) {
	if e.task.State != domain.TaskStateActive {
		*idle = append(*idle, e)
	}
	switch e.task.State {
	case domain.TaskStatePending:
		q.pending = removeEntry(q.pending, e)
	case domain.TaskStateQueuedOffline:
		q.offline = removeEntry(q.offline, e)
	case domain.TaskStateActive:
		e.cancel()
		q.active--
	}

	now := q.clock.Now()
	e.task.State = domain.TaskStateCancelled
	e.task.LastError = context.Canceled
	e.task.Speed = 0
	e.task.FinishedAt = &now
	*events = append(*events, domain.TaskEvent(domain.EventTypeCancelled, *e.task, now))
}

func (q *Queue) insertPendingLocked(e *entry) {
	i := sort.Search(len(q.pending), func(i int) bool {
		return before(e, q.pending[i])
	})
	q.pending = append(q.pending, nil)
	copy(q.pending[i+1:], q.pending[i:])
	q.pending[i] = e
}

func (q *Queue) queueEventLocked(eventType domain.EventType) domain.Event {
	return domain.Event{Type: eventType, Scope: domain.EventScopeQueue, At: q.clock.Now()}
}

// dispatch emits events then starts the admitted runs. A run cancelled in
// between still starts with a done context and its result is dropped.
func (q *Queue) dispatch(events []domain.Event, started []launch) {
	if q.sink != nil {
		for _, event := range events {
			q.sink.Emit(event)
		}
	}
	for _, l := range started {
		q.wg.Add(1)
		go q.execute(l)
	}
}

func (q *Queue) execute(l launch) {
	defer q.wg.Done()

	e, run := l.entry, l.run
	hooks := port.TaskHooks{
		OnProgress: func(loaded int64, speed float64) { q.progress(e, run, loaded, speed) },
		OnRetry:    func(attempt domain.RetryAttempt) { q.retrying(e, run, attempt) },
		OnAttempt:  func(attempt int) { q.attempt(e, run, attempt) },
	}
	var metrics domain.TransferMetrics
	var err error
	if l.ctx.Err() != nil {
		err = l.ctx.Err()
	} else {
		metrics, err = q.executor.Execute(l.ctx, l.task, hooks)
	}
	q.finish(e, run, metrics, err)
	q.releaseIfDone(e, run)
}

// releaseIfDone closes the payload of a run that ended in a terminal state
func (q *Queue) releaseIfDone(e *entry, run uint64) {
	q.mu.Lock()
	done := e.run == run && e.task.State.IsTerminal()
	id, payload := e.task.ID, e.task.Payload
	q.mu.Unlock()

	if done {
		q.release(id, payload)
	}
}

// releaseAll closes the payloads of tasks cancelled before they ran.
// Task id and payload never change after Enqueue.
func (q *Queue) releaseAll(entries []*entry) {
	for _, e := range entries {
		q.release(e.task.ID, e.task.Payload)
	}
}

func (q *Queue) release(id uuid.UUID, payload domain.Payload) {
	closer, ok := payload.(io.Closer)
	if !ok {
		return
	}
	if err := closer.Close(); err != nil {
		q.logger.Warn("failed to release payload", "task_id", id, "error", err)
	}
}

func (q *Queue) progress(e *entry, run uint64, loaded int64, speed float64) {
	q.mu.Lock()
	task := e.task
	// the exact total is only ever reported by the completed event
	if e.run != run || task.State != domain.TaskStateActive || loaded <= task.BytesTransferred || loaded >= task.TotalSize {
		q.mu.Unlock()
		return
	}
	task.BytesTransferred = loaded
	task.Speed = speed
	event := domain.TaskEvent(domain.EventTypeProgress, *task, q.clock.Now())
	q.mu.Unlock()

	q.dispatch([]domain.Event{event}, nil)
}

func (q *Queue) retrying(e *entry, run uint64, attempt domain.RetryAttempt) {
	q.mu.Lock()
	task := e.task
	if e.run != run || task.State != domain.TaskStateActive {
		q.mu.Unlock()
		return
	}
	event := domain.TaskEvent(domain.EventTypeRetrying, *task, q.clock.Now())
	event.Retry = &attempt
	event.Message = attempt.Class.Category()
	q.mu.Unlock()

	q.dispatch([]domain.Event{event}, nil)
}

func (q *Queue) attempt(e *entry, run uint64, attempt int) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if e.run == run && e.task.State == domain.TaskStateActive {
		e.task.Attempts = e.baseTry + attempt
	}
}

func (q *Queue) finish(e *entry, run uint64, metrics domain.TransferMetrics, err error) {
	q.mu.Lock()
	task := e.task
	// cancelled while running: the slot was already released
	if e.run != run || task.State != domain.TaskStateActive {
		q.mu.Unlock()
		return
	}

	e.cancel()
	q.active--
	now := q.clock.Now()
	task.Metrics = metrics
	task.Speed = 0
	if task.Attempts == e.baseTry {
		task.Attempts++
	}

	var events []domain.Event
	class := domain.Classify(err)
	switch {
	case err == nil:
		task.State = domain.TaskStateSucceeded
		task.BytesTransferred = task.TotalSize
		task.LastError = nil
		task.FinishedAt = &now
		events = append(events, domain.TaskEvent(domain.EventTypeCompleted, *task, now))
	case !q.isOnline() && retry.IsRetryable(class) && !q.closed:
		// lost connectivity mid-transfer: hold the task until the gate reopens
		task.State = domain.TaskStateQueuedOffline
		task.LastError = err
		q.offline = append(q.offline, e)
		sortEntries(q.offline)
		events = append(events, domain.TaskEvent(domain.EventTypeQueued, *task, now))
	case class == domain.ErrorClassCancelled:
		task.State = domain.TaskStateCancelled
		task.LastError = err
		task.FinishedAt = &now
		events = append(events, domain.TaskEvent(domain.EventTypeCancelled, *task, now))
	default:
		task.State = domain.TaskStateFailed
		task.LastError = err
		task.FinishedAt = &now
		events = append(events, domain.TaskEvent(domain.EventTypeFailed, *task, now))
	}
	failed := task.State == domain.TaskStateFailed
	id, name := task.ID, task.Name
	started := q.admitLocked(&events)
	q.mu.Unlock()

	if failed {
		q.logger.Warn("upload failed", "task_id", id, "name", name, "class", class, "error", err)
	}
	q.dispatch(events, started)
}

// before orders by descending priority then enqueue order
func before(a, b *entry) bool {
	if a.task.Priority != b.task.Priority {
		return a.task.Priority > b.task.Priority
	}
	return a.task.Seq < b.task.Seq
}

func sortEntries(entries []*entry) {
	sort.SliceStable(entries, func(i, j int) bool { return before(entries[i], entries[j]) })
}

func removeEntry(entries []*entry, e *entry) []*entry {
	for i, x := range entries {
		if x == e {
			return append(entries[:i], entries[i+1:]...)
		}
	}
	return entries
}
