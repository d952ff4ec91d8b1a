// Package progress aggregates task progress into session and global snapshots
package progress

import (
	"loan-upload/internal/core/domain"
	"loan-upload/internal/core/port"
	"sync"
	"time"

	"github.com/google/uuid"
)

type entry struct {
	sessionID uuid.UUID
	loaded    int64
	total     int64
	speed     float64
	state     domain.TaskState
}

// Aggregator follows task events and computes aggregate progress
type Aggregator struct {
	mu      sync.Mutex
	entries map[uuid.UUID]*entry
	sink    port.EventSink
}

// NewAggregator creates an Aggregator. When sink is not nil, every task progress
// change is followed by a session and a global progress event.
func NewAggregator(sink port.EventSink) *Aggregator {
	return &Aggregator{
		entries: make(map[uuid.UUID]*entry),
		sink:    sink,
	}
}

// Handle is the port.Listener to subscribe on the status tracker
func (a *Aggregator) Handle(event domain.Event) {
	if event.Scope != domain.EventScopeTask || event.TaskID == uuid.Nil {
		return
	}

	a.mu.Lock()
	e, ok := a.entries[event.TaskID]
	if !ok {
		e = &entry{sessionID: event.SessionID}
		a.entries[event.TaskID] = e
	}
	changed := a.applyLocked(e, event)
	var session, global domain.Progress
	if changed && a.sink != nil {
		session = a.sumLocked(func(x *entry) bool { return x.sessionID == e.sessionID })
		global = a.sumLocked(nil)
	}
	a.mu.Unlock()

	if !changed || a.sink == nil {
		return
	}
	a.sink.Emit(domain.Event{
		Type:      domain.EventTypeProgress,
		Scope:     domain.EventScopeSession,
		SessionID: e.sessionID,
		Loaded:    session.Loaded,
		Total:     session.Total,
		Speed:     session.Speed,
		Progress:  &session,
		At:        event.At,
	})
	a.sink.Emit(domain.Event{
		Type:     domain.EventTypeProgress,
		Scope:    domain.EventScopeGlobal,
		Loaded:   global.Loaded,
		Total:    global.Total,
		Speed:    global.Speed,
		Progress: &global,
		At:       event.At,
	})
}

func (a *Aggregator) applyLocked(e *entry, event domain.Event) bool {
	if e.state.IsTerminal() {
		return false
	}

	before := *e
	if event.Total > 0 {
		e.total = event.Total
	}
	if event.Loaded > e.loaded {
		e.loaded = min(event.Loaded, e.total)
	}
	if event.State != "" {
		e.state = event.State
	}

	switch {
	case event.Type == domain.EventTypeCompleted:
		e.loaded = e.total
		e.speed = 0
	case e.state != domain.TaskStateActive:
		e.speed = 0
	default:
		e.speed = event.Speed
	}
	return *e != before
}

// Task returns the progress of one task
func (a *Aggregator) Task(id uuid.UUID) (domain.Progress, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()

	e, ok := a.entries[id]
	if !ok {
		return domain.Progress{}, false
	}
	p := snapshot(e.loaded, e.total, e.speed, e.state.IsTerminal())
	p.RemainingTime = remaining(e.total-e.loaded, e.speed)
	return p, true
}

// Session returns the aggregate progress of one session
func (a *Aggregator) Session(sessionID uuid.UUID) domain.Progress {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.sumLocked(func(e *entry) bool { return e.sessionID == sessionID })
}

// Global returns the aggregate progress of every tracked task
func (a *Aggregator) Global() domain.Progress {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.sumLocked(nil)
}

// ActiveRemaining returns the longest remaining time among the active tasks of a session
func (a *Aggregator) ActiveRemaining(sessionID uuid.UUID) time.Duration {
	a.mu.Lock()
	defer a.mu.Unlock()

	var longest time.Duration
	for _, e := range a.entries {
		if e.sessionID != sessionID || e.state != domain.TaskStateActive {
			continue
		}
		longest = max(longest, remaining(e.total-e.loaded, e.speed))
	}
	return longest
}

// Forget stops tracking the given tasks
func (a *Aggregator) Forget(ids ...uuid.UUID) {
	a.mu.Lock()
	defer a.mu.Unlock()
	for _, id := range ids {
		delete(a.entries, id)
	}
}

func (a *Aggregator) sumLocked(match func(*entry) bool) domain.Progress {
	var loaded, total int64
	var speed float64
	count, done := 0, 0
	for _, e := range a.entries {
		if match != nil && !match(e) {
			continue
		}
		count++
		loaded += e.loaded
		total += e.total
		speed += e.speed
		if e.state.IsTerminal() {
			done++
		}
	}

	p := snapshot(loaded, total, speed, count > 0 && done == count)
	p.RemainingTime = remaining(total-loaded, speed)
	return p
}

func snapshot(loaded, total int64, speed float64, finished bool) domain.Progress {
	p := domain.Progress{Loaded: loaded, Total: total, Speed: speed}
	switch {
	case total > 0:
		p.Percentage = float64(loaded) / float64(total) * 100
	case finished:
		p.Percentage = 100
	}
	return p
}

// remaining is zero when nothing moves
func remaining(bytes int64, speed float64) time.Duration {
	if bytes <= 0 || speed <= 0 {
		return 0
	}
	return time.Duration(float64(bytes) / speed * float64(time.Second))
}
