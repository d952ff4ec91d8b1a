package domain

import (
	"time"

	"github.com/google/uuid"
)

// EventType is the kind of lifecycle or progress event
type EventType string

const (
	EventTypeQueued           EventType = "queued"
	EventTypeStarted          EventType = "started"
	EventTypeProgress         EventType = "progress"
	EventTypeRetrying         EventType = "retrying"
	EventTypeCompleted        EventType = "completed"
	EventTypeFailed           EventType = "failed"
	EventTypePaused           EventType = "paused"
	EventTypeResumed          EventType = "resumed"
	EventTypeCancelled        EventType = "cancelled"
	EventTypeDegraded         EventType = "degraded"
	EventTypeRecovered        EventType = "recovered"
	EventTypeSessionCompleted EventType = "session_completed"
)

// EventScope tells which granularity an event belongs to
type EventScope string

const (
	EventScopeTask    EventScope = "task"
	EventScopeSession EventScope = "session"
	EventScopeQueue   EventScope = "queue"
	EventScopeChannel EventScope = "channel"
	EventScopeGlobal  EventScope = "global"
)

// SessionSummary carries counts only; detail is queried per task
type SessionSummary struct {
	Total     int `json:"total"`
	Succeeded int `json:"succeeded"`
	Failed    int `json:"failed"`
	Cancelled int `json:"cancelled"`
}

// Event is published by the status tracker for every task, session and queue change
type Event struct {
	Type       EventType        `json:"type"`
	Scope      EventScope       `json:"scope"`
	TaskID     uuid.UUID        `json:"task_id,omitempty"`
	SessionID  uuid.UUID        `json:"session_id,omitempty"`
	Name       string           `json:"name,omitempty"`
	Category   string           `json:"category,omitempty"`
	State      TaskState        `json:"state,omitempty"`
	Loaded     int64            `json:"loaded"`
	Total      int64            `json:"total"`
	Speed      float64          `json:"speed"`
	Attempts   int              `json:"attempts,omitempty"`
	Retry      *RetryAttempt    `json:"retry,omitempty"`
	Metrics    *TransferMetrics `json:"metrics,omitempty"`
	Summary    *SessionSummary  `json:"summary,omitempty"`
	Progress   *Progress        `json:"progress,omitempty"`
	ErrorClass ErrorClass       `json:"error_class,omitempty"`
	Message    string           `json:"message,omitempty"`
	Err        error            `json:"-"`
	StartedAt  *time.Time       `json:"started_at,omitempty"`
	At         time.Time        `json:"at"`
}

// TaskEvent builds a task scoped event from a task snapshot
func TaskEvent(eventType EventType, task UploadTask, at time.Time) Event {
	event := Event{
		Type:      eventType,
		Scope:     EventScopeTask,
		TaskID:    task.ID,
		SessionID: task.SessionID,
		Name:      task.Name,
		Category:  task.Category,
		State:     task.State,
		Loaded:    task.BytesTransferred,
		Total:     task.TotalSize,
		Speed:     task.Speed,
		Attempts:  task.Attempts,
		StartedAt: task.StartedAt,
		At:        at,
	}
	if task.LastError != nil {
		event.Err = task.LastError
		event.ErrorClass = Classify(task.LastError)
		event.Message = task.LastError.Error()
	}
	if task.State.IsTerminal() {
		metrics := task.Metrics
		event.Metrics = &metrics
	}
	return event
}

// IsTerminal reports whether the event closes the lifecycle of its task
func (e Event) IsTerminal() bool {
	return e.Scope == EventScopeTask &&
		(e.Type == EventTypeCompleted || e.Type == EventTypeFailed || e.Type == EventTypeCancelled)
}
