package domain

import "time"

// Progress is a progress snapshot at task, session or global granularity.
// Speed is in bytes per second.
type Progress struct {
	Loaded        int64         `json:"loaded"`
	Total         int64         `json:"total"`
	Percentage    float64       `json:"percentage"`
	Speed         float64       `json:"speed"`
	RemainingTime time.Duration `json:"remaining_time"`
}

// QueueStats is a snapshot of the task queue
type QueueStats struct {
	Pending       int  `json:"pending"`
	Active        int  `json:"active"`
	QueuedOffline int  `json:"queued_offline"`
	Succeeded     int  `json:"succeeded"`
	Failed        int  `json:"failed"`
	Cancelled     int  `json:"cancelled"`
	Concurrency   int  `json:"concurrency"`
	Paused        bool `json:"paused"`
	Online        bool `json:"online"`
}
