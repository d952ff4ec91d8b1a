package upload

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// CollectGarbage reclaims the sessions older than the configured TTL whose tasks
// are all terminal, and returns how many were reclaimed
func (c *Controller) CollectGarbage(now time.Time) int {
	c.mu.Lock()
	var reclaimed [][]uuid.UUID
	for id, s := range c.sessions {
		if now.Sub(s.CreatedAt) < c.cfg.SessionTTL || !c.settledLocked(s) {
			continue
		}
		reclaimed = append(reclaimed, s.TaskIDs)
		delete(c.sessions, id)
	}
	c.mu.Unlock()

	for _, ids := range reclaimed {
		c.queue.Forget(ids...)
		c.tracker.Forget(ids...)
		c.progress.Forget(ids...)
	}
	return len(reclaimed)
}

// settledLocked reports whether every member reached a terminal state.
// Members still being enqueued are not settled.
func (c *Controller) settledLocked(s *session) bool {
	if s.enqueueing > 0 {
		return false
	}
	for _, id := range s.TaskIDs {
		task, ok := c.queue.Task(id)
		if !ok || !task.State.IsTerminal() {
			return false
		}
	}
	return true
}

// RunGC collects garbage every interval until ctx is done
func (c *Controller) RunGC(ctx context.Context, every time.Duration) {
	ticker := time.NewTicker(every)
	defer ticker.Stop()

	c.logger.Info("session gc initialized", "interval", every, "ttl", c.cfg.SessionTTL)

	for {
		select {
		case <-ticker.C:
			reclaimed := c.CollectGarbage(c.clock.Now())
			if reclaimed > 0 {
				c.logger.Info("session gc completed", "reclaimed", reclaimed)
			}
		case <-ctx.Done():
			c.logger.Info("session gc stopped")
			return
		}
	}
}
