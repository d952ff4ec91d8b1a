package upload

import (
	"encoding/json"
	"fmt"
	"loan-upload/internal/core/domain"
	"net/http"

	"github.com/google/uuid"
)

const eventBuffer = 256

// StreamEventsV1 streams tracker events as server-sent events.
// A session_id query parameter restricts the stream to one session.
func (h *HandlerV1) StreamEventsV1(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}

	var sessionID *uuid.UUID
	if raw := r.URL.Query().Get("session_id"); raw != "" {
		id, err := uuid.Parse(raw)
		if err != nil {
			http.Error(w, "invalid session id", http.StatusBadRequest)
			return
		}
		sessionID = &id
	}

	events := make(chan domain.Event, eventBuffer)
	unsubscribe := h.uploadService.Subscribe(func(event domain.Event) {
		if sessionID != nil && event.SessionID != *sessionID {
			return
		}
		select {
		case events <- event:
		default:
			h.logger.Warn("event stream lagging, dropping event", "type", event.Type)
		}
	})
	defer unsubscribe()

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	for {
		select {
		case <-r.Context().Done():
			return
		case event := <-events:
			data, err := json.Marshal(event)
			if err != nil {
				h.logger.Error("error encoding event", "error", err)
				continue
			}
			if _, err := fmt.Fprintf(w, "event: %s\ndata: %s\n\n", event.Type, data); err != nil {
				return
			}
			flusher.Flush()
		}
	}
}
