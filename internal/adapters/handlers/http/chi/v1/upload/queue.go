package upload

import (
	"encoding/json"
	"errors"
	"io"
	"loan-upload/internal/core/domain"
	"net/http"
)

// V1ResumeRequest optionally changes the concurrency limit on resume
type V1ResumeRequest struct {
	Concurrency int `json:"concurrency"`
}

func (h *HandlerV1) GetQueueV1(w http.ResponseWriter, r *http.Request) {
	h.writeJSON(w, http.StatusOK, h.uploadService.QueueStats())
}

func (h *HandlerV1) GetProgressV1(w http.ResponseWriter, r *http.Request) {
	h.writeJSON(w, http.StatusOK, h.uploadService.GlobalProgress())
}

func (h *HandlerV1) PauseV1(w http.ResponseWriter, r *http.Request) {
	h.uploadService.Pause()
	w.WriteHeader(http.StatusNoContent)
}

func (h *HandlerV1) ResumeV1(w http.ResponseWriter, r *http.Request) {
	var req V1ResumeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		h.logger.Error("error decoding resume request", "error", err)
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	switch {
	case req.Concurrency < 0:
		http.Error(w, "concurrency must be positive", http.StatusBadRequest)
		return
	case req.Concurrency > 0:
		h.uploadService.Resume(req.Concurrency)
	default:
		h.uploadService.Resume()
	}
	w.WriteHeader(http.StatusNoContent)
}

// Stats returns the queue snapshot, used by the health check
func (h *HandlerV1) Stats() domain.QueueStats {
	return h.uploadService.QueueStats()
}
