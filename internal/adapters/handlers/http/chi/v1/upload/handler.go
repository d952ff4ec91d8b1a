package upload

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"loan-upload/internal/core/domain"
	"loan-upload/internal/core/port"
	"log/slog"
	"net/http"
	"os"

	"github.com/go-chi/chi/v5"
)

// PayloadOpener loads the payload of a local file
type PayloadOpener func(path string) (domain.Payload, error)

// HandlerV1 is the handler for v1 upload routes
type HandlerV1 struct {
	uploadService port.UploadService
	open          PayloadOpener
	logger        *slog.Logger
}

// NewUploadHandlerV1 creates HandlerV1
func NewUploadHandlerV1(service port.UploadService, logger *slog.Logger) *HandlerV1 {
	return &HandlerV1{
		uploadService: service,
		open:          OpenPayload,
		logger:        logger,
	}
}

// WithPayloadOpener replaces how local files are loaded
func (h *HandlerV1) WithPayloadOpener(open PayloadOpener) *HandlerV1 {
	h.open = open
	return h
}

// Routes exposes handler routes
func (h *HandlerV1) Routes() chi.Router {
	router := chi.NewRouter()

	router.Post("/sessions", h.CreateSessionV1)
	router.Get("/sessions", h.ListSessionsV1)
	router.Get("/sessions/{sessionID}", h.GetSessionV1)
	router.Delete("/sessions/{sessionID}", h.CancelSessionV1)
	router.Get("/sessions/{sessionID}/history", h.GetSessionHistoryV1)

	router.Post("/uploads", h.UploadFileV1)
	router.Post("/uploads/batch", h.UploadFilesV1)

	router.Get("/tasks/{taskID}", h.GetTaskV1)
	router.Delete("/tasks/{taskID}", h.CancelTaskV1)

	router.Get("/queue", h.GetQueueV1)
	router.Post("/queue/pause", h.PauseV1)
	router.Post("/queue/resume", h.ResumeV1)
	router.Get("/progress", h.GetProgressV1)

	return router
}

// FilePayload reads a local file in place. The queue closes it once the task is terminal.
type FilePayload struct {
	*io.SectionReader
	file *os.File
}

func (p *FilePayload) Close() error {
	return p.file.Close()
}

// OpenPayload opens a regular local file without copying it
func OpenPayload(path string) (domain.Payload, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open %s: %w", path, err)
	}
	info, err := file.Stat()
	if err != nil {
		file.Close()
		return nil, fmt.Errorf("failed to stat %s: %w", path, err)
	}
	if !info.Mode().IsRegular() {
		file.Close()
		return nil, fmt.Errorf("%s is not a regular file: %w", path, os.ErrInvalid)
	}
	return &FilePayload{SectionReader: io.NewSectionReader(file, 0, info.Size()), file: file}, nil
}

// closePayloads releases payloads the upload service did not take
func (h *HandlerV1) closePayloads(files []domain.File) {
	for _, f := range files {
		closer, ok := f.Payload.(io.Closer)
		if !ok {
			continue
		}
		if err := closer.Close(); err != nil {
			h.logger.Warn("failed to close payload", "name", f.Name, "error", err)
		}
	}
}

func (h *HandlerV1) writeJSON(w http.ResponseWriter, status int, resp any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(resp); err != nil {
		h.logger.Error("error encoding response", "error", err)
	}
}

func (h *HandlerV1) writeError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, domain.ErrSessionNotFound), errors.Is(err, domain.ErrTaskNotFound):
		http.Error(w, err.Error(), http.StatusNotFound)
	case errors.Is(err, domain.ErrSessionCancelled):
		http.Error(w, err.Error(), http.StatusConflict)
	case errors.Is(err, domain.ErrNilPayload), errors.Is(err, domain.ErrNoFiles),
		errors.Is(err, os.ErrNotExist), errors.Is(err, os.ErrInvalid):
		http.Error(w, err.Error(), http.StatusBadRequest)
	case errors.Is(err, domain.ErrQueueClosed):
		http.Error(w, err.Error(), http.StatusServiceUnavailable)
	default:
		h.logger.Error("unexpected error", "error", err)
		http.Error(w, "internal server error", http.StatusInternalServerError)
	}
}
