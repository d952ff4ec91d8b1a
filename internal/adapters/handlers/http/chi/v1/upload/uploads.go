package upload

import (
	"encoding/json"
	"loan-upload/internal/core/domain"
	"net/http"
	"path/filepath"

	"github.com/google/uuid"
)

// V1FileRequest describes a local file to upload
type V1FileRequest struct {
	Path        string `json:"path"`
	Name        string `json:"name"`
	ContentType string `json:"content_type"`
	Category    string `json:"category"`
	Priority    int    `json:"priority"`
}

// V1UploadFileRequest is the request to upload one file
type V1UploadFileRequest struct {
	V1FileRequest
	SessionID *uuid.UUID `json:"session_id"`
}

// V1UploadFileResponse is the response to upload one file
type V1UploadFileResponse struct {
	TaskID uuid.UUID `json:"task_id"`
}

// V1UploadFilesRequest is the request to upload a batch of files
type V1UploadFilesRequest struct {
	Files     []V1FileRequest `json:"files"`
	SessionID *uuid.UUID      `json:"session_id"`
}

// V1UploadFilesResponse is the response to upload a batch of files
type V1UploadFilesResponse struct {
	TaskIDs []uuid.UUID `json:"task_ids"`
}

func (h *HandlerV1) UploadFileV1(w http.ResponseWriter, r *http.Request) {
	var req V1UploadFileRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.logger.Error("error decoding upload file request", "error", err)
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	if req.Path == "" {
		http.Error(w, "missing param", http.StatusBadRequest)
		return
	}

	file, err := h.toFile(req.V1FileRequest)
	if err != nil {
		h.writeError(w, err)
		return
	}

	taskID, err := h.uploadService.UploadFile(file, req.Category, req.SessionID)
	if err != nil {
		h.closePayloads([]domain.File{file})
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusAccepted, V1UploadFileResponse{TaskID: taskID})
}

func (h *HandlerV1) UploadFilesV1(w http.ResponseWriter, r *http.Request) {
	var req V1UploadFilesRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.logger.Error("error decoding upload files request", "error", err)
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	files := make([]domain.File, 0, len(req.Files))
	for _, f := range req.Files {
		if f.Path == "" {
			h.closePayloads(files)
			http.Error(w, "missing param", http.StatusBadRequest)
			return
		}
		file, err := h.toFile(f)
		if err != nil {
			h.closePayloads(files)
			h.writeError(w, err)
			return
		}
		files = append(files, file)
	}

	taskIDs, err := h.uploadService.UploadFiles(files, req.SessionID)
	if err != nil {
		// the first len(taskIDs) files were enqueued and belong to the queue now
		h.closePayloads(files[min(len(taskIDs), len(files)):])
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusAccepted, V1UploadFilesResponse{TaskIDs: taskIDs})
}

func (h *HandlerV1) toFile(req V1FileRequest) (domain.File, error) {
	payload, err := h.open(req.Path)
	if err != nil {
		return domain.File{}, err
	}

	name := req.Name
	if name == "" {
		name = filepath.Base(req.Path)
	}
	return domain.File{
		Name:        name,
		ContentType: req.ContentType,
		Category:    req.Category,
		Priority:    req.Priority,
		Payload:     payload,
	}, nil
}
