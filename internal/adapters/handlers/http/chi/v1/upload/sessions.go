package upload

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
)

// V1CreateSessionRequest is the request to open a session
type V1CreateSessionRequest struct {
	Name string `json:"name"`
}

// V1CreateSessionResponse is the response to open a session
type V1CreateSessionResponse struct {
	SessionID uuid.UUID `json:"session_id"`
}

func (h *HandlerV1) CreateSessionV1(w http.ResponseWriter, r *http.Request) {
	var req V1CreateSessionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.logger.Error("error decoding create session request", "error", err)
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	if req.Name == "" {
		http.Error(w, "missing param", http.StatusBadRequest)
		return
	}

	sessionID := h.uploadService.CreateSession(req.Name)
	h.writeJSON(w, http.StatusCreated, V1CreateSessionResponse{SessionID: sessionID})
}

func (h *HandlerV1) ListSessionsV1(w http.ResponseWriter, r *http.Request) {
	h.writeJSON(w, http.StatusOK, h.uploadService.ListSessions())
}

func (h *HandlerV1) GetSessionV1(w http.ResponseWriter, r *http.Request) {
	sessionID, err := uuid.Parse(chi.URLParam(r, "sessionID"))
	if err != nil {
		http.Error(w, "invalid session id", http.StatusBadRequest)
		return
	}

	stats, err := h.uploadService.GetSessionStats(sessionID)
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, stats)
}

func (h *HandlerV1) CancelSessionV1(w http.ResponseWriter, r *http.Request) {
	sessionID, err := uuid.Parse(chi.URLParam(r, "sessionID"))
	if err != nil {
		http.Error(w, "invalid session id", http.StatusBadRequest)
		return
	}

	if err := h.uploadService.CancelSession(sessionID); err != nil {
		h.writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *HandlerV1) GetSessionHistoryV1(w http.ResponseWriter, r *http.Request) {
	sessionID, err := uuid.Parse(chi.URLParam(r, "sessionID"))
	if err != nil {
		http.Error(w, "invalid session id", http.StatusBadRequest)
		return
	}

	records, err := h.uploadService.SessionHistory(r.Context(), sessionID)
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, records)
}
