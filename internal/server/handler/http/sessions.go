package http

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/atinyakov/ScanKeeper/internal/middleware"
	"github.com/atinyakov/ScanKeeper/internal/models"
	"github.com/atinyakov/ScanKeeper/internal/service"
	"github.com/go-chi/chi/v5"
)

// SessionService defines the scan session operations required by SessionHandler.
type SessionService interface {
	Create(ctx context.Context, userID string, payload models.SyncPayload) (*models.RemoteSession, error)
	Update(ctx context.Context, userID, id string, payload models.SyncPayload) (*models.RemoteSession, error)
	Get(ctx context.Context, userID, id string) (*models.RemoteSession, error)
	List(ctx context.Context, userID string) ([]models.RemoteSession, error)
	Delete(ctx context.Context, userID, id string) error
	CleanExpired(ctx context.Context) (int64, error)
}

// SessionHandler handles the /scan-sessions endpoints.
type SessionHandler struct {
	SessionService SessionService
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeServiceError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, service.ErrNotFound):
		http.Error(w, "scan session not found", http.StatusNotFound)
	case errors.Is(err, service.ErrInvalidSession):
		http.Error(w, err.Error(), http.StatusBadRequest)
	default:
		http.Error(w, "internal error", http.StatusInternalServerError)
	}
}

// Create handles POST /scan-sessions.
func (h *SessionHandler) Create(w http.ResponseWriter, r *http.Request) {
	var payload models.SyncPayload
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		http.Error(w, "invalid body", http.StatusBadRequest)
		return
	}
	userID := middleware.GetUserIDFromContext(r.Context())
	s, err := h.SessionService.Create(r.Context(), userID, payload)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, s)
}

// Update handles PUT /scan-sessions/{id}.
func (h *SessionHandler) Update(w http.ResponseWriter, r *http.Request) {
	var payload models.SyncPayload
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		http.Error(w, "invalid body", http.StatusBadRequest)
		return
	}
	userID := middleware.GetUserIDFromContext(r.Context())
	s, err := h.SessionService.Update(r.Context(), userID, chi.URLParam(r, "id"), payload)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, s)
}

// Get handles GET /scan-sessions/{id}.
func (h *SessionHandler) Get(w http.ResponseWriter, r *http.Request) {
	userID := middleware.GetUserIDFromContext(r.Context())
	s, err := h.SessionService.Get(r.Context(), userID, chi.URLParam(r, "id"))
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, s)
}

// List handles GET /scan-sessions/?user_id=.
func (h *SessionHandler) List(w http.ResponseWriter, r *http.Request) {
	list, err := h.SessionService.List(r.Context(), middleware.GetUserIDFromContext(r.Context()))
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, list)
}

// Delete handles DELETE /scan-sessions/{id}.
func (h *SessionHandler) Delete(w http.ResponseWriter, r *http.Request) {
	userID := middleware.GetUserIDFromContext(r.Context())
	if err := h.SessionService.Delete(r.Context(), userID, chi.URLParam(r, "id")); err != nil {
		writeServiceError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// CleanExpired handles POST /scan-sessions/clean-expired.
func (h *SessionHandler) CleanExpired(w http.ResponseWriter, r *http.Request) {
	n, err := h.SessionService.CleanExpired(r.Context())
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]int64{"removed": n})
}
