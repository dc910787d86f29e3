// Package handler provides HTTP handlers for the API.
package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/capitalize-ai/stylist-engine/internal/middleware"
	"github.com/capitalize-ai/stylist-engine/internal/model"
	"github.com/capitalize-ai/stylist-engine/internal/service"
	"github.com/capitalize-ai/stylist-engine/pkg/logger"
)

// SessionHandler handles session endpoints.
type SessionHandler struct {
	service *service.SessionService
	logger  *logger.Logger
}

// NewSessionHandler creates a new session handler.
func NewSessionHandler(svc *service.SessionService, log *logger.Logger) *SessionHandler {
	return &SessionHandler{
		service: svc,
		logger:  log,
	}
}

// Create handles POST /api/v1/sessions
func (h *SessionHandler) Create(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	tenantID := middleware.GetTenantID(ctx)
	userID := middleware.GetUserID(ctx)

	info, err := h.service.Create(ctx, tenantID, userID)
	if err != nil {
		h.logger.Error("failed to create session", zap.String("user_id", userID), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to create session")
		return
	}

	sess, err := h.service.Get(ctx, tenantID, info.ID)
	if err != nil {
		writeServiceError(w, err)
		return
	}

	w.Header().Set("Location", "/api/v1/sessions/"+info.ID)
	writeJSON(w, http.StatusCreated, &model.CreateSessionResponse{
		Session: *info,
		State:   sess.State(),
	})
}

// Get handles GET /api/v1/sessions/:id
func (h *SessionHandler) Get(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	sessionID, ok := sessionIDParam(w, r)
	if !ok {
		return
	}

	sess, err := h.service.Get(ctx, middleware.GetTenantID(ctx), sessionID)
	if err != nil {
		writeServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, sess.State())
}

// StartNew handles POST /api/v1/sessions/:id/new
func (h *SessionHandler) StartNew(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	sessionID, ok := sessionIDParam(w, r)
	if !ok {
		return
	}

	state, err := h.service.StartNew(ctx, middleware.GetTenantID(ctx), sessionID)
	if err != nil {
		writeServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, state)
}

// Timeline handles GET /api/v1/sessions/:id/timeline
func (h *SessionHandler) Timeline(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	sessionID, ok := sessionIDParam(w, r)
	if !ok {
		return
	}

	resp, err := h.service.Timeline(ctx, middleware.GetTenantID(ctx), sessionID)
	if err != nil {
		writeServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, resp)
}

// Delete handles DELETE /api/v1/sessions/:id
func (h *SessionHandler) Delete(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	sessionID, ok := sessionIDParam(w, r)
	if !ok {
		return
	}

	if err := h.service.Delete(ctx, middleware.GetTenantID(ctx), sessionID); err != nil {
		writeServiceError(w, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

func sessionIDParam(w http.ResponseWriter, r *http.Request) (string, bool) {
	id := chi.URLParam(r, "id")
	if err := middleware.ValidateSessionID(id); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return "", false
	}
	return id, true
}

// SessionStats is the body of GET /api/v1/admin/sessions.
type SessionStats struct {
	Active int `json:"active"`
}

// Stats handles GET /api/v1/admin/sessions
func (h *SessionHandler) Stats(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, &SessionStats{Active: h.service.Count()})
}
