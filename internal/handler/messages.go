package handler

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/capitalize-ai/stylist-engine/internal/middleware"
	"github.com/capitalize-ai/stylist-engine/internal/model"
	"github.com/capitalize-ai/stylist-engine/internal/service"
	"github.com/capitalize-ai/stylist-engine/internal/session"
	"github.com/capitalize-ai/stylist-engine/pkg/logger"
)

// MessageHandler handles message submission.
type MessageHandler struct {
	service *service.SessionService
	logger  *logger.Logger
}

// NewMessageHandler creates a new message handler.
func NewMessageHandler(svc *service.SessionService, log *logger.Logger) *MessageHandler {
	return &MessageHandler{
		service: svc,
		logger:  log,
	}
}

// SubmitResponse is returned for accepted and rejected submissions.
type SubmitResponse struct {
	State model.StateSnapshot `json:"state"`
	Error string              `json:"error,omitempty"`
}

// Submit handles POST /api/v1/sessions/:id/messages
//
// The assistant reply and any pipeline run continue after the response; the
// client follows them on the stream or timeline endpoints.
func (h *MessageHandler) Submit(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	sessionID, ok := sessionIDParam(w, r)
	if !ok {
		return
	}

	var req model.SubmitMessageRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	if err := middleware.ValidateMessageContent(req.Content); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	state, err := h.service.Submit(ctx, middleware.GetTenantID(ctx), sessionID, req.Content)
	switch {
	case err == nil:
		w.Header().Set("Location", "/api/v1/sessions/"+sessionID+"/stream")
		writeJSON(w, http.StatusAccepted, &SubmitResponse{State: state})
	case errors.Is(err, session.ErrBusy):
		writeJSON(w, http.StatusConflict, &SubmitResponse{State: state, Error: err.Error()})
	default:
		writeServiceError(w, err)
	}
}
