package handler

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/capitalize-ai/stylist-engine/internal/middleware"
	"github.com/capitalize-ai/stylist-engine/internal/model"
	"github.com/capitalize-ai/stylist-engine/internal/service"
	"github.com/capitalize-ai/stylist-engine/pkg/logger"
	"github.com/capitalize-ai/stylist-engine/pkg/metrics"
)

// StreamHandler handles SSE streaming endpoints.
type StreamHandler struct {
	service   *service.SessionService
	logger    *logger.Logger
	heartbeat time.Duration
}

// NewStreamHandler creates a new stream handler.
func NewStreamHandler(svc *service.SessionService, log *logger.Logger) *StreamHandler {
	return &StreamHandler{
		service:   svc,
		logger:    log,
		heartbeat: 30 * time.Second,
	}
}

// Stream handles GET /api/v1/sessions/:id/stream
//
// Every change to the session is sent as a "snapshot" event carrying the
// state and the reconciled timeline. Notifications coalesce, so a slow client
// only ever sees the latest snapshot.
func (h *StreamHandler) Stream(w http.ResponseWriter, r *http.Request) {
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

	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, "streaming not supported")
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no") // Disable nginx buffering

	metrics.IncrementSSEConnections()
	defer metrics.DecrementSSEConnections()

	updates, cancel := sess.Subscribe()
	defer cancel()

	if err := sess.Sync(ctx); err != nil {
		h.logger.Warn("failed to sync session", zap.String("session_id", sessionID), zap.Error(err))
	}

	if err := sendSSEEvent(w, flusher, "snapshot", sess.Snapshot()); err != nil {
		return
	}

	heartbeat := time.NewTicker(h.heartbeat)
	defer heartbeat.Stop()

	for {
		select {
		case <-ctx.Done():
			h.logger.Debug("SSE client disconnected", zap.String("session_id", sessionID))
			return

		case _, open := <-updates:
			if !open {
				_ = sendSSEEvent(w, flusher, "closed", &model.ErrorEvent{
					Code:    "session_closed",
					Message: "session was closed",
				})
				return
			}
			if err := sendSSEEvent(w, flusher, "snapshot", sess.Snapshot()); err != nil {
				h.logger.Warn("failed to write snapshot", zap.String("session_id", sessionID), zap.Error(err))
				return
			}

		case <-heartbeat.C:
			if err := sendSSEEvent(w, flusher, "heartbeat", &model.HeartbeatEvent{
				Timestamp: time.Now(),
			}); err != nil {
				return
			}
		}
	}
}

func sendSSEEvent(w http.ResponseWriter, flusher http.Flusher, event string, data any) error {
	jsonData, err := json.Marshal(data)
	if err != nil {
		return err
	}

	if _, err := fmt.Fprintf(w, "event: %s\ndata: %s\n\n", event, jsonData); err != nil {
		return err
	}
	flusher.Flush()

	return nil
}
