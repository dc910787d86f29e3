package service

import (
	"context"

	"go.uber.org/zap"

	"github.com/capitalize-ai/stylist-engine/internal/model"
)

// Submit sends a user message to a session and returns the state right after
// the submission was accepted.
func (s *SessionService) Submit(ctx context.Context, tenantID, sessionID, text string) (model.StateSnapshot, error) {
	sess, err := s.Get(ctx, tenantID, sessionID)
	if err != nil {
		return model.StateSnapshot{}, err
	}

	if err := sess.Submit(ctx, text); err != nil {
		return sess.State(), err
	}
	return sess.State(), nil
}

// StartNew resets a session to a fresh conversation.
func (s *SessionService) StartNew(ctx context.Context, tenantID, sessionID string) (model.StateSnapshot, error) {
	sess, err := s.Get(ctx, tenantID, sessionID)
	if err != nil {
		return model.StateSnapshot{}, err
	}

	sess.StartNew()
	return sess.State(), nil
}

// Timeline refreshes the session from its thread and returns the reconciled
// view. A failed refresh is logged and the last known snapshot is used.
func (s *SessionService) Timeline(ctx context.Context, tenantID, sessionID string) (*model.TimelineResponse, error) {
	sess, err := s.Get(ctx, tenantID, sessionID)
	if err != nil {
		return nil, err
	}

	if err := sess.Sync(ctx); err != nil {
		s.logger.Warn("failed to sync session", zap.String("session_id", sessionID), zap.Error(err))
	}

	snap := sess.Snapshot()
	return &snap, nil
}
