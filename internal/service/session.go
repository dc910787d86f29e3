// Package service manages the conversation sessions of the stylist engine.
package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/capitalize-ai/stylist-engine/internal/model"
	"github.com/capitalize-ai/stylist-engine/internal/profile"
	"github.com/capitalize-ai/stylist-engine/internal/session"
	"github.com/capitalize-ai/stylist-engine/pkg/logger"
	"github.com/capitalize-ai/stylist-engine/pkg/metrics"
)

// ErrSessionNotFound is returned for unknown sessions and for sessions owned
// by another tenant.
var ErrSessionNotFound = errors.New("session not found")

// ProfileStore looks up user profiles.
type ProfileStore interface {
	Get(ctx context.Context, userID string) (model.UserProfile, error)
}

type entry struct {
	info    model.SessionInfo
	session *session.Session
}

// SessionService handles session operations.
type SessionService struct {
	profiles ProfileStore
	deps     session.Dependencies
	options  []session.Option
	logger   *logger.Logger

	// Sessions live in memory; the durable record is the thread log.
	sessions map[string]*entry
	mu       sync.RWMutex
}

// NewSessionService creates a new session service.
func NewSessionService(profiles ProfileStore, deps session.Dependencies, log *logger.Logger, opts ...session.Option) *SessionService {
	return &SessionService{
		profiles: profiles,
		deps:     deps,
		options:  opts,
		logger:   log,
		sessions: make(map[string]*entry),
	}
}

// Create starts a new session for userID. Users without a stored profile get
// an empty one.
func (s *SessionService) Create(ctx context.Context, tenantID, userID string) (*model.SessionInfo, error) {
	p, err := s.profiles.Get(ctx, userID)
	switch {
	case errors.Is(err, profile.ErrNotFound):
		s.logger.Warn("no profile for user, using empty profile", zap.String("user_id", userID))
		p = model.UserProfile{UserID: userID}
	case err != nil:
		return nil, fmt.Errorf("failed to load profile: %w", err)
	}

	info := model.SessionInfo{
		ID:        uuid.Must(uuid.NewV7()).String(),
		TenantID:  tenantID,
		UserID:    userID,
		CreatedAt: time.Now(),
	}

	sess := session.New(info.ID, p, s.deps, s.logger, s.options...)

	s.mu.Lock()
	s.sessions[info.ID] = &entry{info: info, session: sess}
	s.mu.Unlock()

	metrics.SessionsActive.Inc()
	s.logger.Info("session created",
		zap.String("session_id", info.ID),
		zap.String("tenant_id", tenantID),
		zap.String("user_id", userID),
	)

	return &info, nil
}

// Get returns the session if it belongs to tenantID.
func (s *SessionService) Get(ctx context.Context, tenantID, sessionID string) (*session.Session, error) {
	e, err := s.lookup(tenantID, sessionID)
	if err != nil {
		return nil, err
	}
	return e.session, nil
}

// Info returns the session's registration record.
func (s *SessionService) Info(ctx context.Context, tenantID, sessionID string) (*model.SessionInfo, error) {
	e, err := s.lookup(tenantID, sessionID)
	if err != nil {
		return nil, err
	}
	info := e.info
	return &info, nil
}

func (s *SessionService) lookup(tenantID, sessionID string) (*entry, error) {
	s.mu.RLock()
	e, exists := s.sessions[sessionID]
	s.mu.RUnlock()

	if !exists || e.info.TenantID != tenantID {
		return nil, ErrSessionNotFound
	}
	return e, nil
}

// Delete closes and forgets a session.
func (s *SessionService) Delete(ctx context.Context, tenantID, sessionID string) error {
	s.mu.Lock()
	e, exists := s.sessions[sessionID]
	if !exists || e.info.TenantID != tenantID {
		s.mu.Unlock()
		return ErrSessionNotFound
	}
	delete(s.sessions, sessionID)
	s.mu.Unlock()

	e.session.Close()
	metrics.SessionsActive.Dec()
	s.logger.Info("session deleted", zap.String("session_id", sessionID))

	return nil
}

// Count returns the number of registered sessions.
func (s *SessionService) Count() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.sessions)
}

// Shutdown closes every session and waits for their background work.
func (s *SessionService) Shutdown() {
	s.mu.Lock()
	entries := make([]*entry, 0, len(s.sessions))
	for id, e := range s.sessions {
		entries = append(entries, e)
		delete(s.sessions, id)
	}
	s.mu.Unlock()

	for _, e := range entries {
		e.session.Close()
		metrics.SessionsActive.Dec()
	}
	for _, e := range entries {
		e.session.Wait()
	}
}
