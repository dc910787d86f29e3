package model

import (
	"time"
)

// EventType represents the type of thread event.
type EventType string

const (
	EventTypeThreadCreated EventType = "created"
)

// ThreadEvent represents a lifecycle event on a thread.
type ThreadEvent struct {
	ID        string         `json:"id"`
	ThreadID  string         `json:"thread_id"`
	UserID    string         `json:"user_id,omitempty"`
	Type      EventType      `json:"type"`
	Metadata  map[string]any `json:"metadata,omitempty"`
	CreatedAt time.Time      `json:"created_at"`
}
