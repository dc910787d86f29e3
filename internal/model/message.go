// Package model defines data structures for the stylist conversation engine.
package model

import (
	"time"
)

// Role represents the role of a message sender.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleSystem    Role = "system"
)

// Kind is how a timeline entry is rendered.
type Kind string

const (
	KindText        Kind = "text"
	KindResultReady Kind = "result-ready"
	KindNoMatch     Kind = "no-match"
)

// MessageTypeNoMatch is the reserved type tag stored on no-match messages.
const MessageTypeNoMatch = "no_match"

// Scenario tags where a set of outfits came from.
type Scenario string

const (
	ScenarioFresh Scenario = "fresh"
	ScenarioRemix Scenario = "remix"
)

// Message is a single timeline entry. Persisted records, streaming tokens and
// optimistic local entries all share this shape; only the ID format differs.
type Message struct {
	// Identity
	ID       string `json:"id"`
	ThreadID string `json:"thread_id,omitempty"`

	// Content
	Role    Role   `json:"role"`
	Kind    Kind   `json:"kind,omitempty"`
	Type    string `json:"type,omitempty"`
	Content string `json:"content"`

	// Result payload
	OutfitIDs []string `json:"outfit_ids,omitempty"`
	Scenario  Scenario `json:"scenario,omitempty"`

	// LLM Metadata (nullable for non-assistant messages)
	Model      *string `json:"model,omitempty"`
	LatencyMs  *int64  `json:"latency_ms,omitempty"`
	StopReason *string `json:"stop_reason,omitempty"`

	// Timestamps
	CreatedAt time.Time `json:"created_at"`

	// JetStream Metadata (populated on read)
	Sequence uint64 `json:"sequence,omitempty"`
}

// StreamStatus is the lifecycle of one streamed assistant turn.
type StreamStatus string

const (
	StreamSubmitted StreamStatus = "submitted"
	StreamStreaming StreamStatus = "streaming"
	StreamDone      StreamStatus = "done"
	StreamError     StreamStatus = "error"
)

// SubmitMessageRequest is the request to send a user message to a session.
type SubmitMessageRequest struct {
	Content string `json:"content"`
}

// TimelineResponse is the reconciled view of a session.
type TimelineResponse struct {
	State    StateSnapshot `json:"state"`
	Messages []Message     `json:"messages"`
}

// ErrorEvent represents an error event.
type ErrorEvent struct {
	Code       string `json:"code"`
	Message    string `json:"message"`
	RetryAfter int    `json:"retry_after,omitempty"`
}

// HeartbeatEvent represents a heartbeat event.
type HeartbeatEvent struct {
	Timestamp time.Time `json:"timestamp"`
}
