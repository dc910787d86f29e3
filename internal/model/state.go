package model

import (
	"time"
)

// ConversationState is the top-level state of a conversation session.
type ConversationState string

const (
	StateIdle          ConversationState = "idle"
	StateAwaitingReply ConversationState = "awaiting_reply"
	StateCurating      ConversationState = "curating"
	StateGenerating    ConversationState = "generating"
	StateNoMatches     ConversationState = "no_matches"
)

// AcceptsInput reports whether a user submission is allowed in this state.
func (s ConversationState) AcceptsInput() bool {
	return s == StateIdle || s == StateNoMatches
}

// PipelinePhase is the progress of one pipeline run.
type PipelinePhase string

const (
	PhaseCurating   PipelinePhase = "curating"
	PhaseGenerating PipelinePhase = "generating"
	PhaseSucceeded  PipelinePhase = "succeeded"
	PhaseNoMatches  PipelinePhase = "no_matches"
	PhaseFailed     PipelinePhase = "failed"
)

// Terminal reports whether the phase ends a run.
func (p PipelinePhase) Terminal() bool {
	switch p {
	case PhaseSucceeded, PhaseNoMatches, PhaseFailed:
		return true
	default:
		return false
	}
}

// PipelineRun tracks one curate → generate → persist execution.
type PipelineRun struct {
	ID        string        `json:"id"`
	Directive Directive     `json:"directive"`
	Phase     PipelinePhase `json:"phase"`
	Label     string        `json:"label,omitempty"`
	OutfitIDs []string      `json:"outfit_ids,omitempty"`
	Scenario  Scenario      `json:"scenario,omitempty"`
	Images    []ImageStatus `json:"images,omitempty"`
	StartedAt time.Time     `json:"started_at"`
}

// StateSnapshot is the externally visible state of a session.
type StateSnapshot struct {
	SessionID string            `json:"session_id"`
	ThreadID  string            `json:"thread_id,omitempty"`
	State     ConversationState `json:"state"`
	Label     string            `json:"label,omitempty"`
	Scenario  Scenario          `json:"scenario,omitempty"`
	Run       *PipelineRun      `json:"run,omitempty"`
}

// SessionInfo describes a registered session.
type SessionInfo struct {
	ID        string    `json:"id"`
	TenantID  string    `json:"tenant_id"`
	UserID    string    `json:"user_id"`
	CreatedAt time.Time `json:"created_at"`
}

// CreateSessionResponse is returned when a session is created.
type CreateSessionResponse struct {
	Session SessionInfo   `json:"session"`
	State   StateSnapshot `json:"state"`
}
