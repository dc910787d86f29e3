// Package stylist talks to the outfit curation, remix, wardrobe and image
// generation services over NATS request-reply.
package stylist

import (
	"encoding/json"
	"fmt"

	"github.com/capitalize-ai/stylist-engine/internal/model"
)

// Subject suffixes appended to the configured prefix.
const (
	SubjectCurate      = "curate"
	SubjectRemix       = "remix"
	SubjectListOutfits = "outfits.list"
	SubjectGenerate    = "images.generate"
)

// DefaultSubjectPrefix is used when no prefix is configured.
const DefaultSubjectPrefix = "stylist"

type curateRequest struct {
	Occasion string            `json:"occasion"`
	Profile  model.UserProfile `json:"profile"`
}

type remixRequest struct {
	SourceOutfitID string `json:"source_outfit_id"`
	Twist          string `json:"twist"`
	Occasion       string `json:"occasion"`
}

type listOutfitsRequest struct {
	UserID string `json:"user_id"`
}

type listOutfitsReply struct {
	Outfits []model.Outfit `json:"outfits"`
}

type generateRequest struct {
	OutfitID string `json:"outfit_id"`
}

type generateReply struct {
	Status string `json:"status"`
	Error  string `json:"error,omitempty"`
}

type errorReply struct {
	Error string `json:"error"`
}

// RemoteError is a failure reported by the service rather than the transport.
type RemoteError struct {
	Subject string
	Message string
}

func (e *RemoteError) Error() string {
	return fmt.Sprintf("%s: %s", e.Subject, e.Message)
}

func decodeReply(subject string, data []byte, reply any) error {
	var env errorReply
	if err := json.Unmarshal(data, &env); err != nil {
		return fmt.Errorf("failed to decode %s reply: %w", subject, err)
	}
	if env.Error != "" {
		return &RemoteError{Subject: subject, Message: env.Error}
	}
	if err := json.Unmarshal(data, reply); err != nil {
		return fmt.Errorf("failed to decode %s reply: %w", subject, err)
	}
	return nil
}
