package pipeline

import (
	"context"

	"github.com/capitalize-ai/stylist-engine/internal/model"
)

// Curation failure reasons reported by the curation collaborator.
const (
	ReasonNoMatches = "no_matches"
	ReasonNoPhoto   = "no_photo"
)

// CurationResult is the reply of a MatchItems request.
type CurationResult struct {
	Success   bool           `json:"success"`
	Scenario  model.Scenario `json:"scenario,omitempty"`
	OutfitIDs []string       `json:"outfit_ids,omitempty"`
	Reason    string         `json:"reason,omitempty"`
}

// RemixResult is the reply of a Remix request.
type RemixResult struct {
	Success  bool   `json:"success"`
	OutfitID string `json:"outfit_id,omitempty"`
	Reason   string `json:"reason,omitempty"`
}

// Curator maps occasion text to candidate outfits. It decides between fresh
// catalog items and remixes of the user's past outfits.
type Curator interface {
	MatchItems(ctx context.Context, occasion string, profile model.UserProfile) (*CurationResult, error)
}

// Remixer creates one remixed outfit from a prior outfit.
type Remixer interface {
	Remix(ctx context.Context, sourceOutfitID, twist, occasion string) (*RemixResult, error)
}

// Wardrobe lists a user's own prior outfits.
type Wardrobe interface {
	ListOutfits(ctx context.Context, userID string) ([]model.Outfit, error)
}

// ImageGenerator renders try-on imagery for one outfit.
type ImageGenerator interface {
	GenerateImage(ctx context.Context, outfitID string) error
}

// MessageWriter persists result messages to a thread.
type MessageWriter interface {
	AppendMessage(ctx context.Context, threadID string, msg *model.Message) (string, error)
}

// Observer receives a copy of the run whenever its phase changes.
type Observer interface {
	OnPhase(run model.PipelineRun)
}

// ObserverFunc adapts a function to Observer.
type ObserverFunc func(run model.PipelineRun)

// OnPhase calls f(run).
func (f ObserverFunc) OnPhase(run model.PipelineRun) {
	f(run)
}
