package model

import (
	"time"
)

// UserProfile is a read-only snapshot of a user's styling context.
type UserProfile struct {
	UserID            string            `json:"user_id" yaml:"user_id"`
	Name              string            `json:"name,omitempty" yaml:"name"`
	StylePreferences  []string          `json:"style_preferences,omitempty" yaml:"style_preferences"`
	Sizes             map[string]string `json:"sizes,omitempty" yaml:"sizes"`
	Budget            string            `json:"budget,omitempty" yaml:"budget"`
	Locale            string            `json:"locale,omitempty" yaml:"locale"`
	HasReferencePhoto bool              `json:"has_reference_photo" yaml:"has_reference_photo"`
}

// Outfit is a catalog or wardrobe outfit record.
type Outfit struct {
	ID        string    `json:"id" yaml:"id"`
	UserID    string    `json:"user_id" yaml:"user_id"`
	Occasion  string    `json:"occasion" yaml:"occasion"`
	ItemIDs   []string  `json:"item_ids,omitempty" yaml:"items"`
	Twist     string    `json:"twist,omitempty" yaml:"twist"`
	CreatedAt time.Time `json:"created_at" yaml:"created_at"`
}

// ImageStatus is the outcome of rendering try-on imagery for one outfit.
type ImageStatus struct {
	OutfitID string `json:"outfit_id"`
	Status   string `json:"status"`
	Error    string `json:"error,omitempty"`
}

const (
	ImageReady  = "ready"
	ImageFailed = "failed"
)
