// Package profile serves read-only user profiles.
package profile

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"

	"gopkg.in/yaml.v3"

	"github.com/capitalize-ai/stylist-engine/internal/model"
)

var ErrNotFound = errors.New("profile not found")

type profilesFile struct {
	Profiles []model.UserProfile `yaml:"profiles"`
}

// Store is an in-memory profile lookup.
type Store struct {
	mu       sync.RWMutex
	profiles map[string]model.UserProfile
}

// NewStore creates a store over the given profiles.
func NewStore(profiles ...model.UserProfile) *Store {
	s := &Store{profiles: make(map[string]model.UserProfile, len(profiles))}
	for _, p := range profiles {
		s.profiles[p.UserID] = p
	}
	return s
}

// LoadFile reads profiles from a YAML file.
func LoadFile(path string) (*Store, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read profiles: %w", err)
	}

	var file profilesFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("failed to parse profiles: %w", err)
	}

	for i, p := range file.Profiles {
		if p.UserID == "" {
			return nil, fmt.Errorf("profile %d has no user_id", i)
		}
	}

	return NewStore(file.Profiles...), nil
}

// Get returns the profile for userID.
func (s *Store) Get(ctx context.Context, userID string) (model.UserProfile, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	p, ok := s.profiles[userID]
	if !ok {
		return model.UserProfile{}, ErrNotFound
	}
	return p, nil
}
