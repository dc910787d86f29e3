package stylist

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"gopkg.in/yaml.v3"

	"github.com/capitalize-ai/stylist-engine/internal/model"
	"github.com/capitalize-ai/stylist-engine/internal/pipeline"
)

// CatalogEntry is one curated outfit in the catalog file.
type CatalogEntry struct {
	ID       string   `yaml:"id"`
	Occasion string   `yaml:"occasion"`
	Tags     []string `yaml:"tags"`
	ItemIDs  []string `yaml:"items"`
}

type catalogFile struct {
	MaxLooks  int                       `yaml:"max_looks"`
	MinFresh  int                       `yaml:"min_fresh"`
	Outfits   []CatalogEntry            `yaml:"outfits"`
	Wardrobes map[string][]model.Outfit `yaml:"wardrobes"`
}

// Catalog is a small in-process curation backend. It maps occasion text to
// catalog outfits the user has not been shown yet and falls back to the
// user's own past outfits when fresh matches are scarce.
type Catalog struct {
	mu        sync.Mutex
	entries   []CatalogEntry
	wardrobes map[string][]model.Outfit
	shown     map[string]map[string]bool
	rendered  map[string]bool
	maxLooks  int
	minFresh  int
	now       func() time.Time
}

var (
	_ pipeline.Curator        = (*Catalog)(nil)
	_ pipeline.Remixer        = (*Catalog)(nil)
	_ pipeline.Wardrobe       = (*Catalog)(nil)
	_ pipeline.ImageGenerator = (*Catalog)(nil)
)

// NewCatalog creates a catalog over entries.
func NewCatalog(entries []CatalogEntry) *Catalog {
	return &Catalog{
		entries:   entries,
		wardrobes: make(map[string][]model.Outfit),
		shown:     make(map[string]map[string]bool),
		rendered:  make(map[string]bool),
		maxLooks:  3,
		minFresh:  2,
		now:       time.Now,
	}
}

// LoadCatalog reads a YAML catalog file.
func LoadCatalog(path string) (*Catalog, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read catalog: %w", err)
	}

	var file catalogFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("failed to parse catalog: %w", err)
	}

	c := NewCatalog(file.Outfits)
	if file.MaxLooks > 0 {
		c.maxLooks = file.MaxLooks
	}
	if file.MinFresh > 0 {
		c.minFresh = file.MinFresh
	}
	for userID, outfits := range file.Wardrobes {
		for _, o := range outfits {
			o.UserID = userID
			c.wardrobes[userID] = append(c.wardrobes[userID], o)
		}
	}
	return c, nil
}

// MatchItems picks unseen catalog outfits for occasion.
func (c *Catalog) MatchItems(ctx context.Context, occasion string, profile model.UserProfile) (*pipeline.CurationResult, error) {
	if !profile.HasReferencePhoto {
		return &pipeline.CurationResult{Success: false, Reason: pipeline.ReasonNoPhoto}, nil
	}

	words := keywords(occasion)

	c.mu.Lock()
	defer c.mu.Unlock()

	shown := c.shown[profile.UserID]
	if shown == nil {
		shown = make(map[string]bool)
		c.shown[profile.UserID] = shown
	}

	var fresh []CatalogEntry
	for _, e := range c.entries {
		if len(fresh) == c.maxLooks {
			break
		}
		if !shown[e.ID] && matches(words, e.Occasion, e.Tags...) {
			fresh = append(fresh, e)
		}
	}

	ids := make([]string, 0, c.maxLooks)
	for _, e := range fresh {
		shown[e.ID] = true
		ids = append(ids, e.ID)
		c.wardrobes[profile.UserID] = append(c.wardrobes[profile.UserID], model.Outfit{
			ID:        e.ID,
			UserID:    profile.UserID,
			Occasion:  occasion,
			ItemIDs:   e.ItemIDs,
			CreatedAt: c.now(),
		})
	}

	scenario := model.ScenarioFresh
	if len(ids) < c.minFresh {
		for _, o := range c.wardrobes[profile.UserID] {
			if len(ids) == c.maxLooks {
				break
			}
			if !contains(ids, o.ID) && matches(words, o.Occasion) {
				ids = append(ids, o.ID)
				scenario = model.ScenarioRemix
			}
		}
	}

	if len(ids) == 0 {
		return &pipeline.CurationResult{Success: false, Reason: pipeline.ReasonNoMatches}, nil
	}

	return &pipeline.CurationResult{Success: true, Scenario: scenario, OutfitIDs: ids}, nil
}

// Remix creates a twisted copy of a prior outfit in its owner's wardrobe.
func (c *Catalog) Remix(ctx context.Context, sourceOutfitID, twist, occasion string) (*pipeline.RemixResult, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	for userID, outfits := range c.wardrobes {
		for _, o := range outfits {
			if o.ID != sourceOutfitID {
				continue
			}
			remixed := model.Outfit{
				ID:        "remix-" + uuid.Must(uuid.NewV7()).String(),
				UserID:    userID,
				Occasion:  occasion,
				ItemIDs:   o.ItemIDs,
				Twist:     twist,
				CreatedAt: c.now(),
			}
			c.wardrobes[userID] = append(c.wardrobes[userID], remixed)
			return &pipeline.RemixResult{Success: true, OutfitID: remixed.ID}, nil
		}
	}

	return &pipeline.RemixResult{Success: false, Reason: "source_not_found"}, nil
}

// ListOutfits returns a copy of the user's wardrobe, oldest first.
func (c *Catalog) ListOutfits(ctx context.Context, userID string) ([]model.Outfit, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	out := make([]model.Outfit, len(c.wardrobes[userID]))
	copy(out, c.wardrobes[userID])
	return out, nil
}

// GenerateImage marks an outfit as rendered.
func (c *Catalog) GenerateImage(ctx context.Context, outfitID string) error {
	if outfitID == "" {
		return errors.New("outfit id is required")
	}
	c.mu.Lock()
	c.rendered[outfitID] = true
	c.mu.Unlock()
	return nil
}

func keywords(text string) []string {
	var words []string
	for _, w := range strings.Fields(strings.ToLower(text)) {
		w = strings.Trim(w, ".,!?;:'\"")
		if len(w) > 2 {
			words = append(words, w)
		}
	}
	return words
}

func matches(words []string, occasion string, tags ...string) bool {
	hay := strings.ToLower(occasion + " " + strings.Join(tags, " "))
	for _, w := range words {
		if strings.Contains(hay, w) {
			return true
		}
	}
	return false
}

func contains(ids []string, id string) bool {
	for _, v := range ids {
		if v == id {
			return true
		}
	}
	return false
}
