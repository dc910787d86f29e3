package stylist

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/capitalize-ai/stylist-engine/internal/model"
	"github.com/capitalize-ai/stylist-engine/internal/pipeline"
)

// Requester is the request-reply subset of *nats.Conn.
type Requester interface {
	RequestWithContext(ctx context.Context, subj string, data []byte) (*nats.Msg, error)
}

// Config holds collaborator client settings.
type Config struct {
	SubjectPrefix string
	Timeout       time.Duration
}

// Client implements the pipeline collaborators over NATS.
type Client struct {
	conn    Requester
	prefix  string
	timeout time.Duration
}

var (
	_ pipeline.Curator        = (*Client)(nil)
	_ pipeline.Remixer        = (*Client)(nil)
	_ pipeline.Wardrobe       = (*Client)(nil)
	_ pipeline.ImageGenerator = (*Client)(nil)
)

// NewClient creates a new collaborator client.
func NewClient(conn Requester, cfg Config) *Client {
	prefix := strings.TrimSuffix(cfg.SubjectPrefix, ".")
	if prefix == "" {
		prefix = DefaultSubjectPrefix
	}
	return &Client{
		conn:    conn,
		prefix:  prefix,
		timeout: cfg.Timeout,
	}
}

// Subject returns the full subject for a suffix.
func (c *Client) Subject(suffix string) string {
	return c.prefix + "." + suffix
}

// MatchItems asks the curation service for outfits matching occasion.
func (c *Client) MatchItems(ctx context.Context, occasion string, profile model.UserProfile) (*pipeline.CurationResult, error) {
	var reply pipeline.CurationResult
	if err := c.request(ctx, SubjectCurate, curateRequest{Occasion: occasion, Profile: profile}, &reply); err != nil {
		return nil, err
	}
	return &reply, nil
}

// Remix asks the remix service to derive a new outfit from a prior one.
func (c *Client) Remix(ctx context.Context, sourceOutfitID, twist, occasion string) (*pipeline.RemixResult, error) {
	var reply pipeline.RemixResult
	req := remixRequest{SourceOutfitID: sourceOutfitID, Twist: twist, Occasion: occasion}
	if err := c.request(ctx, SubjectRemix, req, &reply); err != nil {
		return nil, err
	}
	return &reply, nil
}

// ListOutfits returns the user's prior outfits.
func (c *Client) ListOutfits(ctx context.Context, userID string) ([]model.Outfit, error) {
	var reply listOutfitsReply
	if err := c.request(ctx, SubjectListOutfits, listOutfitsRequest{UserID: userID}, &reply); err != nil {
		return nil, err
	}
	return reply.Outfits, nil
}

// GenerateImage asks the generation service to render one outfit.
func (c *Client) GenerateImage(ctx context.Context, outfitID string) error {
	var reply generateReply
	if err := c.request(ctx, SubjectGenerate, generateRequest{OutfitID: outfitID}, &reply); err != nil {
		return err
	}
	if reply.Status != model.ImageReady {
		msg := reply.Error
		if msg == "" {
			msg = "status " + reply.Status
		}
		return &RemoteError{Subject: c.Subject(SubjectGenerate), Message: msg}
	}
	return nil
}

func (c *Client) request(ctx context.Context, suffix string, req, reply any) error {
	subject := c.Subject(suffix)

	data, err := json.Marshal(req)
	if err != nil {
		return fmt.Errorf("failed to marshal %s request: %w", subject, err)
	}

	if c.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}

	msg, err := c.conn.RequestWithContext(ctx, subject, data)
	if err != nil {
		return fmt.Errorf("request %s failed: %w", subject, err)
	}

	return decodeReply(subject, msg.Data, reply)
}
