package session

import (
	"context"
	"errors"
	"strings"
	"sync"

	"github.com/capitalize-ai/stylist-engine/internal/llm"
	"github.com/capitalize-ai/stylist-engine/internal/model"
	"github.com/capitalize-ai/stylist-engine/internal/pipeline"
	"github.com/capitalize-ai/stylist-engine/internal/store/memory"
	"github.com/capitalize-ai/stylist-engine/pkg/logger"
)

type fakeAssistant struct {
	mu       sync.Mutex
	replies  []string
	err      error
	gate     chan struct{}
	requests []llm.AssistantRequest
}

func (f *fakeAssistant) Stream(ctx context.Context, req llm.AssistantRequest, onToken llm.StreamCallback) (*llm.CompletionResponse, error) {
	f.mu.Lock()
	f.requests = append(f.requests, req)
	var reply string
	if len(f.replies) > 0 {
		reply = f.replies[0]
		f.replies = f.replies[1:]
	}
	err, gate := f.err, f.gate
	f.mu.Unlock()

	if gate != nil {
		<-gate
	}
	if err != nil {
		return nil, err
	}

	for i, tok := range strings.SplitAfter(reply, " ") {
		if tok == "" {
			continue
		}
		if err := onToken(tok, i); err != nil {
			return nil, err
		}
	}
	return &llm.CompletionResponse{Content: reply, Model: "test-model", StopReason: "end_turn"}, nil
}

func (f *fakeAssistant) setErr(err error) {
	f.mu.Lock()
	f.err = err
	f.mu.Unlock()
}

func (f *fakeAssistant) calls() []llm.AssistantRequest {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]llm.AssistantRequest(nil), f.requests...)
}

// collaborators stands in for curation, remix, wardrobe and image generation.
type collaborators struct {
	mu        sync.Mutex
	curation  *pipeline.CurationResult
	curateErr error
	curated   chan struct{}
	gate      chan struct{}
	outfits   []model.Outfit
	remix     *pipeline.RemixResult
	imageErr  error
	imageRuns int
}

func (c *collaborators) MatchItems(ctx context.Context, occasion string, profile model.UserProfile) (*pipeline.CurationResult, error) {
	c.mu.Lock()
	res, err, gate, curated := c.curation, c.curateErr, c.gate, c.curated
	c.mu.Unlock()

	if curated != nil {
		curated <- struct{}{}
	}
	if gate != nil {
		<-gate
	}
	return res, err
}

func (c *collaborators) Remix(ctx context.Context, sourceOutfitID, twist, occasion string) (*pipeline.RemixResult, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.remix == nil {
		return nil, errors.New("remix unavailable")
	}
	return c.remix, nil
}

func (c *collaborators) ListOutfits(ctx context.Context, userID string) ([]model.Outfit, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]model.Outfit(nil), c.outfits...), nil
}

func (c *collaborators) GenerateImage(ctx context.Context, outfitID string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.imageRuns++
	return c.imageErr
}

func (c *collaborators) images() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.imageRuns
}

// brokenThreads fails every thread creation.
type brokenThreads struct {
	*memory.ThreadStore
}

func (brokenThreads) CreateThread(ctx context.Context, userID, initialText string) (string, error) {
	return "", errors.New("thread store offline")
}

// flakyThreads fails the first failures thread creations.
type flakyThreads struct {
	*memory.ThreadStore

	mu       sync.Mutex
	failures int
}

func (f *flakyThreads) CreateThread(ctx context.Context, userID, initialText string) (string, error) {
	f.mu.Lock()
	fail := f.failures > 0
	if fail {
		f.failures--
	}
	f.mu.Unlock()

	if fail {
		return "", errors.New("thread store offline")
	}
	return f.ThreadStore.CreateThread(ctx, userID, initialText)
}

type transitionLog struct {
	mu  sync.Mutex
	got []string
}

func (t *transitionLog) hook(from, to model.ConversationState) {
	t.mu.Lock()
	t.got = append(t.got, string(from)+"->"+string(to))
	t.mu.Unlock()
}

func (t *transitionLog) list() []string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]string(nil), t.got...)
}

type harness struct {
	session     *Session
	assistant   *fakeAssistant
	collab      *collaborators
	store       *memory.ThreadStore
	transitions *transitionLog
}

var testProfile = model.UserProfile{
	UserID:            "user-1",
	Name:              "Maya",
	StylePreferences:  []string{"minimalist", "boho", "preppy"},
	HasReferencePhoto: true,
}

func newHarness(threads ThreadStore, replies ...string) *harness {
	store := memory.NewThreadStore()
	if threads == nil {
		threads = store
	}

	h := &harness{
		assistant:   &fakeAssistant{replies: replies},
		collab:      &collaborators{},
		store:       store,
		transitions: &transitionLog{},
	}

	log := logger.NewNop()
	orch := pipeline.NewOrchestrator(pipeline.Dependencies{
		Curator:  h.collab,
		Remixer:  h.collab,
		Wardrobe: h.collab,
		Images:   h.collab,
		Writer:   threads,
	}, pipeline.Config{ImageConcurrency: 2}, log)

	h.session = New("session-1", testProfile, Dependencies{
		Threads:   threads,
		Assistant: h.assistant,
		Pipeline:  orch,
	}, log, WithTransitionHook(h.transitions.hook))

	return h
}

func contents(msgs []model.Message) []string {
	out := make([]string, 0, len(msgs))
	for _, m := range msgs {
		out = append(out, m.Content)
	}
	return out
}
