package pipeline

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/capitalize-ai/stylist-engine/internal/model"
)

type fakeCurator struct {
	result *CurationResult
	err    error

	mu    sync.Mutex
	calls []string
}

func (f *fakeCurator) MatchItems(ctx context.Context, occasion string, profile model.UserProfile) (*CurationResult, error) {
	f.mu.Lock()
	f.calls = append(f.calls, occasion)
	f.mu.Unlock()
	return f.result, f.err
}

type remixCall struct {
	source, twist, occasion string
}

type fakeRemixer struct {
	result *RemixResult
	err    error

	mu    sync.Mutex
	calls []remixCall
}

func (f *fakeRemixer) Remix(ctx context.Context, sourceOutfitID, twist, occasion string) (*RemixResult, error) {
	f.mu.Lock()
	f.calls = append(f.calls, remixCall{sourceOutfitID, twist, occasion})
	f.mu.Unlock()
	return f.result, f.err
}

type fakeWardrobe struct {
	outfits []model.Outfit
	err     error
}

func (f *fakeWardrobe) ListOutfits(ctx context.Context, userID string) ([]model.Outfit, error) {
	return f.outfits, f.err
}

type fakeImages struct {
	fail  map[string]bool
	delay time.Duration

	mu       sync.Mutex
	called   []string
	inFlight atomic.Int32
	peak     atomic.Int32
}

func (f *fakeImages) GenerateImage(ctx context.Context, outfitID string) error {
	n := f.inFlight.Add(1)
	defer f.inFlight.Add(-1)
	for {
		p := f.peak.Load()
		if n <= p || f.peak.CompareAndSwap(p, n) {
			break
		}
	}
	if f.delay > 0 {
		time.Sleep(f.delay)
	}

	f.mu.Lock()
	f.called = append(f.called, outfitID)
	f.mu.Unlock()

	if f.fail[outfitID] {
		return errors.New("render timeout")
	}
	return nil
}

type fakeWriter struct {
	err error

	mu      sync.Mutex
	threads []string
	written []model.Message
}

func (f *fakeWriter) AppendMessage(ctx context.Context, threadID string, msg *model.Message) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return "", f.err
	}
	f.threads = append(f.threads, threadID)
	f.written = append(f.written, *msg)
	return "stored-1", nil
}

type phaseRecorder struct {
	mu   sync.Mutex
	runs []model.PipelineRun
}

func (r *phaseRecorder) OnPhase(run model.PipelineRun) {
	r.mu.Lock()
	r.runs = append(r.runs, run)
	r.mu.Unlock()
}

func (r *phaseRecorder) phases() []model.PipelinePhase {
	out := make([]model.PipelinePhase, len(r.runs))
	for i, run := range r.runs {
		out[i] = run.Phase
	}
	return out
}

func (r *phaseRecorder) labels() []string {
	out := make([]string, len(r.runs))
	for i, run := range r.runs {
		out[i] = run.Label
	}
	return out
}
