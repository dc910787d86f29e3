// Package pipeline runs the curate → generate → persist sequence triggered by
// an action directive and reports its progress as phases.
package pipeline

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/capitalize-ai/stylist-engine/internal/model"
	"github.com/capitalize-ai/stylist-engine/pkg/logger"
	"github.com/capitalize-ai/stylist-engine/pkg/metrics"
	"github.com/capitalize-ai/stylist-engine/pkg/tracing"
)

// Dependencies are the collaborators a pipeline run calls out to.
type Dependencies struct {
	Curator  Curator
	Remixer  Remixer
	Wardrobe Wardrobe
	Images   ImageGenerator
	Writer   MessageWriter
}

// Config tunes the orchestrator.
type Config struct {
	// ImageConcurrency bounds parallel image generations within one run. Zero means unbounded.
	ImageConcurrency int
}

// Request starts one pipeline run.
type Request struct {
	Directive model.Directive
	ThreadID  string
	Profile   model.UserProfile
}

// Outcome is the terminal result of a run.
type Outcome struct {
	Run model.PipelineRun

	// Message is the result-ready or no-match entry to show, nil when the run
	// ended without one.
	Message *model.Message

	// Persisted is false when Message could not be written to the thread.
	Persisted bool

	// Silent is set when the run ended without telling the user anything.
	Silent bool
}

// Orchestrator executes pipeline runs. It is safe for concurrent use; each
// run is independent.
type Orchestrator struct {
	deps   Dependencies
	config Config
	logger *logger.Logger
	tracer trace.Tracer
	now    func() time.Time
}

// NewOrchestrator creates a new pipeline orchestrator.
func NewOrchestrator(deps Dependencies, cfg Config, log *logger.Logger) *Orchestrator {
	return &Orchestrator{
		deps:   deps,
		config: cfg,
		logger: log,
		tracer: tracing.Tracer("pipeline"),
		now:    time.Now,
	}
}

// Run executes the pipeline for req. Every collaborator failure resolves to a
// terminal phase; Run never returns an error.
func (o *Orchestrator) Run(ctx context.Context, req Request, obs Observer) Outcome {
	run := &model.PipelineRun{
		ID:        uuid.Must(uuid.NewV7()).String(),
		Directive: req.Directive,
		StartedAt: o.now(),
	}

	log := o.logger.With(
		zap.String("run_id", run.ID),
		zap.String("thread_id", req.ThreadID),
		zap.String("directive", string(req.Directive.Type)),
	)

	ctx, span := o.tracer.Start(ctx, "pipeline.run", trace.WithAttributes(
		attribute.String("run.id", run.ID),
		attribute.String("directive.type", string(req.Directive.Type)),
	))
	defer span.End()

	var out Outcome
	switch req.Directive.Type {
	case model.DirectiveMatchItems:
		out = o.runMatchItems(ctx, req, run, obs, log)
	case model.DirectiveRemixLook:
		out = o.runRemixLook(ctx, req, run, obs, log)
	default:
		log.Error("unknown directive")
		o.advance(run, model.PhaseFailed, "", obs)
		out = Outcome{Run: snapshot(run)}
	}

	span.SetAttributes(attribute.String("run.phase", string(out.Run.Phase)))
	metrics.RecordPipelineRun(string(req.Directive.Type), string(out.Run.Phase))
	log.Info("pipeline run finished",
		zap.String("phase", string(out.Run.Phase)),
		zap.Int("outfits", len(out.Run.OutfitIDs)),
		zap.Bool("persisted", out.Persisted),
	)

	return out
}

func (o *Orchestrator) runMatchItems(ctx context.Context, req Request, run *model.PipelineRun, obs Observer, log *logger.Logger) Outcome {
	occasion := req.Directive.Occasion

	o.advance(run, model.PhaseCurating, LabelCurating, obs)

	res, err := o.curate(ctx, occasion, req.Profile)
	if err != nil {
		log.Error("curation failed", zap.Error(err))
		o.advance(run, model.PhaseFailed, "", obs)
		return Outcome{Run: snapshot(run)}
	}

	if !res.Success || len(res.OutfitIDs) == 0 {
		reason := res.Reason
		if res.Success {
			reason = ReasonNoMatches
		}

		switch reason {
		case ReasonNoMatches, ReasonNoPhoto:
			log.Info("curation found nothing", zap.String("reason", reason))
			msg := &model.Message{
				ID:        "run-" + run.ID,
				ThreadID:  req.ThreadID,
				Role:      model.RoleAssistant,
				Kind:      model.KindNoMatch,
				Type:      model.MessageTypeNoMatch,
				Content:   noMatchCopy(occasion, reason),
				CreatedAt: o.now(),
			}
			persisted := o.persist(ctx, req.ThreadID, msg, log)
			o.advance(run, model.PhaseNoMatches, "", obs)
			return Outcome{Run: snapshot(run), Message: msg, Persisted: persisted}
		default:
			log.Warn("curation rejected", zap.String("reason", reason))
			o.advance(run, model.PhaseFailed, "", obs)
			return Outcome{Run: snapshot(run)}
		}
	}

	scenario := res.Scenario
	if scenario == "" {
		scenario = model.ScenarioFresh
	}
	run.OutfitIDs = append([]string(nil), res.OutfitIDs...)
	run.Scenario = scenario

	content := freshResultCopy(len(run.OutfitIDs))
	if scenario == model.ScenarioRemix {
		content = mixedResultCopy(len(run.OutfitIDs))
	}

	return o.finish(ctx, req, run, LabelGenerating, content, obs, log)
}

func (o *Orchestrator) runRemixLook(ctx context.Context, req Request, run *model.PipelineRun, obs Observer, log *logger.Logger) Outcome {
	d := req.Directive

	o.advance(run, model.PhaseCurating, LabelRemixing, obs)

	outfits, err := o.listOutfits(ctx, req.Profile.UserID)
	if err != nil {
		log.Error("failed to list prior outfits", zap.Error(err))
		o.advance(run, model.PhaseFailed, "", obs)
		return Outcome{Run: snapshot(run)}
	}

	source, ok := FindSourceOutfit(outfits, d.SourceOccasion)
	if !ok {
		// No message on purpose: the user is not told the remix was skipped.
		log.Info("no prior outfit matches remix source", zap.String("source_occasion", d.SourceOccasion))
		o.advance(run, model.PhaseFailed, "", obs)
		return Outcome{Run: snapshot(run), Silent: true}
	}

	res, err := o.remix(ctx, source, d.Twist)
	if err != nil {
		log.Error("remix failed", zap.String("source_outfit_id", source.ID), zap.Error(err))
		o.advance(run, model.PhaseFailed, "", obs)
		return Outcome{Run: snapshot(run)}
	}
	if !res.Success || res.OutfitID == "" {
		log.Warn("remix rejected", zap.String("source_outfit_id", source.ID), zap.String("reason", res.Reason))
		o.advance(run, model.PhaseFailed, "", obs)
		return Outcome{Run: snapshot(run)}
	}

	run.OutfitIDs = []string{res.OutfitID}
	run.Scenario = model.ScenarioRemix

	return o.finish(ctx, req, run, LabelRemixGenerating, remixResultCopy(d.Twist), obs, log)
}

// finish runs the generate and persist steps shared by both directives.
func (o *Orchestrator) finish(ctx context.Context, req Request, run *model.PipelineRun, label, content string, obs Observer, log *logger.Logger) Outcome {
	o.advance(run, model.PhaseGenerating, label, obs)

	run.Images = o.generate(ctx, run.OutfitIDs, log)

	msg := &model.Message{
		ID:        "run-" + run.ID,
		ThreadID:  req.ThreadID,
		Role:      model.RoleAssistant,
		Kind:      model.KindResultReady,
		Content:   content,
		OutfitIDs: append([]string(nil), run.OutfitIDs...),
		Scenario:  run.Scenario,
		CreatedAt: o.now(),
	}
	persisted := o.persist(ctx, req.ThreadID, msg, log)

	o.advance(run, model.PhaseSucceeded, "", obs)
	return Outcome{Run: snapshot(run), Message: msg, Persisted: persisted}
}

func (o *Orchestrator) curate(ctx context.Context, occasion string, profile model.UserProfile) (*CurationResult, error) {
	ctx, span := o.tracer.Start(ctx, "pipeline.curate", trace.WithAttributes(attribute.String("occasion", occasion)))
	defer span.End()
	defer observeStep("curate", time.Now())

	res, err := o.deps.Curator.MatchItems(ctx, occasion, profile)
	if err == nil && res == nil {
		err = errors.New("curation returned no result")
	}
	if err != nil {
		tracing.Fail(span, err)
		return nil, err
	}
	span.SetAttributes(attribute.Bool("success", res.Success), attribute.Int("outfits", len(res.OutfitIDs)))
	return res, nil
}

func (o *Orchestrator) listOutfits(ctx context.Context, userID string) ([]model.Outfit, error) {
	ctx, span := o.tracer.Start(ctx, "pipeline.wardrobe")
	defer span.End()

	outfits, err := o.deps.Wardrobe.ListOutfits(ctx, userID)
	if err != nil {
		tracing.Fail(span, err)
		return nil, err
	}
	return outfits, nil
}

func (o *Orchestrator) remix(ctx context.Context, source model.Outfit, twist string) (*RemixResult, error) {
	ctx, span := o.tracer.Start(ctx, "pipeline.remix", trace.WithAttributes(
		attribute.String("source_outfit_id", source.ID),
		attribute.String("twist", twist),
	))
	defer span.End()
	defer observeStep("remix", time.Now())

	res, err := o.deps.Remixer.Remix(ctx, source.ID, twist, source.Occasion)
	if err == nil && res == nil {
		err = errors.New("remix returned no result")
	}
	if err != nil {
		tracing.Fail(span, err)
		return nil, err
	}
	return res, nil
}

// generate renders every outfit concurrently. Failures are recorded per
// outfit and never fail the run.
func (o *Orchestrator) generate(ctx context.Context, outfitIDs []string, log *logger.Logger) []model.ImageStatus {
	ctx, span := o.tracer.Start(ctx, "pipeline.generate", trace.WithAttributes(attribute.Int("outfits", len(outfitIDs))))
	defer span.End()
	defer observeStep("generate", time.Now())

	statuses := make([]model.ImageStatus, len(outfitIDs))

	var eg errgroup.Group
	if o.config.ImageConcurrency > 0 {
		eg.SetLimit(o.config.ImageConcurrency)
	}

	for i, id := range outfitIDs {
		i, id := i, id
		eg.Go(func() error {
			status := model.ImageStatus{OutfitID: id, Status: model.ImageReady}
			if err := o.deps.Images.GenerateImage(ctx, id); err != nil {
				log.Warn("image generation failed", zap.String("outfit_id", id), zap.Error(err))
				status.Status = model.ImageFailed
				status.Error = err.Error()
			}
			metrics.ImageGenerationsTotal.WithLabelValues(status.Status).Inc()
			statuses[i] = status
			return nil
		})
	}
	_ = eg.Wait()

	failed := 0
	for _, s := range statuses {
		if s.Status == model.ImageFailed {
			failed++
		}
	}
	span.SetAttributes(attribute.Int("failed", failed))

	return statuses
}

// persist writes msg to the thread. Failures are logged and swallowed; the
// caller still shows msg optimistically.
func (o *Orchestrator) persist(ctx context.Context, threadID string, msg *model.Message, log *logger.Logger) bool {
	ctx, span := o.tracer.Start(ctx, "pipeline.persist", trace.WithAttributes(attribute.String("kind", string(msg.Kind))))
	defer span.End()
	defer observeStep("persist", time.Now())

	if threadID == "" {
		err := errors.New("thread not available")
		tracing.Fail(span, err)
		log.Error("failed to persist pipeline message", zap.Error(err))
		return false
	}

	rec := *msg
	rec.ID = ""
	if _, err := o.deps.Writer.AppendMessage(ctx, threadID, &rec); err != nil {
		tracing.Fail(span, err)
		log.Error("failed to persist pipeline message", zap.Error(err))
		return false
	}
	return true
}

func (o *Orchestrator) advance(run *model.PipelineRun, phase model.PipelinePhase, label string, obs Observer) {
	run.Phase = phase
	run.Label = label
	if obs != nil {
		obs.OnPhase(snapshot(run))
	}
}

// FindSourceOutfit returns the first outfit whose occasion contains
// sourceOccasion, compared case-insensitively.
func FindSourceOutfit(outfits []model.Outfit, sourceOccasion string) (model.Outfit, bool) {
	needle := strings.ToLower(strings.TrimSpace(sourceOccasion))
	if needle == "" {
		return model.Outfit{}, false
	}
	for _, outfit := range outfits {
		if strings.Contains(strings.ToLower(outfit.Occasion), needle) {
			return outfit, true
		}
	}
	return model.Outfit{}, false
}

func snapshot(run *model.PipelineRun) model.PipelineRun {
	cp := *run
	cp.OutfitIDs = append([]string(nil), run.OutfitIDs...)
	cp.Images = append([]model.ImageStatus(nil), run.Images...)
	return cp
}

func observeStep(step string, start time.Time) {
	metrics.ObserveStep(step, time.Since(start).Seconds())
}
