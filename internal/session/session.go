// Package session drives one stylist conversation: it accepts user
// submissions, streams the assistant's reply, hands recognized directives to
// the pipeline and exposes the reconciled timeline.
package session

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/capitalize-ai/stylist-engine/internal/directive"
	"github.com/capitalize-ai/stylist-engine/internal/llm"
	"github.com/capitalize-ai/stylist-engine/internal/model"
	"github.com/capitalize-ai/stylist-engine/internal/pipeline"
	"github.com/capitalize-ai/stylist-engine/internal/reconcile"
	"github.com/capitalize-ai/stylist-engine/pkg/logger"
	"github.com/capitalize-ai/stylist-engine/pkg/metrics"
)

var (
	// ErrBusy is returned when a submission arrives while a turn or pipeline
	// run is in progress.
	ErrBusy = errors.New("conversation is busy")

	// ErrEmptyMessage is returned for blank submissions.
	ErrEmptyMessage = errors.New("message is empty")

	// ErrClosed is returned once the session has been closed.
	ErrClosed = errors.New("session is closed")
)

// ThreadStore is the durable message log.
type ThreadStore interface {
	CreateThread(ctx context.Context, userID, initialText string) (string, error)
	AppendMessage(ctx context.Context, threadID string, msg *model.Message) (string, error)
	ListMessages(ctx context.Context, threadID string) ([]model.Message, error)
}

// Watcher is implemented by thread stores that can push new messages.
type Watcher interface {
	Watch(ctx context.Context, threadID string, fn func(model.Message)) error
}

// Assistant streams one assistant turn.
type Assistant interface {
	Stream(ctx context.Context, req llm.AssistantRequest, onToken llm.StreamCallback) (*llm.CompletionResponse, error)
}

// PipelineRunner executes a directive.
type PipelineRunner interface {
	Run(ctx context.Context, req pipeline.Request, obs pipeline.Observer) pipeline.Outcome
}

// Dependencies are the collaborators of a session.
type Dependencies struct {
	Threads   ThreadStore
	Assistant Assistant
	Pipeline  PipelineRunner
}

// Option configures a Session.
type Option func(*Session)

// WithTransitionHook registers fn to be called on every state transition.
// fn runs with the session lock held and must not call back into the session.
func WithTransitionHook(fn func(from, to model.ConversationState)) Option {
	return func(s *Session) {
		s.hook = fn
	}
}

// WithClock overrides the session clock.
func WithClock(now func() time.Time) Option {
	return func(s *Session) {
		s.now = now
	}
}

// WithHistoryLimit bounds how many prior timeline entries are sent to the
// assistant with each turn.
func WithHistoryLimit(n int) Option {
	return func(s *Session) {
		s.historyLimit = n
	}
}

const defaultHistoryLimit = 40

// transitions lists the allowed moves out of each state. Any state may also
// move to idle.
var transitions = map[model.ConversationState][]model.ConversationState{
	model.StateIdle:          {model.StateAwaitingReply},
	model.StateNoMatches:     {model.StateAwaitingReply},
	model.StateAwaitingReply: {model.StateCurating},
	model.StateCurating:      {model.StateGenerating, model.StateNoMatches},
	model.StateGenerating:    {},
}

// Session is one conversation. All methods are safe for concurrent use.
type Session struct {
	id      string
	profile model.UserProfile
	deps    Dependencies
	logger  *logger.Logger

	hook         func(from, to model.ConversationState)
	now          func() time.Time
	historyLimit int

	mu    sync.Mutex
	epoch uint64

	state    model.ConversationState
	run      *model.PipelineRun
	scenario model.Scenario
	thread   *threadHandle

	persisted     []model.Message
	streaming     []model.Message
	streamStatus  model.StreamStatus
	// local holds user entries and finished replies not yet in the thread,
	// in submission order.
	local         []model.Message
	pipelineEntry *model.Message

	// greetedAt pins the greeting timestamp for the current conversation.
	greetedAt time.Time

	subscribers  map[int]chan struct{}
	nextSub      int
	followCancel context.CancelFunc
	closed       bool

	wg sync.WaitGroup
}

// New creates an idle session for profile.
func New(id string, profile model.UserProfile, deps Dependencies, log *logger.Logger, opts ...Option) *Session {
	s := &Session{
		id:           id,
		profile:      profile,
		deps:         deps,
		logger:       log.WithSession(id, profile.UserID),
		now:          time.Now,
		historyLimit: defaultHistoryLimit,
		state:        model.StateIdle,
		subscribers:  make(map[int]chan struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// ID returns the session ID.
func (s *Session) ID() string {
	return s.id
}

// Profile returns the profile the session was created with.
func (s *Session) Profile() model.UserProfile {
	return s.profile
}

// Submit sends a user message. The assistant turn and any pipeline run it
// triggers continue in the background after Submit returns, independent of
// ctx cancellation.
func (s *Session) Submit(ctx context.Context, text string) error {
	text = strings.TrimSpace(text)
	if text == "" {
		return ErrEmptyMessage
	}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ErrClosed
	}
	if !s.state.AcceptsInput() {
		state := s.state
		s.mu.Unlock()
		metrics.SubmissionsRejectedTotal.Inc()
		s.logger.Debug("submission rejected", zap.String("state", string(state)))
		return ErrBusy
	}

	local := model.Message{
		ID:        "local-" + uuid.Must(uuid.NewV7()).String(),
		Role:      model.RoleUser,
		Kind:      model.KindText,
		Content:   text,
		CreatedAt: s.now(),
	}

	history := s.historyLocked(text)
	s.local = append(s.local, local)
	if s.run != nil && s.run.Phase.Terminal() {
		s.run = nil
	}
	s.streaming = nil
	s.streamStatus = model.StreamSubmitted
	s.transitionLocked(model.StateAwaitingReply)

	if s.thread == nil || s.thread.failed() {
		s.thread = s.createThread(text)
	}

	epoch := s.epoch
	thread := s.thread
	s.wg.Add(1)
	s.mu.Unlock()

	s.notify()

	turnCtx := context.WithoutCancel(ctx)
	go func() {
		defer s.wg.Done()
		s.runTurn(turnCtx, epoch, thread, history)
	}()

	return nil
}

// StartNew abandons the current conversation. In-flight work keeps running
// but its results are discarded.
func (s *Session) StartNew() {
	s.mu.Lock()
	s.resetLocked()
	s.transitionLocked(model.StateIdle)
	s.mu.Unlock()

	s.logger.Info("started new conversation")
	s.notify()
}

func (s *Session) resetLocked() {
	s.epoch++
	s.stopFollowLocked()
	s.run = nil
	s.scenario = ""
	s.thread = nil
	s.persisted = nil
	s.streaming = nil
	s.streamStatus = ""
	s.local = nil
	s.pipelineEntry = nil
	s.greetedAt = time.Time{}
}

// State returns the current state snapshot.
func (s *Session) State() model.StateSnapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stateLocked()
}

func (s *Session) stateLocked() model.StateSnapshot {
	snap := model.StateSnapshot{
		SessionID: s.id,
		State:     s.state,
		Scenario:  s.scenario,
	}
	if id, ok := s.thread.resolved(); ok {
		snap.ThreadID = id
	}
	if s.run != nil {
		run := *s.run
		run.OutfitIDs = append([]string(nil), s.run.OutfitIDs...)
		run.Images = append([]model.ImageStatus(nil), s.run.Images...)
		snap.Run = &run
		if !run.Phase.Terminal() {
			snap.Label = run.Label
		}
	}
	return snap
}

// Timeline returns the reconciled message timeline.
func (s *Session) Timeline() []model.Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.timelineLocked()
}

// Snapshot returns the state and timeline taken at the same instant.
func (s *Session) Snapshot() model.TimelineResponse {
	s.mu.Lock()
	defer s.mu.Unlock()
	return model.TimelineResponse{
		State:    s.stateLocked(),
		Messages: s.timelineLocked(),
	}
}

func (s *Session) timelineLocked() []model.Message {
	if s.greetedAt.IsZero() {
		s.greetedAt = s.now()
	}
	return reconcile.Merge(reconcile.Input{
		Persisted:    s.persisted,
		Streaming:    s.streaming,
		StreamStatus: s.streamStatus,
		Optimistic:   s.localLocked(model.RoleUser),
		Pending:      s.localLocked(model.RoleAssistant),
		Pipeline:     s.pipelineEntry,
		State:        s.state,
		Profile:      s.profile,
		Now:          s.greetedAt,
	})
}

// Subscribe returns a channel that receives a value whenever the state or
// timeline may have changed. Notifications coalesce. The channel is closed
// when the session is closed.
func (s *Session) Subscribe() (<-chan struct{}, func()) {
	ch := make(chan struct{}, 1)

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		close(ch)
		return ch, func() {}
	}
	id := s.nextSub
	s.nextSub++
	s.subscribers[id] = ch
	s.mu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			s.mu.Lock()
			delete(s.subscribers, id)
			s.mu.Unlock()
		})
	}
}

func (s *Session) notify() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, ch := range s.subscribers {
		select {
		case ch <- struct{}{}:
		default:
		}
	}
}

// Sync refreshes the persisted snapshot from the thread store. It is a no-op
// until the thread exists.
func (s *Session) Sync(ctx context.Context) error {
	s.mu.Lock()
	epoch := s.epoch
	threadID, ok := s.thread.resolved()
	s.mu.Unlock()

	if !ok {
		return nil
	}

	msgs, err := s.deps.Threads.ListMessages(ctx, threadID)
	if err != nil {
		return err
	}

	s.update(epoch, func() {
		s.mergePersistedLocked(msgs)
	})
	return nil
}

// Wait blocks until every background task started by the session is done.
func (s *Session) Wait() {
	s.wg.Wait()
}

// Close stops delivering updates. Background tasks run to completion and
// their results are dropped.
func (s *Session) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return
	}
	s.closed = true
	s.epoch++
	s.stopFollowLocked()
	for id, ch := range s.subscribers {
		close(ch)
		delete(s.subscribers, id)
	}
}

func (s *Session) runTurn(ctx context.Context, epoch uint64, thread *threadHandle, history []llm.ChatMessage) {
	log := s.logger.With(zap.Uint64("epoch", epoch))

	streamID := "stream-" + uuid.Must(uuid.NewV7()).String()
	startedAt := s.now()

	var buf strings.Builder
	resp, err := s.deps.Assistant.Stream(ctx, llm.AssistantRequest{
		History: history,
		Profile: s.profile,
	}, func(token string, index int) error {
		buf.WriteString(token)
		content := buf.String()
		s.update(epoch, func() {
			s.streamStatus = model.StreamStreaming
			s.streaming = []model.Message{{
				ID:        streamID,
				Role:      model.RoleAssistant,
				Kind:      model.KindText,
				Content:   content,
				CreatedAt: startedAt,
			}}
		})
		return nil
	})
	if err != nil {
		log.Error("assistant turn failed", zap.Error(err))
		s.update(epoch, func() {
			s.streamStatus = model.StreamError
			s.streaming = nil
		})
		s.persistTurn(ctx, epoch, thread, log)
		s.update(epoch, func() {
			s.transitionLocked(model.StateIdle)
		})
		return
	}

	final := resp.Content
	if final == "" {
		final = buf.String()
	}

	reply := model.Message{
		ID:         "local-" + uuid.Must(uuid.NewV7()).String(),
		Role:       model.RoleAssistant,
		Kind:       model.KindText,
		Content:    final,
		Model:      &resp.Model,
		LatencyMs:  &resp.LatencyMs,
		StopReason: &resp.StopReason,
		CreatedAt:  s.now(),
	}

	// The finished reply is shown from the local list until the thread has it.
	if !s.update(epoch, func() {
		s.streamStatus = model.StreamDone
		s.streaming = nil
		s.local = append(s.local, reply)
	}) {
		return
	}

	threadID := s.persistTurn(ctx, epoch, thread, log)

	d, ok := directive.Parse(final)
	if !ok {
		s.update(epoch, func() {
			s.transitionLocked(model.StateIdle)
		})
		return
	}

	metrics.DirectivesTotal.WithLabelValues(string(d.Type)).Inc()
	log.Info("directive recognized", zap.String("directive", string(d.Type)))

	if !s.update(epoch, func() {
		s.run = &model.PipelineRun{
			Directive: d,
			Phase:     model.PhaseCurating,
			StartedAt: s.now(),
		}
		s.transitionLocked(model.StateCurating)
	}) {
		return
	}

	s.runPipeline(ctx, epoch, threadID, d, log)
}

func (s *Session) runPipeline(ctx context.Context, epoch uint64, threadID string, d model.Directive, log *logger.Logger) {
	obs := pipeline.ObserverFunc(func(run model.PipelineRun) {
		if run.Phase.Terminal() {
			return
		}
		s.update(epoch, func() {
			s.run = &run
			if run.Phase == model.PhaseGenerating {
				s.transitionLocked(model.StateGenerating)
			}
		})
	})

	outcome := s.deps.Pipeline.Run(ctx, pipeline.Request{
		Directive: d,
		ThreadID:  threadID,
		Profile:   s.profile,
	}, obs)

	var persisted []model.Message
	if outcome.Persisted {
		msgs, err := s.deps.Threads.ListMessages(ctx, threadID)
		if err != nil {
			log.Warn("failed to refresh thread", zap.Error(err))
		}
		persisted = msgs
	}

	s.update(epoch, func() {
		run := outcome.Run
		s.run = &run
		if outcome.Message != nil {
			entry := *outcome.Message
			s.pipelineEntry = &entry
		}
		s.mergePersistedLocked(persisted)

		switch run.Phase {
		case model.PhaseNoMatches:
			s.transitionLocked(model.StateNoMatches)
		case model.PhaseSucceeded:
			// The result now lives in the timeline entry.
			s.run = nil
			s.scenario = run.Scenario
			s.transitionLocked(model.StateIdle)
		default:
			s.transitionLocked(model.StateIdle)
		}
	})
}

// persistTurn writes every local entry the thread does not have yet, oldest
// first, once the thread exists. Entries left from turns whose thread could
// not be created are written to the new thread ahead of the current turn.
// Writing stops at the first failure so the thread keeps submission order;
// unwritten entries stay visible and are retried on the next turn.
func (s *Session) persistTurn(ctx context.Context, epoch uint64, thread *threadHandle, log *logger.Logger) string {
	threadID, err := thread.wait(ctx)
	if err != nil {
		log.Error("thread unavailable, messages not persisted", zap.Error(err))
		return ""
	}

	s.mu.Lock()
	current := !s.closed && s.epoch == epoch
	unsaved := append([]model.Message(nil), s.local...)
	s.mu.Unlock()
	if !current {
		return threadID
	}

	saved := make(map[string]bool, len(unsaved))
	for i := range unsaved {
		if !s.append(ctx, threadID, &unsaved[i], log) {
			break
		}
		saved[unsaved[i].ID] = true
	}

	msgs, err := s.deps.Threads.ListMessages(ctx, threadID)
	if err != nil {
		log.Warn("failed to refresh thread", zap.Error(err))
	}

	s.update(epoch, func() {
		s.mergePersistedLocked(msgs)
		s.dropLocalLocked(saved)
		s.startFollowLocked(epoch, threadID)
	})

	return threadID
}

func (s *Session) append(ctx context.Context, threadID string, msg *model.Message, log *logger.Logger) bool {
	rec := *msg
	rec.ID = ""
	rec.ThreadID = threadID
	if _, err := s.deps.Threads.AppendMessage(ctx, threadID, &rec); err != nil {
		log.Error("failed to persist message",
			zap.String("thread_id", threadID),
			zap.String("role", string(msg.Role)),
			zap.Error(err),
		)
		return false
	}
	return true
}

// update applies fn under the lock if epoch is still current and notifies
// subscribers. It reports whether fn ran.
func (s *Session) update(epoch uint64, fn func()) bool {
	s.mu.Lock()
	if s.closed || s.epoch != epoch {
		s.mu.Unlock()
		return false
	}
	fn()
	s.mu.Unlock()

	s.notify()
	return true
}

func (s *Session) transitionLocked(to model.ConversationState) bool {
	from := s.state
	if from == to {
		return true
	}
	if to != model.StateIdle && !allowed(from, to) {
		s.logger.Warn("invalid state transition",
			zap.String("from", string(from)),
			zap.String("to", string(to)),
		)
		return false
	}

	s.state = to
	metrics.RecordTransition(string(from), string(to))
	s.logger.Debug("state transition",
		zap.String("from", string(from)),
		zap.String("to", string(to)),
	)
	if s.hook != nil {
		s.hook(from, to)
	}
	return true
}

func allowed(from, to model.ConversationState) bool {
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// mergePersistedLocked folds msgs into the persisted snapshot, keyed by ID.
// Records already held but missing from msgs are kept since the store may be
// written concurrently.
func (s *Session) mergePersistedLocked(msgs []model.Message) {
	if len(msgs) == 0 {
		return
	}

	index := make(map[string]int, len(s.persisted))
	for i, m := range s.persisted {
		index[m.ID] = i
	}

	merged := make([]model.Message, len(s.persisted), len(s.persisted)+len(msgs))
	copy(merged, s.persisted)
	for _, m := range msgs {
		if i, ok := index[m.ID]; ok {
			merged[i] = m
			continue
		}
		index[m.ID] = len(merged)
		merged = append(merged, m)
	}
	s.persisted = merged
}

func (s *Session) dropLocalLocked(saved map[string]bool) {
	if len(saved) == 0 {
		return
	}
	kept := make([]model.Message, 0, len(s.local))
	for _, m := range s.local {
		if !saved[m.ID] {
			kept = append(kept, m)
		}
	}
	s.local = kept
}

func (s *Session) localLocked(role model.Role) []model.Message {
	var out []model.Message
	for _, m := range s.local {
		if m.Role == role {
			out = append(out, m)
		}
	}
	return out
}

// historyLocked builds the assistant context: prior timeline entries, then
// the new user text.
func (s *Session) historyLocked(text string) []llm.ChatMessage {
	entries := reconcile.Merge(reconcile.Input{
		Persisted:  s.persisted,
		Optimistic: s.localLocked(model.RoleUser),
		Pending:    s.localLocked(model.RoleAssistant),
		State:      model.StateAwaitingReply,
		Profile:    s.profile,
	})

	if s.historyLimit > 0 && len(entries) > s.historyLimit {
		entries = entries[len(entries)-s.historyLimit:]
	}

	history := make([]llm.ChatMessage, 0, len(entries)+1)
	for _, m := range entries {
		history = append(history, llm.ChatMessage{Role: string(m.Role), Content: m.Content})
	}
	return append(history, llm.ChatMessage{Role: string(model.RoleUser), Content: text})
}

func (s *Session) createThread(initialText string) *threadHandle {
	h := &threadHandle{done: make(chan struct{})}
	userID := s.profile.UserID

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		id, err := s.deps.Threads.CreateThread(context.Background(), userID, initialText)
		if err != nil {
			s.logger.Error("failed to create thread", zap.Error(err))
		} else {
			s.logger.Info("thread created", zap.String("thread_id", id))
		}
		h.id, h.err = id, err
		close(h.done)
	}()

	return h
}

func (s *Session) startFollowLocked(epoch uint64, threadID string) {
	if s.followCancel != nil {
		return
	}
	w, ok := s.deps.Threads.(Watcher)
	if !ok {
		return
	}

	ctx, cancel := context.WithCancel(context.Background())
	s.followCancel = cancel

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		err := w.Watch(ctx, threadID, func(msg model.Message) {
			s.update(epoch, func() {
				s.mergePersistedLocked([]model.Message{msg})
			})
		})
		if err != nil {
			s.logger.Warn("failed to follow thread", zap.String("thread_id", threadID), zap.Error(err))
		}
	}()
}

func (s *Session) stopFollowLocked() {
	if s.followCancel != nil {
		s.followCancel()
		s.followCancel = nil
	}
}

// threadHandle is a thread ID that resolves in the background.
type threadHandle struct {
	done chan struct{}
	id   string
	err  error
}

func (h *threadHandle) wait(ctx context.Context) (string, error) {
	select {
	case <-h.done:
		return h.id, h.err
	case <-ctx.Done():
		return "", ctx.Err()
	}
}

func (h *threadHandle) resolved() (string, bool) {
	if h == nil {
		return "", false
	}
	select {
	case <-h.done:
		return h.id, h.err == nil
	default:
		return "", false
	}
}

func (h *threadHandle) failed() bool {
	if h == nil {
		return false
	}
	select {
	case <-h.done:
		return h.err != nil
	default:
		return false
	}
}
