// Package memory provides an in-process thread store for development and tests.
package memory

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/capitalize-ai/stylist-engine/internal/model"
	"github.com/capitalize-ai/stylist-engine/pkg/metrics"
)

// ErrThreadNotFound is returned for unknown thread IDs.
var ErrThreadNotFound = errors.New("thread not found")

type thread struct {
	messages []model.Message
	watchers map[int]func(model.Message)
}

// ThreadStore keeps threads and their message logs in memory.
type ThreadStore struct {
	mu        sync.RWMutex
	threads   map[string]*thread
	sequence  uint64
	watcherID int
	now       func() time.Time
}

// NewThreadStore creates an empty in-memory thread store.
func NewThreadStore() *ThreadStore {
	return &ThreadStore{
		threads: make(map[string]*thread),
		now:     time.Now,
	}
}

// CreateThread registers a new, empty thread.
func (s *ThreadStore) CreateThread(ctx context.Context, userID, initialText string) (string, error) {
	id := uuid.Must(uuid.NewV7()).String()

	s.mu.Lock()
	s.threads[id] = &thread{
		watchers: make(map[int]func(model.Message)),
	}
	s.mu.Unlock()

	return id, nil
}

// AppendMessage stores a copy of msg with a store-assigned ID and timestamp.
func (s *ThreadStore) AppendMessage(ctx context.Context, threadID string, msg *model.Message) (string, error) {
	s.mu.Lock()
	t, ok := s.threads[threadID]
	if !ok {
		s.mu.Unlock()
		return "", ErrThreadNotFound
	}

	s.sequence++
	rec := *msg
	rec.ID = uuid.Must(uuid.NewV7()).String()
	rec.ThreadID = threadID
	rec.CreatedAt = s.now()
	rec.Sequence = s.sequence
	rec.OutfitIDs = append([]string(nil), msg.OutfitIDs...)
	t.messages = append(t.messages, rec)

	watchers := make([]func(model.Message), 0, len(t.watchers))
	for _, fn := range t.watchers {
		watchers = append(watchers, fn)
	}
	s.mu.Unlock()

	metrics.MessagesTotal.WithLabelValues(string(rec.Role), string(rec.Kind)).Inc()

	for _, fn := range watchers {
		fn(rec)
	}

	return rec.ID, nil
}

// ListMessages returns the thread's messages in append order.
func (s *ThreadStore) ListMessages(ctx context.Context, threadID string) ([]model.Message, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	t, ok := s.threads[threadID]
	if !ok {
		return nil, ErrThreadNotFound
	}

	out := make([]model.Message, len(t.messages))
	copy(out, t.messages)
	return out, nil
}

// Watch replays the thread and then delivers every new message to fn until
// ctx is done.
func (s *ThreadStore) Watch(ctx context.Context, threadID string, fn func(model.Message)) error {
	s.mu.Lock()
	t, ok := s.threads[threadID]
	if !ok {
		s.mu.Unlock()
		return ErrThreadNotFound
	}
	s.watcherID++
	id := s.watcherID
	t.watchers[id] = fn
	backlog := make([]model.Message, len(t.messages))
	copy(backlog, t.messages)
	s.mu.Unlock()

	for _, msg := range backlog {
		fn(msg)
	}

	go func() {
		<-ctx.Done()
		s.mu.Lock()
		delete(t.watchers, id)
		s.mu.Unlock()
	}()

	return nil
}
