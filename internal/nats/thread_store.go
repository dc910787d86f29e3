package nats

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/nats-io/nats.go/jetstream"
	"go.uber.org/zap"

	"github.com/capitalize-ai/stylist-engine/internal/model"
	"github.com/capitalize-ai/stylist-engine/pkg/metrics"
)

const (
	// StreamName is the name of the threads stream.
	StreamName = "STYLIST_THREADS"

	// SubjectPrefix is the prefix for all thread subjects.
	SubjectPrefix = "thread"

	defaultFetchBatch = 100
)

// ThreadStore persists conversation threads as JetStream subjects. The stream
// is append-only and shared by every writer of a thread.
type ThreadStore struct {
	client     *Client
	fetchBatch int
}

// NewThreadStore creates a new JetStream thread store.
func NewThreadStore(client *Client) *ThreadStore {
	return &ThreadStore{
		client:     client,
		fetchBatch: defaultFetchBatch,
	}
}

// EnsureStream ensures the threads stream exists with proper configuration.
func (s *ThreadStore) EnsureStream(ctx context.Context) error {
	js := s.client.JetStream()

	_, err := js.Stream(ctx, StreamName)
	if err == nil {
		return nil
	}
	if !errors.Is(err, jetstream.ErrStreamNotFound) {
		return fmt.Errorf("failed to look up stream: %w", err)
	}

	_, err = js.CreateStream(ctx, jetstream.StreamConfig{
		Name:        StreamName,
		Subjects:    []string{fmt.Sprintf("%s.>", SubjectPrefix)},
		Retention:   jetstream.LimitsPolicy,
		MaxAge:      365 * 24 * time.Hour, // 1 year
		MaxBytes:    20 * 1024 * 1024 * 1024,
		Storage:     jetstream.FileStorage,
		Replicas:    1,
		Compression: jetstream.S2Compression,
		DenyDelete:  true,
		DenyPurge:   true,
		Description: "Stylist conversation threads",
	})
	if err != nil {
		return fmt.Errorf("failed to create stream: %w", err)
	}

	s.client.logger.Info("created JetStream stream", zap.String("stream", StreamName))
	return nil
}

// MessageSubject returns the subject for a message.
func MessageSubject(threadID string, role model.Role) string {
	return fmt.Sprintf("%s.%s.msg.%s", SubjectPrefix, threadID, role)
}

// EventSubject returns the subject for a thread event.
func EventSubject(threadID string, eventType model.EventType) string {
	return fmt.Sprintf("%s.%s.event.%s", SubjectPrefix, threadID, eventType)
}

// MessageFilter returns the filter subject for all messages in a thread.
func MessageFilter(threadID string) string {
	return fmt.Sprintf("%s.%s.msg.>", SubjectPrefix, threadID)
}

// CreateThread allocates a thread ID and records its creation event.
func (s *ThreadStore) CreateThread(ctx context.Context, userID, initialText string) (string, error) {
	threadID := uuid.Must(uuid.NewV7()).String()

	event := &model.ThreadEvent{
		ID:        uuid.Must(uuid.NewV7()).String(),
		ThreadID:  threadID,
		UserID:    userID,
		Type:      model.EventTypeThreadCreated,
		Metadata:  map[string]any{"title": titleFrom(initialText)},
		CreatedAt: time.Now().UTC(),
	}

	data, err := json.Marshal(event)
	if err != nil {
		return "", fmt.Errorf("failed to marshal event: %w", err)
	}

	if _, err := s.client.JetStream().Publish(ctx, EventSubject(threadID, event.Type), data); err != nil {
		return "", fmt.Errorf("failed to publish thread event: %w", err)
	}

	return threadID, nil
}

// AppendMessage publishes msg to the thread and returns its durable ID.
func (s *ThreadStore) AppendMessage(ctx context.Context, threadID string, msg *model.Message) (string, error) {
	rec := *msg
	rec.ID = uuid.Must(uuid.NewV7()).String()
	rec.ThreadID = threadID
	rec.CreatedAt = time.Now().UTC()
	rec.Sequence = 0

	data, err := json.Marshal(&rec)
	if err != nil {
		return "", fmt.Errorf("failed to marshal message: %w", err)
	}

	if _, err := s.client.JetStream().Publish(ctx, MessageSubject(threadID, rec.Role), data); err != nil {
		return "", fmt.Errorf("failed to publish message: %w", err)
	}

	metrics.MessagesTotal.WithLabelValues(string(rec.Role), string(rec.Kind)).Inc()
	return rec.ID, nil
}

// ListMessages reads the whole thread in stream order.
func (s *ThreadStore) ListMessages(ctx context.Context, threadID string) ([]model.Message, error) {
	var all []model.Message
	var after uint64

	for {
		batch, last, hasMore, err := s.GetMessages(ctx, threadID, after, s.fetchBatch)
		if err != nil {
			return nil, err
		}
		all = append(all, batch...)
		if !hasMore || last == after {
			return all, nil
		}
		after = last
	}
}

// GetMessages retrieves up to limit thread messages after a stream sequence.
func (s *ThreadStore) GetMessages(ctx context.Context, threadID string, afterSequence uint64, limit int) ([]model.Message, uint64, bool, error) {
	js := s.client.JetStream()

	consumerConfig := jetstream.ConsumerConfig{
		FilterSubject:     MessageFilter(threadID),
		AckPolicy:         jetstream.AckNonePolicy,
		DeliverPolicy:     jetstream.DeliverAllPolicy,
		InactiveThreshold: 30 * time.Second,
	}

	if afterSequence > 0 {
		consumerConfig.DeliverPolicy = jetstream.DeliverByStartSequencePolicy
		consumerConfig.OptStartSeq = afterSequence + 1
	}

	consumer, err := js.CreateConsumer(ctx, StreamName, consumerConfig)
	if err != nil {
		return nil, 0, false, fmt.Errorf("failed to create consumer: %w", err)
	}

	info := consumer.CachedInfo()
	pending := uint64(0)
	if info != nil {
		pending = info.NumPending
	}
	if pending == 0 {
		return nil, afterSequence, false, nil
	}

	batch, err := consumer.Fetch(limit, jetstream.FetchMaxWait(2*time.Second))
	if err != nil {
		return nil, 0, false, fmt.Errorf("failed to fetch messages: %w", err)
	}

	var messages []model.Message
	lastSequence := afterSequence

	for msg := range batch.Messages() {
		meta, _ := msg.Metadata()
		message, err := decodeMessage(msg.Data(), meta)
		if err != nil {
			s.client.logger.Warn("skipping undecodable thread message", zap.String("thread_id", threadID), zap.Error(err))
			continue
		}
		if meta != nil {
			lastSequence = meta.Sequence.Stream
		}
		messages = append(messages, message)
	}

	if err := batch.Error(); err != nil && !errors.Is(err, context.DeadlineExceeded) && !errors.Is(err, jetstream.ErrNoMessages) {
		return nil, 0, false, fmt.Errorf("batch error: %w", err)
	}

	hasMore := pending > uint64(len(messages)) && len(messages) == limit

	return messages, lastSequence, hasMore, nil
}

// Watch delivers every thread message, backlog first, to fn until ctx is done.
func (s *ThreadStore) Watch(ctx context.Context, threadID string, fn func(model.Message)) error {
	consumer, err := s.client.JetStream().OrderedConsumer(ctx, StreamName, jetstream.OrderedConsumerConfig{
		FilterSubjects: []string{MessageFilter(threadID)},
		DeliverPolicy:  jetstream.DeliverAllPolicy,
	})
	if err != nil {
		return fmt.Errorf("failed to create ordered consumer: %w", err)
	}

	cc, err := consumer.Consume(func(msg jetstream.Msg) {
		meta, _ := msg.Metadata()
		message, err := decodeMessage(msg.Data(), meta)
		if err != nil {
			s.client.logger.Warn("skipping undecodable thread message", zap.String("thread_id", threadID), zap.Error(err))
			return
		}
		fn(message)
	})
	if err != nil {
		return fmt.Errorf("failed to consume thread: %w", err)
	}

	go func() {
		<-ctx.Done()
		cc.Stop()
	}()

	return nil
}

// decodeMessage unmarshals a stored message and stamps it with the server's
// sequence and timestamp when metadata is available.
func decodeMessage(data []byte, meta *jetstream.MsgMetadata) (model.Message, error) {
	var message model.Message
	if err := json.Unmarshal(data, &message); err != nil {
		return model.Message{}, fmt.Errorf("failed to unmarshal message: %w", err)
	}
	if meta != nil {
		message.Sequence = meta.Sequence.Stream
		if !meta.Timestamp.IsZero() {
			message.CreatedAt = meta.Timestamp.UTC()
		}
	}
	return message, nil
}

func titleFrom(text string) string {
	const maxTitle = 80
	runes := []rune(text)
	if len(runes) <= maxTitle {
		return text
	}
	return string(runes[:maxTitle]) + "…"
}
