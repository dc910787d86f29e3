package memory

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/capitalize-ai/stylist-engine/internal/model"
)

func TestThreadStoreAppendAndList(t *testing.T) {
	ctx := context.Background()
	store := NewThreadStore()
	fixed := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	store.now = func() time.Time { return fixed }

	threadID, err := store.CreateThread(ctx, "user-1", "hello")
	require.NoError(t, err)

	msg := &model.Message{ID: "local-1", Role: model.RoleUser, Content: "hello", CreatedAt: fixed.Add(-time.Hour)}
	id, err := store.AppendMessage(ctx, threadID, msg)
	require.NoError(t, err)
	assert.NotEqual(t, "local-1", id)
	assert.Equal(t, "local-1", msg.ID, "caller's message must not change")

	_, err = store.AppendMessage(ctx, threadID, &model.Message{Role: model.RoleAssistant, Content: "hi", OutfitIDs: []string{"a"}})
	require.NoError(t, err)

	msgs, err := store.ListMessages(ctx, threadID)
	require.NoError(t, err)
	require.Len(t, msgs, 2)
	assert.Equal(t, id, msgs[0].ID)
	assert.Equal(t, threadID, msgs[0].ThreadID)
	assert.Equal(t, fixed, msgs[0].CreatedAt)
	assert.Equal(t, uint64(1), msgs[0].Sequence)
	assert.Equal(t, uint64(2), msgs[1].Sequence)
	assert.Equal(t, []string{"a"}, msgs[1].OutfitIDs)
}

func TestThreadStoreUnknownThread(t *testing.T) {
	ctx := context.Background()
	store := NewThreadStore()

	_, err := store.AppendMessage(ctx, "missing", &model.Message{})
	assert.ErrorIs(t, err, ErrThreadNotFound)

	_, err = store.ListMessages(ctx, "missing")
	assert.ErrorIs(t, err, ErrThreadNotFound)

	err = store.Watch(ctx, "missing", func(model.Message) {})
	assert.ErrorIs(t, err, ErrThreadNotFound)
}

func TestThreadStoreWatch(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	store := NewThreadStore()
	threadID, err := store.CreateThread(ctx, "user-1", "hi")
	require.NoError(t, err)

	_, err = store.AppendMessage(ctx, threadID, &model.Message{Role: model.RoleUser, Content: "before"})
	require.NoError(t, err)

	var mu sync.Mutex
	var seen []string
	err = store.Watch(ctx, threadID, func(msg model.Message) {
		mu.Lock()
		seen = append(seen, msg.Content)
		mu.Unlock()
	})
	require.NoError(t, err)

	_, err = store.AppendMessage(ctx, threadID, &model.Message{Role: model.RoleAssistant, Content: "after"})
	require.NoError(t, err)

	mu.Lock()
	assert.Equal(t, []string{"before", "after"}, seen)
	mu.Unlock()

	cancel()
	require.Eventually(t, func() bool {
		store.mu.RLock()
		defer store.mu.RUnlock()
		return len(store.threads[threadID].watchers) == 0
	}, time.Second, 5*time.Millisecond)

	_, err = store.AppendMessage(context.Background(), threadID, &model.Message{Role: model.RoleAssistant, Content: "ignored"})
	require.NoError(t, err)

	mu.Lock()
	assert.Len(t, seen, 2)
	mu.Unlock()
}
