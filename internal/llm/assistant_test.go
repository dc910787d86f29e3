package llm

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/capitalize-ai/stylist-engine/internal/model"
)

type scriptedClient struct {
	tokens []string
	err    error
	got    *CompletionRequest
}

func (c *scriptedClient) CompleteStream(ctx context.Context, req *CompletionRequest, callback StreamCallback) (*CompletionResponse, error) {
	c.got = req
	if c.err != nil {
		return nil, c.err
	}
	var content string
	for i, tok := range c.tokens {
		if err := callback(tok, i); err != nil {
			return nil, err
		}
		content += tok
	}
	return &CompletionResponse{Content: content, Model: "scripted"}, nil
}

func (c *scriptedClient) Name() string { return "scripted" }

func TestAssistantStream(t *testing.T) {
	client := &scriptedClient{tokens: []string{"Sure! ", "[MATCH_ITEMS:", "gala]"}}
	a := NewAssistant(client, "scripted-1", 512)

	var streamed []string
	resp, err := a.Stream(context.Background(), AssistantRequest{
		History: []ChatMessage{{Role: "user", Content: "a gala"}},
		Profile: model.UserProfile{Name: "Maya"},
	}, func(token string, index int) error {
		streamed = append(streamed, token)
		return nil
	})

	require.NoError(t, err)
	assert.Equal(t, "Sure! [MATCH_ITEMS:gala]", resp.Content)
	assert.Equal(t, client.tokens, streamed)
	require.NotNil(t, client.got)
	assert.Equal(t, "scripted-1", client.got.Model)
	assert.Equal(t, 512, client.got.MaxTokens)
	assert.Contains(t, client.got.System, "Name: Maya")
}

func TestAssistantStreamErrors(t *testing.T) {
	_, err := NewAssistant(nil, "", 0).Stream(context.Background(), AssistantRequest{
		History: []ChatMessage{{Role: "user", Content: "hi"}},
	}, func(string, int) error { return nil })
	assert.ErrorIs(t, err, ErrNotConfigured)

	boom := errors.New("overloaded")
	_, err = NewAssistant(&scriptedClient{err: boom}, "", 0).Stream(context.Background(), AssistantRequest{
		History: []ChatMessage{{Role: "user", Content: "hi"}},
	}, func(string, int) error { return nil })
	assert.ErrorIs(t, err, boom)

	_, err = NewAssistant(&scriptedClient{}, "", 0).Stream(context.Background(), AssistantRequest{}, nil)
	assert.Error(t, err)
}

func TestAssistantStopsWhenCallbackFails(t *testing.T) {
	stop := errors.New("session moved on")
	a := NewAssistant(&scriptedClient{tokens: []string{"a", "b"}}, "", 0)

	_, err := a.Stream(context.Background(), AssistantRequest{
		History: []ChatMessage{{Role: "user", Content: "hi"}},
	}, func(string, int) error { return stop })

	assert.ErrorIs(t, err, stop)
}

func TestNormalizeHistory(t *testing.T) {
	got := NormalizeHistory([]ChatMessage{
		{Role: "assistant", Content: "Hi there!"},
		{Role: "user", Content: "brunch"},
		{Role: "user", Content: "  "},
		{Role: "user", Content: "something comfy"},
		{Role: "system", Content: "ignored"},
		{Role: "assistant", Content: "Got it"},
	})

	assert.Equal(t, []ChatMessage{
		{Role: "user", Content: "brunch\n\nsomething comfy"},
		{Role: "assistant", Content: "Got it"},
	}, got)
}

func TestSystemPrompt(t *testing.T) {
	prompt := SystemPrompt(model.UserProfile{
		Name:             "Maya",
		StylePreferences: []string{"minimalist", "streetwear"},
		Sizes:            map[string]string{"top": "M", "shoe": "39"},
		Budget:           "mid",
		Locale:           "en-GB",
	})

	assert.Contains(t, prompt, "[MATCH_ITEMS:<occasion>]")
	assert.Contains(t, prompt, "[REMIX_LOOK:<previous occasion>|<twist>]")
	assert.Contains(t, prompt, "Style preferences: minimalist, streetwear")
	assert.Contains(t, prompt, "Sizes: shoe 39, top M")
	assert.Contains(t, prompt, "Budget: mid")
	assert.Contains(t, prompt, "Locale: en-GB")
	assert.Contains(t, prompt, "has not uploaded a reference photo")

	assert.NotContains(t, SystemPrompt(model.UserProfile{HasReferencePhoto: true}), "Client profile")
}

func TestResolve(t *testing.T) {
	c, err := Resolve(ProviderOpenAI, "ak", "")
	require.NoError(t, err)
	assert.Equal(t, "anthropic", c.Name())

	c, err = Resolve(ProviderOpenAI, "ak", "ok")
	require.NoError(t, err)
	assert.Equal(t, "openai", c.Name())

	_, err = Resolve(ProviderAnthropic, "", "")
	assert.ErrorIs(t, err, ErrNoAPIKey)

	_, err = NewClient("gemini", "key")
	assert.Error(t, err)
}
