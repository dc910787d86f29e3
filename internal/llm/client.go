// Package llm streams assistant turns from Anthropic or OpenAI models.
package llm

import (
	"context"
	"errors"
	"fmt"
)

// ErrNoAPIKey is returned by Resolve when no provider has credentials.
var ErrNoAPIKey = errors.New("no LLM API key configured")

// StreamCallback receives each streamed token with its position. Returning an
// error aborts the stream.
type StreamCallback func(token string, index int) error

// CompletionRequest is one provider call. Messages never contain the system
// prompt; providers place System where their API expects it.
type CompletionRequest struct {
	Model     string
	System    string
	Messages  []ChatMessage
	MaxTokens int
}

// ChatMessage is one prior turn sent as context.
type ChatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// CompletionResponse is the aggregate of a finished stream.
type CompletionResponse struct {
	Content    string
	Model      string
	TokensIn   int
	TokensOut  int
	StopReason string
	LatencyMs  int64
}

// Client streams completions from one provider.
type Client interface {
	CompleteStream(ctx context.Context, req *CompletionRequest, callback StreamCallback) (*CompletionResponse, error)
	Name() string
}

// Provider names an LLM vendor.
type Provider string

const (
	ProviderAnthropic Provider = "anthropic"
	ProviderOpenAI    Provider = "openai"
)

// NewClient creates a client for provider.
func NewClient(provider Provider, apiKey string) (Client, error) {
	switch provider {
	case ProviderAnthropic:
		return NewAnthropicClient(apiKey)
	case ProviderOpenAI:
		return NewOpenAIClient(apiKey)
	default:
		return nil, fmt.Errorf("unknown LLM provider %q", provider)
	}
}

// Resolve picks the preferred provider when it has a key and otherwise falls
// back to whichever provider does.
func Resolve(preferred Provider, anthropicKey, openAIKey string) (Client, error) {
	keys := map[Provider]string{
		ProviderAnthropic: anthropicKey,
		ProviderOpenAI:    openAIKey,
	}

	if key := keys[preferred]; key != "" {
		return NewClient(preferred, key)
	}
	for _, p := range []Provider{ProviderAnthropic, ProviderOpenAI} {
		if keys[p] != "" {
			return NewClient(p, keys[p])
		}
	}
	return nil, ErrNoAPIKey
}
