package llm

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/capitalize-ai/stylist-engine/internal/model"
	"github.com/capitalize-ai/stylist-engine/pkg/metrics"
)

// ErrNotConfigured is returned when no provider client is available.
var ErrNotConfigured = errors.New("assistant has no LLM provider configured")

// AssistantRequest is one assistant turn: the conversation so far, ending
// with the user's latest message, plus the user's profile.
type AssistantRequest struct {
	History []ChatMessage
	Profile model.UserProfile
}

// Assistant is the streaming stylist assistant built on a provider Client.
type Assistant struct {
	client    Client
	model     string
	maxTokens int
}

// NewAssistant creates a new assistant. A nil client yields an assistant whose
// every turn fails with ErrNotConfigured.
func NewAssistant(client Client, modelName string, maxTokens int) *Assistant {
	return &Assistant{
		client:    client,
		model:     modelName,
		maxTokens: maxTokens,
	}
}

// Stream runs one assistant turn, calling onToken for every streamed token.
func (a *Assistant) Stream(ctx context.Context, req AssistantRequest, onToken StreamCallback) (*CompletionResponse, error) {
	if a.client == nil {
		return nil, ErrNotConfigured
	}

	messages := NormalizeHistory(req.History)
	if len(messages) == 0 {
		return nil, errors.New("assistant turn has no user message")
	}

	start := time.Now()
	resp, err := a.client.CompleteStream(ctx, &CompletionRequest{
		Model:     a.model,
		System:    SystemPrompt(req.Profile),
		Messages:  messages,
		MaxTokens: a.maxTokens,
	}, onToken)
	if err != nil {
		metrics.RecordLLMStream(a.modelLabel(), "error", time.Since(start).Seconds(), 0, 0)
		return nil, fmt.Errorf("assistant stream failed: %w", err)
	}

	metrics.RecordLLMStream(resp.Model, "success", time.Since(start).Seconds(), resp.TokensIn, resp.TokensOut)
	return resp, nil
}

func (a *Assistant) modelLabel() string {
	if a.model != "" {
		return a.model
	}
	return a.client.Name()
}

// NormalizeHistory drops empty and system entries, drops leading assistant
// entries and merges consecutive entries of the same role, so providers that
// require strict user/assistant alternation accept the history.
func NormalizeHistory(history []ChatMessage) []ChatMessage {
	out := make([]ChatMessage, 0, len(history))
	for _, msg := range history {
		content := strings.TrimSpace(msg.Content)
		if content == "" {
			continue
		}
		if msg.Role != string(model.RoleUser) && msg.Role != string(model.RoleAssistant) {
			continue
		}
		if len(out) == 0 && msg.Role != string(model.RoleUser) {
			continue
		}
		if n := len(out); n > 0 && out[n-1].Role == msg.Role {
			out[n-1].Content += "\n\n" + content
			continue
		}
		out = append(out, ChatMessage{Role: msg.Role, Content: content})
	}
	return out
}

// SystemPrompt builds the stylist instructions for profile. It teaches the
// model the action directive protocol understood by the session.
func SystemPrompt(profile model.UserProfile) string {
	var b strings.Builder

	b.WriteString("You are a warm, concise personal stylist chatting with a client. ")
	b.WriteString("Ask at most one clarifying question at a time and keep replies short.\n\n")

	b.WriteString("When you know the occasion the client is dressing for, end your reply with exactly one directive:\n")
	b.WriteString("[MATCH_ITEMS:<occasion>] to curate new looks for that occasion.\n")
	b.WriteString("When the client wants to rework an outfit they wore before, use instead:\n")
	b.WriteString("[REMIX_LOOK:<previous occasion>|<twist>]\n")
	b.WriteString("Never use more than one directive in a reply and never explain the directive to the client.\n")

	var details []string
	if profile.Name != "" {
		details = append(details, "Name: "+profile.Name)
	}
	if len(profile.StylePreferences) > 0 {
		details = append(details, "Style preferences: "+strings.Join(profile.StylePreferences, ", "))
	}
	if len(profile.Sizes) > 0 {
		details = append(details, "Sizes: "+formatSizes(profile.Sizes))
	}
	if profile.Budget != "" {
		details = append(details, "Budget: "+profile.Budget)
	}
	if profile.Locale != "" {
		details = append(details, "Locale: "+profile.Locale)
	}
	if !profile.HasReferencePhoto {
		details = append(details, "The client has not uploaded a reference photo yet.")
	}

	if len(details) > 0 {
		b.WriteString("\nClient profile:\n")
		for _, d := range details {
			b.WriteString("- ")
			b.WriteString(d)
			b.WriteString("\n")
		}
	}

	return b.String()
}

func formatSizes(sizes map[string]string) string {
	keys := make([]string, 0, len(sizes))
	for k := range sizes {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	parts := make([]string, len(keys))
	for i, k := range keys {
		parts[i] = k + " " + sizes[k]
	}
	return strings.Join(parts, ", ")
}
