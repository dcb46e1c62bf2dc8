// Package llm generates assistant replies and history summaries through the
// OpenAI chat completions API.
package llm

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	openai "github.com/sashabaranov/go-openai"

	"github.com/aiandbotsgalore/snugglesLIVE/internal/convo"
)

// DefaultModel is used when no model id is configured.
const DefaultModel = "gpt-4o-mini"

const systemPrompt = "You are Snuggles, a warm and playful voice companion. " +
	"Your replies are spoken aloud, so keep them short, natural and conversational. " +
	"Never use markdown, lists or emoji."

const summaryPrompt = "Condense the following conversation into a short paragraph " +
	"that preserves names, preferences and open threads. Write it as notes for the " +
	"assistant's own memory, not as a reply."

// Client talks to an OpenAI-compatible chat completions endpoint. It serves
// both reply generation and history summarization. Generate holds a mutex for
// the duration of the request, so at most one generation is outstanding and
// excess callers queue; Summarize runs outside that gate so a background
// summary refresh never delays the next reply.
type Client struct {
	api    *openai.Client
	apiKey string
	model  string

	genMu sync.Mutex
}

// New builds a client. model falls back to DefaultModel; baseURL overrides the
// public endpoint for self-hosted gateways and tests.
func New(apiKey, model, baseURL string) *Client {
	if model == "" {
		model = DefaultModel
	}
	cfg := openai.DefaultConfig(apiKey)
	if baseURL != "" {
		cfg.BaseURL = baseURL
	}
	cfg.HTTPClient = &http.Client{Timeout: 15 * time.Second}
	return &Client{
		api:    openai.NewClientWithConfig(cfg),
		apiKey: apiKey,
		model:  model,
	}
}

// Generate produces the assistant's next reply over the windowed history.
// summary, when non-empty, is injected as context recovered from earlier in
// the conversation.
func (c *Client) Generate(ctx context.Context, history []convo.Message, summary string) (string, error) {
	if c.apiKey == "" {
		return "", fmt.Errorf("openai api key missing")
	}
	messages := make([]openai.ChatCompletionMessage, 0, len(history)+2)
	messages = append(messages, openai.ChatCompletionMessage{
		Role:    openai.ChatMessageRoleSystem,
		Content: systemPrompt,
	})
	if summary != "" {
		messages = append(messages, openai.ChatCompletionMessage{
			Role:    openai.ChatMessageRoleSystem,
			Content: "Context from earlier in this conversation: " + summary,
		})
	}
	for _, m := range history {
		messages = append(messages, openai.ChatCompletionMessage{
			Role:    roleFor(m.Role),
			Content: m.Content,
		})
	}
	c.genMu.Lock()
	defer c.genMu.Unlock()
	return c.complete(ctx, messages)
}

// Summarize compresses older history into a compact summary paragraph.
func (c *Client) Summarize(ctx context.Context, history []convo.Message) (string, error) {
	if c.apiKey == "" {
		return "", fmt.Errorf("openai api key missing")
	}
	var b strings.Builder
	for _, m := range history {
		b.WriteString(string(m.Role))
		b.WriteString(": ")
		b.WriteString(m.Content)
		b.WriteString("\n")
	}
	messages := []openai.ChatCompletionMessage{
		{Role: openai.ChatMessageRoleSystem, Content: summaryPrompt},
		{Role: openai.ChatMessageRoleUser, Content: b.String()},
	}
	return c.complete(ctx, messages)
}

func (c *Client) complete(ctx context.Context, messages []openai.ChatCompletionMessage) (string, error) {
	resp, err := c.api.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model:    c.model,
		Messages: messages,
	})
	if err != nil {
		return "", fmt.Errorf("chat completion failed: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("chat completion returned no choices")
	}
	return strings.TrimSpace(resp.Choices[0].Message.Content), nil
}

func roleFor(r convo.Role) string {
	if r == convo.RoleAssistant {
		return openai.ChatMessageRoleAssistant
	}
	return openai.ChatMessageRoleUser
}
