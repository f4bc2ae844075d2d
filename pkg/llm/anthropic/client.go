// Package anthropic wraps the Anthropic Messages API to implement llm.Client,
// grounded on the teacher's pkg/agent/internal/llmimpl/anthropic/client.go
// (ClaudeClient: raw SDK client plus a fixed model, system messages split
// out to the top-level system parameter).
package anthropic

import (
	"context"
	"fmt"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"storyforge/pkg/llm"
)

// Client wraps an anthropic.Client to implement llm.Client.
type Client struct {
	raw   anthropic.Client
	model anthropic.Model
}

// New creates a Client for the given model using apiKey.
func New(apiKey, model string) *Client {
	if model == "" {
		model = string(anthropic.ModelClaude3_7SonnetLatest)
	}
	return &Client{
		raw:   anthropic.NewClient(option.WithAPIKey(apiKey)),
		model: anthropic.Model(model),
	}
}

// Complete sends req as a single-turn (or pre-alternated) Messages API call.
func (c *Client) Complete(ctx context.Context, req llm.CompletionRequest) (llm.CompletionResponse, error) {
	var system string
	messages := make([]anthropic.MessageParam, 0, len(req.Messages))

	for _, m := range req.Messages {
		switch m.Role {
		case llm.RoleSystem:
			if system != "" {
				system += "\n\n"
			}
			system += m.Content
		case llm.RoleUser:
			messages = append(messages, anthropic.NewUserMessage(anthropic.NewTextBlock(m.Content)))
		case llm.RoleAssistant:
			messages = append(messages, anthropic.NewAssistantMessage(anthropic.NewTextBlock(m.Content)))
		}
	}

	if len(messages) == 0 {
		return llm.CompletionResponse{}, fmt.Errorf("anthropic: request has no user/assistant messages")
	}

	maxTokens := req.MaxTokens
	if maxTokens <= 0 {
		maxTokens = 4096
	}

	params := anthropic.MessageNewParams{
		Model:       c.model,
		MaxTokens:   int64(maxTokens),
		Temperature: anthropic.Float(float64(req.Temperature)),
		Messages:    messages,
	}
	if system != "" {
		params.System = []anthropic.TextBlockParam{{Text: system}}
	}

	resp, err := c.raw.Messages.New(ctx, params)
	if err != nil {
		return llm.CompletionResponse{}, fmt.Errorf("anthropic messages.new: %w", err)
	}

	var content string
	for _, block := range resp.Content {
		if text := block.Text; text != "" {
			content += text
		}
	}
	if content == "" {
		return llm.CompletionResponse{}, fmt.Errorf("anthropic: empty response content")
	}

	return llm.CompletionResponse{Content: content}, nil
}
