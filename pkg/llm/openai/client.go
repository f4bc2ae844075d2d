// Package openai wraps the OpenAI Chat Completions API to implement
// llm.Client, grounded on the teacher's
// pkg/agent/internal/llmimpl/openai/client.go (O3Client: raw SDK client
// plus a fixed model) but using github.com/openai/openai-go, the SDK the
// rest of this module's dependency graph standardises on.
package openai

import (
	"context"
	"fmt"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"

	"storyforge/pkg/llm"
)

// Client wraps an openai.Client to implement llm.Client.
type Client struct {
	raw   openai.Client
	model openai.ChatModel
}

// New creates a Client for the given model using apiKey.
func New(apiKey, model string) *Client {
	if model == "" {
		model = openai.ChatModelGPT4o
	}
	return &Client{
		raw:   openai.NewClient(option.WithAPIKey(apiKey)),
		model: model,
	}
}

// Complete sends req as a chat completion request.
func (c *Client) Complete(ctx context.Context, req llm.CompletionRequest) (llm.CompletionResponse, error) {
	messages := make([]openai.ChatCompletionMessageParamUnion, 0, len(req.Messages))
	for _, m := range req.Messages {
		switch m.Role {
		case llm.RoleSystem:
			messages = append(messages, openai.SystemMessage(m.Content))
		case llm.RoleUser:
			messages = append(messages, openai.UserMessage(m.Content))
		case llm.RoleAssistant:
			messages = append(messages, openai.AssistantMessage(m.Content))
		}
	}
	if len(messages) == 0 {
		return llm.CompletionResponse{}, fmt.Errorf("openai: request has no messages")
	}

	params := openai.ChatCompletionNewParams{
		Model:    c.model,
		Messages: messages,
	}
	if req.MaxTokens > 0 {
		params.MaxTokens = openai.Int(int64(req.MaxTokens))
	}
	params.Temperature = openai.Float(float64(req.Temperature))

	resp, err := c.raw.Chat.Completions.New(ctx, params)
	if err != nil {
		return llm.CompletionResponse{}, fmt.Errorf("openai chat.completions.new: %w", err)
	}
	if len(resp.Choices) == 0 {
		return llm.CompletionResponse{}, fmt.Errorf("openai: empty choices in response")
	}

	return llm.CompletionResponse{Content: resp.Choices[0].Message.Content}, nil
}
