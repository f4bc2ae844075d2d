// Package llm defines the vendor-neutral chat-completion interface the
// PlannerClient depends on, grounded on the teacher's pkg/agent/llm/api.go
// (CompletionRequest/CompletionResponse, role constants) trimmed to the
// single synchronous completion spec §4.5 needs — no streaming, no tool calls.
package llm

import (
	"context"
	"fmt"
)

// Role identifies the speaker of a message in a chat-completion conversation.
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Message is one turn in a chat-completion conversation.
type Message struct {
	Role    Role
	Content string
}

// CompletionRequest is a single request to a chat-completion endpoint.
// Temperature is bounded to <=0.3 by the planner before it ever reaches a
// Client implementation (spec §4.5: "a deterministic temperature").
type CompletionRequest struct {
	Messages    []Message
	Temperature float32
	MaxTokens   int
}

// CompletionResponse is the vendor-neutral result of a completion.
type CompletionResponse struct {
	Content string
}

// Client is implemented by each vendor backend (anthropic, openai).
type Client interface {
	Complete(ctx context.Context, req CompletionRequest) (CompletionResponse, error)
}

// Config captures the credentials and model selection needed to construct a
// vendor Client. Model may be left empty: each backend's New falls back to
// its own default model name.
type Config struct {
	APIKey string
	Model  string
}

// Validate checks that Config has the minimum fields required to construct a client.
func (c Config) Validate() error {
	if c.APIKey == "" {
		return fmt.Errorf("llm: API key cannot be empty")
	}
	return nil
}
