// Package planner implements the PlannerClient described in spec §4.5:
// a single refine operation that prompts an LLM to decompose a WorkItem
// into DeveloperStories and dependency edges, grounded on the teacher's
// pkg/bootstrap/stack_analysis.go fenced-JSON extraction idiom and
// pkg/utils/tiktoken.go token budgeting.
package planner

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/tiktoken-go/tokenizer"

	"storyforge/pkg/apperrors"
	"storyforge/pkg/llm"
	"storyforge/pkg/logx"
	"storyforge/pkg/model"
)

// MaxTemperature is the deterministic ceiling spec §4.5 requires.
const MaxTemperature = 0.3

// Planner wraps an llm.Client with prompt construction, token budgeting and
// tolerant JSON extraction.
type Planner struct {
	client      llm.Client
	maxTokens   int
	temperature float32
	logger      *logx.Logger
}

// New creates a Planner. maxTokens bounds the response; temperature is
// clamped to MaxTemperature.
func New(client llm.Client, maxTokens int, temperature float32) *Planner {
	if temperature > MaxTemperature {
		temperature = MaxTemperature
	}
	if maxTokens <= 0 {
		maxTokens = 4096
	}
	return &Planner{client: client, maxTokens: maxTokens, temperature: temperature, logger: logx.NewLogger("planner")}
}

// StoryDraft is one developer story as returned by the planner, prior to
// being assigned a database id.
type StoryDraft struct {
	Title        string          `json:"title"`
	Description  string          `json:"description"`
	Instructions string          `json:"instructions"`
	StoryType    model.StoryType `json:"storyType"`
	Priority     int             `json:"priority,omitempty"`
}

// DependencyDraft is a dependency edge expressed in terms of indices into
// the StoryDraft slice, exactly as the planner emits them.
type DependencyDraft struct {
	DependentStoryIndex int    `json:"dependentStoryIndex"`
	RequiredStoryIndex  int    `json:"requiredStoryIndex"`
	Description         string `json:"description,omitempty"`
}

// RefinementResult is the pure value refine() returns; the Orchestrator maps
// indices to stored ids and persists everything transactionally.
type RefinementResult struct {
	Analysis         string
	DeveloperStories []StoryDraft
	Dependencies     []DependencyDraft
}

type rawRefinement struct {
	Analysis         string             `json:"analysis"`
	DeveloperStories []StoryDraft       `json:"developerStories"`
	Dependencies     []DependencyDraft  `json:"dependencies"`
}

// Refine decomposes a work item into developer stories and dependencies.
func (p *Planner) Refine(ctx context.Context, w *model.WorkItem) (RefinementResult, error) {
	prompt := buildPrompt(w)

	if err := p.checkBudget(prompt); err != nil {
		return RefinementResult{}, err
	}

	resp, err := p.client.Complete(ctx, llm.CompletionRequest{
		Messages: []llm.Message{
			{Role: llm.RoleSystem, Content: systemPrompt},
			{Role: llm.RoleUser, Content: prompt},
		},
		Temperature: p.temperature,
		MaxTokens:   p.maxTokens,
	})
	if err != nil {
		return RefinementResult{}, fmt.Errorf("%w: %v", apperrors.ErrExternal, err)
	}

	raw, err := extractJSON(resp.Content)
	if err != nil {
		return RefinementResult{}, fmt.Errorf("%w: %v", apperrors.ErrParse, err)
	}

	var parsed rawRefinement
	if err := json.Unmarshal([]byte(raw), &parsed); err != nil {
		return RefinementResult{}, fmt.Errorf("%w: decoding planner response: %v", apperrors.ErrParse, err)
	}

	if err := validate(parsed); err != nil {
		return RefinementResult{}, err
	}

	for i := range parsed.DeveloperStories {
		if parsed.DeveloperStories[i].Title == "" {
			parsed.DeveloperStories[i].Title = fmt.Sprintf("Story %d", i+1)
		}
	}

	return RefinementResult{
		Analysis:         parsed.Analysis,
		DeveloperStories: parsed.DeveloperStories,
		Dependencies:     parsed.Dependencies,
	}, nil
}

const systemPrompt = `You decompose a software work item into small, independently ` +
	`implementable developer stories and their prerequisite relationships. Respond ` +
	`with a single JSON object and nothing else, matching the schema the user message describes.`

func buildPrompt(w *model.WorkItem) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Work item type: %s\n", w.Type)
	fmt.Fprintf(&b, "Title: %s\n", w.Title)
	fmt.Fprintf(&b, "Priority: %d\n", w.Priority)
	fmt.Fprintf(&b, "Description:\n%s\n", w.Description)
	if w.AcceptanceCriteria != "" {
		fmt.Fprintf(&b, "Acceptance criteria:\n%s\n", w.AcceptanceCriteria)
	}
	b.WriteString(`
Respond with a JSON object of the form:
{
  "analysis": "<free-form text>",
  "developerStories": [
    {"title": string, "description": string, "instructions": string, "storyType": 0..3, "priority": int (1-9, default 5)}
  ],
  "dependencies": [
    {"dependentStoryIndex": int, "requiredStoryIndex": int, "description": string}
  ]
}
storyType is one of: 0=Implementation, 1=UnitTests, 2=FeatureTests, 3=Documentation.
`)
	return b.String()
}

// checkBudget estimates the prompt's token count using the GPT-4 tokenizer
// (approximating non-OpenAI models, per the teacher's TokenCounter) and
// rejects prompts that would leave no room for the response.
func (p *Planner) checkBudget(prompt string) error {
	codec, err := tokenizer.ForModel(tokenizer.GPT4)
	if err != nil {
		// Tokenizer construction failure is not fatal to planning; fall back
		// to a coarse character-based estimate.
		if len(prompt)/4 > p.maxTokens {
			return fmt.Errorf("%w: prompt exceeds token budget (estimated)", apperrors.ErrPlanner)
		}
		return nil
	}
	count, err := codec.Count(prompt)
	if err != nil {
		return nil
	}
	if count >= p.maxTokens {
		return fmt.Errorf("%w: prompt (%d tokens) leaves no room under budget (%d)", apperrors.ErrPlanner, count, p.maxTokens)
	}
	return nil
}

func validate(r rawRefinement) error {
	for i, s := range r.DeveloperStories {
		if !s.StoryType.Valid() {
			return fmt.Errorf("%w: story %d has invalid storyType %d", apperrors.ErrPlanner, i, s.StoryType)
		}
	}
	n := len(r.DeveloperStories)
	for _, d := range r.Dependencies {
		if d.DependentStoryIndex < 0 || d.DependentStoryIndex >= n {
			return fmt.Errorf("%w: dependentStoryIndex %d out of range [0,%d)", apperrors.ErrPlanner, d.DependentStoryIndex, n)
		}
		if d.RequiredStoryIndex < 0 || d.RequiredStoryIndex >= n {
			return fmt.Errorf("%w: requiredStoryIndex %d out of range [0,%d)", apperrors.ErrPlanner, d.RequiredStoryIndex, n)
		}
	}
	return nil
}

// extractJSON pulls a JSON object out of an LLM response that may be raw
// JSON, fenced in a ```json or ``` code block, or surrounded by prose —
// in which case it scans from the first '{' and matches braces respecting
// string and escape state, grounded on the teacher's
// pkg/bootstrap/stack_analysis.go fenced-block extraction.
func extractJSON(response string) (string, error) {
	trimmed := strings.TrimSpace(response)
	if strings.HasPrefix(trimmed, "{") {
		if end, ok := matchBraces(trimmed); ok {
			return trimmed[:end+1], nil
		}
	}

	if body, ok := extractFenced(trimmed, "```json"); ok {
		return body, nil
	}
	if body, ok := extractFenced(trimmed, "```"); ok {
		return body, nil
	}

	start := strings.IndexByte(trimmed, '{')
	if start == -1 {
		return "", fmt.Errorf("no JSON object found in response")
	}
	rest := trimmed[start:]
	end, ok := matchBraces(rest)
	if !ok {
		return "", fmt.Errorf("unterminated JSON object in response")
	}
	return rest[:end+1], nil
}

func extractFenced(s, fence string) (string, bool) {
	start := strings.Index(s, fence)
	if start == -1 {
		return "", false
	}
	start += len(fence)
	rest := s[start:]
	end := strings.Index(rest, "```")
	if end == -1 {
		return "", false
	}
	return strings.TrimSpace(rest[:end]), true
}

// matchBraces returns the index of the closing brace matching the opening
// brace at position 0 of s, tracking string and backslash-escape state so
// braces inside string literals are ignored.
func matchBraces(s string) (int, bool) {
	depth := 0
	inString := false
	escaped := false

	for i, r := range s {
		if escaped {
			escaped = false
			continue
		}
		switch r {
		case '\\':
			if inString {
				escaped = true
			}
		case '"':
			inString = !inString
		case '{':
			if !inString {
				depth++
			}
		case '}':
			if !inString {
				depth--
				if depth == 0 {
					return i, true
				}
			}
		}
	}
	return 0, false
}
