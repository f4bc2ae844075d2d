package planner

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"storyforge/pkg/apperrors"
	"storyforge/pkg/llm"
	"storyforge/pkg/model"
)

type fakeClient struct {
	response string
	err      error
	lastReq  llm.CompletionRequest
}

func (f *fakeClient) Complete(_ context.Context, req llm.CompletionRequest) (llm.CompletionResponse, error) {
	f.lastReq = req
	if f.err != nil {
		return llm.CompletionResponse{}, f.err
	}
	return llm.CompletionResponse{Content: f.response}, nil
}

func testWorkItem() *model.WorkItem {
	return &model.WorkItem{ID: 1, Type: model.WorkItemTypeUserStory, Title: "Login", Description: "Add login", Priority: 3}
}

const validJSON = `{
  "analysis": "split into impl and tests",
  "developerStories": [
    {"title": "Implement login", "description": "d", "instructions": "i", "storyType": 0},
    {"title": "Test login", "description": "d", "instructions": "i", "storyType": 1}
  ],
  "dependencies": [
    {"dependentStoryIndex": 1, "requiredStoryIndex": 0, "description": "tests need impl"}
  ]
}`

func TestRefine_ParsesRawJSON(t *testing.T) {
	client := &fakeClient{response: validJSON}
	p := New(client, 4096, 0.9) // temperature should be clamped

	result, err := p.Refine(context.Background(), testWorkItem())
	require.NoError(t, err)
	require.Len(t, result.DeveloperStories, 2)
	require.Len(t, result.Dependencies, 1)
	require.LessOrEqual(t, client.lastReq.Temperature, float32(MaxTemperature))
}

func TestRefine_ParsesFencedJSON(t *testing.T) {
	client := &fakeClient{response: "Here is the plan:\n```json\n" + validJSON + "\n```\nLet me know if this works."}
	p := New(client, 4096, 0.1)

	result, err := p.Refine(context.Background(), testWorkItem())
	require.NoError(t, err)
	require.Len(t, result.DeveloperStories, 2)
}

func TestRefine_ParsesBraceMatchedJSONWithEmbeddedBraces(t *testing.T) {
	withBraces := `{
  "analysis": "note: uses {curly} in prose",
  "developerStories": [{"title": "a", "description": "d {x}", "instructions": "i", "storyType": 0}],
  "dependencies": []
}`
	client := &fakeClient{response: "Some preamble text before the object.\n" + withBraces}
	p := New(client, 4096, 0.1)

	result, err := p.Refine(context.Background(), testWorkItem())
	require.NoError(t, err)
	require.Len(t, result.DeveloperStories, 1)
}

func TestRefine_RejectsOutOfRangeDependencyIndex(t *testing.T) {
	bad := `{"analysis": "a", "developerStories": [{"title":"a","description":"d","instructions":"i","storyType":0}], "dependencies": [{"dependentStoryIndex": 5, "requiredStoryIndex": 0}]}`
	client := &fakeClient{response: bad}
	p := New(client, 4096, 0.1)

	_, err := p.Refine(context.Background(), testWorkItem())
	require.ErrorIs(t, err, apperrors.ErrPlanner)
}

func TestRefine_RejectsInvalidStoryType(t *testing.T) {
	bad := `{"analysis": "a", "developerStories": [{"title":"a","description":"d","instructions":"i","storyType":9}], "dependencies": []}`
	client := &fakeClient{response: bad}
	p := New(client, 4096, 0.1)

	_, err := p.Refine(context.Background(), testWorkItem())
	require.ErrorIs(t, err, apperrors.ErrPlanner)
}

func TestRefine_MalformedJSONYieldsErrParse(t *testing.T) {
	client := &fakeClient{response: "not json at all, no braces here"}
	p := New(client, 4096, 0.1)

	_, err := p.Refine(context.Background(), testWorkItem())
	require.ErrorIs(t, err, apperrors.ErrParse)
}

func TestRefine_TransportErrorYieldsErrExternal(t *testing.T) {
	client := &fakeClient{err: context.DeadlineExceeded}
	p := New(client, 4096, 0.1)

	_, err := p.Refine(context.Background(), testWorkItem())
	require.ErrorIs(t, err, apperrors.ErrExternal)
}

func TestRefine_PromptExceedingBudgetYieldsErrPlanner(t *testing.T) {
	client := &fakeClient{response: validJSON}
	p := New(client, 1, 0.1) // impossibly small budget

	w := testWorkItem()
	w.Description = "this description is long enough to exceed a one token budget for the prompt"

	_, err := p.Refine(context.Background(), w)
	require.ErrorIs(t, err, apperrors.ErrPlanner)
}
