package orchestrator

import (
	"context"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"storyforge/pkg/apperrors"
	"storyforge/pkg/executor"
	"storyforge/pkg/metrics"
	"storyforge/pkg/model"
	"storyforge/pkg/planner"
	"storyforge/pkg/statemachine"
	"storyforge/pkg/store"
	"storyforge/pkg/workspace"
)

// fakePlanner implements PlannerClient.
type fakePlanner struct {
	result planner.RefinementResult
	err    error
}

func (f *fakePlanner) Refine(ctx context.Context, w *model.WorkItem) (planner.RefinementResult, error) {
	return f.result, f.err
}

// fakeExecutor implements ExecutorClient.
type fakeExecutor struct {
	result executor.ExecResult
	err    error
	calls  int
}

func (f *fakeExecutor) Start(ctx context.Context, instruction, workDir string, opts executor.Opts) (executor.ExecResult, error) {
	f.calls++
	return f.result, f.err
}

func (f *fakeExecutor) ContinueSession(ctx context.Context, sessionID, instruction, workDir string, opts executor.Opts) (executor.ExecResult, error) {
	f.calls++
	return f.result, f.err
}

// fakeGitRunner simulates git state in-memory, mirroring
// workspace_test.go's fake so Acquire/Release can run without a real repository.
type fakeGitRunner struct {
	branches  map[string]bool
	worktrees map[string]bool
}

func newFakeGitRunner() *fakeGitRunner {
	return &fakeGitRunner{branches: map[string]bool{"main": true}, worktrees: map[string]bool{}}
}

func (g *fakeGitRunner) Run(ctx context.Context, dir string, args ...string) ([]byte, error) {
	return g.RunQuiet(ctx, dir, args...)
}

func (g *fakeGitRunner) RunQuiet(ctx context.Context, dir string, args ...string) ([]byte, error) {
	if len(args) == 0 {
		return nil, nil
	}
	switch args[0] {
	case "show-ref":
		name := args[len(args)-1]
		if g.branches[strings.TrimPrefix(name, "refs/heads/")] {
			return nil, nil
		}
		return nil, fmt.Errorf("not found")
	case "branch":
		g.branches[args[1]] = true
		return nil, nil
	case "worktree":
		switch args[1] {
		case "list":
			var sb strings.Builder
			for wt := range g.worktrees {
				fmt.Fprintf(&sb, "worktree %s\n", wt)
			}
			return []byte(sb.String()), nil
		case "add":
			g.worktrees[args[len(args)-2]] = true
			return nil, nil
		case "remove":
			delete(g.worktrees, args[len(args)-1])
			return nil, nil
		}
	}
	return nil, nil
}

func newTestOrchestrator(t *testing.T, plannerClient PlannerClient, execClient ExecutorClient) (*Orchestrator, *store.Store) {
	t.Helper()
	db, err := store.Open(t.TempDir() + "/test.db")
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	sm := statemachine.New()
	ws := workspace.New(newFakeGitRunner())
	rec := metrics.New()

	return New(db, sm, ws, plannerClient, execClient, rec, 50*time.Millisecond, t.TempDir()), db
}

func TestCreateWorkItem_PersistsPendingWorkItem(t *testing.T) {
	o, db := newTestOrchestrator(t, nil, nil)

	w, err := o.CreateWorkItem(context.Background(), model.WorkItemTypeUserStory, "Add login", "desc", "accept", 5)
	require.NoError(t, err)
	require.NotZero(t, w.ID)
	require.Equal(t, model.WorkItemPending, w.Status)

	got, err := db.GetWorkItem(context.Background(), w.ID)
	require.NoError(t, err)
	require.Equal(t, "Add login", got.Title)
}

func TestCreateWorkItem_RejectsInvalidInput(t *testing.T) {
	o, _ := newTestOrchestrator(t, nil, nil)

	_, err := o.CreateWorkItem(context.Background(), model.WorkItemType("Nonsense"), "t", "d", "a", 1)
	require.ErrorIs(t, err, apperrors.ErrValidation)
}

func fakeRefinement() planner.RefinementResult {
	return planner.RefinementResult{
		Analysis: "two steps",
		DeveloperStories: []planner.StoryDraft{
			{Title: "Implement", Description: "d1", Instructions: "do the work", StoryType: model.StoryTypeImplementation},
			{Title: "Test it", Description: "d2", Instructions: "write tests", StoryType: model.StoryTypeUnitTests},
		},
		Dependencies: []planner.DependencyDraft{
			{DependentStoryIndex: 1, RequiredStoryIndex: 0, Description: "tests need implementation"},
		},
	}
}

func TestRefine_PersistsStoriesAndAppliesReadiness(t *testing.T) {
	o, db := newTestOrchestrator(t, &fakePlanner{result: fakeRefinement()}, nil)

	w, err := o.CreateWorkItem(context.Background(), model.WorkItemTypeUserStory, "Add login", "desc", "accept", 5)
	require.NoError(t, err)

	res, err := o.Refine(context.Background(), w.ID)
	require.NoError(t, err)
	require.Len(t, res.Stories, 2)
	require.Len(t, res.Dependencies, 1)
	require.Equal(t, model.WorkItemRefined, res.WorkItem.Status)

	stored, err := db.GetStory(context.Background(), res.Stories[0].ID)
	require.NoError(t, err)
	require.Equal(t, model.StoryReady, stored.Status)

	dependent, err := db.GetStory(context.Background(), res.Stories[1].ID)
	require.NoError(t, err)
	require.Equal(t, model.StoryBlocked, dependent.Status)
}

func TestRefine_PlannerFailureTransitionsWorkItemToError(t *testing.T) {
	o, db := newTestOrchestrator(t, &fakePlanner{err: fmt.Errorf("%w: boom", apperrors.ErrExternal)}, nil)

	w, err := o.CreateWorkItem(context.Background(), model.WorkItemTypeUserStory, "Add login", "desc", "accept", 5)
	require.NoError(t, err)

	_, err = o.Refine(context.Background(), w.ID)
	require.Error(t, err)

	got, err := db.GetWorkItem(context.Background(), w.ID)
	require.NoError(t, err)
	require.Equal(t, model.WorkItemError, got.Status)
	require.NotEmpty(t, got.ErrorMessage)
}

func TestRefine_RejectsDependencyCycle(t *testing.T) {
	cyclic := fakeRefinement()
	cyclic.Dependencies = append(cyclic.Dependencies, planner.DependencyDraft{DependentStoryIndex: 0, RequiredStoryIndex: 1})

	o, db := newTestOrchestrator(t, &fakePlanner{result: cyclic}, nil)
	w, err := o.CreateWorkItem(context.Background(), model.WorkItemTypeUserStory, "Add login", "desc", "accept", 5)
	require.NoError(t, err)

	_, err = o.Refine(context.Background(), w.ID)
	require.ErrorIs(t, err, apperrors.ErrCycle)

	got, err := db.GetWorkItem(context.Background(), w.ID)
	require.NoError(t, err)
	require.Equal(t, model.WorkItemError, got.Status)
}

func TestSelectNext_ReturnsReadyStoryAndDoesNotMutate(t *testing.T) {
	o, _ := newTestOrchestrator(t, &fakePlanner{result: fakeRefinement()}, nil)
	w, err := o.CreateWorkItem(context.Background(), model.WorkItemTypeUserStory, "Add login", "desc", "accept", 5)
	require.NoError(t, err)
	_, err = o.Refine(context.Background(), w.ID)
	require.NoError(t, err)

	next, err := o.SelectNext(context.Background())
	require.NoError(t, err)
	require.NotNil(t, next)
	require.Equal(t, model.StoryReady, next.Status)

	again, err := o.SelectNext(context.Background())
	require.NoError(t, err)
	require.Equal(t, next.ID, again.ID)
}

func TestImplement_SuccessCompletesStoryAndWorkItem(t *testing.T) {
	repoPath := t.TempDir()
	single := fakeRefinement()
	single.Dependencies = nil
	single.DeveloperStories = single.DeveloperStories[:1]

	exec := &fakeExecutor{result: executor.ExecResult{Stdout: "ok", ExitCode: 0, Success: true, SessionID: "sess-1"}}
	o, db := newTestOrchestrator(t, &fakePlanner{result: single}, exec)

	w, err := o.CreateWorkItem(context.Background(), model.WorkItemTypeUserStory, "Add login", "desc", "accept", 5)
	require.NoError(t, err)
	res, err := o.Refine(context.Background(), w.ID)
	require.NoError(t, err)
	require.Len(t, res.Stories, 1)

	implResult, err := o.Implement(context.Background(), res.Stories[0].ID, "main", repoPath, executor.Opts{})
	require.NoError(t, err)
	require.True(t, implResult.Success)
	require.Equal(t, 1, exec.calls)

	story, err := db.GetStory(context.Background(), res.Stories[0].ID)
	require.NoError(t, err)
	require.Equal(t, model.StoryCompleted, story.Status)
	require.Equal(t, "sess-1", story.SessionID)

	gotWorkItem, err := db.GetWorkItem(context.Background(), w.ID)
	require.NoError(t, err)
	require.Equal(t, model.WorkItemCompleted, gotWorkItem.Status)

	logs, err := db.LogsByStory(context.Background(), res.Stories[0].ID)
	require.NoError(t, err)
	var eventTypes []model.ExecutionLogEventType
	for _, l := range logs {
		eventTypes = append(eventTypes, l.EventType)
	}
	require.Contains(t, eventTypes, model.EventStarted)
	require.Contains(t, eventTypes, model.EventCompleted)
	require.Contains(t, eventTypes, model.EventWorktreeRemoved)
}

func TestImplement_ExecutorFailureMarksStoryError(t *testing.T) {
	repoPath := t.TempDir()
	single := fakeRefinement()
	single.Dependencies = nil
	single.DeveloperStories = single.DeveloperStories[:1]

	exec := &fakeExecutor{result: executor.ExecResult{Stdout: "", Stderr: "boom", ExitCode: 1, Success: false}}
	o, db := newTestOrchestrator(t, &fakePlanner{result: single}, exec)

	w, err := o.CreateWorkItem(context.Background(), model.WorkItemTypeUserStory, "Add login", "desc", "accept", 5)
	require.NoError(t, err)
	res, err := o.Refine(context.Background(), w.ID)
	require.NoError(t, err)

	implResult, err := o.Implement(context.Background(), res.Stories[0].ID, "main", repoPath, executor.Opts{})
	require.NoError(t, err)
	require.False(t, implResult.Success)

	story, err := db.GetStory(context.Background(), res.Stories[0].ID)
	require.NoError(t, err)
	require.Equal(t, model.StoryError, story.Status)
	require.Equal(t, "boom", story.ErrorMessage)

	gotWorkItem, err := db.GetWorkItem(context.Background(), w.ID)
	require.NoError(t, err)
	require.Equal(t, model.WorkItemInProgress, gotWorkItem.Status)
}

func TestImplement_RejectsNonReadyStory(t *testing.T) {
	repoPath := t.TempDir()
	o, db := newTestOrchestrator(t, nil, nil)
	w, err := o.CreateWorkItem(context.Background(), model.WorkItemTypeUserStory, "Add login", "desc", "accept", 5)
	require.NoError(t, err)

	s := &model.DeveloperStory{WorkItemID: w.ID, StoryType: model.StoryTypeImplementation, Title: "x", Status: model.StoryPending}
	require.NoError(t, db.SaveStory(context.Background(), s))

	_, err = o.Implement(context.Background(), s.ID, "main", repoPath, executor.Opts{})
	require.ErrorIs(t, err, apperrors.ErrIllegalTransition)
}

func TestRecoverStaleStories_ResetsOnlyStaleOnes(t *testing.T) {
	o, db := newTestOrchestrator(t, nil, nil)
	ctx := context.Background()

	w, err := o.CreateWorkItem(ctx, model.WorkItemTypeUserStory, "Add login", "desc", "accept", 5)
	require.NoError(t, err)

	stale := &model.DeveloperStory{WorkItemID: w.ID, StoryType: model.StoryTypeImplementation, Title: "stale", Status: model.StoryInProgress}
	require.NoError(t, db.SaveStory(ctx, stale))
	require.NoError(t, db.AppendLog(ctx, &model.ExecutionLog{DeveloperStoryID: stale.ID, EventType: model.EventStarted, Timestamp: time.Now().Add(-time.Hour)}))

	fresh := &model.DeveloperStory{WorkItemID: w.ID, StoryType: model.StoryTypeImplementation, Title: "fresh", Status: model.StoryInProgress}
	require.NoError(t, db.SaveStory(ctx, fresh))
	require.NoError(t, db.AppendLog(ctx, &model.ExecutionLog{DeveloperStoryID: fresh.ID, EventType: model.EventStarted, Timestamp: time.Now()}))

	n, err := o.RecoverStaleStories(ctx, 10*time.Minute)
	require.NoError(t, err)
	require.Equal(t, 1, n)

	gotStale, err := db.GetStory(ctx, stale.ID)
	require.NoError(t, err)
	require.Equal(t, model.StoryReady, gotStale.Status)

	gotFresh, err := db.GetStory(ctx, fresh.ID)
	require.NoError(t, err)
	require.Equal(t, model.StoryInProgress, gotFresh.Status)
}
