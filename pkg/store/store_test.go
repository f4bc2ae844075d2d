package store

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"

	"storyforge/pkg/apperrors"
	"storyforge/pkg/model"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(t.TempDir() + "/test.db")
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func mustSaveWorkItem(t *testing.T, ctx context.Context, s *Store, status model.WorkItemStatus) *model.WorkItem {
	t.Helper()
	w := &model.WorkItem{
		Type:        model.WorkItemTypeUserStory,
		Title:       "Add login page",
		Description: "Users need to authenticate",
		Priority:    5,
		Status:      status,
	}
	require.NoError(t, s.SaveWorkItem(ctx, w))
	return w
}

func TestSaveWorkItem_AssignsIDOnInsert(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)

	w := mustSaveWorkItem(t, ctx, s, model.WorkItemPending)
	require.NotZero(t, w.ID)

	loaded, err := s.GetWorkItem(ctx, w.ID)
	require.NoError(t, err)
	require.Equal(t, w.Title, loaded.Title)
	require.Equal(t, model.WorkItemPending, loaded.Status)
}

func TestGetWorkItem_NotFound(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)

	_, err := s.GetWorkItem(ctx, 999)
	require.ErrorIs(t, err, apperrors.ErrNotFound)
}

func TestDeleteWorkItem_CascadesToStories(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)

	w := mustSaveWorkItem(t, ctx, s, model.WorkItemRefined)
	d := &model.DeveloperStory{WorkItemID: w.ID, StoryType: model.StoryTypeImplementation, Title: "impl", Status: model.StoryPending}
	require.NoError(t, s.SaveStory(ctx, d))

	require.NoError(t, s.DeleteWorkItem(ctx, w.ID))

	_, err := s.GetStory(ctx, d.ID)
	require.ErrorIs(t, err, apperrors.ErrNotFound)

	err = s.DeleteWorkItem(ctx, w.ID)
	require.ErrorIs(t, err, apperrors.ErrNotFound)
}

func TestInProgressUserStory_AtMostOne(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)

	none, err := s.InProgressUserStory(ctx)
	require.NoError(t, err)
	require.Nil(t, none)

	w := mustSaveWorkItem(t, ctx, s, model.WorkItemInProgress)

	found, err := s.InProgressUserStory(ctx)
	require.NoError(t, err)
	require.NotNil(t, found)
	require.Equal(t, w.ID, found.ID)
}

func TestStoriesByWorkItem_OrderedByTypeThenID(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)
	w := mustSaveWorkItem(t, ctx, s, model.WorkItemRefined)

	docs := &model.DeveloperStory{WorkItemID: w.ID, StoryType: model.StoryTypeDocumentation, Title: "docs", Status: model.StoryPending}
	impl := &model.DeveloperStory{WorkItemID: w.ID, StoryType: model.StoryTypeImplementation, Title: "impl", Status: model.StoryPending}
	require.NoError(t, s.SaveStory(ctx, docs))
	require.NoError(t, s.SaveStory(ctx, impl))

	got, err := s.StoriesByWorkItem(ctx, w.ID)
	require.NoError(t, err)
	require.Len(t, got, 2)
	require.Equal(t, model.StoryTypeImplementation, got[0].StoryType)
	require.Equal(t, model.StoryTypeDocumentation, got[1].StoryType)
}

func TestStoriesByStatus_OrderedByPriorityThenID(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)
	w := mustSaveWorkItem(t, ctx, s, model.WorkItemRefined)

	low := &model.DeveloperStory{WorkItemID: w.ID, StoryType: model.StoryTypeImplementation, Title: "low", Priority: 9, Status: model.StoryReady}
	high := &model.DeveloperStory{WorkItemID: w.ID, StoryType: model.StoryTypeUnitTests, Title: "high", Priority: 1, Status: model.StoryReady}
	require.NoError(t, s.SaveStory(ctx, low))
	require.NoError(t, s.SaveStory(ctx, high))

	got, err := s.StoriesByStatus(ctx, model.StoryReady)
	require.NoError(t, err)
	require.Len(t, got, 2)
	require.Equal(t, high.ID, got[0].ID)
	require.Equal(t, low.ID, got[1].ID)
}

func TestDependencies_RoundTrip(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)
	w := mustSaveWorkItem(t, ctx, s, model.WorkItemRefined)

	a := &model.DeveloperStory{WorkItemID: w.ID, StoryType: model.StoryTypeImplementation, Title: "a", Status: model.StoryPending}
	b := &model.DeveloperStory{WorkItemID: w.ID, StoryType: model.StoryTypeUnitTests, Title: "b", Status: model.StoryPending}
	require.NoError(t, s.SaveStory(ctx, a))
	require.NoError(t, s.SaveStory(ctx, b))

	require.NoError(t, s.SaveDependency(ctx, &model.DeveloperStoryDependency{DependentStoryID: b.ID, RequiredStoryID: a.ID}))

	deps, err := s.DependenciesOf(ctx, b.ID)
	require.NoError(t, err)
	require.Len(t, deps, 1)
	require.Equal(t, a.ID, deps[0].RequiredStoryID)

	dependents, err := s.DependentsOf(ctx, a.ID)
	require.NoError(t, err)
	require.Len(t, dependents, 1)
	require.Equal(t, b.ID, dependents[0].DependentStoryID)
}

func TestAppendLog_RoundTripsMetadata(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)
	w := mustSaveWorkItem(t, ctx, s, model.WorkItemRefined)
	d := &model.DeveloperStory{WorkItemID: w.ID, StoryType: model.StoryTypeImplementation, Title: "a", Status: model.StoryPending}
	require.NoError(t, s.SaveStory(ctx, d))

	require.NoError(t, s.AppendLog(ctx, &model.ExecutionLog{
		DeveloperStoryID: d.ID,
		EventType:        model.EventStarted,
		Details:          "launching executor",
		Metadata:         map[string]any{"attempt": float64(1)},
	}))

	logs, err := s.LogsByStory(ctx, d.ID)
	require.NoError(t, err)
	require.Len(t, logs, 1)
	require.Equal(t, model.EventStarted, logs[0].EventType)
	require.Equal(t, float64(1), logs[0].Metadata["attempt"])
}

func TestWithTransaction_RollsBackOnError(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)

	sentinel := errors.New("boom")
	err := s.WithTransaction(ctx, func(tx *Store) error {
		_ = mustSaveWorkItem(t, ctx, tx, model.WorkItemPending)
		return sentinel
	})
	require.ErrorIs(t, err, sentinel)

	items, err := s.ListWorkItems(ctx, nil)
	require.NoError(t, err)
	require.Empty(t, items)
}

func TestWithTransaction_RejectsNesting(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)

	err := s.WithTransaction(ctx, func(tx *Store) error {
		return tx.WithTransaction(ctx, func(inner *Store) error { return nil })
	})
	require.ErrorIs(t, err, apperrors.ErrInvalidOperation)
}
