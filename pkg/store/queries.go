package store

import (
	"context"
	"fmt"

	"storyforge/pkg/model"
)

// BlockedStories returns every story currently Blocked, ordered by
// (priority asc, id asc), for the scheduler's diagnostics (spec §4.3
// "why is nothing ready").
func (s *Store) BlockedStories(ctx context.Context) ([]*model.DeveloperStory, error) {
	return s.StoriesByStatus(ctx, model.StoryBlocked)
}

// ReadyStories returns every story currently Ready, ordered by
// (priority asc, id asc) — selectNext draws from this set without mutating it.
func (s *Store) ReadyStories(ctx context.Context) ([]*model.DeveloperStory, error) {
	return s.StoriesByStatus(ctx, model.StoryReady)
}

// PendingStories returns every story awaiting a readiness evaluation.
func (s *Store) PendingStories(ctx context.Context) ([]*model.DeveloperStory, error) {
	return s.StoriesByStatus(ctx, model.StoryPending)
}

// ListWorkItems returns every work item, optionally filtered by status, ordered by id.
func (s *Store) ListWorkItems(ctx context.Context, status *model.WorkItemStatus) ([]*model.WorkItem, error) {
	const base = `
		SELECT id, type, title, description, acceptance_criteria, priority, status, error_message, created_at, updated_at
		FROM work_items `

	if status != nil {
		rows, err := s.q().QueryContext(ctx, base+`WHERE status = ? ORDER BY id`, *status)
		if err != nil {
			return nil, fmt.Errorf("list work items by status %s: %w", *status, err)
		}
		return scanWorkItemRows(rows)
	}

	rows, err := s.q().QueryContext(ctx, base+`ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("list work items: %w", err)
	}
	return scanWorkItemRows(rows)
}
