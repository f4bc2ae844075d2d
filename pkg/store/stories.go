package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"storyforge/pkg/apperrors"
	"storyforge/pkg/model"
)

// SaveStory inserts a new DeveloperStory (assigning its ID) or updates an
// existing one, keyed by ID.
func (s *Store) SaveStory(ctx context.Context, d *model.DeveloperStory) error {
	if d.Priority == 0 {
		d.Priority = model.DefaultDeveloperStoryPriority
	}

	if d.ID == 0 {
		res, err := s.q().ExecContext(ctx, `
			INSERT INTO developer_stories
				(work_item_id, story_type, title, description, instructions, priority, status,
				 started_at, completed_at, error_message, session_id, tokens_used, cost_usd)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			d.WorkItemID, d.StoryType, d.Title, d.Description, d.Instructions, d.Priority, d.Status,
			d.StartedAt, d.CompletedAt, d.ErrorMessage, d.SessionID, d.TokensUsed, d.CostUSD)
		if err != nil {
			return fmt.Errorf("insert story: %w", err)
		}
		id, err := res.LastInsertId()
		if err != nil {
			return fmt.Errorf("read inserted story id: %w", err)
		}
		d.ID = id
		return nil
	}

	_, err := s.q().ExecContext(ctx, `
		UPDATE developer_stories SET
			work_item_id=?, story_type=?, title=?, description=?, instructions=?, priority=?, status=?,
			started_at=?, completed_at=?, error_message=?, session_id=?, tokens_used=?, cost_usd=?
		WHERE id=?`,
		d.WorkItemID, d.StoryType, d.Title, d.Description, d.Instructions, d.Priority, d.Status,
		d.StartedAt, d.CompletedAt, d.ErrorMessage, d.SessionID, d.TokensUsed, d.CostUSD, d.ID)
	if err != nil {
		return fmt.Errorf("update story %d: %w", d.ID, err)
	}
	return nil
}

// GetStory loads a DeveloperStory by ID.
func (s *Store) GetStory(ctx context.Context, id int64) (*model.DeveloperStory, error) {
	row := s.q().QueryRowContext(ctx, storySelect+`WHERE id = ?`, id)
	return scanStory(row)
}

// StoriesByWorkItem returns every story belonging to workItemID, ordered by
// (story_type, id).
func (s *Store) StoriesByWorkItem(ctx context.Context, workItemID int64) ([]*model.DeveloperStory, error) {
	rows, err := s.q().QueryContext(ctx, storySelect+`WHERE work_item_id = ? ORDER BY story_type, id`, workItemID)
	if err != nil {
		return nil, fmt.Errorf("query stories by work item %d: %w", workItemID, err)
	}
	return scanStories(rows)
}

// StoriesByStatus returns every story in the given status, ordered by
// (priority asc, id asc) — the scheduler's tie-break order.
func (s *Store) StoriesByStatus(ctx context.Context, status model.DeveloperStoryStatus) ([]*model.DeveloperStory, error) {
	rows, err := s.q().QueryContext(ctx, storySelect+`WHERE status = ? ORDER BY priority ASC, id ASC`, status)
	if err != nil {
		return nil, fmt.Errorf("query stories by status %s: %w", status, err)
	}
	return scanStories(rows)
}

// AllStories returns every story in the database, ordered by id — used by
// the scheduler's readiness pass and cycle detection.
func (s *Store) AllStories(ctx context.Context) ([]*model.DeveloperStory, error) {
	rows, err := s.q().QueryContext(ctx, storySelect+`ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("query all stories: %w", err)
	}
	return scanStories(rows)
}

const storySelect = `
	SELECT id, work_item_id, story_type, title, description, instructions, priority, status,
	       started_at, completed_at, error_message, session_id, tokens_used, cost_usd
	FROM developer_stories `

func scanStory(row rowScanner) (*model.DeveloperStory, error) {
	var d model.DeveloperStory
	err := row.Scan(&d.ID, &d.WorkItemID, &d.StoryType, &d.Title, &d.Description, &d.Instructions,
		&d.Priority, &d.Status, &d.StartedAt, &d.CompletedAt, &d.ErrorMessage, &d.SessionID,
		&d.TokensUsed, &d.CostUSD)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: story", apperrors.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("scan story: %w", err)
	}
	return &d, nil
}

func scanStories(rows *sql.Rows) ([]*model.DeveloperStory, error) {
	defer rows.Close()
	var out []*model.DeveloperStory
	for rows.Next() {
		d, err := scanStory(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, d)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate stories: %w", err)
	}
	return out, nil
}
