package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"storyforge/pkg/apperrors"
	"storyforge/pkg/model"
)

// SaveWorkItem inserts a new WorkItem (assigning its ID) or updates an
// existing one, keyed by ID. IDs are only ever assigned here, on first
// persist, per spec §9.
func (s *Store) SaveWorkItem(ctx context.Context, w *model.WorkItem) error {
	now := time.Now().UTC()
	if w.CreatedAt.IsZero() {
		w.CreatedAt = now
	}
	w.UpdatedAt = now

	if w.ID == 0 {
		res, err := s.q().ExecContext(ctx, `
			INSERT INTO work_items (type, title, description, acceptance_criteria, priority, status, error_message, created_at, updated_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			w.Type, w.Title, w.Description, w.AcceptanceCriteria, w.Priority, w.Status, w.ErrorMessage, w.CreatedAt, w.UpdatedAt)
		if err != nil {
			return fmt.Errorf("insert work item: %w", err)
		}
		id, err := res.LastInsertId()
		if err != nil {
			return fmt.Errorf("read inserted work item id: %w", err)
		}
		w.ID = id
		return nil
	}

	_, err := s.q().ExecContext(ctx, `
		UPDATE work_items SET type=?, title=?, description=?, acceptance_criteria=?, priority=?, status=?, error_message=?, updated_at=?
		WHERE id=?`,
		w.Type, w.Title, w.Description, w.AcceptanceCriteria, w.Priority, w.Status, w.ErrorMessage, w.UpdatedAt, w.ID)
	if err != nil {
		return fmt.Errorf("update work item %d: %w", w.ID, err)
	}
	return nil
}

// GetWorkItem loads a WorkItem by ID.
func (s *Store) GetWorkItem(ctx context.Context, id int64) (*model.WorkItem, error) {
	row := s.q().QueryRowContext(ctx, `
		SELECT id, type, title, description, acceptance_criteria, priority, status, error_message, created_at, updated_at
		FROM work_items WHERE id = ?`, id)
	return scanWorkItem(row)
}

// DeleteWorkItem removes a WorkItem and cascades to its stories,
// dependencies and logs (spec §3: "stories cannot outlive their work item").
func (s *Store) DeleteWorkItem(ctx context.Context, id int64) error {
	res, err := s.q().ExecContext(ctx, `DELETE FROM work_items WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("delete work item %d: %w", id, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("read rows affected: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("%w: work item %d", apperrors.ErrNotFound, id)
	}
	return nil
}

// InProgressUserStory returns the at-most-one UserStory work item currently
// InProgress, or nil if none (invariant 1, spec §3).
func (s *Store) InProgressUserStory(ctx context.Context) (*model.WorkItem, error) {
	row := s.q().QueryRowContext(ctx, `
		SELECT id, type, title, description, acceptance_criteria, priority, status, error_message, created_at, updated_at
		FROM work_items WHERE type = ? AND status = ? LIMIT 1`,
		model.WorkItemTypeUserStory, model.WorkItemInProgress)
	w, err := scanWorkItem(row)
	if errors.Is(err, apperrors.ErrNotFound) {
		return nil, nil //nolint:nilnil // "none" is a valid, expected result here
	}
	return w, err
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanWorkItem(row rowScanner) (*model.WorkItem, error) {
	var w model.WorkItem
	err := row.Scan(&w.ID, &w.Type, &w.Title, &w.Description, &w.AcceptanceCriteria,
		&w.Priority, &w.Status, &w.ErrorMessage, &w.CreatedAt, &w.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: work item", apperrors.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("scan work item: %w", err)
	}
	return &w, nil
}

func scanWorkItemRows(rows *sql.Rows) ([]*model.WorkItem, error) {
	defer rows.Close()
	var out []*model.WorkItem
	for rows.Next() {
		w, err := scanWorkItem(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, w)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate work items: %w", err)
	}
	return out, nil
}
