package store

import (
	"context"
	"fmt"
	"time"

	"storyforge/pkg/model"
)

// SaveDependency records a prerequisite edge: dependentStoryID cannot start
// until requiredStoryID is Completed. Edges are idempotent under repeat save.
func (s *Store) SaveDependency(ctx context.Context, dep *model.DeveloperStoryDependency) error {
	if dep.CreatedAt.IsZero() {
		dep.CreatedAt = time.Now().UTC()
	}
	_, err := s.q().ExecContext(ctx, `
		INSERT INTO developer_story_dependencies (dependent_story_id, required_story_id, description, created_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(dependent_story_id, required_story_id) DO UPDATE SET description = excluded.description`,
		dep.DependentStoryID, dep.RequiredStoryID, dep.Description, dep.CreatedAt)
	if err != nil {
		return fmt.Errorf("save dependency %d -> %d: %w", dep.DependentStoryID, dep.RequiredStoryID, err)
	}
	return nil
}

// DependenciesOf returns the prerequisites required by storyID (the edges
// where it is the dependent).
func (s *Store) DependenciesOf(ctx context.Context, storyID int64) ([]*model.DeveloperStoryDependency, error) {
	return queryDeps(ctx, s.q(), `WHERE dependent_story_id = ?`, storyID)
}

// DependentsOf returns the stories that require storyID to complete first.
func (s *Store) DependentsOf(ctx context.Context, storyID int64) ([]*model.DeveloperStoryDependency, error) {
	return queryDeps(ctx, s.q(), `WHERE required_story_id = ?`, storyID)
}

// AllDependencyEdges returns every dependency edge in the database, used by
// the scheduler's topological readiness pass and cycle detection.
func (s *Store) AllDependencyEdges(ctx context.Context) ([]*model.DeveloperStoryDependency, error) {
	return queryDeps(ctx, s.q(), ``)
}

func queryDeps(ctx context.Context, q queryer, where string, args ...any) ([]*model.DeveloperStoryDependency, error) {
	rows, err := q.QueryContext(ctx, `
		SELECT dependent_story_id, required_story_id, description, created_at
		FROM developer_story_dependencies `+where, args...)
	if err != nil {
		return nil, fmt.Errorf("query dependencies: %w", err)
	}
	defer rows.Close()

	var out []*model.DeveloperStoryDependency
	for rows.Next() {
		var dep model.DeveloperStoryDependency
		if err := rows.Scan(&dep.DependentStoryID, &dep.RequiredStoryID, &dep.Description, &dep.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan dependency: %w", err)
		}
		out = append(out, &dep)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate dependencies: %w", err)
	}
	return out, nil
}
