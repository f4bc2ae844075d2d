package store

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"storyforge/pkg/model"
)

// AppendLog writes an append-only audit record for a DeveloperStory. Logs
// are never updated or deleted directly; they cascade when their story is
// deleted.
func (s *Store) AppendLog(ctx context.Context, l *model.ExecutionLog) error {
	if l.Timestamp.IsZero() {
		l.Timestamp = time.Now().UTC()
	}

	metadata := "{}"
	if len(l.Metadata) > 0 {
		b, err := json.Marshal(l.Metadata)
		if err != nil {
			return fmt.Errorf("marshal log metadata: %w", err)
		}
		metadata = string(b)
	}

	res, err := s.q().ExecContext(ctx, `
		INSERT INTO execution_logs (developer_story_id, timestamp, event_type, details, error_message, metadata)
		VALUES (?, ?, ?, ?, ?, ?)`,
		l.DeveloperStoryID, l.Timestamp, l.EventType, l.Details, l.ErrorMessage, metadata)
	if err != nil {
		return fmt.Errorf("append log for story %d: %w", l.DeveloperStoryID, err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return fmt.Errorf("read inserted log id: %w", err)
	}
	l.ID = id
	return nil
}

// LogsByStory returns every log entry for storyID in chronological order.
func (s *Store) LogsByStory(ctx context.Context, storyID int64) ([]*model.ExecutionLog, error) {
	rows, err := s.q().QueryContext(ctx, `
		SELECT id, developer_story_id, timestamp, event_type, details, error_message, metadata
		FROM execution_logs WHERE developer_story_id = ? ORDER BY timestamp, id`, storyID)
	if err != nil {
		return nil, fmt.Errorf("query logs for story %d: %w", storyID, err)
	}
	defer rows.Close()

	var out []*model.ExecutionLog
	for rows.Next() {
		var l model.ExecutionLog
		var metadata string
		if err := rows.Scan(&l.ID, &l.DeveloperStoryID, &l.Timestamp, &l.EventType, &l.Details, &l.ErrorMessage, &metadata); err != nil {
			return nil, fmt.Errorf("scan log: %w", err)
		}
		if metadata != "" && metadata != "{}" {
			if err := json.Unmarshal([]byte(metadata), &l.Metadata); err != nil {
				return nil, fmt.Errorf("unmarshal log %d metadata: %w", l.ID, err)
			}
		}
		out = append(out, &l)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate logs: %w", err)
	}
	return out, nil
}
