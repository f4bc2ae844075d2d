package statemachine

import (
	"fmt"
	"time"

	"storyforge/pkg/apperrors"
	"storyforge/pkg/model"
)

// Manager applies validated transitions, stamping the timestamps spec §4.2
// describes ("Rationale: centralising the matrix prevents divergence
// between CLI, Orchestrator, and Scheduler"), grounded on the teacher's
// BaseStateMachine.TransitionTo (validate, stamp, record).
type Manager struct {
	now func() time.Time
}

// New creates a Manager using time.Now for timestamps.
func New() *Manager {
	return &Manager{now: time.Now}
}

// NewWithClock creates a Manager using a custom clock, for deterministic tests.
func NewWithClock(now func() time.Time) *Manager {
	return &Manager{now: now}
}

// ApplyWorkItemTransition validates and applies a WorkItem status change,
// bumping UpdatedAt per invariant 8.
func (m *Manager) ApplyWorkItemTransition(w *model.WorkItem, to model.WorkItemStatus) error {
	if !CanTransitionWorkItem(w.Status, to) {
		return fmt.Errorf("%w: work item %d cannot go %s -> %s", apperrors.ErrIllegalTransition, w.ID, w.Status, to)
	}
	w.Status = to
	w.UpdatedAt = m.now().UTC()
	if to == model.WorkItemPending {
		// Explicit retry from Error clears any prior error message.
		w.ErrorMessage = ""
	}
	return nil
}

// ApplyStoryTransition validates and applies a DeveloperStory status change,
// setting/clearing StartedAt/CompletedAt per invariants 4-6.
func (m *Manager) ApplyStoryTransition(s *model.DeveloperStory, to model.DeveloperStoryStatus) error {
	if !CanTransitionStory(s.Status, to) {
		return fmt.Errorf("%w: story %d cannot go %s -> %s", apperrors.ErrIllegalTransition, s.ID, s.Status, to)
	}

	now := m.now().UTC()

	switch to {
	case model.StoryInProgress:
		if s.StartedAt == nil {
			s.StartedAt = &now
		}
		s.CompletedAt = nil
	case model.StoryCompleted:
		s.CompletedAt = &now
	case model.StoryPending, model.StoryReady:
		if s.Status == model.StoryError {
			// Explicit retry: clear timing and error state.
			s.StartedAt = nil
			s.CompletedAt = nil
			s.ErrorMessage = ""
		}
	case model.StoryError:
		// ErrorMessage is set by the caller before/after calling this.
	case model.StoryBlocked:
		// No timestamp changes.
	}

	s.Status = to
	return nil
}
