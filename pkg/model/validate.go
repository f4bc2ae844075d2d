package model

import (
	"fmt"

	"storyforge/pkg/apperrors"
)

// ValidateWorkItemInput checks the bounds from spec §3/§8 that createWorkItem
// must enforce before persisting.
func ValidateWorkItemInput(kind WorkItemType, title, description string, priority int) error {
	if kind != WorkItemTypeUserStory && kind != WorkItemTypeBug {
		return fmt.Errorf("%w: unknown work item type %q", apperrors.ErrValidation, kind)
	}
	if title == "" {
		return fmt.Errorf("%w: title must not be empty", apperrors.ErrValidation)
	}
	if len(title) > MaxTitleLen {
		return fmt.Errorf("%w: title exceeds %d characters", apperrors.ErrValidation, MaxTitleLen)
	}
	if description == "" {
		return fmt.Errorf("%w: description must not be empty", apperrors.ErrValidation)
	}
	if len(description) > MaxDescriptionLen {
		return fmt.Errorf("%w: description exceeds %d characters", apperrors.ErrValidation, MaxDescriptionLen)
	}
	if priority < MinPriority || priority > MaxPriority {
		return fmt.Errorf("%w: priority %d out of range [%d,%d]", apperrors.ErrValidation, priority, MinPriority, MaxPriority)
	}
	return nil
}
