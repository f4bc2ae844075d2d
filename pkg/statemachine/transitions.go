// Package statemachine centralizes the legal status transitions for
// WorkItems and DeveloperStories (spec §4.2), so the CLI, Orchestrator and
// Scheduler can never diverge on what a transition is allowed to do.
package statemachine

import "storyforge/pkg/model"

// WorkItemTransitions is the WorkItem transition table from spec §4.2.
//
//nolint:gochecknoglobals // static transition table, read-only after init
var WorkItemTransitions = map[model.WorkItemStatus][]model.WorkItemStatus{
	model.WorkItemPending:    {model.WorkItemRefining, model.WorkItemError},
	model.WorkItemRefining:   {model.WorkItemRefined, model.WorkItemError},
	model.WorkItemRefined:    {model.WorkItemInProgress, model.WorkItemError},
	model.WorkItemInProgress: {model.WorkItemCompleted, model.WorkItemError},
	model.WorkItemError:      {model.WorkItemPending},
	model.WorkItemCompleted:  {},
}

// DeveloperStoryTransitions is the DeveloperStory transition table from spec §4.2.
//
//nolint:gochecknoglobals // static transition table, read-only after init
var DeveloperStoryTransitions = map[model.DeveloperStoryStatus][]model.DeveloperStoryStatus{
	model.StoryPending:    {model.StoryReady, model.StoryBlocked, model.StoryError},
	model.StoryBlocked:    {model.StoryReady, model.StoryError},
	model.StoryReady:      {model.StoryInProgress, model.StoryBlocked, model.StoryError},
	model.StoryInProgress: {model.StoryCompleted, model.StoryError, model.StoryBlocked, model.StoryReady},
	model.StoryError:      {model.StoryPending, model.StoryReady},
	model.StoryCompleted:  {},
}

func contains[T comparable](set []T, v T) bool {
	for _, s := range set {
		if s == v {
			return true
		}
	}
	return false
}

// CanTransitionWorkItem reports whether from -> to is a legal WorkItem transition.
func CanTransitionWorkItem(from, to model.WorkItemStatus) bool {
	return contains(WorkItemTransitions[from], to)
}

// ValidWorkItemTransitions returns the set of states reachable from from.
func ValidWorkItemTransitions(from model.WorkItemStatus) []model.WorkItemStatus {
	return WorkItemTransitions[from]
}

// CanTransitionStory reports whether from -> to is a legal DeveloperStory transition.
func CanTransitionStory(from, to model.DeveloperStoryStatus) bool {
	return contains(DeveloperStoryTransitions[from], to)
}

// ValidStoryTransitions returns the set of states reachable from from.
func ValidStoryTransitions(from model.DeveloperStoryStatus) []model.DeveloperStoryStatus {
	return DeveloperStoryTransitions[from]
}
