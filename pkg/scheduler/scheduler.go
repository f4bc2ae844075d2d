// Package scheduler answers "what runs next?": it keeps DeveloperStory
// statuses consistent with their dependency-graph position (readiness
// propagation) and selects the single next story to execute, grounded on
// the teacher's readiness-pass idioms in pkg/architect (topological story
// ordering) adapted to spec §4.3's exact algorithms.
package scheduler

import (
	"context"
	"fmt"
	"sort"

	"storyforge/pkg/apperrors"
	"storyforge/pkg/logx"
	"storyforge/pkg/model"
	"storyforge/pkg/store"
)

// Scheduler operates over a Store, which may itself be scoped to a
// transaction (the Orchestrator decides transaction boundaries per spec §4.7).
type Scheduler struct {
	db     *store.Store
	logger *logx.Logger
}

// New creates a Scheduler over db.
func New(db *store.Store) *Scheduler {
	return &Scheduler{db: db, logger: logx.NewLogger("scheduler")}
}

// BlockedDiagnostic pairs a Blocked story with the prerequisites still
// outstanding, for operator-facing diagnostics.
type BlockedDiagnostic struct {
	Story               *model.DeveloperStory
	UnmetPrerequisiteIDs []int64
}

// UpdateReadiness runs one topological pass over every Pending/Blocked/Ready
// story, transitioning statuses per spec §4.3, and returns the number of
// transitions applied. It fails fast with ErrCycle, leaving the graph
// unmodified, if the dependency graph is not a DAG.
func (sc *Scheduler) UpdateReadiness(ctx context.Context) (int, error) {
	stories, err := sc.db.AllStories(ctx)
	if err != nil {
		return 0, fmt.Errorf("load stories: %w", err)
	}
	edges, err := sc.db.AllDependencyEdges(ctx)
	if err != nil {
		return 0, fmt.Errorf("load dependency edges: %w", err)
	}

	order, err := topologicalOrder(stories, edges)
	if err != nil {
		return 0, err
	}

	byID := make(map[int64]*model.DeveloperStory, len(stories))
	for _, s := range stories {
		byID[s.ID] = s
	}

	// requiredBy[dependent] = list of required story IDs.
	requiredBy := make(map[int64][]int64, len(edges))
	for _, e := range edges {
		requiredBy[e.DependentStoryID] = append(requiredBy[e.DependentStoryID], e.RequiredStoryID)
	}

	applied := 0
	for _, id := range order {
		st := byID[id]
		if st.Status != model.StoryPending && st.Status != model.StoryBlocked && st.Status != model.StoryReady {
			continue
		}

		allCompleted := true
		for _, reqID := range requiredBy[id] {
			req, ok := byID[reqID]
			if !ok {
				return applied, fmt.Errorf("%w: story %d requires missing story %d", apperrors.ErrInvariantViolation, id, reqID)
			}
			if req.Status != model.StoryCompleted {
				allCompleted = false
				break
			}
		}

		var next model.DeveloperStoryStatus
		switch {
		case allCompleted:
			next = model.StoryReady
		default:
			next = model.StoryBlocked
		}

		if next == st.Status {
			continue
		}

		st.Status = next
		if err := sc.db.SaveStory(ctx, st); err != nil {
			return applied, fmt.Errorf("save story %d readiness: %w", id, err)
		}
		applied++
	}

	return applied, nil
}

// SelectNext returns the single Ready story with every prerequisite
// Completed, minimal by (workItem.priority, storyType, story.priority, id).
// It does not mutate any state; claiming is the Orchestrator's job.
func (sc *Scheduler) SelectNext(ctx context.Context) (*model.DeveloperStory, error) {
	ready, err := sc.db.ReadyStories(ctx)
	if err != nil {
		return nil, fmt.Errorf("load ready stories: %w", err)
	}
	if len(ready) == 0 {
		return nil, nil //nolint:nilnil // "nothing ready" is a valid result
	}

	workItemPriority := make(map[int64]int, len(ready))
	var candidates []*model.DeveloperStory

	for _, s := range ready {
		ok, err := sc.dependenciesCompleted(ctx, s.ID)
		if err != nil {
			return nil, err
		}
		if !ok {
			continue
		}
		if _, cached := workItemPriority[s.WorkItemID]; !cached {
			w, err := sc.db.GetWorkItem(ctx, s.WorkItemID)
			if err != nil {
				return nil, fmt.Errorf("load work item %d for story %d: %w", s.WorkItemID, s.ID, err)
			}
			workItemPriority[s.WorkItemID] = w.Priority
		}
		candidates = append(candidates, s)
	}

	if len(candidates) == 0 {
		return nil, nil //nolint:nilnil
	}

	sort.Slice(candidates, func(i, j int) bool {
		a, b := candidates[i], candidates[j]
		if workItemPriority[a.WorkItemID] != workItemPriority[b.WorkItemID] {
			return workItemPriority[a.WorkItemID] < workItemPriority[b.WorkItemID]
		}
		if a.StoryType != b.StoryType {
			return a.StoryType < b.StoryType
		}
		if a.Priority != b.Priority {
			return a.Priority < b.Priority
		}
		return a.ID < b.ID
	})

	return candidates[0], nil
}

// dependenciesCompleted re-checks (defense in depth) that every prerequisite
// of storyID is Completed.
func (sc *Scheduler) dependenciesCompleted(ctx context.Context, storyID int64) (bool, error) {
	deps, err := sc.db.DependenciesOf(ctx, storyID)
	if err != nil {
		return false, fmt.Errorf("load dependencies of story %d: %w", storyID, err)
	}
	for _, d := range deps {
		req, err := sc.db.GetStory(ctx, d.RequiredStoryID)
		if err != nil {
			return false, fmt.Errorf("load required story %d: %w", d.RequiredStoryID, err)
		}
		if req.Status != model.StoryCompleted {
			return false, nil
		}
	}
	return true, nil
}

// BlockedStories returns every Blocked story paired with its unmet
// prerequisite IDs, for operator diagnostics (spec §4.3).
func (sc *Scheduler) BlockedStories(ctx context.Context) ([]BlockedDiagnostic, error) {
	blocked, err := sc.db.BlockedStories(ctx)
	if err != nil {
		return nil, fmt.Errorf("load blocked stories: %w", err)
	}

	out := make([]BlockedDiagnostic, 0, len(blocked))
	for _, s := range blocked {
		deps, err := sc.db.DependenciesOf(ctx, s.ID)
		if err != nil {
			return nil, fmt.Errorf("load dependencies of story %d: %w", s.ID, err)
		}
		var unmet []int64
		for _, d := range deps {
			req, err := sc.db.GetStory(ctx, d.RequiredStoryID)
			if err != nil {
				return nil, fmt.Errorf("load required story %d: %w", d.RequiredStoryID, err)
			}
			if req.Status != model.StoryCompleted {
				unmet = append(unmet, req.ID)
			}
		}
		out = append(out, BlockedDiagnostic{Story: s, UnmetPrerequisiteIDs: unmet})
	}
	return out, nil
}

// topologicalOrder computes a required-before-dependent ordering over
// stories using Kahn's algorithm, returning ErrCycle if the graph is not a DAG.
func topologicalOrder(stories []*model.DeveloperStory, edges []*model.DeveloperStoryDependency) ([]int64, error) {
	inDegree := make(map[int64]int, len(stories))
	adj := make(map[int64][]int64, len(stories))
	for _, s := range stories {
		inDegree[s.ID] = 0
	}
	for _, e := range edges {
		// e.RequiredStoryID must be processed before e.DependentStoryID.
		adj[e.RequiredStoryID] = append(adj[e.RequiredStoryID], e.DependentStoryID)
		inDegree[e.DependentStoryID]++
	}

	var queue []int64
	for _, s := range stories {
		if inDegree[s.ID] == 0 {
			queue = append(queue, s.ID)
		}
	}
	sort.Slice(queue, func(i, j int) bool { return queue[i] < queue[j] })

	var order []int64
	for len(queue) > 0 {
		id := queue[0]
		queue = queue[1:]
		order = append(order, id)

		var unlocked []int64
		for _, next := range adj[id] {
			inDegree[next]--
			if inDegree[next] == 0 {
				unlocked = append(unlocked, next)
			}
		}
		sort.Slice(unlocked, func(i, j int) bool { return unlocked[i] < unlocked[j] })
		queue = append(queue, unlocked...)
	}

	if len(order) != len(stories) {
		return nil, fmt.Errorf("%w: dependency graph has a cycle", apperrors.ErrCycle)
	}
	return order, nil
}
