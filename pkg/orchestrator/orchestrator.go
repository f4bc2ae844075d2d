// Package orchestrator implements the use cases described in spec §4.7:
// createWorkItem, refine, selectNext, implement, plus the heartbeat-driven
// crash recovery described in SPEC_FULL.md §5. Grounded on the teacher's
// cmd/maestro/main.go wiring style: the Orchestrator is constructed from
// plain interfaces via constructor injection, no DI container or service
// locator.
package orchestrator

import (
	"context"
	"fmt"
	"time"

	"storyforge/pkg/apperrors"
	"storyforge/pkg/executor"
	"storyforge/pkg/logx"
	"storyforge/pkg/metrics"
	"storyforge/pkg/model"
	"storyforge/pkg/planner"
	"storyforge/pkg/scheduler"
	"storyforge/pkg/statemachine"
	"storyforge/pkg/store"
	"storyforge/pkg/workspace"
)

// PlannerClient is the subset of planner.Planner the Orchestrator depends on.
type PlannerClient interface {
	Refine(ctx context.Context, w *model.WorkItem) (planner.RefinementResult, error)
}

// ExecutorClient is the subset of executor.Client the Orchestrator depends on.
type ExecutorClient interface {
	Start(ctx context.Context, instruction, workDir string, opts executor.Opts) (executor.ExecResult, error)
	ContinueSession(ctx context.Context, sessionID, instruction, workDir string, opts executor.Opts) (executor.ExecResult, error)
}

// Orchestrator composes the Store, StateManager, Scheduler, WorkspaceIsolator,
// PlannerClient and ExecutorClient into the use cases spec §4.7 names.
type Orchestrator struct {
	db       *store.Store
	sm       *statemachine.Manager
	ws       *workspace.Isolator
	planner  PlannerClient
	exec     ExecutorClient
	recorder *metrics.Recorder
	logger   *logx.Logger

	heartbeatInterval time.Duration
	worktreeBasePath  string
}

// New constructs an Orchestrator from its plain-interface collaborators. The
// Scheduler is not injected: every use case that needs one constructs it
// against whichever Store scope (transactional or not) it is operating in.
// worktreeBasePath is the configured parent directory for per-story
// worktrees (spec §6 repo.worktreeBasePath); it defaults to "./worktrees"
// when empty.
func New(
	db *store.Store,
	sm *statemachine.Manager,
	ws *workspace.Isolator,
	plannerClient PlannerClient,
	execClient ExecutorClient,
	recorder *metrics.Recorder,
	heartbeatInterval time.Duration,
	worktreeBasePath string,
) *Orchestrator {
	if heartbeatInterval <= 0 {
		heartbeatInterval = 30 * time.Second
	}
	if worktreeBasePath == "" {
		worktreeBasePath = "./worktrees"
	}
	return &Orchestrator{
		db:                db,
		sm:                sm,
		ws:                ws,
		planner:           plannerClient,
		exec:              execClient,
		recorder:          recorder,
		logger:            logx.NewLogger("orchestrator"),
		heartbeatInterval: heartbeatInterval,
		worktreeBasePath:  worktreeBasePath,
	}
}

// CreateWorkItem validates and persists a new WorkItem. No external call is made.
func (o *Orchestrator) CreateWorkItem(ctx context.Context, kind model.WorkItemType, title, description, acceptance string, priority int) (*model.WorkItem, error) {
	if err := model.ValidateWorkItemInput(kind, title, description, priority); err != nil {
		return nil, err
	}

	w := &model.WorkItem{
		Type:               kind,
		Title:              title,
		Description:        description,
		AcceptanceCriteria: acceptance,
		Priority:           priority,
		Status:             model.WorkItemPending,
	}

	err := o.db.WithTransaction(ctx, func(tx *store.Store) error {
		return tx.SaveWorkItem(ctx, w)
	})
	if err != nil {
		return nil, fmt.Errorf("create work item: %w", err)
	}
	return w, nil
}

// RefinementResult is the composed value refine() returns.
type RefinementResult struct {
	WorkItem     *model.WorkItem
	Stories      []*model.DeveloperStory
	Dependencies []*model.DeveloperStoryDependency
	Analysis     string
}

// Refine loads a work item, invokes the planner, and persists the resulting
// stories and dependency graph, exactly per the transaction boundaries in spec §4.7.
func (o *Orchestrator) Refine(ctx context.Context, workItemID int64) (RefinementResult, error) {
	w, err := o.db.GetWorkItem(ctx, workItemID)
	if err != nil {
		return RefinementResult{}, err
	}

	if err := o.db.WithTransaction(ctx, func(tx *store.Store) error {
		if err := o.sm.ApplyWorkItemTransition(w, model.WorkItemRefining); err != nil {
			return err
		}
		return tx.SaveWorkItem(ctx, w)
	}); err != nil {
		return RefinementResult{}, fmt.Errorf("transition to refining: %w", err)
	}

	draft, planErr := o.planner.Refine(ctx, w)
	if planErr != nil {
		_ = o.db.WithTransaction(ctx, func(tx *store.Store) error {
			w.ErrorMessage = planErr.Error()
			if err := o.sm.ApplyWorkItemTransition(w, model.WorkItemError); err != nil {
				return err
			}
			return tx.SaveWorkItem(ctx, w)
		})
		return RefinementResult{}, planErr
	}

	var (
		stories []*model.DeveloperStory
		edges   []*model.DeveloperStoryDependency
	)

	err = o.db.WithTransaction(ctx, func(tx *store.Store) error {
		stories = make([]*model.DeveloperStory, len(draft.DeveloperStories))
		for i, d := range draft.DeveloperStories {
			priority := d.Priority
			if priority == 0 {
				priority = model.DefaultDeveloperStoryPriority
			}
			s := &model.DeveloperStory{
				WorkItemID:   w.ID,
				StoryType:    d.StoryType,
				Title:        d.Title,
				Description:  d.Description,
				Instructions: d.Instructions,
				Priority:     priority,
				Status:       model.StoryPending,
			}
			if err := tx.SaveStory(ctx, s); err != nil {
				return fmt.Errorf("save story %d: %w", i, err)
			}
			stories[i] = s
		}

		edges = make([]*model.DeveloperStoryDependency, len(draft.Dependencies))
		for i, d := range draft.Dependencies {
			edge := &model.DeveloperStoryDependency{
				DependentStoryID: stories[d.DependentStoryIndex].ID,
				RequiredStoryID:  stories[d.RequiredStoryIndex].ID,
				Description:      d.Description,
			}
			if err := tx.SaveDependency(ctx, edge); err != nil {
				return fmt.Errorf("save dependency %d: %w", i, err)
			}
			edges[i] = edge
		}

		if err := o.sm.ApplyWorkItemTransition(w, model.WorkItemRefined); err != nil {
			return err
		}
		if err := tx.SaveWorkItem(ctx, w); err != nil {
			return err
		}

		txSched := scheduler.New(tx)
		if _, err := txSched.UpdateReadiness(ctx); err != nil {
			return err
		}
		return nil
	})
	if err != nil {
		_ = o.db.WithTransaction(ctx, func(tx *store.Store) error {
			w.ErrorMessage = err.Error()
			if appErr := o.sm.ApplyWorkItemTransition(w, model.WorkItemError); appErr != nil {
				return appErr
			}
			return tx.SaveWorkItem(ctx, w)
		})
		return RefinementResult{}, fmt.Errorf("persist refinement: %w", err)
	}

	return RefinementResult{WorkItem: w, Stories: stories, Dependencies: edges, Analysis: draft.Analysis}, nil
}

// SelectNext runs updateReadiness, then returns the next story to implement
// (or nil), as a read-only snapshot.
func (o *Orchestrator) SelectNext(ctx context.Context) (*model.DeveloperStory, error) {
	var next *model.DeveloperStory
	err := o.db.WithTransaction(ctx, func(tx *store.Store) error {
		txSched := scheduler.New(tx)
		if _, err := txSched.UpdateReadiness(ctx); err != nil {
			return err
		}
		n, err := txSched.SelectNext(ctx)
		if err != nil {
			return err
		}
		next = n
		return nil
	})
	if err != nil {
		return nil, err
	}
	return next, nil
}

// ImplementationResult is the outcome of one implement() call.
type ImplementationResult struct {
	Story    *model.DeveloperStory
	Success  bool
	Duration time.Duration
	Output   string
	Err      error
}

// Implement runs story through the full acquire/execute/settle/release
// lifecycle described in spec §4.7.
func (o *Orchestrator) Implement(ctx context.Context, storyID int64, mainBranch, repoPath string, opts executor.Opts) (ImplementationResult, error) {
	story, err := o.db.GetStory(ctx, storyID)
	if err != nil {
		return ImplementationResult{}, err
	}
	if story.Status != model.StoryReady {
		return ImplementationResult{}, fmt.Errorf("%w: story %d is not Ready (status %s)", apperrors.ErrIllegalTransition, storyID, story.Status)
	}

	if err := o.claimStory(ctx, story); err != nil {
		return ImplementationResult{}, err
	}

	acquired, err := o.ws.Acquire(ctx, repoPath, mainBranch, o.worktreeBasePath, story)
	if err != nil {
		o.settleFailure(ctx, story, err.Error())
		return ImplementationResult{}, err
	}
	defer func() {
		if relErr := o.ws.Release(ctx, repoPath, o.worktreeBasePath, story); relErr != nil {
			o.logger.Error("release workspace for story %d: %v", story.ID, relErr)
		}
		if logErr := o.db.AppendLog(ctx, &model.ExecutionLog{DeveloperStoryID: story.ID, EventType: model.EventWorktreeRemoved}); logErr != nil {
			o.logger.Error("log worktree removed for story %d: %v", story.ID, logErr)
		}
	}()

	if err := o.db.AppendLog(ctx, &model.ExecutionLog{DeveloperStoryID: story.ID, EventType: model.EventBranchCreated, Details: acquired.BranchName}); err != nil {
		o.logger.Error("log branch created: %v", err)
	}
	if err := o.db.AppendLog(ctx, &model.ExecutionLog{DeveloperStoryID: story.ID, EventType: model.EventWorktreeCreated, Details: acquired.WorktreePath}); err != nil {
		o.logger.Error("log worktree created: %v", err)
	}

	heartbeatCtx, stopHeartbeat := context.WithCancel(ctx)
	go o.emitHeartbeats(heartbeatCtx, story.ID)
	defer stopHeartbeat()

	start := time.Now()
	var result executor.ExecResult
	if story.SessionID != "" {
		result, err = o.exec.ContinueSession(ctx, story.SessionID, story.Instructions, acquired.WorktreePath, opts)
	} else {
		result, err = o.exec.Start(ctx, story.Instructions, acquired.WorktreePath, opts)
	}
	duration := time.Since(start)

	if result.SessionID != "" && result.SessionID != story.SessionID {
		story.SessionID = result.SessionID
		if saveErr := o.db.SaveStory(ctx, story); saveErr != nil {
			o.logger.Error("persist session id for story %d: %v", story.ID, saveErr)
		}
	}

	if o.recorder != nil {
		outcome := "success"
		if err != nil || !result.Success {
			outcome = "failure"
		}
		o.recorder.ObserveExecutorInvocation(outcome, duration)
	}

	if err != nil {
		o.settleFailure(ctx, story, errorMessage(err, result))
		return ImplementationResult{Story: story, Success: false, Duration: duration, Output: result.Stdout, Err: err}, nil
	}
	if !result.Success {
		o.settleFailure(ctx, story, result.Stderr)
		return ImplementationResult{Story: story, Success: false, Duration: duration, Output: result.Stdout}, nil
	}

	if err := o.settleSuccess(ctx, story, duration); err != nil {
		return ImplementationResult{}, err
	}

	return ImplementationResult{Story: story, Success: true, Duration: duration, Output: result.Stdout}, nil
}

func errorMessage(err error, result executor.ExecResult) string {
	if result.Stderr != "" {
		return result.Stderr
	}
	return err.Error()
}

// claimStory transactionally transitions story Ready -> InProgress, and
// promotes its owning WorkItem Refined -> InProgress the first time any of
// its stories is claimed, enforcing invariant 1 (at most one InProgress
// UserStory) via inProgressUserStory().
func (o *Orchestrator) claimStory(ctx context.Context, story *model.DeveloperStory) error {
	return o.db.WithTransaction(ctx, func(tx *store.Store) error {
		w, err := tx.GetWorkItem(ctx, story.WorkItemID)
		if err != nil {
			return err
		}

		if w.Status == model.WorkItemRefined {
			if w.Type == model.WorkItemTypeUserStory {
				inProgress, err := tx.InProgressUserStory(ctx)
				if err != nil {
					return err
				}
				if inProgress != nil && inProgress.ID != w.ID {
					return fmt.Errorf("%w: user story %d already InProgress", apperrors.ErrInvariantViolation, inProgress.ID)
				}
			}
			if err := o.sm.ApplyWorkItemTransition(w, model.WorkItemInProgress); err != nil {
				return err
			}
			if err := tx.SaveWorkItem(ctx, w); err != nil {
				return err
			}
		}

		if err := o.sm.ApplyStoryTransition(story, model.StoryInProgress); err != nil {
			return err
		}
		if err := tx.SaveStory(ctx, story); err != nil {
			return err
		}
		if o.recorder != nil {
			o.recorder.ObserveStoryTransition(string(story.Status))
		}
		return tx.AppendLog(ctx, &model.ExecutionLog{DeveloperStoryID: story.ID, EventType: model.EventStarted})
	})
}

// settleSuccess transactionally completes story and, if every sibling story
// is now Completed, completes the owning WorkItem too.
func (o *Orchestrator) settleSuccess(ctx context.Context, story *model.DeveloperStory, duration time.Duration) error {
	return o.db.WithTransaction(ctx, func(tx *store.Store) error {
		if err := o.sm.ApplyStoryTransition(story, model.StoryCompleted); err != nil {
			return err
		}
		if err := tx.SaveStory(ctx, story); err != nil {
			return err
		}
		if o.recorder != nil {
			o.recorder.ObserveStoryTransition(string(story.Status))
		}
		if err := tx.AppendLog(ctx, &model.ExecutionLog{
			DeveloperStoryID: story.ID,
			EventType:        model.EventCompleted,
			Details:          fmt.Sprintf("duration=%s", duration),
		}); err != nil {
			return err
		}

		siblings, err := tx.StoriesByWorkItem(ctx, story.WorkItemID)
		if err != nil {
			return err
		}
		allDone := true
		for _, s := range siblings {
			if s.Status != model.StoryCompleted {
				allDone = false
				break
			}
		}
		if !allDone {
			return nil
		}

		w, err := tx.GetWorkItem(ctx, story.WorkItemID)
		if err != nil {
			return err
		}
		if w.Status != model.WorkItemInProgress {
			return nil
		}
		if err := o.sm.ApplyWorkItemTransition(w, model.WorkItemCompleted); err != nil {
			return err
		}
		return tx.SaveWorkItem(ctx, w)
	})
}

// settleFailure transactionally fails story, logging the best-effort
// transaction error rather than propagating it: the caller already has the
// original executor error to return.
func (o *Orchestrator) settleFailure(ctx context.Context, story *model.DeveloperStory, message string) {
	err := o.db.WithTransaction(ctx, func(tx *store.Store) error {
		story.ErrorMessage = message
		if err := o.sm.ApplyStoryTransition(story, model.StoryError); err != nil {
			return err
		}
		if err := tx.SaveStory(ctx, story); err != nil {
			return err
		}
		if o.recorder != nil {
			o.recorder.ObserveStoryTransition(string(story.Status))
		}
		return tx.AppendLog(ctx, &model.ExecutionLog{DeveloperStoryID: story.ID, EventType: model.EventFailed, ErrorMessage: message})
	})
	if err != nil {
		o.logger.Error("settle failure for story %d: %v", story.ID, err)
	}
}

// emitHeartbeats appends an Info/heartbeat log every heartbeatInterval
// until ctx is cancelled, so RecoverStaleStories can distinguish a live run
// from an orphaned one.
func (o *Orchestrator) emitHeartbeats(ctx context.Context, storyID int64) {
	ticker := time.NewTicker(o.heartbeatInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := o.db.AppendLog(ctx, &model.ExecutionLog{
				DeveloperStoryID: storyID,
				EventType:        model.EventInfo,
				Metadata:         map[string]any{"heartbeat": true},
			}); err != nil {
				o.logger.Warn("emit heartbeat for story %d: %v", storyID, err)
			}
		}
	}
}

// RecoverStaleStories resets to Ready, with StartedAt cleared, every story in
// InProgress whose most recent ExecutionLog (or StartedAt, when it has no
// logs) is older than staleAfter, per spec §5's crash-recovery policy. It
// runs only when called; cmd/storyctl does not call it.
func (o *Orchestrator) RecoverStaleStories(ctx context.Context, staleAfter time.Duration) (int, error) {
	recovered := 0
	err := o.db.WithTransaction(ctx, func(tx *store.Store) error {
		stale, err := tx.StoriesByStatus(ctx, model.StoryInProgress)
		if err != nil {
			return err
		}
		now := time.Now().UTC()
		for _, s := range stale {
			logs, err := tx.LogsByStory(ctx, s.ID)
			if err != nil {
				return err
			}
			lastSeen := s.StartedAt
			if len(logs) > 0 {
				ts := logs[len(logs)-1].Timestamp
				lastSeen = &ts
			}
			if lastSeen != nil && now.Sub(*lastSeen) < staleAfter {
				continue
			}

			s.StartedAt = nil
			if err := o.sm.ApplyStoryTransition(s, model.StoryReady); err != nil {
				return err
			}
			if err := tx.SaveStory(ctx, s); err != nil {
				return err
			}
			recovered++
		}
		return nil
	})
	return recovered, err
}
