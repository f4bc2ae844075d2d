// Command storyctl is the operator-facing CLI for the story orchestrator,
// implementing the five commands from spec §9: create, refine, next,
// implement and list. Grounded on the teacher's cmd/maestro/main.go: a thin
// flag-parsing entry point that wires plain constructors together, no CLI
// framework.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"strconv"

	"golang.org/x/term"

	"storyforge/pkg/apperrors"
	"storyforge/pkg/config"
	"storyforge/pkg/executor"
	"storyforge/pkg/llm"
	"storyforge/pkg/llm/anthropic"
	"storyforge/pkg/llm/openai"
	"storyforge/pkg/logx"
	"storyforge/pkg/metrics"
	"storyforge/pkg/model"
	"storyforge/pkg/orchestrator"
	"storyforge/pkg/planner"
	"storyforge/pkg/statemachine"
	"storyforge/pkg/store"
	"storyforge/pkg/workspace"
)

var logger = logx.NewLogger("storyctl")

func main() {
	if err := run(os.Args[1:]); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func run(args []string) error {
	if len(args) == 0 {
		return usageError()
	}

	configPath := os.Getenv("STORYCTL_CONFIG")
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	switch args[0] {
	case "create":
		return runCreate(cfg, args[1:])
	case "refine":
		return runRefine(cfg, args[1:])
	case "next":
		return runNext(cfg, args[1:])
	case "implement":
		return runImplement(cfg, args[1:])
	case "list":
		return runList(cfg, args[1:])
	default:
		return usageError()
	}
}

func usageError() error {
	return fmt.Errorf("usage: storyctl <create|refine|next|implement|list> [flags]")
}

// buildOrchestrator wires every component via plain constructors, per
// SPEC_FULL.md §4.7, from cfg exactly as config.Load returned it; no CLI
// flag overrides any of its values.
func buildOrchestrator(cfg config.Config) (*orchestrator.Orchestrator, *store.Store, error) {
	db, err := store.Open(cfg.Store.Connection)
	if err != nil {
		return nil, nil, fmt.Errorf("open store: %w", err)
	}

	sm := statemachine.New()
	ws := workspace.New(workspace.NewSystemGitRunner())

	var rec *metrics.Recorder
	if cfg.Metrics.Enabled {
		rec = metrics.New()
		srv := metrics.NewServer(rec, cfg.Metrics.ListenAddr)
		go func() {
			if err := srv.Start(context.Background()); err != nil {
				logger.Error("metrics server stopped: %v", err)
			}
		}()
	} else {
		rec = metrics.New()
	}

	plannerClient, err := buildPlannerClient(cfg.Planner)
	if err != nil {
		_ = db.Close()
		return nil, nil, err
	}

	execClient := executor.New(cfg.Executor.Binary, "CODINGAGENT")

	o := orchestrator.New(db, sm, ws, plannerClient, execClient, rec, cfg.Executor.HeartbeatInterval, cfg.Repo.WorktreeBasePath)
	return o, db, nil
}

func buildPlannerClient(cfg config.Planner) (orchestrator.PlannerClient, error) {
	apiKey := cfg.APIKey
	if apiKey == "" {
		prompted, err := promptSecret(fmt.Sprintf("%s API key: ", cfg.Provider))
		if err != nil {
			return nil, fmt.Errorf("prompt for API key: %w", err)
		}
		apiKey = prompted
	}

	llmCfg := llm.Config{APIKey: apiKey, Model: cfg.Model}
	if err := llmCfg.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %v", apperrors.ErrConfig, err)
	}

	var client llm.Client
	switch cfg.Provider {
	case "openai":
		client = openai.New(llmCfg.APIKey, llmCfg.Model)
	case "anthropic", "":
		client = anthropic.New(llmCfg.APIKey, llmCfg.Model)
	default:
		return nil, fmt.Errorf("unknown planner provider %q", cfg.Provider)
	}

	return planner.New(client, cfg.MaxTokens, cfg.Temperature), nil
}

// promptSecret reads a credential from the controlling terminal without echo,
// grounded on the teacher's secrets-prompt idiom (golang.org/x/term).
func promptSecret(prompt string) (string, error) {
	fmt.Fprint(os.Stderr, prompt)
	b, err := term.ReadPassword(int(os.Stdin.Fd()))
	fmt.Fprintln(os.Stderr)
	if err != nil {
		return "", fmt.Errorf("read secret: %w", err)
	}
	return string(b), nil
}

func runCreate(cfg config.Config, args []string) error {
	fs := flag.NewFlagSet("create", flag.ExitOnError)
	kind := fs.String("type", string(model.WorkItemTypeUserStory), "UserStory or Bug")
	title := fs.String("title", "", "work item title")
	description := fs.String("description", "", "work item description")
	acceptance := fs.String("acceptance", "", "acceptance criteria")
	priority := fs.Int("priority", model.DefaultDeveloperStoryPriority, "priority 1-9, 1 is most urgent")
	if err := fs.Parse(args); err != nil {
		return err
	}

	// Creating a work item makes no planner or executor call, so no planner
	// credential is needed here.
	db, err := store.Open(cfg.Store.Connection)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer func() { _ = db.Close() }()

	o := orchestrator.New(db, statemachine.New(), nil, nil, nil, nil, cfg.Executor.HeartbeatInterval, cfg.Repo.WorktreeBasePath)

	w, err := o.CreateWorkItem(context.Background(), model.WorkItemType(*kind), *title, *description, *acceptance, *priority)
	if err != nil {
		return err
	}
	fmt.Printf("created work item %d (%s)\n", w.ID, w.Status)
	return nil
}

func runRefine(cfg config.Config, args []string) error {
	if len(args) == 0 {
		return fmt.Errorf("usage: storyctl refine <workItemId>")
	}
	id, err := strconv.ParseInt(args[0], 10, 64)
	if err != nil {
		return fmt.Errorf("invalid work item id %q: %w", args[0], err)
	}

	o, db, err := buildOrchestrator(cfg)
	if err != nil {
		return err
	}
	defer func() { _ = db.Close() }()

	res, err := o.Refine(context.Background(), id)
	if err != nil {
		return err
	}
	fmt.Printf("refined work item %d into %d stories, %d dependencies\n", id, len(res.Stories), len(res.Dependencies))
	for _, s := range res.Stories {
		fmt.Printf("  story %d [%s] %s (%s)\n", s.ID, s.StoryType, s.Title, s.Status)
	}
	return nil
}

func runNext(cfg config.Config, _ []string) error {
	o, db, err := buildOrchestrator(cfg)
	if err != nil {
		return err
	}
	defer func() { _ = db.Close() }()

	s, err := o.SelectNext(context.Background())
	if err != nil {
		return err
	}
	if s == nil {
		fmt.Println("no ready story")
		return nil
	}
	fmt.Printf("story %d [%s] %s\n", s.ID, s.StoryType, s.Title)
	return nil
}

func runImplement(cfg config.Config, args []string) error {
	fs := flag.NewFlagSet("implement", flag.ExitOnError)
	repoPath := fs.String("repo", ".", "path to the repository working tree")
	if err := fs.Parse(args); err != nil {
		return err
	}
	rest := fs.Args()
	if len(rest) == 0 {
		return fmt.Errorf("usage: storyctl implement <storyId> [mainBranch] [--repo path]")
	}
	storyID, err := strconv.ParseInt(rest[0], 10, 64)
	if err != nil {
		return fmt.Errorf("invalid story id %q: %w", rest[0], err)
	}
	mainBranch := cfg.Repo.DefaultBranch
	if len(rest) > 1 {
		mainBranch = rest[1]
	}

	o, db, err := buildOrchestrator(cfg)
	if err != nil {
		return err
	}
	defer func() { _ = db.Close() }()

	opts := executor.Opts{
		Model:     cfg.Executor.Model,
		TimeoutMs: cfg.Executor.TimeoutMs,
	}
	result, err := o.Implement(context.Background(), storyID, mainBranch, *repoPath, opts)
	if err != nil {
		return err
	}
	if result.Success {
		fmt.Printf("story %d completed in %s\n", storyID, result.Duration)
	} else {
		fmt.Printf("story %d failed after %s\n%s\n", storyID, result.Duration, result.Output)
	}
	return nil
}

func runList(cfg config.Config, args []string) error {
	fs := flag.NewFlagSet("list", flag.ExitOnError)
	stories := fs.Bool("stories", false, "list developer stories instead of work items")
	status := fs.String("status", "", "filter by status")
	if err := fs.Parse(args); err != nil {
		return err
	}

	db, err := store.Open(cfg.Store.Connection)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer func() { _ = db.Close() }()

	if *stories {
		return listStories(db, *status)
	}
	return listWorkItems(db, *status)
}

func listWorkItems(db *store.Store, status string) error {
	var filter *model.WorkItemStatus
	if status != "" {
		s := model.WorkItemStatus(status)
		filter = &s
	}
	items, err := db.ListWorkItems(context.Background(), filter)
	if err != nil {
		return err
	}
	for _, w := range items {
		fmt.Printf("%d\t%s\t%s\t%s\n", w.ID, w.Type, w.Status, w.Title)
	}
	return nil
}

func listStories(db *store.Store, status string) error {
	var (
		items []*model.DeveloperStory
		err   error
	)
	if status != "" {
		items, err = db.StoriesByStatus(context.Background(), model.DeveloperStoryStatus(status))
	} else {
		items, err = db.AllStories(context.Background())
	}
	if err != nil {
		return err
	}
	for _, s := range items {
		fmt.Printf("%d\t%d\t%s\t%s\t%s\n", s.ID, s.WorkItemID, s.StoryType, s.Status, s.Title)
	}
	return nil
}
