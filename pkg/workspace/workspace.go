// Package workspace implements the WorkspaceIsolator (RepoOps) described in
// spec §4.4: scoped acquisition of a per-story git worktree with guaranteed
// release on all exit paths, grounded on the teacher's
// pkg/coder/git.go (DefaultGitRunner, WorkspaceManager.createBranch /
// createFreshWorktree / cleanupWorktrees) adapted from the teacher's
// per-agent mirror-clone model to a direct per-story worktree off an
// existing working repository.
package workspace

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"storyforge/pkg/apperrors"
	"storyforge/pkg/logx"
	"storyforge/pkg/model"
)

// GitRunner runs git commands in a given directory. Grounded on the
// teacher's GitRunner interface so a fake can be substituted in tests.
type GitRunner interface {
	Run(ctx context.Context, dir string, args ...string) ([]byte, error)
	RunQuiet(ctx context.Context, dir string, args ...string) ([]byte, error)
}

// SystemGitRunner shells out to the system git binary.
type SystemGitRunner struct {
	logger *logx.Logger
}

// NewSystemGitRunner creates a SystemGitRunner.
func NewSystemGitRunner() *SystemGitRunner {
	return &SystemGitRunner{logger: logx.NewLogger("workspace.git")}
}

func (g *SystemGitRunner) Run(ctx context.Context, dir string, args ...string) ([]byte, error) {
	return g.run(ctx, dir, true, args...)
}

func (g *SystemGitRunner) RunQuiet(ctx context.Context, dir string, args ...string) ([]byte, error) {
	return g.run(ctx, dir, false, args...)
}

func (g *SystemGitRunner) run(ctx context.Context, dir string, logErrors bool, args ...string) ([]byte, error) {
	cmd := exec.CommandContext(ctx, "git", args...)
	if dir != "" {
		cmd.Dir = dir
	}

	g.logger.Debug("cd %s && git %s", dirOrDot(dir), strings.Join(args, " "))
	output, err := cmd.CombinedOutput()
	if err != nil {
		if logErrors {
			g.logger.Error("git %s failed in %s: %v\n%s", strings.Join(args, " "), dirOrDot(dir), err, output)
		}
		return output, fmt.Errorf("%w: git %s in %s: %v: %s", apperrors.ErrRepo, strings.Join(args, " "), dir, err, output)
	}
	return output, nil
}

func dirOrDot(dir string) string {
	if dir == "" {
		return "."
	}
	return dir
}

// Isolator implements the WorkspaceIsolator operations over a GitRunner.
type Isolator struct {
	git    GitRunner
	logger *logx.Logger
}

// New creates an Isolator using the given GitRunner.
func New(git GitRunner) *Isolator {
	return &Isolator{git: git, logger: logx.NewLogger("workspace")}
}

// IsRepository reports whether path is the root (or a subdirectory) of a git repository.
func (i *Isolator) IsRepository(ctx context.Context, path string) bool {
	_, err := i.git.RunQuiet(ctx, path, "rev-parse", "--is-inside-work-tree")
	return err == nil
}

// CurrentBranch returns the checked-out branch name at path.
func (i *Isolator) CurrentBranch(ctx context.Context, path string) (string, error) {
	out, err := i.git.Run(ctx, path, "rev-parse", "--abbrev-ref", "HEAD")
	if err != nil {
		return "", fmt.Errorf("%w: current branch: %v", apperrors.ErrRepo, err)
	}
	return strings.TrimSpace(string(out)), nil
}

// BranchExists reports whether name exists as a local branch in the repo rooted at path.
func (i *Isolator) BranchExists(ctx context.Context, path, name string) bool {
	_, err := i.git.RunQuiet(ctx, path, "show-ref", "--verify", "--quiet", "refs/heads/"+name)
	return err == nil
}

// CreateBranch creates name off from if it does not already exist. Idempotent.
func (i *Isolator) CreateBranch(ctx context.Context, path, name, from string) error {
	if i.BranchExists(ctx, path, name) {
		return nil
	}
	if _, err := i.git.Run(ctx, path, "branch", name, from); err != nil {
		return fmt.Errorf("%w: create branch %s from %s: %v", apperrors.ErrRepo, name, from, err)
	}
	return nil
}

// WorktreeExists reports whether worktreePath is already registered as a worktree of path.
func (i *Isolator) WorktreeExists(ctx context.Context, path, worktreePath string) bool {
	out, err := i.git.RunQuiet(ctx, path, "worktree", "list", "--porcelain")
	if err != nil {
		return false
	}
	abs, absErr := filepath.Abs(worktreePath)
	if absErr != nil {
		abs = worktreePath
	}
	for _, line := range strings.Split(string(out), "\n") {
		if strings.HasPrefix(line, "worktree ") && strings.TrimPrefix(line, "worktree ") == abs {
			return true
		}
	}
	return false
}

// CreateWorktree creates a working directory at worktreePath checked out to
// branch. Fails with ErrRepo if worktreePath already exists and is not
// already a worktree of this repository (no silent overwrite of unrelated contents).
func (i *Isolator) CreateWorktree(ctx context.Context, path, branch, worktreePath string) error {
	if i.WorktreeExists(ctx, path, worktreePath) {
		return nil
	}
	if _, err := os.Stat(worktreePath); err == nil {
		return fmt.Errorf("%w: worktree path %s already exists with unrelated contents", apperrors.ErrRepo, worktreePath)
	}
	if err := os.MkdirAll(filepath.Dir(worktreePath), 0o755); err != nil {
		return fmt.Errorf("%w: create worktree parent dir: %v", apperrors.ErrRepo, err)
	}
	if _, err := i.git.Run(ctx, path, "worktree", "add", worktreePath, branch); err != nil {
		return fmt.Errorf("%w: create worktree %s on %s: %v", apperrors.ErrRepo, worktreePath, branch, err)
	}
	return nil
}

// RemoveWorktree removes worktreePath, forcing past uncommitted changes and
// tolerating a stale administrative lock (logged, not fatal), then removes
// any leftover directory.
func (i *Isolator) RemoveWorktree(ctx context.Context, path, worktreePath string) error {
	if _, err := i.git.RunQuiet(ctx, path, "worktree", "remove", "--force", worktreePath); err != nil {
		i.logger.Warn("worktree remove reported an error for %s (treated as non-fatal): %v", worktreePath, err)
	}
	if err := os.RemoveAll(worktreePath); err != nil {
		return fmt.Errorf("%w: remove worktree directory %s: %v", apperrors.ErrRepo, worktreePath, err)
	}
	return nil
}

// WorktreePathFor computes the deterministic, stable worktree path for a story.
func WorktreePathFor(story *model.DeveloperStory, basePath string) string {
	return filepath.Join(basePath, fmt.Sprintf("ds-%d", story.ID))
}

// BranchNameFor computes the deterministic feature-branch name for a story.
func BranchNameFor(workItemID, storyID int64) string {
	return fmt.Sprintf("story/%d/%d", workItemID, storyID)
}

// Acquired is the outcome of Acquire: a ready-to-use worktree plus the
// branch it is checked out to.
type Acquired struct {
	WorktreePath string
	BranchName   string
}

// Acquire ensures the feature branch and worktree for story exist, per the
// lifecycle contract in spec §4.4 step 1. worktreeBasePath is the configured
// parent directory for per-story worktrees (spec §6 repo.worktreeBasePath),
// distinct from repoPath: git commands run against repoPath, but the
// worktree itself is created at worktreeBasePath/ds-<story.id>.
func (i *Isolator) Acquire(ctx context.Context, repoPath, baseBranch, worktreeBasePath string, story *model.DeveloperStory) (*Acquired, error) {
	branch := BranchNameFor(story.WorkItemID, story.ID)
	if err := i.CreateBranch(ctx, repoPath, branch, baseBranch); err != nil {
		return nil, err
	}

	worktreePath := WorktreePathFor(story, worktreeBasePath)
	if err := i.CreateWorktree(ctx, repoPath, branch, worktreePath); err != nil {
		return nil, err
	}

	return &Acquired{WorktreePath: worktreePath, BranchName: branch}, nil
}

// Release removes the worktree acquired for story. It is safe to call on
// every exit path, including after executor failure or cancellation.
func (i *Isolator) Release(ctx context.Context, repoPath, worktreeBasePath string, story *model.DeveloperStory) error {
	worktreePath := WorktreePathFor(story, worktreeBasePath)
	return i.RemoveWorktree(ctx, repoPath, worktreePath)
}
