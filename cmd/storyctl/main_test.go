package main

import (
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestRun_NoArgsReturnsUsageError(t *testing.T) {
	err := run(nil)
	require.Error(t, err)
}

func TestRun_UnknownCommandReturnsUsageError(t *testing.T) {
	err := run([]string{"bogus"})
	require.Error(t, err)
}

// writeTestConfig points storyctl at an isolated SQLite file under a tempdir,
// so test runs never touch a real database on disk.
func writeTestConfig(t *testing.T) {
	t.Helper()
	dir := t.TempDir()
	dbPath := filepath.Join(dir, "test.db")
	configPath := filepath.Join(dir, "config.yaml")
	contents := fmt.Sprintf("store:\n  connection: %q\n", dbPath)
	require.NoError(t, os.WriteFile(configPath, []byte(contents), 0o644))
	t.Setenv("STORYCTL_CONFIG", configPath)
}

func TestRun_CreateSucceedsWithoutPlannerCredentials(t *testing.T) {
	writeTestConfig(t)

	err := run([]string{"create", "-title", "Add login", "-description", "Users need to authenticate"})
	require.NoError(t, err)
}

func TestRun_ListWorksAfterCreate(t *testing.T) {
	writeTestConfig(t)

	require.NoError(t, run([]string{"create", "-title", "Add login", "-description", "Users need to authenticate"}))
	require.NoError(t, run([]string{"list"}))
	require.NoError(t, run([]string{"list", "-stories"}))
}

func TestRun_RefineFailsFastWithoutPlannerCredentials(t *testing.T) {
	writeTestConfig(t)
	t.Setenv("ANTHROPIC_AUTH_TOKEN", "")

	require.NoError(t, run([]string{"create", "-title", "Add login", "-description", "Users need to authenticate"}))
	require.Error(t, run([]string{"refine", "1"}))
}

func TestRun_RefineRejectsUnknownWorkItemID(t *testing.T) {
	writeTestConfig(t)
	t.Setenv("ANTHROPIC_AUTH_TOKEN", "test-token")

	err := run([]string{"refine", "999"})
	require.Error(t, err)
}
