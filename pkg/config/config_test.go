package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestLoad_MissingFileUsesDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	require.NoError(t, err)
	require.Equal(t, "anthropic", cfg.Planner.Provider)
	require.Equal(t, "claude", cfg.Executor.Binary)
	require.Equal(t, "main", cfg.Repo.DefaultBranch)
}

func TestLoad_FileOverridesDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("planner:\n  provider: openai\n  maxTokens: 8192\n"), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, "openai", cfg.Planner.Provider)
	require.Equal(t, 8192, cfg.Planner.MaxTokens)
}

func TestLoad_EnvOverlayFillsEmptyAPIKey(t *testing.T) {
	t.Setenv("ANTHROPIC_AUTH_TOKEN", "sk-test-token")
	cfg, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	require.NoError(t, err)
	require.Equal(t, "sk-test-token", cfg.Planner.APIKey)
}

func TestEncryptDecryptSecretsFile_RoundTrips(t *testing.T) {
	dir := t.TempDir()
	secrets := map[string]string{"ANTHROPIC_AUTH_TOKEN": "sk-abc", "EXECUTOR_API_KEY": "ex-def"}

	require.NoError(t, EncryptSecretsFile(dir, "correct horse battery staple", secrets))
	require.True(t, SecretsFileExists(dir))

	got, err := DecryptSecretsFile(dir, "correct horse battery staple")
	require.NoError(t, err)
	require.Equal(t, secrets, got)
}

func TestDecryptSecretsFile_WrongPasswordFails(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, EncryptSecretsFile(dir, "right-password", map[string]string{"K": "V"}))

	_, err := DecryptSecretsFile(dir, "wrong-password")
	require.Error(t, err)
}
