// Package config loads the orchestrator's configuration, following the
// teacher's pkg/config layering (defaults, then a YAML file, then
// environment variables as an overlay applied at the binary's edge — "only
// the outer binary reads the environment", per spec §9), grounded on the teacher's
// pkg/config/config.go / loader.go.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Planner holds PlannerClient configuration (spec §6, expanded by
// SPEC_FULL.md §6 with provider/temperature).
type Planner struct {
	APIKey      string  `yaml:"apiKey"`
	BaseURL     string  `yaml:"baseUrl"`
	Model       string  `yaml:"model"`
	Provider    string  `yaml:"provider"`
	MaxTokens   int     `yaml:"maxTokens"`
	Temperature float32 `yaml:"temperature"`
}

// Executor holds ExecutorClient configuration.
type Executor struct {
	Binary            string        `yaml:"binary"`
	Model             string        `yaml:"model"`
	TimeoutMs         int           `yaml:"timeoutMs"`
	HeartbeatInterval time.Duration `yaml:"heartbeatInterval"`
}

// Repo holds WorkspaceIsolator configuration.
type Repo struct {
	DefaultBranch     string `yaml:"defaultBranch"`
	WorktreeBasePath  string `yaml:"worktreeBasePath"`
}

// Store holds persistence configuration.
type Store struct {
	Connection string `yaml:"connection"`
}

// Metrics holds ambient observability configuration.
type Metrics struct {
	Enabled    bool   `yaml:"enabled"`
	ListenAddr string `yaml:"listenAddr"`
}

// Config is the fully-resolved configuration the Orchestrator is
// constructed from.
type Config struct {
	Planner  Planner  `yaml:"planner"`
	Executor Executor `yaml:"executor"`
	Repo     Repo     `yaml:"repo"`
	Store    Store    `yaml:"store"`
	Metrics  Metrics  `yaml:"metrics"`
}

// Default returns the configuration defaults named in spec §6 / SPEC_FULL §6.
func Default() Config {
	return Config{
		Planner: Planner{
			Provider:    "anthropic",
			MaxTokens:   4096,
			Temperature: 0.2,
		},
		Executor: Executor{
			Binary:            "claude",
			TimeoutMs:         300_000,
			HeartbeatInterval: 30 * time.Second,
		},
		Repo: Repo{
			DefaultBranch:    "main",
			WorktreeBasePath: "./worktrees",
		},
		Store: Store{
			Connection: "./storyforge.db",
		},
		Metrics: Metrics{
			Enabled:    false,
			ListenAddr: ":9090",
		},
	}
}

// Load reads a YAML config file at path (if it exists) over the defaults,
// then overlays well-known environment variables. No CLI flag overlay is
// applied to the result; cmd/storyctl uses it as returned.
func Load(path string) (Config, error) {
	cfg := Default()
	// Cleared so the environment overlay can tell whether the file set a
	// timeout; the default is restored when neither source supplies one.
	defaultTimeoutMs := cfg.Executor.TimeoutMs
	cfg.Executor.TimeoutMs = 0

	if path != "" {
		data, err := os.ReadFile(path)
		switch {
		case err == nil:
			if err := yaml.Unmarshal(data, &cfg); err != nil {
				return Config{}, fmt.Errorf("parse config file %s: %w", path, err)
			}
		case os.IsNotExist(err):
			// Missing config file is not an error; defaults stand.
		default:
			return Config{}, fmt.Errorf("read config file %s: %w", path, err)
		}
	}

	applyEnvOverlay(&cfg)
	if cfg.Executor.TimeoutMs == 0 {
		cfg.Executor.TimeoutMs = defaultTimeoutMs
	}
	return cfg, nil
}

// applyEnvOverlay overlays the environment variables spec §6 names, each
// only applied when the config file left the field empty.
func applyEnvOverlay(cfg *Config) {
	if cfg.Planner.APIKey == "" {
		cfg.Planner.APIKey = os.Getenv("ANTHROPIC_AUTH_TOKEN")
	}
	if cfg.Planner.BaseURL == "" {
		cfg.Planner.BaseURL = os.Getenv("ANTHROPIC_BASE_URL")
	}
	if ms := os.Getenv("API_TIMEOUT_MS"); ms != "" && cfg.Executor.TimeoutMs == 0 {
		if v, err := parsePositiveInt(ms); err == nil {
			cfg.Executor.TimeoutMs = v
		}
	}
}

func parsePositiveInt(s string) (int, error) {
	var v int
	_, err := fmt.Sscanf(s, "%d", &v)
	if err != nil {
		return 0, err
	}
	if v <= 0 {
		return 0, fmt.Errorf("value must be positive: %s", s)
	}
	return v, nil
}
