// Package config provides configuration management for CodeMender.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	"github.com/codemender/codemender/model"
)

// Config holds all configuration for the CodeMender server and CLI.
type Config struct {
	// ServerAddr is the address the HTTP server listens on (e.g., ":7090").
	ServerAddr string

	// DataDir is the directory for persistent data (SQLite DB, etc.).
	DataDir string

	// DatabasePath is the full path to the SQLite database file.
	DatabasePath string

	// RepoRoot is the working tree runs and healing operate on.
	RepoRoot string

	// OpenAIAPIKey authenticates against the model provider.
	OpenAIAPIKey string

	// OpenAIBaseURL overrides the provider endpoint (for proxies and tests).
	OpenAIBaseURL string

	// Model is the model name sent on every provider request.
	Model string

	// Profile is the default permission profile for new runs.
	Profile model.PermissionProfile

	// AutoApprove skips interactive confirmation under the ask profile.
	AutoApprove bool

	// SandboxDir is where parallel-healing sandboxes are created.
	// Empty means the system temp directory.
	SandboxDir string

	// PytestBinary overrides the test runner executable.
	PytestBinary string

	// GitHubToken is the personal access token for PR publication (optional).
	GitHubToken string

	// Slack integration (optional, outbound notifications only).
	SlackBotToken string
	SlackChannel  string

	// MaxParallelAgents caps subagents spawned by parallel healing.
	// 0 means one per candidate.
	MaxParallelAgents int
}

// Load creates a Config from environment variables with sensible defaults.
func Load() (*Config, error) {
	dataDir := envOr("CODEMENDER_DATA_DIR", defaultDataDir())
	if err := os.MkdirAll(dataDir, 0o755); err != nil {
		return nil, fmt.Errorf("creating data directory: %w", err)
	}

	cfg := &Config{
		ServerAddr:        envOr("CODEMENDER_ADDR", ":7090"),
		DataDir:           dataDir,
		DatabasePath:      filepath.Join(dataDir, "codemender.db"),
		RepoRoot:          envOr("CODEMENDER_REPO", "."),
		OpenAIAPIKey:      os.Getenv("OPENAI_API_KEY"),
		OpenAIBaseURL:     os.Getenv("OPENAI_BASE_URL"),
		Model:             envOr("CODEMENDER_MODEL", "gpt-5"),
		Profile:           model.PermissionProfile(envOr("CODEMENDER_PROFILE", string(model.ProfileAsk))),
		AutoApprove:       envOrBool("CODEMENDER_AUTO_APPROVE", false),
		SandboxDir:        os.Getenv("CODEMENDER_SANDBOX_DIR"),
		PytestBinary:      os.Getenv("CODEMENDER_PYTEST"),
		GitHubToken:       os.Getenv("GITHUB_TOKEN"),
		SlackBotToken:     os.Getenv("SLACK_BOT_TOKEN"),
		SlackChannel:      os.Getenv("SLACK_CHANNEL"),
		MaxParallelAgents: envOrInt("CODEMENDER_MAX_AGENTS", 0),
	}

	return cfg, nil
}

// Validate checks that required configuration is present.
func (c *Config) Validate() error {
	if c.OpenAIAPIKey == "" {
		return fmt.Errorf("OPENAI_API_KEY is required")
	}
	switch c.Profile {
	case model.ProfileReadOnly, model.ProfileAsk, model.ProfileFullAccess:
	default:
		return fmt.Errorf("invalid CODEMENDER_PROFILE %q", c.Profile)
	}
	return nil
}

// SlackEnabled returns true if outbound Slack notifications are configured.
func (c *Config) SlackEnabled() bool {
	return c.SlackBotToken != "" && c.SlackChannel != ""
}

// GitHubEnabled returns true if PR publication is configured.
func (c *Config) GitHubEnabled() bool {
	return c.GitHubToken != ""
}

func envOrInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}

func envOrBool(key string, fallback bool) bool {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return fallback
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func defaultDataDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".codemender"
	}
	return filepath.Join(home, ".codemender")
}
