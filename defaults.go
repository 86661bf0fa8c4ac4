package codemender

import (
	"fmt"
	"log"
	"os"
	"path/filepath"

	"github.com/codemender/codemender/agent"
	"github.com/codemender/codemender/config"
	"github.com/codemender/codemender/eventbus"
	ghProvider "github.com/codemender/codemender/gitprovider/github"
	"github.com/codemender/codemender/heal"
	"github.com/codemender/codemender/llm"
	"github.com/codemender/codemender/memory"
	slacknotify "github.com/codemender/codemender/notify/slack"
	"github.com/codemender/codemender/sandbox"
	sqliteStore "github.com/codemender/codemender/store/sqlite"
	"github.com/codemender/codemender/swarm"
	"github.com/codemender/codemender/tool"
)

// boxProvisioner adapts the sandbox package to heal.Provisioner.
type boxProvisioner struct {
	prov *sandbox.Provisioner
}

func (b boxProvisioner) Provision(src string) (heal.Sandbox, error) {
	return b.prov.Provision(src)
}

// applyDefaults fills in missing fields on the builder with sensible defaults.
func applyDefaults(b *Builder) error {
	// Config defaults come from the environment.
	if b.config.ServerAddr == "" {
		cfg, err := config.Load()
		if err != nil {
			return fmt.Errorf("loading config: %w", err)
		}
		if err := cfg.Validate(); err != nil {
			return fmt.Errorf("invalid config: %w", err)
		}
		b.config = *cfg
	}

	if err := os.MkdirAll(b.config.DataDir, 0o755); err != nil {
		return fmt.Errorf("creating data directory: %w", err)
	}

	// Store.
	if b.store == nil {
		st, err := sqliteStore.New(b.config.DatabasePath)
		if err != nil {
			return fmt.Errorf("initializing store: %w", err)
		}
		b.store = st
	}

	// Event bus.
	if b.bus == nil {
		b.bus = eventbus.NewInMemoryBus()
	}

	// Model provider client.
	if b.llm == nil {
		b.llm = llm.New(llm.Config{
			BaseURL: b.config.OpenAIBaseURL,
			APIKey:  b.config.OpenAIAPIKey,
			Model:   b.config.Model,
			Stream:  true,
		})
	}

	// Conversation agent and role swarm.
	if b.agent == nil {
		b.agent = agent.New(b.llm, tool.NewRegistry(b.config.RepoRoot))
	}
	if b.swarm == nil {
		b.swarm = swarm.New(b.llm)
	}

	// Healing pipelines with a sandbox provisioner swept at shutdown.
	if b.healer == nil {
		prov := sandbox.NewProvisioner(b.config.SandboxDir)
		b.sweep = prov.Sweep
		runner := &heal.PytestRunner{Binary: b.config.PytestBinary}
		b.healer = heal.New(b.llm, runner, heal.FileResolver{}, boxProvisioner{prov}, nil, nil).
			WithMaxAgents(b.config.MaxParallelAgents)
	}

	// Code index. Best effort: healing still works without it.
	if b.index == nil {
		ix, err := memory.Open(filepath.Join(b.config.DataDir, "index.db"))
		if err != nil {
			log.Printf("Warning: code index unavailable: %v", err)
		} else {
			b.index = ix
		}
	}
	if b.index != nil {
		b.healer.WithSearch(b.index)
	}

	// Slack notifier.
	if b.notifier == nil && b.config.SlackEnabled() {
		b.notifier = slacknotify.New(b.config.SlackBotToken, b.config.SlackChannel)
	}

	// Git provider.
	if b.git == nil && b.config.GitHubEnabled() {
		b.git = ghProvider.NewClient(b.config.GitHubToken)
	}

	return nil
}
