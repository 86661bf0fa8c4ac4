// Package codemender is the top-level entry point for the CodeMender
// engine.
//
// Use the Builder to compose a custom CodeMender application:
//
//	app, err := codemender.NewBuilder().Build()
//	app.Start(ctx)
//
// Or customize every component:
//
//	app, err := codemender.NewBuilder().
//	    WithStore(myStore).
//	    WithGitProvider(myProvider).
//	    WithHealer(myHealer).
//	    Build()
package codemender

import (
	"context"
	"log"
	"net/http"
	"time"

	"github.com/codemender/codemender/agent"
	"github.com/codemender/codemender/channel"
	"github.com/codemender/codemender/config"
	"github.com/codemender/codemender/engine"
	"github.com/codemender/codemender/eventbus"
	"github.com/codemender/codemender/gitprovider"
	"github.com/codemender/codemender/heal"
	"github.com/codemender/codemender/httpapi"
	"github.com/codemender/codemender/indexer"
	"github.com/codemender/codemender/llm"
	"github.com/codemender/codemender/memory"
	slacknotify "github.com/codemender/codemender/notify/slack"
	"github.com/codemender/codemender/store"
	"github.com/codemender/codemender/swarm"
)

// Builder constructs a CodeMender App.
type Builder struct {
	config   config.Config
	store    store.RunStore
	bus      eventbus.Bus
	llm      *llm.Client
	agent    *agent.Engine
	swarm    *swarm.Coordinator
	healer   *heal.Orchestrator
	index    *memory.Index
	notifier *slacknotify.Notifier
	git      gitprovider.Provider
	channels []channel.Channel

	sweep func()
}

// NewBuilder creates a new Builder with sensible defaults.
func NewBuilder() *Builder {
	return &Builder{}
}

// WithConfig sets the application configuration.
func (b *Builder) WithConfig(cfg config.Config) *Builder {
	b.config = cfg
	return b
}

// WithStore sets the run store implementation.
func (b *Builder) WithStore(s store.RunStore) *Builder {
	b.store = s
	return b
}

// WithBus sets the event bus implementation.
func (b *Builder) WithBus(bus eventbus.Bus) *Builder {
	b.bus = bus
	return b
}

// WithLLM sets the model provider client shared by the conversation
// agent, the role swarm and the healing pipelines.
func (b *Builder) WithLLM(client *llm.Client) *Builder {
	b.llm = client
	return b
}

// WithAgent sets a custom conversation agent.
func (b *Builder) WithAgent(a *agent.Engine) *Builder {
	b.agent = a
	return b
}

// WithSwarm sets a custom role-swarm coordinator.
func (b *Builder) WithSwarm(s *swarm.Coordinator) *Builder {
	b.swarm = s
	return b
}

// WithHealer sets a custom healing orchestrator.
func (b *Builder) WithHealer(h *heal.Orchestrator) *Builder {
	b.healer = h
	return b
}

// WithIndex sets the code index used to enrich healing prompts.
func (b *Builder) WithIndex(ix *memory.Index) *Builder {
	b.index = ix
	return b
}

// WithNotifier sets the Slack notifier.
func (b *Builder) WithNotifier(n *slacknotify.Notifier) *Builder {
	b.notifier = n
	return b
}

// WithGitProvider sets the git hosting provider implementation.
func (b *Builder) WithGitProvider(g gitprovider.Provider) *Builder {
	b.git = g
	return b
}

// WithChannel adds an inbound channel (Linear, Jira, etc.).
func (b *Builder) WithChannel(ch channel.Channel) *Builder {
	b.channels = append(b.channels, ch)
	return b
}

// Build creates the App. Missing components are filled with defaults.
func (b *Builder) Build() (*App, error) {
	if err := applyDefaults(b); err != nil {
		return nil, err
	}

	eng := engine.New(engine.Options{
		Store:       b.store,
		Bus:         b.bus,
		Agent:       b.agent,
		Swarm:       b.swarm,
		Healer:      b.healer,
		Notifier:    b.notifier,
		Git:         b.git,
		RepoRoot:    b.config.RepoRoot,
		Profile:     b.config.Profile,
		AutoApprove: b.config.AutoApprove,
	})
	if err := eng.LoadSuiteCache(); err != nil {
		log.Printf("Warning: %v", err)
	}

	return &App{
		config:   b.config,
		engine:   eng,
		handler:  httpapi.New(eng),
		index:    b.index,
		channels: b.channels,
		sweep:    b.sweep,
	}, nil
}

// App is a running CodeMender application.
type App struct {
	config   config.Config
	engine   *engine.Engine
	handler  *httpapi.Handler
	index    *memory.Index
	channels []channel.Channel
	sweep    func()
}

// Engine returns the underlying engine for direct access.
func (a *App) Engine() *engine.Engine { return a.engine }

// AddChannel attaches an inbound channel. Call before Start; channels
// usually need the built engine as their run creator.
func (a *App) AddChannel(ch channel.Channel) {
	a.channels = append(a.channels, ch)
}

// Start starts the HTTP server, indexing and all channels. Blocks until
// ctx is done.
func (a *App) Start(ctx context.Context) error {
	if a.index != nil {
		go func() {
			stats, err := a.index.Build(a.config.RepoRoot)
			if err != nil {
				log.Printf("Warning: indexing %s: %v", a.config.RepoRoot, err)
				return
			}
			log.Printf("Indexed %d files (%d chunks)", stats.TotalFiles, stats.TotalChunks)
		}()
	}
	go func() {
		if _, err := indexer.WriteContextFile(a.config.RepoRoot); err != nil {
			log.Printf("Warning: writing repo context: %v", err)
		}
	}()

	for _, ch := range a.channels {
		ch := ch
		go func() {
			if err := ch.Run(ctx); err != nil {
				log.Printf("%s channel error: %v", ch.Name(), err)
			}
		}()
	}

	srv := &http.Server{
		Addr:    a.config.ServerAddr,
		Handler: a.handler.Router(),
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		srv.Shutdown(shutdownCtx)
	}()

	log.Printf("CodeMender listening on %s (repo %s)", a.config.ServerAddr, a.config.RepoRoot)
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}

	if a.sweep != nil {
		a.sweep()
	}
	if a.index != nil {
		a.index.Close()
	}
	return a.engine.Store().Close()
}
