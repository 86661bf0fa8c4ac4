// Package engine coordinates runs end to end: it owns persistence, the
// event bus, the conversation agent, the swarm and the healing pipelines.
// It depends only on interfaces (store, eventbus, gitprovider) plus the
// concrete agent and heal orchestrators.
package engine

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/codemender/codemender/agent"
	"github.com/codemender/codemender/eventbus"
	"github.com/codemender/codemender/gitprovider"
	"github.com/codemender/codemender/heal"
	"github.com/codemender/codemender/model"
	"github.com/codemender/codemender/notify/slack"
	"github.com/codemender/codemender/store"
	"github.com/codemender/codemender/swarm"
)

// Engine wires every subsystem together for the server and CLI.
type Engine struct {
	store    store.RunStore
	bus      eventbus.Bus
	agent    *agent.Engine
	swarm    *swarm.Coordinator
	healer   *heal.Orchestrator
	notifier *slack.Notifier   // optional
	git      gitprovider.Provider // optional

	repoRoot    string
	profile     model.PermissionProfile
	autoApprove bool

	mu     sync.Mutex
	active map[string]*activeRun
}

// activeRun tracks run-scoped control state: cancellation, the live
// conversation handle (nil for healing runs) and the pending permission
// reply channel, if a request is outstanding.
type activeRun struct {
	handle *agent.Handle
	cancel func()
	reply  chan bool
}

// Options configures a new Engine.
type Options struct {
	Store       store.RunStore
	Bus         eventbus.Bus
	Agent       *agent.Engine
	Swarm       *swarm.Coordinator
	Healer      *heal.Orchestrator
	Notifier    *slack.Notifier
	Git         gitprovider.Provider
	RepoRoot    string
	Profile     model.PermissionProfile
	AutoApprove bool
}

// New creates an engine.
func New(opts Options) *Engine {
	profile := opts.Profile
	if profile == "" {
		profile = model.ProfileAsk
	}
	return &Engine{
		store:       opts.Store,
		bus:         opts.Bus,
		agent:       opts.Agent,
		swarm:       opts.Swarm,
		healer:      opts.Healer,
		notifier:    opts.Notifier,
		git:         opts.Git,
		repoRoot:    opts.RepoRoot,
		profile:     profile,
		autoApprove: opts.AutoApprove,
		active:      make(map[string]*activeRun),
	}
}

// Store returns the run store.
func (e *Engine) Store() store.RunStore { return e.store }

// Bus returns the event bus.
func (e *Engine) Bus() eventbus.Bus { return e.bus }

// Healer returns the healing orchestrator.
func (e *Engine) Healer() *heal.Orchestrator { return e.healer }

// StartRun creates, persists and spawns a conversation run.
func (e *Engine) StartRun(prompt string, profile model.PermissionProfile) (*model.Run, error) {
	if profile == "" {
		profile = e.profile
	}
	now := time.Now().UTC()
	run := &model.Run{
		ID:        uuid.NewString(),
		Prompt:    prompt,
		Profile:   profile,
		Status:    model.StatusRunning,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := e.store.CreateRun(run); err != nil {
		return nil, fmt.Errorf("creating run: %w", err)
	}

	prior, err := e.store.GetMessages(run.ID)
	if err != nil {
		log.Printf("Error loading prior messages for %s: %v", run.ID, err)
	}
	msgs := make([]model.Message, 0, len(prior))
	for _, m := range prior {
		msgs = append(msgs, *m)
	}

	h := e.agent.Spawn(agent.Options{
		RepoRoot:    e.repoRoot,
		UserText:    prompt,
		Prior:       msgs,
		Profile:     profile,
		AutoApprove: e.autoApprove,
	})

	e.mu.Lock()
	e.active[run.ID] = &activeRun{handle: h, cancel: h.Cancel}
	e.mu.Unlock()

	go e.consume(run, h, len(msgs))
	return run, nil
}

// ResumeRun continues an existing run's conversation with a new user
// message, replaying the stored transcript.
func (e *Engine) ResumeRun(id, prompt string) (*model.Run, error) {
	run, err := e.store.GetRun(id)
	if err != nil {
		return nil, fmt.Errorf("run not found: %w", err)
	}
	e.mu.Lock()
	_, busy := e.active[id]
	e.mu.Unlock()
	if busy {
		return nil, fmt.Errorf("run %s is still active", id)
	}

	prior, err := e.store.GetMessages(id)
	if err != nil {
		return nil, fmt.Errorf("loading transcript: %w", err)
	}
	msgs := make([]model.Message, 0, len(prior))
	for _, m := range prior {
		msgs = append(msgs, *m)
	}

	run.Status = model.StatusRunning
	run.Error = ""
	if err := e.store.UpdateRun(run); err != nil {
		return nil, fmt.Errorf("updating run: %w", err)
	}

	h := e.agent.Spawn(agent.Options{
		RepoRoot:    e.repoRoot,
		UserText:    prompt,
		Prior:       msgs,
		Profile:     run.Profile,
		AutoApprove: e.autoApprove,
	})

	e.mu.Lock()
	e.active[id] = &activeRun{handle: h, cancel: h.Cancel}
	e.mu.Unlock()

	go e.consume(run, h, len(msgs))
	return run, nil
}

// Steer injects a mid-run user message into an active run.
func (e *Engine) Steer(id, text string) error {
	e.mu.Lock()
	ar, ok := e.active[id]
	e.mu.Unlock()
	if !ok {
		return fmt.Errorf("run %s is not active", id)
	}
	if ar.handle == nil {
		return fmt.Errorf("run %s does not accept steering", id)
	}
	ar.handle.Steer(text)
	return nil
}

// Cancel requests cooperative cancellation of an active run.
func (e *Engine) Cancel(id string) error {
	e.mu.Lock()
	ar, ok := e.active[id]
	e.mu.Unlock()
	if !ok {
		return fmt.Errorf("run %s is not active", id)
	}
	ar.cancel()
	return nil
}

// Reply resolves an outstanding permission request.
func (e *Engine) Reply(id string, approve bool) error {
	e.mu.Lock()
	ar, ok := e.active[id]
	var reply chan bool
	if ok {
		reply = ar.reply
		ar.reply = nil
	}
	e.mu.Unlock()
	if !ok {
		return fmt.Errorf("run %s is not active", id)
	}
	if reply == nil {
		return fmt.Errorf("run %s has no pending permission request", id)
	}
	reply <- approve
	return nil
}

// consume drains a run's event stream, persisting and publishing every
// event and resolving the run's final status. stored is the number of
// transcript messages already persisted; on resume the agent's transcript
// begins with the replayed history, which must not be written again.
func (e *Engine) consume(run *model.Run, h *agent.Handle, stored int) {
	for evt := range h.Events {
		switch evt.Type {
		case model.EventPermissionRequest:
			e.mu.Lock()
			if ar, ok := e.active[run.ID]; ok {
				ar.reply = evt.Reply
			}
			e.mu.Unlock()
		case model.EventConversationUpdate:
			// Persist only the transcript suffix we have not stored yet.
			for ; stored < len(evt.Transcript); stored++ {
				m := evt.Transcript[stored]
				m.RunID = run.ID
				if err := e.store.AddMessage(&m); err != nil {
					log.Printf("Error storing message: %v", err)
				}
			}
		}

		e.emitEvent(run.ID, string(evt.Type), eventData(evt))

		if evt.Terminal() {
			switch evt.Type {
			case model.EventDone:
				run.Status = model.StatusComplete
			case model.EventCancelled:
				run.Status = model.StatusCancelled
			case model.EventError:
				run.Status = model.StatusError
				run.Error = evt.Text
			}
		}
	}

	if err := e.store.UpdateRun(run); err != nil {
		log.Printf("Error updating run %s: %v", run.ID, err)
	}

	e.mu.Lock()
	delete(e.active, run.ID)
	e.mu.Unlock()

	e.bus.Close(run.ID)
	e.notifier.RunFinished(run)
}

// emitEvent persists an event and fans it out to subscribers.
func (e *Engine) emitEvent(runID, eventType, data string) {
	event := &model.Event{
		RunID:     runID,
		Type:      eventType,
		Data:      data,
		CreatedAt: time.Now().UTC(),
	}
	if err := e.store.AddEvent(event); err != nil {
		log.Printf("Error storing event: %v", err)
	}
	e.bus.Publish(runID, event)
}

// eventPayload is the JSON shape persisted for each AgentEvent. Channel
// and transcript fields never serialize.
type eventPayload struct {
	Tool    string `json:"tool,omitempty"`
	Args    string `json:"args,omitempty"`
	Summary string `json:"summary,omitempty"`
	Path    string `json:"path,omitempty"`
	Text    string `json:"text,omitempty"`
}

func eventData(evt model.AgentEvent) string {
	p := eventPayload{
		Tool:    evt.Tool,
		Args:    evt.Args,
		Summary: evt.Summary,
		Path:    evt.Path,
		Text:    evt.Text,
	}
	data, err := json.Marshal(p)
	if err != nil {
		log.Printf("Error marshaling event payload: %v", err)
		return "{}"
	}
	return string(data)
}

// RunSwarm fans one task out to the fixed role set and returns the
// labeled report.
func (e *Engine) RunSwarm(ctx context.Context, tok *model.CancelToken, task string) (string, error) {
	return e.swarm.RunReport(ctx, tok, task)
}

// PublishPR commits the working tree to branch and opens a pull request.
// Requires a configured git provider.
func (e *Engine) PublishPR(ctx context.Context, repo, branch, title, body string) (string, int, error) {
	if e.git == nil {
		return "", 0, fmt.Errorf("no git provider configured")
	}
	if err := gitprovider.CommitAndPush(ctx, e.repoRoot, branch, title); err != nil {
		return "", 0, err
	}
	url, number, err := e.git.CreatePR(ctx, gitprovider.PROptions{
		Repo:   repo,
		Branch: branch,
		Title:  title,
		Body:   body,
	})
	if err != nil {
		return "", 0, err
	}
	e.notifier.PRCreated(url, number, title)
	return url, number, nil
}
