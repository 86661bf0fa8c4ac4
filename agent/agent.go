// Package agent implements the per-session conversation run loop. It drives
// multi-turn, tool-augmented exchanges with the model provider, injects live
// steering, gates tool execution through the permission policy, and emits a
// typed event stream ending in exactly one terminal event.
package agent

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/codemender/codemender/llm"
	"github.com/codemender/codemender/model"
	"github.com/codemender/codemender/permission"
	"github.com/codemender/codemender/tool"
)

// systemPrompt is the standing instruction for conversation runs.
const systemPrompt = `You are CodeMender, an AI coding agent working inside this repository.

This repository may include a machine-generated index stored as a file named
` + "`.context.json`" + ` at the repository root. The index, if present, describes the
structure of the codebase: files, symbols, and call relationships. It is a
regular file and must be discovered and read using tools. It may or may not
exist.

When working:
- Check for the presence of ` + "`.context.json`" + ` using tools when repository structure matters.
- If present, read it to understand the repository before acting.
- Use tools to inspect other files or make changes as needed.
- If the index is missing or insufficient, proceed normally and use tools freely.

Philosophy:
This repository will outlive any single contributor. Many people will read,
use, and maintain this code over time. Leave the codebase better than you
found it. Prefer clear structure, small deterministic functions, and reliable
behavior. Make changes that are easy to understand, review, and maintain.`

// cancelPollInterval paces the polled-cancellation race used while blocked
// on a permission reply.
const cancelPollInterval = 50 * time.Millisecond

// Engine spawns conversation runs.
type Engine struct {
	llm   *llm.Client
	tools *tool.Registry
}

// New creates an Engine over the given provider client and tool registry.
func New(client *llm.Client, tools *tool.Registry) *Engine {
	return &Engine{llm: client, tools: tools}
}

// Options configures one conversation run.
type Options struct {
	RepoRoot    string
	UserText    string
	Prior       []model.Message
	Steer       string
	Profile     model.PermissionProfile
	AutoApprove bool

	// Token, when set, is used instead of a freshly minted cancel token so
	// callers can share one token across collaborating components.
	Token *model.CancelToken
}

// Handle controls a running conversation.
type Handle struct {
	// Events delivers the run's AgentEvents; closed after the terminal event.
	Events <-chan model.AgentEvent

	token *model.CancelToken
	steer chan string
}

// Cancel requests cooperative cancellation.
func (h *Handle) Cancel() { h.token.Cancel() }

// Token exposes the run's cancel token for sharing with collaborators.
func (h *Handle) Token() *model.CancelToken { return h.token }

// Steer queues a mid-run user message, visible to the model on its next
// turn. Messages queued faster than turns complete collapse to the latest.
func (h *Handle) Steer(text string) {
	select {
	case h.steer <- text:
	default:
		// Drop the oldest pending steer in favor of the new one.
		select {
		case <-h.steer:
		default:
		}
		select {
		case h.steer <- text:
		default:
		}
	}
}

// Spawn starts a run asynchronously and returns its handle.
func (e *Engine) Spawn(opts Options) *Handle {
	tok := opts.Token
	if tok == nil {
		tok = model.NewCancelToken()
	}
	events := make(chan model.AgentEvent, 64)
	h := &Handle{
		Events: events,
		token:  tok,
		steer:  make(chan string, 4),
	}
	if opts.Steer != "" {
		h.steer <- opts.Steer
	}

	go func() {
		defer close(events)
		terminal := e.run(opts, h.token, events, h.steer)
		events <- terminal
	}()
	return h
}

// run executes the conversation loop and returns the single terminal event.
func (e *Engine) run(opts Options, tok *model.CancelToken, events chan<- model.AgentEvent, steer <-chan string) model.AgentEvent {
	ctx := context.Background()

	transcript := make([]model.Message, 0, len(opts.Prior)+4)
	input := make([]json.RawMessage, 0, len(opts.Prior)+4)

	appendMsg := func(role, content string) {
		transcript = append(transcript, model.Message{
			Role:      role,
			Content:   content,
			CreatedAt: time.Now().UTC(),
		})
	}

	if len(opts.Prior) == 0 {
		appendMsg("system", systemPrompt)
	} else {
		transcript = append(transcript, opts.Prior...)
	}
	input = append(input, llm.TextMessage("system", systemPrompt))
	for _, m := range opts.Prior {
		switch m.Role {
		case "system", "user", "assistant":
			input = append(input, llm.TextMessage(m.Role, m.Content))
		}
	}
	appendMsg("user", opts.UserText)
	input = append(input, llm.TextMessage("user", opts.UserText))

	for {
		// Steering is injected before the provider call so it is visible on
		// this upcoming turn.
		if text, ok := drainSteer(steer); ok {
			appendMsg("system", text)
			input = append(input, llm.TextMessage("system", text))
		}

		if tok.Cancelled() {
			return model.AgentEvent{Type: model.EventCancelled}
		}

		req := &llm.Request{
			Input:      input,
			Tools:      e.tools.Schemas(),
			ToolChoice: "auto",
			Reasoning:  &llm.Reasoning{Effort: "medium"},
			Store:      true,
		}
		resp, err := e.llm.Respond(ctx, tok, req, llm.StreamCallbacks{
			OnDelta: func(delta string) {
				events <- model.AgentEvent{Type: model.EventStreamDelta, Text: delta}
			},
			OnDone: func() {
				events <- model.AgentEvent{Type: model.EventStreamDone}
			},
		})
		if err != nil {
			if errors.Is(err, model.ErrCancelled) {
				return model.AgentEvent{Type: model.EventCancelled}
			}
			return model.AgentEvent{Type: model.EventError, Text: err.Error()}
		}

		next := make([]json.RawMessage, len(input), len(input)+2*len(resp.Output))
		copy(next, input)

		sawTool := false
		for i := range resp.Output {
			item := &resp.Output[i]
			switch item.Type {
			case "reasoning":
				// Opaque passthrough; never surfaced to the user.
				next = append(next, item.Raw())

			case "function_call":
				sawTool = true
				out, terminal := e.handleToolCall(opts, tok, events, item, appendMsg)
				if terminal != nil {
					return *terminal
				}
				next = append(next, item.Raw())
				next = append(next, out)

			case "output_text":
				if item.Text != "" {
					return e.finish(events, item.Text, appendMsg, &transcript)
				}

			case "message":
				for _, part := range item.Content {
					if part.Type == "output_text" && part.Text != "" {
						return e.finish(events, part.Text, appendMsg, &transcript)
					}
				}
			}
		}

		if !sawTool {
			return model.AgentEvent{Type: model.EventError, Text: "model returned no tool calls and no output text"}
		}
		input = next
	}
}

// finish appends the assistant text, emits OutputText and the transcript
// update, and produces the Done terminal.
func (e *Engine) finish(events chan<- model.AgentEvent, text string, appendMsg func(role, content string), transcript *[]model.Message) model.AgentEvent {
	appendMsg("assistant", text)
	events <- model.AgentEvent{Type: model.EventOutputText, Text: text}
	events <- model.AgentEvent{Type: model.EventConversationUpdate, Transcript: append([]model.Message(nil), *transcript...)}
	return model.AgentEvent{Type: model.EventDone}
}

// handleToolCall gates, optionally prompts for, executes and records one
// tool call. It returns the function_call_output input item, or a terminal
// event if the run must end (cancellation while awaiting a reply).
func (e *Engine) handleToolCall(opts Options, tok *model.CancelToken, events chan<- model.AgentEvent, item *llm.OutputItem, appendMsg func(role, content string)) (json.RawMessage, *model.AgentEvent) {
	args := map[string]any{}
	if item.Arguments != "" {
		// Malformed arguments degrade to an empty object; the tool reports
		// whatever it is missing.
		_ = json.Unmarshal([]byte(item.Arguments), &args)
	}

	events <- model.AgentEvent{Type: model.EventToolCall, Tool: item.Name, Args: item.Arguments}
	appendMsg("tool-call", fmt.Sprintf("%s %s", item.Name, model.Truncate(item.Arguments, 400)))

	var result tool.Result
	safety, known := e.tools.Safety(item.Name)
	switch {
	case !known:
		result = tool.Result{"error": fmt.Sprintf("unknown tool %q", item.Name)}

	default:
		switch permission.Decide(safety, opts.Profile, opts.AutoApprove) {
		case permission.DenyProfile:
			result = permission.DeniedResult("profile is read-only")
			events <- model.AgentEvent{Type: model.EventToolResult, Tool: item.Name, Summary: "denied (read-only profile)"}

		case permission.PromptThenDecide:
			if path, before, after, ok := permission.Preview(opts.RepoRoot, item.Name, args); ok {
				events <- model.AgentEvent{
					Type: model.EventPreviewDiff, Tool: item.Name,
					Path: path, Before: before, After: after,
					Text: permission.RenderDiff(before, after),
				}
			}
			reply := make(chan bool, 1)
			events <- model.AgentEvent{
				Type:    model.EventPermissionRequest,
				Tool:    item.Name,
				Summary: model.Truncate(item.Arguments, 200),
				Reply:   reply,
			}
			allowed, terminal := awaitReply(reply, tok)
			if terminal != nil {
				return nil, terminal
			}
			if !allowed {
				result = permission.DeniedResult("user denied permission")
				events <- model.AgentEvent{Type: model.EventToolResult, Tool: item.Name, Summary: "denied by user"}
			} else {
				result = e.execute(events, item.Name, args)
			}

		default:
			result = e.execute(events, item.Name, args)
		}
	}

	encoded, err := json.Marshal(result)
	if err != nil {
		encoded = []byte(`{"error":"tool result not serializable"}`)
	}
	appendMsg("tool-output", model.Truncate(string(encoded), 400))
	return llm.FunctionOutput(item.CallID, string(encoded)), nil
}

// execute runs the tool and emits ToolDiff/ToolResult events. Tool failures
// become structured error results so the conversation continues.
func (e *Engine) execute(events chan<- model.AgentEvent, name string, args map[string]any) tool.Result {
	result, err := e.tools.Call(name, args)
	if err != nil {
		events <- model.AgentEvent{Type: model.EventToolResult, Tool: name, Summary: "error: " + err.Error()}
		return tool.Result{"error": err.Error()}
	}

	before, okB := result["before"].(string)
	after, okA := result["after"].(string)
	path, okP := result["path"].(string)
	if okB && okA && okP {
		events <- model.AgentEvent{
			Type: model.EventToolDiff, Tool: name,
			Path: path, Before: before, After: after,
		}
	}

	summary := "ok"
	if mode, ok := result["mode"].(string); ok {
		summary = fmt.Sprintf("edit (%s)", mode)
	}
	events <- model.AgentEvent{Type: model.EventToolResult, Tool: name, Summary: summary}
	return result
}

// awaitReply blocks on the one-shot permission reply while polling the
// cancel token. A cancellation observed here terminates the run; a late
// reply into the buffered channel cannot block the sender.
func awaitReply(reply <-chan bool, tok *model.CancelToken) (bool, *model.AgentEvent) {
	for {
		select {
		case allowed := <-reply:
			return allowed, nil
		case <-time.After(cancelPollInterval):
			if tok.Cancelled() {
				return false, &model.AgentEvent{Type: model.EventCancelled}
			}
		}
	}
}

// drainSteer empties the steer channel and returns the latest message.
func drainSteer(steer <-chan string) (string, bool) {
	var latest string
	var ok bool
	for {
		select {
		case s := <-steer:
			latest, ok = s, true
		default:
			return latest, ok
		}
	}
}
