// Package tool defines the tool contract the conversation engine drives:
// a named capability with a JSON schema, a safety classification, and an
// Invoke function taking JSON arguments and returning a JSON-shaped result.
// A small reference set of file and shell tools is registered by default;
// richer tools plug in through Register.
package tool

import (
	"encoding/json"
	"fmt"
	"sort"

	"github.com/codemender/codemender/model"
)

// Result is the JSON-shaped output of one tool invocation. Mutating tools
// set "path", "before" and "after" so callers can render diffs.
type Result map[string]any

// Tool is one named capability invocable by the model.
type Tool interface {
	Name() string
	Schema() json.RawMessage
	Safety() model.ToolSafety
	Invoke(args map[string]any) (Result, error)
}

// Registry maps tool names to implementations.
type Registry struct {
	tools map[string]Tool
}

// NewRegistry returns a registry pre-populated with the reference tools,
// all rooted at root.
func NewRegistry(root string) *Registry {
	r := &Registry{tools: make(map[string]Tool)}
	for _, t := range []Tool{
		&readFile{root: root},
		&listDir{root: root},
		&search{root: root},
		&writeFile{root: root},
		&editFile{root: root},
		&shell{root: root},
	} {
		r.Register(t)
	}
	return r
}

// Register adds or replaces a tool by name.
func (r *Registry) Register(t Tool) {
	r.tools[t.Name()] = t
}

// Get returns the named tool.
func (r *Registry) Get(name string) (Tool, bool) {
	t, ok := r.tools[name]
	return t, ok
}

// Safety returns the safety class of the named tool.
func (r *Registry) Safety(name string) (model.ToolSafety, bool) {
	t, ok := r.tools[name]
	if !ok {
		return "", false
	}
	return t.Safety(), true
}

// Schemas returns every registered tool schema in name order, for the
// provider request's tools array.
func (r *Registry) Schemas() []json.RawMessage {
	names := make([]string, 0, len(r.tools))
	for name := range r.tools {
		names = append(names, name)
	}
	sort.Strings(names)

	schemas := make([]json.RawMessage, 0, len(names))
	for _, name := range names {
		schemas = append(schemas, r.tools[name].Schema())
	}
	return schemas
}

// Call invokes the named tool. Unknown tools and tool failures are reported
// as errors; the engine converts them into structured tool output so the
// conversation continues.
func (r *Registry) Call(name string, args map[string]any) (Result, error) {
	t, ok := r.tools[name]
	if !ok {
		return nil, fmt.Errorf("unknown tool %q", name)
	}
	return t.Invoke(args)
}

// functionSchema builds a responses-API function declaration.
func functionSchema(name, description string, properties map[string]any, required []string) json.RawMessage {
	b, _ := json.Marshal(map[string]any{
		"type":        "function",
		"name":        name,
		"description": description,
		"parameters": map[string]any{
			"type":       "object",
			"properties": properties,
			"required":   required,
		},
	})
	return b
}

func stringArg(args map[string]any, key string) (string, error) {
	v, ok := args[key]
	if !ok {
		return "", fmt.Errorf("missing argument %q", key)
	}
	s, ok := v.(string)
	if !ok {
		return "", fmt.Errorf("argument %q must be a string", key)
	}
	return s, nil
}
