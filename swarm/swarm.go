// Package swarm fans out fixed-role one-shot model calls in parallel and
// merges the results. Calls are non-streaming, tool-free and never persisted
// provider-side.
package swarm

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"golang.org/x/sync/errgroup"

	"github.com/codemender/codemender/model"
)

// Completer is the single-call path into the provider.
type Completer interface {
	Complete(ctx context.Context, tok *model.CancelToken, system, user string, bypassCache bool) (string, error)
}

// Roles, in spawn order. Reports sort by role name instead.
var roles = []string{"explore", "edit", "test", "review"}

var rolePrompts = map[string]string{
	"explore": `You are the exploration specialist of a coding swarm. Given a task,
describe where in a typical repository the relevant code would live, what to
read first, and what questions must be answered before editing. Do not write
code.`,
	"edit": `You are the editing specialist of a coding swarm. Given a task, sketch
the minimal concrete code change that accomplishes it: which files, which
functions, and the shape of the edit. Be specific and brief.`,
	"test": `You are the testing specialist of a coding swarm. Given a task, list
the behaviors that must be verified afterwards and outline the tests that
would catch a regression. Do not write production code.`,
	"review": `You are the review specialist of a coding swarm. Given a task,
enumerate the risks, edge cases and likely mistakes an implementer should
watch for. Be direct and concrete.`,
}

// Result is one role's contribution.
type Result struct {
	Role string
	Text string
}

// Coordinator runs swarms over a Completer.
type Coordinator struct {
	llm Completer
}

// New creates a Coordinator.
func New(llm Completer) *Coordinator {
	return &Coordinator{llm: llm}
}

// Run spawns exactly four parallel role calls and joins them. Any single
// failure fails the whole swarm call; no partial results are returned.
func (c *Coordinator) Run(ctx context.Context, tok *model.CancelToken, userText string) ([]Result, error) {
	results := make([]Result, len(roles))

	g, gctx := errgroup.WithContext(ctx)
	for i, role := range roles {
		i, role := i, role
		g.Go(func() error {
			text, err := c.llm.Complete(gctx, tok, rolePrompts[role], userText, false)
			if err != nil {
				return fmt.Errorf("%s: %w", role, err)
			}
			results[i] = Result{Role: role, Text: text}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return results, nil
}

// RunReport is the batch-oriented wrapper: it collects whichever role calls
// succeed, sorts them by role name, and concatenates one labeled report.
// Individual failures are tolerated; the report covers the survivors.
func (c *Coordinator) RunReport(ctx context.Context, tok *model.CancelToken, userText string) (string, error) {
	type outcome struct {
		res Result
		err error
	}
	outcomes := make([]outcome, len(roles))

	var g errgroup.Group
	for i, role := range roles {
		i, role := i, role
		g.Go(func() error {
			text, err := c.llm.Complete(ctx, tok, rolePrompts[role], userText, false)
			outcomes[i] = outcome{res: Result{Role: role, Text: text}, err: err}
			return nil
		})
	}
	_ = g.Wait()

	var ok []Result
	for _, o := range outcomes {
		if o.err == nil {
			ok = append(ok, o.res)
		}
	}
	if len(ok) == 0 {
		return "", fmt.Errorf("all %d swarm calls failed", len(roles))
	}
	sort.Slice(ok, func(i, j int) bool { return ok[i].Role < ok[j].Role })

	var b strings.Builder
	for _, r := range ok {
		fmt.Fprintf(&b, "## %s\n\n%s\n\n", r.Role, strings.TrimSpace(r.Text))
	}
	return strings.TrimSpace(b.String()) + "\n", nil
}
