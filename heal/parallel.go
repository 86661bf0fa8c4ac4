package heal

import (
	"context"
	"fmt"
	"log"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/codemender/codemender/model"
)

// cancelPoll is how often a raced wait checks the shared token.
const cancelPoll = 50 * time.Millisecond

// ParallelReport summarizes a parallel healing run.
type ParallelReport struct {
	Candidates   int  `json:"candidates"`
	Validated    int  `json:"validated"`
	Materialized int  `json:"materialized"`
	SuitePassed  bool `json:"suite_passed"`
}

// subagentResult pairs a validated candidate with its passing test code.
// ok is false on any failure or cancellation.
type subagentResult struct {
	code string
	ok   bool
}

// HealParallel spawns one subagent per candidate, each in its own disposable
// sandbox. Validated (candidate, code) pairs are materialized into root in
// candidate-index order, then one final suite run decides the aggregate
// outcome. Cancelling tok stops new work at checkpoints; an in-flight model
// call or test run is left to finish in the background.
func (o *Orchestrator) HealParallel(ctx context.Context, tok *model.CancelToken, root string, candidates []*model.TestCandidate) (*ParallelReport, error) {
	if len(candidates) == 0 {
		return &ParallelReport{SuitePassed: true}, nil
	}
	if tok.Cancelled() {
		return nil, model.ErrCancelled
	}

	results := make([]subagentResult, len(candidates))
	var g errgroup.Group
	if o.maxAgents > 0 {
		g.SetLimit(o.maxAgents)
	}
	for i, c := range candidates {
		i, c := i, c
		g.Go(func() error {
			code, ok := o.runSubagent(ctx, tok, root, c)
			results[i] = subagentResult{code: code, ok: ok}
			return nil
		})
	}
	// Subagents never return errors; failures show up as ok=false.
	_ = g.Wait()

	if tok.Cancelled() {
		return nil, model.ErrCancelled
	}

	report := &ParallelReport{Candidates: len(candidates)}
	for i, c := range candidates {
		if !results[i].ok {
			continue
		}
		report.Validated++
		path, err := CandidatePath(root, c)
		if err != nil {
			return nil, err
		}
		if err := WriteTest(path, results[i].code); err != nil {
			return nil, fmt.Errorf("materialize %s: %w", c.ID, err)
		}
		o.semantic.Insert(KeyFromCandidate(c).CacheKey(), path)
		report.Materialized++
	}

	final, remaining, err := o.runner.RunSuite(ctx, root)
	if err != nil {
		return nil, fmt.Errorf("final suite run: %w", err)
	}
	report.SuitePassed = final.Passed && len(remaining) == 0
	return report, nil
}

// runSubagent heals one candidate inside a private sandbox. The sandbox is
// always removed before returning, whatever the outcome.
func (o *Orchestrator) runSubagent(ctx context.Context, tok *model.CancelToken, root string, c *model.TestCandidate) (code string, ok bool) {
	if c.Decision == model.DecisionNo || tok.Cancelled() {
		return "", false
	}
	box, err := o.prov.Provision(root)
	if err != nil {
		log.Printf("heal %s: provision sandbox: %v", c.ID, err)
		return "", false
	}
	defer func() {
		if err := box.Remove(); err != nil {
			log.Printf("heal %s: remove sandbox: %v", c.ID, err)
		}
	}()

	path, err := CandidatePath(box.Root(), c)
	if err != nil {
		return "", false
	}
	complete := func(ctx context.Context, prompt string, bypass bool) (string, error) {
		return race(tok, func() (string, error) {
			return o.complete(ctx, tok, prompt, bypass)
		})
	}
	write := func(code string) error { return WriteTest(path, code) }
	run := func(ctx context.Context) (*RunResult, error) {
		return race(tok, func() (*RunResult, error) {
			return o.runner.RunFile(ctx, box.Root(), path)
		})
	}

	base := o.enrich(candidatePrompt(c, box.Root()), c.File+" "+c.Symbol)
	code, err = o.healLoop(ctx, tok, c.ID, base, complete, write, run)
	if err != nil {
		if err != model.ErrCancelled {
			log.Printf("heal %s: subagent failed: %v", c.ID, err)
		}
		return "", false
	}
	return code, true
}

// race runs f in a background goroutine and waits for either its result or
// the token being cancelled, polling the flag at a short fixed interval.
// On cancellation the worker is abandoned, not interrupted; the buffered
// channel lets it finish and be collected.
func race[T any](tok *model.CancelToken, f func() (T, error)) (T, error) {
	type outcome struct {
		v   T
		err error
	}
	ch := make(chan outcome, 1)
	go func() {
		v, err := f()
		ch <- outcome{v, err}
	}()
	ticker := time.NewTicker(cancelPoll)
	defer ticker.Stop()
	for {
		select {
		case out := <-ch:
			return out.v, out.err
		case <-ticker.C:
			if tok.Cancelled() {
				var zero T
				return zero, model.ErrCancelled
			}
		}
	}
}
