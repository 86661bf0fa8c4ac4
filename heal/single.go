package heal

import (
	"context"
	"fmt"
	"log"

	"github.com/codemender/codemender/model"
)

// SingleReport is the outcome of a single-candidate healing run.
type SingleReport struct {
	CandidateID string `json:"candidate_id"`
	TestPath    string `json:"test_path"`
	FromCache   bool   `json:"from_cache"`
	Generated   bool   `json:"generated"`
}

// HealCandidate generates (or revalidates) one test for a candidate,
// executing directly against the working tree. forceReload skips the cache
// fast path without evicting anything.
func (o *Orchestrator) HealCandidate(ctx context.Context, tok *model.CancelToken, root string, c *model.TestCandidate, forceReload bool) (*SingleReport, error) {
	if c.Decision == model.DecisionNo {
		return nil, fmt.Errorf("candidate %s is not test-worthy", c.ID)
	}
	if tok.Cancelled() {
		return nil, model.ErrCancelled
	}

	key := KeyFromCandidate(c).CacheKey()
	if !forceReload {
		if cached, ok := o.semantic.Get(key); ok {
			res, err := o.runner.RunFile(ctx, root, cached)
			if err == nil && res.Passed {
				return &SingleReport{CandidateID: c.ID, TestPath: cached, FromCache: true}, nil
			}
			// Stale hit. Fall through to regeneration without evicting;
			// a later pass overwrites the entry with an equivalent key.
			log.Printf("heal %s: cached test %s no longer passes, regenerating", c.ID, cached)
		}
	}

	path, err := CandidatePath(root, c)
	if err != nil {
		return nil, err
	}
	complete := func(ctx context.Context, prompt string, bypass bool) (string, error) {
		return o.complete(ctx, tok, prompt, bypass)
	}
	write := func(code string) error { return WriteTest(path, code) }
	run := func(ctx context.Context) (*RunResult, error) { return o.runner.RunFile(ctx, root, path) }

	base := o.enrich(candidatePrompt(c, root), c.File+" "+c.Symbol)
	if _, err := o.healLoop(ctx, tok, c.ID, base, complete, write, run); err != nil {
		return nil, err
	}
	o.semantic.Insert(key, path)
	return &SingleReport{CandidateID: c.ID, TestPath: path, Generated: true}, nil
}
