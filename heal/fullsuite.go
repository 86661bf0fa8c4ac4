package heal

import (
	"context"
	"fmt"
	"log"
	"path/filepath"

	"github.com/codemender/codemender/model"
)

// SuiteReport summarizes a full-suite healing run.
type SuiteReport struct {
	InitialFailures   int  `json:"initial_failures"`
	Healed            int  `json:"healed"`
	SkippedCached     int  `json:"skipped_cached"`
	RemainingFailures int  `json:"remaining_failures"`
	Clean             bool `json:"clean"`
}

// HealSuite runs the whole suite, repairs each failing test sequentially,
// then re-validates with one final suite run. It reports clean only when
// that final run has zero failures.
func (o *Orchestrator) HealSuite(ctx context.Context, tok *model.CancelToken, root string) (*SuiteReport, error) {
	if tok.Cancelled() {
		return nil, model.ErrCancelled
	}
	initial, failures, err := o.runner.RunSuite(ctx, root)
	if err != nil {
		return nil, fmt.Errorf("initial suite run: %w", err)
	}
	if initial.Passed || len(failures) == 0 {
		return &SuiteReport{Clean: true}, nil
	}
	log.Printf("heal suite: %d failing tests", len(failures))

	report := &SuiteReport{InitialFailures: len(failures)}
	for _, failure := range failures {
		if tok.Cancelled() {
			return nil, model.ErrCancelled
		}
		if entry, ok := o.suite.Get(failure.Name); ok && entry.Passed {
			report.SkippedCached++
			continue
		}
		if err := o.healFailure(ctx, tok, root, failure); err != nil {
			if err == model.ErrCancelled {
				return nil, err
			}
			log.Printf("heal suite: %s not healed: %v", failure.Name, err)
			continue
		}
		report.Healed++
	}

	if tok.Cancelled() {
		return nil, model.ErrCancelled
	}
	final, remaining, err := o.runner.RunSuite(ctx, root)
	if err != nil {
		return nil, fmt.Errorf("final suite run: %w", err)
	}
	report.RemainingFailures = len(remaining)
	report.Clean = final.Passed && len(remaining) == 0
	if !report.Clean {
		return report, fmt.Errorf("suite still failing: %d tests", len(remaining))
	}
	return report, nil
}

// healFailure repairs one failing test via the shared retry loop, overwriting
// the failing file (or creating one under the tests root when the failure has
// no source file on disk) and persisting a cache entry only on a real pass.
func (o *Orchestrator) healFailure(ctx context.Context, tok *model.CancelToken, root string, failure FailingTest) error {
	fc, err := o.resolver.Resolve(root, failure)
	if err != nil {
		return fmt.Errorf("resolve context: %w", err)
	}

	path := filepath.Join(root, failure.Path)
	if fc.TestSource == "" {
		dir, err := TestsRoot(root)
		if err != nil {
			return err
		}
		path = filepath.Join(dir, "test_"+sanitizeName(failure.Name)+".py")
	}

	complete := func(ctx context.Context, prompt string, bypass bool) (string, error) {
		return o.complete(ctx, tok, prompt, bypass)
	}
	write := func(code string) error { return OverwriteTest(path, code) }
	run := func(ctx context.Context) (*RunResult, error) { return o.runner.RunFile(ctx, root, path) }

	base := o.enrich(failurePrompt(fc), failure.Name+" "+fc.FunctionName)
	code, err := o.healLoop(ctx, tok, failure.Name, base, complete, write, run)
	if err != nil {
		return err
	}
	o.suite.Insert(SuiteEntry{
		TestName:          failure.Name,
		TestPath:          path,
		LastGeneratedTest: code,
		Passed:            true,
	})
	return nil
}
