package engine

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"

	"github.com/codemender/codemender/heal"
	"github.com/codemender/codemender/model"
)

// HealSingle runs the single-candidate pipeline as a tracked run.
func (e *Engine) HealSingle(c *model.TestCandidate, forceReload bool) (*model.Run, error) {
	return e.startHealRun(fmt.Sprintf("heal candidate %s (%s)", c.ID, c.Target),
		func(ctx context.Context, tok *model.CancelToken, emit func(string, any)) error {
			report, err := e.healer.HealCandidate(ctx, tok, e.repoRoot, c, forceReload)
			if err != nil {
				return err
			}
			emit("heal_report", report)
			return nil
		})
}

// HealSuite runs the full-suite pipeline as a tracked run.
func (e *Engine) HealSuite() (*model.Run, error) {
	return e.startHealRun("heal full suite",
		func(ctx context.Context, tok *model.CancelToken, emit func(string, any)) error {
			report, err := e.healer.HealSuite(ctx, tok, e.repoRoot)
			if report != nil {
				emit("heal_report", report)
				e.notifier.SuiteHealed(report.Healed, report.RemainingFailures)
			}
			return err
		})
}

// HealParallel runs the parallel-agents pipeline as a tracked run.
func (e *Engine) HealParallel(candidates []*model.TestCandidate) (*model.Run, error) {
	return e.startHealRun(fmt.Sprintf("heal %d candidates in parallel", len(candidates)),
		func(ctx context.Context, tok *model.CancelToken, emit func(string, any)) error {
			report, err := e.healer.HealParallel(ctx, tok, e.repoRoot, candidates)
			if err != nil {
				return err
			}
			emit("heal_report", report)
			return nil
		})
}

// startHealRun persists a run record and executes a healing pipeline in the
// background, emitting its terminal event through the normal event path.
func (e *Engine) startHealRun(prompt string, pipeline func(context.Context, *model.CancelToken, func(string, any)) error) (*model.Run, error) {
	now := time.Now().UTC()
	run := &model.Run{
		ID:        uuid.NewString(),
		Prompt:    prompt,
		Profile:   model.ProfileFullAccess,
		Status:    model.StatusRunning,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := e.store.CreateRun(run); err != nil {
		return nil, fmt.Errorf("creating run: %w", err)
	}

	tok := model.NewCancelToken()
	e.mu.Lock()
	e.active[run.ID] = &activeRun{cancel: tok.Cancel}
	e.mu.Unlock()

	emit := func(eventType string, v any) {
		data, err := json.Marshal(v)
		if err != nil {
			log.Printf("Error marshaling %s payload: %v", eventType, err)
			return
		}
		e.emitEvent(run.ID, eventType, string(data))
	}

	go func() {
		err := pipeline(context.Background(), tok, emit)

		switch {
		case errors.Is(err, model.ErrCancelled):
			run.Status = model.StatusCancelled
			e.emitEvent(run.ID, string(model.EventCancelled), "{}")
		case err != nil:
			run.Status = model.StatusError
			run.Error = err.Error()
			e.emitEvent(run.ID, string(model.EventError), errorData(err))
		default:
			run.Status = model.StatusComplete
			e.emitEvent(run.ID, string(model.EventDone), "{}")
		}

		if err := e.store.UpdateRun(run); err != nil {
			log.Printf("Error updating run %s: %v", run.ID, err)
		}

		e.persistSuiteCache()

		e.mu.Lock()
		delete(e.active, run.ID)
		e.mu.Unlock()
		e.bus.Close(run.ID)
	}()

	return run, nil
}

// persistSuiteCache mirrors the in-memory suite cache into the store so
// healed tests survive restarts.
func (e *Engine) persistSuiteCache() {
	for _, entry := range e.healer.SuiteCache().Entries() {
		if err := e.store.PutSuiteEntry(entry); err != nil {
			log.Printf("Error persisting suite cache entry %s: %v", entry.TestName, err)
		}
	}
}

// LoadSuiteCache seeds the in-memory suite cache from the store at startup.
func (e *Engine) LoadSuiteCache() error {
	entries, err := e.store.GetSuiteEntries()
	if err != nil {
		return fmt.Errorf("loading suite cache: %w", err)
	}
	for _, entry := range entries {
		e.healer.SuiteCache().Insert(entry)
	}
	return nil
}

// SuiteEntries exposes the persisted healed-test records.
func (e *Engine) SuiteEntries() ([]heal.SuiteEntry, error) {
	return e.store.GetSuiteEntries()
}

func errorData(err error) string {
	data, merr := json.Marshal(map[string]string{"error": err.Error()})
	if merr != nil {
		return "{}"
	}
	return string(data)
}
