package heal

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"

	"github.com/codemender/codemender/memory"
	"github.com/codemender/codemender/model"
)

const (
	maxLLMRetries = 3
	maxErrorChars = 4000
)

// Completer is the blocking single-call path into the model provider.
type Completer interface {
	Complete(ctx context.Context, tok *model.CancelToken, system, user string, bypassCache bool) (string, error)
}

// Sandbox is a disposable isolated working copy.
type Sandbox interface {
	Root() string
	Remove() error
}

// Provisioner hands out private sandboxes seeded from a source tree.
type Provisioner interface {
	Provision(src string) (Sandbox, error)
}

// FailureContext is what the suite pipeline knows about one failing test.
type FailureContext struct {
	TestName     string
	TestPath     string
	TestSource   string
	ImplPath     string
	ImplSource   string
	FunctionName string
	Traceback    string
}

// ContextResolver enriches a failing test with its source and the
// implementation it most plausibly exercises.
type ContextResolver interface {
	Resolve(root string, failure FailingTest) (*FailureContext, error)
}

// Searcher finds repository code relevant to a free-text query.
type Searcher interface {
	Search(query string, topK int) ([]memory.Chunk, error)
}

// Orchestrator drives the three healing pipelines over one shared retry
// discipline.
type Orchestrator struct {
	llm      Completer
	runner   TestRunner
	resolver ContextResolver
	prov     Provisioner
	search   Searcher

	semantic *SemanticCache
	suite    *SuiteCache

	maxAgents int
}

// New assembles an orchestrator. resolver and prov may be nil when the
// corresponding pipeline is unused.
func New(llm Completer, runner TestRunner, resolver ContextResolver, prov Provisioner, semantic *SemanticCache, suite *SuiteCache) *Orchestrator {
	if semantic == nil {
		semantic = NewSemanticCache()
	}
	if suite == nil {
		suite = NewSuiteCache()
	}
	return &Orchestrator{
		llm:      llm,
		runner:   runner,
		resolver: resolver,
		prov:     prov,
		semantic: semantic,
		suite:    suite,
	}
}

// WithSearch attaches a code index used to enrich generation prompts.
func (o *Orchestrator) WithSearch(s Searcher) *Orchestrator {
	o.search = s
	return o
}

// WithMaxAgents caps how many parallel-healing subagents run at once.
// n <= 0 means one per candidate.
func (o *Orchestrator) WithMaxAgents(n int) *Orchestrator {
	o.maxAgents = n
	return o
}

// enrich appends indexed code relevant to query onto a base prompt. A nil
// or failing searcher leaves the prompt untouched.
func (o *Orchestrator) enrich(base, query string) string {
	if o.search == nil {
		return base
	}
	chunks, err := o.search.Search(query, 3)
	if err != nil || len(chunks) == 0 {
		return base
	}
	var b strings.Builder
	b.WriteString(base)
	b.WriteString("\n\nRelated code in the repository:\n")
	for _, c := range chunks {
		fmt.Fprintf(&b, "\n%s (lines %d-%d):\n```\n%s\n```\n",
			c.FilePath, c.StartLine, c.EndLine, model.Truncate(c.Content, 2000))
	}
	return b.String()
}

// SemanticCache exposes the candidate cache, mainly for persistence.
func (o *Orchestrator) SemanticCache() *SemanticCache { return o.semantic }

// SuiteCache exposes the suite cache, mainly for persistence.
func (o *Orchestrator) SuiteCache() *SuiteCache { return o.suite }

// completeFunc asks the model for test code. bypass forces a
// prompt-cache-bypassing call on retries.
type completeFunc func(ctx context.Context, prompt string, bypass bool) (string, error)

// complete is the direct completion path used by the working-tree pipelines.
func (o *Orchestrator) complete(ctx context.Context, tok *model.CancelToken, prompt string, bypass bool) (string, error) {
	return o.llm.Complete(ctx, tok, generatorSystemPrompt, prompt, bypass)
}

// healLoop is the shared retry discipline. Each attempt asks the model for
// test code, writes it via write, and executes it via run; the first real
// pass wins. Retry prompts carry the previous code and trimmed failure
// output and bypass the provider prompt cache. Only an actual passing run
// is treated as success.
func (o *Orchestrator) healLoop(ctx context.Context, tok *model.CancelToken, label, basePrompt string, complete completeFunc, write func(code string) error, run func(context.Context) (*RunResult, error)) (string, error) {
	var prevCode, lastErr string
	for attempt := 1; attempt <= maxLLMRetries; attempt++ {
		if tok.Cancelled() {
			return "", model.ErrCancelled
		}
		prompt := basePrompt
		if attempt > 1 {
			prompt = feedbackPrompt(basePrompt, prevCode, lastErr)
		}
		raw, err := complete(ctx, prompt, attempt > 1)
		if err != nil {
			if errors.Is(err, model.ErrCancelled) {
				return "", err
			}
			lastErr = err.Error()
			log.Printf("heal %s: attempt %d/%d model call failed: %v", label, attempt, maxLLMRetries, err)
			continue
		}
		code := Sanitize(raw)
		if code == "" {
			lastErr = "model returned empty test code"
			log.Printf("heal %s: attempt %d/%d produced empty output", label, attempt, maxLLMRetries)
			continue
		}
		if err := write(code); err != nil {
			return "", err
		}
		if tok.Cancelled() {
			return "", model.ErrCancelled
		}
		res, err := run(ctx)
		if err != nil {
			if errors.Is(err, model.ErrCancelled) {
				return "", err
			}
			lastErr = err.Error()
			log.Printf("heal %s: attempt %d/%d run failed: %v", label, attempt, maxLLMRetries, err)
			prevCode = code
			continue
		}
		if res.Passed {
			return code, nil
		}
		lastErr = model.Truncate(res.Output, maxErrorChars)
		prevCode = code
		log.Printf("heal %s: attempt %d/%d test failed", label, attempt, maxLLMRetries)
	}
	return "", fmt.Errorf("exhausted %d attempts: %s", maxLLMRetries, lastErr)
}
