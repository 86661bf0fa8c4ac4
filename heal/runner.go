package heal

import (
	"context"
	"fmt"
	"os/exec"
	"path/filepath"
	"regexp"
	"strings"
)

// RunResult is the outcome of one test execution.
type RunResult struct {
	Passed bool
	Output string
}

// FailingTest is one failure discovered by a full-suite run.
type FailingTest struct {
	Name   string
	Path   string
	Output string
}

// TestRunner executes tests for real. Passing is decided by exit status,
// never by inspecting model output.
type TestRunner interface {
	// RunFile runs a single test file inside dir.
	RunFile(ctx context.Context, dir, path string) (*RunResult, error)
	// RunSuite runs the whole suite inside dir and parses out failures.
	RunSuite(ctx context.Context, dir string) (*RunResult, []FailingTest, error)
}

// PytestRunner runs tests with pytest. It satisfies TestRunner for Python
// repositories, which is what the reference tooling targets.
type PytestRunner struct {
	// Binary overrides the pytest executable, defaulting to "pytest".
	Binary string
}

func (r *PytestRunner) binary() string {
	if r.Binary != "" {
		return r.Binary
	}
	return "pytest"
}

// RunFile executes one test file and captures merged output.
func (r *PytestRunner) RunFile(ctx context.Context, dir, path string) (*RunResult, error) {
	cmd := exec.CommandContext(ctx, r.binary(), path, "-x", "-q")
	cmd.Dir = dir
	out, err := cmd.CombinedOutput()
	if err != nil {
		if _, ok := err.(*exec.ExitError); !ok {
			return nil, fmt.Errorf("run test %s: %w", path, err)
		}
		return &RunResult{Passed: false, Output: string(out)}, nil
	}
	return &RunResult{Passed: true, Output: string(out)}, nil
}

// failedLineRe matches pytest short-summary failure lines, e.g.
// "FAILED tests/test_auth.py::test_login - AssertionError: ...".
var failedLineRe = regexp.MustCompile(`(?m)^FAILED\s+(\S+?)::(\S+)`)

// RunSuite executes the whole suite and parses failing tests from the
// short summary.
func (r *PytestRunner) RunSuite(ctx context.Context, dir string) (*RunResult, []FailingTest, error) {
	cmd := exec.CommandContext(ctx, r.binary(), "-q", "--tb=short")
	cmd.Dir = dir
	out, err := cmd.CombinedOutput()
	output := string(out)
	if err != nil {
		if _, ok := err.(*exec.ExitError); !ok {
			return nil, nil, fmt.Errorf("run suite: %w", err)
		}
		return &RunResult{Passed: false, Output: output}, parseFailures(output), nil
	}
	return &RunResult{Passed: true, Output: output}, nil, nil
}

// parseFailures extracts (name, path, traceback) triples from pytest output.
func parseFailures(output string) []FailingTest {
	var failures []FailingTest
	seen := make(map[string]bool)
	for _, m := range failedLineRe.FindAllStringSubmatch(output, -1) {
		path, name := m[1], m[2]
		// Strip parametrize suffixes so one flaky grid counts once.
		if i := strings.Index(name, "["); i > 0 {
			name = name[:i]
		}
		qualified := path + "::" + name
		if seen[qualified] {
			continue
		}
		seen[qualified] = true
		failures = append(failures, FailingTest{
			Name:   qualified,
			Path:   filepath.FromSlash(path),
			Output: extractTraceback(output, name),
		})
	}
	return failures
}

// extractTraceback pulls the per-test failure block out of pytest's
// long-form report, falling back to empty when the block is absent.
func extractTraceback(output, testName string) string {
	marker := " " + testName + " "
	idx := strings.Index(output, marker)
	if idx < 0 {
		return ""
	}
	rest := output[idx:]
	if end := strings.Index(rest, "\n_____"); end > 0 {
		rest = rest[:end]
	}
	if end := strings.Index(rest, "\n====="); end > 0 {
		rest = rest[:end]
	}
	return strings.TrimSpace(rest)
}
