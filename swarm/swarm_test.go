package swarm

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"

	"github.com/codemender/codemender/model"
)

// roleEcho answers each role call with a recognizable text, optionally
// failing selected roles.
type roleEcho struct {
	mu      sync.Mutex
	calls   []string
	failing map[string]bool
}

func (r *roleEcho) Complete(_ context.Context, _ *model.CancelToken, system, user string, _ bool) (string, error) {
	role := roleOf(system)
	r.mu.Lock()
	r.calls = append(r.calls, role)
	r.mu.Unlock()
	if r.failing[role] {
		return "", errors.New("provider unavailable")
	}
	return role + " says: " + user, nil
}

func roleOf(system string) string {
	for role, prompt := range rolePrompts {
		if system == prompt {
			return role
		}
	}
	return "unknown"
}

func (r *roleEcho) callCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.calls)
}

func TestRunSpawnsEveryRole(t *testing.T) {
	echo := &roleEcho{}
	c := New(echo)

	results, err := c.Run(context.Background(), model.NewCancelToken(), "fix the bug")
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(results) != len(roles) {
		t.Fatalf("expected %d results, got %d", len(roles), len(results))
	}
	// Results hold spawn order and carry the role's own prompt.
	for i, role := range roles {
		if results[i].Role != role {
			t.Fatalf("result %d: expected role %s, got %s", i, role, results[i].Role)
		}
		if !strings.Contains(results[i].Text, "fix the bug") {
			t.Fatalf("role %s did not see the task: %q", role, results[i].Text)
		}
	}
}

func TestRunFailsWhole(t *testing.T) {
	echo := &roleEcho{failing: map[string]bool{"edit": true}}
	c := New(echo)

	_, err := c.Run(context.Background(), model.NewCancelToken(), "task")
	if err == nil {
		t.Fatal("one failing role must fail the whole swarm")
	}
	if !strings.Contains(err.Error(), "edit") {
		t.Fatalf("error should name the failing role: %v", err)
	}
}

func TestRunReportSortsByRole(t *testing.T) {
	echo := &roleEcho{}
	c := New(echo)

	report, err := c.RunReport(context.Background(), model.NewCancelToken(), "task")
	if err != nil {
		t.Fatalf("RunReport: %v", err)
	}
	// Alphabetical role order, regardless of spawn order.
	last := -1
	for _, role := range []string{"edit", "explore", "review", "test"} {
		idx := strings.Index(report, "## "+role)
		if idx < 0 {
			t.Fatalf("report missing section for %s:\n%s", role, report)
		}
		if idx < last {
			t.Fatalf("sections out of order:\n%s", report)
		}
		last = idx
	}
	if echo.callCount() != len(roles) {
		t.Fatalf("expected %d calls, got %d", len(roles), echo.callCount())
	}
}

func TestRunReportToleratesPartialFailure(t *testing.T) {
	echo := &roleEcho{failing: map[string]bool{"review": true, "test": true}}
	c := New(echo)

	report, err := c.RunReport(context.Background(), model.NewCancelToken(), "task")
	if err != nil {
		t.Fatalf("RunReport: %v", err)
	}
	for _, want := range []string{"## edit", "## explore"} {
		if !strings.Contains(report, want) {
			t.Fatalf("report missing surviving section %s:\n%s", want, report)
		}
	}
	for _, absent := range []string{"## review", "## test"} {
		if strings.Contains(report, absent) {
			t.Fatalf("report contains failed section %s:\n%s", absent, report)
		}
	}
}

func TestRunReportAllFailed(t *testing.T) {
	echo := &roleEcho{failing: map[string]bool{"explore": true, "edit": true, "test": true, "review": true}}
	c := New(echo)

	if _, err := c.RunReport(context.Background(), model.NewCancelToken(), "task"); err == nil {
		t.Fatal("expected error when every role fails")
	}
}
