package httpapi

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/codemender/codemender/agent"
	"github.com/codemender/codemender/engine"
	"github.com/codemender/codemender/eventbus"
	"github.com/codemender/codemender/heal"
	"github.com/codemender/codemender/llm"
	"github.com/codemender/codemender/model"
	sqliteStore "github.com/codemender/codemender/store/sqlite"
	"github.com/codemender/codemender/swarm"
	"github.com/codemender/codemender/tool"
)

// stubCompleter answers every one-shot completion with a fixed string.
type stubCompleter struct{}

func (stubCompleter) Complete(_ context.Context, _ *model.CancelToken, _, _ string, _ bool) (string, error) {
	return "ok", nil
}

// stubRunner reports a clean suite and passing files.
type stubRunner struct{}

func (stubRunner) RunFile(_ context.Context, _, _ string) (*heal.RunResult, error) {
	return &heal.RunResult{Passed: true}, nil
}

func (stubRunner) RunSuite(_ context.Context, _ string) (*heal.RunResult, []heal.FailingTest, error) {
	return &heal.RunResult{Passed: true}, nil, nil
}

// testEngine builds an Engine wired to a real SQLite store, in-memory bus
// and a stub provider server. Good enough for HTTP handler tests.
func testEngine(t *testing.T) *engine.Engine {
	t.Helper()
	dbPath := filepath.Join(t.TempDir(), "test.db")
	st, err := sqliteStore.New(dbPath)
	if err != nil {
		t.Fatalf("new store: %v", err)
	}
	t.Cleanup(func() { _ = st.Close() })

	// The provider stub always finishes the conversation in one turn.
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{"output":[{"type":"output_text","text":"done"}]}`)
	}))
	t.Cleanup(srv.Close)

	client := llm.New(llm.Config{BaseURL: srv.URL, APIKey: "test", Model: "test-model"})
	repoRoot := t.TempDir()

	return engine.New(engine.Options{
		Store:    st,
		Bus:      eventbus.NewInMemoryBus(),
		Agent:    agent.New(client, tool.NewRegistry(repoRoot)),
		Swarm:    swarm.New(stubCompleter{}),
		Healer:   heal.New(stubCompleter{}, stubRunner{}, heal.FileResolver{}, nil, nil, nil),
		RepoRoot: repoRoot,
		Profile:  model.ProfileAsk,
	})
}

func doRequest(t *testing.T, h *Handler, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body != "" {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	} else {
		req = httptest.NewRequest(method, path, nil)
	}
	w := httptest.NewRecorder()
	h.Router().ServeHTTP(w, req)
	return w
}

func TestHealthEndpoint(t *testing.T) {
	h := New(testEngine(t))

	w := doRequest(t, h, http.MethodGet, "/health", "")
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	if w.Body.String() != "ok" {
		t.Fatalf("expected 'ok', got %q", w.Body.String())
	}
}

func TestCreateRunMissingPrompt(t *testing.T) {
	h := New(testEngine(t))

	w := doRequest(t, h, http.MethodPost, "/api/runs", `{}`)
	if w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", w.Code)
	}
}

func TestCreateRunInvalidProfile(t *testing.T) {
	h := New(testEngine(t))

	w := doRequest(t, h, http.MethodPost, "/api/runs", `{"prompt":"p","profile":"yolo"}`)
	if w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", w.Code)
	}
	var resp errorResponse
	json.NewDecoder(w.Body).Decode(&resp)
	if !strings.Contains(resp.Error, "profile") {
		t.Fatalf("expected profile error, got %q", resp.Error)
	}
}

func TestCreateRunOversizedPrompt(t *testing.T) {
	h := New(testEngine(t))

	body := fmt.Sprintf(`{"prompt":%q}`, strings.Repeat("x", 10001))
	w := doRequest(t, h, http.MethodPost, "/api/runs", body)
	if w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", w.Code)
	}
}

func TestCreateAndGetRun(t *testing.T) {
	h := New(testEngine(t))

	w := doRequest(t, h, http.MethodPost, "/api/runs", `{"prompt":"say hi"}`)
	if w.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", w.Code, w.Body.String())
	}
	var run model.Run
	json.NewDecoder(w.Body).Decode(&run)
	if run.ID == "" {
		t.Fatal("expected run ID")
	}
	if run.Profile != model.ProfileAsk {
		t.Fatalf("expected default ask profile, got %q", run.Profile)
	}

	w = doRequest(t, h, http.MethodGet, "/api/runs/"+run.ID, "")
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	var got model.Run
	json.NewDecoder(w.Body).Decode(&got)
	if got.ID != run.ID {
		t.Fatalf("expected run %s, got %s", run.ID, got.ID)
	}
}

func TestGetRunNotFound(t *testing.T) {
	h := New(testEngine(t))

	w := doRequest(t, h, http.MethodGet, "/api/runs/nope", "")
	if w.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", w.Code)
	}
}

func TestListRunsEmpty(t *testing.T) {
	h := New(testEngine(t))

	w := doRequest(t, h, http.MethodGet, "/api/runs", "")
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	if strings.TrimSpace(w.Body.String()) != "[]" {
		t.Fatalf("expected empty array, got %q", w.Body.String())
	}
}

func TestSteerUnknownRun(t *testing.T) {
	h := New(testEngine(t))

	w := doRequest(t, h, http.MethodPost, "/api/runs/nope/steer", `{"text":"go left"}`)
	if w.Code != http.StatusConflict {
		t.Fatalf("expected 409, got %d", w.Code)
	}
}

func TestSteerMissingText(t *testing.T) {
	h := New(testEngine(t))

	w := doRequest(t, h, http.MethodPost, "/api/runs/nope/steer", `{}`)
	if w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", w.Code)
	}
}

func TestCancelUnknownRun(t *testing.T) {
	h := New(testEngine(t))

	w := doRequest(t, h, http.MethodPost, "/api/runs/nope/cancel", "")
	if w.Code != http.StatusConflict {
		t.Fatalf("expected 409, got %d", w.Code)
	}
}

func TestReplyWithoutPendingRequest(t *testing.T) {
	h := New(testEngine(t))

	w := doRequest(t, h, http.MethodPost, "/api/runs/nope/reply", `{"approve":true}`)
	if w.Code != http.StatusConflict {
		t.Fatalf("expected 409, got %d", w.Code)
	}
}

func TestSendMessageValidation(t *testing.T) {
	h := New(testEngine(t))

	w := doRequest(t, h, http.MethodPost, "/api/runs/nope/messages", `{}`)
	if w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for empty content, got %d", w.Code)
	}

	w = doRequest(t, h, http.MethodPost, "/api/runs/nope/messages", `{"content":"hi"}`)
	if w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for unknown run, got %d", w.Code)
	}
}

func TestHealCandidateMissingBody(t *testing.T) {
	h := New(testEngine(t))

	w := doRequest(t, h, http.MethodPost, "/api/heal/candidate", `{}`)
	if w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", w.Code)
	}
}

func TestHealParallelMissingCandidates(t *testing.T) {
	h := New(testEngine(t))

	w := doRequest(t, h, http.MethodPost, "/api/heal/parallel", `{"candidates":[]}`)
	if w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", w.Code)
	}
}

func TestHealSuiteAccepted(t *testing.T) {
	h := New(testEngine(t))

	w := doRequest(t, h, http.MethodPost, "/api/heal/suite", "")
	if w.Code != http.StatusAccepted {
		t.Fatalf("expected 202, got %d: %s", w.Code, w.Body.String())
	}
	var run model.Run
	json.NewDecoder(w.Body).Decode(&run)
	if run.ID == "" {
		t.Fatal("expected heal run ID")
	}

	// The stub runner reports a clean suite, so the run completes.
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		w = doRequest(t, h, http.MethodGet, "/api/runs/"+run.ID, "")
		var got model.Run
		json.NewDecoder(w.Body).Decode(&got)
		if got.Status == model.StatusComplete {
			return
		}
		if got.Status == model.StatusError {
			t.Fatalf("heal run failed: %s", got.Error)
		}
		time.Sleep(25 * time.Millisecond)
	}
	t.Fatal("heal run did not complete")
}

func TestSuiteCacheEndpoint(t *testing.T) {
	h := New(testEngine(t))

	w := doRequest(t, h, http.MethodGet, "/api/heal/cache", "")
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
}

func TestSwarmMissingTask(t *testing.T) {
	h := New(testEngine(t))

	w := doRequest(t, h, http.MethodPost, "/api/swarm", `{}`)
	if w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", w.Code)
	}
}

func TestCreatePRValidation(t *testing.T) {
	h := New(testEngine(t))

	w := doRequest(t, h, http.MethodPost, "/api/runs/x/pr", `{"repo":"noslash","branch":"b","title":"t"}`)
	if w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", w.Code)
	}
	var resp errorResponse
	json.NewDecoder(w.Body).Decode(&resp)
	if !strings.Contains(resp.Error, "owner/repo") {
		t.Fatalf("expected owner/repo format error, got %q", resp.Error)
	}

	w = doRequest(t, h, http.MethodPost, "/api/runs/x/pr", `{"repo":"owner/repo","title":"t"}`)
	if w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for missing branch, got %d", w.Code)
	}
}

func TestEventsUnknownRun(t *testing.T) {
	h := New(testEngine(t))

	w := doRequest(t, h, http.MethodGet, "/api/runs/nope/events", "")
	if w.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", w.Code)
	}
}
