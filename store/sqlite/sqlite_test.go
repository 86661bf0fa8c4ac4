package sqlite

import (
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"github.com/codemender/codemender/heal"
	"github.com/codemender/codemender/model"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	dbPath := filepath.Join(t.TempDir(), "test.db")
	store, err := New(dbPath)
	if err != nil {
		t.Fatalf("new store: %v", err)
	}
	t.Cleanup(func() {
		_ = store.Close()
	})
	return store
}

func TestRunCRUD(t *testing.T) {
	store := newTestStore(t)

	now := time.Now().UTC()
	run := &model.Run{
		ID:        "abc12345",
		Prompt:    "add tests",
		Profile:   model.ProfileAsk,
		Status:    model.StatusPending,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := store.CreateRun(run); err != nil {
		t.Fatalf("create run: %v", err)
	}

	got, err := store.GetRun(run.ID)
	if err != nil {
		t.Fatalf("get run: %v", err)
	}
	if got.ID != run.ID || got.Prompt != run.Prompt || got.Status != model.StatusPending {
		t.Fatalf("unexpected run: %+v", got)
	}
	if got.Profile != model.ProfileAsk {
		t.Fatalf("expected ask profile, got %q", got.Profile)
	}

	got.Status = model.StatusRunning
	if err := store.UpdateRun(got); err != nil {
		t.Fatalf("update run: %v", err)
	}

	got2, err := store.GetRun(run.ID)
	if err != nil {
		t.Fatalf("get updated run: %v", err)
	}
	if got2.Status != model.StatusRunning {
		t.Fatalf("status not updated: %s", got2.Status)
	}
}

func TestGetRunNotFound(t *testing.T) {
	store := newTestStore(t)

	if _, err := store.GetRun("missing"); err == nil {
		t.Fatal("expected error for non-existent run")
	}
}

func TestMessagesAndEvents(t *testing.T) {
	store := newTestStore(t)
	now := time.Now().UTC()
	run := &model.Run{
		ID: "evt12345", Prompt: "prompt", Profile: model.ProfileFullAccess,
		Status: model.StatusRunning, CreatedAt: now, UpdatedAt: now,
	}
	if err := store.CreateRun(run); err != nil {
		t.Fatalf("create run: %v", err)
	}

	msg := &model.Message{
		RunID:     run.ID,
		Role:      "user",
		Content:   "hello",
		CreatedAt: now,
	}
	if err := store.AddMessage(msg); err != nil {
		t.Fatalf("add message: %v", err)
	}
	msgs, err := store.GetMessages(run.ID)
	if err != nil {
		t.Fatalf("get messages: %v", err)
	}
	if len(msgs) != 1 || msgs[0].Content != "hello" {
		t.Fatalf("unexpected messages: %+v", msgs)
	}

	ev := &model.Event{
		RunID:     run.ID,
		Type:      string(model.EventStreamDelta),
		Data:      "Running",
		CreatedAt: now,
	}
	if err := store.AddEvent(ev); err != nil {
		t.Fatalf("add event: %v", err)
	}
	events, err := store.GetEvents(run.ID, 0)
	if err != nil {
		t.Fatalf("get events: %v", err)
	}
	if len(events) != 1 || events[0].Data != "Running" {
		t.Fatalf("unexpected events: %+v", events)
	}
}

func TestListRuns(t *testing.T) {
	store := newTestStore(t)
	now := time.Now().UTC()

	for _, id := range []string{"r1", "r2", "r3"} {
		run := &model.Run{
			ID: id, Prompt: "p", Profile: model.ProfileAsk,
			Status: model.StatusPending, CreatedAt: now, UpdatedAt: now,
		}
		if err := store.CreateRun(run); err != nil {
			t.Fatalf("create run %s: %v", id, err)
		}
		now = now.Add(time.Second)
	}

	runs, err := store.ListRuns()
	if err != nil {
		t.Fatalf("list runs: %v", err)
	}
	if len(runs) != 3 {
		t.Fatalf("expected 3 runs, got %d", len(runs))
	}
	// Newest first.
	if runs[0].ID != "r3" {
		t.Fatalf("expected r3 first (newest), got %s", runs[0].ID)
	}
	if runs[2].ID != "r1" {
		t.Fatalf("expected r1 last (oldest), got %s", runs[2].ID)
	}
}

func TestGetEventsAfterID(t *testing.T) {
	store := newTestStore(t)
	now := time.Now().UTC()

	run := &model.Run{
		ID: "evt-after", Prompt: "p", Profile: model.ProfileAsk,
		Status: model.StatusRunning, CreatedAt: now, UpdatedAt: now,
	}
	if err := store.CreateRun(run); err != nil {
		t.Fatalf("create run: %v", err)
	}

	for i := 0; i < 5; i++ {
		ev := &model.Event{
			RunID: run.ID, Type: string(model.EventStreamDelta),
			Data: fmt.Sprintf("line %d", i), CreatedAt: now,
		}
		if err := store.AddEvent(ev); err != nil {
			t.Fatalf("add event: %v", err)
		}
	}

	// Get all events.
	all, _ := store.GetEvents(run.ID, 0)
	if len(all) != 5 {
		t.Fatalf("expected 5 events, got %d", len(all))
	}

	// Get events after the 3rd one.
	after, _ := store.GetEvents(run.ID, all[2].ID)
	if len(after) != 2 {
		t.Fatalf("expected 2 events after ID %d, got %d", all[2].ID, len(after))
	}
	if after[0].Data != "line 3" {
		t.Fatalf("expected 'line 3', got %q", after[0].Data)
	}
}

func TestRunErrorPersistence(t *testing.T) {
	store := newTestStore(t)
	now := time.Now().UTC()

	run := &model.Run{
		ID: "err-test", Prompt: "what lang?", Profile: model.ProfileAsk,
		Status: model.StatusRunning, CreatedAt: now, UpdatedAt: now,
	}
	if err := store.CreateRun(run); err != nil {
		t.Fatalf("create run: %v", err)
	}

	run.Status = model.StatusError
	run.Error = "provider unreachable"
	if err := store.UpdateRun(run); err != nil {
		t.Fatalf("update run: %v", err)
	}

	got, err := store.GetRun("err-test")
	if err != nil {
		t.Fatalf("get run: %v", err)
	}
	if got.Status != model.StatusError {
		t.Fatalf("expected error status, got %q", got.Status)
	}
	if got.Error != "provider unreachable" {
		t.Fatalf("expected error message, got %q", got.Error)
	}
}

func TestSuiteCacheRoundTrip(t *testing.T) {
	store := newTestStore(t)

	entry := heal.SuiteEntry{
		TestName:          "test_login",
		TestPath:          "tests/test_login.py",
		LastGeneratedTest: "def test_login():\n    assert True\n",
		Passed:            true,
	}
	if err := store.PutSuiteEntry(entry); err != nil {
		t.Fatalf("put suite entry: %v", err)
	}

	entries, err := store.GetSuiteEntries()
	if err != nil {
		t.Fatalf("get suite entries: %v", err)
	}
	if len(entries) != 1 {
		t.Fatalf("expected 1 entry, got %d", len(entries))
	}
	if entries[0].TestName != "test_login" || !entries[0].Passed {
		t.Fatalf("unexpected entry: %+v", entries[0])
	}

	// Upsert replaces the existing row.
	entry.Passed = false
	entry.LastGeneratedTest = "def test_login():\n    assert False\n"
	if err := store.PutSuiteEntry(entry); err != nil {
		t.Fatalf("upsert suite entry: %v", err)
	}
	entries, _ = store.GetSuiteEntries()
	if len(entries) != 1 {
		t.Fatalf("expected 1 entry after upsert, got %d", len(entries))
	}
	if entries[0].Passed {
		t.Fatal("expected upsert to overwrite passed flag")
	}

	if err := store.DeleteSuiteEntry("test_login"); err != nil {
		t.Fatalf("delete suite entry: %v", err)
	}
	entries, _ = store.GetSuiteEntries()
	if len(entries) != 0 {
		t.Fatalf("expected empty cache after delete, got %d entries", len(entries))
	}
}
