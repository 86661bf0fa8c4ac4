package linear

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/codemender/codemender/eventbus"
	"github.com/codemender/codemender/heal"
	"github.com/codemender/codemender/model"
)

type stubStore struct{}

func (stubStore) CreateRun(*model.Run) error                      { return nil }
func (stubStore) GetRun(string) (*model.Run, error)               { return nil, nil }
func (stubStore) ListRuns() ([]*model.Run, error)                 { return nil, nil }
func (stubStore) UpdateRun(*model.Run) error                      { return nil }
func (stubStore) AddEvent(*model.Event) error                     { return nil }
func (stubStore) GetEvents(string, int64) ([]*model.Event, error) { return nil, nil }
func (stubStore) AddMessage(*model.Message) error                 { return nil }
func (stubStore) GetMessages(string) ([]*model.Message, error)    { return nil, nil }
func (stubStore) PutSuiteEntry(heal.SuiteEntry) error             { return nil }
func (stubStore) GetSuiteEntries() ([]heal.SuiteEntry, error)     { return nil, nil }
func (stubStore) DeleteSuiteEntry(string) error                   { return nil }
func (stubStore) Close() error                                    { return nil }

type stubRuns struct{}

func (stubRuns) StartRun(string, model.PermissionProfile) (*model.Run, error) {
	return &model.Run{ID: "r1"}, nil
}

func newChannel(secret string) *Channel {
	return New("lin_api_test", secret, "", stubStore{}, eventbus.NewInMemoryBus(), stubRuns{})
}

func sign(secret string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}

func payload(typ string, labels ...string) []byte {
	ls := make([]map[string]string, 0, len(labels))
	for _, l := range labels {
		ls = append(ls, map[string]string{"name": l})
	}
	b, _ := json.Marshal(map[string]any{
		"action": "update",
		"type":   typ,
		"data": map[string]any{
			"id":          "issue-1",
			"title":       "Broken build",
			"description": "CI is red",
			"labels":      ls,
		},
	})
	return b
}

func post(c *Channel, body []byte, sig string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, "/api/webhooks/linear", strings.NewReader(string(body)))
	if sig != "" {
		req.Header.Set("Linear-Signature", sig)
	}
	rec := httptest.NewRecorder()
	c.handleWebhook(rec, req)
	return rec
}

func TestWebhookSignatureVerification(t *testing.T) {
	c := newChannel("topsecret")
	body := payload("Comment")

	if rec := post(c, body, ""); rec.Code != http.StatusUnauthorized {
		t.Fatalf("missing signature: expected 401, got %d", rec.Code)
	}
	if rec := post(c, body, "deadbeef"); rec.Code != http.StatusUnauthorized {
		t.Fatalf("bad signature: expected 401, got %d", rec.Code)
	}
	if rec := post(c, body, sign("topsecret", body)); rec.Code != http.StatusOK {
		t.Fatalf("valid signature: expected 200, got %d", rec.Code)
	}
}

func TestWebhookIgnoresNonIssueEvents(t *testing.T) {
	c := newChannel("")
	if rec := post(c, payload("Comment", "codemender"), ""); rec.Code != http.StatusOK {
		t.Fatalf("expected 200 for non-issue, got %d", rec.Code)
	}
}

func TestWebhookIgnoresUnlabeledIssues(t *testing.T) {
	c := newChannel("")
	if rec := post(c, payload("Issue", "bug", "backend"), ""); rec.Code != http.StatusOK {
		t.Fatalf("expected 200 for unlabeled issue, got %d", rec.Code)
	}
}

func TestWebhookRejectsBadJSON(t *testing.T) {
	c := newChannel("")
	if rec := post(c, []byte("{not json"), ""); rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
}

func TestWebhookRejectsNonPost(t *testing.T) {
	c := newChannel("")
	req := httptest.NewRequest(http.MethodGet, "/api/webhooks/linear", nil)
	rec := httptest.NewRecorder()
	c.handleWebhook(rec, req)
	if rec.Code != http.StatusMethodNotAllowed {
		t.Fatalf("expected 405, got %d", rec.Code)
	}
}

func TestTriggerLabelMatchingIsCaseInsensitive(t *testing.T) {
	c := New("key", "", "CodeMender", stubStore{}, eventbus.NewInMemoryBus(), stubRuns{})
	if !c.hasTriggerLabel([]linearLabel{{Name: "CODEMENDER"}}) {
		t.Fatal("label matching must ignore case")
	}
	if c.hasTriggerLabel([]linearLabel{{Name: "codemending"}}) {
		t.Fatal("label must match exactly")
	}
}
