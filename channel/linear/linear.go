// Package linear provides a Linear webhook channel.
//
// When a Linear issue is labeled with a trigger label (default:
// "codemender"), a run is created from the issue title+description and
// the result is posted back as a comment on the issue.
//
// Setup:
//  1. Create a Linear webhook pointing at <server>/api/webhooks/linear
//  2. Select "Issues" events
//  3. Set LINEAR_API_KEY and LINEAR_WEBHOOK_SECRET in your environment
//  4. Optionally set LINEAR_TRIGGER_LABEL (default: "codemender")
package linear

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"strings"

	"github.com/codemender/codemender/channel"
	"github.com/codemender/codemender/eventbus"
	"github.com/codemender/codemender/model"
	"github.com/codemender/codemender/store"
)

// Channel is a webhook-based Linear channel.
type Channel struct {
	apiKey       string
	secret       string
	triggerLabel string
	store        store.RunStore
	bus          eventbus.Bus
	runs         channel.RunCreator
	srv          *http.Server
	addr         string
}

// Option configures the Linear channel.
type Option func(*Channel)

// WithAddr sets the listen address for the webhook server (default ":7091").
func WithAddr(addr string) Option {
	return func(c *Channel) { c.addr = addr }
}

// New creates a new Linear webhook channel.
func New(apiKey, secret, triggerLabel string, st store.RunStore, bus eventbus.Bus, runs channel.RunCreator, opts ...Option) *Channel {
	if triggerLabel == "" {
		triggerLabel = "codemender"
	}
	c := &Channel{
		apiKey:       apiKey,
		secret:       secret,
		triggerLabel: strings.ToLower(triggerLabel),
		store:        st,
		bus:          bus,
		runs:         runs,
		addr:         ":7091",
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

// Name returns the channel name.
func (c *Channel) Name() string { return "linear" }

// Run starts the webhook HTTP server. Blocks until ctx is done.
func (c *Channel) Run(ctx context.Context) error {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/webhooks/linear", c.handleWebhook)

	c.srv = &http.Server{Addr: c.addr, Handler: mux}

	go func() {
		<-ctx.Done()
		c.srv.Close()
	}()

	log.Printf("Linear webhook listening on %s", c.addr)
	if err := c.srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

// --- Webhook handling ---

// linearWebhookPayload is the subset of Linear webhook fields we care about.
type linearWebhookPayload struct {
	Action string      `json:"action"` // "create", "update", "remove"
	Type   string      `json:"type"`   // "Issue", "Comment", etc.
	Data   linearIssue `json:"data"`
}

type linearIssue struct {
	ID          string        `json:"id"`
	Title       string        `json:"title"`
	Description string        `json:"description"`
	Labels      []linearLabel `json:"labels"`
}

type linearLabel struct {
	Name string `json:"name"`
}

func (c *Channel) handleWebhook(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	body, err := io.ReadAll(io.LimitReader(r.Body, 1<<20))
	if err != nil {
		http.Error(w, "bad request", http.StatusBadRequest)
		return
	}

	if c.secret != "" && !c.verifySignature(r, body) {
		http.Error(w, "invalid signature", http.StatusUnauthorized)
		return
	}

	var payload linearWebhookPayload
	if err := json.Unmarshal(body, &payload); err != nil {
		http.Error(w, "invalid json", http.StatusBadRequest)
		return
	}

	if payload.Type != "Issue" {
		w.WriteHeader(http.StatusOK)
		return
	}

	if !c.hasTriggerLabel(payload.Data.Labels) {
		w.WriteHeader(http.StatusOK)
		return
	}

	go c.processIssue(payload.Data)
	w.WriteHeader(http.StatusAccepted)
}

func (c *Channel) verifySignature(r *http.Request, body []byte) bool {
	sig := r.Header.Get("Linear-Signature")
	if sig == "" {
		return false
	}
	mac := hmac.New(sha256.New, []byte(c.secret))
	mac.Write(body)
	expected := hex.EncodeToString(mac.Sum(nil))
	return hmac.Equal([]byte(sig), []byte(expected))
}

func (c *Channel) hasTriggerLabel(labels []linearLabel) bool {
	for _, l := range labels {
		if strings.ToLower(l.Name) == c.triggerLabel {
			return true
		}
	}
	return false
}

func (c *Channel) processIssue(issue linearIssue) {
	prompt := issue.Title
	if issue.Description != "" {
		prompt += "\n\n" + issue.Description
	}

	c.postComment(issue.ID, "Starting CodeMender run...")

	run, err := c.runs.StartRun(prompt, model.ProfileFullAccess)
	if err != nil {
		log.Printf("Linear: failed to start run for issue %s: %v", issue.ID, err)
		c.postComment(issue.ID, fmt.Sprintf("Failed to start run: %s", err))
		return
	}

	c.monitorRun(run, issue.ID)
}

func (c *Channel) monitorRun(run *model.Run, issueID string) {
	ch := c.bus.Subscribe(run.ID)
	defer c.bus.Unsubscribe(run.ID, ch)

	for event := range ch {
		switch event.Type {
		case string(model.EventError):
			c.postComment(issueID, fmt.Sprintf("Error: %s", event.Data))
			return
		case string(model.EventCancelled):
			c.postComment(issueID, fmt.Sprintf("Run `%s` was cancelled.", run.ID))
			return
		case string(model.EventDone):
			c.postResult(issueID, run.ID)
			return
		}
	}
}

// postResult posts the run's final assistant message, falling back to a
// bare completion notice.
func (c *Channel) postResult(issueID, runID string) {
	messages, err := c.store.GetMessages(runID)
	if err != nil {
		c.postComment(issueID, fmt.Sprintf("Run `%s` complete.", runID))
		return
	}
	var last string
	for _, m := range messages {
		if m.Role == "assistant" && m.Content != "" {
			last = m.Content
		}
	}
	if last == "" {
		c.postComment(issueID, fmt.Sprintf("Run `%s` complete.", runID))
		return
	}
	msg := fmt.Sprintf("Result:\n\n%s\n\nRun `%s`", model.Truncate(last, 2000), runID)
	c.postComment(issueID, msg)
}

// postComment posts a comment on a Linear issue via the GraphQL API.
func (c *Channel) postComment(issueID, body string) {
	query := `mutation($issueID: String!, $body: String!) {
		commentCreate(input: { issueId: $issueID, body: $body }) {
			success
		}
	}`

	payload := map[string]any{
		"query": query,
		"variables": map[string]string{
			"issueID": issueID,
			"body":    body,
		},
	}

	data, err := json.Marshal(payload)
	if err != nil {
		log.Printf("Linear: failed to marshal comment payload: %v", err)
		return
	}

	req, err := http.NewRequest(http.MethodPost, "https://api.linear.app/graphql", bytes.NewReader(data))
	if err != nil {
		log.Printf("Linear: failed to create request: %v", err)
		return
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", c.apiKey)

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		log.Printf("Linear: failed to post comment on issue %s: %v", issueID, err)
		return
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		log.Printf("Linear: comment API returned %d: %s", resp.StatusCode, respBody)
	}
}
