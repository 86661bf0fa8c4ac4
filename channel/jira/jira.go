// Package jira provides a Jira webhook channel.
//
// When a Jira issue is labeled with a trigger label (default:
// "codemender"), a run is created from the issue summary+description and
// the result is posted back as a comment on the issue.
//
// Setup:
//  1. Create a Jira webhook pointing at <server>/api/webhooks/jira
//  2. Select "issue updated" events (or use automation to fire on label add)
//  3. Set JIRA_BASE_URL, JIRA_USER_EMAIL, and JIRA_API_TOKEN in your environment
//  4. Optionally set JIRA_TRIGGER_LABEL (default: "codemender")
//     and JIRA_WEBHOOK_SECRET
package jira

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

// Channel is a webhook-based Jira channel.
type Channel struct {
	baseURL      string // e.g. "https://yourcompany.atlassian.net"
	userEmail    string
	apiToken     string
	secret       string
	triggerLabel string
	store        store.RunStore
	bus          eventbus.Bus
	runs         channel.RunCreator
	srv          *http.Server
	addr         string
}

// Option configures the Jira channel.
type Option func(*Channel)

// WithAddr sets the listen address for the webhook server (default ":7092").
func WithAddr(addr string) Option {
	return func(c *Channel) { c.addr = addr }
}

// New creates a new Jira webhook channel.
func New(baseURL, userEmail, apiToken, secret, triggerLabel string, st store.RunStore, bus eventbus.Bus, runs channel.RunCreator, opts ...Option) *Channel {
	if triggerLabel == "" {
		triggerLabel = "codemender"
	}
	baseURL = strings.TrimRight(baseURL, "/")
	c := &Channel{
		baseURL:      baseURL,
		userEmail:    userEmail,
		apiToken:     apiToken,
		secret:       secret,
		triggerLabel: strings.ToLower(triggerLabel),
		store:        st,
		bus:          bus,
		runs:         runs,
		addr:         ":7092",
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

// Name returns the channel name.
func (c *Channel) Name() string { return "jira" }

// Run starts the webhook HTTP server. Blocks until ctx is done.
func (c *Channel) Run(ctx context.Context) error {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/webhooks/jira", c.handleWebhook)

	c.srv = &http.Server{Addr: c.addr, Handler: mux}

	go func() {
		<-ctx.Done()
		c.srv.Close()
	}()

	log.Printf("Jira webhook listening on %s", c.addr)
	if err := c.srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

// --- Webhook handling ---

// jiraWebhookPayload is the subset of Jira webhook fields we use.
type jiraWebhookPayload struct {
	WebhookEvent string    `json:"webhookEvent"` // "jira:issue_updated", "jira:issue_created"
	Issue        jiraIssue `json:"issue"`
}

type jiraIssue struct {
	ID     string          `json:"id"`
	Key    string          `json:"key"` // e.g. "PROJ-123"
	Fields jiraIssueFields `json:"fields"`
}

type jiraIssueFields struct {
	Summary     string   `json:"summary"`
	Description string   `json:"description"`
	Labels      []string `json:"labels"`
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

	var payload jiraWebhookPayload
	if err := json.Unmarshal(body, &payload); err != nil {
		http.Error(w, "invalid json", http.StatusBadRequest)
		return
	}

	if !c.hasTriggerLabel(payload.Issue.Fields.Labels) {
		w.WriteHeader(http.StatusOK)
		return
	}

	go c.processIssue(payload.Issue)
	w.WriteHeader(http.StatusAccepted)
}

func (c *Channel) verifySignature(r *http.Request, body []byte) bool {
	sig := r.Header.Get("X-Hub-Signature")
	if sig == "" {
		return false
	}
	// Jira webhooks with secret use HMAC-SHA256 in "sha256=<hex>" format.
	sig = strings.TrimPrefix(sig, "sha256=")
	mac := hmac.New(sha256.New, []byte(c.secret))
	mac.Write(body)
	expected := hex.EncodeToString(mac.Sum(nil))
	return hmac.Equal([]byte(sig), []byte(expected))
}

func (c *Channel) hasTriggerLabel(labels []string) bool {
	for _, l := range labels {
		if strings.ToLower(l) == c.triggerLabel {
			return true
		}
	}
	return false
}

func (c *Channel) processIssue(issue jiraIssue) {
	prompt := issue.Fields.Summary
	if issue.Fields.Description != "" {
		prompt += "\n\n" + issue.Fields.Description
	}

	c.postComment(issue.ID, "Starting CodeMender run...")

	run, err := c.runs.StartRun(prompt, model.ProfileFullAccess)
	if err != nil {
		log.Printf("Jira: failed to start run for issue %s: %v", issue.Key, err)
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
			c.postComment(issueID, fmt.Sprintf("Run %s was cancelled.", run.ID))
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
		c.postComment(issueID, fmt.Sprintf("Run %s complete.", runID))
		return
	}
	var last string
	for _, m := range messages {
		if m.Role == "assistant" && m.Content != "" {
			last = m.Content
		}
	}
	if last == "" {
		c.postComment(issueID, fmt.Sprintf("Run %s complete.", runID))
		return
	}
	c.postComment(issueID, fmt.Sprintf("Result:\n\n%s\n\nRun %s", model.Truncate(last, 2000), runID))
}

// postComment adds a comment on a Jira issue via the REST API v3.
func (c *Channel) postComment(issueID, body string) {
	// Jira Cloud REST API v3 uses Atlassian Document Format (ADF).
	payload := map[string]any{
		"body": map[string]any{
			"version": 1,
			"type":    "doc",
			"content": []any{
				map[string]any{
					"type": "paragraph",
					"content": []any{
						map[string]any{
							"type": "text",
							"text": body,
						},
					},
				},
			},
		},
	}

	data, err := json.Marshal(payload)
	if err != nil {
		log.Printf("Jira: failed to marshal comment payload: %v", err)
		return
	}

	url := fmt.Sprintf("%s/rest/api/3/issue/%s/comment", c.baseURL, issueID)
	req, err := http.NewRequest(http.MethodPost, url, bytes.NewReader(data))
	if err != nil {
		log.Printf("Jira: failed to create request: %v", err)
		return
	}
	req.Header.Set("Content-Type", "application/json")
	req.SetBasicAuth(c.userEmail, c.apiToken)

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		log.Printf("Jira: failed to post comment on issue %s: %v", issueID, err)
		return
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		log.Printf("Jira: comment API returned %d: %s", resp.StatusCode, respBody)
	}
}
