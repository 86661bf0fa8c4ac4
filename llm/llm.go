// Package llm speaks the model provider "responses" API. It supports a
// streaming and a blocking transport, selected by configuration, and wraps
// both in a bounded retry policy.
package llm

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"time"

	"github.com/codemender/codemender/model"
)

const (
	defaultBaseURL = "https://api.openai.com/v1"

	// promptABIVersion changes whenever prompt construction changes shape,
	// so provider-side prompt caching never serves stale completions.
	promptABIVersion = "v1-testgen-context-aware"

	maxAttempts = 3
	backoffStep = 350 * time.Millisecond
)

// Config selects the provider endpoint, model and transport.
type Config struct {
	BaseURL string
	APIKey  string
	Model   string

	// Stream selects the streaming transport for conversation turns.
	Stream bool

	// HTTPClient overrides the default client, mainly for tests.
	HTTPClient *http.Client
}

// Client is a thin, retrying client for the responses API.
type Client struct {
	cfg   Config
	httpc *http.Client
}

// New creates a Client. An empty BaseURL falls back to the public endpoint.
func New(cfg Config) *Client {
	if cfg.BaseURL == "" {
		cfg.BaseURL = defaultBaseURL
	}
	httpc := cfg.HTTPClient
	if httpc == nil {
		httpc = &http.Client{Timeout: 120 * time.Second}
	}
	return &Client{cfg: cfg, httpc: httpc}
}

// Model returns the configured model name.
func (c *Client) Model() string { return c.cfg.Model }

// Reasoning configures provider-side reasoning effort.
type Reasoning struct {
	Effort string `json:"effort"`
}

// Request is one conversation turn request. Input items are kept as raw JSON
// so opaque provider items (reasoning, function calls) round-trip verbatim.
type Request struct {
	Model      string            `json:"model"`
	Input      []json.RawMessage `json:"input"`
	Tools      []json.RawMessage `json:"tools,omitempty"`
	ToolChoice string            `json:"tool_choice,omitempty"`
	Reasoning  *Reasoning        `json:"reasoning,omitempty"`
	Store      bool              `json:"store"`
	Stream     bool              `json:"stream,omitempty"`
}

// ContentPart is one element of a message item's content array.
type ContentPart struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

// OutputItem is one typed item of a response's output array. Unknown types
// are carried through untouched and ignored by callers.
type OutputItem struct {
	Type      string          `json:"type"`
	Name      string          `json:"name,omitempty"`
	CallID    json.RawMessage `json:"call_id,omitempty"`
	Arguments string          `json:"arguments,omitempty"`
	Text      string          `json:"text,omitempty"`
	Content   []ContentPart   `json:"content,omitempty"`

	raw json.RawMessage
}

// UnmarshalJSON keeps the verbatim item bytes alongside the typed fields.
func (it *OutputItem) UnmarshalJSON(b []byte) error {
	type alias OutputItem
	var a alias
	if err := json.Unmarshal(b, &a); err != nil {
		return err
	}
	*it = OutputItem(a)
	it.raw = append(json.RawMessage(nil), b...)
	return nil
}

// Raw returns the verbatim JSON of the item, for opaque passthrough into the
// next turn's input.
func (it *OutputItem) Raw() json.RawMessage { return it.raw }

// Response is the top-level non-streaming response body.
type Response struct {
	Output []OutputItem `json:"output"`
}

// TextMessage builds a role-tagged input message item.
func TextMessage(role, content string) json.RawMessage {
	b, _ := json.Marshal(map[string]string{"role": role, "content": content})
	return b
}

// FunctionOutput builds a function_call_output input item answering callID.
func FunctionOutput(callID json.RawMessage, output string) json.RawMessage {
	b, _ := json.Marshal(map[string]any{
		"type":    "function_call_output",
		"call_id": callID,
		"output":  output,
	})
	return b
}

// StreamCallbacks observes the streaming transport. Either callback may be
// nil.
type StreamCallbacks struct {
	OnDelta func(delta string)
	OnDone  func()
}

// Respond sends one turn and returns the parsed response. The transport is
// chosen by Config.Stream. Up to three attempts are made with linear backoff;
// cancellation is checked before each attempt and the last error is surfaced
// when every attempt fails.
func (c *Client) Respond(ctx context.Context, tok *model.CancelToken, req *Request, cb StreamCallbacks) (*Response, error) {
	req.Model = c.cfg.Model

	var lastErr error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		if tok.Cancelled() {
			return nil, model.ErrCancelled
		}

		var resp *Response
		var err error
		if c.cfg.Stream {
			resp, err = c.respondStream(ctx, tok, req, cb)
		} else {
			resp, err = c.respondBlocking(ctx, req)
		}
		if err == nil {
			return resp, nil
		}
		if errors.Is(err, model.ErrCancelled) {
			return nil, model.ErrCancelled
		}

		lastErr = err
		if attempt < maxAttempts {
			log.Printf("llm: attempt %d/%d failed, retrying: %v", attempt, maxAttempts, err)
			time.Sleep(time.Duration(attempt) * backoffStep)
		}
	}
	return nil, lastErr
}

func (c *Client) respondBlocking(ctx context.Context, req *Request) (*Response, error) {
	req.Stream = false
	body, err := c.post(ctx, req)
	if err != nil {
		return nil, err
	}
	defer body.Close()

	raw, err := io.ReadAll(body)
	if err != nil {
		return nil, fmt.Errorf("reading response: %w", err)
	}
	var resp Response
	if err := json.Unmarshal(raw, &resp); err != nil {
		return nil, fmt.Errorf("parsing response: %w", err)
	}
	return &resp, nil
}

// post issues the request and returns the body on HTTP 200, an error
// otherwise.
func (c *Client) post(ctx context.Context, payload any) (io.ReadCloser, error) {
	jsonBody, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.BaseURL+"/responses", bytes.NewReader(jsonBody))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)

	resp, err := c.httpc.Do(req)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		resp.Body.Close()
		return nil, fmt.Errorf("API error %d: %s", resp.StatusCode, bytes.TrimSpace(msg))
	}
	return resp.Body, nil
}

// completeRequest is the one-shot, instructions-plus-input request shape used
// by the swarm and the healing pipelines.
type completeRequest struct {
	Model        string `json:"model"`
	Instructions string `json:"instructions"`
	Input        string `json:"input"`
	Store        bool   `json:"store"`

	PromptCacheKey       string `json:"prompt_cache_key,omitempty"`
	PromptCacheRetention string `json:"prompt_cache_retention,omitempty"`
}

// Complete sends a single non-streaming, tool-free call and returns the
// first output text. When bypassCache is set the provider-side prompt cache
// key is omitted so a fresh completion is produced.
func (c *Client) Complete(ctx context.Context, tok *model.CancelToken, system, user string, bypassCache bool) (string, error) {
	req := &completeRequest{
		Model:        c.cfg.Model,
		Instructions: system,
		Input:        user,
		Store:        false,
	}
	if !bypassCache {
		req.PromptCacheKey = hashPrompt(system, user)
		req.PromptCacheRetention = "24h"
	}

	var lastErr error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		if tok.Cancelled() {
			return "", model.ErrCancelled
		}

		text, err := c.completeOnce(ctx, req)
		if err == nil {
			return text, nil
		}
		lastErr = err
		if attempt < maxAttempts {
			log.Printf("llm: complete attempt %d/%d failed, retrying: %v", attempt, maxAttempts, err)
			time.Sleep(time.Duration(attempt) * backoffStep)
		}
	}
	return "", lastErr
}

func (c *Client) completeOnce(ctx context.Context, req *completeRequest) (string, error) {
	body, err := c.post(ctx, req)
	if err != nil {
		return "", err
	}
	defer body.Close()

	raw, err := io.ReadAll(body)
	if err != nil {
		return "", fmt.Errorf("reading response: %w", err)
	}
	var resp Response
	if err := json.Unmarshal(raw, &resp); err != nil {
		return "", fmt.Errorf("parsing response: %w", err)
	}
	return ExtractText(&resp)
}

// ExtractText returns the first output text found in a response.
func ExtractText(resp *Response) (string, error) {
	for _, item := range resp.Output {
		if item.Type == "output_text" && item.Text != "" {
			return item.Text, nil
		}
		for _, part := range item.Content {
			if part.Type == "output_text" && part.Text != "" {
				return part.Text, nil
			}
		}
	}
	return "", errors.New("no text content in response")
}

func hashPrompt(system, user string) string {
	h := sha256.New()
	h.Write([]byte(promptABIVersion))
	h.Write([]byte(system))
	h.Write([]byte(user))
	return hex.EncodeToString(h.Sum(nil))
}
