package llm

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/codemender/codemender/model"
)

// streamEvent is one decoded server-sent event. Unknown types fall through
// the switch and are ignored.
type streamEvent struct {
	Type     string          `json:"type"`
	Delta    string          `json:"delta"`
	Response json.RawMessage `json:"response"`
	Error    *struct {
		Message string `json:"message"`
	} `json:"error"`
}

// respondStream reads the response body incrementally. Records are separated
// by a blank line; each record is one or more "data: " lines joined by
// newline. The final response arrives in a response.completed event, and the
// literal [DONE] record terminates the stream. Cancellation is polled on
// every read iteration.
func (c *Client) respondStream(ctx context.Context, tok *model.CancelToken, req *Request, cb StreamCallbacks) (*Response, error) {
	req.Stream = true
	body, err := c.post(ctx, req)
	if err != nil {
		return nil, err
	}
	defer body.Close()

	reader := bufio.NewReader(body)
	var record []string
	var captured *Response

	for {
		if tok.Cancelled() {
			return nil, model.ErrCancelled
		}

		line, err := reader.ReadString('\n')
		if err != nil && err != io.EOF {
			return nil, fmt.Errorf("read stream: %w", err)
		}

		trimmed := strings.TrimRight(line, "\r\n")
		if trimmed != "" {
			if data, ok := strings.CutPrefix(trimmed, "data: "); ok {
				record = append(record, data)
			}
			if err == io.EOF {
				return nil, fmt.Errorf("stream ended mid-record")
			}
			continue
		}

		// Blank line: one full record accumulated.
		if len(record) > 0 {
			payload := strings.Join(record, "\n")
			record = record[:0]

			if payload == "[DONE]" {
				if captured == nil {
					return nil, fmt.Errorf("stream ended without a completed response")
				}
				if cb.OnDone != nil {
					cb.OnDone()
				}
				return captured, nil
			}

			if err := c.handleStreamEvent(payload, cb, &captured); err != nil {
				return nil, err
			}
		}

		if err == io.EOF {
			return nil, fmt.Errorf("stream closed before [DONE]")
		}
	}
}

func (c *Client) handleStreamEvent(payload string, cb StreamCallbacks, captured **Response) error {
	var evt streamEvent
	if err := json.Unmarshal([]byte(payload), &evt); err != nil {
		// Malformed records are skipped rather than aborting the stream.
		return nil
	}

	switch evt.Type {
	case "response.output_text.delta":
		if evt.Delta != "" && cb.OnDelta != nil {
			cb.OnDelta(evt.Delta)
		}
	case "response.completed":
		var resp Response
		if err := json.Unmarshal(evt.Response, &resp); err != nil {
			return fmt.Errorf("parsing completed response: %w", err)
		}
		*captured = &resp
	case "error":
		if evt.Error != nil && evt.Error.Message != "" {
			return fmt.Errorf("provider error: %s", evt.Error.Message)
		}
		return fmt.Errorf("provider error: %s", payload)
	}
	return nil
}
