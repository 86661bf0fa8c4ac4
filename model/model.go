// Package model defines the core domain types shared across all CodeMender
// packages. It has zero dependencies on other CodeMender packages.
package model

import "time"

// PermissionProfile governs whether dangerous tools run automatically,
// never, or after interactive confirmation.
type PermissionProfile string

const (
	ProfileReadOnly   PermissionProfile = "read-only"
	ProfileAsk        PermissionProfile = "ask"
	ProfileFullAccess PermissionProfile = "full-access"
)

// ToolSafety classifies a tool at registration time. Dangerous tools have
// observable side effects beyond read-only inspection.
type ToolSafety string

const (
	SafetySafe      ToolSafety = "safe"
	SafetyDangerous ToolSafety = "dangerous"
)

// Status represents the current state of a run.
type Status string

const (
	StatusPending   Status = "pending"
	StatusRunning   Status = "running"
	StatusComplete  Status = "complete"
	StatusError     Status = "error"
	StatusCancelled Status = "cancelled"
)

// Run represents a single conversation run with the model.
type Run struct {
	ID        string            `json:"id"`
	Prompt    string            `json:"prompt"`
	Profile   PermissionProfile `json:"profile"`
	Status    Status            `json:"status"`
	Error     string            `json:"error,omitempty"`
	CreatedAt time.Time         `json:"created_at"`
	UpdatedAt time.Time         `json:"updated_at"`
}

// Message is one transcript entry. Roles are "system", "user", "assistant",
// "tool-call" and "tool-output".
type Message struct {
	ID        int64     `json:"id"`
	RunID     string    `json:"run_id"`
	Role      string    `json:"role"`
	Content   string    `json:"content"`
	CreatedAt time.Time `json:"created_at"`
}

// Event is a persisted run lifecycle event, suitable for storage and SSE.
type Event struct {
	ID        int64     `json:"id"`
	RunID     string    `json:"run_id"`
	Type      string    `json:"type"`
	Data      string    `json:"data"`
	CreatedAt time.Time `json:"created_at"`
}

// EventType tags an AgentEvent.
type EventType string

const (
	EventToolCall           EventType = "tool_call"
	EventToolResult         EventType = "tool_result"
	EventToolDiff           EventType = "tool_diff"
	EventPreviewDiff        EventType = "preview_diff"
	EventOutputText         EventType = "output_text"
	EventStreamDelta        EventType = "stream_delta"
	EventStreamDone         EventType = "stream_done"
	EventPermissionRequest  EventType = "permission_request"
	EventConversationUpdate EventType = "conversation_update"
	EventCancelled          EventType = "cancelled"
	EventError              EventType = "error"
	EventDone               EventType = "done"
)

// AgentEvent is the typed event stream emitted by a conversation run.
// Exactly one of Done, Error or Cancelled terminates a run.
type AgentEvent struct {
	Type EventType

	// Tool call / result / diff fields.
	Tool    string
	Args    string
	Summary string
	Path    string
	Before  string
	After   string

	// Text carries output text, stream deltas and error messages.
	Text string

	// Transcript is the full transcript for ConversationUpdate events.
	Transcript []Message

	// Reply is the one-shot decision channel for PermissionRequest events.
	// Exactly one boolean is consumed per request.
	Reply chan bool
}

// Terminal reports whether the event ends a run.
func (e AgentEvent) Terminal() bool {
	switch e.Type {
	case EventDone, EventError, EventCancelled:
		return true
	}
	return false
}

// TestDecision records whether a change warrants a generated test.
type TestDecision string

const (
	DecisionYes         TestDecision = "yes"
	DecisionNo          TestDecision = "no"
	DecisionConditional TestDecision = "conditional"
)

// RiskLevel grades the blast radius of a change.
type RiskLevel string

const (
	RiskLow    RiskLevel = "low"
	RiskMedium RiskLevel = "medium"
	RiskHigh   RiskLevel = "high"
)

// TestCandidate describes one change that may deserve a generated test.
// It arrives from external diff analysis and is immutable once built.
type TestCandidate struct {
	ID          string       `json:"id"`
	File        string       `json:"file"`
	Symbol      string       `json:"symbol,omitempty"`
	Target      string       `json:"target"`
	Decision    TestDecision `json:"decision"`
	Risk        RiskLevel    `json:"risk"`
	TestType    string       `json:"test_type"`
	Intent      string       `json:"intent"`
	Behavior    string       `json:"behavior"`
	FailureMode string       `json:"failure_mode"`
	OldCode     string       `json:"old_code,omitempty"`
	NewCode     string       `json:"new_code,omitempty"`
}

// Truncate shortens a string to maxLen runes, adding "..." if truncated.
func Truncate(s string, maxLen int) string {
	if maxLen <= 3 {
		r := []rune(s)
		if len(r) <= maxLen {
			return s
		}
		return string(r[:maxLen])
	}
	r := []rune(s)
	if len(r) <= maxLen {
		return s
	}
	return string(r[:maxLen-3]) + "..."
}
