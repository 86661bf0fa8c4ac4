// Package permission implements the tool-permission gate: a pure decision
// function over (safety, profile, auto-approve) plus best-effort preview
// diffs for file-mutating tool calls awaiting confirmation.
package permission

import (
	"os"
	"path/filepath"
	"strings"

	"github.com/sergi/go-diff/diffmatchpatch"

	"github.com/codemender/codemender/model"
)

// Decision is the gate's verdict for one tool call.
type Decision int

const (
	// Execute runs the tool immediately.
	Execute Decision = iota
	// DenyProfile refuses without asking; the model gets a structured denial.
	DenyProfile
	// PromptThenDecide blocks on a human reply before executing or denying.
	PromptThenDecide
)

// Decide classifies one tool call. ReadOnly plus Dangerous denies
// unconditionally. Safe tools, FullAccess, and auto-approve execute
// directly. Everything else asks.
func Decide(safety model.ToolSafety, profile model.PermissionProfile, autoApprove bool) Decision {
	if safety == model.SafetyDangerous && profile == model.ProfileReadOnly {
		return DenyProfile
	}
	if safety == model.SafetySafe || profile == model.ProfileFullAccess || autoApprove {
		return Execute
	}
	return PromptThenDecide
}

// DeniedResult is the structured tool output synthesized for a denial, fed
// back to the model so the conversation continues.
func DeniedResult(reason string) map[string]any {
	return map[string]any{"error": "permission denied: " + reason}
}

// Preview computes a best-effort before/after preview for a file-mutating
// tool call: the current file content is "before" and the requested write or
// replace semantics applied to it is "after". ok is false for tools whose
// effect cannot be previewed.
func Preview(root, toolName string, args map[string]any) (path, before, after string, ok bool) {
	rel, _ := args["path"].(string)
	if rel == "" {
		return "", "", "", false
	}
	abs := filepath.Join(root, filepath.Clean("/"+rel))
	if data, err := os.ReadFile(abs); err == nil {
		before = string(data)
	}

	switch toolName {
	case "write_file":
		content, _ := args["content"].(string)
		return rel, before, content, true
	case "edit_file":
		oldText, _ := args["old_text"].(string)
		newText, _ := args["new_text"].(string)
		if oldText == "" || !strings.Contains(before, oldText) {
			return rel, before, before, true
		}
		return rel, before, strings.Replace(before, oldText, newText, 1), true
	}
	return "", "", "", false
}

// RenderDiff produces a compact textual diff between two file versions for
// display alongside a permission request.
func RenderDiff(before, after string) string {
	dmp := diffmatchpatch.New()
	diffs := dmp.DiffMain(before, after, true)
	dmp.DiffCleanupSemantic(diffs)

	var b strings.Builder
	for _, d := range diffs {
		text := d.Text
		switch d.Type {
		case diffmatchpatch.DiffInsert:
			writePrefixed(&b, "+", text)
		case diffmatchpatch.DiffDelete:
			writePrefixed(&b, "-", text)
		case diffmatchpatch.DiffEqual:
			// Equal runs are elided except for a little context.
			lines := strings.Split(text, "\n")
			if len(lines) > 4 {
				writePrefixed(&b, " ", strings.Join(lines[:2], "\n"))
				b.WriteString("  ...\n")
				writePrefixed(&b, " ", strings.Join(lines[len(lines)-2:], "\n"))
			} else {
				writePrefixed(&b, " ", text)
			}
		}
	}
	return b.String()
}

func writePrefixed(b *strings.Builder, prefix, text string) {
	for _, line := range strings.Split(strings.TrimRight(text, "\n"), "\n") {
		b.WriteString(prefix)
		b.WriteString(" ")
		b.WriteString(line)
		b.WriteString("\n")
	}
}
