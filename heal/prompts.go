package heal

import (
	"fmt"
	"strings"

	"github.com/codemender/codemender/model"
)

const generatorSystemPrompt = `You are an extremely smart and robust software engineer that generates accurate tests.

Rules:
- Output ONLY valid test code
- No explanations, comments, or markdown
- Do NOT modify production code
- Do NOT add new dependencies
- Follow the existing project test style and imports
- The test must be runnable as-is`

// candidatePrompt builds the first-attempt user prompt for a candidate.
func candidatePrompt(c *model.TestCandidate, root string) string {
	var b strings.Builder
	b.WriteString("Generate a test for the following change.\n\n")
	fmt.Fprintf(&b, "Repository root: %s\n", root)
	fmt.Fprintf(&b, "File: %s\n", c.File)
	if c.Symbol != "" {
		fmt.Fprintf(&b, "Symbol: %s\n", c.Symbol)
	}
	fmt.Fprintf(&b, "Target: %s\n", c.Target)
	fmt.Fprintf(&b, "Test type: %s\n", c.TestType)
	fmt.Fprintf(&b, "Risk: %s\n\n", c.Risk)
	if c.Intent != "" {
		fmt.Fprintf(&b, "Intent of the change:\n%s\n\n", c.Intent)
	}
	if c.Behavior != "" {
		fmt.Fprintf(&b, "Behavior to verify:\n%s\n\n", c.Behavior)
	}
	if c.FailureMode != "" {
		fmt.Fprintf(&b, "Failure mode to guard against:\n%s\n\n", c.FailureMode)
	}
	if c.OldCode != "" {
		fmt.Fprintf(&b, "Old code:\n```\n%s\n```\n\n", c.OldCode)
	}
	if c.NewCode != "" {
		fmt.Fprintf(&b, "New code:\n```\n%s\n```\n", c.NewCode)
	}
	return b.String()
}

// failurePrompt builds the first-attempt user prompt for a failing suite test.
func failurePrompt(fc *FailureContext) string {
	var b strings.Builder
	b.WriteString("Fix the following failing test. Output the complete corrected test file.\n\n")
	fmt.Fprintf(&b, "Test: %s\n", fc.TestName)
	fmt.Fprintf(&b, "Test file: %s\n\n", fc.TestPath)
	if fc.TestSource != "" {
		fmt.Fprintf(&b, "Current test source:\n```\n%s\n```\n\n", fc.TestSource)
	}
	if fc.ImplPath != "" {
		fmt.Fprintf(&b, "Implementation under test (%s):\n```\n%s\n```\n\n", fc.ImplPath, fc.ImplSource)
	}
	if fc.Traceback != "" {
		fmt.Fprintf(&b, "Failure output:\n%s\n", model.Truncate(fc.Traceback, maxErrorChars))
	}
	return b.String()
}

// feedbackPrompt appends the previous attempt and its failure to a base prompt.
func feedbackPrompt(base, previousCode, failure string) string {
	var b strings.Builder
	b.WriteString(base)
	b.WriteString("\n\nYour previous attempt failed. Previous test code:\n```\n")
	b.WriteString(previousCode)
	b.WriteString("\n```\n\nFailure output:\n")
	b.WriteString(model.Truncate(failure, maxErrorChars))
	b.WriteString("\n\nGenerate a corrected test.")
	return b.String()
}

// Sanitize strips surrounding markdown code fences and a leading language
// tag from raw model output. Returns "" when nothing usable remains.
func Sanitize(raw string) string {
	s := strings.TrimSpace(raw)
	if strings.HasPrefix(s, "```") {
		s = strings.TrimPrefix(s, "```")
		if i := strings.Index(s, "\n"); i >= 0 {
			first := strings.TrimSpace(s[:i])
			if isLanguageTag(first) {
				s = s[i+1:]
			}
		}
		if i := strings.LastIndex(s, "```"); i >= 0 {
			s = s[:i]
		}
	}
	return strings.TrimSpace(s)
}

// isLanguageTag reports whether a fence header line is a bare language name
// rather than code.
func isLanguageTag(s string) bool {
	if s == "" {
		return true
	}
	if len(s) > 20 {
		return false
	}
	for _, r := range s {
		if !(r >= 'a' && r <= 'z' || r >= 'A' && r <= 'Z' || r >= '0' && r <= '9' || r == '+' || r == '-' || r == '#') {
			return false
		}
	}
	return true
}
