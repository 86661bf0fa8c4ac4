package tool

import (
	"bufio"
	"bytes"
	"encoding/json"
	"fmt"
	"io/fs"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"github.com/codemender/codemender/model"
)

// maxToolOutput caps the bytes any reference tool feeds back to the model.
const maxToolOutput = 64 * 1024

// resolvePath joins rel against root and rejects escapes.
func resolvePath(root, rel string) (string, error) {
	abs := filepath.Join(root, filepath.Clean("/"+rel))
	if !strings.HasPrefix(abs, filepath.Clean(root)+string(os.PathSeparator)) && abs != filepath.Clean(root) {
		return "", fmt.Errorf("path %q escapes the repository root", rel)
	}
	return abs, nil
}

func clip(s string) string {
	if len(s) > maxToolOutput {
		return s[:maxToolOutput] + "\n... (truncated)"
	}
	return s
}

// --- read_file ---

type readFile struct{ root string }

func (t *readFile) Name() string             { return "read_file" }
func (t *readFile) Safety() model.ToolSafety { return model.SafetySafe }

func (t *readFile) Schema() json.RawMessage {
	return functionSchema("read_file", "Read a file relative to the repository root.",
		map[string]any{
			"path": map[string]any{"type": "string", "description": "File path relative to the repository root."},
		}, []string{"path"})
}

func (t *readFile) Invoke(args map[string]any) (Result, error) {
	rel, err := stringArg(args, "path")
	if err != nil {
		return nil, err
	}
	abs, err := resolvePath(t.root, rel)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(abs)
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", rel, err)
	}
	return Result{"path": rel, "content": clip(string(data))}, nil
}

// --- list_dir ---

type listDir struct{ root string }

func (t *listDir) Name() string             { return "list_dir" }
func (t *listDir) Safety() model.ToolSafety { return model.SafetySafe }

func (t *listDir) Schema() json.RawMessage {
	return functionSchema("list_dir", "List directory entries relative to the repository root.",
		map[string]any{
			"path": map[string]any{"type": "string", "description": "Directory path; \".\" for the root."},
		}, []string{"path"})
}

func (t *listDir) Invoke(args map[string]any) (Result, error) {
	rel, err := stringArg(args, "path")
	if err != nil {
		return nil, err
	}
	abs, err := resolvePath(t.root, rel)
	if err != nil {
		return nil, err
	}
	entries, err := os.ReadDir(abs)
	if err != nil {
		return nil, fmt.Errorf("listing %s: %w", rel, err)
	}
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() {
			name += "/"
		}
		names = append(names, name)
	}
	return Result{"path": rel, "entries": names}, nil
}

// --- search ---

type search struct{ root string }

func (t *search) Name() string             { return "search" }
func (t *search) Safety() model.ToolSafety { return model.SafetySafe }

func (t *search) Schema() json.RawMessage {
	return functionSchema("search", "Search file contents for a literal string.",
		map[string]any{
			"query": map[string]any{"type": "string", "description": "Literal text to look for."},
		}, []string{"query"})
}

func (t *search) Invoke(args map[string]any) (Result, error) {
	query, err := stringArg(args, "query")
	if err != nil {
		return nil, err
	}
	if query == "" {
		return nil, fmt.Errorf("query must not be empty")
	}

	var hits []string
	err = filepath.WalkDir(t.root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		if d.IsDir() {
			if d.Name() == ".git" {
				return filepath.SkipDir
			}
			return nil
		}
		if len(hits) >= 200 {
			return filepath.SkipAll
		}
		data, err := os.ReadFile(path)
		if err != nil || bytes.IndexByte(data, 0) >= 0 {
			return nil
		}
		rel, _ := filepath.Rel(t.root, path)
		sc := bufio.NewScanner(bytes.NewReader(data))
		sc.Buffer(make([]byte, 0, 64*1024), 1024*1024)
		lineNo := 0
		for sc.Scan() {
			lineNo++
			if strings.Contains(sc.Text(), query) {
				hits = append(hits, fmt.Sprintf("%s:%d: %s", rel, lineNo, strings.TrimSpace(sc.Text())))
				if len(hits) >= 200 {
					break
				}
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return Result{"query": query, "matches": hits}, nil
}

// --- write_file ---

type writeFile struct{ root string }

func (t *writeFile) Name() string             { return "write_file" }
func (t *writeFile) Safety() model.ToolSafety { return model.SafetyDangerous }

func (t *writeFile) Schema() json.RawMessage {
	return functionSchema("write_file", "Create or overwrite a file with the given content.",
		map[string]any{
			"path":    map[string]any{"type": "string", "description": "File path relative to the repository root."},
			"content": map[string]any{"type": "string", "description": "Full new file content."},
		}, []string{"path", "content"})
}

func (t *writeFile) Invoke(args map[string]any) (Result, error) {
	rel, err := stringArg(args, "path")
	if err != nil {
		return nil, err
	}
	content, err := stringArg(args, "content")
	if err != nil {
		return nil, err
	}
	abs, err := resolvePath(t.root, rel)
	if err != nil {
		return nil, err
	}

	before := ""
	if data, err := os.ReadFile(abs); err == nil {
		before = string(data)
	}
	if err := os.MkdirAll(filepath.Dir(abs), 0o755); err != nil {
		return nil, fmt.Errorf("creating parent dir: %w", err)
	}
	if err := os.WriteFile(abs, []byte(content), 0o644); err != nil {
		return nil, fmt.Errorf("writing %s: %w", rel, err)
	}
	mode := "create"
	if before != "" {
		mode = "overwrite"
	}
	return Result{"path": rel, "before": before, "after": content, "mode": mode}, nil
}

// --- edit_file ---

type editFile struct{ root string }

func (t *editFile) Name() string             { return "edit_file" }
func (t *editFile) Safety() model.ToolSafety { return model.SafetyDangerous }

func (t *editFile) Schema() json.RawMessage {
	return functionSchema("edit_file", "Replace the first occurrence of old_text with new_text in a file.",
		map[string]any{
			"path":     map[string]any{"type": "string", "description": "File path relative to the repository root."},
			"old_text": map[string]any{"type": "string", "description": "Exact text to replace."},
			"new_text": map[string]any{"type": "string", "description": "Replacement text."},
		}, []string{"path", "old_text", "new_text"})
}

func (t *editFile) Invoke(args map[string]any) (Result, error) {
	rel, err := stringArg(args, "path")
	if err != nil {
		return nil, err
	}
	oldText, err := stringArg(args, "old_text")
	if err != nil {
		return nil, err
	}
	newText, err := stringArg(args, "new_text")
	if err != nil {
		return nil, err
	}
	abs, err := resolvePath(t.root, rel)
	if err != nil {
		return nil, err
	}

	data, err := os.ReadFile(abs)
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", rel, err)
	}
	before := string(data)
	if !strings.Contains(before, oldText) {
		return nil, fmt.Errorf("old_text not found in %s", rel)
	}
	after := strings.Replace(before, oldText, newText, 1)
	if err := os.WriteFile(abs, []byte(after), 0o644); err != nil {
		return nil, fmt.Errorf("writing %s: %w", rel, err)
	}
	return Result{"path": rel, "before": before, "after": after, "mode": "replace"}, nil
}

// --- shell ---

type shell struct{ root string }

func (t *shell) Name() string             { return "shell" }
func (t *shell) Safety() model.ToolSafety { return model.SafetyDangerous }

func (t *shell) Schema() json.RawMessage {
	return functionSchema("shell", "Run a shell command in the repository root.",
		map[string]any{
			"command": map[string]any{"type": "string", "description": "Command to pass to sh -c."},
		}, []string{"command"})
}

func (t *shell) Invoke(args map[string]any) (Result, error) {
	command, err := stringArg(args, "command")
	if err != nil {
		return nil, err
	}

	cmd := exec.Command("sh", "-c", command)
	cmd.Dir = t.root
	var out bytes.Buffer
	cmd.Stdout = &out
	cmd.Stderr = &out

	start := time.Now()
	runErr := cmd.Run()
	res := Result{
		"command":     command,
		"output":      clip(out.String()),
		"duration_ms": time.Since(start).Milliseconds(),
	}
	if runErr != nil {
		if exitErr, ok := runErr.(*exec.ExitError); ok {
			res["exit_code"] = exitErr.ExitCode()
			return res, nil
		}
		return nil, fmt.Errorf("running command: %w", runErr)
	}
	res["exit_code"] = 0
	return res, nil
}
