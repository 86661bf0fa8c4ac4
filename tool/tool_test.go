package tool

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/codemender/codemender/model"
)

func newTestRegistry(t *testing.T) (*Registry, string) {
	t.Helper()
	root := t.TempDir()
	for rel, content := range map[string]string{
		"README.md":  "# demo project\n",
		"src/app.py": "def handler():\n    return 42\n",
	} {
		path := filepath.Join(root, rel)
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			t.Fatal(err)
		}
		if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
			t.Fatal(err)
		}
	}
	return NewRegistry(root), root
}

func TestRegistrySafetyClassification(t *testing.T) {
	r, _ := newTestRegistry(t)
	safe := []string{"read_file", "list_dir", "search"}
	dangerous := []string{"write_file", "edit_file", "shell"}
	for _, name := range safe {
		if s, ok := r.Safety(name); !ok || s != model.SafetySafe {
			t.Errorf("%s: expected safe, got %q %v", name, s, ok)
		}
	}
	for _, name := range dangerous {
		if s, ok := r.Safety(name); !ok || s != model.SafetyDangerous {
			t.Errorf("%s: expected dangerous, got %q %v", name, s, ok)
		}
	}
	if _, ok := r.Safety("nope"); ok {
		t.Error("unknown tool must not report a safety class")
	}
}

func TestSchemasSortedAndWellFormed(t *testing.T) {
	r, _ := newTestRegistry(t)
	schemas := r.Schemas()
	if len(schemas) != 6 {
		t.Fatalf("expected 6 schemas, got %d", len(schemas))
	}
	var prev string
	for _, raw := range schemas {
		var s struct {
			Type string `json:"type"`
			Name string `json:"name"`
		}
		if err := json.Unmarshal(raw, &s); err != nil {
			t.Fatalf("schema not valid JSON: %v", err)
		}
		if s.Type != "function" || s.Name == "" {
			t.Fatalf("malformed schema: %s", raw)
		}
		if s.Name < prev {
			t.Fatalf("schemas out of order: %s after %s", s.Name, prev)
		}
		prev = s.Name
	}
}

func TestReadFile(t *testing.T) {
	r, _ := newTestRegistry(t)
	res, err := r.Call("read_file", map[string]any{"path": "README.md"})
	if err != nil {
		t.Fatalf("read_file: %v", err)
	}
	if res["content"] != "# demo project\n" {
		t.Fatalf("unexpected content %q", res["content"])
	}

	if _, err := r.Call("read_file", map[string]any{"path": "missing.txt"}); err == nil {
		t.Fatal("missing file must error")
	}
	if _, err := r.Call("read_file", map[string]any{}); err == nil {
		t.Fatal("missing path argument must error")
	}
}

func TestPathEscapeRejected(t *testing.T) {
	r, _ := newTestRegistry(t)
	// Clean("/..") collapses the traversal inside the root; an absolute
	// path pointing elsewhere must still be rejected or contained.
	res, err := r.Call("read_file", map[string]any{"path": "../../etc/passwd"})
	if err == nil {
		// The traversal was neutralized; it must have stayed inside the root.
		if content, ok := res["content"].(string); ok && strings.Contains(content, "root:") {
			t.Fatal("path escape leaked host file")
		}
	}
}

func TestListDir(t *testing.T) {
	r, _ := newTestRegistry(t)
	res, err := r.Call("list_dir", map[string]any{"path": "."})
	if err != nil {
		t.Fatalf("list_dir: %v", err)
	}
	entries, _ := res["entries"].([]string)
	joined := strings.Join(entries, " ")
	if !strings.Contains(joined, "README.md") || !strings.Contains(joined, "src/") {
		t.Fatalf("unexpected entries %v", entries)
	}
}

func TestSearch(t *testing.T) {
	r, _ := newTestRegistry(t)
	res, err := r.Call("search", map[string]any{"query": "return 42"})
	if err != nil {
		t.Fatalf("search: %v", err)
	}
	matches, _ := res["matches"].([]string)
	if len(matches) != 1 || !strings.Contains(matches[0], "src/app.py:2") {
		t.Fatalf("unexpected matches %v", matches)
	}

	if _, err := r.Call("search", map[string]any{"query": ""}); err == nil {
		t.Fatal("empty query must error")
	}
}

func TestWriteFileCreateAndOverwrite(t *testing.T) {
	r, root := newTestRegistry(t)

	res, err := r.Call("write_file", map[string]any{"path": "new/file.txt", "content": "v1"})
	if err != nil {
		t.Fatalf("write_file: %v", err)
	}
	if res["mode"] != "create" || res["before"] != "" || res["after"] != "v1" {
		t.Fatalf("unexpected result %v", res)
	}
	data, _ := os.ReadFile(filepath.Join(root, "new", "file.txt"))
	if string(data) != "v1" {
		t.Fatalf("file not written: %q", data)
	}

	res, err = r.Call("write_file", map[string]any{"path": "new/file.txt", "content": "v2"})
	if err != nil {
		t.Fatalf("overwrite: %v", err)
	}
	if res["mode"] != "overwrite" || res["before"] != "v1" {
		t.Fatalf("unexpected overwrite result %v", res)
	}
}

func TestEditFile(t *testing.T) {
	r, root := newTestRegistry(t)

	res, err := r.Call("edit_file", map[string]any{
		"path": "src/app.py", "old_text": "return 42", "new_text": "return 43",
	})
	if err != nil {
		t.Fatalf("edit_file: %v", err)
	}
	if res["mode"] != "replace" {
		t.Fatalf("unexpected result %v", res)
	}
	data, _ := os.ReadFile(filepath.Join(root, "src", "app.py"))
	if !strings.Contains(string(data), "return 43") {
		t.Fatalf("edit not applied: %q", data)
	}

	if _, err := r.Call("edit_file", map[string]any{
		"path": "src/app.py", "old_text": "not there", "new_text": "x",
	}); err == nil {
		t.Fatal("missing old_text must error")
	}
}

func TestShell(t *testing.T) {
	r, _ := newTestRegistry(t)

	res, err := r.Call("shell", map[string]any{"command": "echo hello"})
	if err != nil {
		t.Fatalf("shell: %v", err)
	}
	if res["exit_code"] != 0 || !strings.Contains(res["output"].(string), "hello") {
		t.Fatalf("unexpected result %v", res)
	}

	// Non-zero exit is a result, not an error.
	res, err = r.Call("shell", map[string]any{"command": "exit 3"})
	if err != nil {
		t.Fatalf("shell exit 3: %v", err)
	}
	if res["exit_code"] != 3 {
		t.Fatalf("expected exit code 3, got %v", res["exit_code"])
	}
}

func TestCallUnknownTool(t *testing.T) {
	r, _ := newTestRegistry(t)
	if _, err := r.Call("teleport", nil); err == nil {
		t.Fatal("unknown tool must error")
	}
}
