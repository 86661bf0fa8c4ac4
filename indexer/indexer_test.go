package indexer

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func seedRepo(t *testing.T) string {
	t.Helper()
	root := t.TempDir()
	files := map[string]string{
		"README.md":              "# sample\n\nA sample project.\n",
		"go.mod":                 "module example.com/sample\n\ngo 1.22\n",
		"main.go":                "package main\n\nfunc main() {}\n",
		"internal/db/db.go":      "package db\n\ntype Conn struct{}\n\nfunc Open() *Conn { return nil }\n",
		"scripts/run.py":         "def run():\n    pass\n",
		"node_modules/x/x.js":    "function x() {}\n",
		".git/HEAD":              "ref: refs/heads/main\n",
		"deep/a/b/c/ignored.txt": "too deep for the tree\n",
	}
	for rel, content := range files {
		path := filepath.Join(root, rel)
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			t.Fatal(err)
		}
		if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
			t.Fatal(err)
		}
	}
	return root
}

func TestIndexBuildsTreeAndLanguages(t *testing.T) {
	rc, err := Index(seedRepo(t))
	if err != nil {
		t.Fatalf("Index: %v", err)
	}

	for _, want := range []string{"README.md", "main.go", "internal/", "db.go"} {
		if !strings.Contains(rc.Tree, want) {
			t.Errorf("tree missing %s:\n%s", want, rc.Tree)
		}
	}
	for _, absent := range []string{"node_modules", ".git", "ignored.txt"} {
		if strings.Contains(rc.Tree, absent) {
			t.Errorf("tree must not contain %s:\n%s", absent, rc.Tree)
		}
	}

	if rc.Languages["Go"] == 0 {
		t.Fatalf("Go missing from languages: %v", rc.Languages)
	}
	if _, ok := rc.Languages["JavaScript"]; ok {
		t.Fatal("skipped node_modules must not count toward languages")
	}
}

func TestIndexCollectsKeyFilesAndSymbols(t *testing.T) {
	rc, err := Index(seedRepo(t))
	if err != nil {
		t.Fatalf("Index: %v", err)
	}

	if !strings.Contains(rc.KeyFiles["README.md"], "# sample") {
		t.Fatalf("README not captured: %v", rc.KeyFiles)
	}
	if !strings.Contains(rc.KeyFiles["go.mod"], "module example.com/sample") {
		t.Fatalf("go.mod not captured: %v", rc.KeyFiles)
	}

	syms := rc.Symbols["internal/db/db.go"]
	var names []string
	for _, s := range syms {
		names = append(names, s.Kind+":"+s.Name)
	}
	joined := strings.Join(names, " ")
	if !strings.Contains(joined, "struct:Conn") || !strings.Contains(joined, "function:Open") {
		t.Fatalf("symbols missing: %v", names)
	}
	for _, s := range syms {
		if s.Line <= 0 {
			t.Fatalf("symbol without line number: %+v", s)
		}
	}
}

func TestKeyFilesOnlyAtRoot(t *testing.T) {
	root := seedRepo(t)
	if err := os.MkdirAll(filepath.Join(root, "nested"), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(root, "nested", "README.md"), []byte("nested"), 0o644); err != nil {
		t.Fatal(err)
	}
	rc, err := Index(root)
	if err != nil {
		t.Fatal(err)
	}
	if len(rc.KeyFiles) != 2 {
		t.Fatalf("expected only root key files, got %v", rc.KeyFiles)
	}
}

func TestWriteContextFile(t *testing.T) {
	root := seedRepo(t)
	rc, err := WriteContextFile(root)
	if err != nil {
		t.Fatalf("WriteContextFile: %v", err)
	}
	if rc == nil {
		t.Fatal("nil context")
	}

	data, err := os.ReadFile(filepath.Join(root, ContextFileName))
	if err != nil {
		t.Fatalf("context file not written: %v", err)
	}
	var decoded RepoContext
	if err := json.Unmarshal(data, &decoded); err != nil {
		t.Fatalf("context file not valid JSON: %v", err)
	}
	if decoded.Tree == "" || len(decoded.Symbols) == 0 {
		t.Fatalf("context file incomplete: %+v", decoded)
	}

	// Reindexing must not list the context file itself.
	rc2, err := Index(root)
	if err != nil {
		t.Fatal(err)
	}
	if strings.Contains(rc2.Tree, ContextFileName) {
		t.Fatalf("context file leaked into its own tree:\n%s", rc2.Tree)
	}
}

func TestRepoContextString(t *testing.T) {
	rc := &RepoContext{
		Tree:      "main.go",
		Languages: map[string]int{"Go": 80, "Markdown": 20},
		KeyFiles:  map[string]string{"README.md": "# hi"},
	}
	s := rc.String()
	goIdx := strings.Index(s, "- Go: 80%")
	mdIdx := strings.Index(s, "- Markdown: 20%")
	if goIdx < 0 || mdIdx < 0 || goIdx > mdIdx {
		t.Fatalf("languages missing or unsorted:\n%s", s)
	}
	if !strings.Contains(s, "### File Tree") || !strings.Contains(s, "**README.md**") {
		t.Fatalf("sections missing:\n%s", s)
	}
}

func TestTruncateLines(t *testing.T) {
	s := strings.Repeat("x\n", 150)
	out := truncateLines(s, 100)
	if !strings.HasSuffix(out, "... (truncated)") {
		t.Fatalf("missing truncation marker: %q", out[len(out)-40:])
	}
	if truncateLines("a\nb", 100) != "a\nb" {
		t.Fatal("short input must pass through")
	}
}
