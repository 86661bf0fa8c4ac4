package memory

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestChunkGoFile(t *testing.T) {
	source := []byte(`package demo

type Store struct {
	db int
}

type Reader interface {
	Read() error
}

func Open(path string) (*Store, error) {
	return nil, nil
}

func (s *Store) Close() error {
	return nil
}
`)
	chunks := ChunkFile("store.go", source)

	byName := map[string]Chunk{}
	for _, c := range chunks {
		byName[c.SymbolName] = c
	}
	if c := byName["Store"]; c.ChunkType != "struct" {
		t.Errorf("Store: expected struct, got %q", c.ChunkType)
	}
	if c := byName["Reader"]; c.ChunkType != "interface" {
		t.Errorf("Reader: expected interface, got %q", c.ChunkType)
	}
	if c := byName["Open"]; c.ChunkType != "function" {
		t.Errorf("Open: expected function, got %q", c.ChunkType)
	}
	c, ok := byName["Store.Close"]
	if !ok || c.ChunkType != "method" {
		t.Fatalf("Store.Close: expected method, got %+v", c)
	}
	if !strings.Contains(c.Content, "func (s *Store) Close()") {
		t.Fatalf("method chunk missing body: %q", c.Content)
	}
	if c.StartLine <= 0 || c.EndLine < c.StartLine {
		t.Fatalf("bad line range %d-%d", c.StartLine, c.EndLine)
	}
}

func TestChunkPythonFile(t *testing.T) {
	source := []byte(`import os

class Account:
    def deposit(self, amount):
        self.balance += amount

def make_account():
    return Account()
`)
	chunks := ChunkFile("account.py", source)

	var names []string
	for _, c := range chunks {
		names = append(names, c.ChunkType+":"+c.SymbolName)
	}
	joined := strings.Join(names, " ")
	for _, want := range []string{"class:Account", "method:deposit", "function:make_account"} {
		if !strings.Contains(joined, want) {
			t.Errorf("missing chunk %s in %v", want, names)
		}
	}
}

func TestChunkUnknownExtensionFallsBackToBlocks(t *testing.T) {
	var b strings.Builder
	for i := 0; i < 130; i++ {
		b.WriteString("line\n")
	}
	chunks := ChunkFile("notes.txt", []byte(b.String()))
	if len(chunks) < 2 {
		t.Fatalf("expected multiple line blocks, got %d", len(chunks))
	}
	for _, c := range chunks {
		if c.ChunkType != "block" {
			t.Fatalf("expected block chunks, got %q", c.ChunkType)
		}
	}
}

func TestChunkInvalidGoFallsBack(t *testing.T) {
	chunks := ChunkFile("broken.go", []byte("this is not go code {{{"))
	if len(chunks) == 0 {
		t.Fatal("expected fallback chunks for unparsable Go")
	}
	if chunks[0].ChunkType != "block" {
		t.Fatalf("expected block fallback, got %q", chunks[0].ChunkType)
	}
}

func TestIsIndexable(t *testing.T) {
	yes := []string{"main.go", "app.py", "lib/util.ts", "README.md", "schema.sql"}
	no := []string{"photo.png", "node_modules/pkg/index.js", "vendor/lib.go", ".git/config", "binary"}
	for _, p := range yes {
		if !IsIndexable(p) {
			t.Errorf("%s should be indexable", p)
		}
	}
	for _, p := range no {
		if IsIndexable(p) {
			t.Errorf("%s should not be indexable", p)
		}
	}
}

func newTestIndex(t *testing.T) *Index {
	t.Helper()
	ix, err := Open(filepath.Join(t.TempDir(), "index.db"))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { ix.Close() })
	return ix
}

func seedRepo(t *testing.T) string {
	t.Helper()
	root := t.TempDir()
	files := map[string]string{
		"src/auth.py":       "def login(user, password):\n    return verify(user, password)\n",
		"src/billing.py":    "def charge(account, cents):\n    return gateway.charge(account, cents)\n",
		"main.go":           "package main\n\nfunc main() {\n\tprintln(\"hi\")\n}\n",
		"node_modules/x.js": "function hidden() {}\n",
		"image.png":         "\x89PNG",
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

func TestIndexBuildAndStats(t *testing.T) {
	ix := newTestIndex(t)
	stats, err := ix.Build(seedRepo(t))
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	if stats.TotalFiles != 3 {
		t.Fatalf("expected 3 indexed files, got %d", stats.TotalFiles)
	}
	if stats.TotalChunks == 0 {
		t.Fatal("expected chunks")
	}

	persisted, err := ix.GetStats()
	if err != nil {
		t.Fatalf("GetStats: %v", err)
	}
	if persisted.TotalFiles != stats.TotalFiles || persisted.TotalChunks != stats.TotalChunks {
		t.Fatalf("persisted stats differ: %+v vs %+v", persisted, stats)
	}
	if persisted.LastIndexed.IsZero() {
		t.Fatal("last indexed not recorded")
	}
}

func TestIndexSearch(t *testing.T) {
	ix := newTestIndex(t)
	if _, err := ix.Build(seedRepo(t)); err != nil {
		t.Fatalf("Build: %v", err)
	}

	results, err := ix.Search("login password", 5)
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(results) == 0 {
		t.Fatal("expected results")
	}
	found := false
	for _, c := range results {
		if c.FilePath == filepath.Join("src", "auth.py") && c.SymbolName == "login" {
			found = true
		}
	}
	if !found {
		t.Fatalf("login chunk not found in %+v", results)
	}

	// Punctuation-heavy queries are sanitized, not passed raw.
	if _, err := ix.Search(`"login" + (password)`, 5); err != nil {
		t.Fatalf("Search with punctuation: %v", err)
	}

	empty, err := ix.Search("***", 5)
	if err != nil || empty != nil {
		t.Fatalf("empty sanitized query must return nothing: %v %v", empty, err)
	}
}

func TestIndexRebuildReplacesChunks(t *testing.T) {
	ix := newTestIndex(t)
	root := seedRepo(t)
	if _, err := ix.Build(root); err != nil {
		t.Fatal(err)
	}
	if err := os.Remove(filepath.Join(root, "src", "billing.py")); err != nil {
		t.Fatal(err)
	}
	stats, err := ix.Build(root)
	if err != nil {
		t.Fatal(err)
	}
	if stats.TotalFiles != 2 {
		t.Fatalf("expected 2 files after rebuild, got %d", stats.TotalFiles)
	}

	results, err := ix.Search("charge gateway", 5)
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	for _, c := range results {
		if c.SymbolName == "charge" {
			t.Fatal("stale chunk survived rebuild")
		}
	}
}

func TestSanitizeFTS(t *testing.T) {
	if got := sanitizeFTS("find the login"); got != "find OR the OR login" {
		t.Fatalf("unexpected query %q", got)
	}
	if got := sanitizeFTS(`"*(:^~+-)"`); got != "" {
		t.Fatalf("expected empty query, got %q", got)
	}
}
