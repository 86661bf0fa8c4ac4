// Package indexer builds a structural summary of the working tree.
//
// The summary is written to .context.json at the repository root so the
// conversation agent can discover and read it with ordinary file tools:
// file tree, language breakdown, key config files and per-file symbols.
package indexer

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/codemender/codemender/memory"
)

// keyFileNames are config / entry-point files whose content is included
// (first ~100 lines) so the agent understands the project setup.
var keyFileNames = map[string]bool{
	"README.md":          true,
	"package.json":       true,
	"go.mod":             true,
	"pyproject.toml":     true,
	"Cargo.toml":         true,
	"Makefile":           true,
	"Dockerfile":         true,
	"docker-compose.yml": true,
	"compose.yml":        true,
	"requirements.txt":   true,
	"tsconfig.json":      true,
}

// maxTreeDepth limits the indented tree to the top N directory levels.
const maxTreeDepth = 3

// maxKeyFileLines caps how many lines of each key file are included.
const maxKeyFileLines = 100

// ContextFileName is the index file written at the repository root.
const ContextFileName = ".context.json"

// Symbol is one named declaration found in a source file.
type Symbol struct {
	Name string `json:"name"`
	Kind string `json:"kind"`
	Line int    `json:"line"`
}

// RepoContext holds the structural summary of a repository.
type RepoContext struct {
	Tree      string              `json:"tree"`      // indented file/directory listing
	Languages map[string]int      `json:"languages"` // language name -> percentage
	KeyFiles  map[string]string   `json:"key_files"` // filename -> content snippet
	Symbols   map[string][]Symbol `json:"symbols"`   // file path -> declarations
}

// String formats the context as a single block of text suitable for
// injection into a prompt.
func (rc *RepoContext) String() string {
	var b strings.Builder

	if len(rc.Languages) > 0 {
		b.WriteString("### Languages\n")
		type langPct struct {
			name string
			pct  int
		}
		var langs []langPct
		for name, pct := range rc.Languages {
			langs = append(langs, langPct{name, pct})
		}
		sort.Slice(langs, func(i, j int) bool { return langs[i].pct > langs[j].pct })
		for _, l := range langs {
			fmt.Fprintf(&b, "- %s: %d%%\n", l.name, l.pct)
		}
		b.WriteString("\n")
	}

	if rc.Tree != "" {
		fmt.Fprintf(&b, "### File Tree (top %d levels)\n```\n%s\n```\n\n", maxTreeDepth, rc.Tree)
	}

	if len(rc.KeyFiles) > 0 {
		b.WriteString("### Key Files\n")
		for name, content := range rc.KeyFiles {
			fmt.Fprintf(&b, "\n**%s**\n```\n%s\n```\n", name, content)
		}
	}

	return b.String()
}

// languagesByExt maps file extensions to display names.
var languagesByExt = map[string]string{
	".go":   "Go",
	".py":   "Python",
	".js":   "JavaScript",
	".jsx":  "JavaScript",
	".ts":   "TypeScript",
	".tsx":  "TypeScript",
	".rs":   "Rust",
	".java": "Java",
	".rb":   "Ruby",
	".c":    "C",
	".h":    "C",
	".cpp":  "C++",
	".md":   "Markdown",
	".sh":   "Shell",
	".yml":  "YAML",
	".yaml": "YAML",
	".sql":  "SQL",
}

// skipDirs are never descended into.
var skipDirs = map[string]bool{
	".git":         true,
	"node_modules": true,
	"vendor":       true,
	"__pycache__":  true,
	".venv":        true,
	"venv":         true,
}

// Index walks the tree at root and returns a structured RepoContext.
func Index(root string) (*RepoContext, error) {
	rc := &RepoContext{
		Languages: make(map[string]int),
		KeyFiles:  make(map[string]string),
		Symbols:   make(map[string][]Symbol),
	}

	langBytes := map[string]int{}
	var treeLines []string

	err := filepath.WalkDir(root, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		rel, relErr := filepath.Rel(root, path)
		if relErr != nil || rel == "." {
			return nil
		}
		rel = filepath.ToSlash(rel)

		if d.IsDir() {
			if skipDirs[d.Name()] || strings.HasPrefix(d.Name(), ".") {
				return filepath.SkipDir
			}
			if depth := strings.Count(rel, "/"); depth < maxTreeDepth {
				indent := strings.Repeat("  ", depth)
				treeLines = append(treeLines, indent+d.Name()+"/")
			}
			return nil
		}

		if d.Name() == ContextFileName {
			return nil
		}
		if depth := strings.Count(rel, "/"); depth < maxTreeDepth {
			indent := strings.Repeat("  ", depth)
			treeLines = append(treeLines, indent+d.Name())
		}

		info, err := d.Info()
		if err != nil {
			return nil
		}
		if lang, ok := languagesByExt[filepath.Ext(d.Name())]; ok {
			langBytes[lang] += int(info.Size())
		}

		if !strings.Contains(rel, "/") && keyFileNames[d.Name()] {
			if content, err := os.ReadFile(path); err == nil {
				rc.KeyFiles[rel] = truncateLines(string(content), maxKeyFileLines)
			}
		}

		if memory.IsIndexable(rel) && info.Size() <= 100*1024 {
			source, err := os.ReadFile(path)
			if err != nil {
				return nil
			}
			for _, chunk := range memory.ChunkFile(rel, source) {
				if chunk.SymbolName == "" {
					continue
				}
				rc.Symbols[rel] = append(rc.Symbols[rel], Symbol{
					Name: chunk.SymbolName,
					Kind: chunk.ChunkType,
					Line: chunk.StartLine,
				})
			}
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("walking %s: %w", root, err)
	}

	rc.Tree = strings.Join(treeLines, "\n")

	var total int
	for _, n := range langBytes {
		total += n
	}
	if total > 0 {
		for lang, n := range langBytes {
			if pct := (n * 100) / total; pct > 0 {
				rc.Languages[lang] = pct
			}
		}
	}

	return rc, nil
}

// WriteContextFile indexes root and writes the summary to .context.json
// at the repository root.
func WriteContextFile(root string) (*RepoContext, error) {
	rc, err := Index(root)
	if err != nil {
		return nil, err
	}
	data, err := json.MarshalIndent(rc, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("encoding context: %w", err)
	}
	if err := os.WriteFile(filepath.Join(root, ContextFileName), data, 0o644); err != nil {
		return nil, fmt.Errorf("writing %s: %w", ContextFileName, err)
	}
	return rc, nil
}

// truncateLines keeps only the first n lines of s.
func truncateLines(s string, n int) string {
	lines := strings.SplitN(s, "\n", n+1)
	if len(lines) > n {
		lines = lines[:n]
		lines = append(lines, "... (truncated)")
	}
	return strings.Join(lines, "\n")
}
