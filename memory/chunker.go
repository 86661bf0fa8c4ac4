// Package memory indexes the working tree into semantic code chunks and
// retrieves the ones relevant to a query. Healing prompts use it to show
// the model real surrounding code instead of just a diff.
package memory

import (
	"fmt"
	"go/ast"
	"go/parser"
	"go/token"
	"path/filepath"
	"regexp"
	"strings"
)

// Chunk represents a semantic unit of code extracted from a source file.
type Chunk struct {
	FilePath   string
	ChunkType  string // "function", "method", "class", "struct", "interface", "preamble", "block"
	SymbolName string
	StartLine  int
	EndLine    int
	Content    string
}

// ChunkFile parses a source file and returns semantic chunks.
// Go files use the stdlib AST parser; other languages fall back to
// regex-based extraction.
func ChunkFile(filePath string, source []byte) []Chunk {
	switch strings.ToLower(filepath.Ext(filePath)) {
	case ".go":
		return chunkGo(filePath, source)
	case ".py":
		return chunkByRegex(filePath, source, pythonPatterns)
	case ".js", ".jsx", ".ts", ".tsx":
		return chunkByRegex(filePath, source, jsPatterns)
	case ".rs":
		return chunkByRegex(filePath, source, rustPatterns)
	default:
		return chunkByLines(filePath, source, 60)
	}
}

func chunkGo(filePath string, source []byte) []Chunk {
	fset := token.NewFileSet()
	f, err := parser.ParseFile(fset, filePath, source, parser.ParseComments)
	if err != nil {
		return chunkByLines(filePath, source, 60)
	}

	lines := strings.Split(string(source), "\n")
	var chunks []Chunk

	for _, decl := range f.Decls {
		switch d := decl.(type) {
		case *ast.FuncDecl:
			start := fset.Position(d.Pos()).Line
			end := fset.Position(d.End()).Line
			name := d.Name.Name
			chunkType := "function"
			if d.Recv != nil && len(d.Recv.List) > 0 {
				chunkType = "method"
				if recv := exprName(d.Recv.List[0].Type); recv != "" {
					name = recv + "." + name
				}
			}
			chunks = append(chunks, Chunk{
				FilePath:   filePath,
				ChunkType:  chunkType,
				SymbolName: name,
				StartLine:  start,
				EndLine:    end,
				Content:    extractLines(lines, start, end),
			})

		case *ast.GenDecl:
			for _, spec := range d.Specs {
				ts, ok := spec.(*ast.TypeSpec)
				if !ok {
					continue
				}
				chunkType := "type"
				switch ts.Type.(type) {
				case *ast.StructType:
					chunkType = "struct"
				case *ast.InterfaceType:
					chunkType = "interface"
				}
				start := fset.Position(d.Pos()).Line
				end := fset.Position(d.End()).Line
				chunks = append(chunks, Chunk{
					FilePath:   filePath,
					ChunkType:  chunkType,
					SymbolName: ts.Name.Name,
					StartLine:  start,
					EndLine:    end,
					Content:    extractLines(lines, start, end),
				})
			}
		}
	}

	if len(chunks) == 0 {
		return chunkByLines(filePath, source, 60)
	}
	return chunks
}

// exprName extracts the type name from a receiver expression (handles *T and T).
func exprName(expr ast.Expr) string {
	switch e := expr.(type) {
	case *ast.Ident:
		return e.Name
	case *ast.StarExpr:
		return exprName(e.X)
	default:
		return ""
	}
}

// --- Regex-based chunker for non-Go languages ---

type langPattern struct {
	chunkType string
	pattern   *regexp.Regexp
}

var pythonPatterns = []langPattern{
	{"class", regexp.MustCompile(`^class\s+(\w+)`)},
	{"function", regexp.MustCompile(`^(?:async\s+)?def\s+(\w+)`)},
	{"method", regexp.MustCompile(`^\s+(?:async\s+)?def\s+(\w+)`)},
}

var jsPatterns = []langPattern{
	{"class", regexp.MustCompile(`^(?:export\s+)?class\s+(\w+)`)},
	{"function", regexp.MustCompile(`^(?:export\s+)?(?:async\s+)?function\s+(\w+)`)},
	{"function", regexp.MustCompile(`^(?:export\s+)?(?:const|let|var)\s+(\w+)\s*=\s*(?:async\s+)?\(`)},
}

var rustPatterns = []langPattern{
	{"struct", regexp.MustCompile(`^(?:pub\s+)?struct\s+(\w+)`)},
	{"function", regexp.MustCompile(`^(?:pub\s+)?(?:async\s+)?fn\s+(\w+)`)},
	{"trait", regexp.MustCompile(`^(?:pub\s+)?trait\s+(\w+)`)},
}

func chunkByRegex(filePath string, source []byte, patterns []langPattern) []Chunk {
	lines := strings.Split(string(source), "\n")
	var chunks []Chunk
	var current *Chunk

	for i, line := range lines {
		lineNum := i + 1
		for _, p := range patterns {
			if m := p.pattern.FindStringSubmatch(line); m != nil {
				if current != nil {
					current.Content = extractLines(lines, current.StartLine, current.EndLine)
					chunks = append(chunks, *current)
				}
				current = &Chunk{
					FilePath:   filePath,
					ChunkType:  p.chunkType,
					SymbolName: m[1],
					StartLine:  lineNum,
					EndLine:    lineNum,
				}
				break
			}
		}
		if current != nil {
			current.EndLine = lineNum
		}
	}
	if current != nil {
		current.Content = extractLines(lines, current.StartLine, current.EndLine)
		chunks = append(chunks, *current)
	}

	if len(chunks) == 0 {
		return chunkByLines(filePath, source, 60)
	}
	return chunks
}

// --- Line-based fallback ---

func chunkByLines(filePath string, source []byte, maxLines int) []Chunk {
	lines := strings.Split(string(source), "\n")
	if len(lines) == 0 {
		return nil
	}

	var chunks []Chunk
	for i := 0; i < len(lines); i += maxLines {
		end := i + maxLines
		if end > len(lines) {
			end = len(lines)
		}
		content := strings.TrimRight(strings.Join(lines[i:end], "\n"), "\n ")
		if content == "" {
			continue
		}
		chunks = append(chunks, Chunk{
			FilePath:   filePath,
			ChunkType:  "block",
			SymbolName: fmt.Sprintf("lines_%d_%d", i+1, end),
			StartLine:  i + 1,
			EndLine:    end,
			Content:    content,
		})
	}
	return chunks
}

func extractLines(lines []string, start, end int) string {
	if start < 1 {
		start = 1
	}
	if end > len(lines) {
		end = len(lines)
	}
	if start > end {
		return ""
	}
	return strings.Join(lines[start-1:end], "\n")
}

// IsIndexable reports whether the file should be indexed.
func IsIndexable(path string) bool {
	skipPaths := []string{
		"node_modules/", "vendor/", ".git/", "__pycache__/",
		".venv/", "venv/", "dist/", "build/",
	}
	for _, skip := range skipPaths {
		if strings.Contains(path, skip) {
			return false
		}
	}

	switch strings.ToLower(filepath.Ext(path)) {
	case ".go", ".py", ".js", ".jsx", ".ts", ".tsx", ".rs",
		".java", ".rb", ".c", ".h", ".cpp", ".cs", ".sh",
		".yaml", ".yml", ".md", ".sql", ".toml":
		return true
	}
	return false
}
