package heal

import (
	"bufio"
	"os"
	"path/filepath"
	"regexp"
	"strings"
)

// FileResolver builds failure context straight from the repository tree:
// the failing test's source plus a best-guess at the implementation it
// calls, found by scanning the test body for call sites and searching
// production files for a matching definition.
type FileResolver struct{}

func (FileResolver) Resolve(root string, failure FailingTest) (*FailureContext, error) {
	fc := &FailureContext{
		TestName:  failure.Name,
		TestPath:  failure.Path,
		Traceback: failure.Output,
	}
	src, err := os.ReadFile(filepath.Join(root, failure.Path))
	if err != nil {
		// Missing test file is survivable; the pipeline regenerates it.
		return fc, nil
	}
	fc.TestSource = string(src)

	shortName := failure.Name
	if i := strings.LastIndex(shortName, "::"); i >= 0 {
		shortName = shortName[i+2:]
	}
	body := extractTestBody(fc.TestSource, shortName)
	fn := findCalledFunction(body)
	if fn == "" {
		return fc, nil
	}
	if path, source := searchForFunction(root, fn); path != "" {
		fc.ImplPath = path
		fc.ImplSource = source
		fc.FunctionName = fn
	}
	return fc, nil
}

// extractTestBody returns the source block of one def inside a test file.
func extractTestBody(source, testName string) string {
	lines := strings.Split(source, "\n")
	start := -1
	for i, line := range lines {
		trimmed := strings.TrimSpace(line)
		if strings.HasPrefix(trimmed, "def "+testName+"(") || strings.HasPrefix(trimmed, "async def "+testName+"(") {
			start = i
			break
		}
	}
	if start < 0 {
		return source
	}
	indent := len(lines[start]) - len(strings.TrimLeft(lines[start], " \t"))
	end := len(lines)
	for i := start + 1; i < len(lines); i++ {
		trimmed := strings.TrimSpace(lines[i])
		if trimmed == "" {
			continue
		}
		cur := len(lines[i]) - len(strings.TrimLeft(lines[i], " \t"))
		if cur <= indent {
			end = i
			break
		}
	}
	return strings.Join(lines[start:end], "\n")
}

var callRe = regexp.MustCompile(`([A-Za-z_][A-Za-z0-9_]*)\s*\(`)

// assertion-style and builtin names that are never the function under test
var skipCalls = map[string]bool{
	"assert": true, "assertEqual": true, "assertTrue": true, "assertFalse": true,
	"assertRaises": true, "assertIn": true, "assertIsNone": true,
	"print": true, "len": true, "str": true, "int": true, "float": true,
	"list": true, "dict": true, "set": true, "range": true, "isinstance": true,
	"pytest": true, "raises": true, "approx": true, "fixture": true,
}

// findCalledFunction picks the first plausible function-under-test call
// out of a test body.
func findCalledFunction(body string) string {
	for _, m := range callRe.FindAllStringSubmatch(body, -1) {
		name := m[1]
		if skipCalls[name] || strings.HasPrefix(name, "test_") || strings.HasPrefix(name, "assert") {
			continue
		}
		return name
	}
	return ""
}

// searchForFunction scans production source files for a definition of fn,
// skipping VCS metadata, virtualenvs and test directories.
func searchForFunction(root, fn string) (relPath, source string) {
	defRe := regexp.MustCompile(`(?m)^\s*(?:async\s+)?def\s+` + regexp.QuoteMeta(fn) + `\s*\(`)
	var foundPath string
	filepath.WalkDir(root, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		name := d.Name()
		if d.IsDir() {
			switch name {
			case ".git", "venv", ".venv", "node_modules", "__pycache__", "tests", "test":
				return filepath.SkipDir
			}
			return nil
		}
		if !strings.HasSuffix(name, ".py") || strings.HasPrefix(name, "test_") {
			return nil
		}
		if fileContainsPattern(path, defRe) {
			foundPath = path
			return filepath.SkipAll
		}
		return nil
	})
	if foundPath == "" {
		return "", ""
	}
	data, err := os.ReadFile(foundPath)
	if err != nil {
		return "", ""
	}
	rel, err := filepath.Rel(root, foundPath)
	if err != nil {
		rel = foundPath
	}
	return rel, string(data)
}

func fileContainsPattern(path string, re *regexp.Regexp) bool {
	f, err := os.Open(path)
	if err != nil {
		return false
	}
	defer f.Close()
	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 64*1024), 1024*1024)
	for sc.Scan() {
		if re.MatchString(sc.Text()) {
			return true
		}
	}
	return false
}
