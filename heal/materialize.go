package heal

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/codemender/codemender/model"
)

// TestsRoot discovers where generated tests belong: an existing "tests" or
// "test" directory under root, or a freshly created "tests" directory.
func TestsRoot(root string) (string, error) {
	for _, name := range []string{"tests", "test"} {
		dir := filepath.Join(root, name)
		if info, err := os.Stat(dir); err == nil && info.IsDir() {
			return dir, nil
		}
	}
	dir := filepath.Join(root, "tests")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("create tests dir: %w", err)
	}
	return dir, nil
}

// CandidatePath returns the on-disk path for a candidate's generated test.
func CandidatePath(root string, c *model.TestCandidate) (string, error) {
	dir, err := TestsRoot(root)
	if err != nil {
		return "", err
	}
	base := c.Symbol
	if base == "" {
		base = strings.TrimSuffix(filepath.Base(c.File), filepath.Ext(c.File))
	}
	return filepath.Join(dir, "test_"+sanitizeName(base)+".py"), nil
}

// sanitizeName maps an arbitrary symbol to a safe file-name fragment.
func sanitizeName(s string) string {
	var b strings.Builder
	for _, r := range strings.ToLower(s) {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9':
			b.WriteRune(r)
		default:
			b.WriteRune('_')
		}
	}
	out := strings.Trim(b.String(), "_")
	if out == "" {
		out = "generated"
	}
	return out
}

// WriteTest writes generated code to path, creating parent directories.
// When the file already exists and the code is already present, the file is
// left untouched so repeated materialization is idempotent. Otherwise an
// existing file is appended to rather than clobbered.
func WriteTest(path, code string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create test dir: %w", err)
	}
	existing, err := os.ReadFile(path)
	if err != nil {
		if !os.IsNotExist(err) {
			return fmt.Errorf("read existing test: %w", err)
		}
		if err := os.WriteFile(path, []byte(code+"\n"), 0o644); err != nil {
			return fmt.Errorf("write test: %w", err)
		}
		return nil
	}
	if strings.Contains(string(existing), code) {
		return nil
	}
	f, err := os.OpenFile(path, os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("open test for append: %w", err)
	}
	defer f.Close()
	if _, err := f.WriteString("\n\n" + code + "\n"); err != nil {
		return fmt.Errorf("append test: %w", err)
	}
	return nil
}

// OverwriteTest replaces the file at path with code, creating parents.
// Suite healing uses this because the failing file itself is being repaired.
func OverwriteTest(path, code string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create test dir: %w", err)
	}
	if err := os.WriteFile(path, []byte(code+"\n"), 0o644); err != nil {
		return fmt.Errorf("write test: %w", err)
	}
	return nil
}
