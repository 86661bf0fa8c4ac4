// Package heal generates and self-heals tests by iterating model calls
// against real test runs until they pass or a retry budget is exhausted.
// Three pipelines share one retry discipline: single-candidate healing,
// whole-suite healing, and parallel multi-candidate healing in disposable
// sandboxes.
package heal

import (
	"crypto/sha256"
	"encoding/hex"
	"sync"

	"github.com/codemender/codemender/model"
)

// SemanticKey identifies a candidate by content rather than file identity:
// the same (file, symbol, new code) always yields the same cache key.
type SemanticKey struct {
	File     string
	Symbol   string
	CodeHash string
}

// KeyFromCandidate derives the semantic key for a candidate.
func KeyFromCandidate(c *model.TestCandidate) SemanticKey {
	return SemanticKey{
		File:     c.File,
		Symbol:   c.Symbol,
		CodeHash: hashString(c.NewCode),
	}
}

// CacheKey returns the stable string form used everywhere.
func (k SemanticKey) CacheKey() string {
	h := sha256.New()
	h.Write([]byte(k.File))
	if k.Symbol != "" {
		h.Write([]byte(k.Symbol))
	}
	h.Write([]byte(k.CodeHash))
	return hex.EncodeToString(h.Sum(nil))
}

func hashString(s string) string {
	sum := sha256.Sum256([]byte(s))
	return hex.EncodeToString(sum[:])
}

// SemanticCache maps cache keys to the path of a previously generated,
// passing test. At most one live entry per key; reinsertion overwrites.
// Entries are inserted only at the moment a test actually passed. The cache
// is never invalidated when production code changes afterwards; a stale hit
// is detected by re-running the cached test, not by eviction.
type SemanticCache struct {
	mu sync.Mutex
	m  map[string]string
}

// NewSemanticCache returns an empty cache.
func NewSemanticCache() *SemanticCache {
	return &SemanticCache{m: make(map[string]string)}
}

// Get returns the path of an already generated test, if any.
func (c *SemanticCache) Get(key string) (string, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	path, ok := c.m[key]
	return path, ok
}

// Insert stores the path of a passing test.
func (c *SemanticCache) Insert(key, testPath string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.m[key] = testPath
}

// Len reports the number of live entries.
func (c *SemanticCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.m)
}

// SuiteEntry records one healed failing test, keyed by qualified test name.
type SuiteEntry struct {
	TestName          string `json:"test_name"`
	TestPath          string `json:"test_path"`
	LastGeneratedTest string `json:"last_generated_test"`
	Passed            bool   `json:"passed"`
}

// SuiteCache is the full-suite repair cache. An entry exists only if the
// test it names passed at the moment of insertion.
type SuiteCache struct {
	mu sync.Mutex
	m  map[string]SuiteEntry
}

// NewSuiteCache returns an empty cache.
func NewSuiteCache() *SuiteCache {
	return &SuiteCache{m: make(map[string]SuiteEntry)}
}

// Get returns the cached entry for a qualified test name.
func (c *SuiteCache) Get(testName string) (SuiteEntry, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.m[testName]
	return e, ok
}

// Insert stores or overwrites an entry.
func (c *SuiteCache) Insert(e SuiteEntry) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.m[e.TestName] = e
}

// Remove drops an entry, usually when a cached test no longer passes.
func (c *SuiteCache) Remove(testName string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.m, testName)
}

// Clear empties the cache.
func (c *SuiteCache) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.m = make(map[string]SuiteEntry)
}

// Entries returns a snapshot of all entries.
func (c *SuiteCache) Entries() []SuiteEntry {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]SuiteEntry, 0, len(c.m))
	for _, e := range c.m {
		out = append(out, e)
	}
	return out
}
