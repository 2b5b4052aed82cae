// Package corpus holds the set of files a scan analyzes and the builder
// that gathers them from a source file or a build directory.
package corpus

import (
	"path/filepath"
	"sort"
	"strings"
	"sync"
)

// Files is the read-only view of a corpus handed to plugins and resolvers.
type Files interface {
	// Paths returns every path in the corpus, sorted.
	Paths() []string

	// Contains reports whether path is in the corpus.
	Contains(path string) bool

	// Len returns the number of paths.
	Len() int

	// WithExtension returns the sorted paths whose extension matches one of
	// exts, compared case-insensitively (".java", ".smali").
	WithExtension(exts ...string) []string

	// Named returns the sorted paths whose base name equals one of names.
	Named(names ...string) []string
}

// Corpus is a set of file paths. It only grows: paths are added, never removed.
type Corpus struct {
	mu    sync.RWMutex
	paths map[string]struct{}
}

// New creates an empty corpus, optionally seeded with paths.
func New(paths ...string) *Corpus {
	c := &Corpus{paths: make(map[string]struct{}, len(paths))}
	for _, p := range paths {
		c.Add(p)
	}
	return c
}

// Add inserts path and reports whether it was new. Empty paths are ignored.
func (c *Corpus) Add(path string) bool {
	if path == "" {
		return false
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if _, exists := c.paths[path]; exists {
		return false
	}
	c.paths[path] = struct{}{}
	return true
}

// Paths implements Files.
func (c *Corpus) Paths() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()

	paths := make([]string, 0, len(c.paths))
	for p := range c.paths {
		paths = append(paths, p)
	}
	sort.Strings(paths)
	return paths
}

// Contains implements Files.
func (c *Corpus) Contains(path string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()

	_, ok := c.paths[path]
	return ok
}

// Len implements Files.
func (c *Corpus) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()

	return len(c.paths)
}

// WithExtension implements Files.
func (c *Corpus) WithExtension(exts ...string) []string {
	want := make(map[string]bool, len(exts))
	for _, ext := range exts {
		want[strings.ToLower(ext)] = true
	}

	return c.filter(func(p string) bool {
		return want[strings.ToLower(filepath.Ext(p))]
	})
}

// Named implements Files.
func (c *Corpus) Named(names ...string) []string {
	want := make(map[string]bool, len(names))
	for _, name := range names {
		want[name] = true
	}

	return c.filter(func(p string) bool {
		return want[filepath.Base(p)]
	})
}

func (c *Corpus) filter(keep func(string) bool) []string {
	var out []string
	for _, p := range c.Paths() {
		if keep(p) {
			out = append(out, p)
		}
	}
	return out
}
