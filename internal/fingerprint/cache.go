package fingerprint

import (
	"bufio"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/google/uuid"

	"github.com/ah-its-andy/mediaconv/internal/media"
)

// FileName is the name of the append-only fingerprint log inside the data dir.
const FileName = "fingerprints.txt"

// Cache is the persistent set of fingerprints of files known to be converted
// (or known to be bad). The on-disk log is only ever appended to.
type Cache struct {
	dir string

	mu     sync.RWMutex
	set    map[string]struct{}
	loaded bool
}

// NewCache returns a cache backed by <dataDir>/fingerprints.txt. Nothing is
// read until Load is called.
func NewCache(dataDir string) *Cache {
	return &Cache{dir: filepath.Clean(dataDir), set: make(map[string]struct{})}
}

// Dir returns the storage directory.
func (c *Cache) Dir() string { return c.dir }

// Path returns the fingerprint log path.
func (c *Cache) Path() string { return filepath.Join(c.dir, FileName) }

// Load reads the persisted log into memory. It runs at most once; a missing
// log is an empty cache.
func (c *Cache) Load() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.loaded {
		return nil
	}

	f, err := os.Open(c.Path())
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			c.loaded = true
			return nil
		}
		return fmt.Errorf("open fingerprint log: %w", err)
	}
	defer f.Close()

	sc := bufio.NewScanner(f)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" {
			continue
		}
		c.set[line] = struct{}{}
	}
	if err := sc.Err(); err != nil {
		return fmt.Errorf("read fingerprint log: %w", err)
	}
	c.loaded = true
	return nil
}

// Contains is a pure in-memory lookup.
func (c *Cache) Contains(fp string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	_, ok := c.set[fp]
	return ok
}

// ContainsFile reports whether either the strict or the loose fingerprint of
// f is known.
func (c *Cache) ContainsFile(f media.File) bool {
	return c.Contains(Strict(f)) || c.Contains(Loose(f))
}

// Record appends the fingerprints of f to the log and the in-memory set.
// Both granularities are written so that the loose lookup can match later.
func (c *Cache) Record(f media.File) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	fps := []string{Strict(f), Loose(f)}
	var lines strings.Builder
	for _, fp := range fps {
		if _, ok := c.set[fp]; ok {
			continue
		}
		lines.WriteString(fp)
		lines.WriteByte('\n')
	}
	if lines.Len() == 0 {
		return nil
	}

	if err := os.MkdirAll(c.dir, 0o755); err != nil {
		return fmt.Errorf("create data dir: %w", err)
	}
	out, err := os.OpenFile(c.Path(), os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("open fingerprint log: %w", err)
	}
	if _, err := out.WriteString(lines.String()); err != nil {
		out.Close()
		return fmt.Errorf("append fingerprint: %w", err)
	}
	if err := out.Close(); err != nil {
		return fmt.Errorf("close fingerprint log: %w", err)
	}

	for _, fp := range fps {
		c.set[fp] = struct{}{}
	}
	return nil
}

// Reset deletes the storage directory and the scratch directory, then
// recreates an empty storage directory. It is unconditional.
func (c *Cache) Reset(scratchDir string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := os.RemoveAll(c.dir); err != nil {
		return fmt.Errorf("remove data dir: %w", err)
	}
	if scratchDir != "" {
		if err := os.RemoveAll(scratchDir); err != nil {
			return fmt.Errorf("remove scratch dir: %w", err)
		}
	}
	if err := os.MkdirAll(c.dir, 0o755); err != nil {
		return fmt.Errorf("recreate data dir: %w", err)
	}
	c.set = make(map[string]struct{})
	c.loaded = true
	return nil
}

// Len returns the number of fingerprints held in memory.
func (c *Cache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.set)
}

// Export returns a sorted copy of the in-memory set.
func (c *Cache) Export() []string {
	c.mu.RLock()
	out := make([]string, 0, len(c.set))
	for fp := range c.set {
		out = append(out, fp)
	}
	c.mu.RUnlock()
	sort.Strings(out)
	return out
}

// ExportTo writes the in-memory set to a uniquely named report file in dir
// and returns its path.
func (c *Cache) ExportTo(dir string) (string, error) {
	name := fmt.Sprintf("fingerprints-%s.txt", uuid.NewString())
	path := filepath.Join(dir, name)

	var b strings.Builder
	for _, fp := range c.Export() {
		b.WriteString(fp)
		b.WriteByte('\n')
	}
	if err := os.WriteFile(path, []byte(b.String()), 0o644); err != nil {
		return "", fmt.Errorf("write report: %w", err)
	}
	return path, nil
}
