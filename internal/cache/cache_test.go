package cache

import (
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, root, rel, content string) {
	t.Helper()
	path := filepath.Join(root, rel)
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
}

func TestCache_HitOnUnchangedFile(t *testing.T) {
	root := t.TempDir()
	writeFile(t, root, "a.go", "package a\n")
	c := New(root, 10)

	c.Put("a.go", "overview", "cached-result")

	v, ok := c.Get("a.go", "overview")
	require.True(t, ok)
	assert.Equal(t, "cached-result", v)

	stats := c.Stats()
	assert.Equal(t, 1, stats.Hits)
	assert.Equal(t, 0, stats.Misses)
	assert.Equal(t, 1, stats.Size)
}

func TestCache_MissOnChangedContent(t *testing.T) {
	root := t.TempDir()
	writeFile(t, root, "a.go", "package a\n")
	c := New(root, 10)

	c.Put("a.go", "overview", "stale")
	writeFile(t, root, "a.go", "package a // edited\n")

	_, ok := c.Get("a.go", "overview")
	assert.False(t, ok)

	// The stale entry was evicted, not just skipped.
	assert.Equal(t, 0, c.Stats().Size)
}

func TestCache_MissOnDeletedFile(t *testing.T) {
	root := t.TempDir()
	writeFile(t, root, "a.go", "package a\n")
	c := New(root, 10)

	c.Put("a.go", "overview", "stale")
	require.NoError(t, os.Remove(filepath.Join(root, "a.go")))

	_, ok := c.Get("a.go", "overview")
	assert.False(t, ok)
}

func TestCache_FingerprintsDoNotCollide(t *testing.T) {
	root := t.TempDir()
	writeFile(t, root, "a.go", "package a\n")
	c := New(root, 10)

	c.Put("a.go", "q1", "r1")
	c.Put("a.go", "q2", "r2")

	v1, ok := c.Get("a.go", "q1")
	require.True(t, ok)
	v2, ok2 := c.Get("a.go", "q2")
	require.True(t, ok2)
	assert.Equal(t, "r1", v1)
	assert.Equal(t, "r2", v2)
}

func TestCache_InvalidateFileRemovesAllEntriesForPath(t *testing.T) {
	root := t.TempDir()
	writeFile(t, root, "a.go", "package a\n")
	writeFile(t, root, "b.go", "package b\n")
	c := New(root, 10)

	c.Put("a.go", "q1", "r1")
	c.Put("a.go", "q2", "r2")
	c.Put("b.go", "q1", "r3")

	assert.Equal(t, 2, c.InvalidateFile("a.go"))
	assert.Equal(t, 0, c.InvalidateFile("a.go"))

	_, ok := c.Get("b.go", "q1")
	assert.True(t, ok)
}

func TestCache_LRUEviction(t *testing.T) {
	root := t.TempDir()
	c := New(root, 3)
	for i := 0; i < 5; i++ {
		rel := fmt.Sprintf("f%d.go", i)
		writeFile(t, root, rel, "package f\n")
		c.Put(rel, "q", i)
	}

	stats := c.Stats()
	assert.Equal(t, 3, stats.Size)
	assert.Equal(t, 2, stats.Evictions)

	// Oldest entries are gone, newest survive.
	_, ok := c.Get("f0.go", "q")
	assert.False(t, ok)
	_, ok = c.Get("f4.go", "q")
	assert.True(t, ok)
}

func TestCache_GetTouchesRecency(t *testing.T) {
	root := t.TempDir()
	c := New(root, 2)
	writeFile(t, root, "a.go", "package a\n")
	writeFile(t, root, "b.go", "package b\n")
	writeFile(t, root, "c.go", "package c\n")

	c.Put("a.go", "q", 1)
	c.Put("b.go", "q", 2)

	// Touch a.go so b.go becomes least recently used.
	_, ok := c.Get("a.go", "q")
	require.True(t, ok)

	c.Put("c.go", "q", 3)

	_, ok = c.Get("a.go", "q")
	assert.True(t, ok)
	_, ok = c.Get("b.go", "q")
	assert.False(t, ok)
}

func TestCache_DefaultCapacity(t *testing.T) {
	c := New(t.TempDir(), 0)
	assert.Equal(t, DefaultCapacity, c.capacity)
}
