// Package store implements the Centralized Store: the sole location
// of per-project state on disk, rooted at ~/.serena (or SERENA_HOME).
// It never reads or writes anything inside a project's own directory.
package store

import (
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/ternarybob/serena/internal/errs"
	"github.com/ternarybob/serena/internal/project"
)

const memoryPreviewLines = 3

// Store is a handle to the centralized ~/.serena tree. It holds no
// mutable state of its own; every method computes its paths from home.
// Writes go through an atomic temp-file rename; the listing methods
// read one file per project or memory note.
type Store struct {
	home string
}

// New returns a Store rooted at home. Callers should pass
// config.Config.Service.Home (which already applies the SERENA_HOME
// override and tilde expansion).
func New(home string) *Store {
	return &Store{home: home}
}

// Home returns the root directory this Store operates under.
func (s *Store) Home() string { return s.home }

func (s *Store) projectDir(id string) string {
	return filepath.Join(s.home, "projects", id)
}

func (s *Store) projectConfigPath(id string) string {
	return filepath.Join(s.projectDir(id), "project.yml")
}

func (s *Store) memoriesDir(id string) string {
	return filepath.Join(s.projectDir(id), "memories")
}

func (s *Store) memoryPath(id, name string) string {
	return filepath.Join(s.memoriesDir(id), name+".md")
}

// atomicWrite writes data to a temporary sibling of path and renames
// it into place, so a reader never observes a partial write.
func atomicWrite(path string, data []byte, perm os.FileMode) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return errs.NewIOError("mkdir", filepath.Dir(path), err)
	}

	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, perm); err != nil {
		return errs.NewIOError("write", tmp, err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return errs.NewIOError("rename", path, err)
	}
	return nil
}

// EnsureProjectDir creates the project's centralized directory (and
// its memories subdirectory) if they do not already exist.
func (s *Store) EnsureProjectDir(id string) error {
	if err := os.MkdirAll(s.memoriesDir(id), 0o755); err != nil {
		return errs.NewIOError("mkdir", s.memoriesDir(id), err)
	}
	return nil
}

// LoadProjectConfig reads project.yml for id. It returns a
// *errs.NotFoundError if the file does not exist — callers (the
// activation protocol) are expected to regenerate it from defaults in
// that case rather than treat it as fatal.
func (s *Store) LoadProjectConfig(id string) (*project.Project, error) {
	path := s.projectConfigPath(id)
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, errs.NewNotFoundError("project.yml", id)
		}
		return nil, errs.NewIOError("read", path, err)
	}

	var p project.Project
	if err := yaml.Unmarshal(data, &p); err != nil {
		return nil, errs.NewIOError("parse", path, err)
	}
	if p.BackendStates == nil {
		p.BackendStates = make(map[string]project.SLSState)
	}
	return &p, nil
}

// SaveProjectConfig atomically writes p as project.yml under its own
// project id.
func (s *Store) SaveProjectConfig(p *project.Project) error {
	p.UpdatedAt = time.Now()

	data, err := yaml.Marshal(p)
	if err != nil {
		return errs.NewIOError("marshal", s.projectConfigPath(p.ID), err)
	}
	return atomicWrite(s.projectConfigPath(p.ID), data, 0o644)
}

// ListProjects reads every project.yml under the centralized projects
// directory. Directories without a readable project.yml are skipped:
// an externally deleted config is regenerated at activation time, not
// treated as fatal here.
func (s *Store) ListProjects() ([]*project.Project, error) {
	dir := filepath.Join(s.home, "projects")
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, errs.NewIOError("readdir", dir, err)
	}

	var projects []*project.Project
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		p, err := s.LoadProjectConfig(entry.Name())
		if err != nil {
			continue
		}
		projects = append(projects, p)
	}
	sort.Slice(projects, func(i, j int) bool { return projects[i].Root < projects[j].Root })
	return projects, nil
}

// MemoryInfo is the metadata-only view of a memory note, used by
// list_memories' default (metadata + preview) response.
type MemoryInfo struct {
	Name            string    `json:"name"`
	SizeBytes       int       `json:"size_bytes"`
	LastModified    time.Time `json:"last_modified"`
	EstimatedTokens int       `json:"estimated_tokens"`
	Lines           int       `json:"lines"`
	Preview         string    `json:"preview"`
}

// ListMemories returns metadata for every memory note belonging to
// project id, sorted by name, each with a preview of its first
// previewLines lines (previewLines <= 0 uses the default of 3).
func (s *Store) ListMemories(id string, previewLines int) ([]MemoryInfo, error) {
	if previewLines <= 0 {
		previewLines = memoryPreviewLines
	}

	dir := s.memoriesDir(id)
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, errs.NewIOError("readdir", dir, err)
	}

	infos := make([]MemoryInfo, 0, len(entries))
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".md") {
			continue
		}
		name := strings.TrimSuffix(entry.Name(), ".md")

		fi, err := entry.Info()
		if err != nil {
			return nil, errs.NewIOError("stat", filepath.Join(dir, entry.Name()), err)
		}

		content, err := os.ReadFile(filepath.Join(dir, entry.Name()))
		if err != nil {
			return nil, errs.NewIOError("read", filepath.Join(dir, entry.Name()), err)
		}

		infos = append(infos, MemoryInfo{
			Name:            name,
			SizeBytes:       len(content),
			LastModified:    fi.ModTime(),
			EstimatedTokens: estimateTokens(content),
			Lines:           countLines(content),
			Preview:         previewOf(content, previewLines),
		})
	}

	sort.Slice(infos, func(i, j int) bool { return infos[i].Name < infos[j].Name })
	return infos, nil
}

// ListMemoryNames returns just the memory names, used by the
// activate_project summary which lists names only.
func (s *Store) ListMemoryNames(id string) ([]string, error) {
	dir := s.memoriesDir(id)
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, errs.NewIOError("readdir", dir, err)
	}

	names := make([]string, 0, len(entries))
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".md") {
			continue
		}
		names = append(names, strings.TrimSuffix(entry.Name(), ".md"))
	}
	sort.Strings(names)
	return names, nil
}

// ReadMemory returns the full content of a memory note.
func (s *Store) ReadMemory(id, name string) (string, error) {
	path := s.memoryPath(id, name)
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return "", errs.NewNotFoundError("memory", name)
		}
		return "", errs.NewIOError("read", path, err)
	}
	return string(data), nil
}

// WriteMemory atomically overwrites (or creates) a memory note.
func (s *Store) WriteMemory(id, name, content string) error {
	return atomicWrite(s.memoryPath(id, name), []byte(content), 0o644)
}

// DeleteMemory removes a memory note. Deleting a note that does not
// exist is a NotFoundError, not a silent success, so callers can
// distinguish "already gone" from "deleted".
func (s *Store) DeleteMemory(id, name string) error {
	path := s.memoryPath(id, name)
	if err := os.Remove(path); err != nil {
		if os.IsNotExist(err) {
			return errs.NewNotFoundError("memory", name)
		}
		return errs.NewIOError("remove", path, err)
	}
	return nil
}

// estimateTokens is the char-based approximation used in place of a
// real tokenizer: roughly 4 bytes per token.
func estimateTokens(content []byte) int {
	return (len(content) + 3) / 4
}

func countLines(content []byte) int {
	if len(content) == 0 {
		return 0
	}
	n := strings.Count(string(content), "\n")
	if !strings.HasSuffix(string(content), "\n") {
		n++
	}
	return n
}

func previewOf(content []byte, n int) string {
	lines := strings.SplitAfter(string(content), "\n")
	if len(lines) > n {
		lines = lines[:n]
	}
	return strings.Join(lines, "")
}
