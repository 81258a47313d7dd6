package project

import (
	"bufio"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strings"

	"github.com/ternarybob/serena/internal/errs"
)

// SourceExcludedDirs is the fixed list of generated/vendor
// directories the "source" scope skips, on top of VCS-ignored paths.
var SourceExcludedDirs = []string{
	"node_modules", ".next", ".nuxt", "__pycache__", ".venv", "venv",
	".pytest_cache", ".mypy_cache", "dist", "build", "target", ".git",
	"coverage", "htmlcov", "wheelhouse", "vendor", "migrations",
}

// sourceExcludedGlobs are name patterns, not literal directory names.
var sourceExcludedGlobs = []string{"*.egg-info"}

// SourceExclusionCategories names the excluded categories for
// response metadata, so a caller can see what a "source" search
// skipped and how to widen it.
func SourceExclusionCategories() []string {
	return []string{
		"VCS-ignored paths (.gitignore)",
		"dependency caches (node_modules, .venv, venv, vendor, wheelhouse)",
		"build outputs (dist, build, target, .next, .nuxt, *.egg-info)",
		"tool caches (__pycache__, .pytest_cache, .mypy_cache)",
		"coverage output (coverage, htmlcov)",
		"VCS metadata (.git)",
		"migrations",
	}
}

// Scope enumerates project files honoring the configured mode:
// ScopeAll walks everything but VCS metadata; ScopeSource also
// applies the fixed exclusion list and .gitignore patterns.
type Scope struct {
	root    string
	mode    ScopeMode
	ignores *gitignore
}

// NewScope builds a Scope for the project root.
func NewScope(root string, mode ScopeMode) *Scope {
	s := &Scope{root: root, mode: mode}
	if mode == ScopeSource {
		s.ignores = loadGitignore(root)
	}
	return s
}

// excludedDir reports whether a directory basename is always skipped
// in source scope.
func excludedDir(name string) bool {
	for _, d := range SourceExcludedDirs {
		if name == d {
			return true
		}
	}
	for _, g := range sourceExcludedGlobs {
		if ok, _ := path.Match(g, name); ok {
			return true
		}
	}
	return false
}

// Includes reports whether a relative path is inside the scope.
func (s *Scope) Includes(relativePath string) bool {
	rel := filepath.ToSlash(relativePath)
	segments := strings.Split(rel, "/")
	for i, seg := range segments {
		if seg == ".git" {
			return false
		}
		if s.mode == ScopeSource && i < len(segments)-1 && excludedDir(seg) {
			return false
		}
	}
	if s.mode == ScopeSource && s.ignores != nil && s.ignores.matches(rel) {
		return false
	}
	return true
}

// ListFiles walks the project tree and returns every in-scope file's
// path relative to the root, sorted.
func (s *Scope) ListFiles() ([]string, error) {
	var files []string
	err := filepath.Walk(s.root, func(p string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		rel, relErr := filepath.Rel(s.root, p)
		if relErr != nil || rel == "." {
			return nil
		}
		rel = filepath.ToSlash(rel)

		if info.IsDir() {
			base := info.Name()
			if base == ".git" {
				return filepath.SkipDir
			}
			if s.mode == ScopeSource {
				if excludedDir(base) {
					return filepath.SkipDir
				}
				if s.ignores != nil && s.ignores.matches(rel+"/") {
					return filepath.SkipDir
				}
			}
			return nil
		}
		if s.Includes(rel) {
			files = append(files, rel)
		}
		return nil
	})
	if err != nil {
		return nil, errs.NewIOError("walk", s.root, err)
	}
	sort.Strings(files)
	return files, nil
}

// gitignore is a deliberately small matcher covering the pattern
// forms that show up in real ignore files: bare names, directory
// suffixes, leading-slash anchors, and shell globs. Negation patterns
// are not honored; an over-inclusive "source" scope can always be
// widened with scope "all".
type gitignore struct {
	patterns []string
}

func loadGitignore(root string) *gitignore {
	f, err := os.Open(filepath.Join(root, ".gitignore"))
	if err != nil {
		return nil
	}
	defer f.Close()

	g := &gitignore{}
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") || strings.HasPrefix(line, "!") {
			continue
		}
		g.patterns = append(g.patterns, line)
	}
	if len(g.patterns) == 0 {
		return nil
	}
	return g
}

// matches reports whether a slash-relative path (directories carry a
// trailing slash) is ignored.
func (g *gitignore) matches(rel string) bool {
	isDir := strings.HasSuffix(rel, "/")
	rel = strings.TrimSuffix(rel, "/")
	segments := strings.Split(rel, "/")

	for _, pat := range g.patterns {
		dirOnly := strings.HasSuffix(pat, "/")
		pat = strings.TrimSuffix(pat, "/")

		if strings.Contains(pat, "/") {
			// Anchored or nested pattern: match against the whole path.
			if ok, _ := path.Match(strings.TrimPrefix(pat, "/"), rel); ok && (!dirOnly || isDir) {
				return true
			}
			continue
		}

		if dirOnly {
			// Match the directory itself or any enclosing directory.
			end := len(segments)
			if !isDir {
				end--
			}
			for _, seg := range segments[:end] {
				if ok, _ := path.Match(pat, seg); ok {
					return true
				}
			}
			continue
		}

		// A bare pattern matches any path segment.
		for _, seg := range segments {
			if ok, _ := path.Match(pat, seg); ok {
				return true
			}
		}
	}
	return false
}
