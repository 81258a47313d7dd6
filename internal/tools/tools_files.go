package tools

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"path"
	"path/filepath"
	"regexp"
	"sort"
	"strings"

	"github.com/ternarybob/serena/internal/editor"
	"github.com/ternarybob/serena/internal/errs"
	"github.com/ternarybob/serena/internal/project"
	"github.com/ternarybob/serena/internal/session"
)

// maxSearchFileBytes caps how large a file search_for_pattern will
// scan; bigger files are skipped with a warning.
const maxSearchFileBytes = 1 << 20

// searchPreviewMatches is how many matches a summary result previews.
const searchPreviewMatches = 10

type searchForPattern struct {
	toolBase
	env *Env
}

func newSearchForPattern(env *Env) *searchForPattern {
	return &searchForPattern{
		toolBase: toolBase{
			name:        "search_for_pattern",
			description: "Search project files for a regex pattern. Summary (per-file counts plus a preview) is the default.",
			kind:        session.KindSearch,
			params: []ParamSpec{
				{Name: "pattern", Type: TypeString, Required: true},
				{Name: "search_scope", Type: TypeString, Default: "source", Enum: []string{"all", "source"}},
				{Name: "result_format", Type: TypeString, Default: "summary", Enum: []string{"summary", "detailed"}},
				{Name: "context_lines", Type: TypeInt, Default: 2, Description: "Context lines per match in detailed results"},
				{Name: "relative_path", Type: TypeString, Description: "Restrict the search to one file or directory"},
			},
		},
		env: env,
	}
}

func (t *searchForPattern) NarrowingSuggestions(req *Request) []string {
	return []string{
		"restrict the search with relative_path",
		`keep result_format="summary"`,
		"use a more specific pattern",
	}
}

// patternMatch is one located occurrence.
type patternMatch struct {
	RelativePath string   `json:"relative_path"`
	Line         int      `json:"line"`
	Text         string   `json:"text"`
	Context      []string `json:"context,omitempty"`
}

type fileMatchCount struct {
	RelativePath string `json:"relative_path"`
	Count        int    `json:"count"`
}

type searchResult struct {
	TotalMatches  int              `json:"total_matches"`
	Files         []fileMatchCount `json:"files"`
	Matches       []patternMatch   `json:"matches"`
	ExpansionHint string           `json:"expansion_hint,omitempty"`
	Scope         *ScopeMeta       `json:"scope,omitempty"`
	warnings      []string
}

func (r *searchResult) ResponseWarnings() []string { return r.warnings }

// Units/Rebuild let truncation trim at whole-match boundaries while
// keeping the per-file counts intact.
func (r *searchResult) Units() []any {
	units := make([]any, len(r.Matches))
	for i, m := range r.Matches {
		units[i] = m
	}
	return units
}

func (r *searchResult) Rebuild(units []any) any {
	kept := &searchResult{
		TotalMatches:  r.TotalMatches,
		Files:         r.Files,
		Matches:       make([]patternMatch, 0, len(units)),
		ExpansionHint: r.ExpansionHint,
		Scope:         r.Scope,
	}
	for _, u := range units {
		kept.Matches = append(kept.Matches, u.(patternMatch))
	}
	return kept
}

func (t *searchForPattern) Apply(ctx context.Context, req *Request) (any, error) {
	active, err := t.env.requireActive()
	if err != nil {
		return nil, err
	}
	re, err := regexp.Compile(req.String("pattern"))
	if err != nil {
		return nil, errs.NewValidationError("pattern", fmt.Sprintf("invalid regex: %v", err))
	}

	scopeMode := project.ScopeMode(req.String("search_scope"))
	files, err := project.NewScope(active.Project.Root, scopeMode).ListFiles()
	if err != nil {
		return nil, err
	}
	if restrict := req.String("relative_path"); restrict != "" {
		prefix := strings.TrimSuffix(filepath.ToSlash(restrict), "/")
		var narrowed []string
		for _, f := range files {
			if f == prefix || strings.HasPrefix(f, prefix+"/") {
				narrowed = append(narrowed, f)
			}
		}
		files = narrowed
	}

	result := &searchResult{Files: []fileMatchCount{}, Matches: []patternMatch{}, Scope: scopeMetaFor(scopeMode)}
	contextLines := req.Int("context_lines")
	detailed := req.String("result_format") == "detailed"

	counts := make(map[string]int)
	var all []patternMatch
	for _, f := range files {
		data, err := os.ReadFile(filepath.Join(active.Project.Root, f))
		if err != nil {
			continue
		}
		if len(data) > maxSearchFileBytes {
			result.warnings = append(result.warnings, fmt.Sprintf("%s skipped: larger than %d bytes", f, maxSearchFileBytes))
			continue
		}
		if bytes.IndexByte(data, 0) >= 0 {
			continue // binary
		}

		lines := strings.Split(string(data), "\n")
		for i, line := range lines {
			if !re.MatchString(line) {
				continue
			}
			counts[f]++
			m := patternMatch{RelativePath: f, Line: i + 1, Text: line}
			if detailed {
				m.Context = contextAround(lines, i, contextLines)
			}
			all = append(all, m)
		}
	}

	for f, n := range counts {
		result.Files = append(result.Files, fileMatchCount{RelativePath: f, Count: n})
	}
	sort.Slice(result.Files, func(i, j int) bool {
		if result.Files[i].Count != result.Files[j].Count {
			return result.Files[i].Count > result.Files[j].Count
		}
		return result.Files[i].RelativePath < result.Files[j].RelativePath
	})
	result.TotalMatches = len(all)

	if detailed {
		result.Matches = all
	} else {
		preview := all
		if len(preview) > searchPreviewMatches {
			preview = preview[:searchPreviewMatches]
		}
		result.Matches = preview
		if len(all) > len(preview) {
			result.ExpansionHint = fmt.Sprintf(
				`showing %d of %d matches; re-run with result_format="detailed" for all of them`,
				len(preview), len(all))
		}
	}
	return result, nil
}

type listDir struct {
	toolBase
	env *Env
}

func newListDir(env *Env) *listDir {
	return &listDir{
		toolBase: toolBase{
			name:        "list_dir",
			description: "List a directory as a flat list or an indented tree with counts.",
			kind:        session.KindRead,
			params: []ParamSpec{
				{Name: "relative_path", Type: TypeString, Default: ".", Description: "Directory relative to the project root"},
				{Name: "recursive", Type: TypeBool, Default: false},
				{Name: "format", Type: TypeString, Default: "list", Enum: []string{"list", "tree"}},
			},
		},
		env: env,
	}
}

type dirEntry struct {
	RelativePath string `json:"relative_path"`
	IsDir        bool   `json:"is_dir"`
	SizeBytes    int64  `json:"size_bytes,omitempty"`
}

func (t *listDir) Apply(ctx context.Context, req *Request) (any, error) {
	active, err := t.env.requireActive()
	if err != nil {
		return nil, err
	}
	rel := filepath.ToSlash(req.String("relative_path"))
	abs := filepath.Join(active.Project.Root, rel)
	info, err := os.Stat(abs)
	if err != nil || !info.IsDir() {
		return nil, errs.NewNotFoundError("directory", rel)
	}

	var entries []dirEntry
	dirCount, fileCount := 0, 0
	collect := func(p string, fi os.FileInfo) {
		relPath, _ := filepath.Rel(active.Project.Root, p)
		relPath = filepath.ToSlash(relPath)
		e := dirEntry{RelativePath: relPath, IsDir: fi.IsDir()}
		if !fi.IsDir() {
			e.SizeBytes = fi.Size()
			fileCount++
		} else {
			dirCount++
		}
		entries = append(entries, e)
	}

	if req.Bool("recursive") {
		err = filepath.Walk(abs, func(p string, fi os.FileInfo, err error) error {
			if err != nil {
				return nil
			}
			if p == abs {
				return nil
			}
			if fi.IsDir() && fi.Name() == ".git" {
				return filepath.SkipDir
			}
			collect(p, fi)
			return nil
		})
		if err != nil {
			return nil, errs.NewIOError("walk", rel, err)
		}
	} else {
		dirEntries, err := os.ReadDir(abs)
		if err != nil {
			return nil, errs.NewIOError("readdir", rel, err)
		}
		for _, de := range dirEntries {
			if de.Name() == ".git" {
				continue
			}
			fi, err := de.Info()
			if err != nil {
				continue
			}
			collect(filepath.Join(abs, de.Name()), fi)
		}
	}

	sort.Slice(entries, func(i, j int) bool { return entries[i].RelativePath < entries[j].RelativePath })

	result := map[string]any{
		"relative_path": rel,
		"dir_count":     dirCount,
		"file_count":    fileCount,
	}
	if req.String("format") == "tree" {
		result["tree"] = renderTree(rel, entries)
	} else {
		result["entries"] = entries
	}
	return result, nil
}

// renderTree draws an indented tree from the collected entries.
func renderTree(root string, entries []dirEntry) string {
	var sb strings.Builder
	sb.WriteString(root + "/\n")
	for _, e := range entries {
		depth := strings.Count(e.RelativePath, "/")
		if root != "." {
			depth -= strings.Count(root, "/") + 1
		}
		sb.WriteString(strings.Repeat("  ", depth+1))
		sb.WriteString(path.Base(e.RelativePath))
		if e.IsDir {
			sb.WriteString("/")
		}
		sb.WriteString("\n")
	}
	return sb.String()
}

type readFile struct {
	toolBase
	env *Env
}

func newReadFile(env *Env) *readFile {
	return &readFile{
		toolBase: toolBase{
			name:        "read_file",
			description: "Read a project file's full content.",
			kind:        session.KindRead,
			params: []ParamSpec{
				{Name: "relative_path", Type: TypeString, Required: true},
			},
		},
		env: env,
	}
}

func (t *readFile) Apply(ctx context.Context, req *Request) (any, error) {
	active, err := t.env.requireActive()
	if err != nil {
		return nil, err
	}
	rel := req.String("relative_path")
	req.Touch(rel)

	data, err := os.ReadFile(filepath.Join(active.Project.Root, rel))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, errs.NewNotFoundError("file", rel)
		}
		return nil, errs.NewIOError("read", rel, err)
	}
	return map[string]any{
		"relative_path": rel,
		"content":       string(data),
		"lines":         strings.Count(string(data), "\n"),
	}, nil
}

type createTextFile struct {
	toolBase
	env *Env
}

func newCreateTextFile(env *Env) *createTextFile {
	return &createTextFile{
		toolBase: toolBase{
			name:        "create_text_file",
			description: "Create or overwrite a project file atomically, creating parent directories as needed.",
			kind:        session.KindEdit,
			params: []ParamSpec{
				{Name: "relative_path", Type: TypeString, Required: true},
				{Name: "content", Type: TypeString, Required: true},
			},
		},
		env: env,
	}
}

func (t *createTextFile) Apply(ctx context.Context, req *Request) (any, error) {
	active, err := t.env.requireActive()
	if err != nil {
		return nil, err
	}
	rel := req.String("relative_path")
	req.Touch(rel)

	abs := filepath.Join(active.Project.Root, rel)
	if err := os.MkdirAll(filepath.Dir(abs), 0o755); err != nil {
		return nil, errs.NewIOError("mkdir", filepath.Dir(rel), err)
	}
	if err := editor.WriteAtomic(abs, []byte(req.String("content"))); err != nil {
		return nil, err
	}
	invalidated := active.Cache.InvalidateFile(rel)
	return map[string]any{
		"status":            "created",
		"relative_path":     rel,
		"cache_invalidated": invalidated,
	}, nil
}

type findFile struct {
	toolBase
	env *Env
}

func newFindFile(env *Env) *findFile {
	return &findFile{
		toolBase: toolBase{
			name:        "find_file",
			description: "Find files whose name matches a glob pattern.",
			kind:        session.KindSearch,
			params: []ParamSpec{
				{Name: "pattern", Type: TypeString, Required: true, Description: "Glob matched against file basenames, e.g. *_test.go"},
				{Name: "search_scope", Type: TypeString, Default: "source", Enum: []string{"all", "source"}},
			},
		},
		env: env,
	}
}

func (t *findFile) Apply(ctx context.Context, req *Request) (any, error) {
	active, err := t.env.requireActive()
	if err != nil {
		return nil, err
	}
	pattern := req.String("pattern")
	if _, err := path.Match(pattern, ""); err != nil {
		return nil, errs.NewValidationError("pattern", fmt.Sprintf("invalid glob: %v", err))
	}

	scopeMode := project.ScopeMode(req.String("search_scope"))
	files, err := project.NewScope(active.Project.Root, scopeMode).ListFiles()
	if err != nil {
		return nil, err
	}
	var matched []string
	for _, f := range files {
		if ok, _ := path.Match(pattern, path.Base(f)); ok {
			matched = append(matched, f)
		}
	}
	return map[string]any{
		"files": matched,
		"scope": scopeMetaFor(scopeMode),
	}, nil
}
