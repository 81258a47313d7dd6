package tools

import (
	"context"
	"fmt"
	"path/filepath"
	"sort"
	"strings"

	"go.lsp.dev/protocol"

	"github.com/ternarybob/serena/internal/errs"
	"github.com/ternarybob/serena/internal/lsp/sls"
	"github.com/ternarybob/serena/internal/project"
	"github.com/ternarybob/serena/internal/session"
	"github.com/ternarybob/serena/internal/symbol"
)

// overviewFingerprint keys cached document-symbol trees; bump it if
// the cached shape ever changes.
const overviewFingerprint = "docsym:v1"

// slsFor returns the language server covering a file, or a
// ValidationError when the file's language has none.
func (e *Env) slsFor(active *project.Active, relativePath string) (*sls.Server, error) {
	srv := active.SLSFor(e.Manager.Backends(), relativePath)
	if srv == nil {
		return nil, errs.NewValidationError("relative_path",
			fmt.Sprintf("no language server covers %q; its language does not support semantic operations", relativePath))
	}
	return srv, nil
}

// overviewFor returns the (metadata-only) symbol tree for a file,
// consulting the Symbol Cache first. Trees with warnings (recovered
// timeouts) are not cached.
func (e *Env) overviewFor(ctx context.Context, active *project.Active, relativePath string) ([]*symbol.Symbol, bool, []string, error) {
	if cached, ok := active.Cache.Get(relativePath, overviewFingerprint); ok {
		return cached.([]*symbol.Symbol), true, nil, nil
	}

	srv, err := e.slsFor(active, relativePath)
	if err != nil {
		return nil, false, nil, err
	}
	roots, warnings, err := srv.DocumentSymbols(ctx, relativePath, symbol.FormatMetadata)
	if err != nil {
		return nil, false, nil, err
	}
	if len(warnings) == 0 {
		active.Cache.Put(relativePath, overviewFingerprint, roots)
	}
	return roots, false, warnings, nil
}

// materialize clones a cached symbol to the requested depth and
// populates format-dependent fields, leaving the cached tree
// untouched.
func materialize(sym *symbol.Symbol, depth int, format symbol.OutputFormat, content string) *symbol.Symbol {
	clone := sym.Prune(depth)
	if format != symbol.FormatMetadata && format != "" {
		clone.Populate(content, format)
	}
	return clone
}

// FoundSymbol pairs a symbol with its stable identifier.
type FoundSymbol struct {
	SymbolID string `json:"symbol_id"`
	*symbol.Symbol
}

// ScopeMeta makes source-scope exclusions transparent: what was
// skipped and how to widen the search.
type ScopeMeta struct {
	Mode               string   `json:"mode"`
	ExcludedCategories []string `json:"excluded_categories,omitempty"`
	WidenHint          string   `json:"widen_hint,omitempty"`
}

func scopeMetaFor(mode project.ScopeMode) *ScopeMeta {
	meta := &ScopeMeta{Mode: string(mode)}
	if mode == project.ScopeSource {
		meta.ExcludedCategories = project.SourceExclusionCategories()
		meta.WidenHint = `re-run with search_scope="all" to include excluded paths`
	}
	return meta
}

type getSymbolsOverview struct {
	toolBase
	env *Env
}

func newGetSymbolsOverview(env *Env) *getSymbolsOverview {
	return &getSymbolsOverview{
		toolBase: toolBase{
			name:        "get_symbols_overview",
			description: "Return the file-scoped symbol tree (metadata only).",
			kind:        session.KindRead,
			params: []ParamSpec{
				{Name: "relative_path", Type: TypeString, Required: true, Description: "File path relative to the project root"},
			},
		},
		env: env,
	}
}

// overviewResult carries cache observability alongside the tree.
type overviewResult struct {
	RelativePath string           `json:"relative_path"`
	Symbols      []*symbol.Symbol `json:"symbols"`
	cacheHit     bool
	warnings     []string
}

func (r *overviewResult) ResponseWarnings() []string { return r.warnings }
func (r *overviewResult) CacheMeta() *CacheMeta      { return &CacheMeta{Hit: r.cacheHit} }

func (t *getSymbolsOverview) Apply(ctx context.Context, req *Request) (any, error) {
	active, err := t.env.requireActive()
	if err != nil {
		return nil, err
	}
	relativePath := req.String("relative_path")
	req.Touch(relativePath)

	roots, hit, warnings, err := t.env.overviewFor(ctx, active, relativePath)
	if err != nil {
		return nil, err
	}
	return &overviewResult{
		RelativePath: relativePath,
		Symbols:      roots,
		cacheHit:     hit,
		warnings:     warnings,
	}, nil
}

type findSymbol struct {
	toolBase
	env *Env
}

func newFindSymbol(env *Env) *findSymbol {
	return &findSymbol{
		toolBase: toolBase{
			name:        "find_symbol",
			description: "Find symbols by name path across the workspace or within one file.",
			kind:        session.KindSearch,
			params: []ParamSpec{
				{Name: "name_path", Type: TypeString, Required: true, Description: "Slash-separated name path, e.g. Outer/Inner/method"},
				{Name: "relative_path", Type: TypeString, Description: "Restrict the search to one file"},
				{Name: "match_mode", Type: TypeString, Default: "exact", Enum: []string{"exact", "substring", "glob", "regex"}},
				{Name: "search_scope", Type: TypeString, Default: "source", Enum: []string{"all", "source"}},
				{Name: "depth", Type: TypeInt, Default: 0, Description: "0 symbol only, 1 with children, up to 5 recursive"},
				{Name: "output_format", Type: TypeString, Default: "metadata", Enum: []string{"metadata", "signature", "body"}},
				{Name: "include_kinds", Type: TypeStringList, Description: "Restrict to LSP kind names, e.g. class, method"},
				{Name: "include_body", Type: TypeBool, Description: "Legacy flag equivalent to output_format=body"},
			},
		},
		env: env,
	}
}

// findSymbolResult is the find_symbol payload.
type findSymbolResult struct {
	Symbols  []FoundSymbol `json:"symbols"`
	Scope    *ScopeMeta    `json:"scope,omitempty"`
	cacheHit bool
	warnings []string
	notes    []string
}

func (r *findSymbolResult) ResponseWarnings() []string { return r.warnings }
func (r *findSymbolResult) DeprecationNotes() []string { return r.notes }
func (r *findSymbolResult) CacheMeta() *CacheMeta      { return &CacheMeta{Hit: r.cacheHit} }

// Units/Rebuild let truncation trim at whole-symbol boundaries.
func (r *findSymbolResult) Units() []any {
	units := make([]any, len(r.Symbols))
	for i, s := range r.Symbols {
		units[i] = s
	}
	return units
}

func (r *findSymbolResult) Rebuild(units []any) any {
	kept := &findSymbolResult{Symbols: make([]FoundSymbol, 0, len(units)), Scope: r.Scope}
	for _, u := range units {
		kept.Symbols = append(kept.Symbols, u.(FoundSymbol))
	}
	return kept
}

// NarrowingSuggestions names concrete ways to shrink an over-budget
// result.
func (t *findSymbol) NarrowingSuggestions(req *Request) []string {
	suggestions := []string{
		"restrict the search with relative_path",
		"use depth=0 to omit children",
	}
	if req.String("match_mode") != "exact" {
		suggestions = append(suggestions, `use match_mode="exact" instead of a pattern`)
	}
	if req.String("output_format") == "body" || req.Bool("include_body") {
		suggestions = append(suggestions, `use output_format="metadata" and fetch bodies individually`)
	}
	return suggestions
}

func (t *findSymbol) Apply(ctx context.Context, req *Request) (any, error) {
	active, err := t.env.requireActive()
	if err != nil {
		return nil, err
	}

	matcher, err := symbol.NewMatcher(req.String("name_path"), symbol.MatchMode(req.String("match_mode")))
	if err != nil {
		return nil, err
	}
	depth := req.Int("depth")
	if err := symbol.ValidateDepth(depth); err != nil {
		return nil, err
	}

	format := symbol.OutputFormat(req.String("output_format"))
	result := &findSymbolResult{Symbols: []FoundSymbol{}}
	if req.Bool("include_body") {
		format = symbol.FormatBody
		result.notes = append(result.notes, `include_body is deprecated; use output_format="body"`)
	}

	kinds, err := parseKinds(req.StringList("include_kinds"))
	if err != nil {
		return nil, err
	}

	scopeMode := project.ScopeMode(req.String("search_scope"))
	var files []string
	if rel := req.String("relative_path"); rel != "" {
		files = []string{rel}
		req.Touch(rel)
	} else {
		files, err = t.env.semanticFiles(active, scopeMode)
		if err != nil {
			return nil, err
		}
		// For literal name queries, workspace/symbol narrows the file
		// set before any per-file analysis; pattern modes and servers
		// without useful workspace search fall back to the full scope.
		mode := symbol.MatchMode(req.String("match_mode"))
		if mode == symbol.MatchExact || mode == symbol.MatchSubstring {
			if narrowed := t.workspaceCandidates(ctx, active, req.String("name_path"), files); narrowed != nil {
				files = narrowed
			}
		}
		result.Scope = scopeMetaFor(scopeMode)
	}

	allHits := true
	for _, file := range files {
		roots, hit, warnings, err := t.env.overviewFor(ctx, active, file)
		if err != nil {
			return nil, err
		}
		allHits = allHits && hit
		result.warnings = append(result.warnings, warnings...)

		matches := symbol.FilterTree(roots, matcher, kinds)
		if len(matches) == 0 {
			continue
		}
		var content string
		if format != symbol.FormatMetadata {
			srv, err := t.env.slsFor(active, file)
			if err != nil {
				return nil, err
			}
			if content, err = srv.FileContent(file); err != nil {
				return nil, err
			}
		}
		for _, m := range matches {
			clone := materialize(m, depth, format, content)
			result.Symbols = append(result.Symbols, FoundSymbol{SymbolID: clone.ID(), Symbol: clone})
		}
	}
	result.cacheHit = allHits && len(files) > 0
	return result, nil
}

// workspaceCandidates asks each language server for cross-file
// matches of the query's final segment and intersects the hits with
// the in-scope file set. Returns nil (meaning: no narrowing) when no
// server produced anything useful.
func (t *findSymbol) workspaceCandidates(ctx context.Context, active *project.Active, namePath string, inScope []string) []string {
	segments := strings.Split(strings.Trim(namePath, "/"), "/")
	query := segments[len(segments)-1]
	if query == "" {
		return nil
	}

	scopeSet := make(map[string]bool, len(inScope))
	for _, f := range inScope {
		scopeSet[f] = true
	}

	hitSet := make(map[string]bool)
	for _, srv := range active.Servers {
		syms, err := srv.WorkspaceSymbols(ctx, query)
		if err != nil {
			return nil // fail open: scan the full scope instead
		}
		for _, s := range syms {
			if scopeSet[s.RelativePath] {
				hitSet[s.RelativePath] = true
			}
		}
	}
	if len(hitSet) == 0 {
		return nil
	}
	var files []string
	for f := range hitSet {
		files = append(files, f)
	}
	sort.Strings(files)
	return files
}

// semanticFiles enumerates the in-scope files whose language has an
// LSP backend in the active project.
func (e *Env) semanticFiles(active *project.Active, mode project.ScopeMode) ([]string, error) {
	exts := make(map[string]bool)
	for lang := range active.Servers {
		d, err := e.Manager.Backends().Get(lang)
		if err != nil {
			continue
		}
		for _, ext := range d.FileExtensions {
			exts[ext] = true
		}
	}

	all, err := project.NewScope(active.Project.Root, mode).ListFiles()
	if err != nil {
		return nil, err
	}
	var files []string
	for _, f := range all {
		if exts[filepath.Ext(f)] {
			files = append(files, f)
		}
	}
	return files, nil
}

func parseKinds(names []string) ([]protocol.SymbolKind, error) {
	var kinds []protocol.SymbolKind
	for _, name := range names {
		kind, ok := symbol.KindFromName(name)
		if !ok {
			return nil, errs.NewValidationError("include_kinds", fmt.Sprintf("unknown symbol kind %q", name))
		}
		kinds = append(kinds, kind)
	}
	return kinds, nil
}

type findReferencingSymbols struct {
	toolBase
	env *Env
}

func newFindReferencingSymbols(env *Env) *findReferencingSymbols {
	return &findReferencingSymbols{
		toolBase: toolBase{
			name:        "find_referencing_symbols",
			description: "Find every location referencing a symbol, with usage patterns and optional surrounding context.",
			kind:        session.KindSearch,
			params: []ParamSpec{
				{Name: "name_path", Type: TypeString, Required: true},
				{Name: "relative_path", Type: TypeString, Required: true, Description: "File defining the symbol"},
				{Name: "context_lines", Type: TypeInt, Default: 2, Description: "Context lines around each reference"},
			},
		},
		env: env,
	}
}

func (t *findReferencingSymbols) Apply(ctx context.Context, req *Request) (any, error) {
	active, err := t.env.requireActive()
	if err != nil {
		return nil, err
	}
	relativePath := req.String("relative_path")
	req.Touch(relativePath)

	roots, _, _, err := t.env.overviewFor(ctx, active, relativePath)
	if err != nil {
		return nil, err
	}
	target, err := symbol.FindByNamePath(roots, req.String("name_path"))
	if err != nil {
		return nil, err
	}

	srv, err := t.env.slsFor(active, relativePath)
	if err != nil {
		return nil, err
	}
	locations, err := srv.References(ctx, relativePath, target.Selection.Start, false)
	if err != nil {
		return nil, err
	}

	contextLines := req.Int("context_lines")
	references := make([]symbol.Reference, 0, len(locations))
	for _, loc := range locations {
		ref := symbol.Reference{
			TargetSymbolID: target.ID(),
			RelativePath:   loc.RelativePath,
			Line:           loc.Range.Start.Line + 1,
		}

		if content, err := srv.FileContent(loc.RelativePath); err == nil {
			lines := strings.Split(content, "\n")
			if loc.Range.Start.Line < len(lines) {
				ref.UsagePattern = strings.TrimSpace(lines[loc.Range.Start.Line])
			}
			ref.Context = contextAround(lines, loc.Range.Start.Line, contextLines)
		}

		// Attribute the reference to its innermost enclosing symbol
		// when the referencing file can be analyzed.
		if refRoots, _, _, err := t.env.overviewFor(ctx, active, loc.RelativePath); err == nil {
			if enclosing := innermostEnclosing(refRoots, loc.Range.Start.Line); enclosing != nil {
				ref.SourceSymbolID = enclosing.ID()
			}
		}
		references = append(references, ref)
	}

	return map[string]any{
		"target_symbol_id": target.ID(),
		"references":       references,
	}, nil
}

func contextAround(lines []string, line, n int) []string {
	if n <= 0 {
		return nil
	}
	start := line - n
	if start < 0 {
		start = 0
	}
	end := line + n
	if end >= len(lines) {
		end = len(lines) - 1
	}
	out := make([]string, 0, end-start+1)
	for i := start; i <= end; i++ {
		out = append(out, lines[i])
	}
	return out
}

// innermostEnclosing returns the deepest symbol whose range spans the
// given zero-based line.
func innermostEnclosing(roots []*symbol.Symbol, line int) *symbol.Symbol {
	var best *symbol.Symbol
	symbol.Walk(roots, func(s *symbol.Symbol) {
		if s.Range.Start.Line <= line && line <= s.Range.End.Line {
			if best == nil || s.Range.Start.Line >= best.Range.Start.Line {
				best = s
			}
		}
	})
	return best
}

type getSymbolBody struct {
	toolBase
	env *Env
}

func newGetSymbolBody(env *Env) *getSymbolBody {
	return &getSymbolBody{
		toolBase: toolBase{
			name:        "get_symbol_body",
			description: "Return the source text for one or more symbol ids issued by find_symbol.",
			kind:        session.KindRead,
			params: []ParamSpec{
				{Name: "symbol_ids", Type: TypeStringList, Required: true},
			},
		},
		env: env,
	}
}

func (t *getSymbolBody) Apply(ctx context.Context, req *Request) (any, error) {
	active, err := t.env.requireActive()
	if err != nil {
		return nil, err
	}

	bodies := make(map[string]string)
	for _, id := range req.StringList("symbol_ids") {
		parsed, err := symbol.ParseID(id)
		if err != nil {
			return nil, err
		}
		req.Touch(parsed.RelativePath)

		roots, _, _, err := t.env.overviewFor(ctx, active, parsed.RelativePath)
		if err != nil {
			return nil, err
		}
		sym := resolveID(roots, parsed)
		if sym == nil {
			return nil, errs.NewNotFoundError("symbol", id)
		}

		srv, err := t.env.slsFor(active, parsed.RelativePath)
		if err != nil {
			return nil, err
		}
		content, err := srv.FileContent(parsed.RelativePath)
		if err != nil {
			return nil, err
		}
		bodies[id] = symbol.BodyFromContent(content, sym.Range)
	}
	return map[string]any{"bodies": bodies}, nil
}

// resolveID finds the symbol a parsed id refers to: same name path
// and same recorded start line. A file edited since the id was issued
// no longer resolves, which is the documented stability contract.
func resolveID(roots []*symbol.Symbol, parsed symbol.ParsedID) *symbol.Symbol {
	var found *symbol.Symbol
	symbol.Walk(roots, func(s *symbol.Symbol) {
		if found == nil && s.NamePath == parsed.NamePath && s.Range.Start.Line+1 == parsed.StartLine {
			found = s
		}
	})
	return found
}
