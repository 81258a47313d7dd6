// Package editor implements the code-editing pipeline: symbol-body
// replacement, adjacent insertion, and regex substitution, each
// producing a unified diff and invalidating the Symbol Cache for the
// touched file. Every mutation either fully applies or leaves the
// file unchanged.
package editor

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/ternarybob/serena/internal/cache"
	"github.com/ternarybob/serena/internal/errs"
	"github.com/ternarybob/serena/internal/lsp/sls"
	"github.com/ternarybob/serena/internal/symbol"
)

// SymbolSource locates symbols and applies range edits. Implemented
// by *sls.Server; tests substitute a filesystem-only fake.
type SymbolSource interface {
	DocumentSymbols(ctx context.Context, relativePath string, format symbol.OutputFormat) ([]*symbol.Symbol, []string, error)
	ApplyTextEdit(ctx context.Context, relativePath string, r symbol.Range, newText string) (*sls.EditResult, error)
}

// ChangeNotifier lets the regex path tell an open language server
// about content it changed behind its back. May be nil.
type ChangeNotifier interface {
	NotifyFileChanged(ctx context.Context, relativePath string, newContent string)
}

// Response is the structured result of one mutation.
type Response struct {
	Status           string `json:"status"`
	RelativePath     string `json:"relative_path"`
	Diff             string `json:"diff,omitempty"`
	LinesChanged     int    `json:"lines_changed"`
	CacheInvalidated int    `json:"cache_invalidated"`

	// OldContent/NewContent back the "full" response format; the
	// dispatch layer decides whether to expose them.
	OldContent string `json:"-"`
	NewContent string `json:"-"`
}

// Editor performs mutations under one project root.
type Editor struct {
	root  string
	cache *cache.Cache
}

// New returns an Editor. cache may be nil (no invalidation hook).
func New(root string, c *cache.Cache) *Editor {
	return &Editor{root: root, cache: c}
}

// ReplaceSymbolBody replaces the full source range of the named
// symbol with newBody, re-indented to the symbol's original leading
// indentation if the replacement arrives unindented.
func (e *Editor) ReplaceSymbolBody(ctx context.Context, src SymbolSource, namePath, relativePath, newBody string) (*Response, error) {
	sym, content, err := e.locate(ctx, src, namePath, relativePath)
	if err != nil {
		return nil, err
	}

	indent := leadingIndent(content, sym.Range.Start)
	replacement := reindent(newBody, indent)

	result, err := src.ApplyTextEdit(ctx, relativePath, sym.Range, strings.TrimRight(replacement, "\n"))
	if err != nil {
		return nil, err
	}
	return e.respond(result), nil
}

// InsertAfterSymbol inserts newText on a fresh line after the named
// symbol's range, preserving surrounding newlines.
func (e *Editor) InsertAfterSymbol(ctx context.Context, src SymbolSource, namePath, relativePath, newText string) (*Response, error) {
	sym, content, err := e.locate(ctx, src, namePath, relativePath)
	if err != nil {
		return nil, err
	}

	lines := strings.Split(content, "\n")
	insertLine := sym.Range.End.Line
	if sym.Range.End.Character > 0 {
		insertLine++
	}
	if insertLine > len(lines) {
		insertLine = len(lines)
	}
	at := symbol.Position{Line: insertLine, Character: 0}

	text := newText
	if !strings.HasSuffix(text, "\n") {
		text += "\n"
	}
	result, err := src.ApplyTextEdit(ctx, relativePath, symbol.Range{Start: at, End: at}, text)
	if err != nil {
		return nil, err
	}
	return e.respond(result), nil
}

// InsertBeforeSymbol inserts newText on a fresh line before the named
// symbol's range.
func (e *Editor) InsertBeforeSymbol(ctx context.Context, src SymbolSource, namePath, relativePath, newText string) (*Response, error) {
	sym, _, err := e.locate(ctx, src, namePath, relativePath)
	if err != nil {
		return nil, err
	}

	at := symbol.Position{Line: sym.Range.Start.Line, Character: 0}
	text := newText
	if !strings.HasSuffix(text, "\n") {
		text += "\n"
	}
	result, err := src.ApplyTextEdit(ctx, relativePath, symbol.Range{Start: at, End: at}, text)
	if err != nil {
		return nil, err
	}
	return e.respond(result), nil
}

// RegexReplace applies a language-agnostic substitution. It does not
// need a language server: the file is read, substituted, and written
// back atomically; notifier (if any) hears about the new content.
func (e *Editor) RegexReplace(ctx context.Context, relativePath, pattern, replacement string, allowMultiple bool, notifier ChangeNotifier) (*Response, error) {
	re, err := regexp.Compile(pattern)
	if err != nil {
		return nil, errs.NewValidationError("pattern", fmt.Sprintf("invalid regex: %v", err))
	}

	abs := filepath.Join(e.root, relativePath)
	data, err := os.ReadFile(abs)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, errs.NewNotFoundError("file", relativePath)
		}
		return nil, errs.NewIOError("read", relativePath, err)
	}
	content := string(data)

	matches := re.FindAllStringIndex(content, -1)
	if len(matches) == 0 {
		return nil, errs.NewNotFoundError("pattern match", pattern)
	}
	if !allowMultiple && len(matches) > 1 {
		return nil, errs.NewValidationError("pattern",
			fmt.Sprintf("%d matches found but allow_multiple is false; tighten the pattern or set allow_multiple", len(matches)))
	}

	newContent := re.ReplaceAllString(content, replacement)
	if err := WriteAtomic(abs, []byte(newContent)); err != nil {
		return nil, err
	}

	invalidated := 0
	if e.cache != nil {
		invalidated = e.cache.InvalidateFile(relativePath)
	}
	if notifier != nil {
		notifier.NotifyFileChanged(ctx, relativePath, newContent)
	}

	return e.respond(&sls.EditResult{
		RelativePath: relativePath,
		OldContent:   content,
		NewContent:   newContent,
		Invalidated:  invalidated,
	}), nil
}

// locate finds the symbol and returns it with the pre-edit content.
func (e *Editor) locate(ctx context.Context, src SymbolSource, namePath, relativePath string) (*symbol.Symbol, string, error) {
	roots, _, err := src.DocumentSymbols(ctx, relativePath, symbol.FormatMetadata)
	if err != nil {
		return nil, "", err
	}
	sym, err := symbol.FindByNamePath(roots, namePath)
	if err != nil {
		return nil, "", err
	}
	data, err := os.ReadFile(filepath.Join(e.root, relativePath))
	if err != nil {
		return nil, "", errs.NewIOError("read", relativePath, err)
	}
	return sym, string(data), nil
}

func (e *Editor) respond(result *sls.EditResult) *Response {
	diff := Unified(result.RelativePath, result.OldContent, result.NewContent)
	return &Response{
		Status:           "success",
		RelativePath:     result.RelativePath,
		Diff:             diff,
		LinesChanged:     countChangedLines(diff),
		CacheInvalidated: result.Invalidated,
		OldContent:       result.OldContent,
		NewContent:       result.NewContent,
	}
}

func countChangedLines(diff string) int {
	n := 0
	for _, line := range strings.Split(diff, "\n") {
		if len(line) == 0 {
			continue
		}
		if strings.HasPrefix(line, "+++") || strings.HasPrefix(line, "---") || strings.HasPrefix(line, "@@") {
			continue
		}
		if line[0] == '+' || line[0] == '-' {
			n++
		}
	}
	return n
}

// leadingIndent returns the whitespace prefix of the symbol's start
// line, up to its start column.
func leadingIndent(content string, start symbol.Position) string {
	lines := strings.Split(content, "\n")
	if start.Line >= len(lines) {
		return ""
	}
	line := lines[start.Line]
	end := start.Character
	if end > len(line) {
		end = len(line)
	}
	prefix := line[:end]
	if strings.TrimSpace(prefix) != "" {
		return ""
	}
	return prefix
}

// reindent aligns a replacement body to the symbol's original
// indentation. The edit range begins after the start line's indent,
// so the first line stays flush; continuation lines arriving
// flush-left are shifted to the original column.
func reindent(body, indent string) string {
	lines := strings.Split(body, "\n")
	trimmedFirst := strings.TrimLeft(lines[0], " \t")
	bodyIndent := lines[0][:len(lines[0])-len(trimmedFirst)]
	if indent == "" && bodyIndent == "" {
		return body
	}

	lines[0] = trimmedFirst
	for i := 1; i < len(lines); i++ {
		if lines[i] == "" {
			continue
		}
		lines[i] = indent + strings.TrimPrefix(lines[i], bodyIndent)
	}
	return strings.Join(lines, "\n")
}

// WriteAtomic mirrors the write-temp-then-rename rule every
// mutation path follows.
func WriteAtomic(path string, data []byte) error {
	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, ".serena-edit-*")
	if err != nil {
		return errs.NewIOError("create temp", dir, err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpName)
		return errs.NewIOError("write", tmpName, err)
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpName)
		return errs.NewIOError("close", tmpName, err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		_ = os.Remove(tmpName)
		return errs.NewIOError("rename", path, err)
	}
	return nil
}
