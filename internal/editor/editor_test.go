package editor

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.lsp.dev/protocol"

	"github.com/ternarybob/serena/internal/cache"
	"github.com/ternarybob/serena/internal/errs"
	"github.com/ternarybob/serena/internal/lsp/sls"
	"github.com/ternarybob/serena/internal/symbol"
)

const pySource = `class User:
    def login(self, pw):
        check(pw)
        return True

    def logout(self):
        drop()
`

// fakeSource locates symbols from a fixed tree and applies edits
// straight to the filesystem, standing in for a live SLS.
type fakeSource struct {
	root  string
	cache *cache.Cache
	tree  []*symbol.Symbol
}

func (f *fakeSource) DocumentSymbols(ctx context.Context, relativePath string, format symbol.OutputFormat) ([]*symbol.Symbol, []string, error) {
	return f.tree, nil, nil
}

func (f *fakeSource) ApplyTextEdit(ctx context.Context, relativePath string, r symbol.Range, newText string) (*sls.EditResult, error) {
	abs := filepath.Join(f.root, relativePath)
	data, err := os.ReadFile(abs)
	if err != nil {
		return nil, err
	}
	content := string(data)

	lines := strings.SplitAfter(content, "\n")
	offset := func(pos symbol.Position) int {
		n := 0
		for i := 0; i < pos.Line && i < len(lines); i++ {
			n += len(lines[i])
		}
		return n + pos.Character
	}
	start, end := offset(r.Start), offset(r.End)
	newContent := content[:start] + newText + content[end:]

	if err := os.WriteFile(abs, []byte(newContent), 0o644); err != nil {
		return nil, err
	}
	invalidated := 0
	if f.cache != nil {
		invalidated = f.cache.InvalidateFile(relativePath)
	}
	return &sls.EditResult{
		RelativePath: relativePath,
		OldContent:   content,
		NewContent:   newContent,
		Invalidated:  invalidated,
	}, nil
}

func setup(t *testing.T) (*Editor, *fakeSource, string) {
	t.Helper()
	root := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(root, "m.py"), []byte(pySource), 0o644))

	c := cache.New(root, 10)
	c.Put("m.py", "overview", "cached")

	login := &symbol.Symbol{
		Name: "login", Kind: protocol.SymbolKindMethod, NamePath: "User/login", RelativePath: "m.py",
		Range: symbol.Range{Start: symbol.Position{Line: 1, Character: 4}, End: symbol.Position{Line: 4, Character: 0}},
	}
	logout := &symbol.Symbol{
		Name: "logout", Kind: protocol.SymbolKindMethod, NamePath: "User/logout", RelativePath: "m.py",
		Range: symbol.Range{Start: symbol.Position{Line: 5, Character: 4}, End: symbol.Position{Line: 7, Character: 0}},
	}
	user := &symbol.Symbol{
		Name: "User", Kind: protocol.SymbolKindClass, NamePath: "User", RelativePath: "m.py",
		Range:    symbol.Range{Start: symbol.Position{Line: 0}, End: symbol.Position{Line: 7, Character: 0}},
		Children: []*symbol.Symbol{login, logout},
	}

	src := &fakeSource{root: root, cache: c, tree: []*symbol.Symbol{user}}
	return New(root, c), src, root
}

func readBack(t *testing.T, root string) string {
	t.Helper()
	data, err := os.ReadFile(filepath.Join(root, "m.py"))
	require.NoError(t, err)
	return string(data)
}

func TestReplaceSymbolBody_ReindentsAndInvalidates(t *testing.T) {
	ed, src, root := setup(t)

	resp, err := ed.ReplaceSymbolBody(context.Background(), src, "User/login", "m.py", "def login(self, pw):\n    return allow(pw)\n")
	require.NoError(t, err)

	assert.Equal(t, "success", resp.Status)
	assert.GreaterOrEqual(t, resp.CacheInvalidated, 1)
	assert.Contains(t, resp.Diff, "--- a/m.py")
	assert.Contains(t, resp.Diff, "+++ b/m.py")
	assert.Contains(t, resp.Diff, "-        check(pw)")
	assert.Contains(t, resp.Diff, "+        return allow(pw)")

	content := readBack(t, root)
	// The replacement was re-indented to the method's original column.
	assert.Contains(t, content, "    def login(self, pw):\n        return allow(pw)\n")
	assert.Contains(t, content, "    def logout(self):")
	assert.NotContains(t, content, "check(pw)")
}

func TestReplaceSymbolBody_UnknownSymbol(t *testing.T) {
	ed, src, _ := setup(t)

	_, err := ed.ReplaceSymbolBody(context.Background(), src, "User/missing", "m.py", "pass\n")
	assert.True(t, errs.IsNotFound(err))
}

func TestInsertAfterSymbol(t *testing.T) {
	ed, src, root := setup(t)

	resp, err := ed.InsertAfterSymbol(context.Background(), src, "User/login", "m.py", "    def reset(self):\n        clear()\n")
	require.NoError(t, err)
	assert.Equal(t, "success", resp.Status)

	content := readBack(t, root)
	loginAt := strings.Index(content, "def login")
	resetAt := strings.Index(content, "def reset")
	logoutAt := strings.Index(content, "def logout")
	require.Positive(t, resetAt)
	assert.Greater(t, resetAt, loginAt)
	assert.Less(t, resetAt, logoutAt)
}

func TestInsertBeforeSymbol(t *testing.T) {
	ed, src, root := setup(t)

	_, err := ed.InsertBeforeSymbol(context.Background(), src, "User/logout", "m.py", "    # deprecated")
	require.NoError(t, err)

	content := readBack(t, root)
	assert.Contains(t, content, "    # deprecated\n    def logout(self):")
}

func TestRegexReplace_SingleMatch(t *testing.T) {
	ed, _, root := setup(t)

	resp, err := ed.RegexReplace(context.Background(), "m.py", `check\(pw\)`, "verify(pw)", false, nil)
	require.NoError(t, err)
	assert.Equal(t, "success", resp.Status)
	assert.GreaterOrEqual(t, resp.CacheInvalidated, 1)
	assert.Contains(t, readBack(t, root), "verify(pw)")
}

func TestRegexReplace_MultipleMatchesRefusedByDefault(t *testing.T) {
	ed, _, root := setup(t)

	_, err := ed.RegexReplace(context.Background(), "m.py", `def `, "fn ", false, nil)
	assert.True(t, errs.IsValidation(err))
	// The file is untouched on failure.
	assert.Equal(t, pySource, readBack(t, root))

	resp, err := ed.RegexReplace(context.Background(), "m.py", `def `, "fn ", true, nil)
	require.NoError(t, err)
	assert.Equal(t, 4, resp.LinesChanged) // two lines out, two in
}

func TestRegexReplace_InvalidPattern(t *testing.T) {
	ed, _, _ := setup(t)

	_, err := ed.RegexReplace(context.Background(), "m.py", `[`, "x", false, nil)
	assert.True(t, errs.IsValidation(err))
}

func TestRegexReplace_NoMatch(t *testing.T) {
	ed, _, _ := setup(t)

	_, err := ed.RegexReplace(context.Background(), "m.py", `nothing_here`, "x", false, nil)
	assert.True(t, errs.IsNotFound(err))
}

func TestRegexReplace_MissingFile(t *testing.T) {
	ed, _, _ := setup(t)

	_, err := ed.RegexReplace(context.Background(), "nope.py", `x`, "y", false, nil)
	assert.True(t, errs.IsNotFound(err))
}

func TestUnified_EmptyForIdenticalContent(t *testing.T) {
	assert.Empty(t, Unified("m.py", "same\n", "same\n"))
}

func TestUnified_HeadersAndHunks(t *testing.T) {
	before := "one\ntwo\nthree\nfour\nfive\n"
	after := "one\ntwo\nTHREE\nfour\nfive\n"

	diff := Unified("f.txt", before, after)
	assert.Contains(t, diff, "--- a/f.txt\n")
	assert.Contains(t, diff, "+++ b/f.txt\n")
	assert.Contains(t, diff, "-three\n")
	assert.Contains(t, diff, "+THREE\n")
	assert.Contains(t, diff, "@@ -1,5 +1,5 @@")
}
