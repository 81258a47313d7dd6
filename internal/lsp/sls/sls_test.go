package sls

import (
	"context"
	"encoding/json"
	"net"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.lsp.dev/jsonrpc2"
	"go.lsp.dev/protocol"

	"github.com/ternarybob/serena/internal/errs"
	"github.com/ternarybob/serena/internal/lsp/registry"
	"github.com/ternarybob/serena/internal/lsp/transport"
	"github.com/ternarybob/serena/internal/symbol"
)

const pySource = `import os

class User:
    def login(self, pw):
        check(pw)
        return True
`

// fakeLSP speaks just enough protocol over a net.Pipe to drive the
// façade: initialize, documentSymbol for m.py, and notification
// bookkeeping.
type fakeLSP struct {
	conn jsonrpc2.Conn

	mu            sync.Mutex
	notifications []string
	hangSymbols   bool
}

func (f *fakeLSP) sawNotification(method string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, m := range f.notifications {
		if m == method {
			return true
		}
	}
	return false
}

func (f *fakeLSP) handle(ctx context.Context, reply jsonrpc2.Replier, req jsonrpc2.Request) error {
	if _, ok := req.(*jsonrpc2.Call); !ok {
		f.mu.Lock()
		f.notifications = append(f.notifications, req.Method())
		f.mu.Unlock()
		return nil
	}

	switch req.Method() {
	case "initialize":
		return reply(ctx, protocol.InitializeResult{}, nil)
	case "textDocument/documentSymbol":
		f.mu.Lock()
		hang := f.hangSymbols
		f.mu.Unlock()
		if hang {
			return nil // never reply, forcing a client-side timeout
		}
		return reply(ctx, []protocol.DocumentSymbol{
			{
				Name: "User",
				Kind: protocol.SymbolKindClass,
				Range: protocol.Range{
					Start: protocol.Position{Line: 2},
					End:   protocol.Position{Line: 6},
				},
				SelectionRange: protocol.Range{
					Start: protocol.Position{Line: 2, Character: 6},
					End:   protocol.Position{Line: 2, Character: 10},
				},
				Children: []protocol.DocumentSymbol{
					{
						Name: "login",
						Kind: protocol.SymbolKindMethod,
						Range: protocol.Range{
							Start: protocol.Position{Line: 3, Character: 4},
							End:   protocol.Position{Line: 6, Character: 0},
						},
						SelectionRange: protocol.Range{
							Start: protocol.Position{Line: 3, Character: 8},
							End:   protocol.Position{Line: 3, Character: 13},
						},
					},
				},
			},
		}, nil)
	case "workspace/symbol":
		var params protocol.WorkspaceSymbolParams
		_ = json.Unmarshal(req.Params(), &params)
		return reply(ctx, []protocol.SymbolInformation{
			{
				Name:          "login",
				Kind:          protocol.SymbolKindMethod,
				ContainerName: "User",
				Location: protocol.Location{
					URI: "file:///tmp/does-not-matter/m.py",
					Range: protocol.Range{
						Start: protocol.Position{Line: 3, Character: 4},
						End:   protocol.Position{Line: 6},
					},
				},
			},
		}, nil)
	case "textDocument/references":
		return reply(ctx, []protocol.Location{
			{
				URI: "file:///tmp/does-not-matter/caller.py",
				Range: protocol.Range{
					Start: protocol.Position{Line: 10, Character: 2},
					End:   protocol.Position{Line: 10, Character: 7},
				},
			},
		}, nil)
	case "shutdown":
		return reply(ctx, nil, nil)
	default:
		return reply(ctx, nil, nil)
	}
}

// newTestServer wires a Server to a fakeLSP over a pipe, rooted at a
// temp dir containing m.py.
func newTestServer(t *testing.T, timeout time.Duration) (*Server, *fakeLSP, string) {
	t.Helper()

	root := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(root, "m.py"), []byte(pySource), 0o644))

	fake := &fakeLSP{}
	srv := New(Options{
		Root: root,
		Backend: &registry.ResolvedBackend{
			LanguageTag:    "python",
			Executable:     "fake",
			RequestTimeout: timeout,
		},
		InitTimeout: 5 * time.Second,
		Dial: func(ctx context.Context) (*transport.Transport, error) {
			clientSide, serverSide := net.Pipe()
			fake.conn = jsonrpc2.NewConn(jsonrpc2.NewStream(serverSide))
			fake.conn.Go(context.Background(), fake.handle)
			return transport.NewFromStream("python", timeout, clientSide)
		},
	})
	require.NoError(t, srv.Initialize(context.Background()))
	t.Cleanup(func() { _ = srv.Shutdown(context.Background()) })

	return srv, fake, root
}

func TestInitialize_ReachesReady(t *testing.T) {
	srv, fake, _ := newTestServer(t, time.Second)

	assert.Equal(t, StateReady, srv.State())
	assert.Eventually(t, func() bool { return fake.sawNotification("initialized") },
		2*time.Second, 10*time.Millisecond)
}

func TestDocumentSymbols_TreeAndBodies(t *testing.T) {
	srv, fake, _ := newTestServer(t, time.Second)

	roots, warnings, err := srv.DocumentSymbols(context.Background(), "m.py", symbol.FormatBody)
	require.NoError(t, err)
	assert.Empty(t, warnings)
	require.Len(t, roots, 1)

	user := roots[0]
	assert.Equal(t, "User", user.NamePath)
	require.Len(t, user.Children, 1)

	login := user.Children[0]
	assert.Equal(t, "User/login", login.NamePath)
	assert.Equal(t, "User/login:m.py:4", login.ID())
	// The body comes from the filesystem fast path, not the server.
	assert.Equal(t, "    def login(self, pw):\n        check(pw)\n        return True", login.Body)
	assert.Equal(t, "def login(self, pw):", login.Signature)

	assert.True(t, fake.sawNotification("textDocument/didOpen"))
}

func TestDocumentSymbols_TimeoutIsRecoverable(t *testing.T) {
	srv, fake, _ := newTestServer(t, 150*time.Millisecond)
	fake.mu.Lock()
	fake.hangSymbols = true
	fake.mu.Unlock()

	roots, warnings, err := srv.DocumentSymbols(context.Background(), "m.py", symbol.FormatMetadata)
	require.NoError(t, err)
	assert.Empty(t, roots)
	require.Len(t, warnings, 1)
	assert.Contains(t, warnings[0], "timed out")
	// A timeout does not kill the server.
	assert.Equal(t, StateReady, srv.State())
}

func TestDocumentSymbols_MissingFile(t *testing.T) {
	srv, _, _ := newTestServer(t, time.Second)

	_, _, err := srv.DocumentSymbols(context.Background(), "nope.py", symbol.FormatMetadata)
	assert.True(t, errs.IsNotFound(err))
}

func TestWorkspaceSymbols(t *testing.T) {
	srv, _, _ := newTestServer(t, time.Second)

	syms, err := srv.WorkspaceSymbols(context.Background(), "login")
	require.NoError(t, err)
	require.Len(t, syms, 1)
	assert.Equal(t, "User/login", syms[0].NamePath)
}

func TestDefinition_EmptyResultIsNotAnError(t *testing.T) {
	srv, _, _ := newTestServer(t, time.Second)

	// The fake replies null for definition requests; that decodes to
	// an empty location list, not a failure.
	locs, err := srv.Definition(context.Background(), "m.py", symbol.Position{Line: 4, Character: 8})
	require.NoError(t, err)
	assert.Empty(t, locs)
}

func TestReferences(t *testing.T) {
	srv, _, _ := newTestServer(t, time.Second)

	locs, err := srv.References(context.Background(), "m.py", symbol.Position{Line: 3, Character: 8}, false)
	require.NoError(t, err)
	require.Len(t, locs, 1)
	assert.Equal(t, 10, locs[0].Range.Start.Line)
}

func TestApplyTextEdit_WritesInvalidatesAndNotifies(t *testing.T) {
	invalidations := make([]string, 0, 1)

	srv, fake, root := newTestServer(t, time.Second)
	srv.opts.InvalidateFile = func(rel string) int {
		invalidations = append(invalidations, rel)
		return 2
	}

	require.NoError(t, srv.OpenFile(context.Background(), "m.py"))

	// Replace the login body lines with "pass".
	r := symbol.Range{
		Start: symbol.Position{Line: 4, Character: 0},
		End:   symbol.Position{Line: 6, Character: 0},
	}
	result, err := srv.ApplyTextEdit(context.Background(), "m.py", r, "        pass\n")
	require.NoError(t, err)
	assert.Equal(t, 2, result.Invalidated)
	assert.Equal(t, []string{"m.py"}, invalidations)

	onDisk, err := os.ReadFile(filepath.Join(root, "m.py"))
	require.NoError(t, err)
	assert.Contains(t, string(onDisk), "        pass\n")
	assert.NotContains(t, string(onDisk), "check(pw)")
	assert.Equal(t, string(onDisk), result.NewContent)

	assert.Eventually(t, func() bool { return fake.sawNotification("textDocument/didChange") },
		2*time.Second, 10*time.Millisecond)
}

func TestRestart_ReturnsToReady(t *testing.T) {
	srv, _, _ := newTestServer(t, time.Second)

	require.NoError(t, srv.Restart(context.Background()))
	assert.Equal(t, StateReady, srv.State())

	// Reads still work after the restart against the fresh pipe.
	roots, _, err := srv.DocumentSymbols(context.Background(), "m.py", symbol.FormatMetadata)
	require.NoError(t, err)
	assert.Len(t, roots, 1)
}

func TestShutdown_IsTerminalAndAbsorbing(t *testing.T) {
	srv, _, _ := newTestServer(t, time.Second)

	require.NoError(t, srv.Shutdown(context.Background()))
	assert.Equal(t, StateTerminal, srv.State())
	require.NoError(t, srv.Shutdown(context.Background()))

	_, _, err := srv.DocumentSymbols(context.Background(), "m.py", symbol.FormatMetadata)
	assert.True(t, errs.IsTerminated(err))
}

func TestPeerDeath_FailsFastUntilRestart(t *testing.T) {
	srv, fake, _ := newTestServer(t, time.Second)

	require.NoError(t, fake.conn.Close())

	require.Eventually(t, func() bool {
		_, _, err := srv.DocumentSymbols(context.Background(), "m.py", symbol.FormatMetadata)
		return errs.IsTerminated(err)
	}, 2*time.Second, 20*time.Millisecond)

	// A restart dials a fresh pipe and recovers.
	require.NoError(t, srv.Restart(context.Background()))
	roots, _, err := srv.DocumentSymbols(context.Background(), "m.py", symbol.FormatMetadata)
	require.NoError(t, err)
	assert.Len(t, roots, 1)
}
