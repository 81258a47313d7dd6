// Package sls implements the Solid Language Server: the uniform
// per-project façade over one LSP transport. It hides initialize and
// shutdown handshakes, document open/close tracking, and
// cross-language URI and offset conventions behind a stable symbol
// record API.
package sls

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"go.lsp.dev/protocol"
	"go.lsp.dev/uri"

	"github.com/ternarybob/serena/internal/errs"
	"github.com/ternarybob/serena/internal/logger"
	"github.com/ternarybob/serena/internal/lsp/registry"
	"github.com/ternarybob/serena/internal/lsp/transport"
	"github.com/ternarybob/serena/internal/symbol"
)

// State is the SLS lifecycle. terminal is absorbing: the only way out
// is a fresh Server instance.
type State string

const (
	StateUninitialized State = "uninitialized"
	StateInitializing  State = "initializing"
	StateReady         State = "ready"
	StateRestarting    State = "restarting"
	StateShuttingDown  State = "shutting_down"
	StateTerminal      State = "terminal"
)

// DefaultInitTimeout bounds the initialize handshake for very large
// workspaces; activation fails rather than hanging past it.
const DefaultInitTimeout = 10 * time.Second

// Dialer produces a started transport. The default spawns the
// backend's child process; tests substitute an in-process pipe.
type Dialer func(ctx context.Context) (*transport.Transport, error)

// Options configures one Server.
type Options struct {
	Root    string
	Backend *registry.ResolvedBackend

	// InitTimeout bounds the initialize round trip; zero means
	// DefaultInitTimeout.
	InitTimeout time.Duration

	// InvalidateFile is the Symbol Cache hook every mutation calls
	// before returning success. May be nil.
	InvalidateFile func(relativePath string) int

	// Dial overrides transport construction. Nil spawns the backend
	// executable.
	Dial Dialer
}

// Location is a file-relative position span, the cross-file result
// currency for references and definitions.
type Location struct {
	RelativePath string       `json:"relative_path"`
	Range        symbol.Range `json:"range"`
}

// EditResult describes one applied text edit.
type EditResult struct {
	RelativePath string
	OldContent   string
	NewContent   string
	Invalidated  int
}

type openFile struct {
	version int32
	idx     *lineIndex
}

// Server is safe for concurrent reads; mutations (edits, restart,
// shutdown) take the exclusive lock, which drains in-flight reads.
// The lifecycle state lives under its own mutex so a read holding the
// read lock can still flip the server to terminal when it observes a
// dead transport.
type Server struct {
	mu   sync.RWMutex
	opts Options
	tr   *transport.Transport
	caps protocol.ServerCapabilities

	stateMu sync.Mutex
	state   State

	openMu sync.Mutex
	open   map[string]*openFile
}

// New returns an uninitialized Server.
func New(opts Options) *Server {
	if opts.InitTimeout <= 0 {
		opts.InitTimeout = DefaultInitTimeout
	}
	return &Server{
		opts:  opts,
		state: StateUninitialized,
		open:  make(map[string]*openFile),
	}
}

// State returns the current lifecycle state.
func (s *Server) State() State {
	s.stateMu.Lock()
	defer s.stateMu.Unlock()
	return s.state
}

func (s *Server) setState(st State) {
	s.stateMu.Lock()
	s.state = st
	s.stateMu.Unlock()
}

// Language returns the backend language tag this server drives.
func (s *Server) Language() string { return s.opts.Backend.LanguageTag }

// Initialize launches the transport and performs the LSP handshake.
func (s *Server) Initialize(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if st := s.State(); st != StateUninitialized {
		return errs.NewValidationError("state", fmt.Sprintf("cannot initialize from state %q", st))
	}
	s.setState(StateInitializing)
	if err := s.connectLocked(ctx); err != nil {
		s.setState(StateTerminal)
		return err
	}
	s.setState(StateReady)
	return nil
}

// connectLocked dials the transport and runs initialize/initialized.
// Caller holds the write lock.
func (s *Server) connectLocked(ctx context.Context) error {
	dial := s.opts.Dial
	if dial == nil {
		dial = s.spawn
	}
	tr, err := dial(ctx)
	if err != nil {
		return err
	}
	s.tr = tr

	rootURI := uri.File(s.opts.Root)
	params := protocol.InitializeParams{
		ProcessID: int32(os.Getpid()),
		ClientInfo: &protocol.ClientInfo{
			Name:    "serena",
			Version: "1.0.0",
		},
		RootURI: rootURI,
		Capabilities: protocol.ClientCapabilities{
			TextDocument: &protocol.TextDocumentClientCapabilities{
				DocumentSymbol: &protocol.DocumentSymbolClientCapabilities{
					HierarchicalDocumentSymbolSupport: true,
				},
			},
		},
		InitializationOptions: s.opts.Backend.InitOptions,
		Trace:                 protocol.TraceValue(s.opts.Backend.TraceLevel),
		WorkspaceFolders: []protocol.WorkspaceFolder{
			{URI: string(rootURI), Name: filepath.Base(s.opts.Root)},
		},
	}

	var result protocol.InitializeResult
	if err := tr.SendRequest(ctx, "initialize", &params, &result, s.opts.InitTimeout); err != nil {
		_ = tr.Shutdown(ctx)
		return err
	}
	s.caps = result.Capabilities

	if err := tr.SendNotification(ctx, "initialized", &protocol.InitializedParams{}); err != nil {
		_ = tr.Shutdown(ctx)
		return err
	}
	return nil
}

func (s *Server) spawn(ctx context.Context) (*transport.Transport, error) {
	tr, err := transport.New(s.opts.Backend)
	if err != nil {
		return nil, err
	}
	if err := tr.Start(ctx); err != nil {
		return nil, err
	}
	return tr, nil
}

// ready returns the transport if the server can serve reads. Callers
// hold at least the read lock, which keeps s.tr stable.
func (s *Server) ready() (*transport.Transport, error) {
	if st := s.State(); st != StateReady {
		return nil, errs.NewTerminatedError(s.opts.Backend.LanguageTag, fmt.Sprintf("language server is %s; restart required", st))
	}
	return s.tr, nil
}

// observe transitions to terminal when a request reveals the backend
// is gone, so subsequent reads fail fast until a restart.
func (s *Server) observe(err error) error {
	if errs.IsTerminated(err) {
		s.stateMu.Lock()
		if s.state == StateReady {
			s.state = StateTerminal
		}
		s.stateMu.Unlock()
	}
	return err
}

func (s *Server) absPath(relativePath string) string {
	return filepath.Join(s.opts.Root, relativePath)
}

func (s *Server) fileURI(relativePath string) uri.URI {
	return uri.File(s.absPath(relativePath))
}

func (s *Server) relPath(u uri.URI) string {
	rel, err := filepath.Rel(s.opts.Root, u.Filename())
	if err != nil {
		return u.Filename()
	}
	return rel
}

var languageIDs = map[string]protocol.LanguageIdentifier{
	".go":       "go",
	".py":       "python",
	".pyi":      "python",
	".md":       "markdown",
	".markdown": "markdown",
	".ts":       "typescript",
	".js":       "javascript",
	".rs":       "rust",
	".java":     "java",
}

func languageIDFor(relativePath string) protocol.LanguageIdentifier {
	if id, ok := languageIDs[filepath.Ext(relativePath)]; ok {
		return id
	}
	return "plaintext"
}

// OpenFile reads the file and sends textDocument/didOpen if the
// document is not already tracked.
func (s *Server) OpenFile(ctx context.Context, relativePath string) error {
	s.mu.RLock()
	defer s.mu.RUnlock()

	tr, err := s.ready()
	if err != nil {
		return err
	}
	_, err = s.openLocked(ctx, tr, relativePath)
	return err
}

func (s *Server) openLocked(ctx context.Context, tr *transport.Transport, relativePath string) (*lineIndex, error) {
	s.openMu.Lock()
	defer s.openMu.Unlock()

	if of, ok := s.open[relativePath]; ok {
		return of.idx, nil
	}

	data, err := os.ReadFile(s.absPath(relativePath))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, errs.NewNotFoundError("file", relativePath)
		}
		return nil, errs.NewIOError("read", relativePath, err)
	}

	params := protocol.DidOpenTextDocumentParams{
		TextDocument: protocol.TextDocumentItem{
			URI:        s.fileURI(relativePath),
			LanguageID: languageIDFor(relativePath),
			Version:    1,
			Text:       string(data),
		},
	}
	if err := tr.SendNotification(ctx, "textDocument/didOpen", &params); err != nil {
		return nil, s.observe(err)
	}

	of := &openFile{version: 1, idx: newLineIndex(string(data))}
	s.open[relativePath] = of
	return of.idx, nil
}

// DocumentSymbols returns the file's symbol tree. Bodies, signatures,
// and docstrings are populated from the on-disk content using the
// LSP-reported ranges; the server is never asked for bodies. A
// request timeout is recoverable: it yields an empty tree plus a
// warning instead of an error.
func (s *Server) DocumentSymbols(ctx context.Context, relativePath string, format symbol.OutputFormat) ([]*symbol.Symbol, []string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	tr, err := s.ready()
	if err != nil {
		return nil, nil, err
	}
	idx, err := s.openLocked(ctx, tr, relativePath)
	if err != nil {
		return nil, nil, err
	}

	params := protocol.DocumentSymbolParams{
		TextDocument: protocol.TextDocumentIdentifier{URI: s.fileURI(relativePath)},
	}
	var raw json.RawMessage
	if err := tr.SendRequest(ctx, "textDocument/documentSymbol", &params, &raw, 0); err != nil {
		if errs.IsTimeout(err) {
			logger.GetLogger().Warn().
				Str("file", relativePath).Err(err).
				Msg("documentSymbol timed out; returning empty tree")
			return nil, []string{fmt.Sprintf("document symbols for %s timed out; results omitted", relativePath)}, nil
		}
		return nil, nil, s.observe(err)
	}

	roots, err := decodeSymbolTree(raw, relativePath)
	if err != nil {
		return nil, nil, err
	}
	if format != symbol.FormatMetadata && format != "" {
		for _, root := range roots {
			root.Populate(idx.content, format)
		}
	}
	return roots, nil, nil
}

// decodeSymbolTree accepts both hierarchical DocumentSymbol results
// and the flat SymbolInformation form older servers return.
func decodeSymbolTree(raw json.RawMessage, relativePath string) ([]*symbol.Symbol, error) {
	if len(raw) == 0 || string(raw) == "null" {
		return nil, nil
	}

	var hierarchical []protocol.DocumentSymbol
	if err := json.Unmarshal(raw, &hierarchical); err == nil {
		roots := make([]*symbol.Symbol, 0, len(hierarchical))
		for _, ds := range hierarchical {
			roots = append(roots, symbol.FromDocumentSymbol(ds, "", relativePath))
		}
		return roots, nil
	}

	var flat []protocol.SymbolInformation
	if err := json.Unmarshal(raw, &flat); err != nil {
		return nil, errs.NewIOError("decode", "textDocument/documentSymbol", err)
	}
	roots := make([]*symbol.Symbol, 0, len(flat))
	for _, si := range flat {
		namePath := si.Name
		if si.ContainerName != "" {
			namePath = si.ContainerName + "/" + si.Name
		}
		roots = append(roots, &symbol.Symbol{
			Name:         si.Name,
			Kind:         si.Kind,
			KindName:     symbol.KindNameOf(si.Kind),
			NamePath:     namePath,
			RelativePath: relativePath,
			Range:        symbol.FromProtocolRange(si.Location.Range),
			Selection:    symbol.FromProtocolRange(si.Location.Range),
		})
	}
	return roots, nil
}

// WorkspaceSymbols performs a cross-file symbol lookup.
func (s *Server) WorkspaceSymbols(ctx context.Context, query string) ([]*symbol.Symbol, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	tr, err := s.ready()
	if err != nil {
		return nil, err
	}

	params := protocol.WorkspaceSymbolParams{Query: query}
	var raw json.RawMessage
	if err := tr.SendRequest(ctx, "workspace/symbol", &params, &raw, 0); err != nil {
		return nil, s.observe(err)
	}
	if len(raw) == 0 || string(raw) == "null" {
		return nil, nil
	}

	var flat []protocol.SymbolInformation
	if err := json.Unmarshal(raw, &flat); err != nil {
		return nil, errs.NewIOError("decode", "workspace/symbol", err)
	}
	out := make([]*symbol.Symbol, 0, len(flat))
	for _, si := range flat {
		namePath := si.Name
		if si.ContainerName != "" {
			namePath = si.ContainerName + "/" + si.Name
		}
		out = append(out, &symbol.Symbol{
			Name:         si.Name,
			Kind:         si.Kind,
			KindName:     symbol.KindNameOf(si.Kind),
			NamePath:     namePath,
			RelativePath: s.relPath(si.Location.URI),
			Range:        symbol.FromProtocolRange(si.Location.Range),
			Selection:    symbol.FromProtocolRange(si.Location.Range),
		})
	}
	return out, nil
}

// References returns every location referencing the symbol selected
// at the given position.
func (s *Server) References(ctx context.Context, relativePath string, pos symbol.Position, includeDeclaration bool) ([]Location, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	tr, err := s.ready()
	if err != nil {
		return nil, err
	}
	if _, err := s.openLocked(ctx, tr, relativePath); err != nil {
		return nil, err
	}

	params := protocol.ReferenceParams{
		TextDocumentPositionParams: protocol.TextDocumentPositionParams{
			TextDocument: protocol.TextDocumentIdentifier{URI: s.fileURI(relativePath)},
			Position:     protocol.Position{Line: uint32(pos.Line), Character: uint32(pos.Character)},
		},
		Context: protocol.ReferenceContext{IncludeDeclaration: includeDeclaration},
	}
	var locations []protocol.Location
	if err := tr.SendRequest(ctx, "textDocument/references", &params, &locations, 0); err != nil {
		return nil, s.observe(err)
	}
	return s.toLocations(locations), nil
}

// Definition resolves the definition sites for the symbol at the
// given position.
func (s *Server) Definition(ctx context.Context, relativePath string, pos symbol.Position) ([]Location, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	tr, err := s.ready()
	if err != nil {
		return nil, err
	}
	if _, err := s.openLocked(ctx, tr, relativePath); err != nil {
		return nil, err
	}

	params := protocol.TextDocumentPositionParams{
		TextDocument: protocol.TextDocumentIdentifier{URI: s.fileURI(relativePath)},
		Position:     protocol.Position{Line: uint32(pos.Line), Character: uint32(pos.Character)},
	}
	var locations []protocol.Location
	if err := tr.SendRequest(ctx, "textDocument/definition", &params, &locations, 0); err != nil {
		return nil, s.observe(err)
	}
	return s.toLocations(locations), nil
}

func (s *Server) toLocations(locations []protocol.Location) []Location {
	out := make([]Location, 0, len(locations))
	for _, loc := range locations {
		out = append(out, Location{
			RelativePath: s.relPath(loc.URI),
			Range:        symbol.FromProtocolRange(loc.Range),
		})
	}
	return out
}

// ApplyTextEdit replaces the byte span covered by an LSP range,
// writes the file atomically, re-announces the new version via
// didChange, and invalidates the Symbol Cache for the path before
// returning success.
func (s *Server) ApplyTextEdit(ctx context.Context, relativePath string, r symbol.Range, newText string) (*EditResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	tr, err := s.ready()
	if err != nil {
		return nil, err
	}
	idx, err := s.openLocked(ctx, tr, relativePath)
	if err != nil {
		return nil, err
	}

	newContent := idx.spliceRange(r, newText)
	if err := writeFileAtomic(s.absPath(relativePath), []byte(newContent)); err != nil {
		return nil, err
	}

	s.openMu.Lock()
	of := s.open[relativePath]
	of.version++
	of.idx = newLineIndex(newContent)
	version := of.version
	s.openMu.Unlock()

	params := protocol.DidChangeTextDocumentParams{
		TextDocument: protocol.VersionedTextDocumentIdentifier{
			TextDocumentIdentifier: protocol.TextDocumentIdentifier{URI: s.fileURI(relativePath)},
			Version:                version,
		},
		ContentChanges: []protocol.TextDocumentContentChangeEvent{{Text: newContent}},
	}
	if err := tr.SendNotification(ctx, "textDocument/didChange", &params); err != nil {
		logger.GetLogger().Warn().Err(err).Str("file", relativePath).Msg("didChange notification failed after edit")
	}

	invalidated := 0
	if s.opts.InvalidateFile != nil {
		invalidated = s.opts.InvalidateFile(relativePath)
	}
	return &EditResult{
		RelativePath: relativePath,
		OldContent:   idx.content,
		NewContent:   newContent,
		Invalidated:  invalidated,
	}, nil
}

// NotifyFileChanged refreshes the tracked document after an external
// write (the Code Editor's regex path), bumping the version and
// re-sending didChange. Untracked files are ignored.
func (s *Server) NotifyFileChanged(ctx context.Context, relativePath string, newContent string) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	tr, err := s.ready()
	if err != nil {
		return
	}

	s.openMu.Lock()
	of, ok := s.open[relativePath]
	if !ok {
		s.openMu.Unlock()
		return
	}
	of.version++
	of.idx = newLineIndex(newContent)
	version := of.version
	s.openMu.Unlock()

	params := protocol.DidChangeTextDocumentParams{
		TextDocument: protocol.VersionedTextDocumentIdentifier{
			TextDocumentIdentifier: protocol.TextDocumentIdentifier{URI: s.fileURI(relativePath)},
			Version:                version,
		},
		ContentChanges: []protocol.TextDocumentContentChangeEvent{{Text: newContent}},
	}
	_ = tr.SendNotification(ctx, "textDocument/didChange", &params)
}

// Restart tears down the transport and initializes a fresh one
// without destroying the owning Project or the Symbol Cache entries
// for unchanged files.
func (s *Server) Restart(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.State() == StateShuttingDown {
		return errs.NewValidationError("state", "cannot restart while shutting down")
	}
	s.setState(StateRestarting)

	if s.tr != nil {
		_ = s.tr.Shutdown(ctx)
	}
	s.openMu.Lock()
	s.open = make(map[string]*openFile)
	s.openMu.Unlock()

	if err := s.connectLocked(ctx); err != nil {
		s.setState(StateTerminal)
		return err
	}
	s.setState(StateReady)
	return nil
}

// Shutdown performs the clean shutdown handshake and transitions to
// terminal. Safe to call more than once.
func (s *Server) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.State() == StateTerminal {
		return nil
	}
	s.setState(StateShuttingDown)
	var err error
	if s.tr != nil {
		err = s.tr.Shutdown(ctx)
	}
	s.setState(StateTerminal)
	return err
}

// FileContent returns the on-disk content of a project file. This is
// the body-from-filesystem fast path shared with non-LSP callers.
func (s *Server) FileContent(relativePath string) (string, error) {
	data, err := os.ReadFile(s.absPath(relativePath))
	if err != nil {
		if os.IsNotExist(err) {
			return "", errs.NewNotFoundError("file", relativePath)
		}
		return "", errs.NewIOError("read", relativePath, err)
	}
	return string(data), nil
}

// writeFileAtomic writes to a temporary sibling and renames it into
// place so a failed write never leaves partial content behind.
func writeFileAtomic(path string, data []byte) error {
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
