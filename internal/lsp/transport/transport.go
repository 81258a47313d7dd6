// Package transport owns one language-server child process and the
// JSON-RPC wiring over its stdio. Framing, request correlation, and
// notification dispatch come from go.lsp.dev/jsonrpc2; this package
// adds process supervision, per-request timeouts, and structured
// termination semantics.
package transport

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"sync"
	"sync/atomic"
	"time"

	"go.lsp.dev/jsonrpc2"

	"github.com/ternarybob/serena/internal/errs"
	"github.com/ternarybob/serena/internal/logger"
	"github.com/ternarybob/serena/internal/lsp/registry"
)

// State of the transport lifecycle.
type State int32

const (
	StateNew State = iota
	StateRunning
	StateTerminated
)

// shutdownGrace bounds how long Shutdown waits for a clean exit
// before force-killing the child.
const shutdownGrace = 5 * time.Second

// NotificationHandler receives server-initiated notifications
// (diagnostics, log messages). It must not block.
type NotificationHandler func(method string, params json.RawMessage)

// Transport frames JSON-RPC over one child process's stdio. It never
// auto-restarts; restart is a policy decision of its owner.
type Transport struct {
	name           string
	requestTimeout time.Duration

	cmd   *exec.Cmd
	conn  jsonrpc2.Conn
	state atomic.Int32

	notifyMu sync.RWMutex
	onNotify NotificationHandler

	// exited is closed once the child process has been waited on (or,
	// for stream-backed transports, once the connection closes).
	exited     chan struct{}
	exitedOnce sync.Once
}

// New prepares a Transport for a resolved backend. The child is not
// launched until Start.
func New(backend *registry.ResolvedBackend) (*Transport, error) {
	if backend.RequestTimeout <= 0 {
		// The registry refuses such descriptors; hitting this means a
		// caller bypassed it.
		return nil, errs.NewValidationError("RequestTimeout", "backend has no finite request timeout")
	}
	return &Transport{
		name:           backend.LanguageTag,
		requestTimeout: backend.RequestTimeout,
		cmd:            exec.Command(backend.Executable, backend.Args...),
		exited:         make(chan struct{}),
	}, nil
}

// NewFromStream wires a Transport over an existing duplex stream
// instead of a child process. Used by tests and by in-process fake
// backends; Shutdown closes the stream but has no process to kill.
func NewFromStream(name string, requestTimeout time.Duration, rwc io.ReadWriteCloser) (*Transport, error) {
	if requestTimeout <= 0 {
		return nil, errs.NewValidationError("RequestTimeout", "transport requires a finite request timeout")
	}
	t := &Transport{
		name:           name,
		requestTimeout: requestTimeout,
		exited:         make(chan struct{}),
	}
	t.attach(context.Background(), rwc)
	return t, nil
}

// stdio glues the child's stdout (reads) and stdin (writes) into one
// duplex stream for the jsonrpc2 codec.
type stdio struct {
	out io.ReadCloser
	in  io.WriteCloser
}

func (s stdio) Read(p []byte) (int, error)  { return s.out.Read(p) }
func (s stdio) Write(p []byte) (int, error) { return s.in.Write(p) }
func (s stdio) Close() error {
	errIn := s.in.Close()
	errOut := s.out.Close()
	if errIn != nil {
		return errIn
	}
	return errOut
}

// Start launches the child process and begins reading framed
// messages. It fails with a TerminatedError if the binary cannot be
// spawned; a child that exits right after launch is not detected
// here and surfaces as a TerminatedError on the first request.
func (t *Transport) Start(ctx context.Context) error {
	if State(t.state.Load()) != StateNew {
		return errs.NewValidationError("state", "transport already started")
	}
	if t.cmd == nil {
		return errs.NewValidationError("state", "stream-backed transport is already running")
	}

	log := logger.GetLogger()

	stdin, err := t.cmd.StdinPipe()
	if err != nil {
		return errs.NewIOError("stdin pipe", t.cmd.Path, err)
	}
	stdout, err := t.cmd.StdoutPipe()
	if err != nil {
		return errs.NewIOError("stdout pipe", t.cmd.Path, err)
	}
	stderr, err := t.cmd.StderrPipe()
	if err != nil {
		return errs.NewIOError("stderr pipe", t.cmd.Path, err)
	}
	t.cmd.Env = os.Environ()

	if err := t.cmd.Start(); err != nil {
		return errs.NewTerminatedError(t.name, fmt.Sprintf("launch failed: %v", err))
	}

	// stderr is forwarded line by line into the structured log; the
	// reader goroutine ends when the pipe closes.
	go func() {
		scanner := bufio.NewScanner(stderr)
		for scanner.Scan() {
			log.Debug().Str("backend", t.name).Msg(scanner.Text())
		}
	}()

	t.attach(ctx, stdio{out: stdout, in: stdin})

	go func() {
		err := t.cmd.Wait()
		if State(t.state.Swap(int32(StateTerminated))) != StateTerminated {
			log.Warn().Str("backend", t.name).Err(err).Msg("language server process exited")
		}
		_ = t.conn.Close()
		t.exitedOnce.Do(func() { close(t.exited) })
	}()

	return nil
}

// attach builds the jsonrpc2 connection over a duplex stream and
// starts its handler loop.
func (t *Transport) attach(ctx context.Context, rwc io.ReadWriteCloser) {
	stream := jsonrpc2.NewStream(rwc)
	conn := jsonrpc2.NewConn(stream)
	t.conn = conn
	t.state.Store(int32(StateRunning))

	conn.Go(ctx, t.handle)

	go func() {
		<-conn.Done()
		t.state.Store(int32(StateTerminated))
		if t.cmd == nil {
			t.exitedOnce.Do(func() { close(t.exited) })
		}
	}()
}

// handle services server-initiated traffic: notifications go to the
// registered callback; requests get an empty success reply, which is
// what the servers we drive expect for configuration and capability
// registration round trips.
func (t *Transport) handle(ctx context.Context, reply jsonrpc2.Replier, req jsonrpc2.Request) error {
	if _, ok := req.(*jsonrpc2.Call); ok {
		return reply(ctx, nil, nil)
	}

	t.notifyMu.RLock()
	handler := t.onNotify
	t.notifyMu.RUnlock()
	if handler != nil {
		handler(req.Method(), req.Params())
	}
	return nil
}

// OnNotification registers the callback for server notifications.
func (t *Transport) OnNotification(handler NotificationHandler) {
	t.notifyMu.Lock()
	t.onNotify = handler
	t.notifyMu.Unlock()
}

// State returns the current lifecycle state.
func (t *Transport) State() State {
	return State(t.state.Load())
}

// Name returns the backend name this transport serves.
func (t *Transport) Name() string { return t.name }

// SendRequest writes a request and blocks until the response arrives,
// the timeout elapses, or the child terminates. A zero timeout uses
// the backend's configured default. The timeout is logged; a late
// response after it is dropped by the codec, never delivered.
func (t *Transport) SendRequest(ctx context.Context, method string, params, result any, timeout time.Duration) error {
	if t.State() != StateRunning {
		return errs.NewTerminatedError(t.name, "transport is not running")
	}
	if timeout <= 0 {
		timeout = t.requestTimeout
	}

	callCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	_, err := t.conn.Call(callCtx, method, params, result)
	if err == nil {
		return nil
	}
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		logger.GetLogger().Warn().
			Str("backend", t.name).Str("method", method).Str("timeout", timeout.String()).
			Msg("request timed out; a late response will be dropped")
		return errs.NewTimeoutError(method, timeout.String())
	case t.State() == StateTerminated:
		return errs.NewTerminatedError(t.name, fmt.Sprintf("%s failed: %v", method, err))
	default:
		return err
	}
}

// SendNotification is fire and forget.
func (t *Transport) SendNotification(ctx context.Context, method string, params any) error {
	if t.State() != StateRunning {
		return errs.NewTerminatedError(t.name, "transport is not running")
	}
	return t.conn.Notify(ctx, method, params)
}

// Shutdown performs the LSP shutdown+exit handshake, waits out a
// bounded grace period, then force-kills the child. It is safe to
// call on an already-terminated transport.
func (t *Transport) Shutdown(ctx context.Context) error {
	if t.State() == StateRunning {
		handshakeCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
		_, _ = t.conn.Call(handshakeCtx, "shutdown", nil, nil)
		_ = t.conn.Notify(handshakeCtx, "exit", nil)
		cancel()
	}

	t.state.Store(int32(StateTerminated))
	if t.conn != nil {
		_ = t.conn.Close()
	}
	if t.cmd == nil || t.cmd.Process == nil {
		return nil
	}

	select {
	case <-t.exited:
		return nil
	case <-time.After(shutdownGrace):
		if err := t.cmd.Process.Kill(); err != nil {
			return errs.NewIOError("kill", t.cmd.Path, err)
		}
		<-t.exited
		return nil
	}
}

// Exited is closed once the underlying process (or stream) is gone.
func (t *Transport) Exited() <-chan struct{} { return t.exited }
