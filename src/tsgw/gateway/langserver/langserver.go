// Package langserver supervises the child language server that provides
// code intelligence for one session's workspace.
package langserver

import (
	"context"
	"fmt"
	"sync"

	"go.lsp.dev/jsonrpc2"
	"go.lsp.dev/protocol"
	"go.uber.org/config"
	"go.uber.org/fx"
	"go.uber.org/zap"

	"github.com/sourcegraph/typescript-gateway/src/tsgw/internal/errors"
	"github.com/sourcegraph/typescript-gateway/src/tsgw/internal/urimap"
)

const (
	_configKeyCommand = "langserver.command"
	_configKeyArgs    = "langserver.args"
)

// Module provides the supervisor factory.
var Module = fx.Provide(NewFactory)

// DiagnosticsSink receives publish-diagnostics notifications from the
// child, already filtered of node_modules paths. Rewriting to the public
// namespace is the sink's concern.
type DiagnosticsSink func(ctx context.Context, params *protocol.PublishDiagnosticsParams)

// Supervisor owns one session's child language server handle.
type Supervisor interface {
	// Start spawns the child and performs the downstream Initialize.
	Start(ctx context.Context, params *protocol.InitializeParams) (*protocol.InitializeResult, error)
	// Restart disposes the current handle, spawns a new one, re-sends the
	// original initialize params, and replays every open document in
	// insertion order.
	Restart(ctx context.Context) (*protocol.InitializeResult, error)
	// Call forwards a request to the child and decodes the response into
	// result. Requests issued during a restart wait for the re-initialize.
	Call(ctx context.Context, method string, params, result interface{}) error
	// DidOpenOnce sends a didOpen for the document unless one was already
	// sent, and records the parameters for replay after a restart.
	DidOpenOnce(ctx context.Context, params *protocol.DidOpenTextDocumentParams) error
	// SubscribeDiagnostics sets the diagnostics sink. The subscription
	// survives restarts.
	SubscribeDiagnostics(sink DiagnosticsSink)
	// Dispose terminates the child. Safe to call more than once.
	Dispose(ctx context.Context) error
}

// Factory creates per-session supervisors.
type Factory interface {
	New(spawn SpawnFunc) Supervisor
	// DefaultSpawn returns the configured child process spawner.
	DefaultSpawn() SpawnFunc
}

// Params are inbound parameters to initialize the factory.
type Params struct {
	fx.In

	Config config.Provider
	Logger *zap.SugaredLogger
}

type factory struct {
	command string
	args    []string
	logger  *zap.SugaredLogger
}

// NewFactory builds the supervisor factory from configuration.
func NewFactory(p Params) (Factory, error) {
	f := &factory{logger: p.Logger}
	if err := p.Config.Get(_configKeyCommand).Populate(&f.command); err != nil {
		return nil, fmt.Errorf("getting config field %q: %w", _configKeyCommand, err)
	}
	if f.command == "" {
		return nil, fmt.Errorf("missing field %q in config", _configKeyCommand)
	}
	if err := p.Config.Get(_configKeyArgs).Populate(&f.args); err != nil {
		return nil, fmt.Errorf("getting config field %q: %w", _configKeyArgs, err)
	}
	return f, nil
}

func (f *factory) New(spawn SpawnFunc) Supervisor {
	return NewSupervisor(spawn, f.logger)
}

// NewSupervisor returns a Supervisor using the given spawner.
func NewSupervisor(spawn SpawnFunc, logger *zap.SugaredLogger) Supervisor {
	return &supervisor{
		spawn:  spawn,
		logger: logger,
	}
}

func (f *factory) DefaultSpawn() SpawnFunc {
	return CommandSpawn(f.command, f.args, f.logger)
}

type supervisor struct {
	spawn  SpawnFunc
	logger *zap.SugaredLogger

	// mu gates requests against restarts: Call/DidOpenOnce hold it shared,
	// Start/Restart/Dispose hold it exclusively.
	mu sync.RWMutex

	conn       jsonrpc2.Conn
	dispose    func() error
	initParams *protocol.InitializeParams

	// Insertion-ordered replay log of didOpen parameters.
	docsMu    sync.Mutex
	openOrder []protocol.DocumentURI
	openDocs  map[protocol.DocumentURI]*protocol.DidOpenTextDocumentParams

	sinkMu sync.Mutex
	sink   DiagnosticsSink
}

func (s *supervisor) Start(ctx context.Context, params *protocol.InitializeParams) (*protocol.InitializeResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.initParams = params
	if s.openDocs == nil {
		s.openDocs = make(map[protocol.DocumentURI]*protocol.DidOpenTextDocumentParams)
	}
	return s.startLocked(ctx)
}

func (s *supervisor) Restart(ctx context.Context) (*protocol.InitializeResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.initParams == nil {
		return nil, errors.New("restart before start")
	}
	s.disposeLocked()

	result, err := s.startLocked(ctx)
	if err != nil {
		return nil, err
	}

	// Replay the open documents verbatim so the child sees a coherent
	// document history.
	for _, docURI := range s.openOrder {
		if err := s.conn.Notify(ctx, protocol.MethodTextDocumentDidOpen, s.openDocs[docURI]); err != nil {
			return nil, fmt.Errorf("replaying %q: %w", docURI, err)
		}
	}
	return result, nil
}

func (s *supervisor) startLocked(ctx context.Context) (*protocol.InitializeResult, error) {
	// The connection outlives the request that started it; Dispose ends it.
	conn, dispose, err := s.spawn(context.Background(), s.handleServerNotification)
	if err != nil {
		return nil, &errors.FatalSpawnError{Err: err}
	}
	s.conn = conn
	s.dispose = dispose

	var result protocol.InitializeResult
	if _, err := conn.Call(ctx, protocol.MethodInitialize, s.initParams, &result); err != nil {
		s.disposeLocked()
		return nil, &errors.FatalSpawnError{Err: err}
	}
	if err := conn.Notify(ctx, protocol.MethodInitialized, &protocol.InitializedParams{}); err != nil {
		s.logger.Warnw("sending initialized notification", "error", err)
	}
	return &result, nil
}

func (s *supervisor) Call(ctx context.Context, method string, params, result interface{}) error {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.conn == nil {
		return errors.New("language server is not running")
	}
	_, err := s.conn.Call(ctx, method, params, result)
	return err
}

func (s *supervisor) DidOpenOnce(ctx context.Context, params *protocol.DidOpenTextDocumentParams) error {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.conn == nil {
		return errors.New("language server is not running")
	}

	s.docsMu.Lock()
	if _, ok := s.openDocs[params.TextDocument.URI]; ok {
		s.docsMu.Unlock()
		return nil
	}
	// Record before sending so the replay log never misses a sent didOpen.
	s.openDocs[params.TextDocument.URI] = params
	s.openOrder = append(s.openOrder, params.TextDocument.URI)
	s.docsMu.Unlock()

	return s.conn.Notify(ctx, protocol.MethodTextDocumentDidOpen, params)
}

func (s *supervisor) SubscribeDiagnostics(sink DiagnosticsSink) {
	s.sinkMu.Lock()
	defer s.sinkMu.Unlock()
	s.sink = sink
}

func (s *supervisor) Dispose(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.disposeLocked()
	return nil
}

func (s *supervisor) disposeLocked() {
	if s.conn != nil {
		s.conn.Close()
		s.conn = nil
	}
	if s.dispose != nil {
		if err := s.dispose(); err != nil {
			s.logger.Warnw("disposing language server", "error", err)
		}
		s.dispose = nil
	}
}

// handleServerNotification receives requests initiated by the child. Only
// publish-diagnostics is routed; everything else is answered not-found.
// A failure while handling one message must not stop the stream.
func (s *supervisor) handleServerNotification(ctx context.Context, reply jsonrpc2.Replier, req jsonrpc2.Request) error {
	switch req.Method() {
	case protocol.MethodTextDocumentPublishDiagnostics:
		params, err := diagnosticsParams(req)
		if err != nil {
			s.logger.Warnw("decoding diagnostics from language server", "error", err)
			return reply(ctx, nil, nil)
		}
		if urimap.HasNodeModulesSegment(string(params.URI)) {
			return reply(ctx, nil, nil)
		}
		s.sinkMu.Lock()
		sink := s.sink
		s.sinkMu.Unlock()
		if sink != nil {
			sink(ctx, params)
		}
		return reply(ctx, nil, nil)
	default:
		return jsonrpc2.MethodNotFoundHandler(ctx, reply, req)
	}
}
