// Package gateway implements the per-session business logic: workspace
// materialization, request translation, and supervision of the downstream
// language server.
package gateway

import (
	"context"
	"fmt"
	"sync"

	"github.com/gofrs/uuid"
	tally "github.com/uber-go/tally/v4"
	"go.lsp.dev/jsonrpc2"
	"go.lsp.dev/protocol"
	"go.uber.org/config"
	"go.uber.org/fx"
	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/sourcegraph/typescript-gateway/src/tsgw/controller/installer"
	"github.com/sourcegraph/typescript-gateway/src/tsgw/entity"
	clientgw "github.com/sourcegraph/typescript-gateway/src/tsgw/gateway/client"
	"github.com/sourcegraph/typescript-gateway/src/tsgw/gateway/langserver"
	"github.com/sourcegraph/typescript-gateway/src/tsgw/internal/errors"
	"github.com/sourcegraph/typescript-gateway/src/tsgw/internal/fs"
	"github.com/sourcegraph/typescript-gateway/src/tsgw/internal/manifests"
	"github.com/sourcegraph/typescript-gateway/src/tsgw/internal/resource"
	"github.com/sourcegraph/typescript-gateway/src/tsgw/internal/sourcemaps"
	"github.com/sourcegraph/typescript-gateway/src/tsgw/internal/tarball"
	"github.com/sourcegraph/typescript-gateway/src/tsgw/internal/urimap"
	"github.com/sourcegraph/typescript-gateway/src/tsgw/repository/session"
)

const (
	_configKeyTempDirRoot = "workspace.tempDirRoot"
	_configKeyTSLibRoot   = "typescript.libRoot"
	_configKeyTSVersion   = "typescript.version"

	// Fan-out width for project warmup.
	_warmupConcurrency = 10
)

// Controller orchestrates the business logic for each request.
type Controller interface {
	// Lifecycle methods defined per protocol.
	Initialize(ctx context.Context, params *protocol.InitializeParams) (*protocol.InitializeResult, error)
	Initialized(ctx context.Context, params *protocol.InitializedParams) error
	Shutdown(ctx context.Context) error
	Exit(ctx context.Context) error

	// Document related methods.
	DidOpen(ctx context.Context, params *protocol.DidOpenTextDocumentParams) error

	// Code intel related methods.
	Hover(ctx context.Context, params *protocol.HoverParams) (*protocol.Hover, error)
	GotoDefinition(ctx context.Context, params *protocol.DefinitionParams) ([]protocol.Location, error)
	GotoTypeDefinition(ctx context.Context, params *protocol.TypeDefinitionParams) ([]protocol.Location, error)
	GotoImplementation(ctx context.Context, params *protocol.ImplementationParams) ([]protocol.Location, error)
	References(ctx context.Context, params *protocol.ReferenceParams) ([]protocol.Location, error)
	CodeAction(ctx context.Context, params *protocol.CodeActionParams) ([]protocol.CodeAction, error)

	// Custom methods for use within this service.
	InitSession(ctx context.Context, conn *jsonrpc2.Conn) (uuid.UUID, error)
	EndSession(ctx context.Context, id uuid.UUID) error
}

// Params are inbound parameters to initialize a new controller.
type Params struct {
	fx.In

	Sessions          session.Repository
	ClientGateway     clientgw.Gateway
	LangserverFactory langserver.Factory
	InstallerFactory  installer.Factory
	Retrievers        resource.Registry
	Extractor         *tarball.Extractor
	Logger            *zap.SugaredLogger
	Config            config.Provider
	FS                fs.GatewayFS
	Stats             tally.Scope
}

type controller struct {
	sessions          session.Repository
	clientGateway     clientgw.Gateway
	langserverFactory langserver.Factory
	installerFactory  installer.Factory
	retrievers        resource.Registry
	extractor         *tarball.Extractor
	logger            *zap.SugaredLogger
	fs                fs.GatewayFS
	stats             tally.Scope

	tempDirRoot string
	tsLibRoot   string
	tsVersion   string

	mu         sync.Mutex
	workspaces map[uuid.UUID]*workspace
}

// workspace is the per-session state assembled during Initialize.
type workspace struct {
	session    *entity.Session
	mapper     *urimap.Mapper
	registry   *manifests.Registry
	installs   installer.Coordinator
	downstream langserver.Supervisor
	resolver   *sourcemaps.Resolver
	files      resource.Retriever

	// ctx is the session scope; cancelling it aborts every outstanding
	// request and background task of the session.
	ctx    context.Context
	cancel context.CancelFunc

	// disposables run in reverse insertion order on session end; the temp
	// directory removal is registered first so it runs last.
	disposables []func(ctx context.Context) error
}

// New constructs a new top-level controller for the service.
func New(p Params) (Controller, error) {
	c := &controller{
		sessions:          p.Sessions,
		clientGateway:     p.ClientGateway,
		langserverFactory: p.LangserverFactory,
		installerFactory:  p.InstallerFactory,
		retrievers:        p.Retrievers,
		extractor:         p.Extractor,
		logger:            p.Logger,
		fs:                p.FS,
		stats:             p.Stats.SubScope("gateway"),
		workspaces:        map[uuid.UUID]*workspace{},
	}
	if err := p.Config.Get(_configKeyTempDirRoot).Populate(&c.tempDirRoot); err != nil {
		return nil, fmt.Errorf("getting config field %q: %w", _configKeyTempDirRoot, err)
	}
	if err := p.Config.Get(_configKeyTSLibRoot).Populate(&c.tsLibRoot); err != nil {
		return nil, fmt.Errorf("getting config field %q: %w", _configKeyTSLibRoot, err)
	}
	if err := p.Config.Get(_configKeyTSVersion).Populate(&c.tsVersion); err != nil {
		return nil, fmt.Errorf("getting config field %q: %w", _configKeyTSVersion, err)
	}
	return c, nil
}

// InitSession will store a new session for the provided connection.
func (c *controller) InitSession(ctx context.Context, conn *jsonrpc2.Conn) (uuid.UUID, error) {
	id, err := uuid.NewV4()
	if err != nil {
		return uuid.Nil, err
	}
	s := &entity.Session{
		UUID: id,
		Conn: conn,
	}
	if err := c.sessions.Set(ctx, s); err != nil {
		return uuid.Nil, err
	}
	if err := c.clientGateway.RegisterClient(ctx, id, conn); err != nil {
		return uuid.Nil, err
	}
	return id, nil
}

// EndSession releases every workspace resource of the session, running
// disposables in reverse insertion order, the temp directory last.
func (c *controller) EndSession(ctx context.Context, id uuid.UUID) error {
	c.mu.Lock()
	ws := c.workspaces[id]
	delete(c.workspaces, id)
	c.mu.Unlock()

	var err error
	if ws != nil {
		ws.cancel()
		for i := len(ws.disposables) - 1; i >= 0; i-- {
			err = multierr.Append(err, ws.disposables[i](ctx))
		}
	}
	err = multierr.Append(err, c.clientGateway.DeregisterClient(ctx, id))
	err = multierr.Append(err, c.sessions.Delete(ctx, id))
	c.logger.Infow("session ended", "uuid", id)
	return err
}

// workspaceFor returns the initialized workspace for the session in the
// context.
func (c *controller) workspaceFor(ctx context.Context) (*workspace, error) {
	s, err := c.sessions.GetFromContext(ctx)
	if err != nil {
		return nil, err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	ws, ok := c.workspaces[s.UUID]
	if !ok {
		return nil, errors.New("session is not initialized")
	}
	return ws, nil
}

// requestContext derives a request context that is also cancelled when the
// session scope is cancelled.
func (ws *workspace) requestContext(ctx context.Context) (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(ctx)
	stop := context.AfterFunc(ws.ctx, cancel)
	return ctx, func() {
		stop()
		cancel()
	}
}

// instance returns the external code host configuration of the session.
func (ws *workspace) instance() urimap.InstanceConfig {
	return urimap.InstanceConfig{
		URL:         ws.session.Config.SourcegraphURL,
		AccessToken: ws.session.Config.AccessToken,
	}
}
