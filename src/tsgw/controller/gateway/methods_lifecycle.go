package gateway

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"

	"go.lsp.dev/protocol"
	"go.lsp.dev/uri"

	"github.com/sourcegraph/typescript-gateway/src/tsgw/controller/installer"
	"github.com/sourcegraph/typescript-gateway/src/tsgw/entity"
	"github.com/sourcegraph/typescript-gateway/src/tsgw/gateway/langserver"
	"github.com/sourcegraph/typescript-gateway/src/tsgw/internal/errors"
	"github.com/sourcegraph/typescript-gateway/src/tsgw/internal/manifests"
	"github.com/sourcegraph/typescript-gateway/src/tsgw/internal/sourcemaps"
	"github.com/sourcegraph/typescript-gateway/src/tsgw/internal/tarball"
	"github.com/sourcegraph/typescript-gateway/src/tsgw/internal/urimap"
	"github.com/sourcegraph/typescript-gateway/src/tsgw/mapper"
)

// Initialize materializes the remote workspace and brings up the
// downstream language server: fetch and extract the archive, build the
// manifest registry, sanitize tsconfigs, then start the child.
func (c *controller) Initialize(ctx context.Context, params *protocol.InitializeParams) (*protocol.InitializeResult, error) {
	s, err := c.sessions.GetFromContext(ctx)
	if err != nil {
		return nil, err
	}

	if err := validateInitializeParams(params); err != nil {
		return nil, err
	}

	progressCapable := params.Capabilities.Window != nil && params.Capabilities.Window.WorkDoneProgress
	cfg := entity.ParseConfig(mapper.InitializationConfiguration(params.InitializationOptions), entity.DefaultConfig(progressCapable))

	tempDir, err := c.fs.MkdirTemp(c.tempDirRoot, "tsgw-session-")
	if err != nil {
		return nil, err
	}
	workspaceDir := filepath.Join(tempDir, "repo")
	for _, sub := range []string{"repo", "cache", "global", "tsserver_cache"} {
		if err := c.fs.MkdirAll(filepath.Join(tempDir, sub)); err != nil {
			return nil, err
		}
	}

	httpRoot := string(params.RootURI)
	if !strings.HasSuffix(httpRoot, "/") {
		httpRoot += "/"
	}
	fileRoot := string(uri.File(workspaceDir)) + "/"
	m, err := urimap.New(httpRoot, fileRoot)
	if err != nil {
		return nil, err
	}

	sessionCtx, cancel := context.WithCancel(context.Background())
	ws := &workspace{
		session: s,
		mapper:  m,
		ctx:     sessionCtx,
		cancel:  cancel,
	}
	ws.disposables = append(ws.disposables, func(context.Context) error {
		return c.fs.RemoveAll(tempDir)
	})

	// Until the workspace is registered, failures release its resources here.
	abort := func() {
		cancel()
		for i := len(ws.disposables) - 1; i >= 0; i-- {
			ws.disposables[i](ctx)
		}
	}

	files, err := c.retrievers.ForURI(fileRoot)
	if err != nil {
		abort()
		return nil, err
	}
	ws.files = files
	ws.resolver = sourcemaps.NewResolver(files, c.logger)

	// Materialize the workspace, reporting percentage progress while the
	// archive streams.
	progress := c.progressReporter(ctx, cfg, "Fetching repository archive")
	extracted, err := c.extractor.Extract(ctx, archiveURL(httpRoot, cfg), workspaceDir, progress)
	if err != nil {
		abort()
		return nil, fmt.Errorf("materializing workspace: %w", err)
	}

	ws.registry, err = manifests.Build(ctx, files, m, extracted.ManifestDirs, c.logger)
	if err != nil {
		abort()
		return nil, err
	}

	// Plugins in extracted tsconfigs must never be loaded.
	if err := tarball.SanitizeTsConfigs(c.fs, workspaceDir, c.logger); err != nil {
		c.logger.Warnw("sanitizing workspace tsconfigs", "error", err)
	}

	ws.downstream = c.langserverFactory.New(c.langserverFactory.DefaultSpawn())
	ws.downstream.SubscribeDiagnostics(c.diagnosticsSink(ws, cfg))

	var requestRestart func(context.Context) error
	if cfg.RestartAfterInstall {
		requestRestart = func(rctx context.Context) error {
			c.stats.Counter("langserver_restart").Inc(1)
			_, err := ws.downstream.Restart(rctx)
			return err
		}
	}
	ws.installs = c.installerFactory.New(installer.SessionParams{
		TempDir:        tempDir,
		WorkspaceDir:   workspaceDir,
		NPMRC:          cfg.NPMRC,
		RequestRestart: requestRestart,
	})
	ws.disposables = append(ws.disposables, func(context.Context) error {
		ws.installs.Dispose()
		return nil
	})
	ws.disposables = append(ws.disposables, func(dctx context.Context) error {
		return ws.downstream.Dispose(dctx)
	})

	result, err := ws.downstream.Start(ctx, downstreamInitializeParams(params, fileRoot))
	if err != nil {
		// A downstream that cannot spawn is not recoverable within the
		// session.
		var fatal *errors.FatalSpawnError
		if errors.As(err, &fatal) {
			c.logger.Errorw("closing session, language server failed to start", "uuid", s.UUID, "error", err)
			defer c.closeSession(s)
		}
		abort()
		return nil, err
	}

	s.HTTPRoot = httpRoot
	s.FileRoot = fileRoot
	s.TempDir = tempDir
	s.Config = cfg
	s.InitializeParams = params
	if err := c.sessions.Set(ctx, s); err != nil {
		abort()
		return nil, err
	}

	c.mu.Lock()
	c.workspaces[s.UUID] = ws
	c.mu.Unlock()

	c.logger.Infow("workspace initialized", "uuid", s.UUID, "httpRoot", httpRoot, "manifests", len(extracted.ManifestDirs))
	return result, nil
}

// Initialized acknowledges the client's initialized notification.
func (c *controller) Initialized(ctx context.Context, params *protocol.InitializedParams) error {
	return nil
}

// Shutdown acknowledges the shutdown request. Resources are released when
// the connection closes.
func (c *controller) Shutdown(ctx context.Context) error {
	return nil
}

// Exit closes the session's connection, which triggers EndSession.
func (c *controller) Exit(ctx context.Context) error {
	s, err := c.sessions.GetFromContext(ctx)
	if err != nil {
		return err
	}
	c.closeSession(s)
	return nil
}

func (c *controller) closeSession(s *entity.Session) {
	if s.Conn != nil {
		(*s.Conn).Close()
	}
}

func validateInitializeParams(params *protocol.InitializeParams) error {
	if params.RootURI == "" {
		return &errors.ValidationError{Reason: "rootUri is required"}
	}
	if !strings.HasPrefix(string(params.RootURI), "http://") && !strings.HasPrefix(string(params.RootURI), "https://") {
		return &errors.ValidationError{Reason: fmt.Sprintf("rootUri must use scheme http or https, got %q", params.RootURI)}
	}
	if len(params.WorkspaceFolders) > 1 {
		return &errors.ValidationError{Reason: "at most one workspace folder is supported"}
	}
	return nil
}

// archiveURL derives the tarball endpoint from the workspace root,
// attaching the session bearer for the code host.
func archiveURL(httpRoot string, cfg entity.Config) string {
	u := strings.TrimSuffix(httpRoot, "/")
	if cfg.AccessToken == "" {
		return u
	}
	if idx := strings.Index(u, "://"); idx >= 0 {
		return u[:idx+3] + cfg.AccessToken + "@" + u[idx+3:]
	}
	return u
}

// downstreamInitializeParams rebases the client's initialize params onto
// the private file root.
func downstreamInitializeParams(params *protocol.InitializeParams, fileRoot string) *protocol.InitializeParams {
	down := *params
	down.RootURI = protocol.DocumentURI(strings.TrimSuffix(fileRoot, "/"))
	down.RootPath = uri.URI(fileRoot).Filename()
	down.WorkspaceFolders = nil
	down.InitializationOptions = nil
	return &down
}

// progressReporter returns a tarball progress callback that forwards
// percentage updates to the client, when enabled.
func (c *controller) progressReporter(ctx context.Context, cfg entity.Config, title string) tarball.ProgressFunc {
	if !cfg.Progress {
		return nil
	}
	token := protocol.NewProgressToken("tsgw/materialize")
	if err := c.clientGateway.WorkDoneProgressCreate(ctx, &protocol.WorkDoneProgressCreateParams{Token: *token}); err != nil {
		c.logger.Debugw("client rejected progress token", "error", err)
		return nil
	}
	begun := false
	lastPercent := -1
	return func(fraction float64) {
		percent := int(fraction * 100)
		if percent == lastPercent {
			return
		}
		lastPercent = percent
		if !begun {
			begun = true
			c.clientGateway.Progress(ctx, &protocol.ProgressParams{
				Token: *token,
				Value: &protocol.WorkDoneProgressBegin{Kind: protocol.WorkDoneProgressKindBegin, Title: title},
			})
		}
		c.clientGateway.Progress(ctx, &protocol.ProgressParams{
			Token: *token,
			Value: &protocol.WorkDoneProgressReport{Kind: protocol.WorkDoneProgressKindReport, Percentage: uint32(percent)},
		})
		if percent >= 100 {
			c.clientGateway.Progress(ctx, &protocol.ProgressParams{
				Token: *token,
				Value: &protocol.WorkDoneProgressEnd{Kind: protocol.WorkDoneProgressKindEnd},
			})
		}
	}
}

// diagnosticsSink rewrites downstream diagnostics to the public namespace
// and forwards them when enabled. Per-message failures are logged so one
// bad message cannot stop the stream.
func (c *controller) diagnosticsSink(ws *workspace, cfg entity.Config) langserver.DiagnosticsSink {
	return func(ctx context.Context, params *protocol.PublishDiagnosticsParams) {
		if !cfg.DiagnosticsEnable {
			return
		}
		httpURI, err := ws.mapper.FileToHTTP(string(params.URI))
		if err != nil {
			c.logger.Warnw("dropping diagnostics with unmappable uri", "uri", params.URI, "error", err)
			return
		}
		out := *params
		out.URI = protocol.DocumentURI(httpURI)
		sctx := context.WithValue(ws.ctx, entity.SessionContextKey, ws.session.UUID)
		if err := c.clientGateway.PublishDiagnostics(sctx, &out); err != nil {
			c.logger.Warnw("forwarding diagnostics", "uri", httpURI, "error", err)
		}
	}
}
