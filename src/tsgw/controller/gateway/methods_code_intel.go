package gateway

import (
	"context"
	"regexp"
	"strings"

	"go.lsp.dev/protocol"
	"go.lsp.dev/uri"

	"github.com/sourcegraph/typescript-gateway/src/tsgw/internal/urimap"
)

// A hover that mentions any or an unresolved import suggests missing type
// declarations; seeing one kicks off a background install.
var _hoverInstallHint = regexp.MustCompile(`\b(any|import)\b`)

// Hover maps the position, forwards the request, and returns the result
// verbatim. When the response hints at missing types, dependency
// installation for the document's manifests is started in the background;
// the client is expected to re-poll.
func (c *controller) Hover(ctx context.Context, params *protocol.HoverParams) (*protocol.Hover, error) {
	ws, err := c.workspaceFor(ctx)
	if err != nil {
		return nil, err
	}
	rctx, cancel := ws.requestContext(ctx)
	defer cancel()

	fileURI, pos, err := c.mapPosition(rctx, ws, params.TextDocument.URI, params.Position)
	if err != nil {
		return nil, err
	}

	down := *params
	down.TextDocument.URI = protocol.DocumentURI(fileURI)
	down.Position = pos

	var result *protocol.Hover
	if err := ws.downstream.Call(rctx, protocol.MethodTextDocumentHover, &down, &result); err != nil {
		return nil, err
	}

	if result != nil && _hoverInstallHint.MatchString(result.Contents.Value) {
		go c.installForDocument(ws, string(params.TextDocument.URI))
	}
	return result, nil
}

// installForDocument is the fire-and-forget enrichment path: it swallows
// cancellation and logs anything else.
func (c *controller) installForDocument(ws *workspace, docURI string) {
	defer func() {
		if r := recover(); r != nil {
			c.logger.Errorw("background install panicked", "uri", docURI, "panic", r)
		}
	}()
	futures := ws.installs.EnsureDependenciesForDocument(ws.ctx, ws.registry, docURI)
	for _, fut := range futures {
		if err := fut.Await(ws.ctx); err != nil {
			return
		}
	}
}

// GotoDefinition maps the position, ensures the document is open
// downstream, forwards, and translates the returned locations.
func (c *controller) GotoDefinition(ctx context.Context, params *protocol.DefinitionParams) ([]protocol.Location, error) {
	down := *params
	return c.locationRequest(ctx, protocol.MethodTextDocumentDefinition, &down, &down.TextDocumentPositionParams)
}

// GotoTypeDefinition behaves as GotoDefinition for type definitions.
func (c *controller) GotoTypeDefinition(ctx context.Context, params *protocol.TypeDefinitionParams) ([]protocol.Location, error) {
	down := *params
	return c.locationRequest(ctx, protocol.MethodTextDocumentTypeDefinition, &down, &down.TextDocumentPositionParams)
}

// GotoImplementation behaves as GotoDefinition for implementations.
func (c *controller) GotoImplementation(ctx context.Context, params *protocol.ImplementationParams) ([]protocol.Location, error) {
	down := *params
	return c.locationRequest(ctx, protocol.MethodTextDocumentImplementation, &down, &down.TextDocumentPositionParams)
}

// References behaves as GotoDefinition for references.
func (c *controller) References(ctx context.Context, params *protocol.ReferenceParams) ([]protocol.Location, error) {
	down := *params
	return c.locationRequest(ctx, protocol.MethodTextDocumentReferences, &down, &down.TextDocumentPositionParams)
}

// CodeAction maps the document URI, ensures the document is open
// downstream, forwards, and returns the downstream result.
func (c *controller) CodeAction(ctx context.Context, params *protocol.CodeActionParams) ([]protocol.CodeAction, error) {
	ws, err := c.workspaceFor(ctx)
	if err != nil {
		return nil, err
	}
	rctx, cancel := ws.requestContext(ctx)
	defer cancel()

	fileURI, err := ws.mapper.HTTPToFile(string(params.TextDocument.URI))
	if err != nil {
		return nil, err
	}
	if err := c.ensureOpen(rctx, ws, fileURI); err != nil {
		return nil, err
	}

	down := *params
	down.TextDocument.URI = protocol.DocumentURI(fileURI)

	var result []protocol.CodeAction
	if err := ws.downstream.Call(rctx, protocol.MethodTextDocumentCodeAction, &down, &result); err != nil {
		return nil, err
	}
	return result, nil
}

// locationRequest implements the shared flow of the definition-class
// requests. params must point at the request struct to be forwarded and
// tdpp at its embedded TextDocumentPositionParams.
func (c *controller) locationRequest(ctx context.Context, method string, params interface{}, tdpp *protocol.TextDocumentPositionParams) ([]protocol.Location, error) {
	ws, err := c.workspaceFor(ctx)
	if err != nil {
		return nil, err
	}
	rctx, cancel := ws.requestContext(ctx)
	defer cancel()

	fileURI, pos, err := c.mapPosition(rctx, ws, tdpp.TextDocument.URI, tdpp.Position)
	if err != nil {
		return nil, err
	}
	if err := c.ensureOpen(rctx, ws, fileURI); err != nil {
		return nil, err
	}
	tdpp.TextDocument.URI = protocol.DocumentURI(fileURI)
	tdpp.Position = pos

	var locations []protocol.Location
	if err := ws.downstream.Call(rctx, method, params, &locations); err != nil {
		return nil, err
	}

	out := make([]protocol.Location, 0, len(locations))
	for _, loc := range locations {
		mapped, err := c.mapLocationOut(rctx, ws, loc)
		if err != nil {
			return nil, err
		}
		out = append(out, mapped)
	}
	return out, nil
}

// mapLocationOut translates a downstream location into the public
// namespace: the bundled compiler lib maps to the pinned TypeScript
// repository, node_modules map to external repository URLs (through the
// outgoing declaration mapping), and everything else maps under httpRoot.
func (c *controller) mapLocationOut(ctx context.Context, ws *workspace, loc protocol.Location) (protocol.Location, error) {
	filePath := uri.URI(loc.URI).Filename()

	if c.tsLibRoot != "" && strings.HasPrefix(filePath, c.tsLibRoot) {
		rel := strings.TrimPrefix(strings.TrimPrefix(filePath, c.tsLibRoot), "/")
		external, err := urimap.BuildExternalURL(ws.instance(), "github.com/microsoft/TypeScript", "v"+c.tsVersion, "lib", rel)
		if err != nil {
			return protocol.Location{}, err
		}
		loc.URI = protocol.DocumentURI(external)
		return loc, nil
	}

	if urimap.HasNodeModulesSegment(filePath) {
		return c.mapNodeModulesLocation(ctx, ws, loc, filePath)
	}

	httpURI, err := ws.mapper.FileToHTTP(string(loc.URI))
	if err != nil {
		return protocol.Location{}, err
	}
	loc.URI = protocol.DocumentURI(httpURI)
	return loc, nil
}

// mapNodeModulesLocation maps a location inside an installed package to an
// external repository URL, preferring the original source position when a
// declaration's source map provides one.
func (c *controller) mapNodeModulesLocation(ctx context.Context, ws *workspace, loc protocol.Location, filePath string) (protocol.Location, error) {
	nmParent, pkg, relInPkg, err := urimap.SplitNodeModulesPath(filePath)
	if err != nil {
		return protocol.Location{}, err
	}

	meta, err := c.packageMeta(ctx, ws, nmParent+"/node_modules/"+pkg)
	if err != nil {
		return protocol.Location{}, err
	}
	if meta.GitHead == "" {
		c.logger.Warnw("package metadata has no gitHead, external link will track the moving head", "package", pkg)
	}

	line, char := loc.Range.Start.Line, loc.Range.Start.Character
	externalRel := relInPkg
	tempRoot := ws.session.TempDir

	if mapped, err := ws.resolver.ResolveOutgoing(ctx, uri.URI(loc.URI), tempRoot, line, char); err != nil {
		c.logger.Warnw("outgoing source-map resolution failed", "uri", loc.URI, "error", err)
	} else if mapped != nil {
		mappedPath := mapped.URI.Filename()
		switch {
		case strings.HasPrefix(mappedPath, nmParent+"/node_modules/"+pkg+"/"):
			externalRel = strings.TrimPrefix(mappedPath, nmParent+"/node_modules/"+pkg+"/")
		default:
			externalRel = strings.TrimPrefix(mappedPath, nmParent+"/")
		}
		line, char = mapped.Line, mapped.Character
	}

	repoName, err := meta.RepoName()
	if err != nil {
		return protocol.Location{}, err
	}
	external, err := urimap.BuildExternalURL(ws.instance(), repoName, meta.GitHead, meta.Subdir(), externalRel)
	if err != nil {
		return protocol.Location{}, err
	}

	loc.URI = protocol.DocumentURI(external)
	loc.Range.Start.Line, loc.Range.Start.Character = line, char
	loc.Range.End.Line, loc.Range.End.Character = line, char
	return loc, nil
}

// packageMeta reads and parses an installed package's manifest.
func (c *controller) packageMeta(ctx context.Context, ws *workspace, pkgRoot string) (*urimap.PackageMeta, error) {
	data, err := ws.files.Fetch(ctx, string(uri.File(pkgRoot))+"/package.json")
	if err != nil {
		return nil, err
	}
	return urimap.ParsePackageMeta(data)
}
