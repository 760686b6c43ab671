package gateway

import (
	"context"
	"path"
	"strings"

	"go.lsp.dev/protocol"
	"go.lsp.dev/uri"
	"golang.org/x/sync/errgroup"

	"github.com/sourcegraph/typescript-gateway/src/tsgw/internal/manifests"
	"github.com/sourcegraph/typescript-gateway/src/tsgw/internal/urimap"
)

// mapPosition translates an incoming text-document position into the file
// namespace. In-workspace URIs get the plain rewrite. Cross-repository
// URIs trigger installation and project warmup for every manifest that
// declares the inferred package, then resolve through declaration maps.
func (c *controller) mapPosition(ctx context.Context, ws *workspace, docURI protocol.DocumentURI, pos protocol.Position) (uri.URI, protocol.Position, error) {
	raw := string(docURI)
	if ws.mapper.InWorkspaceHTTP(raw) {
		fileURI, err := ws.mapper.HTTPToFile(raw)
		return fileURI, pos, err
	}

	ref, err := urimap.ParseExternalURL(raw)
	if err != nil {
		return "", pos, err
	}
	pkg := ref.PackageName()

	g, gctx := errgroup.WithContext(ctx)
	for _, entry := range ws.registry.DeclaredIn(pkg) {
		fut := ws.installs.EnsureInstalled(ctx, entry)
		g.Go(func() error {
			return fut.Await(gctx)
		})
		g.Go(func() error {
			// Warmup is best-effort: the downstream just needs the projects
			// loaded before the declaration lookup.
			c.warmupProjects(gctx, ws, entry)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return "", pos, err
	}

	resolved, err := ws.resolver.ResolveIncoming(ctx, ws.mapper.FileRoot(), pkg, ref.PackageRelPath(), pos.Line, pos.Character)
	if err != nil {
		return "", pos, err
	}
	return resolved.URI, protocol.Position{Line: resolved.Line, Character: resolved.Character}, nil
}

// warmupProjects opens one source file per project discovered around the
// manifest so the downstream loads those projects. Project discovery looks
// for tsconfig.json below the manifest directory (never descending into
// node_modules) and in its parent directories up to the workspace root.
func (c *controller) warmupProjects(ctx context.Context, ws *workspace, entry manifests.Entry) {
	projectDirs := map[string]struct{}{}

	err := ws.files.Glob(ctx, entry.FileDir, "**/tsconfig.json", []string{"**/node_modules/**"}, func(rawURI string) error {
		projectDirs[path.Dir(strings.TrimPrefix(rawURI, ws.mapper.FileRoot()))] = struct{}{}
		return nil
	})
	if err != nil && ctx.Err() == nil {
		c.logger.Debugw("project discovery glob failed", "manifest", entry.RelDir, "error", err)
	}

	for dir := entry.RelDir; ; dir = path.Dir(dir) {
		if dir == "." || dir == "/" {
			dir = ""
		}
		candidate := ws.mapper.FileRoot() + pathJoinURI(dir, "tsconfig.json")
		if ok, err := ws.files.Exists(ctx, candidate); err == nil && ok {
			projectDirs[dir] = struct{}{}
		}
		if dir == "" {
			break
		}
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(_warmupConcurrency)
	for dir := range projectDirs {
		g.Go(func() error {
			c.warmupOneProject(gctx, ws, dir)
			return nil
		})
	}
	g.Wait()
}

// warmupOneProject opens the first TypeScript source found under the
// project directory.
func (c *controller) warmupOneProject(ctx context.Context, ws *workspace, relDir string) {
	root := ws.mapper.FileRoot() + relDir
	if relDir != "" {
		root += "/"
	}
	var first string
	err := ws.files.Glob(ctx, root, "**/*.{ts,tsx}", []string{"**/node_modules/**"}, func(rawURI string) error {
		first = rawURI
		return errStopWarmup
	})
	if err != nil && err != errStopWarmup && ctx.Err() == nil {
		c.logger.Debugw("project warmup glob failed", "dir", relDir, "error", err)
	}
	if first == "" {
		return
	}
	if err := c.ensureOpen(ctx, ws, uri.URI(first)); err != nil && ctx.Err() == nil {
		c.logger.Debugw("project warmup open failed", "uri", first, "error", err)
	}
}

func pathJoinURI(dir, name string) string {
	if dir == "" {
		return name
	}
	return dir + "/" + name
}

var errStopWarmup = stopError{}

type stopError struct{}

func (stopError) Error() string { return "stop" }
