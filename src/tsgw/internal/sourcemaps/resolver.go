// Package sourcemaps maps positions between declaration files and their
// original sources using source maps and declaration maps.
package sourcemaps

import (
	"context"
	"net/url"
	"path"
	"strings"
	"sync"

	"github.com/go-sourcemap/sourcemap"
	"go.lsp.dev/uri"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/sourcegraph/typescript-gateway/src/tsgw/internal/errors"
	"github.com/sourcegraph/typescript-gateway/src/tsgw/internal/resource"
)

// Declaration-map scans fan out with this width.
const _scanConcurrency = 10

// Position is a resolved location. Line and Character are zero-based, per
// the protocol; the source-map format's one-based lines are converted at
// this boundary.
type Position struct {
	URI       uri.URI
	Line      uint32
	Character uint32
}

// Resolver resolves positions through declaration maps (incoming) and
// source maps (outgoing).
type Resolver struct {
	retriever resource.Retriever
	logger    *zap.SugaredLogger
}

// NewResolver returns a Resolver reading map files through the given
// retriever.
func NewResolver(retriever resource.Retriever, logger *zap.SugaredLogger) *Resolver {
	return &Resolver{retriever: retriever, logger: logger}
}

// ResolveIncoming maps a position in an external package source file to a
// position in an installed declaration file under the workspace.
//
// The verbatim file is preferred: **/node_modules/<pkg>/<relPath>. Failing
// that, every **/node_modules/<pkg>/**/*.d.ts.map declaration map is opened
// concurrently and the first one whose sources include relPath decides the
// generated position.
func (r *Resolver) ResolveIncoming(ctx context.Context, workspaceRoot string, pkg, relPath string, line, character uint32) (*Position, error) {
	var verbatim string
	err := r.retriever.Glob(ctx, workspaceRoot, "**/node_modules/"+pkg+"/"+relPath, nil, func(rawURI string) error {
		verbatim = rawURI
		return errStopGlob
	})
	if err != nil && err != errStopGlob {
		return nil, err
	}
	if verbatim != "" {
		return &Position{URI: uri.URI(verbatim), Line: line, Character: character}, nil
	}

	var candidates []string
	if err := r.retriever.Glob(ctx, workspaceRoot, "**/node_modules/"+pkg+"/**/*.d.ts.map", nil, func(rawURI string) error {
		candidates = append(candidates, rawURI)
		return nil
	}); err != nil {
		return nil, err
	}

	var (
		mu    sync.Mutex
		found *Position
	)
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(_scanConcurrency)
	for _, mapURI := range candidates {
		g.Go(func() error {
			pos, err := r.tryDeclarationMap(gctx, mapURI, relPath, line, character)
			if err != nil {
				if !errors.IsResourceNotFound(err) && gctx.Err() == nil {
					r.logger.Warnw("reading declaration map", "uri", mapURI, "error", err)
				}
				return nil
			}
			if pos == nil {
				return nil
			}
			mu.Lock()
			if found == nil {
				found = pos
			}
			mu.Unlock()
			return errStopGlob
		})
	}
	if err := g.Wait(); err != nil && err != errStopGlob {
		return nil, err
	}
	if found == nil {
		return nil, &errors.MappingError{URI: relPath, Reason: "no declaration map covers the position in package " + pkg}
	}
	return found, nil
}

func (r *Resolver) tryDeclarationMap(ctx context.Context, mapURI, relPath string, line, character uint32) (*Position, error) {
	data, err := r.retriever.Fetch(ctx, mapURI)
	if err != nil {
		return nil, err
	}
	dm, err := parseDeclMap(data)
	if err != nil {
		return nil, err
	}
	srcIdx := dm.sourceIndex(relPath)
	if srcIdx < 0 {
		return nil, nil
	}
	genLine, genCol, ok := dm.generatedPosition(srcIdx, int(line)+1, int(character))
	if !ok {
		return nil, nil
	}
	declFile := strings.TrimSuffix(mapURI, ".map")
	return &Position{URI: uri.URI(declFile), Line: uint32(genLine - 1), Character: uint32(genCol)}, nil
}

// ResolveOutgoing maps a position in a declaration file back to its original
// source via a sibling .map file. It returns nil when no usable mapping
// exists, so the caller keeps the declaration location. Mappings that land
// outside tempRoot are discarded.
func (r *Resolver) ResolveOutgoing(ctx context.Context, declURI uri.URI, tempRoot string, line, character uint32) (*Position, error) {
	data, err := r.retriever.Fetch(ctx, string(declURI)+".map")
	if err != nil {
		if errors.IsResourceNotFound(err) {
			return nil, nil
		}
		return nil, err
	}
	consumer, err := sourcemap.Parse(string(declURI)+".map", data)
	if err != nil {
		return nil, err
	}

	source, _, origLine, origCol, ok := consumer.Source(int(line)+1, int(character))
	if !ok || source == "" {
		return nil, nil
	}

	mapped, err := resolveSourcePath(string(declURI), source)
	if err != nil {
		return nil, err
	}
	mappedPath := uri.URI(mapped).Filename()
	if !strings.HasPrefix(mappedPath, tempRoot) {
		return nil, nil
	}
	return &Position{URI: uri.File(mappedPath), Line: uint32(origLine - 1), Character: uint32(origCol)}, nil
}

// resolveSourcePath resolves a source entry relative to the declaration
// file's directory.
func resolveSourcePath(declURI, source string) (string, error) {
	base, err := url.Parse(declURI)
	if err != nil {
		return "", err
	}
	base.Path = path.Dir(base.Path) + "/"
	ref, err := url.Parse(source)
	if err != nil {
		return "", err
	}
	return base.ResolveReference(ref).String(), nil
}

// errStopGlob is a sentinel used to end enumeration early.
var errStopGlob = errors.New("stop glob")
