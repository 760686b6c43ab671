package resource

import (
	"context"
	iofs "io/fs"
	"os"

	"github.com/bmatcuk/doublestar/v4"
	"go.lsp.dev/uri"

	"github.com/sourcegraph/typescript-gateway/src/tsgw/internal/errors"
	"github.com/sourcegraph/typescript-gateway/src/tsgw/internal/fs"
)

type fileRetriever struct {
	fs fs.GatewayFS
}

// NewFileRetriever returns a Retriever over the local filesystem.
func NewFileRetriever(gwfs fs.GatewayFS) Retriever {
	return &fileRetriever{fs: gwfs}
}

func (r *fileRetriever) Fetch(ctx context.Context, rawURI string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	data, err := r.fs.ReadFile(uri.URI(rawURI).Filename())
	if err != nil {
		if os.IsNotExist(err) {
			return nil, &errors.ResourceNotFoundError{URI: rawURI}
		}
		return nil, err
	}
	return data, nil
}

func (r *fileRetriever) Exists(ctx context.Context, rawURI string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	return r.fs.FileExists(uri.URI(rawURI).Filename())
}

func (r *fileRetriever) Glob(ctx context.Context, rootURI string, pattern string, ignore []string, fn func(rawURI string) error) error {
	root := uri.URI(rootURI).Filename()
	return doublestar.GlobWalk(os.DirFS(root), pattern, func(path string, d iofs.DirEntry) error {
		if err := ctx.Err(); err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		for _, ig := range ignore {
			if ok, _ := doublestar.Match(ig, path); ok {
				return nil
			}
		}
		return fn(string(uri.File(root + "/" + path)))
	})
}
