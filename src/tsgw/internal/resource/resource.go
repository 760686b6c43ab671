// Package resource reads resources by URI. Implementations are registered
// per scheme; the gateway uses one for file: and one for http(s):.
package resource

import (
	"context"
	"fmt"
	"net/url"

	"go.uber.org/fx"

	"github.com/sourcegraph/typescript-gateway/src/tsgw/internal/fs"
)

// Module provides the scheme registry.
var Module = fx.Provide(NewRegistry)

// Retriever reads a resource by URI, checks existence, and enumerates
// matches of a glob pattern under a root.
type Retriever interface {
	// Fetch returns the resource's content. Absent targets yield a
	// ResourceNotFoundError; any other failure is transport-level.
	Fetch(ctx context.Context, rawURI string) ([]byte, error)
	// Exists reports whether the resource is present.
	Exists(ctx context.Context, rawURI string) (bool, error)
	// Glob streams every URI under root matching pattern to fn, skipping
	// paths that match any ignore pattern. Enumeration stops on the first
	// error returned by fn.
	Glob(ctx context.Context, rootURI string, pattern string, ignore []string, fn func(rawURI string) error) error
}

// Registry picks a Retriever by URI scheme.
type Registry interface {
	ForURI(rawURI string) (Retriever, error)
}

type registry struct {
	file Retriever
	http Retriever
}

// NewRegistry returns a Registry with the file and http retrievers
// registered.
func NewRegistry(gwfs fs.GatewayFS) Registry {
	return &registry{
		file: NewFileRetriever(gwfs),
		http: NewHTTPRetriever(nil),
	}
}

func (r *registry) ForURI(rawURI string) (Retriever, error) {
	u, err := url.Parse(rawURI)
	if err != nil {
		return nil, err
	}
	switch u.Scheme {
	case "file":
		return r.file, nil
	case "http", "https":
		return r.http, nil
	default:
		return nil, fmt.Errorf("no retriever registered for scheme %q", u.Scheme)
	}
}
