// Package manifests indexes the package manifest directories discovered
// while materializing a workspace.
package manifests

import (
	"context"
	"encoding/json"
	"strings"

	"go.uber.org/zap"

	"github.com/sourcegraph/typescript-gateway/src/tsgw/internal/errors"
	"github.com/sourcegraph/typescript-gateway/src/tsgw/internal/resource"
	"github.com/sourcegraph/typescript-gateway/src/tsgw/internal/urimap"
)

// Entry is a directory containing a package manifest within the workspace.
type Entry struct {
	// RelDir is the workspace-relative directory, "" for the workspace root.
	RelDir string
	// HTTPDir is the public directory URI, with trailing slash.
	HTTPDir string
	// FileDir is the private directory URI, with trailing slash.
	FileDir string

	deps map[string]struct{}
}

// DeclaresDependency reports whether the manifest's dependencies or
// devDependencies declare the given package.
func (e Entry) DeclaresDependency(pkg string) bool {
	_, ok := e.deps[pkg]
	return ok
}

// Registry holds the manifest entries of one workspace. It is built once at
// initialize and not mutated thereafter.
type Registry struct {
	entries []Entry
}

// Build reads each discovered manifest and records its declared
// dependencies. Manifests that are missing or cannot be parsed are kept with
// an empty dependency set, logged; any other read error aborts the build.
func Build(ctx context.Context, retriever resource.Retriever, mapper *urimap.Mapper, relDirs []string, logger *zap.SugaredLogger) (*Registry, error) {
	entries := make([]Entry, 0, len(relDirs))
	for _, rel := range relDirs {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		prefix := rel
		if prefix != "" && !strings.HasSuffix(prefix, "/") {
			prefix += "/"
		}
		entry := Entry{
			RelDir:  rel,
			HTTPDir: mapper.HTTPRoot() + prefix,
			FileDir: mapper.FileRoot() + prefix,
			deps:    map[string]struct{}{},
		}

		data, err := retriever.Fetch(ctx, entry.FileDir+"package.json")
		if err != nil {
			if !errors.IsResourceNotFound(err) {
				return nil, err
			}
			logger.Warnw("recorded manifest missing from extraction", "dir", rel)
		} else if deps, err := declaredDependencies(data); err != nil {
			logger.Warnw("unparseable package manifest", "dir", rel, "error", err)
		} else {
			entry.deps = deps
		}
		entries = append(entries, entry)
	}
	return &Registry{entries: entries}, nil
}

// ParentsOf returns the entries whose directory is a prefix of the given
// document URI. The URI may be in either the HTTP or the file namespace.
func (r *Registry) ParentsOf(docURI string) []Entry {
	var out []Entry
	for _, e := range r.entries {
		if strings.HasPrefix(docURI, e.HTTPDir) || strings.HasPrefix(docURI, e.FileDir) {
			out = append(out, e)
		}
	}
	return out
}

// DeclaredIn returns the entries whose manifest declares the given package.
func (r *Registry) DeclaredIn(pkg string) []Entry {
	var out []Entry
	for _, e := range r.entries {
		if e.DeclaresDependency(pkg) {
			out = append(out, e)
		}
	}
	return out
}

// Iterate returns a snapshot of all entries for concurrent traversal.
func (r *Registry) Iterate() []Entry {
	out := make([]Entry, len(r.entries))
	copy(out, r.entries)
	return out
}

func declaredDependencies(data []byte) (map[string]struct{}, error) {
	var manifest struct {
		Dependencies    map[string]string `json:"dependencies"`
		DevDependencies map[string]string `json:"devDependencies"`
	}
	if err := json.Unmarshal(data, &manifest); err != nil {
		return nil, err
	}
	deps := make(map[string]struct{}, len(manifest.Dependencies)+len(manifest.DevDependencies))
	for name := range manifest.Dependencies {
		deps[name] = struct{}{}
	}
	for name := range manifest.DevDependencies {
		deps[name] = struct{}{}
	}
	return deps, nil
}
