// Package urimap translates URIs between the public HTTP workspace
// namespace, the private file workspace namespace, and external
// repository URLs.
package urimap

import (
	"fmt"
	"net/url"
	"strings"

	"go.lsp.dev/uri"

	"github.com/sourcegraph/typescript-gateway/src/tsgw/internal/errors"
)

// Mapper maps URIs between an HTTP workspace root and a file workspace root.
// Both roots are stored with a trailing slash so that <root> + <relPath> is
// unambiguous under relative resolution.
type Mapper struct {
	httpRoot *url.URL
	fileRoot *url.URL

	httpRootStr string
	fileRootStr string
}

// New creates a Mapper for the given workspace roots. Roots are normalized
// to carry a trailing slash.
func New(httpRoot, fileRoot string) (*Mapper, error) {
	h, err := parseRoot(httpRoot)
	if err != nil {
		return nil, fmt.Errorf("http root: %w", err)
	}
	if h.Scheme != "http" && h.Scheme != "https" {
		return nil, &errors.ValidationError{Reason: fmt.Sprintf("root URI must have scheme http or https, got %q", h.Scheme)}
	}
	f, err := parseRoot(fileRoot)
	if err != nil {
		return nil, fmt.Errorf("file root: %w", err)
	}
	return &Mapper{
		httpRoot:    h,
		fileRoot:    f,
		httpRootStr: h.String(),
		fileRootStr: f.String(),
	}, nil
}

func parseRoot(raw string) (*url.URL, error) {
	u, err := url.Parse(raw)
	if err != nil {
		return nil, err
	}
	if !strings.HasSuffix(u.Path, "/") {
		u.Path += "/"
	}
	return u, nil
}

// HTTPRoot returns the normalized HTTP workspace root, with trailing slash.
func (m *Mapper) HTTPRoot() string { return m.httpRootStr }

// FileRoot returns the normalized file workspace root, with trailing slash.
func (m *Mapper) FileRoot() string { return m.fileRootStr }

// HTTPToFile rewrites an HTTP workspace URI to its file workspace
// counterpart. Inputs that resolve outside the file root are rejected.
func (m *Mapper) HTTPToFile(raw string) (uri.URI, error) {
	rel, err := m.relativeTo(raw, m.httpRoot, m.httpRootStr)
	if err != nil {
		return "", err
	}
	resolved := m.fileRoot.ResolveReference(&url.URL{Path: rel})
	out := resolved.String()
	if !strings.HasPrefix(out, m.fileRootStr) {
		return "", &errors.MappingError{URI: raw, Reason: "path escapes the workspace file root"}
	}
	return uri.URI(out), nil
}

// FileToHTTP rewrites a file workspace URI to its public HTTP counterpart.
// URIs under node_modules must never be exposed this way; they are mapped
// to external repository URLs instead.
func (m *Mapper) FileToHTTP(raw string) (string, error) {
	rel, err := m.relativeTo(raw, m.fileRoot, m.fileRootStr)
	if err != nil {
		return "", err
	}
	if HasNodeModulesSegment(rel) {
		return "", &errors.MappingError{URI: raw, Reason: "node_modules paths are not exposed as workspace HTTP URIs"}
	}
	resolved := m.httpRoot.ResolveReference(&url.URL{Path: rel})
	out := resolved.String()
	if !strings.HasPrefix(out, m.httpRootStr) {
		return "", &errors.MappingError{URI: raw, Reason: "path escapes the workspace HTTP root"}
	}
	return out, nil
}

// InWorkspaceHTTP reports whether raw lies under the HTTP workspace root.
func (m *Mapper) InWorkspaceHTTP(raw string) bool {
	_, err := m.relativeTo(raw, m.httpRoot, m.httpRootStr)
	return err == nil
}

// InWorkspaceFile reports whether raw lies under the file workspace root.
func (m *Mapper) InWorkspaceFile(raw string) bool {
	_, err := m.relativeTo(raw, m.fileRoot, m.fileRootStr)
	return err == nil
}

// relativeTo resolves raw against root and returns its path relative to the
// root. Dot segments are resolved before the prefix check, so traversal
// inputs fail rather than escaping.
func (m *Mapper) relativeTo(raw string, root *url.URL, rootStr string) (string, error) {
	in, err := url.Parse(raw)
	if err != nil {
		return "", &errors.MappingError{URI: raw, Reason: err.Error()}
	}
	resolved := root.ResolveReference(in)
	s := resolved.String()
	if !strings.HasPrefix(s, rootStr) {
		return "", &errors.MappingError{URI: raw, Reason: fmt.Sprintf("not under root %q", rootStr)}
	}
	return s[len(rootStr):], nil
}

// HasNodeModulesSegment reports whether a slash-separated path contains a
// node_modules segment.
func HasNodeModulesSegment(path string) bool {
	for _, seg := range strings.Split(path, "/") {
		if seg == "node_modules" {
			return true
		}
	}
	return false
}
