// Package tarball materializes a remote repository archive into a local
// workspace directory.
package tarball

import (
	"archive/tar"
	"compress/gzip"
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"path"
	"regexp"
	"strings"

	"github.com/sourcegraph/typescript-gateway/src/tsgw/internal/fs"
)

// Only type-bearing sources, manifests, and their source maps are worth
// extracting.
var _keepEntry = regexp.MustCompile(`\.(?:d\.)?(?:ts|tsx|js|jsx|json)(?:\.map)?$`)

// ProgressFunc receives extraction progress in the range [0, 1]. It is only
// invoked when the server reports a content length.
type ProgressFunc func(fraction float64)

// Result describes a completed extraction.
type Result struct {
	// ManifestDirs are the workspace-relative directories (slash separated,
	// "" for the root) that contain a package.json outside node_modules, in
	// the order encountered in the archive.
	ManifestDirs []string
}

// Extractor streams tarballs into workspace directories.
type Extractor struct {
	client *http.Client
	fs     fs.GatewayFS
}

// New returns an Extractor. A nil client uses http.DefaultClient.
func New(client *http.Client, gwfs fs.GatewayFS) *Extractor {
	if client == nil {
		client = http.DefaultClient
	}
	return &Extractor{client: client, fs: gwfs}
}

// Extract streams the gzip tarball at archiveURL into destDir. Entries are
// filtered to type-bearing extensions; package.json locations outside
// node_modules are recorded. Cancelling ctx aborts the stream and leaves
// partial output for the caller's disposal pass.
func (e *Extractor) Extract(ctx context.Context, archiveURL string, destDir string, progress ProgressFunc) (*Result, error) {
	req, err := newArchiveRequest(ctx, archiveURL)
	if err != nil {
		return nil, err
	}
	resp, err := e.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return nil, fmt.Errorf("fetching archive: unexpected status %s", resp.Status)
	}
	contentType := resp.Header.Get("Content-Type")
	if !strings.HasPrefix(contentType, "application/") {
		return nil, fmt.Errorf("fetching archive: unexpected content type %q", contentType)
	}

	body := io.Reader(resp.Body)
	if progress != nil && resp.ContentLength > 0 {
		body = &countingReader{r: resp.Body, total: resp.ContentLength, progress: progress}
	}

	gz, err := gzip.NewReader(body)
	if err != nil {
		return nil, fmt.Errorf("opening archive stream: %w", err)
	}
	defer gz.Close()

	return e.expand(ctx, tar.NewReader(gz), destDir)
}

func (e *Extractor) expand(ctx context.Context, tr *tar.Reader, destDir string) (*Result, error) {
	result := &Result{ManifestDirs: []string{}}
	seen := map[string]struct{}{}

	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		hdr, err := tr.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("reading archive: %w", err)
		}
		if hdr.Typeflag != tar.TypeReg {
			continue
		}

		// Archives commonly nest everything under a single top directory.
		name := stripLeadingDir(hdr.Name)
		if name == "" || !safeRelPath(name) {
			continue
		}

		base := path.Base(name)
		if base == "package.json" && !hasNodeModules(name) {
			dir := path.Dir(name)
			if dir == "." {
				dir = ""
			}
			if _, ok := seen[dir]; !ok {
				seen[dir] = struct{}{}
				result.ManifestDirs = append(result.ManifestDirs, dir)
			}
		}
		if !_keepEntry.MatchString(base) {
			continue
		}

		target := destDir + "/" + name
		if err := e.fs.MkdirAll(path.Dir(target)); err != nil {
			return nil, err
		}
		f, err := e.fs.Create(target)
		if err != nil {
			return nil, err
		}
		_, err = io.Copy(f, tr)
		f.Close()
		if err != nil {
			return nil, fmt.Errorf("writing %q: %w", name, err)
		}
	}
	return result, nil
}

func newArchiveRequest(ctx context.Context, archiveURL string) (*http.Request, error) {
	u, err := url.Parse(archiveURL)
	if err != nil {
		return nil, err
	}
	var token string
	if u.User != nil {
		token = u.User.Username()
		u.User = nil
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/x-tar")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	return req, nil
}

func stripLeadingDir(name string) string {
	name = strings.TrimPrefix(name, "./")
	if idx := strings.Index(name, "/"); idx >= 0 {
		return name[idx+1:]
	}
	return ""
}

// safeRelPath rejects entries that would escape the destination directory.
func safeRelPath(name string) bool {
	clean := path.Clean(name)
	return clean != ".." && !strings.HasPrefix(clean, "../") && !path.IsAbs(clean)
}

func hasNodeModules(name string) bool {
	for _, seg := range strings.Split(name, "/") {
		if seg == "node_modules" {
			return true
		}
	}
	return false
}

type countingReader struct {
	r        io.Reader
	total    int64
	read     int64
	progress ProgressFunc
}

func (c *countingReader) Read(p []byte) (int, error) {
	n, err := c.r.Read(p)
	c.read += int64(n)
	if n > 0 {
		c.progress(float64(c.read) / float64(c.total))
	}
	return n, err
}
