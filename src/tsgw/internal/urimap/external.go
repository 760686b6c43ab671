package urimap

import (
	"encoding/json"
	"fmt"
	"net/url"
	"path"
	"regexp"
	"strings"

	"github.com/sourcegraph/typescript-gateway/src/tsgw/internal/errors"
)

// ExternalRef is the parsed form of an external-repo HTTP URI:
// <instanceUrl>/<repoName>[@<commit>]/-/raw/<relPath>.
type ExternalRef struct {
	InstanceURL string
	RepoName    string
	Commit      string
	Path        string
}

// _dtVersionDir matches DefinitelyTyped versioned subdirectories like v14.
var _dtVersionDir = regexp.MustCompile(`^v\d+(\.\d+)*$`)

// ParseExternalURL parses a raw-file repository URL of the shape produced by
// BuildExternalURL. The userinfo bearer, if any, is discarded.
func ParseExternalURL(raw string) (*ExternalRef, error) {
	u, err := url.Parse(raw)
	if err != nil {
		return nil, &errors.MappingError{URI: raw, Reason: err.Error()}
	}
	p := strings.TrimPrefix(u.Path, "/")
	idx := strings.Index(p, "/-/raw/")
	if idx < 0 {
		return nil, &errors.MappingError{URI: raw, Reason: "missing /-/raw/ separator"}
	}
	repoAndRev := p[:idx]
	relPath := p[idx+len("/-/raw/"):]

	repoName, commit := repoAndRev, ""
	if at := strings.LastIndex(repoAndRev, "@"); at >= 0 {
		repoName, commit = repoAndRev[:at], repoAndRev[at+1:]
	}
	if repoName == "" {
		return nil, &errors.MappingError{URI: raw, Reason: "empty repository name"}
	}

	instance := *u
	instance.Path = ""
	instance.User = nil
	instance.RawQuery = ""
	instance.Fragment = ""

	return &ExternalRef{
		InstanceURL: instance.String(),
		RepoName:    repoName,
		Commit:      commit,
		Path:        relPath,
	}, nil
}

// PackageName infers the npm package that owns the referenced file.
// DefinitelyTyped layouts (types/<name>/[v<ver>/]...) yield @types/<name>;
// otherwise the repository's final path segment is used.
func (r *ExternalRef) PackageName() string {
	segs := strings.Split(r.Path, "/")
	for i, seg := range segs {
		if seg == "types" && i+1 < len(segs) {
			return "@types/" + segs[i+1]
		}
	}
	return path.Base(r.RepoName)
}

// PackageRelPath returns the file path relative to the package root.
func (r *ExternalRef) PackageRelPath() string {
	segs := strings.Split(r.Path, "/")
	for i, seg := range segs {
		if seg == "types" && i+1 < len(segs) {
			rest := segs[i+2:]
			// Skip a versioned subdirectory like ts-mockito/v2/index.d.ts.
			if len(rest) > 0 && _dtVersionDir.MatchString(rest[0]) {
				rest = rest[1:]
			}
			return strings.Join(rest, "/")
		}
	}
	return r.Path
}

// PackageMeta carries the manifest fields needed to construct an external
// repository URL for an installed package.
type PackageMeta struct {
	Name          string
	RepositoryURL string
	RepoDirectory string
	GitHead       string
}

// ParsePackageMeta extracts PackageMeta from raw package.json bytes. The
// repository field may be a plain string or an object with url/directory.
func ParsePackageMeta(data []byte) (*PackageMeta, error) {
	var manifest struct {
		Name       string          `json:"name"`
		GitHead    string          `json:"gitHead"`
		Repository json.RawMessage `json:"repository"`
	}
	if err := json.Unmarshal(data, &manifest); err != nil {
		return nil, err
	}
	meta := &PackageMeta{Name: manifest.Name, GitHead: manifest.GitHead}
	if len(manifest.Repository) > 0 {
		var repoStr string
		if err := json.Unmarshal(manifest.Repository, &repoStr); err == nil {
			meta.RepositoryURL = repoStr
		} else {
			var repoObj struct {
				URL       string `json:"url"`
				Directory string `json:"directory"`
			}
			if err := json.Unmarshal(manifest.Repository, &repoObj); err == nil {
				meta.RepositoryURL = repoObj.URL
				meta.RepoDirectory = repoObj.Directory
			}
		}
	}
	return meta, nil
}

// RepoName normalizes the repository declaration to a host/owner/name form,
// e.g. github.com/lodash/lodash.
func (p *PackageMeta) RepoName() (string, error) {
	raw := p.RepositoryURL
	if raw == "" {
		return "", fmt.Errorf("package %q declares no repository", p.Name)
	}
	raw = strings.TrimPrefix(raw, "git+")
	raw = strings.TrimSuffix(raw, ".git")
	if strings.HasPrefix(raw, "git@") {
		// git@github.com:owner/name
		raw = strings.Replace(strings.TrimPrefix(raw, "git@"), ":", "/", 1)
		return raw, nil
	}
	u, err := url.Parse(raw)
	if err != nil {
		return "", err
	}
	repoPath := strings.Trim(u.Path, "/")
	// GitHub tree URLs embed a ref and subdirectory after owner/name.
	if segs := strings.Split(repoPath, "/"); len(segs) > 3 && segs[2] == "tree" {
		repoPath = strings.Join(segs[:2], "/")
	}
	return u.Host + "/" + repoPath, nil
}

// Subdir returns the path of the package within its repository. The
// manifest's repository.directory wins; @types packages follow the
// DefinitelyTyped types/<name> convention; GitHub tree URLs contribute the
// path after tree/<ref>/.
func (p *PackageMeta) Subdir() string {
	if p.RepoDirectory != "" {
		return p.RepoDirectory
	}
	if strings.HasPrefix(p.Name, "@types/") {
		return "types/" + strings.TrimPrefix(p.Name, "@types/")
	}
	if u, err := url.Parse(strings.TrimPrefix(p.RepositoryURL, "git+")); err == nil {
		segs := strings.Split(strings.Trim(u.Path, "/"), "/")
		if len(segs) > 3 && segs[2] == "tree" {
			return strings.Join(segs[4:], "/")
		}
	}
	return ""
}

// InstanceConfig identifies the external code host and optional bearer
// credential used for cross-repository URLs.
type InstanceConfig struct {
	URL         string
	AccessToken string
}

// ResolveExternal constructs the external-repo URL for a file inside an
// installed package. fileURI must point under some node_modules directory.
// A missing gitHead falls back to the repository's moving head; the caller
// is expected to log a warning in that case.
func ResolveExternal(fileURI string, meta *PackageMeta, instance InstanceConfig) (string, error) {
	_, _, relPath, err := SplitNodeModulesPath(uriPath(fileURI))
	if err != nil {
		return "", &errors.MappingError{URI: fileURI, Reason: err.Error()}
	}
	repoName, err := meta.RepoName()
	if err != nil {
		return "", &errors.MappingError{URI: fileURI, Reason: err.Error()}
	}
	return BuildExternalURL(instance, repoName, meta.GitHead, meta.Subdir(), relPath)
}

// BuildExternalURL renders <instanceUrl>/<repoName>[@<commit>]/-/raw/<subdir>/<relPath>
// with an optional bearer carried in the userinfo field.
func BuildExternalURL(instance InstanceConfig, repoName, commit, subdir, relPath string) (string, error) {
	u, err := url.Parse(instance.URL)
	if err != nil {
		return "", err
	}
	if instance.AccessToken != "" {
		u.User = url.User(instance.AccessToken)
	}
	repoAndRev := repoName
	if commit != "" {
		repoAndRev += "@" + commit
	}
	u.Path = "/" + repoAndRev + "/-/raw/" + path.Join(subdir, relPath)
	return u.String(), nil
}

// FindPackageRootAndName locates the directory of the package that owns the
// given slash-separated file path, along with the package's name. Scoped
// packages span two segments. DefinitelyTyped checkouts map types/<name>
// directories to @types/<name>.
func FindPackageRootAndName(filePath string) (root string, name string, err error) {
	segs := strings.Split(filePath, "/")
	for i := len(segs) - 1; i >= 0; i-- {
		if segs[i] != "node_modules" || i+1 >= len(segs) {
			continue
		}
		name = segs[i+1]
		end := i + 2
		if strings.HasPrefix(name, "@") && i+2 < len(segs) {
			name = name + "/" + segs[i+2]
			end = i + 3
		}
		return strings.Join(segs[:end], "/"), name, nil
	}
	for i, seg := range segs {
		if seg == "types" && i+1 < len(segs) {
			end := i + 2
			if i+2 < len(segs) && _dtVersionDir.MatchString(segs[i+2]) {
				end = i + 3
			}
			return strings.Join(segs[:end], "/"), "@types/" + segs[i+1], nil
		}
	}
	return "", "", fmt.Errorf("no package root in %q", filePath)
}

// SplitNodeModulesPath splits a path at its innermost node_modules segment
// into the enclosing directory, the package name, and the path inside the
// package.
func SplitNodeModulesPath(p string) (dir, pkg, rel string, err error) {
	segs := strings.Split(p, "/")
	for i := len(segs) - 1; i >= 0; i-- {
		if segs[i] != "node_modules" || i+1 >= len(segs) {
			continue
		}
		pkg = segs[i+1]
		start := i + 2
		if strings.HasPrefix(pkg, "@") && i+2 < len(segs) {
			pkg = pkg + "/" + segs[i+2]
			start = i + 3
		}
		return strings.Join(segs[:i], "/"), pkg, strings.Join(segs[start:], "/"), nil
	}
	return "", "", "", fmt.Errorf("no node_modules segment in %q", p)
}

func uriPath(raw string) string {
	if u, err := url.Parse(raw); err == nil {
		return u.Path
	}
	return raw
}
