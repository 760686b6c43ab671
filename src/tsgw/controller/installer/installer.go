// Package installer coordinates lazy, single-flight installation of
// type-bearing dependencies for the manifests of one workspace.
package installer

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	tally "github.com/uber-go/tally/v4"
	"go.uber.org/config"
	"go.uber.org/fx"
	"go.uber.org/zap"

	"github.com/sourcegraph/typescript-gateway/src/tsgw/internal/executor"
	"github.com/sourcegraph/typescript-gateway/src/tsgw/internal/fs"
	"github.com/sourcegraph/typescript-gateway/src/tsgw/internal/manifests"
	"github.com/sourcegraph/typescript-gateway/src/tsgw/internal/tarball"
)

const (
	_configKeyCommand = "installer.command"
)

// Module provides the coordinator factory.
var Module = fx.Provide(NewFactory)

// Future is the shared outcome of one manifest's installation attempt.
// Every caller awaits the same completion; a failed installation is logged
// and still counts as completion.
type Future struct {
	done chan struct{}
	err  error
}

// Await blocks until the installation finishes or ctx is cancelled.
// Installation failures are not surfaced here.
func (f *Future) Await(ctx context.Context) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-f.done:
		return nil
	}
}

// Err returns the terminal installation error, if any. Valid after Await.
func (f *Future) Err() error { return f.err }

// Coordinator runs at most one installation per manifest directory.
type Coordinator interface {
	// EnsureInstalled returns the shared future for the manifest's single
	// installation attempt, starting it on first call.
	EnsureInstalled(ctx context.Context, entry manifests.Entry) *Future
	// EnsureDependenciesForDocument starts installation for every manifest
	// that is a parent of the document and returns the pending futures.
	EnsureDependenciesForDocument(ctx context.Context, registry *manifests.Registry, docURI string) []*Future
	// Dispose cancels the session scope for pending installations.
	Dispose()
}

// SessionParams describe the workspace one coordinator serves.
type SessionParams struct {
	// TempDir is the session scratch directory holding the per-manifest
	// global/ and cache/ stores and the serialized .npmrc.
	TempDir string
	// WorkspaceDir is the extraction target containing the manifests.
	WorkspaceDir string
	// NPMRC is serialized to <TempDir>/.npmrc and handed to the installer.
	NPMRC map[string]string
	// RequestRestart is invoked after a successful installation; nil when
	// restart-after-install is disabled.
	RequestRestart func(ctx context.Context) error
}

// Factory creates per-session coordinators.
type Factory interface {
	New(p SessionParams) Coordinator
}

// FactoryParams are inbound parameters to initialize the factory.
type FactoryParams struct {
	fx.In

	Config   config.Provider
	Logger   *zap.SugaredLogger
	Stats    tally.Scope
	FS       fs.GatewayFS
	Executor executor.Executor
	Metadata MetadataClient
}

type factory struct {
	command  string
	logger   *zap.SugaredLogger
	stats    tally.Scope
	fs       fs.GatewayFS
	executor executor.Executor
	metadata MetadataClient
}

// NewFactory builds the coordinator factory from configuration.
func NewFactory(p FactoryParams) (Factory, error) {
	f := &factory{
		logger:   p.Logger,
		stats:    p.Stats.SubScope("installer"),
		fs:       p.FS,
		executor: p.Executor,
		metadata: p.Metadata,
	}
	if err := p.Config.Get(_configKeyCommand).Populate(&f.command); err != nil {
		return nil, fmt.Errorf("getting config field %q: %w", _configKeyCommand, err)
	}
	if f.command == "" {
		f.command = "yarn"
	}
	return f, nil
}

func (f *factory) New(p SessionParams) Coordinator {
	ctx, cancel := context.WithCancel(context.Background())
	return &coordinator{
		factory:    f,
		params:     p,
		sessionCtx: ctx,
		cancel:     cancel,
		futures:    make(map[string]*Future),
	}
}

type coordinator struct {
	*factory
	params SessionParams

	// Installations outlive the request that triggered them; they are bound
	// to the session scope instead.
	sessionCtx context.Context
	cancel     context.CancelFunc

	mu      sync.Mutex
	futures map[string]*Future
}

func (c *coordinator) EnsureInstalled(ctx context.Context, entry manifests.Entry) *Future {
	c.mu.Lock()
	if fut, ok := c.futures[entry.RelDir]; ok {
		c.mu.Unlock()
		return fut
	}
	fut := &Future{done: make(chan struct{})}
	c.futures[entry.RelDir] = fut
	c.mu.Unlock()

	go func() {
		defer close(fut.done)
		if err := c.install(c.sessionCtx, entry); err != nil {
			fut.err = err
			c.stats.Counter("install_failed").Inc(1)
			if c.sessionCtx.Err() == nil {
				c.logger.Errorw("dependency installation failed", "manifest", entry.RelDir, "error", err)
			}
			return
		}
		c.stats.Counter("install_ok").Inc(1)
	}()
	return fut
}

func (c *coordinator) EnsureDependenciesForDocument(ctx context.Context, registry *manifests.Registry, docURI string) []*Future {
	parents := registry.ParentsOf(docURI)
	futures := make([]*Future, 0, len(parents))
	for _, entry := range parents {
		futures = append(futures, c.EnsureInstalled(ctx, entry))
	}
	return futures
}

func (c *coordinator) Dispose() {
	c.cancel()
}

func (c *coordinator) install(ctx context.Context, entry manifests.Entry) error {
	manifestDir := filepath.Join(c.params.WorkspaceDir, filepath.FromSlash(entry.RelDir))

	remaining, err := c.filterManifest(ctx, manifestDir)
	if err != nil {
		return err
	}
	if remaining == 0 {
		c.logger.Infow("no type-bearing dependencies, skipping install", "manifest", entry.RelDir)
		return nil
	}

	// Concurrent installations must not share stores.
	globalDir := filepath.Join(c.params.TempDir, "global", filepath.FromSlash(entry.RelDir))
	cacheDir := filepath.Join(c.params.TempDir, "cache", filepath.FromSlash(entry.RelDir))
	for _, dir := range []string{globalDir, cacheDir} {
		if err := c.fs.MkdirAll(dir); err != nil {
			return err
		}
	}

	args := []string{
		"install",
		"--ignore-scripts",
		"--ignore-engines",
		"--no-progress",
		"--non-interactive",
		"--global-folder", globalDir,
		"--cache-folder", cacheDir,
	}
	var env []string
	if npmrc := c.writeNPMRC(); npmrc != "" {
		env = append(os.Environ(), "NPM_CONFIG_USERCONFIG="+npmrc)
	}

	stdout, stderr, err := c.executor.Run(ctx, manifestDir, env, c.command, args...)
	if err != nil {
		return fmt.Errorf("running installer: %w (stdout: %s, stderr: %s)", err, strings.TrimSpace(stdout), strings.TrimSpace(stderr))
	}

	if err := tarball.SanitizeTsConfigs(c.fs, filepath.Join(manifestDir, "node_modules"), c.logger); err != nil {
		c.logger.Warnw("sanitizing installed tsconfigs", "manifest", entry.RelDir, "error", err)
	}

	if c.params.RequestRestart != nil {
		if err := c.params.RequestRestart(ctx); err != nil {
			return fmt.Errorf("restarting language server after install: %w", err)
		}
	}
	return nil
}

// filterManifest rewrites the manifest to only its type-bearing
// dependencies and returns how many remain. The file is rewritten only if
// at least one dependency was removed and at least one remains.
func (c *coordinator) filterManifest(ctx context.Context, manifestDir string) (remaining int, err error) {
	manifestPath := filepath.Join(manifestDir, "package.json")
	data, err := c.fs.ReadFile(manifestPath)
	if err != nil {
		return 0, err
	}
	var manifest map[string]json.RawMessage
	if err := json.Unmarshal(data, &manifest); err != nil {
		return 0, err
	}

	removed := 0
	for _, field := range []string{"dependencies", "devDependencies"} {
		raw, ok := manifest[field]
		if !ok {
			continue
		}
		var deps map[string]string
		if err := json.Unmarshal(raw, &deps); err != nil {
			return 0, err
		}
		names := make([]string, 0, len(deps))
		for name := range deps {
			names = append(names, name)
		}
		sort.Strings(names)
		for _, name := range names {
			if c.carriesTypes(ctx, name) {
				continue
			}
			delete(deps, name)
			removed++
		}
		remaining += len(deps)
		filtered, err := json.Marshal(deps)
		if err != nil {
			return 0, err
		}
		manifest[field] = filtered
	}

	if removed > 0 && remaining > 0 {
		out, err := json.MarshalIndent(manifest, "", "  ")
		if err != nil {
			return 0, err
		}
		if err := c.fs.WriteFile(manifestPath, out); err != nil {
			return 0, err
		}
	}
	return remaining, nil
}

// carriesTypes reports whether the package ships type declarations.
// @types/ packages always qualify; anything else is decided by registry
// metadata, kept when the metadata is unreachable.
func (c *coordinator) carriesTypes(ctx context.Context, name string) bool {
	if strings.HasPrefix(name, "@types/") {
		return true
	}
	hasTypes, err := c.metadata.HasTypes(ctx, name)
	if err != nil {
		c.logger.Warnw("registry metadata unreachable, keeping dependency", "package", name, "error", err)
		return true
	}
	return hasTypes
}

func (c *coordinator) writeNPMRC() string {
	if len(c.params.NPMRC) == 0 {
		return ""
	}
	keys := make([]string, 0, len(c.params.NPMRC))
	for k := range c.params.NPMRC {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	var b strings.Builder
	for _, k := range keys {
		fmt.Fprintf(&b, "%s=%s\n", k, c.params.NPMRC[k])
	}
	path := filepath.Join(c.params.TempDir, ".npmrc")
	if err := c.fs.WriteFile(path, []byte(b.String())); err != nil {
		c.logger.Warnw("writing .npmrc", "error", err)
		return ""
	}
	return path
}
