package installer

import (
	"context"
	"encoding/json"
	"os"
	"os/exec"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	tally "github.com/uber-go/tally/v4"
	"go.uber.org/zap"

	"github.com/sourcegraph/typescript-gateway/src/tsgw/internal/executor"
	"github.com/sourcegraph/typescript-gateway/src/tsgw/internal/fs"
	"github.com/sourcegraph/typescript-gateway/src/tsgw/internal/manifests"
)

type fakeMetadata struct {
	typed map[string]bool
	err   error
}

func (f *fakeMetadata) HasTypes(ctx context.Context, name string) (bool, error) {
	if f.err != nil {
		return false, f.err
	}
	return f.typed[name], nil
}

type testEnv struct {
	coordinator Coordinator
	execCount   *atomic.Int32
	workspace   string
	tempDir     string
	restarted   *atomic.Int32
}

func newTestEnv(t *testing.T, metadata MetadataClient, withRestart bool) *testEnv {
	t.Helper()

	execCount := &atomic.Int32{}
	restarted := &atomic.Int32{}

	f := &factory{
		command:  "yarn",
		logger:   zap.NewNop().Sugar(),
		stats:    tally.NewTestScope("testing", nil),
		fs:       fs.New(),
		executor: NewExecCounter(execCount),
		metadata: metadata,
	}

	tempDir := t.TempDir()
	workspace := filepath.Join(tempDir, "repo")
	require.NoError(t, os.MkdirAll(workspace, 0755))

	params := SessionParams{
		TempDir:      tempDir,
		WorkspaceDir: workspace,
	}
	if withRestart {
		params.RequestRestart = func(ctx context.Context) error {
			restarted.Add(1)
			return nil
		}
	}

	return &testEnv{
		coordinator: f.New(params),
		execCount:   execCount,
		workspace:   workspace,
		tempDir:     tempDir,
		restarted:   restarted,
	}
}

// NewExecCounter returns an executor that counts invocations without
// running anything.
func NewExecCounter(count *atomic.Int32) executor.Executor {
	return executor.NewExecutor(executor.WithExecFunc(func(cmd *exec.Cmd) error {
		count.Add(1)
		return nil
	}))
}

func writeManifest(t *testing.T, dir string, manifest map[string]interface{}) {
	t.Helper()
	data, err := json.Marshal(manifest)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(filepath.Join(dir, "package.json"), data, 0644))
}

func rootEntry() manifests.Entry {
	return manifests.Entry{RelDir: ""}
}

func TestEnsureInstalled(t *testing.T) {
	ctx := context.Background()

	t.Run("skips the installer when no dependency carries types", func(t *testing.T) {
		env := newTestEnv(t, &fakeMetadata{}, false)
		writeManifest(t, env.workspace, map[string]interface{}{
			"dependencies": map[string]string{"lodash": "*"},
		})

		fut := env.coordinator.EnsureInstalled(ctx, rootEntry())
		require.NoError(t, fut.Await(ctx))
		assert.NoError(t, fut.Err())
		assert.Equal(t, int32(0), env.execCount.Load())
	})

	t.Run("filters untyped dependencies and writes the manifest back", func(t *testing.T) {
		env := newTestEnv(t, &fakeMetadata{typed: map[string]bool{"typed-lib": true}}, false)
		writeManifest(t, env.workspace, map[string]interface{}{
			"dependencies": map[string]string{
				"lodash":      "*",
				"typed-lib":   "1.0.0",
				"@types/node": "*",
			},
		})

		fut := env.coordinator.EnsureInstalled(ctx, rootEntry())
		require.NoError(t, fut.Await(ctx))
		require.NoError(t, fut.Err())
		assert.Equal(t, int32(1), env.execCount.Load())

		data, err := os.ReadFile(filepath.Join(env.workspace, "package.json"))
		require.NoError(t, err)
		var manifest struct {
			Dependencies map[string]string `json:"dependencies"`
		}
		require.NoError(t, json.Unmarshal(data, &manifest))
		assert.NotContains(t, manifest.Dependencies, "lodash")
		assert.Contains(t, manifest.Dependencies, "typed-lib")
		assert.Contains(t, manifest.Dependencies, "@types/node")
	})

	t.Run("keeps the manifest untouched when nothing is excluded", func(t *testing.T) {
		env := newTestEnv(t, &fakeMetadata{}, false)
		writeManifest(t, env.workspace, map[string]interface{}{
			"dependencies": map[string]string{"@types/node": "*"},
		})
		original, err := os.ReadFile(filepath.Join(env.workspace, "package.json"))
		require.NoError(t, err)

		fut := env.coordinator.EnsureInstalled(ctx, rootEntry())
		require.NoError(t, fut.Await(ctx))

		after, err := os.ReadFile(filepath.Join(env.workspace, "package.json"))
		require.NoError(t, err)
		assert.Equal(t, original, after)
	})

	t.Run("unreachable metadata keeps the dependency", func(t *testing.T) {
		env := newTestEnv(t, &fakeMetadata{err: assert.AnError}, false)
		writeManifest(t, env.workspace, map[string]interface{}{
			"dependencies": map[string]string{"lodash": "*"},
		})

		fut := env.coordinator.EnsureInstalled(ctx, rootEntry())
		require.NoError(t, fut.Await(ctx))
		require.NoError(t, fut.Err())
		assert.Equal(t, int32(1), env.execCount.Load())
	})

	t.Run("allocates disjoint store directories", func(t *testing.T) {
		env := newTestEnv(t, &fakeMetadata{}, false)
		writeManifest(t, env.workspace, map[string]interface{}{
			"dependencies": map[string]string{"@types/node": "*"},
		})

		fut := env.coordinator.EnsureInstalled(ctx, rootEntry())
		require.NoError(t, fut.Await(ctx))
		assert.DirExists(t, filepath.Join(env.tempDir, "global"))
		assert.DirExists(t, filepath.Join(env.tempDir, "cache"))
	})

	t.Run("requests a restart after a successful install", func(t *testing.T) {
		env := newTestEnv(t, &fakeMetadata{}, true)
		writeManifest(t, env.workspace, map[string]interface{}{
			"dependencies": map[string]string{"@types/node": "*"},
		})

		fut := env.coordinator.EnsureInstalled(ctx, rootEntry())
		require.NoError(t, fut.Await(ctx))
		require.NoError(t, fut.Err())
		assert.Equal(t, int32(1), env.restarted.Load())
	})

	t.Run("missing manifest fails the future without propagating", func(t *testing.T) {
		env := newTestEnv(t, &fakeMetadata{}, false)

		fut := env.coordinator.EnsureInstalled(ctx, rootEntry())
		require.NoError(t, fut.Await(ctx))
		assert.Error(t, fut.Err())
	})
}

func TestSingleFlight(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t, &fakeMetadata{}, false)
	writeManifest(t, env.workspace, map[string]interface{}{
		"dependencies": map[string]string{"@types/node": "*"},
	})

	var wg sync.WaitGroup
	futures := make([]*Future, 10)
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			futures[i] = env.coordinator.EnsureInstalled(ctx, rootEntry())
		}()
	}
	wg.Wait()

	for _, fut := range futures {
		require.NoError(t, fut.Await(ctx))
	}
	assert.Equal(t, int32(1), env.execCount.Load(), "installer must run at most once per manifest")

	for _, fut := range futures[1:] {
		assert.Same(t, futures[0], fut, "concurrent callers share one future")
	}
}

func TestEnsureDependenciesForDocument(t *testing.T) {
	// Covered end to end in the gateway controller tests; here just the
	// parent lookup fan-out.
	ctx := context.Background()
	env := newTestEnv(t, &fakeMetadata{}, false)
	writeManifest(t, env.workspace, map[string]interface{}{
		"dependencies": map[string]string{"@types/node": "*"},
	})

	registry := buildRegistry(t, env.workspace)
	futures := env.coordinator.EnsureDependenciesForDocument(ctx, registry, registryHTTPRoot+"src/a.ts")
	require.Len(t, futures, 1)
	require.NoError(t, futures[0].Await(ctx))
}
