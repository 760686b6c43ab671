package installer

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
	"go.lsp.dev/uri"
	"go.uber.org/zap"

	"github.com/sourcegraph/typescript-gateway/src/tsgw/internal/fs"
	"github.com/sourcegraph/typescript-gateway/src/tsgw/internal/manifests"
	"github.com/sourcegraph/typescript-gateway/src/tsgw/internal/resource"
	"github.com/sourcegraph/typescript-gateway/src/tsgw/internal/urimap"
)

const registryHTTPRoot = "https://h/repo@abc/-/raw/"

func buildRegistry(t *testing.T, workspaceDir string) *manifests.Registry {
	t.Helper()
	m, err := urimap.New(registryHTTPRoot, string(uri.File(workspaceDir))+"/")
	require.NoError(t, err)
	registry, err := manifests.Build(context.Background(), resource.NewFileRetriever(fs.New()), m, []string{""}, zap.NewNop().Sugar())
	require.NoError(t, err)
	return registry
}
