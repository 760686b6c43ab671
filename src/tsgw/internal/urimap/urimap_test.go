package urimap

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sourcegraph/typescript-gateway/src/tsgw/internal/errors"
)

const (
	_httpRoot = "https://sourcegraph.example.com/github.com/foo/bar@abc/-/raw/"
	_fileRoot = "file:///tmp/tsgw-session-1/repo/"
)

func TestHTTPToFile(t *testing.T) {
	m, err := New(_httpRoot, _fileRoot)
	require.NoError(t, err)

	t.Run("rewrites workspace uris", func(t *testing.T) {
		out, err := m.HTTPToFile(_httpRoot + "src/a.ts")
		require.NoError(t, err)
		assert.Equal(t, _fileRoot+"src/a.ts", string(out))
	})

	t.Run("rejects uris outside the http root", func(t *testing.T) {
		_, err := m.HTTPToFile("https://other.example.com/x.ts")
		var me *errors.MappingError
		require.ErrorAs(t, err, &me)
	})

	t.Run("rejects path traversal", func(t *testing.T) {
		_, err := m.HTTPToFile(_httpRoot + "../etc/passwd")
		var me *errors.MappingError
		require.ErrorAs(t, err, &me)
	})
}

func TestFileToHTTP(t *testing.T) {
	m, err := New(_httpRoot, _fileRoot)
	require.NoError(t, err)

	t.Run("rewrites workspace files", func(t *testing.T) {
		out, err := m.FileToHTTP(_fileRoot + "src/z.ts")
		require.NoError(t, err)
		assert.Equal(t, _httpRoot+"src/z.ts", out)
	})

	t.Run("never exposes node_modules", func(t *testing.T) {
		_, err := m.FileToHTTP(_fileRoot + "node_modules/lodash/index.d.ts")
		var me *errors.MappingError
		require.ErrorAs(t, err, &me)
	})

	t.Run("rejects files outside the workspace", func(t *testing.T) {
		_, err := m.FileToHTTP("file:///etc/passwd")
		var me *errors.MappingError
		require.ErrorAs(t, err, &me)
	})
}

func TestRoundTrip(t *testing.T) {
	m, err := New(_httpRoot, _fileRoot)
	require.NoError(t, err)

	for _, rel := range []string{"a.ts", "src/deep/nested/b.tsx", "package.json"} {
		httpURI, err := m.FileToHTTP(_fileRoot + rel)
		require.NoError(t, err)
		fileURI, err := m.HTTPToFile(httpURI)
		require.NoError(t, err)
		assert.Equal(t, _fileRoot+rel, string(fileURI))
	}
}

func TestRootNormalization(t *testing.T) {
	m, err := New("https://h/repo@abc/-/raw", "file:///tmp/ws/repo")
	require.NoError(t, err)
	assert.Equal(t, "https://h/repo@abc/-/raw/", m.HTTPRoot())
	assert.Equal(t, "file:///tmp/ws/repo/", m.FileRoot())
}

func TestHasNodeModulesSegment(t *testing.T) {
	assert.True(t, HasNodeModulesSegment("a/node_modules/b"))
	assert.True(t, HasNodeModulesSegment("node_modules/b"))
	assert.False(t, HasNodeModulesSegment("a/node_modules_fake/b"))
	assert.False(t, HasNodeModulesSegment("src/a.ts"))
}
