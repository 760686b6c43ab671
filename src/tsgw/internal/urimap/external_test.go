package urimap

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseExternalURL(t *testing.T) {
	t.Run("with commit", func(t *testing.T) {
		ref, err := ParseExternalURL("https://sourcegraph.example.com/github.com/other/repo@def/-/raw/src/x.ts")
		require.NoError(t, err)
		assert.Equal(t, "https://sourcegraph.example.com", ref.InstanceURL)
		assert.Equal(t, "github.com/other/repo", ref.RepoName)
		assert.Equal(t, "def", ref.Commit)
		assert.Equal(t, "src/x.ts", ref.Path)
	})

	t.Run("without commit", func(t *testing.T) {
		ref, err := ParseExternalURL("https://h/github.com/other/repo/-/raw/src/x.ts")
		require.NoError(t, err)
		assert.Equal(t, "github.com/other/repo", ref.RepoName)
		assert.Empty(t, ref.Commit)
	})

	t.Run("missing separator", func(t *testing.T) {
		_, err := ParseExternalURL("https://h/github.com/other/repo/src/x.ts")
		require.Error(t, err)
	})
}

func TestExternalRefPackageName(t *testing.T) {
	t.Run("plain repository", func(t *testing.T) {
		ref := &ExternalRef{RepoName: "github.com/lodash/lodash", Path: "src/index.ts"}
		assert.Equal(t, "lodash", ref.PackageName())
		assert.Equal(t, "src/index.ts", ref.PackageRelPath())
	})

	t.Run("DefinitelyTyped layout", func(t *testing.T) {
		ref := &ExternalRef{RepoName: "github.com/DefinitelyTyped/DefinitelyTyped", Path: "types/node/index.d.ts"}
		assert.Equal(t, "@types/node", ref.PackageName())
		assert.Equal(t, "index.d.ts", ref.PackageRelPath())
	})

	t.Run("DefinitelyTyped versioned subdirectory", func(t *testing.T) {
		ref := &ExternalRef{RepoName: "github.com/DefinitelyTyped/DefinitelyTyped", Path: "types/ts-mockito/v2/index.d.ts"}
		assert.Equal(t, "@types/ts-mockito", ref.PackageName())
		assert.Equal(t, "index.d.ts", ref.PackageRelPath())
	})
}

func TestPackageMeta(t *testing.T) {
	t.Run("repository as string", func(t *testing.T) {
		meta, err := ParsePackageMeta([]byte(`{"name":"lodash","gitHead":"abc123","repository":"git+https://github.com/lodash/lodash.git"}`))
		require.NoError(t, err)
		name, err := meta.RepoName()
		require.NoError(t, err)
		assert.Equal(t, "github.com/lodash/lodash", name)
		assert.Equal(t, "abc123", meta.GitHead)
		assert.Empty(t, meta.Subdir())
	})

	t.Run("repository as object with directory", func(t *testing.T) {
		meta, err := ParsePackageMeta([]byte(`{"name":"@babel/core","repository":{"url":"https://github.com/babel/babel.git","directory":"packages/babel-core"}}`))
		require.NoError(t, err)
		name, err := meta.RepoName()
		require.NoError(t, err)
		assert.Equal(t, "github.com/babel/babel", name)
		assert.Equal(t, "packages/babel-core", meta.Subdir())
	})

	t.Run("types package follows DefinitelyTyped convention", func(t *testing.T) {
		meta := &PackageMeta{Name: "@types/node", RepositoryURL: "https://github.com/DefinitelyTyped/DefinitelyTyped.git"}
		assert.Equal(t, "types/node", meta.Subdir())
	})

	t.Run("github tree url contributes repo and subdir", func(t *testing.T) {
		meta := &PackageMeta{Name: "sub", RepositoryURL: "https://github.com/foo/monorepo/tree/main/packages/sub"}
		name, err := meta.RepoName()
		require.NoError(t, err)
		assert.Equal(t, "github.com/foo/monorepo", name)
		assert.Equal(t, "packages/sub", meta.Subdir())
	})

	t.Run("scp style remote", func(t *testing.T) {
		meta := &PackageMeta{Name: "x", RepositoryURL: "git@github.com:foo/x.git"}
		name, err := meta.RepoName()
		require.NoError(t, err)
		assert.Equal(t, "github.com/foo/x", name)
	})

	t.Run("no repository declared", func(t *testing.T) {
		meta := &PackageMeta{Name: "x"}
		_, err := meta.RepoName()
		require.Error(t, err)
	})
}

func TestBuildExternalURL(t *testing.T) {
	t.Run("full shape", func(t *testing.T) {
		out, err := BuildExternalURL(
			InstanceConfig{URL: "https://sourcegraph.example.com", AccessToken: "tok"},
			"github.com/lodash/lodash", "abc123", "", "src/index.ts",
		)
		require.NoError(t, err)
		assert.Equal(t, "https://tok@sourcegraph.example.com/github.com/lodash/lodash@abc123/-/raw/src/index.ts", out)
	})

	t.Run("no commit tracks the moving head", func(t *testing.T) {
		out, err := BuildExternalURL(InstanceConfig{URL: "https://h"}, "github.com/a/b", "", "types/node", "index.d.ts")
		require.NoError(t, err)
		assert.Equal(t, "https://h/github.com/a/b/-/raw/types/node/index.d.ts", out)
	})
}

func TestResolveExternal(t *testing.T) {
	meta := &PackageMeta{
		Name:          "lodash",
		RepositoryURL: "git+https://github.com/lodash/lodash.git",
		GitHead:       "abc123",
	}
	out, err := ResolveExternal(
		"file:///tmp/ws/repo/node_modules/lodash/index.d.ts",
		meta,
		InstanceConfig{URL: "https://h"},
	)
	require.NoError(t, err)
	assert.Equal(t, "https://h/github.com/lodash/lodash@abc123/-/raw/index.d.ts", out)
}

func TestFindPackageRootAndName(t *testing.T) {
	t.Run("plain package", func(t *testing.T) {
		root, name, err := FindPackageRootAndName("/ws/repo/node_modules/lodash/fp/map.d.ts")
		require.NoError(t, err)
		assert.Equal(t, "/ws/repo/node_modules/lodash", root)
		assert.Equal(t, "lodash", name)
	})

	t.Run("scoped package", func(t *testing.T) {
		root, name, err := FindPackageRootAndName("/ws/repo/node_modules/@babel/core/lib/index.d.ts")
		require.NoError(t, err)
		assert.Equal(t, "/ws/repo/node_modules/@babel/core", root)
		assert.Equal(t, "@babel/core", name)
	})

	t.Run("nested node_modules picks the innermost", func(t *testing.T) {
		root, name, err := FindPackageRootAndName("/ws/node_modules/a/node_modules/b/index.d.ts")
		require.NoError(t, err)
		assert.Equal(t, "/ws/node_modules/a/node_modules/b", root)
		assert.Equal(t, "b", name)
	})

	t.Run("DefinitelyTyped checkout", func(t *testing.T) {
		root, name, err := FindPackageRootAndName("/dt/types/node/index.d.ts")
		require.NoError(t, err)
		assert.Equal(t, "/dt/types/node", root)
		assert.Equal(t, "@types/node", name)
	})

	t.Run("no package root", func(t *testing.T) {
		_, _, err := FindPackageRootAndName("/ws/src/a.ts")
		require.Error(t, err)
	})
}

func TestSplitNodeModulesPath(t *testing.T) {
	dir, pkg, rel, err := SplitNodeModulesPath("/ws/repo/node_modules/@types/node/fs.d.ts")
	require.NoError(t, err)
	assert.Equal(t, "/ws/repo", dir)
	assert.Equal(t, "@types/node", pkg)
	assert.Equal(t, "fs.d.ts", rel)

	_, _, _, err = SplitNodeModulesPath("/ws/repo/src/a.ts")
	require.Error(t, err)
}
