package gateway

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.lsp.dev/protocol"
)

// Definition into an installed package: the declaration map points the
// result back at the package's original source, and the location is
// rewritten to the external repository URL pinned at the published gitHead.
func TestGotoDefinitionIntoNodeModules(t *testing.T) {
	archive := buildArchive(t, map[string]string{
		"a.ts":         "import _ from 'lodash'",
		"src/index.ts": "export default function lodash() {}",
		"node_modules/lodash/package.json": `{
			"name": "lodash",
			"gitHead": "abc123",
			"repository": "git+https://github.com/lodash/lodash.git"
		}`,
		"node_modules/lodash/index.d.ts":     "declare const _: unknown; export default _;",
		"node_modules/lodash/index.d.ts.map": `{"version":3,"sources":["../../src/index.ts"],"names":[],"mappings":"AAIU"}`,
	})
	h := newTestHarness(t, archive)
	ctx, s := h.initialize(t, map[string]interface{}{
		"typescript.sourcegraphUrl": "https://sourcegraph.example.com",
	})
	h.downstream.server(0).setDefinitions([]protocol.Location{
		{URI: protocol.DocumentURI(s.FileRoot + "node_modules/lodash/index.d.ts")},
	})

	locs, err := h.ctrl.GotoDefinition(ctx, &protocol.DefinitionParams{
		TextDocumentPositionParams: protocol.TextDocumentPositionParams{
			TextDocument: protocol.TextDocumentIdentifier{URI: protocol.DocumentURI(s.HTTPRoot + "a.ts")},
		},
	})
	require.NoError(t, err)
	require.Len(t, locs, 1)

	assert.Equal(t,
		"https://sourcegraph.example.com/github.com/lodash/lodash@abc123/-/raw/src/index.ts",
		string(locs[0].URI))
	assert.Equal(t, uint32(4), locs[0].Range.Start.Line)
	assert.Equal(t, uint32(10), locs[0].Range.Start.Character)
}

// Without a usable declaration map the declaration location itself is
// rewritten, keeping its path within the package.
func TestGotoDefinitionIntoNodeModulesWithoutMap(t *testing.T) {
	archive := buildArchive(t, map[string]string{
		"a.ts": "import _ from 'lodash'",
		"node_modules/lodash/package.json": `{
			"name": "lodash",
			"gitHead": "abc123",
			"repository": "git+https://github.com/lodash/lodash.git"
		}`,
		"node_modules/lodash/index.d.ts": "declare const _: unknown; export default _;",
	})
	h := newTestHarness(t, archive)
	ctx, s := h.initialize(t, map[string]interface{}{
		"typescript.sourcegraphUrl": "https://sourcegraph.example.com",
	})
	h.downstream.server(0).setDefinitions([]protocol.Location{
		{URI: protocol.DocumentURI(s.FileRoot + "node_modules/lodash/index.d.ts")},
	})

	locs, err := h.ctrl.GotoDefinition(ctx, &protocol.DefinitionParams{
		TextDocumentPositionParams: protocol.TextDocumentPositionParams{
			TextDocument: protocol.TextDocumentIdentifier{URI: protocol.DocumentURI(s.HTTPRoot + "a.ts")},
		},
	})
	require.NoError(t, err)
	require.Len(t, locs, 1)
	assert.Equal(t,
		"https://sourcegraph.example.com/github.com/lodash/lodash@abc123/-/raw/index.d.ts",
		string(locs[0].URI))
}
