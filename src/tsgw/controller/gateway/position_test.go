package gateway

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.lsp.dev/protocol"
)

// Cross-repository navigation: the incoming URI points at another repo's
// source file; the workspace declares the package, so the position is
// resolved into the installed copy through its declaration map.
func TestCrossRepositoryPosition(t *testing.T) {
	archive := buildArchive(t, map[string]string{
		"a.ts":                                  "import {x} from 'other-pkg'",
		"tsconfig.json":                         `{"compilerOptions":{}}`,
		"package.json":                          `{"name":"root","dependencies":{"other-pkg":"1.0.0"}}`,
		"node_modules/other-pkg/index.d.ts":     "export declare const x: number;",
		"node_modules/other-pkg/index.d.ts.map": `{"version":3,"sources":["../../src/x.ts"],"mappings":"AAIU"}`,
	})
	h := newTestHarness(t, archive)
	ctx, _ := h.initialize(t, nil)

	result, err := h.ctrl.Hover(ctx, &protocol.HoverParams{
		TextDocumentPositionParams: protocol.TextDocumentPositionParams{
			TextDocument: protocol.TextDocumentIdentifier{
				URI: "https://h/github.com/other/other-pkg@def/-/raw/src/x.ts",
			},
			// Zero-based position of source line 5 col 10.
			Position: protocol.Position{Line: 4, Character: 10},
		},
	})
	require.NoError(t, err)
	require.NotNil(t, result)

	srv := h.downstream.server(0)
	srv.mu.Lock()
	defer srv.mu.Unlock()
	require.NotEmpty(t, srv.hovers)
	forwarded := srv.hovers[len(srv.hovers)-1]
	assert.True(t, strings.HasSuffix(string(forwarded.TextDocument.URI), "node_modules/other-pkg/index.d.ts"),
		"request must be forwarded with the installed declaration file, got %s", forwarded.TextDocument.URI)
	assert.Equal(t, uint32(0), forwarded.Position.Line)
	assert.Equal(t, uint32(0), forwarded.Position.Character)

	// Project warmup opened a source file for the discovered tsconfig.
	assert.NotEmpty(t, srv.didOpens, "warmup should open one file per project")
}

func TestCrossRepositoryPositionNoMatch(t *testing.T) {
	archive := buildArchive(t, map[string]string{
		"a.ts":         "const a = 1",
		"package.json": `{"name":"root"}`,
	})
	h := newTestHarness(t, archive)
	ctx, _ := h.initialize(t, nil)

	_, err := h.ctrl.Hover(ctx, &protocol.HoverParams{
		TextDocumentPositionParams: protocol.TextDocumentPositionParams{
			TextDocument: protocol.TextDocumentIdentifier{
				URI: "https://h/github.com/other/unknown-pkg@def/-/raw/src/x.ts",
			},
		},
	})
	require.Error(t, err, "unresolvable cross-repo positions fail with a descriptive error")
	assert.Contains(t, err.Error(), "unknown-pkg")
}
