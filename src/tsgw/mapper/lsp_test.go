package mapper

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.lsp.dev/jsonrpc2"
	"go.lsp.dev/protocol"
)

func newRequest(t *testing.T, method string, params interface{}) jsonrpc2.Request {
	t.Helper()
	req, err := jsonrpc2.NewCall(jsonrpc2.NewNumberID(1), method, params)
	require.NoError(t, err)
	return req
}

func TestRequestToInitializeParams(t *testing.T) {
	req := newRequest(t, protocol.MethodInitialize, &protocol.InitializeParams{
		RootURI: "https://h/repo@abc/-/raw",
	})

	params, err := RequestToInitializeParams(req)
	require.NoError(t, err)
	assert.Equal(t, protocol.DocumentURI("https://h/repo@abc/-/raw"), params.RootURI)
}

func TestRequestToHoverParams(t *testing.T) {
	req := newRequest(t, protocol.MethodTextDocumentHover, &protocol.HoverParams{
		TextDocumentPositionParams: protocol.TextDocumentPositionParams{
			TextDocument: protocol.TextDocumentIdentifier{URI: "https://h/repo@abc/-/raw/a.ts"},
			Position:     protocol.Position{Line: 3, Character: 9},
		},
	})

	params, err := RequestToHoverParams(req)
	require.NoError(t, err)
	assert.Equal(t, uint32(3), params.Position.Line)
	assert.Equal(t, uint32(9), params.Position.Character)
}

func TestInitializationConfiguration(t *testing.T) {
	t.Run("extracts the configuration map", func(t *testing.T) {
		cfg := InitializationConfiguration(map[string]interface{}{
			"configuration": map[string]interface{}{"typescript.progress": true},
		})
		require.NotNil(t, cfg)
		assert.Equal(t, true, cfg["typescript.progress"])
	})

	t.Run("tolerates absent options", func(t *testing.T) {
		assert.Nil(t, InitializationConfiguration(nil))
		assert.Nil(t, InitializationConfiguration("bogus"))
		assert.Nil(t, InitializationConfiguration(map[string]interface{}{}))
	})
}
