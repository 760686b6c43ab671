package gateway

import (
	"context"
	"strings"

	"go.lsp.dev/protocol"
	"go.lsp.dev/uri"
)

// DidOpen forwards the client's didOpen to the downstream with the URI
// rebased into the file namespace and records it for replay after a
// restart.
func (c *controller) DidOpen(ctx context.Context, params *protocol.DidOpenTextDocumentParams) error {
	ws, err := c.workspaceFor(ctx)
	if err != nil {
		return err
	}
	rctx, cancel := ws.requestContext(ctx)
	defer cancel()

	fileURI, err := ws.mapper.HTTPToFile(string(params.TextDocument.URI))
	if err != nil {
		return err
	}
	down := *params
	down.TextDocument.URI = protocol.DocumentURI(fileURI)
	return ws.downstream.DidOpenOnce(rctx, &down)
}

// ensureOpen sends a didOpen for the file unless one was already sent,
// reading the content from the workspace.
func (c *controller) ensureOpen(ctx context.Context, ws *workspace, fileURI uri.URI) error {
	data, err := ws.files.Fetch(ctx, string(fileURI))
	if err != nil {
		return err
	}
	return ws.downstream.DidOpenOnce(ctx, &protocol.DidOpenTextDocumentParams{
		TextDocument: protocol.TextDocumentItem{
			URI:        protocol.DocumentURI(fileURI),
			LanguageID: languageID(string(fileURI)),
			Version:    0,
			Text:       string(data),
		},
	})
}

func languageID(path string) protocol.LanguageIdentifier {
	switch {
	case strings.HasSuffix(path, ".tsx"):
		return protocol.TypeScriptReactLanguage
	case strings.HasSuffix(path, ".jsx"):
		return protocol.JavaScriptReactLanguage
	case strings.HasSuffix(path, ".js"):
		return protocol.JavaScriptLanguage
	case strings.HasSuffix(path, ".json"):
		return protocol.JSONLanguage
	default:
		return protocol.TypeScriptLanguage
	}
}
