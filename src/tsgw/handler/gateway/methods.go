package gateway

import (
	"context"

	"go.lsp.dev/jsonrpc2"

	"github.com/sourcegraph/typescript-gateway/src/tsgw/mapper"
)

func (r *jsonRPCRouter) Initialize(ctx context.Context, reply jsonrpc2.Replier, req jsonrpc2.Request) error {
	params, err := mapper.RequestToInitializeParams(req)
	if err != nil {
		return reply(ctx, nil, err)
	}

	result, err := r.gateway.Initialize(ctx, params)
	return reply(ctx, result, err)
}

func (r *jsonRPCRouter) Initialized(ctx context.Context, reply jsonrpc2.Replier, req jsonrpc2.Request) error {
	params, err := mapper.RequestToInitializedParams(req)
	if err != nil {
		return reply(ctx, nil, err)
	}

	err = r.gateway.Initialized(ctx, params)
	return reply(ctx, nil, err)
}

func (r *jsonRPCRouter) Shutdown(ctx context.Context, reply jsonrpc2.Replier, req jsonrpc2.Request) error {
	err := r.gateway.Shutdown(ctx)
	return reply(ctx, nil, err)
}

func (r *jsonRPCRouter) Exit(ctx context.Context, reply jsonrpc2.Replier, req jsonrpc2.Request) error {
	err := r.gateway.Exit(ctx)
	return reply(ctx, nil, err)
}

func (r *jsonRPCRouter) DidOpen(ctx context.Context, reply jsonrpc2.Replier, req jsonrpc2.Request) error {
	params, err := mapper.RequestToDidOpenTextDocumentParams(req)
	if err != nil {
		return reply(ctx, nil, err)
	}

	err = r.gateway.DidOpen(ctx, params)
	return reply(ctx, nil, err)
}

func (r *jsonRPCRouter) Hover(ctx context.Context, reply jsonrpc2.Replier, req jsonrpc2.Request) error {
	params, err := mapper.RequestToHoverParams(req)
	if err != nil {
		return reply(ctx, nil, err)
	}

	result, err := r.gateway.Hover(ctx, params)
	return reply(ctx, result, err)
}

func (r *jsonRPCRouter) GotoDefinition(ctx context.Context, reply jsonrpc2.Replier, req jsonrpc2.Request) error {
	params, err := mapper.RequestToDefinitionParams(req)
	if err != nil {
		return reply(ctx, nil, err)
	}

	result, err := r.gateway.GotoDefinition(ctx, params)
	return reply(ctx, result, err)
}

func (r *jsonRPCRouter) GotoTypeDefinition(ctx context.Context, reply jsonrpc2.Replier, req jsonrpc2.Request) error {
	params, err := mapper.RequestToTypeDefinitionParams(req)
	if err != nil {
		return reply(ctx, nil, err)
	}

	result, err := r.gateway.GotoTypeDefinition(ctx, params)
	return reply(ctx, result, err)
}

func (r *jsonRPCRouter) GotoImplementation(ctx context.Context, reply jsonrpc2.Replier, req jsonrpc2.Request) error {
	params, err := mapper.RequestToImplementationParams(req)
	if err != nil {
		return reply(ctx, nil, err)
	}

	result, err := r.gateway.GotoImplementation(ctx, params)
	return reply(ctx, result, err)
}

func (r *jsonRPCRouter) References(ctx context.Context, reply jsonrpc2.Replier, req jsonrpc2.Request) error {
	params, err := mapper.RequestToReferenceParams(req)
	if err != nil {
		return reply(ctx, nil, err)
	}

	result, err := r.gateway.References(ctx, params)
	return reply(ctx, result, err)
}

func (r *jsonRPCRouter) CodeAction(ctx context.Context, reply jsonrpc2.Replier, req jsonrpc2.Request) error {
	params, err := mapper.RequestToCodeActionParams(req)
	if err != nil {
		return reply(ctx, nil, err)
	}

	result, err := r.gateway.CodeAction(ctx, params)
	return reply(ctx, result, err)
}
