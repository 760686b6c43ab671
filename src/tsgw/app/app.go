package app

import (
	"context"
	"net/http"
	"time"

	tally "github.com/uber-go/tally/v4"
	"go.uber.org/fx"

	clientgw "github.com/sourcegraph/typescript-gateway/src/tsgw/gateway/client"
	"github.com/sourcegraph/typescript-gateway/src/tsgw/gateway/langserver"
	"github.com/sourcegraph/typescript-gateway/src/tsgw/handler"
	"github.com/sourcegraph/typescript-gateway/src/tsgw/internal/core"
	"github.com/sourcegraph/typescript-gateway/src/tsgw/internal/executor"
	"github.com/sourcegraph/typescript-gateway/src/tsgw/internal/fs"
	"github.com/sourcegraph/typescript-gateway/src/tsgw/internal/jsonrpcfx"
	"github.com/sourcegraph/typescript-gateway/src/tsgw/internal/resource"
	"github.com/sourcegraph/typescript-gateway/src/tsgw/internal/tarball"
)

// Module defines the typescript-gateway application module.
var Module = fx.Options(
	handler.Module, // inbounds
	clientgw.Module,
	langserver.Module,
	jsonrpcfx.Module,
	fs.Module,
	executor.Module,
	resource.Module,
	core.ConfigModule,
	core.LoggerModule,
	fx.Provide(func(gwfs fs.GatewayFS) *tarball.Extractor {
		return tarball.New(http.DefaultClient, gwfs)
	}),
	fx.Provide(func(lc fx.Lifecycle) tally.Scope {
		rs, closer := tally.NewRootScope(tally.ScopeOptions{
			Tags: map[string]string{
				"service": "typescript-gateway",
			},
		}, 1*time.Second)

		lc.Append(fx.Hook{
			OnStop: func(ctx context.Context) error {
				return closer.Close()
			},
		})

		return rs
	}),
)
