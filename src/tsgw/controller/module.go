package controller

import (
	"go.uber.org/fx"

	gateway "github.com/sourcegraph/typescript-gateway/src/tsgw/controller/gateway"
	"github.com/sourcegraph/typescript-gateway/src/tsgw/controller/installer"
)

// Module provides the service controllers into an Fx application.
var Module = fx.Options(
	fx.Provide(gateway.New),
	installer.Module,
	installer.MetadataModule,
)
