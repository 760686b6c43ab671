package handler

import (
	"go.uber.org/fx"

	controller "github.com/sourcegraph/typescript-gateway/src/tsgw/controller"
	gatewayctrl "github.com/sourcegraph/typescript-gateway/src/tsgw/controller/gateway"
	handler "github.com/sourcegraph/typescript-gateway/src/tsgw/handler/gateway"
	"github.com/sourcegraph/typescript-gateway/src/tsgw/repository/session"
)

// Module provides the gateway server into an Fx application.
var Module = fx.Options(
	controller.Module,
	fx.Provide(session.New),
	fx.Provide(handler.New),
	fx.Invoke(func(m handler.Handler) {}),
	fx.Invoke(func(m gatewayctrl.Controller) {}),
)
