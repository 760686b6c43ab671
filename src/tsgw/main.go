package main

import (
	"github.com/sourcegraph/typescript-gateway/src/tsgw/app"
	"go.uber.org/fx"
)

func opts() fx.Option {
	return fx.Options(
		app.Module,
	)
}

func main() {
	fx.New(opts()).Run()
}
