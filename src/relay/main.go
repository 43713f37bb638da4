package main

import (
	"github.com/jesse-ai/lsp-relay/src/relay/app"
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
