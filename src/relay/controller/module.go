package controller

import (
	"github.com/jesse-ai/lsp-relay/src/relay/controller/configdeploy"
	"github.com/jesse-ai/lsp-relay/src/relay/controller/format"
	"github.com/jesse-ai/lsp-relay/src/relay/controller/intercept"
	"github.com/jesse-ai/lsp-relay/src/relay/controller/relay"
	"go.uber.org/fx"
)

var Module = fx.Options(
	fx.Provide(relay.New),
	fx.Provide(intercept.New),
	fx.Provide(format.New),
	fx.Provide(configdeploy.New),
)
