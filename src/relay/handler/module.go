package handler

import (
	controller "github.com/jesse-ai/lsp-relay/src/relay/controller"
	configdeploy "github.com/jesse-ai/lsp-relay/src/relay/controller/configdeploy"
	handler "github.com/jesse-ai/lsp-relay/src/relay/handler/relay"
	"github.com/jesse-ai/lsp-relay/src/relay/repository/session"
	"go.uber.org/fx"
)

// Module provides the relay server into an Fx application.
var Module = fx.Options(
	controller.Module,
	fx.Provide(session.New),
	fx.Provide(handler.New),
	fx.Invoke(func(h handler.Handler) {}),
	fx.Invoke(func(c configdeploy.Controller) {}),
)
