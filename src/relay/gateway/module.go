package gateway

import (
	notifier "github.com/jesse-ai/lsp-relay/src/relay/gateway/ide-client"
	"go.uber.org/fx"
)

// Module provides all outbound gateways into an Fx application.
var Module = fx.Options(
	fx.Provide(notifier.New),
)
