package app

import (
	"context"
	"time"

	"github.com/jesse-ai/lsp-relay/src/relay/gateway"
	"github.com/jesse-ai/lsp-relay/src/relay/handler"
	"github.com/jesse-ai/lsp-relay/src/relay/internal/backend"
	"github.com/jesse-ai/lsp-relay/src/relay/internal/core"
	"github.com/jesse-ai/lsp-relay/src/relay/internal/executor"
	"github.com/jesse-ai/lsp-relay/src/relay/internal/fs"
	"github.com/jesse-ai/lsp-relay/src/relay/internal/serverinfofile"
	"github.com/jesse-ai/lsp-relay/src/relay/internal/wsfx"
	tally "github.com/uber-go/tally"
	"go.uber.org/fx"
)

// Module defines the jesse-lsp-relay application module.
var Module = fx.Options(
	gateway.Module, // outbounds
	handler.Module, // inbounds
	wsfx.Module,
	backend.Module,
	fs.Module,
	executor.Module,
	serverinfofile.Module,
	core.ConfigModule,
	core.LoggerModule,
	fx.Provide(func(lc fx.Lifecycle) tally.Scope {
		rs, closer := tally.NewRootScope(tally.ScopeOptions{
			Tags: map[string]string{
				"service": "jesse-lsp-relay",
			},
		}, 1*time.Second)

		lc.Append(fx.Hook{
			OnStop: func(ctx context.Context) error {
				return closer.Close()
			},
		})

		return rs
	}),
	fx.Decorate(decorateEnvContext),
	fx.Decorate(decorateConfigProvider),
	fx.Provide(func() Context {
		return Context{
			Environment:        "local",
			RuntimeEnvironment: "local",
		}
	}),
)
