package autorefill

import (
	"context"

	"go.uber.org/fx"

	"github.com/veracify/veracify/internal/autorefill/engine"
	"github.com/veracify/veracify/internal/autorefill/service"
	ledgerdomain "github.com/veracify/veracify/internal/ledger/domain"
)

var Module = fx.Module("autorefill",
	fx.Provide(
		service.NewService,
		engine.NewEngine,
	),
	fx.Invoke(registerEngine),
)

// registerEngine hooks the engine into the ledger's debit path and starts
// the signal consumer with the application lifecycle.
func registerEngine(lc fx.Lifecycle, ledger ledgerdomain.Service, eng *engine.Engine) {
	if registry, ok := ledger.(ledgerdomain.NotifierRegistry); ok {
		registry.SetNotifier(eng)
	}

	runCtx, cancel := context.WithCancel(context.Background())
	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			go eng.Run(runCtx)
			return nil
		},
		OnStop: func(ctx context.Context) error {
			cancel()
			return nil
		},
	})
}
