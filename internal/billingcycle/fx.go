package billingcycle

import (
	"context"

	"github.com/robfig/cron/v3"
	"go.uber.org/fx"
	"go.uber.org/zap"

	appconfig "github.com/veracify/veracify/internal/config"
)

var Module = fx.Module("billingcycle",
	fx.Provide(NewRollover),
	fx.Invoke(schedule),
)

// schedule runs the rollover on the configured cron spec for the lifetime
// of the application.
func schedule(lc fx.Lifecycle, cfg appconfig.Config, log *zap.Logger, rollover *Rollover) error {
	runner := cron.New()
	_, err := runner.AddFunc(cfg.CycleRolloverSpec, func() {
		if _, err := rollover.RunOnce(context.Background()); err != nil {
			log.Named("billingcycle.rollover").Error("scheduled rollover failed", zap.Error(err))
		}
	})
	if err != nil {
		return err
	}

	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			runner.Start()
			return nil
		},
		OnStop: func(ctx context.Context) error {
			<-runner.Stop().Done()
			return nil
		},
	})
	return nil
}
