package main

import (
	"github.com/bwmarrin/snowflake"
	"go.uber.org/fx"
	"gorm.io/gorm"

	"github.com/veracify/veracify/internal/audit"
	"github.com/veracify/veracify/internal/autorefill"
	"github.com/veracify/veracify/internal/billingcycle"
	"github.com/veracify/veracify/internal/checkout"
	"github.com/veracify/veracify/internal/clock"
	"github.com/veracify/veracify/internal/config"
	"github.com/veracify/veracify/internal/events"
	"github.com/veracify/veracify/internal/ledger"
	"github.com/veracify/veracify/internal/metering"
	"github.com/veracify/veracify/internal/migration"
	"github.com/veracify/veracify/internal/observability"
	"github.com/veracify/veracify/internal/plan"
	"github.com/veracify/veracify/internal/seed"
	"github.com/veracify/veracify/internal/server"
	"github.com/veracify/veracify/internal/tenant"
	"github.com/veracify/veracify/pkg/db"
)

func main() {
	app := fx.New(
		config.Module,
		observability.Module,
		fx.Provide(newSnowflakeNode),
		db.Module,
		clock.Module,
		events.Module,
		audit.Module,

		fx.Invoke(runMigrations),

		plan.Module,
		ledger.Module,
		metering.Module,
		tenant.Module,
		checkout.Module,
		autorefill.Module,
		billingcycle.Module,
		seed.Module,

		server.Module,
	)
	app.Run()
}

func newSnowflakeNode() *snowflake.Node {
	node, err := snowflake.NewNode(1)
	if err != nil {
		panic(err)
	}
	return node
}

func runMigrations(conn *gorm.DB) error {
	sqlDB, err := conn.DB()
	if err != nil {
		return err
	}
	return migration.RunMigrations(sqlDB)
}
