package main

import (
	"github.com/bwmarrin/snowflake"
	"github.com/hashangit/seo-pro/internal/auditlog"
	"github.com/hashangit/seo-pro/internal/auth"
	"github.com/hashangit/seo-pro/internal/clock"
	"github.com/hashangit/seo-pro/internal/config"
	"github.com/hashangit/seo-pro/internal/creditrequest"
	"github.com/hashangit/seo-pro/internal/dispatch"
	"github.com/hashangit/seo-pro/internal/events"
	"github.com/hashangit/seo-pro/internal/job"
	"github.com/hashangit/seo-pro/internal/ledger"
	"github.com/hashangit/seo-pro/internal/migration"
	"github.com/hashangit/seo-pro/internal/notify"
	"github.com/hashangit/seo-pro/internal/observability"
	"github.com/hashangit/seo-pro/internal/orchestrator"
	"github.com/hashangit/seo-pro/internal/quote"
	"github.com/hashangit/seo-pro/internal/quote/sweeper"
	"github.com/hashangit/seo-pro/internal/scanner"
	"github.com/hashangit/seo-pro/internal/seed"
	"github.com/hashangit/seo-pro/internal/server"
	"github.com/hashangit/seo-pro/internal/taskqueue"
	"github.com/hashangit/seo-pro/pkg/db"
	"go.uber.org/fx"
	"gorm.io/gorm"
)

func main() {
	app := fx.New(
		config.Module,
		observability.Module,
		fx.Provide(RegisterSnowflake),
		db.Module,
		fx.Invoke(runMigrations),
		clock.Module,

		// Domain services
		events.Module,
		ledger.Module,
		quote.Module,
		scanner.Module,
		taskqueue.Module,
		dispatch.Module,
		job.Module,
		orchestrator.Module,
		creditrequest.Module,
		notify.Module,
		auditlog.Module,
		auth.Module,

		// Background workers and one-time setup
		sweeper.Module,
		seed.Module,

		fx.Provide(server.NewEngine),
		fx.Provide(server.NewServer),
		fx.Invoke(func(s *server.Server) {
			s.RegisterRoutes()
		}),
		fx.Invoke(server.RunHTTP),
	)
	app.Run()
}

func RegisterSnowflake() *snowflake.Node {
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
