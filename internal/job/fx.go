package job

import (
	"github.com/bwmarrin/snowflake"
	"github.com/hashangit/seo-pro/internal/events"
	"github.com/hashangit/seo-pro/internal/job/service"
	"go.uber.org/fx"
	"gorm.io/gorm"
)

var Module = fx.Module("job.service",
	fx.Provide(func(db *gorm.DB, genID *snowflake.Node) *events.Outbox {
		return events.NewOutbox(db, genID)
	}),
	fx.Provide(service.NewService),
)
