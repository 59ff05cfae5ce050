package taskqueue

import (
	"context"

	"github.com/hashangit/seo-pro/internal/config"
	dispatchdomain "github.com/hashangit/seo-pro/internal/dispatch/domain"
	r "github.com/redis/go-redis/v9"
	"go.uber.org/fx"
)

var Module = fx.Module("taskqueue",
	fx.Provide(NewClient),
	fx.Provide(func(rdb *r.Client, cfg config.Config) dispatchdomain.TaskQueue {
		return New(rdb, cfg.TaskQueueName)
	}),
)

func NewClient(lc fx.Lifecycle, cfg config.Config) *r.Client {
	rdb := r.NewClient(&r.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
	})
	lc.Append(fx.Hook{
		OnStop: func(ctx context.Context) error {
			return rdb.Close()
		},
	})
	return rdb
}
