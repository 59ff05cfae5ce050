package dispatch

import (
	"github.com/hashangit/seo-pro/internal/dispatch/service"
	"go.uber.org/fx"
)

var Module = fx.Module("dispatch.service",
	fx.Provide(service.NewService),
)
