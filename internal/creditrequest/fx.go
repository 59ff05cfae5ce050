package creditrequest

import (
	"github.com/hashangit/seo-pro/internal/creditrequest/service"
	"go.uber.org/fx"
)

var Module = fx.Module("creditrequest.service",
	fx.Provide(service.NewService),
)
