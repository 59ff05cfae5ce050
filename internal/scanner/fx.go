package scanner

import (
	"github.com/hashangit/seo-pro/internal/config"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

var Module = fx.Module("scanner",
	fx.Provide(func(log *zap.Logger, cfg config.Config) Estimator {
		return New(log, cfg.ScannerUserAgent)
	}),
)
