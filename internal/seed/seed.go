package seed

import (
	"context"

	"github.com/hashangit/seo-pro/internal/config"
	ledgerdomain "github.com/hashangit/seo-pro/internal/ledger/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// Params collects the dependencies for the development seed grant.
type Params struct {
	fx.In

	DB     *gorm.DB
	Log    *zap.Logger
	Cfg    config.Config
	Ledger ledgerdomain.Service
}

// GrantDevBalance credits the configured development subject with a
// starter balance so a fresh environment can run audits immediately.
// The grant is recorded once: a subject that already carries a seed
// transaction is left alone, so restarts never inflate the balance.
func GrantDevBalance(ctx context.Context, p Params) error {
	if !p.Cfg.SeedDevAccount {
		return nil
	}
	log := p.Log.Named("seed")
	if p.Cfg.Environment != config.EnvDevelopment {
		log.Warn("seed account requested outside development, skipping",
			zap.String("environment", p.Cfg.Environment),
		)
		return nil
	}
	if p.Cfg.SeedDevSubject == "" || p.Cfg.SeedDevBalance <= 0 {
		return nil
	}

	var count int64
	if err := p.DB.WithContext(ctx).Raw(
		`SELECT COUNT(1) FROM credit_transactions WHERE subject = ? AND reference_type = ?`,
		p.Cfg.SeedDevSubject, ledgerdomain.ReferenceTypeSeed,
	).Scan(&count).Error; err != nil {
		return err
	}
	if count > 0 {
		return nil
	}

	if err := p.Ledger.Credit(ctx, p.Cfg.SeedDevSubject, p.Cfg.SeedDevBalance,
		ledgerdomain.Reference{Type: ledgerdomain.ReferenceTypeSeed, ID: p.Cfg.SeedDevSubject},
		"Development starter balance",
	); err != nil {
		return err
	}
	log.Info("seeded development balance",
		zap.String("subject", p.Cfg.SeedDevSubject),
		zap.Int64("amount", p.Cfg.SeedDevBalance),
	)
	return nil
}

var Module = fx.Module("seed",
	fx.Invoke(func(lc fx.Lifecycle, p Params) {
		lc.Append(fx.Hook{
			OnStart: func(ctx context.Context) error {
				return GrantDevBalance(ctx, p)
			},
		})
	}),
)
