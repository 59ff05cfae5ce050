package sweeper

import (
	"context"
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/hashangit/seo-pro/internal/clock"
	"github.com/hashangit/seo-pro/internal/observability/metrics"
	quotedomain "github.com/hashangit/seo-pro/internal/quote/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// The sweeper is a safety net behind lazy expiry: a quote that nobody
// ever tries to claim again would otherwise sit pending forever.

type Params struct {
	fx.In

	DB      *gorm.DB
	Log     *zap.Logger
	Clock   clock.Clock
	Config  Config                `optional:"true"`
	Metrics *metrics.AuditMetrics `optional:"true"`
}

type Worker struct {
	db      *gorm.DB
	log     *zap.Logger
	clock   clock.Clock
	cfg     Config
	metrics *metrics.AuditMetrics
}

func NewWorker(p Params) *Worker {
	return &Worker{
		db:      p.DB,
		log:     p.Log.Named("quote.sweeper"),
		clock:   p.Clock,
		cfg:     p.Config.withDefaults(),
		metrics: p.Metrics,
	}
}

func (w *Worker) RunForever(ctx context.Context) {
	ticker := time.NewTicker(w.cfg.PollInterval)
	defer ticker.Stop()

	for {
		if _, err := w.RunOnce(ctx); err != nil {
			w.log.Warn("quote expiry sweep failed", zap.Error(err))
		}

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// RunOnce expires one batch of lapsed pending quotes and reports how
// many rows changed. Only pending quotes lapse; every other status is
// owned by a run in flight or already terminal.
func (w *Worker) RunOnce(ctx context.Context) (int64, error) {
	if w.db == nil {
		return 0, errors.New("sweeper_unavailable")
	}

	now := w.clock.Now()
	expired := int64(0)
	err := w.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var ids []snowflake.ID
		if err := tx.Raw(
			`SELECT id FROM quotes WHERE status = ? AND expires_at < ? ORDER BY expires_at ASC LIMIT ?`,
			quotedomain.QuoteStatusPending, now, w.cfg.BatchSize,
		).Scan(&ids).Error; err != nil {
			return err
		}
		if len(ids) == 0 {
			return nil
		}

		res := tx.Exec(
			`UPDATE quotes SET status = ? WHERE id IN ? AND status = ?`,
			quotedomain.QuoteStatusExpired, ids, quotedomain.QuoteStatusPending,
		)
		if res.Error != nil {
			return res.Error
		}
		expired = res.RowsAffected
		return nil
	})
	if err != nil {
		return 0, err
	}

	if expired > 0 {
		w.metrics.QuotesExpired(expired)
		w.log.Info("expired lapsed quotes", zap.Int64("count", expired))
	}
	return expired, nil
}
