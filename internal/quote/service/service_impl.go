package service

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/hashangit/seo-pro/internal/clock"
	"github.com/hashangit/seo-pro/internal/config"
	quotedomain "github.com/hashangit/seo-pro/internal/quote/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

type Params struct {
	fx.In

	DB    *gorm.DB
	Log   *zap.Logger
	GenID *snowflake.Node
	Clock clock.Clock
	Cfg   config.Config
}

type Service struct {
	db       *gorm.DB
	log      *zap.Logger
	genID    *snowflake.Node
	clock    clock.Clock
	quoteTTL time.Duration
}

func NewService(p Params) quotedomain.Service {
	ttl := p.Cfg.QuoteTTL
	if ttl <= 0 {
		ttl = 30 * time.Minute
	}
	return &Service{
		db:       p.DB,
		log:      p.Log.Named("quote.service"),
		genID:    p.GenID,
		clock:    p.Clock,
		quoteTTL: ttl,
	}
}

func (s *Service) Create(ctx context.Context, in quotedomain.CreateQuoteInput) (*quotedomain.Quote, error) {
	if strings.TrimSpace(in.Subject) == "" || strings.TrimSpace(in.TargetURL) == "" || in.CreditsRequired <= 0 {
		return nil, quotedomain.ErrInvalidQuoteInput
	}

	metadata := datatypes.JSONMap{}
	for key, value := range in.Metadata {
		if strings.TrimSpace(key) != "" {
			metadata[key] = value
		}
	}

	now := s.clock.Now()
	quote := &quotedomain.Quote{
		ID:              s.genID.Generate(),
		Subject:         in.Subject,
		TargetURL:       in.TargetURL,
		PageCount:       in.PageCount,
		CreditsRequired: in.CreditsRequired,
		Status:          quotedomain.QuoteStatusPending,
		Metadata:        metadata,
		CreatedAt:       now,
		ExpiresAt:       now.Add(s.quoteTTL),
	}
	if err := s.db.WithContext(ctx).Create(quote).Error; err != nil {
		return nil, err
	}
	return quote, nil
}

func (s *Service) Get(ctx context.Context, id snowflake.ID) (*quotedomain.Quote, error) {
	var quote quotedomain.Quote
	err := s.db.WithContext(ctx).Where("id = ?", id).First(&quote).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, quotedomain.ErrQuoteNotFound
	}
	if err != nil {
		return nil, err
	}
	return &quote, nil
}

func (s *Service) Claim(ctx context.Context, id snowflake.ID, subject string) (*quotedomain.Quote, error) {
	quote, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if quote.Subject != subject {
		return nil, quotedomain.ErrNotQuoteOwner
	}

	if s.clock.Now().After(quote.ExpiresAt) {
		// Lazy expiry: only a still-pending quote lapses; terminal
		// statuses are never clobbered.
		if _, err := s.updateStatusIf(ctx, id, quotedomain.QuoteStatusPending, quotedomain.QuoteStatusExpired); err != nil {
			return nil, err
		}
		return nil, quotedomain.ErrQuoteExpired
	}

	swapped, err := s.updateStatusIf(ctx, id, quotedomain.QuoteStatusPending, quotedomain.QuoteStatusProcessing)
	if err != nil {
		return nil, err
	}
	if !swapped {
		return nil, quotedomain.ErrQuoteAlreadyClaimed
	}

	quote.Status = quotedomain.QuoteStatusProcessing
	return quote, nil
}

func (s *Service) Release(ctx context.Context, id snowflake.ID) error {
	return s.transition(ctx, id, quotedomain.QuoteStatusProcessing, quotedomain.QuoteStatusPending)
}

func (s *Service) MarkApproved(ctx context.Context, id snowflake.ID) error {
	return s.transition(ctx, id, quotedomain.QuoteStatusProcessing, quotedomain.QuoteStatusApproved)
}

func (s *Service) MarkFailed(ctx context.Context, id snowflake.ID) error {
	for _, from := range []quotedomain.QuoteStatus{quotedomain.QuoteStatusApproved, quotedomain.QuoteStatusProcessing, quotedomain.QuoteStatusPending} {
		swapped, err := s.updateStatusIf(ctx, id, from, quotedomain.QuoteStatusFailed)
		if err != nil {
			return err
		}
		if swapped {
			return nil
		}
	}
	return quotedomain.ErrInvalidQuoteState
}

func (s *Service) MarkCompleted(ctx context.Context, id snowflake.ID) error {
	return s.transition(ctx, id, quotedomain.QuoteStatusApproved, quotedomain.QuoteStatusCompleted)
}

func (s *Service) transition(ctx context.Context, id snowflake.ID, from, to quotedomain.QuoteStatus) error {
	swapped, err := s.updateStatusIf(ctx, id, from, to)
	if err != nil {
		return err
	}
	if !swapped {
		return quotedomain.ErrInvalidQuoteState
	}
	return nil
}

// updateStatusIf is the compare-and-swap primitive behind every quote
// transition. It reports whether the stored status matched expected
// and was replaced.
func (s *Service) updateStatusIf(ctx context.Context, id snowflake.ID, expected, next quotedomain.QuoteStatus) (bool, error) {
	res := s.db.WithContext(ctx).Exec(
		`UPDATE quotes SET status = ? WHERE id = ? AND status = ?`,
		next,
		id,
		expected,
	)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}
