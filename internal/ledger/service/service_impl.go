package service

import (
	"context"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	ledgerdomain "github.com/hashangit/seo-pro/internal/ledger/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type Params struct {
	fx.In

	DB    *gorm.DB
	Log   *zap.Logger
	GenID *snowflake.Node
}

type Service struct {
	db    *gorm.DB
	log   *zap.Logger
	genID *snowflake.Node
}

func NewService(p Params) ledgerdomain.Service {
	return &Service{
		db:    p.DB,
		log:   p.Log.Named("ledger.service"),
		genID: p.GenID,
	}
}

func (s *Service) Debit(ctx context.Context, subject string, amount int64, ref ledgerdomain.Reference, description string) error {
	if err := validateMutation(subject, amount, ref); err != nil {
		return err
	}

	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		// The WHERE clause is the overdraft guard: zero rows affected
		// means the balance did not cover the amount.
		res := tx.Exec(
			`UPDATE accounts
			 SET balance = balance - ?, updated_at = ?
			 WHERE subject = ? AND balance >= ?`,
			amount,
			time.Now().UTC(),
			subject,
			amount,
		)
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return ledgerdomain.ErrInsufficientFunds
		}

		return tx.Create(&ledgerdomain.CreditTransaction{
			ID:            s.genID.Generate(),
			Subject:       subject,
			Amount:        -amount,
			ReferenceType: ref.Type,
			ReferenceID:   ref.ID,
			Description:   description,
			CreatedAt:     time.Now().UTC(),
		}).Error
	})
}

func (s *Service) Credit(ctx context.Context, subject string, amount int64, ref ledgerdomain.Reference, description string) error {
	if err := validateMutation(subject, amount, ref); err != nil {
		return err
	}

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		now := time.Now().UTC()
		res := tx.Exec(
			`UPDATE accounts
			 SET balance = balance + ?, updated_at = ?
			 WHERE subject = ?`,
			amount,
			now,
			subject,
		)
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			if err := tx.Create(&ledgerdomain.Account{
				Subject:   subject,
				Balance:   amount,
				CreatedAt: now,
				UpdatedAt: now,
			}).Error; err != nil {
				return err
			}
		}

		return tx.Create(&ledgerdomain.CreditTransaction{
			ID:            s.genID.Generate(),
			Subject:       subject,
			Amount:        amount,
			ReferenceType: ref.Type,
			ReferenceID:   ref.ID,
			Description:   description,
			CreatedAt:     now,
		}).Error
	})
	if err != nil {
		// A failed credit can mean a charged user with nothing
		// delivered. Reconciliation works from the transaction log.
		s.log.Error("credit failed",
			zap.String("severity", "critical"),
			zap.String("subject", subject),
			zap.Int64("amount", amount),
			zap.String("reference_type", ref.Type),
			zap.String("reference_id", ref.ID),
			zap.Error(err),
		)
	}
	return err
}

func (s *Service) Balance(ctx context.Context, subject string) (int64, error) {
	if strings.TrimSpace(subject) == "" {
		return 0, ledgerdomain.ErrInvalidSubject
	}
	var balance int64
	err := s.db.WithContext(ctx).Raw(
		`SELECT COALESCE(
			(SELECT balance FROM accounts WHERE subject = ?), 0)`,
		subject,
	).Scan(&balance).Error
	if err != nil {
		return 0, err
	}
	return balance, nil
}

func (s *Service) Transactions(ctx context.Context, subject string, limit, offset int) ([]ledgerdomain.CreditTransaction, error) {
	if strings.TrimSpace(subject) == "" {
		return nil, ledgerdomain.ErrInvalidSubject
	}
	if limit <= 0 || limit > 200 {
		limit = 100
	}
	if offset < 0 {
		offset = 0
	}
	var txns []ledgerdomain.CreditTransaction
	err := s.db.WithContext(ctx).
		Where("subject = ?", subject).
		Order("created_at DESC, id DESC").
		Limit(limit).
		Offset(offset).
		Find(&txns).Error
	if err != nil {
		return nil, err
	}
	return txns, nil
}

func validateMutation(subject string, amount int64, ref ledgerdomain.Reference) error {
	if strings.TrimSpace(subject) == "" {
		return ledgerdomain.ErrInvalidSubject
	}
	if amount <= 0 {
		return ledgerdomain.ErrInvalidAmount
	}
	if strings.TrimSpace(ref.Type) == "" || strings.TrimSpace(ref.ID) == "" {
		return ledgerdomain.ErrInvalidReference
	}
	return nil
}
