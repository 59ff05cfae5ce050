package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/hashangit/seo-pro/internal/config"
	creditrequestdomain "github.com/hashangit/seo-pro/internal/creditrequest/domain"
	ledgerdomain "github.com/hashangit/seo-pro/internal/ledger/domain"
	"github.com/hashangit/seo-pro/internal/notify"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const maxRequestAmount = 100000

type Params struct {
	fx.In

	DB        *gorm.DB
	Log       *zap.Logger
	GenID     *snowflake.Node
	LedgerSvc ledgerdomain.Service
	Notifier  notify.Notifier
	Cfg       config.Config
}

type Service struct {
	db          *gorm.DB
	log         *zap.Logger
	genID       *snowflake.Node
	ledgerSvc   ledgerdomain.Service
	notifier    notify.Notifier
	adminEmails []string
}

func NewService(p Params) creditrequestdomain.Service {
	return &Service{
		db:          p.DB,
		log:         p.Log.Named("creditrequest.service"),
		genID:       p.GenID,
		ledgerSvc:   p.LedgerSvc,
		notifier:    p.Notifier,
		adminEmails: p.Cfg.AdminEmailList(),
	}
}

func (s *Service) Create(ctx context.Context, subject string, amount int64, note string) (*creditrequestdomain.CreditRequest, error) {
	if strings.TrimSpace(subject) == "" || amount <= 0 || amount > maxRequestAmount {
		return nil, creditrequestdomain.ErrInvalidRequestInput
	}

	request := &creditrequestdomain.CreditRequest{
		ID:        s.genID.Generate(),
		Subject:   subject,
		Amount:    amount,
		Note:      strings.TrimSpace(note),
		Status:    creditrequestdomain.RequestStatusPending,
		CreatedAt: time.Now().UTC(),
	}
	if err := s.db.WithContext(ctx).Create(request).Error; err != nil {
		return nil, err
	}

	if len(s.adminEmails) > 0 {
		if err := s.notifier.Send(ctx, notify.Message{
			To:      s.adminEmails,
			Subject: "New credit request",
			Body:    fmt.Sprintf("Subject %s requested %d credits.\nNote: %s", subject, amount, request.Note),
		}); err != nil {
			s.log.Warn("admin notification failed", zap.String("request_id", request.ID.String()), zap.Error(err))
		}
	}

	s.log.Info("credit request created",
		zap.String("request_id", request.ID.String()),
		zap.String("subject", subject),
		zap.Int64("amount", amount),
	)
	return request, nil
}

func (s *Service) Get(ctx context.Context, id snowflake.ID) (*creditrequestdomain.CreditRequest, error) {
	var request creditrequestdomain.CreditRequest
	err := s.db.WithContext(ctx).Where("id = ?", id).First(&request).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, creditrequestdomain.ErrRequestNotFound
	}
	if err != nil {
		return nil, err
	}
	return &request, nil
}

func (s *Service) List(ctx context.Context, subject string, limit, offset int) ([]creditrequestdomain.CreditRequest, error) {
	return s.list(ctx, s.db.WithContext(ctx).Where("subject = ?", subject), limit, offset)
}

func (s *Service) ListPending(ctx context.Context, limit, offset int) ([]creditrequestdomain.CreditRequest, error) {
	return s.list(ctx, s.db.WithContext(ctx).Where("status = ?", creditrequestdomain.RequestStatusPending), limit, offset)
}

func (s *Service) list(ctx context.Context, query *gorm.DB, limit, offset int) ([]creditrequestdomain.CreditRequest, error) {
	if limit <= 0 || limit > 200 {
		limit = 100
	}
	if offset < 0 {
		offset = 0
	}
	var requests []creditrequestdomain.CreditRequest
	err := query.Order("created_at DESC, id DESC").Limit(limit).Offset(offset).Find(&requests).Error
	if err != nil {
		return nil, err
	}
	return requests, nil
}

// Approve decides the request and credits the ledger. The grant runs
// only after this caller wins the pending->approved swap, so a racing
// double-approval credits once.
func (s *Service) Approve(ctx context.Context, id snowflake.ID, decidedBy string) (*creditrequestdomain.CreditRequest, error) {
	request, err := s.decide(ctx, id, decidedBy, creditrequestdomain.RequestStatusApproved)
	if err != nil {
		return nil, err
	}

	ref := ledgerdomain.Reference{Type: ledgerdomain.ReferenceTypeCreditRequest, ID: request.ID.String()}
	description := fmt.Sprintf("Credit request approved by %s", decidedBy)
	if err := s.ledgerSvc.Credit(ctx, request.Subject, request.Amount, ref, description); err != nil {
		// The decision is recorded but the grant did not land:
		// reconciliation picks this up from the approved request with
		// no matching transaction.
		s.log.Error("grant after approval failed",
			zap.String("severity", "critical"),
			zap.String("request_id", request.ID.String()),
			zap.String("subject", request.Subject),
			zap.Int64("amount", request.Amount),
			zap.Error(err),
		)
		return nil, err
	}

	s.log.Info("credit request approved",
		zap.String("request_id", request.ID.String()),
		zap.String("subject", request.Subject),
		zap.Int64("amount", request.Amount),
		zap.String("decided_by", decidedBy),
	)
	return request, nil
}

func (s *Service) Reject(ctx context.Context, id snowflake.ID, decidedBy string) (*creditrequestdomain.CreditRequest, error) {
	request, err := s.decide(ctx, id, decidedBy, creditrequestdomain.RequestStatusRejected)
	if err != nil {
		return nil, err
	}
	s.log.Info("credit request rejected",
		zap.String("request_id", request.ID.String()),
		zap.String("decided_by", decidedBy),
	)
	return request, nil
}

func (s *Service) decide(ctx context.Context, id snowflake.ID, decidedBy string, status creditrequestdomain.RequestStatus) (*creditrequestdomain.CreditRequest, error) {
	if strings.TrimSpace(decidedBy) == "" {
		return nil, creditrequestdomain.ErrInvalidRequestInput
	}
	request, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	res := s.db.WithContext(ctx).Exec(
		`UPDATE credit_requests SET status = ?, decided_by = ?, decided_at = ? WHERE id = ? AND status = ?`,
		status, decidedBy, now, id, creditrequestdomain.RequestStatusPending,
	)
	if res.Error != nil {
		return nil, res.Error
	}
	if res.RowsAffected == 0 {
		return nil, creditrequestdomain.ErrRequestAlreadyDecided
	}

	request.Status = status
	request.DecidedBy = &decidedBy
	request.DecidedAt = &now
	return request, nil
}
