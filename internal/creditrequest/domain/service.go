package domain

import (
	"context"
	"errors"

	"github.com/bwmarrin/snowflake"
)

// CreditRequestService manages the manual top-up flow. Decisions are
// compare-and-swap on the pending status: a request is decided at most
// once, and only a winning approval credits the ledger.
type CreditRequestService interface {
	Create(ctx context.Context, subject string, amount int64, note string) (*CreditRequest, error)
	Get(ctx context.Context, id snowflake.ID) (*CreditRequest, error)
	List(ctx context.Context, subject string, limit, offset int) ([]CreditRequest, error)
	ListPending(ctx context.Context, limit, offset int) ([]CreditRequest, error)

	Approve(ctx context.Context, id snowflake.ID, decidedBy string) (*CreditRequest, error)
	Reject(ctx context.Context, id snowflake.ID, decidedBy string) (*CreditRequest, error)
}

// Service is the package alias for CreditRequestService.
type Service = CreditRequestService

var (
	ErrRequestNotFound       = errors.New("credit_request_not_found")
	ErrRequestAlreadyDecided = errors.New("credit_request_already_decided")
	ErrInvalidRequestInput   = errors.New("invalid_credit_request_input")
)
