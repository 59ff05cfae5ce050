package domain

import (
	"context"
	"errors"
)

// Reference identifies the entity a balance mutation belongs to.
type Reference struct {
	Type string
	ID   string
}

// LedgerService is the only path for credit balance mutation. Debit
// and Credit each append exactly one CreditTransaction. Neither
// retries internally: callers own compensation.
type LedgerService interface {
	// Debit decrements the subject's balance iff it covers amount.
	// The decrement is a single conditional statement at the store,
	// never read-then-write, so concurrent debits cannot overdraw.
	Debit(ctx context.Context, subject string, amount int64, ref Reference, description string) error

	// Credit increments the subject's balance, creating the account
	// row when absent. Used for purchases, grants, and compensating
	// refunds.
	Credit(ctx context.Context, subject string, amount int64, ref Reference, description string) error

	// Balance reads the subject's current balance. A missing account
	// reads as zero.
	Balance(ctx context.Context, subject string) (int64, error)

	// Transactions lists the subject's ledger history, newest first.
	Transactions(ctx context.Context, subject string, limit, offset int) ([]CreditTransaction, error)
}

// Service is the package alias for LedgerService.
type Service = LedgerService

var (
	ErrInsufficientFunds = errors.New("insufficient_funds")
	ErrInvalidAmount     = errors.New("invalid_amount")
	ErrInvalidSubject    = errors.New("invalid_subject")
	ErrInvalidReference  = errors.New("invalid_reference")
)
