package domain

import (
	"context"
	"errors"

	"github.com/bwmarrin/snowflake"
)

// CreateQuoteInput carries everything needed to price and store a
// quote.
type CreateQuoteInput struct {
	Subject         string
	TargetURL       string
	PageCount       int64
	CreditsRequired int64
	Metadata        map[string]any
}

// QuoteService owns all Quote mutation. Claim is the concurrency
// gate: the pending->processing transition is a compare-and-swap on
// the stored status, so exactly one of any number of concurrent
// claims succeeds.
type QuoteService interface {
	Create(ctx context.Context, in CreateQuoteInput) (*Quote, error)
	Get(ctx context.Context, id snowflake.ID) (*Quote, error)

	// Claim validates ownership and expiry, then performs the
	// conditional pending->processing update. Zero rows affected
	// means the quote was already claimed, used, or expired by
	// another actor.
	Claim(ctx context.Context, id snowflake.ID, subject string) (*Quote, error)

	// Release rolls a claimed quote back to pending. Legal only
	// immediately after a failed debit, before any task exists; the
	// orchestrator is the sole caller.
	Release(ctx context.Context, id snowflake.ID) error

	MarkApproved(ctx context.Context, id snowflake.ID) error
	MarkFailed(ctx context.Context, id snowflake.ID) error
	MarkCompleted(ctx context.Context, id snowflake.ID) error
}

// Service is the package alias for QuoteService.
type Service = QuoteService

var (
	ErrQuoteNotFound      = errors.New("quote_not_found")
	ErrNotQuoteOwner      = errors.New("not_quote_owner")
	ErrQuoteExpired       = errors.New("quote_expired")
	ErrQuoteAlreadyClaimed = errors.New("quote_already_claimed")
	ErrInvalidQuoteState  = errors.New("invalid_quote_state")
	ErrInvalidQuoteInput  = errors.New("invalid_quote_input")
)
