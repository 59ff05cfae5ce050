package domain

import (
	"context"
	"errors"

	"github.com/bwmarrin/snowflake"
	dispatchdomain "github.com/hashangit/seo-pro/internal/dispatch/domain"
	jobdomain "github.com/hashangit/seo-pro/internal/job/domain"
	quotedomain "github.com/hashangit/seo-pro/internal/quote/domain"
)

// EstimateInput is a request to price a site audit before any credits
// move.
type EstimateInput struct {
	Subject   string
	TargetURL string

	// SelectedURLs optionally narrows the audit to a caller-chosen set
	// of pages. When set, the estimate prices exactly these pages and
	// skips discovery.
	SelectedURLs []string
}

// EstimateResult is the priced offer handed back to the caller. The
// quote ID is what Run consumes.
type EstimateResult struct {
	Quote      *quotedomain.Quote
	PageCount  int64
	Credits    int64
	CostUSD    float64
	Breakdown  string
	Waived     bool
	Source     string
	Confidence float64
}

// RunInput identifies the claimed quote and its caller. SelectedURLs
// optionally overrides the page subset stored on the quote at
// estimate time; the charge is always the quote's, set when it was
// priced.
type RunInput struct {
	QuoteID      snowflake.ID
	Subject      string
	SelectedURLs []string
}

// RunResult reports a successful dispatch. Failed lists work units
// whose enqueue never succeeded; their task rows exist and are already
// marked failed.
type RunResult struct {
	Job            *jobdomain.AuditJob
	CreditsCharged int64
	TasksQueued    int
	Failed         []dispatchdomain.FailedUnit
}

// Orchestrator composes quoting, charging, and dispatch. Run is the
// single place where credits are debited, so every failure path after
// the debit carries its own compensation.
type Orchestrator interface {
	Estimate(ctx context.Context, in EstimateInput) (*EstimateResult, error)

	// Run claims the quote, debits the charge, creates the job, and
	// fans out the work. A debit failure releases the claim so the
	// quote can be retried; a total dispatch failure refunds the
	// charge and returns ErrDispatchFailed.
	Run(ctx context.Context, in RunInput) (*RunResult, error)
}

// Service is the package alias for Orchestrator.
type Service = Orchestrator

var (
	// ErrDispatchFailed means no task reached the queue. Any charge
	// was refunded; the caller may retry with a fresh quote.
	ErrDispatchFailed = errors.New("dispatch_failed")
)
