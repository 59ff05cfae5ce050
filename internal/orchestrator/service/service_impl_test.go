package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/google/uuid"
	"github.com/hashangit/seo-pro/internal/clock"
	"github.com/hashangit/seo-pro/internal/config"
	dispatchdomain "github.com/hashangit/seo-pro/internal/dispatch/domain"
	dispatchservice "github.com/hashangit/seo-pro/internal/dispatch/service"
	"github.com/hashangit/seo-pro/internal/events"
	jobdomain "github.com/hashangit/seo-pro/internal/job/domain"
	ledgerdomain "github.com/hashangit/seo-pro/internal/ledger/domain"
	ledgerservice "github.com/hashangit/seo-pro/internal/ledger/service"
	orchestratordomain "github.com/hashangit/seo-pro/internal/orchestrator/domain"
	quotedomain "github.com/hashangit/seo-pro/internal/quote/domain"
	quoteservice "github.com/hashangit/seo-pro/internal/quote/service"
	"github.com/hashangit/seo-pro/internal/scanner"
	"go.uber.org/zap"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
)

type stubEstimator struct {
	estimate scanner.Estimate
	err      error
}

func (s *stubEstimator) EstimatePages(ctx context.Context, target string) (scanner.Estimate, error) {
	return s.estimate, s.err
}

type stubQueue struct {
	enqueued int
	payloads [][]byte
	err      error
}

func (q *stubQueue) Enqueue(ctx context.Context, name, endpoint string, payload []byte) error {
	if q.err != nil {
		return q.err
	}
	q.enqueued++
	q.payloads = append(q.payloads, payload)
	return nil
}

type fixture struct {
	db     *gorm.DB
	clock  *clock.Fixed
	queue  *stubQueue
	ledger ledgerdomain.Service
	quotes quotedomain.Service
	svc    *Service
}

func setupOrchestratorDB(t *testing.T) *gorm.DB {
	t.Helper()
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", uuid.NewString())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	statements := []string{
		`CREATE TABLE accounts (
			subject TEXT PRIMARY KEY,
			balance BIGINT NOT NULL DEFAULT 0,
			created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
			updated_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
		)`,
		`CREATE TABLE credit_transactions (
			id BIGINT PRIMARY KEY,
			subject TEXT NOT NULL,
			amount BIGINT NOT NULL,
			reference_type TEXT NOT NULL,
			reference_id TEXT NOT NULL,
			description TEXT NOT NULL,
			created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
		)`,
		`CREATE TABLE quotes (
			id BIGINT PRIMARY KEY,
			subject TEXT NOT NULL,
			target_url TEXT NOT NULL,
			page_count BIGINT NOT NULL,
			credits_required BIGINT NOT NULL,
			status TEXT NOT NULL,
			metadata TEXT NOT NULL DEFAULT '{}',
			created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
			expires_at TIMESTAMP NOT NULL
		)`,
		`CREATE TABLE audit_jobs (
			id BIGINT PRIMARY KEY,
			quote_id BIGINT,
			subject TEXT NOT NULL,
			target_url TEXT NOT NULL,
			page_count BIGINT NOT NULL,
			credits_charged BIGINT NOT NULL DEFAULT 0,
			status TEXT NOT NULL,
			error_message TEXT,
			results TEXT,
			created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
			completed_at TIMESTAMP
		)`,
		`CREATE TABLE audit_tasks (
			id BIGINT PRIMARY KEY,
			job_id BIGINT NOT NULL,
			kind TEXT NOT NULL,
			worker TEXT NOT NULL,
			status TEXT NOT NULL,
			result TEXT,
			error_message TEXT,
			created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
			completed_at TIMESTAMP
		)`,
		`CREATE TABLE job_events (
			id BIGINT PRIMARY KEY,
			job_id BIGINT NOT NULL,
			event_type TEXT NOT NULL,
			payload TEXT NOT NULL DEFAULT '{}',
			dedupe_key TEXT UNIQUE,
			published BOOLEAN NOT NULL DEFAULT false,
			created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
		)`,
	}
	for _, stmt := range statements {
		if err := db.Exec(stmt).Error; err != nil {
			t.Fatalf("create table: %v", err)
		}
	}
	return db
}

func newFixture(t *testing.T, devMode bool) *fixture {
	t.Helper()
	db := setupOrchestratorDB(t)
	node, err := snowflake.NewNode(1)
	if err != nil {
		t.Fatalf("snowflake node: %v", err)
	}
	log := zap.NewNop()
	fixed := &clock.Fixed{Instant: time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)}
	queue := &stubQueue{}

	cfg := config.Config{
		QuoteTTL:         30 * time.Minute,
		HTTPWorkerURL:    "https://http-worker.internal",
		BrowserWorkerURL: "https://browser-worker.internal",
		DevMode:          devMode,
	}

	ledger := ledgerservice.NewService(ledgerservice.Params{DB: db, Log: log, GenID: node})
	quotes := quoteservice.NewService(quoteservice.Params{DB: db, Log: log, GenID: node, Clock: fixed, Cfg: cfg})
	dispatcher := dispatchservice.NewService(dispatchservice.Params{DB: db, Log: log, GenID: node, Queue: queue, Cfg: cfg})

	svc := NewService(Params{
		DB:         db,
		Log:        log,
		GenID:      node,
		Cfg:        cfg,
		Quotes:     quotes,
		Ledger:     ledger,
		Dispatcher: dispatcher,
		Estimator:  &stubEstimator{estimate: scanner.Estimate{PageCount: 1, Confidence: 1.0, Source: scanner.SourceSitemap}},
		Outbox:     events.NewOutbox(db, node),
	}).(*Service)

	return &fixture{db: db, clock: fixed, queue: queue, ledger: ledger, quotes: quotes, svc: svc}
}

func (f *fixture) estimate(t *testing.T, subject string, pages int64) *quotedomain.Quote {
	t.Helper()
	f.svc.estimator = &stubEstimator{estimate: scanner.Estimate{PageCount: pages, Confidence: 1.0, Source: scanner.SourceSitemap}}
	result, err := f.svc.Estimate(context.Background(), orchestratordomain.EstimateInput{
		Subject:   subject,
		TargetURL: "https://example.com",
	})
	if err != nil {
		t.Fatalf("estimate: %v", err)
	}
	return result.Quote
}

func (f *fixture) balance(t *testing.T, subject string) int64 {
	t.Helper()
	balance, err := f.ledger.Balance(context.Background(), subject)
	if err != nil {
		t.Fatalf("balance: %v", err)
	}
	return balance
}

func (f *fixture) transactionCount(t *testing.T, subject string) int64 {
	t.Helper()
	var count int64
	if err := f.db.Raw(`SELECT COUNT(*) FROM credit_transactions WHERE subject = ?`, subject).Scan(&count).Error; err != nil {
		t.Fatalf("count transactions: %v", err)
	}
	return count
}

func (f *fixture) quoteStatus(t *testing.T, id snowflake.ID) quotedomain.QuoteStatus {
	t.Helper()
	quote, err := f.quotes.Get(context.Background(), id)
	if err != nil {
		t.Fatalf("get quote: %v", err)
	}
	return quote.Status
}

func TestEstimatePricesPerPage(t *testing.T) {
	f := newFixture(t, false)
	f.svc.estimator = &stubEstimator{estimate: scanner.Estimate{PageCount: 12, Confidence: 1.0, Source: scanner.SourceSitemap}}

	result, err := f.svc.Estimate(context.Background(), orchestratordomain.EstimateInput{
		Subject:   "user-1",
		TargetURL: "example.com",
	})
	if err != nil {
		t.Fatalf("estimate: %v", err)
	}
	if result.PageCount != 12 {
		t.Fatalf("expected 12 pages, got %d", result.PageCount)
	}
	if result.Credits != 84 {
		t.Fatalf("expected 84 credits, got %d", result.Credits)
	}
	if result.Quote.Status != quotedomain.QuoteStatusPending {
		t.Fatalf("expected pending quote, got %s", result.Quote.Status)
	}
	if result.Quote.TargetURL != "https://example.com" {
		t.Fatalf("expected normalized target, got %s", result.Quote.TargetURL)
	}
}

func TestEstimateSelectedURLsSkipDiscovery(t *testing.T) {
	f := newFixture(t, false)
	f.svc.estimator = &stubEstimator{err: errors.New("estimator must not be called")}

	result, err := f.svc.Estimate(context.Background(), orchestratordomain.EstimateInput{
		Subject:      "user-1",
		TargetURL:    "https://example.com",
		SelectedURLs: []string{"https://example.com/a", "https://example.com/b"},
	})
	if err != nil {
		t.Fatalf("estimate: %v", err)
	}
	if result.PageCount != 2 || result.Credits != 14 {
		t.Fatalf("expected 2 pages / 14 credits, got %d / %d", result.PageCount, result.Credits)
	}
	if got := result.Quote.SelectedURLs(); len(got) != 2 {
		t.Fatalf("expected selected urls in metadata, got %v", got)
	}
}

func TestEstimateCapsPageCount(t *testing.T) {
	f := newFixture(t, false)
	f.svc.estimator = &stubEstimator{estimate: scanner.Estimate{PageCount: 8000, Confidence: 1.0, Source: scanner.SourceSitemap}}

	result, err := f.svc.Estimate(context.Background(), orchestratordomain.EstimateInput{
		Subject:   "user-1",
		TargetURL: "https://example.com",
	})
	if err != nil {
		t.Fatalf("estimate: %v", err)
	}
	if result.PageCount != maxAuditPages {
		t.Fatalf("expected capped page count %d, got %d", maxAuditPages, result.PageCount)
	}
	if result.Quote.Metadata[metadataKeyOriginalPageCount] != int64(8000) {
		t.Fatalf("expected original count in metadata, got %v", result.Quote.Metadata[metadataKeyOriginalPageCount])
	}
}

func TestEstimateRejectsUnsafeTarget(t *testing.T) {
	f := newFixture(t, false)
	_, err := f.svc.Estimate(context.Background(), orchestratordomain.EstimateInput{
		Subject:   "user-1",
		TargetURL: "http://169.254.169.254/latest/meta-data",
	})
	if !errors.Is(err, scanner.ErrUnsafeTarget) {
		t.Fatalf("expected unsafe target error, got %v", err)
	}
}

func TestRunDebitsAndDispatches(t *testing.T) {
	f := newFixture(t, false)
	ctx := context.Background()
	if err := f.ledger.Credit(ctx, "user-1", 10, ledgerdomain.Reference{Type: ledgerdomain.ReferenceTypeSeed, ID: "seed"}, "starter"); err != nil {
		t.Fatalf("seed credit: %v", err)
	}
	quote := f.estimate(t, "user-1", 1) // 7 credits

	result, err := f.svc.Run(ctx, orchestratordomain.RunInput{QuoteID: quote.ID, Subject: "user-1"})
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if result.CreditsCharged != 7 {
		t.Fatalf("expected 7 credits charged, got %d", result.CreditsCharged)
	}
	if result.TasksQueued != 6 {
		t.Fatalf("expected 6 tasks queued, got %d", result.TasksQueued)
	}
	if got := f.balance(t, "user-1"); got != 3 {
		t.Fatalf("expected balance 3, got %d", got)
	}
	if got := f.quoteStatus(t, quote.ID); got != quotedomain.QuoteStatusApproved {
		t.Fatalf("expected approved quote, got %s", got)
	}
	if result.Job.Status != jobdomain.JobStatusProcessing {
		t.Fatalf("expected processing job, got %s", result.Job.Status)
	}
	var stored string
	if err := f.db.Raw(`SELECT status FROM audit_jobs WHERE id = ?`, result.Job.ID).Scan(&stored).Error; err != nil {
		t.Fatalf("read job status: %v", err)
	}
	if stored != string(jobdomain.JobStatusProcessing) {
		t.Fatalf("expected stored processing status, got %s", stored)
	}
}

func TestRunForwardsSelectedPagesToWorkers(t *testing.T) {
	f := newFixture(t, false)
	ctx := context.Background()
	if err := f.ledger.Credit(ctx, "user-1", 30, ledgerdomain.Reference{Type: ledgerdomain.ReferenceTypeSeed, ID: "seed"}, "starter"); err != nil {
		t.Fatalf("seed credit: %v", err)
	}
	selected := []string{"https://example.com/a", "https://example.com/b", "https://example.com/c"}
	estimate, err := f.svc.Estimate(ctx, orchestratordomain.EstimateInput{
		Subject:      "user-1",
		TargetURL:    "https://example.com",
		SelectedURLs: selected,
	})
	if err != nil {
		t.Fatalf("estimate: %v", err)
	}

	if _, err := f.svc.Run(ctx, orchestratordomain.RunInput{QuoteID: estimate.Quote.ID, Subject: "user-1"}); err != nil {
		t.Fatalf("run: %v", err)
	}

	if len(f.queue.payloads) != 6 {
		t.Fatalf("expected 6 payloads, got %d", len(f.queue.payloads))
	}
	for _, raw := range f.queue.payloads {
		var payload struct {
			Pages []string `json:"page_urls"`
		}
		if err := json.Unmarshal(raw, &payload); err != nil {
			t.Fatalf("decode payload: %v", err)
		}
		if len(payload.Pages) != len(selected) || payload.Pages[0] != selected[0] {
			t.Fatalf("expected selected pages %v in payload, got %v", selected, payload.Pages)
		}
	}
}

func TestRunSelectedPagesOverrideQuote(t *testing.T) {
	f := newFixture(t, false)
	ctx := context.Background()
	if err := f.ledger.Credit(ctx, "user-1", 10, ledgerdomain.Reference{Type: ledgerdomain.ReferenceTypeSeed, ID: "seed"}, "starter"); err != nil {
		t.Fatalf("seed credit: %v", err)
	}
	quote := f.estimate(t, "user-1", 1)

	override := []string{"https://example.com/pricing"}
	if _, err := f.svc.Run(ctx, orchestratordomain.RunInput{
		QuoteID:      quote.ID,
		Subject:      "user-1",
		SelectedURLs: override,
	}); err != nil {
		t.Fatalf("run: %v", err)
	}

	for _, raw := range f.queue.payloads {
		var payload struct {
			Pages []string `json:"page_urls"`
		}
		if err := json.Unmarshal(raw, &payload); err != nil {
			t.Fatalf("decode payload: %v", err)
		}
		if len(payload.Pages) != 1 || payload.Pages[0] != override[0] {
			t.Fatalf("expected override page %v, got %v", override, payload.Pages)
		}
	}
}

func TestRunInsufficientFundsReleasesQuote(t *testing.T) {
	f := newFixture(t, false)
	ctx := context.Background()
	if err := f.ledger.Credit(ctx, "user-1", 2, ledgerdomain.Reference{Type: ledgerdomain.ReferenceTypeSeed, ID: "seed"}, "starter"); err != nil {
		t.Fatalf("seed credit: %v", err)
	}
	quote := f.estimate(t, "user-1", 1) // 7 credits, balance only 2

	_, err := f.svc.Run(ctx, orchestratordomain.RunInput{QuoteID: quote.ID, Subject: "user-1"})
	if !errors.Is(err, ledgerdomain.ErrInsufficientFunds) {
		t.Fatalf("expected insufficient funds, got %v", err)
	}
	if got := f.balance(t, "user-1"); got != 2 {
		t.Fatalf("balance must be untouched, got %d", got)
	}
	// Only the seed credit: the failed debit wrote nothing.
	if got := f.transactionCount(t, "user-1"); got != 1 {
		t.Fatalf("expected 1 transaction, got %d", got)
	}
	// Released back to pending so a top-up can retry the same quote.
	if got := f.quoteStatus(t, quote.ID); got != quotedomain.QuoteStatusPending {
		t.Fatalf("expected pending quote after release, got %s", got)
	}
}

func TestRunDispatchTotalFailureRefunds(t *testing.T) {
	f := newFixture(t, false)
	ctx := context.Background()
	if err := f.ledger.Credit(ctx, "user-1", 10, ledgerdomain.Reference{Type: ledgerdomain.ReferenceTypeSeed, ID: "seed"}, "starter"); err != nil {
		t.Fatalf("seed credit: %v", err)
	}
	quote := f.estimate(t, "user-1", 1)
	f.queue.err = fmt.Errorf("%w: broker down", dispatchdomain.ErrInvalidTaskPayload)

	_, err := f.svc.Run(ctx, orchestratordomain.RunInput{QuoteID: quote.ID, Subject: "user-1"})
	if !errors.Is(err, orchestratordomain.ErrDispatchFailed) {
		t.Fatalf("expected dispatch failed, got %v", err)
	}
	if got := f.balance(t, "user-1"); got != 10 {
		t.Fatalf("expected refund to restore balance 10, got %d", got)
	}
	// Seed + debit + refund: the debit and its compensation both stay
	// in the ledger history.
	if got := f.transactionCount(t, "user-1"); got != 3 {
		t.Fatalf("expected 3 transactions, got %d", got)
	}
	if got := f.quoteStatus(t, quote.ID); got != quotedomain.QuoteStatusFailed {
		t.Fatalf("expected failed quote, got %s", got)
	}

	var jobStatus string
	if err := f.db.Raw(`SELECT status FROM audit_jobs LIMIT 1`).Scan(&jobStatus).Error; err != nil {
		t.Fatalf("read job status: %v", err)
	}
	if jobStatus != string(jobdomain.JobStatusFailed) {
		t.Fatalf("expected failed job, got %s", jobStatus)
	}

	// The refund row points at the failed job, not the quote.
	var jobID string
	if err := f.db.Raw(`SELECT id FROM audit_jobs LIMIT 1`).Scan(&jobID).Error; err != nil {
		t.Fatalf("read job id: %v", err)
	}
	var refundRef string
	if err := f.db.Raw(
		`SELECT reference_id FROM credit_transactions WHERE subject = ? AND reference_type = ?`,
		"user-1", ledgerdomain.ReferenceTypeAuditRefund,
	).Scan(&refundRef).Error; err != nil {
		t.Fatalf("read refund reference: %v", err)
	}
	if refundRef != jobID {
		t.Fatalf("refund must reference job %s, got %s", jobID, refundRef)
	}
}

func TestRunWaivedModeSkipsDebit(t *testing.T) {
	f := newFixture(t, true)
	ctx := context.Background()
	quote := f.estimate(t, "user-1", 3)

	result, err := f.svc.Run(ctx, orchestratordomain.RunInput{QuoteID: quote.ID, Subject: "user-1"})
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if result.CreditsCharged != 0 {
		t.Fatalf("expected zero charge in waived mode, got %d", result.CreditsCharged)
	}
	if got := f.transactionCount(t, "user-1"); got != 0 {
		t.Fatalf("expected no transactions, got %d", got)
	}
	if result.Job.CreditsCharged != 0 {
		t.Fatalf("job must record zero charge, got %d", result.Job.CreditsCharged)
	}
}

func TestRunSecondClaimLoses(t *testing.T) {
	f := newFixture(t, false)
	ctx := context.Background()
	if err := f.ledger.Credit(ctx, "user-1", 20, ledgerdomain.Reference{Type: ledgerdomain.ReferenceTypeSeed, ID: "seed"}, "starter"); err != nil {
		t.Fatalf("seed credit: %v", err)
	}
	quote := f.estimate(t, "user-1", 1)

	if _, err := f.svc.Run(ctx, orchestratordomain.RunInput{QuoteID: quote.ID, Subject: "user-1"}); err != nil {
		t.Fatalf("first run: %v", err)
	}
	_, err := f.svc.Run(ctx, orchestratordomain.RunInput{QuoteID: quote.ID, Subject: "user-1"})
	if !errors.Is(err, quotedomain.ErrQuoteAlreadyClaimed) {
		t.Fatalf("expected already claimed, got %v", err)
	}
	// Exactly one debit happened.
	if got := f.balance(t, "user-1"); got != 13 {
		t.Fatalf("expected balance 13, got %d", got)
	}
}

func TestRunExpiredQuote(t *testing.T) {
	f := newFixture(t, false)
	ctx := context.Background()
	if err := f.ledger.Credit(ctx, "user-1", 10, ledgerdomain.Reference{Type: ledgerdomain.ReferenceTypeSeed, ID: "seed"}, "starter"); err != nil {
		t.Fatalf("seed credit: %v", err)
	}
	quote := f.estimate(t, "user-1", 1)
	f.clock.Advance(31 * time.Minute)

	_, err := f.svc.Run(ctx, orchestratordomain.RunInput{QuoteID: quote.ID, Subject: "user-1"})
	if !errors.Is(err, quotedomain.ErrQuoteExpired) {
		t.Fatalf("expected expired quote, got %v", err)
	}
	if got := f.balance(t, "user-1"); got != 10 {
		t.Fatalf("balance must be untouched, got %d", got)
	}
	if got := f.quoteStatus(t, quote.ID); got != quotedomain.QuoteStatusExpired {
		t.Fatalf("expected expired status, got %s", got)
	}
}

func TestRunWrongOwner(t *testing.T) {
	f := newFixture(t, false)
	ctx := context.Background()
	quote := f.estimate(t, "user-1", 1)

	_, err := f.svc.Run(ctx, orchestratordomain.RunInput{QuoteID: quote.ID, Subject: "user-2"})
	if !errors.Is(err, quotedomain.ErrNotQuoteOwner) {
		t.Fatalf("expected ownership error, got %v", err)
	}
}
