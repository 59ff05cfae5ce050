package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/google/uuid"
	"github.com/hashangit/seo-pro/internal/clock"
	quotedomain "github.com/hashangit/seo-pro/internal/quote/domain"
	"go.uber.org/zap"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
)

func setupQuoteTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", uuid.NewString())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	if err := db.Exec(
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
	).Error; err != nil {
		t.Fatalf("create quotes: %v", err)
	}
	return db
}

func newQuoteService(t *testing.T, db *gorm.DB, clk clock.Clock) *Service {
	t.Helper()
	node, err := snowflake.NewNode(1)
	if err != nil {
		t.Fatalf("snowflake node: %v", err)
	}
	return &Service{
		db:       db,
		log:      zap.NewNop(),
		genID:    node,
		clock:    clk,
		quoteTTL: 30 * time.Minute,
	}
}

func createTestQuote(t *testing.T, svc *Service, subject string) *quotedomain.Quote {
	t.Helper()
	quote, err := svc.Create(context.Background(), quotedomain.CreateQuoteInput{
		Subject:         subject,
		TargetURL:       "https://example.com",
		PageCount:       3,
		CreditsRequired: 21,
	})
	if err != nil {
		t.Fatalf("create quote: %v", err)
	}
	return quote
}

func TestCreateSetsPendingAndExpiry(t *testing.T) {
	db := setupQuoteTestDB(t)
	clk := &clock.Fixed{Instant: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
	svc := newQuoteService(t, db, clk)

	quote := createTestQuote(t, svc, "user-1")
	if quote.Status != quotedomain.QuoteStatusPending {
		t.Fatalf("expected pending, got %s", quote.Status)
	}
	want := clk.Instant.Add(30 * time.Minute)
	if !quote.ExpiresAt.Equal(want) {
		t.Fatalf("expected expiry %v, got %v", want, quote.ExpiresAt)
	}
}

func TestClaimHappyPath(t *testing.T) {
	db := setupQuoteTestDB(t)
	clk := &clock.Fixed{Instant: time.Now().UTC()}
	svc := newQuoteService(t, db, clk)
	quote := createTestQuote(t, svc, "user-1")

	claimed, err := svc.Claim(context.Background(), quote.ID, "user-1")
	if err != nil {
		t.Fatalf("claim: %v", err)
	}
	if claimed.Status != quotedomain.QuoteStatusProcessing {
		t.Fatalf("expected processing, got %s", claimed.Status)
	}
}

func TestClaimRejectsWrongOwner(t *testing.T) {
	db := setupQuoteTestDB(t)
	clk := &clock.Fixed{Instant: time.Now().UTC()}
	svc := newQuoteService(t, db, clk)
	quote := createTestQuote(t, svc, "user-1")

	_, err := svc.Claim(context.Background(), quote.ID, "user-2")
	if !errors.Is(err, quotedomain.ErrNotQuoteOwner) {
		t.Fatalf("expected owner error, got %v", err)
	}
}

func TestClaimUnknownQuote(t *testing.T) {
	db := setupQuoteTestDB(t)
	svc := newQuoteService(t, db, &clock.Fixed{Instant: time.Now().UTC()})

	_, err := svc.Claim(context.Background(), snowflake.ID(12345), "user-1")
	if !errors.Is(err, quotedomain.ErrQuoteNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestClaimExpiredQuote(t *testing.T) {
	db := setupQuoteTestDB(t)
	clk := &clock.Fixed{Instant: time.Now().UTC()}
	svc := newQuoteService(t, db, clk)
	quote := createTestQuote(t, svc, "user-1")

	clk.Advance(31 * time.Minute)
	_, err := svc.Claim(context.Background(), quote.ID, "user-1")
	if !errors.Is(err, quotedomain.ErrQuoteExpired) {
		t.Fatalf("expected expired, got %v", err)
	}

	stored, err := svc.Get(context.Background(), quote.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if stored.Status != quotedomain.QuoteStatusExpired {
		t.Fatalf("expected stored status expired, got %s", stored.Status)
	}

	// Retrying after expiry never succeeds.
	_, err = svc.Claim(context.Background(), quote.ID, "user-1")
	if !errors.Is(err, quotedomain.ErrQuoteExpired) {
		t.Fatalf("expected expired on retry, got %v", err)
	}
}

func TestClaimAlreadyClaimed(t *testing.T) {
	db := setupQuoteTestDB(t)
	clk := &clock.Fixed{Instant: time.Now().UTC()}
	svc := newQuoteService(t, db, clk)
	quote := createTestQuote(t, svc, "user-1")

	if _, err := svc.Claim(context.Background(), quote.ID, "user-1"); err != nil {
		t.Fatalf("first claim: %v", err)
	}
	_, err := svc.Claim(context.Background(), quote.ID, "user-1")
	if !errors.Is(err, quotedomain.ErrQuoteAlreadyClaimed) {
		t.Fatalf("expected already claimed, got %v", err)
	}
}

func TestConcurrentClaimsExactlyOneWins(t *testing.T) {
	db := setupQuoteTestDB(t)
	clk := &clock.Fixed{Instant: time.Now().UTC()}
	svc := newQuoteService(t, db, clk)
	quote := createTestQuote(t, svc, "user-1")

	const claimers = 8
	var wg sync.WaitGroup
	results := make(chan error, claimers)
	for i := 0; i < claimers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := svc.Claim(context.Background(), quote.ID, "user-1")
			results <- err
		}()
	}
	wg.Wait()
	close(results)

	wins := 0
	for err := range results {
		if err == nil {
			wins++
			continue
		}
		if !errors.Is(err, quotedomain.ErrQuoteAlreadyClaimed) {
			t.Fatalf("unexpected claim error: %v", err)
		}
	}
	if wins != 1 {
		t.Fatalf("expected exactly one winning claim, got %d", wins)
	}
}

func TestReleaseRollsBackToPending(t *testing.T) {
	db := setupQuoteTestDB(t)
	clk := &clock.Fixed{Instant: time.Now().UTC()}
	svc := newQuoteService(t, db, clk)
	quote := createTestQuote(t, svc, "user-1")

	if _, err := svc.Claim(context.Background(), quote.ID, "user-1"); err != nil {
		t.Fatalf("claim: %v", err)
	}
	if err := svc.Release(context.Background(), quote.ID); err != nil {
		t.Fatalf("release: %v", err)
	}

	// The released quote can be claimed again.
	if _, err := svc.Claim(context.Background(), quote.ID, "user-1"); err != nil {
		t.Fatalf("reclaim after release: %v", err)
	}
}

func TestIllegalTransitions(t *testing.T) {
	db := setupQuoteTestDB(t)
	clk := &clock.Fixed{Instant: time.Now().UTC()}
	svc := newQuoteService(t, db, clk)
	quote := createTestQuote(t, svc, "user-1")
	ctx := context.Background()

	// Approve without claim.
	if err := svc.MarkApproved(ctx, quote.ID); !errors.Is(err, quotedomain.ErrInvalidQuoteState) {
		t.Fatalf("expected invalid state, got %v", err)
	}
	// Release without claim.
	if err := svc.Release(ctx, quote.ID); !errors.Is(err, quotedomain.ErrInvalidQuoteState) {
		t.Fatalf("expected invalid state, got %v", err)
	}

	// Approved quotes cannot be released or re-approved.
	if _, err := svc.Claim(ctx, quote.ID, "user-1"); err != nil {
		t.Fatalf("claim: %v", err)
	}
	if err := svc.MarkApproved(ctx, quote.ID); err != nil {
		t.Fatalf("approve: %v", err)
	}
	if err := svc.Release(ctx, quote.ID); !errors.Is(err, quotedomain.ErrInvalidQuoteState) {
		t.Fatalf("expected invalid state releasing approved quote, got %v", err)
	}
}

func TestSelectedURLsRoundTrip(t *testing.T) {
	db := setupQuoteTestDB(t)
	clk := &clock.Fixed{Instant: time.Now().UTC()}
	svc := newQuoteService(t, db, clk)

	quote, err := svc.Create(context.Background(), quotedomain.CreateQuoteInput{
		Subject:         "user-1",
		TargetURL:       "https://example.com",
		PageCount:       2,
		CreditsRequired: 14,
		Metadata: map[string]any{
			quotedomain.MetadataKeySelectedURLs: []any{"https://example.com/a", "https://example.com/b"},
		},
	})
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	stored, err := svc.Get(context.Background(), quote.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	urls := stored.SelectedURLs()
	if len(urls) != 2 || urls[0] != "https://example.com/a" {
		t.Fatalf("unexpected selected urls: %v", urls)
	}
}
