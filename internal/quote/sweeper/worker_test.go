package sweeper

import (
	"context"
	"fmt"
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

func setupSweeperDB(t *testing.T) *gorm.DB {
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

func seedQuote(t *testing.T, db *gorm.DB, node *snowflake.Node, status quotedomain.QuoteStatus, expiresAt time.Time) snowflake.ID {
	t.Helper()
	id := node.Generate()
	if err := db.Exec(
		`INSERT INTO quotes (id, subject, target_url, page_count, credits_required, status, expires_at)
		 VALUES (?, 'user-1', 'https://example.com', 1, 7, ?, ?)`,
		id, status, expiresAt,
	).Error; err != nil {
		t.Fatalf("seed quote: %v", err)
	}
	return id
}

func TestSweepExpiresOnlyLapsedPendingQuotes(t *testing.T) {
	db := setupSweeperDB(t)
	node, err := snowflake.NewNode(1)
	if err != nil {
		t.Fatalf("snowflake node: %v", err)
	}
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	fixed := &clock.Fixed{Instant: now}

	lapsedPending := seedQuote(t, db, node, quotedomain.QuoteStatusPending, now.Add(-time.Minute))
	freshPending := seedQuote(t, db, node, quotedomain.QuoteStatusPending, now.Add(time.Hour))
	lapsedApproved := seedQuote(t, db, node, quotedomain.QuoteStatusApproved, now.Add(-time.Minute))

	worker := NewWorker(Params{DB: db, Log: zap.NewNop(), Clock: fixed})
	expired, err := worker.RunOnce(context.Background())
	if err != nil {
		t.Fatalf("sweep: %v", err)
	}
	if expired != 1 {
		t.Fatalf("expected 1 expired, got %d", expired)
	}

	status := func(id snowflake.ID) quotedomain.QuoteStatus {
		var s quotedomain.QuoteStatus
		if err := db.Raw(`SELECT status FROM quotes WHERE id = ?`, id).Scan(&s).Error; err != nil {
			t.Fatalf("read status: %v", err)
		}
		return s
	}
	if got := status(lapsedPending); got != quotedomain.QuoteStatusExpired {
		t.Fatalf("lapsed pending: expected expired, got %s", got)
	}
	if got := status(freshPending); got != quotedomain.QuoteStatusPending {
		t.Fatalf("fresh pending: expected pending, got %s", got)
	}
	if got := status(lapsedApproved); got != quotedomain.QuoteStatusApproved {
		t.Fatalf("approved: must never lapse, got %s", got)
	}
}

func TestRunForeverKeepsSweepingUntilCancelled(t *testing.T) {
	db := setupSweeperDB(t)
	node, err := snowflake.NewNode(1)
	if err != nil {
		t.Fatalf("snowflake node: %v", err)
	}
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	fixed := &clock.Fixed{Instant: now}

	worker := NewWorker(Params{DB: db, Log: zap.NewNop(), Clock: fixed, Config: Config{BatchSize: 10, PollInterval: 5 * time.Millisecond}})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		worker.RunForever(ctx)
		close(done)
	}()

	// Let the first sweep pass over an empty table, then add a lapsed
	// quote. Only a loop still alive on later ticks can expire it.
	time.Sleep(20 * time.Millisecond)
	id := seedQuote(t, db, node, quotedomain.QuoteStatusPending, now.Add(-time.Minute))

	deadline := time.Now().Add(2 * time.Second)
	for {
		var status quotedomain.QuoteStatus
		if err := db.Raw(`SELECT status FROM quotes WHERE id = ?`, id).Scan(&status).Error; err != nil {
			t.Fatalf("read status: %v", err)
		}
		if status == quotedomain.QuoteStatusExpired {
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("quote never expired; sweep loop stopped after startup")
		}
		time.Sleep(5 * time.Millisecond)
	}

	cancel()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("sweep loop did not stop on cancel")
	}
}

func TestSweepRespectsBatchSize(t *testing.T) {
	db := setupSweeperDB(t)
	node, err := snowflake.NewNode(1)
	if err != nil {
		t.Fatalf("snowflake node: %v", err)
	}
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	fixed := &clock.Fixed{Instant: now}

	for i := 0; i < 5; i++ {
		seedQuote(t, db, node, quotedomain.QuoteStatusPending, now.Add(-time.Minute))
	}

	worker := NewWorker(Params{DB: db, Log: zap.NewNop(), Clock: fixed, Config: Config{BatchSize: 2, PollInterval: time.Minute}})
	expired, err := worker.RunOnce(context.Background())
	if err != nil {
		t.Fatalf("sweep: %v", err)
	}
	if expired != 2 {
		t.Fatalf("expected batch of 2, got %d", expired)
	}
}
