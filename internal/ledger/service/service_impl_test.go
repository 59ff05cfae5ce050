package service

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/bwmarrin/snowflake"
	"github.com/google/uuid"
	ledgerdomain "github.com/hashangit/seo-pro/internal/ledger/domain"
	"go.uber.org/zap"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
)

func setupLedgerTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", uuid.NewString())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	if err := db.Exec(
		`CREATE TABLE accounts (
			subject TEXT PRIMARY KEY,
			balance BIGINT NOT NULL DEFAULT 0,
			created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
			updated_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
		)`,
	).Error; err != nil {
		t.Fatalf("create accounts: %v", err)
	}
	if err := db.Exec(
		`CREATE TABLE credit_transactions (
			id BIGINT PRIMARY KEY,
			subject TEXT NOT NULL,
			amount BIGINT NOT NULL,
			reference_type TEXT NOT NULL,
			reference_id TEXT NOT NULL,
			description TEXT NOT NULL,
			created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
		)`,
	).Error; err != nil {
		t.Fatalf("create credit_transactions: %v", err)
	}
	return db
}

func newLedgerService(t *testing.T, db *gorm.DB) *Service {
	t.Helper()
	node, err := snowflake.NewNode(1)
	if err != nil {
		t.Fatalf("snowflake node: %v", err)
	}
	return &Service{db: db, log: zap.NewNop(), genID: node}
}

func auditRef(id string) ledgerdomain.Reference {
	return ledgerdomain.Reference{Type: ledgerdomain.ReferenceTypeAudit, ID: id}
}

func TestCreditCreatesAccountAndTransaction(t *testing.T) {
	db := setupLedgerTestDB(t)
	svc := newLedgerService(t, db)
	ctx := context.Background()

	if err := svc.Credit(ctx, "user-1", 10, auditRef("q1"), "top up"); err != nil {
		t.Fatalf("credit: %v", err)
	}

	balance, err := svc.Balance(ctx, "user-1")
	if err != nil {
		t.Fatalf("balance: %v", err)
	}
	if balance != 10 {
		t.Fatalf("expected balance 10, got %d", balance)
	}

	txns, err := svc.Transactions(ctx, "user-1", 10, 0)
	if err != nil {
		t.Fatalf("transactions: %v", err)
	}
	if len(txns) != 1 || txns[0].Amount != 10 {
		t.Fatalf("expected one +10 transaction, got %+v", txns)
	}
}

func TestDebitDecrementsBalance(t *testing.T) {
	db := setupLedgerTestDB(t)
	svc := newLedgerService(t, db)
	ctx := context.Background()

	if err := svc.Credit(ctx, "user-1", 10, auditRef("seed"), "seed"); err != nil {
		t.Fatalf("credit: %v", err)
	}
	if err := svc.Debit(ctx, "user-1", 7, auditRef("q1"), "site audit"); err != nil {
		t.Fatalf("debit: %v", err)
	}

	balance, _ := svc.Balance(ctx, "user-1")
	if balance != 3 {
		t.Fatalf("expected balance 3, got %d", balance)
	}
}

func TestDebitInsufficientFundsLeavesBalanceUntouched(t *testing.T) {
	db := setupLedgerTestDB(t)
	svc := newLedgerService(t, db)
	ctx := context.Background()

	if err := svc.Credit(ctx, "user-1", 2, auditRef("seed"), "seed"); err != nil {
		t.Fatalf("credit: %v", err)
	}

	err := svc.Debit(ctx, "user-1", 7, auditRef("q1"), "site audit")
	if !errors.Is(err, ledgerdomain.ErrInsufficientFunds) {
		t.Fatalf("expected insufficient funds, got %v", err)
	}

	balance, _ := svc.Balance(ctx, "user-1")
	if balance != 2 {
		t.Fatalf("expected balance 2, got %d", balance)
	}

	txns, _ := svc.Transactions(ctx, "user-1", 10, 0)
	if len(txns) != 1 {
		t.Fatalf("failed debit must not append a transaction, got %d", len(txns))
	}
}

func TestDebitMissingAccountIsInsufficientFunds(t *testing.T) {
	db := setupLedgerTestDB(t)
	svc := newLedgerService(t, db)

	err := svc.Debit(context.Background(), "ghost", 1, auditRef("q1"), "site audit")
	if !errors.Is(err, ledgerdomain.ErrInsufficientFunds) {
		t.Fatalf("expected insufficient funds, got %v", err)
	}
}

func TestBalanceIsSumOfTransactions(t *testing.T) {
	db := setupLedgerTestDB(t)
	svc := newLedgerService(t, db)
	ctx := context.Background()

	if err := svc.Credit(ctx, "user-1", 20, auditRef("seed"), "seed"); err != nil {
		t.Fatalf("credit: %v", err)
	}
	if err := svc.Debit(ctx, "user-1", 7, auditRef("q1"), "site audit"); err != nil {
		t.Fatalf("debit: %v", err)
	}
	if err := svc.Credit(ctx, "user-1", 7, ledgerdomain.Reference{Type: ledgerdomain.ReferenceTypeAuditRefund, ID: "j1"}, "refund"); err != nil {
		t.Fatalf("refund: %v", err)
	}

	var sum int64
	if err := db.Raw(`SELECT COALESCE(SUM(amount), 0) FROM credit_transactions WHERE subject = ?`, "user-1").Scan(&sum).Error; err != nil {
		t.Fatalf("sum: %v", err)
	}
	balance, _ := svc.Balance(ctx, "user-1")
	if balance != sum {
		t.Fatalf("balance %d diverged from transaction sum %d", balance, sum)
	}
	if balance != 20 {
		t.Fatalf("expected net balance 20, got %d", balance)
	}
}

func TestMutationValidation(t *testing.T) {
	db := setupLedgerTestDB(t)
	svc := newLedgerService(t, db)
	ctx := context.Background()

	if err := svc.Debit(ctx, "", 5, auditRef("q1"), ""); !errors.Is(err, ledgerdomain.ErrInvalidSubject) {
		t.Fatalf("expected invalid subject, got %v", err)
	}
	if err := svc.Credit(ctx, "user-1", 0, auditRef("q1"), ""); !errors.Is(err, ledgerdomain.ErrInvalidAmount) {
		t.Fatalf("expected invalid amount, got %v", err)
	}
	if err := svc.Credit(ctx, "user-1", 5, ledgerdomain.Reference{}, ""); !errors.Is(err, ledgerdomain.ErrInvalidReference) {
		t.Fatalf("expected invalid reference, got %v", err)
	}
}
