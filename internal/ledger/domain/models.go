package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
)

// Reference types tie each transaction back to the entity that moved
// the balance.
const (
	ReferenceTypeAudit         = "audit"
	ReferenceTypeAuditRefund   = "audit_refund"
	ReferenceTypeCreditRequest = "credit_request"
	ReferenceTypeAdjustment    = "adjustment"
	ReferenceTypeSeed          = "seed"
)

// Account holds the current credit balance for a subject. The balance
// column is mutated only through the ledger service's atomic
// statements and is always recoverable as the sum of the subject's
// transactions.
type Account struct {
	Subject   string    `gorm:"primaryKey"`
	Balance   int64     `gorm:"not null;default:0"`
	CreatedAt time.Time `gorm:"not null;default:CURRENT_TIMESTAMP"`
	UpdatedAt time.Time `gorm:"not null;default:CURRENT_TIMESTAMP"`
}

// TableName sets the database table name.
func (Account) TableName() string { return "accounts" }

// CreditTransaction is an append-only record of one balance mutation.
// Amount is signed: negative for debits, positive for credits.
type CreditTransaction struct {
	ID            snowflake.ID `gorm:"primaryKey"`
	Subject       string       `gorm:"not null;index"`
	Amount        int64        `gorm:"not null"`
	ReferenceType string       `gorm:"type:text;not null"`
	ReferenceID   string       `gorm:"type:text;not null"`
	Description   string       `gorm:"type:text;not null"`
	CreatedAt     time.Time    `gorm:"not null;default:CURRENT_TIMESTAMP"`
}

// TableName sets the database table name.
func (CreditTransaction) TableName() string { return "credit_transactions" }
