package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
)

type RequestStatus string

const (
	RequestStatusPending  RequestStatus = "pending"
	RequestStatusApproved RequestStatus = "approved"
	RequestStatusRejected RequestStatus = "rejected"
)

// CreditRequest is a user's ask for more credits, resolved manually by
// an operator. Approval is the only path from here into the ledger.
type CreditRequest struct {
	ID        snowflake.ID  `gorm:"primaryKey"`
	Subject   string        `gorm:"not null;index"`
	Amount    int64         `gorm:"not null"`
	Note      string        `gorm:"type:text;not null;default:''"`
	Status    RequestStatus `gorm:"type:text;not null"`
	DecidedBy *string       `gorm:"type:text"`
	DecidedAt *time.Time
	CreatedAt time.Time `gorm:"not null;default:CURRENT_TIMESTAMP"`
}

// TableName sets the database table name.
func (CreditRequest) TableName() string { return "credit_requests" }
