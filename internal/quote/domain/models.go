package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/datatypes"
)

// QuoteStatus tracks a quote through its one-directional lifecycle.
type QuoteStatus string

const (
	QuoteStatusPending    QuoteStatus = "pending"
	QuoteStatusProcessing QuoteStatus = "processing"
	QuoteStatusApproved   QuoteStatus = "approved"
	QuoteStatusExpired    QuoteStatus = "expired"
	QuoteStatusFailed     QuoteStatus = "failed"
	QuoteStatusCompleted  QuoteStatus = "completed"
)

// MetadataKeySelectedURLs carries a caller-chosen subset of pages in
// the quote metadata bag.
const MetadataKeySelectedURLs = "selected_urls"

// Quote is a priced, time-boxed offer to run an audit. ExpiresAt is
// immutable after creation; status moves only forward except for the
// orchestrator's processing->pending rollback after a failed debit.
type Quote struct {
	ID              snowflake.ID      `gorm:"primaryKey"`
	Subject         string            `gorm:"not null;index"`
	TargetURL       string            `gorm:"type:text;not null"`
	PageCount       int64             `gorm:"not null"`
	CreditsRequired int64             `gorm:"not null"`
	Status          QuoteStatus       `gorm:"type:text;not null"`
	Metadata        datatypes.JSONMap `gorm:"type:text;not null;default:'{}'"`
	CreatedAt       time.Time         `gorm:"not null;default:CURRENT_TIMESTAMP"`
	ExpiresAt       time.Time         `gorm:"not null"`
}

// TableName sets the database table name.
func (Quote) TableName() string { return "quotes" }

// SelectedURLs extracts the caller-selected page subset from the
// metadata bag, if one was stored at estimate time.
func (q Quote) SelectedURLs() []string {
	raw, ok := q.Metadata[MetadataKeySelectedURLs]
	if !ok {
		return nil
	}
	items, ok := raw.([]any)
	if !ok {
		return nil
	}
	urls := make([]string, 0, len(items))
	for _, item := range items {
		if s, ok := item.(string); ok && s != "" {
			urls = append(urls, s)
		}
	}
	if len(urls) == 0 {
		return nil
	}
	return urls
}
