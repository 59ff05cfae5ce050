package auditlog

import (
	"context"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/hashangit/seo-pro/internal/observability/logger"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// Actor and action names used across the activity trail.
const (
	ActorTypeUser   = "user"
	ActorTypeAdmin  = "admin"
	ActorTypeSystem = "system"

	ActionQuoteCreated          = "quote.created"
	ActionAuditStarted          = "audit.started"
	ActionCreditRequestCreated  = "credit_request.created"
	ActionCreditRequestApproved = "credit_request.approved"
	ActionCreditRequestRejected = "credit_request.rejected"

	TargetTypeQuote         = "quote"
	TargetTypeJob           = "audit_job"
	TargetTypeCreditRequest = "credit_request"
)

// ActivityLog is one row of the append-only activity trail.
type ActivityLog struct {
	ID         snowflake.ID      `gorm:"primaryKey"`
	ActorType  string            `gorm:"type:text;not null"`
	ActorID    *string           `gorm:"type:text"`
	Action     string            `gorm:"type:text;not null"`
	TargetType string            `gorm:"type:text;not null"`
	TargetID   *string           `gorm:"type:text"`
	Metadata   datatypes.JSONMap `gorm:"type:text;not null;default:'{}'"`
	CreatedAt  time.Time         `gorm:"not null;default:CURRENT_TIMESTAMP"`
}

// TableName sets the database table name.
func (ActivityLog) TableName() string { return "activity_logs" }

// Entry is one activity to record. Request metadata (request id, ip,
// user agent) is pulled from the context when present.
type Entry struct {
	ActorType  string
	ActorID    string
	Action     string
	TargetType string
	TargetID   string
	Metadata   map[string]any
}

// Recorder appends to the activity trail. Recording is best effort:
// a failed write logs and never fails the operation being recorded.
type Recorder struct {
	db    *gorm.DB
	log   *zap.Logger
	genID *snowflake.Node
}

func NewRecorder(db *gorm.DB, log *zap.Logger, genID *snowflake.Node) *Recorder {
	return &Recorder{db: db, log: log.Named("auditlog"), genID: genID}
}

func (r *Recorder) Record(ctx context.Context, entry Entry) {
	if r == nil || r.db == nil {
		return
	}
	if strings.TrimSpace(entry.Action) == "" || strings.TrimSpace(entry.TargetType) == "" {
		return
	}

	metadata := datatypes.JSONMap{}
	for key, value := range logger.MaskJSON(entry.Metadata) {
		if strings.TrimSpace(key) != "" {
			metadata[key] = value
		}
	}
	if requestID := RequestIDFromContext(ctx); requestID != "" {
		metadata["request_id"] = requestID
	}
	if ip := IPAddressFromContext(ctx); ip != "" {
		metadata["ip_address"] = ip
	}
	if agent := UserAgentFromContext(ctx); agent != "" {
		metadata["user_agent"] = agent
	}

	actorType := entry.ActorType
	actorID := entry.ActorID
	if actorType == "" {
		actorType, actorID = ActorFromContext(ctx)
	}
	if actorType == "" {
		actorType = ActorTypeSystem
	}

	row := &ActivityLog{
		ID:         r.genID.Generate(),
		ActorType:  actorType,
		Action:     entry.Action,
		TargetType: entry.TargetType,
		Metadata:   metadata,
		CreatedAt:  time.Now().UTC(),
	}
	if actorID != "" {
		row.ActorID = &actorID
	}
	if entry.TargetID != "" {
		targetID := entry.TargetID
		row.TargetID = &targetID
	}

	if err := r.db.WithContext(ctx).Create(row).Error; err != nil {
		r.log.Warn("activity record failed",
			zap.String("action", entry.Action),
			zap.String("target_type", entry.TargetType),
			zap.Error(err),
		)
	}
}

var Module = fx.Module("auditlog",
	fx.Provide(NewRecorder),
)
