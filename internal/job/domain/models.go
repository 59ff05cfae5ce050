package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/datatypes"
)

// JobStatus is monotonic forward: queued -> processing -> completed|failed.
type JobStatus string

const (
	JobStatusQueued     JobStatus = "queued"
	JobStatusProcessing JobStatus = "processing"
	JobStatusCompleted  JobStatus = "completed"
	JobStatusFailed     JobStatus = "failed"
)

// TaskStatus mirrors JobStatus at the work-unit level. A task is
// immutable once terminal.
type TaskStatus string

const (
	TaskStatusQueued     TaskStatus = "queued"
	TaskStatusProcessing TaskStatus = "processing"
	TaskStatusCompleted  TaskStatus = "completed"
	TaskStatusFailed     TaskStatus = "failed"
)

// Task kinds dispatched per audit. Visual runs on the browser worker,
// everything else on the HTTP worker.
const (
	TaskKindTechnical    = "technical"
	TaskKindContent      = "content"
	TaskKindSchema       = "schema"
	TaskKindSitemap      = "sitemap"
	TaskKindProgrammatic = "programmatic"
	TaskKindVisual       = "visual"
)

const (
	WorkerHTTP    = "http"
	WorkerBrowser = "browser"
)

// AuditJob is the billed unit of dispatched work. CreditsCharged is
// fixed at creation: zero only under the waived operating profile.
type AuditJob struct {
	ID             snowflake.ID      `gorm:"primaryKey"`
	QuoteID        *snowflake.ID     `gorm:"index"`
	Subject        string            `gorm:"not null;index"`
	TargetURL      string            `gorm:"type:text;not null"`
	PageCount      int64             `gorm:"not null"`
	CreditsCharged int64             `gorm:"not null;default:0"`
	Status         JobStatus         `gorm:"type:text;not null"`
	ErrorMessage   *string           `gorm:"type:text"`
	Results        datatypes.JSONMap `gorm:"type:text"`
	CreatedAt      time.Time         `gorm:"not null;default:CURRENT_TIMESTAMP"`
	CompletedAt    *time.Time
}

// TableName sets the database table name.
func (AuditJob) TableName() string { return "audit_jobs" }

// AuditTask is one dispatched work unit belonging to a job.
type AuditTask struct {
	ID           snowflake.ID      `gorm:"primaryKey"`
	JobID        snowflake.ID      `gorm:"not null;index"`
	Kind         string            `gorm:"type:text;not null"`
	Worker       string            `gorm:"type:text;not null"`
	Status       TaskStatus        `gorm:"type:text;not null"`
	Result       datatypes.JSONMap `gorm:"type:text"`
	ErrorMessage *string           `gorm:"type:text"`
	CreatedAt    time.Time         `gorm:"not null;default:CURRENT_TIMESTAMP"`
	CompletedAt  *time.Time
}

// TableName sets the database table name.
func (AuditTask) TableName() string { return "audit_tasks" }

// Terminal reports whether a task status is final.
func (s TaskStatus) Terminal() bool {
	return s == TaskStatusCompleted || s == TaskStatusFailed
}

// Terminal reports whether a job status is final.
func (s JobStatus) Terminal() bool {
	return s == JobStatusCompleted || s == JobStatusFailed
}
