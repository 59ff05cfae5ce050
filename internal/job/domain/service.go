package domain

import (
	"context"
	"errors"

	"github.com/bwmarrin/snowflake"
)

// TaskUpdate is a worker callback reporting a task's terminal state.
type TaskUpdate struct {
	TaskID snowflake.ID
	JobID  snowflake.ID
	Status TaskStatus
	Result map[string]any
	Error  string
}

// CompletionService aggregates task callbacks into job status. It is
// the sole writer of terminal task and job state. Aggregation is
// recomputed from the stored task rows on every update, so duplicate
// and out-of-order callbacks are harmless.
type CompletionService interface {
	// RecordTaskUpdate persists a worker callback and recomputes the
	// owning job's status. A callback for an already-terminal task is
	// a no-op. When every task is terminal the job completes if at
	// least one task completed, otherwise it fails and the charge is
	// refunded exactly once.
	RecordTaskUpdate(ctx context.Context, update TaskUpdate) error

	Get(ctx context.Context, id snowflake.ID) (*AuditJob, error)
	GetOwned(ctx context.Context, id snowflake.ID, subject string) (*AuditJob, error)
	List(ctx context.Context, subject string, limit, offset int) ([]AuditJob, error)
	Tasks(ctx context.Context, jobID snowflake.ID) ([]AuditTask, error)
}

// Service is the package alias for CompletionService.
type Service = CompletionService

var (
	ErrJobNotFound      = errors.New("job_not_found")
	ErrTaskNotFound     = errors.New("task_not_found")
	ErrNotJobOwner      = errors.New("not_job_owner")
	ErrTaskJobMismatch  = errors.New("task_job_mismatch")
	ErrInvalidTaskState = errors.New("invalid_task_state")
)
