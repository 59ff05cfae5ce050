package domain

import (
	"context"
	"errors"

	jobdomain "github.com/hashangit/seo-pro/internal/job/domain"
)

// TaskQueue hands a named message to the external at-least-once
// delivery service. Duplicate names within the queue's retention
// window are deduplicated by the queue; the name scheme is the
// dispatcher's idempotency key.
type TaskQueue interface {
	Enqueue(ctx context.Context, name, endpoint string, payload []byte) error
}

// WorkUnit describes one task to fan out for a job.
type WorkUnit struct {
	Kind   string
	Worker string
}

// FailedUnit records a work unit whose enqueue exhausted retries.
type FailedUnit struct {
	Kind string
	Err  error
}

// SubmitResult reports the fan-out outcome. Tasks holds every created
// task row, including rows marked failed because their enqueue never
// succeeded.
type SubmitResult struct {
	Tasks  []jobdomain.AuditTask
	Failed []FailedUnit
}

// AllFailed reports whether not a single unit reached the queue.
type Dispatcher interface {
	// Submit creates one task row per work unit and enqueues one
	// message per row. A non-empty pages list narrows every worker
	// payload to that page subset; empty means whole-site. Enqueue
	// failures for a subset do not roll back units already enqueued;
	// the failed units come back marked failed so completion
	// accounting stays correct. When zero units reach the queue,
	// Submit returns ErrNoTasksEnqueued alongside the result.
	Submit(ctx context.Context, job *jobdomain.AuditJob, pages []string, units []WorkUnit) (*SubmitResult, error)
}

var (
	// ErrQueueUnavailable marks a transient transport failure worth
	// retrying with backoff.
	ErrQueueUnavailable = errors.New("task_queue_unavailable")
	// ErrInvalidTaskPayload marks a permanent enqueue failure.
	ErrInvalidTaskPayload = errors.New("invalid_task_payload")
	// ErrNoTasksEnqueued means the whole submission failed and the
	// orchestrator must compensate.
	ErrNoTasksEnqueued = errors.New("no_tasks_enqueued")
	ErrNoWorkUnits     = errors.New("no_work_units")
	ErrWorkerNotConfigured = errors.New("worker_not_configured")
)
