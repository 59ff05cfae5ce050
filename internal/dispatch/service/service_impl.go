package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"
	"github.com/hashangit/seo-pro/internal/config"
	dispatchdomain "github.com/hashangit/seo-pro/internal/dispatch/domain"
	jobdomain "github.com/hashangit/seo-pro/internal/job/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const enqueueMaxRetries = 3

type Params struct {
	fx.In

	DB    *gorm.DB
	Log   *zap.Logger
	GenID *snowflake.Node
	Queue dispatchdomain.TaskQueue
	Cfg   config.Config
}

type Service struct {
	db               *gorm.DB
	log              *zap.Logger
	genID            *snowflake.Node
	queue            dispatchdomain.TaskQueue
	httpWorkerURL    string
	browserWorkerURL string
}

func NewService(p Params) dispatchdomain.Dispatcher {
	return &Service{
		db:               p.DB,
		log:              p.Log.Named("dispatch.service"),
		genID:            p.GenID,
		queue:            p.Queue,
		httpWorkerURL:    strings.TrimRight(p.Cfg.HTTPWorkerURL, "/"),
		browserWorkerURL: strings.TrimRight(p.Cfg.BrowserWorkerURL, "/"),
	}
}

// taskPayload is the message body a worker receives for one unit.
type taskPayload struct {
	JobID  string   `json:"job_id"`
	TaskID string   `json:"task_id"`
	URL    string   `json:"url"`
	Kind   string   `json:"kind"`
	Pages  []string `json:"page_urls,omitempty"`
}

func (s *Service) Submit(ctx context.Context, job *jobdomain.AuditJob, pages []string, units []dispatchdomain.WorkUnit) (*dispatchdomain.SubmitResult, error) {
	if job == nil || len(units) == 0 {
		return nil, dispatchdomain.ErrNoWorkUnits
	}

	result := &dispatchdomain.SubmitResult{}
	enqueued := 0

	for _, unit := range units {
		endpoint, err := s.workerEndpoint(unit.Worker)
		if err != nil {
			result.Failed = append(result.Failed, dispatchdomain.FailedUnit{Kind: unit.Kind, Err: err})
			continue
		}

		task := &jobdomain.AuditTask{
			ID:        s.genID.Generate(),
			JobID:     job.ID,
			Kind:      unit.Kind,
			Worker:    unit.Worker,
			Status:    jobdomain.TaskStatusQueued,
			CreatedAt: time.Now().UTC(),
		}
		if err := s.db.WithContext(ctx).Create(task).Error; err != nil {
			result.Failed = append(result.Failed, dispatchdomain.FailedUnit{Kind: unit.Kind, Err: err})
			continue
		}

		payload, err := json.Marshal(taskPayload{
			JobID:  job.ID.String(),
			TaskID: task.ID.String(),
			URL:    job.TargetURL,
			Kind:   unit.Kind,
			Pages:  pages,
		})
		if err != nil {
			s.failTask(ctx, task, err)
			result.Tasks = append(result.Tasks, *task)
			result.Failed = append(result.Failed, dispatchdomain.FailedUnit{Kind: unit.Kind, Err: err})
			continue
		}

		name := taskName(job.ID, unit.Kind)
		if err := s.enqueueWithRetry(ctx, name, endpoint, payload); err != nil {
			s.log.Warn("task enqueue failed",
				zap.String("job_id", job.ID.String()),
				zap.String("kind", unit.Kind),
				zap.Error(err),
			)
			// The row stays so completion accounting counts this unit.
			s.failTask(ctx, task, err)
			result.Tasks = append(result.Tasks, *task)
			result.Failed = append(result.Failed, dispatchdomain.FailedUnit{Kind: unit.Kind, Err: err})
			continue
		}

		enqueued++
		result.Tasks = append(result.Tasks, *task)
	}

	if enqueued == 0 {
		return result, fmt.Errorf("%w: %d units", dispatchdomain.ErrNoTasksEnqueued, len(units))
	}
	return result, nil
}

// enqueueWithRetry retries transient transport failures with
// exponential backoff; permanent failures surface immediately.
func (s *Service) enqueueWithRetry(ctx context.Context, name, endpoint string, payload []byte) error {
	policy := backoff.WithContext(backoff.WithMaxRetries(backoff.NewExponentialBackOff(), enqueueMaxRetries), ctx)
	return backoff.Retry(func() error {
		err := s.queue.Enqueue(ctx, name, endpoint, payload)
		if err == nil {
			return nil
		}
		if errors.Is(err, dispatchdomain.ErrQueueUnavailable) {
			return err
		}
		return backoff.Permanent(err)
	}, policy)
}

func (s *Service) failTask(ctx context.Context, task *jobdomain.AuditTask, cause error) {
	now := time.Now().UTC()
	msg := cause.Error()
	task.Status = jobdomain.TaskStatusFailed
	task.ErrorMessage = &msg
	task.CompletedAt = &now
	if err := s.db.WithContext(ctx).Exec(
		`UPDATE audit_tasks SET status = ?, error_message = ?, completed_at = ? WHERE id = ?`,
		jobdomain.TaskStatusFailed,
		msg,
		now,
		task.ID,
	).Error; err != nil {
		s.log.Error("failed to mark task failed", zap.String("task_id", task.ID.String()), zap.Error(err))
	}
}

func (s *Service) workerEndpoint(worker string) (string, error) {
	var base string
	switch worker {
	case jobdomain.WorkerBrowser:
		base = s.browserWorkerURL
	case jobdomain.WorkerHTTP:
		base = s.httpWorkerURL
	default:
		return "", fmt.Errorf("%w: %q", dispatchdomain.ErrWorkerNotConfigured, worker)
	}
	if base == "" {
		return "", fmt.Errorf("%w: %s", dispatchdomain.ErrWorkerNotConfigured, worker)
	}
	return base + "/analyze", nil
}

// taskName builds the queue-level idempotency key. The random suffix
// keeps a re-submitted job from colliding with an old name still in
// the queue's dedupe window.
func taskName(jobID snowflake.ID, kind string) string {
	return fmt.Sprintf("audit-%s-%s-%s", jobID.String(), kind, uuid.NewString()[:8])
}

// DefaultWorkUnits is the standard fan-out for a full site audit.
func DefaultWorkUnits() []dispatchdomain.WorkUnit {
	return []dispatchdomain.WorkUnit{
		{Kind: jobdomain.TaskKindTechnical, Worker: jobdomain.WorkerHTTP},
		{Kind: jobdomain.TaskKindContent, Worker: jobdomain.WorkerHTTP},
		{Kind: jobdomain.TaskKindSchema, Worker: jobdomain.WorkerHTTP},
		{Kind: jobdomain.TaskKindSitemap, Worker: jobdomain.WorkerHTTP},
		{Kind: jobdomain.TaskKindProgrammatic, Worker: jobdomain.WorkerHTTP},
		{Kind: jobdomain.TaskKindVisual, Worker: jobdomain.WorkerBrowser},
	}
}
