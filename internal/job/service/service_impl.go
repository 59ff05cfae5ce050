package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/hashangit/seo-pro/internal/events"
	jobdomain "github.com/hashangit/seo-pro/internal/job/domain"
	ledgerdomain "github.com/hashangit/seo-pro/internal/ledger/domain"
	"github.com/hashangit/seo-pro/internal/observability/metrics"
	quotedomain "github.com/hashangit/seo-pro/internal/quote/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

type Params struct {
	fx.In

	DB        *gorm.DB
	Log       *zap.Logger
	LedgerSvc ledgerdomain.Service
	QuoteSvc  quotedomain.Service
	Outbox    *events.Outbox
	Metrics   *metrics.AuditMetrics `optional:"true"`
}

type Service struct {
	db        *gorm.DB
	log       *zap.Logger
	ledgerSvc ledgerdomain.Service
	quoteSvc  quotedomain.Service
	outbox    *events.Outbox
	metrics   *metrics.AuditMetrics
}

func NewService(p Params) jobdomain.Service {
	return &Service{
		db:        p.DB,
		log:       p.Log.Named("job.service"),
		ledgerSvc: p.LedgerSvc,
		quoteSvc:  p.QuoteSvc,
		outbox:    p.Outbox,
		metrics:   p.Metrics,
	}
}

func (s *Service) RecordTaskUpdate(ctx context.Context, update jobdomain.TaskUpdate) error {
	if !update.Status.Terminal() && update.Status != jobdomain.TaskStatusProcessing {
		return jobdomain.ErrInvalidTaskState
	}

	task, err := s.loadTask(ctx, update.TaskID)
	if err != nil {
		return err
	}
	if task.JobID != update.JobID {
		return jobdomain.ErrTaskJobMismatch
	}
	if task.Status.Terminal() {
		// Duplicate delivery of a terminal callback is a no-op.
		return nil
	}

	if err := s.applyTaskUpdate(ctx, task, update); err != nil {
		return err
	}
	if !update.Status.Terminal() {
		return nil
	}

	// Aggregation is recomputed from the stored rows, never from a
	// running counter, so late and duplicate callbacks cannot drift
	// the totals.
	return s.recomputeJobStatus(ctx, update.JobID)
}

func (s *Service) applyTaskUpdate(ctx context.Context, task *jobdomain.AuditTask, update jobdomain.TaskUpdate) error {
	values := map[string]any{"status": update.Status}
	if update.Status.Terminal() {
		values["completed_at"] = time.Now().UTC()
	}
	if len(update.Result) > 0 {
		values["result"] = datatypes.JSONMap(update.Result)
	}
	if strings.TrimSpace(update.Error) != "" {
		values["error_message"] = update.Error
	}

	// Guarded write: a concurrent duplicate that already finalized
	// the task leaves nothing to update.
	res := s.db.WithContext(ctx).
		Model(&jobdomain.AuditTask{}).
		Where("id = ? AND status NOT IN ?", task.ID, []jobdomain.TaskStatus{jobdomain.TaskStatusCompleted, jobdomain.TaskStatusFailed}).
		Updates(values)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected > 0 && update.Status.Terminal() {
		s.metrics.TaskFinished(task.Kind, string(update.Status))
	}
	return nil
}

func (s *Service) recomputeJobStatus(ctx context.Context, jobID snowflake.ID) error {
	job, err := s.Get(ctx, jobID)
	if errors.Is(err, jobdomain.ErrJobNotFound) {
		// Workers cannot be made to retry forever; accept the task
		// update and drop the aggregation.
		s.log.Warn("task update for unknown job", zap.String("job_id", jobID.String()))
		return nil
	}
	if err != nil {
		return err
	}

	tasks, err := s.Tasks(ctx, jobID)
	if err != nil {
		return err
	}
	if len(tasks) == 0 {
		return nil
	}

	completed, failed := 0, 0
	for _, task := range tasks {
		switch task.Status {
		case jobdomain.TaskStatusCompleted:
			completed++
		case jobdomain.TaskStatusFailed:
			failed++
		}
	}

	if completed+failed < len(tasks) {
		// Still in flight.
		if job.Status == jobdomain.JobStatusQueued {
			s.db.WithContext(ctx).Exec(
				`UPDATE audit_jobs SET status = ? WHERE id = ? AND status = ?`,
				jobdomain.JobStatusProcessing, jobID, jobdomain.JobStatusQueued,
			)
		}
		return nil
	}

	if completed > 0 {
		return s.finalizeCompleted(ctx, job, tasks, failed)
	}
	return s.finalizeFailed(ctx, job)
}

// finalizeCompleted marks a job completed. Partial results are
// acceptable: failed tasks stay visible in the results summary.
func (s *Service) finalizeCompleted(ctx context.Context, job *jobdomain.AuditJob, tasks []jobdomain.AuditTask, failedCount int) error {
	summary := datatypes.JSONMap{}
	for _, task := range tasks {
		entry := map[string]any{"status": string(task.Status)}
		if task.ErrorMessage != nil {
			entry["error"] = *task.ErrorMessage
		}
		summary[task.Kind] = entry
	}

	now := time.Now().UTC()
	res := s.db.WithContext(ctx).
		Model(&jobdomain.AuditJob{}).
		Where("id = ? AND status NOT IN ?", job.ID, []jobdomain.JobStatus{jobdomain.JobStatusCompleted, jobdomain.JobStatusFailed}).
		Updates(map[string]any{
			"status":       jobdomain.JobStatusCompleted,
			"results":      summary,
			"completed_at": now,
		})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		// Another callback finalized the job first.
		return nil
	}

	s.metrics.JobFinished(string(jobdomain.JobStatusCompleted))

	if job.QuoteID != nil {
		if err := s.quoteSvc.MarkCompleted(ctx, *job.QuoteID); err != nil && !errors.Is(err, quotedomain.ErrInvalidQuoteState) {
			s.log.Warn("quote completion mark failed", zap.String("quote_id", job.QuoteID.String()), zap.Error(err))
		}
	}

	if err := s.outbox.Publish(ctx, events.Event{
		JobID:     job.ID,
		Type:      events.EventJobCompleted,
		DedupeKey: fmt.Sprintf("job-completed-%s", job.ID.String()),
		Payload: events.JobEventPayload{
			JobID:   job.ID.String(),
			Subject: job.Subject,
			Status:  string(jobdomain.JobStatusCompleted),
		}.ToMap(),
	}); err != nil {
		s.log.Warn("job completed event not recorded", zap.String("job_id", job.ID.String()), zap.Error(err))
	}

	s.log.Info("job completed",
		zap.String("job_id", job.ID.String()),
		zap.Int("failed_tasks", failedCount),
	)
	return nil
}

// finalizeFailed marks an all-tasks-failed job failed and issues the
// compensating refund. The conditional status update is the
// exactly-once guard: only the caller that wins the transition
// refunds.
func (s *Service) finalizeFailed(ctx context.Context, job *jobdomain.AuditJob) error {
	now := time.Now().UTC()
	msg := "all analysis tasks failed"
	res := s.db.WithContext(ctx).
		Model(&jobdomain.AuditJob{}).
		Where("id = ? AND status NOT IN ?", job.ID, []jobdomain.JobStatus{jobdomain.JobStatusCompleted, jobdomain.JobStatusFailed}).
		Updates(map[string]any{
			"status":        jobdomain.JobStatusFailed,
			"error_message": msg,
			"completed_at":  now,
		})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return nil
	}

	s.metrics.JobFinished(string(jobdomain.JobStatusFailed))

	if job.CreditsCharged > 0 {
		ref := ledgerdomain.Reference{Type: ledgerdomain.ReferenceTypeAuditRefund, ID: job.ID.String()}
		if err := s.ledgerSvc.Credit(ctx, job.Subject, job.CreditsCharged, ref, "audit failed: all tasks failed"); err != nil {
			// The job is already terminal; resolution now depends on
			// external reconciliation over the transaction log.
			s.log.Error("compensation refund failed",
				zap.String("severity", "critical"),
				zap.String("job_id", job.ID.String()),
				zap.String("subject", job.Subject),
				zap.Int64("amount", job.CreditsCharged),
				zap.Error(err),
			)
			return err
		}
		s.metrics.CreditsMoved("refund", job.CreditsCharged)
		if err := s.outbox.Publish(ctx, events.Event{
			JobID:     job.ID,
			Type:      events.EventRefundIssued,
			DedupeKey: fmt.Sprintf("job-refund-%s", job.ID.String()),
			Payload: events.JobEventPayload{
				JobID:    job.ID.String(),
				Subject:  job.Subject,
				Refunded: job.CreditsCharged,
			}.ToMap(),
		}); err != nil {
			s.log.Warn("refund event not recorded", zap.String("job_id", job.ID.String()), zap.Error(err))
		}
	}

	if err := s.outbox.Publish(ctx, events.Event{
		JobID:     job.ID,
		Type:      events.EventJobFailed,
		DedupeKey: fmt.Sprintf("job-failed-%s", job.ID.String()),
		Payload: events.JobEventPayload{
			JobID:          job.ID.String(),
			Subject:        job.Subject,
			Status:         string(jobdomain.JobStatusFailed),
			CreditsCharged: job.CreditsCharged,
		}.ToMap(),
	}); err != nil {
		s.log.Warn("job failed event not recorded", zap.String("job_id", job.ID.String()), zap.Error(err))
	}

	s.log.Info("job failed and compensated",
		zap.String("job_id", job.ID.String()),
		zap.Int64("refunded", job.CreditsCharged),
	)
	return nil
}

func (s *Service) Get(ctx context.Context, id snowflake.ID) (*jobdomain.AuditJob, error) {
	var job jobdomain.AuditJob
	err := s.db.WithContext(ctx).Where("id = ?", id).First(&job).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, jobdomain.ErrJobNotFound
	}
	if err != nil {
		return nil, err
	}
	return &job, nil
}

func (s *Service) GetOwned(ctx context.Context, id snowflake.ID, subject string) (*jobdomain.AuditJob, error) {
	job, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if job.Subject != subject {
		return nil, jobdomain.ErrNotJobOwner
	}
	return job, nil
}

func (s *Service) List(ctx context.Context, subject string, limit, offset int) ([]jobdomain.AuditJob, error) {
	if limit <= 0 || limit > 200 {
		limit = 100
	}
	if offset < 0 {
		offset = 0
	}
	var jobs []jobdomain.AuditJob
	err := s.db.WithContext(ctx).
		Where("subject = ?", subject).
		Order("created_at DESC, id DESC").
		Limit(limit).
		Offset(offset).
		Find(&jobs).Error
	if err != nil {
		return nil, err
	}
	return jobs, nil
}

func (s *Service) Tasks(ctx context.Context, jobID snowflake.ID) ([]jobdomain.AuditTask, error) {
	var tasks []jobdomain.AuditTask
	err := s.db.WithContext(ctx).
		Where("job_id = ?", jobID).
		Order("id ASC").
		Find(&tasks).Error
	if err != nil {
		return nil, err
	}
	return tasks, nil
}

func (s *Service) loadTask(ctx context.Context, id snowflake.ID) (*jobdomain.AuditTask, error) {
	var task jobdomain.AuditTask
	err := s.db.WithContext(ctx).Where("id = ?", id).First(&task).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, jobdomain.ErrTaskNotFound
	}
	if err != nil {
		return nil, err
	}
	return &task, nil
}
