package service

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/hashangit/seo-pro/internal/config"
	dispatchdomain "github.com/hashangit/seo-pro/internal/dispatch/domain"
	dispatchservice "github.com/hashangit/seo-pro/internal/dispatch/service"
	"github.com/hashangit/seo-pro/internal/events"
	jobdomain "github.com/hashangit/seo-pro/internal/job/domain"
	ledgerdomain "github.com/hashangit/seo-pro/internal/ledger/domain"
	"github.com/hashangit/seo-pro/internal/observability/metrics"
	orchestratordomain "github.com/hashangit/seo-pro/internal/orchestrator/domain"
	"github.com/hashangit/seo-pro/internal/pricing"
	quotedomain "github.com/hashangit/seo-pro/internal/quote/domain"
	"github.com/hashangit/seo-pro/internal/scanner"
	"github.com/hashangit/seo-pro/internal/urlcheck"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// maxAuditPages caps the billable page count of a single audit. Larger
// sites are priced at the cap; the original discovered count stays in
// the quote metadata.
const maxAuditPages = 500

// Quote metadata keys written at estimate time.
const (
	metadataKeyOriginalPageCount  = "original_page_count"
	metadataKeyEstimateSource     = "estimate_source"
	metadataKeyEstimateConfidence = "estimate_confidence"
	metadataKeyWaived             = "waived"
)

const sourceSelected = "selected"

type Params struct {
	fx.In

	DB         *gorm.DB
	Log        *zap.Logger
	GenID      *snowflake.Node
	Cfg        config.Config
	Quotes     quotedomain.Service
	Ledger     ledgerdomain.Service
	Dispatcher dispatchdomain.Dispatcher
	Estimator  scanner.Estimator
	Outbox     *events.Outbox
	Metrics    *metrics.AuditMetrics `optional:"true"`
}

type Service struct {
	db         *gorm.DB
	log        *zap.Logger
	genID      *snowflake.Node
	quotes     quotedomain.Service
	ledger     ledgerdomain.Service
	dispatcher dispatchdomain.Dispatcher
	estimator  scanner.Estimator
	outbox     *events.Outbox
	metrics    *metrics.AuditMetrics
	devMode    bool
}

func NewService(p Params) orchestratordomain.Service {
	return &Service{
		db:         p.DB,
		log:        p.Log.Named("orchestrator.service"),
		genID:      p.GenID,
		quotes:     p.Quotes,
		ledger:     p.Ledger,
		dispatcher: p.Dispatcher,
		estimator:  p.Estimator,
		outbox:     p.Outbox,
		metrics:    p.Metrics,
		devMode:    p.Cfg.DevMode,
	}
}

func (s *Service) Estimate(ctx context.Context, in orchestratordomain.EstimateInput) (*orchestratordomain.EstimateResult, error) {
	if strings.TrimSpace(in.Subject) == "" {
		return nil, quotedomain.ErrInvalidQuoteInput
	}

	target := urlcheck.Normalize(in.TargetURL)
	if err := urlcheck.CheckTarget(target); err != nil {
		return nil, fmt.Errorf("%w: %v", scanner.ErrUnsafeTarget, err)
	}

	var estimate scanner.Estimate
	if len(in.SelectedURLs) > 0 {
		estimate = scanner.Estimate{
			PageCount:  int64(len(in.SelectedURLs)),
			Confidence: 1.0,
			Source:     sourceSelected,
		}
	} else {
		var err error
		estimate, err = s.estimator.EstimatePages(ctx, target)
		if err != nil {
			return nil, err
		}
	}

	pageCount := estimate.PageCount
	if pageCount < 1 {
		pageCount = 1
	}
	if pageCount > maxAuditPages {
		pageCount = maxAuditPages
	}

	credits := pricing.SiteAuditCredits(pageCount)

	metadata := map[string]any{
		metadataKeyOriginalPageCount:  estimate.PageCount,
		metadataKeyEstimateSource:     estimate.Source,
		metadataKeyEstimateConfidence: estimate.Confidence,
		metadataKeyWaived:             s.devMode,
	}
	if len(in.SelectedURLs) > 0 {
		urls := make([]any, 0, len(in.SelectedURLs))
		for _, u := range in.SelectedURLs {
			urls = append(urls, u)
		}
		metadata[quotedomain.MetadataKeySelectedURLs] = urls
	}

	quote, err := s.quotes.Create(ctx, quotedomain.CreateQuoteInput{
		Subject:         in.Subject,
		TargetURL:       target,
		PageCount:       pageCount,
		CreditsRequired: credits,
		Metadata:        metadata,
	})
	if err != nil {
		return nil, err
	}

	s.log.Info("quote created",
		zap.String("quote_id", quote.ID.String()),
		zap.String("subject", in.Subject),
		zap.Int64("page_count", pageCount),
		zap.Int64("credits", credits),
		zap.String("source", estimate.Source),
	)

	return &orchestratordomain.EstimateResult{
		Quote:      quote,
		PageCount:  pageCount,
		Credits:    credits,
		CostUSD:    pricing.CostUSD(credits),
		Breakdown:  pricing.Breakdown(pageCount, credits, s.devMode),
		Waived:     s.devMode,
		Source:     estimate.Source,
		Confidence: estimate.Confidence,
	}, nil
}

func (s *Service) Run(ctx context.Context, in orchestratordomain.RunInput) (*orchestratordomain.RunResult, error) {
	quote, err := s.quotes.Claim(ctx, in.QuoteID, in.Subject)
	if err != nil {
		return nil, err
	}

	charged := int64(0)
	if !s.devMode {
		ref := ledgerdomain.Reference{Type: ledgerdomain.ReferenceTypeAudit, ID: in.QuoteID.String()}
		description := fmt.Sprintf("Site audit of %s (%d pages)", quote.TargetURL, quote.PageCount)
		if err := s.ledger.Debit(ctx, in.Subject, quote.CreditsRequired, ref, description); err != nil {
			// Nothing has been charged or dispatched: put the quote
			// back so a top-up can retry it.
			if releaseErr := s.quotes.Release(ctx, in.QuoteID); releaseErr != nil {
				s.log.Error("quote release after failed debit",
					zap.String("quote_id", in.QuoteID.String()),
					zap.Error(releaseErr),
				)
			}
			return nil, err
		}
		charged = quote.CreditsRequired
	}

	if err := s.quotes.MarkApproved(ctx, in.QuoteID); err != nil {
		s.compensate(ctx, nil, quote, in.Subject, charged, "quote approval failed")
		return nil, err
	}

	job := &jobdomain.AuditJob{
		ID:             s.genID.Generate(),
		QuoteID:        &quote.ID,
		Subject:        in.Subject,
		TargetURL:      quote.TargetURL,
		PageCount:      quote.PageCount,
		CreditsCharged: charged,
		Status:         jobdomain.JobStatusQueued,
		Results:        datatypes.JSONMap{},
		CreatedAt:      time.Now().UTC(),
	}
	if err := s.db.WithContext(ctx).Create(job).Error; err != nil {
		s.compensate(ctx, nil, quote, in.Subject, charged, "job creation failed")
		return nil, err
	}

	// A run-time selection overrides the one priced into the quote;
	// either way the subset rides along in every worker payload.
	pages := in.SelectedURLs
	if len(pages) == 0 {
		pages = quote.SelectedURLs()
	}

	result, err := s.dispatcher.Submit(ctx, job, pages, dispatchservice.DefaultWorkUnits())
	if err != nil {
		// Zero tasks reached the queue. The job failed before it
		// started; refund the full charge.
		s.compensate(ctx, job, quote, in.Subject, charged, err.Error())
		return nil, fmt.Errorf("%w: %v", orchestratordomain.ErrDispatchFailed, err)
	}

	// Work is in flight from here on. The guard keeps a callback
	// that already moved the job along from being clobbered.
	if err := s.db.WithContext(ctx).Exec(
		`UPDATE audit_jobs SET status = ? WHERE id = ? AND status = ?`,
		jobdomain.JobStatusProcessing, job.ID, jobdomain.JobStatusQueued,
	).Error; err != nil {
		s.log.Warn("job processing transition failed",
			zap.String("job_id", job.ID.String()),
			zap.Error(err),
		)
	}
	job.Status = jobdomain.JobStatusProcessing

	s.metrics.JobDispatched(s.devMode)
	if charged > 0 {
		s.metrics.CreditsMoved("debit", charged)
	}

	if publishErr := s.outbox.Publish(ctx, events.Event{
		JobID: job.ID,
		Type:  events.EventJobDispatched,
		Payload: events.JobEventPayload{
			JobID:          job.ID.String(),
			Subject:        in.Subject,
			Status:         string(jobdomain.JobStatusProcessing),
			CreditsCharged: charged,
		}.ToMap(),
		DedupeKey: fmt.Sprintf("job-dispatched-%s", job.ID.String()),
	}); publishErr != nil {
		s.log.Warn("dispatch event publish failed",
			zap.String("job_id", job.ID.String()),
			zap.Error(publishErr),
		)
	}

	queued := len(result.Tasks) - len(result.Failed)
	s.log.Info("audit dispatched",
		zap.String("job_id", job.ID.String()),
		zap.String("quote_id", in.QuoteID.String()),
		zap.Int64("credits_charged", charged),
		zap.Int("tasks_queued", queued),
		zap.Int("tasks_failed", len(result.Failed)),
	)

	return &orchestratordomain.RunResult{
		Job:            job,
		CreditsCharged: charged,
		TasksQueued:    queued,
		Failed:         result.Failed,
	}, nil
}

// compensate unwinds a run that charged credits but never dispatched:
// the quote fails, the job (when one exists) fails, and the charge is
// refunded. Refund failure is logged at critical severity because it
// leaves real money stuck.
func (s *Service) compensate(ctx context.Context, job *jobdomain.AuditJob, quote *quotedomain.Quote, subject string, charged int64, cause string) {
	if err := s.quotes.MarkFailed(ctx, quote.ID); err != nil {
		s.log.Error("quote fail transition during compensation",
			zap.String("quote_id", quote.ID.String()),
			zap.Error(err),
		)
	}

	if job != nil {
		now := time.Now().UTC()
		if err := s.db.WithContext(ctx).Exec(
			`UPDATE audit_jobs SET status = ?, error_message = ?, completed_at = ?
			 WHERE id = ? AND status NOT IN (?, ?)`,
			jobdomain.JobStatusFailed,
			cause,
			now,
			job.ID,
			jobdomain.JobStatusCompleted,
			jobdomain.JobStatusFailed,
		).Error; err != nil {
			s.log.Error("job fail transition during compensation",
				zap.String("job_id", job.ID.String()),
				zap.Error(err),
			)
		}
	}

	if charged > 0 {
		// The refund references the failed job once one exists; only
		// the pre-job failure paths fall back to the quote.
		ref := ledgerdomain.Reference{Type: ledgerdomain.ReferenceTypeAuditRefund, ID: quote.ID.String()}
		if job != nil {
			ref.ID = job.ID.String()
		}
		description := fmt.Sprintf("Refund: %s", cause)
		if err := s.ledger.Credit(ctx, subject, charged, ref, description); err != nil {
			s.log.Error("refund failed during compensation",
				zap.String("quote_id", quote.ID.String()),
				zap.String("subject", subject),
				zap.Int64("amount", charged),
				zap.String("severity", "critical"),
				zap.Error(err),
			)
			return
		}
		s.metrics.CreditsMoved("refund", charged)
		if job != nil {
			if err := s.outbox.Publish(ctx, events.Event{
				JobID: job.ID,
				Type:  events.EventRefundIssued,
				Payload: events.JobEventPayload{
					JobID:    job.ID.String(),
					Subject:  subject,
					Refunded: charged,
				}.ToMap(),
				DedupeKey: fmt.Sprintf("job-refund-%s", job.ID.String()),
			}); err != nil {
				s.log.Warn("refund event publish failed",
					zap.String("job_id", job.ID.String()),
					zap.Error(err),
				)
			}
		}
	}
}
