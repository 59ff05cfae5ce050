package server

import (
	"net/http"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/gin-gonic/gin"
	"github.com/hashangit/seo-pro/internal/auditlog"
	jobdomain "github.com/hashangit/seo-pro/internal/job/domain"
	orchestratordomain "github.com/hashangit/seo-pro/internal/orchestrator/domain"
)

type estimateRequest struct {
	URL          string   `json:"url"`
	SelectedURLs []string `json:"selected_urls"`
}

type estimateResponse struct {
	QuoteID         string    `json:"quote_id"`
	TargetURL       string    `json:"target_url"`
	PageCount       int64     `json:"page_count"`
	CreditsRequired int64     `json:"credits_required"`
	CostUSD         float64   `json:"cost_usd"`
	Breakdown       string    `json:"breakdown"`
	Waived          bool      `json:"waived"`
	Source          string    `json:"estimate_source"`
	ExpiresAt       time.Time `json:"expires_at"`
}

func (s *Server) EstimateAudit(c *gin.Context) {
	var req estimateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}
	if strings.TrimSpace(req.URL) == "" {
		AbortWithError(c, newValidationError("url", "required", "url is required"))
		return
	}

	result, err := s.orchestratorSvc.Estimate(c.Request.Context(), orchestratordomain.EstimateInput{
		Subject:      s.subject(c),
		TargetURL:    req.URL,
		SelectedURLs: req.SelectedURLs,
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}

	s.recorder.Record(c.Request.Context(), auditlog.Entry{
		Action:     auditlog.ActionQuoteCreated,
		TargetType: auditlog.TargetTypeQuote,
		TargetID:   result.Quote.ID.String(),
		Metadata: map[string]any{
			"target_url": result.Quote.TargetURL,
			"page_count": result.PageCount,
			"credits":    result.Credits,
		},
	})

	c.JSON(http.StatusOK, gin.H{"data": estimateResponse{
		QuoteID:         result.Quote.ID.String(),
		TargetURL:       result.Quote.TargetURL,
		PageCount:       result.PageCount,
		CreditsRequired: result.Credits,
		CostUSD:         result.CostUSD,
		Breakdown:       result.Breakdown,
		Waived:          result.Waived,
		Source:          result.Source,
		ExpiresAt:       result.Quote.ExpiresAt,
	}})
}

type runRequest struct {
	QuoteID      string   `json:"quote_id"`
	SelectedURLs []string `json:"selected_urls"`
}

func (s *Server) RunAudit(c *gin.Context) {
	var req runRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}
	quoteID, err := snowflake.ParseString(strings.TrimSpace(req.QuoteID))
	if err != nil {
		AbortWithError(c, newValidationError("quote_id", "invalid", "quote_id is not a valid id"))
		return
	}

	result, err := s.orchestratorSvc.Run(c.Request.Context(), orchestratordomain.RunInput{
		QuoteID:      quoteID,
		Subject:      s.subject(c),
		SelectedURLs: req.SelectedURLs,
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}

	s.recorder.Record(c.Request.Context(), auditlog.Entry{
		Action:     auditlog.ActionAuditStarted,
		TargetType: auditlog.TargetTypeJob,
		TargetID:   result.Job.ID.String(),
		Metadata: map[string]any{
			"quote_id":        req.QuoteID,
			"credits_charged": result.CreditsCharged,
			"tasks_queued":    result.TasksQueued,
		},
	})

	failedKinds := make([]string, 0, len(result.Failed))
	for _, failed := range result.Failed {
		failedKinds = append(failedKinds, failed.Kind)
	}

	c.JSON(http.StatusAccepted, gin.H{"data": gin.H{
		"job_id":          result.Job.ID.String(),
		"status":          result.Job.Status,
		"credits_charged": result.CreditsCharged,
		"tasks_queued":    result.TasksQueued,
		"failed_kinds":    failedKinds,
	}})
}

type taskView struct {
	TaskID      string         `json:"task_id"`
	Kind        string         `json:"kind"`
	Worker      string         `json:"worker"`
	Status      string         `json:"status"`
	Error       string         `json:"error,omitempty"`
	Result      map[string]any `json:"result,omitempty"`
	CompletedAt *time.Time     `json:"completed_at,omitempty"`
}

func (s *Server) GetAudit(c *gin.Context) {
	jobID, err := snowflake.ParseString(c.Param("id"))
	if err != nil {
		AbortWithError(c, ErrNotFound)
		return
	}

	job, err := s.jobSvc.GetOwned(c.Request.Context(), jobID, s.subject(c))
	if err != nil {
		AbortWithError(c, err)
		return
	}
	tasks, err := s.jobSvc.Tasks(c.Request.Context(), jobID)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	views := make([]taskView, 0, len(tasks))
	for _, task := range tasks {
		view := taskView{
			TaskID:      task.ID.String(),
			Kind:        task.Kind,
			Worker:      task.Worker,
			Status:      string(task.Status),
			Result:      task.Result,
			CompletedAt: task.CompletedAt,
		}
		if task.ErrorMessage != nil {
			view.Error = *task.ErrorMessage
		}
		views = append(views, view)
	}

	c.JSON(http.StatusOK, gin.H{"data": gin.H{
		"job_id":          job.ID.String(),
		"target_url":      job.TargetURL,
		"status":          job.Status,
		"credits_charged": job.CreditsCharged,
		"error":           job.ErrorMessage,
		"results":         job.Results,
		"created_at":      job.CreatedAt,
		"completed_at":    job.CompletedAt,
		"tasks":           views,
	}})
}

func (s *Server) ListAudits(c *gin.Context) {
	limit, offset := parsePage(c)
	jobs, err := s.jobSvc.List(c.Request.Context(), s.subject(c), limit, offset)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	items := make([]gin.H, 0, len(jobs))
	for _, job := range jobs {
		items = append(items, gin.H{
			"job_id":          job.ID.String(),
			"target_url":      job.TargetURL,
			"status":          job.Status,
			"credits_charged": job.CreditsCharged,
			"created_at":      job.CreatedAt,
			"completed_at":    job.CompletedAt,
		})
	}
	c.JSON(http.StatusOK, gin.H{"data": items})
}

type taskCallbackRequest struct {
	TaskID string         `json:"task_id"`
	JobID  string         `json:"job_id"`
	Status string         `json:"status"`
	Result map[string]any `json:"result"`
	Error  string         `json:"error"`
}

// ReportTaskStatus receives worker callbacks. Delivery is
// at-least-once; duplicates and out-of-order reports are absorbed by
// the completion tracker.
func (s *Server) ReportTaskStatus(c *gin.Context) {
	var req taskCallbackRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	taskID, err := snowflake.ParseString(strings.TrimSpace(req.TaskID))
	if err != nil {
		AbortWithError(c, newValidationError("task_id", "invalid", "task_id is not a valid id"))
		return
	}
	jobID, err := snowflake.ParseString(strings.TrimSpace(req.JobID))
	if err != nil {
		AbortWithError(c, newValidationError("job_id", "invalid", "job_id is not a valid id"))
		return
	}

	status := jobdomain.TaskStatus(strings.ToLower(strings.TrimSpace(req.Status)))
	if err := s.jobSvc.RecordTaskUpdate(c.Request.Context(), jobdomain.TaskUpdate{
		TaskID: taskID,
		JobID:  jobID,
		Status: status,
		Result: req.Result,
		Error:  req.Error,
	}); err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func parsePage(c *gin.Context) (int, int) {
	limit := intQuery(c, "limit", 50)
	offset := intQuery(c, "offset", 0)
	return limit, offset
}

func intQuery(c *gin.Context, name string, fallback int) int {
	raw := strings.TrimSpace(c.Query(name))
	if raw == "" {
		return fallback
	}
	value := 0
	for _, r := range raw {
		if r < '0' || r > '9' {
			return fallback
		}
		value = value*10 + int(r-'0')
		if value > 1000000 {
			return fallback
		}
	}
	return value
}
