package metrics

import (
	"errors"
	"strings"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

// AuditMetrics counts audit pipeline outcomes and credit movement.
type AuditMetrics struct {
	jobsDispatched *prometheus.CounterVec
	jobsFinished   *prometheus.CounterVec
	tasksFinished  *prometheus.CounterVec
	creditsMoved   *prometheus.CounterVec
	quotesExpired  prometheus.Counter
}

var (
	auditMetricsOnce sync.Once
	auditMetrics     *AuditMetrics
)

func Audit() *AuditMetrics {
	return AuditWithConfig(Config{})
}

func AuditWithConfig(cfg Config) *AuditMetrics {
	auditMetricsOnce.Do(func() {
		auditMetrics = newAuditMetrics(prometheus.DefaultRegisterer, cfg)
	})
	return auditMetrics
}

func ResetAuditMetricsForTest() {
	auditMetricsOnce = sync.Once{}
	auditMetrics = nil
}

func newAuditMetrics(registerer prometheus.Registerer, cfg Config) *AuditMetrics {
	if registerer == nil {
		registerer = prometheus.DefaultRegisterer
	}

	serviceName := strings.TrimSpace(cfg.ServiceName)
	if serviceName == "" {
		serviceName = "seo-pro"
	}
	environment := strings.TrimSpace(cfg.Environment)
	if environment == "" {
		environment = "unknown"
	}

	constLabels := prometheus.Labels{
		"service": serviceName,
		"env":     environment,
	}

	jobsDispatched := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name:        "seopro_audit_jobs_dispatched_total",
			Help:        "Audit jobs accepted and fanned out to workers.",
			ConstLabels: constLabels,
		},
		[]string{"waived"}, // true | false
	)

	jobsFinished := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name:        "seopro_audit_jobs_finished_total",
			Help:        "Audit jobs reaching a terminal status.",
			ConstLabels: constLabels,
		},
		[]string{"status"}, // completed | failed
	)

	tasksFinished := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name:        "seopro_audit_tasks_finished_total",
			Help:        "Analysis tasks reaching a terminal status.",
			ConstLabels: constLabels,
		},
		[]string{"kind", "status"},
	)

	creditsMoved := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name:        "seopro_credits_moved_total",
			Help:        "Credits moved through the ledger by direction.",
			ConstLabels: constLabels,
		},
		[]string{"direction"}, // debit | credit | refund
	)

	quotesExpired := prometheus.NewCounter(
		prometheus.CounterOpts{
			Name:        "seopro_quotes_expired_total",
			Help:        "Quotes lapsed by the expiry sweeper or lazy expiry.",
			ConstLabels: constLabels,
		},
	)

	for _, collector := range []prometheus.Collector{jobsDispatched, jobsFinished, tasksFinished, creditsMoved, quotesExpired} {
		if err := registerer.Register(collector); err != nil {
			var already prometheus.AlreadyRegisteredError
			if !errors.As(err, &already) {
				panic(err)
			}
		}
	}

	return &AuditMetrics{
		jobsDispatched: jobsDispatched,
		jobsFinished:   jobsFinished,
		tasksFinished:  tasksFinished,
		creditsMoved:   creditsMoved,
		quotesExpired:  quotesExpired,
	}
}

func (m *AuditMetrics) JobDispatched(waived bool) {
	if m == nil {
		return
	}
	label := "false"
	if waived {
		label = "true"
	}
	m.jobsDispatched.WithLabelValues(label).Inc()
}

func (m *AuditMetrics) JobFinished(status string) {
	if m == nil {
		return
	}
	m.jobsFinished.WithLabelValues(status).Inc()
}

func (m *AuditMetrics) TaskFinished(kind, status string) {
	if m == nil {
		return
	}
	m.tasksFinished.WithLabelValues(kind, status).Inc()
}

func (m *AuditMetrics) CreditsMoved(direction string, amount int64) {
	if m == nil || amount <= 0 {
		return
	}
	m.creditsMoved.WithLabelValues(direction).Add(float64(amount))
}

func (m *AuditMetrics) QuotesExpired(count int64) {
	if m == nil || count <= 0 {
		return
	}
	m.quotesExpired.Add(float64(count))
}
