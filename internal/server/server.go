package server

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	authpkg "github.com/hashangit/seo-pro/internal/auth"
	"github.com/hashangit/seo-pro/internal/auditlog"
	"github.com/hashangit/seo-pro/internal/config"
	creditrequestdomain "github.com/hashangit/seo-pro/internal/creditrequest/domain"
	jobdomain "github.com/hashangit/seo-pro/internal/job/domain"
	ledgerdomain "github.com/hashangit/seo-pro/internal/ledger/domain"
	"github.com/hashangit/seo-pro/internal/observability/logger"
	"github.com/hashangit/seo-pro/internal/observability/metrics"
	orchestratordomain "github.com/hashangit/seo-pro/internal/orchestrator/domain"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type Params struct {
	fx.In

	DB               *gorm.DB
	Log              *zap.Logger
	Cfg              config.Config
	Verifier         *authpkg.Verifier
	Orchestrator     orchestratordomain.Service
	Jobs             jobdomain.Service
	Ledger           ledgerdomain.Service
	CreditRequests   creditrequestdomain.Service
	ActivityRecorder *auditlog.Recorder
	HTTPMetrics      *metrics.HTTPMetrics `optional:"true"`
}

// Server owns the HTTP surface: request parsing, authentication, and
// translation between transport and domain services.
type Server struct {
	db               *gorm.DB
	log              *zap.Logger
	cfg              config.Config
	engine           *gin.Engine
	verifier         *authpkg.Verifier
	orchestratorSvc  orchestratordomain.Service
	jobSvc           jobdomain.Service
	ledgerSvc        ledgerdomain.Service
	creditRequestSvc creditrequestdomain.Service
	recorder         *auditlog.Recorder
	limiter          *rateLimiter
}

func NewEngine(log *zap.Logger, cfg config.Config, httpMetrics *metrics.HTTPMetrics) *gin.Engine {
	if cfg.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	}
	engine := gin.New()
	engine.Use(gin.Recovery())
	engine.Use(logger.GinMiddleware(logger.MiddlewareConfig{
		Logger:    log.Named("http"),
		SkipPaths: []string{"/healthz", "/metrics"},
	}))
	if httpMetrics != nil {
		engine.Use(metrics.GinMiddleware(httpMetrics))
	}
	return engine
}

func NewServer(p Params, engine *gin.Engine) *Server {
	return &Server{
		db:               p.DB,
		log:              p.Log.Named("server"),
		cfg:              p.Cfg,
		engine:           engine,
		verifier:         p.Verifier,
		orchestratorSvc:  p.Orchestrator,
		jobSvc:           p.Jobs,
		ledgerSvc:        p.Ledger,
		creditRequestSvc: p.CreditRequests,
		recorder:         p.ActivityRecorder,
		limiter:          newRateLimiter(p.Cfg.RateLimitPerMin, time.Minute),
	}
}

func (s *Server) RegisterRoutes() {
	s.engine.GET("/healthz", s.Health)
	s.engine.GET("/metrics", gin.WrapH(promhttp.Handler()))

	api := s.engine.Group("/api")
	api.Use(s.AuthRequired(), s.RateLimit())
	{
		api.POST("/audits/estimate", s.EstimateAudit)
		api.POST("/audits/run", s.RunAudit)
		api.GET("/audits", s.ListAudits)
		api.GET("/audits/:id", s.GetAudit)

		api.GET("/credits/balance", s.GetBalance)
		api.GET("/credits/transactions", s.ListTransactions)
		api.POST("/credits/requests", s.CreateCreditRequest)
		api.GET("/credits/requests", s.ListCreditRequests)
	}

	admin := s.engine.Group("/api/admin")
	admin.Use(s.AuthRequired(), s.AdminRequired())
	{
		admin.GET("/credit-requests", s.ListPendingCreditRequests)
		admin.POST("/credit-requests/:id/approve", s.ApproveCreditRequest)
		admin.POST("/credit-requests/:id/reject", s.RejectCreditRequest)
	}

	// Worker callbacks arrive over the internal network, not through
	// the public gateway, so they skip bearer auth.
	s.engine.POST("/internal/tasks/callback", s.ReportTaskStatus)
}

func (s *Server) Health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func RunHTTP(lc fx.Lifecycle, s *Server) {
	srv := &http.Server{
		Addr:              s.cfg.HTTPAddr,
		Handler:           s.engine,
		ReadHeaderTimeout: 10 * time.Second,
	}

	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			s.log.Info("http server starting", zap.String("addr", s.cfg.HTTPAddr))
			go func() {
				if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
					s.log.Error("http server stopped", zap.Error(err))
				}
			}()
			return nil
		},
		OnStop: func(ctx context.Context) error {
			s.log.Info("http server shutting down")
			return srv.Shutdown(ctx)
		},
	})
}
