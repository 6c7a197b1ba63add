package server

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	billingdomain "github.com/smallbiznis/creditledger/internal/billing/domain"
	billingeventdomain "github.com/smallbiznis/creditledger/internal/billingevent/domain"
	"github.com/smallbiznis/creditledger/internal/config"
	ledgerdomain "github.com/smallbiznis/creditledger/internal/ledger/domain"
	"github.com/smallbiznis/creditledger/internal/observability"
	obslogger "github.com/smallbiznis/creditledger/internal/observability/logger"
	obsmetrics "github.com/smallbiznis/creditledger/internal/observability/metrics"
	obstracing "github.com/smallbiznis/creditledger/internal/observability/tracing"
	paymentdomain "github.com/smallbiznis/creditledger/internal/payment/domain"
	plandomain "github.com/smallbiznis/creditledger/internal/plan/domain"
	"github.com/smallbiznis/creditledger/internal/ratelimit"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

const defaultHTTPAddr = ":8080"

var Module = fx.Module("http.server",
	fx.Provide(registerGin),
	fx.Provide(NewServer),
	fx.Invoke(func(*Server) {}),
	fx.Invoke(run),
)

func NewEngine(obsCfg observability.Config, httpMetrics *obsmetrics.HTTPMetrics) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(obslogger.GinMiddleware(obslogger.MiddlewareConfig{
		Debug:           obsCfg.Debug(),
		ErrorClassifier: classifyErrorForLog,
	}))
	r.Use(obstracing.GinMiddleware())
	r.Use(obsmetrics.GinMiddleware(httpMetrics))
	r.Use(ErrorHandlingMiddleware())

	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	return r
}

func registerGin(obsCfg observability.Config, httpMetrics *obsmetrics.HTTPMetrics) *gin.Engine {
	return NewEngine(obsCfg, httpMetrics)
}

func run(lc fx.Lifecycle, cfg config.Config, r *gin.Engine, log *zap.Logger) {
	addr := strings.TrimSpace(cfg.HTTPAddr)
	if addr == "" {
		addr = defaultHTTPAddr
	}
	srv := &http.Server{
		Addr:              addr,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			go func() {
				if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
					log.Fatal("http server stopped", zap.Error(err))
				}
			}()
			log.Info("http server listening", zap.String("addr", addr))
			return nil
		},
		OnStop: func(ctx context.Context) error {
			shutdownCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
			defer cancel()
			return srv.Shutdown(shutdownCtx)
		},
	})
}

type Server struct {
	engine        *gin.Engine
	cfg           config.Config
	log           *zap.Logger
	planSvc       plandomain.Service
	ledgerSvc     ledgerdomain.Service
	billingSvc    billingdomain.Service
	paymentSvc    paymentdomain.Service
	ingress       billingeventdomain.Ingress
	deductLimiter *ratelimit.DeductLimiter
	obsMetrics    *obsmetrics.Metrics
}

type ServerParams struct {
	fx.In

	Gin           *gin.Engine
	Cfg           config.Config
	Log           *zap.Logger
	PlanSvc       plandomain.Service
	LedgerSvc     ledgerdomain.Service
	BillingSvc    billingdomain.Service
	PaymentSvc    paymentdomain.Service
	Ingress       billingeventdomain.Ingress
	DeductLimiter *ratelimit.DeductLimiter `optional:"true"`
	ObsMetrics    *obsmetrics.Metrics      `optional:"true"`
}

func NewServer(p ServerParams) *Server {
	svc := &Server{
		engine:        p.Gin,
		cfg:           p.Cfg,
		log:           p.Log.Named("http"),
		planSvc:       p.PlanSvc,
		ledgerSvc:     p.LedgerSvc,
		billingSvc:    p.BillingSvc,
		paymentSvc:    p.PaymentSvc,
		ingress:       p.Ingress,
		deductLimiter: p.DeductLimiter,
		obsMetrics:    p.ObsMetrics,
	}

	svc.registerWebhookRoutes()
	svc.registerAPIRoutes()
	svc.registerAdminRoutes()
	svc.registerFallback()

	return svc
}

func (s *Server) Engine() *gin.Engine {
	return s.engine
}

func (s *Server) registerWebhookRoutes() {
	s.engine.POST("/webhooks/:provider", s.HandleProviderWebhook)
}

func (s *Server) registerAPIRoutes() {
	api := s.engine.Group("/api")

	api.GET("/plans", s.ListPlans)
	api.GET("/plans/:slug", s.GetPlan)

	accounts := api.Group("/accounts/:account_id")
	{
		accounts.GET("/status", s.GetStatus)
		accounts.GET("/balance", s.GetBalance)
		accounts.GET("/usage", s.ListUsage)
		accounts.POST("/credits/check", s.CheckCredits)
		accounts.POST("/credits/deduct", s.DeductRateLimit(), s.DeductCredits)

		accounts.POST("/checkout", s.StartCheckout)
		accounts.POST("/billing-portal", s.OpenBillingPortal)
		accounts.POST("/cancel", s.CancelSubscription)
		accounts.POST("/reactivate", s.ReactivateSubscription)
		accounts.POST("/change-plan", s.ChangePlan)

		accounts.GET("/payments", s.ListAccountPayments)
		accounts.GET("/payments/:invoice_id/receipt", s.DownloadReceipt)
	}
}

func (s *Server) registerAdminRoutes() {
	admin := s.engine.Group("/admin", s.AdminAuthRequired())
	{
		admin.POST("/accounts/:account_id", s.OpenAccount)
		admin.POST("/accounts/:account_id/credits", s.GrantCredits)

		admin.GET("/payments", s.ListPayments)

		admin.GET("/plans", s.ListPlans)
		admin.PATCH("/plans/:tier", s.UpdatePlan)

		admin.POST("/billing-events/replay", s.ReplayBillingEvents)
	}
}

func (s *Server) registerFallback() {
	s.engine.NoRoute(func(c *gin.Context) {
		AbortWithError(c, ErrNotFound)
	})
}
