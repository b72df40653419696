package server

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/smallbiznis/callsight/internal/analysis"
	auditdomain "github.com/smallbiznis/callsight/internal/audit/domain"
	authdomain "github.com/smallbiznis/callsight/internal/auth/domain"
	"github.com/smallbiznis/callsight/internal/authorization"
	"github.com/smallbiznis/callsight/internal/clock"
	"github.com/smallbiznis/callsight/internal/config"
	invitationdomain "github.com/smallbiznis/callsight/internal/invitation/domain"
	invoicedomain "github.com/smallbiznis/callsight/internal/invoice/domain"
	ledgerdomain "github.com/smallbiznis/callsight/internal/ledger/domain"
	"github.com/smallbiznis/callsight/internal/observability"
	obsmiddleware "github.com/smallbiznis/callsight/internal/observability/logger"
	obsmetrics "github.com/smallbiznis/callsight/internal/observability/metrics"
	obstracing "github.com/smallbiznis/callsight/internal/observability/tracing"
	organizationdomain "github.com/smallbiznis/callsight/internal/organization/domain"
	paymentdomain "github.com/smallbiznis/callsight/internal/payment/domain"
	"github.com/smallbiznis/callsight/internal/providers/pdf"
	quotadomain "github.com/smallbiznis/callsight/internal/quota/domain"
	"github.com/smallbiznis/callsight/internal/ratelimit"
	usagedomain "github.com/smallbiznis/callsight/internal/usage/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

var Module = fx.Module("http.server",
	fx.Provide(NewEngine),
	fx.Provide(NewServer),
	fx.Invoke(func(*Server) {}),
	fx.Invoke(RunHTTP),
)

func NewEngine(obsCfg observability.Config, httpMetrics *obsmetrics.HTTPMetrics) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(obsmiddleware.GinMiddleware(obsmiddleware.MiddlewareConfig{
		Debug:           obsCfg.Debug(),
		ErrorClassifier: classifyErrorForLog,
	}))
	r.Use(obstracing.GinMiddleware())
	r.Use(httpMetrics.GinMiddleware())
	r.Use(ErrorHandlingMiddleware())

	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	return r
}

func RunHTTP(lc fx.Lifecycle, cfg config.Config, r *gin.Engine, log *zap.Logger) {
	srv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			go func() {
				log.Info("http server listening", zap.String("addr", srv.Addr))
				if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					log.Fatal("http server stopped", zap.Error(err))
				}
			}()
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
	engine          *gin.Engine
	cfg             config.Config
	clock           clock.Clock
	authenticator   authdomain.Authenticator
	authzSvc        authorization.Service
	organizationSvc organizationdomain.Service
	invitationSvc   invitationdomain.Service
	quotaSvc        quotadomain.Service
	usageSvc        usagedomain.Service
	ledgerSvc       ledgerdomain.Service
	auditSvc        auditdomain.Service
	orderSvc        paymentdomain.OrderService
	verificationSvc paymentdomain.VerificationService
	webhookSvc      paymentdomain.WebhookService
	invoiceSvc      invoicedomain.Service
	pdf             pdf.Provider
	analyzer        analysis.Analyzer
	paymentLimiter  *ratelimit.PaymentLimiter
	obsMetrics      *obsmetrics.Metrics
}

type ServerParams struct {
	fx.In

	Gin             *gin.Engine
	Cfg             config.Config
	Clock           clock.Clock
	Authenticator   authdomain.Authenticator
	AuthzSvc        authorization.Service
	OrganizationSvc organizationdomain.Service
	InvitationSvc   invitationdomain.Service
	QuotaSvc        quotadomain.Service
	UsageSvc        usagedomain.Service
	LedgerSvc       ledgerdomain.Service
	AuditSvc        auditdomain.Service
	OrderSvc        paymentdomain.OrderService
	VerificationSvc paymentdomain.VerificationService
	WebhookSvc      paymentdomain.WebhookService
	InvoiceSvc      invoicedomain.Service
	PDF             pdf.Provider
	Analyzer        analysis.Analyzer
	PaymentLimiter  *ratelimit.PaymentLimiter `optional:"true"`
	ObsMetrics      *obsmetrics.Metrics       `optional:"true"`
}

func NewServer(p ServerParams) *Server {
	svc := &Server{
		engine:          p.Gin,
		cfg:             p.Cfg,
		clock:           p.Clock,
		authenticator:   p.Authenticator,
		authzSvc:        p.AuthzSvc,
		organizationSvc: p.OrganizationSvc,
		invitationSvc:   p.InvitationSvc,
		quotaSvc:        p.QuotaSvc,
		usageSvc:        p.UsageSvc,
		ledgerSvc:       p.LedgerSvc,
		auditSvc:        p.AuditSvc,
		orderSvc:        p.OrderSvc,
		verificationSvc: p.VerificationSvc,
		webhookSvc:      p.WebhookSvc,
		invoiceSvc:      p.InvoiceSvc,
		pdf:             p.PDF,
		analyzer:        p.Analyzer,
		paymentLimiter:  p.PaymentLimiter,
		obsMetrics:      p.ObsMetrics,
	}

	svc.registerPaymentRoutes()
	svc.registerInvoiceRoutes()
	svc.registerOrganizationRoutes()
	svc.registerAdminRoutes()

	return svc
}

func (s *Server) Engine() *gin.Engine {
	return s.engine
}

func (s *Server) registerPaymentRoutes() {
	payments := s.engine.Group("/payments")

	// Gateway deliveries carry no user token; the signature is the auth.
	payments.POST("/webhook", s.PaymentWebhook)

	payments.POST("/create-order", s.AuthRequired(), s.PaymentRateLimit(), s.CreatePaymentOrder)
	payments.POST("/verify", s.AuthRequired(), s.PaymentRateLimit(), s.VerifyPayment)
}

func (s *Server) registerInvoiceRoutes() {
	invoice := s.engine.Group("/invoice", s.AuthRequired())

	invoice.POST("/generate", s.GenerateInvoice)
	invoice.GET("/:paymentId/pdf", s.DownloadInvoicePDF)
}

func (s *Server) registerOrganizationRoutes() {
	s.engine.POST("/invitations/accept", s.AuthRequired(), s.AcceptInvitation)

	orgs := s.engine.Group("/orgs", s.AuthRequired())
	orgs.POST("", s.CreateOrganization)

	org := orgs.Group("/:id")
	{
		org.GET("", s.authorizeOrgAction(authorization.ObjectOrganization, authorization.ActionOrganizationView), s.GetOrganization)

		// Invitation authorization lives in the invitation service.
		org.POST("/invitations", s.CreateInvitation)
		org.GET("/invitations", s.ListInvitations)

		org.POST("/quota/check", s.authorizeOrgAction(authorization.ObjectQuota, authorization.ActionQuotaCheck), s.CheckQuota)
		org.POST("/calls/analyze", s.authorizeOrgAction(authorization.ObjectCall, authorization.ActionCallAnalyze), s.AnalyzeCall)

		org.GET("/ledger/transactions", s.authorizeOrgAction(authorization.ObjectLedger, authorization.ActionLedgerView), s.ListLedgerTransactions)
		org.GET("/audit-logs", s.authorizeOrgAction(authorization.ObjectAuditLog, authorization.ActionAuditLogView), s.ListAuditLogs)
	}
}

func (s *Server) registerAdminRoutes() {
	admin := s.engine.Group("/admin", s.AuthRequired())

	admin.POST("/payments/reconcile", s.ReconcilePayment)
	admin.GET("/orgs/:id/ledger/reconcile",
		s.authorizeOrgAction(authorization.ObjectLedger, authorization.ActionLedgerReconcile),
		s.ReconcileLedger,
	)
}
