package service

import (
	"github.com/bwmarrin/snowflake"
	auditdomain "github.com/smallbiznis/callsight/internal/audit/domain"
	"github.com/smallbiznis/callsight/internal/clock"
	"github.com/smallbiznis/callsight/internal/config"
	invoicedomain "github.com/smallbiznis/callsight/internal/invoice/domain"
	"github.com/smallbiznis/callsight/internal/invoice/render"
	ledgerdomain "github.com/smallbiznis/callsight/internal/ledger/domain"
	obsmetrics "github.com/smallbiznis/callsight/internal/observability/metrics"
	orgdomain "github.com/smallbiznis/callsight/internal/organization/domain"
	paymentdomain "github.com/smallbiznis/callsight/internal/payment/domain"
	"github.com/smallbiznis/callsight/internal/providers/email"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type Params struct {
	fx.In

	DB             *gorm.DB
	Log            *zap.Logger
	GenID          *snowflake.Node
	Clock          clock.Clock
	Cfg            config.Config
	Plans          *config.PlanCatalogHolder
	Gateway        paymentdomain.Gateway
	Repo           paymentdomain.Repository
	LedgerSvc      ledgerdomain.Service
	OrgSvc         orgdomain.Service
	InvoiceSvc     invoicedomain.Service
	Renderer       render.Renderer
	Email          email.Provider
	AuditSvc       auditdomain.Service
	Metrics        *obsmetrics.Metrics        `optional:"true"`
	PaymentMetrics *obsmetrics.PaymentMetrics `optional:"true"`
}

// Service creates gateway orders and turns captured payments into ledger
// credits or subscription changes.
type Service struct {
	db             *gorm.DB
	log            *zap.Logger
	genID          *snowflake.Node
	clock          clock.Clock
	keySecret      string
	plans          *config.PlanCatalogHolder
	gateway        paymentdomain.Gateway
	repo           paymentdomain.Repository
	ledgerSvc      ledgerdomain.Service
	orgSvc         orgdomain.Service
	invoiceSvc     invoicedomain.Service
	renderer       render.Renderer
	email          email.Provider
	auditSvc       auditdomain.Service
	metrics        *obsmetrics.Metrics
	paymentMetrics *obsmetrics.PaymentMetrics
}

func NewService(p Params) *Service {
	return &Service{
		db:             p.DB,
		log:            p.Log.Named("payment.service"),
		genID:          p.GenID,
		clock:          p.Clock,
		keySecret:      p.Cfg.Gateway.KeySecret,
		plans:          p.Plans,
		gateway:        p.Gateway,
		repo:           p.Repo,
		ledgerSvc:      p.LedgerSvc,
		orgSvc:         p.OrgSvc,
		invoiceSvc:     p.InvoiceSvc,
		renderer:       p.Renderer,
		email:          p.Email,
		auditSvc:       p.AuditSvc,
		metrics:        p.Metrics,
		paymentMetrics: p.PaymentMetrics,
	}
}
