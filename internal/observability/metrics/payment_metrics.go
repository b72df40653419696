package metrics

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/prometheus/client_golang/prometheus"
	"gorm.io/gorm"
)

const (
	ReasonDeadlineExceeded     = "deadline_exceeded"
	ReasonDBLockTimeout        = "db_lock_timeout"
	ReasonSerializationFailure = "serialization_failure"
	ReasonUniqueViolation      = "unique_violation"
	ReasonCheckViolation       = "check_violation"
	ReasonDB                   = "db"
	ReasonUnknown              = "unknown"
)

const (
	GatewayOpCreateOrder  = "create_order"
	GatewayOpFetchPayment = "fetch_payment"
	GatewayOpFetchOrder   = "fetch_order"
)

// PaymentMetrics tracks reconciliation health: gateway latency, verification
// failures and webhook deliveries. All labels are bounded enums.
type PaymentMetrics struct {
	gatewayLatency  *prometheus.HistogramVec
	gatewayErrors   *prometheus.CounterVec
	reconcileErrors *prometheus.CounterVec
	webhookEvents   *prometheus.CounterVec
}

var (
	paymentMetricsOnce sync.Once
	paymentMetrics     *PaymentMetrics
)

// Payments returns the process-wide payment metrics registered on the default registry.
func Payments(cfg Config) *PaymentMetrics {
	paymentMetricsOnce.Do(func() {
		paymentMetrics = NewPaymentMetrics(prometheus.DefaultRegisterer, cfg)
	})
	return paymentMetrics
}

func NewPaymentMetrics(registerer prometheus.Registerer, cfg Config) *PaymentMetrics {
	if registerer == nil {
		registerer = prometheus.DefaultRegisterer
	}
	constLabels := constLabelsFor(cfg)

	m := &PaymentMetrics{
		gatewayLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:        "callsight_gateway_request_duration_seconds",
			Help:        "Payment gateway call latency by operation.",
			Buckets:     []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10},
			ConstLabels: constLabels,
		}, []string{"op"}),
		gatewayErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name:        "callsight_gateway_errors_total",
			Help:        "Payment gateway call failures by operation.",
			ConstLabels: constLabels,
		}, []string{"op"}),
		reconcileErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name:        "callsight_payment_reconcile_errors_total",
			Help:        "Payment reconciliation failures by source and reason.",
			ConstLabels: constLabels,
		}, []string{"source", "reason"}),
		webhookEvents: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name:        "callsight_payment_webhook_events_total",
			Help:        "Gateway webhook deliveries by event and result.",
			ConstLabels: constLabels,
		}, []string{"event", "result"}),
	}
	registerer.MustRegister(m.gatewayLatency, m.gatewayErrors, m.reconcileErrors, m.webhookEvents)
	return m
}

func (m *PaymentMetrics) ObserveGatewayCall(op string, duration time.Duration, err error) {
	if m == nil {
		return
	}
	m.gatewayLatency.WithLabelValues(op).Observe(duration.Seconds())
	if err != nil {
		m.gatewayErrors.WithLabelValues(op).Inc()
	}
}

// IncReconcileError counts a failed verification. reason overrides the
// classifier when the caller already knows the domain failure.
func (m *PaymentMetrics) IncReconcileError(source, reason string, err error) {
	if m == nil {
		return
	}
	if reason == "" {
		reason = ClassifyReason(err)
	}
	m.reconcileErrors.WithLabelValues(source, reason).Inc()
}

func (m *PaymentMetrics) IncWebhookEvent(event, result string) {
	if m == nil {
		return
	}
	m.webhookEvents.WithLabelValues(event, result).Inc()
}

// ClassifyReason maps storage and context errors to a bounded reason label.
func ClassifyReason(err error) string {
	switch {
	case err == nil:
		return ReasonUnknown
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, context.Canceled):
		return ReasonDeadlineExceeded
	case hasPGCode(err, "55P03"):
		return ReasonDBLockTimeout
	case hasPGCode(err, "40001"):
		return ReasonSerializationFailure
	case errors.Is(err, gorm.ErrDuplicatedKey), hasPGCode(err, "23505"):
		return ReasonUniqueViolation
	case errors.Is(err, gorm.ErrCheckConstraintViolated), hasPGCode(err, "23514"):
		return ReasonCheckViolation
	case isDBError(err):
		return ReasonDB
	default:
		return ReasonUnknown
	}
}

func hasPGCode(err error, code string) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == code
}

func isDBError(err error) bool {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return false
	}
	if errors.Is(err, gorm.ErrInvalidDB) ||
		errors.Is(err, gorm.ErrInvalidTransaction) ||
		errors.Is(err, gorm.ErrMissingWhereClause) {
		return true
	}
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr)
}
