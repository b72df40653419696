package metrics

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"gorm.io/gorm"
)

func TestClassifyReason(t *testing.T) {
	cases := []struct {
		name string
		err  error
		want string
	}{
		{"nil", nil, ReasonUnknown},
		{"deadline", fmt.Errorf("wrap: %w", context.DeadlineExceeded), ReasonDeadlineExceeded},
		{"lock timeout", &pgconn.PgError{Code: "55P03"}, ReasonDBLockTimeout},
		{"serialization", &pgconn.PgError{Code: "40001"}, ReasonSerializationFailure},
		{"duplicate", gorm.ErrDuplicatedKey, ReasonUniqueViolation},
		{"pg unique", &pgconn.PgError{Code: "23505"}, ReasonUniqueViolation},
		{"check", &pgconn.PgError{Code: "23514"}, ReasonCheckViolation},
		{"other pg", &pgconn.PgError{Code: "08006"}, ReasonDB},
		{"business", errors.New("invalid_signature"), ReasonUnknown},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := ClassifyReason(tc.err); got != tc.want {
				t.Fatalf("expected %s, got %s", tc.want, got)
			}
		})
	}
}

func TestPaymentMetricsCounters(t *testing.T) {
	registry := prometheus.NewRegistry()
	m := NewPaymentMetrics(registry, Config{ServiceName: "callsight", Environment: "test"})

	m.IncReconcileError("webhook", "", &pgconn.PgError{Code: "40001"})
	m.IncReconcileError("client", "invalid_signature", nil)
	m.ObserveGatewayCall(GatewayOpFetchPayment, 20*time.Millisecond, errors.New("boom"))
	m.IncWebhookEvent("payment.captured", "credited")

	if got := testutil.ToFloat64(m.reconcileErrors.WithLabelValues("webhook", ReasonSerializationFailure)); got != 1 {
		t.Fatalf("expected 1 serialization failure, got %v", got)
	}
	if got := testutil.ToFloat64(m.reconcileErrors.WithLabelValues("client", "invalid_signature")); got != 1 {
		t.Fatalf("expected 1 invalid signature, got %v", got)
	}
	if got := testutil.ToFloat64(m.gatewayErrors.WithLabelValues(GatewayOpFetchPayment)); got != 1 {
		t.Fatalf("expected 1 gateway error, got %v", got)
	}
	if got := testutil.ToFloat64(m.webhookEvents.WithLabelValues("payment.captured", "credited")); got != 1 {
		t.Fatalf("expected 1 webhook event, got %v", got)
	}
}

func TestHTTPMetricsMiddleware(t *testing.T) {
	gin.SetMode(gin.TestMode)
	registry := prometheus.NewRegistry()
	m := newHTTPMetrics(registry, Config{})

	router := gin.New()
	router.Use(m.GinMiddleware())
	router.GET("/health", func(c *gin.Context) { c.Status(http.StatusOK) })

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))

	if got := testutil.ToFloat64(m.requests.WithLabelValues("GET", "/health", "2xx")); got != 1 {
		t.Fatalf("expected 1 request sample, got %v", got)
	}
}
