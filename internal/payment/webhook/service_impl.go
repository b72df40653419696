package webhook

import (
	"context"
	"encoding/json"
	"errors"
	"strings"

	"github.com/smallbiznis/callsight/internal/config"
	obsmetrics "github.com/smallbiznis/callsight/internal/observability/metrics"
	paymentdomain "github.com/smallbiznis/callsight/internal/payment/domain"
	"github.com/smallbiznis/callsight/internal/payment/gateway/razorpay"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

const (
	EventPaymentCaptured   = "payment.captured"
	EventPaymentAuthorized = "payment.authorized"
	EventOrderPaid         = "order.paid"
)

type Params struct {
	fx.In

	Log      *zap.Logger
	Cfg      config.Config
	Verifier paymentdomain.VerificationService
	Metrics  *obsmetrics.PaymentMetrics `optional:"true"`
}

type Service struct {
	log      *zap.Logger
	secret   string
	verifier paymentdomain.VerificationService
	metrics  *obsmetrics.PaymentMetrics
}

func NewService(p Params) paymentdomain.WebhookService {
	return &Service{
		log:      p.Log.Named("payment.webhook"),
		secret:   strings.TrimSpace(p.Cfg.Gateway.WebhookSecret),
		verifier: p.Verifier,
		metrics:  p.Metrics,
	}
}

type webhookEvent struct {
	Event   string `json:"event"`
	Payload struct {
		Payment *struct {
			Entity paymentdomain.GatewayPayment `json:"entity"`
		} `json:"payment"`
		Order *struct {
			Entity paymentdomain.GatewayOrder `json:"entity"`
		} `json:"order"`
	} `json:"payload"`
}

// IngestWebhook authenticates a delivery and, for payment events, runs the
// same verification the client path uses. Once the signature is valid the
// delivery is acknowledged unless the gateway itself could not be reached;
// that case is returned so the gateway redelivers. Other failures are logged
// and left to the admin reconcile path.
func (s *Service) IngestWebhook(ctx context.Context, payload []byte, signature string) error {
	if !razorpay.VerifyWebhookSignature(s.secret, payload, signature) {
		s.log.Warn("webhook signature mismatch", zap.Bool("security_event", true))
		s.metrics.IncWebhookEvent("unknown", "invalid_signature")
		return paymentdomain.ErrInvalidSignature
	}

	var event webhookEvent
	if err := json.Unmarshal(payload, &event); err != nil {
		s.log.Warn("webhook payload unreadable", zap.Error(err))
		s.metrics.IncWebhookEvent("unknown", "invalid_payload")
		return nil
	}

	switch event.Event {
	case EventPaymentCaptured, EventPaymentAuthorized, EventOrderPaid:
	default:
		s.log.Debug("webhook event ignored", zap.String("event", event.Event))
		s.metrics.IncWebhookEvent("other", "ignored")
		return nil
	}

	paymentID, orderID := event.ids()
	if paymentID == "" || orderID == "" {
		s.log.Warn("webhook event missing ids", zap.String("event", event.Event))
		s.metrics.IncWebhookEvent(event.Event, "invalid_payload")
		return nil
	}

	result, err := s.verifier.VerifyAndCredit(ctx, paymentdomain.VerifyRequest{
		OrderID:   orderID,
		PaymentID: paymentID,
		Source:    paymentdomain.SourceWebhook,
	})
	if err != nil {
		s.log.Error("webhook verification failed",
			zap.String("event", event.Event),
			zap.String("payment_id", paymentID),
			zap.String("order_id", orderID),
			zap.Error(err),
		)
		var gwErr *paymentdomain.GatewayError
		if errors.As(err, &gwErr) {
			s.metrics.IncWebhookEvent(event.Event, "retry")
			return err
		}
		s.metrics.IncWebhookEvent(event.Event, "failed")
		return nil
	}

	outcome := "processed"
	if result.AlreadyProcessed {
		outcome = "already_processed"
	}
	s.metrics.IncWebhookEvent(event.Event, outcome)
	return nil
}

func (e webhookEvent) ids() (paymentID, orderID string) {
	if e.Payload.Payment != nil {
		paymentID = strings.TrimSpace(e.Payload.Payment.Entity.ID)
		orderID = strings.TrimSpace(e.Payload.Payment.Entity.OrderID)
	}
	if orderID == "" && e.Payload.Order != nil {
		orderID = strings.TrimSpace(e.Payload.Order.Entity.ID)
	}
	return paymentID, orderID
}
