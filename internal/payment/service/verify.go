package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	auditdomain "github.com/smallbiznis/callsight/internal/audit/domain"
	"github.com/smallbiznis/callsight/internal/auditcontext"
	invoicedomain "github.com/smallbiznis/callsight/internal/invoice/domain"
	ledgerdomain "github.com/smallbiznis/callsight/internal/ledger/domain"
	obslogger "github.com/smallbiznis/callsight/internal/observability/logger"
	orgdomain "github.com/smallbiznis/callsight/internal/organization/domain"
	paymentdomain "github.com/smallbiznis/callsight/internal/payment/domain"
	"github.com/smallbiznis/callsight/internal/payment/gateway/razorpay"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

const receiptEmailTimeout = 30 * time.Second

var errInvoiceNumberTaken = errors.New("invoice_number_taken")

// orderIntent is what the gateway order says was bought.
type orderIntent struct {
	OrgID        snowflake.ID
	Kind         paymentdomain.Kind
	Credits      int64
	Tier         orgdomain.Tier
	BillingCycle orgdomain.BillingCycle
	UserID       string
}

// VerifyAndCredit confirms a payment with the gateway and applies it exactly
// once. It is safe to call from every entry point for the same payment: the
// ledger idempotency key and the receipt's unique payment_id decide which
// caller does the work, and everyone else gets AlreadyProcessed.
func (s *Service) VerifyAndCredit(ctx context.Context, req paymentdomain.VerifyRequest) (*paymentdomain.VerifyResult, error) {
	req.OrderID = strings.TrimSpace(req.OrderID)
	req.PaymentID = strings.TrimSpace(req.PaymentID)
	if req.OrderID == "" || req.PaymentID == "" || !req.Source.Valid() {
		return nil, paymentdomain.ErrInvalidRequest
	}

	ctx = auditcontext.WithPaymentID(ctx, req.PaymentID)
	log := obslogger.WithPayment(s.log, req.OrderID, req.PaymentID).With(zap.String("source", string(req.Source)))

	result, intent, err := s.verify(ctx, log, req)
	s.recordOutcome(ctx, log, req, intent, result, err)
	if err != nil {
		return nil, err
	}
	return result, nil
}

func (s *Service) verify(ctx context.Context, log *zap.Logger, req paymentdomain.VerifyRequest) (*paymentdomain.VerifyResult, *orderIntent, error) {
	if req.Source == paymentdomain.SourceClient {
		if !razorpay.VerifyPaymentSignature(s.keySecret, req.OrderID, req.PaymentID, req.Signature) {
			log.Warn("payment signature mismatch", zap.Bool("security_event", true))
			return nil, nil, paymentdomain.ErrInvalidSignature
		}
	}

	payment, err := s.gateway.FetchPayment(ctx, req.PaymentID)
	if err != nil {
		return nil, nil, integrityOrGateway(err)
	}
	if payment.OrderID != req.OrderID {
		log.Warn("payment does not belong to order",
			zap.Bool("security_event", true),
			zap.String("gateway_order_id", payment.OrderID),
		)
		return nil, nil, paymentdomain.ErrInvalidSignature
	}
	if !payment.Settled() {
		log.Info("payment not captured", zap.String("status", payment.Status))
		return nil, nil, paymentdomain.ErrPaymentNotCaptured
	}

	order, err := s.gateway.FetchOrder(ctx, req.OrderID)
	if err != nil {
		return nil, nil, integrityOrGateway(err)
	}
	intent, err := parseIntent(order.Notes)
	if err != nil {
		log.Error("order notes unusable", zap.Error(err))
		return nil, nil, err
	}
	if intent.Kind == paymentdomain.KindCredits && req.Credits != 0 && req.Credits != intent.Credits {
		log.Warn("client credits disagree with order, using order notes",
			zap.Int64("client_credits", req.Credits),
			zap.Int64("order_credits", intent.Credits),
		)
	}
	if req.OrgID != 0 && req.OrgID != intent.OrgID {
		log.Warn("order belongs to another organization",
			zap.Bool("security_event", true),
			zap.String("org_id", req.OrgID.String()),
		)
		return nil, intent, paymentdomain.ErrOrderMismatch
	}
	if req.Source == paymentdomain.SourceClient {
		if _, err := s.orgSvc.RoleOf(ctx, intent.OrgID, req.UserID); err != nil {
			return nil, intent, err
		}
	}

	existing, err := s.repo.FindReceiptByPaymentID(ctx, s.db, req.PaymentID)
	if err != nil {
		return nil, intent, err
	}
	if existing != nil {
		return alreadyProcessed(existing), intent, nil
	}

	org, err := s.orgSvc.Get(ctx, intent.OrgID)
	if err != nil {
		return nil, intent, err
	}

	currency := strings.ToUpper(payment.Currency)
	invoice, err := s.invoiceSvc.Generate(invoicedomain.GenerateRequest{
		Kind:         invoicedomain.Kind(intent.Kind),
		AmountBase:   payment.Amount,
		Currency:     currency,
		PaymentID:    req.PaymentID,
		Customer:     invoicedomain.Customer{Name: org.Name, Email: payment.Email, OrgName: org.Name},
		Credits:      intent.Credits,
		Tier:         string(intent.Tier),
		BillingCycle: string(intent.BillingCycle),
		IssuedAt:     s.clock.Now().UTC(),
	})
	if err != nil {
		return nil, intent, err
	}

	result, err := s.settle(ctx, log, req, intent, payment, invoice)
	if err != nil {
		return nil, intent, err
	}
	if !result.AlreadyProcessed {
		s.sendReceiptAsync(ctx, log, invoice, payment.Email)
	}
	return result, intent, nil
}

// settle writes the ledger entry or subscription change together with the
// receipt in one transaction.
func (s *Service) settle(
	ctx context.Context,
	log *zap.Logger,
	req paymentdomain.VerifyRequest,
	intent *orderIntent,
	payment *paymentdomain.GatewayPayment,
	invoice invoicedomain.InvoiceData,
) (*paymentdomain.VerifyResult, error) {
	invoiceJSON, err := marshalInvoice(invoice)
	if err != nil {
		return nil, err
	}
	now := s.clock.Now().UTC()
	receipt := &paymentdomain.Receipt{
		ID:            s.genID.Generate(),
		OrgID:         intent.OrgID,
		PaymentID:     req.PaymentID,
		OrderID:       req.OrderID,
		InvoiceNumber: invoice.InvoiceNumber,
		Amount:        payment.Amount,
		Currency:      invoice.Currency,
		PaymentType:   intent.Kind,
		Status:        paymentdomain.ReceiptStatusCompleted,
		InvoiceData:   invoiceJSON,
		Metadata: datatypes.JSONMap{
			"source":  string(req.Source),
			"method":  payment.Method,
			"user_id": intent.UserID,
		},
		CreatedAt: now,
		UpdatedAt: now,
	}

	var result *paymentdomain.VerifyResult
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var ledgerRes ledgerdomain.ApplyDeltaResult
		if intent.Kind == paymentdomain.KindCredits {
			amount := payment.Amount
			currency := invoice.Currency
			key := req.PaymentID
			ledgerRes, err = s.ledgerSvc.ApplyDeltaTx(ctx, tx, ledgerdomain.ApplyDeltaRequest{
				OrgID:          intent.OrgID,
				Delta:          intent.Credits,
				Kind:           ledgerdomain.KindPurchase,
				AmountPaid:     &amount,
				Currency:       &currency,
				Description:    fmt.Sprintf("Purchased %d credits", intent.Credits),
				IdempotencyKey: &key,
				Metadata: map[string]any{
					"order_id":   req.OrderID,
					"payment_id": req.PaymentID,
					"source":     string(req.Source),
				},
			})
			if err != nil {
				return err
			}
			receipt.CreditTransactionID = &ledgerRes.TransactionID
		}

		inserted, err := s.repo.InsertReceipt(ctx, tx, receipt)
		if err != nil {
			return err
		}
		if !inserted {
			existing, err := s.repo.FindReceiptByPaymentID(ctx, tx, req.PaymentID)
			if err != nil {
				return err
			}
			if existing == nil {
				log.Error("invoice number collision", zap.String("invoice_number", receipt.InvoiceNumber))
				return errInvoiceNumberTaken
			}
			result = alreadyProcessed(existing)
			return nil
		}

		if intent.Kind == paymentdomain.KindSubscription {
			if err := s.orgSvc.ApplySubscription(ctx, tx, orgdomain.ApplySubscriptionRequest{
				OrgID:        intent.OrgID,
				Tier:         intent.Tier,
				BillingCycle: intent.BillingCycle,
				PeriodStart:  now,
			}); err != nil {
				return err
			}
		}

		result = &paymentdomain.VerifyResult{
			Success:       true,
			TransactionID: ledgerRes.TransactionID,
			ReceiptID:     receipt.ID,
			InvoiceNumber: receipt.InvoiceNumber,
			Credits:       intent.Credits,
			NewBalance:    ledgerRes.BalanceAfter,
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

func (s *Service) GetReceipt(ctx context.Context, orgID snowflake.ID, paymentID string) (*paymentdomain.Receipt, error) {
	paymentID = strings.TrimSpace(paymentID)
	if orgID == 0 || paymentID == "" {
		return nil, paymentdomain.ErrReceiptNotFound
	}
	receipt, err := s.repo.FindReceiptByPaymentID(ctx, s.db, paymentID)
	if err != nil {
		return nil, err
	}
	if receipt == nil || receipt.OrgID != orgID {
		return nil, paymentdomain.ErrReceiptNotFound
	}
	return receipt, nil
}

func (s *Service) sendReceiptAsync(ctx context.Context, log *zap.Logger, invoice invoicedomain.InvoiceData, to string) {
	to = strings.TrimSpace(to)
	if to == "" || s.email == nil || s.renderer == nil {
		return
	}
	detached := context.WithoutCancel(ctx)
	go func() {
		ctx, cancel := context.WithTimeout(detached, receiptEmailTimeout)
		defer cancel()

		body, err := s.renderer.RenderReceiptHTML(invoice)
		if err != nil {
			log.Warn("render receipt email failed", zap.Error(err))
			return
		}
		messageID, err := s.email.Send(ctx, []string{to}, "Your Callsight receipt "+invoice.InvoiceNumber, body)
		if err != nil {
			log.Warn("send receipt email failed", zap.Error(err))
			return
		}
		log.Info("receipt email sent", zap.String("message_id", messageID))
	}()
}

func (s *Service) recordOutcome(
	ctx context.Context,
	log *zap.Logger,
	req paymentdomain.VerifyRequest,
	intent *orderIntent,
	result *paymentdomain.VerifyResult,
	err error,
) {
	outcome := "credited"
	action := "payment.verified"
	switch {
	case err != nil:
		outcome = failureReason(err)
		action = "payment.verification_rejected"
		s.paymentMetrics.IncReconcileError(string(req.Source), domainReason(err), err)
	case result.AlreadyProcessed:
		outcome = "already_processed"
	}
	s.metrics.RecordPaymentVerified(ctx, string(req.Source), outcome)

	if err == nil {
		log.Info("payment verified",
			zap.Bool("already_processed", result.AlreadyProcessed),
			zap.String("invoice_number", result.InvoiceNumber),
		)
	}

	actorType := auditdomain.ActorTypeUser
	switch req.Source {
	case paymentdomain.SourceWebhook:
		actorType = auditdomain.ActorTypeWebhook
	case paymentdomain.SourceAdmin:
		actorType = auditdomain.ActorTypeAdmin
	}
	entry := auditdomain.Entry{
		ActorType:  actorType,
		Action:     action,
		TargetType: "payment",
		TargetID:   &req.PaymentID,
		Metadata: map[string]any{
			"order_id": req.OrderID,
			"source":   string(req.Source),
			"outcome":  outcome,
		},
	}
	if req.UserID != "" {
		userID := req.UserID
		entry.ActorID = &userID
	}
	if intent != nil {
		orgID := intent.OrgID
		entry.OrgID = &orgID
	}
	auditdomain.LogAsync(ctx, s.auditSvc, s.log, entry)
}

func alreadyProcessed(receipt *paymentdomain.Receipt) *paymentdomain.VerifyResult {
	result := &paymentdomain.VerifyResult{
		Success:          true,
		ReceiptID:        receipt.ID,
		InvoiceNumber:    receipt.InvoiceNumber,
		AlreadyProcessed: true,
	}
	if receipt.CreditTransactionID != nil {
		result.TransactionID = *receipt.CreditTransactionID
	}
	return result
}

func parseIntent(notes paymentdomain.Notes) (*orderIntent, error) {
	orgID, err := snowflake.ParseString(notes.Get(paymentdomain.NoteOrganizationID))
	if err != nil || orgID == 0 {
		return nil, fmt.Errorf("%w: organization_id", paymentdomain.ErrOrderMismatch)
	}
	intent := &orderIntent{
		OrgID:  orgID,
		Kind:   paymentdomain.Kind(notes.Get(paymentdomain.NoteType)),
		UserID: notes.Get(paymentdomain.NoteUserID),
	}
	switch intent.Kind {
	case paymentdomain.KindCredits:
		credits, err := strconv.ParseInt(notes.Get(paymentdomain.NoteCredits), 10, 64)
		if err != nil || credits <= 0 {
			return nil, fmt.Errorf("%w: credits", paymentdomain.ErrOrderMismatch)
		}
		intent.Credits = credits
	case paymentdomain.KindSubscription:
		intent.Tier = orgdomain.Tier(notes.Get(paymentdomain.NoteTier))
		if !intent.Tier.Purchasable() {
			return nil, fmt.Errorf("%w: tier", paymentdomain.ErrOrderMismatch)
		}
		intent.BillingCycle = orgdomain.BillingCycle(notes.Get(paymentdomain.NoteBillingCycle))
		if intent.BillingCycle == "" {
			intent.BillingCycle = orgdomain.CycleMonthly
		}
		if !intent.BillingCycle.Valid() {
			return nil, fmt.Errorf("%w: billing_cycle", paymentdomain.ErrOrderMismatch)
		}
	default:
		return nil, fmt.Errorf("%w: type", paymentdomain.ErrOrderMismatch)
	}
	return intent, nil
}

// integrityOrGateway treats ids the gateway does not know as a forged
// request; everything else is an upstream failure.
func integrityOrGateway(err error) error {
	if errors.Is(err, paymentdomain.ErrGatewayNotFound) {
		return paymentdomain.ErrInvalidSignature
	}
	return err
}

func failureReason(err error) string {
	var gwErr *paymentdomain.GatewayError
	switch {
	case errors.Is(err, paymentdomain.ErrInvalidSignature):
		return "invalid_signature"
	case errors.Is(err, paymentdomain.ErrPaymentNotCaptured):
		return "not_captured"
	case errors.As(err, &gwErr):
		return "gateway_error"
	default:
		return "error"
	}
}

// domainReason is empty for storage failures so the metrics classifier can
// label them by database error code.
func domainReason(err error) string {
	if reason := failureReason(err); reason != "error" {
		return reason
	}
	if errors.Is(err, paymentdomain.ErrOrderMismatch) {
		return "order_mismatch"
	}
	if errors.Is(err, orgdomain.ErrNotMember) {
		return "not_member"
	}
	return ""
}

func marshalInvoice(data invoicedomain.InvoiceData) (datatypes.JSON, error) {
	raw, err := json.Marshal(data)
	if err != nil {
		return nil, err
	}
	return datatypes.JSON(raw), nil
}
