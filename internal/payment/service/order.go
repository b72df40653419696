package service

import (
	"context"
	"errors"
	"strconv"
	"strings"

	"github.com/oklog/ulid/v2"
	"github.com/shopspring/decimal"
	auditdomain "github.com/smallbiznis/callsight/internal/audit/domain"
	obsmetrics "github.com/smallbiznis/callsight/internal/observability/metrics"
	orgdomain "github.com/smallbiznis/callsight/internal/organization/domain"
	paymentdomain "github.com/smallbiznis/callsight/internal/payment/domain"
	"go.uber.org/zap"
)

// minimumAmount is the smallest chargeable amount per supported currency.
var minimumAmount = map[string]decimal.Decimal{
	"INR": decimal.NewFromInt(1),
	"USD": decimal.New(1, -2),
}

var hundred = decimal.NewFromInt(100)

func (s *Service) CreateOrder(ctx context.Context, req paymentdomain.CreateOrderRequest) (*paymentdomain.Order, error) {
	notes, err := s.validateOrder(&req)
	if err != nil {
		return nil, err
	}

	if _, err := s.orgSvc.RoleOf(ctx, req.OrgID, req.UserID); err != nil {
		return nil, err
	}

	minor := paymentdomain.ToMinorUnits(req.Amount)
	receipt := "rcpt_" + ulid.Make().String()

	order, err := s.gateway.CreateOrder(ctx, paymentdomain.CreateGatewayOrder{
		Amount:   minor,
		Currency: req.Currency,
		Receipt:  receipt,
		Notes:    notes,
	})
	if err != nil {
		var gwErr *paymentdomain.GatewayError
		if !errors.As(err, &gwErr) {
			err = &paymentdomain.GatewayError{Op: obsmetrics.GatewayOpCreateOrder, Err: err}
		}
		s.log.Warn("gateway order creation failed",
			zap.String("org_id", req.OrgID.String()),
			zap.String("kind", string(req.Kind)),
			zap.Error(err),
		)
		return nil, err
	}

	s.metrics.RecordOrderCreated(ctx, string(req.Kind), req.Currency)
	orgID := req.OrgID
	actorID := req.UserID
	auditdomain.LogAsync(ctx, s.auditSvc, s.log, auditdomain.Entry{
		OrgID:      &orgID,
		ActorType:  auditdomain.ActorTypeUser,
		ActorID:    &actorID,
		Action:     "payment.order_created",
		TargetType: "payment_order",
		TargetID:   &order.ID,
		Metadata: map[string]any{
			"kind":     string(req.Kind),
			"amount":   minor,
			"currency": req.Currency,
			"receipt":  receipt,
		},
	})
	s.log.Info("payment order created",
		zap.String("org_id", req.OrgID.String()),
		zap.String("order_id", order.ID),
		zap.String("kind", string(req.Kind)),
		zap.Int64("amount", minor),
		zap.String("currency", req.Currency),
	)

	return &paymentdomain.Order{
		OrderID:    order.ID,
		Amount:     minor,
		Currency:   req.Currency,
		Receipt:    receipt,
		GatewayKey: s.gateway.KeyID(),
	}, nil
}

// validateOrder normalises req in place and returns the notes to attach to
// the gateway order. Nothing here touches the network.
func (s *Service) validateOrder(req *paymentdomain.CreateOrderRequest) (map[string]string, error) {
	if !req.Kind.Valid() {
		return nil, paymentdomain.ErrInvalidKind
	}
	if req.OrgID == 0 {
		return nil, paymentdomain.ErrInvalidOrganization
	}
	req.UserID = strings.TrimSpace(req.UserID)
	if req.UserID == "" {
		return nil, orgdomain.ErrNotMember
	}

	req.Currency = strings.ToUpper(strings.TrimSpace(req.Currency))
	if req.Currency == "" {
		return nil, paymentdomain.ErrInvalidCurrency
	}
	minimum, ok := minimumAmount[req.Currency]
	if !ok {
		return nil, paymentdomain.ErrUnsupportedCurrency
	}
	if !req.Amount.IsPositive() {
		return nil, paymentdomain.ErrInvalidAmount
	}
	if req.Amount.LessThan(minimum) {
		return nil, paymentdomain.ErrAmountBelowMinimum
	}

	notes := map[string]string{
		paymentdomain.NoteType:           string(req.Kind),
		paymentdomain.NoteOrganizationID: req.OrgID.String(),
		paymentdomain.NoteUserID:         req.UserID,
	}
	if desc := strings.TrimSpace(req.Description); desc != "" {
		notes[paymentdomain.NoteDescription] = desc
	}

	switch req.Kind {
	case paymentdomain.KindCredits:
		if req.Credits <= 0 {
			return nil, paymentdomain.ErrInvalidCredits
		}
		expected, ok := s.creditsPrice(req.Credits, req.Currency)
		if !ok || !req.Amount.Equal(expected) {
			return nil, paymentdomain.ErrInvalidAmount
		}
		notes[paymentdomain.NoteCredits] = strconv.FormatInt(req.Credits, 10)
	case paymentdomain.KindSubscription:
		tier := orgdomain.Tier(strings.ToLower(strings.TrimSpace(req.Tier)))
		if !tier.Purchasable() {
			return nil, paymentdomain.ErrInvalidTier
		}
		cycle := orgdomain.BillingCycle(strings.ToLower(strings.TrimSpace(req.BillingCycle)))
		if cycle == "" {
			cycle = orgdomain.CycleMonthly
		}
		if !cycle.Valid() {
			return nil, paymentdomain.ErrInvalidBillingCycle
		}
		if expected, ok := s.subscriptionPrice(tier, cycle, req.Currency); ok && !req.Amount.Equal(expected) {
			return nil, paymentdomain.ErrInvalidAmount
		}
		req.Tier = string(tier)
		req.BillingCycle = string(cycle)
		notes[paymentdomain.NoteTier] = string(tier)
		notes[paymentdomain.NoteBillingCycle] = string(cycle)
	}
	return notes, nil
}

// creditsPrice is the pre-tax catalog price of credits in currency. Without a
// listed unit price credits cannot be sold in that currency.
func (s *Service) creditsPrice(credits int64, currency string) (decimal.Decimal, bool) {
	if s.plans == nil {
		return decimal.Zero, false
	}
	unit, ok := s.plans.Get().CreditPriceFor(currency)
	if !ok {
		return decimal.Zero, false
	}
	return unit.Mul(decimal.NewFromInt(credits)).Round(2), true
}

// subscriptionPrice is the catalog price for one billing period. Annual
// pricing is twelve months less the annual discount, rounded to cents.
func (s *Service) subscriptionPrice(tier orgdomain.Tier, cycle orgdomain.BillingCycle, currency string) (decimal.Decimal, bool) {
	if s.plans == nil {
		return decimal.Zero, false
	}
	catalog := s.plans.Get()
	plan, ok := catalog.Plan(string(tier))
	if !ok {
		return decimal.Zero, false
	}
	raw, ok := plan.MonthlyPriceFor(currency)
	if !ok {
		return decimal.Zero, false
	}
	monthly, err := decimal.NewFromString(raw)
	if err != nil || !monthly.IsPositive() {
		return decimal.Zero, false
	}
	if cycle != orgdomain.CycleAnnual {
		return monthly, true
	}
	keep := hundred.Sub(decimal.NewFromInt(catalog.AnnualDiscountPercent)).Div(hundred)
	return monthly.Mul(decimal.NewFromInt(12)).Mul(keep).Round(2), true
}
