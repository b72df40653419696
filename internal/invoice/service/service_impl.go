package service

import (
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
	"github.com/smallbiznis/callsight/internal/config"
	"github.com/smallbiznis/callsight/internal/invoice/domain"
	"github.com/smallbiznis/callsight/internal/invoice/format"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

const (
	gstCurrency = "INR"
	gstPercent  = 18
)

var (
	hundred = decimal.NewFromInt(100)
	two     = decimal.NewFromInt(2)
)

type Params struct {
	fx.In

	Log   *zap.Logger
	Plans *config.PlanCatalogHolder
}

type Service struct {
	log   *zap.Logger
	plans *config.PlanCatalogHolder
}

func NewService(p Params) domain.Service {
	return &Service{
		log:   p.Log.Named("invoice.service"),
		plans: p.Plans,
	}
}

func (s *Service) Generate(req domain.GenerateRequest) (domain.InvoiceData, error) {
	currency := strings.ToUpper(strings.TrimSpace(req.Currency))
	paymentID := strings.TrimSpace(req.PaymentID)
	cycle := strings.ToLower(strings.TrimSpace(req.BillingCycle))

	switch {
	case req.Kind != domain.KindCredits && req.Kind != domain.KindSubscription:
		return domain.InvoiceData{}, domain.ErrInvalidKind
	case req.AmountBase <= 0:
		return domain.InvoiceData{}, domain.ErrInvalidAmount
	case len(currency) != 3:
		return domain.InvoiceData{}, domain.ErrInvalidCurrency
	case paymentID == "":
		return domain.InvoiceData{}, domain.ErrInvalidPaymentID
	case req.IssuedAt.IsZero():
		return domain.InvoiceData{}, domain.ErrInvalidIssuedAt
	case req.Kind == domain.KindCredits && req.Credits <= 0:
		return domain.InvoiceData{}, domain.ErrInvalidCredits
	case req.Kind == domain.KindSubscription && cycle != "" && cycle != "monthly" && cycle != "annual":
		return domain.InvoiceData{}, domain.ErrInvalidBillingCycle
	}

	number, err := format.FormatInvoiceNumber(format.DefaultInvoiceNumberTemplate, req.IssuedAt, paymentID)
	if err != nil {
		return domain.InvoiceData{}, fmt.Errorf("%w: %v", domain.ErrInvalidPaymentID, err)
	}

	paid := decimal.New(req.AmountBase, -2)
	subtotal := paid
	discount := decimal.Zero
	if req.Kind == domain.KindSubscription && cycle == "annual" {
		subtotal, discount = reverseDiscount(paid, s.annualDiscountPercent())
	}

	taxable := subtotal.Sub(discount)
	tax := decimal.Zero
	var breakdown *domain.TaxBreakdown
	if currency == gstCurrency {
		// GST is levied on whole rupees.
		tax = taxable.Mul(decimal.NewFromInt(gstPercent)).Div(hundred).Round(0)
		half := tax.Div(two).Round(2)
		breakdown = &domain.TaxBreakdown{
			Name:    "GST",
			Rate:    decimal.NewFromInt(gstPercent).String(),
			Taxable: money(taxable),
			Components: []domain.TaxComponent{
				{Name: "CGST", Rate: decimal.NewFromInt(gstPercent).Div(two).String(), Amount: money(half)},
				{Name: "SGST", Rate: decimal.NewFromInt(gstPercent).Div(two).String(), Amount: money(tax.Sub(half))},
			},
		}
	}
	total := subtotal.Sub(discount).Add(tax).Round(2)

	data := domain.InvoiceData{
		InvoiceNumber: number,
		IssuedAt:      req.IssuedAt.UTC(),
		Kind:          req.Kind,
		PaymentID:     paymentID,
		Currency:      currency,
		Customer: domain.Customer{
			Name:    strings.TrimSpace(req.Customer.Name),
			Email:   strings.TrimSpace(req.Customer.Email),
			OrgName: strings.TrimSpace(req.Customer.OrgName),
		},
		Items:        lineItems(req, cycle, subtotal),
		Subtotal:     money(subtotal),
		Discount:     money(discount),
		Tax:          money(tax),
		Total:        money(total),
		TotalMinor:   total.Mul(hundred).IntPart(),
		TaxBreakdown: breakdown,
	}
	if req.Kind == domain.KindCredits {
		data.Credits = req.Credits
	} else {
		data.Tier = strings.ToLower(strings.TrimSpace(req.Tier))
		data.BillingCycle = cycle
	}
	return data, nil
}

func (s *Service) annualDiscountPercent() int64 {
	if s.plans == nil {
		return config.DefaultPlanCatalog().AnnualDiscountPercent
	}
	return s.plans.Get().AnnualDiscountPercent
}

// reverseDiscount recovers the list price from a discounted amount:
// list = paid / (1 - pct/100), rounded to cents.
func reverseDiscount(paid decimal.Decimal, percent int64) (list, discount decimal.Decimal) {
	if percent <= 0 || percent >= 100 {
		return paid, decimal.Zero
	}
	factor := hundred.Sub(decimal.NewFromInt(percent)).Div(hundred)
	list = paid.Div(factor).Round(2)
	return list, list.Sub(paid)
}

func lineItems(req domain.GenerateRequest, cycle string, subtotal decimal.Decimal) []domain.LineItem {
	if req.Kind == domain.KindCredits {
		return []domain.LineItem{{
			Description: fmt.Sprintf("%d call analysis credits", req.Credits),
			Quantity:    req.Credits,
			UnitPrice:   money(subtotal.Div(decimal.NewFromInt(req.Credits)).Round(2)),
			Amount:      money(subtotal),
		}}
	}
	tier := strings.TrimSpace(req.Tier)
	if tier == "" {
		tier = "subscription"
	}
	if cycle == "" {
		cycle = "monthly"
	}
	return []domain.LineItem{{
		Description: fmt.Sprintf("%s plan (%s)", titleCase(tier), cycle),
		Quantity:    1,
		UnitPrice:   money(subtotal),
		Amount:      money(subtotal),
	}}
}

func money(d decimal.Decimal) string {
	return d.StringFixed(2)
}

func titleCase(value string) string {
	parts := strings.Fields(strings.ReplaceAll(strings.ToLower(value), "_", " "))
	for i, part := range parts {
		parts[i] = strings.ToUpper(part[:1]) + part[1:]
	}
	return strings.Join(parts, " ")
}
