package domain

import "errors"

// Service derives invoices. Generate is deterministic for a given request.
type Service interface {
	Generate(req GenerateRequest) (InvoiceData, error)
}

var (
	ErrInvalidKind         = errors.New("invalid_invoice_kind")
	ErrInvalidAmount       = errors.New("invalid_amount")
	ErrInvalidCurrency     = errors.New("invalid_currency")
	ErrInvalidPaymentID    = errors.New("invalid_payment_id")
	ErrInvalidIssuedAt     = errors.New("invalid_issued_at")
	ErrInvalidCredits      = errors.New("invalid_credits")
	ErrInvalidBillingCycle = errors.New("invalid_billing_cycle")
)
