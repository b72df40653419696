package domain

import (
	"context"
	"errors"
	"fmt"

	"github.com/bwmarrin/snowflake"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// Gateway is the subset of the payment gateway API the service depends on.
type Gateway interface {
	KeyID() string
	CreateOrder(ctx context.Context, req CreateGatewayOrder) (*GatewayOrder, error)
	FetchPayment(ctx context.Context, paymentID string) (*GatewayPayment, error)
	FetchOrder(ctx context.Context, orderID string) (*GatewayOrder, error)
}

type OrderService interface {
	CreateOrder(ctx context.Context, req CreateOrderRequest) (*Order, error)
}

type VerificationService interface {
	VerifyAndCredit(ctx context.Context, req VerifyRequest) (*VerifyResult, error)
	// GetReceipt returns the receipt for a payment, scoped to the caller's org.
	GetReceipt(ctx context.Context, orgID snowflake.ID, paymentID string) (*Receipt, error)
}

type WebhookService interface {
	IngestWebhook(ctx context.Context, payload []byte, signature string) error
}

type Repository interface {
	// InsertReceipt reports whether the row was written; false means the
	// payment already has a receipt.
	InsertReceipt(ctx context.Context, db *gorm.DB, receipt *Receipt) (bool, error)
	FindReceiptByPaymentID(ctx context.Context, db *gorm.DB, paymentID string) (*Receipt, error)
}

type CreateOrderRequest struct {
	Kind         Kind
	Amount       decimal.Decimal
	Currency     string
	OrgID        snowflake.ID
	UserID       string
	Credits      int64
	Tier         string
	BillingCycle string
	Description  string
}

type VerifyRequest struct {
	OrderID   string
	PaymentID string
	Signature string
	// Credits and Amount are what the client believes it paid for. They are
	// compared against the order notes and never trusted.
	Credits  int64
	Amount   int64
	Currency string
	Source   Source
	// UserID is the authenticated caller; empty for webhook deliveries.
	UserID string
	// OrgID, when set, must be the organization named in the order notes.
	OrgID snowflake.ID
}

type VerifyResult struct {
	Success          bool         `json:"success"`
	TransactionID    snowflake.ID `json:"transactionId,omitempty"`
	ReceiptID        snowflake.ID `json:"receiptId,omitempty"`
	InvoiceNumber    string       `json:"invoiceNumber"`
	AlreadyProcessed bool         `json:"alreadyProcessed"`
	Credits          int64        `json:"credits,omitempty"`
	NewBalance       int64        `json:"newBalance,omitempty"`
}

// GatewayError wraps an upstream failure. It is retryable.
type GatewayError struct {
	Op         string
	StatusCode int
	Err        error
}

func (e *GatewayError) Error() string {
	if e.StatusCode > 0 {
		return fmt.Sprintf("gateway %s: status %d: %v", e.Op, e.StatusCode, e.Err)
	}
	return fmt.Sprintf("gateway %s: %v", e.Op, e.Err)
}

func (e *GatewayError) Unwrap() error { return e.Err }

var (
	ErrInvalidKind         = errors.New("invalid_payment_kind")
	ErrInvalidAmount       = errors.New("invalid_amount")
	ErrInvalidCurrency     = errors.New("invalid_currency")
	ErrUnsupportedCurrency = errors.New("unsupported_currency")
	ErrAmountBelowMinimum  = errors.New("amount_below_minimum")
	ErrInvalidCredits      = errors.New("invalid_credits")
	ErrInvalidTier         = errors.New("invalid_tier")
	ErrInvalidBillingCycle = errors.New("invalid_billing_cycle")
	ErrInvalidOrganization = errors.New("invalid_organization")
	ErrInvalidRequest      = errors.New("invalid_payment_request")
	ErrInvalidSignature    = errors.New("invalid_signature")
	ErrPaymentNotCaptured  = errors.New("payment_not_captured")
	ErrOrderMismatch       = errors.New("order_notes_invalid")
	ErrGatewayNotFound     = errors.New("gateway_resource_not_found")
	ErrReceiptNotFound     = errors.New("receipt_not_found")
	ErrInvalidPayload      = errors.New("invalid_payload")
)
