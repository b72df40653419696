package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/datatypes"
)

// Kind is what a payment buys.
type Kind string

const (
	KindCredits      Kind = "credits"
	KindSubscription Kind = "subscription"
)

func (k Kind) Valid() bool {
	return k == KindCredits || k == KindSubscription
}

// Source identifies which entry point asked for verification.
type Source string

const (
	SourceClient  Source = "client"
	SourceWebhook Source = "webhook"
	SourceAdmin   Source = "admin"
)

func (s Source) Valid() bool {
	switch s {
	case SourceClient, SourceWebhook, SourceAdmin:
		return true
	}
	return false
}

type ReceiptStatus string

const (
	ReceiptStatusPending   ReceiptStatus = "pending"
	ReceiptStatusCompleted ReceiptStatus = "completed"
	ReceiptStatusFailed    ReceiptStatus = "failed"
)

// Receipt is written once per captured payment. payment_id is unique and is
// the idempotency anchor for every verification path.
type Receipt struct {
	ID                  snowflake.ID      `gorm:"primaryKey" json:"id"`
	OrgID               snowflake.ID      `gorm:"not null;index" json:"org_id"`
	PaymentID           string            `gorm:"type:text;not null;uniqueIndex" json:"payment_id"`
	OrderID             string            `gorm:"type:text;not null" json:"order_id"`
	InvoiceNumber       string            `gorm:"type:text;not null;uniqueIndex" json:"invoice_number"`
	Amount              int64             `gorm:"not null" json:"amount"`
	Currency            string            `gorm:"type:text;not null" json:"currency"`
	PaymentType         Kind              `gorm:"type:text;not null" json:"payment_type"`
	Status              ReceiptStatus     `gorm:"type:text;not null" json:"status"`
	InvoiceData         datatypes.JSON    `gorm:"type:jsonb;not null" json:"invoice_data"`
	Metadata            datatypes.JSONMap `gorm:"type:jsonb;not null" json:"metadata"`
	CreditTransactionID *snowflake.ID     `json:"credit_transaction_id,omitempty"`
	CreatedAt           time.Time         `gorm:"not null" json:"created_at"`
	UpdatedAt           time.Time         `gorm:"not null" json:"updated_at"`
}

func (Receipt) TableName() string { return "payment_receipts" }

// Order is the gateway-held checkout order. It is never stored locally.
type Order struct {
	OrderID    string `json:"orderId"`
	Amount     int64  `json:"amount"`
	Currency   string `json:"currency"`
	Receipt    string `json:"receipt"`
	GatewayKey string `json:"keyId"`
}

// Note keys carried on gateway orders. Notes are the only authoritative
// record of what an order was for.
const (
	NoteType           = "type"
	NoteCredits        = "credits"
	NoteTier           = "tier"
	NoteBillingCycle   = "billing_cycle"
	NoteOrganizationID = "organization_id"
	NoteUserID         = "user_id"
	NoteDescription    = "description"
)

type GatewayPayment struct {
	ID       string `json:"id"`
	OrderID  string `json:"order_id"`
	Status   string `json:"status"`
	Amount   int64  `json:"amount"`
	Currency string `json:"currency"`
	Email    string `json:"email"`
	Method   string `json:"method"`
	Notes    Notes  `json:"notes"`
}

// Settled reports whether the gateway has the money.
func (p GatewayPayment) Settled() bool {
	return p.Status == "captured" || p.Status == "authorized"
}

type GatewayOrder struct {
	ID       string `json:"id"`
	Amount   int64  `json:"amount"`
	Currency string `json:"currency"`
	Receipt  string `json:"receipt"`
	Status   string `json:"status"`
	Notes    Notes  `json:"notes"`
}

type CreateGatewayOrder struct {
	Amount   int64  `json:"amount"`
	Currency string `json:"currency"`
	Receipt  string `json:"receipt"`
	Notes    Notes  `json:"notes"`
}
