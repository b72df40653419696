// Package domain describes the credit ledger: an append-only list of signed
// deltas whose sum always equals organizations.credits_balance.
package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/datatypes"
)

type Kind string

const (
	KindPurchase Kind = "purchase"
	KindUsage    Kind = "usage"
	KindRefund   Kind = "refund"
	KindExpiry   Kind = "expiry"
)

// ValidateDelta enforces the sign rule for each kind: purchases add credits,
// everything else removes them.
func (k Kind) ValidateDelta(delta int64) error {
	switch k {
	case KindPurchase:
		if delta <= 0 {
			return ErrInvalidDelta
		}
	case KindUsage, KindRefund, KindExpiry:
		if delta >= 0 {
			return ErrInvalidDelta
		}
	default:
		return ErrInvalidKind
	}
	return nil
}

type Transaction struct {
	ID             snowflake.ID      `gorm:"primaryKey" json:"id"`
	OrgID          snowflake.ID      `gorm:"not null;index" json:"org_id"`
	Type           Kind              `gorm:"column:type;type:text;not null" json:"type"`
	Credits        int64             `gorm:"not null" json:"credits"`
	AmountPaid     *int64            `json:"amount_paid,omitempty"`
	Currency       *string           `gorm:"type:text" json:"currency,omitempty"`
	Description    string            `gorm:"type:text;not null" json:"description"`
	Metadata       datatypes.JSONMap `gorm:"type:jsonb;not null" json:"metadata"`
	IdempotencyKey *string           `gorm:"type:text;uniqueIndex" json:"-"`
	BalanceAfter   int64             `gorm:"not null" json:"balance_after"`
	CreatedAt      time.Time         `gorm:"not null" json:"created_at"`
}

func (Transaction) TableName() string { return "credit_transactions" }

// ReconcileReport compares the cached balance with the ledger sum.
type ReconcileReport struct {
	OrgID   snowflake.ID `json:"org_id"`
	Balance int64        `json:"balance"`
	Sum     int64        `json:"sum"`
	Drift   int64        `json:"drift"`
	Entries int64        `json:"entries"`
}

func (r ReconcileReport) Consistent() bool { return r.Drift == 0 }
