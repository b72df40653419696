package domain

import (
	"context"
	"errors"

	"github.com/bwmarrin/snowflake"
	orgdomain "github.com/smallbiznis/callsight/internal/organization/domain"
	"github.com/smallbiznis/callsight/pkg/db/pagination"
	"gorm.io/gorm"
)

type Service interface {
	ApplyDelta(ctx context.Context, req ApplyDeltaRequest) (ApplyDeltaResult, error)
	// ApplyDeltaTx runs inside the caller's transaction.
	ApplyDeltaTx(ctx context.Context, tx *gorm.DB, req ApplyDeltaRequest) (ApplyDeltaResult, error)
	Balance(ctx context.Context, orgID snowflake.ID) (int64, error)
	ListTransactions(ctx context.Context, req ListTransactionsRequest) (ListTransactionsResponse, error)
	Reconcile(ctx context.Context, orgID snowflake.ID) (ReconcileReport, error)
}

type ApplyDeltaRequest struct {
	OrgID          snowflake.ID
	Delta          int64
	Kind           Kind
	AmountPaid     *int64
	Currency       *string
	Description    string
	IdempotencyKey *string
	Metadata       map[string]any
}

type ApplyDeltaResult struct {
	TransactionID snowflake.ID `json:"transaction_id"`
	BalanceAfter  int64        `json:"balance_after"`
	// Applied is false when the idempotency key had already been used; the
	// result then describes the earlier transaction.
	Applied bool `json:"applied"`
}

type ListTransactionsRequest struct {
	pagination.Pagination
	OrgID snowflake.ID
}

type ListTransactionsResponse struct {
	pagination.PageInfo
	Transactions []Transaction `json:"transactions"`
}

var (
	ErrInvalidOrganization  = errors.New("invalid_organization")
	ErrInvalidKind          = errors.New("invalid_kind")
	ErrInvalidDelta         = errors.New("invalid_delta")
	ErrInsufficientCredits  = errors.New("insufficient_credits")
	ErrOrganizationNotFound = orgdomain.ErrOrganizationNotFound
	ErrIdempotencyConflict  = errors.New("idempotency_conflict")
)
