package domain

import (
	"context"
	"errors"

	"github.com/bwmarrin/snowflake"
	quotadomain "github.com/smallbiznis/callsight/internal/quota/domain"
	"gorm.io/gorm"
)

type Event struct {
	OrgID        snowflake.ID
	UserID       string
	Action       string
	ResourceType string
	ResourceID   string
	Units        int64
	Metadata     map[string]any
}

// BillableAction describes work that consumes quota once it succeeds.
type BillableAction struct {
	// ID identifies the action within its organization. A repeated ID
	// returns the first outcome without running the work again. Generated
	// when empty.
	ID           string
	OrgID        snowflake.ID
	UserID       string
	Action       string
	Resource     quotadomain.Resource
	Units        int64
	ResourceType string
	ResourceID   string
	Metadata     map[string]any
}

type BillableResult struct {
	ActionID string               `json:"action_id"`
	Decision quotadomain.Decision `json:"decision"`
	// Charged is true when credits were debited rather than the monthly
	// counter incremented.
	Charged      bool  `json:"charged"`
	BalanceAfter int64 `json:"balance_after,omitempty"`
	// Replayed marks a result read back from an earlier run of the same ID.
	Replayed bool `json:"replayed,omitempty"`
}

type Service interface {
	Record(ctx context.Context, event Event) error
	// RunBillable checks quota, runs fn, and charges only when fn succeeds.
	// A refusal returns quota.ErrQuotaExceeded without calling fn.
	RunBillable(ctx context.Context, action BillableAction, fn func(ctx context.Context) error) (BillableResult, error)
}

type Repository interface {
	Insert(ctx context.Context, db *gorm.DB, entry *UsageLog) error
	InsertAction(ctx context.Context, db *gorm.DB, entry *UsageLog) (bool, error)
	FindByAction(ctx context.Context, db *gorm.DB, orgID snowflake.ID, actionID string) (*UsageLog, error)
	MarkCharged(ctx context.Context, db *gorm.DB, id snowflake.ID, balanceAfter int64) error
}

var (
	ErrInvalidOrganization = errors.New("invalid_organization")
	ErrInvalidAction       = errors.New("invalid_action")
	ErrInvalidUnits        = errors.New("invalid_units")
)
