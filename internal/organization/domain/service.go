package domain

import (
	"context"
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/gorm"
)

type Service interface {
	Create(ctx context.Context, req CreateRequest) (*Organization, error)
	Get(ctx context.Context, id snowflake.ID) (*Organization, error)
	RoleOf(ctx context.Context, orgID snowflake.ID, userID string) (Role, error)
	// ApplySubscription runs inside the caller's transaction so the tier
	// change commits together with the payment receipt.
	ApplySubscription(ctx context.Context, tx *gorm.DB, req ApplySubscriptionRequest) error
	Deactivate(ctx context.Context, id snowflake.ID) error
}

type CreateRequest struct {
	UserID string
	Email  string
	Name   string
}

type ApplySubscriptionRequest struct {
	OrgID        snowflake.ID
	Tier         Tier
	BillingCycle BillingCycle
	PeriodStart  time.Time
}

var (
	ErrInvalidName          = errors.New("invalid_name")
	ErrInvalidUser          = errors.New("invalid_user")
	ErrInvalidEmail         = errors.New("invalid_email")
	ErrInvalidTier          = errors.New("invalid_tier")
	ErrInvalidBillingCycle  = errors.New("invalid_billing_cycle")
	ErrOrganizationNotFound = errors.New("organization_not_found")
	ErrOrganizationInactive = errors.New("organization_inactive")
	ErrNotMember            = errors.New("not_member")
)
