// Package domain holds the organization (tenant) model and membership rules.
package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
)

type Tier string

const (
	TierFree       Tier = "free"
	TierIndividual Tier = "individual"
	TierTeam       Tier = "team"
	TierEnterprise Tier = "enterprise"
	TierPayAsYouGo Tier = "pay_as_you_go"
)

func (t Tier) Valid() bool {
	switch t {
	case TierFree, TierIndividual, TierTeam, TierEnterprise, TierPayAsYouGo:
		return true
	}
	return false
}

// Purchasable reports whether the tier can be bought as a subscription.
func (t Tier) Purchasable() bool {
	switch t {
	case TierIndividual, TierTeam, TierEnterprise:
		return true
	}
	return false
}

type SubscriptionStatus string

const (
	StatusActive   SubscriptionStatus = "active"
	StatusPastDue  SubscriptionStatus = "past_due"
	StatusCanceled SubscriptionStatus = "canceled"
)

type BillingCycle string

const (
	CycleMonthly BillingCycle = "monthly"
	CycleAnnual  BillingCycle = "annual"
)

func (c BillingCycle) Valid() bool {
	return c == CycleMonthly || c == CycleAnnual
}

type Role string

const (
	RoleOwner  Role = "OWNER"
	RoleAdmin  Role = "ADMIN"
	RoleMember Role = "MEMBER"
)

func (r Role) Valid() bool {
	return r == RoleOwner || r == RoleAdmin || r == RoleMember
}

// Organization is the tenant row. credits_balance is owned by the ledger and
// the usage counters by the quota service; neither is written here.
type Organization struct {
	ID                 snowflake.ID       `gorm:"primaryKey" json:"id"`
	Name               string             `gorm:"type:text;not null" json:"name"`
	Slug               string             `gorm:"type:text;not null;uniqueIndex" json:"slug"`
	SubscriptionTier   Tier               `gorm:"type:text;not null" json:"subscription_tier"`
	SubscriptionStatus SubscriptionStatus `gorm:"type:text;not null" json:"subscription_status"`
	BillingCycle       BillingCycle       `gorm:"type:text;not null" json:"billing_cycle"`
	CallsUsed          int64              `gorm:"not null" json:"calls_used"`
	CallsLimit         int64              `gorm:"not null" json:"calls_limit"`
	StorageUsedMB      int64              `gorm:"column:storage_used_mb;not null" json:"storage_used_mb"`
	StorageLimitMB     int64              `gorm:"column:storage_limit_mb;not null" json:"storage_limit_mb"`
	CreditsBalance     int64              `gorm:"not null" json:"credits_balance"`
	DailyResetDate     *time.Time         `json:"daily_reset_date,omitempty"`
	CurrentPeriodStart time.Time          `gorm:"not null" json:"current_period_start"`
	CurrentPeriodEnd   time.Time          `gorm:"not null" json:"current_period_end"`
	IsActive           bool               `gorm:"not null" json:"is_active"`
	CreatedAt          time.Time          `gorm:"not null" json:"created_at"`
	UpdatedAt          time.Time          `gorm:"not null" json:"updated_at"`
}

func (Organization) TableName() string { return "organizations" }

type Member struct {
	ID        snowflake.ID `gorm:"primaryKey" json:"id"`
	OrgID     snowflake.ID `gorm:"not null;uniqueIndex:ux_org_user,priority:1" json:"org_id"`
	UserID    string       `gorm:"type:uuid;not null;uniqueIndex:ux_org_user,priority:2" json:"user_id"`
	Email     string       `gorm:"type:text;not null" json:"email"`
	Role      Role         `gorm:"type:text;not null" json:"role"`
	CreatedAt time.Time    `gorm:"not null" json:"created_at"`
}

func (Member) TableName() string { return "organization_members" }
