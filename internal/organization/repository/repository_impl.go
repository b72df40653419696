package repository

import (
	"context"
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/callsight/internal/organization/domain"
	"gorm.io/gorm"
)

type repo struct{}

func Provide() domain.Repository {
	return &repo{}
}

func (r *repo) Insert(ctx context.Context, db *gorm.DB, org *domain.Organization) error {
	return db.WithContext(ctx).Exec(
		`INSERT INTO organizations (
			id, name, slug, subscription_tier, subscription_status, billing_cycle,
			calls_used, calls_limit, storage_used_mb, storage_limit_mb, credits_balance,
			current_period_start, current_period_end, is_active, created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, 0, ?, 0, ?, 0, ?, ?, ?, ?, ?)`,
		org.ID, org.Name, org.Slug,
		string(org.SubscriptionTier), string(org.SubscriptionStatus), string(org.BillingCycle),
		org.CallsLimit, org.StorageLimitMB,
		org.CurrentPeriodStart, org.CurrentPeriodEnd, org.IsActive, org.CreatedAt, org.UpdatedAt,
	).Error
}

func (r *repo) InsertMember(ctx context.Context, db *gorm.DB, member *domain.Member) error {
	return db.WithContext(ctx).Exec(
		`INSERT INTO organization_members (id, org_id, user_id, email, role, created_at)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		member.ID, member.OrgID, member.UserID, member.Email, string(member.Role), member.CreatedAt,
	).Error
}

func (r *repo) FindByID(ctx context.Context, db *gorm.DB, id snowflake.ID) (*domain.Organization, error) {
	var org domain.Organization
	err := db.WithContext(ctx).Where("id = ?", id).Take(&org).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &org, nil
}

func (r *repo) SlugExists(ctx context.Context, db *gorm.DB, slug string) (bool, error) {
	var count int64
	err := db.WithContext(ctx).Raw(`SELECT COUNT(1) FROM organizations WHERE slug = ?`, slug).Scan(&count).Error
	return count > 0, err
}

func (r *repo) FindMember(ctx context.Context, db *gorm.DB, orgID snowflake.ID, userID string) (*domain.Member, error) {
	var member domain.Member
	err := db.WithContext(ctx).
		Where("org_id = ? AND user_id = ?", orgID, userID).
		Take(&member).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &member, nil
}

func (r *repo) UpdateSubscription(ctx context.Context, db *gorm.DB, org *domain.Organization) (int64, error) {
	res := db.WithContext(ctx).Exec(
		`UPDATE organizations
		 SET subscription_tier = ?, subscription_status = ?, billing_cycle = ?,
		     calls_limit = ?, storage_limit_mb = ?, calls_used = 0,
		     current_period_start = ?, current_period_end = ?, daily_reset_date = ?, updated_at = ?
		 WHERE id = ?`,
		string(org.SubscriptionTier), string(org.SubscriptionStatus), string(org.BillingCycle),
		org.CallsLimit, org.StorageLimitMB,
		org.CurrentPeriodStart, org.CurrentPeriodEnd, org.DailyResetDate, org.UpdatedAt,
		org.ID,
	)
	return res.RowsAffected, res.Error
}

func (r *repo) SetActive(ctx context.Context, db *gorm.DB, id snowflake.ID, active bool) (int64, error) {
	res := db.WithContext(ctx).Exec(
		`UPDATE organizations SET is_active = ?, updated_at = ? WHERE id = ?`,
		active, time.Now().UTC(), id,
	)
	return res.RowsAffected, res.Error
}
