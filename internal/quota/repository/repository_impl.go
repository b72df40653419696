package repository

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/gorm"
)

// StateRow is the organization slice read for a quota decision.
type StateRow struct {
	SubscriptionTier   string
	CallsUsed          int64
	CallsLimit         int64
	StorageUsedMB      int64 `gorm:"column:storage_used_mb"`
	StorageLimitMB     int64 `gorm:"column:storage_limit_mb"`
	CreditsBalance     int64
	CurrentPeriodStart time.Time
	CurrentPeriodEnd   time.Time
	IsActive           bool
}

type Repository interface {
	LoadState(ctx context.Context, db *gorm.DB, orgID snowflake.ID) (*StateRow, error)
	CountSeats(ctx context.Context, db *gorm.DB, orgID snowflake.ID) (int64, error)
	RollWindow(ctx context.Context, db *gorm.DB, orgID snowflake.ID, now, start, end time.Time) (bool, error)
	IncrementCalls(ctx context.Context, db *gorm.DB, orgID snowflake.ID, units int64) (int64, error)
	IncrementStorage(ctx context.Context, db *gorm.DB, orgID snowflake.ID, megabytes int64) (int64, error)
}

type repo struct{}

func Provide() Repository {
	return &repo{}
}

func (r *repo) LoadState(ctx context.Context, db *gorm.DB, orgID snowflake.ID) (*StateRow, error) {
	var row StateRow
	res := db.WithContext(ctx).Raw(
		`SELECT subscription_tier, calls_used, calls_limit, storage_used_mb, storage_limit_mb,
		        credits_balance, current_period_start, current_period_end, is_active
		 FROM organizations WHERE id = ?`,
		orgID,
	).Scan(&row)
	if res.Error != nil {
		return nil, res.Error
	}
	if res.RowsAffected == 0 {
		return nil, nil
	}
	return &row, nil
}

func (r *repo) CountSeats(ctx context.Context, db *gorm.DB, orgID snowflake.ID) (int64, error) {
	var n int64
	err := db.WithContext(ctx).Raw(`SELECT COUNT(1) FROM organization_members WHERE org_id = ?`, orgID).Scan(&n).Error
	return n, err
}

// RollWindow zeroes calls_used and moves the window to [start, end). The
// current_period_end guard makes concurrent rollers converge on one update.
func (r *repo) RollWindow(ctx context.Context, db *gorm.DB, orgID snowflake.ID, now, start, end time.Time) (bool, error) {
	resetDate := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)
	res := db.WithContext(ctx).Exec(
		`UPDATE organizations
		 SET calls_used = 0, current_period_start = ?, current_period_end = ?, daily_reset_date = ?, updated_at = ?
		 WHERE id = ? AND current_period_end <= ?`,
		start, end, resetDate, now, orgID, now,
	)
	return res.RowsAffected > 0, res.Error
}

func (r *repo) IncrementCalls(ctx context.Context, db *gorm.DB, orgID snowflake.ID, units int64) (int64, error) {
	res := db.WithContext(ctx).Exec(
		`UPDATE organizations SET calls_used = calls_used + ?, updated_at = ? WHERE id = ?`,
		units, time.Now().UTC(), orgID,
	)
	return res.RowsAffected, res.Error
}

func (r *repo) IncrementStorage(ctx context.Context, db *gorm.DB, orgID snowflake.ID, megabytes int64) (int64, error) {
	res := db.WithContext(ctx).Exec(
		`UPDATE organizations SET storage_used_mb = storage_used_mb + ?, updated_at = ? WHERE id = ?`,
		megabytes, time.Now().UTC(), orgID,
	)
	return res.RowsAffected, res.Error
}
