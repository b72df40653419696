package repository

import (
	"context"
	"errors"

	"github.com/bwmarrin/snowflake"
	usagedomain "github.com/smallbiznis/callsight/internal/usage/domain"
	dbpkg "github.com/smallbiznis/callsight/pkg/db"
	"gorm.io/gorm"
)

type repo struct{}

func Provide() usagedomain.Repository {
	return &repo{}
}

const insertUsageLog = `INSERT INTO usage_logs (
		id, org_id, user_id, action, resource_type, resource_id, units,
		metadata, action_id, charged, balance_after, created_at
	) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

func (r *repo) Insert(ctx context.Context, db *gorm.DB, entry *usagedomain.UsageLog) error {
	if entry == nil {
		return nil
	}
	return db.WithContext(ctx).Exec(insertUsageLog, values(entry)...).Error
}

// InsertAction claims (org_id, action_id) for a billable action. It reports
// false when another run already holds the claim.
func (r *repo) InsertAction(ctx context.Context, db *gorm.DB, entry *usagedomain.UsageLog) (bool, error) {
	if entry == nil || entry.ActionID == nil {
		return false, errors.New("usage action id is required")
	}
	res := db.WithContext(ctx).Exec(insertUsageLog+" ON CONFLICT DO NOTHING", values(entry)...)
	if res.Error != nil {
		if dbpkg.IsDuplicateKeyErr(res.Error) {
			return false, nil
		}
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

func values(entry *usagedomain.UsageLog) []any {
	return []any{
		entry.ID,
		entry.OrgID,
		entry.UserID,
		entry.Action,
		entry.ResourceType,
		entry.ResourceID,
		entry.Units,
		entry.Metadata,
		entry.ActionID,
		entry.Charged,
		entry.BalanceAfter,
		entry.CreatedAt,
	}
}

func (r *repo) FindByAction(ctx context.Context, db *gorm.DB, orgID snowflake.ID, actionID string) (*usagedomain.UsageLog, error) {
	var row usagedomain.UsageLog
	err := db.WithContext(ctx).
		Where("org_id = ? AND action_id = ?", orgID, actionID).
		Take(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &row, nil
}

func (r *repo) MarkCharged(ctx context.Context, db *gorm.DB, id snowflake.ID, balanceAfter int64) error {
	return db.WithContext(ctx).Exec(
		`UPDATE usage_logs SET charged = ?, balance_after = ? WHERE id = ?`,
		true, balanceAfter, id,
	).Error
}
