package repository

import (
	"context"
	"strings"

	"github.com/smallbiznis/callsight/internal/audit/domain"
	"gorm.io/gorm"
)

type repo struct{}

func Provide() domain.Repository {
	return &repo{}
}

// Insert appends a row. The trail is append-only; there is no update path.
func (r *repo) Insert(ctx context.Context, db *gorm.DB, entry *domain.AuditLog) error {
	if entry == nil {
		return nil
	}
	return db.WithContext(ctx).Create(entry).Error
}

func (r *repo) List(ctx context.Context, db *gorm.DB, filter domain.ListFilter) ([]domain.AuditLog, error) {
	var rows []domain.AuditLog
	err := db.WithContext(ctx).
		Model(&domain.AuditLog{}).
		Where("org_id = ?", filter.OrgID).
		Scopes(
			byCategory(filter.Category),
			equals("action", filter.Action),
			equals("actor_type", filter.ActorType),
			equals("target_type", filter.TargetType),
			equals("target_id", filter.TargetID),
			within(filter),
			after(filter.Cursor),
		).
		Order("created_at desc, id desc").
		Limit(filter.Limit + 1).
		Find(&rows).Error
	if err != nil {
		return nil, err
	}
	return rows, nil
}

func equals(column, value string) func(*gorm.DB) *gorm.DB {
	value = strings.TrimSpace(value)
	return func(db *gorm.DB) *gorm.DB {
		if value == "" {
			return db
		}
		return db.Where(column+" = ?", value)
	}
}

func byCategory(category string) func(*gorm.DB) *gorm.DB {
	category = strings.TrimSpace(category)
	return func(db *gorm.DB) *gorm.DB {
		if category == "" {
			return db
		}
		return db.Where("action LIKE ?", category+".%")
	}
}

func within(filter domain.ListFilter) func(*gorm.DB) *gorm.DB {
	return func(db *gorm.DB) *gorm.DB {
		if filter.Since != nil {
			db = db.Where("created_at >= ?", filter.Since.UTC())
		}
		if filter.Until != nil {
			db = db.Where("created_at <= ?", filter.Until.UTC())
		}
		return db
	}
}

// after continues a newest-first walk below the cursor row.
func after(cursor *domain.AuditCursor) func(*gorm.DB) *gorm.DB {
	return func(db *gorm.DB) *gorm.DB {
		if cursor == nil {
			return db
		}
		return db.Where("(created_at < ?) OR (created_at = ? AND id < ?)",
			cursor.CreatedAt, cursor.CreatedAt, cursor.ID)
	}
}
