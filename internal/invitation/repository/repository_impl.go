package repository

import (
	"context"
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/callsight/internal/invitation/domain"
	orgdomain "github.com/smallbiznis/callsight/internal/organization/domain"
	"gorm.io/gorm"
)

type repo struct{}

func Provide() domain.Repository {
	return &repo{}
}

func (r *repo) Insert(ctx context.Context, db *gorm.DB, inv *domain.Invitation) error {
	return db.WithContext(ctx).Exec(
		`INSERT INTO invitations (id, org_id, email, role, token_hash, invited_by, expires_at, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		inv.ID, inv.OrgID, inv.Email, string(inv.Role), inv.TokenHash, inv.InvitedBy, inv.ExpiresAt, inv.CreatedAt,
	).Error
}

func (r *repo) FindByTokenHash(ctx context.Context, db *gorm.DB, hash string) (*domain.Invitation, error) {
	var inv domain.Invitation
	err := db.WithContext(ctx).Where("token_hash = ?", hash).Take(&inv).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &inv, nil
}

// MarkAccepted is the single-use gate: only one caller can move a pending,
// unexpired row to accepted.
func (r *repo) MarkAccepted(ctx context.Context, db *gorm.DB, hash, userID string, now time.Time) (int64, error) {
	res := db.WithContext(ctx).Exec(
		`UPDATE invitations
		 SET accepted_at = ?, accepted_by = ?
		 WHERE token_hash = ? AND accepted_at IS NULL AND expires_at > ?`,
		now, userID, hash, now,
	)
	return res.RowsAffected, res.Error
}

func (r *repo) ListPending(ctx context.Context, db *gorm.DB, orgID snowflake.ID, now time.Time) ([]domain.Invitation, error) {
	var rows []domain.Invitation
	err := db.WithContext(ctx).
		Where("org_id = ? AND accepted_at IS NULL AND expires_at > ?", orgID, now).
		Order("created_at DESC").
		Find(&rows).Error
	return rows, err
}

func (r *repo) InsertMemberIfAbsent(ctx context.Context, db *gorm.DB, member *orgdomain.Member) (bool, error) {
	res := db.WithContext(ctx).Exec(
		`INSERT INTO organization_members (id, org_id, user_id, email, role, created_at)
		 VALUES (?, ?, ?, ?, ?, ?)
		 ON CONFLICT (org_id, user_id) DO NOTHING`,
		member.ID, member.OrgID, member.UserID, member.Email, string(member.Role), member.CreatedAt,
	)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}
