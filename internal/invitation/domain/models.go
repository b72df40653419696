package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
	orgdomain "github.com/smallbiznis/callsight/internal/organization/domain"
)

// Invitation grants one person a seat. Only the blake2b hash of the token is
// stored; the raw token exists in the invite email alone.
type Invitation struct {
	ID         snowflake.ID   `gorm:"primaryKey" json:"id"`
	OrgID      snowflake.ID   `gorm:"not null;index" json:"organization_id"`
	Email      string         `gorm:"type:text;not null" json:"email"`
	Role       orgdomain.Role `gorm:"type:text;not null" json:"role"`
	TokenHash  string         `gorm:"type:text;not null;uniqueIndex" json:"-"`
	InvitedBy  string         `gorm:"type:text;not null" json:"invited_by"`
	ExpiresAt  time.Time      `gorm:"not null" json:"expires_at"`
	AcceptedAt *time.Time     `json:"accepted_at,omitempty"`
	AcceptedBy *string        `gorm:"type:text" json:"accepted_by,omitempty"`
	CreatedAt  time.Time      `gorm:"not null" json:"created_at"`
}

func (Invitation) TableName() string { return "invitations" }

// Pending reports whether the invitation can still be accepted at now.
func (i Invitation) Pending(now time.Time) bool {
	return i.AcceptedAt == nil && now.Before(i.ExpiresAt)
}
