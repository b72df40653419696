// Package domain contains the usage log model and the billable action runner contract.
package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/datatypes"
)

// UsageLog is one append-only record of metered activity.
type UsageLog struct {
	ID           snowflake.ID      `gorm:"primaryKey" json:"id"`
	OrgID        snowflake.ID      `gorm:"not null;index" json:"org_id"`
	UserID       *string           `gorm:"type:text" json:"user_id,omitempty"`
	Action       string            `gorm:"type:text;not null" json:"action"`
	ResourceType string            `gorm:"type:text;not null" json:"resource_type"`
	ResourceID   *string           `gorm:"type:text" json:"resource_id,omitempty"`
	Units        int64             `gorm:"not null" json:"units"`
	Metadata     datatypes.JSONMap `gorm:"type:jsonb;not null" json:"metadata"`
	// ActionID is set for billable actions and is unique per organization.
	ActionID     *string   `gorm:"type:text" json:"action_id,omitempty"`
	Charged      bool      `gorm:"not null" json:"charged"`
	BalanceAfter *int64    `json:"balance_after,omitempty"`
	CreatedAt    time.Time `gorm:"not null" json:"created_at"`
}

// TableName sets the database table name.
func (UsageLog) TableName() string { return "usage_logs" }
