package rls

import (
	"strconv"

	"github.com/smallbiznis/callsight/pkg/db"
	"gorm.io/gorm"
)

// WithTenant scopes row-level security policies to one organization for the
// rest of the transaction. It is a no-op on dialects without session settings.
func WithTenant(tx *gorm.DB, orgID int64) error {
	if !db.IsPostgres(tx) {
		return nil
	}
	return tx.Exec("SELECT set_config('app.current_org_id', ?, true)", strconv.FormatInt(orgID, 10)).Error
}

// WithUser exposes the authenticated user to policies on organization_members.
func WithUser(tx *gorm.DB, userID string) error {
	if !db.IsPostgres(tx) {
		return nil
	}
	return tx.Exec("SELECT set_config('app.current_user_id', ?, true)", userID).Error
}
