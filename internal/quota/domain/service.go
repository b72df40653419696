package domain

import (
	"context"

	"github.com/bwmarrin/snowflake"
	orgdomain "github.com/smallbiznis/callsight/internal/organization/domain"
)

type Service interface {
	// Check rolls the usage window forward if it has lapsed, then evaluates
	// CanConsume. A refusal is reported in the Decision, not as an error.
	Check(ctx context.Context, orgID snowflake.ID, resource Resource, units int64) (Decision, UsageState, error)
	// RecordUsage increments counters after a billable action has succeeded.
	RecordUsage(ctx context.Context, orgID snowflake.ID, resource Resource, units int64) error
	Allowance(tier orgdomain.Tier) (Allowance, error)
}
