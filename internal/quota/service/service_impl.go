package service

import (
	"context"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/callsight/internal/clock"
	"github.com/smallbiznis/callsight/internal/config"
	"github.com/smallbiznis/callsight/internal/observability/metrics"
	orgdomain "github.com/smallbiznis/callsight/internal/organization/domain"
	"github.com/smallbiznis/callsight/internal/quota/domain"
	"github.com/smallbiznis/callsight/internal/quota/repository"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type Params struct {
	fx.In

	DB      *gorm.DB
	Log     *zap.Logger
	Clock   clock.Clock
	Plans   *config.PlanCatalogHolder
	Repo    repository.Repository
	Metrics *metrics.Metrics `optional:"true"`
}

type Service struct {
	db      *gorm.DB
	log     *zap.Logger
	clock   clock.Clock
	plans   *config.PlanCatalogHolder
	repo    repository.Repository
	metrics *metrics.Metrics
}

func NewService(p Params) domain.Service {
	return &Service{
		db:      p.DB,
		log:     p.Log.Named("quota.service"),
		clock:   p.Clock,
		plans:   p.Plans,
		repo:    p.Repo,
		metrics: p.Metrics,
	}
}

func (s *Service) Allowance(tier orgdomain.Tier) (domain.Allowance, error) {
	plan, ok := s.plans.Get().Plan(string(tier))
	if !ok {
		return domain.Allowance{}, domain.ErrUnknownTier
	}
	return domain.Allowance{
		CallsPerMonth: plan.CallsPerMonth,
		StorageMB:     plan.StorageMB,
		Seats:         plan.Seats,
	}, nil
}

func (s *Service) Check(ctx context.Context, orgID snowflake.ID, resource domain.Resource, units int64) (domain.Decision, domain.UsageState, error) {
	if _, err := domain.ParseResource(string(resource)); err != nil {
		return domain.Decision{}, domain.UsageState{}, err
	}
	if units <= 0 {
		return domain.Decision{}, domain.UsageState{}, domain.ErrInvalidUnits
	}

	row, err := s.repo.LoadState(ctx, s.db, orgID)
	if err != nil {
		return domain.Decision{}, domain.UsageState{}, err
	}
	if row == nil {
		return domain.Decision{}, domain.UsageState{}, orgdomain.ErrOrganizationNotFound
	}
	if !row.IsActive {
		return domain.Decision{}, domain.UsageState{}, orgdomain.ErrOrganizationInactive
	}

	if err := s.rollIfLapsed(ctx, orgID, row); err != nil {
		return domain.Decision{}, domain.UsageState{}, err
	}

	state := domain.UsageState{
		Tier:           orgdomain.Tier(row.SubscriptionTier),
		CallsUsed:      row.CallsUsed,
		CallsLimit:     row.CallsLimit,
		StorageUsedMB:  row.StorageUsedMB,
		StorageLimitMB: row.StorageLimitMB,
		CreditsBalance: row.CreditsBalance,
	}
	if resource == domain.ResourceSeats {
		if state.Seats, err = s.repo.CountSeats(ctx, s.db, orgID); err != nil {
			return domain.Decision{}, domain.UsageState{}, err
		}
	}

	allowance, err := s.Allowance(state.Tier)
	if err != nil {
		return domain.Decision{}, domain.UsageState{}, err
	}

	decision := domain.CanConsume(state, allowance, resource, units)
	if !decision.Allowed {
		s.metrics.RecordQuotaDenied(ctx, string(resource), string(state.Tier))
		s.log.Info("quota refused",
			zap.String("org_id", orgID.String()),
			zap.String("resource", string(resource)),
			zap.Int64("used", decision.CurrentUsed),
			zap.Int64("limit", decision.Limit),
			zap.Int64("requested", units),
		)
	}
	return decision, state, nil
}

// rollIfLapsed resets the monthly call counter once the window has ended,
// advancing by whole months so a long-idle org lands in the current window.
func (s *Service) rollIfLapsed(ctx context.Context, orgID snowflake.ID, row *repository.StateRow) error {
	now := s.clock.Now().UTC()
	if now.Before(row.CurrentPeriodEnd) {
		return nil
	}

	start := row.CurrentPeriodStart.UTC()
	end := row.CurrentPeriodEnd.UTC()
	for !now.Before(end) {
		start = end
		end = end.AddDate(0, 1, 0)
	}

	rolled, err := s.repo.RollWindow(ctx, s.db, orgID, now, start, end)
	if err != nil {
		return err
	}
	if rolled {
		s.log.Info("usage window reset",
			zap.String("org_id", orgID.String()),
			zap.Time("period_start", start),
			zap.Time("period_end", end),
		)
	}
	// Either we rolled or a concurrent caller did; both leave calls at zero
	// for the new window unless usage was recorded in between.
	fresh, err := s.repo.LoadState(ctx, s.db, orgID)
	if err != nil {
		return err
	}
	if fresh != nil {
		*row = *fresh
	}
	return nil
}

func (s *Service) RecordUsage(ctx context.Context, orgID snowflake.ID, resource domain.Resource, units int64) error {
	if units <= 0 {
		return domain.ErrInvalidUnits
	}

	var (
		affected int64
		err      error
	)
	switch resource {
	case domain.ResourceCalls:
		affected, err = s.repo.IncrementCalls(ctx, s.db, orgID, units)
	case domain.ResourceStorageMB:
		affected, err = s.repo.IncrementStorage(ctx, s.db, orgID, units)
	case domain.ResourceSeats:
		// Seats are derived from membership rows.
		return nil
	default:
		return domain.ErrInvalidResource
	}
	if err != nil {
		return err
	}
	if affected == 0 {
		return orgdomain.ErrOrganizationNotFound
	}
	return nil
}
