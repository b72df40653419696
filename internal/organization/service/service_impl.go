package service

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/google/uuid"
	"github.com/gosimple/slug"
	"github.com/smallbiznis/callsight/internal/clock"
	"github.com/smallbiznis/callsight/internal/config"
	"github.com/smallbiznis/callsight/internal/organization/domain"
	"github.com/smallbiznis/callsight/pkg/rls"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type Params struct {
	fx.In

	DB    *gorm.DB
	Log   *zap.Logger
	GenID *snowflake.Node
	Clock clock.Clock
	Plans *config.PlanCatalogHolder
	Repo  domain.Repository
}

type Service struct {
	db    *gorm.DB
	log   *zap.Logger
	genID *snowflake.Node
	clock clock.Clock
	plans *config.PlanCatalogHolder
	repo  domain.Repository
}

func NewService(p Params) domain.Service {
	return &Service{
		db:    p.DB,
		log:   p.Log.Named("organization.service"),
		genID: p.GenID,
		clock: p.Clock,
		plans: p.Plans,
		repo:  p.Repo,
	}
}

// Create opens a free-tier organization and makes the caller its owner.
func (s *Service) Create(ctx context.Context, req domain.CreateRequest) (*domain.Organization, error) {
	userID := strings.TrimSpace(req.UserID)
	if _, err := uuid.Parse(userID); err != nil {
		return nil, domain.ErrInvalidUser
	}
	email := strings.ToLower(strings.TrimSpace(req.Email))
	if email == "" || !strings.Contains(email, "@") {
		return nil, domain.ErrInvalidEmail
	}
	name := strings.TrimSpace(req.Name)
	if name == "" || len(name) > 120 {
		return nil, domain.ErrInvalidName
	}

	plan, ok := s.plans.Get().Plan(string(domain.TierFree))
	if !ok {
		return nil, fmt.Errorf("plan catalog missing tier %s", domain.TierFree)
	}

	now := s.clock.Now().UTC()
	org := &domain.Organization{
		ID:                 s.genID.Generate(),
		Name:               name,
		SubscriptionTier:   domain.TierFree,
		SubscriptionStatus: domain.StatusActive,
		BillingCycle:       domain.CycleMonthly,
		CallsLimit:         plan.CallsPerMonth,
		StorageLimitMB:     plan.StorageMB,
		CurrentPeriodStart: now,
		CurrentPeriodEnd:   now.AddDate(0, 1, 0),
		IsActive:           true,
		CreatedAt:          now,
		UpdatedAt:          now,
	}

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := rls.WithUser(tx, userID); err != nil {
			return err
		}
		orgSlug, err := s.uniqueSlug(ctx, tx, name, org.ID)
		if err != nil {
			return err
		}
		org.Slug = orgSlug

		if err := s.repo.Insert(ctx, tx, org); err != nil {
			return err
		}
		return s.repo.InsertMember(ctx, tx, &domain.Member{
			ID:        s.genID.Generate(),
			OrgID:     org.ID,
			UserID:    userID,
			Email:     email,
			Role:      domain.RoleOwner,
			CreatedAt: now,
		})
	})
	if err != nil {
		return nil, err
	}

	s.log.Info("organization created",
		zap.String("org_id", org.ID.String()),
		zap.String("owner_id", userID),
	)
	return org, nil
}

func (s *Service) uniqueSlug(ctx context.Context, tx *gorm.DB, name string, id snowflake.ID) (string, error) {
	base := slug.Make(name)
	if base == "" {
		base = "org"
	}
	exists, err := s.repo.SlugExists(ctx, tx, base)
	if err != nil {
		return "", err
	}
	if !exists {
		return base, nil
	}
	return fmt.Sprintf("%s-%s", base, strings.ToLower(id.Base36())), nil
}

func (s *Service) Get(ctx context.Context, id snowflake.ID) (*domain.Organization, error) {
	if id == 0 {
		return nil, domain.ErrOrganizationNotFound
	}
	org, err := s.repo.FindByID(ctx, s.db, id)
	if err != nil {
		return nil, err
	}
	if org == nil {
		return nil, domain.ErrOrganizationNotFound
	}
	return org, nil
}

func (s *Service) RoleOf(ctx context.Context, orgID snowflake.ID, userID string) (domain.Role, error) {
	userID = strings.TrimSpace(userID)
	if orgID == 0 || userID == "" {
		return "", domain.ErrNotMember
	}
	member, err := s.repo.FindMember(ctx, s.db, orgID, userID)
	if err != nil {
		return "", err
	}
	if member == nil {
		return "", domain.ErrNotMember
	}
	return member.Role, nil
}

// ApplySubscription moves the organization onto a paid tier and opens a fresh
// monthly usage window starting at PeriodStart.
func (s *Service) ApplySubscription(ctx context.Context, tx *gorm.DB, req domain.ApplySubscriptionRequest) error {
	if !req.Tier.Purchasable() {
		return domain.ErrInvalidTier
	}
	if !req.BillingCycle.Valid() {
		return domain.ErrInvalidBillingCycle
	}
	plan, ok := s.plans.Get().Plan(string(req.Tier))
	if !ok {
		return domain.ErrInvalidTier
	}
	if tx == nil {
		tx = s.db
	}

	start := req.PeriodStart.UTC()
	resetDate := time.Date(start.Year(), start.Month(), start.Day(), 0, 0, 0, 0, time.UTC)
	affected, err := s.repo.UpdateSubscription(ctx, tx, &domain.Organization{
		ID:                 req.OrgID,
		SubscriptionTier:   req.Tier,
		SubscriptionStatus: domain.StatusActive,
		BillingCycle:       req.BillingCycle,
		CallsLimit:         plan.CallsPerMonth,
		StorageLimitMB:     plan.StorageMB,
		CurrentPeriodStart: start,
		CurrentPeriodEnd:   start.AddDate(0, 1, 0),
		DailyResetDate:     &resetDate,
		UpdatedAt:          s.clock.Now().UTC(),
	})
	if err != nil {
		return err
	}
	if affected == 0 {
		return domain.ErrOrganizationNotFound
	}

	s.log.Info("subscription applied",
		zap.String("org_id", req.OrgID.String()),
		zap.String("tier", string(req.Tier)),
		zap.String("billing_cycle", string(req.BillingCycle)),
	)
	return nil
}

// Deactivate soft-disables an organization. Rows are never deleted.
func (s *Service) Deactivate(ctx context.Context, id snowflake.ID) error {
	affected, err := s.repo.SetActive(ctx, s.db, id, false)
	if err != nil {
		return err
	}
	if affected == 0 {
		return domain.ErrOrganizationNotFound
	}
	return nil
}
