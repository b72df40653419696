package service

import (
	"context"
	"fmt"
	"strings"

	"github.com/bwmarrin/snowflake"
	"github.com/oklog/ulid/v2"
	"github.com/smallbiznis/callsight/internal/clock"
	ledgerdomain "github.com/smallbiznis/callsight/internal/ledger/domain"
	orgdomain "github.com/smallbiznis/callsight/internal/organization/domain"
	quotadomain "github.com/smallbiznis/callsight/internal/quota/domain"
	usagedomain "github.com/smallbiznis/callsight/internal/usage/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

type Params struct {
	fx.In

	DB        *gorm.DB
	Log       *zap.Logger
	GenID     *snowflake.Node
	Clock     clock.Clock
	Repo      usagedomain.Repository
	QuotaSvc  quotadomain.Service
	LedgerSvc ledgerdomain.Service
}

type Service struct {
	db        *gorm.DB
	log       *zap.Logger
	genID     *snowflake.Node
	clock     clock.Clock
	repo      usagedomain.Repository
	quotaSvc  quotadomain.Service
	ledgerSvc ledgerdomain.Service
}

func NewService(p Params) usagedomain.Service {
	return &Service{
		db:        p.DB,
		log:       p.Log.Named("usage.service"),
		genID:     p.GenID,
		clock:     p.Clock,
		repo:      p.Repo,
		quotaSvc:  p.QuotaSvc,
		ledgerSvc: p.LedgerSvc,
	}
}

func (s *Service) Record(ctx context.Context, event usagedomain.Event) error {
	if event.OrgID == 0 {
		return usagedomain.ErrInvalidOrganization
	}
	action := strings.TrimSpace(event.Action)
	if action == "" {
		return usagedomain.ErrInvalidAction
	}
	if event.Units <= 0 {
		return usagedomain.ErrInvalidUnits
	}
	resourceType := strings.TrimSpace(event.ResourceType)
	if resourceType == "" {
		resourceType = action
	}

	metadata := datatypes.JSONMap{}
	for k, v := range event.Metadata {
		metadata[k] = v
	}

	return s.repo.Insert(ctx, s.db, &usagedomain.UsageLog{
		ID:           s.genID.Generate(),
		OrgID:        event.OrgID,
		UserID:       optional(event.UserID),
		Action:       action,
		ResourceType: resourceType,
		ResourceID:   optional(event.ResourceID),
		Units:        event.Units,
		Metadata:     metadata,
		CreatedAt:    s.clock.Now().UTC(),
	})
}

// RunBillable is the increment-on-success path every billable feature goes
// through. Two callers racing on the last unit of quota may both be admitted.
func (s *Service) RunBillable(
	ctx context.Context,
	action usagedomain.BillableAction,
	fn func(ctx context.Context) error,
) (usagedomain.BillableResult, error) {
	if action.OrgID == 0 {
		return usagedomain.BillableResult{}, usagedomain.ErrInvalidOrganization
	}
	if strings.TrimSpace(action.Action) == "" || fn == nil {
		return usagedomain.BillableResult{}, usagedomain.ErrInvalidAction
	}
	if action.Units <= 0 {
		return usagedomain.BillableResult{}, usagedomain.ErrInvalidUnits
	}
	if action.Resource == "" {
		action.Resource = quotadomain.ResourceCalls
	}
	action.ID = strings.TrimSpace(action.ID)
	if action.ID == "" {
		action.ID = ulid.Make().String()
	}

	log := s.log.With(
		zap.String("org_id", action.OrgID.String()),
		zap.String("action", action.Action),
		zap.String("action_id", action.ID),
	)

	prior, err := s.repo.FindByAction(ctx, s.db, action.OrgID, action.ID)
	if err != nil {
		return usagedomain.BillableResult{}, err
	}
	if prior != nil {
		log.Info("billable action already ran, returning recorded outcome")
		return replayed(prior, action.Resource), nil
	}

	decision, state, err := s.quotaSvc.Check(ctx, action.OrgID, action.Resource, action.Units)
	if err != nil {
		return usagedomain.BillableResult{}, err
	}
	result := usagedomain.BillableResult{ActionID: action.ID, Decision: decision}
	if !decision.Allowed {
		return result, quotadomain.ErrQuotaExceeded
	}

	if err := fn(ctx); err != nil {
		log.Info("billable action failed, nothing charged", zap.Error(err))
		return result, err
	}

	entry := s.actionLog(action)
	claimed, err := s.repo.InsertAction(ctx, s.db, entry)
	switch {
	case err != nil:
		// Charging still goes through the org-scoped ledger key, so a lost
		// usage row cannot cause a second debit.
		log.Warn("usage log write failed", zap.Error(err))
	case !claimed:
		// A concurrent run with the same ID finished first and owns the charge.
		if prior, err := s.repo.FindByAction(ctx, s.db, action.OrgID, action.ID); err == nil && prior != nil {
			log.Warn("billable action raced with an identical request")
			return replayed(prior, action.Resource), nil
		}
		return result, nil
	}

	if state.Tier == orgdomain.TierPayAsYouGo && action.Resource == quotadomain.ResourceCalls {
		res, err := s.debitCredits(ctx, action)
		if err != nil {
			// The work is done; a lost race on the last credits is logged
			// rather than failing a request that already succeeded.
			log.Error("credit debit after billable action failed", zap.Error(err))
			return result, nil
		}
		result.Charged = res.Applied
		result.BalanceAfter = res.BalanceAfter
		if res.Applied && claimed {
			if err := s.repo.MarkCharged(ctx, s.db, entry.ID, res.BalanceAfter); err != nil {
				log.Warn("usage log charge update failed", zap.Error(err))
			}
		}
		return result, nil
	}

	if err := s.quotaSvc.RecordUsage(ctx, action.OrgID, action.Resource, action.Units); err != nil {
		log.Warn("usage counter increment failed", zap.Error(err))
	}
	return result, nil
}

func (s *Service) actionLog(action usagedomain.BillableAction) *usagedomain.UsageLog {
	resourceType := strings.TrimSpace(action.ResourceType)
	if resourceType == "" {
		resourceType = action.Action
	}
	metadata := datatypes.JSONMap{}
	for k, v := range action.Metadata {
		metadata[k] = v
	}
	id := action.ID
	return &usagedomain.UsageLog{
		ID:           s.genID.Generate(),
		OrgID:        action.OrgID,
		UserID:       optional(action.UserID),
		Action:       strings.TrimSpace(action.Action),
		ResourceType: resourceType,
		ResourceID:   optional(action.ResourceID),
		Units:        action.Units,
		Metadata:     metadata,
		ActionID:     &id,
		CreatedAt:    s.clock.Now().UTC(),
	}
}

func replayed(prior *usagedomain.UsageLog, resource quotadomain.Resource) usagedomain.BillableResult {
	res := usagedomain.BillableResult{
		ActionID: *prior.ActionID,
		Decision: quotadomain.Decision{Allowed: true, Resource: resource},
		Charged:  prior.Charged,
		Replayed: true,
	}
	if prior.BalanceAfter != nil {
		res.BalanceAfter = *prior.BalanceAfter
	}
	return res
}

// debitCredits charges one PAYG action. The ledger key is scoped to the
// organization, so the same client ID used by two orgs never collides.
func (s *Service) debitCredits(ctx context.Context, action usagedomain.BillableAction) (ledgerdomain.ApplyDeltaResult, error) {
	key := fmt.Sprintf("usage:%s:%s", action.OrgID, action.ID)
	return s.ledgerSvc.ApplyDelta(ctx, ledgerdomain.ApplyDeltaRequest{
		OrgID:          action.OrgID,
		Delta:          -action.Units,
		Kind:           ledgerdomain.KindUsage,
		Description:    fmt.Sprintf("%s (%d)", action.Action, action.Units),
		IdempotencyKey: &key,
		Metadata: map[string]any{
			"action":    action.Action,
			"action_id": action.ID,
		},
	})
}

func optional(v string) *string {
	v = strings.TrimSpace(v)
	if v == "" {
		return nil
	}
	return &v
}
