package authorization

import (
	"context"
	_ "embed"
	"errors"
	"strings"

	"github.com/bwmarrin/snowflake"
	"github.com/casbin/casbin/v2"
	"github.com/casbin/casbin/v2/model"
	gormadapter "github.com/casbin/gorm-adapter/v3"
	auditdomain "github.com/smallbiznis/callsight/internal/audit/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

//go:embed model.conf
var modelText string

const (
	ObjectOrganization = "organization"
	ObjectInvitation   = "invitation"
	ObjectPayment      = "payment"
	ObjectLedger       = "ledger"
	ObjectQuota        = "quota"
	ObjectCall         = "call"
	ObjectInvoice      = "invoice"
	ObjectAuditLog     = "audit_log"
)

const (
	ActionOrganizationView = "organization.view"

	ActionInvitationCreate = "invitation.create"
	ActionInvitationView   = "invitation.view"

	ActionPaymentCreateOrder = "payment.create_order"
	ActionPaymentReconcile   = "payment.reconcile"

	ActionLedgerView      = "ledger.view"
	ActionLedgerReconcile = "ledger.reconcile"

	ActionQuotaCheck  = "quota.check"
	ActionCallAnalyze = "call.analyze"

	ActionInvoiceView = "invoice.view"

	ActionAuditLogView = "audit_log.view"
)

type Params struct {
	fx.In

	DB       *gorm.DB
	Log      *zap.Logger
	Enforcer *casbin.SyncedEnforcer
	AuditSvc auditdomain.Service `optional:"true"`
}

type ServiceImpl struct {
	db       *gorm.DB
	log      *zap.Logger
	enforcer *casbin.SyncedEnforcer
	auditSvc auditdomain.Service
}

func NewEnforcer(db *gorm.DB) (*casbin.SyncedEnforcer, error) {
	adapter, err := gormadapter.NewAdapterByDB(db)
	if err != nil {
		return nil, err
	}
	m, err := model.NewModelFromString(modelText)
	if err != nil {
		return nil, err
	}
	enforcer, err := casbin.NewSyncedEnforcer(m, adapter)
	if err != nil {
		return nil, err
	}
	enforcer.EnableAutoSave(true)
	enforcer.EnableAutoBuildRoleLinks(true)
	if err := enforcer.LoadPolicy(); err != nil {
		return nil, err
	}
	if err := seedPolicies(enforcer); err != nil {
		return nil, err
	}
	enforcer.BuildRoleLinks()
	return enforcer, nil
}

func NewService(p Params) Service {
	return &ServiceImpl{
		db:       p.DB,
		log:      p.Log.Named("authorization.service"),
		enforcer: p.Enforcer,
		auditSvc: p.AuditSvc,
	}
}

// Authorize resolves the actor's membership role in orgID, keeps the
// enforcer's role link for that organization in step with it, and enforces.
func (s *ServiceImpl) Authorize(ctx context.Context, actor string, orgID string, object string, action string) error {
	sub, err := parseSubject(actor)
	if err != nil {
		return err
	}
	org, err := snowflake.ParseString(strings.TrimSpace(orgID))
	if err != nil || org == 0 {
		return ErrInvalidOrganization
	}
	object = strings.TrimSpace(object)
	if object == "" {
		return ErrInvalidObject
	}
	action = strings.TrimSpace(action)
	if action == "" {
		return ErrInvalidAction
	}

	role, err := s.roleOf(ctx, sub, org)
	if err != nil {
		if errors.Is(err, ErrForbidden) {
			s.record(ctx, "authorization.denied", sub, org, object, action)
		}
		return err
	}

	domain := "org:" + org.String()
	if err := s.syncRole(sub.String(), role, domain); err != nil {
		return err
	}

	allowed, err := s.enforcer.Enforce(sub.String(), domain, object, action)
	if err != nil {
		return err
	}
	if !allowed {
		s.record(ctx, "authorization.denied", sub, org, object, action)
		return ErrForbidden
	}
	if privileged(action) {
		s.record(ctx, "authorization.granted", sub, org, object, action)
	}
	return nil
}

type subject struct {
	kind auditdomain.ActorType
	id   string
}

func (s subject) String() string {
	if s.kind == auditdomain.ActorTypeSystem {
		return "system"
	}
	return UserActor(s.id)
}

func parseSubject(actor string) (subject, error) {
	actor = strings.TrimSpace(actor)
	if actor == "system" {
		return subject{kind: auditdomain.ActorTypeSystem}, nil
	}
	id, ok := strings.CutPrefix(actor, "user:")
	id = strings.TrimSpace(id)
	if !ok || id == "" {
		return subject{}, ErrInvalidActor
	}
	return subject{kind: auditdomain.ActorTypeUser, id: id}, nil
}

// roleOf maps the subject to its casbin role. Users without a membership
// row get ErrForbidden.
func (s *ServiceImpl) roleOf(ctx context.Context, sub subject, orgID snowflake.ID) (string, error) {
	if sub.kind == auditdomain.ActorTypeSystem {
		return "role:system", nil
	}
	var roles []string
	err := s.db.WithContext(ctx).
		Table("organization_members").
		Where("org_id = ? AND user_id = ?", orgID, sub.id).
		Limit(1).
		Pluck("role", &roles).Error
	if err != nil {
		return "", err
	}
	if len(roles) == 0 || strings.TrimSpace(roles[0]) == "" {
		return "", ErrForbidden
	}
	return "role:" + strings.ToLower(strings.TrimSpace(roles[0])), nil
}

// syncRole leaves exactly one role link for subject in domain.
func (s *ServiceImpl) syncRole(sub, role, domain string) error {
	current := s.enforcer.GetRolesForUserInDomain(sub, domain)
	if len(current) == 1 && current[0] == role {
		return nil
	}
	if len(current) > 0 {
		if _, err := s.enforcer.DeleteRolesForUserInDomain(sub, domain); err != nil {
			return err
		}
	}
	_, err := s.enforcer.AddRoleForUserInDomain(sub, role, domain)
	return err
}

func (s *ServiceImpl) record(ctx context.Context, outcome string, sub subject, orgID snowflake.ID, object, action string) {
	var actorID *string
	if sub.id != "" {
		id := sub.id
		actorID = &id
	}
	targetID := object + ":" + action
	auditdomain.LogAsync(ctx, s.auditSvc, s.log, auditdomain.Entry{
		OrgID:      &orgID,
		ActorType:  sub.kind,
		ActorID:    actorID,
		Action:     outcome,
		TargetType: "capability",
		TargetID:   &targetID,
		Metadata: map[string]any{
			"object":  object,
			"action":  action,
			"subject": sub.String(),
		},
	})
	if outcome == "authorization.denied" {
		s.log.Info("authorization denied",
			zap.String("org_id", orgID.String()),
			zap.String("subject", sub.String()),
			zap.String("action", action),
		)
	}
}

// privileged actions leave an audit row even when allowed.
func privileged(action string) bool {
	switch action {
	case ActionPaymentReconcile, ActionLedgerReconcile:
		return true
	default:
		return false
	}
}

func seedPolicies(enforcer *casbin.SyncedEnforcer) error {
	member := [][2]string{
		{ObjectOrganization, ActionOrganizationView},
		{ObjectPayment, ActionPaymentCreateOrder},
		{ObjectLedger, ActionLedgerView},
		{ObjectQuota, ActionQuotaCheck},
		{ObjectCall, ActionCallAnalyze},
		{ObjectInvoice, ActionInvoiceView},
	}
	admin := append([][2]string{
		{ObjectInvitation, ActionInvitationCreate},
		{ObjectInvitation, ActionInvitationView},
		{ObjectPayment, ActionPaymentReconcile},
		{ObjectLedger, ActionLedgerReconcile},
		{ObjectAuditLog, ActionAuditLogView},
	}, member...)

	policies := make([][]string, 0, len(member)+2*len(admin)+2)
	for _, p := range member {
		policies = append(policies, []string{"role:member", p[0], p[1]})
	}
	for _, role := range []string{"role:admin", "role:owner"} {
		for _, p := range admin {
			policies = append(policies, []string{role, p[0], p[1]})
		}
	}
	policies = append(policies,
		[]string{"role:system", ObjectPayment, ActionPaymentReconcile},
		[]string{"role:system", ObjectLedger, ActionLedgerReconcile},
	)

	for _, policy := range policies {
		if _, err := enforcer.AddPolicy(policy); err != nil {
			return err
		}
	}
	return nil
}
