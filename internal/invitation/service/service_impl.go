package service

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"net/mail"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	auditdomain "github.com/smallbiznis/callsight/internal/audit/domain"
	"github.com/smallbiznis/callsight/internal/authorization"
	"github.com/smallbiznis/callsight/internal/clock"
	"github.com/smallbiznis/callsight/internal/config"
	"github.com/smallbiznis/callsight/internal/invitation/domain"
	orgdomain "github.com/smallbiznis/callsight/internal/organization/domain"
	"github.com/smallbiznis/callsight/internal/providers/email"
	quotadomain "github.com/smallbiznis/callsight/internal/quota/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"golang.org/x/crypto/blake2b"
	"gorm.io/gorm"
)

const (
	tokenBytes         = 32
	defaultTTL         = 7 * 24 * time.Hour
	inviteEmailTimeout = 30 * time.Second
	inviteTemplate     = "invite_member"
)

type Params struct {
	fx.In

	DB       *gorm.DB
	Log      *zap.Logger
	GenID    *snowflake.Node
	Clock    clock.Clock
	Cfg      config.Config
	Repo     domain.Repository
	OrgSvc   orgdomain.Service
	QuotaSvc quotadomain.Service
	Authz    authorization.Service
	Email    email.Provider
	AuditSvc auditdomain.Service `optional:"true"`
}

type Service struct {
	db       *gorm.DB
	log      *zap.Logger
	genID    *snowflake.Node
	clock    clock.Clock
	ttl      time.Duration
	baseURL  string
	repo     domain.Repository
	orgSvc   orgdomain.Service
	quotaSvc quotadomain.Service
	authz    authorization.Service
	email    email.Provider
	auditSvc auditdomain.Service
}

func NewService(p Params) domain.Service {
	ttl := p.Cfg.Invitation.TTL
	if ttl <= 0 {
		ttl = defaultTTL
	}
	return &Service{
		db:       p.DB,
		log:      p.Log.Named("invitation.service"),
		genID:    p.GenID,
		clock:    p.Clock,
		ttl:      ttl,
		baseURL:  strings.TrimRight(p.Cfg.Invitation.BaseURL, "/"),
		repo:     p.Repo,
		orgSvc:   p.OrgSvc,
		quotaSvc: p.QuotaSvc,
		authz:    p.Authz,
		email:    p.Email,
		auditSvc: p.AuditSvc,
	}
}

func (s *Service) Create(ctx context.Context, req domain.CreateRequest) (*domain.CreateResult, error) {
	if req.OrgID == 0 {
		return nil, orgdomain.ErrOrganizationNotFound
	}
	address, err := normalizeEmail(req.Email)
	if err != nil {
		return nil, err
	}
	role := orgdomain.Role(strings.ToUpper(strings.TrimSpace(req.Role)))
	if role == "" {
		role = orgdomain.RoleMember
	}
	if role != orgdomain.RoleAdmin && role != orgdomain.RoleMember {
		return nil, domain.ErrInvalidRole
	}

	if err := s.authz.Authorize(ctx, authorization.UserActor(req.ActorUserID), req.OrgID.String(),
		authorization.ObjectInvitation, authorization.ActionInvitationCreate); err != nil {
		return nil, err
	}

	org, err := s.orgSvc.Get(ctx, req.OrgID)
	if err != nil {
		return nil, err
	}

	token, hash, err := newToken()
	if err != nil {
		return nil, err
	}
	now := s.clock.Now().UTC()
	inv := &domain.Invitation{
		ID:        s.genID.Generate(),
		OrgID:     req.OrgID,
		Email:     address,
		Role:      role,
		TokenHash: hash,
		InvitedBy: req.ActorUserID,
		ExpiresAt: now.Add(s.ttl),
		CreatedAt: now,
	}
	if err := s.repo.Insert(ctx, s.db, inv); err != nil {
		return nil, err
	}

	inviteURL := s.baseURL + "?token=" + token
	s.sendInviteAsync(ctx, address, map[string]any{
		"inviter_email": req.ActorEmail,
		"org_name":      org.Name,
		"role":          strings.ToLower(string(role)),
		"invite_url":    inviteURL,
		"expires_at":    inv.ExpiresAt.Format("2 Jan 2006"),
	})

	orgID := req.OrgID
	actorID := req.ActorUserID
	targetID := inv.ID.String()
	auditdomain.LogAsync(ctx, s.auditSvc, s.log, auditdomain.Entry{
		OrgID:      &orgID,
		ActorType:  auditdomain.ActorTypeUser,
		ActorID:    &actorID,
		Action:     "invitation.created",
		TargetType: "invitation",
		TargetID:   &targetID,
		Metadata:   map[string]any{"email": address, "role": string(role)},
	})

	return &domain.CreateResult{Invitation: inv, Token: token, InviteURL: inviteURL}, nil
}

func (s *Service) Accept(ctx context.Context, req domain.AcceptRequest) (*orgdomain.Member, error) {
	token := strings.TrimSpace(req.Token)
	if token == "" {
		return nil, domain.ErrInvalidToken
	}
	userID := strings.TrimSpace(req.UserID)
	if userID == "" {
		return nil, orgdomain.ErrInvalidUser
	}
	hash := hashToken(token)
	now := s.clock.Now().UTC()

	inv, err := s.repo.FindByTokenHash(ctx, s.db, hash)
	if err != nil {
		return nil, err
	}
	if inv == nil || !inv.Pending(now) {
		return nil, domain.ErrInvitationNotFound
	}
	if !strings.EqualFold(strings.TrimSpace(req.Email), inv.Email) {
		s.log.Warn("invitation email mismatch",
			zap.String("invitation_id", inv.ID.String()),
			zap.Bool("security_event", true),
		)
		return nil, domain.ErrEmailMismatch
	}

	_, err = s.orgSvc.RoleOf(ctx, inv.OrgID, userID)
	alreadyMember := err == nil
	if err != nil && !errors.Is(err, orgdomain.ErrNotMember) {
		return nil, err
	}
	if !alreadyMember {
		decision, _, err := s.quotaSvc.Check(ctx, inv.OrgID, quotadomain.ResourceSeats, 1)
		if err != nil {
			return nil, err
		}
		if !decision.Allowed {
			return nil, domain.ErrSeatLimitReached
		}
	}

	member := &orgdomain.Member{
		ID:        s.genID.Generate(),
		OrgID:     inv.OrgID,
		UserID:    userID,
		Email:     inv.Email,
		Role:      inv.Role,
		CreatedAt: now,
	}
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		affected, err := s.repo.MarkAccepted(ctx, tx, hash, userID, now)
		if err != nil {
			return err
		}
		if affected == 0 {
			return domain.ErrInvitationNotFound
		}
		_, err = s.repo.InsertMemberIfAbsent(ctx, tx, member)
		return err
	})
	if err != nil {
		return nil, err
	}

	orgID := inv.OrgID
	targetID := inv.ID.String()
	auditdomain.LogAsync(ctx, s.auditSvc, s.log, auditdomain.Entry{
		OrgID:      &orgID,
		ActorType:  auditdomain.ActorTypeUser,
		ActorID:    &userID,
		Action:     "invitation.accepted",
		TargetType: "invitation",
		TargetID:   &targetID,
		Metadata:   map[string]any{"role": string(inv.Role), "already_member": alreadyMember},
	})
	s.log.Info("invitation accepted",
		zap.String("org_id", inv.OrgID.String()),
		zap.String("invitation_id", inv.ID.String()),
	)
	return member, nil
}

func (s *Service) ListPending(ctx context.Context, actorUserID string, orgID snowflake.ID) ([]domain.Invitation, error) {
	if orgID == 0 {
		return nil, orgdomain.ErrOrganizationNotFound
	}
	if err := s.authz.Authorize(ctx, authorization.UserActor(actorUserID), orgID.String(),
		authorization.ObjectInvitation, authorization.ActionInvitationView); err != nil {
		return nil, err
	}
	return s.repo.ListPending(ctx, s.db, orgID, s.clock.Now().UTC())
}

func (s *Service) sendInviteAsync(ctx context.Context, to string, data map[string]any) {
	if s.email == nil {
		return
	}
	detached := context.WithoutCancel(ctx)
	go func() {
		ctx, cancel := context.WithTimeout(detached, inviteEmailTimeout)
		defer cancel()
		if _, err := s.email.SendTemplate(ctx, []string{to}, inviteTemplate, data); err != nil {
			s.log.Warn("send invitation email failed", zap.Error(err))
		}
	}()
}

func normalizeEmail(raw string) (string, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return "", domain.ErrInvalidEmail
	}
	addr, err := mail.ParseAddress(raw)
	if err != nil || addr.Address != raw {
		return "", domain.ErrInvalidEmail
	}
	return strings.ToLower(addr.Address), nil
}

func newToken() (string, string, error) {
	buf := make([]byte, tokenBytes)
	if _, err := rand.Read(buf); err != nil {
		return "", "", err
	}
	token := base64.RawURLEncoding.EncodeToString(buf)
	return token, hashToken(token), nil
}

func hashToken(token string) string {
	sum := blake2b.Sum256([]byte(token))
	return hex.EncodeToString(sum[:])
}
