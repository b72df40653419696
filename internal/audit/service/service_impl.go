package service

import (
	"context"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	auditdomain "github.com/smallbiznis/callsight/internal/audit/domain"
	"github.com/smallbiznis/callsight/internal/audit/masking"
	"github.com/smallbiznis/callsight/internal/auditcontext"
	"github.com/smallbiznis/callsight/internal/clock"
	"github.com/smallbiznis/callsight/pkg/db/pagination"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

type Params struct {
	fx.In

	DB    *gorm.DB
	Log   *zap.Logger
	GenID *snowflake.Node
	Clock clock.Clock
	Repo  auditdomain.Repository
}

type Service struct {
	db    *gorm.DB
	log   *zap.Logger
	genID *snowflake.Node
	clock clock.Clock
	repo  auditdomain.Repository
}

func NewService(p Params) auditdomain.Service {
	return &Service{
		db:    p.DB,
		log:   p.Log.Named("audit.service"),
		genID: p.GenID,
		clock: p.Clock,
		repo:  p.Repo,
	}
}

// Record writes one entry. Metadata is masked before it is stored, and the
// request id, caller address and payment id are lifted from the context.
func (s *Service) Record(ctx context.Context, e auditdomain.Entry) error {
	action := strings.ToLower(strings.TrimSpace(e.Action))
	if action == "" || !strings.Contains(action, ".") {
		return auditdomain.ErrInvalidAction
	}
	targetType := strings.TrimSpace(e.TargetType)
	if targetType == "" {
		targetType = "unknown"
	}
	orgID := e.OrgID
	if orgID != nil && *orgID == 0 {
		orgID = nil
	}

	actorType, actorID := resolveActor(ctx, strings.TrimSpace(string(e.ActorType)), e.ActorID)
	entry := auditdomain.AuditLog{
		ID:         s.genID.Generate(),
		OrgID:      orgID,
		ActorType:  actorType,
		ActorID:    actorID,
		Action:     action,
		TargetType: targetType,
		TargetID:   normalizePointer(e.TargetID),
		Metadata:   datatypes.JSONMap(enrich(ctx, masking.MaskSensitive(e.Metadata))),
		IPAddress:  optional(auditcontext.IPAddressFromContext(ctx)),
		UserAgent:  optional(auditcontext.UserAgentFromContext(ctx)),
		CreatedAt:  s.clock.Now().UTC(),
	}

	if err := s.repo.Insert(ctx, s.db, &entry); err != nil {
		s.log.Warn("failed to write audit log", zap.String("action", action), zap.Error(err))
		return err
	}
	return nil
}

func (s *Service) List(ctx context.Context, req auditdomain.ListRequest) (auditdomain.ListResponse, error) {
	if req.OrgID == 0 {
		return auditdomain.ListResponse{}, auditdomain.ErrInvalidOrganization
	}
	if req.Since != nil && req.Until != nil && req.Since.After(*req.Until) {
		return auditdomain.ListResponse{}, auditdomain.ErrInvalidTimeRange
	}
	category := strings.ToLower(strings.TrimSpace(req.Category))
	if category != "" {
		if _, ok := auditdomain.Categories[category]; !ok {
			return auditdomain.ListResponse{}, auditdomain.ErrInvalidCategory
		}
	}
	cursor, err := decodeCursor(req.PageToken)
	if err != nil {
		return auditdomain.ListResponse{}, err
	}

	limit := req.Limit()
	rows, err := s.repo.List(ctx, s.db, auditdomain.ListFilter{
		OrgID:      req.OrgID,
		Category:   category,
		Action:     req.Action,
		ActorType:  req.ActorType,
		TargetType: req.TargetType,
		TargetID:   req.TargetID,
		Since:      req.Since,
		Until:      req.Until,
		Cursor:     cursor,
		Limit:      limit,
	})
	if err != nil {
		return auditdomain.ListResponse{}, err
	}

	entries, info := pagination.Page(rows, limit, func(row auditdomain.AuditLog) pagination.Cursor {
		return pagination.Cursor{ID: row.ID.String(), CreatedAt: row.CreatedAt.UTC().Format(time.RFC3339Nano)}
	})
	return auditdomain.ListResponse{PageInfo: info, Entries: entries}, nil
}

func decodeCursor(token string) (*auditdomain.AuditCursor, error) {
	decoded, err := pagination.DecodeCursor(token)
	if err != nil || decoded == nil {
		return nil, err
	}
	createdAt, err := time.Parse(time.RFC3339Nano, decoded.CreatedAt)
	if err != nil {
		return nil, auditdomain.ErrInvalidPageToken
	}
	id, err := snowflake.ParseString(strings.TrimSpace(decoded.ID))
	if err != nil || id == 0 {
		return nil, auditdomain.ErrInvalidPageToken
	}
	return &auditdomain.AuditCursor{ID: id, CreatedAt: createdAt}, nil
}

func enrich(ctx context.Context, payload map[string]any) map[string]any {
	if requestID := auditcontext.RequestIDFromContext(ctx); requestID != "" {
		payload["request_id"] = requestID
	}
	if paymentID := auditcontext.PaymentIDFromContext(ctx); paymentID != "" {
		if _, ok := payload["payment_id"]; !ok {
			payload["payment_id"] = paymentID
		}
	}
	return payload
}

func resolveActor(ctx context.Context, actorType string, actorID *string) (string, *string) {
	if actorType == "" {
		if ctxType, ctxID := auditcontext.ActorFromContext(ctx); ctxType != "" {
			actorType = ctxType
			if (actorID == nil || strings.TrimSpace(*actorID) == "") && ctxID != "" {
				actorID = &ctxID
			}
		}
	}
	if actorType == "" {
		actorType = string(auditdomain.ActorTypeSystem)
	}
	return actorType, normalizePointer(actorID)
}

func normalizePointer(value *string) *string {
	if value == nil {
		return nil
	}
	trimmed := strings.TrimSpace(*value)
	if trimmed == "" {
		return nil
	}
	return &trimmed
}

func optional(value string) *string {
	if value == "" {
		return nil
	}
	return &value
}
