package domain

import (
	"context"
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
	orgdomain "github.com/smallbiznis/callsight/internal/organization/domain"
	"gorm.io/gorm"
)

type Service interface {
	Create(ctx context.Context, req CreateRequest) (*CreateResult, error)
	// Accept consumes the invitation and adds the caller as a member. A
	// token works once; every later attempt gets ErrInvitationNotFound.
	Accept(ctx context.Context, req AcceptRequest) (*orgdomain.Member, error)
	ListPending(ctx context.Context, actorUserID string, orgID snowflake.ID) ([]Invitation, error)
}

type CreateRequest struct {
	ActorUserID string
	ActorEmail  string
	OrgID       snowflake.ID
	Email       string
	Role        string
}

type CreateResult struct {
	Invitation *Invitation `json:"invitation"`
	// Token is returned once and never stored.
	Token     string `json:"token"`
	InviteURL string `json:"invite_url"`
}

type AcceptRequest struct {
	UserID string
	Email  string
	Token  string
}

type Repository interface {
	Insert(ctx context.Context, db *gorm.DB, inv *Invitation) error
	FindByTokenHash(ctx context.Context, db *gorm.DB, hash string) (*Invitation, error)
	MarkAccepted(ctx context.Context, db *gorm.DB, hash, userID string, now time.Time) (int64, error)
	ListPending(ctx context.Context, db *gorm.DB, orgID snowflake.ID, now time.Time) ([]Invitation, error)
	InsertMemberIfAbsent(ctx context.Context, db *gorm.DB, member *orgdomain.Member) (bool, error)
}

var (
	ErrInvalidEmail       = errors.New("invalid_email")
	ErrInvalidRole        = errors.New("invalid_role")
	ErrInvalidToken       = errors.New("invalid_token")
	ErrInvitationNotFound = errors.New("invitation_not_found")
	ErrEmailMismatch      = errors.New("invitation_email_mismatch")
	ErrSeatLimitReached   = errors.New("seat_limit_reached")
)
