package domain

import (
	"context"
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/callsight/pkg/db/pagination"
	"gorm.io/gorm"
)

// Entry describes one audited event. Actor fields left empty are taken from
// the request context.
type Entry struct {
	OrgID      *snowflake.ID
	ActorType  ActorType
	ActorID    *string
	Action     string
	TargetType string
	TargetID   *string
	Metadata   map[string]any
}

// ListRequest filters an organization's trail. Category matches the action
// prefix, so "payment" selects payment.verified and payment.order_created.
type ListRequest struct {
	pagination.Pagination
	OrgID      snowflake.ID
	Category   string
	Action     string
	ActorType  string
	TargetType string
	TargetID   string
	Since      *time.Time
	Until      *time.Time
}

type ListResponse struct {
	pagination.PageInfo
	Entries []AuditLog `json:"entries"`
}

type Service interface {
	Record(ctx context.Context, entry Entry) error
	List(ctx context.Context, req ListRequest) (ListResponse, error)
}

type Repository interface {
	Insert(ctx context.Context, db *gorm.DB, entry *AuditLog) error
	List(ctx context.Context, db *gorm.DB, filter ListFilter) ([]AuditLog, error)
}

var (
	ErrInvalidOrganization = errors.New("invalid_organization")
	ErrInvalidPageToken    = pagination.ErrInvalidPageToken
	ErrInvalidTimeRange    = errors.New("invalid_time_range")
	ErrInvalidAction       = errors.New("invalid_action")
	ErrInvalidCategory     = errors.New("invalid_category")
)
