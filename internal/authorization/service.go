package authorization

import (
	"context"
	"errors"
)

// Service decides whether an actor may perform action on object inside an
// organization. Actors are "user:<id>" or "system".
type Service interface {
	Authorize(ctx context.Context, actor string, orgID string, object string, action string) error
}

var (
	ErrForbidden           = errors.New("forbidden")
	ErrInvalidActor        = errors.New("invalid_actor")
	ErrInvalidOrganization = errors.New("invalid_organization")
	ErrInvalidObject       = errors.New("invalid_object")
	ErrInvalidAction       = errors.New("invalid_action")
)

// UserActor formats a user id as an authorization subject.
func UserActor(userID string) string { return "user:" + userID }
