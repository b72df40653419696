package domain

import (
	"context"
	"errors"
)

// Authenticator turns a bearer token into a User.
type Authenticator interface {
	CurrentUser(ctx context.Context, token string) (*User, error)
}

var (
	ErrMissingToken = errors.New("missing_token")
	ErrInvalidToken = errors.New("invalid_token")
	ErrTokenExpired = errors.New("token_expired")
)
