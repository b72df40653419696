// Package domain contains core types for request authentication.
package domain

import "context"

// User is the authenticated caller as asserted by the identity provider's
// access token. Users are not stored locally; membership rows reference ID.
type User struct {
	ID    string `json:"id"`
	Email string `json:"email"`
}

type userKey struct{}

func WithUser(ctx context.Context, user *User) context.Context {
	return context.WithValue(ctx, userKey{}, user)
}

func UserFromContext(ctx context.Context) (*User, bool) {
	user, ok := ctx.Value(userKey{}).(*User)
	return user, ok && user != nil
}
