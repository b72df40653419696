package service

import (
	"context"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/smallbiznis/callsight/internal/auth/domain"
	"github.com/smallbiznis/callsight/internal/clock"
	"github.com/smallbiznis/callsight/internal/config"
	"go.uber.org/zap"
)

const (
	testSecret = "test-jwt-secret"
	testUserID = "8f14e45f-ceea-467f-a0e6-0a1b2c3d4e5f"
)

var testNow = time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

func newTestAuthenticator(t *testing.T) *JWTAuthenticator {
	t.Helper()
	a, err := New(Params{
		Cfg:   config.Config{Auth: config.AuthConfig{JWTSecret: testSecret, Audience: "authenticated"}},
		Log:   zap.NewNop(),
		Clock: clock.NewFakeClock(testNow),
	})
	if err != nil {
		t.Fatalf("new authenticator: %v", err)
	}
	return a
}

func sign(t *testing.T, method jwt.SigningMethod, key any, c jwt.MapClaims) string {
	t.Helper()
	token, err := jwt.NewWithClaims(method, c).SignedString(key)
	if err != nil {
		t.Fatalf("sign token: %v", err)
	}
	return token
}

func validClaims() jwt.MapClaims {
	return jwt.MapClaims{
		"sub":   testUserID,
		"email": "Owner@Acme.test",
		"aud":   "authenticated",
		"exp":   testNow.Add(time.Hour).Unix(),
	}
}

func TestCurrentUserValidToken(t *testing.T) {
	a := newTestAuthenticator(t)

	user, err := a.CurrentUser(context.Background(), sign(t, jwt.SigningMethodHS256, []byte(testSecret), validClaims()))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if user.ID != testUserID || user.Email != "owner@acme.test" {
		t.Fatalf("unexpected user: %+v", user)
	}
}

func TestCurrentUserRejects(t *testing.T) {
	a := newTestAuthenticator(t)

	expired := validClaims()
	expired["exp"] = testNow.Add(-time.Minute).Unix()

	noEmail := validClaims()
	delete(noEmail, "email")

	badSub := validClaims()
	badSub["sub"] = "12345"

	wrongAud := validClaims()
	wrongAud["aud"] = "service_role"

	noExp := validClaims()
	delete(noExp, "exp")

	cases := []struct {
		name  string
		token string
		want  error
	}{
		{"empty", "", domain.ErrMissingToken},
		{"garbage", "not.a.jwt", domain.ErrInvalidToken},
		{"wrong secret", sign(t, jwt.SigningMethodHS256, []byte("other"), validClaims()), domain.ErrInvalidToken},
		{"wrong algorithm", sign(t, jwt.SigningMethodHS512, []byte(testSecret), validClaims()), domain.ErrInvalidToken},
		{"expired", sign(t, jwt.SigningMethodHS256, []byte(testSecret), expired), domain.ErrTokenExpired},
		{"missing email", sign(t, jwt.SigningMethodHS256, []byte(testSecret), noEmail), domain.ErrInvalidToken},
		{"non uuid subject", sign(t, jwt.SigningMethodHS256, []byte(testSecret), badSub), domain.ErrInvalidToken},
		{"wrong audience", sign(t, jwt.SigningMethodHS256, []byte(testSecret), wrongAud), domain.ErrInvalidToken},
		{"missing expiry", sign(t, jwt.SigningMethodHS256, []byte(testSecret), noExp), domain.ErrInvalidToken},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := a.CurrentUser(context.Background(), tc.token); err != tc.want {
				t.Fatalf("expected %v, got %v", tc.want, err)
			}
		})
	}
}

func TestNewRequiresSecret(t *testing.T) {
	if _, err := New(Params{Log: zap.NewNop(), Clock: clock.NewFakeClock(testNow)}); err == nil {
		t.Fatal("expected error without secret")
	}
}
