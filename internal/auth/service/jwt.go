package service

import (
	"context"
	"errors"
	"strings"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/smallbiznis/callsight/internal/auth/domain"
	"github.com/smallbiznis/callsight/internal/clock"
	"github.com/smallbiznis/callsight/internal/config"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

type Params struct {
	fx.In

	Cfg   config.Config
	Log   *zap.Logger
	Clock clock.Clock
}

type claims struct {
	Email string `json:"email"`
	jwt.RegisteredClaims
}

// JWTAuthenticator validates HS256 access tokens issued by the auth provider.
type JWTAuthenticator struct {
	log    *zap.Logger
	secret []byte
	parser *jwt.Parser
}

func New(p Params) (*JWTAuthenticator, error) {
	secret := strings.TrimSpace(p.Cfg.Auth.JWTSecret)
	if secret == "" {
		return nil, errors.New("auth: AUTH_JWT_SECRET is required")
	}

	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(p.Clock.Now),
	}
	if iss := strings.TrimSpace(p.Cfg.Auth.Issuer); iss != "" {
		opts = append(opts, jwt.WithIssuer(iss))
	}
	if aud := strings.TrimSpace(p.Cfg.Auth.Audience); aud != "" {
		opts = append(opts, jwt.WithAudience(aud))
	}

	return &JWTAuthenticator{
		log:    p.Log.Named("auth.jwt"),
		secret: []byte(secret),
		parser: jwt.NewParser(opts...),
	}, nil
}

// Provide exposes the authenticator behind its interface.
func Provide(p Params) (domain.Authenticator, error) {
	return New(p)
}

func (a *JWTAuthenticator) CurrentUser(ctx context.Context, token string) (*domain.User, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return nil, domain.ErrMissingToken
	}

	var c claims
	_, err := a.parser.ParseWithClaims(token, &c, func(*jwt.Token) (any, error) {
		return a.secret, nil
	})
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, domain.ErrTokenExpired
		}
		a.log.Debug("access token rejected", zap.Error(err))
		return nil, domain.ErrInvalidToken
	}

	sub, err := uuid.Parse(c.Subject)
	if err != nil {
		return nil, domain.ErrInvalidToken
	}
	email := strings.ToLower(strings.TrimSpace(c.Email))
	if email == "" {
		return nil, domain.ErrInvalidToken
	}
	return &domain.User{ID: sub.String(), Email: email}, nil
}
