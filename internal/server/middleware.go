package server

import (
	"strings"

	"github.com/bwmarrin/snowflake"
	"github.com/gin-gonic/gin"
	"github.com/smallbiznis/callsight/internal/auditcontext"
	authdomain "github.com/smallbiznis/callsight/internal/auth/domain"
	obscontext "github.com/smallbiznis/callsight/internal/observability/context"
)

const (
	HeaderOrg        = "X-Org-ID"
	contextUserIDKey = "user_id"
	bearerPrefix     = "Bearer "
)

// AuthRequired resolves the caller from a bearer token, falling back to the
// auth provider's session cookie.
func (s *Server) AuthRequired() gin.HandlerFunc {
	return func(c *gin.Context) {
		token := tokenFromRequest(c, s.cfg.Auth.CookieName)
		if token == "" {
			AbortWithError(c, ErrUnauthorized)
			return
		}

		user, err := s.authenticator.CurrentUser(c.Request.Context(), token)
		if err != nil {
			AbortWithError(c, err)
			return
		}

		ctx := authdomain.WithUser(c.Request.Context(), user)
		ctx = auditcontext.WithActor(ctx, "user", user.ID)
		ctx = obscontext.WithActor(ctx, "user", user.ID)
		c.Request = c.Request.WithContext(ctx)
		c.Set(contextUserIDKey, user.ID)
		c.Next()
	}
}

func tokenFromRequest(c *gin.Context, cookieName string) string {
	header := strings.TrimSpace(c.GetHeader("Authorization"))
	if len(header) > len(bearerPrefix) && strings.EqualFold(header[:len(bearerPrefix)], bearerPrefix) {
		return strings.TrimSpace(header[len(bearerPrefix):])
	}
	if cookieName == "" {
		return ""
	}
	cookie, err := c.Cookie(cookieName)
	if err != nil {
		return ""
	}
	return strings.TrimSpace(cookie)
}

func currentUser(c *gin.Context) (*authdomain.User, bool) {
	return authdomain.UserFromContext(c.Request.Context())
}

func orgIDParam(c *gin.Context) (snowflake.ID, error) {
	return parseOrgID(c.Param("id"), "id")
}

func parseOrgID(raw string, field string) (snowflake.ID, error) {
	id, err := snowflake.ParseString(strings.TrimSpace(raw))
	if err != nil || id <= 0 {
		return 0, newValidationError(field, "invalid_organization", "invalid organization id")
	}
	return id, nil
}

// orgIDFromRequest reads the organization for routes that are not nested
// under /orgs/:id.
func orgIDFromRequest(c *gin.Context) (snowflake.ID, error) {
	raw := strings.TrimSpace(c.GetHeader(HeaderOrg))
	if raw == "" {
		raw = strings.TrimSpace(c.Query("orgId"))
	}
	return parseOrgID(raw, "orgId")
}
