package server

import (
	"github.com/bwmarrin/snowflake"
	"github.com/gin-gonic/gin"
	"github.com/smallbiznis/callsight/internal/authorization"
	obscontext "github.com/smallbiznis/callsight/internal/observability/context"
)

// authorizeOrgAction guards routes under /orgs/:id.
func (s *Server) authorizeOrgAction(object string, action string) gin.HandlerFunc {
	return func(c *gin.Context) {
		orgID, err := orgIDParam(c)
		if err != nil {
			AbortWithError(c, err)
			return
		}
		if err := s.authorizeForOrg(c, orgID, object, action); err != nil {
			AbortWithError(c, err)
			return
		}
		c.Next()
	}
}

func (s *Server) authorizeForOrg(c *gin.Context, orgID snowflake.ID, object string, action string) error {
	user, ok := currentUser(c)
	if !ok {
		return ErrUnauthorized
	}
	if s.authzSvc == nil {
		return ErrForbidden
	}
	ctx := obscontext.WithOrgID(c.Request.Context(), orgID.String())
	c.Request = c.Request.WithContext(ctx)
	return s.authzSvc.Authorize(ctx, authorization.UserActor(user.ID), orgID.String(), object, action)
}
