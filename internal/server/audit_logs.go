package server

import (
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	auditdomain "github.com/smallbiznis/callsight/internal/audit/domain"
	"github.com/smallbiznis/callsight/pkg/db/pagination"
)

type listAuditLogsQuery struct {
	pagination.Pagination
	Category   string `form:"category"`
	Action     string `form:"action"`
	ActorType  string `form:"actor_type"`
	TargetType string `form:"target_type"`
	TargetID   string `form:"target_id"`
	Since      string `form:"since"`
	Until      string `form:"until"`
}

// ListAuditLogs pages through an organization's trail, newest first.
func (s *Server) ListAuditLogs(c *gin.Context) {
	orgID, err := orgIDParam(c)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	var query listAuditLogsQuery
	if err := c.ShouldBindQuery(&query); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}
	since, err := parseTimeParam(query.Since, "since")
	if err != nil {
		AbortWithError(c, err)
		return
	}
	until, err := parseTimeParam(query.Until, "until")
	if err != nil {
		AbortWithError(c, err)
		return
	}

	resp, err := s.auditSvc.List(c.Request.Context(), auditdomain.ListRequest{
		Pagination: query.Pagination,
		OrgID:      orgID,
		Category:   query.Category,
		Action:     strings.TrimSpace(query.Action),
		ActorType:  strings.TrimSpace(query.ActorType),
		TargetType: strings.TrimSpace(query.TargetType),
		TargetID:   strings.TrimSpace(query.TargetID),
		Since:      since,
		Until:      until,
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": resp.Entries, "page_info": resp.PageInfo})
}

func parseTimeParam(raw, field string) (*time.Time, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, nil
	}
	parsed, err := time.Parse(time.RFC3339, raw)
	if err != nil {
		return nil, newValidationError(field, "invalid_"+field, "expected an RFC 3339 timestamp")
	}
	return &parsed, nil
}
