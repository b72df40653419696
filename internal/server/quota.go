package server

import (
	"context"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/smallbiznis/callsight/internal/analysis"
	quotadomain "github.com/smallbiznis/callsight/internal/quota/domain"
	usagedomain "github.com/smallbiznis/callsight/internal/usage/domain"
)

const headerIdempotencyKey = "Idempotency-Key"

type checkQuotaRequest struct {
	Resource string `json:"resource"`
	Units    int64  `json:"units"`
}

type analyzeCallRequest struct {
	CallID     string `json:"callId"`
	Transcript string `json:"transcript"`
	Language   string `json:"language"`
}

func (s *Server) CheckQuota(c *gin.Context) {
	orgID, err := orgIDParam(c)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	var req checkQuotaRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}
	resource, err := quotadomain.ParseResource(strings.TrimSpace(req.Resource))
	if err != nil {
		AbortWithError(c, err)
		return
	}
	if req.Units == 0 {
		req.Units = 1
	}

	decision, state, err := s.quotaSvc.Check(c.Request.Context(), orgID, resource, req.Units)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": decision, "tier": state.Tier})
}

// AnalyzeCall runs the analysis as a billable action: quota is checked first
// and usage is charged only when the analysis succeeds.
func (s *Server) AnalyzeCall(c *gin.Context) {
	user, ok := currentUser(c)
	if !ok {
		AbortWithError(c, ErrUnauthorized)
		return
	}
	orgID, err := orgIDParam(c)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	var req analyzeCallRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}
	callID := strings.TrimSpace(req.CallID)
	if callID == "" {
		AbortWithError(c, analysis.ErrInvalidCall)
		return
	}

	var out *analysis.Result
	res, err := s.usageSvc.RunBillable(c.Request.Context(), usagedomain.BillableAction{
		ID:           c.GetHeader(headerIdempotencyKey),
		OrgID:        orgID,
		UserID:       user.ID,
		Action:       "call.analyze",
		Resource:     quotadomain.ResourceCalls,
		Units:        1,
		ResourceType: "call",
		ResourceID:   callID,
	}, func(ctx context.Context) error {
		var err error
		out, err = s.analyzer.Analyze(ctx, analysis.Request{
			CallID:     callID,
			Transcript: req.Transcript,
			Language:   req.Language,
		})
		return err
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"data":         out,
		"actionId":     res.ActionID,
		"charged":      res.Charged,
		"balanceAfter": res.BalanceAfter,
		"replayed":     res.Replayed,
		"quota":        res.Decision,
	})
}
