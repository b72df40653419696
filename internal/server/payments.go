package server

import (
	"errors"
	"io"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"
	"github.com/smallbiznis/callsight/internal/authorization"
	paymentdomain "github.com/smallbiznis/callsight/internal/payment/domain"
)

const (
	webhookSignatureHeader = "X-Razorpay-Signature"
	maxWebhookBody         = 1 << 20
)

type createOrderRequest struct {
	OrgID        string          `json:"orgId"`
	Type         string          `json:"type"`
	Credits      int64           `json:"credits"`
	Tier         string          `json:"tier"`
	BillingCycle string          `json:"billingCycle"`
	Amount       decimal.Decimal `json:"amount"`
	Currency     string          `json:"currency"`
	Description  string          `json:"description"`
}

type verifyPaymentRequest struct {
	OrderID   string `json:"orderId"`
	PaymentID string `json:"paymentId"`
	Signature string `json:"signature"`
	Credits   int64  `json:"credits"`
	Amount    int64  `json:"amount"`
	Currency  string `json:"currency"`
}

type reconcilePaymentRequest struct {
	OrgID     string `json:"orgId"`
	OrderID   string `json:"orderId"`
	PaymentID string `json:"paymentId"`
}

func (s *Server) CreatePaymentOrder(c *gin.Context) {
	user, ok := currentUser(c)
	if !ok {
		AbortWithError(c, ErrUnauthorized)
		return
	}

	var req createOrderRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}
	orgID, err := parseOrgID(req.OrgID, "orgId")
	if err != nil {
		AbortWithError(c, err)
		return
	}
	if err := s.authorizeForOrg(c, orgID, authorization.ObjectPayment, authorization.ActionPaymentCreateOrder); err != nil {
		AbortWithError(c, err)
		return
	}

	kind := paymentdomain.Kind(strings.ToLower(strings.TrimSpace(req.Type)))
	if kind == "" && strings.TrimSpace(req.Tier) == "" {
		kind = paymentdomain.KindCredits
	} else if kind == "" {
		kind = paymentdomain.KindSubscription
	}

	order, err := s.orderSvc.CreateOrder(c.Request.Context(), paymentdomain.CreateOrderRequest{
		Kind:         kind,
		Amount:       req.Amount,
		Currency:     req.Currency,
		OrgID:        orgID,
		UserID:       user.ID,
		Credits:      req.Credits,
		Tier:         req.Tier,
		BillingCycle: req.BillingCycle,
		Description:  req.Description,
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, order)
}

func (s *Server) VerifyPayment(c *gin.Context) {
	user, ok := currentUser(c)
	if !ok {
		AbortWithError(c, ErrUnauthorized)
		return
	}

	var req verifyPaymentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	result, err := s.verificationSvc.VerifyAndCredit(c.Request.Context(), paymentdomain.VerifyRequest{
		OrderID:   req.OrderID,
		PaymentID: req.PaymentID,
		Signature: req.Signature,
		Credits:   req.Credits,
		Amount:    req.Amount,
		Currency:  req.Currency,
		Source:    paymentdomain.SourceClient,
		UserID:    user.ID,
	})
	if err != nil {
		AbortWithError(c, &verificationError{PaymentID: strings.TrimSpace(req.PaymentID), Err: err})
		return
	}

	c.JSON(http.StatusOK, result)
}

// PaymentWebhook acknowledges correctly signed deliveries so the gateway
// stops retrying. A gateway outage during verification answers 503 so the
// delivery is retried; crediting is idempotent. Other processing failures
// are recovered through reconcile.
func (s *Server) PaymentWebhook(c *gin.Context) {
	payload, err := io.ReadAll(http.MaxBytesReader(c.Writer, c.Request.Body, maxWebhookBody))
	if err != nil {
		_ = c.Error(invalidRequestError())
		c.JSON(http.StatusBadRequest, gin.H{"received": false})
		return
	}

	err = s.webhookSvc.IngestWebhook(c.Request.Context(), payload, c.GetHeader(webhookSignatureHeader))
	if errors.Is(err, paymentdomain.ErrInvalidSignature) {
		_ = c.Error(err)
		c.JSON(http.StatusBadRequest, gin.H{"received": false})
		return
	}
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"received": true})
}

func (s *Server) ReconcilePayment(c *gin.Context) {
	user, ok := currentUser(c)
	if !ok {
		AbortWithError(c, ErrUnauthorized)
		return
	}

	var req reconcilePaymentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}
	orgID, err := parseOrgID(req.OrgID, "orgId")
	if err != nil {
		AbortWithError(c, err)
		return
	}
	if err := s.authorizeForOrg(c, orgID, authorization.ObjectPayment, authorization.ActionPaymentReconcile); err != nil {
		AbortWithError(c, err)
		return
	}

	result, err := s.verificationSvc.VerifyAndCredit(c.Request.Context(), paymentdomain.VerifyRequest{
		OrderID:   req.OrderID,
		PaymentID: req.PaymentID,
		Source:    paymentdomain.SourceAdmin,
		UserID:    user.ID,
		OrgID:     orgID,
	})
	if err != nil {
		AbortWithError(c, &verificationError{PaymentID: strings.TrimSpace(req.PaymentID), Err: err})
		return
	}

	c.JSON(http.StatusOK, result)
}
