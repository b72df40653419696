package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"
	"github.com/smallbiznis/callsight/internal/authorization"
	invoicedomain "github.com/smallbiznis/callsight/internal/invoice/domain"
	paymentdomain "github.com/smallbiznis/callsight/internal/payment/domain"
)

type generateInvoiceRequest struct {
	OrgID        string          `json:"orgId"`
	Type         string          `json:"type"`
	PaymentID    string          `json:"paymentId"`
	Amount       decimal.Decimal `json:"amount"`
	Currency     string          `json:"currency"`
	Credits      int64           `json:"credits"`
	Tier         string          `json:"tier"`
	BillingCycle string          `json:"billingCycle"`
}

// GenerateInvoice returns the frozen snapshot stored with the receipt. For a
// payment that has not been settled it returns an unsaved preview.
func (s *Server) GenerateInvoice(c *gin.Context) {
	user, ok := currentUser(c)
	if !ok {
		AbortWithError(c, ErrUnauthorized)
		return
	}

	var req generateInvoiceRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}
	orgID, err := parseOrgID(req.OrgID, "orgId")
	if err != nil {
		AbortWithError(c, err)
		return
	}
	if err := s.authorizeForOrg(c, orgID, authorization.ObjectInvoice, authorization.ActionInvoiceView); err != nil {
		AbortWithError(c, err)
		return
	}

	ctx := c.Request.Context()
	receipt, err := s.verificationSvc.GetReceipt(ctx, orgID, req.PaymentID)
	switch {
	case err == nil:
		c.JSON(http.StatusOK, gin.H{
			"invoiceNumber": receipt.InvoiceNumber,
			"invoiceData":   json.RawMessage(receipt.InvoiceData),
			"preview":       false,
		})
		return
	case !errors.Is(err, paymentdomain.ErrReceiptNotFound):
		AbortWithError(c, err)
		return
	}

	org, err := s.organizationSvc.Get(ctx, orgID)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	invoice, err := s.invoiceSvc.Generate(invoicedomain.GenerateRequest{
		Kind:         invoicedomain.Kind(strings.ToLower(strings.TrimSpace(req.Type))),
		AmountBase:   paymentdomain.ToMinorUnits(req.Amount),
		Currency:     strings.ToUpper(strings.TrimSpace(req.Currency)),
		PaymentID:    req.PaymentID,
		Customer:     invoicedomain.Customer{Name: org.Name, Email: user.Email, OrgName: org.Name},
		Credits:      req.Credits,
		Tier:         req.Tier,
		BillingCycle: req.BillingCycle,
		IssuedAt:     s.clock.Now().UTC(),
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"invoiceNumber": invoice.InvoiceNumber,
		"invoiceData":   invoice,
		"preview":       true,
	})
}

func (s *Server) DownloadInvoicePDF(c *gin.Context) {
	orgID, err := orgIDFromRequest(c)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	if err := s.authorizeForOrg(c, orgID, authorization.ObjectInvoice, authorization.ActionInvoiceView); err != nil {
		AbortWithError(c, err)
		return
	}

	ctx := c.Request.Context()
	receipt, err := s.verificationSvc.GetReceipt(ctx, orgID, c.Param("paymentId"))
	if err != nil {
		AbortWithError(c, err)
		return
	}

	var invoice invoicedomain.InvoiceData
	if err := json.Unmarshal(receipt.InvoiceData, &invoice); err != nil {
		AbortWithError(c, fmt.Errorf("decode invoice snapshot: %w", err))
		return
	}
	doc, err := s.pdf.GenerateReceipt(ctx, invoice)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.Header("Content-Disposition", fmt.Sprintf(`attachment; filename="%s.pdf"`, receipt.InvoiceNumber))
	c.Data(http.StatusOK, "application/pdf", doc)
}
