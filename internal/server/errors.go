package server

import (
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/smallbiznis/callsight/internal/analysis"
	auditdomain "github.com/smallbiznis/callsight/internal/audit/domain"
	authdomain "github.com/smallbiznis/callsight/internal/auth/domain"
	"github.com/smallbiznis/callsight/internal/authorization"
	invitationdomain "github.com/smallbiznis/callsight/internal/invitation/domain"
	invoicedomain "github.com/smallbiznis/callsight/internal/invoice/domain"
	ledgerdomain "github.com/smallbiznis/callsight/internal/ledger/domain"
	organizationdomain "github.com/smallbiznis/callsight/internal/organization/domain"
	paymentdomain "github.com/smallbiznis/callsight/internal/payment/domain"
	quotadomain "github.com/smallbiznis/callsight/internal/quota/domain"
	usagedomain "github.com/smallbiznis/callsight/internal/usage/domain"
	"gorm.io/gorm"
)

type ValidationError struct {
	Field   string `json:"field"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

type ValidationErrors struct {
	Errors []ValidationError `json:"errors"`
}

func (v ValidationErrors) Error() string {
	return "validation error"
}

type errorPayload struct {
	Type      string            `json:"type"`
	Message   string            `json:"message"`
	PaymentID string            `json:"payment_id,omitempty"`
	Errors    []ValidationError `json:"errors,omitempty"`
}

type errorResponse struct {
	Error errorPayload `json:"error"`
}

// verificationError carries the payment id into the failure body so support
// can find the payment.
type verificationError struct {
	PaymentID string
	Err       error
}

func (e *verificationError) Error() string { return e.Err.Error() }
func (e *verificationError) Unwrap() error { return e.Err }

var (
	ErrUnauthorized       = errors.New("unauthorized")
	ErrForbidden          = errors.New("forbidden")
	ErrConflict           = errors.New("conflict")
	ErrInternal           = errors.New("internal_error")
	ErrNotFound           = errors.New("not_found")
	ErrInvalidRequest     = errors.New("invalid_request")
	ErrRateLimited        = errors.New("rate_limited")
	ErrServiceUnavailable = errors.New("service_unavailable")
)

func ErrorHandlingMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()

		if c.Writer.Written() {
			return
		}

		lastErr := c.Errors.Last()
		if lastErr == nil {
			return
		}

		status, payload := mapError(lastErr.Err)
		c.Header("Content-Type", "application/json")
		c.AbortWithStatusJSON(status, errorResponse{Error: payload})
	}
}

func AbortWithError(c *gin.Context, err error) {
	if err == nil {
		return
	}
	_ = c.Error(err)
	c.Abort()
}

func invalidRequestError() error {
	return newValidationError("request", "invalid_request", "invalid request")
}

func newValidationError(field, code, message string) error {
	return &ValidationErrors{
		Errors: []ValidationError{
			{
				Field:   field,
				Code:    code,
				Message: message,
			},
		},
	}
}

func mapError(err error) (int, errorPayload) {
	if err == nil {
		return http.StatusInternalServerError, errorPayload{
			Type:    "internal_error",
			Message: "internal server error",
		}
	}

	if vErr := asValidationErrors(err); vErr != nil {
		return http.StatusBadRequest, errorPayload{
			Type:    "validation_error",
			Message: "validation error",
			Errors:  vErr.Errors,
		}
	}

	if isVerificationFailure(err) {
		payload := errorPayload{
			Type:    "payment_verification_failed",
			Message: "payment verification failed, contact support",
		}
		var vErr *verificationError
		if errors.As(err, &vErr) {
			payload.PaymentID = vErr.PaymentID
		}
		return http.StatusBadRequest, payload
	}

	if isValidationError(err) {
		code := validationErrorCode(err)
		return http.StatusBadRequest, errorPayload{
			Type:    "validation_error",
			Message: "validation error",
			Errors: []ValidationError{
				{
					Field:   validationErrorField(code),
					Code:    code,
					Message: validationErrorMessage(code),
				},
			},
		}
	}

	var gatewayErr *paymentdomain.GatewayError

	switch {
	case errors.Is(err, ErrUnauthorized),
		errors.Is(err, authdomain.ErrMissingToken),
		errors.Is(err, authdomain.ErrInvalidToken),
		errors.Is(err, authdomain.ErrTokenExpired):
		return http.StatusUnauthorized, errorPayload{
			Type:    "unauthorized",
			Message: "unauthorized",
		}
	case errors.Is(err, ErrForbidden),
		errors.Is(err, authorization.ErrForbidden),
		errors.Is(err, organizationdomain.ErrNotMember),
		errors.Is(err, organizationdomain.ErrOrganizationInactive),
		errors.Is(err, invitationdomain.ErrEmailMismatch):
		return http.StatusForbidden, errorPayload{
			Type:    "forbidden",
			Message: "forbidden",
		}
	case errors.Is(err, paymentdomain.ErrPaymentNotCaptured):
		return http.StatusPaymentRequired, errorPayload{
			Type:    "payment_not_captured",
			Message: "payment has not been captured yet",
		}
	case errors.Is(err, quotadomain.ErrQuotaExceeded),
		errors.Is(err, ledgerdomain.ErrInsufficientCredits),
		errors.Is(err, invitationdomain.ErrSeatLimitReached):
		return http.StatusPaymentRequired, errorPayload{
			Type:    "quota_exceeded",
			Message: "plan limit reached, upgrade or buy credits",
		}
	case errors.Is(err, ErrConflict):
		return http.StatusConflict, errorPayload{
			Type:    "conflict",
			Message: "conflict",
		}
	case isNotFoundError(err):
		return http.StatusNotFound, errorPayload{
			Type:    "not_found",
			Message: "not found",
		}
	case errors.Is(err, ErrRateLimited):
		return http.StatusTooManyRequests, errorPayload{
			Type:    "rate_limited",
			Message: "too many requests",
		}
	case errors.Is(err, ErrServiceUnavailable),
		errors.As(err, &gatewayErr):
		return http.StatusServiceUnavailable, errorPayload{
			Type:    "service_unavailable",
			Message: "service unavailable",
		}
	default:
		return http.StatusInternalServerError, errorPayload{
			Type:    "internal_error",
			Message: "internal server error",
		}
	}
}

// classifyErrorForLog feeds the access log the same type the client sees.
func classifyErrorForLog(err error) (string, string) {
	_, payload := mapError(err)
	if len(payload.Errors) > 0 {
		return payload.Type, payload.Errors[0].Code
	}
	return payload.Type, ""
}

func asValidationErrors(err error) *ValidationErrors {
	var vErr *ValidationErrors
	if errors.As(err, &vErr) && vErr != nil {
		return vErr
	}
	return nil
}

func isVerificationFailure(err error) bool {
	switch {
	case errors.Is(err, paymentdomain.ErrInvalidSignature),
		errors.Is(err, paymentdomain.ErrOrderMismatch),
		errors.Is(err, paymentdomain.ErrGatewayNotFound):
		return true
	default:
		return false
	}
}

func isValidationError(err error) bool {
	switch {
	case errors.Is(err, ErrInvalidRequest),
		errors.Is(err, paymentdomain.ErrInvalidKind),
		errors.Is(err, paymentdomain.ErrInvalidAmount),
		errors.Is(err, paymentdomain.ErrInvalidCurrency),
		errors.Is(err, paymentdomain.ErrUnsupportedCurrency),
		errors.Is(err, paymentdomain.ErrAmountBelowMinimum),
		errors.Is(err, paymentdomain.ErrInvalidCredits),
		errors.Is(err, paymentdomain.ErrInvalidTier),
		errors.Is(err, paymentdomain.ErrInvalidBillingCycle),
		errors.Is(err, paymentdomain.ErrInvalidOrganization),
		errors.Is(err, paymentdomain.ErrInvalidRequest),
		errors.Is(err, paymentdomain.ErrInvalidPayload),
		errors.Is(err, organizationdomain.ErrInvalidName),
		errors.Is(err, organizationdomain.ErrInvalidUser),
		errors.Is(err, organizationdomain.ErrInvalidEmail),
		errors.Is(err, organizationdomain.ErrInvalidTier),
		errors.Is(err, organizationdomain.ErrInvalidBillingCycle),
		errors.Is(err, invitationdomain.ErrInvalidEmail),
		errors.Is(err, invitationdomain.ErrInvalidRole),
		errors.Is(err, invitationdomain.ErrInvalidToken),
		errors.Is(err, quotadomain.ErrInvalidResource),
		errors.Is(err, quotadomain.ErrInvalidUnits),
		errors.Is(err, usagedomain.ErrInvalidAction),
		errors.Is(err, usagedomain.ErrInvalidUnits),
		errors.Is(err, ledgerdomain.ErrInvalidOrganization),
		errors.Is(err, auditdomain.ErrInvalidPageToken),
		errors.Is(err, auditdomain.ErrInvalidTimeRange),
		errors.Is(err, auditdomain.ErrInvalidCategory),
		errors.Is(err, analysis.ErrInvalidCall),
		errors.Is(err, invoicedomain.ErrInvalidKind),
		errors.Is(err, invoicedomain.ErrInvalidAmount),
		errors.Is(err, invoicedomain.ErrInvalidCurrency),
		errors.Is(err, invoicedomain.ErrInvalidPaymentID),
		errors.Is(err, invoicedomain.ErrInvalidCredits),
		errors.Is(err, invoicedomain.ErrInvalidBillingCycle):
		return true
	default:
		return false
	}
}

func isNotFoundError(err error) bool {
	switch {
	case errors.Is(err, ErrNotFound),
		errors.Is(err, organizationdomain.ErrOrganizationNotFound),
		errors.Is(err, paymentdomain.ErrReceiptNotFound),
		errors.Is(err, invitationdomain.ErrInvitationNotFound),
		errors.Is(err, gorm.ErrRecordNotFound):
		return true
	default:
		return false
	}
}

func validationErrorCode(err error) string {
	switch {
	case errors.Is(err, ErrInvalidRequest),
		errors.Is(err, paymentdomain.ErrInvalidRequest),
		errors.Is(err, paymentdomain.ErrInvalidPayload):
		return "invalid_request"
	case errors.Is(err, paymentdomain.ErrInvalidKind),
		errors.Is(err, invoicedomain.ErrInvalidKind):
		return "invalid_type"
	case errors.Is(err, paymentdomain.ErrInvalidOrganization),
		errors.Is(err, ledgerdomain.ErrInvalidOrganization):
		return "invalid_organization"
	case errors.Is(err, usagedomain.ErrInvalidAction):
		return "invalid_action"
	case errors.Is(err, usagedomain.ErrInvalidUnits),
		errors.Is(err, quotadomain.ErrInvalidUnits):
		return "invalid_units"
	default:
		return err.Error()
	}
}

func validationErrorField(code string) string {
	switch code {
	case "invalid_request":
		return "request"
	case "amount_below_minimum":
		return "amount"
	case "unsupported_currency":
		return "currency"
	case "invalid_page_token":
		return "page_token"
	case "invalid_time_range":
		return "since"
	case "invalid_call":
		return "callId"
	}
	if strings.HasPrefix(code, "invalid_") {
		return strings.TrimPrefix(code, "invalid_")
	}
	return ""
}

func validationErrorMessage(code string) string {
	switch code {
	case "invalid_request":
		return "invalid request"
	case "amount_below_minimum":
		return "amount is below the minimum charge"
	case "unsupported_currency":
		return "currency is not supported"
	default:
		return "invalid value"
	}
}
