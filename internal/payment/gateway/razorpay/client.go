// Package razorpay is a thin client for the orders and payments endpoints of
// the Razorpay REST API.
package razorpay

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/smallbiznis/callsight/internal/config"
	obsmetrics "github.com/smallbiznis/callsight/internal/observability/metrics"
	paymentdomain "github.com/smallbiznis/callsight/internal/payment/domain"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

const (
	defaultTimeout      = 10 * time.Second
	defaultRetryMax     = 3
	defaultRetryBackoff = 200 * time.Millisecond
	maxErrorBody        = 4 << 10
)

type Params struct {
	fx.In

	Cfg     config.Config
	Log     *zap.Logger
	Metrics *obsmetrics.PaymentMetrics `optional:"true"`
}

type Client struct {
	baseURL      string
	keyID        string
	keySecret    string
	httpClient   *http.Client
	retryMax     int
	retryBackoff time.Duration
	tracer       trace.Tracer
	log          *zap.Logger
	metrics      *obsmetrics.PaymentMetrics
}

// New builds the gateway client. The returned value satisfies
// paymentdomain.Gateway.
func New(p Params) *Client {
	cfg := p.Cfg.Gateway
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	retryMax := cfg.RetryMax
	if retryMax <= 0 {
		retryMax = defaultRetryMax
	}
	backoff := cfg.RetryBackoff
	if backoff <= 0 {
		backoff = defaultRetryBackoff
	}
	return &Client{
		baseURL:      strings.TrimRight(cfg.BaseURL, "/"),
		keyID:        cfg.KeyID,
		keySecret:    cfg.KeySecret,
		httpClient:   &http.Client{Timeout: timeout},
		retryMax:     retryMax,
		retryBackoff: backoff,
		tracer:       otel.Tracer("callsight/payment.gateway"),
		log:          p.Log.Named("payment.gateway"),
		metrics:      p.Metrics,
	}
}

func Provide(p Params) paymentdomain.Gateway {
	return New(p)
}

func (c *Client) KeyID() string { return c.keyID }

// CreateOrder is never retried here: a lost response may still have created
// the order, and abandoned orders expire on the gateway side.
func (c *Client) CreateOrder(ctx context.Context, req paymentdomain.CreateGatewayOrder) (*paymentdomain.GatewayOrder, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return nil, err
	}
	var out paymentdomain.GatewayOrder
	err = c.call(ctx, obsmetrics.GatewayOpCreateOrder, http.MethodPost, "/v1/orders", body, &out)
	if err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) FetchPayment(ctx context.Context, paymentID string) (*paymentdomain.GatewayPayment, error) {
	var out paymentdomain.GatewayPayment
	err := c.call(ctx, obsmetrics.GatewayOpFetchPayment, http.MethodGet, "/v1/payments/"+url.PathEscape(paymentID), nil, &out)
	if err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) FetchOrder(ctx context.Context, orderID string) (*paymentdomain.GatewayOrder, error) {
	var out paymentdomain.GatewayOrder
	err := c.call(ctx, obsmetrics.GatewayOpFetchOrder, http.MethodGet, "/v1/orders/"+url.PathEscape(orderID), nil, &out)
	if err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) call(ctx context.Context, op, method, path string, body []byte, out any) (err error) {
	ctx, span := c.tracer.Start(ctx, "gateway."+op,
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(attribute.String("http.method", method)),
	)
	start := time.Now()
	defer func() {
		c.metrics.ObserveGatewayCall(op, time.Since(start), err)
		if err != nil {
			span.SetStatus(codes.Error, op+" failed")
		}
		span.End()
	}()

	req, err := c.newRequest(ctx, method, path, body)
	if err != nil {
		return err
	}

	var resp *http.Response
	if method == http.MethodGet {
		resp, err = c.doWithRetry(ctx, req)
	} else {
		resp, err = c.httpClient.Do(req)
	}
	if err != nil {
		var gwErr *paymentdomain.GatewayError
		if errors.As(err, &gwErr) {
			gwErr.Op = op
			return gwErr
		}
		return &paymentdomain.GatewayError{Op: op, Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		msg := readErrorBody(resp.Body)
		c.log.Warn("gateway request failed",
			zap.String("op", op),
			zap.Int("status", resp.StatusCode),
			zap.String("error", msg),
		)
		if resp.StatusCode == http.StatusNotFound || resp.StatusCode == http.StatusBadRequest {
			return fmt.Errorf("%w: %s: %s", paymentdomain.ErrGatewayNotFound, op, msg)
		}
		return &paymentdomain.GatewayError{Op: op, StatusCode: resp.StatusCode, Err: errors.New(msg)}
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return &paymentdomain.GatewayError{Op: op, StatusCode: resp.StatusCode, Err: fmt.Errorf("decode response: %w", err)}
	}
	return nil
}

func (c *Client) newRequest(ctx context.Context, method, path string, body []byte) (*http.Request, error) {
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return nil, err
	}
	otel.GetTextMapPropagator().Inject(ctx, propagation.HeaderCarrier(req.Header))
	req.SetBasicAuth(c.keyID, c.keySecret)
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	return req, nil
}

// gatewayErrorBody is the error envelope returned by the API.
type gatewayErrorBody struct {
	Error struct {
		Code        string `json:"code"`
		Description string `json:"description"`
	} `json:"error"`
}

func readErrorBody(r io.Reader) string {
	raw, _ := io.ReadAll(io.LimitReader(r, maxErrorBody))
	var parsed gatewayErrorBody
	if err := json.Unmarshal(raw, &parsed); err == nil && parsed.Error.Description != "" {
		return parsed.Error.Code + ": " + parsed.Error.Description
	}
	return strings.TrimSpace(string(raw))
}

// Signature is hex(HMAC-SHA256(secret, message)).
func Signature(secret, message string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	_, _ = mac.Write([]byte(message))
	return hex.EncodeToString(mac.Sum(nil))
}

// VerifyPaymentSignature checks the checkout callback signature over
// orderID + "|" + paymentID.
func VerifyPaymentSignature(secret, orderID, paymentID, signature string) bool {
	if secret == "" || signature == "" {
		return false
	}
	expected := Signature(secret, orderID+"|"+paymentID)
	return hmac.Equal([]byte(expected), []byte(strings.ToLower(strings.TrimSpace(signature))))
}

// VerifyWebhookSignature checks X-Razorpay-Signature over the raw body.
func VerifyWebhookSignature(secret string, body []byte, signature string) bool {
	if secret == "" || signature == "" {
		return false
	}
	expected := Signature(secret, string(body))
	return hmac.Equal([]byte(expected), []byte(strings.ToLower(strings.TrimSpace(signature))))
}
