package razorpay

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/smallbiznis/callsight/internal/config"
	paymentdomain "github.com/smallbiznis/callsight/internal/payment/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func newTestClient(t *testing.T, handler http.Handler) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return New(Params{
		Cfg: config.Config{Gateway: config.GatewayConfig{
			BaseURL:      srv.URL,
			KeyID:        "rzp_test_key",
			KeySecret:    "secret",
			Timeout:      2 * time.Second,
			RetryMax:     3,
			RetryBackoff: time.Millisecond,
		}},
		Log: zap.NewNop(),
	})
}

func TestFetchPaymentRetriesServerErrors(t *testing.T) {
	var calls atomic.Int32
	client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		user, pass, ok := r.BasicAuth()
		if !ok || user != "rzp_test_key" || pass != "secret" {
			t.Errorf("missing basic auth")
		}
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		assert.Equal(t, "/v1/payments/pay_1", r.URL.Path)
		_ = json.NewEncoder(w).Encode(map[string]any{
			"id": "pay_1", "order_id": "order_1", "status": "captured",
			"amount": 22500, "currency": "INR", "notes": []any{},
		})
	}))

	payment, err := client.FetchPayment(context.Background(), "pay_1")
	require.NoError(t, err)
	assert.Equal(t, int32(3), calls.Load())
	assert.True(t, payment.Settled())
	assert.Equal(t, int64(22500), payment.Amount)
	assert.Empty(t, payment.Notes)
}

func TestFetchPaymentGivesUpAfterRetryMax(t *testing.T) {
	var calls atomic.Int32
	client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusBadGateway)
	}))

	_, err := client.FetchPayment(context.Background(), "pay_1")
	var gwErr *paymentdomain.GatewayError
	require.True(t, errors.As(err, &gwErr), "expected gateway error, got %v", err)
	assert.Equal(t, http.StatusBadGateway, gwErr.StatusCode)
	assert.Equal(t, "fetch_payment", gwErr.Op)
	assert.Equal(t, int32(3), calls.Load())
}

func TestFetchOrderNotFound(t *testing.T) {
	client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"error":{"code":"BAD_REQUEST_ERROR","description":"The id provided does not exist"}}`))
	}))

	_, err := client.FetchOrder(context.Background(), "order_missing")
	assert.ErrorIs(t, err, paymentdomain.ErrGatewayNotFound)
}

func TestCreateOrderIsNotRetried(t *testing.T) {
	var calls atomic.Int32
	client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusInternalServerError)
	}))

	_, err := client.CreateOrder(context.Background(), paymentdomain.CreateGatewayOrder{Amount: 100, Currency: "INR"})
	var gwErr *paymentdomain.GatewayError
	require.True(t, errors.As(err, &gwErr))
	assert.Equal(t, int32(1), calls.Load())
}

func TestCreateOrderSendsNotes(t *testing.T) {
	client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body paymentdomain.CreateGatewayOrder
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, int64(22500), body.Amount)
		assert.Equal(t, "50", body.Notes["credits"])
		_ = json.NewEncoder(w).Encode(map[string]any{
			"id": "order_9", "amount": body.Amount, "currency": body.Currency,
			"receipt": body.Receipt, "status": "created", "notes": body.Notes,
		})
	}))

	order, err := client.CreateOrder(context.Background(), paymentdomain.CreateGatewayOrder{
		Amount:   22500,
		Currency: "INR",
		Receipt:  "rcpt_1",
		Notes:    map[string]string{"credits": "50"},
	})
	require.NoError(t, err)
	assert.Equal(t, "order_9", order.ID)
	assert.Equal(t, "50", order.Notes.Get("credits"))
}

func TestVerifyPaymentSignature(t *testing.T) {
	sig := Signature("secret", "order_1|pay_1")

	assert.True(t, VerifyPaymentSignature("secret", "order_1", "pay_1", sig))
	assert.False(t, VerifyPaymentSignature("secret", "order_1", "pay_2", sig))
	assert.False(t, VerifyPaymentSignature("other", "order_1", "pay_1", sig))
	assert.False(t, VerifyPaymentSignature("secret", "order_1", "pay_1", ""))
}

func TestVerifyWebhookSignature(t *testing.T) {
	body := []byte(`{"event":"payment.captured"}`)
	sig := Signature("whsec", string(body))

	assert.True(t, VerifyWebhookSignature("whsec", body, sig))
	assert.False(t, VerifyWebhookSignature("whsec", append(body, ' '), sig))
}
