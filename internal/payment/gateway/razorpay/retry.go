package razorpay

import (
	"context"
	"errors"
	"io"
	"math/rand/v2"
	"net/http"
	"time"

	paymentdomain "github.com/smallbiznis/callsight/internal/payment/domain"
)

// doWithRetry retries idempotent requests on network errors and on 408, 429
// and 5xx responses with exponential backoff plus jitter.
func (c *Client) doWithRetry(ctx context.Context, req *http.Request) (*http.Response, error) {
	var lastErr error
	backoff := c.retryBackoff

	for attempt := 0; attempt < c.retryMax; attempt++ {
		resp, err := c.httpClient.Do(req)
		if err != nil {
			lastErr = err
			if ctx.Err() != nil || !c.shouldRetry(ctx, attempt, backoff) {
				return nil, lastErr
			}
			backoff = nextBackoff(backoff)
			continue
		}

		if isRetryableStatus(resp.StatusCode) {
			_, _ = io.Copy(io.Discard, resp.Body)
			_ = resp.Body.Close()

			lastErr = &paymentdomain.GatewayError{StatusCode: resp.StatusCode, Err: errors.New(http.StatusText(resp.StatusCode))}
			if !c.shouldRetry(ctx, attempt, backoff) {
				return nil, lastErr
			}
			backoff = nextBackoff(backoff)
			continue
		}

		return resp, nil
	}

	return nil, lastErr
}

func (c *Client) shouldRetry(ctx context.Context, attempt int, backoff time.Duration) bool {
	if attempt >= c.retryMax-1 {
		return false
	}

	timer := time.NewTimer(backoff)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}

// nextBackoff doubles the delay and adds up to half of it again as jitter.
func nextBackoff(current time.Duration) time.Duration {
	next := current * 2
	if half := int64(current / 2); half > 0 {
		next += time.Duration(rand.Int64N(half))
	}
	return next
}

func isRetryableStatus(status int) bool {
	switch status {
	case http.StatusRequestTimeout, http.StatusTooManyRequests,
		http.StatusInternalServerError, http.StatusBadGateway,
		http.StatusServiceUnavailable, http.StatusGatewayTimeout:
		return true
	}
	return false
}
