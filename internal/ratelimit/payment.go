package ratelimit

import (
	"context"
	"fmt"
	"strings"

	redis "github.com/redis/go-redis/v9"
	"github.com/smallbiznis/callsight/internal/config"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

const keyPaymentUser = "payments:user:%s"

// PaymentLimiter throttles payment endpoints per user. A limiter built
// without Redis allows everything.
type PaymentLimiter struct {
	enabled bool
	bucket  *TokenBucket
	policy  Policy
}

func NewPaymentLimiter(lc fx.Lifecycle, cfg config.Config, log *zap.Logger) (*PaymentLimiter, error) {
	limitCfg := cfg.RateLimit
	addr := strings.TrimSpace(limitCfg.RedisAddr)
	if !limitCfg.Enabled || addr == "" {
		log.Info("payment rate limiting disabled")
		return &PaymentLimiter{}, nil
	}
	policy := Policy{Rate: limitCfg.PaymentRate, Burst: limitCfg.PaymentBurst}
	if err := policy.validate(); err != nil {
		return nil, err
	}

	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: strings.TrimSpace(limitCfg.RedisPassword),
		DB:       limitCfg.RedisDB,
	})
	if lc != nil {
		lc.Append(fx.Hook{
			OnStop: func(context.Context) error { return client.Close() },
		})
	}

	log.Info("payment rate limiting enabled",
		zap.String("redis_addr", addr),
		zap.Float64("rate", policy.Rate),
		zap.Int("burst", policy.Burst),
	)
	return &PaymentLimiter{
		enabled: true,
		bucket:  NewTokenBucket(client),
		policy:  policy,
	}, nil
}

func (l *PaymentLimiter) Enabled() bool {
	return l != nil && l.enabled
}

func (l *PaymentLimiter) AllowUser(ctx context.Context, userID string) (Decision, error) {
	if !l.Enabled() {
		return Decision{Allowed: true}, nil
	}
	return l.bucket.Take(ctx, fmt.Sprintf(keyPaymentUser, strings.TrimSpace(userID)), l.policy)
}
