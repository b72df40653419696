package ratelimit

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strconv"
	"time"

	redis "github.com/redis/go-redis/v9"
)

// takeScript refills the bucket from Redis server time, takes one token when
// available, and reports how long the caller must wait otherwise. Tokens are
// returned as a string so fractional refills survive the Lua to RESP
// conversion.
const takeScript = `
local rate = tonumber(ARGV[1])
local burst = tonumber(ARGV[2])
local ttl = tonumber(ARGV[3])

local t = redis.call("TIME")
local now = (t[1] * 1000) + math.floor(t[2] / 1000)

local state = redis.call("HMGET", KEYS[1], "tokens", "ts")
local tokens = tonumber(state[1]) or burst
local last = tonumber(state[2]) or now
if now > last then
  tokens = math.min(burst, tokens + ((now - last) / 1000) * rate)
end

local allowed = 0
local wait = 0
if tokens >= 1 then
  allowed = 1
  tokens = tokens - 1
else
  wait = math.ceil(((1 - tokens) / rate) * 1000)
end

redis.call("HSET", KEYS[1], "tokens", tostring(tokens), "ts", now)
redis.call("PEXPIRE", KEYS[1], ttl)
return {allowed, tostring(tokens), wait, now}
`

var (
	ErrNotConfigured = errors.New("rate_limiter_not_configured")
	ErrEmptyKey      = errors.New("rate_limiter_empty_key")
	ErrInvalidPolicy = errors.New("rate_limiter_invalid_policy")
)

// Policy is a refill rate in tokens per second and a bucket capacity.
type Policy struct {
	Rate  float64
	Burst int
}

func (p Policy) validate() error {
	if p.Rate <= 0 || p.Burst <= 0 {
		return fmt.Errorf("%w: rate=%v burst=%d", ErrInvalidPolicy, p.Rate, p.Burst)
	}
	return nil
}

// ttl keeps an idle bucket around for twice its full refill time.
func (p Policy) ttl() time.Duration {
	if p.Rate <= 0 || p.Burst <= 0 {
		return time.Second
	}
	seconds := math.Ceil(float64(p.Burst) / p.Rate * 2)
	return time.Duration(math.Max(seconds, 1)) * time.Second
}

type Decision struct {
	Allowed    bool
	Limit      int
	Remaining  int
	RetryAfter time.Duration
	ResetAt    time.Time
}

// TokenBucket keeps one bucket per key in Redis.
type TokenBucket struct {
	client redis.Scripter
	script *redis.Script
}

func NewTokenBucket(client redis.Scripter) *TokenBucket {
	return &TokenBucket{
		client: client,
		script: redis.NewScript(takeScript),
	}
}

func (t *TokenBucket) Take(ctx context.Context, key string, policy Policy) (Decision, error) {
	if t == nil || t.client == nil {
		return Decision{}, ErrNotConfigured
	}
	if key == "" {
		return Decision{}, ErrEmptyKey
	}
	if err := policy.validate(); err != nil {
		return Decision{}, err
	}

	reply, err := t.script.Run(ctx, t.client, []string{key},
		policy.Rate, policy.Burst, policy.ttl().Milliseconds(),
	).Slice()
	if err != nil {
		return Decision{}, err
	}
	if len(reply) != 4 {
		return Decision{}, fmt.Errorf("rate limiter: unexpected reply of %d values", len(reply))
	}

	wait := time.Duration(asInt(reply[2])) * time.Millisecond
	return Decision{
		Allowed:    asInt(reply[0]) == 1,
		Limit:      policy.Burst,
		Remaining:  int(asFloat(reply[1])),
		RetryAfter: wait,
		ResetAt:    time.UnixMilli(asInt(reply[3])).Add(wait),
	}, nil
}

func asInt(v any) int64 {
	switch val := v.(type) {
	case int64:
		return val
	case string:
		n, _ := strconv.ParseInt(val, 10, 64)
		return n
	default:
		return 0
	}
}

func asFloat(v any) float64 {
	switch val := v.(type) {
	case int64:
		return float64(val)
	case string:
		f, _ := strconv.ParseFloat(val, 64)
		return f
	default:
		return 0
	}
}
