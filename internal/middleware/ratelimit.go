package middleware

import (
	"context"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/anonto42/nano-midea/fanout/pkg/logger"
)

// tokenBucketScript refills KEYS[1] at ARGV[1] tokens per second up to
// ARGV[2] and takes one token if available. ARGV[3] is the current time in
// milliseconds. Returns 1 when allowed.
const tokenBucketScript = `
local rate = tonumber(ARGV[1])
local burst = tonumber(ARGV[2])
local now = tonumber(ARGV[3])
local state = redis.call("HMGET", KEYS[1], "tokens", "ts")
local tokens = tonumber(state[1])
local ts = tonumber(state[2])
if tokens == nil then
  tokens = burst
  ts = now
end
tokens = math.min(burst, tokens + (now - ts) * rate / 1000)
local allowed = 0
if tokens >= 1 then
  tokens = tokens - 1
  allowed = 1
end
redis.call("HSET", KEYS[1], "tokens", tokens, "ts", now)
redis.call("PEXPIRE", KEYS[1], math.ceil(burst / rate * 1000) + 1000)
return allowed
`

// RedisRateLimiterStore is a token bucket per identifier kept in Redis, so
// every replica of the API shares the same limits.
type RedisRateLimiterStore struct {
	client redis.Cmdable
	rate   float64
	burst  int
	prefix string
}

// NewRedisRateLimiterStore limits each identifier to perSecond requests with
// bursts of up to burst.
func NewRedisRateLimiterStore(client redis.Cmdable, perSecond float64, burst int) *RedisRateLimiterStore {
	return &RedisRateLimiterStore{client: client, rate: perSecond, burst: burst, prefix: "ratelimit:"}
}

// Allow implements echo's RateLimiterStore. Redis failures let the request
// through.
func (s *RedisRateLimiterStore) Allow(identifier string) (bool, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 500*time.Millisecond)
	defer cancel()

	res, err := s.client.Eval(ctx, tokenBucketScript, []string{s.prefix + identifier},
		s.rate, s.burst, time.Now().UnixMilli()).Int64()
	if err != nil {
		logger.Log.Warn("rate_limiter_redis_failed", zap.Error(err))
		return true, nil
	}
	return res == 1, nil
}

// RateLimiter limits requests per caller (user id when authenticated,
// otherwise client IP). client may be nil for a per-process limiter.
func RateLimiter(client redis.Cmdable, perSecond float64, burst int) echo.MiddlewareFunc {
	var store echomw.RateLimiterStore
	if client != nil {
		store = NewRedisRateLimiterStore(client, perSecond, burst)
	} else {
		store = echomw.NewRateLimiterMemoryStoreWithConfig(echomw.RateLimiterMemoryStoreConfig{
			Rate:      rate.Limit(perSecond),
			Burst:     burst,
			ExpiresIn: 3 * time.Minute,
		})
	}
	return echomw.RateLimiterWithConfig(echomw.RateLimiterConfig{
		Store: store,
		IdentifierExtractor: func(c echo.Context) (string, error) {
			if uid := UserID(c); uid != "" {
				return "uid:" + uid, nil
			}
			return "ip:" + c.RealIP(), nil
		},
		DenyHandler: func(c echo.Context, identifier string, err error) error {
			return echo.NewHTTPError(http.StatusTooManyRequests, "Rate limit exceeded")
		},
	})
}
