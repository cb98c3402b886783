package middleware

import (
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"

	"github.com/skybridge-io/skybridge/internal/metrics"
)

// Callback rate limit defaults. The callback is the only unauthenticated
// endpoint, so it gets a per-IP fixed window.
const (
	DefaultCallbackLimit  = 5
	DefaultCallbackWindow = 15 * time.Minute
)

// RateLimiter is a fixed-window per-IP limiter backed by Redis, shared
// across instances behind the same load balancer.
type RateLimiter struct {
	client *redis.Client
	limit  int64
	window time.Duration
}

// NewRateLimiter creates a RateLimiter. limit and window fall back to the
// callback defaults when zero.
func NewRateLimiter(client *redis.Client, limit int64, window time.Duration) *RateLimiter {
	if limit <= 0 {
		limit = DefaultCallbackLimit
	}
	if window <= 0 {
		window = DefaultCallbackWindow
	}
	return &RateLimiter{client: client, limit: limit, window: window}
}

// Middleware returns the echo middleware enforcing the limit. Redis being
// unreachable fails open: the callback must keep working during a cache
// outage, the limiter is abuse protection rather than a security boundary.
func (rl *RateLimiter) Middleware() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			ctx := c.Request().Context()
			key := "ratelimit:callback:" + c.RealIP()

			count, err := rl.client.Incr(ctx, key).Result()
			if err != nil {
				log.Warn().Err(err).Msg("Rate limiter unavailable, allowing request")
				return next(c)
			}
			if count == 1 {
				if err := rl.client.Expire(ctx, key, rl.window).Err(); err != nil {
					log.Warn().Err(err).Msg("Failed to set rate limit window expiry")
				}
			}
			if count > rl.limit {
				metrics.CallbackRateLimited.Inc()
				log.Warn().Str("remote_ip", c.RealIP()).Int64("count", count).Msg("Callback rate limit exceeded")
				return c.JSON(http.StatusTooManyRequests, echo.Map{"error": "rate_limited"})
			}
			return next(c)
		}
	}
}
