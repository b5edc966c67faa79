// Package ratelimit throttles API requests per client.
package ratelimit

import (
	"context"
	"strings"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"
)

// RateLimiter admits or rejects one request for a subject in the current window.
type RateLimiter interface {
	Allow(ctx context.Context, subject string) (bool, error)
}

// KeyFunc derives the rate limit subject from a request.
type KeyFunc func(c *fiber.Ctx) string

// ClientIPKey limits each client address separately for each route.
func ClientIPKey(c *fiber.Ctx) string {
	path := "unmatched"
	if route := c.Route(); route != nil && strings.TrimSpace(route.Path) != "" {
		path = route.Path
	}
	return c.IP() + "|" + path
}

// Middleware rejects requests over the limit with 429. A limiter failure is
// logged and the request is let through.
func Middleware(limiter RateLimiter, key KeyFunc, logger *zap.Logger) fiber.Handler {
	if key == nil {
		key = ClientIPKey
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return func(c *fiber.Ctx) error {
		if limiter == nil {
			return c.Next()
		}

		subject := key(c)
		allowed, err := limiter.Allow(c.UserContext(), subject)
		if err != nil {
			logger.Warn("rate limiter unavailable, admitting request",
				zap.String("subject", subject),
				zap.Error(err),
			)
			return c.Next()
		}
		if !allowed {
			c.Set(fiber.HeaderRetryAfter, "1")
			return fiber.NewError(fiber.StatusTooManyRequests, "rate limit exceeded")
		}
		return c.Next()
	}
}
