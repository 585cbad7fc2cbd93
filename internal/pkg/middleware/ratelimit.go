package middleware

import (
	"fmt"
	"strconv"

	"github.com/gofiber/fiber/v2"

	"github.com/vidvault/vidvault/internal/pkg/ratelimit"
	"github.com/vidvault/vidvault/internal/pkg/usercontext"
)

// RateLimit enforces a per-user sliding window on the wrapped routes. The
// limiter itself fails open; only a genuine over-limit answer produces 429.
func RateLimit(limiter *ratelimit.Limiter, scope string) fiber.Handler {
	return func(c *fiber.Ctx) error {
		key := fmt.Sprintf("ratelimit:%s:%d", scope, usercontext.GetUserID(c))
		result := limiter.Check(c.UserContext(), key)

		c.Set("X-RateLimit-Limit", strconv.Itoa(limiter.Max()))
		c.Set("X-RateLimit-Remaining", strconv.Itoa(result.Remaining))
		c.Set("X-RateLimit-Reset", strconv.FormatInt(result.ResetAt.Unix(), 10))

		if !result.Allowed {
			return c.Status(fiber.StatusTooManyRequests).JSON(fiber.Map{
				"error":   "RATE_LIMITED",
				"message": "Too many requests, slow down",
				"retry":   true,
			})
		}

		return c.Next()
	}
}
