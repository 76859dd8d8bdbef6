package middleware

import (
	"strconv"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/limiter"

	"github.com/noah-isme/gema-task-api/internal/utils"
)

// RateLimit limits requests per authenticated user, falling back to the client IP.
func RateLimit(identifier string, max int, window time.Duration) fiber.Handler {
	if max <= 0 {
		max = 10
	}
	if window <= 0 {
		window = time.Minute
	}

	return limiter.New(limiter.Config{
		Max:        max,
		Expiration: window,
		KeyGenerator: func(c *fiber.Ctx) string {
			if id := UserID(c); id != 0 {
				return identifier + ":user:" + strconv.FormatUint(uint64(id), 10)
			}
			return identifier + ":ip:" + c.IP()
		},
		LimitReached: func(c *fiber.Ctx) error {
			return utils.Fail(c, fiber.StatusTooManyRequests, "too many submissions, please retry later", nil)
		},
	})
}
