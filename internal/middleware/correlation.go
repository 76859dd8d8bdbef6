package middleware

import (
	"strings"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"

	"github.com/noah-isme/gema-task-api/internal/observability"
)

// CorrelationHeader carries the request correlation id in both directions.
const CorrelationHeader = "X-Correlation-ID"

const (
	localCorrelationID   = "correlation_id"
	maxCorrelationLength = 128
)

// CorrelationID tags every request with an id, reusing a well-formed incoming X-Correlation-ID or
// X-Request-ID. The id is echoed back and bound to the user context so submission events carry it.
func CorrelationID() fiber.Handler {
	return func(c *fiber.Ctx) error {
		id := incomingCorrelationID(c)
		if id == "" {
			id = uuid.NewString()
		}

		c.Locals(localCorrelationID, id)
		c.Set(CorrelationHeader, id)
		c.SetUserContext(observability.WithCorrelationID(c.UserContext(), id))

		return c.Next()
	}
}

func incomingCorrelationID(c *fiber.Ctx) string {
	for _, header := range []string{CorrelationHeader, "X-Request-ID"} {
		value := strings.TrimSpace(c.Get(header))
		if value != "" && len(value) <= maxCorrelationLength && !strings.ContainsAny(value, " \t\r\n") {
			return value
		}
	}
	return ""
}

// GetCorrelationID returns the correlation id of the active request.
func GetCorrelationID(c *fiber.Ctx) string {
	if c == nil {
		return ""
	}
	if id, ok := c.Locals(localCorrelationID).(string); ok {
		return id
	}
	return observability.CorrelationID(c.UserContext())
}
