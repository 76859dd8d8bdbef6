package middleware

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/gofiber/fiber/v2"

	"github.com/noah-isme/gema-task-api/internal/utils"
)

// GraderRoles may grade and browse every submission.
var GraderRoles = []string{"admin", "teacher"}

// RequireRole ensures that the authenticated user possesses one of the allowed roles.
func RequireRole(roles ...string) fiber.Handler {
	allowed := roleSet(roles)

	return func(c *fiber.Ctx) error {
		if _, ok := allowed[UserRole(c)]; !ok {
			return utils.Fail(c, fiber.StatusForbidden, "insufficient permissions", nil)
		}
		return c.Next()
	}
}

// RequireSelfOrRole lets users read resources keyed by their own id in the given route parameter;
// anyone else needs one of roles.
func RequireSelfOrRole(param string, roles ...string) fiber.Handler {
	allowed := roleSet(roles)

	return func(c *fiber.Ctx) error {
		if _, ok := allowed[UserRole(c)]; ok {
			return c.Next()
		}

		target, err := strconv.ParseUint(strings.TrimSpace(c.Params(param)), 10, 64)
		if err == nil && target != 0 && uint(target) == UserID(c) {
			return c.Next()
		}
		return utils.Fail(c, fiber.StatusForbidden, "insufficient permissions", nil)
	}
}

func roleSet(roles []string) map[string]struct{} {
	allowed := make(map[string]struct{}, len(roles))
	for _, role := range roles {
		if normalized := normalizeRoleValue(role); normalized != "" {
			allowed[normalized] = struct{}{}
		}
	}
	return allowed
}

func normalizeRoleValue(value interface{}) string {
	switch v := value.(type) {
	case nil:
		return ""
	case string:
		return strings.ToLower(strings.TrimSpace(v))
	case fmt.Stringer:
		return strings.ToLower(strings.TrimSpace(v.String()))
	default:
		return strings.ToLower(strings.TrimSpace(fmt.Sprintf("%v", value)))
	}
}
