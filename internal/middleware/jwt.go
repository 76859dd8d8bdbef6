package middleware

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/gofiber/fiber/v2"
	"github.com/golang-jwt/jwt/v5"

	"github.com/noah-isme/gema-task-api/internal/utils"
)

// Locals keys populated by JWTProtected.
const (
	LocalUserID   = "user_id"
	LocalUserRole = "user_role"
)

// JWTProtected validates HMAC bearer tokens and exposes the caller's id and role to handlers.
func JWTProtected(secret string) fiber.Handler {
	key := []byte(secret)

	return func(c *fiber.Ctx) error {
		tokenString, ok := bearerToken(c.Get(fiber.HeaderAuthorization))
		if !ok {
			return utils.Fail(c, fiber.StatusUnauthorized, "authorization header missing or malformed", nil)
		}

		claims := jwt.MapClaims{}
		token, err := jwt.ParseWithClaims(tokenString, claims, func(t *jwt.Token) (interface{}, error) {
			if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
				return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
			}
			return key, nil
		})
		if err != nil || !token.Valid {
			return utils.Fail(c, fiber.StatusUnauthorized, "invalid token", nil)
		}

		userID, ok := userIDFromClaims(claims)
		if !ok {
			return utils.Fail(c, fiber.StatusUnauthorized, "token does not identify a user", nil)
		}

		c.Locals(LocalUserID, userID)
		if role := roleFromClaims(claims); role != "" {
			c.Locals(LocalUserRole, role)
		}

		return c.Next()
	}
}

// UserID returns the authenticated user id, or 0 when the request is anonymous.
func UserID(c *fiber.Ctx) uint {
	if id, ok := c.Locals(LocalUserID).(uint); ok {
		return id
	}
	return 0
}

// UserRole returns the normalised role of the authenticated user.
func UserRole(c *fiber.Ctx) string {
	return normalizeRoleValue(c.Locals(LocalUserRole))
}

func bearerToken(header string) (string, bool) {
	const prefix = "bearer "
	header = strings.TrimSpace(header)
	if len(header) <= len(prefix) || !strings.EqualFold(header[:len(prefix)], prefix) {
		return "", false
	}
	token := strings.TrimSpace(header[len(prefix):])
	return token, token != ""
}

func userIDFromClaims(claims jwt.MapClaims) (uint, bool) {
	for _, key := range []string{"sub", "user_id", "id"} {
		value, ok := claims[key]
		if !ok {
			continue
		}
		switch v := value.(type) {
		case float64:
			if v > 0 {
				return uint(v), true
			}
		case string:
			parsed, err := strconv.ParseUint(strings.TrimSpace(v), 10, 64)
			if err == nil && parsed > 0 {
				return uint(parsed), true
			}
		}
	}
	return 0, false
}

func roleFromClaims(claims jwt.MapClaims) string {
	for _, key := range []string{"role", "roles"} {
		switch v := claims[key].(type) {
		case string:
			if role := normalizeRoleValue(v); role != "" {
				return role
			}
		case []interface{}:
			for _, item := range v {
				if role, ok := item.(string); ok && normalizeRoleValue(role) != "" {
					return normalizeRoleValue(role)
				}
			}
		}
	}
	return ""
}
