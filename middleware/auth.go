// middleware/auth.go
package middleware

import (
	"strings"

	"competition-engine/logger"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"
)

const (
	RoleAdmin = "admin"

	userIDKey    = "user_id"
	userRolesKey = "user_roles"
)

// UserContextMiddleware extracts the user identity and roles set by the
// gateway. Requests without X-User-ID are anonymous.
func UserContextMiddleware() fiber.Handler {
	return func(c *fiber.Ctx) error {
		userID := strings.TrimSpace(c.Get("X-User-ID"))

		var roles []string
		for _, r := range strings.Split(c.Get("X-User-Roles"), ",") {
			r = strings.ToLower(strings.TrimSpace(r))
			if r != "" {
				roles = append(roles, r)
			}
		}

		c.Locals(userIDKey, userID)
		c.Locals(userRolesKey, roles)
		return c.Next()
	}
}

// RequireUser rejects anonymous requests.
func RequireUser() fiber.Handler {
	return func(c *fiber.Ctx) error {
		if UserID(c) == "" {
			return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
				"error":   "UNAUTHORIZED",
				"message": "missing X-User-ID, request must come through the gateway with auth context",
			})
		}
		return c.Next()
	}
}

// RequireRole rejects requests whose user lacks role.
func RequireRole(role string) fiber.Handler {
	return func(c *fiber.Ctx) error {
		if !HasRole(c, role) {
			logger.Warn("[USER_CTX] role required",
				zap.String("role", role),
				zap.String("user_id", UserID(c)),
				zap.String("path", c.Path()))
			return c.Status(fiber.StatusForbidden).JSON(fiber.Map{
				"error":   "FORBIDDEN",
				"message": role + " role required",
			})
		}
		return c.Next()
	}
}

func UserID(c *fiber.Ctx) string {
	id, _ := c.Locals(userIDKey).(string)
	return id
}

func HasRole(c *fiber.Ctx, role string) bool {
	roles, _ := c.Locals(userRolesKey).([]string)
	for _, r := range roles {
		if r == role {
			return true
		}
	}
	return false
}
