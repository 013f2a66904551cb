// middleware/gateway.go
package middleware

import (
	"crypto/subtle"
	"strings"

	"competition-engine/logger"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"
)

// GatewayAuthMiddleware validates the Bearer token the API gateway attaches
// to every request. Paths in public skip the check. An empty token disables
// authentication, which only development setups should do.
func GatewayAuthMiddleware(expectedToken string, public ...string) fiber.Handler {
	if expectedToken == "" {
		logger.Warn("[GATEWAY_AUTH] SERVICE_TOKEN is not set, gateway authentication disabled")
	}
	open := make(map[string]bool, len(public))
	for _, p := range public {
		open[p] = true
	}

	return func(c *fiber.Ctx) error {
		if expectedToken == "" || open[c.Path()] {
			return c.Next()
		}

		authHeader := c.Get(fiber.HeaderAuthorization)
		if authHeader == "" {
			logger.Warn("[GATEWAY_AUTH] missing Authorization header", zap.String("path", c.Path()))
			return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
				"error":   "UNAUTHORIZED",
				"message": "gateway authentication token missing",
			})
		}

		// Accept "Bearer <token>" and the raw token.
		token := strings.TrimPrefix(authHeader, "Bearer ")

		if subtle.ConstantTimeCompare([]byte(token), []byte(expectedToken)) != 1 {
			logger.Warn("[GATEWAY_AUTH] invalid token", zap.String("path", c.Path()))
			return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
				"error":   "UNAUTHORIZED",
				"message": "invalid gateway authentication token",
			})
		}

		return c.Next()
	}
}
