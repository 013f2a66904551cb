package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gofiber/fiber/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newApp(token string) *fiber.App {
	app := fiber.New()
	app.Use(GatewayAuthMiddleware(token, "/health"))
	app.Use(UserContextMiddleware())
	app.Get("/health", func(c *fiber.Ctx) error { return c.SendString("ok") })
	app.Get("/me", RequireUser(), func(c *fiber.Ctx) error { return c.SendString(UserID(c)) })
	app.Get("/ops", RequireUser(), RequireRole(RoleAdmin), func(c *fiber.Ctx) error { return c.SendStatus(fiber.StatusNoContent) })
	return app
}

func get(t *testing.T, app *fiber.App, path string, headers map[string]string) int {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, path, nil)
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	resp, err := app.Test(req, -1)
	require.NoError(t, err)
	_ = resp.Body.Close()
	return resp.StatusCode
}

func TestGatewayAuth(t *testing.T) {
	app := newApp("s3cret")

	assert.Equal(t, http.StatusOK, get(t, app, "/health", nil))
	assert.Equal(t, http.StatusUnauthorized, get(t, app, "/me", map[string]string{"X-User-ID": "u1"}))
	assert.Equal(t, http.StatusUnauthorized, get(t, app, "/me", map[string]string{
		"Authorization": "Bearer wrong", "X-User-ID": "u1",
	}))
	assert.Equal(t, http.StatusOK, get(t, app, "/me", map[string]string{
		"Authorization": "Bearer s3cret", "X-User-ID": "u1",
	}))
	assert.Equal(t, http.StatusOK, get(t, app, "/me", map[string]string{
		"Authorization": "s3cret", "X-User-ID": "u1",
	}))
}

func TestGatewayAuthDisabledWithoutToken(t *testing.T) {
	app := newApp("")
	assert.Equal(t, http.StatusOK, get(t, app, "/me", map[string]string{"X-User-ID": "u1"}))
}

func TestUserContextRoles(t *testing.T) {
	app := newApp("")

	assert.Equal(t, http.StatusUnauthorized, get(t, app, "/me", nil))
	assert.Equal(t, http.StatusUnauthorized, get(t, app, "/ops", nil))
	assert.Equal(t, http.StatusForbidden, get(t, app, "/ops", map[string]string{"X-User-ID": "u1"}))
	assert.Equal(t, http.StatusForbidden, get(t, app, "/ops", map[string]string{
		"X-User-ID": "u1", "X-User-Roles": "player",
	}))
	assert.Equal(t, http.StatusNoContent, get(t, app, "/ops", map[string]string{
		"X-User-ID": "u1", "X-User-Roles": "player, ADMIN ",
	}))
}
