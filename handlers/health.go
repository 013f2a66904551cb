package handlers

import (
	"context"
	"time"

	"competition-engine/services"
	"competition-engine/store"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const pingTimeout = 2 * time.Second

// SetupHealthRoutes registers liveness, the deep consistency check and the
// Prometheus scrape endpoint. monitor and metrics may be nil.
func SetupHealthRoutes(app *fiber.App, gw store.Gateway, monitor *services.Monitor, metrics *services.Metrics) {
	app.Get("/health", func(c *fiber.Ctx) error {
		ctx, cancel := context.WithTimeout(c.UserContext(), pingTimeout)
		defer cancel()

		if err := gw.Ping(ctx); err != nil {
			return c.Status(fiber.StatusServiceUnavailable).JSON(fiber.Map{
				"status": "unavailable",
				"error":  err.Error(),
			})
		}
		return c.JSON(fiber.Map{"status": "ok"})
	})

	if monitor != nil {
		app.Get("/health/deep", func(c *fiber.Ctx) error {
			report := monitor.RunHealthCheck(c.UserContext())
			status := fiber.StatusOK
			if !report.Healthy {
				status = fiber.StatusServiceUnavailable
			}
			return c.Status(status).JSON(report)
		})
	}

	if metrics != nil {
		app.Get("/metrics", adaptor.HTTPHandler(promhttp.HandlerFor(metrics.Registry, promhttp.HandlerOpts{})))
	}
}
