package cli

import (
	"context"
	"fmt"
	"slices"
	"strings"
	"time"

	"competition-engine/handlers"
	"competition-engine/logger"
	"competition-engine/middleware"
	"competition-engine/services"
	"competition-engine/workers"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	fiberlogger "github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

const shutdownTimeout = 10 * time.Second

// NewServeCommand starts the HTTP API, the reconciliation and monitoring
// schedules and the payout sync worker.
func NewServeCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API and background jobs",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			app, err := NewApp(ctx, opts, true)
			if err != nil {
				return err
			}
			defer app.Close()
			return serve(ctx, app)
		},
	}
}

// NewServer builds the fiber app with the gateway middleware chain and all
// routes.
func NewServer(app *App) *fiber.App {
	cfg := app.Config
	srv := fiber.New(fiber.Config{
		AppName:      "competition-engine",
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
	})

	srv.Use(recover.New())
	srv.Use(fiberlogger.New(fiberlogger.Config{
		Format: "${time} ${status} ${method} ${path} ${latency}\n",
	}))
	srv.Use(cors.New(cors.Config{
		AllowOrigins:     strings.Join(cfg.AllowedOrigins, ","),
		AllowMethods:     "GET,POST,OPTIONS,HEAD",
		AllowHeaders:     "Origin, Content-Type, Accept, Authorization, X-Request-ID, X-User-ID, X-User-Roles",
		AllowCredentials: !slices.Contains(cfg.AllowedOrigins, "*"),
		MaxAge:           86400,
	}))
	// /health/deep records alerts, so only /health and /metrics skip the token.
	srv.Use(middleware.GatewayAuthMiddleware(cfg.ServiceToken, "/health", "/metrics"))
	srv.Use(middleware.UserContextMiddleware())

	handlers.SetupHealthRoutes(srv, app.Gateway, app.Monitor, app.Metrics)
	handlers.SetupCompetitionRoutes(srv, handlers.NewCompetitionHandler(app.Service))
	return srv
}

func serve(ctx context.Context, app *App) error {
	cfg := app.Config

	if _, err := services.StartScheduler(ctx, app.Reconciler, app.Monitor, cfg.ReconcileInterval, cfg.MonitorInterval); err != nil {
		return err
	}

	if cfg.PayoutServiceURL != "" {
		client := workers.NewPayoutSyncClient(cfg.PayoutServiceURL, cfg.ServiceToken, app.Gateway)
		go workers.PollPayouts(ctx, client, cfg.PayoutPollEvery)
	} else {
		logger.Warn("PAYOUT_SERVICE_URL is not set, payout sync disabled")
	}

	srv := NewServer(app)
	errCh := make(chan error, 1)
	go func() {
		logger.Info("server listening", zap.String("port", cfg.Port))
		errCh <- srv.Listen(":" + cfg.Port)
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("server stopped: %w", err)
	case <-ctx.Done():
	}

	logger.Info("shutting down server")
	if err := srv.ShutdownWithTimeout(shutdownTimeout); err != nil {
		return fmt.Errorf("failed to shut down server: %w", err)
	}
	return nil
}
