package cli

import (
	"context"
	"errors"
	"fmt"

	"competition-engine/config"
	"competition-engine/logger"
	"competition-engine/services"
	"competition-engine/store"
	"competition-engine/utils"

	"go.uber.org/zap"
	"gorm.io/gorm"
)

// App is the wired engine shared by every command.
type App struct {
	Config     *config.Config
	DB         *gorm.DB
	Gateway    *store.GormGateway
	Metrics    *services.Metrics
	Finalizer  *services.FinalizationEngine
	Reconciler *services.Reconciler
	Monitor    *services.Monitor
	Service    *services.CompetitionService

	closers []func() error
}

func loadConfig(opts *RootOptions) (*config.Config, error) {
	if opts.Getenv != nil {
		return config.FromEnv(opts.Getenv)
	}
	return config.Load()
}

// NewApp loads the configuration, connects to the database and builds the
// services. The schema is migrated unless migrate is false.
func NewApp(ctx context.Context, opts *RootOptions, migrate bool) (*App, error) {
	cfg, err := loadConfig(opts)
	if err != nil {
		return nil, err
	}
	if err := logger.Init(cfg.LogLevel, cfg.IsDevelopment()); err != nil {
		return nil, fmt.Errorf("failed to init logger: %w", err)
	}

	db, err := store.Open(cfg.DatabaseDriver, cfg.DatabaseURL)
	if err != nil {
		return nil, err
	}
	app := &App{Config: cfg, DB: db}
	app.closers = append(app.closers, func() error {
		sqlDB, err := db.DB()
		if err != nil {
			return err
		}
		return sqlDB.Close()
	})

	if migrate {
		if err := store.Migrate(db, cfg.DatabaseDriver, cfg.DatabaseURL); err != nil {
			_ = app.Close()
			return nil, err
		}
	}

	var cache store.Cache = store.NewMemoryCache()
	if cfg.RedisURL != "" {
		rc, err := store.NewRedisCache(ctx, cfg.RedisURL, "competition-engine")
		if err != nil {
			_ = app.Close()
			return nil, err
		}
		cache = rc
		app.closers = append(app.closers, rc.Close)
	}
	app.Gateway = store.NewGormGateway(db, store.WithCache(cache, cfg.CacheTTL))

	prizes, err := services.LoadPrizeTables(cfg.PrizeTablePath)
	if err != nil {
		_ = app.Close()
		return nil, err
	}

	var notifier services.Notifier = services.LogNotifier{}
	if cfg.AlertWebhookURL != "" {
		notifier = services.NewWebhookNotifier(cfg.AlertWebhookURL)
	}

	clock := services.SystemClock{}
	app.Metrics = services.NewMetrics()
	validation := services.NewValidationService(app.Gateway, clock)
	ranking := services.NewRankingEngine(app.Gateway, prizes, clock, cfg.Location)

	app.Monitor = services.NewMonitor(app.Gateway, notifier, app.Metrics, clock, cfg.Monitoring, cfg.Currency)

	app.Finalizer = services.NewFinalizationEngine(app.Gateway, ranking, validation, clock)
	app.Finalizer.Alerts = app.Monitor
	app.Finalizer.Metrics = app.Metrics
	if cfg.R2.Enabled() {
		archiver, err := utils.NewSnapshotArchiver(ctx, cfg.R2)
		if err != nil {
			_ = app.Close()
			return nil, err
		}
		app.Finalizer.Archive = archiver
	}

	app.Reconciler = services.NewReconciler(app.Gateway, app.Finalizer, clock, cfg.ReconcileItemTimeout)
	app.Reconciler.Metrics = app.Metrics

	app.Service = services.NewCompetitionService(app.Gateway, validation, ranking, app.Finalizer, clock, cfg.Location)

	logger.Info("engine ready",
		zap.String("env", cfg.Env),
		zap.String("database", cfg.DatabaseDriver),
		zap.Bool("redis_cache", cfg.RedisURL != ""),
		zap.Bool("archive", cfg.R2.Enabled()),
		zap.String("timezone", cfg.Location.String()))
	return app, nil
}

// Close releases connections in reverse order of acquisition.
func (a *App) Close() error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	logger.Sync()
	return errors.Join(errs...)
}
