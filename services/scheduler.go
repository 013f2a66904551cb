// services/scheduler.go
package services

import (
	"context"
	"fmt"
	"time"

	"competition-engine/logger"

	"github.com/go-co-op/gocron/v2"
	"go.uber.org/zap"
)

// StartScheduler runs a reconciliation tick every reconcileEvery and a health
// check every monitorEvery until ctx is done. Each job runs in singleton
// mode, so a slow tick delays the next one instead of overlapping it.
// A zero monitorEvery or nil monitor disables the health check job.
func StartScheduler(ctx context.Context, reconciler *Reconciler, monitor *Monitor, reconcileEvery, monitorEvery time.Duration) (gocron.Scheduler, error) {
	sched, err := gocron.NewScheduler(gocron.WithLocation(time.UTC))
	if err != nil {
		return nil, fmt.Errorf("failed to create scheduler: %w", err)
	}

	// Every reconcileEvery: advance stale competitions
	_, err = sched.NewJob(
		gocron.DurationJob(reconcileEvery),
		gocron.NewTask(func() {
			report := reconciler.Tick(ctx)
			if !report.Clean() {
				logger.Warn("[Scheduler] reconciliation tick reported errors",
					zap.String("tick_id", report.TickID),
					zap.Int("errors", len(report.Errors)))
			}
		}),
		gocron.WithName("reconcile"),
		gocron.WithSingletonMode(gocron.LimitModeReschedule),
		gocron.WithStartAt(gocron.WithStartImmediately()),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to schedule reconciliation: %w", err)
	}

	if monitor != nil && monitorEvery > 0 {
		// Every monitorEvery: consistency checks and alerts
		_, err = sched.NewJob(
			gocron.DurationJob(monitorEvery),
			gocron.NewTask(func() {
				monitor.RunHealthCheck(ctx)
			}),
			gocron.WithName("monitor"),
			gocron.WithSingletonMode(gocron.LimitModeReschedule),
		)
		if err != nil {
			return nil, fmt.Errorf("failed to schedule health checks: %w", err)
		}
	}

	sched.Start()
	logger.Info("[Scheduler] started",
		zap.Duration("reconcile_every", reconcileEvery),
		zap.Duration("monitor_every", monitorEvery))

	go func() {
		<-ctx.Done()
		if err := sched.Shutdown(); err != nil {
			logger.Warn("[Scheduler] shutdown failed", zap.Error(err))
		}
	}()

	return sched, nil
}
