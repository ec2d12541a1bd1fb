package app

import (
	"context"
	"log"
	"time"

	"stockmetrics/internal/daemon"
	"stockmetrics/internal/metrics"
	"stockmetrics/internal/provider/formula"
)

// Serve runs the daemon until ctx is cancelled: the daily cron kickoff, the
// continuation poll, the metrics and health server and the job API. With
// the formula provider the recalc worker runs in-process too.
func (svc *Service) Serve(ctx context.Context) error {
	srv := metrics.NewServer(svc.cfg.MetricsAddr, svc.health, svc.registry)
	svc.RegisterRoutes(srv.Handle)
	srv.Start()

	sqlDB := svc.workbook.DB()
	svc.health.CheckSQLite(ctx, sqlDB)
	if svc.rdb != nil {
		svc.health.CheckRedis(ctx, svc.rdb)
	}
	svc.health.StartLivenessChecker(ctx, svc.rdb, sqlDB, 15*time.Second)

	var due daemon.DueSource
	if svc.scheduler != nil {
		due = svc.scheduler
	}
	d := daemon.New(daemon.Config{
		Job:           svc.cfg.JobName,
		DailySchedule: svc.cfg.DailySchedule,
		Location:      svc.cfg.Location(),
		TradingDays:   true,
	}, svc, due, svc.log)
	if err := d.Start(ctx); err != nil {
		return err
	}

	if svc.scratch != nil && svc.provider != nil {
		if _, ok := svc.provider.(*formula.Provider); ok {
			go svc.RecalcWorker(ctx)
		}
	}

	log.Printf("[app] serving job %q (daily %q)", svc.cfg.JobName, svc.cfg.DailySchedule)
	<-ctx.Done()

	log.Println("[app] shutting down...")
	d.Stop()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Printf("[app] metrics server shutdown: %v", err)
	}
	return nil
}

// RecalcWorker evaluates queued formulas until ctx is cancelled.
func (svc *Service) RecalcWorker(ctx context.Context) error {
	if svc.scratch == nil {
		return errNoRedis
	}
	return formula.NewWorker(svc.scratch, svc.backingProvider(), 0).Run(ctx)
}
