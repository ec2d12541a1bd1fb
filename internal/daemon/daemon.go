// Package daemon keeps the batch job alive between invocations: a daily cron
// entry starts a fresh pass after the close on trading days, and a short
// poll fires continuations the scheduler has made due.
package daemon

import (
	"context"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"stockmetrics/internal/batch"
	"stockmetrics/internal/logger"
	"stockmetrics/internal/markethours"

	"github.com/robfig/cron/v3"
)

// Runner executes one batch invocation.
type Runner interface {
	RunBatch(ctx context.Context) (batch.Outcome, error)
}

// DueSource lists and claims due continuations.
type DueSource interface {
	Due(ctx context.Context) ([]string, error)
	Claim(ctx context.Context, job string) (bool, error)
}

// Config configures the daemon.
type Config struct {
	Job           string
	DailySchedule string // standard 5-field cron spec in Location
	PollSchedule  string // e.g. "@every 15s"
	Location      *time.Location
	TradingDays   bool // skip the daily kickoff on exchange holidays and weekends
}

// Daemon owns the cron loop.
type Daemon struct {
	cfg     Config
	runner  Runner
	due     DueSource
	cron    *cron.Cron
	log     *slog.Logger
	now     func() time.Time
	running atomic.Bool
}

// New creates a daemon. due may be nil when no scheduler is configured.
func New(cfg Config, runner Runner, due DueSource, log *slog.Logger) *Daemon {
	if cfg.Location == nil {
		cfg.Location = markethours.NewYork
	}
	if cfg.PollSchedule == "" {
		cfg.PollSchedule = "@every 15s"
	}
	if log == nil {
		log = slog.Default()
	}
	return &Daemon{
		cfg:    cfg,
		runner: runner,
		due:    due,
		cron:   cron.New(cron.WithLocation(cfg.Location)),
		log:    log,
		now:    time.Now,
	}
}

// Start registers the cron entries and starts the loop. Runs use ctx.
func (d *Daemon) Start(ctx context.Context) error {
	if d.cfg.DailySchedule != "" {
		if _, err := d.cron.AddFunc(d.cfg.DailySchedule, func() { d.Kickoff(ctx) }); err != nil {
			return fmt.Errorf("failed to add daily schedule %q: %w", d.cfg.DailySchedule, err)
		}
	}
	if d.due != nil {
		if _, err := d.cron.AddFunc(d.cfg.PollSchedule, func() { d.PollDue(ctx) }); err != nil {
			return fmt.Errorf("failed to add poll schedule %q: %w", d.cfg.PollSchedule, err)
		}
	}

	d.cron.Start()
	d.log.Info("daemon started",
		slog.String("job", d.cfg.Job),
		slog.String("daily", d.cfg.DailySchedule),
		slog.String("poll", d.cfg.PollSchedule),
		slog.String("location", d.cfg.Location.String()),
	)
	return nil
}

// Stop stops the cron loop and waits for a running invocation to finish.
func (d *Daemon) Stop() {
	<-d.cron.Stop().Done()
	d.log.Info("daemon stopped")
}

// Kickoff starts the daily pass unless today is not a trading day.
func (d *Daemon) Kickoff(ctx context.Context) bool {
	now := d.now()
	if d.cfg.TradingDays && !markethours.IsTradingDay(now) {
		d.log.Info("daily kickoff skipped, market closed today", slog.String("date", now.In(d.cfg.Location).Format("2006-01-02")))
		return false
	}
	return d.trigger(ctx, "daily")
}

// PollDue fires the job's continuation once it is due and claimed.
func (d *Daemon) PollDue(ctx context.Context) bool {
	jobs, err := d.due.Due(ctx)
	if err != nil {
		d.log.Warn("due schedules unavailable", slog.String("error", err.Error()))
		return false
	}
	for _, job := range jobs {
		if job != d.cfg.Job {
			continue
		}
		if d.running.Load() {
			// Leave it pending; the next poll picks it up.
			return false
		}
		won, err := d.due.Claim(ctx, job)
		if err != nil {
			d.log.Warn("claim failed", slog.String("job", job), slog.String("error", err.Error()))
			return false
		}
		if won {
			return d.trigger(ctx, "continuation")
		}
	}
	return false
}

// trigger runs one invocation unless one is already in progress.
func (d *Daemon) trigger(ctx context.Context, reason string) bool {
	if !d.running.CompareAndSwap(false, true) {
		d.log.Info("batch already running, trigger dropped", slog.String("reason", reason))
		return false
	}
	defer d.running.Store(false)

	runID := logger.NewRunID()
	ctx = logger.WithRunID(ctx, runID)
	d.log.Info("batch triggered", append(logger.LogWithRun(ctx), slog.String("reason", reason))...)

	out, err := d.runner.RunBatch(ctx)
	if err != nil {
		d.log.Error("batch failed", append(logger.LogWithRun(ctx),
			slog.String("reason", reason),
			slog.String("state", string(out.State)),
			slog.String("error", err.Error()),
		)...)
	}
	return true
}
