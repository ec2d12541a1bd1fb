// Package app wires configuration, stores, providers and the batch
// controller into the commands the CLI exposes.
package app

import (
	"context"
	"errors"
	"fmt"
	"log"
	"log/slog"
	"time"

	"stockmetrics/config"
	"stockmetrics/internal/analyzer"
	"stockmetrics/internal/batch"
	"stockmetrics/internal/clock"
	"stockmetrics/internal/markethours"
	"stockmetrics/internal/metrics"
	"stockmetrics/internal/model"
	redisstore "stockmetrics/internal/store/redis"
	sqlitestore "stockmetrics/internal/store/sqlite"

	goredis "github.com/go-redis/redis/v8"
	"github.com/prometheus/client_golang/prometheus"
)

// Service owns every long-lived dependency of one process.
type Service struct {
	cfg *config.Config
	log *slog.Logger

	workbook *sqlitestore.Workbook
	sheet    *sqlitestore.Sheet
	journal  *sqlitestore.Journal

	rdb       *goredis.Client
	ownsRedis bool
	scheduler *redisstore.Scheduler
	scratch   *redisstore.ScratchSheet

	registry *prometheus.Registry
	prom     *metrics.Metrics
	health   *metrics.HealthStatus

	provider   model.PriceSeriesProvider
	source     model.SymbolSource
	analyzer   *analyzer.Analyzer
	controller *batch.Controller
	clock      clock.Clock
}

var errNoRedis = fmt.Errorf("%w: redis is not connected", model.ErrConfiguration)

// Option overrides a dependency, mainly for tests.
type Option func(*options)

type options struct {
	provider model.PriceSeriesProvider
	clock    clock.Clock
	redis    *goredis.Client
}

// WithProvider replaces the configured price provider.
func WithProvider(p model.PriceSeriesProvider) Option {
	return func(o *options) { o.provider = p }
}

// WithClock replaces the wall clock.
func WithClock(c clock.Clock) Option {
	return func(o *options) { o.clock = c }
}

// WithRedis uses an existing client instead of connecting.
func WithRedis(c *goredis.Client) Option {
	return func(o *options) { o.redis = c }
}

// New opens the workbook, connects to Redis and builds the controller.
// Redis is optional unless the formula provider is selected; without it no
// continuation can be scheduled.
func New(ctx context.Context, cfg *config.Config, lg *slog.Logger, opts ...Option) (*Service, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	var o options
	for _, opt := range opts {
		opt(&o)
	}
	if o.clock == nil {
		o.clock = clock.Real{}
	}
	if lg == nil {
		lg = slog.Default()
	}

	svc := &Service{
		cfg:      cfg,
		log:      lg,
		registry: prometheus.NewRegistry(),
		health:   metrics.NewHealthStatus(),
		clock:    o.clock,
	}
	svc.prom = metrics.NewMetrics(svc.registry)

	// ---- Open SQLite workbook ----
	var err error
	svc.workbook, err = sqlitestore.Open(cfg.SQLitePath)
	if err != nil {
		return nil, err
	}
	svc.sheet, err = svc.workbook.Sheet(ctx, cfg.SinkSheet, true)
	if err != nil {
		svc.workbook.Close()
		return nil, err
	}
	svc.journal = sqlitestore.NewJournal(svc.workbook)

	// ---- Connect to Redis ----
	svc.rdb = o.redis
	if svc.rdb == nil {
		svc.rdb, err = redisstore.Connect(ctx, redisstore.Config{Addr: cfg.RedisAddr, Password: cfg.RedisPassword})
		if err != nil {
			if cfg.Provider == config.ProviderFormula {
				svc.workbook.Close()
				return nil, fmt.Errorf("%w: formula provider needs redis: %v", model.ErrConfiguration, err)
			}
			log.Printf("[app] WARNING: redis unavailable: %v (continuations disabled)", err)
			svc.rdb = nil
		}
		svc.ownsRedis = svc.rdb != nil
	}
	if svc.rdb != nil {
		svc.scheduler = redisstore.NewScheduler(svc.rdb, redisstore.WithSchedulerMetrics(svc.prom))
		svc.scratch = redisstore.NewScratchSheet(svc.rdb)
	}

	// ---- Provider, analyzer, controller ----
	svc.provider = o.provider
	if svc.provider == nil {
		svc.provider, err = svc.buildProvider()
		if err != nil {
			svc.Close()
			return nil, err
		}
	}

	loc := cfg.Location()
	svc.analyzer = analyzer.New(svc.provider, cfg.LookbackDays,
		analyzer.WithClock(func() time.Time { return svc.clock.Now().In(loc) }),
		analyzer.WithLogger(lg),
	)

	svc.source, err = svc.buildSource()
	if err != nil {
		svc.Close()
		return nil, err
	}

	var sched model.Scheduler
	if svc.scheduler != nil {
		sched = svc.scheduler
	}
	svc.controller = batch.New(batch.Config{
		Job:              cfg.JobName,
		MaxPerRun:        cfg.MaxSymbolsPerRun,
		Delay:            cfg.DelayBetween,
		DelayOnError:     cfg.DelayOnError,
		DelayOnRateLimit: cfg.DelayOnRateLimit,
		AutoContinue:     cfg.AutoContinue,
		RefreshEnabled:   cfg.RefreshMode,
		Budget:           cfg.RunBudget,
		ContinueAfter:    cfg.ContinueAfter,
		Location:         loc,
	}, svc.source, svc.analyzer, svc.sheet, sched,
		batch.WithClock(svc.clock),
		batch.WithMetrics(svc.prom),
		batch.WithNotifier(svc.buildNotifier()),
		batch.WithLogger(lg),
	)

	return svc, nil
}

// RunBatch runs one controller invocation and journals it.
func (svc *Service) RunBatch(ctx context.Context) (batch.Outcome, error) {
	out, runErr := svc.controller.Run(ctx)
	svc.health.RecordRun(string(out.State), runErr)

	rec := sqlitestore.RunRecord{
		RunID:     out.RunID,
		Job:       svc.cfg.JobName,
		Mode:      string(out.Mode),
		State:     string(out.State),
		StartAt:   out.StartAt,
		Cursor:    out.StartAt,
		Next:      out.Next,
		Total:     out.Total,
		Processed: out.Processed,
		Failed:    out.Failed,
		StartedAt: out.StartedAt,
		EndedAt:   out.EndedAt,
	}
	if runErr != nil {
		rec.Error = runErr.Error()
	}
	if err := svc.journal.RecordRun(context.WithoutCancel(ctx), rec); err != nil {
		log.Printf("[app] WARNING: journal write failed: %v", err)
	}
	return out, runErr
}

// Analyze computes one symbol without touching the sheet.
func (svc *Service) Analyze(ctx context.Context, symbol string) model.AnalysisResult {
	return svc.analyzer.Analyze(ctx, model.NormalizeSymbol(symbol))
}

// Symbols returns the list the next run would use.
func (svc *Service) Symbols(ctx context.Context) ([]string, error) {
	return svc.source.Symbols(ctx)
}

// ImportSymbols replaces the symbol sheet named by SYMBOL_SOURCE.
func (svc *Service) ImportSymbols(ctx context.Context, symbols []string) (int, error) {
	kind, name, err := svc.cfg.ParseSymbolSource()
	if err != nil {
		return 0, err
	}
	if kind != config.SourceSheet {
		return 0, fmt.Errorf("%w: SYMBOL_SOURCE is %q, not a sheet", model.ErrConfiguration, svc.cfg.SymbolSource)
	}
	return sqlitestore.NewSymbolSheet(svc.workbook, name).Import(ctx, symbols)
}

// Status is a snapshot of the job for the status command and API.
type Status struct {
	Job         string                  `json:"job"`
	Market      string                  `json:"market"`
	SinkSheet   string                  `json:"sink_sheet"`
	DataRows    int                     `json:"data_rows"`
	LastUpdated string                  `json:"last_updated,omitempty"`
	Pending     *redisstore.Schedule    `json:"pending,omitempty"`
	Runs        []sqlitestore.RunRecord `json:"runs"`
}

// Status reads the sheet, scheduler and journal.
func (svc *Service) Status(ctx context.Context, runs int) (Status, error) {
	st := Status{
		Job:       svc.cfg.JobName,
		Market:    markethours.StatusString(svc.clock.Now()),
		SinkSheet: svc.sheet.Name(),
	}

	n, err := svc.sheet.RowCount(ctx)
	if err != nil {
		return st, err
	}
	if n > model.HeaderRows {
		st.DataRows = n - model.HeaderRows
	}
	st.LastUpdated, err = svc.sheet.ReadCell(ctx, model.LastUpdatedRow, model.LastUpdatedCol)
	if err != nil {
		return st, err
	}

	if svc.scheduler != nil {
		st.Pending, err = svc.scheduler.Pending(ctx, svc.cfg.JobName)
		if err != nil && !errors.Is(err, redisstore.ErrCircuitOpen) {
			return st, err
		}
	}

	st.Runs, err = svc.journal.RecentRuns(ctx, svc.cfg.JobName, runs)
	if err != nil {
		return st, err
	}
	return st, nil
}

// Rows returns the sink's data rows.
func (svc *Service) Rows(ctx context.Context) ([][]string, error) {
	return svc.sheet.Rows(ctx, len(model.Columns))
}

// Close releases the stores.
func (svc *Service) Close() {
	if svc.rdb != nil && svc.ownsRedis {
		svc.rdb.Close()
	}
	if svc.workbook != nil {
		svc.workbook.Close()
	}
}
