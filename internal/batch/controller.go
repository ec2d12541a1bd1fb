// Package batch runs the resumable, rate-limited and time-boxed pass over the
// symbol list. Every invocation reconstructs its position from the sink,
// analyzes symbols strictly one at a time, writes one row per symbol and
// either finalizes the sheet or hands back a continuation.
package batch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"stockmetrics/internal/analyzer"
	"stockmetrics/internal/clock"
	"stockmetrics/internal/logger"
	"stockmetrics/internal/metrics"
	"stockmetrics/internal/model"
	"stockmetrics/internal/notification"
)

// Analyzer turns a symbol into a result. It never fails.
type Analyzer interface {
	Analyze(ctx context.Context, symbol string) model.AnalysisResult
}

// Config holds the controller's tunables.
type Config struct {
	Job              string
	MaxPerRun        int
	Delay            time.Duration
	DelayOnError     time.Duration
	DelayOnRateLimit time.Duration
	AutoContinue     bool
	RefreshEnabled   bool
	Budget           time.Duration
	ContinueAfter    time.Duration
	Location         *time.Location
}

// Outcome summarizes one invocation.
type Outcome struct {
	RunID        string
	State        State
	Mode         Mode
	StartAt      int // cursor the run resumed from
	Next         int // cursor the next run would resume from
	Total        int
	Processed    int
	Failed       int
	Buys         int
	Sells        int
	Continuation ContinuationDecision
	StartedAt    time.Time
	EndedAt      time.Time
}

// Remaining is the number of symbols not yet written in this pass.
func (o Outcome) Remaining() int { return o.Total - o.Next }

// Controller drives one batch invocation at a time.
type Controller struct {
	cfg      Config
	source   model.SymbolSource
	analyzer Analyzer
	sink     model.TabularSink
	sched    model.Scheduler

	clock    clock.Clock
	metrics  *metrics.Metrics
	notifier notification.Notifier
	log      *slog.Logger
}

// Option configures a Controller.
type Option func(*Controller)

// WithClock replaces the wall clock used for the budget and delays.
func WithClock(c clock.Clock) Option {
	return func(ctl *Controller) { ctl.clock = c }
}

// WithMetrics records per-symbol and per-run metrics.
func WithMetrics(m *metrics.Metrics) Option {
	return func(ctl *Controller) { ctl.metrics = m }
}

// WithNotifier sets where user-facing notices go.
func WithNotifier(n notification.Notifier) Option {
	return func(ctl *Controller) { ctl.notifier = n }
}

// WithLogger sets the structured logger.
func WithLogger(l *slog.Logger) Option {
	return func(ctl *Controller) { ctl.log = l }
}

// New creates a controller. sched may be nil, in which case no continuation
// is ever registered.
func New(cfg Config, source model.SymbolSource, an Analyzer, sink model.TabularSink, sched model.Scheduler, opts ...Option) *Controller {
	if cfg.Location == nil {
		cfg.Location = time.Local
	}
	c := &Controller{
		cfg:      cfg,
		source:   source,
		analyzer: an,
		sink:     sink,
		sched:    sched,
		clock:    clock.Real{},
		notifier: notification.NewLogNotifier(),
		log:      slog.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Run executes one invocation. Per-symbol failures are written as error rows;
// source, sink and scheduler failures end the invocation and are returned.
func (c *Controller) Run(ctx context.Context) (Outcome, error) {
	runID := logger.RunID(ctx)
	if runID == "" {
		runID = logger.NewRunID()
		ctx = logger.WithRunID(ctx, runID)
	}
	out := Outcome{RunID: runID, State: StateIdle, StartedAt: c.clock.Now()}

	out, err := c.run(ctx, out)
	out.EndedAt = c.clock.Now()

	c.metrics.ObserveRun(string(out.State), out.Next, out.Buys, out.Sells, out.EndedAt.Sub(out.StartedAt))
	attrs := append(logger.LogWithRun(ctx),
		slog.String("state", string(out.State)),
		slog.String("mode", string(out.Mode)),
		slog.Int("from", out.StartAt),
		slog.Int("next", out.Next),
		slog.Int("total", out.Total),
		slog.Int("processed", out.Processed),
		slog.Int("failed", out.Failed),
		slog.String("continuation", out.Continuation.String()),
	)
	switch {
	case errors.Is(err, model.ErrNoSymbols):
		c.log.Warn("batch run skipped, no symbols", attrs...)
		return out, err
	case err != nil:
		c.log.Error("batch run failed", append(attrs, slog.String("error", err.Error()))...)
		c.notify(ctx, notification.AlertCritical, "Stock analysis failed", err.Error())
		return out, err
	}
	c.log.Info("batch run finished", attrs...)
	return out, nil
}

func (c *Controller) run(ctx context.Context, out Outcome) (Outcome, error) {
	symbols, err := c.source.Symbols(ctx)
	if err != nil {
		return out, fmt.Errorf("load symbols: %w", err)
	}
	out.Total = len(symbols)
	if len(symbols) == 0 {
		c.notify(ctx, notification.AlertWarning, "No symbols to analyze",
			"The symbol list is empty. Add tickers to the symbol source and run again.")
		return out, model.ErrNoSymbols
	}

	out.State = StateRunning

	if err := c.sink.EnsureHeader(ctx, model.Columns); err != nil {
		return c.stop(out), sinkErr("ensure header", err)
	}
	lastCell, err := c.sink.ReadCell(ctx, model.LastUpdatedRow, model.LastUpdatedCol)
	if err != nil {
		return c.stop(out), sinkErr("read last update", err)
	}
	_, stamped := model.ParseTimestamp(lastCell, c.cfg.Location)
	rows, err := c.sink.RowCount(ctx)
	if err != nil {
		return c.stop(out), sinkErr("row count", err)
	}

	rs := DeriveRunState(c.cfg.RefreshEnabled, stamped, rows-model.HeaderRows, len(symbols))
	out.Mode = rs.Mode
	out.StartAt = rs.Cursor
	out.Next = rs.Cursor

	c.log.Info("batch run started", append(logger.LogWithRun(ctx),
		slog.String("mode", string(rs.Mode)),
		slog.Int("cursor", rs.Cursor),
		slog.Int("total", len(symbols)),
		slog.Int("sink_rows", rows),
	)...)

	start := c.clock.Now()
	exhausted := false

	for out.Next < len(symbols) {
		if c.capReached(rs.Mode, out.Processed) {
			exhausted = true
			break
		}

		i := out.Next
		res := c.analyze(ctx, symbols[i])
		if err := c.write(ctx, rs.Mode, i, res); err != nil {
			return c.stop(out), err
		}

		out.Next++
		out.Processed++
		switch {
		case res.Failed():
			out.Failed++
		case res.BuySignal:
			out.Buys++
		}
		if res.SellSignal {
			out.Sells++
		}

		if c.clock.Now().Sub(start) >= c.cfg.Budget {
			exhausted = out.Next < len(symbols)
			if exhausted {
				c.log.Info("run budget exhausted", append(logger.LogWithRun(ctx),
					slog.Int("next", out.Next),
					slog.Duration("elapsed", c.clock.Now().Sub(start)),
				)...)
			}
			break
		}

		if out.Next < len(symbols) && !c.capReached(rs.Mode, out.Processed) {
			if err := c.clock.Sleep(ctx, c.delayAfter(res)); err != nil {
				return c.stop(out), fmt.Errorf("inter-symbol delay: %w", err)
			}
		}
	}

	if out.Next >= len(symbols) {
		return c.complete(ctx, out)
	}

	out.Continuation = Decide(rs.Mode, exhausted, out.Remaining(), c.cfg.AutoContinue && c.sched != nil, c.cfg.ContinueAfter)
	if !out.Continuation.Schedule {
		return c.stop(out), nil
	}
	if err := ApplyContinuation(ctx, c.sched, c.cfg.Job, out.Continuation); err != nil {
		return c.stop(out), err
	}
	c.metrics.ObserveContinuation()
	out.State = StatePaused
	return out, nil
}

func (c *Controller) complete(ctx context.Context, out Outcome) (Outcome, error) {
	if c.sched != nil {
		if err := c.sched.CancelAllFor(ctx, c.cfg.Job); err != nil {
			return c.stop(out), fmt.Errorf("cancel schedules for %q: %w", c.cfg.Job, err)
		}
	}
	if err := c.sink.ApplyFormatting(ctx); err != nil {
		return c.stop(out), sinkErr("apply formatting", err)
	}
	if err := c.sink.WriteCell(ctx, model.LastUpdatedLabelRow, model.LastUpdatedLabelCol, model.LastUpdatedLabel); err != nil {
		return c.stop(out), sinkErr("write last update label", err)
	}
	stamp := c.clock.Now().In(c.cfg.Location).Format(model.TimestampLayout)
	if err := c.sink.WriteCell(ctx, model.LastUpdatedRow, model.LastUpdatedCol, stamp); err != nil {
		return c.stop(out), sinkErr("write last update", err)
	}

	out.State = StateCompleted
	c.notify(ctx, notification.AlertInfo, "Stock analysis complete",
		fmt.Sprintf("%d symbols (%s mode), %d buy, %d sell, %d errors in the last batch",
			out.Total, out.Mode, out.Buys, out.Sells, out.Failed))
	return out, nil
}

// capReached reports whether the append-mode batch cap has been hit. Refresh
// passes are bounded by the wall-clock budget alone.
func (c *Controller) capReached(mode Mode, processed int) bool {
	return mode == ModeAppend && c.cfg.MaxPerRun > 0 && processed >= c.cfg.MaxPerRun
}

func (c *Controller) analyze(ctx context.Context, symbol string) model.AnalysisResult {
	t0 := c.clock.Now()
	res := c.analyzer.Analyze(ctx, symbol)

	outcome := "ok"
	switch {
	case res.Failed() && analyzer.IsRateLimited(res.Error):
		outcome = "rate_limited"
	case res.Failed():
		outcome = "error"
	}
	c.metrics.ObserveSymbol(outcome, c.clock.Now().Sub(t0))
	return res
}

func (c *Controller) write(ctx context.Context, mode Mode, i int, res model.AnalysisResult) error {
	t0 := c.clock.Now()
	row := model.Row(res)

	var err error
	if mode == ModeRefresh {
		err = c.sink.UpdateRow(ctx, model.DataRowIndex(i), row)
	} else {
		err = c.sink.AppendRow(ctx, row)
	}
	if err != nil {
		return sinkErr(fmt.Sprintf("write %s", res.Symbol), err)
	}
	c.metrics.ObserveSinkWrite(c.clock.Now().Sub(t0))
	return nil
}

// delayAfter picks the pause before the next symbol. Failed symbols back off
// longer, and throttled ones longer still.
func (c *Controller) delayAfter(res model.AnalysisResult) time.Duration {
	d := c.cfg.Delay
	if !res.Failed() {
		return d
	}
	if analyzer.IsRateLimited(res.Error) && c.cfg.DelayOnRateLimit > d {
		return c.cfg.DelayOnRateLimit
	}
	if c.cfg.DelayOnError > d {
		return c.cfg.DelayOnError
	}
	return d
}

func (c *Controller) stop(out Outcome) Outcome {
	out.State = StateStopped
	return out
}

func (c *Controller) notify(ctx context.Context, level notification.AlertLevel, title, msg string) {
	if c.notifier == nil {
		return
	}
	if err := c.notifier.Send(ctx, notification.Alert{Level: level, Title: title, Message: msg}); err != nil {
		c.log.Warn("notice delivery failed", append(logger.LogWithRun(ctx), slog.String("error", err.Error()))...)
	}
}

func sinkErr(op string, err error) error {
	if errors.Is(err, model.ErrSinkWrite) {
		return fmt.Errorf("%s: %w", op, err)
	}
	return fmt.Errorf("%w: %s: %v", model.ErrSinkWrite, op, err)
}
