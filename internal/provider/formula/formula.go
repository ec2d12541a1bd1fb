// Package formula fetches price history through an asynchronous recompute:
// a formula is written to a scratch sheet, a worker evaluates it, and the
// provider polls the result slot until the worker marks it done.
package formula

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"stockmetrics/internal/clock"
	"stockmetrics/internal/logger"
	"stockmetrics/internal/metrics"
	"stockmetrics/internal/model"
	"stockmetrics/internal/poll"
	"stockmetrics/internal/store/redis"

	"github.com/google/uuid"
)

// Scratch is the provider's view of the scratch sheet.
type Scratch interface {
	SetFormula(ctx context.Context, req redis.FormulaRequest) error
	ReadResult(ctx context.Context, symbol string) (redis.FormulaResult, error)
}

// Provider implements model.PriceSeriesProvider over a Scratch.
type Provider struct {
	scratch Scratch
	poll    poll.Config

	clock   clock.Clock
	metrics *metrics.Metrics
	log     *slog.Logger
}

var _ model.PriceSeriesProvider = (*Provider)(nil)

// Option configures a Provider.
type Option func(*Provider)

// WithClock replaces the clock used between polls.
func WithClock(c clock.Clock) Option { return func(p *Provider) { p.clock = c } }

// WithMetrics records poll attempts.
func WithMetrics(m *metrics.Metrics) Option { return func(p *Provider) { p.metrics = m } }

// WithLogger sets the structured logger.
func WithLogger(l *slog.Logger) Option { return func(p *Provider) { p.log = l } }

// New creates a formula provider polling at cfg.Interval up to
// cfg.MaxAttempts times.
func New(scratch Scratch, cfg poll.Config, opts ...Option) *Provider {
	p := &Provider{
		scratch: scratch,
		poll:    cfg,
		clock:   clock.Real{},
		log:     slog.Default(),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Formula is the history expression evaluated for a symbol.
func Formula(symbol string, lookbackDays int) string {
	return fmt.Sprintf(`=GOOGLEFINANCE("%s","close",TODAY()-%d,TODAY())`, symbol, lookbackDays)
}

// Fetch queues the formula and waits until the worker has written every row
// of this request. When polling runs out it returns the rows written so far;
// the analyzer flags a short series.
func (p *Provider) Fetch(ctx context.Context, symbol string, lookbackDays int) ([]model.PricePoint, error) {
	req := redis.FormulaRequest{
		ID:           uuid.NewString(),
		Symbol:       symbol,
		Formula:      Formula(symbol, lookbackDays),
		LookbackDays: lookbackDays,
		RequestedAt:  p.clock.Now(),
	}
	if err := p.scratch.SetFormula(ctx, req); err != nil {
		return nil, fmt.Errorf("%w: %v", model.ErrProvider, err)
	}

	res, err := poll.Until(ctx, p.clock, p.poll,
		func(ctx context.Context) (redis.FormulaResult, error) {
			r, err := p.scratch.ReadResult(ctx, symbol)
			if err == nil && r.RequestID != req.ID {
				// The slot belongs to another request.
				r = redis.FormulaResult{RequestID: r.RequestID}
			}
			return r, err
		},
		func(r redis.FormulaResult) bool {
			return r.Error != "" || r.Done
		},
	)
	p.metrics.ObservePoll(res.Attempts)
	if err != nil {
		return nil, fmt.Errorf("%w: formula %s: %v", model.ErrProvider, symbol, err)
	}
	if res.Value.Error != "" {
		return nil, fmt.Errorf("%w: formula %s: %s", model.ErrProvider, symbol, res.Value.Error)
	}
	if !res.Ready {
		p.log.Info("formula not settled, using partial rows", append(logger.LogWithRun(ctx),
			slog.String("symbol", symbol),
			slog.Int("rows", len(res.Value.Rows)),
			slog.Int("attempts", res.Attempts),
			slog.Duration("waited", time.Duration(res.Attempts-1)*p.poll.Interval),
		)...)
	}
	return res.Value.Rows, nil
}
