// Package analyzer runs one symbol end to end: fetch its history, compute
// the indicator snapshot and classify it. Failures never escape; they are
// folded into the result's error message so one bad symbol cannot stop a
// batch.
package analyzer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"
	"unicode/utf8"

	"stockmetrics/internal/indicator"
	"stockmetrics/internal/logger"
	"stockmetrics/internal/model"
	"stockmetrics/internal/strategy"
)

const (
	// MinHistory is the number of valid closes needed for a 200-day SMA.
	MinHistory = indicator.LongSMAPeriod

	// maxErrorLen caps the error column.
	maxErrorLen = 100
)

// InsufficientDataMessage is the error column text for short histories.
var InsufficientDataMessage = (&model.InsufficientDataError{Need: MinHistory}).Error()

// Analyzer turns a symbol into an AnalysisResult.
type Analyzer struct {
	provider     model.PriceSeriesProvider
	lookbackDays int
	now          func() time.Time
	log          *slog.Logger
}

// Option configures an Analyzer.
type Option func(*Analyzer)

// WithClock overrides the timestamp source.
func WithClock(now func() time.Time) Option {
	return func(a *Analyzer) { a.now = now }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(a *Analyzer) { a.log = l }
}

// New creates an Analyzer over provider.
func New(provider model.PriceSeriesProvider, lookbackDays int, opts ...Option) *Analyzer {
	a := &Analyzer{
		provider:     provider,
		lookbackDays: lookbackDays,
		now:          time.Now,
		log:          slog.Default(),
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Analyze never returns an error: any failure is captured in the result.
func (a *Analyzer) Analyze(ctx context.Context, symbol string) model.AnalysisResult {
	series, err := a.fetch(ctx, symbol)
	if err != nil {
		a.log.Warn("fetch failed",
			append(logger.LogWithRun(ctx), slog.String("symbol", symbol), slog.String("error", err.Error()))...)
		if errors.Is(err, model.ErrInsufficientData) {
			return model.ErrorResult(symbol, InsufficientDataMessage, a.now())
		}
		return model.ErrorResult(symbol, truncate(err.Error()), a.now())
	}

	closes := model.Closes(series)
	if len(closes) < MinHistory {
		short := &model.InsufficientDataError{Need: MinHistory, Have: len(closes)}
		a.log.Info("insufficient history",
			append(logger.LogWithRun(ctx), slog.String("symbol", symbol), slog.Int("points", short.Have))...)
		return model.ErrorResult(symbol, short.Error(), a.now())
	}

	snap := indicator.Compute(closes)
	sig := strategy.Classify(snap)

	return model.AnalysisResult{
		Symbol:       symbol,
		CurrentPrice: snap.Current,
		SMA20:        snap.SMA20,
		SMA50:        snap.SMA50,
		SMA200:       snap.SMA200,
		RSI:          snap.RSI14,
		BuySignal:    sig.Buy,
		SellSignal:   sig.Sell,
		Timestamp:    a.now(),
	}
}

// fetch calls the provider and converts a panic into an error.
func (a *Analyzer) fetch(ctx context.Context, symbol string) (series []model.PricePoint, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%w: provider panic: %v", model.ErrProvider, r)
		}
	}()

	series, err = a.provider.Fetch(ctx, symbol, a.lookbackDays)
	if err != nil && !errors.Is(err, model.ErrProvider) && !errors.Is(err, model.ErrInsufficientData) {
		err = fmt.Errorf("%w: %v", model.ErrProvider, err)
	}
	return series, err
}

// IsRateLimited reports whether an error message looks like provider
// throttling.
func IsRateLimited(msg string) bool {
	m := strings.ToLower(msg)
	return strings.Contains(m, "429") ||
		strings.Contains(m, "rate limit") ||
		strings.Contains(m, "too many requests")
}

func truncate(msg string) string {
	if len(msg) <= maxErrorLen {
		return msg
	}
	// Cut on a rune boundary.
	cut := maxErrorLen
	for cut > 0 && !utf8.RuneStart(msg[cut]) {
		cut--
	}
	return msg[:cut]
}
