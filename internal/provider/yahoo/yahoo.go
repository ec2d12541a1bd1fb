// Package yahoo fetches daily closes from Yahoo Finance charts.
package yahoo

import (
	"context"
	"fmt"
	"strings"
	"time"

	"stockmetrics/internal/model"

	"github.com/piquette/finance-go/chart"
	"github.com/piquette/finance-go/datetime"
	"github.com/shopspring/decimal"
)

// Bar is the subset of a chart bar the provider reads.
type Bar struct {
	Timestamp int
	Close     decimal.Decimal
	AdjClose  decimal.Decimal
}

// ChartFunc returns daily bars for symbol between start and end.
type ChartFunc func(symbol string, start, end time.Time) ([]Bar, error)

// Provider implements model.PriceSeriesProvider on Yahoo Finance.
type Provider struct {
	chart ChartFunc
	now   func() time.Time
}

var _ model.PriceSeriesProvider = (*Provider)(nil)

// Option configures a Provider.
type Option func(*Provider)

// WithChart replaces the chart source.
func WithChart(fn ChartFunc) Option {
	return func(p *Provider) { p.chart = fn }
}

// WithClock sets the time source used for the date range.
func WithClock(now func() time.Time) Option {
	return func(p *Provider) { p.now = now }
}

// New returns a provider backed by the Yahoo chart API.
func New(opts ...Option) *Provider {
	p := &Provider{chart: getChart, now: time.Now}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Fetch returns the daily closes of the last lookbackDays calendar days,
// oldest first. Adjusted closes are preferred when present.
func (p *Provider) Fetch(ctx context.Context, symbol string, lookbackDays int) ([]model.PricePoint, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	end := p.now()
	start := end.AddDate(0, 0, -lookbackDays)
	bars, err := p.chart(yahooSymbol(symbol), start, end)
	if err != nil {
		return nil, fmt.Errorf("%w: yahoo %s: %v", model.ErrProvider, symbol, err)
	}
	if len(bars) == 0 {
		return nil, fmt.Errorf("%w: yahoo %s: no data returned", model.ErrProvider, symbol)
	}

	points := make([]model.PricePoint, 0, len(bars))
	for _, b := range bars {
		px := b.AdjClose
		if !px.IsPositive() {
			px = b.Close
		}
		points = append(points, model.PricePoint{
			Date:  time.Unix(int64(b.Timestamp), 0).UTC(),
			Close: px.InexactFloat64(),
		})
	}
	return points, nil
}

// yahooSymbol maps class shares to Yahoo's dash form, e.g. BRK.B to BRK-B.
func yahooSymbol(symbol string) string {
	return strings.ReplaceAll(symbol, ".", "-")
}

func getChart(symbol string, start, end time.Time) ([]Bar, error) {
	iter := chart.Get(&chart.Params{
		Symbol:   symbol,
		Start:    datetime.New(&start),
		End:      datetime.New(&end),
		Interval: datetime.OneDay,
	})

	var bars []Bar
	for iter.Next() {
		b := iter.Bar()
		bars = append(bars, Bar{Timestamp: b.Timestamp, Close: b.Close, AdjClose: b.AdjClose})
	}
	if err := iter.Err(); err != nil {
		return nil, err
	}
	return bars, nil
}
