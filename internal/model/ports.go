package model

import (
	"context"
	"time"
)

// ── Port Interfaces ──
// These interfaces decouple the batch controller from the concrete symbol
// sources, price providers, sheet stores and schedulers.

// SymbolSource yields the raw symbol list for one run.
type SymbolSource interface {
	// Symbols returns normalized symbols. An unreachable or missing source
	// returns an error wrapping ErrConfiguration.
	Symbols(ctx context.Context) ([]string, error)
}

// PriceSeriesProvider fetches daily closes for a symbol.
type PriceSeriesProvider interface {
	// Fetch returns up to lookbackDays of history in chronological order.
	// It may return fewer points than requested.
	Fetch(ctx context.Context, symbol string, lookbackDays int) ([]PricePoint, error)
}

// TabularSink is a row-oriented sheet. Rows and columns are 1-based.
type TabularSink interface {
	// EnsureHeader writes the header row if it is missing.
	EnsureHeader(ctx context.Context, columns []string) error

	// AppendRow writes values on the row after the last non-empty row.
	AppendRow(ctx context.Context, values []string) error

	// UpdateRow overwrites the row at index.
	UpdateRow(ctx context.Context, index int, values []string) error

	// ReadCell returns "" for an empty cell.
	ReadCell(ctx context.Context, row, col int) (string, error)

	// WriteCell sets a single cell.
	WriteCell(ctx context.Context, row, col int, value string) error

	// RowCount returns the index of the last non-empty row in the data
	// columns, header included.
	RowCount(ctx context.Context) (int, error)

	// ApplyFormatting styles the header and signal columns.
	ApplyFormatting(ctx context.Context) error
}

// Scheduler registers deferred re-invocations of a named job.
type Scheduler interface {
	// CancelAllFor removes every pending schedule for job.
	CancelAllFor(ctx context.Context, job string) error

	// ScheduleOnce registers a single re-invocation of job after delay.
	ScheduleOnce(ctx context.Context, job string, delay time.Duration) error
}
