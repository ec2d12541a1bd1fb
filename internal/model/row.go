package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// Columns is the fixed output schema of the sink sheet.
var Columns = []string{
	"Symbol",
	"Current Price",
	"20-Day SMA",
	"50-Day SMA",
	"200-Day SMA",
	"RSI",
	"Buy Opportunity",
	"Sell Opportunity",
	"Last Updated",
	"Error",
}

// Sheet layout. Rows and columns are 1-based, as in a spreadsheet.
const (
	HeaderRows = 1

	// The "last full update" marker lives to the right of the table so that it
	// never collides with a data row.
	LastUpdatedLabelRow = 1
	LastUpdatedLabelCol = 12
	LastUpdatedRow      = 1
	LastUpdatedCol      = 13
	LastUpdatedLabel    = "Last Full Update"

	// TimestampLayout formats both the per-row and the last-update timestamps.
	TimestampLayout = "2006-01-02 15:04:05"
)

// DataRowIndex returns the sheet row holding the symbol at position i of the
// symbol list.
func DataRowIndex(i int) int { return i + HeaderRows + 1 }

// Row renders a result into the sink's column order. Numbers are rounded to
// two decimals; absent values render as empty cells.
func Row(r AnalysisResult) []string {
	return []string{
		r.Symbol,
		fixed2(r.CurrentPrice),
		fixed2(r.SMA20),
		fixed2(r.SMA50),
		fixed2(r.SMA200),
		fixed2(r.RSI),
		yesNo(r.BuySignal),
		yesNo(r.SellSignal),
		r.Timestamp.Format(TimestampLayout),
		r.Error,
	}
}

// ParseTimestamp parses a sheet timestamp cell. ok is false for blank or
// malformed cells.
func ParseTimestamp(cell string, loc *time.Location) (time.Time, bool) {
	if cell == "" {
		return time.Time{}, false
	}
	if loc == nil {
		loc = time.Local
	}
	t, err := time.ParseInLocation(TimestampLayout, cell, loc)
	if err != nil {
		return time.Time{}, false
	}
	return t, true
}

func fixed2(v *float64) string {
	if v == nil {
		return ""
	}
	return decimal.NewFromFloat(*v).StringFixed(2)
}

func yesNo(b bool) string {
	if b {
		return "YES"
	}
	return "NO"
}
