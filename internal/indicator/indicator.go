// Package indicator computes the technical indicators used to classify a
// symbol from its daily closes.
//
// Every function is pure: it reads a close series ordered oldest first and
// returns the value for the most recent bar, with ok=false when the series is
// too short for the requested period.
package indicator

import "stockmetrics/internal/model"

// Standard periods for the daily sweep.
const (
	ShortSMAPeriod = 20
	MidSMAPeriod   = 50
	LongSMAPeriod  = 200
	RSIPeriod      = 14
)

// Snapshot holds the standard indicator set for one series.
// Absent values are nil.
type Snapshot struct {
	Current *float64
	SMA20   *float64
	SMA50   *float64
	SMA200  *float64
	RSI14   *float64
}

// Compute evaluates the standard indicator set over closes.
func Compute(closes []float64) Snapshot {
	var s Snapshot
	if len(closes) > 0 {
		s.Current = model.Float(closes[len(closes)-1])
	}
	s.SMA20 = optional(SMA(closes, ShortSMAPeriod))
	s.SMA50 = optional(SMA(closes, MidSMAPeriod))
	s.SMA200 = optional(SMA(closes, LongSMAPeriod))
	s.RSI14 = optional(RSI(closes, RSIPeriod))
	return s
}

func optional(v float64, ok bool) *float64 {
	if !ok {
		return nil
	}
	return model.Float(v)
}
