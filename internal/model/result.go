package model

import "time"

// AnalysisResult is the per-symbol outcome written as one sink row.
// Absent numeric values are nil pointers.
type AnalysisResult struct {
	Symbol       string    `json:"symbol"`
	CurrentPrice *float64  `json:"current_price,omitempty"`
	SMA20        *float64  `json:"sma_20,omitempty"`
	SMA50        *float64  `json:"sma_50,omitempty"`
	SMA200       *float64  `json:"sma_200,omitempty"`
	RSI          *float64  `json:"rsi,omitempty"`
	BuySignal    bool      `json:"buy_signal"`
	SellSignal   bool      `json:"sell_signal"`
	Timestamp    time.Time `json:"timestamp"`
	Error        string    `json:"error,omitempty"`
}

// Failed reports whether the result carries an error message.
func (r AnalysisResult) Failed() bool { return r.Error != "" }

// ErrorResult builds a result for a symbol whose analysis failed.
// All numeric fields stay absent and both signals are false.
func ErrorResult(symbol, msg string, ts time.Time) AnalysisResult {
	return AnalysisResult{
		Symbol:    symbol,
		Timestamp: ts,
		Error:     msg,
	}
}

// Float returns a pointer to v for the optional result fields.
func Float(v float64) *float64 { return &v }
