// Package strategy classifies a symbol into buy, sell or neutral from its
// indicator snapshot.
package strategy

import "stockmetrics/internal/indicator"

// Thresholds for the RSI oscillator.
const (
	Oversold   = 30.0
	Overbought = 70.0
)

// Action is the classification of one symbol.
type Action string

const (
	ActionBuy     Action = "BUY"
	ActionSell    Action = "SELL"
	ActionNeutral Action = "NEUTRAL"
)

// Signal carries both flags; Action summarizes them.
type Signal struct {
	Buy    bool
	Sell   bool
	Action Action
}

// Classify applies the rules:
//
//	buy  = RSI < 30 and price > SMA200
//	sell = RSI > 70
//
// A missing input blocks the rule that needs it. Since RSI cannot be both
// below 30 and above 70, at most one flag is set.
func Classify(s indicator.Snapshot) Signal {
	var sig Signal
	if s.RSI14 != nil {
		rsi := *s.RSI14
		sig.Buy = rsi < Oversold && s.Current != nil && s.SMA200 != nil && *s.Current > *s.SMA200
		sig.Sell = rsi > Overbought
	}

	switch {
	case sig.Buy:
		sig.Action = ActionBuy
	case sig.Sell:
		sig.Action = ActionSell
	default:
		sig.Action = ActionNeutral
	}
	return sig
}
