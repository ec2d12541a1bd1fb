package indicator

// RSI returns the Relative Strength Index of the most recent bar.
//
// Gains and losses are averaged over the last period deltas only, in a single
// window. There is no Wilder smoothing across the earlier history, so the
// value depends on the last period+1 prices alone.
// ok is false when fewer than period+1 prices are available.
func RSI(prices []float64, period int) (float64, bool) {
	if period <= 0 || len(prices) < period+1 {
		return 0, false
	}

	var gains, losses float64
	for i := len(prices) - period; i < len(prices); i++ {
		delta := prices[i] - prices[i-1]
		if delta > 0 {
			gains += delta
		} else {
			losses -= delta
		}
	}

	p := float64(period)
	return rsiFromAverages(gains/p, losses/p), true
}

// rsiFromAverages maps average gain/loss to [0, 100]. A window without losses
// saturates at 100.
func rsiFromAverages(avgGain, avgLoss float64) float64 {
	if avgLoss == 0 {
		return 100.0
	}
	rs := avgGain / avgLoss
	return 100.0 - (100.0 / (1.0 + rs))
}
