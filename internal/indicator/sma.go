package indicator

// SMA returns the arithmetic mean of the last period prices.
// ok is false when fewer than period prices are available.
func SMA(prices []float64, period int) (float64, bool) {
	if period <= 0 || len(prices) < period {
		return 0, false
	}

	var sum float64
	for _, p := range prices[len(prices)-period:] {
		sum += p
	}
	return sum / float64(period), true
}
