package indicator

import (
	"math"
	"math/rand"
	"testing"
)

// ────────────────────────────────────────────────────────────
// Helper
// ────────────────────────────────────────────────────────────

func assertClose(t *testing.T, label string, got, want, tol float64) {
	t.Helper()
	if math.Abs(got-want) > tol {
		t.Errorf("%s: got %.6f, want %.6f (tol=%.6f, diff=%.6f)", label, got, want, tol, math.Abs(got-want))
	}
}

func ramp(n int, start, step float64) []float64 {
	out := make([]float64, n)
	for i := range out {
		out[i] = start + float64(i)*step
	}
	return out
}

func flat(n int, v float64) []float64 {
	out := make([]float64, n)
	for i := range out {
		out[i] = v
	}
	return out
}

// ────────────────────────────────────────────────────────────
// SMA Correctness
// ────────────────────────────────────────────────────────────

func TestSMA_Correctness_Period3(t *testing.T) {
	// Prices: 100, 102, 104, 103, 105
	// SMA(3) over the tail: (104+103+105)/3 = 104.0
	got, ok := SMA([]float64{100, 102, 104, 103, 105}, 3)
	if !ok {
		t.Fatal("expected SMA(3) to be present")
	}
	assertClose(t, "SMA(3)", got, 104.0, 0.0001)
}

func TestSMA_Correctness_Period5(t *testing.T) {
	// Prices: 10..16 → last five are 12..16, mean 14.0
	got, ok := SMA(ramp(7, 10, 1), 5)
	if !ok {
		t.Fatal("expected SMA(5) to be present")
	}
	assertClose(t, "SMA(5)", got, 14.0, 0.0001)
}

func TestSMA_ExactPeriodLength(t *testing.T) {
	got, ok := SMA([]float64{1, 2, 3, 4}, 4)
	if !ok {
		t.Fatal("expected SMA to be present when len == period")
	}
	assertClose(t, "SMA(4)", got, 2.5, 0.0001)
}

func TestSMA_AbsentWhenPeriodExceedsLength(t *testing.T) {
	tests := []struct {
		name   string
		prices []float64
		period int
	}{
		{"empty", nil, 1},
		{"one short", ramp(19, 1, 1), 20},
		{"much shorter", ramp(5, 1, 1), 200},
		{"zero period", ramp(5, 1, 1), 0},
		{"negative period", ramp(5, 1, 1), -3},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if v, ok := SMA(tt.prices, tt.period); ok {
				t.Errorf("expected absent, got %.4f", v)
			}
		})
	}
}

func TestSMA_IgnoresPricesBeforeWindow(t *testing.T) {
	tail := []float64{50, 51, 52, 53, 54}
	base, _ := SMA(tail, 5)

	for _, prefix := range [][]float64{{1}, {1000, 2000, 3000}, flat(100, 7)} {
		series := append(append([]float64{}, prefix...), tail...)
		got, ok := SMA(series, 5)
		if !ok {
			t.Fatal("expected SMA to be present")
		}
		assertClose(t, "SMA with prefix", got, base, 1e-9)
	}
}

// ────────────────────────────────────────────────────────────
// RSI Correctness (single window)
// ────────────────────────────────────────────────────────────

func TestRSI_Correctness_Period4(t *testing.T) {
	// Prices: 10, 11, 10.5, 11.5, 11
	// Deltas: +1, -0.5, +1, -0.5 → gains=2, losses=1
	// avgGain=0.5, avgLoss=0.25 → RS=2 → RSI = 100 - 100/3 = 66.6667
	got, ok := RSI([]float64{10, 11, 10.5, 11.5, 11}, 4)
	if !ok {
		t.Fatal("expected RSI to be present")
	}
	assertClose(t, "RSI(4)", got, 66.6667, 0.001)
}

func TestRSI_UsesOnlyTrailingDeltas(t *testing.T) {
	// A large drop before the window must not leak into the average.
	got, ok := RSI([]float64{50, 10, 11, 10.5, 11.5, 11}, 4)
	if !ok {
		t.Fatal("expected RSI to be present")
	}
	assertClose(t, "RSI(4) with prefix", got, 66.6667, 0.001)
}

func TestRSI_AbsentBelowPeriodPlusOne(t *testing.T) {
	if _, ok := RSI(ramp(14, 1, 1), 14); ok {
		t.Error("expected RSI(14) absent with 14 prices")
	}
	if _, ok := RSI(ramp(15, 1, 1), 14); !ok {
		t.Error("expected RSI(14) present with 15 prices")
	}
	if _, ok := RSI(ramp(15, 1, 1), 0); ok {
		t.Error("expected RSI absent for zero period")
	}
}

func TestRSI_AllUp_Is100(t *testing.T) {
	got, _ := RSI(ramp(30, 100, 1), 14)
	assertClose(t, "RSI all up", got, 100.0, 0)
}

func TestRSI_AllDown_Is0(t *testing.T) {
	got, _ := RSI(ramp(30, 100, -1), 14)
	assertClose(t, "RSI all down", got, 0.0, 0.001)
}

func TestRSI_Flat_Is100(t *testing.T) {
	// No losses in the window → saturated at exactly 100.
	got, _ := RSI(flat(30, 10), 14)
	if got != 100.0 {
		t.Errorf("RSI flat: got %.6f, want exactly 100", got)
	}
}

func TestRSI_NoNegativeDeltaInWindow_Is100(t *testing.T) {
	// Losses before the window, only gains and flats inside it.
	prices := append(ramp(10, 100, -2), 82, 82, 83, 85, 85, 86, 90, 90, 91, 92, 92, 93, 94, 95, 95)
	got, _ := RSI(prices, 14)
	if got != 100.0 {
		t.Errorf("got %.6f, want exactly 100", got)
	}
}

func TestRSI_AlwaysInRange(t *testing.T) {
	rng := rand.New(rand.NewSource(42))
	for trial := 0; trial < 500; trial++ {
		n := 15 + rng.Intn(300)
		prices := make([]float64, n)
		p := 50 + rng.Float64()*100
		for i := range prices {
			p *= 1 + (rng.Float64()-0.5)*0.1
			prices[i] = p
		}
		got, ok := RSI(prices, 14)
		if !ok {
			t.Fatalf("trial %d: expected RSI present for %d prices", trial, n)
		}
		if got < 0 || got > 100 || math.IsNaN(got) {
			t.Fatalf("trial %d: RSI out of range: %.6f", trial, got)
		}
	}
}

// ────────────────────────────────────────────────────────────
// Snapshot
// ────────────────────────────────────────────────────────────

func TestCompute_StrictlyIncreasing(t *testing.T) {
	closes := ramp(250, 10, 0.5)
	s := Compute(closes)

	if s.Current == nil || s.SMA20 == nil || s.SMA50 == nil || s.SMA200 == nil || s.RSI14 == nil {
		t.Fatalf("expected every value present, got %+v", s)
	}
	assertClose(t, "current", *s.Current, closes[len(closes)-1], 0)
	assertClose(t, "rsi", *s.RSI14, 100, 0)
	for label, sma := range map[string]float64{"sma20": *s.SMA20, "sma50": *s.SMA50, "sma200": *s.SMA200} {
		if sma >= *s.Current {
			t.Errorf("%s=%.4f should be below current %.4f", label, sma, *s.Current)
		}
	}
	if !(*s.SMA20 > *s.SMA50 && *s.SMA50 > *s.SMA200) {
		t.Errorf("uptrend ordering violated: sma20=%.4f sma50=%.4f sma200=%.4f", *s.SMA20, *s.SMA50, *s.SMA200)
	}
}

func TestCompute_ShortSeries(t *testing.T) {
	s := Compute(flat(60, 10))
	if s.SMA200 != nil {
		t.Errorf("expected SMA200 absent for 60 closes, got %.4f", *s.SMA200)
	}
	if s.SMA20 == nil || s.SMA50 == nil {
		t.Fatal("expected SMA20 and SMA50 present")
	}
	assertClose(t, "sma20", *s.SMA20, 10, 0)
	assertClose(t, "sma50", *s.SMA50, 10, 0)
}

func TestCompute_Empty(t *testing.T) {
	s := Compute(nil)
	if s.Current != nil || s.SMA20 != nil || s.RSI14 != nil {
		t.Errorf("expected empty snapshot, got %+v", s)
	}
}
