package indicator

import (
	"math"
	"testing"
)

func almostEqual(a, b float64) bool {
	return math.Abs(a-b) < 1e-9
}

// TestWMAKnownValues verifies the linear weighting against a hand computation
func TestWMAKnownValues(t *testing.T) {
	values := []float64{1, 2, 3, 4}

	got, ok := WMA(values, 3)
	if !ok {
		t.Fatal("expected WMA to be defined")
	}
	// (2*1 + 3*2 + 4*3) / 6
	want := 20.0 / 6.0
	if !almostEqual(got, want) {
		t.Errorf("WMA = %v, want %v", got, want)
	}
}

// TestWMAInsufficientData verifies the undefined contract below the window
func TestWMAInsufficientData(t *testing.T) {
	if _, ok := WMA([]float64{1, 2}, 3); ok {
		t.Error("expected WMA undefined with 2 values and period 3")
	}
	if _, ok := WMA(nil, 1); ok {
		t.Error("expected WMA undefined on empty input")
	}
}

// TestHMALinearSeries verifies that HMA tracks a linear series with zero lag.
// For closes 1..10 and n=4 the raw series is linear, so the final smoothing
// lands exactly on the last close.
func TestHMALinearSeries(t *testing.T) {
	closes := []float64{1, 2, 3, 4, 5, 6, 7, 8, 9, 10}

	got, ok := HMA(closes, 4)
	if !ok {
		t.Fatal("expected HMA to be defined")
	}
	if !almostEqual(got, 10) {
		t.Errorf("HMA of linear series = %v, want 10", got)
	}
}

// TestHMAWarmup verifies the undefined contract around the warmup boundary
func TestHMAWarmup(t *testing.T) {
	n := 9
	warmup := WarmupBars(n)
	if warmup != 11 {
		t.Fatalf("WarmupBars(9) = %d, want 11", warmup)
	}

	closes := make([]float64, warmup)
	for i := range closes {
		closes[i] = float64(i + 1)
	}

	if _, ok := HMA(closes[:warmup-1], n); ok {
		t.Error("expected HMA undefined one bar before warmup")
	}
	if _, ok := HMA(closes, n); !ok {
		t.Error("expected HMA defined at warmup length")
	}
}

// TestHMALatestMatchesFullSeries verifies the trimmed path returns the same
// value as the full recomputation
func TestHMALatestMatchesFullSeries(t *testing.T) {
	closes := make([]float64, 10)
	for i := range closes {
		closes[i] = float64((i + 1) * (i + 1))
	}

	full, okFull := HMA(closes, 4)
	latest, okLatest := HMALatest(closes, 4)
	if !okFull || !okLatest {
		t.Fatal("expected HMA defined on both paths")
	}
	if !almostEqual(full, latest) {
		t.Errorf("HMALatest = %v, full HMA = %v", latest, full)
	}
}

// TestHMAMulti verifies multi-period computation skips undefined periods
func TestHMAMulti(t *testing.T) {
	closes := []float64{1, 2, 3, 4, 5, 6, 7, 8, 9, 10}

	result := HMAMulti(closes, []int{4, 50})
	if _, ok := result[50]; ok {
		t.Error("period 50 should be undefined on 10 closes")
	}
	if v, ok := result[4]; !ok || !almostEqual(v, 10) {
		t.Errorf("period 4 = %v (defined=%v), want 10", v, ok)
	}
}

// TestCrossoverBuySignal verifies Buy fires only on the first bar that
// closes above the HMA
func TestCrossoverBuySignal(t *testing.T) {
	closes := []float64{1, 2, 3, 4, 5, 6, 7, 8, 9, 20}

	if got := CrossoverSignal(closes, 4); got != SignalBuy {
		t.Errorf("signal = %v, want %v", got, SignalBuy)
	}
}

// TestCrossoverBullishHolds verifies the signal degrades to Bullish while
// price stays above the HMA
func TestCrossoverBullishHolds(t *testing.T) {
	closes := make([]float64, 10)
	for i := range closes {
		closes[i] = float64((i + 1) * (i + 1))
	}

	if got := CrossoverSignal(closes, 4); got != SignalBullish {
		t.Errorf("signal = %v, want %v", got, SignalBullish)
	}
}

// TestCrossoverSellSignal verifies Sell fires on the first bar closing
// below the HMA after an uptrend
func TestCrossoverSellSignal(t *testing.T) {
	closes := []float64{1, 4, 9, 16, 25, 36, 49, 64, 81, 30}

	if got := CrossoverSignal(closes, 4); got != SignalSell {
		t.Errorf("signal = %v, want %v", got, SignalSell)
	}
}

// TestCrossoverBearishHolds verifies the signal degrades to Bearish while
// price stays below the HMA
func TestCrossoverBearishHolds(t *testing.T) {
	closes := make([]float64, 10)
	for i := range closes {
		closes[i] = 100 - float64((i+1)*(i+1))
	}

	if got := CrossoverSignal(closes, 4); got != SignalBearish {
		t.Errorf("signal = %v, want %v", got, SignalBearish)
	}
}

// TestCrossoverUndefined verifies no signal is emitted below warmup
func TestCrossoverUndefined(t *testing.T) {
	if got := CrossoverSignal([]float64{1, 2, 3}, 4); got != SignalNone {
		t.Errorf("signal = %v, want %v", got, SignalNone)
	}
}

// TestTrendStrengthMonotonic verifies a steadily rising HMA scores 1.0
func TestTrendStrengthMonotonic(t *testing.T) {
	closes := make([]float64, 12)
	for i := range closes {
		closes[i] = float64((i + 1) * (i + 1))
	}

	strength, ok := TrendStrength(closes, 4, 3)
	if !ok {
		t.Fatal("expected trend strength defined")
	}
	if !almostEqual(strength, 1.0) {
		t.Errorf("trend strength = %v, want 1.0", strength)
	}
}

// TestTrendStrengthInsufficientData verifies the undefined contract
func TestTrendStrengthInsufficientData(t *testing.T) {
	if _, ok := TrendStrength([]float64{1, 2, 3, 4, 5}, 4, 10); ok {
		t.Error("expected trend strength undefined on short history")
	}
}
