package indicator

import (
	"math"
)

// ============================================================================
// WEIGHTED MOVING AVERAGE
// ============================================================================

// WMA computes the linearly weighted moving average of the last period
// values. The most recent value carries weight period, the oldest weight 1.
// Returns (0, false) when fewer than period values are available.
func WMA(values []float64, period int) (float64, bool) {
	if period < 1 || len(values) < period {
		return 0, false
	}

	window := values[len(values)-period:]
	var sum float64
	for i, v := range window {
		sum += v * float64(i+1)
	}
	norm := float64(period*(period+1)) / 2
	return sum / norm, true
}

// WMASeries computes the WMA at every index where it is defined. The
// returned slice is aligned to the input: entries before index period-1
// are zero and marked undefined in the ok slice.
func WMASeries(values []float64, period int) ([]float64, []bool) {
	out := make([]float64, len(values))
	ok := make([]bool, len(values))
	if period < 1 {
		return out, ok
	}
	for i := period - 1; i < len(values); i++ {
		v, defined := WMA(values[:i+1], period)
		out[i] = v
		ok[i] = defined
	}
	return out, ok
}

// ============================================================================
// HULL MOVING AVERAGE
// ============================================================================

// HMA computes the Hull Moving Average of period n over the closes:
//
//	raw = 2*WMA(n/2) - WMA(n)
//	HMA = WMA(raw, round(sqrt(n)))
//
// n/2 uses integer division. Returns (0, false) while the series is
// shorter than the warmup window; an undefined HMA is never reported
// as a zero value.
func HMA(closes []float64, n int) (float64, bool) {
	series, ok := HMASeries(closes, n)
	if len(series) == 0 {
		return 0, false
	}
	last := len(series) - 1
	if !ok[last] {
		return 0, false
	}
	return series[last], true
}

// HMASeries computes the HMA at every index where it is defined,
// aligned to the input closes.
func HMASeries(closes []float64, n int) ([]float64, []bool) {
	out := make([]float64, len(closes))
	ok := make([]bool, len(closes))
	if n < 2 || len(closes) == 0 {
		return out, ok
	}

	half := n / 2
	sqrtPeriod := int(math.Round(math.Sqrt(float64(n))))
	if sqrtPeriod < 1 {
		sqrtPeriod = 1
	}

	wmaHalf, okHalf := WMASeries(closes, half)
	wmaFull, okFull := WMASeries(closes, n)

	// raw is only defined from index n-1 onward; collect the defined
	// stretch so the final smoothing runs over a contiguous series.
	raw := make([]float64, 0, len(closes))
	rawStart := -1
	for i := range closes {
		if okHalf[i] && okFull[i] {
			if rawStart < 0 {
				rawStart = i
			}
			raw = append(raw, 2*wmaHalf[i]-wmaFull[i])
		}
	}
	if rawStart < 0 {
		return out, ok
	}

	smoothed, smoothedOK := WMASeries(raw, sqrtPeriod)
	for j := range smoothed {
		if smoothedOK[j] {
			out[rawStart+j] = smoothed[j]
			ok[rawStart+j] = true
		}
	}
	return out, ok
}

// HMALatest computes only the most recent HMA value, trimming the input
// to the minimum warmup window first. Cheaper than HMASeries on long
// histories polled every cycle.
func HMALatest(closes []float64, n int) (float64, bool) {
	warmup := WarmupBars(n)
	if len(closes) < warmup {
		return 0, false
	}
	return HMA(closes[len(closes)-warmup:], n)
}

// HMAMulti computes the latest HMA for several periods in one pass.
// Periods without enough data are absent from the result.
func HMAMulti(closes []float64, periods []int) map[int]float64 {
	result := make(map[int]float64, len(periods))
	for _, n := range periods {
		if v, ok := HMALatest(closes, n); ok {
			result[n] = v
		}
	}
	return result
}

// WarmupBars returns the minimum number of closes before HMA(n) is defined
func WarmupBars(n int) int {
	sqrtPeriod := int(math.Round(math.Sqrt(float64(n))))
	if sqrtPeriod < 1 {
		sqrtPeriod = 1
	}
	return n + sqrtPeriod - 1
}
