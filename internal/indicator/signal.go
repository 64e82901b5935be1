package indicator

// Signal classifies the relationship between price and its HMA on a bar
type Signal string

const (
	SignalNone    Signal = "NONE"    // HMA undefined on this or the prior bar
	SignalBuy     Signal = "BUY"     // First bar with price above HMA
	SignalSell    Signal = "SELL"    // First bar with price below HMA
	SignalBullish Signal = "BULLISH" // Price continues above HMA
	SignalBearish Signal = "BEARISH" // Price continues below HMA
)

// IsEntry reports whether the signal marks a fresh crossover bar
func (s Signal) IsEntry() bool {
	return s == SignalBuy || s == SignalSell
}

// CrossoverSignal derives the signal on the latest bar from closes and
// their HMA series. Buy/Sell fire only on the first bar after the close
// crosses the HMA; afterwards the signal degrades to Bullish/Bearish
// until the next cross.
func CrossoverSignal(closes []float64, n int) Signal {
	series, ok := HMASeries(closes, n)
	last := len(closes) - 1
	if last < 1 || !ok[last] || !ok[last-1] {
		return SignalNone
	}

	above := closes[last] > series[last]
	prevAbove := closes[last-1] > series[last-1]

	switch {
	case above && !prevAbove:
		return SignalBuy
	case !above && prevAbove:
		return SignalSell
	case above:
		return SignalBullish
	default:
		return SignalBearish
	}
}

// TrendStrength returns the fraction of the last lookback bars whose HMA
// moved in the direction of the most recent HMA change, in [0, 1].
// Returns (0, false) when fewer than lookback+1 defined HMA values exist.
func TrendStrength(closes []float64, n, lookback int) (float64, bool) {
	if lookback < 1 {
		return 0, false
	}
	series, ok := HMASeries(closes, n)

	// Collect the defined tail
	defined := make([]float64, 0, len(series))
	for i := range series {
		if ok[i] {
			defined = append(defined, series[i])
		}
	}
	if len(defined) < lookback+1 {
		return 0, false
	}

	tail := defined[len(defined)-lookback-1:]
	rising := tail[len(tail)-1] >= tail[len(tail)-2]

	matches := 0
	for i := 1; i < len(tail); i++ {
		if (tail[i] >= tail[i-1]) == rising {
			matches++
		}
	}
	return float64(matches) / float64(lookback), true
}
