package marketdata

import (
	"context"
	"time"
)

// Quote is a single instrument snapshot from the upstream feed
type Quote struct {
	Symbol    string    `json:"symbol"`
	Last      float64   `json:"last"`
	Bid       float64   `json:"bid,omitempty"`
	Ask       float64   `json:"ask,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// Candle is one OHLC bar
type Candle struct {
	Symbol    string    `json:"symbol"`
	Timeframe string    `json:"timeframe"`
	Open      float64   `json:"open"`
	High      float64   `json:"high"`
	Low       float64   `json:"low"`
	Close     float64   `json:"close"`
	Volume    float64   `json:"volume"`
	OpenTime  time.Time `json:"open_time"`
}

// Closes extracts the close series in bar order
func Closes(candles []Candle) []float64 {
	out := make([]float64, len(candles))
	for i, c := range candles {
		out[i] = c.Close
	}
	return out
}

// Source is the upstream quote feed. Implementations classify failures
// as gateway.TradeError kinds.
type Source interface {
	// FetchQuotes fetches live quotes for the given symbols in one call
	FetchQuotes(ctx context.Context, symbols []string) ([]Quote, error)

	// FetchCandles fetches up to bars recent candles for one symbol
	FetchCandles(ctx context.Context, symbol, timeframe string, bars int) ([]Candle, error)
}
